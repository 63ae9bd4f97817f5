// Package config loads and saves packet-forwarder style concentrator
// configuration files (global_conf.json) and maps them onto the core's raw
// configuration model.
package config

import (
	"fmt"
	"strings"

	"github.com/helium/packet-forwarder-test/pkg/concentrator"
)

// Chain layout of the SX130x wire format: eight multi-SF channels, one LoRa
// standard channel, one FSK channel.
const (
	numMultiSFChans = 8
	loraStdChain    = 8
	fskChain        = 9
	numChains       = 10
)

// fileConf is the top-level document. Exactly one of the two sections must be
// present; the key doubles as the chip variant selector. Unknown top-level
// fields (gateway_conf etc.) are ignored.
type fileConf struct {
	SX1301 *chipConf `json:"SX1301_conf,omitempty"`
	SX130x *chipConf `json:"SX130x_conf,omitempty"`
}

type chipConf struct {
	ClkSrc     int      `json:"clksrc"`
	FullDuplex bool     `json:"full_duplex,omitempty"`
	LBT        *lbtConf `json:"lbt_cfg,omitempty"`

	Radio0 radioConf `json:"radio_0"`
	Radio1 radioConf `json:"radio_1"`

	MultiSF0 chanConf `json:"chan_multiSF_0"`
	MultiSF1 chanConf `json:"chan_multiSF_1"`
	MultiSF2 chanConf `json:"chan_multiSF_2"`
	MultiSF3 chanConf `json:"chan_multiSF_3"`
	MultiSF4 chanConf `json:"chan_multiSF_4"`
	MultiSF5 chanConf `json:"chan_multiSF_5"`
	MultiSF6 chanConf `json:"chan_multiSF_6"`
	MultiSF7 chanConf `json:"chan_multiSF_7"`

	LoraStd stdChanConf `json:"chan_Lora_std"`
	FSK     fskChanConf `json:"chan_FSK"`
}

type lbtConf struct {
	Enable bool `json:"enable"`
}

type radioConf struct {
	Enable     bool                   `json:"enable"`
	Type       concentrator.RadioType `json:"type,omitempty"`
	Freq       uint32                 `json:"freq,omitempty"`
	RSSIOffset float64                `json:"rssi_offset,omitempty"`
	TxEnable   bool                   `json:"tx_enable,omitempty"`
	TxFreqMin  uint32                 `json:"tx_freq_min,omitempty"`
	TxFreqMax  uint32                 `json:"tx_freq_max,omitempty"`
}

type chanConf struct {
	Enable        bool  `json:"enable"`
	Radio         int   `json:"radio,omitempty"`
	IF            int32 `json:"if,omitempty"`
	SpreadFactors []int `json:"spread_factors,omitempty"`
}

type stdChanConf struct {
	Enable       bool   `json:"enable"`
	Radio        int    `json:"radio,omitempty"`
	IF           int32  `json:"if,omitempty"`
	Bandwidth    uint32 `json:"bandwidth,omitempty"`
	SpreadFactor int    `json:"spread_factor,omitempty"`
}

type fskChanConf struct {
	Enable    bool   `json:"enable"`
	Radio     int    `json:"radio,omitempty"`
	IF        int32  `json:"if,omitempty"`
	Bandwidth uint32 `json:"bandwidth,omitempty"`
	Datarate  uint32 `json:"datarate,omitempty"`
}

func (fc *fileConf) toRaw() (*concentrator.RawConfig, error) {
	var (
		chip concentrator.ChipID
		cc   *chipConf
	)
	switch {
	case fc.SX1301 != nil && fc.SX130x != nil:
		return nil, fmt.Errorf("both SX1301_conf and SX130x_conf sections present")
	case fc.SX1301 != nil:
		chip, cc = concentrator.ChipSX1301, fc.SX1301
	case fc.SX130x != nil:
		chip, cc = concentrator.ChipSX1302, fc.SX130x
	default:
		return nil, fmt.Errorf("no SX1301_conf or SX130x_conf section found")
	}

	variant, err := concentrator.VariantFor(chip)
	if err != nil {
		return nil, err
	}

	raw := &concentrator.RawConfig{
		Chip: chip,
		Board: concentrator.BoardConfig{
			ClockSource: cc.ClkSrc,
			FullDuplex:  cc.FullDuplex,
		},
		IFChains: make([]concentrator.IFChainConfig, numChains),
	}
	if cc.LBT != nil {
		raw.Board.LBTEnable = cc.LBT.Enable
	}

	for i, rc := range []radioConf{cc.Radio0, cc.Radio1} {
		raw.Radios[i] = concentrator.RadioConfig{
			Enable:       rc.Enable,
			Type:         rc.Type,
			FreqHz:       rc.Freq,
			RSSIOffsetDB: rc.RSSIOffset,
			TxEnable:     rc.TxEnable,
			TxFreqMinHz:  rc.TxFreqMin,
			TxFreqMaxHz:  rc.TxFreqMax,
		}
	}

	multiSF := []chanConf{
		cc.MultiSF0, cc.MultiSF1, cc.MultiSF2, cc.MultiSF3,
		cc.MultiSF4, cc.MultiSF5, cc.MultiSF6, cc.MultiSF7,
	}
	for i, ch := range multiSF {
		sfs := ch.SpreadFactors
		if len(sfs) == 0 {
			// all correlators on by default
			for sf := variant.SFMin; sf <= variant.SFMax; sf++ {
				sfs = append(sfs, sf)
			}
		}
		raw.IFChains[i] = concentrator.IFChainConfig{
			Enable:        ch.Enable,
			Radio:         ch.Radio,
			IFHz:          ch.IF,
			Modulation:    concentrator.ModLoRaMultiSF,
			SpreadFactors: sfs,
		}
	}

	raw.IFChains[loraStdChain] = concentrator.IFChainConfig{
		Enable:       cc.LoraStd.Enable,
		Radio:        cc.LoraStd.Radio,
		IFHz:         cc.LoraStd.IF,
		Modulation:   concentrator.ModLoRaSingleSF,
		BandwidthHz:  cc.LoraStd.Bandwidth,
		SpreadFactor: cc.LoraStd.SpreadFactor,
	}
	raw.IFChains[fskChain] = concentrator.IFChainConfig{
		Enable:      cc.FSK.Enable,
		Radio:       cc.FSK.Radio,
		IFHz:        cc.FSK.IF,
		Modulation:  concentrator.ModFSK,
		BandwidthHz: cc.FSK.Bandwidth,
		DatarateBps: cc.FSK.Datarate,
	}
	return raw, nil
}

func fromRaw(raw *concentrator.RawConfig) (*fileConf, error) {
	if len(raw.IFChains) != numChains {
		return nil, fmt.Errorf("wire format needs %d IF chains, got %d", numChains, len(raw.IFChains))
	}

	cc := &chipConf{
		ClkSrc:     raw.Board.ClockSource,
		FullDuplex: raw.Board.FullDuplex,
	}
	if raw.Board.LBTEnable {
		cc.LBT = &lbtConf{Enable: true}
	}

	radios := make([]radioConf, concentrator.NumRadios)
	for i, r := range raw.Radios {
		radios[i] = radioConf{
			Enable:     r.Enable,
			Type:       r.Type,
			Freq:       r.FreqHz,
			RSSIOffset: r.RSSIOffsetDB,
			TxEnable:   r.TxEnable,
			TxFreqMin:  r.TxFreqMinHz,
			TxFreqMax:  r.TxFreqMaxHz,
		}
	}
	cc.Radio0, cc.Radio1 = radios[0], radios[1]

	multiSF := make([]chanConf, numMultiSFChans)
	for i := 0; i < numMultiSFChans; i++ {
		ch := raw.IFChains[i]
		multiSF[i] = chanConf{
			Enable:        ch.Enable,
			Radio:         ch.Radio,
			IF:            ch.IFHz,
			SpreadFactors: ch.SpreadFactors,
		}
	}
	cc.MultiSF0, cc.MultiSF1, cc.MultiSF2, cc.MultiSF3 = multiSF[0], multiSF[1], multiSF[2], multiSF[3]
	cc.MultiSF4, cc.MultiSF5, cc.MultiSF6, cc.MultiSF7 = multiSF[4], multiSF[5], multiSF[6], multiSF[7]

	std := raw.IFChains[loraStdChain]
	cc.LoraStd = stdChanConf{
		Enable:       std.Enable,
		Radio:        std.Radio,
		IF:           std.IFHz,
		Bandwidth:    std.BandwidthHz,
		SpreadFactor: std.SpreadFactor,
	}
	fsk := raw.IFChains[fskChain]
	cc.FSK = fskChanConf{
		Enable:    fsk.Enable,
		Radio:     fsk.Radio,
		IF:        fsk.IFHz,
		Bandwidth: fsk.BandwidthHz,
		Datarate:  fsk.DatarateBps,
	}

	fc := &fileConf{}
	switch raw.Chip {
	case concentrator.ChipSX1302:
		fc.SX130x = cc
	default:
		fc.SX1301 = cc
	}
	return fc, nil
}

// Summary renders a human-readable channel table for a validated
// configuration, one line per channel, plus any TX coverage warnings.
func Summary(cfg *concentrator.ValidatedConfig) string {
	var b strings.Builder
	for i := 0; i < cfg.NumIFChains(); i++ {
		switch cfg.IFChain(i).Modulation {
		case concentrator.ModLoRaSingleSF:
			fmt.Fprintf(&b, "Fat LoRa %s\n", channelSummary(cfg, i))
		case concentrator.ModFSK:
			fmt.Fprintf(&b, "FSK      %s\n", channelSummary(cfg, i))
		default:
			fmt.Fprintf(&b, "%-8d %s\n", i+1, channelSummary(cfg, i))
		}
	}
	for _, w := range cfg.Warnings() {
		fmt.Fprintf(&b, "WARNING: %s\n", w)
	}
	return strings.TrimRight(b.String(), "\n")
}

func channelSummary(cfg *concentrator.ValidatedConfig, chain int) string {
	freq, ok := cfg.ChannelFrequencyHz(chain)
	if !ok {
		return "Disabled"
	}
	ch := cfg.IFChain(chain)
	if ch.Modulation == concentrator.ModLoRaMultiSF {
		return fmt.Sprintf("%g MHz", float64(freq)/1e6)
	}
	return fmt.Sprintf("%g MHz, BW %g KHz", float64(freq)/1e6, float64(ch.BandwidthHz)/1e3)
}
