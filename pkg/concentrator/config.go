package concentrator

import (
	"fmt"
	"math"
)

// BoardConfig holds the board-level straps shared by both front ends. Exactly
// one front end drives the concentrator clock.
type BoardConfig struct {
	ClockSource int  `json:"clksrc"`
	FullDuplex  bool `json:"full_duplex"`
	LBTEnable   bool `json:"lbt_enable"`
}

// RadioConfig holds the settings of one physical RF front end.
type RadioConfig struct {
	Enable       bool      `json:"enable"`
	Type         RadioType `json:"type"`
	FreqHz       uint32    `json:"freq"`
	RSSIOffsetDB float64   `json:"rssi_offset"`
	TxEnable     bool      `json:"tx_enable"`
	TxFreqMinHz  uint32    `json:"tx_freq_min,omitempty"`
	TxFreqMaxHz  uint32    `json:"tx_freq_max,omitempty"`
}

// IFChainConfig holds the settings of one demodulation path. Multi-SF chains
// carry a spreading-factor set; the LoRa standard chain carries a single
// spreading factor; the FSK chain carries a datarate.
type IFChainConfig struct {
	Enable        bool       `json:"enable"`
	Radio         int        `json:"radio"`
	IFHz          int32      `json:"if"`
	Modulation    Modulation `json:"modulation"`
	BandwidthHz   uint32     `json:"bandwidth,omitempty"`
	SpreadFactors []int      `json:"spread_factors,omitempty"`
	SpreadFactor  int        `json:"spread_factor,omitempty"`
	DatarateBps   uint32     `json:"datarate,omitempty"`
}

// RawConfig is the unvalidated desired radio state as deserialized by the CLI
// layer. It must pass Validate before any register operation is built from it.
type RawConfig struct {
	Chip     ChipID                 `json:"chip"`
	Board    BoardConfig            `json:"board"`
	Radios   [NumRadios]RadioConfig `json:"radios"`
	IFChains []IFChainConfig        `json:"if_chains"`
}

// ValidatedConfig is an immutable, hardware-checked configuration. It is the
// only input the plan builder and controller accept.
type ValidatedConfig struct {
	cfg      RawConfig
	variant  *ChipVariant
	warnings []string
}

// Validate checks the configuration in three stages: structural completeness,
// per-field range checks against the codec's limits, then cross-field
// constraints. It fails fast on the first violation, never mutates the input,
// and returns an immutable copy on success.
func (c *RawConfig) Validate() (*ValidatedConfig, error) {
	variant, err := VariantFor(c.Chip)
	if err != nil {
		return nil, &ConfigError{Field: "chip", Err: err}
	}

	norm := c.clone()

	if err := validateStructure(&norm, variant); err != nil {
		return nil, err
	}
	if err := validateRanges(&norm, variant); err != nil {
		return nil, err
	}
	if err := validateCrossField(&norm, variant); err != nil {
		return nil, err
	}

	return &ValidatedConfig{
		cfg:      norm,
		variant:  variant,
		warnings: txCoverageWarnings(&norm),
	}, nil
}

func (c *RawConfig) clone() RawConfig {
	out := *c
	out.IFChains = make([]IFChainConfig, len(c.IFChains))
	copy(out.IFChains, c.IFChains)
	for i := range out.IFChains {
		if sfs := out.IFChains[i].SpreadFactors; sfs != nil {
			out.IFChains[i].SpreadFactors = append([]int(nil), sfs...)
		}
		// multi-SF chains run the fixed correlator bandwidth
		if out.IFChains[i].Modulation == ModLoRaMultiSF && out.IFChains[i].BandwidthHz == 0 {
			out.IFChains[i].BandwidthHz = MultiSFBandwidthHz
		}
	}
	return out
}

func validateStructure(c *RawConfig, variant *ChipVariant) error {
	if len(c.IFChains) > variant.IFChains {
		return configErr("if_chains", "%d chains configured, %s supports %d",
			len(c.IFChains), variant.ID, variant.IFChains)
	}

	if c.Board.ClockSource < 0 || c.Board.ClockSource >= NumRadios {
		return configErr("board.clksrc", "front end %d does not exist", c.Board.ClockSource)
	}
	if !c.Radios[c.Board.ClockSource].Enable {
		return configErr("board.clksrc", "clock source front end %d is disabled", c.Board.ClockSource)
	}

	multiSF, singleSF, fsk := 0, 0, 0
	for i, ch := range c.IFChains {
		if !ch.Enable {
			continue
		}
		field := fmt.Sprintf("if_chains[%d]", i)
		if ch.Radio < 0 || ch.Radio >= NumRadios {
			return configErr(field+".radio", "front end %d does not exist", ch.Radio)
		}
		if !c.Radios[ch.Radio].Enable {
			return configErr(field+".radio", "references disabled front end %d", ch.Radio)
		}
		switch ch.Modulation {
		case ModLoRaMultiSF:
			multiSF++
		case ModLoRaSingleSF:
			singleSF++
		case ModFSK:
			fsk++
		default:
			return configErr(field+".modulation", "unknown modulation %q", ch.Modulation)
		}
	}
	if multiSF > variant.MultiSFChains {
		return configErr("if_chains", "%d multi-SF chains configured, %s supports %d",
			multiSF, variant.ID, variant.MultiSFChains)
	}
	if singleSF > 1 {
		return configErr("if_chains", "more than one LoRa standard chain enabled")
	}
	if fsk > 1 {
		return configErr("if_chains", "more than one FSK chain enabled")
	}
	return nil
}

func validateRanges(c *RawConfig, variant *ChipVariant) error {
	for i, r := range c.Radios {
		if !r.Enable {
			continue
		}
		field := fmt.Sprintf("radios[%d]", i)

		if _, err := radioTypeCode(r.Type); err != nil {
			return &ConfigError{Field: field + ".type", Err: err}
		}

		freqField, err := variant.RadioFreqField(i, r.Type)
		if err != nil {
			return &ConfigError{Field: field + ".type", Err: err}
		}
		if _, err := EncodeField(freqField, int64(r.FreqHz)); err != nil {
			return &ConfigError{Field: field + ".freq", Err: err}
		}

		tenths := int64(math.Round(r.RSSIOffsetDB * 10))
		if _, err := EncodeField(variant.RadioRSSIOffsetField(i), tenths); err != nil {
			return &ConfigError{Field: field + ".rssi_offset", Err: err}
		}
	}

	for i, ch := range c.IFChains {
		if !ch.Enable {
			continue
		}
		field := fmt.Sprintf("if_chains[%d]", i)

		if _, err := EncodeField(variant.ChainIFField(i), int64(ch.IFHz)); err != nil {
			return &ConfigError{Field: field + ".if", Err: err}
		}

		switch ch.Modulation {
		case ModLoRaMultiSF:
			if ch.BandwidthHz != MultiSFBandwidthHz {
				return configErr(field+".bandwidth", "multi-SF chains are fixed at %d Hz", MultiSFBandwidthHz)
			}
			if len(ch.SpreadFactors) == 0 {
				return configErr(field+".spread_factors", "multi-SF chain needs at least one spreading factor")
			}
			mask, err := variant.SFSetMask(ch.SpreadFactors)
			if err != nil {
				return &ConfigError{Field: field + ".spread_factors", Err: err}
			}
			if _, err := EncodeField(variant.ChainSFSetField(i), mask); err != nil {
				return &ConfigError{Field: field + ".spread_factors", Err: err}
			}
		case ModLoRaSingleSF:
			if !containsBandwidth(variant.LoRaBandwidths, ch.BandwidthHz) {
				return configErr(field+".bandwidth", "bandwidth %d Hz not supported by %s LoRa standard chain",
					ch.BandwidthHz, variant.ID)
			}
			if _, err := EncodeField(variant.ChainSFField(i), int64(ch.SpreadFactor)); err != nil {
				return &ConfigError{Field: field + ".spread_factor", Err: err}
			}
		case ModFSK:
			if !containsBandwidth(variant.FSKBandwidths, ch.BandwidthHz) {
				return configErr(field+".bandwidth", "bandwidth %d Hz not supported by %s FSK chain",
					ch.BandwidthHz, variant.ID)
			}
			if _, err := EncodeField(variant.ChainDatarateField(i), int64(ch.DatarateBps)); err != nil {
				return &ConfigError{Field: field + ".datarate", Err: err}
			}
		}
	}
	return nil
}

func validateCrossField(c *RawConfig, variant *ChipVariant) error {
	// Duplicate channels and bandwidth consistency on one front end: two
	// chains with the same modulation may not sit on the same IF offset of
	// the same front end.
	for i, a := range c.IFChains {
		if !a.Enable {
			continue
		}
		for j := i + 1; j < len(c.IFChains); j++ {
			b := c.IFChains[j]
			if !b.Enable || a.Radio != b.Radio || a.IFHz != b.IFHz {
				continue
			}
			if a.Modulation == b.Modulation {
				return configErr(fmt.Sprintf("if_chains[%d].if", j),
					"duplicate channel: chain %d already demodulates %s at this offset of front end %d",
					i, a.Modulation, a.Radio)
			}
			if a.BandwidthHz != b.BandwidthHz && (a.Modulation == ModLoRaMultiSF) == (b.Modulation == ModLoRaMultiSF) {
				return configErr(fmt.Sprintf("if_chains[%d].bandwidth", j),
					"conflicting bandwidths with chain %d at the same offset of front end %d", i, a.Radio)
			}
		}
	}

	// Full-duplex boards tap the clock from the receive path; the clock
	// source front end must not also transmit.
	if c.Board.FullDuplex && c.Radios[c.Board.ClockSource].TxEnable {
		return configErr("board.full_duplex",
			"clock source front end %d must be receive-only on a full-duplex board", c.Board.ClockSource)
	}

	for i, r := range c.Radios {
		if r.Enable && r.TxEnable && r.TxFreqMinHz > r.TxFreqMaxHz {
			return configErr(fmt.Sprintf("radios[%d].tx_freq_min", i),
				"TX window minimum %d Hz above maximum %d Hz", r.TxFreqMinHz, r.TxFreqMaxHz)
		}
	}
	return nil
}

func containsBandwidth(allowed []uint32, bw uint32) bool {
	for _, a := range allowed {
		if a == bw {
			return true
		}
	}
	return false
}

func txCoverageWarnings(c *RawConfig) []string {
	var warnings []string
	for i, ch := range c.IFChains {
		if !ch.Enable {
			continue
		}
		r := c.Radios[ch.Radio]
		if !r.TxEnable || r.TxFreqMinHz == 0 || r.TxFreqMaxHz == 0 {
			continue
		}
		freq := uint32(int64(r.FreqHz) + int64(ch.IFHz))
		if freq < r.TxFreqMinHz || freq > r.TxFreqMaxHz {
			warnings = append(warnings, fmt.Sprintf(
				"channel %d (%.3f MHz) outside TX window of front end %d", i, float64(freq)/1e6, ch.Radio))
		}
	}
	return warnings
}

// Chip returns the configured chip variant identifier.
func (v *ValidatedConfig) Chip() ChipID { return v.cfg.Chip }

// Variant returns the chip limits table the configuration was checked against.
func (v *ValidatedConfig) Variant() *ChipVariant { return v.variant }

// Board returns the board-level configuration.
func (v *ValidatedConfig) Board() BoardConfig { return v.cfg.Board }

// Radio returns the configuration of one front end.
func (v *ValidatedConfig) Radio(i int) RadioConfig { return v.cfg.Radios[i] }

// NumIFChains returns the number of configured IF chains.
func (v *ValidatedConfig) NumIFChains() int { return len(v.cfg.IFChains) }

// IFChain returns the configuration of one demodulation path.
func (v *ValidatedConfig) IFChain(i int) IFChainConfig {
	ch := v.cfg.IFChains[i]
	ch.SpreadFactors = append([]int(nil), ch.SpreadFactors...)
	return ch
}

// ChannelFrequencyHz resolves the absolute center frequency of a chain:
// the owning front end's center frequency plus the chain's IF offset.
// ok is false for disabled or unconfigured chains.
func (v *ValidatedConfig) ChannelFrequencyHz(chain int) (freq uint32, ok bool) {
	if chain < 0 || chain >= len(v.cfg.IFChains) {
		return 0, false
	}
	ch := v.cfg.IFChains[chain]
	if !ch.Enable {
		return 0, false
	}
	return uint32(int64(v.cfg.Radios[ch.Radio].FreqHz) + int64(ch.IFHz)), true
}

// EnabledRadioMask returns a bitmask of enabled front ends (bit 0 = radio A).
func (v *ValidatedConfig) EnabledRadioMask() uint8 {
	var mask uint8
	for i, r := range v.cfg.Radios {
		if r.Enable {
			mask |= 1 << i
		}
	}
	return mask
}

// EnabledChains returns the indices of enabled IF chains in ascending order.
func (v *ValidatedConfig) EnabledChains() []int {
	var chains []int
	for i, ch := range v.cfg.IFChains {
		if ch.Enable {
			chains = append(chains, i)
		}
	}
	return chains
}

// Warnings returns non-fatal findings from validation, currently channels
// that fall outside their front end's TX window.
func (v *ValidatedConfig) Warnings() []string {
	return append([]string(nil), v.warnings...)
}
