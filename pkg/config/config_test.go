package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/helium/packet-forwarder-test/pkg/concentrator"
	"github.com/helium/packet-forwarder-test/pkg/config"
)

const sampleConf = `{
    /* European band setup */
    "SX1301_conf": {
        "clksrc": 1, // radio_1 drives the clock
        "radio_0": {
            "enable": true,
            "type": "SX1257",
            "freq": 867500000,
            "rssi_offset": -166.0,
            "tx_enable": true,
            "tx_freq_min": 863000000,
            "tx_freq_max": 870000000
        },
        "radio_1": {
            "enable": true,
            "type": "SX1257",
            "freq": 868500000,
            "rssi_offset": -166.0
        },
        "chan_multiSF_0": { "enable": true, "radio": 1, "if": -400000 },
        "chan_multiSF_1": { "enable": true, "radio": 1, "if": -200000 },
        "chan_multiSF_2": { "enable": true, "radio": 1, "if": 0 },
        "chan_multiSF_3": { "enable": true, "radio": 0, "if": -400000 },
        "chan_multiSF_4": { "enable": true, "radio": 0, "if": -200000 },
        "chan_multiSF_5": { "enable": true, "radio": 0, "if": 0 },
        "chan_multiSF_6": { "enable": true, "radio": 0, "if": 200000 },
        "chan_multiSF_7": { "enable": true, "radio": 0, "if": 400000 },
        "chan_Lora_std": {
            "enable": true,
            "radio": 1,
            "if": -200000,
            "bandwidth": 250000,
            "spread_factor": 7
        },
        "chan_FSK": {
            "enable": true,
            "radio": 1,
            "if": 300000,
            "bandwidth": 125000,
            "datarate": 50000
        }
    },
    "gateway_conf": {
        "gateway_ID": ${GATEWAY_ID}
    }
}`

func TestDecomment(t *testing.T) {
	in := `{
  // line comment
  "a": 1, /* block
  spanning lines */
  "b": ${HOME}
}`
	out := config.Decomment(in)
	require.NotContains(t, out, "line comment")
	require.NotContains(t, out, "spanning")
	require.NotContains(t, out, "${HOME}")
	require.Contains(t, out, `"b": ""`)
	require.JSONEq(t, `{"a": 1, "b": ""}`, out)
}

func TestParseSample(t *testing.T) {
	raw, err := config.Parse([]byte(sampleConf))
	require.NoError(t, err)

	require.Equal(t, concentrator.ChipSX1301, raw.Chip)
	require.Equal(t, 1, raw.Board.ClockSource)
	require.True(t, raw.Radios[0].Enable)
	require.Equal(t, concentrator.RadioSX1257, raw.Radios[0].Type)
	require.Equal(t, uint32(867_500_000), raw.Radios[0].FreqHz)
	require.Equal(t, uint32(863_000_000), raw.Radios[0].TxFreqMinHz)

	require.Len(t, raw.IFChains, 10)
	require.Equal(t, concentrator.ModLoRaMultiSF, raw.IFChains[0].Modulation)
	require.Equal(t, int32(-400_000), raw.IFChains[0].IFHz)
	require.Equal(t, []int{7, 8, 9, 10, 11, 12}, raw.IFChains[0].SpreadFactors,
		"omitted spread factors default to the full correlator bank")

	std := raw.IFChains[8]
	require.Equal(t, concentrator.ModLoRaSingleSF, std.Modulation)
	require.Equal(t, uint32(250_000), std.BandwidthHz)
	require.Equal(t, 7, std.SpreadFactor)

	fsk := raw.IFChains[9]
	require.Equal(t, concentrator.ModFSK, fsk.Modulation)
	require.Equal(t, uint32(50_000), fsk.DatarateBps)

	// and the parsed document passes hardware validation
	cfg, err := raw.Validate()
	require.NoError(t, err)
	require.Empty(t, cfg.Warnings())
}

func TestParseSX130xSection(t *testing.T) {
	raw, err := config.Parse([]byte(`{
		"SX130x_conf": {
			"clksrc": 0,
			"radio_0": { "enable": true, "type": "SX1257", "freq": 868500000 },
			"radio_1": { "enable": false },
			"chan_multiSF_0": { "enable": true, "radio": 0, "if": -200000 },
			"chan_multiSF_1": { "enable": false },
			"chan_multiSF_2": { "enable": false },
			"chan_multiSF_3": { "enable": false },
			"chan_multiSF_4": { "enable": false },
			"chan_multiSF_5": { "enable": false },
			"chan_multiSF_6": { "enable": false },
			"chan_multiSF_7": { "enable": false },
			"chan_Lora_std": { "enable": false },
			"chan_FSK": { "enable": false }
		}
	}`))
	require.NoError(t, err)
	require.Equal(t, concentrator.ChipSX1302, raw.Chip)
	require.Equal(t, []int{5, 6, 7, 8, 9, 10, 11, 12}, raw.IFChains[0].SpreadFactors,
		"SX1302 correlator bank starts at SF5")
}

func TestParseRejectsAmbiguousSections(t *testing.T) {
	_, err := config.Parse([]byte(`{"SX1301_conf": {}, "SX130x_conf": {}}`))
	require.Error(t, err)

	_, err = config.Parse([]byte(`{"gateway_conf": {}}`))
	require.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	raw, err := config.Parse([]byte(sampleConf))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "conf", "global_conf.json")
	require.NoError(t, config.SaveToFile(raw, path))

	loaded, err := config.LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, raw, loaded)
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := config.LoadFromFile(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestSummary(t *testing.T) {
	raw, err := config.Parse([]byte(sampleConf))
	require.NoError(t, err)
	cfg, err := raw.Validate()
	require.NoError(t, err)

	s := config.Summary(cfg)
	require.Contains(t, s, "868.1 MHz")
	require.Contains(t, s, "Fat LoRa 868.3 MHz, BW 250 KHz")
	require.Contains(t, s, "FSK")
	require.NotContains(t, s, "WARNING")
}

func TestSummaryDisabledAndWarnings(t *testing.T) {
	raw, err := config.Parse([]byte(sampleConf))
	require.NoError(t, err)
	raw.IFChains[7].Enable = false
	raw.Radios[0].TxFreqMinHz = 867_200_000
	raw.Radios[0].TxFreqMaxHz = 868_000_000

	cfg, err := raw.Validate()
	require.NoError(t, err)

	s := config.Summary(cfg)
	require.Contains(t, s, "Disabled")
	require.Contains(t, s, "WARNING")
}
