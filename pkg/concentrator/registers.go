package concentrator

import "fmt"

// Register addresses. The SX1301 and SX1302 expose the same control surface
// through the host bridge; variant differences live in the field tables below.
const (
	RegSoftReset      = 0x00
	RegVersion        = 0x01
	RegClockCtrl      = 0x02
	RegBoardStraps    = 0x03
	RegConcentratorEn = 0x05

	// Per-radio front end blocks: radio A at 0x20, radio B at 0x30
	regRadioBase   = 0x20
	regRadioStride = 0x10

	regRadioCtrlOff = 0x00 // bit0 enable, bit1 tx enable
	regRadioTypeOff = 0x01 // bits0-2 chip variant code
	regRadioFreqOff = 0x02 // 3 bytes, MSB first, 1 kHz per LSB
	regRadioRSSIOff = 0x05 // 2 bytes, MSB first, signed, 0.1 dB per LSB

	// Per-IF-chain blocks: chain 0 at 0x40, stride 4
	regChainBase   = 0x40
	regChainStride = 0x04

	regChainCtrlOff = 0x00 // bit0 enable, bit1 radio select, bits2-3 bandwidth, bits4-5 modulation
	regChainIFOff   = 0x01 // 2 bytes, MSB first, signed, 125 Hz per LSB
	regChainModOff  = 0x03 // SF set bitmask, single SF value, or FSK datarate

	// Calibration block
	RegCalTrigger = 0x70
	RegCalStatus  = 0x71
	RegCalImageA  = 0x72
	RegCalImageB  = 0x73
	RegCalOscA    = 0x74
	RegCalOscB    = 0x75

	// TX/RX test block
	RegTxCtrl     = 0x80
	RegTxChain    = 0x81
	RegTxStatus   = 0x82
	RegTxFrameLen = 0x83
	RegRxStatus   = 0x88
	RegRxRSSI     = 0x89
	RegRxSNR      = 0x8A
)

// Register bit masks
const (
	SoftResetBit = 0x80

	CalDoneA = 0x01
	CalDoneB = 0x02
	CalFailA = 0x10
	CalFailB = 0x20

	TxStartBit = 0x01
	TxCWBit    = 0x02
	TxDoneBit  = 0x01

	RxDoneBit  = 0x01
	RxCRCOKBit = 0x02

	ConcentratorEnBit = 0x01
)

// RadioAddr returns the base address of a front end's register block.
func RadioAddr(radio int, offset uint16) uint16 {
	return regRadioBase + uint16(radio)*regRadioStride + offset
}

// ChainAddr returns the base address of an IF chain's register block.
func ChainAddr(chain int, offset uint16) uint16 {
	return regChainBase + uint16(chain)*regChainStride + offset
}

// CalDoneMask returns the calibration-complete status bits for a front-end bitmask.
func CalDoneMask(radios uint8) uint8 {
	return radios & (CalDoneA | CalDoneB)
}

// CalFailMask returns the calibration-failure status bits for a front-end bitmask.
func CalFailMask(radios uint8) uint8 {
	return (radios & (CalDoneA | CalDoneB)) << 4
}

// ChipID identifies a concentrator chip variant.
type ChipID string

// Supported concentrator variants
const (
	ChipSX1301 ChipID = "SX1301"
	ChipSX1302 ChipID = "SX1302"
)

// RadioType identifies a front-end transceiver variant.
type RadioType string

// Supported front-end transceivers
const (
	RadioSX1255 RadioType = "SX1255"
	RadioSX1257 RadioType = "SX1257"
)

// NumRadios is the number of physical RF front ends on the board.
const NumRadios = 2

// RadioBandwidthHz is the analog bandwidth of one front end. IF chain offsets
// are bounded by half of it.
const RadioBandwidthHz = 1_000_000

// radioTypeCodes maps front-end variants to their register encoding.
var radioTypeCodes = []EnumValue{
	{Logical: 1, Code: 1, Label: string(RadioSX1255)},
	{Logical: 2, Code: 2, Label: string(RadioSX1257)},
}

// RadioBand returns the supported synthesizer range of a front-end variant in Hz.
func RadioBand(t RadioType) (min, max uint32, err error) {
	switch t {
	case RadioSX1255:
		return 400_000_000, 510_000_000, nil
	case RadioSX1257:
		return 862_000_000, 1_020_000_000, nil
	default:
		return 0, 0, fmt.Errorf("unknown radio type %q", t)
	}
}

func radioTypeCode(t RadioType) (int64, error) {
	for _, ev := range radioTypeCodes {
		if ev.Label == string(t) {
			return ev.Logical, nil
		}
	}
	return 0, fmt.Errorf("unknown radio type %q", t)
}

// Modulation identifies the demodulation mode of an IF chain.
type Modulation string

// IF chain modulation kinds
const (
	ModLoRaMultiSF  Modulation = "lora_multi_sf"
	ModLoRaSingleSF Modulation = "lora_single_sf"
	ModFSK          Modulation = "fsk"
)

var modulationCodes = map[Modulation]int64{
	ModLoRaMultiSF:  0,
	ModLoRaSingleSF: 1,
	ModFSK:          2,
}

// ChipVariant holds the chip-revision-specific limits and field layouts. It is
// the one place variant differences are specified; everything else consumes it
// through the codec.
type ChipVariant struct {
	ID      ChipID
	Version uint8 // expected RegVersion value

	IFChains      int // total demodulation paths
	MultiSFChains int // paths supporting the multi-SF correlator bank

	SFMin int
	SFMax int

	// Bandwidths supported by single-SF LoRa chains, Hz
	LoRaBandwidths []uint32
	// Bandwidths supported by the FSK chain, Hz
	FSKBandwidths []uint32

	// FSK datarate limits, bits per second
	FSKDatarateMin uint32
	FSKDatarateMax uint32
}

var variants = map[ChipID]*ChipVariant{
	ChipSX1301: {
		ID:             ChipSX1301,
		Version:        103,
		IFChains:       10,
		MultiSFChains:  8,
		SFMin:          7,
		SFMax:          12,
		LoRaBandwidths: []uint32{125_000, 250_000, 500_000},
		FSKBandwidths:  []uint32{125_000, 250_000},
		FSKDatarateMin: 1_000,
		FSKDatarateMax: 250_000,
	},
	ChipSX1302: {
		ID:             ChipSX1302,
		Version:        16,
		IFChains:       10,
		MultiSFChains:  8,
		SFMin:          5,
		SFMax:          12,
		LoRaBandwidths: []uint32{125_000, 250_000, 500_000},
		FSKBandwidths:  []uint32{125_000, 250_000},
		FSKDatarateMin: 1_000,
		FSKDatarateMax: 250_000,
	},
}

// VariantFor looks up the limits table for a chip variant.
func VariantFor(id ChipID) (*ChipVariant, error) {
	v, ok := variants[id]
	if !ok {
		return nil, fmt.Errorf("unknown chip variant %q", id)
	}
	return v, nil
}

// MultiSFBandwidthHz is the fixed channel bandwidth of multi-SF LoRa chains.
const MultiSFBandwidthHz = 125_000

// IFOffsetBoundHz is the inclusive bound on IF chain frequency offsets.
const IFOffsetBoundHz = RadioBandwidthHz / 2

// bandwidthCodes maps channel bandwidths in Hz to their 2-bit register code.
var bandwidthCodes = []EnumValue{
	{Logical: 125_000, Code: 0, Label: "125 kHz"},
	{Logical: 250_000, Code: 1, Label: "250 kHz"},
	{Logical: 500_000, Code: 2, Label: "500 kHz"},
}

// Board-level fields

func (v *ChipVariant) ClockSourceField() FieldSpec {
	return FieldSpec{
		Name: "board.clksrc",
		Regs: []RegSlice{{Addr: RegClockCtrl, Shift: 0, Width: 2}},
		Min:  0, Max: NumRadios - 1,
	}
}

func (v *ChipVariant) FullDuplexField() FieldSpec {
	return FieldSpec{
		Name: "board.full_duplex",
		Regs: []RegSlice{{Addr: RegBoardStraps, Shift: 0, Width: 1}},
		Min:  0, Max: 1,
	}
}

func (v *ChipVariant) LBTField() FieldSpec {
	return FieldSpec{
		Name: "board.lbt_enable",
		Regs: []RegSlice{{Addr: RegBoardStraps, Shift: 1, Width: 1}},
		Min:  0, Max: 1,
	}
}

// Per-front-end fields

func (v *ChipVariant) RadioEnableField(radio int) FieldSpec {
	return FieldSpec{
		Name: fmt.Sprintf("radios[%d].enable", radio),
		Regs: []RegSlice{{Addr: RadioAddr(radio, regRadioCtrlOff), Shift: 0, Width: 1}},
		Min:  0, Max: 1,
	}
}

func (v *ChipVariant) RadioTxEnableField(radio int) FieldSpec {
	return FieldSpec{
		Name: fmt.Sprintf("radios[%d].tx_enable", radio),
		Regs: []RegSlice{{Addr: RadioAddr(radio, regRadioCtrlOff), Shift: 1, Width: 1}},
		Min:  0, Max: 1,
	}
}

func (v *ChipVariant) RadioTypeField(radio int) FieldSpec {
	return FieldSpec{
		Name: fmt.Sprintf("radios[%d].type", radio),
		Regs: []RegSlice{{Addr: RadioAddr(radio, regRadioTypeOff), Shift: 0, Width: 3}},
		Enum: radioTypeCodes,
	}
}

// RadioFreqField describes the 24-bit synthesizer word of a front end. Bounds
// depend on the transceiver variant populating the front end.
func (v *ChipVariant) RadioFreqField(radio int, t RadioType) (FieldSpec, error) {
	min, max, err := RadioBand(t)
	if err != nil {
		return FieldSpec{}, err
	}
	base := RadioAddr(radio, regRadioFreqOff)
	return FieldSpec{
		Name: fmt.Sprintf("radios[%d].freq", radio),
		Regs: []RegSlice{
			{Addr: base, Shift: 0, Width: 8},
			{Addr: base + 1, Shift: 0, Width: 8},
			{Addr: base + 2, Shift: 0, Width: 8},
		},
		Min: int64(min), Max: int64(max),
		Scale: 1_000,
	}, nil
}

// RadioRSSIOffsetField describes the per-front-end RSSI offset in tenths of a dB.
func (v *ChipVariant) RadioRSSIOffsetField(radio int) FieldSpec {
	base := RadioAddr(radio, regRadioRSSIOff)
	return FieldSpec{
		Name: fmt.Sprintf("radios[%d].rssi_offset", radio),
		Regs: []RegSlice{
			{Addr: base, Shift: 0, Width: 8},
			{Addr: base + 1, Shift: 0, Width: 8},
		},
		Min: -3_200, Max: 3_200,
		Signed: true,
	}
}

// Per-IF-chain fields

func (v *ChipVariant) ChainEnableField(chain int) FieldSpec {
	return FieldSpec{
		Name: fmt.Sprintf("if_chains[%d].enable", chain),
		Regs: []RegSlice{{Addr: ChainAddr(chain, regChainCtrlOff), Shift: 0, Width: 1}},
		Min:  0, Max: 1,
	}
}

func (v *ChipVariant) ChainRadioField(chain int) FieldSpec {
	return FieldSpec{
		Name: fmt.Sprintf("if_chains[%d].radio", chain),
		Regs: []RegSlice{{Addr: ChainAddr(chain, regChainCtrlOff), Shift: 1, Width: 1}},
		Min:  0, Max: NumRadios - 1,
	}
}

func (v *ChipVariant) ChainBandwidthField(chain int) FieldSpec {
	return FieldSpec{
		Name: fmt.Sprintf("if_chains[%d].bandwidth", chain),
		Regs: []RegSlice{{Addr: ChainAddr(chain, regChainCtrlOff), Shift: 2, Width: 2}},
		Enum: bandwidthCodes,
	}
}

func (v *ChipVariant) ChainModulationField(chain int) FieldSpec {
	return FieldSpec{
		Name: fmt.Sprintf("if_chains[%d].modulation", chain),
		Regs: []RegSlice{{Addr: ChainAddr(chain, regChainCtrlOff), Shift: 4, Width: 2}},
		Min:  0, Max: 2,
	}
}

// ChainIFField describes the signed IF offset of a chain, 125 Hz resolution.
func (v *ChipVariant) ChainIFField(chain int) FieldSpec {
	base := ChainAddr(chain, regChainIFOff)
	return FieldSpec{
		Name: fmt.Sprintf("if_chains[%d].if", chain),
		Regs: []RegSlice{
			{Addr: base, Shift: 0, Width: 8},
			{Addr: base + 1, Shift: 0, Width: 8},
		},
		Min: -IFOffsetBoundHz, Max: IFOffsetBoundHz,
		Scale:  125,
		Signed: true,
	}
}

// ChainSFSetField describes the spreading-factor correlator bitmask of a
// multi-SF chain. Bit 0 is the variant's lowest supported SF.
func (v *ChipVariant) ChainSFSetField(chain int) FieldSpec {
	count := v.SFMax - v.SFMin + 1
	return FieldSpec{
		Name: fmt.Sprintf("if_chains[%d].spread_factors", chain),
		Regs: []RegSlice{{Addr: ChainAddr(chain, regChainModOff), Shift: 0, Width: uint8(count)}},
		Min:  1, Max: (1 << count) - 1,
	}
}

// ChainSFField describes the single spreading factor of a LoRa standard chain.
func (v *ChipVariant) ChainSFField(chain int) FieldSpec {
	return FieldSpec{
		Name: fmt.Sprintf("if_chains[%d].spread_factor", chain),
		Regs: []RegSlice{{Addr: ChainAddr(chain, regChainModOff), Shift: 0, Width: 4}},
		Min:  int64(v.SFMin), Max: int64(v.SFMax),
	}
}

// ChainDatarateField describes the FSK datarate of a chain, 1 kbps resolution.
func (v *ChipVariant) ChainDatarateField(chain int) FieldSpec {
	return FieldSpec{
		Name: fmt.Sprintf("if_chains[%d].datarate", chain),
		Regs: []RegSlice{{Addr: ChainAddr(chain, regChainModOff), Shift: 0, Width: 8}},
		Min:  int64(v.FSKDatarateMin), Max: int64(v.FSKDatarateMax),
		Scale: 1_000,
	}
}

// SFSetMask converts a list of spreading factors into the correlator bitmask
// used by ChainSFSetField.
func (v *ChipVariant) SFSetMask(sfs []int) (int64, error) {
	var mask int64
	for _, sf := range sfs {
		if sf < v.SFMin || sf > v.SFMax {
			return 0, fmt.Errorf("spreading factor %d outside %s range [%d, %d]", sf, v.ID, v.SFMin, v.SFMax)
		}
		mask |= 1 << (sf - v.SFMin)
	}
	return mask, nil
}

// SFSetFromMask converts a correlator bitmask back into a spreading factor list.
func (v *ChipVariant) SFSetFromMask(mask int64) []int {
	var sfs []int
	for sf := v.SFMin; sf <= v.SFMax; sf++ {
		if mask&(1<<(sf-v.SFMin)) != 0 {
			sfs = append(sfs, sf)
		}
	}
	return sfs
}

// DecodeRSSI converts the raw RX RSSI register value to dBm.
func DecodeRSSI(raw uint8) float64 {
	return -float64(raw) / 2.0
}

// EncodeRSSI converts a dBm value to the raw RX RSSI register encoding.
func EncodeRSSI(dbm float64) uint8 {
	if dbm > 0 {
		return 0
	}
	v := -dbm * 2.0
	if v > 255 {
		v = 255
	}
	return uint8(v)
}

// DecodeSNR converts the raw RX SNR register value (two's complement quarter
// dB) to dB.
func DecodeSNR(raw uint8) float64 {
	return float64(int8(raw)) / 4.0
}

// EncodeSNR converts a dB value to the raw RX SNR register encoding.
func EncodeSNR(db float64) uint8 {
	v := db * 4.0
	if v > 127 {
		v = 127
	} else if v < -128 {
		v = -128
	}
	return uint8(int8(v))
}
