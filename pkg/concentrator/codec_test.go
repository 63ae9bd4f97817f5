package concentrator_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/helium/packet-forwarder-test/pkg/concentrator"
)

func sx1301(t *testing.T) *concentrator.ChipVariant {
	t.Helper()
	v, err := concentrator.VariantFor(concentrator.ChipSX1301)
	require.NoError(t, err)
	return v
}

// applyPatches folds encoded patches into a register snapshot the way the
// plan executor would.
func applyPatches(regs map[uint16]uint8, patches []concentrator.RegPatch) {
	for _, p := range patches {
		regs[p.Addr] = (regs[p.Addr] &^ p.Mask) | p.Value
	}
}

func roundTrip(t *testing.T, f concentrator.FieldSpec, value int64) {
	t.Helper()
	patches, err := concentrator.EncodeField(f, value)
	require.NoError(t, err, "encode %s = %d", f.Name, value)

	regs := make(map[uint16]uint8)
	applyPatches(regs, patches)

	got, err := concentrator.DecodeField(f, concentrator.SnapshotReader(regs))
	require.NoError(t, err, "decode %s", f.Name)
	require.Equal(t, value, got, "%s round trip", f.Name)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	v := sx1301(t)

	freq, err := v.RadioFreqField(0, concentrator.RadioSX1257)
	require.NoError(t, err)
	for _, hz := range []int64{862_000_000, 868_500_000, 1_020_000_000} {
		roundTrip(t, freq, hz)
	}

	ifField := v.ChainIFField(3)
	for _, hz := range []int64{-500_000, -400_000, -125, 0, 125, 300_000, 500_000} {
		roundTrip(t, ifField, hz)
	}

	rssi := v.RadioRSSIOffsetField(1)
	for _, tenths := range []int64{-3_200, -1_660, 0, 1_275, 3_200} {
		roundTrip(t, rssi, tenths)
	}

	sfSet := v.ChainSFSetField(0)
	mask, err := v.SFSetMask([]int{7, 9, 12})
	require.NoError(t, err)
	roundTrip(t, sfSet, mask)
	require.Equal(t, []int{7, 9, 12}, v.SFSetFromMask(mask))

	roundTrip(t, v.ChainSFField(8), 12)
	roundTrip(t, v.ChainDatarateField(9), 50_000)
}

func TestEncodeFieldOutOfRange(t *testing.T) {
	v := sx1301(t)

	freq, err := v.RadioFreqField(0, concentrator.RadioSX1257)
	require.NoError(t, err)
	for _, hz := range []int64{861_999_000, 1_020_001_000} {
		_, err := concentrator.EncodeField(freq, hz)
		require.ErrorIs(t, err, concentrator.ErrFieldOutOfRange)

		var oor *concentrator.FieldOutOfRangeError
		require.ErrorAs(t, err, &oor)
		require.Equal(t, hz, oor.Value)
	}

	ifField := v.ChainIFField(0)
	_, err = concentrator.EncodeField(ifField, concentrator.IFOffsetBoundHz+125)
	require.ErrorIs(t, err, concentrator.ErrFieldOutOfRange)
	_, err = concentrator.EncodeField(ifField, -concentrator.IFOffsetBoundHz-125)
	require.ErrorIs(t, err, concentrator.ErrFieldOutOfRange)
}

func TestEncodeFieldBoundInclusive(t *testing.T) {
	v := sx1301(t)
	ifField := v.ChainIFField(0)

	roundTrip(t, ifField, concentrator.IFOffsetBoundHz)
	roundTrip(t, ifField, -concentrator.IFOffsetBoundHz)
}

func TestEncodeFieldAlignment(t *testing.T) {
	v := sx1301(t)

	_, err := concentrator.EncodeField(v.ChainIFField(0), 100)
	require.ErrorIs(t, err, concentrator.ErrFieldOutOfRange)

	var align *concentrator.FieldAlignmentError
	require.True(t, errors.As(err, &align))
	require.Equal(t, int64(125), align.Step)

	freq, err := v.RadioFreqField(0, concentrator.RadioSX1257)
	require.NoError(t, err)
	_, err = concentrator.EncodeField(freq, 868_500_500)
	require.ErrorIs(t, err, concentrator.ErrFieldOutOfRange)
}

func TestEncodeEnumField(t *testing.T) {
	v := sx1301(t)
	bw := v.ChainBandwidthField(8)

	patches, err := concentrator.EncodeField(bw, 250_000)
	require.NoError(t, err)
	require.Len(t, patches, 1)
	require.Equal(t, uint8(0x04), patches[0].Value, "code 1 shifted into bits 2-3")
	require.Equal(t, uint8(0x0C), patches[0].Mask)

	_, err = concentrator.EncodeField(bw, 300_000)
	require.ErrorIs(t, err, concentrator.ErrFieldOutOfRange)
}

func TestSignedFieldEncoding(t *testing.T) {
	v := sx1301(t)
	ifField := v.ChainIFField(0)

	// -400000 Hz / 125 = -3200 = 0xF380 two's complement over 16 bits
	patches, err := concentrator.EncodeField(ifField, -400_000)
	require.NoError(t, err)
	require.Len(t, patches, 2)
	require.Equal(t, uint8(0xF3), patches[0].Value)
	require.Equal(t, uint8(0x80), patches[1].Value)
}

func TestSFSetMaskRejectsUnsupported(t *testing.T) {
	v := sx1301(t)

	_, err := v.SFSetMask([]int{6})
	require.Error(t, err)
	_, err = v.SFSetMask([]int{13})
	require.Error(t, err)

	v2, err := concentrator.VariantFor(concentrator.ChipSX1302)
	require.NoError(t, err)
	mask, err := v2.SFSetMask([]int{5, 6})
	require.NoError(t, err)
	require.Equal(t, int64(0x03), mask)
}
