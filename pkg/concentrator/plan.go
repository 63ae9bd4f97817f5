package concentrator

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// OpKind tags a RegisterOperation variant.
type OpKind uint8

// Register plan operation kinds
const (
	OpWrite OpKind = iota
	OpRead
	OpDelay
	OpWaitBitSet
)

// RegisterOperation is one step of a register plan. Operations are built by
// the plan builder and consumed sequentially by the transport executor; they
// are never retained after execution.
type RegisterOperation struct {
	Kind    OpKind
	Addr    uint16
	Value   uint8
	Mask    uint8
	Delay   time.Duration
	Timeout time.Duration
}

// WriteOp builds a masked register write. A mask of 0xFF replaces the whole
// register; anything narrower is applied read-modify-write.
func WriteOp(addr uint16, value, mask uint8) RegisterOperation {
	return RegisterOperation{Kind: OpWrite, Addr: addr, Value: value, Mask: mask}
}

// ReadOp builds a register read whose value is discarded. Useful to flush
// read-to-clear status registers.
func ReadOp(addr uint16) RegisterOperation {
	return RegisterOperation{Kind: OpRead, Addr: addr}
}

// DelayOp builds a fixed settle delay.
func DelayOp(d time.Duration) RegisterOperation {
	return RegisterOperation{Kind: OpDelay, Delay: d}
}

// WaitBitSetOp builds a bounded poll until all mask bits read as set.
func WaitBitSetOp(addr uint16, mask uint8, timeout time.Duration) RegisterOperation {
	return RegisterOperation{Kind: OpWaitBitSet, Addr: addr, Mask: mask, Timeout: timeout}
}

func (op RegisterOperation) String() string {
	switch op.Kind {
	case OpWrite:
		return fmt.Sprintf("write  0x%04X <= 0x%02X (mask 0x%02X)", op.Addr, op.Value, op.Mask)
	case OpRead:
		return fmt.Sprintf("read   0x%04X", op.Addr)
	case OpDelay:
		return fmt.Sprintf("delay  %s", op.Delay)
	case OpWaitBitSet:
		return fmt.Sprintf("wait   0x%04X mask 0x%02X (timeout %s)", op.Addr, op.Mask, op.Timeout)
	default:
		return fmt.Sprintf("unknown op kind %d", op.Kind)
	}
}

// ResetSettleDelay is the mandated settle time around soft-reset edges.
const ResetSettleDelay = 5 * time.Millisecond

// BuildPlan converts a validated configuration into the ordered transport
// operation sequence that programs it. The sequence is a fixed series of
// phases honoring the chip's dependency rules:
//
//  1. soft-reset assertion and release with settle delays,
//  2. board-level registers (clock source, straps), which must precede the
//     front ends because they derive timing from the selected clock,
//  3. front-end registers in ascending index order,
//  4. IF chain registers, only for chains whose front end is enabled.
//
// Calibration trigger registers are deferred to the calibration controller.
// Within a phase, register writes are ordered by ascending address so equal
// configurations always emit byte-identical plans. The builder performs no
// I/O.
func BuildPlan(cfg *ValidatedConfig) []RegisterOperation {
	variant := cfg.Variant()

	plan := []RegisterOperation{
		WriteOp(RegSoftReset, SoftResetBit, SoftResetBit),
		DelayOp(ResetSettleDelay),
		WriteOp(RegSoftReset, 0x00, 0xFF),
		DelayOp(ResetSettleDelay),
	}

	// Board phase
	board := newRegImage()
	b := cfg.Board()
	board.apply(mustEncode(variant.ClockSourceField(), int64(b.ClockSource)))
	board.apply(mustEncode(variant.FullDuplexField(), boolVal(b.FullDuplex)))
	board.apply(mustEncode(variant.LBTField(), boolVal(b.LBTEnable)))
	plan = append(plan, board.ops()...)

	// Front-end phase, ascending index
	radios := newRegImage()
	for i := 0; i < NumRadios; i++ {
		r := cfg.Radio(i)
		radios.apply(mustEncode(variant.RadioEnableField(i), boolVal(r.Enable)))
		if !r.Enable {
			continue
		}
		radios.apply(mustEncode(variant.RadioTxEnableField(i), boolVal(r.TxEnable)))

		code, err := radioTypeCode(r.Type)
		if err != nil {
			panic(fmt.Sprintf("plan builder: radio %d: %v", i, err))
		}
		radios.apply(mustEncode(variant.RadioTypeField(i), code))

		freqField, err := variant.RadioFreqField(i, r.Type)
		if err != nil {
			panic(fmt.Sprintf("plan builder: radio %d: %v", i, err))
		}
		radios.apply(mustEncode(freqField, int64(r.FreqHz)))
		radios.apply(mustEncode(variant.RadioRSSIOffsetField(i), int64(math.Round(r.RSSIOffsetDB*10))))
	}
	plan = append(plan, radios.ops()...)

	// IF chain phase
	chains := newRegImage()
	for i := 0; i < cfg.NumIFChains(); i++ {
		ch := cfg.IFChain(i)
		chains.apply(mustEncode(variant.ChainEnableField(i), boolVal(ch.Enable)))
		if !ch.Enable {
			continue
		}
		if !cfg.Radio(ch.Radio).Enable {
			// validation guarantees this; reaching it is a builder bug
			panic(fmt.Sprintf("plan builder: chain %d references disabled front end %d", i, ch.Radio))
		}

		chains.apply(mustEncode(variant.ChainRadioField(i), int64(ch.Radio)))
		chains.apply(mustEncode(variant.ChainBandwidthField(i), int64(ch.BandwidthHz)))
		chains.apply(mustEncode(variant.ChainModulationField(i), modulationCodes[ch.Modulation]))
		chains.apply(mustEncode(variant.ChainIFField(i), int64(ch.IFHz)))

		switch ch.Modulation {
		case ModLoRaMultiSF:
			mask, err := variant.SFSetMask(ch.SpreadFactors)
			if err != nil {
				panic(fmt.Sprintf("plan builder: chain %d: %v", i, err))
			}
			chains.apply(mustEncode(variant.ChainSFSetField(i), mask))
		case ModLoRaSingleSF:
			chains.apply(mustEncode(variant.ChainSFField(i), int64(ch.SpreadFactor)))
		case ModFSK:
			chains.apply(mustEncode(variant.ChainDatarateField(i), int64(ch.DatarateBps)))
		}
	}
	plan = append(plan, chains.ops()...)

	return plan
}

func boolVal(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func mustEncode(f FieldSpec, value int64) []RegPatch {
	patches, err := EncodeField(f, value)
	if err != nil {
		panic(fmt.Sprintf("plan builder: encode %s: %v", f.Name, err))
	}
	return patches
}

// regImage accumulates field patches of one plan phase into per-register
// value/mask pairs, then emits them as writes in ascending address order.
type regImage struct {
	regs map[uint16]RegPatch
}

func newRegImage() *regImage {
	return &regImage{regs: make(map[uint16]RegPatch)}
}

func (ri *regImage) apply(patches []RegPatch) {
	for _, p := range patches {
		cur := ri.regs[p.Addr]
		cur.Addr = p.Addr
		cur.Value = (cur.Value &^ p.Mask) | p.Value
		cur.Mask |= p.Mask
		ri.regs[p.Addr] = cur
	}
}

func (ri *regImage) ops() []RegisterOperation {
	addrs := make([]uint16, 0, len(ri.regs))
	for addr := range ri.regs {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	ops := make([]RegisterOperation, 0, len(addrs))
	for _, addr := range addrs {
		p := ri.regs[addr]
		ops = append(ops, WriteOp(p.Addr, p.Value, p.Mask))
	}
	return ops
}
