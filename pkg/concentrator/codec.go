package concentrator

import "fmt"

// RegSlice locates part of a logical field inside one register.
type RegSlice struct {
	Addr  uint16
	Shift uint8
	Width uint8
}

// EnumValue maps one allowed logical value of an enumerated field to its
// register code.
type EnumValue struct {
	Logical int64
	Code    uint32
	Label   string
}

// FieldSpec is the declarative layout of one logical configuration field:
// which register bits hold it, and what logical values it accepts. Fields
// spanning multiple registers list their slices MSB first.
//
// Non-enumerated fields accept logical values in [Min, Max]; when Scale is
// above one the logical value must additionally be a multiple of it and the
// raw register value is logical/Scale. Enumerated fields accept exactly the
// logical values listed in Enum.
type FieldSpec struct {
	Name   string
	Regs   []RegSlice
	Min    int64
	Max    int64
	Scale  int64
	Signed bool
	Enum   []EnumValue
}

func (f FieldSpec) totalWidth() uint8 {
	var w uint8
	for _, s := range f.Regs {
		w += s.Width
	}
	return w
}

// RegPatch is the raw bit pattern a field encodes to: OR Value into the
// register after clearing the Mask bits.
type RegPatch struct {
	Addr  uint16
	Value uint8
	Mask  uint8
}

func bitMask(width uint8) uint64 {
	return (1 << width) - 1
}

// EncodeField converts a logical field value into the register patches that
// program it. It is a pure transform and performs no I/O.
func EncodeField(f FieldSpec, value int64) ([]RegPatch, error) {
	raw, err := rawValue(f, value)
	if err != nil {
		return nil, err
	}

	width := f.totalWidth()
	patches := make([]RegPatch, 0, len(f.Regs))
	remaining := width
	for _, s := range f.Regs {
		remaining -= s.Width
		bits := uint8((raw >> remaining) & bitMask(s.Width))
		patches = append(patches, RegPatch{
			Addr:  s.Addr,
			Value: bits << s.Shift,
			Mask:  uint8(bitMask(s.Width)) << s.Shift,
		})
	}
	return patches, nil
}

func rawValue(f FieldSpec, value int64) (uint64, error) {
	if len(f.Enum) > 0 {
		for _, ev := range f.Enum {
			if ev.Logical == value {
				return uint64(ev.Code), nil
			}
		}
		return 0, &FieldOutOfRangeError{
			Field: f.Name,
			Value: value,
			Min:   f.Enum[0].Logical,
			Max:   f.Enum[len(f.Enum)-1].Logical,
		}
	}

	if value < f.Min || value > f.Max {
		return 0, &FieldOutOfRangeError{Field: f.Name, Value: value, Min: f.Min, Max: f.Max}
	}

	scaled := value
	if f.Scale > 1 {
		if value%f.Scale != 0 {
			return 0, &FieldAlignmentError{Field: f.Name, Value: value, Step: f.Scale}
		}
		scaled = value / f.Scale
	}

	width := f.totalWidth()
	if f.Signed {
		// two's complement within the field width
		limit := int64(1) << (width - 1)
		if scaled < -limit || scaled >= limit {
			return 0, &FieldOutOfRangeError{Field: f.Name, Value: value, Min: f.Min, Max: f.Max}
		}
		return uint64(scaled) & bitMask(width), nil
	}

	if scaled < 0 || uint64(scaled) > bitMask(width) {
		return 0, &FieldOutOfRangeError{Field: f.Name, Value: value, Min: f.Min, Max: f.Max}
	}
	return uint64(scaled), nil
}

// RegReader resolves a register address to its current value during decode.
// A map snapshot or a live transport read both satisfy it.
type RegReader func(addr uint16) (uint8, error)

// SnapshotReader adapts a register snapshot map to a RegReader. Registers
// absent from the snapshot read as zero.
func SnapshotReader(regs map[uint16]uint8) RegReader {
	return func(addr uint16) (uint8, error) {
		return regs[addr], nil
	}
}

// DecodeField is the inverse of EncodeField: it reassembles the logical field
// value from raw register contents.
func DecodeField(f FieldSpec, read RegReader) (int64, error) {
	var raw uint64
	for _, s := range f.Regs {
		b, err := read(s.Addr)
		if err != nil {
			return 0, fmt.Errorf("decode %s: %w", f.Name, err)
		}
		bits := uint64(b>>s.Shift) & bitMask(s.Width)
		raw = raw<<s.Width | bits
	}

	if len(f.Enum) > 0 {
		for _, ev := range f.Enum {
			if uint64(ev.Code) == raw {
				return ev.Logical, nil
			}
		}
		return 0, fmt.Errorf("decode %s: no enum value for code %d", f.Name, raw)
	}

	width := f.totalWidth()
	var scaled int64
	if f.Signed && raw&(1<<(width-1)) != 0 {
		scaled = int64(raw) - (1 << width)
	} else {
		scaled = int64(raw)
	}
	if f.Scale > 1 {
		scaled *= f.Scale
	}
	return scaled, nil
}
