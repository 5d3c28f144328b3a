// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmsproto

import (
	"fmt"
	"slices"
)

// Decode converts a checksum-valid completed frame into a Sample.
// Decoding never returns a partial sample: any read past the frame yields a
// *StructuralError.
func Decode(f *CompletedFrame) (*Sample, error) {
	if f == nil || f.Schema == nil {
		return nil, fmt.Errorf("decode: frame has no schema")
	}
	if !f.Valid {
		return nil, fmt.Errorf("decode %s frame: %w", f.Schema.Name, ErrChecksum)
	}
	return decode(f.Schema, f)
}

// DecodeBytes validates and decodes a captured frame against a schema
func DecodeBytes(s *FrameSchema, data []byte) (*Sample, error) {
	if len(data) != s.ExpectedLength {
		return nil, &StructuralError{Schema: s.Name, What: "frame length",
			Err: fmt.Errorf("got %d bytes, want %d", len(data), s.ExpectedLength)}
	}
	return Decode(NewCompletedFrame(s, data))
}

func decode(s *FrameSchema, f *CompletedFrame) (*Sample, error) {
	data := f.Data
	values := make(map[string]float64, len(s.Fields)+len(s.Temperatures)+4)

	for _, field := range s.Fields {
		raw, err := readField(s, data, field)
		if err != nil {
			return nil, err
		}
		values[field.Key] = field.Apply(raw)
	}

	var cells []float64
	if s.HasCells() {
		maskAt := s.CellMaskAt()
		if err := checkRead(s, data, "cell mask", maskAt, 4); err != nil {
			return nil, err
		}
		mask := readUint(data[maskAt:maskAt+4], false)
		for slot := 0; slot < s.CellSlots; slot++ {
			if mask&(1<<slot) == 0 {
				continue
			}
			at := s.CellBaseOffset + 2*slot
			if err := checkRead(s, data, fmt.Sprintf("cell %d", slot), at, 2); err != nil {
				return nil, err
			}
			cells = append(cells, float64(readUint(data[at:at+2], false))/cellMillivolts)
		}
		// Mask bits beyond CellSlots have no voltage slot and are not counted
		values[KeyCellCount] = float64(len(cells))
	}

	temps := make([]float64, 0, len(s.Temperatures))
	for _, field := range s.Temperatures {
		raw, err := readField(s, data, field)
		if err != nil {
			return nil, err
		}
		t := field.Apply(raw)
		temps = append(temps, t)
		values[field.Key] = t
	}

	derive(values, cells)

	return NewSample(s.Name, f.Timestamp, values, cells, temps), nil
}

// derive adds values computed from other measurements when the frame lacks them
func derive(values map[string]float64, cells []float64) {
	if _, ok := values[KeyPower]; !ok {
		v, okV := values[KeyVoltage]
		c, okC := values[KeyCurrent]
		if okV && okC {
			values[KeyPower] = v * c
		}
	}
	if len(cells) == 0 {
		return
	}
	lo, hi := slices.Min(cells), slices.Max(cells)
	values[KeyCellMin] = lo
	values[KeyCellMax] = hi
	if _, ok := values[KeyDeltaVoltage]; !ok {
		values[KeyDeltaVoltage] = hi - lo
	}
}

func checkRead(s *FrameSchema, data []byte, what string, offset, width int) error {
	if offset < 0 || offset+width > len(data) || offset+width > s.ExpectedLength {
		return &StructuralError{Schema: s.Name, What: what, Offset: offset, Width: width, Length: len(data)}
	}
	return nil
}

func readField(s *FrameSchema, data []byte, f FieldSpec) (int64, error) {
	at := s.FieldOffset(f)
	if err := checkRead(s, data, "field "+f.Key, at, f.Width); err != nil {
		return 0, err
	}
	switch f.Width {
	case 1, 2, 4:
	default:
		return 0, &StructuralError{Schema: s.Name, What: "field " + f.Key,
			Err: fmt.Errorf("unsupported width %d", f.Width)}
	}
	u := readUint(data[at:at+f.Width], f.BigEndian)
	if !f.Signed {
		return int64(u), nil
	}
	shift := 64 - 8*f.Width
	return int64(u<<shift) >> shift, nil
}

// readUint assembles up to 8 bytes into an unsigned integer
func readUint(b []byte, bigEndian bool) uint64 {
	var v uint64
	if bigEndian {
		for _, x := range b {
			v = v<<8 | uint64(x)
		}
		return v
	}
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
