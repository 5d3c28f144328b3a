// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmsproto

import (
	"math"
	"testing"
)

// ============================================================
// Frame Test Helpers
// ============================================================

// newFrame returns a zeroed frame carrying the schema's header and valid-reply marker
func newFrame(s *FrameSchema) []byte {
	data := make([]byte, s.ExpectedLength)
	copy(data, s.ResponseHeader)
	if s.TypeOffset >= 0 {
		data[s.TypeOffset] = s.ValidReply
	}
	return data
}

// seal writes the trailing checksum and returns data
func seal(s *FrameSchema, data []byte) []byte {
	n := s.Checksum.Size()
	copy(data[len(data)-n:], s.Checksum.Compute(data[:len(data)-n]))
	return data
}

// putInt writes v at off using width bytes in the requested byte order
func putInt(data []byte, off, width int, bigEndian bool, v int64) {
	u := uint64(v)
	for i := 0; i < width; i++ {
		b := byte(u >> (8 * i))
		if bigEndian {
			data[off+width-1-i] = b
		} else {
			data[off+i] = b
		}
	}
}

// setField writes a raw value for the named field (or temperature sensor)
func setField(t *testing.T, s *FrameSchema, data []byte, key string, raw int64) {
	t.Helper()
	for _, f := range append(append([]FieldSpec(nil), s.Fields...), s.Temperatures...) {
		if f.Key == key {
			putInt(data, s.FieldOffset(f), f.Width, f.BigEndian, raw)
			return
		}
	}
	t.Fatalf("schema %s has no field %q", s.Name, key)
}

// setCells writes the cell mask and millivolt values for the populated slots
func setCells(s *FrameSchema, data []byte, millivolts map[int]uint16) {
	var mask uint32
	for slot, mv := range millivolts {
		mask |= 1 << slot
		putInt(data, s.CellBaseOffset+2*slot, 2, false, int64(mv))
	}
	putInt(data, s.CellMaskAt(), 4, false, int64(mask))
}

// testSchema20 is the 20-byte scenario schema with an additive checksum
func testSchema20() *FrameSchema {
	return &FrameSchema{
		Name:           "test20",
		ResponseHeader: []byte{0x01, 0x03, 0x00, 0x0A},
		NoiseHeader:    []byte{0x41, 0x54, 0x0D, 0x0A},
		ExpectedLength: 20,
		Checksum:       ChecksumSum8,
		TypeOffset:     -1,
	}
}

// frame20 builds a valid 20-byte frame whose payload bytes start at seed
func frame20(seed byte) []byte {
	s := testSchema20()
	data := newFrame(s)
	for i := 4; i < 19; i++ {
		data[i] = seed + byte(i)
	}
	return seal(s, data)
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func expectValue(t *testing.T, s *Sample, key string, want float64) {
	t.Helper()
	got, ok := s.Value(key)
	if !ok {
		t.Errorf("sample has no %q", key)
		return
	}
	if !approxEqual(got, want) {
		t.Errorf("%s: expected %v, got %v", key, want, got)
	}
}
