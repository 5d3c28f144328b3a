// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmsproto

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
)

// Transform converts a raw integer read from a frame into a measurement
type Transform func(raw int64) float64

// Identity returns the raw value unchanged
func Identity(raw int64) float64 {
	return float64(raw)
}

// Scale returns a Transform multiplying the raw value by factor
func Scale(factor float64) Transform {
	return Linear(factor, 0)
}

// Linear returns a Transform computing raw*scale + bias
func Linear(scale, bias float64) Transform {
	return func(raw int64) float64 {
		return float64(raw)*scale + bias
	}
}

// FieldSpec describes one little- or big-endian integer inside a frame
type FieldSpec struct {
	Key       string
	Offset    int
	Width     int // 1, 2 or 4 bytes
	Signed    bool
	BigEndian bool
	HalfShift bool // shift by VariantOffset/2 instead of VariantOffset

	// Scale and Bias define the default linear transform (zero Scale means 1).
	// Transform, when set, replaces them.
	Scale     float64
	Bias      float64
	Transform Transform
}

// Apply converts a raw value using the field's transform
func (f FieldSpec) Apply(raw int64) float64 {
	if f.Transform != nil {
		return f.Transform(raw)
	}
	scale := f.Scale
	if scale == 0 {
		scale = 1
	}
	return float64(raw)*scale + f.Bias
}

// CommandLayout selects how outbound commands are framed
type CommandLayout int

const (
	// LayoutPadded is header, opcode, length, payload padded to 13 bytes, checksum
	LayoutPadded CommandLayout = iota
	// LayoutModbusRTU is slave address, function, payload, checksum
	LayoutModbusRTU
)

// String returns the layout name
func (l CommandLayout) String() string {
	if l == LayoutModbusRTU {
		return "modbus-rtu"
	}
	return "padded"
}

// FrameSchema is the constant description of one device family's frames.
// Schemas are treated as immutable; the With* methods return modified copies.
type FrameSchema struct {
	Name           string
	ResponseHeader []byte
	CommandHeader  []byte
	NoiseHeader    []byte
	ExpectedLength int

	Checksum        ChecksumKind
	CommandChecksum ChecksumKind
	CommandLayout   CommandLayout

	VariantOffset int
	Fields        []FieldSpec

	// Cell voltage area. CellSlots == 0 means the family reports no cells.
	CellMaskOffset int // 4-byte little-endian bitmask, shifted by VariantOffset/2
	CellBaseOffset int
	CellSlots      int

	Temperatures []FieldSpec

	// Type/flag byte. TypeOffset < 0 disables type matching.
	TypeOffset int
	ValidReply byte

	// DefaultCommand is the read request issued by Session.Poll
	DefaultCommand Command
}

func (s *FrameSchema) clone() *FrameSchema {
	c := *s
	c.ResponseHeader = bytes.Clone(s.ResponseHeader)
	c.CommandHeader = bytes.Clone(s.CommandHeader)
	c.NoiseHeader = bytes.Clone(s.NoiseHeader)
	c.Fields = append([]FieldSpec(nil), s.Fields...)
	c.Temperatures = append([]FieldSpec(nil), s.Temperatures...)
	c.DefaultCommand.Payload = bytes.Clone(s.DefaultCommand.Payload)
	return &c
}

// WithName returns a copy of the schema under a new name
func (s *FrameSchema) WithName(name string) *FrameSchema {
	c := s.clone()
	c.Name = name
	return c
}

// WithVariantOffset returns a copy of the schema with a different variant offset
func (s *FrameSchema) WithVariantOffset(offset int) *FrameSchema {
	c := s.clone()
	c.VariantOffset = offset
	return c
}

// WithCellSlots returns a copy of the schema with a different cell slot count
func (s *FrameSchema) WithCellSlots(slots int) *FrameSchema {
	c := s.clone()
	c.CellSlots = slots
	return c
}

// WithScale returns a copy of the schema where the field named key uses scale.
// Temperature sensor fields are matched by key as well.
func (s *FrameSchema) WithScale(key string, scale float64) (*FrameSchema, error) {
	c := s.clone()
	found := false
	for i := range c.Fields {
		if c.Fields[i].Key == key {
			c.Fields[i].Scale = scale
			c.Fields[i].Transform = nil
			found = true
		}
	}
	for i := range c.Temperatures {
		if c.Temperatures[i].Key == key {
			c.Temperatures[i].Scale = scale
			c.Temperatures[i].Transform = nil
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("%s: no field %q", s.Name, key)
	}
	return c, nil
}

func (s *FrameSchema) shift(half bool) int {
	if half {
		return s.VariantOffset >> 1
	}
	return s.VariantOffset
}

// FieldOffset returns the absolute offset of f after the variant shift
func (s *FrameSchema) FieldOffset(f FieldSpec) int {
	return f.Offset + s.shift(f.HalfShift)
}

// CellMaskAt returns the absolute offset of the cell bitmask
func (s *FrameSchema) CellMaskAt() int {
	return s.CellMaskOffset + s.shift(true)
}

// HasCells reports whether the family carries per-cell voltages
func (s *FrameSchema) HasCells() bool {
	return s.CellSlots > 0
}

// MatchesResponse reports whether data starts with the response header.
// A shorter data slice matches when it is a prefix of the header.
func (s *FrameSchema) MatchesResponse(data []byte) bool {
	return prefixMatch(data, s.ResponseHeader)
}

// IsNoise reports whether data starts with the noise header
func (s *FrameSchema) IsNoise(data []byte) bool {
	return len(s.NoiseHeader) > 0 && bytes.HasPrefix(data, s.NoiseHeader)
}

func prefixMatch(data, header []byte) bool {
	if len(header) == 0 || len(data) == 0 {
		return false
	}
	if len(data) < len(header) {
		return bytes.Equal(data, header[:len(data)])
	}
	return bytes.HasPrefix(data, header)
}

func (s *FrameSchema) checkSpan(what string, offset, width int) error {
	if offset < 0 || offset+width > s.ExpectedLength {
		return &StructuralError{Schema: s.Name, What: what, Offset: offset, Width: width, Length: s.ExpectedLength}
	}
	return nil
}

// Validate checks that every declared read fits inside the frame
func (s *FrameSchema) Validate() error {
	if len(s.ResponseHeader) == 0 {
		return &StructuralError{Schema: s.Name, What: "response header", Err: fmt.Errorf("empty")}
	}
	if s.ExpectedLength < len(s.ResponseHeader)+s.Checksum.Size() {
		return &StructuralError{Schema: s.Name, What: "expected length",
			Err: fmt.Errorf("%d too short for header and checksum", s.ExpectedLength)}
	}
	for _, f := range append(append([]FieldSpec(nil), s.Fields...), s.Temperatures...) {
		switch f.Width {
		case 1, 2, 4:
		default:
			return &StructuralError{Schema: s.Name, What: "field " + f.Key,
				Err: fmt.Errorf("unsupported width %d", f.Width)}
		}
		if err := s.checkSpan("field "+f.Key, s.FieldOffset(f), f.Width); err != nil {
			return err
		}
	}
	if s.HasCells() {
		if s.CellSlots > 32 {
			return &StructuralError{Schema: s.Name, What: "cell slots",
				Err: fmt.Errorf("%d exceeds 32-bit mask", s.CellSlots)}
		}
		if err := s.checkSpan("cell mask", s.CellMaskAt(), 4); err != nil {
			return err
		}
		if err := s.checkSpan("cell voltages", s.CellBaseOffset, 2*s.CellSlots); err != nil {
			return err
		}
	}
	if s.TypeOffset >= 0 {
		if err := s.checkSpan("type byte", s.TypeOffset, 1); err != nil {
			return err
		}
	}
	return nil
}

// Built-in families

var jkFields = []FieldSpec{
	{Key: KeyVoltage, Offset: 150, Width: 4, Scale: 0.251},
	{Key: KeyCurrent, Offset: 158, Width: 4, Signed: true, Scale: 0.0147},
	{Key: KeyBatteryLevel, Offset: 173, Width: 1},
	{Key: KeyCycleCharge, Offset: 174, Width: 4, Scale: 0.1154},
	{Key: KeyCycles, Offset: 182, Width: 4},
	{Key: KeyTemperature, Offset: 180, Width: 2, Scale: 0.0078},
	{Key: KeyDeltaVoltage, Offset: 76, Width: 2, HalfShift: true, Scale: 1 / cellMillivolts},
}

var jkTemperatures = []FieldSpec{
	{Key: "temp_mos", Offset: 144, Width: 2, Signed: true, Scale: 0.1},
	{Key: "temp_1", Offset: 162, Width: 2, Signed: true, Scale: 0.1},
	{Key: "temp_2", Offset: 164, Width: 2, Signed: true, Scale: 0.1},
	{Key: "temp_3", Offset: 256, Width: 2, Signed: true, Scale: 0.1},
	{Key: "temp_4", Offset: 258, Width: 2, Signed: true, Scale: 0.1},
}

// JK02_32S returns the schema for JK smart BMS units with 32 cell slots
func JK02_32S() *FrameSchema {
	return (&FrameSchema{
		Name:            "jk02_32s",
		ResponseHeader:  []byte{0x01, 0x03, 0x00, 0x0A},
		CommandHeader:   []byte{0x01, 0x03, 0x01, 0x01},
		NoiseHeader:     []byte{0x41, 0x54, 0x0D, 0x0A}, // "AT\r\n"
		ExpectedLength:  300,
		Checksum:        ChecksumSum8,
		CommandChecksum: ChecksumSum8,
		CommandLayout:   LayoutPadded,
		Fields:          jkFields,
		CellMaskOffset:  70,
		CellBaseOffset:  6,
		CellSlots:       32,
		Temperatures:    jkTemperatures,
		TypeOffset:      4,
		ValidReply:      FrameTypeCellInfo,
		DefaultCommand:  NewCellInfoRequest(),
	}).clone()
}

// JK02_24S returns the schema for JK units whose layout is shifted by -32 bytes
func JK02_24S() *FrameSchema {
	return JK02_32S().WithName("jk02_24s").WithVariantOffset(-32).WithCellSlots(24)
}

// MPPT returns the schema for the solar charge controller's home data reply
func MPPT() *FrameSchema {
	return &FrameSchema{
		Name:            "mppt",
		ResponseHeader:  []byte{0x01, FuncReadHolding, 0x26},
		CommandHeader:   []byte{0x01},
		ExpectedLength:  43, // address, function, byte count, 38 data bytes, CRC
		Checksum:        ChecksumModbusCRC16,
		CommandChecksum: ChecksumModbusCRC16,
		CommandLayout:   LayoutModbusRTU,
		Fields: []FieldSpec{
			{Key: KeyVoltage, Offset: 3, Width: 2, BigEndian: true, Scale: 0.1},
			{Key: KeyCurrent, Offset: 5, Width: 2, BigEndian: true, Scale: 0.01},
			{Key: KeyChargePower, Offset: 9, Width: 2, BigEndian: true},
		},
		Temperatures: []FieldSpec{
			{Key: KeyControllerTemperature, Offset: 11, Width: 1},
			{Key: KeyBatteryTemperature, Offset: 12, Width: 1},
		},
		TypeOffset:     -1,
		DefaultCommand: NewReadRegisters(RegHomeData, 0x0013).Named("home_data"),
	}
}

var builtinFamilies = []func() *FrameSchema{JK02_32S, JK02_24S, MPPT}

// Families returns fresh copies of every built-in schema
func Families() []*FrameSchema {
	out := make([]*FrameSchema, 0, len(builtinFamilies))
	for _, fn := range builtinFamilies {
		out = append(out, fn())
	}
	return out
}

// FamilyNames returns the sorted names of the built-in schemas
func FamilyNames() []string {
	names := make([]string, 0, len(builtinFamilies))
	for _, s := range Families() {
		names = append(names, s.Name)
	}
	sort.Strings(names)
	return names
}

// LookupFamily returns a fresh copy of the built-in schema with the given name
func LookupFamily(name string) (*FrameSchema, error) {
	for _, s := range Families() {
		if strings.EqualFold(s.Name, name) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("unknown device family %q (known: %s)", name, strings.Join(FamilyNames(), ", "))
}
