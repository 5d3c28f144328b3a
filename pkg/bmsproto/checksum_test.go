// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmsproto

import (
	"bytes"
	"testing"
)

func TestCalculateCRC_KnownValues(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected uint16
	}{
		{
			name:     "ASCII '123456789'",
			data:     []byte("123456789"),
			expected: 0x4B37, // Modbus check value
		},
		{
			name:     "home data request",
			data:     []byte{0x01, 0x03, 0x01, 0x01, 0x00, 0x13},
			expected: 0x3B54,
		},
		{
			name:     "empty",
			data:     []byte{},
			expected: 0xFFFF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crc := CalculateCRC(tt.data)
			if crc != tt.expected {
				t.Errorf("CRC mismatch: expected 0x%04X, got 0x%04X", tt.expected, crc)
			}
		})
	}
}

func TestCalculateSum(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected byte
	}{
		{"empty", nil, 0x00},
		{"single", []byte{0x42}, 0x42},
		{"wraps", []byte{0xFF, 0x02}, 0x01},
		{"cell info command", []byte{0x01, 0x03, 0x01, 0x01, 0x96}, 0x9C},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateSum(tt.data); got != tt.expected {
				t.Errorf("expected 0x%02X, got 0x%02X", tt.expected, got)
			}
		})
	}
}

func TestChecksumKind_ComputeByteOrder(t *testing.T) {
	got := ChecksumModbusCRC16.Compute([]byte{0x01, 0x03, 0x01, 0x01, 0x00, 0x13})
	if !bytes.Equal(got, []byte{0x54, 0x3B}) {
		t.Errorf("CRC should be appended little-endian, got % X", got)
	}
	if n := len(ChecksumSum8.Compute([]byte{1, 2, 3})); n != 1 {
		t.Errorf("Sum8 should produce 1 byte, got %d", n)
	}
}

func TestChecksumKind_Validate(t *testing.T) {
	for _, kind := range []ChecksumKind{ChecksumSum8, ChecksumModbusCRC16} {
		t.Run(kind.String(), func(t *testing.T) {
			body := []byte{0x01, 0x03, 0x00, 0x0A, 0x10, 0x20, 0x30}
			frame := append(append([]byte(nil), body...), kind.Compute(body)...)
			if !kind.Validate(frame) {
				t.Error("frame with computed checksum should validate")
			}

			corrupted := append([]byte(nil), frame...)
			corrupted[4] ^= 0x01
			if kind.Validate(corrupted) {
				t.Error("single bit flip should fail validation")
			}
		})
	}
}

func TestChecksumKind_ValidateFailsClosed(t *testing.T) {
	tests := []struct {
		name  string
		kind  ChecksumKind
		frame []byte
	}{
		{"sum8 empty", ChecksumSum8, nil},
		{"crc empty", ChecksumModbusCRC16, []byte{}},
		{"crc one byte", ChecksumModbusCRC16, []byte{0xFF}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.kind.Validate(tt.frame) {
				t.Errorf("%d-byte frame must not validate", len(tt.frame))
			}
		})
	}
}

func TestChecksumKind_Size(t *testing.T) {
	if ChecksumSum8.Size() != 1 {
		t.Errorf("Sum8 size: expected 1, got %d", ChecksumSum8.Size())
	}
	if ChecksumModbusCRC16.Size() != 2 {
		t.Errorf("CRC16 size: expected 2, got %d", ChecksumModbusCRC16.Size())
	}
}

func TestParseChecksumKind(t *testing.T) {
	for _, kind := range []ChecksumKind{ChecksumSum8, ChecksumModbusCRC16} {
		got, err := ParseChecksumKind(kind.String())
		if err != nil {
			t.Fatalf("ParseChecksumKind(%q): %v", kind.String(), err)
		}
		if got != kind {
			t.Errorf("expected %v, got %v", kind, got)
		}
	}
	if _, err := ParseChecksumKind("xor"); err == nil {
		t.Error("unknown checksum name should fail")
	}
}
