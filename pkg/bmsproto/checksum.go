// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmsproto

import (
	"fmt"

	"github.com/sigurn/crc16"
)

// ChecksumKind selects the integrity scheme trailing a frame
type ChecksumKind int

const (
	// ChecksumSum8 is a single byte: sum of all preceding bytes mod 256
	ChecksumSum8 ChecksumKind = iota
	// ChecksumModbusCRC16 is the Modbus CRC, appended little-endian
	ChecksumModbusCRC16
)

var modbusTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// CalculateSum computes the additive 8-bit checksum for the given data
func CalculateSum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// CalculateCRC computes the Modbus CRC16 for the given data
func CalculateCRC(data []byte) uint16 {
	return crc16.Checksum(data, modbusTable)
}

// Size returns the number of trailing checksum bytes
func (k ChecksumKind) Size() int {
	if k == ChecksumModbusCRC16 {
		return 2
	}
	return 1
}

// Compute returns the checksum bytes for data
func (k ChecksumKind) Compute(data []byte) []byte {
	switch k {
	case ChecksumModbusCRC16:
		crc := CalculateCRC(data)
		return []byte{byte(crc), byte(crc >> 8)}
	default:
		return []byte{CalculateSum(data)}
	}
}

// Validate reports whether the trailing checksum of frame matches its body.
// Frames too short to carry a checksum never validate.
func (k ChecksumKind) Validate(frame []byte) bool {
	n := k.Size()
	if len(frame) < n {
		return false
	}
	body, tail := frame[:len(frame)-n], frame[len(frame)-n:]
	want := k.Compute(body)
	for i := range want {
		if want[i] != tail[i] {
			return false
		}
	}
	return true
}

// String returns the checksum name
func (k ChecksumKind) String() string {
	switch k {
	case ChecksumSum8:
		return "sum8"
	case ChecksumModbusCRC16:
		return "crc16-modbus"
	default:
		return fmt.Sprintf("checksum(%d)", int(k))
	}
}

// ParseChecksumKind resolves a checksum name as printed by String
func ParseChecksumKind(name string) (ChecksumKind, error) {
	switch name {
	case "sum8":
		return ChecksumSum8, nil
	case "crc16-modbus", "crc16":
		return ChecksumModbusCRC16, nil
	}
	return 0, fmt.Errorf("unknown checksum kind %q", name)
}
