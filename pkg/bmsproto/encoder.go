// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmsproto

import (
	"bytes"
	"fmt"
)

// CommandLength returns the encoded size of a command under the schema's layout.
// Modbus frames vary with the payload; padded frames are fixed.
func CommandLength(s *FrameSchema, payloadLen int) int {
	if s.CommandLayout == LayoutModbusRTU {
		return len(s.CommandHeader) + 1 + payloadLen + s.CommandChecksum.Size()
	}
	return len(s.CommandHeader) + 2 + MaxCommandPayload + s.CommandChecksum.Size()
}

// EncodeCommand builds the wire bytes for c using the schema's command layout.
// Payloads longer than MaxCommandPayload fail with ErrInvalidPayload.
func EncodeCommand(s *FrameSchema, c Command) ([]byte, error) {
	if len(c.Payload) > MaxCommandPayload {
		return nil, &StructuralError{
			Schema: s.Name,
			What:   "command " + c.Name,
			Err:    fmt.Errorf("%w: %d bytes (max %d)", ErrInvalidPayload, len(c.Payload), MaxCommandPayload),
		}
	}

	frame := make([]byte, 0, CommandLength(s, len(c.Payload)))
	frame = append(frame, s.CommandHeader...)
	frame = append(frame, c.Opcode)

	switch s.CommandLayout {
	case LayoutModbusRTU:
		frame = append(frame, c.Payload...)
	default:
		frame = append(frame, byte(len(c.Payload)))
		frame = append(frame, c.Payload...)
		// Device expects a constant-size payload slot
		for i := len(c.Payload); i < MaxCommandPayload; i++ {
			frame = append(frame, 0x00)
		}
	}

	frame = append(frame, s.CommandChecksum.Compute(frame)...)
	return frame, nil
}

// MustEncodeCommand encodes c and panics on error.
// Intended for the fixed catalogue commands, which always fit.
func MustEncodeCommand(s *FrameSchema, c Command) []byte {
	data, err := EncodeCommand(s, c)
	if err != nil {
		panic(fmt.Sprintf("bmsproto: encode error: %v", err))
	}
	return data
}

// ParseCommand recovers a command from its wire bytes.
// The returned command is named after the matching catalogue entry, if any.
func ParseCommand(s *FrameSchema, frame []byte) (Command, error) {
	h := len(s.CommandHeader)
	cs := s.CommandChecksum.Size()
	if len(frame) < h+1+cs {
		return Command{}, fmt.Errorf("command too short: %d bytes", len(frame))
	}
	if !bytes.HasPrefix(frame, s.CommandHeader) {
		return Command{}, fmt.Errorf("command header mismatch: % X", frame[:h])
	}
	if !s.CommandChecksum.Validate(frame) {
		return Command{}, fmt.Errorf("parse command: %w", ErrChecksum)
	}

	c := Command{Opcode: frame[h]}
	body := frame[h+1 : len(frame)-cs]

	switch s.CommandLayout {
	case LayoutModbusRTU:
		if len(body) > MaxCommandPayload {
			return Command{}, fmt.Errorf("%w: %d bytes", ErrInvalidPayload, len(body))
		}
		c.Payload = bytes.Clone(body)
	default:
		if len(frame) != CommandLength(s, 0) {
			return Command{}, fmt.Errorf("command length %d, want %d", len(frame), CommandLength(s, 0))
		}
		n := int(body[0])
		if n > MaxCommandPayload {
			return Command{}, fmt.Errorf("%w: length byte %d", ErrInvalidPayload, n)
		}
		c.Payload = bytes.Clone(body[1 : 1+n])
	}

	c.Name = "unknown"
	for _, known := range Catalogue(s) {
		if known.Opcode == c.Opcode && bytes.Equal(known.Payload, c.Payload) {
			c.Name = known.Name
			break
		}
	}
	return c, nil
}
