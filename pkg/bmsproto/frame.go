// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmsproto

import "time"

// CompletedFrame is a response frame of exactly the schema's expected length
type CompletedFrame struct {
	Schema    *FrameSchema
	Data      []byte
	Valid     bool // trailing checksum matched
	Timestamp time.Time
}

// NewCompletedFrame tags data with its schema and checksum result
func NewCompletedFrame(s *FrameSchema, data []byte) *CompletedFrame {
	return &CompletedFrame{
		Schema:    s,
		Data:      data,
		Valid:     s.Checksum.Validate(data),
		Timestamp: time.Now(),
	}
}

// Type returns the frame's type/flag byte, if the schema defines one
func (f *CompletedFrame) Type() (byte, bool) {
	if f.Schema == nil || f.Schema.TypeOffset < 0 || f.Schema.TypeOffset >= len(f.Data) {
		return 0, false
	}
	return f.Data[f.Schema.TypeOffset], true
}

// IsValidReply reports whether the frame carries the schema's valid-reply
// marker. Schemas without a type byte accept every frame.
func (f *CompletedFrame) IsValidReply() bool {
	t, ok := f.Type()
	if !ok {
		return true
	}
	return t == f.Schema.ValidReply
}

// Len returns the frame length
func (f *CompletedFrame) Len() int {
	return len(f.Data)
}
