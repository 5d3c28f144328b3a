// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmsproto

import (
	"bytes"
	"sync"
	"time"
)

// DiscardReason identifies why the reassembler dropped bytes
type DiscardReason int

const (
	DiscardNoise DiscardReason = iota
	DiscardUnmatched
	DiscardHeaderMismatch
	DiscardOverflow
)

// String returns the reason name
func (r DiscardReason) String() string {
	switch r {
	case DiscardNoise:
		return "noise"
	case DiscardUnmatched:
		return "unmatched"
	case DiscardHeaderMismatch:
		return "header_mismatch"
	case DiscardOverflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Reassembler turns notification chunks into completed frames.
// It is safe for concurrent use; chunks are applied in call order.
type Reassembler struct {
	mu        sync.Mutex
	schemas   []*FrameSchema
	armed     *FrameSchema
	active    *FrameSchema // nil while idle or while a header prefix is pending
	buffer    []byte
	onDiscard func(reason DiscardReason, n int)
	now       func() time.Time
}

// NewReassembler creates a reassembler matching any of the given schemas
func NewReassembler(schemas ...*FrameSchema) *Reassembler {
	return &Reassembler{
		schemas: schemas,
		now:     time.Now,
	}
}

// Arm restricts matching to a single schema and drops any partial frame
func (r *Reassembler) Arm(s *FrameSchema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.armed = s
	r.reset()
}

// Disarm matches against every registered schema again
func (r *Reassembler) Disarm() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.armed = nil
	r.reset()
}

// Reset abandons the in-progress frame; the armed schema is kept
func (r *Reassembler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset()
}

// OnDiscard registers a hook called (under the reassembler lock) whenever bytes are dropped
func (r *Reassembler) OnDiscard(fn func(reason DiscardReason, n int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDiscard = fn
}

// Idle reports whether no accumulation is in progress
func (r *Reassembler) Idle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffer) == 0
}

// Buffered returns the number of bytes held for the in-progress frame
func (r *Reassembler) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffer)
}

// Feed applies one chunk and returns the frames it completed, in order
func (r *Reassembler) Feed(chunk []byte) []*CompletedFrame {
	r.mu.Lock()
	defer r.mu.Unlock()

	var frames []*CompletedFrame
	r.feed(chunk, false, &frames)
	return frames
}

func (r *Reassembler) reset() {
	r.active = nil
	r.buffer = r.buffer[:0]
}

func (r *Reassembler) discard(reason DiscardReason, n int) {
	if r.onDiscard != nil && n > 0 {
		r.onDiscard(reason, n)
	}
}

func (r *Reassembler) candidates() []*FrameSchema {
	if r.armed != nil {
		return []*FrameSchema{r.armed}
	}
	return r.schemas
}

func (r *Reassembler) feed(chunk []byte, overflow bool, frames *[]*CompletedFrame) {
	if len(chunk) == 0 {
		return
	}

	// Noise is only recognised between frames; body bytes may look like it
	if len(r.buffer) == 0 {
		for _, s := range r.candidates() {
			if s.IsNoise(chunk) {
				r.discard(DiscardNoise, len(chunk))
				return
			}
		}
	}

	tentative := len(r.buffer) > 0 && r.active == nil
	r.buffer = append(r.buffer, chunk...)

	if r.active == nil {
		s, pending := r.matchHeader()
		switch {
		case s != nil:
			r.active = s
		case pending:
			return
		default:
			reason := DiscardUnmatched
			if tentative {
				reason = DiscardHeaderMismatch
			} else if overflow {
				reason = DiscardOverflow
			}
			r.discard(reason, len(r.buffer))
			r.reset()
			return
		}
	}

	want := r.active.ExpectedLength
	if len(r.buffer) < want {
		return
	}

	data := bytes.Clone(r.buffer[:want])
	rest := bytes.Clone(r.buffer[want:])
	frame := NewCompletedFrame(r.active, data)
	frame.Timestamp = r.now()
	*frames = append(*frames, frame)
	r.reset()

	if len(rest) > 0 {
		r.feed(rest, true, frames)
	}
}

// matchHeader resolves the buffer against the candidate response headers.
// It returns the first schema whose full header matches, or pending=true when
// the buffer is still a strict prefix of at least one header.
func (r *Reassembler) matchHeader() (s *FrameSchema, pending bool) {
	for _, c := range r.candidates() {
		if !c.MatchesResponse(r.buffer) {
			continue
		}
		if len(r.buffer) >= len(c.ResponseHeader) {
			return c, false
		}
		pending = true
	}
	return nil, pending
}
