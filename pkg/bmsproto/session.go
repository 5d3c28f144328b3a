// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmsproto

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds how long a request waits for its response frame
const DefaultTimeout = 5 * time.Second

// Transport is the byte pipe to one device. Subscribe delivers notification
// chunks in order on a goroutine owned by the transport.
type Transport interface {
	Connect(ctx context.Context) error
	Subscribe(fn func(chunk []byte)) error
	Write(data []byte) error
	Close() error
}

// Observer receives session events. Implementations must not block.
type Observer interface {
	FrameCompleted(f *CompletedFrame)
	ChunkDiscarded(reason DiscardReason, n int)
	RequestFinished(c Command, elapsed time.Duration, err error)
}

// SessionState is the state of the single outstanding request
type SessionState int

const (
	StateIdle SessionState = iota
	StateAwaitingFrame
	StateDecoded
	StateTimedOut
	StateChecksumInvalid
	StateClosed
)

// String returns the state name
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingFrame:
		return "awaiting_frame"
	case StateDecoded:
		return "decoded"
	case StateTimedOut:
		return "timed_out"
	case StateChecksumInvalid:
		return "checksum_invalid"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithTimeout sets the per-request response deadline
func WithTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithReuseFresh lets a request return an unconsumed valid-reply frame the
// device pushed on its own instead of issuing a new round trip
func WithReuseFresh(reuse bool) SessionOption {
	return func(s *Session) {
		s.reuseFresh = reuse
	}
}

// WithLogger sets the session logger
func WithLogger(log *zap.Logger) SessionOption {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// WithObserver adds an observer for frame, discard and request events
func WithObserver(o Observer) SessionOption {
	return func(s *Session) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// Session runs request/response cycles against one device.
// At most one request is outstanding at a time.
type Session struct {
	transport  Transport
	schema     *FrameSchema
	reasm      *Reassembler
	timeout    time.Duration
	reuseFresh bool
	log        *zap.Logger
	observers  []Observer

	mu         sync.Mutex
	state      SessionState
	waiter     chan *CompletedFrame // non-nil while awaiting
	lastFrame  *CompletedFrame      // most recent checksum-valid frame
	fresh      *CompletedFrame      // valid-reply frame not yet returned by a request
	lastSample *Sample
	done       chan struct{}
	closeOnce  sync.Once
}

// NewSession creates a session speaking the given schema over t
func NewSession(t Transport, schema *FrameSchema, opts ...SessionOption) *Session {
	s := &Session{
		transport: t,
		schema:    schema,
		reasm:     NewReassembler(schema),
		timeout:   DefaultTimeout,
		log:       zap.NewNop(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reasm.OnDiscard(s.chunkDiscarded)
	return s
}

// Schema returns the session's frame schema
func (s *Session) Schema() *FrameSchema {
	return s.schema
}

// Open connects the transport and subscribes the reassembler to its notifications
func (s *Session) Open(ctx context.Context) error {
	if err := s.transport.Connect(ctx); err != nil {
		return &TransportError{Op: "connect", Err: err}
	}
	if err := s.transport.Subscribe(s.HandleChunk); err != nil {
		return &TransportError{Op: "subscribe", Err: err}
	}
	s.log.Info("session open",
		zap.String("family", s.schema.Name),
		zap.Duration("timeout", s.timeout),
		zap.Bool("reuse_fresh", s.reuseFresh))
	return nil
}

// Close releases the transport. Pending requests fail with ErrSessionClosed.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.waiter = nil
		close(s.done)
		s.mu.Unlock()

		s.reasm.Reset()
		if cerr := s.transport.Close(); cerr != nil {
			err = &TransportError{Op: "close", Err: cerr}
		}
	})
	return err
}

// State returns the current session state
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastSample returns the most recently decoded sample, or nil
func (s *Session) LastSample() *Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSample
}

// LastFrame returns the most recent checksum-valid frame of any type, or nil
func (s *Session) LastFrame() *CompletedFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFrame
}

// HandleChunk feeds one notification chunk through the reassembler.
// Transports call it through Subscribe.
func (s *Session) HandleChunk(chunk []byte) {
	for _, f := range s.reasm.Feed(chunk) {
		s.frameCompleted(f)
	}
}

func (s *Session) frameCompleted(f *CompletedFrame) {
	t, _ := f.Type()
	s.log.Debug("frame completed",
		zap.String("family", f.Schema.Name),
		zap.Int("length", f.Len()),
		zap.Bool("valid", f.Valid),
		zap.Uint8("type", t))
	for _, o := range s.observers {
		o.FrameCompleted(f)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if f.Valid {
		s.lastFrame = f
		if f.IsValidReply() {
			s.fresh = f
		}
	}
	if s.waiter == nil {
		return
	}
	if f.Valid && !f.IsValidReply() {
		// e.g. a device-info frame while waiting for cell info
		return
	}
	s.waiter <- f
	s.waiter = nil
	if f.Valid {
		s.fresh = nil
	}
}

func (s *Session) chunkDiscarded(reason DiscardReason, n int) {
	s.log.Debug("chunk discarded", zap.Stringer("reason", reason), zap.Int("bytes", n))
	for _, o := range s.observers {
		o.ChunkDiscarded(reason, n)
	}
}

// Poll requests the family's default sample
func (s *Session) Poll(ctx context.Context) (*Sample, error) {
	return s.Request(ctx, s.schema.DefaultCommand)
}

// Request writes c and waits for the matching response frame.
// Issuing a request while another is outstanding fails with ErrRequestInFlight.
// No retries are performed.
func (s *Session) Request(ctx context.Context, c Command) (*Sample, error) {
	start := time.Now()
	sample, err := s.request(ctx, c)
	elapsed := time.Since(start)

	if err != nil {
		s.log.Info("request failed", zap.String("command", c.Name), zap.Duration("elapsed", elapsed), zap.Error(err))
	} else {
		s.log.Debug("request decoded", zap.String("command", c.Name), zap.Duration("elapsed", elapsed))
	}
	for _, o := range s.observers {
		o.RequestFinished(c, elapsed, err)
	}
	return sample, err
}

func (s *Session) request(ctx context.Context, c Command) (*Sample, error) {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return nil, ErrSessionClosed
	case StateAwaitingFrame:
		s.mu.Unlock()
		return nil, ErrRequestInFlight
	}

	if s.reuseFresh && s.fresh != nil {
		f := s.fresh
		s.fresh = nil
		s.mu.Unlock()
		return s.finish(f)
	}

	data, err := EncodeCommand(s.schema, c)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	s.reasm.Arm(s.schema)
	waiter := make(chan *CompletedFrame, 1)
	s.waiter = waiter
	s.state = StateAwaitingFrame
	s.mu.Unlock()

	if err := s.transport.Write(data); err != nil {
		s.abandon(waiter, StateIdle)
		return nil, &TransportError{Op: "write", Err: err}
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case f := <-waiter:
		return s.finish(f)
	case <-timer.C:
		s.abandon(waiter, StateTimedOut)
		return nil, fmt.Errorf("%s after %s: %w", c.Name, s.timeout, ErrTimeout)
	case <-ctx.Done():
		s.abandon(waiter, StateIdle)
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrSessionClosed
	}
}

// abandon drops the outstanding wait and any partially assembled frame.
// A valid reply delivered as the wait ended is kept as the fresh frame.
func (s *Session) abandon(waiter chan *CompletedFrame, state SessionState) {
	s.mu.Lock()
	if s.state != StateClosed {
		s.state = state
	}
	s.waiter = nil
	select {
	case f := <-waiter:
		if f.Valid && f.IsValidReply() {
			s.fresh = f
		}
	default:
	}
	s.mu.Unlock()
	s.reasm.Reset()
}

func (s *Session) finish(f *CompletedFrame) (*Sample, error) {
	if !f.Valid {
		s.setState(StateChecksumInvalid)
		return nil, fmt.Errorf("%s frame: %w", f.Schema.Name, ErrChecksum)
	}
	sample, err := Decode(f)
	if err != nil {
		s.setState(StateIdle)
		return nil, err
	}

	s.mu.Lock()
	if s.state != StateClosed {
		s.state = StateDecoded
	}
	s.lastSample = sample
	s.mu.Unlock()
	return sample, nil
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		s.state = state
	}
}

// Send writes c without waiting for a response, for setters the device does not answer
func (s *Session) Send(ctx context.Context, c Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return ErrSessionClosed
	case StateAwaitingFrame:
		s.mu.Unlock()
		return ErrRequestInFlight
	}
	s.mu.Unlock()

	data, err := EncodeCommand(s.schema, c)
	if err != nil {
		return err
	}
	if err := s.transport.Write(data); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	s.log.Debug("command sent", zap.String("command", c.Name), zap.Binary("bytes", data))
	return nil
}
