// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmsproto

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when no qualifying frame arrives before the deadline
	ErrTimeout = errors.New("timed out waiting for frame")
	// ErrChecksum is returned when a frame completes but fails its integrity check
	ErrChecksum = errors.New("checksum mismatch")
	// ErrRequestInFlight is returned when a request is issued while another awaits its frame
	ErrRequestInFlight = errors.New("request already in flight")
	// ErrInvalidPayload is returned when a command payload exceeds the device limit
	ErrInvalidPayload = errors.New("invalid command payload")
	// ErrSessionClosed is returned when a closed session is used
	ErrSessionClosed = errors.New("session closed")
)

// TransportError wraps a failure reported by the transport
type TransportError struct {
	Op  string // connect, subscribe, write
	Err error
}

// Error implements the error interface
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying transport error
func (e *TransportError) Unwrap() error {
	return e.Err
}

// StructuralError reports a schema or payload that does not fit its frame.
// It indicates a configuration bug and should not be retried.
type StructuralError struct {
	Schema string
	What   string
	Offset int
	Width  int
	Length int
	Err    error
}

// Error implements the error interface
func (e *StructuralError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Schema, e.What, e.Err)
	}
	return fmt.Sprintf("%s: %s reads [%d:%d] beyond frame length %d",
		e.Schema, e.What, e.Offset, e.Offset+e.Width, e.Length)
}

// Unwrap returns the wrapped cause, if any
func (e *StructuralError) Unwrap() error {
	return e.Err
}

// IsStructural reports whether err is a StructuralError
func IsStructural(err error) bool {
	var se *StructuralError
	return errors.As(err, &se)
}
