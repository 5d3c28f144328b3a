// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport provides byte pipes to BMS and solar controller devices:
// direct BLE, BLE-UART serial bridges, and WebSocket bridges. Every transport
// satisfies bmsproto.Transport.
package transport

import (
	"bytes"
	"errors"
	"sync"

	"github.com/Thermoquad/voltstat/pkg/bmsproto"
)

// ErrNotConnected is returned when a transport is used before Connect
var ErrNotConnected = errors.New("transport not connected")

// ErrConnectionClosed is returned when reading from a closed connection
var ErrConnectionClosed = errors.New("connection closed")

var (
	_ bmsproto.Transport = (*BLETransport)(nil)
	_ bmsproto.Transport = (*SerialTransport)(nil)
	_ bmsproto.Transport = (*WebSocketTransport)(nil)
	_ bmsproto.Transport = (*Tap)(nil)
)

// link holds the subscriber callback and the read loop's terminal state
type link struct {
	mu     sync.Mutex
	notify func([]byte)
	done   chan struct{}
	err    error
	once   sync.Once
}

func newLink() *link {
	return &link{done: make(chan struct{})}
}

func (l *link) subscribe(fn func([]byte)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notify = fn
}

// deliver hands a private copy of chunk to the subscriber
func (l *link) deliver(chunk []byte) {
	l.mu.Lock()
	fn := l.notify
	l.mu.Unlock()
	if fn != nil && len(chunk) > 0 {
		fn(bytes.Clone(chunk))
	}
}

func (l *link) fail(err error) {
	l.once.Do(func() {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		close(l.done)
	})
}

// Done is closed when the connection's read side terminates
func (l *link) Done() <-chan struct{} {
	return l.done
}

// Err returns why the read side terminated, once Done is closed
func (l *link) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}
