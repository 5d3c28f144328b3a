// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"bytes"
	"context"

	"github.com/Thermoquad/voltstat/pkg/bmsproto"
)

// Direction of a tapped chunk
const (
	DirTX = "TX"
	DirRX = "RX"
)

// Tap wraps a transport and reports every chunk written and received
type Tap struct {
	inner bmsproto.Transport
	fn    func(dir string, data []byte)
}

// NewTap wraps inner. fn is called synchronously on the caller's goroutine for
// writes and on the transport's goroutine for notifications.
func NewTap(inner bmsproto.Transport, fn func(dir string, data []byte)) *Tap {
	return &Tap{inner: inner, fn: fn}
}

// Connect connects the wrapped transport
func (t *Tap) Connect(ctx context.Context) error {
	return t.inner.Connect(ctx)
}

// Subscribe reports each chunk before handing it to fn
func (t *Tap) Subscribe(fn func([]byte)) error {
	return t.inner.Subscribe(func(chunk []byte) {
		t.fn(DirRX, bytes.Clone(chunk))
		fn(chunk)
	})
}

// Write reports data then writes it
func (t *Tap) Write(data []byte) error {
	t.fn(DirTX, bytes.Clone(data))
	return t.inner.Write(data)
}

// Close closes the wrapped transport
func (t *Tap) Close() error {
	return t.inner.Close()
}

// Unwrap returns the wrapped transport
func (t *Tap) Unwrap() bmsproto.Transport {
	return t.inner
}
