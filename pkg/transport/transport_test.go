// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/voltstat/pkg/bmsproto"
)

func TestMatchName(t *testing.T) {
	tests := []struct {
		name    string
		filters []string
		want    bool
	}{
		{"JK_B2A24S20P", nil, true},
		{"", nil, true},
		{"JK_B2A24S20P", []string{"jk_"}, true},
		{"JK-BD6A20S10P", []string{"JK_", "jk-"}, true},
		{"BT-TH-1234", []string{"jk"}, false},
		{"", []string{"jk"}, false},
		{"anything", []string{""}, false},
	}
	for _, tt := range tests {
		if got := MatchName(tt.name, tt.filters); got != tt.want {
			t.Errorf("MatchName(%q, %v): expected %v, got %v", tt.name, tt.filters, tt.want, got)
		}
	}
}

func TestDeviceString(t *testing.T) {
	d := Device{Address: "C8:47:8C:00:11:22", RSSI: -67}
	assert.Contains(t, d.String(), "(unnamed)")
	assert.Contains(t, d.String(), "-67 dBm")
}

// loopback is an in-memory transport that echoes writes back as notifications
type loopback struct {
	mu     sync.Mutex
	fn     func([]byte)
	closed bool
}

func (l *loopback) Connect(context.Context) error { return nil }

func (l *loopback) Subscribe(fn func([]byte)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fn = fn
	return nil
}

func (l *loopback) Write(data []byte) error {
	l.mu.Lock()
	fn := l.fn
	l.mu.Unlock()
	fn(data)
	return nil
}

func (l *loopback) Close() error {
	l.closed = true
	return nil
}

func TestTap(t *testing.T) {
	inner := &loopback{}
	var dirs []string
	tap := NewTap(inner, func(dir string, data []byte) {
		dirs = append(dirs, dir+":"+string(data))
	})

	var got []byte
	require.NoError(t, tap.Connect(context.Background()))
	require.NoError(t, tap.Subscribe(func(chunk []byte) { got = append(got, chunk...) }))
	require.NoError(t, tap.Write([]byte("hi")))
	require.NoError(t, tap.Close())

	assert.Equal(t, []string{"TX:hi", "RX:hi"}, dirs)
	assert.Equal(t, "hi", string(got))
	assert.True(t, inner.closed)
	assert.Same(t, inner, tap.Unwrap())
}

func TestUnconnectedTransports(t *testing.T) {
	transports := []bmsproto.Transport{
		NewSerial("/dev/null-port", 115200, nil),
		NewWebSocket(WebSocketConfig{URL: "ws://localhost"}, nil),
		NewBLE(BLEConfig{}, nil),
	}
	for _, tr := range transports {
		assert.ErrorIs(t, tr.Write([]byte{1}), ErrNotConnected)
		assert.ErrorIs(t, tr.Subscribe(func([]byte) {}), ErrNotConnected)
		assert.NoError(t, tr.Close())
	}
}

func TestWebSocket_BadScheme(t *testing.T) {
	ws := NewWebSocket(WebSocketConfig{URL: "http://localhost:1"}, nil)
	err := ws.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported URL scheme")
}

// newEchoServer relays every binary message back split into two messages,
// preceded by a text message that must be ignored
func newEchoServer(t *testing.T, wantAuth string) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if wantAuth != "" && r.Header.Get("Authorization") != wantAuth {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt != websocket.BinaryMessage {
				continue
			}
			half := len(data) / 2
			_ = conn.WriteMessage(websocket.TextMessage, []byte("status"))
			_ = conn.WriteMessage(websocket.BinaryMessage, data[:half])
			_ = conn.WriteMessage(websocket.BinaryMessage, data[half:])
		}
	}))
}

func TestWebSocket_Echo(t *testing.T) {
	srv := newEchoServer(t, "Basic dXNlcjpwYXNz")
	defer srv.Close()

	ws := NewWebSocket(WebSocketConfig{
		URL:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		Username: "user",
		Password: "pass",
	}, nil)
	require.NoError(t, ws.Connect(context.Background()))

	chunks := make(chan []byte, 4)
	require.NoError(t, ws.Subscribe(func(c []byte) { chunks <- c }))
	require.NoError(t, ws.Write([]byte{0x01, 0x03, 0x26, 0x00}))

	var got [][]byte
	for len(got) < 2 {
		select {
		case c := <-chunks:
			got = append(got, c)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, got %d chunks", len(got))
		}
	}
	assert.Equal(t, []byte{0x01, 0x03}, got[0])
	assert.Equal(t, []byte{0x26, 0x00}, got[1])

	require.NoError(t, ws.Close())
	select {
	case <-ws.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after Close")
	}
	assert.ErrorIs(t, ws.Write([]byte{1}), ErrNotConnected)
}

func TestWebSocket_AuthRejected(t *testing.T) {
	srv := newEchoServer(t, "Basic dXNlcjpwYXNz")
	defer srv.Close()

	ws := NewWebSocket(WebSocketConfig{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}, nil)
	err := ws.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 401")
}

func TestWebSocket_SessionRoundTrip(t *testing.T) {
	// The echo server returns the request itself; an MPPT read request parsed
	// back as a command proves the chunk path end to end
	srv := newEchoServer(t, "")
	defer srv.Close()

	ws := NewWebSocket(WebSocketConfig{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}, nil)
	require.NoError(t, ws.Connect(context.Background()))

	var mu sync.Mutex
	var buf []byte
	require.NoError(t, ws.Subscribe(func(c []byte) {
		mu.Lock()
		buf = append(buf, c...)
		mu.Unlock()
	}))

	s := bmsproto.MPPT()
	data := bmsproto.MustEncodeCommand(s, s.DefaultCommand)
	require.NoError(t, ws.Write(data))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(buf) == len(data)
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	c, err := bmsproto.ParseCommand(s, buf)
	mu.Unlock()
	require.NoError(t, err)
	assert.Equal(t, "home_data", c.Name)
	require.NoError(t, ws.Close())
}
