// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketConfig describes a WebSocket BLE bridge endpoint
type WebSocketConfig struct {
	URL           string
	Username      string
	Password      string
	SkipSSLVerify bool
	DialTimeout   time.Duration
}

// WebSocketTransport talks to a device through a WebSocket bridge that relays
// BLE notifications as binary messages. One message is one chunk.
type WebSocketTransport struct {
	*link
	cfg WebSocketConfig
	log *zap.Logger

	mu   sync.Mutex // guards conn and serializes writes
	conn *websocket.Conn
}

// NewWebSocket creates a WebSocket transport
func NewWebSocket(cfg WebSocketConfig, log *zap.Logger) *WebSocketTransport {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 15 * time.Second
	}
	return &WebSocketTransport{link: newLink(), cfg: cfg, log: log}
}

// Connect dials the bridge with optional HTTP Basic auth
func (w *WebSocketTransport) Connect(ctx context.Context) error {
	u, err := url.Parse(w.cfg.URL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: w.cfg.SkipSSLVerify,
		}
	}

	headers := http.Header{}
	if w.cfg.Username != "" && w.cfg.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(w.cfg.Username + ":" + w.cfg.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	dialCtx, cancel := context.WithTimeout(ctx, w.cfg.DialTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(dialCtx, w.cfg.URL, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("WebSocket connection failed: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	w.log.Info("websocket connected", zap.String("url", w.cfg.URL))
	return nil
}

// Subscribe starts the read loop delivering binary messages to fn
func (w *WebSocketTransport) Subscribe(fn func([]byte)) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	w.subscribe(fn)
	go w.readLoop(conn)
	return nil
}

func (w *WebSocketTransport) readLoop(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			w.log.Debug("websocket read ended", zap.Error(err))
			w.fail(fmt.Errorf("websocket read: %w", err))
			return
		}
		// Text frames carry bridge status, not device bytes
		if messageType != websocket.BinaryMessage {
			continue
		}
		w.deliver(data)
	}
}

// Write sends data as one binary message
func (w *WebSocketTransport) Write(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return ErrNotConnected
	}
	if err := w.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Close sends a close frame and closes the connection
func (w *WebSocketTransport) Close() error {
	w.mu.Lock()
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()
	if conn == nil {
		return nil
	}

	w.fail(ErrConnectionClosed)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return conn.Close()
}

// String describes the connection
func (w *WebSocketTransport) String() string {
	return fmt.Sprintf("WebSocket: %s", w.cfg.URL)
}
