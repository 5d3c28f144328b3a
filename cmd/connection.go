// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/Thermoquad/voltstat/internal/config"
	"github.com/Thermoquad/voltstat/pkg/bmsproto"
	"github.com/Thermoquad/voltstat/pkg/transport"
)

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("VOLTSTAT_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// NewTransport builds the transport selected by the configuration. It does
// not connect.
func NewTransport(tc config.TransportConfig, log *zap.Logger) (bmsproto.Transport, string, error) {
	switch tc.ResolvedKind() {
	case config.KindWebSocket:
		if tc.URL == "" {
			return nil, "", fmt.Errorf("--url is required for the websocket transport")
		}
		password := ""
		if tc.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}
		t := transport.NewWebSocket(transport.WebSocketConfig{
			URL:           tc.URL,
			Username:      tc.Username,
			Password:      password,
			SkipSSLVerify: tc.NoSSLVerify,
		}, log)
		return t, t.String(), nil

	case config.KindSerial:
		if tc.Port == "" {
			return nil, "", fmt.Errorf("--port is required for the serial transport")
		}
		t := transport.NewSerial(tc.Port, tc.Baud, log)
		return t, t.String(), nil

	default:
		t := transport.NewBLE(transport.BLEConfig{
			Address:            tc.Address,
			NameFilter:         tc.NameFilter,
			ServiceUUID:        tc.ServiceUUID,
			CharacteristicUUID: tc.CharacteristicUUID,
			ScanTimeout:        tc.ScanTimeout,
		}, log)
		return t, t.String(), nil
	}
}

// sessionOptions carries per-command additions to a session
type sessionOptions struct {
	tap       func(dir string, data []byte)
	observers []bmsproto.Observer
}

// deviceConn is an open session plus the raw transport beneath it
type deviceConn struct {
	sess *bmsproto.Session
	raw  bmsproto.Transport
	info string
}

// Done is closed when the transport's read side ends. It is nil for
// transports that do not report this, which blocks forever in a select.
func (c *deviceConn) Done() <-chan struct{} {
	if d, ok := c.raw.(interface{ Done() <-chan struct{} }); ok {
		return d.Done()
	}
	return nil
}

// Close closes the session and its transport
func (c *deviceConn) Close() error {
	return c.sess.Close()
}

// OpenSession builds the configured transport and schema, then opens a session
func OpenSession(ctx context.Context, opts sessionOptions) (*deviceConn, error) {
	schema, err := cfg.Schema()
	if err != nil {
		return nil, err
	}

	raw, connInfo, err := NewTransport(cfg.Transport, logger)
	if err != nil {
		return nil, err
	}
	t := raw
	if opts.tap != nil {
		t = transport.NewTap(raw, opts.tap)
	}

	sessOpts := []bmsproto.SessionOption{
		bmsproto.WithTimeout(cfg.Session.Timeout),
		bmsproto.WithReuseFresh(cfg.Session.ReuseFresh),
		bmsproto.WithLogger(logger),
	}
	for _, o := range opts.observers {
		sessOpts = append(sessOpts, bmsproto.WithObserver(o))
	}

	sess := bmsproto.NewSession(t, schema, sessOpts...)
	if err := sess.Open(ctx); err != nil {
		_ = sess.Close()
		return nil, err
	}
	return &deviceConn{sess: sess, raw: raw, info: connInfo}, nil
}

// reconnect reopens a session with exponential backoff.
// Returns nil when ctx is done first.
func reconnect(ctx context.Context, opts sessionOptions, onRetry func(attempt int, err error)) *deviceConn {
	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		conn, err := OpenSession(ctx, opts)
		if err == nil {
			return conn
		}
		logger.Warn("reconnect failed", zap.Int("attempt", attempt), zap.Duration("backoff", backoff), zap.Error(err))
		if onRetry != nil {
			onRetry(attempt, err)
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
