// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/voltstat/pkg/bmsproto"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voltstat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Empty(t, cfg.Transport.Kind)
	assert.Equal(t, KindBLE, cfg.Transport.ResolvedKind())
	assert.Equal(t, []string{"BMS", "MPPT", "JK"}, cfg.Transport.NameFilter)
	assert.Equal(t, 115200, cfg.Transport.Baud)
	assert.Equal(t, 15*time.Second, cfg.Transport.ScanTimeout)
	assert.Equal(t, "jk02_32s", cfg.Session.Family)
	assert.Equal(t, bmsproto.DefaultTimeout, cfg.Session.Timeout)
	assert.False(t, cfg.Session.ReuseFresh)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
transport:
  kind: websocket
  url: ws://bridge.local/ble
session:
  family: mppt
  timeout: 2s
  reuse_fresh: true
logging:
  level: debug
  format: json
metrics:
  addr: ":9100"
`)
	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "websocket", cfg.Transport.Kind)
	assert.Equal(t, "ws://bridge.local/ble", cfg.Transport.URL)
	assert.Equal(t, "mppt", cfg.Session.Family)
	assert.Equal(t, 2*time.Second, cfg.Session.Timeout)
	assert.True(t, cfg.Session.ReuseFresh)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("VOLTSTAT_SESSION_FAMILY", "jk02_24s")
	t.Setenv("VOLTSTAT_TRANSPORT_KIND", "serial")

	cfg, err := Load(New(), "")
	require.NoError(t, err)
	assert.Equal(t, "jk02_24s", cfg.Session.Family)
	assert.Equal(t, "serial", cfg.Transport.Kind)
}

func TestResolvedKind(t *testing.T) {
	tests := []struct {
		cfg  TransportConfig
		want string
	}{
		{TransportConfig{}, KindBLE},
		{TransportConfig{URL: "ws://x"}, KindWebSocket},
		{TransportConfig{Port: "/dev/ttyUSB0"}, KindSerial},
		{TransportConfig{Kind: KindBLE, URL: "ws://x"}, KindBLE},
		{TransportConfig{URL: "ws://x", Port: "/dev/ttyUSB0"}, KindWebSocket},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.cfg.ResolvedKind(), "%+v", tt.cfg)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"transport kind": "transport:\n  kind: usb\n",
		"family":         "session:\n  family: nope\n",
		"timeout":        "session:\n  timeout: 0s\n",
		"override":       "families:\n  nope:\n    variant_offset: 2\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(New(), writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestApplyOverrides(t *testing.T) {
	path := writeConfig(t, `
families:
  jk02_32s:
    variant_offset: -32
    scales:
      voltage: 0.01
`)
	cfg, err := Load(New(), path)
	require.NoError(t, err)

	base := bmsproto.JK02_32S()
	s, err := cfg.ApplyOverrides(base)
	require.NoError(t, err)

	assert.NotSame(t, base, s)
	assert.Equal(t, -32, s.VariantOffset)
	assert.Equal(t, 0, base.VariantOffset, "base schema must be untouched")

	var scale float64
	for _, f := range s.Fields {
		if f.Key == bmsproto.KeyVoltage {
			scale = f.Scale
		}
	}
	assert.InDelta(t, 0.01, scale, 1e-12)

	// Other families pass through unchanged
	m := bmsproto.MPPT()
	same, err := cfg.ApplyOverrides(m)
	require.NoError(t, err)
	assert.Same(t, m, same)
}

func TestApplyOverrides_UnknownField(t *testing.T) {
	cfg := &Config{Families: map[string]FamilyOverride{
		"mppt": {Scales: map[string]float64{"no_such_field": 2}},
	}}
	_, err := cfg.ApplyOverrides(bmsproto.MPPT())
	assert.Error(t, err)
}

func TestConfig_Schema(t *testing.T) {
	cfg := &Config{Session: SessionConfig{Family: "MPPT"}}
	s, err := cfg.Schema()
	require.NoError(t, err)
	assert.Equal(t, "mppt", s.Name)
}
