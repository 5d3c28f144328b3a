// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads voltstat settings from an optional YAML file,
// VOLTSTAT_ environment variables and bound command-line flags.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Thermoquad/voltstat/pkg/bmsproto"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "VOLTSTAT"

// TransportConfig selects and parameterizes the device link
type TransportConfig struct {
	Kind               string        `mapstructure:"kind"` // ble, serial, websocket or empty for auto
	Address            string        `mapstructure:"address"`
	NameFilter         []string      `mapstructure:"name_filter"`
	ServiceUUID        string        `mapstructure:"service_uuid"`
	CharacteristicUUID string        `mapstructure:"characteristic_uuid"`
	ScanTimeout        time.Duration `mapstructure:"scan_timeout"`
	Port               string        `mapstructure:"port"`
	Baud               int           `mapstructure:"baud"`
	URL                string        `mapstructure:"url"`
	Username           string        `mapstructure:"username"`
	NoSSLVerify        bool          `mapstructure:"no_ssl_verify"`
}

// Transport kinds
const (
	KindBLE       = "ble"
	KindSerial    = "serial"
	KindWebSocket = "websocket"
)

// ResolvedKind returns Kind, or when it is empty infers websocket from a URL,
// serial from a port, and BLE otherwise
func (t TransportConfig) ResolvedKind() string {
	switch {
	case t.Kind != "":
		return t.Kind
	case t.URL != "":
		return KindWebSocket
	case t.Port != "":
		return KindSerial
	default:
		return KindBLE
	}
}

// SessionConfig controls request/response behaviour
type SessionConfig struct {
	Family       string        `mapstructure:"family"`
	Timeout      time.Duration `mapstructure:"timeout"`
	ReuseFresh   bool          `mapstructure:"reuse_fresh"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// FileConfig configures lumberjack log rotation. An empty Filename disables file output.
type FileConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig controls the zap logger
type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"` // json or console
	File   FileConfig `mapstructure:"file"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
	Path string `mapstructure:"path"`
}

// FamilyOverride recalibrates a built-in schema for a firmware variant
type FamilyOverride struct {
	VariantOffset *int               `mapstructure:"variant_offset"`
	Scales        map[string]float64 `mapstructure:"scales"`
}

// Config is the top-level configuration
type Config struct {
	Transport TransportConfig           `mapstructure:"transport"`
	Session   SessionConfig             `mapstructure:"session"`
	Logging   LoggingConfig             `mapstructure:"logging"`
	Metrics   MetricsConfig             `mapstructure:"metrics"`
	Families  map[string]FamilyOverride `mapstructure:"families"`
}

// New returns a viper instance carrying defaults and environment binding.
// Commands bind their flags onto it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path, or VOLTSTAT_CONFIG, or ./voltstat.yaml when present, and
// unmarshals the merged configuration. A missing default file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path == "" {
		path = v.GetString("config")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("voltstat")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Every key gets a default so AutomaticEnv overrides reach Unmarshal
func setDefaults(v *viper.Viper) {
	v.SetDefault("transport.kind", "")
	v.SetDefault("transport.address", "")
	v.SetDefault("transport.port", "")
	v.SetDefault("transport.url", "")
	v.SetDefault("transport.username", "")
	v.SetDefault("transport.no_ssl_verify", false)
	v.SetDefault("transport.name_filter", []string{"BMS", "MPPT", "JK"})
	v.SetDefault("transport.service_uuid", "0000ffe0-0000-1000-8000-00805f9b34fb")
	v.SetDefault("transport.characteristic_uuid", "0000ffe1-0000-1000-8000-00805f9b34fb")
	v.SetDefault("transport.scan_timeout", "15s")
	v.SetDefault("transport.baud", 115200)

	v.SetDefault("session.family", "jk02_32s")
	v.SetDefault("session.timeout", bmsproto.DefaultTimeout)
	v.SetDefault("session.reuse_fresh", false)
	v.SetDefault("session.poll_interval", "5s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.max_size", 10)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age", 28)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.addr", "")
	v.SetDefault("metrics.path", "/metrics")
}

// Validate checks values that would otherwise fail late
func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case "", KindBLE, KindSerial, KindWebSocket:
	default:
		return fmt.Errorf("unknown transport kind %q (use ble, serial or websocket)", c.Transport.Kind)
	}
	if c.Transport.ResolvedKind() == KindSerial && c.Transport.Baud <= 0 {
		return fmt.Errorf("invalid baud rate %d", c.Transport.Baud)
	}
	if c.Session.Timeout <= 0 {
		return fmt.Errorf("session timeout must be positive, got %s", c.Session.Timeout)
	}
	if c.Session.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.Session.PollInterval)
	}
	if _, err := bmsproto.LookupFamily(c.Session.Family); err != nil {
		return err
	}
	for name := range c.Families {
		if _, err := bmsproto.LookupFamily(name); err != nil {
			return fmt.Errorf("families.%s: %w", name, err)
		}
	}
	return nil
}

// Schema returns the configured family's schema with any overrides applied
func (c *Config) Schema() (*bmsproto.FrameSchema, error) {
	s, err := bmsproto.LookupFamily(c.Session.Family)
	if err != nil {
		return nil, err
	}
	return c.ApplyOverrides(s)
}

// ApplyOverrides returns s recalibrated by families.<name>, or s itself when
// no override exists. The result is validated.
func (c *Config) ApplyOverrides(s *bmsproto.FrameSchema) (*bmsproto.FrameSchema, error) {
	var (
		o  FamilyOverride
		ok bool
	)
	// viper lowercases map keys
	for name, fo := range c.Families {
		if strings.EqualFold(name, s.Name) {
			o, ok = fo, true
			break
		}
	}
	if !ok {
		return s, nil
	}

	out := s
	if o.VariantOffset != nil {
		out = out.WithVariantOffset(*o.VariantOffset)
	}

	keys := make([]string, 0, len(o.Scales))
	for k := range o.Scales {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var err error
		out, err = out.WithScale(k, o.Scales[k])
		if err != nil {
			return nil, fmt.Errorf("families.%s.scales: %w", s.Name, err)
		}
	}

	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("families.%s: %w", s.Name, err)
	}
	return out, nil
}
