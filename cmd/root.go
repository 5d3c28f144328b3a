// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Thermoquad/voltstat/internal/config"
	"github.com/Thermoquad/voltstat/internal/logging"
)

var (
	configPath string

	// settings holds defaults, environment and bound flags
	settings = config.New()

	// Populated by PersistentPreRunE
	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "voltstat",
	Short: "BLE battery and solar controller protocol analyzer",
	Long: `Voltstat - A CLI tool for talking to BLE battery management systems and
solar charge controllers that speak a Modbus-RTU-style binary protocol.

Provides commands for discovery, raw notification logging, single-shot probes,
continuous monitoring with Prometheus export, sample recording, and error
detection.

Connection modes:
  BLE:       [--address C8:47:8C:00:11:22] [--name JK_]
  Serial:    --port /dev/ttyUSB0 [--baud 115200]   (BLE-UART bridge)
  WebSocket: --url ws://host/path [--username user] (BLE bridge)

Device families: jk02_32s (default), jk02_24s, mppt. Select with --family.

Settings may also come from a YAML file (--config, VOLTSTAT_CONFIG or
./voltstat.yaml) and VOLTSTAT_* environment variables, e.g.
VOLTSTAT_SESSION_FAMILY=mppt.

For WebSocket authentication, the password is read from the VOLTSTAT_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Config file (default ./voltstat.yaml)")

	// Transport selection
	pf.String("transport", "", "Transport kind: ble, serial or websocket (default inferred)")

	// BLE flags
	pf.StringP("address", "a", "", "BLE device address")
	pf.StringSliceP("name", "n", nil, "BLE advertised name substrings to match (default BMS,MPPT,JK)")
	pf.Duration("scan-timeout", 0, "BLE scan timeout (default 15s)")

	// Serial connection flags
	pf.StringP("port", "p", "", "Serial port device")
	pf.IntP("baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	pf.StringP("url", "u", "", "WebSocket URL (ws:// or wss://)")
	pf.String("username", "", "Username for HTTP Basic auth")
	pf.Bool("no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Session flags
	pf.StringP("family", "f", "", "Device family (jk02_32s, jk02_24s, mppt)")
	pf.Duration("timeout", 0, "Response timeout per request (default 5s)")
	pf.Bool("reuse-fresh", false, "Return a frame the device pushed unprompted instead of polling")
	pf.Duration("poll-interval", 0, "Interval between polls (default 5s)")

	// Logging flags
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.String("log-format", "", "Log format: console or json")
	pf.String("log-file", "", "Also write logs to a rotating file")

	bindFlags(settings, map[string]string{
		"transport.kind":          "transport",
		"transport.address":       "address",
		"transport.name_filter":   "name",
		"transport.scan_timeout":  "scan-timeout",
		"transport.port":          "port",
		"transport.baud":          "baud",
		"transport.url":           "url",
		"transport.username":      "username",
		"transport.no_ssl_verify": "no-ssl-verify",
		"session.family":          "family",
		"session.timeout":         "timeout",
		"session.reuse_fresh":     "reuse-fresh",
		"session.poll_interval":   "poll-interval",
		"logging.level":           "log-level",
		"logging.format":          "log-format",
		"logging.file.filename":   "log-file",
	})
}

// bindFlags binds persistent flags to config keys. A flag only overrides the
// file and environment when it is set on the command line.
func bindFlags(v *viper.Viper, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}

func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.Load(settings, configPath)
	if err != nil {
		return err
	}
	cfg = c

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = log.With(zap.String("cmd", cmd.Name()))
	return nil
}

// Execute runs the root command. Ctrl+C cancels the command's context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer func() { _ = logger.Sync() }()
	return rootCmd.ExecuteContext(ctx)
}
