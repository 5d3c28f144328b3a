// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/voltstat/pkg/transport"
)

var (
	scanDuration time.Duration
	scanAll      bool
	scanSerial   bool
)

var scanCmd = &cobra.Command{
	Use:     "scan",
	Aliases: []string{"discovery"},
	Short:   "Discover nearby BLE battery and solar devices",
	Long: `Scan for BLE advertisements and list devices whose advertised name
contains one of the --name substrings (default BMS, MPPT, JK).

Use --all to list every advertisement regardless of name. Each address is
reported once. Use --serial to list local serial ports instead, for devices
reached through a BLE-UART bridge.

Examples:
  voltstat scan
  voltstat scan --name JK_ --duration 20s
  voltstat scan --serial

Exit codes:
  0 - At least one device found
  1 - No devices found
  2 - Adapter error`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().DurationVar(&scanDuration, "duration", 10*time.Second, "How long to scan")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "List every advertisement, ignoring --name")
	scanCmd.Flags().BoolVar(&scanSerial, "serial", false, "List serial ports instead of scanning BLE")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanSerial {
		return listSerialPorts()
	}

	filters := cfg.Transport.NameFilter
	if scanAll {
		filters = nil
	}

	fmt.Printf("Voltstat - BLE Scan\n")
	if len(filters) > 0 {
		fmt.Printf("Name filter: %v\n", filters)
	}
	fmt.Printf("Duration: %s\n\n", scanDuration)

	ctx, cancel := context.WithTimeout(cmd.Context(), scanDuration)
	defer cancel()

	found := 0
	err := transport.NewScanner(filters, logger).Scan(ctx, func(d transport.Device) bool {
		found++
		fmt.Println(d.String())
		return true
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Scan error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("\n--- Scan summary ---\n")
	fmt.Printf("Devices found: %d\n", found)
	if found == 0 {
		fmt.Printf("No devices discovered. Check device power and that nothing else is connected to it.\n")
		os.Exit(1)
	}
	return nil
}

func listSerialPorts() error {
	ports, err := transport.ListPorts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Voltstat - Serial Ports\n\n")
	for _, p := range ports {
		fmt.Println(p)
	}
	if len(ports) == 0 {
		fmt.Printf("No serial ports found.\n")
		os.Exit(1)
	}
	return nil
}
