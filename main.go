// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Voltstat - BLE Battery and Solar Controller Protocol Analyzer
//
// A CLI tool for polling, decoding and monitoring battery management systems
// and solar charge controllers over BLE, serial and WebSocket bridges.

package main

import (
	"os"

	"github.com/Thermoquad/voltstat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
