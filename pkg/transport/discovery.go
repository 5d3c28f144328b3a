// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

// Default GATT identifiers used by JK BMS and the BLE MPPT controllers
const (
	DefaultServiceUUID        = "0000ffe0-0000-1000-8000-00805f9b34fb"
	DefaultCharacteristicUUID = "0000ffe1-0000-1000-8000-00805f9b34fb"
)

// Device is an advertisement seen during a scan
type Device struct {
	Name    string
	Address string
	RSSI    int16

	addr bluetooth.Address
}

func (d Device) String() string {
	name := d.Name
	if name == "" {
		name = "(unnamed)"
	}
	return fmt.Sprintf("%-24s %s  %4d dBm", name, d.Address, d.RSSI)
}

// MatchName reports whether name contains any filter, ignoring case.
// An empty filter list matches every name.
func MatchName(name string, filters []string) bool {
	if len(filters) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, f := range filters {
		if f == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(f)) {
			return true
		}
	}
	return false
}

var (
	enableOnce sync.Once
	enableErr  error
)

// enableAdapter powers on the default adapter once per process
func enableAdapter() (*bluetooth.Adapter, error) {
	adapter := bluetooth.DefaultAdapter
	enableOnce.Do(func() {
		enableErr = adapter.Enable()
	})
	if enableErr != nil {
		return nil, fmt.Errorf("enable BLE adapter: %w", enableErr)
	}
	return adapter, nil
}

// Scanner lists nearby devices whose advertised name matches its filters
type Scanner struct {
	Filters []string
	log     *zap.Logger
}

// NewScanner creates a scanner. No filters matches every advertisement.
func NewScanner(filters []string, log *zap.Logger) *Scanner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scanner{Filters: filters, log: log}
}

// Scan calls found for each matching advertisement until ctx is done or found
// returns false. Repeated advertisements from one address are reported once.
func (s *Scanner) Scan(ctx context.Context, found func(Device) bool) error {
	adapter, err := enableAdapter()
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	var mu sync.Mutex
	stopped := false
	stop := func() {
		mu.Lock()
		defer mu.Unlock()
		if !stopped {
			stopped = true
			_ = adapter.StopScan()
		}
	}

	scanDone := make(chan error, 1)
	go func() {
		scanDone <- adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
			addr := result.Address.String()
			name := result.LocalName()

			mu.Lock()
			dup := seen[addr]
			seen[addr] = true
			mu.Unlock()
			if dup || !MatchName(name, s.Filters) {
				return
			}

			s.log.Debug("device found", zap.String("name", name), zap.String("address", addr), zap.Int16("rssi", result.RSSI))
			if !found(Device{Name: name, Address: addr, RSSI: result.RSSI, addr: result.Address}) {
				stop()
			}
		})
	}()

	select {
	case err := <-scanDone:
		if err != nil {
			return fmt.Errorf("BLE scan: %w", err)
		}
		return nil
	case <-ctx.Done():
		stop()
		<-scanDone
		return nil
	}
}

// Find scans until a device matching address, or any filter when address is
// empty, is seen
func (s *Scanner) Find(ctx context.Context, address string) (Device, error) {
	var match Device
	ok := false
	err := s.Scan(ctx, func(d Device) bool {
		if address != "" && !strings.EqualFold(d.Address, address) {
			return true
		}
		match = d
		ok = true
		return false
	})
	if err != nil {
		return Device{}, err
	}
	if !ok {
		if address != "" {
			return Device{}, fmt.Errorf("device %s not found", address)
		}
		return Device{}, fmt.Errorf("no device matching %v found", s.Filters)
	}
	return match, nil
}
