// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/bluetooth"
)

// BLEConfig selects a device and the GATT characteristic carrying the protocol
type BLEConfig struct {
	Address            string
	NameFilter         []string
	ServiceUUID        string
	CharacteristicUUID string
	ScanTimeout        time.Duration
}

// BLETransport talks to a device directly over GATT. The same characteristic
// carries notifications and write-without-response commands.
type BLETransport struct {
	*link
	cfg BLEConfig
	log *zap.Logger

	mu     sync.Mutex
	device *bluetooth.Device
	char   *bluetooth.DeviceCharacteristic
	found  Device
}

// NewBLE creates a direct BLE transport
func NewBLE(cfg BLEConfig, log *zap.Logger) *BLETransport {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.ServiceUUID == "" {
		cfg.ServiceUUID = DefaultServiceUUID
	}
	if cfg.CharacteristicUUID == "" {
		cfg.CharacteristicUUID = DefaultCharacteristicUUID
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = 15 * time.Second
	}
	return &BLETransport{link: newLink(), cfg: cfg, log: log}
}

// Connect scans for the configured device, connects, and resolves the characteristic
func (b *BLETransport) Connect(ctx context.Context) error {
	serviceUUID, err := bluetooth.ParseUUID(b.cfg.ServiceUUID)
	if err != nil {
		return fmt.Errorf("invalid service UUID %q: %w", b.cfg.ServiceUUID, err)
	}
	charUUID, err := bluetooth.ParseUUID(b.cfg.CharacteristicUUID)
	if err != nil {
		return fmt.Errorf("invalid characteristic UUID %q: %w", b.cfg.CharacteristicUUID, err)
	}

	scanCtx, cancel := context.WithTimeout(ctx, b.cfg.ScanTimeout)
	defer cancel()

	found, err := NewScanner(b.cfg.NameFilter, b.log).Find(scanCtx, b.cfg.Address)
	if err != nil {
		return err
	}
	b.log.Info("connecting", zap.String("name", found.Name), zap.String("address", found.Address))

	adapter, err := enableAdapter()
	if err != nil {
		return err
	}
	device, err := adapter.Connect(found.addr, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("connect %s: %w", found.Address, err)
	}

	services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil || len(services) == 0 {
		_ = device.Disconnect()
		return fmt.Errorf("discover service %s: %w", b.cfg.ServiceUUID, orNotFound(err))
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{charUUID})
	if err != nil || len(chars) == 0 {
		_ = device.Disconnect()
		return fmt.Errorf("discover characteristic %s: %w", b.cfg.CharacteristicUUID, orNotFound(err))
	}

	b.mu.Lock()
	b.device = &device
	b.char = &chars[0]
	b.found = found
	b.mu.Unlock()
	return nil
}

func orNotFound(err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("not found")
}

// Subscribe enables notifications on the characteristic
func (b *BLETransport) Subscribe(fn func([]byte)) error {
	b.mu.Lock()
	char := b.char
	b.mu.Unlock()
	if char == nil {
		return ErrNotConnected
	}

	b.subscribe(fn)
	// The stack reuses its notification buffer; deliver copies it
	if err := char.EnableNotifications(b.deliver); err != nil {
		return fmt.Errorf("enable notifications: %w", err)
	}
	return nil
}

// Write sends data with write-without-response
func (b *BLETransport) Write(data []byte) error {
	b.mu.Lock()
	char := b.char
	b.mu.Unlock()
	if char == nil {
		return ErrNotConnected
	}
	if _, err := char.WriteWithoutResponse(data); err != nil {
		return fmt.Errorf("BLE write: %w", err)
	}
	return nil
}

// Close disconnects from the device
func (b *BLETransport) Close() error {
	b.mu.Lock()
	device := b.device
	b.device = nil
	b.char = nil
	b.mu.Unlock()
	if device == nil {
		return nil
	}
	b.fail(ErrConnectionClosed)
	return device.Disconnect()
}

// String describes the connection
func (b *BLETransport) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.found.Address != "" {
		return fmt.Sprintf("BLE: %s [%s]", b.found.Name, b.found.Address)
	}
	if b.cfg.Address != "" {
		return fmt.Sprintf("BLE: %s", b.cfg.Address)
	}
	return fmt.Sprintf("BLE: name matching %v", b.cfg.NameFilter)
}
