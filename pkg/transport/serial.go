// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"fmt"
	"sync"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

// SerialTransport talks to a device through a BLE-UART bridge on a serial port.
// Each successful read is delivered as one chunk.
type SerialTransport struct {
	*link
	portName string
	baudRate int
	log      *zap.Logger

	mu   sync.Mutex
	port serial.Port
}

// NewSerial creates a serial transport for portName at baudRate
func NewSerial(portName string, baudRate int, log *zap.Logger) *SerialTransport {
	if log == nil {
		log = zap.NewNop()
	}
	return &SerialTransport{
		link:     newLink(),
		portName: portName,
		baudRate: baudRate,
		log:      log,
	}
}

// Connect opens the serial port
func (s *SerialTransport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mode := &serial.Mode{
		BaudRate: s.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(s.portName, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", s.portName, err)
	}

	s.mu.Lock()
	s.port = port
	s.mu.Unlock()
	s.log.Info("serial port open", zap.String("port", s.portName), zap.Int("baud", s.baudRate))
	return nil
}

// Subscribe starts the read loop delivering chunks to fn
func (s *SerialTransport) Subscribe(fn func([]byte)) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return ErrNotConnected
	}

	s.subscribe(fn)
	go s.readLoop(port)
	return nil
}

func (s *SerialTransport) readLoop(port serial.Port) {
	buf := make([]byte, 256)
	for {
		n, err := port.Read(buf)
		if err != nil {
			s.log.Debug("serial read ended", zap.Error(err))
			s.fail(fmt.Errorf("serial read: %w", err))
			return
		}
		if n == 0 {
			// Read timeout or port closed
			continue
		}
		s.deliver(buf[:n])
	}
}

// Write sends data to the bridge
func (s *SerialTransport) Write(data []byte) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return ErrNotConnected
	}
	if _, err := port.Write(data); err != nil {
		return fmt.Errorf("serial write: %w", err)
	}
	return nil
}

// Close closes the serial port
func (s *SerialTransport) Close() error {
	s.mu.Lock()
	port := s.port
	s.port = nil
	s.mu.Unlock()
	if port == nil {
		return nil
	}
	s.fail(ErrConnectionClosed)
	return port.Close()
}

// String describes the connection
func (s *SerialTransport) String() string {
	return fmt.Sprintf("Serial: %s @ %d baud", s.portName, s.baudRate)
}

// ListPorts returns the serial ports present on the system
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}
