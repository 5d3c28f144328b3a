// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmsproto

import (
	"fmt"
	"sort"
	"strings"
)

// Command is one logical outbound request. Payload holds at most
// MaxCommandPayload bytes.
type Command struct {
	Name    string
	Opcode  byte
	Payload []byte
}

// Named returns a copy of the command under a different name
func (c Command) Named(name string) Command {
	c.Name = name
	return c
}

// String returns a short description of the command
func (c Command) String() string {
	return fmt.Sprintf("%s(op=0x%02X payload=% X)", c.Name, c.Opcode, c.Payload)
}

// JK family

// NewCellInfoRequest creates the JK cell info read (0x96).
// The device replies with a frame of type FrameTypeCellInfo.
func NewCellInfoRequest() Command {
	return Command{Name: "cell_info", Opcode: OpCellInfo}
}

// NewDeviceInfoRequest creates the JK device info read (0x97)
func NewDeviceInfoRequest() Command {
	return Command{Name: "device_info", Opcode: OpDeviceInfo}
}

// Modbus family

// NewReadRegisters creates a read holding registers request (0x03)
func NewReadRegisters(reg, count uint16) Command {
	return Command{
		Name:    "read_registers",
		Opcode:  FuncReadHolding,
		Payload: []byte{byte(reg >> 8), byte(reg), byte(count >> 8), byte(count)},
	}
}

// NewWriteRegister creates a write single register request (0x06)
func NewWriteRegister(reg, value uint16) Command {
	return Command{
		Name:    "write_register",
		Opcode:  FuncWriteSingle,
		Payload: []byte{byte(reg >> 8), byte(reg), byte(value >> 8), byte(value)},
	}
}

// NewFactoryReset creates the controller's restore-defaults request (0x78)
func NewFactoryReset() Command {
	return Command{Name: "factory_reset", Opcode: FuncFactoryReset, Payload: []byte{0xFF, 0xFF, 0xFF, 0xFF}}
}

// NewClearHistory creates the controller's clear-history request (0x79)
func NewClearHistory() Command {
	return Command{Name: "clear_history", Opcode: FuncClearHistory, Payload: []byte{0xFF, 0xFF, 0xFF, 0xFF}}
}

// Solar controller registers
const (
	RegHomeData    = 0x0101
	RegSettings    = 0x0201
	RegTodayChart  = 0x0400
	RegModeSize    = 0x000B
	RegForcedCheck = 0x0120
	RegForcedLoad  = 0x0121
)

func paddedCatalogue() []Command {
	return []Command{
		NewCellInfoRequest(),
		NewDeviceInfoRequest(),
	}
}

func modbusCatalogue() []Command {
	return []Command{
		NewReadRegisters(RegHomeData, 0x0013).Named("home_data"),
		NewReadRegisters(RegTodayChart, 0x0005).Named("today_data"),
		NewReadRegisters(RegSettings, 0x0011).Named("settings"),
		NewReadRegisters(RegModeSize, 0x0001).Named("mode_size"),
		NewWriteRegister(RegForcedLoad, 0x01FF).Named("forced_check"),
		NewWriteRegister(RegForcedCheck, 0x0001).Named("forced_check_open"),
		NewWriteRegister(RegForcedCheck, 0x0000).Named("forced_check_close"),
		NewFactoryReset(),
		NewClearHistory(),
	}
}

// Catalogue returns the named commands understood by the schema's family
func Catalogue(s *FrameSchema) []Command {
	if s.CommandLayout == LayoutModbusRTU {
		return modbusCatalogue()
	}
	return paddedCatalogue()
}

// LookupCommand resolves a named command for the schema's family
func LookupCommand(s *FrameSchema, name string) (Command, error) {
	var names []string
	for _, c := range Catalogue(s) {
		if strings.EqualFold(c.Name, name) {
			return c, nil
		}
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return Command{}, fmt.Errorf("%s: unknown command %q (known: %s)", s.Name, name, strings.Join(names, ", "))
}
