// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bmsproto implements the binary protocol spoken by BLE battery
// management systems and solar charge controllers over a single
// notify/write characteristic.
//
// The package covers chunk reassembly, checksum validation, table-driven
// sample decoding, command encoding and a single-outstanding-request
// session on top of an abstract Transport.
package bmsproto

// BLE GATT identifiers used by the supported devices
const (
	ServiceUUID        = "0000ffe0-0000-1000-8000-00805f9b34fb"
	CharacteristicUUID = "0000ffe1-0000-1000-8000-00805f9b34fb"
)

// Command frame limits
const (
	MaxCommandPayload = 13 // Device-imposed payload slot size
)

// JK family opcodes
const (
	OpCellInfo   = 0x96
	OpDeviceInfo = 0x97
)

// JK frame type bytes (at TypeOffset)
const (
	FrameTypeSettings   = 0x01
	FrameTypeCellInfo   = 0x02
	FrameTypeDeviceInfo = 0x03
)

// Modbus function codes used by the solar controller family
const (
	FuncReadHolding   = 0x03
	FuncWriteSingle   = 0x06
	FuncWriteMultiple = 0x10
	FuncFactoryReset  = 0x78
	FuncClearHistory  = 0x79
)

// Measurement keys
const (
	KeyVoltage               = "voltage"
	KeyCurrent               = "current"
	KeyPower                 = "power"
	KeyBatteryLevel          = "battery_level"
	KeyCycleCharge           = "cycle_charge"
	KeyCycles                = "cycles"
	KeyTemperature           = "temperature"
	KeyDeltaVoltage          = "delta_voltage"
	KeyCellCount             = "cell_count"
	KeyCellMin               = "cell_min"
	KeyCellMax               = "cell_max"
	KeyChargePower           = "charge_power"
	KeyControllerTemperature = "controller_temperature"
	KeyBatteryTemperature    = "battery_temperature"
)

// Cell voltage conversion (raw millivolts)
const cellMillivolts = 1000.0
