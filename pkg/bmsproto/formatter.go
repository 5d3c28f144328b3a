// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmsproto

import (
	"fmt"
	"strings"
	"time"
)

// FormatFrame formats a completed frame header line followed by a hex dump
func FormatFrame(f *CompletedFrame) string {
	timestamp := f.Timestamp.Format("15:04:05.000")
	status := "ok"
	if !f.Valid {
		status = "BAD"
	}

	result := fmt.Sprintf("[%s] %s len=%d checksum=%s", timestamp, f.Schema.Name, f.Len(), status)
	if t, ok := f.Type(); ok {
		result += fmt.Sprintf(" type=%s (0x%02X)", FormatFrameType(t), t)
	}
	result += "\n"
	result += FormatHexDump(f.Data)
	return result
}

// FormatFrameType returns the human-readable name for a JK frame type byte
func FormatFrameType(t byte) string {
	switch t {
	case FrameTypeSettings:
		return "SETTINGS"
	case FrameTypeCellInfo:
		return "CELL_INFO"
	case FrameTypeDeviceInfo:
		return "DEVICE_INFO"
	default:
		return "UNKNOWN"
	}
}

// FormatChunk formats one raw notification chunk for the raw log
func FormatChunk(ts time.Time, dir string, chunk []byte) string {
	return fmt.Sprintf("[%s] %s %3d bytes: % X\n", ts.Format("15:04:05.000"), dir, len(chunk), chunk)
}

// FormatHexDump renders data as offset-prefixed rows of 16 bytes
func FormatHexDump(data []byte) string {
	var b strings.Builder
	for off := 0; off < len(data); off += 16 {
		end := min(off+16, len(data))
		fmt.Fprintf(&b, "  %04X: % X\n", off, data[off:end])
	}
	return b.String()
}

// FormatSample formats every value of a sample, one per line
func FormatSample(s *Sample) string {
	result := fmt.Sprintf("[%s] %s\n", s.Timestamp().Format("15:04:05.000"), s.Family())
	for _, key := range s.Keys() {
		v, _ := s.Value(key)
		result += fmt.Sprintf("  %-24s %s\n", key+":", FormatValue(key, v))
	}
	if cells := s.CellVoltages(); len(cells) > 0 {
		parts := make([]string, len(cells))
		for i, v := range cells {
			parts[i] = fmt.Sprintf("%.3f", v)
		}
		result += fmt.Sprintf("  %-24s %s\n", "cells:", strings.Join(parts, " "))
	}
	return result
}

// FormatSampleLine formats the headline values of a sample on one line
func FormatSampleLine(s *Sample) string {
	parts := []string{s.Timestamp().Format("15:04:05.000"), s.Family()}
	for _, key := range []string{KeyVoltage, KeyCurrent, KeyPower, KeyBatteryLevel, KeyCellCount, KeyDeltaVoltage} {
		if v, ok := s.Value(key); ok {
			parts = append(parts, key+"="+FormatValue(key, v))
		}
	}
	return strings.Join(parts, " ")
}

// FormatValue formats a measurement with its unit
func FormatValue(key string, v float64) string {
	switch key {
	case KeyVoltage, KeyCellMin, KeyCellMax:
		return fmt.Sprintf("%.2f V", v)
	case KeyDeltaVoltage:
		return fmt.Sprintf("%.3f V", v)
	case KeyCurrent:
		return fmt.Sprintf("%.2f A", v)
	case KeyPower, KeyChargePower:
		return fmt.Sprintf("%.1f W", v)
	case KeyBatteryLevel:
		return fmt.Sprintf("%.0f%%", v)
	case KeyCycleCharge:
		return fmt.Sprintf("%.1f Ah", v)
	case KeyCycles, KeyCellCount:
		return fmt.Sprintf("%.0f", v)
	}
	if strings.HasPrefix(key, "temp") || strings.HasSuffix(key, "temperature") {
		return fmt.Sprintf("%.1f°C", v)
	}
	return fmt.Sprintf("%.3f", v)
}

// FormatDuration formats a duration as Nh Nm Ns
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
