// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmsproto

import (
	"fmt"
	"math"
)

// AnomalyType represents different kinds of implausible sample values
type AnomalyType int

const (
	AnomalyCellVoltage AnomalyType = iota
	AnomalyCellImbalance
	AnomalyTemperature
	AnomalyBatteryLevel
	AnomalyCurrent
	AnomalyVoltage
	AnomalyChecksum
	AnomalyDecode
)

// String returns the anomaly name
func (a AnomalyType) String() string {
	switch a {
	case AnomalyCellVoltage:
		return "cell_voltage"
	case AnomalyCellImbalance:
		return "cell_imbalance"
	case AnomalyTemperature:
		return "temperature"
	case AnomalyBatteryLevel:
		return "battery_level"
	case AnomalyCurrent:
		return "current"
	case AnomalyVoltage:
		return "voltage"
	case AnomalyChecksum:
		return "checksum"
	case AnomalyDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Plausibility limits
const (
	MinCellVoltage   = 1.0  // V
	MaxCellVoltage   = 5.0  // V
	MaxCellImbalance = 0.5  // V
	MinTemperature   = -40  // °C
	MaxTemperature   = 120  // °C
	MaxBatteryLevel  = 100  // %
	MaxAbsCurrent    = 1000 // A
)

// ValidationError represents a sample value outside its plausible range
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateSample checks decoded values against plausibility limits.
// Returns a slice of validation errors (empty if the sample looks sane).
func ValidateSample(s *Sample) []ValidationError {
	errors := []ValidationError{}
	if s == nil {
		return errors
	}

	for i, v := range s.cells {
		if v < MinCellVoltage || v > MaxCellVoltage {
			errors = append(errors, ValidationError{
				Type:    AnomalyCellVoltage,
				Message: fmt.Sprintf("Cell %d voltage out of range (%.3f V, valid: %.1f-%.1f V)", i+1, v, MinCellVoltage, MaxCellVoltage),
				Details: map[string]interface{}{"cell": i + 1, "value": v, "min": MinCellVoltage, "max": MaxCellVoltage},
			})
		}
	}

	if lo, ok := s.Value(KeyCellMin); ok {
		hi, _ := s.Value(KeyCellMax)
		if hi-lo > MaxCellImbalance {
			errors = append(errors, ValidationError{
				Type:    AnomalyCellImbalance,
				Message: fmt.Sprintf("Cell imbalance %.3f V (max %.1f V)", hi-lo, MaxCellImbalance),
				Details: map[string]interface{}{"min": lo, "max": hi, "limit": MaxCellImbalance},
			})
		}
	}

	for i, t := range s.temps {
		if t < MinTemperature || t > MaxTemperature {
			errors = append(errors, ValidationError{
				Type:    AnomalyTemperature,
				Message: fmt.Sprintf("Temperature sensor %d out of range (%.1f°C, valid: %d to %d°C)", i+1, t, MinTemperature, MaxTemperature),
				Details: map[string]interface{}{"sensor": i + 1, "value": t, "min": MinTemperature, "max": MaxTemperature},
			})
		}
	}

	if level, ok := s.Value(KeyBatteryLevel); ok && (level < 0 || level > MaxBatteryLevel) {
		errors = append(errors, ValidationError{
			Type:    AnomalyBatteryLevel,
			Message: fmt.Sprintf("Battery level %.0f%% out of range", level),
			Details: map[string]interface{}{"value": level, "max": MaxBatteryLevel},
		})
	}

	if current, ok := s.Value(KeyCurrent); ok && math.Abs(current) > MaxAbsCurrent {
		errors = append(errors, ValidationError{
			Type:    AnomalyCurrent,
			Message: fmt.Sprintf("Current %.2f A exceeds ±%d A", current, MaxAbsCurrent),
			Details: map[string]interface{}{"value": current, "max": MaxAbsCurrent},
		})
	}

	if voltage, ok := s.Value(KeyVoltage); ok && voltage < 0 {
		errors = append(errors, ValidationError{
			Type:    AnomalyVoltage,
			Message: fmt.Sprintf("Negative pack voltage (%.2f V)", voltage),
			Details: map[string]interface{}{"value": voltage},
		})
	}

	return errors
}
