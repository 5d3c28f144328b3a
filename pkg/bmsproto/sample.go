// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmsproto

import (
	"maps"
	"slices"
	"time"
)

// Sample is one decoded measurement record. It is immutable once built.
type Sample struct {
	family    string
	timestamp time.Time
	values    map[string]float64
	cells     []float64
	temps     []float64
}

// NewSample builds a sample from already-decoded values
func NewSample(family string, ts time.Time, values map[string]float64, cells, temps []float64) *Sample {
	return &Sample{
		family:    family,
		timestamp: ts,
		values:    maps.Clone(values),
		cells:     slices.Clone(cells),
		temps:     slices.Clone(temps),
	}
}

// Family returns the schema name the sample was decoded with
func (s *Sample) Family() string {
	return s.family
}

// Timestamp returns when the source frame completed
func (s *Sample) Timestamp() time.Time {
	return s.timestamp
}

// Value returns the measurement for key
func (s *Sample) Value(key string) (float64, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Keys returns the measurement keys in sorted order
func (s *Sample) Keys() []string {
	return slices.Sorted(maps.Keys(s.values))
}

// Values returns a copy of every scalar measurement
func (s *Sample) Values() map[string]float64 {
	return maps.Clone(s.values)
}

// CellVoltages returns per-cell voltages in slot order
func (s *Sample) CellVoltages() []float64 {
	return slices.Clone(s.cells)
}

// Temperatures returns temperature sensor readings in schema order
func (s *Sample) Temperatures() []float64 {
	return slices.Clone(s.temps)
}

// CellCount returns the number of populated cells
func (s *Sample) CellCount() int {
	return len(s.cells)
}
