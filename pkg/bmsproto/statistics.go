// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmsproto

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Statistics tracks frame statistics and error rates.
// It implements Observer so it can watch a Session directly.
type Statistics struct {
	mu sync.Mutex

	StartTime      time.Time
	LastUpdateTime time.Time

	// Frame counters
	TotalFrames      uint64
	ValidFrames      uint64
	ChecksumErrors   uint64
	DecodeErrors     uint64
	AnomalousSamples uint64
	CellVoltageOut   uint64
	CellImbalance    uint64
	TemperatureOut   uint64
	OtherAnomalies   uint64

	// Discarded chunks
	NoiseChunks     uint64
	UnmatchedChunks uint64
	HeaderMismatch  uint64
	OverflowChunks  uint64

	// Requests
	Requests        uint64
	Timeouts        uint64
	TransportErrors uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update updates statistics based on a frame and its errors
func (s *Statistics) Update(frame *CompletedFrame, decodeErr error, validationErrors []ValidationError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.update(decodeErr, validationErrors)
}

func (s *Statistics) update(decodeErr error, validationErrors []ValidationError) {
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		if errors.Is(decodeErr, ErrChecksum) {
			s.ChecksumErrors++
		} else {
			s.DecodeErrors++
		}
		return
	}

	if len(validationErrors) == 0 {
		s.ValidFrames++
		return
	}

	s.AnomalousSamples++
	for _, err := range validationErrors {
		switch err.Type {
		case AnomalyCellVoltage:
			s.CellVoltageOut++
		case AnomalyCellImbalance:
			s.CellImbalance++
		case AnomalyTemperature:
			s.TemperatureOut++
		default:
			s.OtherAnomalies++
		}
	}
}

// Analyze decodes and validates a frame, records the result and returns the
// sample with any anomalies. A checksum-valid frame of another type (such as
// device info) counts as valid and yields a nil sample and nil error.
func (s *Statistics) Analyze(frame *CompletedFrame) (*Sample, []ValidationError, error) {
	if frame.Valid && !frame.IsValidReply() {
		s.Update(frame, nil, nil)
		return nil, nil, nil
	}
	sample, err := Decode(frame)
	var anomalies []ValidationError
	if err == nil {
		anomalies = ValidateSample(sample)
	}
	s.Update(frame, err, anomalies)
	return sample, anomalies, err
}

// FrameCompleted implements Observer
func (s *Statistics) FrameCompleted(f *CompletedFrame) {
	s.Analyze(f)
}

// ChunkDiscarded implements Observer
func (s *Statistics) ChunkDiscarded(reason DiscardReason, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch reason {
	case DiscardNoise:
		s.NoiseChunks++
	case DiscardUnmatched:
		s.UnmatchedChunks++
	case DiscardHeaderMismatch:
		s.HeaderMismatch++
	case DiscardOverflow:
		s.OverflowChunks++
	}
}

// RequestFinished implements Observer
func (s *Statistics) RequestFinished(c Command, elapsed time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Requests++
	var te *TransportError
	switch {
	case errors.Is(err, ErrTimeout):
		s.Timeouts++
	case errors.As(err, &te):
		s.TransportErrors++
	}
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calculateRates()
}

func (s *Statistics) calculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		errorCount := s.ChecksumErrors + s.DecodeErrors + s.AnomalousSamples + s.Timeouts
		s.ErrorRate = float64(errorCount) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calculateRates()

	var validPercent, checksumPercent, decodePercent, anomalousPercent float64
	if s.TotalFrames > 0 {
		validPercent = float64(s.ValidFrames) * 100.0 / float64(s.TotalFrames)
		checksumPercent = float64(s.ChecksumErrors) * 100.0 / float64(s.TotalFrames)
		decodePercent = float64(s.DecodeErrors) * 100.0 / float64(s.TotalFrames)
		anomalousPercent = float64(s.AnomalousSamples) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, validPercent)

	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d (%.1f%%)\n", s.ChecksumErrors, checksumPercent)
	}
	if s.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d (%.1f%%)\n", s.DecodeErrors, decodePercent)
	}
	if s.AnomalousSamples > 0 {
		result += fmt.Sprintf("Anomalous:       %8d (%.1f%%)\n", s.AnomalousSamples, anomalousPercent)
		if s.CellVoltageOut > 0 {
			result += fmt.Sprintf("  Cell Voltage:     %5d\n", s.CellVoltageOut)
		}
		if s.CellImbalance > 0 {
			result += fmt.Sprintf("  Cell Imbalance:   %5d\n", s.CellImbalance)
		}
		if s.TemperatureOut > 0 {
			result += fmt.Sprintf("  Temperature:      %5d\n", s.TemperatureOut)
		}
		if s.OtherAnomalies > 0 {
			result += fmt.Sprintf("  Other:            %5d\n", s.OtherAnomalies)
		}
	}
	if discarded := s.NoiseChunks + s.UnmatchedChunks + s.HeaderMismatch + s.OverflowChunks; discarded > 0 {
		result += fmt.Sprintf("Discarded Chunks:%8d\n", discarded)
		if s.NoiseChunks > 0 {
			result += fmt.Sprintf("  Noise (AT):       %5d\n", s.NoiseChunks)
		}
		if s.UnmatchedChunks > 0 {
			result += fmt.Sprintf("  Unmatched:        %5d\n", s.UnmatchedChunks)
		}
		if s.HeaderMismatch > 0 {
			result += fmt.Sprintf("  Header Mismatch:  %5d\n", s.HeaderMismatch)
		}
		if s.OverflowChunks > 0 {
			result += fmt.Sprintf("  Overflow:         %5d\n", s.OverflowChunks)
		}
	}
	if s.Requests > 0 {
		result += fmt.Sprintf("Requests:        %8d (%d timeouts, %d transport errors)\n",
			s.Requests, s.Timeouts, s.TransportErrors)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.StartTime = now
	s.LastUpdateTime = now
	s.TotalFrames = 0
	s.ValidFrames = 0
	s.ChecksumErrors = 0
	s.DecodeErrors = 0
	s.AnomalousSamples = 0
	s.CellVoltageOut = 0
	s.CellImbalance = 0
	s.TemperatureOut = 0
	s.OtherAnomalies = 0
	s.NoiseChunks = 0
	s.UnmatchedChunks = 0
	s.HeaderMismatch = 0
	s.OverflowChunks = 0
	s.Requests = 0
	s.Timeouts = 0
	s.TransportErrors = 0
	s.FrameRate = 0
	s.ErrorRate = 0
}
