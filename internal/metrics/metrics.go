// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exports session activity and the latest decoded sample
// to Prometheus
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Thermoquad/voltstat/pkg/bmsproto"
)

const namespace = "voltstat"

// NewRegistry creates a registry with the Go and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the HTTP handler for reg
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// SessionMetrics implements bmsproto.Observer and records sample values
type SessionMetrics struct {
	Frames          *prometheus.CounterVec   // labels: family, result=valid|checksum_invalid
	Discards        *prometheus.CounterVec   // labels: reason
	Requests        *prometheus.CounterVec   // labels: command, result
	RequestDuration *prometheus.HistogramVec // labels: command
	Value           *prometheus.GaugeVec     // labels: family, key
	CellVoltage     *prometheus.GaugeVec     // labels: family, cell
	LastSample      *prometheus.GaugeVec     // labels: family
}

var _ bmsproto.Observer = (*SessionMetrics)(nil)

// NewSessionMetrics registers and returns the session metrics
func NewSessionMetrics(reg prometheus.Registerer) *SessionMetrics {
	m := &SessionMetrics{
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Completed frames by checksum result.",
		}, []string{"family", "result"}),
		Discards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_discarded_total",
			Help:      "Notification chunks dropped by the reassembler.",
		}, []string{"reason"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests by command and outcome.",
		}, []string{"command", "result"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from command write to decoded response.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"command"}),
		Value: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sample_value",
			Help:      "Latest decoded sample value by key.",
		}, []string{"family", "key"}),
		CellVoltage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cell_voltage_volts",
			Help:      "Latest cell voltage by cell index.",
		}, []string{"family", "cell"}),
		LastSample: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_sample_timestamp_seconds",
			Help:      "Unix time of the latest decoded sample.",
		}, []string{"family"}),
	}
	reg.MustRegister(m.Frames, m.Discards, m.Requests, m.RequestDuration, m.Value, m.CellVoltage, m.LastSample)
	return m
}

// FrameCompleted counts a completed frame
func (m *SessionMetrics) FrameCompleted(f *bmsproto.CompletedFrame) {
	result := "valid"
	if !f.Valid {
		result = "checksum_invalid"
	}
	m.Frames.WithLabelValues(f.Schema.Name, result).Inc()
}

// ChunkDiscarded counts a dropped chunk
func (m *SessionMetrics) ChunkDiscarded(reason bmsproto.DiscardReason, n int) {
	m.Discards.WithLabelValues(reason.String()).Inc()
}

// RequestFinished counts a request and observes its latency when it succeeded
func (m *SessionMetrics) RequestFinished(c bmsproto.Command, elapsed time.Duration, err error) {
	m.Requests.WithLabelValues(c.Name, RequestResult(err)).Inc()
	if err == nil {
		m.RequestDuration.WithLabelValues(c.Name).Observe(elapsed.Seconds())
	}
}

// RequestResult classifies a request error for the result label
func RequestResult(err error) string {
	var te *bmsproto.TransportError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, bmsproto.ErrTimeout):
		return "timeout"
	case errors.Is(err, bmsproto.ErrChecksum):
		return "checksum"
	case errors.Is(err, bmsproto.ErrRequestInFlight):
		return "in_flight"
	case errors.As(err, &te):
		return "transport"
	case bmsproto.IsStructural(err):
		return "structural"
	default:
		return "error"
	}
}

// ObserveSample publishes every value and cell voltage of s
func (m *SessionMetrics) ObserveSample(s *bmsproto.Sample) {
	family := s.Family()
	for k, v := range s.Values() {
		m.Value.WithLabelValues(family, k).Set(v)
	}
	for i, v := range s.CellVoltages() {
		m.CellVoltage.WithLabelValues(family, strconv.Itoa(i+1)).Set(v)
	}
	m.LastSample.WithLabelValues(family).Set(float64(s.Timestamp().UnixMilli()) / 1000)
}

// Serve exposes reg on addr at path until ctx is done
func Serve(ctx context.Context, addr, path string, reg *prometheus.Registry, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(path, Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics listening", zap.String("addr", addr), zap.String("path", path))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
