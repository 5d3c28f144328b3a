// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmsproto

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"
)

func TestFormatFrame(t *testing.T) {
	s := JK02_32S()
	f := NewCompletedFrame(s, seal(s, newFrame(s)))
	out := FormatFrame(f)

	for _, want := range []string{"jk02_32s", "len=300", "checksum=ok", "CELL_INFO", "0000: 01 03 00 0A 02"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	// 300 bytes in rows of 16
	if rows := strings.Count(out, "\n") - 1; rows != 19 {
		t.Errorf("expected 19 hex rows, got %d", rows)
	}
}

func TestFormatChunk(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 6_000_000, time.UTC)
	got := FormatChunk(ts, "RX", []byte{0x01, 0xAB})
	want := "[03:04:05.006] RX   2 bytes: 01 AB\n"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		key  string
		v    float64
		want string
	}{
		{KeyVoltage, 52.208, "52.21 V"},
		{KeyCurrent, -14.7, "-14.70 A"},
		{KeyBatteryLevel, 87, "87%"},
		{KeyCycles, 42, "42"},
		{"temp_mos", -5.5, "-5.5°C"},
		{KeyControllerTemperature, 25, "25.0°C"},
		{"unknown", 1.5, "1.500"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := FormatValue(tt.key, tt.v); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestFormatSample(t *testing.T) {
	s := NewSample("mppt", time.Now(), map[string]float64{KeyVoltage: 13.5, KeyCurrent: 5}, []float64{3.3, 3.31}, nil)
	out := FormatSample(s)
	for _, want := range []string{"mppt", "voltage:", "13.50 V", "cells:", "3.300 3.310"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if line := FormatSampleLine(s); !strings.Contains(line, "voltage=13.50 V") {
		t.Errorf("unexpected line %q", line)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := map[time.Duration]string{
		5 * time.Second:                  "5s",
		2*time.Minute + 3*time.Second:    "2m 3s",
		time.Hour + time.Minute + 1500e6: "1h 1m 2s",
	}
	for d, want := range tests {
		if got := FormatDuration(d); got != want {
			t.Errorf("FormatDuration(%v): expected %q, got %q", d, want, got)
		}
	}
}

func TestRecord_SampleRoundTrip(t *testing.T) {
	ts := time.UnixMilli(1_700_000_000_123)
	sample := NewSample("jk02_32s", ts,
		map[string]float64{KeyVoltage: 52.2, KeyCellCount: 2},
		[]float64{3.3, 3.301}, []float64{21.5})

	data, err := MarshalRecord(NewRecord(sample, []byte{0x01, 0x03}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	rec, err := UnmarshalRecord(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	got := rec.Sample()
	if got.Family() != "jk02_32s" || !got.Timestamp().Equal(ts) {
		t.Errorf("metadata mismatch: %s %v", got.Family(), got.Timestamp())
	}
	expectValue(t, got, KeyVoltage, 52.2)
	if got.CellCount() != 2 || len(got.Temperatures()) != 1 {
		t.Errorf("collections mismatch: %v %v", got.CellVoltages(), got.Temperatures())
	}
	if !bytes.Equal(rec.Frame, []byte{0x01, 0x03}) {
		t.Errorf("frame mismatch: % X", rec.Frame)
	}
}

func TestRecordStream(t *testing.T) {
	var buf bytes.Buffer
	w := NewRecordWriter(&buf)
	for i := 0; i < 3; i++ {
		s := NewSample("mppt", time.UnixMilli(int64(i)), map[string]float64{KeyVoltage: float64(i)}, nil, nil)
		if err := w.Write(NewRecord(s, nil)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if w.Count() != 3 {
		t.Errorf("expected 3 records, got %d", w.Count())
	}

	r := NewRecordReader(&buf)
	n := 0
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if rec.Values[KeyVoltage] != float64(n) {
			t.Errorf("record %d: unexpected voltage %v", n, rec.Values[KeyVoltage])
		}
		n++
	}
	if n != 3 {
		t.Errorf("expected 3 records back, got %d", n)
	}
}
