// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/voltstat/pkg/bmsproto"
)

// fakeController answers every write with a home data frame
type fakeController struct {
	mu     sync.Mutex
	notify func([]byte)
	frame  []byte
	writes int
}

func (f *fakeController) Connect(context.Context) error { return nil }

func (f *fakeController) Subscribe(fn func([]byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notify = fn
	return nil
}

func (f *fakeController) Write(data []byte) error {
	f.mu.Lock()
	f.writes++
	notify, frame := f.notify, f.frame
	f.mu.Unlock()

	// Deliver in BLE-sized chunks
	for len(frame) > 0 {
		n := min(20, len(frame))
		notify(frame[:n])
		frame = frame[n:]
	}
	return nil
}

func (f *fakeController) Close() error { return nil }

// homeDataFrame builds a checksum-valid MPPT reply: 13.2 V, 2.5 A, 33 W
func homeDataFrame() []byte {
	s := bmsproto.MPPT()
	data := make([]byte, s.ExpectedLength)
	copy(data, s.ResponseHeader)
	data[3], data[4] = 0x00, 0x84 // 132 * 0.1 V
	data[5], data[6] = 0x00, 0xFA // 250 * 0.01 A
	data[9], data[10] = 0x00, 0x21
	data[11], data[12] = 25, 22
	n := len(data) - s.Checksum.Size()
	copy(data[n:], s.Checksum.Compute(data[:n]))
	return data
}

func openTestSession(t *testing.T, dev *fakeController) *bmsproto.Session {
	t.Helper()
	sess := bmsproto.NewSession(dev, bmsproto.MPPT(), bmsproto.WithTimeout(time.Second))
	require.NoError(t, sess.Open(context.Background()))
	t.Cleanup(func() { sess.Close() })
	return sess
}

func TestPoller_Run(t *testing.T) {
	dev := &fakeController{frame: homeDataFrame()}
	sess := openTestSession(t, dev)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var samples []*bmsproto.Sample
	err := newPoller(sess, 10*time.Millisecond).Run(ctx, func(s *bmsproto.Sample, err error) {
		require.NoError(t, err)
		samples = append(samples, s)
		if len(samples) == 3 {
			cancel()
		}
	})

	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, samples, 3)
	v, ok := samples[0].Value(bmsproto.KeyVoltage)
	require.True(t, ok)
	assert.InDelta(t, 13.2, v, 1e-9)
	assert.Equal(t, 3, dev.writes)
}

func TestPoller_StopsWhenSessionCloses(t *testing.T) {
	dev := &fakeController{frame: homeDataFrame()}
	sess := openTestSession(t, dev)

	calls := 0
	err := newPoller(sess, time.Millisecond).Run(context.Background(), func(*bmsproto.Sample, error) {
		calls++
		sess.Close()
	})

	assert.ErrorIs(t, err, bmsproto.ErrSessionClosed)
	assert.Equal(t, 1, calls)
}

func TestProbeExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"timeout", fmt.Errorf("home_data after 5s: %w", bmsproto.ErrTimeout), 1},
		{"interrupted", context.Canceled, 1},
		{"transport", &bmsproto.TransportError{Op: "write", Err: errors.New("link down")}, 2},
		{"session closed", bmsproto.ErrSessionClosed, 2},
		{"checksum", fmt.Errorf("mppt frame: %w", bmsproto.ErrChecksum), 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, probeExitCode(tt.err))
		})
	}
}

func TestBuildCommand(t *testing.T) {
	schema := bmsproto.MPPT()

	c, err := buildCommand(schema, []string{"home_data"}, "", "")
	require.NoError(t, err)
	assert.Equal(t, schema.DefaultCommand.Opcode, c.Opcode)

	c, err = buildCommand(schema, nil, "0x06", "01 20 00 01")
	require.NoError(t, err)
	assert.Equal(t, "raw", c.Name)
	assert.Equal(t, byte(0x06), c.Opcode)
	assert.Equal(t, []byte{0x01, 0x20, 0x00, 0x01}, c.Payload)

	invalid := []struct {
		name    string
		args    []string
		opcode  string
		payload string
	}{
		{"name and opcode", []string{"home_data"}, "0x03", ""},
		{"nothing", nil, "", ""},
		{"opcode too large", nil, "0x100", ""},
		{"bad payload", nil, "0x03", "zz"},
		{"unknown name", []string{"launch"}, "", ""},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildCommand(schema, tt.args, tt.opcode, tt.payload)
			assert.Error(t, err)
		})
	}
}

func TestParseChunkLine(t *testing.T) {
	ts := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	got, err := parseChunkLine("01 03 26")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x03, 0x26}, got)

	got, err = parseChunkLine(bmsproto.FormatChunk(ts, "RX", []byte{0xAA, 0x55}))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0x55}, got)

	got, err = parseChunkLine(bmsproto.FormatChunk(ts, "TX", []byte{0x01, 0x03}))
	require.NoError(t, err)
	assert.Nil(t, got, "written commands are skipped")

	got, err = parseChunkLine("# capture from 2025-01-01")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = parseChunkLine("01 0")
	assert.Error(t, err)
}

func TestDecodeChunks(t *testing.T) {
	frame := homeDataFrame()
	chunks := [][]byte{{0xFF, 0xFF}, frame[:20], frame[20:40], frame[40:]}

	var out bytes.Buffer
	frames, failures := decodeChunks(&out, bmsproto.MPPT(), chunks)

	assert.Equal(t, 1, frames)
	assert.Equal(t, 0, failures)
	assert.Contains(t, out.String(), "discarded 2 bytes")
	assert.Contains(t, out.String(), "13.20 V")
}

func TestWriteSchemas(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writeSchemas(&out, []*bmsproto.FrameSchema{bmsproto.JK02_24S()}))

	var doc schemaDoc
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &doc))
	assert.Equal(t, "jk02_24s", doc.Name)
	assert.Equal(t, 300, doc.ExpectedLength)
	assert.Equal(t, -32, doc.VariantOffset)
	assert.Equal(t, bmsproto.ChecksumSum8.String(), doc.Checksum)
	require.NotNil(t, doc.Cells)
	assert.Equal(t, 24, doc.Cells.Slots)
	require.NotNil(t, doc.TypeOffset)
	assert.Equal(t, 4, *doc.TypeOffset)

	for _, f := range doc.Fields {
		if f.Key == bmsproto.KeyVoltage {
			assert.Equal(t, 150-32, f.Offset)
		}
	}
	assert.NotEmpty(t, doc.Commands)
}

func TestSampleRows(t *testing.T) {
	s := bmsproto.NewSample("jk02_32s", time.Now(),
		map[string]float64{bmsproto.KeyVoltage: 53.2, bmsproto.KeyBatteryLevel: 80},
		[]float64{3.301, 3.305}, nil)

	rows := sampleRows(s)
	require.Len(t, rows, 4)
	assert.Equal(t, "cell 2", rows[3][0])
	assert.Equal(t, "3.305 V", rows[3][1])
}

func TestErrorDetectionModel_Frame(t *testing.T) {
	m := initialModel("test", "mppt", 10, false)
	frame := bmsproto.NewCompletedFrame(bmsproto.MPPT(), homeDataFrame())

	updated, _ := m.Update(discardMsg{reason: bmsproto.DiscardUnmatched, n: 7})
	updated, _ = updated.(model).Update(frameMsg{frame: frame})
	got := updated.(model)

	assert.True(t, got.synchronized)
	assert.Equal(t, 7, got.discardedBeforeSync)
	assert.Equal(t, uint64(1), got.stats.TotalFrames)
	assert.Equal(t, uint64(1), got.stats.UnmatchedChunks)
	require.NotNil(t, got.lastSample)
	assert.Contains(t, got.View(), "Synchronized")
}
