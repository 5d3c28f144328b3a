// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmsproto

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Record is the CBOR form of a sample, as written by the record command.
// Integer map keys keep records compact.
type Record struct {
	Family    string             `cbor:"0,keyasint"`
	Timestamp int64              `cbor:"1,keyasint"` // unix milliseconds
	Values    map[string]float64 `cbor:"2,keyasint"`
	Cells     []float64          `cbor:"3,keyasint,omitempty"`
	Temps     []float64          `cbor:"4,keyasint,omitempty"`
	Frame     []byte             `cbor:"5,keyasint,omitempty"` // raw response frame
}

var recordEncMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bmsproto: cbor enc mode: %v", err))
	}
	return em
}

// NewRecord captures a sample and optionally the frame it came from
func NewRecord(s *Sample, frame []byte) Record {
	return Record{
		Family:    s.Family(),
		Timestamp: s.Timestamp().UnixMilli(),
		Values:    s.Values(),
		Cells:     s.CellVoltages(),
		Temps:     s.Temperatures(),
		Frame:     frame,
	}
}

// Sample rebuilds the sample stored in the record
func (r Record) Sample() *Sample {
	return NewSample(r.Family, time.UnixMilli(r.Timestamp), r.Values, r.Cells, r.Temps)
}

// MarshalRecord encodes a record using deterministic CBOR
func MarshalRecord(r Record) ([]byte, error) {
	data, err := recordEncMode.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return data, nil
}

// UnmarshalRecord decodes a single CBOR record
func UnmarshalRecord(data []byte) (Record, error) {
	var r Record
	if err := cbor.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("failed to decode record: %w", err)
	}
	return r, nil
}

// RecordWriter appends CBOR records to a stream
type RecordWriter struct {
	enc *cbor.Encoder
	n   int
}

// NewRecordWriter creates a writer emitting one CBOR item per record
func NewRecordWriter(w io.Writer) *RecordWriter {
	return &RecordWriter{enc: recordEncMode.NewEncoder(w)}
}

// Write appends one record
func (w *RecordWriter) Write(r Record) error {
	if err := w.enc.Encode(r); err != nil {
		return fmt.Errorf("failed to write record %d: %w", w.n, err)
	}
	w.n++
	return nil
}

// Count returns the number of records written
func (w *RecordWriter) Count() int {
	return w.n
}

// RecordReader reads a stream of CBOR records
type RecordReader struct {
	dec *cbor.Decoder
}

// NewRecordReader creates a reader over a record stream
func NewRecordReader(r io.Reader) *RecordReader {
	return &RecordReader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF at the end of the stream
func (r *RecordReader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("failed to read record: %w", err)
	}
	return rec, nil
}
