// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmsproto

import (
	"bytes"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// randomPartition splits data into non-empty chunks of random size
func randomPartition(rng *rand.Rand, data []byte) [][]byte {
	var chunks [][]byte
	for len(data) > 0 {
		n := 1 + rng.Intn(min(len(data), 40))
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}

// randomFrame returns a checksum-valid frame for s with random body bytes
func randomFrame(rng *rand.Rand, s *FrameSchema) []byte {
	data := newFrame(s)
	for i := len(s.ResponseHeader); i < len(data); i++ {
		data[i] = byte(rng.Intn(256))
	}
	if s.TypeOffset >= 0 {
		data[s.TypeOffset] = s.ValidReply
	}
	return seal(s, data)
}

// ============================================================
// Reassembler Fuzz Tests
// ============================================================

// TestFuzzReassembler_PartitionIndependence verifies that any chunking of a
// frame yields the same completed frame as feeding it whole
func TestFuzzReassembler_PartitionIndependence(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	schemas := []*FrameSchema{testSchema20(), JK02_32S(), JK02_24S(), MPPT()}

	for i := 0; i < rounds; i++ {
		s := schemas[rng.Intn(len(schemas))]
		frame := randomFrame(rng, s)

		whole := NewReassembler(s).Feed(frame)
		if len(whole) != 1 {
			t.Fatalf("Round %d (%s): whole frame produced %d frames", i, s.Name, len(whole))
		}

		r := NewReassembler(s)
		var got []*CompletedFrame
		for _, chunk := range randomPartition(rng, frame) {
			got = append(got, r.Feed(chunk)...)
		}

		if len(got) != 1 {
			t.Fatalf("Round %d (%s): partition produced %d frames", i, s.Name, len(got))
		}
		if !bytes.Equal(got[0].Data, whole[0].Data) || got[0].Valid != whole[0].Valid {
			t.Fatalf("Round %d (%s): partitioned frame differs from whole frame", i, s.Name)
		}
	}
}

// TestFuzzReassembler_RandomBytes feeds random chunks and verifies every
// emitted frame has exactly the expected length
func TestFuzzReassembler_RandomBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	s := testSchema20()
	r := NewReassembler(s, MPPT())

	for i := 0; i < rounds; i++ {
		chunk := make([]byte, 1+rng.Intn(64))
		for j := range chunk {
			chunk[j] = byte(rng.Intn(256))
		}
		// Bias towards header starts so accumulation paths are exercised
		if rng.Intn(3) == 0 {
			copy(chunk, s.ResponseHeader)
		}

		for _, f := range r.Feed(chunk) {
			if f.Len() != f.Schema.ExpectedLength {
				t.Fatalf("Round %d: frame length %d, want %d", i, f.Len(), f.Schema.ExpectedLength)
			}
		}
		if r.Buffered() >= 43 {
			t.Fatalf("Round %d: buffer grew to %d bytes", i, r.Buffered())
		}
	}
}

// ============================================================
// Decoder / Encoder Fuzz Tests
// ============================================================

// TestFuzzDecode_ValidFrames verifies decoding never fails on any
// checksum-valid frame of a built-in family
func TestFuzzDecode_ValidFrames(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		for _, s := range Families() {
			sample, err := DecodeBytes(s, randomFrame(rng, s))
			if err != nil {
				t.Fatalf("Round %d (%s): %v", i, s.Name, err)
			}
			if sample.CellCount() > s.CellSlots {
				t.Fatalf("Round %d (%s): %d cells exceeds %d slots", i, s.Name, sample.CellCount(), s.CellSlots)
			}
		}
	}
}

// TestFuzzChecksum_ComputeValidate checks validate(x ++ compute(x)) for random x
func TestFuzzChecksum_ComputeValidate(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		x := make([]byte, rng.Intn(300))
		rng.Read(x)
		for _, kind := range []ChecksumKind{ChecksumSum8, ChecksumModbusCRC16} {
			frame := append(append([]byte(nil), x...), kind.Compute(x)...)
			if !kind.Validate(frame) {
				t.Fatalf("Round %d (%s): computed checksum failed validation", i, kind)
			}
		}
	}
}

// TestFuzzCommand_RoundTrip encodes random commands and parses them back
func TestFuzzCommand_RoundTrip(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)

	for i := 0; i < rounds; i++ {
		s := Families()[rng.Intn(3)]
		payload := make([]byte, rng.Intn(MaxCommandPayload+1))
		rng.Read(payload)
		c := Command{Opcode: byte(rng.Intn(256)), Payload: payload}

		data, err := EncodeCommand(s, c)
		if err != nil {
			t.Fatalf("Round %d: encode: %v", i, err)
		}
		got, err := ParseCommand(s, data)
		if err != nil {
			t.Fatalf("Round %d: parse: %v", i, err)
		}
		if got.Opcode != c.Opcode || !bytes.Equal(got.Payload, c.Payload) {
			t.Fatalf("Round %d: round trip mismatch: %v != %v", i, got, c)
		}
	}
}
