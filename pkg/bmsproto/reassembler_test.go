// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bmsproto

import (
	"bytes"
	"testing"
)

func TestReassembler_ThreeChunkScenario(t *testing.T) {
	s := testSchema20()
	r := NewReassembler(s)
	frame := frame20(0x10)

	if frames := r.Feed(frame[:2]); len(frames) != 0 {
		t.Fatalf("header prefix should not complete a frame, got %d", len(frames))
	}
	if r.Idle() {
		t.Fatal("header prefix should start a tentative accumulation")
	}
	if frames := r.Feed(frame[2:18]); len(frames) != 0 {
		t.Fatalf("18 bytes should not complete a 20-byte frame, got %d", len(frames))
	}
	if r.Buffered() != 18 {
		t.Fatalf("expected 18 buffered bytes, got %d", r.Buffered())
	}

	frames := r.Feed(frame[18:])
	if len(frames) != 1 {
		t.Fatalf("expected exactly 1 frame, got %d", len(frames))
	}
	if !bytes.Equal(frames[0].Data, frame) {
		t.Errorf("frame bytes mismatch:\n got % X\nwant % X", frames[0].Data, frame)
	}
	if !frames[0].Valid {
		t.Error("frame should pass checksum validation")
	}
	if frames[0].Schema != s {
		t.Error("frame should be tagged with its schema")
	}
	if !r.Idle() {
		t.Error("reassembler should be idle after completion")
	}
}

func TestReassembler_SingleChunk(t *testing.T) {
	r := NewReassembler(testSchema20())
	frames := r.Feed(frame20(0x20))
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0].Len() != 20 {
		t.Errorf("expected 20-byte frame, got %d", frames[0].Len())
	}
}

func TestReassembler_BadChecksumStillCompletes(t *testing.T) {
	r := NewReassembler(testSchema20())
	frame := frame20(0x30)
	frame[19] ^= 0xFF

	frames := r.Feed(frame)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0].Valid {
		t.Error("corrupted frame should be flagged invalid")
	}
}

func TestReassembler_NoiseWhileIdle(t *testing.T) {
	r := NewReassembler(testSchema20())
	var reasons []DiscardReason
	r.OnDiscard(func(reason DiscardReason, n int) {
		reasons = append(reasons, reason)
	})

	frames := r.Feed([]byte("AT\r\nOK\r\n"))
	if len(frames) != 0 {
		t.Errorf("noise should not produce frames, got %d", len(frames))
	}
	if !r.Idle() {
		t.Error("reassembler should stay idle after noise")
	}
	if len(reasons) != 1 || reasons[0] != DiscardNoise {
		t.Errorf("expected one noise discard, got %v", reasons)
	}
}

func TestReassembler_NoiseDuringAccumulation(t *testing.T) {
	s := testSchema20()
	data := newFrame(s)
	copy(data[8:], s.NoiseHeader)
	frame := seal(s, data)

	r := NewReassembler(s)
	var reasons []DiscardReason
	r.OnDiscard(func(reason DiscardReason, n int) { reasons = append(reasons, reason) })

	// Body bytes that look like noise are appended once accumulation started
	if frames := r.Feed(frame[:8]); len(frames) != 0 {
		t.Fatalf("partial frame should not complete, got %d", len(frames))
	}
	if frames := r.Feed(frame[8:16]); len(frames) != 0 {
		t.Fatalf("partial frame should not complete, got %d", len(frames))
	}
	if r.Buffered() != 16 {
		t.Fatalf("noise-like body bytes must be appended, buffered=%d", r.Buffered())
	}

	frames := r.Feed(frame[16:])
	if len(frames) != 1 || !bytes.Equal(frames[0].Data, frame) {
		t.Fatal("frame should complete with its noise-like body intact")
	}
	if !frames[0].Valid {
		t.Error("frame should pass checksum validation")
	}
	if len(reasons) != 0 {
		t.Errorf("nothing should be discarded, got %v", reasons)
	}
}

func TestReassembler_NoiseHeaderInsideJKFrame(t *testing.T) {
	s := JK02_32S()
	data := newFrame(s)
	copy(data[100:], s.NoiseHeader)
	frame := seal(s, data)

	whole := NewReassembler(s).Feed(frame)
	if len(whole) != 1 {
		t.Fatalf("whole frame: expected 1 frame, got %d", len(whole))
	}

	r := NewReassembler(s)
	frames := append(r.Feed(frame[:100]), r.Feed(frame[100:])...)
	if len(frames) != 1 {
		t.Fatalf("split at 100: expected 1 frame, got %d (buffered=%d)", len(frames), r.Buffered())
	}
	if !bytes.Equal(frames[0].Data, whole[0].Data) || !frames[0].Valid {
		t.Error("split frame should match the whole frame")
	}
	if !r.Idle() {
		t.Error("reassembler should be idle after completion")
	}
}

func TestReassembler_UnmatchedChunk(t *testing.T) {
	r := NewReassembler(testSchema20())
	var got DiscardReason = -1
	r.OnDiscard(func(reason DiscardReason, n int) { got = reason })

	if frames := r.Feed([]byte{0x55, 0xAA, 0x01}); len(frames) != 0 {
		t.Errorf("unmatched chunk should not produce frames")
	}
	if !r.Idle() {
		t.Error("unmatched chunk should leave the reassembler idle")
	}
	if got != DiscardUnmatched {
		t.Errorf("expected %v, got %v", DiscardUnmatched, got)
	}
}

func TestReassembler_HeaderMismatchAfterPrefix(t *testing.T) {
	r := NewReassembler(testSchema20())
	var got DiscardReason = -1
	r.OnDiscard(func(reason DiscardReason, n int) { got = reason })

	r.Feed([]byte{0x01, 0x03})
	r.Feed([]byte{0x7F, 0x00, 0x00})
	if !r.Idle() {
		t.Error("header mismatch should drop the tentative buffer")
	}
	if got != DiscardHeaderMismatch {
		t.Errorf("expected %v, got %v", DiscardHeaderMismatch, got)
	}
}

func TestReassembler_OverflowRequeued(t *testing.T) {
	r := NewReassembler(testSchema20())
	first, second := frame20(0x01), frame20(0x02)

	stream := append(append([]byte(nil), first...), second[:7]...)
	frames := r.Feed(stream)
	if len(frames) != 1 || !bytes.Equal(frames[0].Data, first) {
		t.Fatal("first frame should be truncated to the expected length")
	}
	if r.Buffered() != 7 {
		t.Fatalf("trailing bytes should start the next frame, buffered=%d", r.Buffered())
	}

	frames = r.Feed(second[7:])
	if len(frames) != 1 || !bytes.Equal(frames[0].Data, second) {
		t.Fatal("second frame should complete from the re-queued bytes")
	}
}

func TestReassembler_TwoFramesInOneChunk(t *testing.T) {
	r := NewReassembler(testSchema20())
	stream := append(frame20(0x05), frame20(0x06)...)

	frames := r.Feed(stream)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if !frames[0].Valid || !frames[1].Valid {
		t.Error("both frames should validate")
	}
}

func TestReassembler_OverflowGarbageDiscarded(t *testing.T) {
	r := NewReassembler(testSchema20())
	var got DiscardReason = -1
	r.OnDiscard(func(reason DiscardReason, n int) { got = reason })

	stream := append(frame20(0x07), 0xEE, 0xEE)
	if frames := r.Feed(stream); len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if !r.Idle() {
		t.Error("trailing garbage should not be buffered")
	}
	if got != DiscardOverflow {
		t.Errorf("expected %v, got %v", DiscardOverflow, got)
	}
}

func TestReassembler_ResetAbandonsAccumulation(t *testing.T) {
	r := NewReassembler(testSchema20())
	frame := frame20(0x08)

	r.Feed(frame[:10])
	r.Reset()
	if !r.Idle() {
		t.Fatal("Reset should drop buffered bytes")
	}

	// The stale tail no longer starts with a header
	if frames := r.Feed(frame[10:]); len(frames) != 0 {
		t.Error("stale tail should not complete a frame after reset")
	}
	if frames := r.Feed(frame); len(frames) != 1 {
		t.Error("a fresh frame should complete after reset")
	}
}

func TestReassembler_MultipleSchemas(t *testing.T) {
	jk, mppt := JK02_32S(), MPPT()
	r := NewReassembler(jk, mppt)

	mpptFrame := seal(mppt, newFrame(mppt))
	// Shared "01 03" prefix stays ambiguous until the third byte
	r.Feed(mpptFrame[:2])
	frames := r.Feed(mpptFrame[2:])
	if len(frames) != 1 || frames[0].Schema.Name != "mppt" {
		t.Fatalf("expected one mppt frame, got %d", len(frames))
	}

	jkFrame := seal(jk, newFrame(jk))
	frames = r.Feed(jkFrame)
	if len(frames) != 1 || frames[0].Schema.Name != "jk02_32s" {
		t.Fatal("expected one jk02_32s frame")
	}
}

func TestReassembler_ArmRestrictsMatching(t *testing.T) {
	jk, mppt := JK02_32S(), MPPT()
	r := NewReassembler(jk, mppt)
	r.Arm(mppt)

	if frames := r.Feed(seal(jk, newFrame(jk))); len(frames) != 0 {
		t.Error("armed reassembler should ignore other families")
	}

	r.Disarm()
	if frames := r.Feed(seal(jk, newFrame(jk))); len(frames) != 1 {
		t.Error("disarmed reassembler should match every registered family")
	}
}

func TestCompletedFrame_Type(t *testing.T) {
	jk := JK02_32S()
	data := newFrame(jk)
	data[jk.TypeOffset] = FrameTypeDeviceInfo
	f := NewCompletedFrame(jk, seal(jk, data))

	typ, ok := f.Type()
	if !ok || typ != FrameTypeDeviceInfo {
		t.Errorf("expected type 0x03, got 0x%02X (ok=%v)", typ, ok)
	}
	if f.IsValidReply() {
		t.Error("device info frame is not the cell info reply")
	}

	m := MPPT()
	mf := NewCompletedFrame(m, seal(m, newFrame(m)))
	if _, ok := mf.Type(); ok {
		t.Error("mppt frames have no type byte")
	}
	if !mf.IsValidReply() {
		t.Error("frames without a type byte always count as valid replies")
	}
}
