// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/voltstat/pkg/bmsproto"
)

var (
	frameTestTimeout int
)

var frameTestCmd = &cobra.Command{
	Use:   "frame_test",
	Short: "Test connection by waiting for an unsolicited valid frame",
	Long: `Wait for a checksum-valid frame on the connection until timeout, without
sending anything.

Some BMS units push cell info frames on their own once notifications are
enabled. This command listens passively and ignores noise and partial data
until a complete frame passes its checksum.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful for checking whether a device needs polling (see --reuse-fresh).`,
	RunE: runFrameTest,
}

func init() {
	rootCmd.AddCommand(frameTestCmd)
	frameTestCmd.Flags().IntVar(&frameTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

// frameWaiter hands the first checksum-valid frame to a channel
type frameWaiter struct {
	frames    chan *bmsproto.CompletedFrame
	discarded atomic.Int64
}

func (w *frameWaiter) FrameCompleted(f *bmsproto.CompletedFrame) {
	if !f.Valid {
		return
	}
	select {
	case w.frames <- f:
	default:
	}
}

func (w *frameWaiter) ChunkDiscarded(reason bmsproto.DiscardReason, n int) {
	w.discarded.Add(int64(n))
}

func (w *frameWaiter) RequestFinished(bmsproto.Command, time.Duration, error) {}

func runFrameTest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	waiter := &frameWaiter{frames: make(chan *bmsproto.CompletedFrame, 1)}

	conn, err := OpenSession(ctx, sessionOptions{observers: []bmsproto.Observer{waiter}})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Voltstat - Frame Test\n")
	fmt.Printf("Connection: %s\n", conn.info)
	fmt.Printf("Timeout: %d seconds\n", frameTestTimeout)
	fmt.Printf("Waiting for valid %s frame...\n\n", conn.sess.Schema().Name)

	// Wait for frame or timeout
	select {
	case f := <-waiter.frames:
		if n := waiter.discarded.Load(); n > 0 {
			fmt.Printf("(skipped %d bytes before sync)\n", n)
		}
		fmt.Printf("SUCCESS: Received valid frame\n")
		if t, ok := f.Type(); ok {
			fmt.Printf("  Type: %s (0x%02X)\n", bmsproto.FormatFrameType(t), t)
		}
		fmt.Printf("  Length: %d bytes\n", f.Len())
		fmt.Printf("  Checksum: %s\n", f.Schema.Checksum)
		_ = conn.Close()
		os.Exit(0)

	case <-conn.Done():
		fmt.Fprintf(os.Stderr, "Connection closed before a frame arrived\n")
		os.Exit(2)

	case <-ctx.Done():
		return nil

	case <-time.After(time.Duration(frameTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", frameTestTimeout)
		_ = conn.Close()
		os.Exit(1)
	}

	return nil
}
