// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/voltstat/pkg/bmsproto"
	"github.com/Thermoquad/voltstat/pkg/transport"
)

var (
	rawLogDuration time.Duration
	rawLogPoll     bool
	rawLogFrames   bool
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw notification chunks in hex",
	Long: `Continuously display every notification chunk and written command as hex,
with a timestamp and direction (TX/RX).

With --poll the family's default read request is sent every poll interval so
devices that only answer requests produce traffic. With --frames each
reassembled frame is also dumped with its checksum result.

Use --duration to stop after a fixed time, which is useful for checking that a
WebSocket or serial bridge relays traffic at all.

Supports BLE, serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().DurationVar(&rawLogDuration, "duration", 0, "Stop after this long (0 runs until Ctrl+C)")
	rawLogCmd.Flags().BoolVar(&rawLogPoll, "poll", false, "Send the default read request every poll interval")
	rawLogCmd.Flags().BoolVar(&rawLogFrames, "frames", false, "Also dump reassembled frames")
}

// frameDumper prints every completed frame
type frameDumper struct {
	mu *sync.Mutex
}

func (d frameDumper) FrameCompleted(f *bmsproto.CompletedFrame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Print(bmsproto.FormatFrame(f))
}

func (d frameDumper) ChunkDiscarded(reason bmsproto.DiscardReason, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Printf("  (discarded %d bytes: %s)\n", n, reason)
}

func (d frameDumper) RequestFinished(bmsproto.Command, time.Duration, error) {}

func runRawLog(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if rawLogDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rawLogDuration)
		defer cancel()
	}

	var mu sync.Mutex
	chunks := 0
	opts := sessionOptions{
		tap: func(dir string, data []byte) {
			mu.Lock()
			defer mu.Unlock()
			if dir == transport.DirRX {
				chunks++
			}
			fmt.Print(bmsproto.FormatChunk(time.Now(), dir, data))
		},
	}
	if rawLogFrames {
		opts.observers = append(opts.observers, frameDumper{mu: &mu})
	}

	conn, err := OpenSession(ctx, opts)
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Voltstat - Raw Notification Log\n")
	fmt.Printf("Connection: %s\n", conn.info)
	fmt.Printf("Family: %s\n", conn.sess.Schema().Name)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	var tick <-chan time.Time
	if rawLogPoll {
		ticker := time.NewTicker(cfg.Session.PollInterval)
		defer ticker.Stop()
		tick = ticker.C
		sendDefault(ctx, conn.sess)
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			fmt.Printf("\n%d chunks received\n", chunks)
			mu.Unlock()
			return nil
		case <-conn.Done():
			fmt.Printf("\nConnection closed\n")
			return nil
		case <-tick:
			sendDefault(ctx, conn.sess)
		}
	}
}

// sendDefault writes the family's read request without waiting; the response
// shows up through the tap
func sendDefault(ctx context.Context, sess *bmsproto.Session) {
	if err := sess.Send(ctx, sess.Schema().DefaultCommand); err != nil {
		fmt.Printf("[ERROR] %v\n", err)
	}
}
