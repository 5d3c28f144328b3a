// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/voltstat/pkg/bmsproto"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var errorDetectionCmd = &cobra.Command{
	Use:   "error_detection",
	Short: "Detect and analyze malformed frames and errors",
	Long: `Poll the device and track frame errors, discarded chunks and anomalous
values with statistics.

This command validates each frame and detects:
  - Checksum failures and decode errors
  - Chunks dropped by the reassembler (AT noise, header mismatch, overflow)
  - Request timeouts and transport errors
  - Anomalous values (cell voltage out of range, cell imbalance, temperatures)
  - Statistics and trends (frame rate, error rate, success rate)

By default, only errors are displayed. Use --show-all to display valid frames too.

Frames are validated in real-time, with errors highlighted immediately and
periodic statistics summaries displayed at configurable intervals.`,
	RunE: runErrorDetection,
}

func init() {
	rootCmd.AddCommand(errorDetectionCmd)
	errorDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	errorDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	errorDetectionCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

// Session events forwarded to the UI goroutine
type frameMsg struct {
	frame *bmsproto.CompletedFrame
}
type discardMsg struct {
	reason bmsproto.DiscardReason
	n      int
}
type requestMsg struct {
	command bmsproto.Command
	elapsed time.Duration
	err     error
}

// eventForwarder is a session observer that hands events to send
type eventForwarder struct {
	send func(tea.Msg)
}

func (f eventForwarder) FrameCompleted(fr *bmsproto.CompletedFrame) {
	f.send(frameMsg{frame: fr})
}

func (f eventForwarder) ChunkDiscarded(reason bmsproto.DiscardReason, n int) {
	f.send(discardMsg{reason: reason, n: n})
}

func (f eventForwarder) RequestFinished(c bmsproto.Command, elapsed time.Duration, err error) {
	f.send(requestMsg{command: c, elapsed: elapsed, err: err})
}

func runErrorDetection(cmd *cobra.Command, args []string) error {
	if useTUI {
		return runTUIMode(cmd.Context())
	}
	return runTextMode(cmd.Context())
}

// pollInBackground runs a poller until ctx is done
func pollInBackground(ctx context.Context, sess *bmsproto.Session) {
	go func() {
		_ = newPoller(sess, cfg.Session.PollInterval).Run(ctx, func(*bmsproto.Sample, error) {})
	}()
}

// printDecodeError prints a checksum or decode error in highlighted format
func printDecodeError(f *bmsproto.CompletedFrame, err error) {
	timestamp := f.Timestamp.Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", timestamp, err)
	fmt.Print(bmsproto.FormatHexDump(f.Data))
	fmt.Printf("  >>> FRAME REJECTED <<<\n\n")
}

// printValidationErrors prints the anomalies found in a sample
func printValidationErrors(f *bmsproto.CompletedFrame, errors []bmsproto.ValidationError) {
	timestamp := f.Timestamp.Format("15:04:05.000")
	t, _ := f.Type()

	fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m %s %s\n", timestamp, f.Schema.Name, bmsproto.FormatFrameType(t))
	fmt.Printf("  Checksum: \033[1;32mOK\033[0m\n")

	for i, err := range errors {
		switch err.Type {
		case bmsproto.AnomalyCellVoltage:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)
			if cell, ok := err.Details["cell"].(int); ok {
				if v, ok := err.Details["value"].(float64); ok {
					fmt.Printf("    cell %d = %.3f V\n", cell, v)
				}
			}

		case bmsproto.AnomalyCellImbalance:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
			if lo, ok := err.Details["min"].(float64); ok {
				if hi, ok := err.Details["max"].(float64); ok {
					fmt.Printf("    min=%.3f V, max=%.3f V\n", lo, hi)
				}
			}

		case bmsproto.AnomalyTemperature:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
			if sensor, ok := err.Details["sensor"].(int); ok {
				if temp, ok := err.Details["value"].(float64); ok {
					fmt.Printf("    sensor %d = %.1f°C\n", sensor, temp)
				}
			}

		default:
			fmt.Printf("  Issue %d: %s\n", i+1, err.Message)
		}
	}

	fmt.Printf("  >>> SAMPLE FLAGGED <<<\n\n")
}

// runTUIMode runs error detection in TUI mode
func runTUIMode(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Events may arrive before the program exists
	var program atomic.Pointer[tea.Program]
	forward := eventForwarder{send: func(msg tea.Msg) {
		if p := program.Load(); p != nil {
			p.Send(msg)
		}
	}}

	conn, err := OpenSession(ctx, sessionOptions{observers: []bmsproto.Observer{forward}})
	if err != nil {
		return err
	}
	defer conn.Close()

	m := initialModel(conn.info, conn.sess.Schema().Name, statsInterval, showAll)
	p := tea.NewProgram(m)
	program.Store(p)

	pollInBackground(ctx, conn.sess)
	go func() {
		select {
		case <-conn.Done():
			p.Send(connectionLostMsg{})
		case <-ctx.Done():
		}
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// runTextMode runs error detection in text mode
func runTextMode(ctx context.Context) error {
	events := make(chan tea.Msg, 64)
	forward := eventForwarder{send: func(msg tea.Msg) {
		select {
		case events <- msg:
		default:
		}
	}}

	conn, err := OpenSession(ctx, sessionOptions{observers: []bmsproto.Observer{forward}})
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Voltstat - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", conn.info)
	fmt.Printf("Family: %s, poll interval: %s\n", conn.sess.Schema().Name, cfg.Session.PollInterval)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stats := bmsproto.NewStatistics()
	synchronized := false
	discardedBeforeSync := 0

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	pollInBackground(ctx, conn.sess)

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			fmt.Print(stats.String())
			return nil

		case <-conn.Done():
			fmt.Printf("Connection closed\n")
			return nil

		case msg := <-events:
			switch msg := msg.(type) {
			case discardMsg:
				stats.ChunkDiscarded(msg.reason, msg.n)
				if !synchronized {
					discardedBeforeSync += msg.n
				} else if showAll || msg.reason != bmsproto.DiscardNoise {
					fmt.Printf("[%s] \033[1;33mDISCARDED:\033[0m %d bytes (%s)\n",
						time.Now().Format("15:04:05.000"), msg.n, msg.reason)
				}

			case requestMsg:
				stats.RequestFinished(msg.command, msg.elapsed, msg.err)
				if msg.err != nil {
					fmt.Printf("[%s] \033[1;31mREQUEST FAILED:\033[0m %s: %v\n\n",
						time.Now().Format("15:04:05.000"), msg.command.Name, msg.err)
				}

			case frameMsg:
				if !synchronized {
					synchronized = true
					if discardedBeforeSync > 0 {
						fmt.Printf("[SYNC] Synchronized after discarding %d bytes\n\n", discardedBeforeSync)
					} else {
						fmt.Printf("[SYNC] Synchronized\n\n")
					}
				}

				sample, anomalies, err := stats.Analyze(msg.frame)
				switch {
				case err != nil:
					printDecodeError(msg.frame, err)
				case len(anomalies) > 0:
					printValidationErrors(msg.frame, anomalies)
				case !showAll:
				case sample == nil:
					t, _ := msg.frame.Type()
					fmt.Printf("[%s] %s (not decoded)\n", msg.frame.Timestamp.Format("15:04:05.000"), bmsproto.FormatFrameType(t))
				default:
					fmt.Printf("[%s] %s\n", msg.frame.Timestamp.Format("15:04:05.000"), bmsproto.FormatSampleLine(sample))
				}
			}

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()
		}
	}
}
