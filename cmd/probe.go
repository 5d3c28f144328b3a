// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/voltstat/pkg/bmsproto"
)

var (
	probeCount   int
	probeCommand string
	probeVerbose bool
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Request one sample and print it",
	Long: `Connect, send the family's read request and wait for the response frame.

Each probe reports the decoded sample and the round-trip time. Use --count to
probe repeatedly over one connection, --command to send another read command
from the family's catalogue, and --verbose to dump the raw frame.

Exit codes:
  0 - Every probe decoded a sample
  1 - A probe timed out
  2 - Connection error
  3 - Checksum or decode error`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().IntVar(&probeCount, "count", 1, "Number of probes to send")
	probeCmd.Flags().StringVar(&probeCommand, "command", "", "Catalogue command to send (default: family read request)")
	probeCmd.Flags().BoolVarP(&probeVerbose, "verbose", "v", false, "Dump the raw response frame")
}

// probeExitCode maps a request error to the probe exit code
func probeExitCode(err error) int {
	var te *bmsproto.TransportError
	switch {
	case err == nil:
		return 0
	case errors.Is(err, bmsproto.ErrTimeout), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return 1
	case errors.As(err, &te), errors.Is(err, bmsproto.ErrSessionClosed):
		return 2
	default:
		return 3
	}
}

func runProbe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	conn, err := OpenSession(ctx, sessionOptions{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	schema := conn.sess.Schema()
	command := schema.DefaultCommand
	if probeCommand != "" {
		command, err = bmsproto.LookupCommand(schema, probeCommand)
		if err != nil {
			return err
		}
	}

	fmt.Printf("Voltstat - Probe\n")
	fmt.Printf("Connection: %s\n", conn.info)
	fmt.Printf("Family: %s, command: %s\n", schema.Name, command)
	fmt.Printf("Timeout: %s per probe\n\n", cfg.Session.Timeout)

	successCount := 0
	worst := 0
	for i := 1; i <= probeCount; i++ {
		fmt.Printf("Probe %d/%d: ", i, probeCount)

		start := time.Now()
		sample, err := conn.sess.Request(ctx, command)
		rtt := time.Since(start)

		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
			if f := conn.sess.LastFrame(); probeVerbose && f != nil {
				fmt.Print(bmsproto.FormatFrame(f))
			}
			if code := probeExitCode(err); code > worst {
				worst = code
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}

		successCount++
		fmt.Printf("OK, rtt=%v\n", rtt.Round(time.Millisecond))
		fmt.Print(bmsproto.FormatSample(sample))
		if probeVerbose {
			if f := conn.sess.LastFrame(); f != nil {
				fmt.Print(bmsproto.FormatFrame(f))
			}
		}
		for _, verr := range bmsproto.ValidateSample(sample) {
			fmt.Printf("  \033[1;33mANOMALY:\033[0m %s\n", verr.Message)
		}

		if i < probeCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	fmt.Printf("\n--- Probe statistics ---\n")
	fmt.Printf("%d probes sent, %d samples decoded\n", probeCount, successCount)

	if worst != 0 {
		_ = conn.Close()
		os.Exit(worst)
	}
	return nil
}
