// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/voltstat/pkg/bmsproto"
)

var (
	recordOutput string
	recordCount  int
	recordFrames bool
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Poll the device and append samples to a CBOR file",
	Long: `Poll the device every poll interval and append each decoded sample to a
file as a stream of CBOR records.

Records hold the family, timestamp, values, cell voltages and temperatures.
With --frames the raw response frame is stored too, so the file can later be
re-decoded with a different scale or variant offset:

  voltstat decode --cbor samples.cbor

Failed polls are logged and skipped. Use --count to stop after N samples.`,
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.Flags().StringVarP(&recordOutput, "output", "o", "samples.cbor", "Output file (appended to)")
	recordCmd.Flags().IntVar(&recordCount, "count", 0, "Stop after this many samples (0 runs until Ctrl+C)")
	recordCmd.Flags().BoolVar(&recordFrames, "frames", false, "Store the raw response frame with each sample")
}

func runRecord(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	f, err := os.OpenFile(recordOutput, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", recordOutput, err)
	}
	defer f.Close()

	conn, err := OpenSession(ctx, sessionOptions{})
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Voltstat - Record\n")
	fmt.Printf("Connection: %s\n", conn.info)
	fmt.Printf("Family: %s, poll interval: %s\n", conn.sess.Schema().Name, cfg.Session.PollInterval)
	fmt.Printf("Output: %s\n", recordOutput)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	w := bmsproto.NewRecordWriter(f)
	var writeErr error
	err = newPoller(conn.sess, cfg.Session.PollInterval).Run(ctx, func(sample *bmsproto.Sample, err error) {
		if err != nil {
			logger.Warn("poll failed", zap.Error(err))
			return
		}

		var frame []byte
		if recordFrames {
			if lf := conn.sess.LastFrame(); lf != nil {
				frame = lf.Data
			}
		}
		if writeErr = w.Write(bmsproto.NewRecord(sample, frame)); writeErr != nil {
			cancel()
			return
		}
		fmt.Println(bmsproto.FormatSampleLine(sample))

		if recordCount > 0 && w.Count() >= recordCount {
			cancel()
		}
	})

	fmt.Printf("\n%d samples written to %s\n", w.Count(), recordOutput)
	if writeErr != nil {
		return writeErr
	}
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
