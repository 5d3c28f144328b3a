// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/voltstat/pkg/bmsproto"
)

var (
	decodeFile     string
	decodeCBOR     bool
	decodeRedecode bool
)

var decodeCmd = &cobra.Command{
	Use:   "decode [hex chunk...]",
	Short: "Decode captured chunks or recorded samples offline",
	Long: `Decode data without a device.

Hex chunks, given as arguments or one per line with --file, are fed through the
reassembler of the selected family in order, exactly as notifications would be.
Every completed frame is dumped and decoded. Lines starting with # are skipped,
and the output of raw_log can be used directly.

With --cbor the file is read as records written by the record command. Use
--redecode to decode each record's stored frame again with the current family
configuration (scales, variant offset) instead of printing the stored values.

Examples:
  voltstat decode --family mppt 0103260...
  voltstat decode --file capture.txt
  voltstat decode --cbor samples.cbor --redecode`,
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().StringVar(&decodeFile, "file", "", "Read hex chunks from a file, one per line (- for stdin)")
	decodeCmd.Flags().BoolVar(&decodeCBOR, "cbor", false, "Read --file as CBOR sample records")
	decodeCmd.Flags().BoolVar(&decodeRedecode, "redecode", false, "Decode stored frames again (with --cbor)")
}

// parseChunkLine extracts the hex bytes from one input line. Both plain hex
// and raw_log lines ("[ts] RX  20 bytes: 01 03 ...") are accepted.
func parseChunkLine(line string) ([]byte, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil, nil
	}
	if i := strings.Index(line, "bytes:"); i >= 0 {
		if strings.Contains(line[:i], "] TX ") {
			return nil, nil
		}
		line = line[i+len("bytes:"):]
	}
	data, err := hex.DecodeString(strings.Join(strings.Fields(line), ""))
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", line, err)
	}
	return data, nil
}

func openInput(name string) (io.ReadCloser, error) {
	if name == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return f, nil
}

// decodeChunks feeds chunks through a reassembler and prints every frame
func decodeChunks(w io.Writer, schema *bmsproto.FrameSchema, chunks [][]byte) (frames int, failures int) {
	reasm := bmsproto.NewReassembler(schema)
	reasm.OnDiscard(func(reason bmsproto.DiscardReason, n int) {
		fmt.Fprintf(w, "  (discarded %d bytes: %s)\n", n, reason)
	})

	for _, chunk := range chunks {
		for _, f := range reasm.Feed(chunk) {
			frames++
			fmt.Fprint(w, bmsproto.FormatFrame(f))
			if f.Valid && !f.IsValidReply() {
				fmt.Fprintf(w, "  (not a sample frame)\n\n")
				continue
			}
			sample, err := bmsproto.Decode(f)
			if err != nil {
				failures++
				fmt.Fprintf(w, "  DECODE ERROR: %v\n\n", err)
				continue
			}
			fmt.Fprint(w, bmsproto.FormatSample(sample))
			for _, a := range bmsproto.ValidateSample(sample) {
				fmt.Fprintf(w, "  ANOMALY: %s\n", a.Message)
			}
			fmt.Fprintln(w)
		}
	}
	if n := reasm.Buffered(); n > 0 {
		fmt.Fprintf(w, "(%d bytes of an incomplete frame left over)\n", n)
	}
	return frames, failures
}

func runDecode(cmd *cobra.Command, args []string) error {
	if decodeCBOR {
		if decodeFile == "" {
			return fmt.Errorf("--cbor requires --file")
		}
		return decodeRecords(decodeFile)
	}

	schema, err := cfg.Schema()
	if err != nil {
		return err
	}

	var chunks [][]byte
	for _, arg := range args {
		data, err := parseChunkLine(arg)
		if err != nil {
			return err
		}
		chunks = append(chunks, data)
	}

	if decodeFile != "" {
		in, err := openInput(decodeFile)
		if err != nil {
			return err
		}
		defer in.Close()

		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			data, err := parseChunkLine(scanner.Text())
			if err != nil {
				return err
			}
			if data != nil {
				chunks = append(chunks, data)
			}
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read %s: %w", decodeFile, err)
		}
	}

	if len(chunks) == 0 {
		return fmt.Errorf("no input: give hex chunks as arguments or use --file")
	}

	frames, failures := decodeChunks(cmd.OutOrStdout(), schema, chunks)
	fmt.Fprintf(cmd.OutOrStdout(), "%d frames, %d decode failures\n", frames, failures)
	if failures > 0 {
		return fmt.Errorf("%d frames failed to decode", failures)
	}
	return nil
}

// decodeRecords prints every record of a CBOR sample file
func decodeRecords(name string) error {
	in, err := openInput(name)
	if err != nil {
		return err
	}
	defer in.Close()

	r := bmsproto.NewRecordReader(in)
	count := 0
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		count++

		sample := rec.Sample()
		if decodeRedecode && len(rec.Frame) > 0 {
			sample, err = redecodeRecord(rec)
			if err != nil {
				fmt.Printf("record %d: %v\n", count, err)
				continue
			}
		}
		fmt.Print(bmsproto.FormatSample(sample))
	}

	fmt.Printf("\n%d records\n", count)
	return nil
}

// redecodeRecord decodes the record's frame with the configured family overrides
func redecodeRecord(rec bmsproto.Record) (*bmsproto.Sample, error) {
	schema, err := bmsproto.LookupFamily(rec.Family)
	if err != nil {
		return nil, err
	}
	schema, err = cfg.ApplyOverrides(schema)
	if err != nil {
		return nil, err
	}
	return bmsproto.DecodeBytes(schema, rec.Frame)
}
