// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/voltstat/pkg/bmsproto"
)

var (
	sendWait    bool
	sendDryRun  bool
	sendPayload string
	sendOpcode  string
	sendList    bool
)

var sendCmd = &cobra.Command{
	Use:   "send [command]",
	Short: "Send a catalogue command or a raw opcode to the device",
	Long: `Encode and send one command in the selected family's layout.

The command is either a name from the family's catalogue (see --list) or a raw
opcode with --opcode and an optional hex --payload. Setters such as
forced_check_open are not answered by the device, so by default the command is
written without waiting. Use --wait to wait for and decode a response frame.

Use --dry-run to print the encoded bytes without connecting.

Examples:
  voltstat send --family mppt --list
  voltstat send --family mppt forced_check_open
  voltstat send --family jk02_32s device_info --wait
  voltstat send --opcode 0x96 --dry-run`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().BoolVar(&sendWait, "wait", false, "Wait for and decode a response frame")
	sendCmd.Flags().BoolVar(&sendDryRun, "dry-run", false, "Print the encoded command without connecting")
	sendCmd.Flags().StringVar(&sendOpcode, "opcode", "", "Raw opcode byte (e.g. 0x96)")
	sendCmd.Flags().StringVar(&sendPayload, "payload", "", "Raw payload as hex (e.g. 0101000A)")
	sendCmd.Flags().BoolVar(&sendList, "list", false, "List the family's command catalogue")
}

// buildCommand resolves a catalogue name or raw opcode/payload flags
func buildCommand(schema *bmsproto.FrameSchema, args []string, opcode, payload string) (bmsproto.Command, error) {
	if len(args) == 1 {
		if opcode != "" || payload != "" {
			return bmsproto.Command{}, fmt.Errorf("give either a command name or --opcode, not both")
		}
		return bmsproto.LookupCommand(schema, args[0])
	}
	if opcode == "" {
		return bmsproto.Command{}, fmt.Errorf("a command name or --opcode is required")
	}

	op, err := strconv.ParseUint(opcode, 0, 8)
	if err != nil {
		return bmsproto.Command{}, fmt.Errorf("invalid opcode %q: %w", opcode, err)
	}
	data, err := hex.DecodeString(strings.ReplaceAll(payload, " ", ""))
	if err != nil {
		return bmsproto.Command{}, fmt.Errorf("invalid payload %q: %w", payload, err)
	}
	return bmsproto.Command{Name: "raw", Opcode: byte(op), Payload: data}, nil
}

func runSend(cmd *cobra.Command, args []string) error {
	schema, err := cfg.Schema()
	if err != nil {
		return err
	}

	if sendList {
		fmt.Printf("Commands for %s:\n", schema.Name)
		for _, c := range bmsproto.Catalogue(schema) {
			fmt.Printf("  %-20s % X\n", c.Name, bmsproto.MustEncodeCommand(schema, c))
		}
		return nil
	}

	command, err := buildCommand(schema, args, sendOpcode, sendPayload)
	if err != nil {
		return err
	}
	data, err := bmsproto.EncodeCommand(schema, command)
	if err != nil {
		return err
	}

	fmt.Printf("Command: %s\n", command)
	fmt.Printf("Bytes:   % X\n", data)
	if sendDryRun {
		return nil
	}

	ctx := cmd.Context()
	conn, err := OpenSession(ctx, sessionOptions{})
	if err != nil {
		return err
	}
	defer conn.Close()
	fmt.Printf("Connection: %s\n\n", conn.info)

	if !sendWait {
		if err := conn.sess.Send(ctx, command); err != nil {
			return err
		}
		fmt.Printf("Sent\n")
		return nil
	}

	sample, err := conn.sess.Request(ctx, command)
	if err != nil {
		if f := conn.sess.LastFrame(); f != nil {
			fmt.Print(bmsproto.FormatFrame(f))
		}
		return err
	}
	fmt.Print(bmsproto.FormatSample(sample))
	return nil
}
