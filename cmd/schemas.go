// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/voltstat/pkg/bmsproto"
)

var schemasAll bool

var schemasCmd = &cobra.Command{
	Use:   "schemas",
	Short: "Print frame layouts as YAML",
	Long: `Print the frame layout of the selected family, after any overrides from
the config file, as YAML. Use --all to print every built-in family.

Offsets are absolute, with the variant offset already applied.`,
	RunE: runSchemas,
}

func init() {
	rootCmd.AddCommand(schemasCmd)
	schemasCmd.Flags().BoolVar(&schemasAll, "all", false, "Print every built-in family")
}

// YAML views of a schema

type fieldDoc struct {
	Key       string  `yaml:"key"`
	Offset    int     `yaml:"offset"`
	Width     int     `yaml:"width"`
	Signed    bool    `yaml:"signed,omitempty"`
	BigEndian bool    `yaml:"big_endian,omitempty"`
	Scale     float64 `yaml:"scale,omitempty"`
	Bias      float64 `yaml:"bias,omitempty"`
}

type cellsDoc struct {
	MaskOffset int `yaml:"mask_offset"`
	BaseOffset int `yaml:"base_offset"`
	Slots      int `yaml:"slots"`
}

type commandDoc struct {
	Name    string `yaml:"name"`
	Opcode  string `yaml:"opcode"`
	Encoded string `yaml:"encoded"`
}

type schemaDoc struct {
	Name            string       `yaml:"name"`
	ResponseHeader  string       `yaml:"response_header"`
	CommandHeader   string       `yaml:"command_header"`
	NoiseHeader     string       `yaml:"noise_header,omitempty"`
	ExpectedLength  int          `yaml:"expected_length"`
	Checksum        string       `yaml:"checksum"`
	CommandChecksum string       `yaml:"command_checksum"`
	CommandLayout   string       `yaml:"command_layout"`
	VariantOffset   int          `yaml:"variant_offset"`
	TypeOffset      *int         `yaml:"type_offset,omitempty"`
	ValidReply      string       `yaml:"valid_reply,omitempty"`
	Fields          []fieldDoc   `yaml:"fields"`
	Temperatures    []fieldDoc   `yaml:"temperatures,omitempty"`
	Cells           *cellsDoc    `yaml:"cells,omitempty"`
	Commands        []commandDoc `yaml:"commands"`
}

func newFieldDocs(s *bmsproto.FrameSchema, fields []bmsproto.FieldSpec) []fieldDoc {
	docs := make([]fieldDoc, 0, len(fields))
	for _, f := range fields {
		scale := f.Scale
		if scale == 0 && f.Transform == nil {
			scale = 1
		}
		docs = append(docs, fieldDoc{
			Key:       f.Key,
			Offset:    s.FieldOffset(f),
			Width:     f.Width,
			Signed:    f.Signed,
			BigEndian: f.BigEndian,
			Scale:     scale,
			Bias:      f.Bias,
		})
	}
	return docs
}

func newSchemaDoc(s *bmsproto.FrameSchema) schemaDoc {
	doc := schemaDoc{
		Name:            s.Name,
		ResponseHeader:  fmt.Sprintf("% X", s.ResponseHeader),
		CommandHeader:   fmt.Sprintf("% X", s.CommandHeader),
		ExpectedLength:  s.ExpectedLength,
		Checksum:        s.Checksum.String(),
		CommandChecksum: s.CommandChecksum.String(),
		CommandLayout:   s.CommandLayout.String(),
		VariantOffset:   s.VariantOffset,
		Fields:          newFieldDocs(s, s.Fields),
		Temperatures:    newFieldDocs(s, s.Temperatures),
	}
	if len(s.NoiseHeader) > 0 {
		doc.NoiseHeader = fmt.Sprintf("% X", s.NoiseHeader)
	}
	if s.TypeOffset >= 0 {
		offset := s.TypeOffset
		doc.TypeOffset = &offset
		doc.ValidReply = fmt.Sprintf("0x%02X", s.ValidReply)
	}
	if s.HasCells() {
		doc.Cells = &cellsDoc{MaskOffset: s.CellMaskAt(), BaseOffset: s.CellBaseOffset, Slots: s.CellSlots}
	}
	for _, c := range bmsproto.Catalogue(s) {
		doc.Commands = append(doc.Commands, commandDoc{
			Name:    c.Name,
			Opcode:  fmt.Sprintf("0x%02X", c.Opcode),
			Encoded: fmt.Sprintf("% X", bmsproto.MustEncodeCommand(s, c)),
		})
	}
	return doc
}

// writeSchemas encodes the schemas as a YAML document stream
func writeSchemas(w io.Writer, schemas []*bmsproto.FrameSchema) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	for _, s := range schemas {
		if err := enc.Encode(newSchemaDoc(s)); err != nil {
			return fmt.Errorf("failed to encode %s: %w", s.Name, err)
		}
	}
	return enc.Close()
}

func runSchemas(cmd *cobra.Command, args []string) error {
	var schemas []*bmsproto.FrameSchema
	if schemasAll {
		for _, s := range bmsproto.Families() {
			s, err := cfg.ApplyOverrides(s)
			if err != nil {
				return err
			}
			schemas = append(schemas, s)
		}
	} else {
		s, err := cfg.Schema()
		if err != nil {
			return err
		}
		schemas = append(schemas, s)
	}
	return writeSchemas(cmd.OutOrStdout(), schemas)
}
