// Copyright 2017-2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package show

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/linuxboot/memtrain/cmds/memtrain/commands"
	"github.com/linuxboot/memtrain/pkg/dct"
	"github.com/linuxboot/memtrain/pkg/hw"
	"github.com/linuxboot/memtrain/pkg/nvsave"
	"github.com/linuxboot/memtrain/pkg/report"
)

var _ commands.Command = (*Command)(nil)

// Command prints a resume image.
type Command struct {
	ImagePath string  `short:"f" long:"image" description:"path to a resume image" required:"true"`
	Format    *string `long:"format" description:"output format [text, json]"`
	ECC       bool    `long:"ecc" description:"print the ECC lane"`

	// Stdout receives the output; os.Stdout if nil.
	Stdout io.Writer `no-flag:"true"`
}

// Format is an output format.
type Format int

// Defines supported output formats
const (
	FormatUndefined = Format(iota)
	FormatText
	FormatJSON
)

// ParseFormat returns the format called s.
func ParseFormat(s string) Format {
	switch strings.Trim(strings.ToLower(s), " ") {
	case "text":
		return FormatText
	case "json":
		return FormatJSON
	}
	return FormatUndefined
}

// ShortDescription explains what this command does in one line
func (cmd *Command) ShortDescription() string {
	return "prints a resume image"
}

// LongDescription explains what this verb does (without limitation in amount of lines)
func (cmd *Command) LongDescription() string {
	return ""
}

type jsonEntry struct {
	Key    dct.Key
	Delay  dct.Delay
	Window [2]int
}

type jsonImage struct {
	Header  nvsave.Header
	Status  []string
	Entries []jsonEntry
}

// Execute is the main function here. It is responsible to
// start the execution of the command.
//
// `args` are the arguments left unused by verb itself and options.
func (cmd *Command) Execute(args []string) error {
	if len(args) != 0 {
		return commands.ErrArgs{Err: fmt.Errorf("there are extra arguments")}
	}

	format := FormatText
	if cmd.Format != nil {
		format = ParseFormat(*cmd.Format)
		if format == FormatUndefined {
			return commands.ErrArgs{Err: fmt.Errorf("unknown format '%s'", *cmd.Format)}
		}
	}
	stdout := cmd.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	image, err := os.ReadFile(cmd.ImagePath)
	if err != nil {
		return fmt.Errorf("unable to read the resume image '%s': %w", cmd.ImagePath, err)
	}
	tbl, hdr, err := nvsave.Decode(image)
	if err != nil {
		return fmt.Errorf("unable to decode '%s': %w", cmd.ImagePath, err)
	}

	switch format {
	case FormatText:
		report.Image(stdout, hdr)
		report.Table(stdout, tbl, dct.Lanes(cmd.ECC))
	case FormatJSON:
		out := jsonImage{Header: hdr}
		for ch := 0; ch < hw.MaxChannels; ch++ {
			out.Status = append(out.Status, tbl.Status(ch).String())
		}
		for _, k := range tbl.Keys() {
			d, _ := tbl.Get(k)
			w := tbl.Window(k)
			out.Entries = append(out.Entries, jsonEntry{Key: k, Delay: d, Window: [2]int{w.Start, w.End()}})
		}
		b, err := json.Marshal(out)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s\n", b)
	}
	return nil
}
