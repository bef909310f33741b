// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package generations

import (
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/linuxboot/memtrain/cmds/memtrain/commands"
	"github.com/linuxboot/memtrain/pkg/training"
)

var _ commands.Command = (*Command)(nil)

// Command lists the supported controller generations.
type Command struct {
	// Stdout receives the output; os.Stdout if nil.
	Stdout io.Writer `no-flag:"true"`
}

// ShortDescription explains what this command does in one line
func (cmd *Command) ShortDescription() string {
	return "lists controller generations"
}

// LongDescription explains what this verb does (without limitation in amount of lines)
func (cmd *Command) LongDescription() string {
	return ""
}

// Execute is the main function here. It is responsible to
// start the execution of the command.
//
// `args` are the arguments left unused by verb itself and options.
func (cmd *Command) Execute(args []string) error {
	if len(args) != 0 {
		return commands.ErrArgs{Err: fmt.Errorf("there are extra arguments")}
	}
	stdout := cmd.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	t := table.NewWriter()
	t.SetOutputMirror(stdout)
	t.SetTitle("Controller Generations")
	t.AppendHeader(table.Row{"Name", "Receiver Enable", "DQS", "Verify Latency", "Retries"})
	for _, name := range training.Names() {
		g, err := training.Lookup(name)
		if err != nil {
			return err
		}
		dqs := "read, write"
		if g.TwoD {
			dqs = "2-D"
		}
		t.AppendRow(table.Row{g.Name, g.Strategy, dqs, g.MaxRdLatency.Verify, g.MaxRetries})
	}
	t.Render()
	return nil
}
