// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package train

import (
	"bytes"
	"embed"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/linuxboot/memtrain/cmds/memtrain/commands"
	"github.com/linuxboot/memtrain/pkg/dct"
	"github.com/linuxboot/memtrain/pkg/hw"
	"github.com/linuxboot/memtrain/pkg/hw/sim"
	"github.com/linuxboot/memtrain/pkg/log"
	"github.com/linuxboot/memtrain/pkg/nvsave"
	"github.com/linuxboot/memtrain/pkg/report"
	"github.com/linuxboot/memtrain/pkg/training"
)

//go:embed profiles/*.json
var profiles embed.FS

var _ commands.Command = (*Command)(nil)

// Command trains a simulated board, or the host controller.
type Command struct {
	Profile     string `short:"p" long:"profile" description:"path to a board profile (JSON); the built-in profile of the generation if empty"`
	Generation  string `short:"g" long:"generation" description:"controller generation" default:"gen2"`
	Save        string `short:"o" long:"save" description:"write a resume image to this file"`
	Compression string `long:"compression" description:"resume image compression [none, lz4, xz, zstd]" default:"lz4"`
	RegionSize  int    `long:"region-size" description:"size of the non-volatile region holding the resume image" default:"4096"`
	Debug       bool   `short:"d" long:"debug" description:"print diagnostic messages"`

	Host     bool   `long:"host" description:"train the controller of this host through /dev/mem and the msr devices"`
	ECAMBase uint64 `long:"ecam-base" description:"physical base of the PCI ECAM window (hex), with --host" base:"16" default:"e0000000"`

	// Stdout receives the report; os.Stdout if nil.
	Stdout io.Writer `no-flag:"true"`
}

// ShortDescription explains what this command does in one line
func (cmd *Command) ShortDescription() string {
	return "runs DRAM signal timing calibration"
}

// LongDescription explains what this verb does (without limitation in amount of lines)
func (cmd *Command) LongDescription() string {
	return `Runs receiver enable, DQS and read latency training and prints the
calibration result table. Without --host the board is simulated from a
profile. The topology and clock limits always come from the profile.`
}

func loadProfile(path, generation string) (sim.Profile, error) {
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return sim.Profile{}, fmt.Errorf("unable to open the board profile '%s': %w", path, err)
		}
		defer f.Close()
		return sim.LoadProfile(f)
	}
	b, err := profiles.ReadFile("profiles/" + strings.ToLower(generation) + ".json")
	if err != nil {
		return sim.Profile{}, fmt.Errorf("no built-in profile for generation '%s'", generation)
	}
	return sim.LoadProfile(bytes.NewReader(b))
}

// Execute is the main function here. It is responsible to
// start the execution of the command.
//
// `args` are the arguments left unused by verb itself and options.
func (cmd *Command) Execute(args []string) error {
	if len(args) != 0 {
		return commands.ErrArgs{Err: fmt.Errorf("there are extra arguments")}
	}
	gen, err := training.Lookup(cmd.Generation)
	if err != nil {
		return commands.ErrArgs{Err: err}
	}
	compression, err := nvsave.ParseCompression(cmd.Compression)
	if err != nil {
		return commands.ErrArgs{Err: err}
	}
	stdout := cmd.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	logger := log.New(os.Stderr, cmd.Debug)

	p, err := loadProfile(cmd.Profile, gen.Name)
	if err != nil {
		return err
	}
	layout, err := dct.NewLayout(gen.Layout)
	if err != nil {
		return err
	}
	board, err := sim.New(layout, p)
	if err != nil {
		return err
	}
	platform := training.Platform{
		Registers: board.Registers(),
		Memory:    board,
		Window:    board,
		Mode:      board,
		Topology:  board,
		Clocks:    board,
		Delay:     hw.NoDelay{},
	}
	if cmd.Host {
		if err := hostPlatform(&platform, cmd.ECAMBase); err != nil {
			return err
		}
	}

	trainer, err := training.New(gen, platform, logger)
	if err != nil {
		return err
	}
	res, runErr := trainer.Run()
	if res != nil {
		report.Stages(stdout, res)
		report.Table(stdout, res.Table, dct.Lanes(p.ECC))
	}
	if runErr != nil {
		return fmt.Errorf("training failed: %w", runErr)
	}

	if cmd.Save == "" {
		return nil
	}
	region := make([]byte, cmd.RegionSize)
	n, err := nvsave.WriteTo(region, res.Table, compression)
	if err != nil {
		return fmt.Errorf("unable to build the resume image: %w", err)
	}
	if err := os.WriteFile(cmd.Save, region, 0644); err != nil {
		return fmt.Errorf("unable to write the resume image '%s': %w", cmd.Save, err)
	}
	logger.Debugf("saved a %d bytes %s resume image to '%s'", n, compression, cmd.Save)
	return nil
}
