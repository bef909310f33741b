// Copyright 2017-2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// memtrain calibrates the DRAM signal timing of a memory controller.
//
// Synopsis:
//
//	memtrain train [--profile BOARD_JSON] [--generation gen1|gen2] [--save IMAGE] [options]
//	memtrain show -f IMAGE [--format text|json]
//	memtrain generations
//
// An example:
//
//	memtrain train --generation gen2 --save resume.bin --compression zstd
//	memtrain show -f resume.bin
//
// Description:
//
//	train:       Runs the training sequence and prints the calibration result table
//	show:        Prints a resume image
//	generations: Lists the supported controller generations
package main

import (
	"log"

	"github.com/jessevdk/go-flags"

	"github.com/linuxboot/memtrain/cmds/memtrain/commands"
	"github.com/linuxboot/memtrain/cmds/memtrain/commands/generations"
	"github.com/linuxboot/memtrain/cmds/memtrain/commands/show"
	"github.com/linuxboot/memtrain/cmds/memtrain/commands/train"
)

var (
	knownCommands = map[string]commands.Command{
		"train":       &train.Command{},
		"show":        &show.Command{},
		"generations": &generations.Command{},
	}
)

func main() {
	flagsParser := flags.NewParser(nil, flags.Default)
	for commandName, command := range knownCommands {
		_, err := flagsParser.AddCommand(commandName, command.ShortDescription(), command.LongDescription(), command)
		if err != nil {
			panic(err)
		}
	}

	// parse arguments and execute the appropriate command
	if _, err := flagsParser.Parse(); err != nil {
		log.Fatal(err)
	}
}
