// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rcven trains the receiver enable delay, the point at which
// the controller opens its read data receiver relative to the read
// command.
//
// Two strategies exist: CoarseSweep scans the whole delay range looking
// for a sufficiently long passing run, SeedSearch steps from a
// frequency-scaled seed using the read DQS sweep as a pass/fail oracle.
package rcven

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/linuxboot/memtrain/pkg/dct"
	"github.com/linuxboot/memtrain/pkg/hw"
	"github.com/linuxboot/memtrain/pkg/log"
	"github.com/linuxboot/memtrain/pkg/pattern"
	"github.com/linuxboot/memtrain/pkg/window"
)

// Config is the environment shared by the strategies.
type Config struct {
	Programmer *dct.Programmer
	Patterns   *pattern.Engine
	Topology   hw.Topology
	Clocks     hw.Clocks
	Delay      hw.Delayer
	Table      *dct.Table
	// ECC derives the check lane from two data lanes.
	ECC dct.ECCInterpolation
	// Settle is the number of memory clocks to wait after programming
	// a candidate.
	Settle uint32
	Log    log.Logger
}

// Pass identifies one training attempt.
type Pass struct {
	Attempt     int
	MemClock    uint32
	MinMemClock uint32
}

// First reports whether this is the initial attempt at the minimum
// memory clock, after which no fallback remains.
func (p Pass) First() bool {
	return p.Attempt == 0 && p.MemClock <= p.MinMemClock
}

// Result is the outcome of training one slot group.
type Result struct {
	// Delays holds the data lane delays of each rank.
	Delays map[int][]dct.Delay
	// Windows optionally holds the accepted run of each lane.
	Windows map[int][]window.Window
	// Missing lists the lanes for which no candidate passed.
	Missing []*dct.ErrNoCandidate
}

// Strategy is one receiver enable search algorithm.
type Strategy interface {
	Name() string
	// Train searches the delays of every rank of group g.
	Train(cfg *Config, ch int, g dct.Group) (Result, error)
	// Retryable reports whether a missing candidate may be retried
	// with a longer write latency instead of failing the channel.
	Retryable() bool
}

// ErrRetry requests a retry of the whole training sequence.
type ErrRetry struct {
	Err error
}

// Error implements error.
func (err *ErrRetry) Error() string {
	return fmt.Sprintf("receiver enable training requests a retry: %v", err.Err)
}

// Unwrap returns the cause.
func (err *ErrRetry) Unwrap() error {
	return err.Err
}

// IsRetry reports whether err asks for a retry.
func IsRetry(err error) bool {
	var r *ErrRetry
	return errors.As(err, &r)
}

// Train runs strategy s on every slot group of channel ch, commits the
// results to the registers and the table and derives the ECC lane.
func Train(cfg *Config, s Strategy, pass Pass, ch int) error {
	logger := log.OrDefault(cfg.Log)
	var missing *multierror.Error
	for _, g := range dct.Groups(cfg.Programmer.Layout, cfg.Topology, ch) {
		res, err := s.Train(cfg, ch, g)
		if err != nil {
			return fmt.Errorf("channel %d slot %d: %s receiver enable training: %w", ch, g.Slot, s.Name(), err)
		}
		for _, m := range res.Missing {
			missing = multierror.Append(missing, m)
		}
		if len(res.Missing) > 0 {
			continue
		}
		if err := commit(cfg, ch, g, res); err != nil {
			return err
		}
		logger.Debugf("channel %d slot %d: receiver enable %v", ch, g.Slot, res.Delays)
	}
	if err := missing.ErrorOrNil(); err != nil {
		cfg.Table.Flag(ch, dct.StatusNoCandidate)
		if s.Retryable() && !pass.First() {
			cfg.Table.Flag(ch, dct.StatusRetry)
			return &ErrRetry{Err: err}
		}
		cfg.Table.Flag(ch, dct.StatusFatal)
		return err
	}
	return nil
}

func commit(cfg *Config, ch int, g dct.Group, res Result) error {
	f := cfg.Programmer.Layout.Format(dct.ReceiverEnable)
	lanes := dct.Lanes(cfg.Topology.ECC())
	sum := make([]int, dct.MaxLanes)
	for _, rank := range g.Ranks {
		delays := make([]dct.Delay, dct.MaxLanes)
		copy(delays, res.Delays[rank])
		if cfg.Topology.ECC() {
			d, clamped := cfg.ECC.Derive(delays, f)
			if clamped {
				log.OrDefault(cfg.Log).Debugf("channel %d rank %d: ECC receiver enable underflows, clamped to %d", ch, rank, d)
				cfg.Table.Flag(ch, dct.StatusECCClamp)
			}
			delays[dct.ECCLane] = d
		}
		for lane := 0; lane < lanes; lane++ {
			k := dct.Key{Channel: ch, Rank: rank, Signal: dct.ReceiverEnable, Lane: lane}
			cfg.Table.Set(k, delays[lane])
			if w := res.Windows[rank]; lane < len(w) {
				cfg.Table.SetWindow(k, w[lane])
			}
			sum[lane] += int(delays[lane])
		}
	}
	// ranks sharing a slot get the average of their own results
	reg := make([]dct.Delay, lanes)
	for lane := range reg {
		reg[lane] = dct.Delay(sum[lane] / len(g.Ranks))
	}
	if err := cfg.Programmer.Program(ch, dct.ReceiverEnable, g.Slot, reg); err != nil {
		return fmt.Errorf("channel %d slot %d: unable to commit receiver enable: %w", ch, g.Slot, err)
	}
	return nil
}

func (cfg *Config) settle() {
	if cfg.Delay != nil && cfg.Settle != 0 {
		cfg.Delay.WaitMemClocks(cfg.Settle)
	}
}
