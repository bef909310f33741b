// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rcven

import (
	"fmt"

	"github.com/linuxboot/memtrain/pkg/dct"
	"github.com/linuxboot/memtrain/pkg/pattern"
	"github.com/linuxboot/memtrain/pkg/window"
)

// DefaultAlternateOffset is the distance between the primary and the
// alternate test pattern of a rank.
const DefaultAlternateOffset = 0x1000

// CoarseSweep steps the receiver enable delay over its whole range and
// accepts, per lane, the first run of Threshold consecutive passing
// steps. The committed value sits 7/8 into that run. Ranks sharing a
// register slot must pass together and receive the same value.
type CoarseSweep struct {
	// Step is the delay increment in format units.
	Step int
	// Threshold is the passing run length, in steps, that makes a
	// candidate.
	Threshold int
	// AlternateOffset locates the alternate pattern; zero means
	// DefaultAlternateOffset.
	AlternateOffset uint64
}

var _ Strategy = CoarseSweep{}

// Name implements Strategy.
func (CoarseSweep) Name() string { return "coarse" }

// Retryable implements Strategy.
func (CoarseSweep) Retryable() bool { return false }

type laneRun struct {
	start int
	run   int
	done  bool
}

// Train implements Strategy.
func (s CoarseSweep) Train(cfg *Config, ch int, g dct.Group) (Result, error) {
	if s.Step <= 0 || s.Threshold <= 0 {
		return Result{}, fmt.Errorf("invalid coarse sweep step %d threshold %d", s.Step, s.Threshold)
	}
	alt := s.AlternateOffset
	if alt == 0 {
		alt = DefaultAlternateOffset
	}
	addrs := make([]uint64, len(g.Ranks))
	for i, rank := range g.Ranks {
		addr, err := cfg.Topology.TestAddress(ch, rank)
		if err != nil {
			return Result{}, err
		}
		addrs[i] = addr
		if err := cfg.Patterns.WritePatternBoth(addr, pattern.Primary); err != nil {
			return Result{}, err
		}
		if err := cfg.Patterns.WritePatternBoth(addr+alt, pattern.Alternate); err != nil {
			return Result{}, err
		}
	}

	f := cfg.Programmer.Layout.Format(dct.ReceiverEnable)
	lanes := dct.Lanes(cfg.Topology.ECC())
	var runs [dct.DataLanes]laneRun
	remaining := dct.DataLanes
	for d := 0; d <= int(f.Max()) && remaining > 0; d += s.Step {
		if err := cfg.Programmer.ProgramAll(ch, dct.ReceiverEnable, g.Slot, lanes, dct.Delay(d)); err != nil {
			return Result{}, err
		}
		cfg.settle()
		bm := pattern.Full(dct.DataLanes)
		for _, addr := range addrs {
			primary, err := cfg.Patterns.ReadAndCompareBoth(addr, pattern.Primary)
			if err != nil {
				return Result{}, err
			}
			alternate, err := cfg.Patterns.ReadAndCompareBoth(addr+alt, pattern.Alternate)
			if err != nil {
				return Result{}, err
			}
			bm &= cfg.Patterns.ChannelLanes(primary&alternate, ch)
		}
		for lane := range runs {
			r := &runs[lane]
			if r.done {
				continue
			}
			if !bm.Pass(lane) {
				r.run = 0
				continue
			}
			if r.run == 0 {
				r.start = d
			}
			r.run++
			if r.run >= s.Threshold {
				r.done = true
				remaining--
			}
		}
	}

	res := Result{Delays: map[int][]dct.Delay{}, Windows: map[int][]window.Window{}}
	span := s.Threshold * s.Step
	delays := make([]dct.Delay, dct.DataLanes)
	windows := make([]window.Window, dct.DataLanes)
	for lane, r := range runs {
		if !r.done {
			res.Missing = append(res.Missing, &dct.ErrNoCandidate{Channel: ch, Rank: g.Ranks[0], Lane: lane})
			continue
		}
		delays[lane] = dct.Delay(r.start + span*7/8)
		windows[lane] = window.Window{Start: r.start, Length: span}
	}
	for _, rank := range g.Ranks {
		res.Delays[rank] = delays
		res.Windows[rank] = windows
	}
	return res, nil
}
