// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package rcven

import (
	"fmt"

	"github.com/linuxboot/memtrain/pkg/dct"
	"github.com/linuxboot/memtrain/pkg/log"
	"github.com/linuxboot/memtrain/pkg/pattern"
)

// Oracle decides whether the current receiver enable setting of a rank
// lets data through, by any means other than the receiver enable sweep.
type Oracle interface {
	Probe(ch, rank int) (pattern.Bitmap, error)
}

// SeedTable provides per-lane starting values for the seed search.
type SeedTable interface {
	Seeds(pkg string, registered bool, dimm int) ([]dct.Delay, error)
}

// SeedKey selects a row of a SeedMap.
type SeedKey struct {
	Package    string
	Registered bool
}

// SeedMap is a SeedTable with the same seeds for every DIMM.
type SeedMap map[SeedKey][]dct.Delay

// Seeds implements SeedTable.
func (m SeedMap) Seeds(pkg string, registered bool, dimm int) ([]dct.Delay, error) {
	seeds, ok := m[SeedKey{Package: pkg, Registered: registered}]
	if !ok {
		return nil, fmt.Errorf("no receiver enable seeds for package %q (registered: %v)", pkg, registered)
	}
	if len(seeds) < dct.DataLanes {
		return nil, fmt.Errorf("package %q has %d seeds, expected %d", pkg, len(seeds), dct.DataLanes)
	}
	return seeds, nil
}

// SeedSearch starts every lane at its seed scaled to the current memory
// clock and steps one gross unit at a time. The last candidate the
// oracle accepts before the first rejection, less Margin, is the
// result. Each rank is searched on its own.
type SeedSearch struct {
	Seeds  SeedTable
	Oracle Oracle
	// BaseClock is the memory clock in MHz the seeds are given for.
	BaseClock uint32
	// Margin is subtracted from the last passing candidate.
	Margin int
}

var _ Strategy = SeedSearch{}

// Name implements Strategy.
func (SeedSearch) Name() string { return "seed" }

// Retryable implements Strategy.
func (SeedSearch) Retryable() bool { return true }

// Train implements Strategy.
func (s SeedSearch) Train(cfg *Config, ch int, g dct.Group) (Result, error) {
	if s.BaseClock == 0 {
		return Result{}, fmt.Errorf("seed base clock is not set")
	}
	res := Result{Delays: map[int][]dct.Delay{}}
	for _, rank := range g.Ranks {
		delays, missing, err := s.rank(cfg, ch, g.Slot, rank)
		if err != nil {
			return Result{}, err
		}
		res.Missing = append(res.Missing, missing...)
		res.Delays[rank] = delays
	}
	return res, nil
}

type seedLane struct {
	cand   int
	last   int
	passed bool
	done   bool
}

func (s SeedSearch) rank(cfg *Config, ch, slot, rank int) ([]dct.Delay, []*dct.ErrNoCandidate, error) {
	logger := log.OrDefault(cfg.Log)
	seeds, err := s.Seeds.Seeds(cfg.Topology.Package(), cfg.Topology.Registered(), rank/2)
	if err != nil {
		return nil, nil, err
	}
	f := cfg.Programmer.Layout.Format(dct.ReceiverEnable)
	clk := cfg.Clocks.MemClock()
	var state [dct.DataLanes]seedLane
	for lane := range state {
		state[lane].cand = int(seeds[lane]) * int(clk) / int(s.BaseClock)
	}

	step := f.UnitsPerClock()
	for {
		delays := make([]dct.Delay, dct.DataLanes)
		active := 0
		for lane := range state {
			st := &state[lane]
			if !st.done && st.cand > int(f.Max()) {
				st.done = true
			}
			if st.done {
				delays[lane] = dct.Delay(st.last)
				continue
			}
			delays[lane] = dct.Delay(st.cand)
			active++
		}
		if active == 0 {
			break
		}
		if err := cfg.Programmer.Program(ch, dct.ReceiverEnable, slot, delays); err != nil {
			return nil, nil, err
		}
		cfg.settle()
		bm, err := s.Oracle.Probe(ch, rank)
		if err != nil {
			return nil, nil, err
		}
		for lane := range state {
			st := &state[lane]
			if st.done {
				continue
			}
			switch {
			case bm.Pass(lane):
				st.passed, st.last = true, st.cand
			case st.passed:
				st.done = true
			}
			st.cand += step
		}
	}

	result := make([]dct.Delay, dct.DataLanes)
	var missing []*dct.ErrNoCandidate
	for lane, st := range state {
		if !st.passed {
			missing = append(missing, &dct.ErrNoCandidate{Channel: ch, Rank: rank, Lane: lane})
			continue
		}
		d, clamped := f.Clamp(st.last - s.Margin)
		if clamped {
			logger.Debugf("channel %d rank %d lane %d: receiver enable %d less margin %d underflows, clamped to %d",
				ch, rank, lane, st.last, s.Margin, d)
		}
		result[lane] = d
	}
	return result, missing, nil
}
