// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dqs centers the read and write data strobes inside their
// passing windows.
//
// Every sweep accumulates, per lane, the steps at which all ranks of a
// register slot passed, then commits the center of the longest run of
// that record. A lane without any passing step fails alone; the other
// lanes of the channel still commit.
package dqs

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/linuxboot/memtrain/pkg/dct"
	"github.com/linuxboot/memtrain/pkg/hw"
	"github.com/linuxboot/memtrain/pkg/log"
	"github.com/linuxboot/memtrain/pkg/pattern"
	"github.com/linuxboot/memtrain/pkg/window"
)

// Engine runs DQS position training.
type Engine struct {
	Programmer *dct.Programmer
	Patterns   *pattern.Engine
	Topology   hw.Topology
	Delay      hw.Delayer
	Table      *dct.Table
	ECC        dct.ECCInterpolation
	Log        log.Logger

	// ReadSteps and WriteSteps are the sweep lengths, starting at zero.
	ReadSteps  int
	WriteSteps int
	// AntiPhaseSteps is the number of extra read columns of the two
	// dimensional sweep, measured with the inverted pattern.
	AntiPhaseSteps int
	// MinWindow is the run length below which a lane is degraded.
	MinWindow int
	// ProbeStride is the read step increment used by Probe.
	ProbeStride int
	// Settle is the number of memory clocks to wait after programming.
	Settle uint32
}

func (e *Engine) settle() {
	if e.Delay != nil && e.Settle != 0 {
		e.Delay.WaitMemClocks(e.Settle)
	}
}

func (e *Engine) steps(sig dct.Signal) (int, error) {
	n := e.ReadSteps
	if sig == dct.WriteDQS {
		n = e.WriteSteps
	}
	limit := int(e.Programmer.Layout.Format(sig).Max()) + 1
	if n <= 0 || n > window.MaxSteps || n > limit {
		return 0, fmt.Errorf("%s sweep of %d steps is out of range [1, %d]", sig, n, min(limit, window.MaxSteps))
	}
	return n, nil
}

func (e *Engine) addresses(ch int, g dct.Group) ([]uint64, error) {
	addrs := make([]uint64, len(g.Ranks))
	for i, rank := range g.Ranks {
		addr, err := e.Topology.TestAddress(ch, rank)
		if err != nil {
			return nil, err
		}
		addrs[i] = addr
	}
	return addrs, nil
}

func (e *Engine) lanes() int {
	return dct.Lanes(e.Topology.ECC())
}

// TrainRead centers the read DQS delay of every lane of channel ch.
func (e *Engine) TrainRead(ch int) error {
	return e.sweep(ch, dct.ReadDQS)
}

// TrainWrite centers the write DQS delay of every lane of channel ch.
// The read DQS delays must already be trained.
func (e *Engine) TrainWrite(ch int) error {
	return e.sweep(ch, dct.WriteDQS)
}

// earlyExit skips a step for the remaining ranks once every rank tested
// at that step saw no passing lane.
type earlyExit struct {
	tested [window.MaxSteps]int
	passed [window.MaxSteps]bool
}

func (x *earlyExit) skip(step int) bool {
	return x.tested[step] > 0 && !x.passed[step]
}

func (x *earlyExit) record(step int, bm pattern.Bitmap) {
	x.tested[step]++
	if bm != 0 {
		x.passed[step] = true
	}
}

func (e *Engine) sweep(ch int, sig dct.Signal) error {
	n, err := e.steps(sig)
	if err != nil {
		return err
	}
	var (
		exit earlyExit
		errs *multierror.Error
	)
	for _, g := range dct.Groups(e.Programmer.Layout, e.Topology, ch) {
		addrs, err := e.addresses(ch, g)
		if err != nil {
			return err
		}
		if sig == dct.ReadDQS {
			for _, addr := range addrs {
				if err := e.Patterns.WritePattern(addr, pattern.Primary); err != nil {
					return err
				}
			}
		}
		base, err := e.Programmer.Read(ch, sig, g.Slot, e.lanes())
		if err != nil {
			return err
		}
		var acc [dct.DataLanes]window.Steps
		for lane := range acc {
			acc[lane] = window.AllPass(n)
		}
		for step := 0; step < n; step++ {
			if err := e.Programmer.ProgramAll(ch, sig, g.Slot, e.lanes(), dct.Delay(step)); err != nil {
				return err
			}
			e.settle()
			for _, addr := range addrs {
				var bm pattern.Bitmap
				if !exit.skip(step) {
					if sig == dct.WriteDQS {
						if err := e.Patterns.WritePattern(addr, pattern.Primary); err != nil {
							return err
						}
					}
					raw, err := e.Patterns.ReadAndCompare(addr, pattern.Primary)
					if err != nil {
						return err
					}
					bm = e.Patterns.ChannelLanes(raw, ch)
					exit.record(step, bm)
				}
				for lane := range acc {
					if !bm.Pass(lane) {
						acc[lane].Set(step, false)
					}
				}
			}
		}
		var windows [dct.DataLanes]window.Window
		for lane := range acc {
			windows[lane] = acc[lane].Longest()
		}
		errs, err = e.commit(ch, g, sig, base, windows, errs)
		if err != nil {
			return err
		}
	}
	return errs.ErrorOrNil()
}

// commit programs the window centers of one slot group and records them
// for every rank of the group. Lanes without a window get their value
// from base, the register contents before the sweep.
func (e *Engine) commit(ch int, g dct.Group, sig dct.Signal, base []dct.Delay, windows [dct.DataLanes]window.Window, errs *multierror.Error) (*multierror.Error, error) {
	logger := log.OrDefault(e.Log)
	f := e.Programmer.Layout.Format(sig)
	delays := make([]dct.Delay, len(base))
	copy(delays, base)
	for lane, w := range windows {
		if w.Empty() {
			for _, rank := range g.Ranks {
				errs = multierror.Append(errs, &dct.ErrNoWindow{Key: dct.Key{Channel: ch, Rank: rank, Signal: sig, Lane: lane}})
			}
			e.Table.Flag(ch, dct.StatusNoWindow|dct.StatusFatal)
			continue
		}
		if w.Length < e.MinWindow {
			e.Table.Flag(ch, dct.StatusSmallWindow)
			logger.Debugf("%v", &dct.ErrSmallWindow{
				Key:    dct.Key{Channel: ch, Rank: g.Ranks[0], Signal: sig, Lane: lane},
				Window: w,
				Min:    e.MinWindow,
			})
		}
		delays[lane] = dct.Delay(w.Center())
		for _, rank := range g.Ranks {
			k := dct.Key{Channel: ch, Rank: rank, Signal: sig, Lane: lane}
			e.Table.Set(k, delays[lane])
			e.Table.SetWindow(k, w)
		}
	}
	if e.Topology.ECC() {
		d, clamped := e.ECC.Derive(delays, f)
		if clamped {
			logger.Debugf("channel %d slot %d: ECC %s underflows, clamped to %d", ch, g.Slot, sig, d)
			e.Table.Flag(ch, dct.StatusECCClamp)
		}
		delays[dct.ECCLane] = d
		for _, rank := range g.Ranks {
			e.Table.Set(dct.Key{Channel: ch, Rank: rank, Signal: sig, Lane: dct.ECCLane}, d)
		}
	}
	if err := e.Programmer.Program(ch, sig, g.Slot, delays); err != nil {
		return errs, fmt.Errorf("channel %d slot %d: unable to commit %s: %w", ch, g.Slot, sig, err)
	}
	logger.Debugf("channel %d slot %d: %s %v", ch, g.Slot, sig, delays)
	return errs, nil
}

// Probe serves as the receiver enable oracle: with the current receiver
// enable setting it sweeps the read DQS delay of one rank and reports
// the lanes that passed at any step. The read DQS registers are
// restored.
func (e *Engine) Probe(ch, rank int) (pattern.Bitmap, error) {
	n, err := e.steps(dct.ReadDQS)
	if err != nil {
		return 0, err
	}
	addr, err := e.Topology.TestAddress(ch, rank)
	if err != nil {
		return 0, err
	}
	stride := e.ProbeStride
	if stride <= 0 {
		stride = 1
	}
	slot := e.Programmer.Layout.Slot(rank)
	saved, err := e.Programmer.Read(ch, dct.ReadDQS, slot, e.lanes())
	if err != nil {
		return 0, err
	}
	if err := e.Patterns.WritePattern(addr, pattern.Primary); err != nil {
		return 0, err
	}
	var found pattern.Bitmap
	for step := 0; step < n && found != pattern.Full(dct.DataLanes); step += stride {
		if err := e.Programmer.ProgramAll(ch, dct.ReadDQS, slot, e.lanes(), dct.Delay(step)); err != nil {
			return 0, err
		}
		e.settle()
		bm, err := e.Patterns.ReadAndCompare(addr, pattern.Primary)
		if err != nil {
			return 0, err
		}
		found |= e.Patterns.ChannelLanes(bm, ch)
	}
	if err := e.Programmer.Program(ch, dct.ReadDQS, slot, saved); err != nil {
		return 0, err
	}
	return found, nil
}
