// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dqs

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/linuxboot/memtrain/pkg/dct"
	"github.com/linuxboot/memtrain/pkg/pattern"
	"github.com/linuxboot/memtrain/pkg/window"
)

// grid is the pass record of one lane: one row of read steps per write
// step.
type grid []window.Steps

// fold intersects every anti-phase column into the nominal column it
// was measured at and drops the anti-phase columns.
func (g grid) fold(nominal int) grid {
	result := make(grid, len(g))
	for w, row := range g {
		folded := window.New(nominal)
		for r := 0; r < nominal; r++ {
			pass := row.Pass(r)
			if anti := nominal + r; anti < row.Len() {
				pass = pass && row.Pass(anti)
			}
			folded.Set(r, pass)
		}
		result[w] = folded
	}
	return result
}

// readWindow is the longest run over all rows; the first row wins a tie.
func (g grid) readWindow() window.Window {
	var best window.Window
	for _, row := range g {
		if w := row.Longest(); w.Length > best.Length {
			best = w
		}
	}
	return best
}

// writeWindow is the longest run over all columns; the first column
// wins a tie.
func (g grid) writeWindow() window.Window {
	if len(g) == 0 {
		return window.Window{}
	}
	var best window.Window
	for r := 0; r < g[0].Len(); r++ {
		col := window.New(len(g))
		for w, row := range g {
			col.Set(w, row.Pass(r))
		}
		if w := col.Longest(); w.Length > best.Length {
			best = w
		}
	}
	return best
}

// Train2D sweeps write DQS against read DQS and centers both. Reads at
// column r >= ReadSteps use read delay r-ReadSteps and the inverted
// pattern, and are folded into the nominal columns.
func (e *Engine) Train2D(ch int) error {
	nominal, err := e.steps(dct.ReadDQS)
	if err != nil {
		return err
	}
	writes, err := e.steps(dct.WriteDQS)
	if err != nil {
		return err
	}
	cols := nominal + e.AntiPhaseSteps
	if e.AntiPhaseSteps < 0 || e.AntiPhaseSteps > nominal || cols > window.MaxSteps {
		return fmt.Errorf("%d anti-phase columns do not fit %d read steps", e.AntiPhaseSteps, nominal)
	}

	var errs *multierror.Error
	for _, g := range dct.Groups(e.Programmer.Layout, e.Topology, ch) {
		addrs, err := e.addresses(ch, g)
		if err != nil {
			return err
		}
		baseRead, err := e.Programmer.Read(ch, dct.ReadDQS, g.Slot, e.lanes())
		if err != nil {
			return err
		}
		baseWrite, err := e.Programmer.Read(ch, dct.WriteDQS, g.Slot, e.lanes())
		if err != nil {
			return err
		}
		var grids [dct.DataLanes]grid
		for lane := range grids {
			grids[lane] = make(grid, writes)
			for w := range grids[lane] {
				grids[lane][w] = window.AllPass(cols)
			}
		}
		for w := 0; w < writes; w++ {
			if err := e.Programmer.ProgramAll(ch, dct.WriteDQS, g.Slot, e.lanes(), dct.Delay(w)); err != nil {
				return err
			}
			e.settle()
			for _, addr := range addrs {
				if err := e.Patterns.WritePatternBoth(addr, pattern.Primary); err != nil {
					return err
				}
			}
			for r := 0; r < cols; r++ {
				delay, id, off := r, pattern.Primary, uint64(0)
				if r >= nominal {
					delay, id, off = r-nominal, pattern.AntiPhase, pattern.AntiPhaseOffset
				}
				if err := e.Programmer.ProgramAll(ch, dct.ReadDQS, g.Slot, e.lanes(), dct.Delay(delay)); err != nil {
					return err
				}
				e.settle()
				bm := pattern.Full(dct.DataLanes)
				for _, addr := range addrs {
					raw, err := e.Patterns.ReadAndCompare(addr+off, id)
					if err != nil {
						return err
					}
					bm &= e.Patterns.ChannelLanes(raw, ch)
				}
				for lane := range grids {
					if !bm.Pass(lane) {
						grids[lane][w].Set(r, false)
					}
				}
			}
		}

		var reads, wrs [dct.DataLanes]window.Window
		for lane := range grids {
			folded := grids[lane].fold(nominal)
			reads[lane] = folded.readWindow()
			wrs[lane] = folded.writeWindow()
		}
		if errs, err = e.commit(ch, g, dct.WriteDQS, baseWrite, wrs, errs); err != nil {
			return err
		}
		if errs, err = e.commit(ch, g, dct.ReadDQS, baseRead, reads, errs); err != nil {
			return err
		}
	}
	return errs.ErrorOrNil()
}
