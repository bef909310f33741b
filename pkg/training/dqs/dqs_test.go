// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dqs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxboot/memtrain/pkg/dct"
	"github.com/linuxboot/memtrain/pkg/hw"
	"github.com/linuxboot/memtrain/pkg/hw/sim"
	"github.com/linuxboot/memtrain/pkg/log"
	"github.com/linuxboot/memtrain/pkg/pattern"
	"github.com/linuxboot/memtrain/pkg/window"
)

var (
	sharedLane = sim.LaneProfile{
		RcvEn:    window.Window{Start: 70, Length: 40},
		ReadDQS:  window.Window{Start: 40, Length: 15},
		WriteDQS: window.Window{Start: 10, Length: 30},
	}
	perRankLane = sim.LaneProfile{
		RcvEn:    window.Window{Start: 60, Length: 100},
		ReadDQS:  window.Window{Start: 10, Length: 16},
		WriteDQS: window.Window{Start: 6, Length: 18},
	}
)

type rig struct {
	board  *sim.Board
	engine *Engine
}

// newRig programs every slot with a passing receiver enable and the
// given DQS defaults.
func newRig(t *testing.T, desc dct.LayoutDescription, p sim.Profile, rcv, readDQS, writeDQS dct.Delay) *rig {
	layout, err := dct.NewLayout(desc)
	require.NoError(t, err)
	b, err := sim.New(layout, p)
	require.NoError(t, err)
	require.NoError(t, b.SetMode(hw.ModeState{SIMD: true, LargeAddrs: true}))

	prog := &dct.Programmer{Regs: b.Registers(), Layout: layout}
	for ch := range p.Channels {
		for _, g := range dct.Groups(layout, b, ch) {
			require.NoError(t, prog.ProgramAll(ch, dct.ReceiverEnable, g.Slot, dct.MaxLanes, rcv))
			require.NoError(t, prog.ProgramAll(ch, dct.ReadDQS, g.Slot, dct.MaxLanes, readDQS))
			require.NoError(t, prog.ProgramAll(ch, dct.WriteDQS, g.Slot, dct.MaxLanes, writeDQS))
		}
	}
	steps := 32
	if !desc.PerRank {
		steps = 64
	}
	return &rig{
		board: b,
		engine: &Engine{
			Programmer:     prog,
			Patterns:       &pattern.Engine{Memory: b, Window: b, Ganged: p.Ganged},
			Topology:       b,
			Delay:          hw.NoDelay{},
			Table:          dct.NewTable(),
			ECC:            dct.ECCInterpolation{LaneA: 3, LaneB: 4, Num: 1, Den: 2},
			Log:            log.New(io.Discard, false),
			ReadSteps:      steps,
			WriteSteps:     32,
			AntiPhaseSteps: 16,
			MinWindow:      6,
			ProbeStride:    2,
		},
	}
}

func (r *rig) get(ch, rank int, sig dct.Signal, lane int) (dct.Delay, bool) {
	return r.engine.Table.Get(dct.Key{Channel: ch, Rank: rank, Signal: sig, Lane: lane})
}

func TestTrainReadCenter(t *testing.T) {
	t.Run("even_window_rounds_up", func(t *testing.T) {
		r := newRig(t, dct.PerRankLayout, sim.Uniform(1, []int{0}, perRankLane), 100, 0, 14)
		require.NoError(t, r.engine.TrainRead(0))
		for lane := 0; lane < dct.DataLanes; lane++ {
			d, ok := r.get(0, 0, dct.ReadDQS, lane)
			require.True(t, ok)
			assert.Equal(t, dct.Delay(18), d)
		}
		k := dct.Key{Channel: 0, Rank: 0, Signal: dct.ReadDQS, Lane: 0}
		assert.Equal(t, window.Window{Start: 10, Length: 16}, r.engine.Table.Window(k))
		regs, err := r.engine.Programmer.Read(0, dct.ReadDQS, 0, dct.DataLanes)
		require.NoError(t, err)
		assert.Equal(t, dct.Delay(18), regs[4])
	})
	t.Run("odd_window", func(t *testing.T) {
		r := newRig(t, dct.SharedRankLayout, sim.Uniform(1, []int{0}, sharedLane), 84, 0, 24)
		require.NoError(t, r.engine.TrainRead(0))
		d, ok := r.get(0, 0, dct.ReadDQS, 7)
		require.True(t, ok)
		assert.Equal(t, dct.Delay(47), d)
		assert.Equal(t, dct.Status(0), r.engine.Table.Status(0))
	})
}

func TestTrainReadLaneWithoutWindow(t *testing.T) {
	lanes := make([]sim.LaneProfile, dct.DataLanes)
	for i := range lanes {
		lanes[i] = perRankLane
	}
	lanes[5].ReadDQS = window.Window{}
	p := sim.Uniform(1, []int{0}, perRankLane)
	p.Channels[0].Ranks[0].Lanes = lanes
	r := newRig(t, dct.PerRankLayout, p, 100, 3, 14)

	err := r.engine.TrainRead(0)
	require.Error(t, err)
	var nw *dct.ErrNoWindow
	require.True(t, errors.As(err, &nw))
	assert.Equal(t, 5, nw.Key.Lane)
	assert.Equal(t, dct.ReadDQS, nw.Key.Signal)
	assert.True(t, r.engine.Table.Status(0).Has(dct.StatusNoWindow|dct.StatusFatal))

	for lane := 0; lane < dct.DataLanes; lane++ {
		d, ok := r.get(0, 0, dct.ReadDQS, lane)
		if lane == 5 {
			assert.False(t, ok)
			continue
		}
		require.True(t, ok)
		assert.Equal(t, dct.Delay(18), d)
	}
	// the failing lane keeps its register value
	regs, err := r.engine.Programmer.Read(0, dct.ReadDQS, 0, dct.DataLanes)
	require.NoError(t, err)
	assert.Equal(t, dct.Delay(3), regs[5])
}

func TestTrainReadSmallWindow(t *testing.T) {
	lane := perRankLane
	lane.ReadDQS = window.Window{Start: 20, Length: 4}
	r := newRig(t, dct.PerRankLayout, sim.Uniform(1, []int{0}, lane), 100, 0, 14)

	require.NoError(t, r.engine.TrainRead(0))
	d, ok := r.get(0, 0, dct.ReadDQS, 0)
	require.True(t, ok)
	assert.Equal(t, dct.Delay(22), d)
	st := r.engine.Table.Status(0)
	assert.True(t, st.Has(dct.StatusSmallWindow))
	assert.True(t, st.Degraded())
	assert.False(t, st.Has(dct.StatusFatal))
}

func TestTrainReadSharedRanks(t *testing.T) {
	p := sim.Uniform(1, []int{0, 1}, sharedLane)
	late := sharedLane
	late.ReadDQS = window.Window{Start: 44, Length: 16}
	p.Channels[0].Ranks[1].Lanes = []sim.LaneProfile{late}
	r := newRig(t, dct.SharedRankLayout, p, 84, 0, 24)

	before := r.board.Stats().LineReads
	require.NoError(t, r.engine.TrainRead(0))
	// rank 1 is only read at the 15 steps where rank 0 passed
	assert.Equal(t, 64+15, r.board.Stats().LineReads-before)

	// [40,55) and [44,60) pass together over [44,55)
	for _, rank := range []int{0, 1} {
		d, ok := r.get(0, rank, dct.ReadDQS, 0)
		require.True(t, ok)
		assert.Equal(t, dct.Delay(49), d)
	}
}

func TestTrainWrite(t *testing.T) {
	r := newRig(t, dct.PerRankLayout, sim.Uniform(2, []int{0}, perRankLane), 100, 18, 0)
	for ch := 0; ch < 2; ch++ {
		require.NoError(t, r.engine.TrainWrite(ch))
		d, ok := r.get(ch, 0, dct.WriteDQS, 3)
		require.True(t, ok)
		assert.Equal(t, dct.Delay(15), d)
	}
}

func TestTrain2D(t *testing.T) {
	p := sim.Uniform(1, []int{0, 1}, sim.LaneProfile{
		RcvEn:    window.Window{Start: 60, Length: 100},
		ReadDQS:  window.Window{Start: 8, Length: 18},
		WriteDQS: window.Window{Start: 6, Length: 18},
	})
	p.ECC = true
	r := newRig(t, dct.PerRankLayout, p, 100, 0, 0)

	require.NoError(t, r.engine.Train2D(0))
	for _, rank := range []int{0, 1} {
		for lane := 0; lane < dct.MaxLanes; lane++ {
			rd, ok := r.get(0, rank, dct.ReadDQS, lane)
			require.True(t, ok)
			assert.Equal(t, dct.Delay(17), rd)
			wr, ok := r.get(0, rank, dct.WriteDQS, lane)
			require.True(t, ok)
			assert.Equal(t, dct.Delay(15), wr)
		}
	}
	k := dct.Key{Channel: 0, Rank: 1, Signal: dct.WriteDQS, Lane: 0}
	assert.Equal(t, window.Window{Start: 6, Length: 18}, r.engine.Table.Window(k))
}

func TestECCClamp(t *testing.T) {
	lanes := make([]sim.LaneProfile, dct.DataLanes)
	for i := range lanes {
		lanes[i] = perRankLane
	}
	lanes[3].ReadDQS = window.Window{Start: 20, Length: 10}
	lanes[4].ReadDQS = window.Window{Start: 0, Length: 6}
	p := sim.Uniform(1, []int{0}, perRankLane)
	p.ECC = true
	p.Channels[0].Ranks[0].Lanes = lanes

	for _, debug := range []bool{false, true} {
		t.Run(fmt.Sprintf("debug=%v", debug), func(t *testing.T) {
			r := newRig(t, dct.PerRankLayout, p, 100, 0, 14)
			// 25 + (3-25)*2 underflows
			r.engine.ECC = dct.ECCInterpolation{LaneA: 3, LaneB: 4, Num: 2, Den: 1}
			var out bytes.Buffer
			r.engine.Log = log.New(&out, debug)

			require.NoError(t, r.engine.TrainRead(0))
			d, ok := r.get(0, 0, dct.ReadDQS, dct.ECCLane)
			require.True(t, ok)
			assert.Equal(t, dct.Delay(0), d)
			assert.True(t, r.engine.Table.Status(0).Has(dct.StatusECCClamp))
			if debug {
				assert.Contains(t, out.String(), "ECC ReadDQS underflows, clamped to 0")
			} else {
				assert.Empty(t, out.String())
			}
		})
	}
}

func TestProbe(t *testing.T) {
	r := newRig(t, dct.PerRankLayout, sim.Uniform(1, []int{0}, perRankLane), 100, 3, 14)
	bm, err := r.engine.Probe(0, 0)
	require.NoError(t, err)
	assert.Equal(t, pattern.Full(dct.DataLanes), bm)

	regs, err := r.engine.Programmer.Read(0, dct.ReadDQS, 0, dct.DataLanes)
	require.NoError(t, err)
	assert.Equal(t, dct.Delay(3), regs[0])

	require.NoError(t, r.engine.Programmer.ProgramAll(0, dct.ReceiverEnable, 0, dct.DataLanes, 10))
	bm, err = r.engine.Probe(0, 0)
	require.NoError(t, err)
	assert.Equal(t, pattern.Bitmap(0), bm)
}

func TestSweepLengthChecked(t *testing.T) {
	r := newRig(t, dct.PerRankLayout, sim.Uniform(1, []int{0}, perRankLane), 100, 0, 14)
	r.engine.ReadSteps = 64
	assert.Error(t, r.engine.TrainRead(0))
	r.engine.ReadSteps = 32
	r.engine.AntiPhaseSteps = 40
	assert.Error(t, r.engine.Train2D(0))
}

func TestGrid(t *testing.T) {
	// four write rows, three nominal read columns plus two anti-phase
	g := grid{
		window.Of(5, window.Window{Start: 0, Length: 5}),
		window.Of(5, window.Window{Start: 0, Length: 3}, window.Window{Start: 4, Length: 1}),
		window.Of(5, window.Window{Start: 1, Length: 4}),
		window.Of(5),
	}
	f := g.fold(3)
	require.Len(t, f, 4)
	// row 1: anti-phase column 3 fails, so nominal column 0 fails
	assert.Equal(t, ".##", f[1].String())
	assert.Equal(t, "###", f[0].String())
	assert.Equal(t, ".##", f[2].String())
	assert.Equal(t, "...", f[3].String())

	assert.Equal(t, window.Window{Start: 0, Length: 3}, f.readWindow())
	// columns 1 and 2 both pass rows 0..2; the first wins
	assert.Equal(t, window.Window{Start: 0, Length: 3}, f.writeWindow())
	assert.Equal(t, window.Window{}, grid{}.writeWindow())
}
