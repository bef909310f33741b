// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package training

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxboot/memtrain/pkg/dct"
	"github.com/linuxboot/memtrain/pkg/hw"
	"github.com/linuxboot/memtrain/pkg/hw/sim"
	"github.com/linuxboot/memtrain/pkg/log"
	"github.com/linuxboot/memtrain/pkg/training/rcven"
	"github.com/linuxboot/memtrain/pkg/window"
)

var (
	gen1Lane = sim.LaneProfile{
		RcvEn:    window.Window{Start: 70, Length: 40},
		ReadDQS:  window.Window{Start: 20, Length: 24},
		WriteDQS: window.Window{Start: 10, Length: 30},
	}
	gen2Lane = sim.LaneProfile{
		RcvEn:    window.Window{Start: 60, Length: 100},
		ReadDQS:  window.Window{Start: 8, Length: 18},
		WriteDQS: window.Window{Start: 6, Length: 18},
	}
)

func newTrainer(t *testing.T, gen Generation, p sim.Profile) (*Trainer, *sim.Board) {
	layout, err := dct.NewLayout(gen.Layout)
	require.NoError(t, err)
	b, err := sim.New(layout, p)
	require.NoError(t, err)
	tr, err := New(gen, Platform{
		Registers: b.Registers(),
		Memory:    b,
		Window:    b,
		Mode:      b,
		Topology:  b,
		Clocks:    b,
		Delay:     hw.NoDelay{},
	}, log.New(io.Discard, false))
	require.NoError(t, err)
	return tr, b
}

func delay(t *testing.T, tbl *dct.Table, ch, rank int, sig dct.Signal, lane int) dct.Delay {
	d, ok := tbl.Get(dct.Key{Channel: ch, Rank: rank, Signal: sig, Lane: lane})
	require.True(t, ok, "channel %d rank %d %s lane %d untrained", ch, rank, sig, lane)
	return d
}

func requireRestored(t *testing.T, b *sim.Board) {
	m, err := b.Mode()
	require.NoError(t, err)
	assert.Equal(t, hw.ModeState{}, m)
	assert.Equal(t, 2, b.Stats().ModeChanges)
}

func TestGen1(t *testing.T) {
	p := sim.Uniform(2, []int{0, 1}, gen1Lane)
	p.ECC = true
	tr, b := newTrainer(t, Gen1, p)

	res, err := tr.Run()
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, uint32(667), res.MemClock)
	for ch := 0; ch < 2; ch++ {
		assert.Equal(t, dct.Status(0), res.Table.Status(ch))
		for _, rank := range []int{0, 1} {
			for lane := 0; lane < dct.MaxLanes; lane++ {
				assert.Equal(t, dct.Delay(84), delay(t, res.Table, ch, rank, dct.ReceiverEnable, lane))
				assert.Equal(t, dct.Delay(32), delay(t, res.Table, ch, rank, dct.ReadDQS, lane))
				assert.Equal(t, dct.Delay(25), delay(t, res.Table, ch, rank, dct.WriteDQS, lane))
			}
		}
		// ceil((6+4+6) * 1600 / 1334) + 5
		assert.Equal(t, uint32(25), res.Table.MaxRdLatency(ch))
	}
	requireRestored(t, b)
}

func TestGen2(t *testing.T) {
	tr, b := newTrainer(t, Gen2, sim.Uniform(2, []int{0, 1}, gen2Lane))

	res, err := tr.Run()
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	for ch := 0; ch < 2; ch++ {
		for _, rank := range []int{0, 1} {
			assert.Equal(t, dct.Delay(133), delay(t, res.Table, ch, rank, dct.ReceiverEnable, 0))
			assert.Equal(t, dct.Delay(17), delay(t, res.Table, ch, rank, dct.ReadDQS, 6))
			assert.Equal(t, dct.Delay(15), delay(t, res.Table, ch, rank, dct.WriteDQS, 7))
		}
		assert.Equal(t, uint32(28), res.Table.MaxRdLatency(ch))
	}
	var stages []string
	for _, r := range res.Records {
		if r.Channel == 0 {
			stages = append(stages, r.Stage)
		}
	}
	assert.Equal(t, []string{"setup", "write-levelling", "receiver-enable", "dqs-2d", "max-read-latency"}, stages)
	requireRestored(t, b)

	t.Run("idempotent", func(t *testing.T) {
		first := res.Table.Clone()
		res, err := tr.Run()
		require.NoError(t, err)
		assert.True(t, first.Equal(res.Table))
	})
}

func TestGen2RetryAtMinimumClock(t *testing.T) {
	p := sim.Uniform(1, []int{0}, gen2Lane)
	p.MaxStableMemClock = 533
	tr, b := newTrainer(t, Gen2, p)

	res, err := tr.Run()
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, uint32(400), res.MemClock)
	assert.Equal(t, uint32(1), res.WriteLatency)
	assert.Equal(t, uint32(400), b.MemClock())
	wl, err := tr.Programmer.WriteLatency(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), wl)

	assert.Equal(t, dct.Delay(112), delay(t, res.Table, 0, 0, dct.ReceiverEnable, 0))
	assert.False(t, res.Table.Status(0).Has(dct.StatusRetry))
	// ceil((6+4+8) * 1600 / 800) + 5
	assert.Equal(t, uint32(41), res.Table.MaxRdLatency(0))

	var retried bool
	for _, r := range res.Records {
		if r.Attempt == 0 && r.Stage == "receiver-enable" {
			retried = r.Result == StageRetry
		}
	}
	assert.True(t, retried)
}

type delays struct {
	hw.NoDelay
	millis []uint32
}

func (d *delays) WaitMillis(n uint32) {
	d.millis = append(d.millis, n)
}

func TestClockSettle(t *testing.T) {
	p := sim.Uniform(1, []int{0}, gen2Lane)
	p.MaxStableMemClock = 533
	tr, _ := newTrainer(t, Gen2, p)
	d := &delays{}
	tr.Platform.Delay = d

	_, err := tr.Run()
	require.NoError(t, err)
	// one wait for the drop to the minimum clock
	assert.Equal(t, []uint32{Gen2.ClockSettle}, d.millis)
}

func TestRetryPolicy(t *testing.T) {
	t.Run("second_attempt_succeeds", func(t *testing.T) {
		tr, b := newTrainer(t, Gen2, sim.Uniform(1, []int{0}, gen2Lane))
		var seen []Attempt
		tr.Stages = []Stage{{Name: "stub", Run: func(a Attempt, ch int) error {
			seen = append(seen, a)
			if a.Number == 0 {
				return &rcven.ErrRetry{Err: errors.New("no candidate")}
			}
			return nil
		}}}
		res, err := tr.Run()
		require.NoError(t, err)
		assert.Equal(t, 2, res.Attempts)
		require.Len(t, seen, 2)
		assert.Equal(t, Attempt{Number: 0, MemClock: 667}, seen[0])
		assert.Equal(t, Attempt{Number: 1, MemClock: 400, WriteLatency: 1}, seen[1])
		requireRestored(t, b)
	})
	t.Run("exhausted", func(t *testing.T) {
		tr, b := newTrainer(t, Gen2, sim.Uniform(1, []int{0}, gen2Lane))
		tr.Stages = []Stage{{Name: "stub", Run: func(Attempt, int) error {
			return &rcven.ErrRetry{Err: errors.New("no candidate")}
		}}}
		res, err := tr.Run()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrRetriesExhausted))
		assert.Equal(t, Gen2.MaxRetries+1, res.Attempts)
		assert.True(t, res.Table.Status(0).Has(dct.StatusFatal))
		requireRestored(t, b)
	})
	t.Run("fatal_restores_mode", func(t *testing.T) {
		tr, b := newTrainer(t, Gen2, sim.Uniform(1, []int{0}, gen2Lane))
		boom := errors.New("boom")
		tr.Stages = []Stage{{Name: "stub", Run: func(Attempt, int) error { return boom }}}
		res, err := tr.Run()
		require.Error(t, err)
		assert.True(t, errors.Is(err, boom))
		assert.Equal(t, 1, res.Attempts)
		requireRestored(t, b)
	})
}

type leveler struct {
	tr       *Trainer
	channels []int
}

func (l *leveler) Level(ch int) error {
	l.channels = append(l.channels, ch)
	for _, g := range dct.Groups(l.tr.Layout, l.tr.Platform.Topology, ch) {
		if err := l.tr.Programmer.ProgramAll(ch, dct.WriteDQS, g.Slot, dct.DataLanes, 12); err != nil {
			return err
		}
	}
	return nil
}

func TestWriteLeveler(t *testing.T) {
	tr, _ := newTrainer(t, Gen2, sim.Uniform(2, []int{0}, gen2Lane))
	l := &leveler{tr: tr}
	tr.Platform.WriteLeveler = l
	_, err := tr.Run()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, l.channels)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, StageOK, Classify(nil))
	assert.Equal(t, StageRetry, Classify(&rcven.ErrRetry{Err: errors.New("x")}))
	assert.Equal(t, StageFatal, Classify(errors.New("x")))
	assert.Equal(t, "retry", StageRetry.String())
}

func TestLookup(t *testing.T) {
	g, err := Lookup("GEN2")
	require.NoError(t, err)
	assert.Equal(t, SeedSearch, g.Strategy)
	g.Seeds[rcven.SeedKey{Package: "AM3"}][0] = 0x7f
	delete(g.Seeds, rcven.SeedKey{Package: "G34"})
	g.Layout.Lanes[0].Base = 0xdead
	assert.Equal(t, dct.Delay(0x20), Gen2.Seeds[rcven.SeedKey{Package: "AM3"}][0])
	assert.Contains(t, Gen2.Seeds, rcven.SeedKey{Package: "G34"})
	assert.NotEqual(t, uint32(0xdead), Gen2.Layout.Lanes[0].Base)
	_, err = Lookup("gen9")
	assert.Error(t, err)
	assert.Equal(t, []string{"gen1", "gen2"}, Names())
	for _, name := range Names() {
		g, err := Lookup(name)
		require.NoError(t, err)
		require.NoError(t, g.Validate(), name)
	}
}
