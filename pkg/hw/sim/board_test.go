// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxboot/memtrain/pkg/dct"
	"github.com/linuxboot/memtrain/pkg/hw"
	"github.com/linuxboot/memtrain/pkg/pattern"
	"github.com/linuxboot/memtrain/pkg/window"
)

func testLayout(t *testing.T) *dct.Layout {
	l, err := dct.NewLayout(dct.LayoutDescription{
		Lanes: []dct.LaneLayout{
			{Signal: dct.ReceiverEnable, Format: dct.Format{Bits: 9, FineBits: 5}, Base: 0x10, LanesPerRegister: 2, FieldStride: 16, SlotStride: 5},
			{Signal: dct.ReadDQS, Format: dct.Format{Bits: 6, FineBits: 6}, Base: 0x40, LanesPerRegister: 4, FieldStride: 8, SlotStride: 3},
			{Signal: dct.WriteDQS, Format: dct.Format{Bits: 7, FineBits: 5}, Base: 0x60, LanesPerRegister: 4, FieldStride: 8, SlotStride: 3},
		},
		MaxRdLatency: dct.Field{Register: 0x80, Shift: 22, Width: 10},
		WriteLatency: dct.Field{Register: 0x80, Shift: 0, Width: 3},
	})
	require.NoError(t, err)
	return l
}

var testLane = LaneProfile{
	RcvEn:    window.Window{Start: 40, Length: 60},
	ReadDQS:  window.Window{Start: 10, Length: 20},
	WriteDQS: window.Window{Start: 5, Length: 20},
}

type rig struct {
	board *Board
	prog  *dct.Programmer
	pat   *pattern.Engine
}

func newRig(t *testing.T, p Profile) *rig {
	l := testLayout(t)
	b, err := New(l, p)
	require.NoError(t, err)
	require.NoError(t, b.SetMode(hw.ModeState{SIMD: true, LargeAddrs: true}))
	return &rig{
		board: b,
		prog:  &dct.Programmer{Regs: b.Registers(), Layout: l},
		pat:   &pattern.Engine{Memory: b, Window: b, Ganged: p.Ganged},
	}
}

func (r *rig) program(t *testing.T, ch, slot int, rcv, rd, wr dct.Delay) {
	require.NoError(t, r.prog.ProgramAll(ch, dct.ReceiverEnable, slot, dct.MaxLanes, rcv))
	require.NoError(t, r.prog.ProgramAll(ch, dct.ReadDQS, slot, dct.MaxLanes, rd))
	require.NoError(t, r.prog.ProgramAll(ch, dct.WriteDQS, slot, dct.MaxLanes, wr))
}

func TestBoardWindows(t *testing.T) {
	r := newRig(t, Uniform(1, []int{0}, testLane))
	addr, err := r.board.TestAddress(0, 0)
	require.NoError(t, err)

	r.program(t, 0, 0, 50, 15, 10)
	require.NoError(t, r.pat.WritePattern(addr, pattern.Primary))
	got, err := r.pat.ReadAndCompare(addr, pattern.Primary)
	require.NoError(t, err)
	assert.Equal(t, pattern.Full(8), got)

	t.Run("read_dqs_outside", func(t *testing.T) {
		require.NoError(t, r.prog.Program(0, dct.ReadDQS, 0, []dct.Delay{15, 30, 15, 9}))
		got, err := r.pat.ReadAndCompare(addr, pattern.Primary)
		require.NoError(t, err)
		assert.Equal(t, pattern.Full(8)&^0b1010, got)
		require.NoError(t, r.prog.ProgramAll(0, dct.ReadDQS, 0, dct.MaxLanes, 15))
	})
	t.Run("receiver_closed", func(t *testing.T) {
		require.NoError(t, r.prog.ProgramAll(0, dct.ReceiverEnable, 0, dct.MaxLanes, 100))
		got, err := r.pat.ReadAndCompare(addr, pattern.Primary)
		require.NoError(t, err)
		assert.Equal(t, pattern.Bitmap(0), got)
		require.NoError(t, r.prog.ProgramAll(0, dct.ReceiverEnable, 0, dct.MaxLanes, 50))
	})
	t.Run("write_dqs_outside", func(t *testing.T) {
		require.NoError(t, r.prog.Program(0, dct.WriteDQS, 0, []dct.Delay{10, 10, 10, 10, 10, 10, 10, 40}))
		require.NoError(t, r.pat.WritePattern(addr, pattern.Primary))
		got, err := r.pat.ReadAndCompare(addr, pattern.Primary)
		require.NoError(t, err)
		assert.Equal(t, pattern.Full(7), got)
	})
}

func TestBoardLatencyGates(t *testing.T) {
	p := Uniform(1, []int{0}, testLane)
	p.Channels[0].MinMaxRdLatency = 20
	p.MaxStableMemClock = 533
	r := newRig(t, p)
	addr, err := r.board.TestAddress(0, 0)
	require.NoError(t, err)
	r.program(t, 0, 0, 50, 15, 10)
	require.NoError(t, r.pat.WritePattern(addr, pattern.Primary))

	read := func() pattern.Bitmap {
		got, err := r.pat.ReadAndCompare(addr, pattern.Primary)
		require.NoError(t, err)
		return got
	}
	require.NoError(t, r.prog.SetMaxRdLatency(0, 25))
	assert.Equal(t, pattern.Bitmap(0), read(), "unstable clock")

	require.NoError(t, r.board.SetMemClock(400))
	assert.Equal(t, pattern.Full(8), read())

	require.NoError(t, r.prog.SetMaxRdLatency(0, 19))
	assert.Equal(t, pattern.Bitmap(0), read(), "latency too short")

	assert.Error(t, r.board.SetMemClock(300))
}

func TestBoardGanged(t *testing.T) {
	p := Uniform(2, []int{0, 1}, testLane)
	p.Ganged = true
	r := newRig(t, p)
	a0, err := r.board.TestAddress(0, 1)
	require.NoError(t, err)
	a1, err := r.board.TestAddress(1, 1)
	require.NoError(t, err)
	assert.Equal(t, a0, a1)

	r.program(t, 0, 0, 50, 15, 10)
	r.program(t, 1, 0, 50, 40, 10)
	require.NoError(t, r.pat.WritePattern(a0, pattern.Primary))
	got, err := r.pat.ReadAndCompare(a0, pattern.Primary)
	require.NoError(t, err)
	assert.Equal(t, pattern.Full(8), got.Channel(0))
	assert.Equal(t, pattern.Bitmap(0), got.Channel(1))
}

func TestBoardTopology(t *testing.T) {
	b, err := New(testLayout(t), Uniform(2, []int{0, 1, 2}, testLane))
	require.NoError(t, err)
	assert.Equal(t, 2, b.DIMMs(0))
	assert.True(t, b.RankPresent(1, 2))
	assert.False(t, b.RankPresent(1, 3))
	assert.Equal(t, hw.WidthX8, b.RankWidth(0, 0))
	_, err = b.TestAddress(0, 5)
	assert.Error(t, err)
	addr, err := b.TestAddress(1, 2)
	require.NoError(t, err)
	assert.Equal(t, ScratchBase+ChannelStride+2*RankStride, addr)

	t.Run("calibration_mode_required", func(t *testing.T) {
		_, err := b.Map(addr)
		require.NoError(t, err)
		assert.Error(t, b.WriteLines(WindowBase, make([]byte, 64)))
		require.NoError(t, b.Unmap())
		assert.Error(t, b.Unmap())
		_, err = b.Map(0x1000)
		assert.Error(t, err)
	})
	t.Run("indexed_registers", func(t *testing.T) {
		regs := b.Registers()
		require.NoError(t, regs.WriteIndexed(1, 0x33, 0xdeadbeef))
		v, err := regs.ReadIndexed(1, 0x33)
		require.NoError(t, err)
		assert.Equal(t, uint32(0xdeadbeef), v)
		assert.Equal(t, uint32(0xdeadbeef), b.Register(1, 0x33))
		assert.Equal(t, uint32(0), b.Register(0, 0x33))
	})
}

func TestLoadProfile(t *testing.T) {
	const js = `{
		"package": "AM3", "ecc": true,
		"target_mem_clock": 667, "min_mem_clock": 400, "controller_clock": 1600,
		"channels": [{"ranks": [{"chip_select": 0, "width": 8,
			"lanes": [{"rcven": {"Start": 40, "Length": 60},
				"read_dqs": {"Start": 10, "Length": 20},
				"write_dqs": {"Start": 5, "Length": 20}}]}]}]
	}`
	p, err := LoadProfile(strings.NewReader(js))
	require.NoError(t, err)
	assert.True(t, p.ECC)
	assert.Equal(t, testLane, p.Channels[0].Ranks[0].Lane(7))

	_, err = LoadProfile(strings.NewReader(`{"bogus": 1}`))
	assert.Error(t, err)

	bad := Uniform(1, []int{0}, testLane)
	bad.Channels[0].Ranks = append(bad.Channels[0].Ranks, bad.Channels[0].Ranks[0])
	assert.Error(t, bad.Validate())
}
