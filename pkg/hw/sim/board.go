// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sim is a simulated memory controller and DRAM array. A board
// is described by a Profile giving, per lane, the delay ranges at which
// data transfers succeed; bytes of a lane whose programmed delays lie
// outside those ranges are corrupted on the way to or from the array.
package sim

import (
	"fmt"

	"github.com/linuxboot/memtrain/pkg/dct"
	"github.com/linuxboot/memtrain/pkg/hw"
)

// Address map of the simulated scratch memory.
const (
	ScratchBase   uint64 = 0x100000000
	WindowBase    uint64 = 0xd0000000
	ChannelStride uint64 = 32 << 20
	RankStride    uint64 = 4 << 20
)

// Corruption masks applied to bytes of failing lanes. They differ so a
// lane failing both directions still reads back wrong.
const (
	writeCorruption byte = 0x5a
	readCorruption  byte = 0xa5
)

// Stats counts the accesses made to a board.
type Stats struct {
	RegisterReads  int
	RegisterWrites int
	LineWrites     int
	LineReads      int
	Flushes        int
	Maps           int
	ModeChanges    int
}

// Board implements every hardware facade over a Profile.
type Board struct {
	layout  *dct.Layout
	profile Profile

	regs  [hw.MaxChannels]map[uint32]uint32
	index [hw.MaxChannels]uint32
	data  [hw.MaxChannels]uint32

	mem     map[uint64]byte
	mapped  bool
	memClk  uint32
	mode    hw.ModeState
	stats   Stats
	ranks   [hw.MaxChannels][hw.MaxRanks]*RankProfile
	enforce bool
}

var (
	_ hw.ConfigSpace   = (*Board)(nil)
	_ hw.TestMemory    = (*Board)(nil)
	_ hw.AddressWindow = (*Board)(nil)
	_ hw.ModeSwitch    = (*Board)(nil)
	_ hw.Topology      = (*Board)(nil)
	_ hw.Clocks        = (*Board)(nil)
)

// New returns a board decoding its delay registers through layout.
func New(layout *dct.Layout, p Profile) (*Board, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	b := &Board{
		layout:  layout,
		profile: p,
		mem:     map[uint64]byte{},
		memClk:  p.TargetMemClock,
		enforce: true,
	}
	for ch := range b.regs {
		b.regs[ch] = map[uint32]uint32{}
	}
	for ch := range p.Channels {
		for i := range p.Channels[ch].Ranks {
			r := &b.profile.Channels[ch].Ranks[i]
			b.ranks[ch][r.ChipSelect] = r
		}
	}
	return b, nil
}

// Registers returns the indexed register view of the board.
func (b *Board) Registers() hw.Registers {
	return &hw.IndexedPort{Space: b}
}

// Stats returns the access counters.
func (b *Board) Stats() Stats {
	return b.stats
}

// Register returns the raw value of an indexed register.
func (b *Board) Register(ch int, index uint32) uint32 {
	return b.regs[ch][index]
}

// AllowNormalMode lets pattern accesses run without calibration mode.
func (b *Board) AllowNormalMode() {
	b.enforce = false
}

func splitOffset(offset uint32) (int, uint32, error) {
	ch := int(offset / hw.ChannelStride)
	if ch >= hw.MaxChannels {
		return 0, 0, fmt.Errorf("config offset 0x%x is out of range", offset)
	}
	return ch, offset % hw.ChannelStride, nil
}

// Read32 implements hw.ConfigSpace.
func (b *Board) Read32(offset uint32) (uint32, error) {
	ch, rel, err := splitOffset(offset)
	if err != nil {
		return 0, err
	}
	switch rel {
	case hw.IndexOffset:
		return b.index[ch], nil
	case hw.DataOffset:
		return b.data[ch], nil
	}
	return 0, nil
}

// Write32 implements hw.ConfigSpace. Indexed accesses complete at once.
func (b *Board) Write32(offset uint32, value uint32) error {
	ch, rel, err := splitOffset(offset)
	if err != nil {
		return err
	}
	switch rel {
	case hw.IndexOffset:
		index := value & hw.IndexValueMask
		if value&hw.IndexWriteBit != 0 {
			b.regs[ch][index] = b.data[ch]
			b.stats.RegisterWrites++
		} else {
			b.data[ch] = b.regs[ch][index]
			b.stats.RegisterReads++
		}
		b.index[ch] = index | hw.IndexDoneBit
	case hw.DataOffset:
		b.data[ch] = value
	}
	return nil
}

// Map implements hw.AddressWindow.
func (b *Board) Map(phys uint64) (uint64, error) {
	if b.mapped {
		return 0, fmt.Errorf("scratch window is already mapped")
	}
	if phys < ScratchBase || phys >= ScratchBase+hw.ScratchWindowSize {
		return 0, fmt.Errorf("address 0x%x is outside the scratch range", phys)
	}
	b.mapped = true
	b.stats.Maps++
	return WindowBase + phys - ScratchBase, nil
}

// Unmap implements hw.AddressWindow.
func (b *Board) Unmap() error {
	if !b.mapped {
		return fmt.Errorf("scratch window is not mapped")
	}
	b.mapped = false
	return nil
}

func (b *Board) translate(addr uint64, n int) (uint64, error) {
	if !b.mapped {
		return 0, fmt.Errorf("access to 0x%x with the scratch window unmapped", addr)
	}
	if b.enforce && !b.mode.LargeAddrs {
		return 0, fmt.Errorf("access to 0x%x outside calibration mode", addr)
	}
	if addr < WindowBase || addr+uint64(n) > WindowBase+hw.ScratchWindowSize {
		return 0, fmt.Errorf("access to 0x%x+%d is outside the scratch window", addr, n)
	}
	return ScratchBase + addr - WindowBase, nil
}

// lane locates the channel, rank and lane of one byte.
func (b *Board) lane(phys uint64, i int) (ch, rank, lane int) {
	off := phys - ScratchBase
	ch = int(off / ChannelStride)
	rank = int(off % ChannelStride / RankStride)
	if b.profile.Ganged {
		l := i % 16
		return l / dct.DataLanes, rank, l % dct.DataLanes
	}
	return ch, rank, i % dct.DataLanes
}

func (b *Board) delay(ch, rank int, sig dct.Signal, lane int) int {
	f, err := b.layout.Field(sig, b.layout.Slot(rank), lane)
	if err != nil {
		return -1
	}
	return int(f.Get(b.regs[ch][f.Register]))
}

func (b *Board) rank(ch, rank int) *RankProfile {
	if ch >= hw.MaxChannels || rank >= hw.MaxRanks {
		return nil
	}
	return b.ranks[ch][rank]
}

func (b *Board) writeOK(ch, rank, lane int) bool {
	r := b.rank(ch, rank)
	if r == nil {
		return false
	}
	return r.Lane(lane).WriteDQS.IsIn(b.delay(ch, rank, dct.WriteDQS, lane))
}

func (b *Board) readOK(ch, rank, lane int) bool {
	r := b.rank(ch, rank)
	if r == nil {
		return false
	}
	if b.profile.MaxStableMemClock != 0 && b.memClk > b.profile.MaxStableMemClock {
		return false
	}
	c := b.profile.Channels[ch]
	if c.MinMaxRdLatency != 0 {
		f := b.layout.MaxRdLatency()
		if f.Get(b.regs[ch][f.Register]) < c.MinMaxRdLatency {
			return false
		}
	}
	if c.MinWriteLatency != 0 {
		f := b.layout.WriteLatency()
		if f.Get(b.regs[ch][f.Register]) < c.MinWriteLatency {
			return false
		}
	}
	l := r.Lane(lane)
	return l.RcvEn.IsIn(b.delay(ch, rank, dct.ReceiverEnable, lane)) &&
		l.ReadDQS.IsIn(b.delay(ch, rank, dct.ReadDQS, lane))
}

// WriteLines implements hw.TestMemory.
func (b *Board) WriteLines(addr uint64, data []byte) error {
	phys, err := b.translate(addr, len(data))
	if err != nil {
		return err
	}
	b.stats.LineWrites++
	var outcome [hw.MaxChannels][hw.MaxRanks][dct.DataLanes]uint8
	for i, v := range data {
		p := phys + uint64(i)
		ch, rank, lane := b.lane(p, i)
		o := &outcome[ch][rank][lane]
		if *o == 0 {
			*o = 2
			if b.writeOK(ch, rank, lane) {
				*o = 1
			}
		}
		if *o == 2 {
			v ^= writeCorruption
		}
		b.mem[p] = v
	}
	return nil
}

// ReadLines implements hw.TestMemory.
func (b *Board) ReadLines(addr uint64, data []byte) error {
	phys, err := b.translate(addr, len(data))
	if err != nil {
		return err
	}
	b.stats.LineReads++
	// outcome per lane: 0 unknown, 1 pass, 2 fail
	var outcome [hw.MaxChannels][hw.MaxRanks][dct.DataLanes]uint8
	for i := range data {
		p := phys + uint64(i)
		ch, rank, lane := b.lane(p, i)
		if b.rank(ch, rank) == nil {
			data[i] = 0xff
			continue
		}
		o := &outcome[ch][rank][lane]
		if *o == 0 {
			*o = 2
			if b.readOK(ch, rank, lane) {
				*o = 1
			}
		}
		v := b.mem[p]
		if *o == 2 {
			v ^= readCorruption
		}
		data[i] = v
	}
	return nil
}

// Flush implements hw.TestMemory.
func (b *Board) Flush(addr uint64) error {
	if _, err := b.translate(addr, hw.CacheLineSize); err != nil {
		return err
	}
	b.stats.Flushes++
	return nil
}

// Mode implements hw.ModeSwitch.
func (b *Board) Mode() (hw.ModeState, error) {
	return b.mode, nil
}

// SetMode implements hw.ModeSwitch.
func (b *Board) SetMode(m hw.ModeState) error {
	b.mode = m
	b.stats.ModeChanges++
	return nil
}

// DIMMs implements hw.Topology.
func (b *Board) DIMMs(ch int) int {
	var dimms [hw.MaxRanks / 2]bool
	n := 0
	for rank := 0; rank < hw.MaxRanks; rank++ {
		if b.rank(ch, rank) != nil && !dimms[rank/2] {
			dimms[rank/2] = true
			n++
		}
	}
	return n
}

// RankPresent implements hw.Topology.
func (b *Board) RankPresent(ch, rank int) bool {
	return b.rank(ch, rank) != nil
}

// RankWidth implements hw.Topology.
func (b *Board) RankWidth(ch, rank int) hw.Width {
	if r := b.rank(ch, rank); r != nil {
		return r.Width
	}
	return 0
}

// Registered implements hw.Topology.
func (b *Board) Registered() bool { return b.profile.Registered }

// ECC implements hw.Topology.
func (b *Board) ECC() bool { return b.profile.ECC }

// Package implements hw.Topology.
func (b *Board) Package() string { return b.profile.Package }

// Ganged implements hw.Topology.
func (b *Board) Ganged() bool { return b.profile.Ganged }

// TargetMemClock implements hw.Topology.
func (b *Board) TargetMemClock() uint32 { return b.profile.TargetMemClock }

// MinMemClock implements hw.Topology.
func (b *Board) MinMemClock() uint32 { return b.profile.MinMemClock }

// TestAddress implements hw.Topology.
func (b *Board) TestAddress(ch, rank int) (uint64, error) {
	if !b.RankPresent(ch, rank) {
		return 0, fmt.Errorf("channel %d rank %d is not present", ch, rank)
	}
	if b.profile.Ganged {
		ch = 0
	}
	return ScratchBase + uint64(ch)*ChannelStride + uint64(rank)*RankStride, nil
}

// MemClock implements hw.Clocks.
func (b *Board) MemClock() uint32 { return b.memClk }

// ControllerClock implements hw.Clocks.
func (b *Board) ControllerClock() uint32 { return b.profile.ControllerClock }

// SetMemClock implements hw.Clocks.
func (b *Board) SetMemClock(mhz uint32) error {
	if mhz < b.profile.MinMemClock || mhz > b.profile.TargetMemClock {
		return fmt.Errorf("memory clock %d MHz is outside %d..%d MHz",
			mhz, b.profile.MinMemClock, b.profile.TargetMemClock)
	}
	b.memClk = mhz
	return nil
}
