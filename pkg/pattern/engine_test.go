// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pattern

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const windowBase = 0x40000000

// fakeMemory is a flat memory reachable only through a mapped window.
// Bytes of lanes listed in corrupt read back inverted.
type fakeMemory struct {
	mem     map[uint64]byte
	base    uint64
	mapped  bool
	maps    int
	flushes int
	corrupt map[int]bool
	beat    int
}

func newFakeMemory(beat int) *fakeMemory {
	return &fakeMemory{mem: map[uint64]byte{}, corrupt: map[int]bool{}, beat: beat}
}

func (m *fakeMemory) Map(phys uint64) (uint64, error) {
	if m.mapped {
		return 0, fmt.Errorf("window already mapped")
	}
	m.mapped = true
	m.maps++
	m.base = phys
	return windowBase, nil
}

func (m *fakeMemory) Unmap() error {
	if !m.mapped {
		return fmt.Errorf("window not mapped")
	}
	m.mapped = false
	return nil
}

func (m *fakeMemory) phys(addr uint64) (uint64, error) {
	if !m.mapped || addr < windowBase {
		return 0, fmt.Errorf("access to 0x%x outside the mapped window", addr)
	}
	return m.base + addr - windowBase, nil
}

func (m *fakeMemory) WriteLines(addr uint64, data []byte) error {
	p, err := m.phys(addr)
	if err != nil {
		return err
	}
	for i, b := range data {
		m.mem[p+uint64(i)] = b
	}
	return nil
}

func (m *fakeMemory) ReadLines(addr uint64, data []byte) error {
	p, err := m.phys(addr)
	if err != nil {
		return err
	}
	for i := range data {
		b := m.mem[p+uint64(i)]
		if m.corrupt[i%m.beat] {
			b = ^b
		}
		data[i] = b
	}
	return nil
}

func (m *fakeMemory) Flush(addr uint64) error {
	if _, err := m.phys(addr); err != nil {
		return err
	}
	m.flushes++
	return nil
}

func newEngine(ganged bool) (*Engine, *fakeMemory) {
	beat := narrowBeat
	if ganged {
		beat = wideBeat
	}
	m := newFakeMemory(beat)
	return &Engine{Memory: m, Window: m, Ganged: ganged}, m
}

func TestPatternTables(t *testing.T) {
	for _, ganged := range []bool{false, true} {
		p := Bytes(Primary, ganged)
		a := Bytes(AntiPhase, ganged)
		require.Equal(t, len(p), len(a))
		for i := range p {
			require.Equal(t, ^p[i], a[i])
		}
		assert.NotEqual(t, p, Bytes(Alternate, ganged))
	}
	assert.Len(t, Bytes(Primary, false), Lines*64)
	assert.Len(t, Bytes(Primary, true), GangedLines*64)
	assert.Equal(t, Primary, AntiPhase.Inverse())
	assert.Equal(t, AntiPhase, Alternate.Inverse())
}

func TestReadAndCompare(t *testing.T) {
	e, m := newEngine(false)
	const addr = 0x100000000

	require.NoError(t, e.WritePattern(addr, Primary))
	got, err := e.ReadAndCompare(addr, Primary)
	require.NoError(t, err)
	assert.Equal(t, Full(8), got)
	assert.False(t, m.mapped)

	m.corrupt[3] = true
	got, err = e.ReadAndCompare(addr, Primary)
	require.NoError(t, err)
	assert.False(t, got.Pass(3))
	assert.Equal(t, 7, got.Count())

	got, err = e.ReadAndCompare(addr, Alternate)
	require.NoError(t, err)
	assert.NotEqual(t, Full(8), got)

	_, err = e.ReadAndCompare(addr, ID(7))
	assert.Error(t, err)
}

func TestReadAndCompareBoth(t *testing.T) {
	e, m := newEngine(false)
	const addr = 0x100000000

	require.NoError(t, e.WritePatternBoth(addr, Primary))
	got, err := e.ReadAndCompareBoth(addr, Primary)
	require.NoError(t, err)
	assert.Equal(t, Full(8), got)
	// each pattern access maps the window on its own
	assert.Equal(t, 4, m.maps)

	// damaging only the anti-phase copy fails the lane
	require.NoError(t, e.WritePattern(addr+AntiPhaseOffset, Primary))
	got, err = e.ReadAndCompareBoth(addr, Primary)
	require.NoError(t, err)
	assert.Equal(t, Bitmap(0), got)
}

func TestGanged(t *testing.T) {
	e, m := newEngine(true)
	const addr = 0x100000000
	assert.Equal(t, GangedLines*64, e.Size())
	assert.Equal(t, 16, e.Lanes())

	require.NoError(t, e.WritePattern(addr, Primary))
	m.corrupt[9] = true
	got, err := e.ReadAndCompare(addr, Primary)
	require.NoError(t, err)
	assert.Equal(t, Full(8), got.Channel(0))
	assert.Equal(t, Full(8)&^(1<<1), got.Channel(1))
	// flushed before and after the read
	assert.Equal(t, 2*GangedLines, m.flushes)
}

func TestUnmappedAccessFails(t *testing.T) {
	m := newFakeMemory(narrowBeat)
	assert.Error(t, m.WriteLines(windowBase, []byte{1}))
	_, err := m.Map(0)
	require.NoError(t, err)
	_, err = m.Map(0)
	assert.Error(t, err)
}
