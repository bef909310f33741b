// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dct

import (
	"fmt"

	"github.com/linuxboot/memtrain/pkg/hw"
	"github.com/linuxboot/memtrain/pkg/window"
)

// Key addresses one entry of the calibration result table.
type Key struct {
	Channel int
	Rank    int
	Signal  Signal
	Lane    int
}

func (k Key) String() string {
	return fmt.Sprintf("channel %d rank %d %s %s lane %d",
		k.Channel, k.Rank, k.Signal.Direction(), k.Signal, k.Lane)
}

// Valid returns true if every component is in range.
func (k Key) Valid() bool {
	return k.Channel >= 0 && k.Channel < hw.MaxChannels &&
		k.Rank >= 0 && k.Rank < hw.MaxRanks &&
		k.Signal.Valid() &&
		k.Lane >= 0 && k.Lane < MaxLanes
}

type entry struct {
	delay  Delay
	window window.Window
	valid  bool
}

// Table is the calibration result table. It is created empty at
// controller bring-up and mutated only by the engine that is currently
// running; it is not safe for concurrent use.
type Table struct {
	entries      [hw.MaxChannels][hw.MaxRanks][NumSignals][MaxLanes]entry
	maxRdLatency [hw.MaxChannels]uint32
	status       [hw.MaxChannels]Status
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{}
}

func (t *Table) entry(k Key) *entry {
	if !k.Valid() {
		panic(fmt.Sprintf("invalid calibration key %+v", k))
	}
	return &t.entries[k.Channel][k.Rank][k.Signal][k.Lane]
}

// Set commits a delay.
func (t *Table) Set(k Key, d Delay) {
	e := t.entry(k)
	e.delay = d
	e.valid = true
}

// SetWindow records the window a delay was centered in.
func (t *Table) SetWindow(k Key, w window.Window) {
	t.entry(k).window = w
}

// Get returns a committed delay. The second value is false when
// nothing was committed for the key.
func (t *Table) Get(k Key) (Delay, bool) {
	e := t.entry(k)
	return e.delay, e.valid
}

// Window returns the recorded window of a key.
func (t *Table) Window(k Key) window.Window {
	return t.entry(k).window
}

// Lanes returns the committed delays of lanes [0, lanes) of a rank;
// missing entries are zero.
func (t *Table) Lanes(ch, rank int, sig Signal, lanes int) []Delay {
	result := make([]Delay, lanes)
	for lane := range result {
		result[lane], _ = t.Get(Key{Channel: ch, Rank: rank, Signal: sig, Lane: lane})
	}
	return result
}

// Keys returns the keys of every committed delay in table order.
func (t *Table) Keys() []Key {
	var result []Key
	for ch := 0; ch < hw.MaxChannels; ch++ {
		for rank := 0; rank < hw.MaxRanks; rank++ {
			for _, sig := range Signals {
				for lane := 0; lane < MaxLanes; lane++ {
					k := Key{Channel: ch, Rank: rank, Signal: sig, Lane: lane}
					if _, ok := t.Get(k); ok {
						result = append(result, k)
					}
				}
			}
		}
	}
	return result
}

// SetMaxRdLatency records the read latency committed for a channel.
func (t *Table) SetMaxRdLatency(ch int, v uint32) {
	t.maxRdLatency[ch] = v
}

// MaxRdLatency returns the read latency committed for a channel.
func (t *Table) MaxRdLatency(ch int) uint32 {
	return t.maxRdLatency[ch]
}

// Flag sets status flags of a channel.
func (t *Table) Flag(ch int, s Status) {
	t.status[ch] |= s
}

// Status returns the status word of a channel.
func (t *Table) Status(ch int) Status {
	return t.status[ch]
}

// Reset empties the table before a new attempt.
func (t *Table) Reset() {
	*t = Table{}
}

// ResetChannel empties the entries and the status of one channel.
func (t *Table) ResetChannel(ch int) {
	t.entries[ch] = [hw.MaxRanks][NumSignals][MaxLanes]entry{}
	t.maxRdLatency[ch] = 0
	t.status[ch] = 0
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	c := *t
	return &c
}

// Equal returns true if both tables hold the same delays, windows,
// latencies and status words.
func (t *Table) Equal(o *Table) bool {
	return *t == *o
}
