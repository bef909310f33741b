// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dct

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/linuxboot/memtrain/pkg/hw"
)

// Field is a bit field of an indexed register.
type Field struct {
	Register uint32
	Shift    uint8
	Width    uint8
}

func (f Field) String() string {
	return fmt.Sprintf("0x%03x[%d:%d]", f.Register, int(f.Shift)+int(f.Width)-1, f.Shift)
}

// Mask returns the field mask positioned in the register.
func (f Field) Mask() uint32 {
	return (uint32(1)<<f.Width - 1) << f.Shift
}

// Get extracts the field from a register value.
func (f Field) Get(reg uint32) uint32 {
	return (reg & f.Mask()) >> f.Shift
}

// Set returns reg with the field replaced by v.
func (f Field) Set(reg uint32, v uint32) uint32 {
	return reg&^f.Mask() | (v<<f.Shift)&f.Mask()
}

// Overlaps returns true if both fields share a register bit.
func (f Field) Overlaps(o Field) bool {
	return f.Width != 0 && o.Width != 0 && f.Register == o.Register && f.Mask()&o.Mask() != 0
}

// LaneLayout declares where the per-lane fields of one signal live:
// lane l of slot s is field (l % LanesPerRegister) of register
// Base + s*SlotStride + l/LanesPerRegister.
type LaneLayout struct {
	Signal           Signal
	Format           Format
	Base             uint32
	LanesPerRegister int
	FieldStride      uint8
	SlotStride       uint32
}

// LayoutDescription is the declarative register description of one
// controller generation.
type LayoutDescription struct {
	// PerRank is true when every chip select has its own delay
	// registers; otherwise a slot is a rank pair (one DIMM).
	PerRank      bool
	Lanes        []LaneLayout
	MaxRdLatency Field
	WriteLatency Field
}

// Layout is the compiled lookup table of a LayoutDescription.
type Layout struct {
	perRank      bool
	formats      [NumSignals]Format
	fields       [NumSignals][hw.MaxRanks][MaxLanes]Field
	maxRdLatency Field
	writeLatency Field
}

// NewLayout compiles desc and checks that no two fields overlap.
func NewLayout(desc LayoutDescription) (*Layout, error) {
	l := &Layout{
		perRank:      desc.PerRank,
		maxRdLatency: desc.MaxRdLatency,
		writeLatency: desc.WriteLatency,
	}
	var seen [NumSignals]bool
	for _, ll := range desc.Lanes {
		if !ll.Signal.Valid() {
			return nil, fmt.Errorf("unknown signal %d", ll.Signal)
		}
		if seen[ll.Signal] {
			return nil, fmt.Errorf("signal %s is declared twice", ll.Signal)
		}
		seen[ll.Signal] = true
		if err := ll.Format.Validate(); err != nil {
			return nil, fmt.Errorf("signal %s: %w", ll.Signal, err)
		}
		if ll.LanesPerRegister <= 0 {
			return nil, fmt.Errorf("signal %s: lanes per register must be positive", ll.Signal)
		}
		if int(ll.FieldStride)*(ll.LanesPerRegister-1)+int(ll.Format.Bits) > 32 {
			return nil, fmt.Errorf("signal %s: %d lanes of stride %d do not fit a register",
				ll.Signal, ll.LanesPerRegister, ll.FieldStride)
		}
		l.formats[ll.Signal] = ll.Format
		for slot := 0; slot < l.Slots(); slot++ {
			for lane := 0; lane < MaxLanes; lane++ {
				l.fields[ll.Signal][slot][lane] = Field{
					Register: ll.Base + uint32(slot)*ll.SlotStride + uint32(lane/ll.LanesPerRegister),
					Shift:    uint8(lane%ll.LanesPerRegister) * ll.FieldStride,
					Width:    ll.Format.Bits,
				}
			}
		}
	}
	for _, sig := range Signals {
		if !seen[sig] {
			return nil, fmt.Errorf("signal %s has no layout", sig)
		}
	}
	if err := l.checkOverlaps(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Layout) all() []Field {
	var result []Field
	for _, sig := range Signals {
		for slot := 0; slot < l.Slots(); slot++ {
			result = append(result, l.fields[sig][slot][:]...)
		}
	}
	return append(result, l.maxRdLatency, l.writeLatency)
}

func (l *Layout) checkOverlaps() error {
	var result *multierror.Error
	fields := l.all()
	for i := range fields {
		for j := i + 1; j < len(fields); j++ {
			if fields[i].Overlaps(fields[j]) {
				result = multierror.Append(result, fmt.Errorf("field %s overlaps %s", fields[i], fields[j]))
			}
		}
	}
	return result.ErrorOrNil()
}

// PerRank reports whether each rank has its own delay registers.
func (l *Layout) PerRank() bool {
	return l.perRank
}

// Slots returns the number of register slots per channel.
func (l *Layout) Slots() int {
	if l.perRank {
		return hw.MaxRanks
	}
	return hw.MaxRanks / 2
}

// Slot returns the register slot programmed for a chip select.
func (l *Layout) Slot(rank int) int {
	if l.perRank {
		return rank
	}
	return rank / 2
}

// Format returns the delay format of a signal.
func (l *Layout) Format(sig Signal) Format {
	return l.formats[sig]
}

// Field returns the register field of one lane.
func (l *Layout) Field(sig Signal, slot, lane int) (Field, error) {
	if !sig.Valid() {
		return Field{}, fmt.Errorf("unknown signal %d", sig)
	}
	if slot < 0 || slot >= l.Slots() {
		return Field{}, fmt.Errorf("slot %d is out of range [0, %d)", slot, l.Slots())
	}
	if lane < 0 || lane >= MaxLanes {
		return Field{}, fmt.Errorf("lane %d is out of range [0, %d)", lane, MaxLanes)
	}
	return l.fields[sig][slot][lane], nil
}

// MaxRdLatency returns the field of the controller read latency.
func (l *Layout) MaxRdLatency() Field {
	return l.maxRdLatency
}

// WriteLatency returns the field of the write latency offset.
func (l *Layout) WriteLatency() Field {
	return l.writeLatency
}
