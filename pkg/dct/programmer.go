// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dct

import (
	"fmt"

	"github.com/linuxboot/memtrain/pkg/hw"
)

// Programmer writes delays to the controller registers described by a
// Layout. Lanes sharing a register are committed by a single write.
type Programmer struct {
	Regs   hw.Registers
	Layout *Layout
}

type registerUpdate struct {
	index  uint32
	fields []Field
	values []uint32
}

func (p *Programmer) group(sig Signal, slot int, delays []Delay) ([]registerUpdate, error) {
	if len(delays) > MaxLanes {
		return nil, fmt.Errorf("%d lanes exceed %d", len(delays), MaxLanes)
	}
	limit := p.Layout.Format(sig).Max()
	var updates []registerUpdate
	for lane, d := range delays {
		if d > limit {
			return nil, fmt.Errorf("%s lane %d: delay %d exceeds %d", sig, lane, d, limit)
		}
		f, err := p.Layout.Field(sig, slot, lane)
		if err != nil {
			return nil, err
		}
		idx := -1
		for i := range updates {
			if updates[i].index == f.Register {
				idx = i
				break
			}
		}
		if idx < 0 {
			updates = append(updates, registerUpdate{index: f.Register})
			idx = len(updates) - 1
		}
		updates[idx].fields = append(updates[idx].fields, f)
		updates[idx].values = append(updates[idx].values, uint32(d))
	}
	return updates, nil
}

// Program writes one delay per lane (lane i gets delays[i]) for a slot.
func (p *Programmer) Program(ch int, sig Signal, slot int, delays []Delay) error {
	updates, err := p.group(sig, slot, delays)
	if err != nil {
		return err
	}
	for _, u := range updates {
		reg, err := p.Regs.ReadIndexed(ch, u.index)
		if err != nil {
			return fmt.Errorf("unable to read %s register 0x%x: %w", sig, u.index, err)
		}
		for i, f := range u.fields {
			reg = f.Set(reg, u.values[i])
		}
		if err := p.Regs.WriteIndexed(ch, u.index, reg); err != nil {
			return fmt.Errorf("unable to write %s register 0x%x: %w", sig, u.index, err)
		}
	}
	return nil
}

// ProgramAll writes the same delay to the first lanes lanes of a slot.
func (p *Programmer) ProgramAll(ch int, sig Signal, slot int, lanes int, d Delay) error {
	delays := make([]Delay, lanes)
	for i := range delays {
		delays[i] = d
	}
	return p.Program(ch, sig, slot, delays)
}

// Read returns the programmed delays of the first lanes lanes of a slot.
func (p *Programmer) Read(ch int, sig Signal, slot int, lanes int) ([]Delay, error) {
	result := make([]Delay, lanes)
	cache := map[uint32]uint32{}
	for lane := range result {
		f, err := p.Layout.Field(sig, slot, lane)
		if err != nil {
			return nil, err
		}
		reg, ok := cache[f.Register]
		if !ok {
			reg, err = p.Regs.ReadIndexed(ch, f.Register)
			if err != nil {
				return nil, fmt.Errorf("unable to read %s register 0x%x: %w", sig, f.Register, err)
			}
			cache[f.Register] = reg
		}
		result[lane] = Delay(f.Get(reg))
	}
	return result, nil
}

func (p *Programmer) setField(ch int, f Field, v uint32) error {
	if v > f.Mask()>>f.Shift {
		return fmt.Errorf("value %d does not fit field %s", v, f)
	}
	reg, err := p.Regs.ReadIndexed(ch, f.Register)
	if err != nil {
		return err
	}
	return p.Regs.WriteIndexed(ch, f.Register, f.Set(reg, v))
}

func (p *Programmer) getField(ch int, f Field) (uint32, error) {
	reg, err := p.Regs.ReadIndexed(ch, f.Register)
	if err != nil {
		return 0, err
	}
	return f.Get(reg), nil
}

// SetMaxRdLatency programs the controller read latency.
func (p *Programmer) SetMaxRdLatency(ch int, v uint32) error {
	return p.setField(ch, p.Layout.MaxRdLatency(), v)
}

// MaxRdLatency returns the programmed controller read latency.
func (p *Programmer) MaxRdLatency(ch int) (uint32, error) {
	return p.getField(ch, p.Layout.MaxRdLatency())
}

// MaxRdLatencyLimit returns the largest programmable read latency.
func (p *Programmer) MaxRdLatencyLimit() uint32 {
	f := p.Layout.MaxRdLatency()
	return f.Mask() >> f.Shift
}

// SetWriteLatency programs the write latency offset.
func (p *Programmer) SetWriteLatency(ch int, v uint32) error {
	return p.setField(ch, p.Layout.WriteLatency(), v)
}

// WriteLatency returns the programmed write latency offset.
func (p *Programmer) WriteLatency(ch int) (uint32, error) {
	return p.getField(ch, p.Layout.WriteLatency())
}
