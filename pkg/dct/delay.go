// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dct models the timing state of the DRAM controllers: delay
// values and their formats, the lane register layout, the programmer
// that writes delays to hardware and the calibration result table.
package dct

import (
	"fmt"
)

const (
	// DataLanes is the number of data byte lanes of a channel.
	DataLanes = 8
	// ECCLane is the index of the optional ECC byte lane.
	ECCLane = DataLanes
	// MaxLanes is the size of every per-lane array.
	MaxLanes = DataLanes + 1
)

// Lanes returns the number of lanes trained on a channel.
func Lanes(ecc bool) int {
	if ecc {
		return MaxLanes
	}
	return DataLanes
}

// Delay is an unsigned timing offset in the fine units of its Format.
type Delay uint16

// Format describes how a Delay is split into a gross (whole clock) part
// and a fine (sub-clock) part. A 10-bit format with 5 fine bits counts
// in 1/32 of a clock and has 5 gross bits.
type Format struct {
	Bits     uint8
	FineBits uint8
}

func (f Format) String() string {
	return fmt.Sprintf("%d-bit, 1/%d clock", f.Bits, f.UnitsPerClock())
}

// Validate checks that the format is usable.
func (f Format) Validate() error {
	if f.Bits == 0 || f.Bits > 16 {
		return fmt.Errorf("delay width %d is out of range [1, 16]", f.Bits)
	}
	if f.FineBits > f.Bits {
		return fmt.Errorf("fine width %d exceeds total width %d", f.FineBits, f.Bits)
	}
	return nil
}

// UnitsPerClock returns how many fine units make one clock.
func (f Format) UnitsPerClock() int {
	return 1 << f.FineBits
}

// Max returns the largest representable delay.
func (f Format) Max() Delay {
	return Delay(uint32(1)<<f.Bits - 1)
}

// Gross returns the whole-clock part of d.
func (f Format) Gross(d Delay) uint16 {
	return uint16(d) >> f.FineBits
}

// Fine returns the sub-clock part of d.
func (f Format) Fine(d Delay) uint16 {
	return uint16(d) & (uint16(1)<<f.FineBits - 1)
}

// Compose builds a delay from its parts.
func (f Format) Compose(gross, fine uint16) (Delay, error) {
	if int(fine) >= f.UnitsPerClock() {
		return 0, fmt.Errorf("fine part %d does not fit %d bits", fine, f.FineBits)
	}
	v := uint32(gross)<<f.FineBits | uint32(fine)
	if v > uint32(f.Max()) {
		return 0, fmt.Errorf("delay %d:%d exceeds %s", gross, fine, f)
	}
	return Delay(v), nil
}

// Clamp converts v into a delay, saturating at zero and at Max. The
// second value is true when saturation happened.
func (f Format) Clamp(v int) (Delay, bool) {
	if v < 0 {
		return 0, true
	}
	if v > int(f.Max()) {
		return f.Max(), true
	}
	return Delay(v), false
}

// Convert rescales d into the units of another format, rounding down
// and saturating at the target maximum.
func (f Format) Convert(d Delay, to Format) Delay {
	v := int(d) * to.UnitsPerClock() / f.UnitsPerClock()
	r, _ := to.Clamp(v)
	return r
}

// HalfClocks returns the number of whole half clocks in d.
func (f Format) HalfClocks(d Delay) int {
	return int(d) * 2 / f.UnitsPerClock()
}
