// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dct

import (
	"fmt"
)

// ECCInterpolation derives the ECC lane delay from the two data lanes
// routed closest to it: ecc = a + (b - a) * Num / Den. A ratio outside
// [0, 1] extrapolates.
type ECCInterpolation struct {
	LaneA int
	LaneB int
	Num   int
	Den   int
}

// Validate checks the lane pair and the ratio.
func (e ECCInterpolation) Validate() error {
	if e.LaneA < 0 || e.LaneA >= DataLanes || e.LaneB < 0 || e.LaneB >= DataLanes {
		return fmt.Errorf("ECC reference lanes %d/%d are not data lanes", e.LaneA, e.LaneB)
	}
	if e.Den == 0 {
		return fmt.Errorf("ECC interpolation denominator is zero")
	}
	return nil
}

// Derive computes the ECC delay from the per-lane delays. The second
// value is true when the result underflowed (or overflowed) and was
// clamped into the format range.
func (e ECCInterpolation) Derive(delays []Delay, f Format) (Delay, bool) {
	a := int(delays[e.LaneA])
	b := int(delays[e.LaneB])
	return f.Clamp(a + (b-a)*e.Num/e.Den)
}
