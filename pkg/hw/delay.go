// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hw

import (
	"time"
)

// Delayer provides the two waits the training sequence needs.
type Delayer interface {
	// WaitMillis waits for at least n milliseconds.
	WaitMillis(n uint32)
	// WaitMemClocks waits for at least n memory clock cycles at the
	// current memory clock.
	WaitMemClocks(n uint32)
}

// Clock implements Delayer with wall clock time. The precise wait is
// derived from the live memory clock on every call, since it changes
// between attempts.
type Clock struct {
	Clocks Clocks
}

var _ Delayer = Clock{}

// WaitMillis implements Delayer.
func (c Clock) WaitMillis(n uint32) {
	time.Sleep(time.Duration(n) * time.Millisecond)
}

// WaitMemClocks implements Delayer. Sub-microsecond waits spin instead
// of sleeping because the scheduler granularity is far coarser.
func (c Clock) WaitMemClocks(n uint32) {
	d := MemClocksDuration(n, c.Clocks.MemClock())
	if d <= 0 {
		return
	}
	if d >= time.Millisecond {
		time.Sleep(d)
		return
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
	}
}

// MemClocksDuration converts a number of memory clocks at mhz into a
// duration, rounded up to the next nanosecond.
func MemClocksDuration(n uint32, mhz uint32) time.Duration {
	if mhz == 0 || n == 0 {
		return 0
	}
	ns := (uint64(n)*1000 + uint64(mhz) - 1) / uint64(mhz)
	return time.Duration(ns) * time.Nanosecond
}

// NoDelay is a Delayer that returns immediately; simulated hardware
// settles instantly.
type NoDelay struct{}

// WaitMillis implements Delayer.
func (NoDelay) WaitMillis(uint32) {}

// WaitMemClocks implements Delayer.
func (NoDelay) WaitMemClocks(uint32) {}
