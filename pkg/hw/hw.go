// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hw defines the hardware facades consumed by the training
// engines: indexed controller registers, test memory, the scratch
// address window, delays, calibration-mode state and the topology of
// the installed memory.
package hw

import (
	"fmt"
)

const (
	// MaxChannels is the number of DRAM controllers (channels) per node.
	MaxChannels = 2
	// MaxRanks is the number of chip selects per channel.
	MaxRanks = 8
	// CacheLineSize is the granularity of test memory accesses.
	CacheLineSize = 64
	// ScratchWindowSize is the size of the physical range mapped for
	// pre-enumeration cache-line tests.
	ScratchWindowSize = 64 << 20
)

// Registers gives access to the indexed configuration registers of the
// DRAM controllers. Both calls block until the controller reports the
// access complete.
type Registers interface {
	ReadIndexed(ch int, index uint32) (uint32, error)
	WriteIndexed(ch int, index uint32, value uint32) error
}

// TestMemory reads and writes whole cache lines of physical memory.
type TestMemory interface {
	// WriteLines writes data (a multiple of CacheLineSize) at addr.
	WriteLines(addr uint64, data []byte) error
	// ReadLines fills data (a multiple of CacheLineSize) from addr.
	ReadLines(addr uint64, data []byte) error
	// Flush evicts the cache line holding addr, so the next read
	// reaches DRAM.
	Flush(addr uint64) error
}

// AddressWindow maps the scratch window over a physical test address.
// A mapping is valid until Unmap and must be re-established for every
// test address.
type AddressWindow interface {
	Map(phys uint64) (uint64, error)
	Unmap() error
}

// Width is the data width of the DRAM devices of a rank.
type Width uint8

// Defines supported device widths
const (
	WidthX4  Width = 4
	WidthX8  Width = 8
	WidthX16 Width = 16
)

func (w Width) String() string {
	switch w {
	case WidthX4, WidthX8, WidthX16:
		return fmt.Sprintf("x%d", uint8(w))
	}
	return fmt.Sprintf("unknown width %d", uint8(w))
}

// Topology describes the installed memory. Rank presence is queried on
// every call because configuration can restart between attempts.
type Topology interface {
	// DIMMs returns the number of installed modules on the channel.
	DIMMs(ch int) int
	// RankPresent reports whether the chip select is enabled.
	RankPresent(ch, rank int) bool
	// RankWidth returns the device width of the rank.
	RankWidth(ch, rank int) Width
	// Registered reports whether the modules are registered (buffered).
	Registered() bool
	// ECC reports whether the ECC byte lane is populated and enabled.
	ECC() bool
	// Package returns the socket/package name used to select seeds.
	Package() string
	// Ganged reports whether both channels run as one combined-width bus.
	Ganged() bool
	// TargetMemClock returns the negotiated memory clock in MHz.
	TargetMemClock() uint32
	// MinMemClock returns the lowest supported memory clock in MHz.
	MinMemClock() uint32
	// TestAddress returns the physical address reserved for cache line
	// tests of the rank.
	TestAddress(ch, rank int) (uint64, error)
}

// Clocks reports and changes the live clock configuration.
type Clocks interface {
	// MemClock returns the memory clock in MHz.
	MemClock() uint32
	// ControllerClock returns the controller (northbridge) clock in MHz.
	ControllerClock() uint32
	// SetMemClock reprograms the memory clock before a new attempt.
	SetMemClock(mhz uint32) error
}

// Present returns the chip selects of the channel that are enabled.
func Present(topo Topology, ch int) []int {
	var ranks []int
	for rank := 0; rank < MaxRanks; rank++ {
		if topo.RankPresent(ch, rank) {
			ranks = append(ranks, rank)
		}
	}
	return ranks
}
