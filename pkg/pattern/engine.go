// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package pattern implements the test pattern engine: it writes fixed,
// transition rich byte patterns to a test address, reads them back and
// reports which byte lanes matched.
//
// A missing bit in the returned Bitmap is the failure signal; reading a
// mismatching pattern is a measurement and not an error.
package pattern

import (
	"fmt"
	"math/bits"

	"github.com/linuxboot/memtrain/pkg/hw"
)

// AntiPhaseOffset is the distance from a test address to the copy of
// the inverted pattern used by the two-pattern comparison.
const AntiPhaseOffset = 0x800

// Bitmap has one bit per byte lane; a set bit means every byte of that
// lane matched the expected pattern.
type Bitmap uint16

// Full returns the bitmap with lanes [0, lanes) passing.
func Full(lanes int) Bitmap {
	return Bitmap(uint32(1)<<uint(lanes) - 1)
}

// Pass returns the outcome of one lane.
func (b Bitmap) Pass(lane int) bool {
	return b&(1<<uint(lane)) != 0
}

// Count returns the number of passing lanes.
func (b Bitmap) Count() int {
	return bits.OnesCount16(uint16(b))
}

// Channel extracts the lanes of one channel from a combined-width
// bitmap.
func (b Bitmap) Channel(ch int) Bitmap {
	return (b >> uint(8*ch)) & 0xff
}

func (b Bitmap) String() string {
	return fmt.Sprintf("%016b", uint16(b))
}

// Engine runs pattern tests through the scratch address window.
type Engine struct {
	Memory hw.TestMemory
	Window hw.AddressWindow
	// Ganged selects the 18 line pattern with 16-byte beats used when
	// both channels form one combined-width bus.
	Ganged bool
}

// Size returns the pattern length in bytes.
func (e *Engine) Size() int {
	if e.Ganged {
		return GangedLines * hw.CacheLineSize
	}
	return Lines * hw.CacheLineSize
}

// Lanes returns the number of byte lanes of one beat.
func (e *Engine) Lanes() int {
	if e.Ganged {
		return wideBeat
	}
	return narrowBeat
}

// ChannelLanes returns the data lanes of channel ch from a bitmap
// returned by the engine.
func (e *Engine) ChannelLanes(b Bitmap, ch int) Bitmap {
	if e.Ganged {
		return b.Channel(ch)
	}
	return b & Full(narrowBeat)
}

func (e *Engine) mapped(phys uint64, fn func(addr uint64) error) (err error) {
	addr, err := e.Window.Map(phys)
	if err != nil {
		return fmt.Errorf("unable to map test address 0x%x: %w", phys, err)
	}
	defer func() {
		if uerr := e.Window.Unmap(); uerr != nil && err == nil {
			err = fmt.Errorf("unable to unmap test address 0x%x: %w", phys, uerr)
		}
	}()
	return fn(addr)
}

// WritePattern writes pattern id at phys.
func (e *Engine) WritePattern(phys uint64, id ID) error {
	if id >= numPatterns {
		return fmt.Errorf("unknown pattern %d", id)
	}
	return e.mapped(phys, func(addr uint64) error {
		return e.Memory.WriteLines(addr, Bytes(id, e.Ganged))
	})
}

// WritePatternBoth writes pattern id at phys and its inverse at
// phys+AntiPhaseOffset.
func (e *Engine) WritePatternBoth(phys uint64, id ID) error {
	if err := e.WritePattern(phys, id); err != nil {
		return err
	}
	return e.WritePattern(phys+AntiPhaseOffset, id.Inverse())
}

// Flush evicts every line of the pattern at phys.
func (e *Engine) Flush(phys uint64) error {
	return e.mapped(phys, func(addr uint64) error {
		return e.flush(addr)
	})
}

func (e *Engine) flush(addr uint64) error {
	for off := 0; off < e.Size(); off += hw.CacheLineSize {
		if err := e.Memory.Flush(addr + uint64(off)); err != nil {
			return err
		}
	}
	return nil
}

// ReadAndCompare flushes and reads back the pattern at phys and
// returns the lanes that matched pattern id.
func (e *Engine) ReadAndCompare(phys uint64, id ID) (Bitmap, error) {
	if id >= numPatterns {
		return 0, fmt.Errorf("unknown pattern %d", id)
	}
	var result Bitmap
	err := e.mapped(phys, func(addr uint64) error {
		if err := e.flush(addr); err != nil {
			return err
		}
		buf := make([]byte, e.Size())
		if err := e.Memory.ReadLines(addr, buf); err != nil {
			return err
		}
		result = e.compare(buf, Bytes(id, e.Ganged))
		return e.flush(addr)
	})
	return result, err
}

// ReadAndCompareBoth checks the expected pattern at phys and its
// inverse at phys+AntiPhaseOffset, returning the lanes that passed both.
func (e *Engine) ReadAndCompareBoth(phys uint64, id ID) (Bitmap, error) {
	expected, err := e.ReadAndCompare(phys, id)
	if err != nil {
		return 0, err
	}
	anti, err := e.ReadAndCompare(phys+AntiPhaseOffset, id.Inverse())
	if err != nil {
		return 0, err
	}
	return expected & anti, nil
}

func (e *Engine) compare(got, want []byte) Bitmap {
	beat := e.Lanes()
	result := Full(beat)
	for i := range want {
		if got[i] != want[i] {
			result &^= 1 << uint(i%beat)
		}
	}
	return result
}
