// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package pattern

import (
	"fmt"

	"github.com/linuxboot/memtrain/pkg/hw"
)

// ID selects one of the fixed test patterns.
type ID uint8

const (
	// Primary is the walking inverted bit pattern.
	Primary ID = iota
	// Alternate walks the inverted bit in the opposite direction, so
	// neighbouring lanes toggle against each other.
	Alternate
	// AntiPhase is the bit-wise inverse of Primary.
	AntiPhase

	numPatterns = 3
)

func (id ID) String() string {
	switch id {
	case Primary:
		return "primary"
	case Alternate:
		return "alternate"
	case AntiPhase:
		return "anti-phase"
	}
	return fmt.Sprintf("pattern%d", uint8(id))
}

// Inverse returns the pattern holding the complement of id.
func (id ID) Inverse() ID {
	if id == AntiPhase {
		return Primary
	}
	return AntiPhase
}

const (
	// Lines is the pattern length for a single channel width bus.
	Lines = 9
	// GangedLines is the pattern length for a combined-width bus.
	GangedLines = 18

	// beat widths in byte lanes
	narrowBeat = 8
	wideBeat   = 16
)

// tables[id][ganged] is the fixed byte sequence of a pattern.
var tables [numPatterns][2][]byte

func init() {
	for _, ganged := range []bool{false, true} {
		lines, beat := Lines, narrowBeat
		g := 0
		if ganged {
			lines, beat, g = GangedLines, wideBeat, 1
		}
		size := lines * hw.CacheLineSize
		primary := make([]byte, size)
		alternate := make([]byte, size)
		anti := make([]byte, size)
		for i := 0; i < size; i++ {
			line := i / hw.CacheLineSize
			b := (i % hw.CacheLineSize) / beat
			lane := i % beat
			p := ^byte(1 << uint((line+b+lane)%8))
			a := ^byte(0x80 >> uint((line+b+2*lane)%8))
			if b%2 == 1 {
				p, a = ^p, ^a
			}
			primary[i] = p
			alternate[i] = a
			anti[i] = ^p
		}
		tables[Primary][g] = primary
		tables[Alternate][g] = alternate
		tables[AntiPhase][g] = anti
	}
}

// Bytes returns the fixed byte sequence of a pattern. The slice must
// not be modified.
func Bytes(id ID, ganged bool) []byte {
	g := 0
	if ganged {
		g = 1
	}
	return tables[id][g]
}
