// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package training

import (
	"fmt"
	"sort"
	"strings"

	"github.com/linuxboot/memtrain/pkg/dct"
	"github.com/linuxboot/memtrain/pkg/training/maxrdlat"
	"github.com/linuxboot/memtrain/pkg/training/rcven"
)

// StrategyKind selects the receiver enable search.
type StrategyKind uint8

const (
	// CoarseWindow sweeps the whole range for a passing run.
	CoarseWindow StrategyKind = iota
	// SeedSearch steps upward from a frequency-scaled seed.
	SeedSearch
)

func (k StrategyKind) String() string {
	switch k {
	case CoarseWindow:
		return "coarse-window"
	case SeedSearch:
		return "seed-search"
	}
	return fmt.Sprintf("strategy%d", uint8(k))
}

// Generation holds everything that differs between controller
// generations: register layout, sweep geometry and constants.
type Generation struct {
	Name     string
	Layout   dct.LayoutDescription
	Strategy StrategyKind

	Coarse        rcven.CoarseSweep
	Seeds         rcven.SeedMap
	SeedBaseClock uint32
	SeedMargin    int

	ReadSteps      int
	WriteSteps     int
	AntiPhaseSteps int
	MinWindow      int
	ProbeStride    int
	// TwoD replaces the separate read and write sweeps.
	TwoD bool

	MaxRdLatency maxrdlat.Constants
	ECC          dct.ECCInterpolation

	// DefaultReadDQS and DefaultWriteDQS are programmed before receiver
	// enable training, when no write levelling result is available.
	DefaultReadDQS  dct.Delay
	DefaultWriteDQS dct.Delay

	InitialWriteLatency uint32
	MaxRetries          int
	// Settle is the wait in memory clocks after programming a delay.
	Settle uint32
	// ClockSettle is the wait in milliseconds after changing the memory
	// clock.
	ClockSettle uint32
}

// Validate checks the parameters against the layout.
func (g *Generation) Validate() error {
	l, err := dct.NewLayout(g.Layout)
	if err != nil {
		return fmt.Errorf("generation %s: %w", g.Name, err)
	}
	if err := g.ECC.Validate(); err != nil {
		return fmt.Errorf("generation %s: %w", g.Name, err)
	}
	if g.Strategy == SeedSearch && (g.SeedBaseClock == 0 || len(g.Seeds) == 0) {
		return fmt.Errorf("generation %s: seed search without seeds", g.Name)
	}
	if g.DefaultReadDQS > l.Format(dct.ReadDQS).Max() || g.DefaultWriteDQS > l.Format(dct.WriteDQS).Max() {
		return fmt.Errorf("generation %s: default DQS delays exceed their formats", g.Name)
	}
	if g.MaxRetries < 0 {
		return fmt.Errorf("generation %s: negative retry count", g.Name)
	}
	return nil
}

var gen2Seeds = []dct.Delay{0x20, 0x20, 0x21, 0x21, 0x22, 0x22, 0x23, 0x23}

// Gen1 shares delay registers between the two ranks of a module and
// finds the receiver enable delay with a coarse sweep.
var Gen1 = Generation{
	Name:            "gen1",
	Layout:          dct.SharedRankLayout,
	Strategy:        CoarseWindow,
	Coarse:          rcven.CoarseSweep{Step: 1, Threshold: 16},
	ReadSteps:       64,
	WriteSteps:      64,
	MinWindow:       8,
	ProbeStride:     2,
	MaxRdLatency:    maxrdlat.Constants{PtrInit: 6, AddrCmdSetup: 4, RegisteredOffset: 2, Controller: 5},
	ECC:             dct.ECCInterpolation{LaneA: 3, LaneB: 4, Num: 1, Den: 2},
	DefaultReadDQS:  32,
	DefaultWriteDQS: 24,
	MaxRetries:      2,
	Settle:          8,
	ClockSettle:     5,
}

// Gen2 has per-rank delay registers, seeds its receiver enable search
// and trains read and write DQS in one two dimensional sweep.
var Gen2 = Generation{
	Name:     "gen2",
	Layout:   dct.PerRankLayout,
	Strategy: SeedSearch,
	Seeds: rcven.SeedMap{
		{Package: "AM3"}:                   gen2Seeds,
		{Package: "C32", Registered: true}: {0x28, 0x28, 0x29, 0x29, 0x2a, 0x2a, 0x2b, 0x2b},
		{Package: "G34", Registered: true}: {0x28, 0x28, 0x29, 0x29, 0x2a, 0x2a, 0x2b, 0x2b},
		{Package: "G34"}:                   gen2Seeds,
	},
	SeedBaseClock:   400,
	SeedMargin:      16,
	ReadSteps:       32,
	WriteSteps:      32,
	AntiPhaseSteps:  16,
	MinWindow:       6,
	ProbeStride:     2,
	TwoD:            true,
	MaxRdLatency:    maxrdlat.Constants{PtrInit: 6, AddrCmdSetup: 4, RegisteredOffset: 2, Controller: 5, Verify: true},
	ECC:             dct.ECCInterpolation{LaneA: 3, LaneB: 4, Num: 1, Den: 2},
	DefaultReadDQS:  16,
	DefaultWriteDQS: 14,
	MaxRetries:      3,
	Settle:          8,
	ClockSettle:     5,
}

var generations = map[string]*Generation{
	Gen1.Name: &Gen1,
	Gen2.Name: &Gen2,
}

// Lookup returns a copy of the named generation. The copy shares no
// memory with the preset.
func Lookup(name string) (Generation, error) {
	g, ok := generations[strings.ToLower(name)]
	if !ok {
		return Generation{}, fmt.Errorf("unknown generation %q, expected one of %s", name, strings.Join(Names(), ", "))
	}
	c := *g
	c.Layout.Lanes = append([]dct.LaneLayout(nil), g.Layout.Lanes...)
	if g.Seeds != nil {
		c.Seeds = make(rcven.SeedMap, len(g.Seeds))
		for k, seeds := range g.Seeds {
			c.Seeds[k] = append([]dct.Delay(nil), seeds...)
		}
	}
	return c, nil
}

// Names lists the known generations.
func Names() []string {
	var names []string
	for name := range generations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
