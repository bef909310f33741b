// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dct

import (
	"github.com/linuxboot/memtrain/pkg/hw"
)

// Group is the set of present ranks programmed through one register
// slot. With per-rank registers every group holds a single rank; with
// shared registers it holds both ranks of a dual-rank module.
type Group struct {
	Slot  int
	Ranks []int
}

// Groups returns the slot groups of a channel in slot order. Presence is
// queried from the topology on every call.
func Groups(l *Layout, topo hw.Topology, ch int) []Group {
	var result []Group
	for slot := 0; slot < l.Slots(); slot++ {
		g := Group{Slot: slot}
		for _, rank := range hw.Present(topo, ch) {
			if l.Slot(rank) == slot {
				g.Ranks = append(g.Ranks, rank)
			}
		}
		if len(g.Ranks) > 0 {
			result = append(result, g)
		}
	}
	return result
}
