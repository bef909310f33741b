// Copyright 2019-2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package window implements the passing-window search used by the
// training engines: per-lane sweep records, run extraction, longest-run
// selection and centering.
package window

import (
	"fmt"
	"strings"
)

// Window is a maximal run of consecutive passing delay steps.
type Window struct {
	Start  int
	Length int
}

func (w Window) String() string {
	return fmt.Sprintf(`{"Start":%d, "Length":%d}`, w.Start, w.Length)
}

// End returns the first step after the window.
func (w Window) End() int {
	return w.Start + w.Length
}

// Center returns the step committed for the window. For even lengths
// the two middle steps are equally distant and the upper one is chosen.
func (w Window) Center() int {
	return w.Start + w.Length/2
}

// Empty returns true if the window contains no steps.
func (w Window) Empty() bool {
	return w.Length <= 0
}

// IsIn returns if the step is covered by the window. `Start` is
// inclusive, while `End()` is exclusive.
func (w Window) IsIn(step int) bool {
	return w.Start <= step && step < w.End()
}

// Windows is a helper to manipulate multiple `Window`-s at once
type Windows []Window

func (s Windows) String() string {
	r := make([]string, 0, len(s))
	for _, w := range s {
		r = append(r, w.String())
	}
	return `[` + strings.Join(r, `, `) + `]`
}

// Longest returns the window with the strictly greatest length. On a
// tie the first window in slice order wins. An empty slice yields an
// empty window.
func (s Windows) Longest() Window {
	var best Window
	for _, w := range s {
		if w.Length > best.Length {
			best = w
		}
	}
	return best
}
