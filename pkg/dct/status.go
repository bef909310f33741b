// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dct

import (
	"strings"
)

// Status is the per-channel training status word. Flags accumulate
// over one attempt of the training protocol.
type Status uint32

// Status flags
const (
	// StatusNoWindow: a lane had no passing step at all.
	StatusNoWindow Status = 1 << iota
	// StatusSmallWindow: a window was narrower than the minimum margin;
	// the centered value was committed anyway.
	StatusSmallWindow
	// StatusNoCandidate: no receiver enable candidate passed.
	StatusNoCandidate
	// StatusRetry: a stage requested a restart of the whole protocol.
	StatusRetry
	// StatusFatal: the channel cannot be used.
	StatusFatal
	// StatusECCClamp: the interpolated ECC lane delay was clamped.
	StatusECCClamp
	// StatusMaxRdLatency: no read latency passed verification.
	StatusMaxRdLatency
)

var statusNames = []struct {
	flag Status
	name string
}{
	{StatusNoWindow, "no-window"},
	{StatusSmallWindow, "small-window"},
	{StatusNoCandidate, "no-candidate"},
	{StatusRetry, "retry"},
	{StatusFatal, "fatal"},
	{StatusECCClamp, "ecc-clamp"},
	{StatusMaxRdLatency, "max-rd-latency"},
}

// Has returns true if every flag of f is set.
func (s Status) Has(f Status) bool {
	return s&f == f
}

// Degraded returns true if a non-fatal issue was recorded.
func (s Status) Degraded() bool {
	return s&(StatusSmallWindow|StatusECCClamp) != 0
}

func (s Status) String() string {
	if s == 0 {
		return "ok"
	}
	var names []string
	for _, n := range statusNames {
		if s.Has(n.flag) {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, ",")
}
