// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dct

import (
	"fmt"

	"github.com/linuxboot/memtrain/pkg/window"
)

// ErrNoWindow means a lane did not pass at any step of a sweep.
type ErrNoWindow struct {
	Key Key
}

// Error implements error.
func (err *ErrNoWindow) Error() string {
	return fmt.Sprintf("%s: no passing window", err.Key)
}

// ErrSmallWindow means the longest window of a lane is narrower than
// the minimum margin. It is a degraded result, not a failure.
type ErrSmallWindow struct {
	Key    Key
	Window window.Window
	Min    int
}

// Error implements error.
func (err *ErrSmallWindow) Error() string {
	return fmt.Sprintf("%s: window %s is shorter than %d steps", err.Key, err.Window, err.Min)
}

// ErrNoCandidate means no receiver enable candidate passed for a lane.
type ErrNoCandidate struct {
	Channel int
	Rank    int
	Lane    int
}

// Error implements error.
func (err *ErrNoCandidate) Error() string {
	return fmt.Sprintf("channel %d rank %d lane %d: no receiver enable candidate passed",
		err.Channel, err.Rank, err.Lane)
}
