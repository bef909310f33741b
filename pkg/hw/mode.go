// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hw

import (
	"fmt"
	"sync"
)

// ModeState is the process-wide state the training code needs while it
// runs: wide (SIMD) cache line accesses and addressing above 4 GiB.
type ModeState struct {
	SIMD       bool
	LargeAddrs bool
}

// ModeSwitch reads and writes the calibration mode state.
type ModeSwitch interface {
	Mode() (ModeState, error)
	SetMode(ModeState) error
}

// ModeGuard restores the saved mode state when closed.
type ModeGuard struct {
	sw    ModeSwitch
	saved ModeState
	once  sync.Once
	err   error
}

// EnableCalibrationMode saves the current mode state and enables both
// SIMD and large addressing. The returned guard must be closed on every
// exit path; a deferred Close is the usual pattern.
func EnableCalibrationMode(sw ModeSwitch) (*ModeGuard, error) {
	saved, err := sw.Mode()
	if err != nil {
		return nil, fmt.Errorf("unable to read calibration mode: %w", err)
	}
	if err := sw.SetMode(ModeState{SIMD: true, LargeAddrs: true}); err != nil {
		return nil, fmt.Errorf("unable to enable calibration mode: %w", err)
	}
	return &ModeGuard{sw: sw, saved: saved}, nil
}

// Saved returns the state that Close restores.
func (g *ModeGuard) Saved() ModeState {
	return g.saved
}

// Close restores the saved state. Calling it more than once is a no-op
// that returns the first result.
func (g *ModeGuard) Close() error {
	g.once.Do(func() {
		if err := g.sw.SetMode(g.saved); err != nil {
			g.err = fmt.Errorf("unable to restore calibration mode %+v: %w", g.saved, err)
		}
	})
	return g.err
}
