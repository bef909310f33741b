// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/linuxboot/memtrain/pkg/dct"
	"github.com/linuxboot/memtrain/pkg/hw"
	"github.com/linuxboot/memtrain/pkg/window"
)

// LaneProfile holds the delay ranges (in the units of each signal's
// format) for which a byte lane transfers data correctly.
type LaneProfile struct {
	RcvEn    window.Window `json:"rcven"`
	ReadDQS  window.Window `json:"read_dqs"`
	WriteDQS window.Window `json:"write_dqs"`
}

// RankProfile describes one chip select. If Lanes holds a single entry
// it applies to every lane.
type RankProfile struct {
	ChipSelect int           `json:"chip_select"`
	Width      hw.Width      `json:"width"`
	Lanes      []LaneProfile `json:"lanes"`
}

// ChannelProfile describes one channel.
type ChannelProfile struct {
	Ranks []RankProfile `json:"ranks"`
	// MinMaxRdLatency is the lowest read latency value at which read
	// data arrives in time; zero disables the check.
	MinMaxRdLatency uint32 `json:"min_max_rd_latency,omitempty"`
	// MinWriteLatency is the lowest write latency offset at which the
	// receiver ever opens; zero disables the check.
	MinWriteLatency uint32 `json:"min_write_latency,omitempty"`
}

// Profile describes a simulated board.
type Profile struct {
	Package         string `json:"package"`
	Registered      bool   `json:"registered"`
	ECC             bool   `json:"ecc"`
	Ganged          bool   `json:"ganged"`
	TargetMemClock  uint32 `json:"target_mem_clock"`
	MinMemClock     uint32 `json:"min_mem_clock"`
	ControllerClock uint32 `json:"controller_clock"`
	// MaxStableMemClock is the fastest memory clock at which any read
	// succeeds; zero means unlimited.
	MaxStableMemClock uint32           `json:"max_stable_mem_clock,omitempty"`
	Channels          []ChannelProfile `json:"channels"`
}

// LoadProfile decodes a JSON profile.
func LoadProfile(r io.Reader) (Profile, error) {
	var p Profile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Profile{}, fmt.Errorf("unable to decode board profile: %w", err)
	}
	return p, p.Validate()
}

// Validate checks the profile for consistency.
func (p Profile) Validate() error {
	if len(p.Channels) == 0 || len(p.Channels) > hw.MaxChannels {
		return fmt.Errorf("profile has %d channels, expected 1..%d", len(p.Channels), hw.MaxChannels)
	}
	if p.MinMemClock == 0 || p.TargetMemClock < p.MinMemClock {
		return fmt.Errorf("memory clock range %d..%d MHz is invalid", p.MinMemClock, p.TargetMemClock)
	}
	if p.ControllerClock == 0 {
		return fmt.Errorf("controller clock is not set")
	}
	for ch, c := range p.Channels {
		seen := map[int]bool{}
		for _, r := range c.Ranks {
			if r.ChipSelect < 0 || r.ChipSelect >= hw.MaxRanks {
				return fmt.Errorf("channel %d: chip select %d is out of range", ch, r.ChipSelect)
			}
			if seen[r.ChipSelect] {
				return fmt.Errorf("channel %d: chip select %d is declared twice", ch, r.ChipSelect)
			}
			seen[r.ChipSelect] = true
			if len(r.Lanes) != 1 && len(r.Lanes) != dct.MaxLanes && len(r.Lanes) != dct.DataLanes {
				return fmt.Errorf("channel %d chip select %d: %d lane entries, expected 1, %d or %d",
					ch, r.ChipSelect, len(r.Lanes), dct.DataLanes, dct.MaxLanes)
			}
		}
	}
	return nil
}

// Lane returns the profile of one lane.
func (r RankProfile) Lane(lane int) LaneProfile {
	if len(r.Lanes) == 1 {
		return r.Lanes[0]
	}
	if lane < len(r.Lanes) {
		return r.Lanes[lane]
	}
	return LaneProfile{}
}

// Uniform returns a profile with the given chip selects populated on
// every channel, all lanes sharing one lane profile.
func Uniform(channels int, chipSelects []int, lane LaneProfile) Profile {
	p := Profile{
		Package:         "AM3",
		TargetMemClock:  667,
		MinMemClock:     400,
		ControllerClock: 1600,
	}
	for ch := 0; ch < channels; ch++ {
		var c ChannelProfile
		for _, cs := range chipSelects {
			c.Ranks = append(c.Ranks, RankProfile{
				ChipSelect: cs,
				Width:      hw.WidthX8,
				Lanes:      []LaneProfile{lane},
			})
		}
		p.Channels = append(p.Channels, c)
	}
	return p
}
