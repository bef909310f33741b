// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package maxrdlat computes the maximum read latency of a channel: the
// controller clock count after which read data is guaranteed to have
// arrived, given the trained receiver enable and read DQS delays.
package maxrdlat

import (
	"fmt"

	"github.com/linuxboot/memtrain/pkg/dct"
	"github.com/linuxboot/memtrain/pkg/hw"
	"github.com/linuxboot/memtrain/pkg/log"
	"github.com/linuxboot/memtrain/pkg/pattern"
)

// Constants are the fixed terms of the latency computation. The first
// three are in half memory clocks.
type Constants struct {
	PtrInit          int
	AddrCmdSetup     int
	RegisteredOffset int
	// Controller is added after conversion to controller clocks.
	Controller uint32
	// Verify enables the read-back search upward from the computed
	// value.
	Verify bool
}

// ErrNoLatency means no latency up to the register limit read back
// clean.
type ErrNoLatency struct {
	Channel int
	From    uint32
	Limit   uint32
}

// Error implements error.
func (err *ErrNoLatency) Error() string {
	return fmt.Sprintf("channel %d: no max read latency in [%d, %d] reads back clean",
		err.Channel, err.From, err.Limit)
}

// Calculator computes and programs the max read latency.
type Calculator struct {
	Programmer *dct.Programmer
	Patterns   *pattern.Engine
	Topology   hw.Topology
	Clocks     hw.Clocks
	Table      *dct.Table
	Constants  Constants
	Log        log.Logger
}

// common is the unit the receiver enable and read DQS delays are added
// in.
var common = dct.Format{Bits: 16, FineBits: 6}

// Worst returns the rank with the largest receiver enable plus read DQS
// delay on channel ch and that delay in half memory clocks.
func (c *Calculator) Worst(ch int) (rank int, halfClocks int, err error) {
	layout := c.Programmer.Layout
	rcv := layout.Format(dct.ReceiverEnable)
	dqs := layout.Format(dct.ReadDQS)
	rank = -1
	worst := -1
	for _, r := range hw.Present(c.Topology, ch) {
		for lane := 0; lane < dct.Lanes(c.Topology.ECC()); lane++ {
			re, ok := c.Table.Get(dct.Key{Channel: ch, Rank: r, Signal: dct.ReceiverEnable, Lane: lane})
			if !ok {
				continue
			}
			rd, _ := c.Table.Get(dct.Key{Channel: ch, Rank: r, Signal: dct.ReadDQS, Lane: lane})
			total := int(rcv.Convert(re, common)) + int(dqs.Convert(rd, common))
			if total > worst {
				rank, worst = r, total
			}
		}
	}
	if rank < 0 {
		return 0, 0, fmt.Errorf("channel %d has no trained receiver enable delay", ch)
	}
	return rank, worst * 2 / common.UnitsPerClock(), nil
}

// Compute returns the closed form latency of channel ch in controller
// clocks together with the worst-case rank.
func (c *Calculator) Compute(ch int) (uint32, int, error) {
	rank, half, err := c.Worst(ch)
	if err != nil {
		return 0, 0, err
	}
	sub := c.Constants.PtrInit + c.Constants.AddrCmdSetup + half
	if c.Topology.Registered() {
		sub += c.Constants.RegisteredOffset
	}
	mem := c.Clocks.MemClock()
	if mem == 0 {
		return 0, 0, fmt.Errorf("memory clock is not set")
	}
	nclk := uint64(c.Clocks.ControllerClock())
	den := 2 * uint64(mem)
	v := (uint64(sub)*nclk+den-1)/den + uint64(c.Constants.Controller)
	return uint32(v), rank, nil
}

// Run computes, verifies if configured, programs and records the max
// read latency of channel ch.
func (c *Calculator) Run(ch int) (uint32, error) {
	logger := log.OrDefault(c.Log)
	v, rank, err := c.Compute(ch)
	if err != nil {
		return 0, err
	}
	limit := c.Programmer.MaxRdLatencyLimit()
	if v > limit {
		c.Table.Flag(ch, dct.StatusMaxRdLatency|dct.StatusFatal)
		return 0, fmt.Errorf("channel %d: max read latency %d exceeds %d", ch, v, limit)
	}
	if err := c.Programmer.SetMaxRdLatency(ch, v); err != nil {
		return 0, err
	}
	if c.Constants.Verify {
		if v, err = c.verify(ch, rank, v, limit); err != nil {
			c.Table.Flag(ch, dct.StatusMaxRdLatency|dct.StatusFatal)
			return 0, err
		}
	}
	c.Table.SetMaxRdLatency(ch, v)
	logger.Debugf("channel %d: max read latency %d (worst rank %d)", ch, v, rank)
	return v, nil
}

func (c *Calculator) verify(ch, rank int, from, limit uint32) (uint32, error) {
	addr, err := c.Topology.TestAddress(ch, rank)
	if err != nil {
		return 0, err
	}
	if err := c.Patterns.WritePattern(addr, pattern.Primary); err != nil {
		return 0, err
	}
	for v := from; v <= limit; v++ {
		if err := c.Programmer.SetMaxRdLatency(ch, v); err != nil {
			return 0, err
		}
		bm, err := c.Patterns.ReadAndCompare(addr, pattern.Primary)
		if err != nil {
			return 0, err
		}
		if c.Patterns.ChannelLanes(bm, ch) == pattern.Full(dct.DataLanes) {
			return v, nil
		}
	}
	return 0, &ErrNoLatency{Channel: ch, From: from, Limit: limit}
}
