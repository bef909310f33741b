// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package train

import (
	"github.com/linuxboot/memtrain/pkg/hw"
	"github.com/linuxboot/memtrain/pkg/hw/hostio"
	"github.com/linuxboot/memtrain/pkg/hw/sim"
	"github.com/linuxboot/memtrain/pkg/training"
)

// hostPlatform replaces the simulated registers, memory and mode of p
// by the host ones.
func hostPlatform(p *training.Platform, ecamBase uint64) error {
	msrs, err := hostio.NewCPUMSRs()
	if err != nil {
		return err
	}
	p.Registers = &hw.IndexedPort{Space: &hostio.ConfigSpace{
		Phys:     hostio.DevMem{},
		ECAMBase: ecamBase,
		Function: hostio.DefaultDCTFunction,
	}}
	p.Memory = &hostio.Memory{Phys: hostio.DevMem{}}
	p.Window = &hostio.Window{Base: sim.ScratchBase, Size: hw.MaxChannels * sim.ChannelStride}
	p.Mode = &hostio.Mode{MSRs: msrs}
	p.Delay = hw.Clock{Clocks: p.Clocks}
	return nil
}
