// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hostio implements the hardware facades on a running host:
// controller configuration space through the PCI ECAM window, test
// memory through physical memory accesses and calibration mode through
// the hardware configuration MSR. The accessors are behind the Phys and
// MSRs interfaces; DevMem and CPUMSRs are the Linux implementations.
package hostio

import (
	"fmt"

	"github.com/linuxboot/memtrain/pkg/hw"
)

// Phys accesses physical memory.
type Phys interface {
	Read32(addr uint64) (uint32, error)
	Write32(addr uint64, value uint32) error
	ReadBytes(addr uint64, data []byte) error
	WriteBytes(addr uint64, data []byte) error
}

// MSRs accesses a model specific register on every CPU.
type MSRs interface {
	Read(reg uint32) (uint64, error)
	Write(reg uint32, value uint64) error
}

// Function is the location of a PCI function.
type Function struct {
	Bus      uint8
	Device   uint8
	Function uint8
}

func (f Function) String() string {
	return fmt.Sprintf("%02x:%02x.%x", f.Bus, f.Device, f.Function)
}

// DefaultDCTFunction is the DRAM controller function of node 0.
var DefaultDCTFunction = Function{Bus: 0, Device: 0x18, Function: 2}

// ECAMSize is the size of the configuration space of one function.
const ECAMSize = 4096

// ECAMAddress returns the physical address of a configuration register.
func ECAMAddress(base uint64, fn Function, offset uint32) (uint64, error) {
	if fn.Device > 31 || fn.Function > 7 {
		return 0, fmt.Errorf("invalid PCI function %s", fn)
	}
	if offset >= ECAMSize || offset%4 != 0 {
		return 0, fmt.Errorf("config offset 0x%x is not an aligned dword of the function", offset)
	}
	return base | uint64(fn.Bus)<<20 | uint64(fn.Device)<<15 | uint64(fn.Function)<<12 | uint64(offset), nil
}

// ConfigSpace implements hw.ConfigSpace over memory mapped configuration.
type ConfigSpace struct {
	Phys     Phys
	ECAMBase uint64
	Function Function
}

var _ hw.ConfigSpace = (*ConfigSpace)(nil)

// Read32 implements hw.ConfigSpace.
func (c *ConfigSpace) Read32(offset uint32) (uint32, error) {
	addr, err := ECAMAddress(c.ECAMBase, c.Function, offset)
	if err != nil {
		return 0, err
	}
	return c.Phys.Read32(addr)
}

// Write32 implements hw.ConfigSpace.
func (c *ConfigSpace) Write32(offset uint32, value uint32) error {
	addr, err := ECAMAddress(c.ECAMBase, c.Function, offset)
	if err != nil {
		return err
	}
	return c.Phys.Write32(addr, value)
}

// Memory implements hw.TestMemory over physical memory.
type Memory struct {
	Phys Phys
}

var _ hw.TestMemory = (*Memory)(nil)

func checkLines(addr uint64, data []byte) error {
	if addr%hw.CacheLineSize != 0 || len(data)%hw.CacheLineSize != 0 {
		return fmt.Errorf("access of %d bytes at 0x%x is not cache line aligned", len(data), addr)
	}
	return nil
}

// WriteLines implements hw.TestMemory.
func (m *Memory) WriteLines(addr uint64, data []byte) error {
	if err := checkLines(addr, data); err != nil {
		return err
	}
	return m.Phys.WriteBytes(addr, data)
}

// ReadLines implements hw.TestMemory.
func (m *Memory) ReadLines(addr uint64, data []byte) error {
	if err := checkLines(addr, data); err != nil {
		return err
	}
	return m.Phys.ReadBytes(addr, data)
}

// Flush implements hw.TestMemory. Physical accesses go through an
// uncached mapping, so there is nothing to evict.
func (m *Memory) Flush(addr uint64) error {
	if addr%hw.CacheLineSize != 0 {
		return fmt.Errorf("flush of unaligned address 0x%x", addr)
	}
	return nil
}

// Window implements hw.AddressWindow for hosts addressing the whole
// scratch range directly: a mapping is the identity, limited to
// physical addresses in [Base, Base+Size).
type Window struct {
	Base uint64
	Size uint64

	mapped bool
}

var _ hw.AddressWindow = (*Window)(nil)

// Map implements hw.AddressWindow.
func (w *Window) Map(phys uint64) (uint64, error) {
	if w.mapped {
		return 0, fmt.Errorf("window is already mapped")
	}
	if phys < w.Base || phys-w.Base >= w.Size {
		return 0, fmt.Errorf("address 0x%x is outside the scratch range [0x%x, 0x%x)", phys, w.Base, w.Base+w.Size)
	}
	w.mapped = true
	return phys, nil
}

// Unmap implements hw.AddressWindow.
func (w *Window) Unmap() error {
	if !w.mapped {
		return fmt.Errorf("window is not mapped")
	}
	w.mapped = false
	return nil
}

// HWCR is the hardware configuration register.
const HWCR uint32 = 0xC0010015

// Wrap32Dis disables the 32-bit address wrap, allowing accesses above
// 4 GiB from the calibration code.
const Wrap32Dis uint64 = 1 << 17

// Mode implements hw.ModeSwitch over HWCR. Linux runs with SSE enabled,
// so SIMD is always reported on and never switched off.
type Mode struct {
	MSRs MSRs
}

var _ hw.ModeSwitch = (*Mode)(nil)

// Mode implements hw.ModeSwitch.
func (m *Mode) Mode() (hw.ModeState, error) {
	v, err := m.MSRs.Read(HWCR)
	if err != nil {
		return hw.ModeState{}, fmt.Errorf("unable to read HWCR: %w", err)
	}
	return hw.ModeState{SIMD: true, LargeAddrs: v&Wrap32Dis != 0}, nil
}

// SetMode implements hw.ModeSwitch.
func (m *Mode) SetMode(s hw.ModeState) error {
	v, err := m.MSRs.Read(HWCR)
	if err != nil {
		return fmt.Errorf("unable to read HWCR: %w", err)
	}
	n := v &^ Wrap32Dis
	if s.LargeAddrs {
		n |= Wrap32Dis
	}
	if n == v {
		return nil
	}
	if err := m.MSRs.Write(HWCR, n); err != nil {
		return fmt.Errorf("unable to write HWCR: %w", err)
	}
	return nil
}
