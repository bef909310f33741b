// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package hostio

import (
	"fmt"

	"github.com/u-root/u-root/pkg/memio"
	"github.com/u-root/u-root/pkg/msr"
)

// DevMem implements Phys over /dev/mem.
type DevMem struct{}

var _ Phys = DevMem{}

// Read32 implements Phys.
func (DevMem) Read32(addr uint64) (uint32, error) {
	var v memio.Uint32
	if err := memio.Read(int64(addr), &v); err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// Write32 implements Phys.
func (DevMem) Write32(addr uint64, value uint32) error {
	v := memio.Uint32(value)
	return memio.Write(int64(addr), &v)
}

// ReadBytes implements Phys.
func (DevMem) ReadBytes(addr uint64, data []byte) error {
	b := memio.ByteSlice(data)
	return memio.Read(int64(addr), &b)
}

// WriteBytes implements Phys.
func (DevMem) WriteBytes(addr uint64, data []byte) error {
	b := memio.ByteSlice(data)
	return memio.Write(int64(addr), &b)
}

// CPUMSRs implements MSRs over the msr device of every CPU. Reads
// return the value of the first CPU and fail if the CPUs disagree.
type CPUMSRs struct {
	CPUs msr.CPUs
}

var _ MSRs = (*CPUMSRs)(nil)

// NewCPUMSRs returns the MSRs of every online CPU.
func NewCPUMSRs() (*CPUMSRs, error) {
	cpus, err := msr.AllCPUs()
	if err != nil {
		return nil, fmt.Errorf("unable to list CPUs: %w", err)
	}
	return &CPUMSRs{CPUs: cpus}, nil
}

func firstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Read implements MSRs.
func (m *CPUMSRs) Read(reg uint32) (uint64, error) {
	values, errs := msr.MSR(reg).Read(m.CPUs)
	if err := firstError(errs); err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("no CPU to read MSR 0x%x from", reg)
	}
	for i, v := range values {
		if v != values[0] {
			return 0, fmt.Errorf("MSR 0x%x differs on CPU %d: 0x%x != 0x%x", reg, m.CPUs[i], v, values[0])
		}
	}
	return values[0], nil
}

// Write implements MSRs.
func (m *CPUMSRs) Write(reg uint32, value uint64) error {
	return firstError(msr.MSR(reg).Write(m.CPUs, value))
}
