// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hw

import (
	"fmt"
)

// ConfigSpace is the configuration space of the DRAM controller PCI
// function holding the index/data register pairs.
type ConfigSpace interface {
	Read32(offset uint32) (uint32, error)
	Write32(offset uint32, value uint32) error
}

// Index/data pair offsets and the index register control bits.
const (
	IndexOffset    uint32 = 0x98
	DataOffset     uint32 = 0x9c
	ChannelStride  uint32 = 0x100
	IndexWriteBit  uint32 = 1 << 30
	IndexDoneBit   uint32 = 1 << 31
	IndexValueMask uint32 = IndexWriteBit - 1

	// DefaultPolls bounds the wait for the access-done bit.
	DefaultPolls = 1000
)

// ErrTimeout means the controller never reported an indexed access done.
type ErrTimeout struct {
	Channel int
	Index   uint32
	Polls   int
}

// Error implements error.
func (err ErrTimeout) Error() string {
	return fmt.Sprintf("channel %d: access to index 0x%x not done after %d polls",
		err.Channel, err.Index, err.Polls)
}

// IndexedPort implements Registers over the index/data register pair of
// every channel.
type IndexedPort struct {
	Space ConfigSpace
	// Polls is the number of done-bit reads before giving up; zero
	// means DefaultPolls.
	Polls int
}

var _ Registers = (*IndexedPort)(nil)

func (p *IndexedPort) offsets(ch int) (uint32, uint32, error) {
	if ch < 0 || ch >= MaxChannels {
		return 0, 0, fmt.Errorf("channel %d is out of range", ch)
	}
	stride := uint32(ch) * ChannelStride
	return IndexOffset + stride, DataOffset + stride, nil
}

func (p *IndexedPort) wait(ch int, indexOff, index uint32) error {
	polls := p.Polls
	if polls <= 0 {
		polls = DefaultPolls
	}
	for i := 0; i < polls; i++ {
		v, err := p.Space.Read32(indexOff)
		if err != nil {
			return err
		}
		if v&IndexDoneBit != 0 {
			return nil
		}
	}
	return ErrTimeout{Channel: ch, Index: index, Polls: polls}
}

// ReadIndexed implements Registers.
func (p *IndexedPort) ReadIndexed(ch int, index uint32) (uint32, error) {
	indexOff, dataOff, err := p.offsets(ch)
	if err != nil {
		return 0, err
	}
	if index&^IndexValueMask != 0 {
		return 0, fmt.Errorf("index 0x%x overlaps control bits", index)
	}
	if err := p.Space.Write32(indexOff, index); err != nil {
		return 0, fmt.Errorf("unable to select index 0x%x: %w", index, err)
	}
	if err := p.wait(ch, indexOff, index); err != nil {
		return 0, err
	}
	return p.Space.Read32(dataOff)
}

// WriteIndexed implements Registers.
func (p *IndexedPort) WriteIndexed(ch int, index uint32, value uint32) error {
	indexOff, dataOff, err := p.offsets(ch)
	if err != nil {
		return err
	}
	if index&^IndexValueMask != 0 {
		return fmt.Errorf("index 0x%x overlaps control bits", index)
	}
	if err := p.Space.Write32(dataOff, value); err != nil {
		return fmt.Errorf("unable to write data for index 0x%x: %w", index, err)
	}
	if err := p.Space.Write32(indexOff, index|IndexWriteBit); err != nil {
		return fmt.Errorf("unable to select index 0x%x: %w", index, err)
	}
	return p.wait(ch, indexOff, index)
}
