// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dct

import (
	"fmt"
)

// Direction is the data direction a delay applies to.
type Direction uint8

const (
	// Read is the controller receiving data.
	Read Direction = iota
	// Write is the controller driving data.
	Write
)

func (d Direction) String() string {
	switch d {
	case Read:
		return "read"
	case Write:
		return "write"
	}
	return fmt.Sprintf("unknown direction %d", uint8(d))
}

// Signal identifies a calibrated per-lane delay.
type Signal uint8

const (
	// ReceiverEnable gates the input buffer on the read strobe.
	ReceiverEnable Signal = iota
	// ReadDQS positions the read strobe inside the read data eye.
	ReadDQS
	// WriteDQS positions the write data relative to the write strobe.
	WriteDQS

	// NumSignals is the number of calibrated signals.
	NumSignals = 3
)

// Signals lists every signal in table order.
var Signals = [NumSignals]Signal{ReceiverEnable, ReadDQS, WriteDQS}

func (s Signal) String() string {
	switch s {
	case ReceiverEnable:
		return "ReceiverEnable"
	case ReadDQS:
		return "ReadDQS"
	case WriteDQS:
		return "WriteDQS"
	}
	return fmt.Sprintf("Signal%d", uint8(s))
}

// Direction returns the data direction the signal is calibrated for.
func (s Signal) Direction() Direction {
	if s == WriteDQS {
		return Write
	}
	return Read
}

// Valid returns true for a known signal.
func (s Signal) Valid() bool {
	return s < NumSignals
}
