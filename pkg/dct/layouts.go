// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dct

// SharedRankLayout is the register map of controllers whose delay
// registers are shared by the two ranks of a module.
var SharedRankLayout = LayoutDescription{
	Lanes: []LaneLayout{
		{Signal: WriteDQS, Format: Format{Bits: 7, FineBits: 5}, Base: 0x01, LanesPerRegister: 4, FieldStride: 8, SlotStride: 0x100},
		{Signal: ReadDQS, Format: Format{Bits: 6, FineBits: 6}, Base: 0x05, LanesPerRegister: 4, FieldStride: 8, SlotStride: 0x100},
		{Signal: ReceiverEnable, Format: Format{Bits: 8, FineBits: 5}, Base: 0x10, LanesPerRegister: 2, FieldStride: 16, SlotStride: 5},
	},
	MaxRdLatency: Field{Register: 0x0c, Shift: 22, Width: 10},
	WriteLatency: Field{Register: 0x0c, Shift: 0, Width: 3},
}

// PerRankLayout is the register map of controllers with a delay
// register set per rank.
var PerRankLayout = LayoutDescription{
	PerRank: true,
	Lanes: []LaneLayout{
		{Signal: ReceiverEnable, Format: Format{Bits: 10, FineBits: 5}, Base: 0x30, LanesPerRegister: 2, FieldStride: 16, SlotStride: 5},
		{Signal: ReadDQS, Format: Format{Bits: 5, FineBits: 5}, Base: 0x200, LanesPerRegister: 4, FieldStride: 8, SlotStride: 4},
		{Signal: WriteDQS, Format: Format{Bits: 7, FineBits: 5}, Base: 0x300, LanesPerRegister: 4, FieldStride: 8, SlotStride: 4},
	},
	MaxRdLatency: Field{Register: 0x0c, Shift: 22, Width: 10},
	WriteLatency: Field{Register: 0x0c, Shift: 0, Width: 3},
}
