// Copyright 2019-2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nvsave

// fletcherBlockWords is the number of 16-bit words summed before the
// running sums are reduced.
const fletcherBlockWords = 360

// Fletcher32 returns the Fletcher-32 checksum of data read as 16-bit
// little-endian words. An odd trailing byte is padded with zero.
func Fletcher32(data []byte) uint32 {
	var c0, c1 uint32
	var i int
	l := (len(data) + 1) & ^1

	for l > 0 {
		blockLen := l
		if blockLen > fletcherBlockWords*2 {
			blockLen = fletcherBlockWords * 2
		}
		l -= blockLen

		for ; blockLen > 0; blockLen -= 2 {
			val := uint16(data[i])
			i++
			if i < len(data) {
				val += uint16(data[i]) << 8
				i++
			}
			c0 += uint32(val)
			c1 += c0
		}

		c0 %= 65535
		c1 %= 65535
	}
	return c1<<16 | c0
}
