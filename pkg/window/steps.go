// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package window

import (
	"fmt"
	"math/bits"
	"strings"
)

// MaxSteps is the longest sweep a Steps record can hold.
const MaxSteps = 256

// Steps records the pass/fail outcome of every step of one lane's delay
// sweep. The zero value is an empty record; use New or AllPass.
type Steps struct {
	n    int
	bits [MaxSteps / 64]uint64
}

// New returns a record of n failing steps.
func New(n int) Steps {
	if n < 0 || n > MaxSteps {
		panic(fmt.Sprintf("sweep length %d is out of range [0, %d]", n, MaxSteps))
	}
	return Steps{n: n}
}

// AllPass returns a record of n passing steps. It is the seed of an
// accumulator that is narrowed with And.
func AllPass(n int) Steps {
	s := New(n)
	for i := 0; i < n; i++ {
		s.Set(i, true)
	}
	return s
}

// Of returns a record of n steps where exactly the steps covered by
// runs pass.
func Of(n int, runs ...Window) Steps {
	s := New(n)
	for _, r := range runs {
		for i := r.Start; i < r.End(); i++ {
			if i >= 0 && i < n {
				s.Set(i, true)
			}
		}
	}
	return s
}

// Len returns the sweep length.
func (s Steps) Len() int {
	return s.n
}

// Set stores the outcome of one step. Steps outside the sweep are ignored.
func (s *Steps) Set(step int, pass bool) {
	if step < 0 || step >= s.n {
		return
	}
	if pass {
		s.bits[step/64] |= 1 << uint(step%64)
	} else {
		s.bits[step/64] &^= 1 << uint(step%64)
	}
}

// Pass returns the outcome of one step.
func (s Steps) Pass(step int) bool {
	if step < 0 || step >= s.n {
		return false
	}
	return s.bits[step/64]&(1<<uint(step%64)) != 0
}

// And narrows s to the steps that pass in both records. Steps beyond the
// shorter record fail.
func (s *Steps) And(o Steps) {
	for i := range s.bits {
		s.bits[i] &= o.bits[i]
	}
	if o.n < s.n {
		for i := o.n; i < s.n; i++ {
			s.Set(i, false)
		}
	}
}

// Count returns how many steps pass.
func (s Steps) Count() int {
	var c int
	for _, w := range s.bits {
		c += bits.OnesCount64(w)
	}
	return c
}

// Runs returns every maximal run of passing steps in sweep order.
func (s Steps) Runs() Windows {
	var result Windows
	cur := Window{Start: -1}
	for i := 0; i < s.n; i++ {
		if s.Pass(i) {
			if cur.Start < 0 {
				cur = Window{Start: i}
			}
			cur.Length++
			continue
		}
		if cur.Start >= 0 {
			result = append(result, cur)
			cur = Window{Start: -1}
		}
	}
	if cur.Start >= 0 {
		result = append(result, cur)
	}
	return result
}

// Longest returns the longest run of passing steps, the first one on a tie.
func (s Steps) Longest() Window {
	return s.Runs().Longest()
}

func (s Steps) String() string {
	var b strings.Builder
	for i := 0; i < s.n; i++ {
		if s.Pass(i) {
			b.WriteByte('#')
		} else {
			b.WriteByte('.')
		}
	}
	return b.String()
}

// Parse reads a record written as a string of '#' (pass) and '.' (fail).
func Parse(str string) (Steps, error) {
	if len(str) > MaxSteps {
		return Steps{}, fmt.Errorf("sweep length %d exceeds %d", len(str), MaxSteps)
	}
	s := New(len(str))
	for i, c := range str {
		switch c {
		case '#':
			s.Set(i, true)
		case '.':
		default:
			return Steps{}, fmt.Errorf("unexpected character %q at step %d", c, i)
		}
	}
	return s, nil
}
