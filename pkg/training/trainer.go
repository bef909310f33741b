// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package training sequences the calibration steps of a memory
// controller and retries the whole sequence with relaxed settings when
// a step asks for it.
package training

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/linuxboot/memtrain/pkg/dct"
	"github.com/linuxboot/memtrain/pkg/hw"
	"github.com/linuxboot/memtrain/pkg/log"
	"github.com/linuxboot/memtrain/pkg/pattern"
	"github.com/linuxboot/memtrain/pkg/training/dqs"
	"github.com/linuxboot/memtrain/pkg/training/maxrdlat"
	"github.com/linuxboot/memtrain/pkg/training/rcven"
)

// ErrRetriesExhausted is returned when every allowed attempt asked for
// a retry.
var ErrRetriesExhausted = errors.New("training retries exhausted")

// StageResult is the outcome of one stage on one channel.
type StageResult uint8

const (
	StageOK StageResult = iota
	StageRetry
	StageFatal
)

func (r StageResult) String() string {
	switch r {
	case StageOK:
		return "ok"
	case StageRetry:
		return "retry"
	case StageFatal:
		return "fatal"
	}
	return fmt.Sprintf("result%d", uint8(r))
}

// Classify maps a stage error to its result.
func Classify(err error) StageResult {
	switch {
	case err == nil:
		return StageOK
	case rcven.IsRetry(err):
		return StageRetry
	}
	return StageFatal
}

// Attempt identifies one pass over the whole sequence.
type Attempt struct {
	Number       int
	MemClock     uint32
	WriteLatency uint32
}

// Stage is one step of the sequence, run once per trained channel.
type Stage struct {
	Name string
	Run  func(a Attempt, ch int) error
}

// WriteLeveler aligns the write DQS delays before any other training.
type WriteLeveler interface {
	Level(ch int) error
}

// Platform bundles the hardware facades.
type Platform struct {
	Registers hw.Registers
	Memory    hw.TestMemory
	Window    hw.AddressWindow
	Mode      hw.ModeSwitch
	Topology  hw.Topology
	Clocks    hw.Clocks
	Delay     hw.Delayer
	// WriteLeveler is optional; the generation defaults are programmed
	// when it is nil.
	WriteLeveler WriteLeveler
}

// StageRecord is the outcome of one stage run.
type StageRecord struct {
	Attempt  int
	Channel  int
	Stage    string
	Result   StageResult
	Duration time.Duration
	Err      error
}

// Result summarizes a training run.
type Result struct {
	Table        *dct.Table
	Attempts     int
	MemClock     uint32
	WriteLatency uint32
	Records      []StageRecord
}

// Trainer runs the calibration sequence of one controller.
type Trainer struct {
	Generation Generation
	Platform   Platform
	Layout     *dct.Layout
	Programmer *dct.Programmer
	Patterns   *pattern.Engine
	Table      *dct.Table
	Log        log.Logger
	// Stages is the sequence; New fills it from the generation.
	Stages []Stage

	DQS      *dqs.Engine
	RcvEn    *rcven.Config
	Strategy rcven.Strategy
	MaxRdLat *maxrdlat.Calculator

	attempt Attempt
}

// New returns a trainer for generation gen on platform p.
func New(gen Generation, p Platform, logger log.Logger) (*Trainer, error) {
	if err := gen.Validate(); err != nil {
		return nil, err
	}
	if p.Registers == nil || p.Memory == nil || p.Window == nil || p.Mode == nil || p.Topology == nil || p.Clocks == nil {
		return nil, fmt.Errorf("platform is missing a hardware facade")
	}
	if p.Delay == nil {
		p.Delay = hw.Clock{Clocks: p.Clocks}
	}
	layout, err := dct.NewLayout(gen.Layout)
	if err != nil {
		return nil, err
	}
	logger = log.OrDefault(logger)
	t := &Trainer{
		Generation: gen,
		Platform:   p,
		Layout:     layout,
		Programmer: &dct.Programmer{Regs: p.Registers, Layout: layout},
		Patterns:   &pattern.Engine{Memory: p.Memory, Window: p.Window, Ganged: p.Topology.Ganged()},
		Table:      dct.NewTable(),
		Log:        logger,
	}
	t.DQS = &dqs.Engine{
		Programmer:     t.Programmer,
		Patterns:       t.Patterns,
		Topology:       p.Topology,
		Delay:          p.Delay,
		Table:          t.Table,
		ECC:            gen.ECC,
		Log:            logger,
		ReadSteps:      gen.ReadSteps,
		WriteSteps:     gen.WriteSteps,
		AntiPhaseSteps: gen.AntiPhaseSteps,
		MinWindow:      gen.MinWindow,
		ProbeStride:    gen.ProbeStride,
		Settle:         gen.Settle,
	}
	t.RcvEn = &rcven.Config{
		Programmer: t.Programmer,
		Patterns:   t.Patterns,
		Topology:   p.Topology,
		Clocks:     p.Clocks,
		Delay:      p.Delay,
		Table:      t.Table,
		ECC:        gen.ECC,
		Settle:     gen.Settle,
		Log:        logger,
	}
	switch gen.Strategy {
	case CoarseWindow:
		t.Strategy = gen.Coarse
	case SeedSearch:
		t.Strategy = rcven.SeedSearch{
			Seeds:     gen.Seeds,
			Oracle:    t.DQS,
			BaseClock: gen.SeedBaseClock,
			Margin:    gen.SeedMargin,
		}
	default:
		return nil, fmt.Errorf("unknown receiver enable strategy %s", gen.Strategy)
	}
	t.MaxRdLat = &maxrdlat.Calculator{
		Programmer: t.Programmer,
		Patterns:   t.Patterns,
		Topology:   p.Topology,
		Clocks:     p.Clocks,
		Table:      t.Table,
		Constants:  gen.MaxRdLatency,
		Log:        logger,
	}
	t.Stages = t.defaultStages()
	return t, nil
}

func (t *Trainer) defaultStages() []Stage {
	stages := []Stage{
		{Name: "setup", Run: t.setup},
		{Name: "write-levelling", Run: t.writeLevel},
		{Name: "receiver-enable", Run: t.receiverEnable},
	}
	if t.Generation.TwoD {
		stages = append(stages, Stage{Name: "dqs-2d", Run: func(_ Attempt, ch int) error { return t.DQS.Train2D(ch) }})
	} else {
		stages = append(stages,
			Stage{Name: "read-dqs", Run: func(_ Attempt, ch int) error { return t.DQS.TrainRead(ch) }},
			Stage{Name: "write-dqs", Run: func(_ Attempt, ch int) error { return t.DQS.TrainWrite(ch) }},
		)
	}
	return append(stages, Stage{Name: "max-read-latency", Run: func(_ Attempt, ch int) error {
		_, err := t.MaxRdLat.Run(ch)
		return err
	}})
}

// Channels returns the channels with at least one present rank.
func (t *Trainer) Channels() []int {
	var result []int
	for ch := 0; ch < hw.MaxChannels; ch++ {
		if len(hw.Present(t.Platform.Topology, ch)) > 0 {
			result = append(result, ch)
		}
	}
	return result
}

// Run executes the sequence in calibration mode, retrying as requested
// up to the generation's retry bound. The mode is restored on every
// path. The table is rebuilt from scratch on every attempt.
func (t *Trainer) Run() (res *Result, err error) {
	guard, err := hw.EnableCalibrationMode(t.Platform.Mode)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := guard.Close(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()

	topo := t.Platform.Topology
	if t.Platform.Clocks.MemClock() != topo.TargetMemClock() {
		if err := t.setMemClock(topo.TargetMemClock()); err != nil {
			return nil, err
		}
	}
	res = &Result{Table: t.Table}
	t.attempt = Attempt{WriteLatency: t.Generation.InitialWriteLatency}
	for {
		t.attempt.MemClock = t.Platform.Clocks.MemClock()
		t.Table.Reset()
		result, serr := t.runAttempt(res)
		res.Attempts = t.attempt.Number + 1
		res.MemClock = t.attempt.MemClock
		res.WriteLatency = t.attempt.WriteLatency
		switch result {
		case StageOK:
			return res, nil
		case StageFatal:
			return res, serr
		}
		if t.attempt.Number >= t.Generation.MaxRetries {
			for _, ch := range t.Channels() {
				t.Table.Flag(ch, dct.StatusFatal)
			}
			return res, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, res.Attempts, serr)
		}
		if err := t.relax(); err != nil {
			return res, err
		}
		t.attempt.Number++
	}
}

// relax prepares the next attempt: the memory clock drops to the
// minimum and the write latency grows by one.
// setMemClock changes the memory clock and waits for the PLL to lock.
func (t *Trainer) setMemClock(mhz uint32) error {
	if err := t.Platform.Clocks.SetMemClock(mhz); err != nil {
		return err
	}
	if t.Generation.ClockSettle != 0 {
		t.Platform.Delay.WaitMillis(t.Generation.ClockSettle)
	}
	return nil
}

func (t *Trainer) relax() error {
	lowest := t.Platform.Topology.MinMemClock()
	if clk := t.Platform.Clocks.MemClock(); clk > lowest {
		t.Log.Warnf("attempt %d: dropping memory clock from %d to %d MHz", t.attempt.Number, clk, lowest)
		if err := t.setMemClock(lowest); err != nil {
			return fmt.Errorf("unable to lower memory clock: %w", err)
		}
	}
	limit := t.Layout.WriteLatency().Mask() >> t.Layout.WriteLatency().Shift
	if t.attempt.WriteLatency < limit {
		t.attempt.WriteLatency++
	}
	t.Log.Warnf("attempt %d: retrying with write latency offset %d", t.attempt.Number+1, t.attempt.WriteLatency)
	return nil
}

func (t *Trainer) runAttempt(res *Result) (StageResult, error) {
	for _, stage := range t.Stages {
		for _, ch := range t.Channels() {
			start := time.Now()
			err := stage.Run(t.attempt, ch)
			result := Classify(err)
			res.Records = append(res.Records, StageRecord{
				Attempt:  t.attempt.Number,
				Channel:  ch,
				Stage:    stage.Name,
				Result:   result,
				Duration: time.Since(start),
				Err:      err,
			})
			switch result {
			case StageRetry:
				t.Log.Warnf("attempt %d channel %d: %s: %v", t.attempt.Number, ch, stage.Name, err)
				return result, err
			case StageFatal:
				t.Log.Errorf("attempt %d channel %d: %s: %v", t.attempt.Number, ch, stage.Name, err)
				return result, fmt.Errorf("channel %d: %s: %w", ch, stage.Name, err)
			}
		}
	}
	return StageOK, nil
}

func (t *Trainer) setup(a Attempt, ch int) error {
	if err := t.Programmer.SetWriteLatency(ch, a.WriteLatency); err != nil {
		return fmt.Errorf("unable to set write latency: %w", err)
	}
	limit := t.Programmer.MaxRdLatencyLimit()
	return t.Programmer.SetMaxRdLatency(ch, limit)
}

func (t *Trainer) writeLevel(_ Attempt, ch int) error {
	lanes := dct.Lanes(t.Platform.Topology.ECC())
	for _, g := range dct.Groups(t.Layout, t.Platform.Topology, ch) {
		if err := t.Programmer.ProgramAll(ch, dct.ReadDQS, g.Slot, lanes, t.Generation.DefaultReadDQS); err != nil {
			return err
		}
		if t.Platform.WriteLeveler == nil {
			if err := t.Programmer.ProgramAll(ch, dct.WriteDQS, g.Slot, lanes, t.Generation.DefaultWriteDQS); err != nil {
				return err
			}
		}
	}
	if t.Platform.WriteLeveler != nil {
		return t.Platform.WriteLeveler.Level(ch)
	}
	return nil
}

func (t *Trainer) receiverEnable(a Attempt, ch int) error {
	pass := rcven.Pass{
		Attempt:     a.Number,
		MemClock:    a.MemClock,
		MinMemClock: t.Platform.Topology.MinMemClock(),
	}
	return rcven.Train(t.RcvEn, t.Strategy, pass, ch)
}
