// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package report renders calibration results as ASCII tables.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/camelcase"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/linuxboot/memtrain/pkg/dct"
	"github.com/linuxboot/memtrain/pkg/hw"
	"github.com/linuxboot/memtrain/pkg/nvsave"
	"github.com/linuxboot/memtrain/pkg/training"
)

// title turns an identifier such as "MaxRdLatency" into "Max Rd Latency".
func title(ident string) string {
	return strings.Join(camelcase.Split(ident), " ")
}

func newWriter(w io.Writer, format string, args ...interface{}) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle(format, args...)
	return t
}

// Delays outputs the committed delays of one signal, one row per
// channel and rank, and the windows they were centered in.
func Delays(w io.Writer, tbl *dct.Table, sig dct.Signal, lanes int) {
	t := newWriter(w, "%s (%s)", title(sig.String()), sig.Direction())
	header := table.Row{"Channel", "Rank"}
	for lane := 0; lane < lanes; lane++ {
		if lane == dct.ECCLane {
			header = append(header, "ECC")
			continue
		}
		header = append(header, fmt.Sprintf("Lane %d", lane))
	}
	t.AppendHeader(header)
	for ch := 0; ch < hw.MaxChannels; ch++ {
		for rank := 0; rank < hw.MaxRanks; rank++ {
			row := table.Row{ch, rank}
			found := false
			for lane := 0; lane < lanes; lane++ {
				k := dct.Key{Channel: ch, Rank: rank, Signal: sig, Lane: lane}
				d, ok := tbl.Get(k)
				if !ok {
					row = append(row, "-")
					continue
				}
				found = true
				cell := fmt.Sprintf("0x%02x", uint16(d))
				if win := tbl.Window(k); !win.Empty() {
					cell += fmt.Sprintf(" [%d,%d)", win.Start, win.End())
				}
				row = append(row, cell)
			}
			if found {
				t.AppendRow(row)
			}
		}
	}
	t.Render()
}

// Status outputs the status word and read latency of every channel.
func Status(w io.Writer, tbl *dct.Table, channels []int) {
	t := newWriter(w, "Channel Status")
	t.AppendHeader(table.Row{"Channel", title("MaxRdLatency"), "Status", "Degraded"})
	for _, ch := range channels {
		st := tbl.Status(ch)
		t.AppendRow(table.Row{ch, tbl.MaxRdLatency(ch), st, st.Degraded()})
	}
	t.Render()
}

// Stages outputs the stage records of a training run.
func Stages(w io.Writer, res *training.Result) {
	t := newWriter(w, "Training at %d MHz, write latency %d, %d attempt(s)",
		res.MemClock, res.WriteLatency, res.Attempts)
	t.AppendHeader(table.Row{"Attempt", "Channel", "Stage", "Result", "Duration", "Error"})
	for _, r := range res.Records {
		var errText string
		if r.Err != nil {
			errText = r.Err.Error()
		}
		t.AppendRow(table.Row{r.Attempt, r.Channel, r.Stage, r.Result, r.Duration, errText})
	}
	t.Render()
}

// Image outputs the header of a resume image.
func Image(w io.Writer, hdr nvsave.Header) {
	t := newWriter(w, "Resume Image")
	t.AppendHeader(table.Row{"Signature", "Version", "Compression", title("PayloadSize"), title("RawSize"), "Checksum"})
	t.AppendRow(table.Row{
		string(hdr.Signature[:]),
		hdr.Version,
		hdr.Compression,
		humanize.IBytes(uint64(hdr.PayloadSize)),
		humanize.IBytes(uint64(hdr.RawSize)),
		fmt.Sprintf("0x%08x", hdr.Checksum),
	})
	t.Render()
}

// Table outputs every signal and the channel status of a table.
func Table(w io.Writer, tbl *dct.Table, lanes int) {
	var channels []int
	for ch := 0; ch < hw.MaxChannels; ch++ {
		for _, k := range tbl.Keys() {
			if k.Channel == ch {
				channels = append(channels, ch)
				break
			}
		}
	}
	for _, sig := range dct.Signals {
		Delays(w, tbl, sig, lanes)
	}
	Status(w, tbl, channels)
}
