// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxboot/memtrain/pkg/dct"
	"github.com/linuxboot/memtrain/pkg/nvsave"
	"github.com/linuxboot/memtrain/pkg/training"
	"github.com/linuxboot/memtrain/pkg/window"
)

func sampleTable() *dct.Table {
	tbl := dct.NewTable()
	for lane := 0; lane < dct.DataLanes; lane++ {
		k := dct.Key{Channel: 0, Rank: 1, Signal: dct.ReceiverEnable, Lane: lane}
		tbl.Set(k, 0x94)
		tbl.SetWindow(k, window.Window{Start: 80, Length: 16})
		tbl.Set(dct.Key{Channel: 0, Rank: 1, Signal: dct.ReadDQS, Lane: lane}, 0x20)
	}
	tbl.SetMaxRdLatency(0, 25)
	tbl.Flag(0, dct.StatusSmallWindow)
	return tbl
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Max Rd Latency", title("MaxRdLatency"))
	assert.Equal(t, "Receiver Enable", title(dct.ReceiverEnable.String()))
}

func TestDelays(t *testing.T) {
	var buf bytes.Buffer
	Delays(&buf, sampleTable(), dct.ReceiverEnable, dct.DataLanes)
	out := buf.String()
	assert.Contains(t, out, "Receiver Enable (read)")
	assert.Contains(t, out, "0x94 [80,96)")
	// only rank 1 has delays
	assert.Equal(t, dct.DataLanes, strings.Count(out, "0x94"))

	buf.Reset()
	Delays(&buf, sampleTable(), dct.WriteDQS, dct.MaxLanes)
	assert.NotContains(t, buf.String(), "0x")
}

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	Table(&buf, sampleTable(), dct.DataLanes)
	out := buf.String()
	assert.Contains(t, out, "Read DQS (read)")
	assert.Contains(t, out, "Write DQS (write)")
	assert.Contains(t, out, "small-window")
	assert.Contains(t, out, "25")
}

func TestStages(t *testing.T) {
	var buf bytes.Buffer
	Stages(&buf, &training.Result{
		Attempts: 2,
		MemClock: 400,
		Records: []training.StageRecord{
			{Attempt: 0, Channel: 0, Stage: "receiver-enable", Result: training.StageRetry, Duration: time.Millisecond, Err: errors.New("no candidate")},
			{Attempt: 1, Channel: 0, Stage: "receiver-enable", Result: training.StageOK},
		},
	})
	out := buf.String()
	assert.Contains(t, out, "Training at 400 MHz, write latency 0, 2 attempt(s)")
	assert.Contains(t, out, "retry")
	assert.Contains(t, out, "no candidate")
}

func TestImage(t *testing.T) {
	image, err := nvsave.Encode(sampleTable(), nvsave.CompressionNone)
	require.NoError(t, err)
	_, hdr, err := nvsave.Decode(image)
	require.NoError(t, err)

	var buf bytes.Buffer
	Image(&buf, hdr)
	out := buf.String()
	assert.Contains(t, out, "MTRN")
	assert.Contains(t, out, "NONE")
	assert.Contains(t, out, " B")
}
