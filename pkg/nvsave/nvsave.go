// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package nvsave stores a calibration result table in a resume image,
// so a later boot (such as a resume from a low-power state) can
// reprogram the controllers without training again.
//
// An image is a little-endian Header followed by the compressed payload.
// The payload holds one ChannelRecord per channel, a record count and
// one DelayRecord per committed delay.
package nvsave

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/xaionaro-go/bytesextra"

	"github.com/linuxboot/memtrain/pkg/dct"
	"github.com/linuxboot/memtrain/pkg/hw"
	"github.com/linuxboot/memtrain/pkg/window"
)

// Signature is the first four bytes of every resume image.
var Signature = [4]byte{'M', 'T', 'R', 'N'}

// Version is the image layout version written by Encode.
const Version = 1

// maxRecords bounds the record count of a payload.
const maxRecords = hw.MaxChannels * hw.MaxRanks * dct.NumSignals * dct.MaxLanes

// Header is the fixed part of a resume image.
type Header struct {
	Signature   [4]byte
	Version     uint16
	Compression Compression
	// PayloadSize is the size of the compressed payload.
	PayloadSize uint32
	// RawSize is the size of the payload once decompressed.
	RawSize uint32
	// Checksum is the Fletcher-32 checksum of the compressed payload.
	Checksum uint32
}

// HeaderSize is the encoded size of Header.
var HeaderSize = binary.Size(Header{})

// ChannelRecord holds the per-channel results.
type ChannelRecord struct {
	MaxRdLatency uint32
	Status       dct.Status
}

// DelayRecord holds one committed delay and the window it was centered in.
type DelayRecord struct {
	Channel     uint8
	Rank        uint8
	Signal      dct.Signal
	Lane        uint8
	Delay       dct.Delay
	WindowStart uint16
	WindowLen   uint16
}

// ErrBadSignature is returned when an image does not start with Signature.
var ErrBadSignature = errors.New("not a resume image")

// ErrChecksum is returned when the payload does not match the checksum of
// the header.
type ErrChecksum struct {
	Expected uint32
	Actual   uint32
}

func (err *ErrChecksum) Error() string {
	return fmt.Sprintf("payload checksum mismatch, got 0x%08X, expected 0x%08X", err.Actual, err.Expected)
}

// ErrRegionTooSmall is returned when an image does not fit its region.
type ErrRegionTooSmall struct {
	Size   int
	Region int
}

func (err *ErrRegionTooSmall) Error() string {
	return fmt.Sprintf("image of %d bytes does not fit a %d bytes region", err.Size, err.Region)
}

func payload(tbl *dct.Table) ([]byte, error) {
	var buf bytes.Buffer
	for ch := 0; ch < hw.MaxChannels; ch++ {
		rec := ChannelRecord{MaxRdLatency: tbl.MaxRdLatency(ch), Status: tbl.Status(ch)}
		if err := binary.Write(&buf, binary.LittleEndian, rec); err != nil {
			return nil, err
		}
	}
	keys := tbl.Keys()
	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(keys))); err != nil {
		return nil, err
	}
	for _, k := range keys {
		d, _ := tbl.Get(k)
		w := tbl.Window(k)
		rec := DelayRecord{
			Channel:     uint8(k.Channel),
			Rank:        uint8(k.Rank),
			Signal:      k.Signal,
			Lane:        uint8(k.Lane),
			Delay:       d,
			WindowStart: uint16(w.Start),
			WindowLen:   uint16(w.Length),
		}
		if err := binary.Write(&buf, binary.LittleEndian, rec); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func parsePayload(b []byte) (*dct.Table, error) {
	r := bytes.NewReader(b)
	tbl := dct.NewTable()
	for ch := 0; ch < hw.MaxChannels; ch++ {
		var rec ChannelRecord
		if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
			return nil, fmt.Errorf("unable to read channel %d record: %w", ch, err)
		}
		tbl.SetMaxRdLatency(ch, rec.MaxRdLatency)
		tbl.Flag(ch, rec.Status)
	}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("unable to read the record count: %w", err)
	}
	if count > maxRecords {
		return nil, fmt.Errorf("record count %d exceeds %d", count, maxRecords)
	}
	for i := uint32(0); i < count; i++ {
		var rec DelayRecord
		if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
			return nil, fmt.Errorf("unable to read record %d: %w", i, err)
		}
		k := dct.Key{Channel: int(rec.Channel), Rank: int(rec.Rank), Signal: rec.Signal, Lane: int(rec.Lane)}
		if !k.Valid() {
			return nil, fmt.Errorf("record %d: invalid key %+v", i, k)
		}
		tbl.Set(k, rec.Delay)
		tbl.SetWindow(k, window.Window{Start: int(rec.WindowStart), Length: int(rec.WindowLen)})
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after %d records", r.Len(), count)
	}
	return tbl, nil
}

// Encode returns the resume image of a table.
func Encode(tbl *dct.Table, c Compression) ([]byte, error) {
	comp, err := c.Compressor()
	if err != nil {
		return nil, err
	}
	raw, err := payload(tbl)
	if err != nil {
		return nil, fmt.Errorf("unable to serialize the table: %w", err)
	}
	data, err := comp.Encode(raw)
	if err != nil {
		return nil, fmt.Errorf("unable to compress with %s: %w", comp.Name(), err)
	}
	hdr := Header{
		Signature:   Signature,
		Version:     Version,
		Compression: c,
		PayloadSize: uint32(len(data)),
		RawSize:     uint32(len(raw)),
		Checksum:    Fletcher32(data),
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, hdr); err != nil {
		return nil, err
	}
	buf.Write(data)
	return buf.Bytes(), nil
}

// ReadHeader parses and checks the header of an image.
func ReadHeader(r io.Reader) (Header, error) {
	var hdr Header
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return hdr, fmt.Errorf("unable to read the header: %w", err)
	}
	if hdr.Signature != Signature {
		return hdr, fmt.Errorf("%w: signature is %q", ErrBadSignature, hdr.Signature[:])
	}
	if hdr.Version != Version {
		return hdr, fmt.Errorf("unsupported image version %d", hdr.Version)
	}
	if _, err := hdr.Compression.Compressor(); err != nil {
		return hdr, err
	}
	return hdr, nil
}

// Decode parses an image and rebuilds its table. Bytes after the
// payload are ignored, so a whole region can be passed.
func Decode(image []byte) (*dct.Table, Header, error) {
	hdr, err := ReadHeader(bytes.NewReader(image))
	if err != nil {
		return nil, hdr, err
	}
	end := uint64(HeaderSize) + uint64(hdr.PayloadSize)
	if end > uint64(len(image)) {
		return nil, hdr, fmt.Errorf("payload of %d bytes is truncated to %d", hdr.PayloadSize, len(image)-HeaderSize)
	}
	data := image[HeaderSize:end]
	if sum := Fletcher32(data); sum != hdr.Checksum {
		return nil, hdr, &ErrChecksum{Expected: hdr.Checksum, Actual: sum}
	}
	comp, _ := hdr.Compression.Compressor()
	raw, err := comp.Decode(data)
	if err != nil {
		return nil, hdr, fmt.Errorf("unable to decompress with %s: %w", comp.Name(), err)
	}
	if len(raw) != int(hdr.RawSize) {
		return nil, hdr, fmt.Errorf("payload is %d bytes once decompressed, expected %d", len(raw), hdr.RawSize)
	}
	tbl, err := parsePayload(raw)
	if err != nil {
		return nil, hdr, err
	}
	return tbl, hdr, nil
}

// WriteTo encodes the table into region (a fixed-size non-volatile
// area) and zeroes the rest of it. It returns the image size.
func WriteTo(region []byte, tbl *dct.Table, c Compression) (int, error) {
	image, err := Encode(tbl, c)
	if err != nil {
		return 0, err
	}
	if len(image) > len(region) {
		return 0, &ErrRegionTooSmall{Size: len(image), Region: len(region)}
	}
	rws := bytesextra.NewReadWriteSeeker(region)
	if _, err := rws.Write(image); err != nil {
		return 0, fmt.Errorf("unable to write the image: %w", err)
	}
	if _, err := rws.Write(make([]byte, len(region)-len(image))); err != nil {
		return 0, fmt.Errorf("unable to clear the region tail: %w", err)
	}
	return len(image), nil
}

// Restore programs every committed delay and read latency of tbl into
// the controllers. Ranks sharing a register slot get the average of
// their delays. Channels flagged fatal are skipped.
func Restore(prog *dct.Programmer, tbl *dct.Table) error {
	for ch := 0; ch < hw.MaxChannels; ch++ {
		if tbl.Status(ch).Has(dct.StatusFatal) {
			continue
		}
		for _, sig := range dct.Signals {
			if err := restoreSignal(prog, tbl, ch, sig); err != nil {
				return err
			}
		}
		if v := tbl.MaxRdLatency(ch); v != 0 {
			if err := prog.SetMaxRdLatency(ch, v); err != nil {
				return fmt.Errorf("channel %d: unable to restore the read latency: %w", ch, err)
			}
		}
	}
	return nil
}

func restoreSignal(prog *dct.Programmer, tbl *dct.Table, ch int, sig dct.Signal) error {
	type slotSum struct {
		sum   [dct.MaxLanes]int
		ranks [dct.MaxLanes]int
	}
	slots := make([]slotSum, prog.Layout.Slots())
	found := false
	for rank := 0; rank < hw.MaxRanks; rank++ {
		s := &slots[prog.Layout.Slot(rank)]
		for lane := 0; lane < dct.MaxLanes; lane++ {
			d, ok := tbl.Get(dct.Key{Channel: ch, Rank: rank, Signal: sig, Lane: lane})
			if !ok {
				continue
			}
			s.sum[lane] += int(d)
			s.ranks[lane]++
			found = true
		}
	}
	if !found {
		return nil
	}
	for slot, s := range slots {
		lanes := 0
		for lane := range s.ranks {
			if s.ranks[lane] != 0 {
				lanes = lane + 1
			}
		}
		if lanes == 0 {
			continue
		}
		current, err := prog.Read(ch, sig, slot, lanes)
		if err != nil {
			return err
		}
		for lane := 0; lane < lanes; lane++ {
			if s.ranks[lane] != 0 {
				current[lane] = dct.Delay(s.sum[lane] / s.ranks[lane])
			}
		}
		if err := prog.Program(ch, sig, slot, current); err != nil {
			return fmt.Errorf("channel %d slot %d: unable to restore %s: %w", ch, slot, sig, err)
		}
	}
	return nil
}
