// Copyright 2023-2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// nvdump prints the records of memtrain resume images.
//
// Synopsis:
//
//	nvdump [--header-only] [--payload] IMAGE...
package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/linuxboot/memtrain/pkg/hw"
	"github.com/linuxboot/memtrain/pkg/nvsave"
)

var (
	headerOnly = flag.BoolP("header-only", "H", false, "print only the image header")
	payload    = flag.BoolP("payload", "p", false, "hex dump the compressed payload")
)

func dump(w io.Writer, image []byte) error {
	hdr, err := nvsave.ReadHeader(bytes.NewReader(image))
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "signature %q version %d compression %s payload %d bytes raw %d bytes checksum 0x%08x\n",
		hdr.Signature[:], hdr.Version, hdr.Compression, hdr.PayloadSize, hdr.RawSize, hdr.Checksum)
	if *headerOnly {
		return nil
	}
	tbl, _, err := nvsave.Decode(image)
	if err != nil {
		return err
	}
	for ch := 0; ch < hw.MaxChannels; ch++ {
		fmt.Fprintf(w, "channel %d max-rd-latency %d status %s\n", ch, tbl.MaxRdLatency(ch), tbl.Status(ch))
	}
	for _, k := range tbl.Keys() {
		d, _ := tbl.Get(k)
		win := tbl.Window(k)
		fmt.Fprintf(w, "%s: 0x%03x window [%d,%d)\n", k, uint16(d), win.Start, win.End())
	}
	if *payload {
		fmt.Fprint(w, hex.Dump(image[nvsave.HeaderSize:nvsave.HeaderSize+int(hdr.PayloadSize)]))
	}
	return nil
}

func main() {
	flag.Parse()

	a := flag.Args()
	if len(a) == 0 {
		log.Fatal("Usage: nvdump [--header-only] [--payload] <image>...")
	}

	for _, path := range a {
		image, err := os.ReadFile(path)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%s:\n", path)
		if err := dump(os.Stdout, image); err != nil {
			log.Fatalf("%s: %v", path, err)
		}
	}
}
