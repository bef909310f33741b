// Copyright 2018-2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nvsave

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4"
	"github.com/ulikunitz/xz"
)

// Compression identifies the compressor of a resume image payload.
type Compression uint16

// Defines supported compressions
const (
	CompressionNone Compression = iota
	CompressionLZ4
	CompressionXZ
	CompressionZstd
)

// Compressor defines a single compression scheme (such as LZ4).
type Compressor interface {
	// Name is typically the name of a class.
	Name() string

	// Decode and Encode obey "x == Decode(Encode(x))".
	Decode(encodedData []byte) ([]byte, error)
	Encode(decodedData []byte) ([]byte, error)
}

var compressors = map[Compression]Compressor{
	CompressionNone: &None{},
	CompressionLZ4:  &LZ4{},
	CompressionXZ:   &XZ{},
	CompressionZstd: &Zstd{},
}

// Compressor returns the compressor identified by c.
func (c Compression) Compressor() (Compressor, error) {
	if comp, ok := compressors[c]; ok {
		return comp, nil
	}
	return nil, fmt.Errorf("unknown compression %d", uint16(c))
}

func (c Compression) String() string {
	if comp, ok := compressors[c]; ok {
		return comp.Name()
	}
	return fmt.Sprintf("unknown compression %d", uint16(c))
}

// ParseCompression returns the compression called name (case-insensitive).
func ParseCompression(name string) (Compression, error) {
	for c, comp := range compressors {
		if strings.EqualFold(comp.Name(), name) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown compression %q", name)
}

// None stores data as is.
type None struct{}

// Name returns the type of compression employed.
func (c *None) Name() string {
	return "NONE"
}

// Decode returns a copy of encodedData.
func (c *None) Decode(encodedData []byte) ([]byte, error) {
	return append([]byte{}, encodedData...), nil
}

// Encode returns a copy of decodedData.
func (c *None) Encode(decodedData []byte) ([]byte, error) {
	return append([]byte{}, decodedData...), nil
}

// LZ4 implements Compressor and uses a Go-based implementation.
type LZ4 struct{}

// Name returns the type of compression employed.
func (c *LZ4) Name() string {
	return "LZ4"
}

// Decode decodes a byte slice of LZ4 data.
func (c *LZ4) Decode(encodedData []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewBuffer(encodedData)))
}

// Encode encodes a byte slice with LZ4.
func (c *LZ4) Encode(decodedData []byte) ([]byte, error) {
	buf := bytes.Buffer{}
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(decodedData); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// XZ implements Compressor with the xz container format.
type XZ struct{}

// Name returns the type of compression employed.
func (c *XZ) Name() string {
	return "XZ"
}

// Decode decodes a byte slice of xz data.
func (c *XZ) Decode(encodedData []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(encodedData))
	if err != nil {
		return nil, fmt.Errorf("unable to create an xz reader: %w", err)
	}
	return io.ReadAll(r)
}

// Encode encodes a byte slice with xz.
func (c *XZ) Encode(decodedData []byte) ([]byte, error) {
	buf := bytes.Buffer{}
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("unable to create an xz writer: %w", err)
	}
	if _, err := w.Write(decodedData); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Zstd implements Compressor with Zstandard frames.
type Zstd struct{}

// Name returns the type of compression employed.
func (c *Zstd) Name() string {
	return "ZSTD"
}

// Decode decodes a byte slice of Zstandard data.
func (c *Zstd) Decode(encodedData []byte) ([]byte, error) {
	r, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create a zstd reader: %w", err)
	}
	defer r.Close()
	return r.DecodeAll(encodedData, nil)
}

// Encode encodes a byte slice with Zstandard.
func (c *Zstd) Encode(decodedData []byte) ([]byte, error) {
	w, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("unable to create a zstd writer: %w", err)
	}
	defer w.Close()
	return w.EncodeAll(decodedData, nil), nil
}
