// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package train

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linuxboot/memtrain/cmds/memtrain/commands"
	"github.com/linuxboot/memtrain/pkg/dct"
	"github.com/linuxboot/memtrain/pkg/nvsave"
)

func TestTrainBuiltinProfiles(t *testing.T) {
	for _, tc := range []struct {
		generation string
		lane       int
		rcven      dct.Delay
	}{
		{"gen1", 3, 84},
		{"gen2", 0, 133},
		// seed 0x21 scales to 55; the search passes at 151 and fails at 183
		{"gen2", 3, 135},
	} {
		t.Run(fmt.Sprintf("%s/lane%d", tc.generation, tc.lane), func(t *testing.T) {
			var out bytes.Buffer
			path := filepath.Join(t.TempDir(), "resume.bin")
			cmd := &Command{
				Generation:  tc.generation,
				Save:        path,
				Compression: "zstd",
				RegionSize:  4096,
				Stdout:      &out,
			}
			require.NoError(t, cmd.Execute(nil))
			assert.Contains(t, out.String(), "Receiver Enable (read)")

			image, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Len(t, image, 4096)
			tbl, hdr, err := nvsave.Decode(image)
			require.NoError(t, err)
			assert.Equal(t, nvsave.CompressionZstd, hdr.Compression)
			d, ok := tbl.Get(dct.Key{Channel: 1, Rank: 1, Signal: dct.ReceiverEnable, Lane: tc.lane})
			require.True(t, ok)
			assert.Equal(t, tc.rcven, d)
		})
	}
}

func TestTrainArgs(t *testing.T) {
	var argErr commands.ErrArgs
	err := (&Command{Generation: "gen9", Compression: "lz4"}).Execute(nil)
	assert.True(t, errors.As(err, &argErr))
	err = (&Command{Generation: "gen2", Compression: "rar"}).Execute(nil)
	assert.True(t, errors.As(err, &argErr))
	err = (&Command{Generation: "gen2", Compression: "lz4"}).Execute([]string{"extra"})
	assert.True(t, errors.As(err, &argErr))

	err = (&Command{Generation: "gen2", Compression: "lz4", Profile: filepath.Join(t.TempDir(), "missing.json")}).Execute(nil)
	assert.Error(t, err)
}

func TestTrainRegionTooSmall(t *testing.T) {
	cmd := &Command{
		Generation:  "gen2",
		Save:        filepath.Join(t.TempDir(), "resume.bin"),
		Compression: "none",
		RegionSize:  64,
		Stdout:      &bytes.Buffer{},
	}
	err := cmd.Execute(nil)
	var small *nvsave.ErrRegionTooSmall
	assert.True(t, errors.As(err, &small))
}
