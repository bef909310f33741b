// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDebugGating(t *testing.T) {
	t.Run("debug_disabled", func(t *testing.T) {
		var buf bytes.Buffer
		l := New(&buf, false)
		l.Debugf("lane %d", 3)
		require.Empty(t, buf.String())
		l.Warnf("lane %d", 3)
		require.Contains(t, buf.String(), "[memtrain][WARN] lane 3")
	})
	t.Run("debug_enabled", func(t *testing.T) {
		var buf bytes.Buffer
		l := New(&buf, true)
		l.Debugf("lane %d", 4)
		require.Contains(t, buf.String(), "[memtrain][DEBUG] lane 4")
	})
}

func TestOrDefault(t *testing.T) {
	require.Equal(t, DefaultLogger, OrDefault(nil))
	l := New(&bytes.Buffer{}, true)
	require.Equal(t, l, OrDefault(l))
}
