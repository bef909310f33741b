// Copyright 2026 the LinuxBoot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package train

import (
	"fmt"

	"github.com/linuxboot/memtrain/pkg/training"
)

func hostPlatform(*training.Platform, uint64) error {
	return fmt.Errorf("host training is only supported on Linux")
}
