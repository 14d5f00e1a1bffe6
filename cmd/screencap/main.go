// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Command screencap captures compositor outputs through the GPU.
package main

import (
	"os"

	"github.com/gogpu/screencap/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
