// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package screencap

// Register the Vulkan HAL backend for DefaultDevice.
import _ "github.com/gogpu/wgpu/hal/vulkan"
