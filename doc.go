// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package screencap captures frames of a display output into CPU memory
// through the GPU.
//
// # Overview
//
// A compositor driver renders or grabs an output into GPU textures and
// pushes them to a capture session on its own schedule. The session keeps
// only the newest one. On each acquisition it copies that texture into a
// reused staging buffer and returns a read-only BGRA view.
//
// # Quick Start
//
//	import (
//	    "github.com/gogpu/screencap"
//	    _ "github.com/gogpu/screencap/compositor/desktop"
//	)
//
//	dev, err := screencap.DefaultDevice()
//	if err != nil {
//	    return err
//	}
//	defer dev.Close()
//
//	c, err := screencap.NewCapture(dev)
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	f, err := c.WaitFrame(5 * time.Second)
//	if err != nil {
//	    return err
//	}
//	row := f.Row(0) // BGRA pixels of the first row
//
// # Frame lifetime
//
// A Frame is valid until the next GetFrame, WaitFrame or Close on the same
// Capture. Rows are Stride bytes apart and Stride is often larger than
// Width*4. Clone a frame or convert it with an Adapter to keep it.
//
// # Errors
//
// ErrNoTexture and ErrTimeout are transient and expected while polling.
// Output loss (mode change, removal, device loss) triggers one automatic
// rebind; if that fails the session becomes Degraded, acquisitions return
// ErrSourceInvalidated, and Rebind restores it.
//
// # Compositors
//
// Drivers register with the compositor package from init functions:
// compositor/desktop captures real displays, compositor/virtual renders
// synthetic outputs with gg for tests and headless use.
package screencap
