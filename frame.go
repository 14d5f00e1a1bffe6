// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package screencap

import (
	"fmt"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/screencap/internal/pixel"
)

// BytesPerPixel is the size of one BGRA pixel.
const BytesPerPixel = pixel.BytesPerPixel

// Frame is a read-only view of one captured frame in CPU memory.
//
// Pixels are 4-byte BGRA. Rows are Stride bytes apart and Stride may exceed
// Width*4; always index rows by Stride (or use Row). Stride is the GPU copy
// pitch: the driver's row pitch, at least Width*4, rounded up to a multiple
// of 256. It is generally not equal to the driver's row pitch and may differ
// between frames of the same size on different drivers. The memory belongs to
// the session and is reused: a Frame is valid only until the next
// GetFrame, WaitFrame or Close on the same Capture. After that Data and
// Row return nil. Use Clone to keep a frame.
type Frame struct {
	Width     int
	Height    int
	Stride    int
	Format    gputypes.TextureFormat
	Seq       uint64
	Timestamp time.Time

	data  []byte
	gen   uint64
	owner *Capture
}

// NewFrame wraps BGRA pixels in a detached Frame that stays valid, for
// feeding adapters from memory that did not come from a Capture.
func NewFrame(width, height, stride int, data []byte) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("screencap: invalid frame size %dx%d", width, height)
	}
	if stride < width*BytesPerPixel {
		return nil, fmt.Errorf("screencap: stride %d < width*4", stride)
	}
	if len(data) != stride*height {
		return nil, fmt.Errorf("screencap: frame data is %d bytes, want %d", len(data), stride*height)
	}
	return &Frame{
		Width:     width,
		Height:    height,
		Stride:    stride,
		Format:    gputypes.TextureFormatBGRA8Unorm,
		Timestamp: time.Now(),
		data:      data,
	}, nil
}

// Valid reports whether the frame's memory may still be read.
func (f *Frame) Valid() bool {
	if f == nil || f.data == nil {
		return false
	}
	if f.owner == nil {
		return true
	}
	return f.owner.generation.Load() == f.gen
}

// Data returns the raw pixel memory, Stride*Height bytes, or nil if the
// frame is no longer valid. The slice must not be modified.
func (f *Frame) Data() []byte {
	if !f.Valid() {
		return nil
	}
	return f.data
}

// Row returns the Width*4 pixel bytes of row y, or nil if y is out of range
// or the frame is no longer valid.
func (f *Frame) Row(y int) []byte {
	if !f.Valid() || y < 0 || y >= f.Height {
		return nil
	}
	off := y * f.Stride
	return f.data[off : off+f.Width*BytesPerPixel]
}

// Clone returns a copy of the frame that owns its memory and stays valid.
// The copy keeps the original stride.
func (f *Frame) Clone() (*Frame, error) {
	if !f.Valid() {
		return nil, ErrStaleFrame
	}
	c := *f
	c.data = append([]byte(nil), f.data...)
	c.owner = nil
	c.gen = 0
	return &c, nil
}

// TightSize returns the byte size of the frame without row padding.
func (f *Frame) TightSize() int {
	return f.Width * f.Height * BytesPerPixel
}

// CopyTight copies the pixels into dst with rows packed Width*4 bytes apart
// and returns the number of bytes written.
func (f *Frame) CopyTight(dst []byte) (int, error) {
	if !f.Valid() {
		return 0, ErrStaleFrame
	}
	if len(dst) < f.TightSize() {
		return 0, fmt.Errorf("screencap: destination too small: %d < %d", len(dst), f.TightSize())
	}
	return pixel.CompactRows(dst, f.data, f.Width*BytesPerPixel, f.Stride, f.Height), nil
}
