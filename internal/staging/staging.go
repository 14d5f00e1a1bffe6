// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package staging copies GPU frame textures into CPU memory.
//
// A Transfer owns one MapRead staging buffer and one host slice. Both are
// reused across frames and reallocated only when the frame geometry changes.
// The returned View aliases the host slice, so it is overwritten by the next
// Materialize.
package staging

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/screencap/compositor"
	"github.com/gogpu/screencap/internal/pixel"
)

// DefaultTimeout bounds the fence wait for one copy.
const DefaultTimeout = 5 * time.Second

var (
	// ErrCopyFailed wraps any GPU error during the copy.
	ErrCopyFailed = errors.New("staging: copy failed")

	// ErrUnsupportedFormat is returned for textures that are not 4-byte BGRA.
	ErrUnsupportedFormat = errors.New("staging: unsupported texture format")

	// ErrDestroyed is returned by Materialize after Destroy.
	ErrDestroyed = errors.New("staging: transfer destroyed")
)

// View is a CPU copy of one frame. Rows are Stride bytes apart and
// len(Data) == Stride*Height.
//
// Stride is the staging buffer pitch (see Stride), not the driver's
// RowPitch: texture to buffer copies need rows aligned to 256 bytes, so
// Stride is the larger of RowPitch and Width*4 rounded up to 256.
type View struct {
	Data      []byte
	Width     uint32
	Height    uint32
	Stride    uint32
	Format    gputypes.TextureFormat
	Seq       uint64
	Timestamp time.Time
}

// Config configures a Transfer.
type Config struct {
	// Label prefixes GPU object labels.
	Label string

	// Timeout bounds the fence wait. Zero means DefaultTimeout.
	Timeout time.Duration

	// Logger receives Debug records for reallocations. Nil disables them.
	Logger *slog.Logger
}

// Transfer materializes frames of one session.
type Transfer struct {
	gpu     compositor.GPU
	label   string
	timeout time.Duration
	logger  *slog.Logger

	mu          sync.Mutex
	buf         hal.Buffer
	host        []byte
	width       uint32
	height      uint32
	stride      uint32
	allocations int
	destroyed   bool
}

// New returns a Transfer submitting through gpu.
func New(gpu compositor.GPU, cfg Config) *Transfer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Label == "" {
		cfg.Label = "staging"
	}
	return &Transfer{
		gpu:     gpu,
		label:   cfg.Label,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
}

// Stride returns the staging row pitch for a frame: the driver pitch or the
// tight pitch, whichever is larger, aligned for texture-to-buffer copies.
func Stride(f compositor.Frame) uint32 {
	pitch := f.Width * pixel.BytesPerPixel
	if f.RowPitch > pitch {
		pitch = f.RowPitch
	}
	return pixel.AlignPitch(pitch, pixel.CopyPitchAlignment)
}

// Materialize copies f's texture into the host buffer and returns a view of
// it. The frame itself is not released; that stays with the caller.
func (t *Transfer) Materialize(f compositor.Frame) (View, error) {
	if f.Format != gputypes.TextureFormatBGRA8Unorm {
		return View{}, fmt.Errorf("%w: %v", ErrUnsupportedFormat, f.Format)
	}
	if f.Texture == nil || f.Width == 0 || f.Height == 0 {
		return View{}, fmt.Errorf("%w: empty frame", ErrCopyFailed)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.destroyed {
		return View{}, ErrDestroyed
	}

	stride := Stride(f)
	err := t.gpu.Submit(func(device hal.Device, queue hal.Queue) error {
		if err := t.ensureBuffer(device, f.Width, f.Height, stride); err != nil {
			return err
		}
		return t.copyFrame(device, queue, f)
	})
	if err != nil {
		return View{}, fmt.Errorf("%w: %w", ErrCopyFailed, err)
	}

	return View{
		Data:      t.host,
		Width:     f.Width,
		Height:    f.Height,
		Stride:    stride,
		Format:    f.Format,
		Seq:       f.Seq,
		Timestamp: f.Timestamp,
	}, nil
}

// ensureBuffer reallocates the staging buffer and host slice when the frame
// geometry changed.
func (t *Transfer) ensureBuffer(device hal.Device, width, height, stride uint32) error {
	if t.buf != nil && t.width == width && t.height == height && t.stride == stride {
		return nil
	}
	if t.buf != nil {
		device.DestroyBuffer(t.buf)
		t.buf = nil
	}

	size := uint64(stride) * uint64(height)
	buf, err := device.CreateBuffer(&hal.BufferDescriptor{
		Label: t.label + "_buffer",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		t.width, t.height, t.stride = 0, 0, 0
		return fmt.Errorf("create staging buffer: %w", err)
	}
	t.buf = buf
	t.host = make([]byte, size)
	t.width, t.height, t.stride = width, height, stride
	t.allocations++

	if t.logger != nil {
		t.logger.Debug("staging: buffer allocated",
			"width", width, "height", height, "stride", stride, "bytes", size)
	}
	return nil
}

func (t *Transfer) copyFrame(device hal.Device, queue hal.Queue, f compositor.Frame) error {
	encoder, err := device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: t.label + "_encoder",
	})
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(t.label + "_copy"); err != nil {
		return fmt.Errorf("begin encoding: %w", err)
	}

	encoder.TransitionTextures([]hal.TextureBarrier{{
		Texture: f.Texture,
		Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageCopyDst,
			NewUsage: gputypes.TextureUsageCopySrc,
		},
	}})

	encoder.CopyTextureToBuffer(f.Texture, t.buf, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{Offset: 0, BytesPerRow: t.stride, RowsPerImage: f.Height},
		TextureBase:  hal.ImageCopyTexture{Texture: f.Texture, MipLevel: 0},
		Size:         hal.Extent3D{Width: f.Width, Height: f.Height, DepthOrArrayLayers: 1},
	}})

	// The driver writes into the texture again once the frame is released.
	encoder.TransitionTextures([]hal.TextureBarrier{{
		Texture: f.Texture,
		Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageCopySrc,
			NewUsage: gputypes.TextureUsageCopyDst,
		},
	}})

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		return fmt.Errorf("end encoding: %w", err)
	}
	defer device.FreeCommandBuffer(cmdBuf)

	fence, err := device.CreateFence()
	if err != nil {
		return fmt.Errorf("create fence: %w", err)
	}
	defer device.DestroyFence(fence)

	if err := queue.Submit([]hal.CommandBuffer{cmdBuf}, fence, 1); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	ok, err := device.Wait(fence, 1, t.timeout)
	if err != nil {
		return fmt.Errorf("wait for GPU: %w", err)
	}
	if !ok {
		return fmt.Errorf("wait for GPU: fence not signaled after %v", t.timeout)
	}

	if err := queue.ReadBuffer(t.buf, 0, t.host); err != nil {
		return fmt.Errorf("readback: %w", err)
	}
	return nil
}

// Allocations returns how many times the staging buffer was (re)allocated.
func (t *Transfer) Allocations() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allocations
}

// Destroy releases the staging buffer. Idempotent.
func (t *Transfer) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.destroyed {
		return
	}
	t.destroyed = true
	t.host = nil
	if t.buf == nil {
		return
	}
	buf := t.buf
	t.buf = nil
	_ = t.gpu.Submit(func(device hal.Device, _ hal.Queue) error {
		device.DestroyBuffer(buf)
		return nil
	})
}
