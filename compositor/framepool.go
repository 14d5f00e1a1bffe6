// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package compositor

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/screencap/internal/pixel"
)

// DefaultPoolDepth is the number of textures a FramePool cycles through when
// no depth is given. Two is enough for one frame in flight to the consumer
// while the driver fills the other.
const DefaultPoolDepth = 2

// ErrPoolClosed is returned by FramePool.Upload after Close.
var ErrPoolClosed = errors.New("compositor: frame pool closed")

// PixelOrder is the byte order of 4-byte pixels handed to FramePool.Upload.
type PixelOrder int

const (
	// OrderBGRA means pixels are B, G, R, A in memory (the texture format).
	OrderBGRA PixelOrder = iota
	// OrderRGBA means pixels are R, G, B, A in memory (image.RGBA, gg.Pixmap).
	OrderRGBA
)

// PoolStats counts what a FramePool did.
type PoolStats struct {
	Uploaded  uint64
	Dropped   uint64
	Allocated uint64
}

type poolSlot struct {
	tex  hal.Texture
	gen  uint64
	busy bool
}

// FramePool is a fixed ring of BGRA8 textures a driver uploads frames into.
//
// A texture handed out in a Frame stays busy until the frame's Done is
// called. When every texture is busy the next Upload reports false and the
// frame is dropped, so a slow consumer never makes the driver queue frames.
// Textures are recreated when the frame size changes; busy textures of the
// old size are destroyed as their frames are released.
type FramePool struct {
	gpu   GPU
	label string
	depth int

	// uploadMu serializes Upload and guards scratch.
	uploadMu sync.Mutex
	scratch  []byte

	mu     sync.Mutex
	width  uint32
	height uint32
	gen    uint64
	seq    uint64
	slots  []*poolSlot
	closed bool
	stats  PoolStats
}

// NewFramePool returns a pool of depth textures on gpu. Textures are created
// lazily on the first Upload. depth < 1 selects DefaultPoolDepth.
func NewFramePool(gpu GPU, depth int, label string) *FramePool {
	if depth < 1 {
		depth = DefaultPoolDepth
	}
	return &FramePool{gpu: gpu, label: label, depth: depth}
}

// Upload copies width x height pixels, rows stride bytes apart, into a free
// texture and returns a Frame referencing it. ok is false when all textures
// are busy; the pixels are then dropped.
func (p *FramePool) Upload(pixels []byte, width, height, stride int, order PixelOrder) (frame Frame, ok bool, err error) {
	if width <= 0 || height <= 0 {
		return Frame{}, false, fmt.Errorf("compositor: invalid frame size %dx%d", width, height)
	}
	if stride < width*pixel.BytesPerPixel {
		return Frame{}, false, fmt.Errorf("compositor: stride %d too small for width %d", stride, width)
	}
	if need := stride*(height-1) + width*pixel.BytesPerPixel; len(pixels) < need {
		return Frame{}, false, fmt.Errorf("compositor: pixel buffer too small: %d < %d", len(pixels), need)
	}

	device, _, err := HAL(p.gpu)
	if err != nil {
		return Frame{}, false, err
	}

	p.uploadMu.Lock()
	defer p.uploadMu.Unlock()

	slot, gen, seq, stale, err := p.reserve(uint32(width), uint32(height))
	for _, tex := range stale {
		device.DestroyTexture(tex)
	}
	if err != nil || slot == nil {
		return Frame{}, false, err
	}

	data := pixels
	if order == OrderRGBA {
		if cap(p.scratch) < len(pixels) {
			p.scratch = make([]byte, len(pixels))
		}
		data = p.scratch[:len(pixels)]
		pixel.SwapRB(data, pixels)
	}

	err = p.gpu.Submit(func(device hal.Device, queue hal.Queue) error {
		if slot.tex == nil {
			tex, err := device.CreateTexture(&hal.TextureDescriptor{
				Label:         p.label,
				Size:          hal.Extent3D{Width: uint32(width), Height: uint32(height), DepthOrArrayLayers: 1},
				MipLevelCount: 1,
				SampleCount:   1,
				Dimension:     gputypes.TextureDimension2D,
				Format:        gputypes.TextureFormatBGRA8Unorm,
				Usage:         gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst,
			})
			if err != nil {
				return fmt.Errorf("create texture: %w", err)
			}
			slot.tex = tex
			p.mu.Lock()
			p.stats.Allocated++
			p.mu.Unlock()
		}
		queue.WriteTexture(
			&hal.ImageCopyTexture{Texture: slot.tex, MipLevel: 0},
			data,
			&hal.ImageDataLayout{
				Offset:       0,
				BytesPerRow:  uint32(stride),
				RowsPerImage: uint32(height),
			},
			&hal.Extent3D{Width: uint32(width), Height: uint32(height), DepthOrArrayLayers: 1},
		)
		return nil
	})
	if err != nil {
		p.release(slot, gen)
		return Frame{}, false, fmt.Errorf("compositor: upload %s: %w", p.label, err)
	}

	p.mu.Lock()
	p.stats.Uploaded++
	p.mu.Unlock()

	rowPitch := uint32(width * pixel.BytesPerPixel)
	return NewFrame(slot.tex, uint32(width), uint32(height), rowPitch,
		gputypes.TextureFormatBGRA8Unorm, seq, func() { p.release(slot, gen) }), true, nil
}

// reserve marks a free slot busy, recreating the ring on size change.
// It returns textures that must be destroyed by the caller.
func (p *FramePool) reserve(width, height uint32) (slot *poolSlot, gen, seq uint64, stale []hal.Texture, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, 0, 0, nil, ErrPoolClosed
	}

	if p.slots == nil || p.width != width || p.height != height {
		for _, s := range p.slots {
			if !s.busy && s.tex != nil {
				stale = append(stale, s.tex)
			}
		}
		p.gen++
		p.width, p.height = width, height
		p.slots = make([]*poolSlot, p.depth)
		for i := range p.slots {
			p.slots[i] = &poolSlot{gen: p.gen}
		}
	}

	for _, s := range p.slots {
		if !s.busy {
			s.busy = true
			p.seq++
			return s, s.gen, p.seq, stale, nil
		}
	}
	p.stats.Dropped++
	return nil, 0, 0, stale, nil
}

func (p *FramePool) release(slot *poolSlot, gen uint64) {
	p.mu.Lock()
	keep := !p.closed && gen == p.gen
	if keep {
		slot.busy = false
	}
	tex := slot.tex
	if !keep {
		slot.tex = nil
	}
	p.mu.Unlock()

	if keep || tex == nil {
		return
	}
	if device, _, err := HAL(p.gpu); err == nil {
		device.DestroyTexture(tex)
	}
}

// Size returns the size of the pool's current textures.
func (p *FramePool) Size() (width, height uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.width, p.height
}

// Busy returns the number of textures currently held by consumers.
func (p *FramePool) Busy() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.slots {
		if s.busy {
			n++
		}
	}
	return n
}

// Stats returns a snapshot of the pool counters.
func (p *FramePool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Close destroys idle textures. Textures still held are destroyed when their
// frames are released. Close is idempotent.
func (p *FramePool) Close() {
	p.uploadMu.Lock()
	defer p.uploadMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	var idle []hal.Texture
	for _, s := range p.slots {
		if !s.busy && s.tex != nil {
			idle = append(idle, s.tex)
			s.tex = nil
		}
	}
	p.mu.Unlock()

	device, _, err := HAL(p.gpu)
	if err != nil {
		return
	}
	for _, tex := range idle {
		device.DestroyTexture(tex)
	}
}
