// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package compositor

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Driver errors.
var (
	// ErrOutputNotFound is returned by Subscribe when the output does not
	// exist (anymore).
	ErrOutputNotFound = errors.New("compositor: output not found")

	// ErrDeviceLost is returned by drivers when the GPU device backing a
	// subscription can no longer be used.
	ErrDeviceLost = errors.New("compositor: device lost")

	// ErrNoGPU is returned when the GPU handed to Subscribe does not expose
	// HAL device and queue handles.
	ErrNoGPU = errors.New("compositor: GPU does not provide HAL access")
)

// OutputID identifies an output within one compositor.
type OutputID string

// Rotation is the orientation of an output relative to its native scan-out.
type Rotation int

const (
	// RotationIdentity means no rotation.
	RotationIdentity Rotation = iota
	// Rotation90 means the output is rotated 90 degrees clockwise.
	Rotation90
	// Rotation180 means the output is rotated 180 degrees.
	Rotation180
	// Rotation270 means the output is rotated 270 degrees clockwise.
	Rotation270
)

// String returns a human-readable name for the rotation.
func (r Rotation) String() string {
	switch r {
	case RotationIdentity:
		return "identity"
	case Rotation90:
		return "rotate90"
	case Rotation180:
		return "rotate180"
	case Rotation270:
		return "rotate270"
	default:
		return fmt.Sprintf("Rotation(%d)", int(r))
	}
}

// OutputInfo describes one capturable output at the time it was listed.
// Width and Height may change at any time; subscribers re-query them through
// Subscription.Size.
type OutputInfo struct {
	ID       OutputID
	Name     string
	Index    int
	Width    int
	Height   int
	Rotation Rotation
	Primary  bool
}

// Reason explains why a subscription was invalidated.
type Reason int

const (
	// ReasonOutputRemoved means the output was unplugged or destroyed.
	ReasonOutputRemoved Reason = iota + 1
	// ReasonModeChanged means the output resolution or orientation changed.
	ReasonModeChanged
	// ReasonDeviceLost means the GPU device was removed or reset.
	ReasonDeviceLost
	// ReasonClosed means the subscription was closed by its owner.
	ReasonClosed
)

// String returns a human-readable name for the reason.
func (r Reason) String() string {
	switch r {
	case ReasonOutputRemoved:
		return "output removed"
	case ReasonModeChanged:
		return "mode changed"
	case ReasonDeviceLost:
		return "device lost"
	case ReasonClosed:
		return "closed"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// Frame is a GPU-resident frame handed from a driver to a Sink.
//
// The texture belongs to the driver. The receiver must call Done exactly once
// when it no longer needs the texture so the driver can recycle it; holding
// a frame past one acquisition cycle starves the driver's pool.
type Frame struct {
	Texture hal.Texture

	Width  uint32
	Height uint32

	// RowPitch is the row pitch reported by the driver, in bytes.
	RowPitch uint32

	Format    gputypes.TextureFormat
	Seq       uint64
	Timestamp time.Time

	release func()
	once    *sync.Once
}

// NewFrame returns a frame whose Done calls release once.
func NewFrame(tex hal.Texture, width, height, rowPitch uint32, format gputypes.TextureFormat, seq uint64, release func()) Frame {
	return Frame{
		Texture:   tex,
		Width:     width,
		Height:    height,
		RowPitch:  rowPitch,
		Format:    format,
		Seq:       seq,
		Timestamp: time.Now(),
		release:   release,
		once:      new(sync.Once),
	}
}

// Done returns the frame's texture to the driver. Safe to call more than
// once and on zero frames.
func (f Frame) Done() {
	if f.once == nil || f.release == nil {
		return
	}
	f.once.Do(f.release)
}

// Sink receives frames and invalidation events from a driver. Deliver and
// Invalidate may be called from any goroutine.
type Sink interface {
	Deliver(Frame)
	Invalidate(Reason)
}

// GPU is the device a subscription renders or copies into.
type GPU interface {
	HalDevice() any
	HalQueue() any

	// Submit runs fn with exclusive use of the device's queue.
	Submit(fn func(device hal.Device, queue hal.Queue) error) error
}

// HAL extracts the HAL device and queue from gpu.
func HAL(gpu GPU) (hal.Device, hal.Queue, error) {
	if gpu == nil {
		return nil, nil, ErrNoGPU
	}
	device, ok := gpu.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, nil, ErrNoGPU
	}
	queue, ok := gpu.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, nil, ErrNoGPU
	}
	return device, queue, nil
}

// Subscription is a live frame feed for one output.
type Subscription interface {
	// Size returns the current output size in pixels.
	Size() (width, height int)

	// Info returns the current description of the output.
	Info() OutputInfo

	// Close stops delivery and releases driver resources. Idempotent.
	Close() error
}

// Compositor is a source of capturable outputs.
type Compositor interface {
	Name() string
	Outputs() ([]OutputInfo, error)

	// Subscribe starts delivering frames of output id to sink. Drivers
	// deliver the current image once before Subscribe returns and then on
	// their own schedule.
	Subscribe(gpu GPU, id OutputID, sink Sink) (Subscription, error)
}

// Selector picks one output from a compositor's output list.
// The zero value selects the primary output.
type Selector struct {
	// Index selects the output at this position when ByIndex is set.
	Index   int
	ByIndex bool

	// Name selects the first output whose name contains Name,
	// case-insensitively.
	Name string
}

// Primary selects the primary output.
func Primary() Selector { return Selector{} }

// Display selects the output at index.
func Display(index int) Selector { return Selector{Index: index, ByIndex: true} }

// Named selects the first output whose name contains name.
func Named(name string) Selector { return Selector{Name: name} }

// String returns a description of the selector for logs.
func (s Selector) String() string {
	switch {
	case s.ByIndex:
		return fmt.Sprintf("display %d", s.Index)
	case s.Name != "":
		return fmt.Sprintf("name %q", s.Name)
	default:
		return "primary"
	}
}

// Resolve returns the output matching s.
func (s Selector) Resolve(outputs []OutputInfo) (OutputInfo, error) {
	if len(outputs) == 0 {
		return OutputInfo{}, fmt.Errorf("%w: no outputs", ErrOutputNotFound)
	}
	switch {
	case s.ByIndex:
		for _, o := range outputs {
			if o.Index == s.Index {
				return o, nil
			}
		}
	case s.Name != "":
		want := strings.ToLower(s.Name)
		for _, o := range outputs {
			if strings.Contains(strings.ToLower(o.Name), want) {
				return o, nil
			}
		}
	default:
		for _, o := range outputs {
			if o.Primary {
				return o, nil
			}
		}
		return outputs[0], nil
	}
	return OutputInfo{}, fmt.Errorf("%w: %s", ErrOutputNotFound, s)
}
