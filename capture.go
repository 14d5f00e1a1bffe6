// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package screencap

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gogpu/screencap/compositor"
	"github.com/gogpu/screencap/internal/source"
	"github.com/gogpu/screencap/internal/staging"
)

// State is the lifecycle state of a Capture.
type State int

const (
	// StateActive means frames are being captured.
	StateActive State = iota
	// StateDegraded means the output was lost and could not be rebound.
	// Acquisitions fail with ErrSourceInvalidated until Rebind succeeds.
	StateDegraded
	// StateClosed is terminal.
	StateClosed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDegraded:
		return "degraded"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Stats counts what a Capture did over its lifetime.
type Stats struct {
	// Frames is the number of successful acquisitions.
	Frames uint64
	// Rebinds counts successful and failed rebind attempts.
	Rebinds uint64
	// StagingAllocations counts staging buffer (re)allocations.
	StagingAllocations int
	// Delivered and Dropped count driver frames across all bindings.
	// A frame is dropped when a newer one replaced it before pickup.
	Delivered uint64
	Dropped   uint64
}

// Capture captures frames of one output.
//
// At most one GetFrame or WaitFrame may run at a time on a Capture. Close
// may be called from any goroutine; it interrupts a running WaitFrame.
// Separate Captures, even on the same Device, may be used concurrently.
type Capture struct {
	id     uuid.UUID
	dev    *Device
	comp   compositor.Compositor
	sel    compositor.Selector
	logger *slog.Logger

	// generation is bumped by every acquisition call and by Close; a Frame
	// is valid while it matches.
	generation atomic.Uint64

	// current mirrors bind for Close, which must not wait for mu.
	current atomic.Pointer[binding]
	closing atomic.Bool

	mu       sync.Mutex
	state    State
	bind     *binding
	transfer *staging.Transfer
	stats    Stats
}

// NewCapture binds a capture session to an output of dev.
//
// The compositor is taken from WithCompositor, WithCompositorName or the
// registry default; the output from WithOutput (default primary). It fails
// with ErrOutputUnavailable when no compositor or output matches and with
// ErrDriverError when the driver refuses the subscription.
func NewCapture(dev *Device, opts ...Option) (*Capture, error) {
	if dev == nil {
		return nil, ErrNoAdapter
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	comp, err := resolveCompositor(o)
	if err != nil {
		return nil, err
	}

	if err := dev.retain(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDriverError, err)
	}

	b, err := bind(dev, comp, o.selector)
	if err != nil {
		dev.release()
		return nil, err
	}

	c := &Capture{
		id:   uuid.New(),
		dev:  dev,
		comp: comp,
		sel:  o.selector,
		bind: b,
	}
	logger := o.logger
	if logger == nil {
		logger = Logger()
	}
	c.logger = logger.With("session", c.id.String(), "compositor", comp.Name())
	c.transfer = staging.New(dev, staging.Config{
		Label:   "screencap_staging",
		Timeout: o.copyTimeout,
		Logger:  c.logger,
	})
	c.current.Store(b)

	c.logger.Info("screencap: session opened", "output", b.info.Name, "selector", o.selector.String())
	return c, nil
}

func resolveCompositor(o options) (compositor.Compositor, error) {
	switch {
	case o.comp != nil:
		return o.comp, nil
	case o.compName != "":
		c, err := compositor.New(o.compName)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrOutputUnavailable, err)
		}
		return c, nil
	default:
		c, err := compositor.Default()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrOutputUnavailable, err)
		}
		return c, nil
	}
}

// ID returns the session identifier used in log records.
func (c *Capture) ID() uuid.UUID { return c.id }

// GetFrame returns the newest frame without blocking. It returns
// ErrNoTexture when nothing new arrived since the last call.
//
// When the output was invalidated (mode change, removal, device loss) or
// the copy failed, GetFrame rebinds once and retries. If the rebind fails it
// returns ErrSourceInvalidated and the session becomes Degraded.
//
// The returned Frame is valid until the next acquisition or Close.
func (c *Capture) GetFrame() (*Frame, error) {
	return c.acquire(func(src *source.Source) (compositor.Frame, error) {
		return src.TryAcquire()
	})
}

// WaitFrame blocks until a frame arrives or timeout elapses, returning
// ErrTimeout in the latter case. Invalidation is handled as in GetFrame.
func (c *Capture) WaitFrame(timeout time.Duration) (*Frame, error) {
	return c.acquire(func(src *source.Source) (compositor.Frame, error) {
		return src.WaitAcquire(timeout)
	})
}

func (c *Capture) acquire(pull func(*source.Source) (compositor.Frame, error)) (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	gen := c.generation.Add(1)

	switch {
	case c.state == StateClosed || c.closing.Load():
		return nil, ErrSessionClosed
	case c.state == StateDegraded:
		return nil, ErrSourceInvalidated
	}

	f, cause, err := c.pullAndCopy(pull, gen)
	if cause == nil {
		return f, err
	}

	// One automatic rebind.
	if err := c.rebindLocked(cause); err != nil {
		return nil, err
	}
	f, cause, err = c.pullAndCopy(pull, gen)
	if cause == nil {
		return f, err
	}
	c.degrade(cause)
	return nil, fmt.Errorf("%w: %w", ErrSourceInvalidated, cause)
}

// pullAndCopy acquires one frame and materializes it. A non-nil cause means
// the binding is unusable and a rebind is warranted; err is then nil.
func (c *Capture) pullAndCopy(pull func(*source.Source) (compositor.Frame, error), gen uint64) (frame *Frame, cause, err error) {
	pf, err := pull(c.bind.src)
	switch {
	case err == nil:
	case errors.Is(err, source.ErrEmpty):
		return nil, nil, ErrNoTexture
	case errors.Is(err, source.ErrTimeout):
		return nil, nil, ErrTimeout
	case errors.Is(err, source.ErrInvalidated):
		if c.closing.Load() {
			return nil, nil, ErrSessionClosed
		}
		return nil, err, nil
	default:
		return nil, nil, fmt.Errorf("%w: %w", ErrDriverError, err)
	}
	defer pf.Done()

	v, err := c.transfer.Materialize(pf)
	switch {
	case err == nil:
	case errors.Is(err, staging.ErrUnsupportedFormat):
		return nil, nil, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	default:
		return nil, fmt.Errorf("%w: %w", ErrCopyFailed, err), nil
	}

	c.stats.Frames++
	return &Frame{
		Width:     int(v.Width),
		Height:    int(v.Height),
		Stride:    int(v.Stride),
		Format:    v.Format,
		Seq:       v.Seq,
		Timestamp: v.Timestamp,
		data:      v.Data,
		gen:       gen,
		owner:     c,
	}, nil, nil
}

// rebindLocked replaces the binding. On failure the session is Degraded.
func (c *Capture) rebindLocked(cause error) error {
	c.stats.Rebinds++
	c.logger.Warn("screencap: rebinding output", "reason", cause)

	c.dropBinding()
	b, err := bind(c.dev, c.comp, c.sel)
	if err != nil {
		c.degrade(err)
		return fmt.Errorf("%w: rebind: %w", ErrSourceInvalidated, err)
	}
	c.bind = b
	c.current.Store(b)
	if c.closing.Load() {
		// Close ran while the binding was being replaced.
		b.src.Close()
	}
	c.state = StateActive
	return nil
}

func (c *Capture) dropBinding() {
	if c.bind == nil {
		return
	}
	st := c.bind.src.Stats()
	c.stats.Delivered += st.Delivered
	c.stats.Dropped += st.Dropped
	if err := c.bind.close(); err != nil {
		c.logger.Debug("screencap: subscription close failed", "error", err)
	}
	c.bind = nil
	c.current.Store(nil)
}

func (c *Capture) degrade(cause error) {
	c.dropBinding()
	c.state = StateDegraded
	c.logger.Warn("screencap: session degraded", "error", cause)
}

// Rebind tears down the output binding and binds the output selector again.
// It is the way out of StateDegraded.
func (c *Capture) Rebind() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed || c.closing.Load() {
		return ErrSessionClosed
	}
	return c.rebindLocked(errors.New("explicit rebind"))
}

// State returns the session state.
func (c *Capture) State() State {
	if c.closing.Load() {
		return StateClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Output returns the bound output with its current size. ok is false when
// the session has no binding (Degraded or Closed).
func (c *Capture) Output() (info compositor.OutputInfo, ok bool) {
	b := c.current.Load()
	if b == nil {
		return compositor.OutputInfo{}, false
	}
	return b.output(), true
}

// Stats returns a snapshot of the session counters.
func (c *Capture) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.stats
	if c.bind != nil {
		src := c.bind.src.Stats()
		st.Delivered += src.Delivered
		st.Dropped += src.Dropped
	}
	st.StagingAllocations = c.transfer.Allocations()
	return st
}

// Close releases the output subscription, the staging buffer and the
// session's Device reference. It invalidates the last Frame and interrupts
// a running WaitFrame. Close is idempotent.
func (c *Capture) Close() error {
	if c.closing.Swap(true) {
		return nil
	}
	c.generation.Add(1)
	if b := c.current.Load(); b != nil {
		b.src.Close()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.dropBinding()
	c.transfer.Destroy()
	c.state = StateClosed
	c.dev.release()
	c.logger.Info("screencap: session closed", "frames", c.stats.Frames, "rebinds", c.stats.Rebinds)
	return nil
}
