// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package desktop captures the real displays of the machine.
//
// Displays are grabbed with kbinani/screenshot (X11, Windows GDI, macOS
// CoreGraphics) on a fixed interval and uploaded into GPU textures, so a
// capture session sees them exactly like frames from a GPU compositor.
// Importing the package registers it as the "desktop" compositor.
package desktop

import (
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kbinani/screenshot"

	"github.com/gogpu/screencap/compositor"
)

// Name is the registry name of the desktop compositor.
const Name = "desktop"

// DefaultInterval is the grab interval, one frame per 60 Hz refresh.
const DefaultInterval = time.Second / 60

// ErrNoDisplay is returned when no active display is found.
var ErrNoDisplay = errors.New("desktop: no active display")

func init() {
	compositor.Register(Name, func() (compositor.Compositor, error) {
		c := New()
		if c.screen.numDisplays() == 0 {
			return nil, ErrNoDisplay
		}
		return c, nil
	})
}

// screen abstracts the screenshot calls so tests can supply a fake display.
type screen struct {
	numDisplays func() int
	bounds      func(index int) image.Rectangle
	capture     func(r image.Rectangle) (*image.RGBA, error)
}

func systemScreen() screen {
	return screen{
		numDisplays: screenshot.NumActiveDisplays,
		bounds:      screenshot.GetDisplayBounds,
		capture:     screenshot.CaptureRect,
	}
}

// Option configures a Compositor.
type Option func(*Compositor)

// WithInterval sets how often displays are grabbed.
func WithInterval(d time.Duration) Option {
	return func(c *Compositor) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithPoolDepth sets how many textures each subscription cycles through.
func WithPoolDepth(n int) Option {
	return func(c *Compositor) {
		c.poolDepth = n
	}
}

// Compositor exposes the active displays as outputs.
type Compositor struct {
	interval  time.Duration
	poolDepth int
	screen    screen
}

var _ compositor.Compositor = (*Compositor)(nil)

// New returns a desktop compositor.
func New(opts ...Option) *Compositor {
	c := &Compositor{
		interval:  DefaultInterval,
		poolDepth: compositor.DefaultPoolDepth,
		screen:    systemScreen(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns "desktop".
func (c *Compositor) Name() string { return Name }

func outputID(index int) compositor.OutputID {
	return compositor.OutputID("display-" + strconv.Itoa(index))
}

func parseOutputID(id compositor.OutputID) (int, bool) {
	s, ok := strings.CutPrefix(string(id), "display-")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	return n, err == nil && n >= 0
}

func (c *Compositor) info(index int) compositor.OutputInfo {
	b := c.screen.bounds(index)
	return compositor.OutputInfo{
		ID:      outputID(index),
		Name:    fmt.Sprintf("Display %d (%dx%d+%d+%d)", index, b.Dx(), b.Dy(), b.Min.X, b.Min.Y),
		Index:   index,
		Width:   b.Dx(),
		Height:  b.Dy(),
		Primary: index == 0,
	}
}

// Outputs lists the active displays. Display 0 is the primary one.
func (c *Compositor) Outputs() ([]compositor.OutputInfo, error) {
	n := c.screen.numDisplays()
	if n == 0 {
		return nil, ErrNoDisplay
	}
	infos := make([]compositor.OutputInfo, n)
	for i := range infos {
		infos[i] = c.info(i)
	}
	return infos, nil
}

// Subscribe grabs display id once, delivers it, and keeps grabbing on a
// background goroutine until the subscription is closed or invalidated.
func (c *Compositor) Subscribe(gpu compositor.GPU, id compositor.OutputID, sink compositor.Sink) (compositor.Subscription, error) {
	if _, _, err := compositor.HAL(gpu); err != nil {
		return nil, err
	}
	index, ok := parseOutputID(id)
	if !ok || index >= c.screen.numDisplays() {
		return nil, fmt.Errorf("%w: %s", compositor.ErrOutputNotFound, id)
	}

	s := &subscription{
		c:      c,
		index:  index,
		bounds: c.screen.bounds(index),
		sink:   sink,
		pool:   compositor.NewFramePool(gpu, c.poolDepth, "desktop_"+string(id)),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if err := s.grab(); err != nil {
		s.pool.Close()
		return nil, fmt.Errorf("desktop: capture %s: %w", id, err)
	}
	go s.run()
	return s, nil
}

type subscription struct {
	c      *Compositor
	index  int
	bounds image.Rectangle
	sink   compositor.Sink
	pool   *compositor.FramePool

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (s *subscription) grab() error {
	img, err := s.c.screen.capture(s.bounds)
	if err != nil {
		return err
	}
	w, h := img.Rect.Dx(), img.Rect.Dy()
	f, ok, err := s.pool.Upload(img.Pix, w, h, img.Stride, compositor.OrderRGBA)
	if err != nil {
		return err
	}
	if ok {
		s.sink.Deliver(f)
	}
	return nil
}

// check reports why the display can no longer be captured, if it can't.
func (s *subscription) check() (compositor.Reason, bool) {
	if s.index >= s.c.screen.numDisplays() {
		return compositor.ReasonOutputRemoved, true
	}
	if s.c.screen.bounds(s.index) != s.bounds {
		return compositor.ReasonModeChanged, true
	}
	return 0, false
}

func (s *subscription) run() {
	defer close(s.done)
	log := compositor.Logger().With("output", outputID(s.index))

	ticker := time.NewTicker(s.c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
		if reason, lost := s.check(); lost {
			log.Debug("desktop: display changed", "reason", reason)
			s.sink.Invalidate(reason)
			return
		}
		if err := s.grab(); err != nil {
			if errors.Is(err, compositor.ErrPoolClosed) {
				return
			}
			log.Debug("desktop: capture failed", "error", err)
		}
	}
}

// Size returns the current display size.
func (s *subscription) Size() (width, height int) {
	info := s.Info()
	return info.Width, info.Height
}

// Info returns the current display description, or the subscribed one if
// the display is gone.
func (s *subscription) Info() compositor.OutputInfo {
	if s.index < s.c.screen.numDisplays() {
		return s.c.info(s.index)
	}
	return compositor.OutputInfo{
		ID:     outputID(s.index),
		Index:  s.index,
		Width:  s.bounds.Dx(),
		Height: s.bounds.Dy(),
	}
}

// Close stops grabbing and frees the textures. Idempotent.
func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
		s.pool.Close()
	})
	return nil
}
