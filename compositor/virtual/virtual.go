// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package virtual implements an in-process compositor whose outputs are
// rendered with gg.
//
// Outputs are added with AddOutput and presented with Present or Run. Every
// presented frame is drawn on the CPU, uploaded into a small texture pool on
// the subscriber's GPU and delivered to its sink. Resize, Remove, LoseDevice
// and FailSubscribe inject the events a real display server produces, which
// makes the package the test bed for capture sessions.
//
// Importing the package registers a shared instance with one 1280x720
// output as the "virtual" compositor.
package virtual

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gogpu/gg"

	"github.com/gogpu/screencap/compositor"
)

// Name is the registry name of the virtual compositor.
const Name = "virtual"

// ErrInjected is returned by Subscribe while FailSubscribe is armed.
var ErrInjected = errors.New("virtual: injected subscribe failure")

var (
	sharedOnce sync.Once
	shared     *Compositor
)

// Shared returns the instance registered as "virtual".
func Shared() *Compositor {
	sharedOnce.Do(func() {
		shared = New()
		shared.AddOutput("Virtual-1", 1280, 720)
	})
	return shared
}

func init() {
	compositor.Register(Name, func() (compositor.Compositor, error) {
		return Shared(), nil
	})
}

// Option configures a Compositor.
type Option func(*Compositor)

// WithPoolDepth sets how many textures each subscription cycles through.
func WithPoolDepth(n int) Option {
	return func(c *Compositor) {
		c.poolDepth = n
	}
}

// Compositor is a set of virtual outputs.
type Compositor struct {
	poolDepth int

	mu            sync.Mutex
	outputs       map[compositor.OutputID]*output
	nextIndex     int
	deviceLost    bool
	failSubscribe int

	runMu sync.Mutex
	stop  chan struct{}
	done  chan struct{}
}

var _ compositor.Compositor = (*Compositor)(nil)

type output struct {
	info  compositor.OutputInfo
	subs  map[*subscription]struct{}
	frame uint64

	pm *gg.Pixmap
	dc *gg.Context
}

// New returns a compositor without outputs.
func New(opts ...Option) *Compositor {
	c := &Compositor{
		poolDepth: compositor.DefaultPoolDepth,
		outputs:   make(map[compositor.OutputID]*output),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns "virtual".
func (c *Compositor) Name() string { return Name }

// AddOutput creates an output of the given size. The first output added is
// the primary one.
func (c *Compositor) AddOutput(name string, width, height int) compositor.OutputID {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.nextIndex
	c.nextIndex++
	id := compositor.OutputID(fmt.Sprintf("virtual-%d", idx))
	c.outputs[id] = &output{
		info: compositor.OutputInfo{
			ID:      id,
			Name:    name,
			Index:   idx,
			Width:   width,
			Height:  height,
			Primary: len(c.outputs) == 0,
		},
		subs: make(map[*subscription]struct{}),
	}
	return id
}

// Outputs lists the outputs ordered by index.
func (c *Compositor) Outputs() ([]compositor.OutputInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	infos := make([]compositor.OutputInfo, 0, len(c.outputs))
	for _, o := range c.outputs {
		infos = append(infos, o.info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Index < infos[j].Index })
	return infos, nil
}

// Subscribe starts delivering frames of output id to sink. The current image
// is delivered before Subscribe returns.
func (c *Compositor) Subscribe(gpu compositor.GPU, id compositor.OutputID, sink compositor.Sink) (compositor.Subscription, error) {
	if _, _, err := compositor.HAL(gpu); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.failSubscribe > 0 {
		c.failSubscribe--
		c.mu.Unlock()
		return nil, ErrInjected
	}
	if c.deviceLost {
		c.mu.Unlock()
		return nil, compositor.ErrDeviceLost
	}
	o, ok := c.outputs[id]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", compositor.ErrOutputNotFound, id)
	}

	s := &subscription{
		c:    c,
		id:   id,
		info: o.info,
		sink: sink,
		pool: compositor.NewFramePool(gpu, c.poolDepth, "virtual_"+string(id)),
	}
	o.subs[s] = struct{}{}
	pixels, w, h, err := o.render()
	c.mu.Unlock()

	if err != nil {
		s.Close()
		return nil, err
	}
	s.push(pixels, w, h)
	return s, nil
}

// render draws the next frame of o. Must hold c.mu.
func (o *output) render() (pixels []byte, width, height int, err error) {
	w, h := o.info.Width, o.info.Height
	if o.pm == nil || o.pm.Width() != w || o.pm.Height() != h {
		if o.dc != nil {
			_ = o.dc.Close()
		}
		o.pm = gg.NewPixmap(w, h)
		o.dc = gg.NewContext(w, h, gg.WithPixmap(o.pm))
	}
	o.frame++
	if err := drawTestPattern(o.dc, w, h, o.frame); err != nil {
		return nil, 0, 0, fmt.Errorf("virtual: render %s: %w", o.info.ID, err)
	}
	// Subscribers upload outside c.mu, so they get their own copy.
	return append([]byte(nil), o.pm.Data()...), w, h, nil
}

// drawTestPattern draws a bar sweeping left to right over a dark background
// and a centered disc, so consecutive frames differ.
func drawTestPattern(dc *gg.Context, w, h int, frame uint64) error {
	fw, fh := float64(w), float64(h)
	dc.ClearWithColor(gg.RGBA{R: 0.08, G: 0.09, B: 0.12, A: 1})

	barW := fw / 8
	x := float64(frame*8%uint64(w+int(barW))) - barW
	dc.SetRGB(0.92, 0.33, 0.2)
	dc.DrawRectangle(x, fh/4, barW, fh/2)
	if err := dc.Fill(); err != nil {
		return err
	}

	r := fh / 6
	if fw < fh {
		r = fw / 6
	}
	dc.SetRGB(0.2, 0.6, 0.9)
	dc.DrawCircle(fw/2, fh/2, r)
	return dc.Fill()
}

// Present renders one frame of output id and delivers it to every
// subscriber before returning.
func (c *Compositor) Present(id compositor.OutputID) error {
	c.mu.Lock()
	if c.deviceLost {
		c.mu.Unlock()
		return compositor.ErrDeviceLost
	}
	o, ok := c.outputs[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", compositor.ErrOutputNotFound, id)
	}
	if len(o.subs) == 0 {
		c.mu.Unlock()
		return nil
	}
	pixels, w, h, err := o.render()
	subs := make([]*subscription, 0, len(o.subs))
	for s := range o.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	if err != nil {
		return err
	}
	for _, s := range subs {
		s.push(pixels, w, h)
	}
	return nil
}

// PresentAll presents every output once.
func (c *Compositor) PresentAll() {
	outs, _ := c.Outputs()
	for _, o := range outs {
		if err := c.Present(o.ID); err != nil {
			compositor.Logger().Debug("virtual: present failed", "output", o.ID, "error", err)
		}
	}
}

// Run presents every output each interval on a background goroutine until
// Stop is called. Calling Run while running restarts it with the new
// interval.
func (c *Compositor) Run(interval time.Duration) {
	c.Stop()

	c.runMu.Lock()
	defer c.runMu.Unlock()
	stop := make(chan struct{})
	done := make(chan struct{})
	c.stop, c.done = stop, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.PresentAll()
			}
		}
	}()
}

// Stop ends Run and waits for the presenting goroutine to exit.
func (c *Compositor) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.stop == nil {
		return
	}
	close(c.stop)
	<-c.done
	c.stop, c.done = nil, nil
}

// Resize changes the mode of output id. Subscribers are invalidated with
// compositor.ReasonModeChanged.
func (c *Compositor) Resize(id compositor.OutputID, width, height int) error {
	return c.modeChange(id, func(info *compositor.OutputInfo) {
		info.Width, info.Height = width, height
	})
}

// Rotate changes the orientation of output id, swapping width and height
// for quarter turns. Subscribers are invalidated with
// compositor.ReasonModeChanged.
func (c *Compositor) Rotate(id compositor.OutputID, r compositor.Rotation) error {
	return c.modeChange(id, func(info *compositor.OutputInfo) {
		if (info.Rotation-r)%2 != 0 {
			info.Width, info.Height = info.Height, info.Width
		}
		info.Rotation = r
	})
}

func (c *Compositor) modeChange(id compositor.OutputID, change func(*compositor.OutputInfo)) error {
	c.mu.Lock()
	o, ok := c.outputs[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", compositor.ErrOutputNotFound, id)
	}
	change(&o.info)
	subs := o.detachAll()
	c.mu.Unlock()

	invalidate(subs, compositor.ReasonModeChanged)
	return nil
}

// Remove unplugs output id. Subscribers are invalidated with
// compositor.ReasonOutputRemoved.
func (c *Compositor) Remove(id compositor.OutputID) error {
	c.mu.Lock()
	o, ok := c.outputs[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", compositor.ErrOutputNotFound, id)
	}
	delete(c.outputs, id)
	subs := o.detachAll()
	if o.info.Primary {
		c.promotePrimary()
	}
	if o.dc != nil {
		_ = o.dc.Close()
	}
	c.mu.Unlock()

	invalidate(subs, compositor.ReasonOutputRemoved)
	return nil
}

// promotePrimary marks the lowest-index output primary. Must hold c.mu.
func (c *Compositor) promotePrimary() {
	var first *output
	for _, o := range c.outputs {
		if first == nil || o.info.Index < first.info.Index {
			first = o
		}
	}
	if first != nil {
		first.info.Primary = true
	}
}

// LoseDevice simulates a GPU reset: every subscriber is invalidated with
// compositor.ReasonDeviceLost and Subscribe fails until RestoreDevice.
func (c *Compositor) LoseDevice() {
	c.mu.Lock()
	c.deviceLost = true
	var subs []*subscription
	for _, o := range c.outputs {
		subs = append(subs, o.detachAll()...)
	}
	c.mu.Unlock()

	invalidate(subs, compositor.ReasonDeviceLost)
}

// RestoreDevice ends a simulated device loss.
func (c *Compositor) RestoreDevice() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deviceLost = false
}

// FailSubscribe makes the next n calls to Subscribe fail with ErrInjected.
func (c *Compositor) FailSubscribe(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failSubscribe = n
}

// Subscribers returns the number of live subscriptions on output id.
func (c *Compositor) Subscribers(id compositor.OutputID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o, ok := c.outputs[id]; ok {
		return len(o.subs)
	}
	return 0
}

// detachAll removes and returns all subscribers. Must hold c.mu.
func (o *output) detachAll() []*subscription {
	subs := make([]*subscription, 0, len(o.subs))
	for s := range o.subs {
		subs = append(subs, s)
		delete(o.subs, s)
	}
	return subs
}

func invalidate(subs []*subscription, reason compositor.Reason) {
	for _, s := range subs {
		compositor.Logger().Debug("virtual: subscription invalidated", "output", s.id, "reason", reason)
		s.sink.Invalidate(reason)
	}
}

type subscription struct {
	c    *Compositor
	id   compositor.OutputID
	sink compositor.Sink
	pool *compositor.FramePool

	mu     sync.Mutex
	info   compositor.OutputInfo
	closed bool
}

func (s *subscription) push(pixels []byte, w, h int) {
	f, ok, err := s.pool.Upload(pixels, w, h, w*4, compositor.OrderRGBA)
	if err != nil {
		if !errors.Is(err, compositor.ErrPoolClosed) {
			compositor.Logger().Debug("virtual: upload failed", "output", s.id, "error", err)
		}
		return
	}
	if !ok {
		return
	}
	s.sink.Deliver(f)
}

// Size returns the current size of the output, or the last known size if
// it was removed.
func (s *subscription) Size() (width, height int) {
	info := s.Info()
	return info.Width, info.Height
}

// Info returns the current description of the output.
func (s *subscription) Info() compositor.OutputInfo {
	s.c.mu.Lock()
	o, ok := s.c.outputs[s.id]
	var info compositor.OutputInfo
	if ok {
		info = o.info
	}
	s.c.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.info = info
	}
	return s.info
}

// Close detaches the subscription and frees its textures. Idempotent.
func (s *subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.c.mu.Lock()
	if o, ok := s.c.outputs[s.id]; ok {
		delete(o.subs, s)
	}
	s.c.mu.Unlock()

	s.pool.Close()
	return nil
}
