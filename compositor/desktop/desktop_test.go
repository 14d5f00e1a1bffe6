// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package desktop

import (
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/screencap/compositor"
	"github.com/gogpu/screencap/internal/gputest"
)

// fakeScreen is a set of displays whose geometry tests can change.
type fakeScreen struct {
	mu       sync.Mutex
	displays []image.Rectangle
	fail     bool
	grabs    int
}

func (f *fakeScreen) screen() screen {
	return screen{
		numDisplays: func() int {
			f.mu.Lock()
			defer f.mu.Unlock()
			return len(f.displays)
		},
		bounds: func(i int) image.Rectangle {
			f.mu.Lock()
			defer f.mu.Unlock()
			if i >= len(f.displays) {
				return image.Rectangle{}
			}
			return f.displays[i]
		},
		capture: func(r image.Rectangle) (*image.RGBA, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.grabs++
			if f.fail {
				return nil, errors.New("grab failed")
			}
			return image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy())), nil
		},
	}
}

func (f *fakeScreen) set(displays ...image.Rectangle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.displays = displays
}

func newFake(t *testing.T, displays ...image.Rectangle) (*Compositor, *fakeScreen) {
	t.Helper()
	fs := &fakeScreen{displays: displays}
	c := New(WithInterval(time.Millisecond))
	c.screen = fs.screen()
	return c, fs
}

// sink records deliveries and invalidations.
type sink struct {
	mu          sync.Mutex
	frames      int
	reason      compositor.Reason
	invalidated chan struct{}
}

func newSink() *sink { return &sink{invalidated: make(chan struct{})} }

func (s *sink) Deliver(f compositor.Frame) {
	f.Done()
	s.mu.Lock()
	s.frames++
	s.mu.Unlock()
}

func (s *sink) Invalidate(r compositor.Reason) {
	s.mu.Lock()
	s.reason = r
	s.mu.Unlock()
	close(s.invalidated)
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func TestOutputs(t *testing.T) {
	c, _ := newFake(t, image.Rect(0, 0, 1920, 1080), image.Rect(1920, 0, 3200, 1024))

	outs, err := c.Outputs()
	if err != nil {
		t.Fatalf("Outputs: %v", err)
	}
	if len(outs) != 2 {
		t.Fatalf("len(Outputs) = %d, want 2", len(outs))
	}
	if outs[0].ID != "display-0" || !outs[0].Primary || outs[0].Width != 1920 {
		t.Errorf("outs[0] = %+v", outs[0])
	}
	if outs[1].Width != 1280 || outs[1].Height != 1024 || outs[1].Primary {
		t.Errorf("outs[1] = %+v", outs[1])
	}
}

func TestOutputsNoDisplay(t *testing.T) {
	c, _ := newFake(t)
	if _, err := c.Outputs(); !errors.Is(err, ErrNoDisplay) {
		t.Errorf("Outputs = %v, want ErrNoDisplay", err)
	}
}

func TestParseOutputID(t *testing.T) {
	tests := []struct {
		id   compositor.OutputID
		want int
		ok   bool
	}{
		{"display-0", 0, true},
		{"display-12", 12, true},
		{"display--1", 0, false},
		{"display-x", 0, false},
		{"virtual-0", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseOutputID(tt.id)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("parseOutputID(%q) = %d, %v", tt.id, got, ok)
		}
	}
}

func TestSubscribeAndGrab(t *testing.T) {
	c, _ := newFake(t, image.Rect(0, 0, 64, 48))
	s := newSink()

	sub, err := c.Subscribe(gputest.New(t), "display-0", s)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if s.count() != 1 {
		t.Errorf("frames after Subscribe = %d, want 1", s.count())
	}

	deadline := time.Now().Add(5 * time.Second)
	for s.count() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("only %d frames grabbed", s.count())
		}
		time.Sleep(time.Millisecond)
	}

	if w, h := sub.Size(); w != 64 || h != 48 {
		t.Errorf("Size = %dx%d, want 64x48", w, h)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestSubscribeUnknownDisplay(t *testing.T) {
	c, _ := newFake(t, image.Rect(0, 0, 64, 48))
	for _, id := range []compositor.OutputID{"display-1", "bogus"} {
		if _, err := c.Subscribe(gputest.New(t), id, newSink()); !errors.Is(err, compositor.ErrOutputNotFound) {
			t.Errorf("Subscribe(%s) = %v, want ErrOutputNotFound", id, err)
		}
	}
}

func TestSubscribeGrabFailure(t *testing.T) {
	c, fs := newFake(t, image.Rect(0, 0, 64, 48))
	fs.fail = true
	if _, err := c.Subscribe(gputest.New(t), "display-0", newSink()); err == nil {
		t.Error("Subscribe succeeded although the first grab failed")
	}
}

func TestModeChangeInvalidates(t *testing.T) {
	c, fs := newFake(t, image.Rect(0, 0, 64, 48))
	s := newSink()
	sub, err := c.Subscribe(gputest.New(t), "display-0", s)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	fs.set(image.Rect(0, 0, 128, 96))
	select {
	case <-s.invalidated:
	case <-time.After(5 * time.Second):
		t.Fatal("mode change not reported")
	}
	if s.reason != compositor.ReasonModeChanged {
		t.Errorf("reason = %v, want mode changed", s.reason)
	}
	if w, h := sub.Size(); w != 128 || h != 96 {
		t.Errorf("Size = %dx%d, want re-queried 128x96", w, h)
	}
}

func TestDisplayRemovedInvalidates(t *testing.T) {
	c, fs := newFake(t, image.Rect(0, 0, 64, 48), image.Rect(64, 0, 128, 48))
	s := newSink()
	sub, err := c.Subscribe(gputest.New(t), "display-1", s)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer sub.Close()

	fs.set(image.Rect(0, 0, 64, 48))
	select {
	case <-s.invalidated:
	case <-time.After(5 * time.Second):
		t.Fatal("removal not reported")
	}
	if s.reason != compositor.ReasonOutputRemoved {
		t.Errorf("reason = %v, want output removed", s.reason)
	}
	if w, h := sub.Size(); w != 64 || h != 48 {
		t.Errorf("Size = %dx%d, want last known 64x48", w, h)
	}
}
