// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package source implements the frame mailbox between a compositor driver
// and a capture session.
//
// A driver pushes frames with Deliver on its own schedule; the session pulls
// them with TryAcquire or WaitAcquire. The mailbox holds one frame: a newer
// delivery replaces an unconsumed one, which is released back to the driver
// and counted as dropped. Invalidate is terminal for a Source; recovery means
// subscribing a new one.
package source

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/screencap/compositor"
)

// Acquisition errors.
var (
	// ErrEmpty means no frame arrived since the last acquisition.
	ErrEmpty = errors.New("source: no frame available")

	// ErrTimeout means WaitAcquire gave up waiting.
	ErrTimeout = errors.New("source: timed out waiting for a frame")

	// ErrInvalidated means the driver invalidated the source.
	ErrInvalidated = errors.New("source: invalidated")
)

// State is the acquisition state of a Source.
type State int

const (
	// Idle means no frame is waiting.
	Idle State = iota
	// FrameAvailable means a frame awaits pickup.
	FrameAvailable
	// Invalidated means the output is gone. Terminal.
	Invalidated
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case FrameAvailable:
		return "frame-available"
	case Invalidated:
		return "invalidated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Stats counts deliveries to a Source.
type Stats struct {
	Delivered uint64
	Dropped   uint64
	LastSeq   uint64
}

// Source is a single-slot frame mailbox. It implements compositor.Sink.
type Source struct {
	mu      sync.Mutex
	state   State
	pending compositor.Frame
	reason  compositor.Reason
	stats   Stats

	// notify has capacity 1; a send never blocks and a pending token means
	// "state changed since you last looked".
	notify chan struct{}
}

var _ compositor.Sink = (*Source)(nil)

// New returns an idle Source.
func New() *Source {
	return &Source{notify: make(chan struct{}, 1)}
}

// Deliver stores f as the pending frame. An unconsumed older frame is
// released. Frames delivered after invalidation are released immediately.
func (s *Source) Deliver(f compositor.Frame) {
	s.mu.Lock()
	if s.state == Invalidated {
		s.stats.Dropped++
		s.mu.Unlock()
		f.Done()
		return
	}
	old, hadOld := s.pending, s.state == FrameAvailable
	if hadOld {
		s.stats.Dropped++
	}
	s.pending = f
	s.state = FrameAvailable
	s.stats.Delivered++
	s.stats.LastSeq = f.Seq
	s.mu.Unlock()

	if hadOld {
		old.Done()
	}
	s.wake()
}

// Invalidate moves the source to Invalidated, releasing any pending frame.
// Only the first reason is kept.
func (s *Source) Invalidate(reason compositor.Reason) {
	s.mu.Lock()
	if s.state == Invalidated {
		s.mu.Unlock()
		return
	}
	old, hadOld := s.pending, s.state == FrameAvailable
	s.pending = compositor.Frame{}
	s.state = Invalidated
	s.reason = reason
	s.mu.Unlock()

	if hadOld {
		old.Done()
	}
	s.wake()
}

func (s *Source) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// TryAcquire returns the pending frame without blocking. The caller owns the
// frame and must call its Done.
func (s *Source) TryAcquire() (compositor.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case FrameAvailable:
		f := s.pending
		s.pending = compositor.Frame{}
		s.state = Idle
		return f, nil
	case Invalidated:
		return compositor.Frame{}, fmt.Errorf("%w: %s", ErrInvalidated, s.reason)
	default:
		return compositor.Frame{}, ErrEmpty
	}
}

// WaitAcquire blocks until a frame arrives, the source is invalidated, or
// timeout elapses. A non-positive timeout behaves like TryAcquire but
// reports ErrTimeout instead of ErrEmpty.
func (s *Source) WaitAcquire(timeout time.Duration) (compositor.Frame, error) {
	f, err := s.TryAcquire()
	if !errors.Is(err, ErrEmpty) {
		return f, err
	}
	if timeout <= 0 {
		return compositor.Frame{}, ErrTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-s.notify:
			f, err := s.TryAcquire()
			if !errors.Is(err, ErrEmpty) {
				return f, err
			}
		case <-timer.C:
			// A frame may have landed between the last check and expiry.
			f, err := s.TryAcquire()
			if errors.Is(err, ErrEmpty) {
				return compositor.Frame{}, ErrTimeout
			}
			return f, err
		}
	}
}

// State returns the current state.
func (s *Source) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reason returns why the source was invalidated, or 0.
func (s *Source) Reason() compositor.Reason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Stats returns a snapshot of the delivery counters.
func (s *Source) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Close invalidates the source with compositor.ReasonClosed.
func (s *Source) Close() {
	s.Invalidate(compositor.ReasonClosed)
}
