// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package source

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/screencap/compositor"
)

func frame(seq uint64, released *atomic.Int32) compositor.Frame {
	return compositor.NewFrame(nil, 4, 4, 16, 0, seq, func() { released.Add(1) })
}

func TestTryAcquireEmpty(t *testing.T) {
	s := New()
	for i := 0; i < 3; i++ {
		if _, err := s.TryAcquire(); !errors.Is(err, ErrEmpty) {
			t.Fatalf("call %d: err = %v, want ErrEmpty", i, err)
		}
	}
	if s.State() != Idle {
		t.Errorf("State = %v, want idle", s.State())
	}
}

func TestDeliverAcquire(t *testing.T) {
	var released atomic.Int32
	s := New()
	s.Deliver(frame(7, &released))

	if s.State() != FrameAvailable {
		t.Fatalf("State = %v, want frame-available", s.State())
	}
	f, err := s.TryAcquire()
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if f.Seq != 7 {
		t.Errorf("Seq = %d, want 7", f.Seq)
	}
	if s.State() != Idle {
		t.Errorf("State after acquire = %v, want idle", s.State())
	}
	if _, err := s.TryAcquire(); !errors.Is(err, ErrEmpty) {
		t.Errorf("second TryAcquire = %v, want ErrEmpty", err)
	}
	if released.Load() != 0 {
		t.Errorf("acquired frame released by source")
	}
	f.Done()
}

func TestLatestFrameWins(t *testing.T) {
	var released atomic.Int32
	s := New()
	for seq := uint64(1); seq <= 3; seq++ {
		s.Deliver(frame(seq, &released))
	}

	f, err := s.TryAcquire()
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if f.Seq != 3 {
		t.Errorf("Seq = %d, want 3", f.Seq)
	}
	if got := released.Load(); got != 2 {
		t.Errorf("released %d overwritten frames, want 2", got)
	}
	st := s.Stats()
	if st.Delivered != 3 || st.Dropped != 2 || st.LastSeq != 3 {
		t.Errorf("Stats = %+v", st)
	}
}

func TestInvalidateIsTerminal(t *testing.T) {
	var released atomic.Int32
	s := New()
	s.Deliver(frame(1, &released))
	s.Invalidate(compositor.ReasonModeChanged)

	if released.Load() != 1 {
		t.Error("pending frame not released on invalidation")
	}
	if _, err := s.TryAcquire(); !errors.Is(err, ErrInvalidated) {
		t.Fatalf("TryAcquire = %v, want ErrInvalidated", err)
	}

	s.Deliver(frame(2, &released))
	if released.Load() != 2 {
		t.Error("frame delivered after invalidation not released")
	}
	if s.State() != Invalidated {
		t.Errorf("State = %v, want invalidated", s.State())
	}

	s.Invalidate(compositor.ReasonOutputRemoved)
	if s.Reason() != compositor.ReasonModeChanged {
		t.Errorf("Reason = %v, want first reason", s.Reason())
	}
}

func TestWaitAcquireTimeout(t *testing.T) {
	s := New()
	start := time.Now()
	if _, err := s.WaitAcquire(20 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("WaitAcquire = %v, want ErrTimeout", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("WaitAcquire returned before the timeout")
	}
	if _, err := s.WaitAcquire(0); !errors.Is(err, ErrTimeout) {
		t.Errorf("WaitAcquire(0) = %v, want ErrTimeout", err)
	}
}

func TestWaitAcquireDelivery(t *testing.T) {
	var released atomic.Int32
	s := New()
	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Deliver(frame(42, &released))
	}()

	f, err := s.WaitAcquire(5 * time.Second)
	if err != nil {
		t.Fatalf("WaitAcquire: %v", err)
	}
	if f.Seq != 42 {
		t.Errorf("Seq = %d, want 42", f.Seq)
	}
	f.Done()
}

func TestWaitAcquireInvalidated(t *testing.T) {
	s := New()
	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Invalidate(compositor.ReasonDeviceLost)
	}()

	if _, err := s.WaitAcquire(5 * time.Second); !errors.Is(err, ErrInvalidated) {
		t.Fatalf("WaitAcquire = %v, want ErrInvalidated", err)
	}
}

func TestWaitAcquireStaleWakeup(t *testing.T) {
	var released atomic.Int32
	s := New()

	// Leave a wakeup token behind with no frame.
	s.Deliver(frame(1, &released))
	f, _ := s.TryAcquire()
	f.Done()

	if _, err := s.WaitAcquire(20 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Errorf("WaitAcquire = %v, want ErrTimeout", err)
	}
}

func TestClose(t *testing.T) {
	s := New()
	s.Close()
	s.Close()
	if s.Reason() != compositor.ReasonClosed {
		t.Errorf("Reason = %v, want closed", s.Reason())
	}
}
