// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gputest provides a noop HAL device for tests. The noop backend
// accepts every call, so command encoding, submission and readback paths run
// without a GPU; pixel content read back is not meaningful.
package gputest

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

// ErrInjected is returned by Submit while a failure is armed with FailSubmit.
var ErrInjected = errors.New("gputest: injected submit failure")

// GPU is a noop device and queue with serialized submission.
type GPU struct {
	device hal.Device
	queue  hal.Queue

	mu       sync.Mutex
	submits  atomic.Int64
	failNext atomic.Int32
}

// CreateNoopDevice opens the noop adapter. The returned cleanup destroys the
// device and instance.
func CreateNoopDevice(t testing.TB) (hal.Device, hal.Queue, func()) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		t.Fatal("noop backend exposed no adapters")
	}
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	cleanup := func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return openDev.Device, openDev.Queue, cleanup
}

// New returns a GPU destroyed at the end of the test.
func New(t testing.TB) *GPU {
	t.Helper()
	device, queue, cleanup := CreateNoopDevice(t)
	t.Cleanup(cleanup)
	return &GPU{device: device, queue: queue}
}

// HalDevice returns the noop hal.Device.
func (g *GPU) HalDevice() any { return g.device }

// HalQueue returns the noop hal.Queue.
func (g *GPU) HalQueue() any { return g.queue }

// Submit runs fn under the GPU's lock, or fails if a failure is armed.
func (g *GPU) Submit(fn func(hal.Device, hal.Queue) error) error {
	if g.failNext.Load() > 0 && g.failNext.Add(-1) >= 0 {
		return ErrInjected
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submits.Add(1)
	return fn(g.device, g.queue)
}

// FailSubmit makes the next n calls to Submit fail with ErrInjected.
func (g *GPU) FailSubmit(n int) { g.failNext.Store(int32(n)) }

// Submits returns how many submissions ran.
func (g *GPU) Submits() int64 { return g.submits.Load() }
