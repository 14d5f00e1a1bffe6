// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package screencap

import (
	"errors"
	"time"
)

// Adapter turns a captured Frame into another representation, such as an
// image.Image, encoded bytes or a matrix. Adapters must not keep the Frame
// or its Data: the memory is reused by the next acquisition.
type Adapter[T any] interface {
	Convert(f *Frame) (T, error)
}

// AdapterFunc is a function used as an Adapter.
type AdapterFunc[T any] func(f *Frame) (T, error)

// Convert calls fn(f).
func (fn AdapterFunc[T]) Convert(f *Frame) (T, error) { return fn(f) }

// Convert acquires a frame with GetFrame and converts it with a.
func Convert[T any](c *Capture, a Adapter[T]) (T, error) {
	f, err := c.GetFrame()
	if err != nil {
		var zero T
		return zero, err
	}
	return a.Convert(f)
}

// WaitConvert acquires a frame with WaitFrame and converts it with a.
func WaitConvert[T any](c *Capture, a Adapter[T], timeout time.Duration) (T, error) {
	f, err := c.WaitFrame(timeout)
	if err != nil {
		var zero T
		return zero, err
	}
	return a.Convert(f)
}

// pollInterval is the pause between GetFrame attempts in Poll.
const pollInterval = 2 * time.Millisecond

// Poll calls GetFrame until it returns something other than ErrNoTexture or
// timeout elapses, in which case it returns ErrTimeout. Unlike WaitFrame it
// never blocks inside the session, so Close is not delayed.
func Poll(c *Capture, timeout time.Duration) (*Frame, error) {
	deadline := time.Now().Add(timeout)
	for {
		f, err := c.GetFrame()
		if !errors.Is(err, ErrNoTexture) {
			return f, err
		}
		if !time.Now().Before(deadline) {
			return nil, ErrTimeout
		}
		time.Sleep(pollInterval)
	}
}
