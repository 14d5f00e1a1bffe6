// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package screencap

import "errors"

// Errors returned by Device and Capture. Use errors.Is to test for them;
// most are wrapped with detail.
var (
	// ErrNoTexture means no new frame arrived since the last acquisition.
	// It is the normal "try again" signal of GetFrame.
	ErrNoTexture = errors.New("screencap: no new frame")

	// ErrTimeout means WaitFrame did not receive a frame in time.
	ErrTimeout = errors.New("screencap: timed out waiting for a frame")

	// ErrSourceInvalidated means the output was lost and the automatic rebind
	// failed. The session is Degraded until Rebind succeeds.
	ErrSourceInvalidated = errors.New("screencap: source invalidated")

	// ErrSessionClosed is returned by every acquisition after Close.
	ErrSessionClosed = errors.New("screencap: session closed")

	// ErrNoAdapter means no GPU adapter able to capture was found.
	ErrNoAdapter = errors.New("screencap: no GPU adapter")

	// ErrOutputUnavailable means the output selector matched no live output.
	ErrOutputUnavailable = errors.New("screencap: output unavailable")

	// ErrDriverError wraps failures reported by the GPU or compositor driver.
	ErrDriverError = errors.New("screencap: driver error")

	// ErrCopyFailed means the GPU-to-CPU copy of a frame failed.
	ErrCopyFailed = errors.New("screencap: frame copy failed")

	// ErrUnsupportedFormat means the driver delivered a texture that is not
	// 4-byte BGRA.
	ErrUnsupportedFormat = errors.New("screencap: unsupported pixel format")

	// ErrDeviceClosed is returned when a Device is used after its last
	// reference was released.
	ErrDeviceClosed = errors.New("screencap: device closed")

	// ErrStaleFrame is returned by Frame methods that copy data after the
	// frame's session moved on to another acquisition.
	ErrStaleFrame = errors.New("screencap: frame no longer valid")
)

// IsTransient reports whether err is an expected outcome of polling
// (ErrNoTexture or ErrTimeout) that the caller should simply retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNoTexture) || errors.Is(err, ErrTimeout)
}
