// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package screencap

import (
	"log/slog"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/screencap/compositor"
)

// DeviceOption configures DefaultDevice.
type DeviceOption func(*deviceOptions)

type deviceOptions struct {
	backends    []gputypes.Backend
	adapterName string
}

func defaultDeviceOptions() deviceOptions {
	return deviceOptions{
		backends: []gputypes.Backend{gputypes.BackendVulkan},
	}
}

// WithBackends sets the HAL backends DefaultDevice tries, in order.
// A backend is only available when its package is linked in.
func WithBackends(backends ...gputypes.Backend) DeviceOption {
	return func(o *deviceOptions) {
		if len(backends) > 0 {
			o.backends = backends
		}
	}
}

// WithAdapterName restricts DefaultDevice to adapters whose name contains
// name, case-insensitively.
func WithAdapterName(name string) DeviceOption {
	return func(o *deviceOptions) {
		o.adapterName = name
	}
}

// Option configures a Capture.
//
// Example:
//
//	c, err := screencap.NewCapture(dev,
//	    screencap.WithDisplay(1),
//	    screencap.WithCopyTimeout(time.Second))
type Option func(*options)

type options struct {
	comp        compositor.Compositor
	compName    string
	selector    compositor.Selector
	copyTimeout time.Duration
	logger      *slog.Logger
}

func defaultOptions() options {
	return options{selector: compositor.Primary()}
}

// WithCompositor captures from c instead of the registry default.
func WithCompositor(c compositor.Compositor) Option {
	return func(o *options) {
		o.comp = c
	}
}

// WithCompositorName captures from the compositor registered under name.
func WithCompositorName(name string) Option {
	return func(o *options) {
		o.compName = name
	}
}

// WithOutput selects the output to capture. The default is the primary
// output.
func WithOutput(sel compositor.Selector) Option {
	return func(o *options) {
		o.selector = sel
	}
}

// WithDisplay selects the output at index.
func WithDisplay(index int) Option {
	return WithOutput(compositor.Display(index))
}

// WithWindow selects the first output whose name contains title.
func WithWindow(title string) Option {
	return WithOutput(compositor.Named(title))
}

// WithCopyTimeout bounds how long one GPU-to-CPU copy may take.
func WithCopyTimeout(d time.Duration) Option {
	return func(o *options) {
		o.copyTimeout = d
	}
}

// WithLogger sets the session logger. The default is Logger().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}
