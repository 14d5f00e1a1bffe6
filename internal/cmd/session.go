// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package cmd

import (
	"fmt"
	"time"

	"github.com/gogpu/screencap"
	"github.com/gogpu/screencap/compositor"
	"github.com/gogpu/screencap/compositor/virtual"
	"github.com/gogpu/screencap/internal/config"
)

// virtualInterval is the present rate of the virtual driver while a
// command runs.
const virtualInterval = time.Second / 60

// Hooks replaced by tests.
var (
	newDevice = func(cfg *config.Config) (*screencap.Device, error) {
		return screencap.DefaultDevice(screencap.WithAdapterName(cfg.Device.Adapter))
	}
	newCompositor = func(cfg *config.Config) (compositor.Compositor, error) {
		if cfg.Capture.Driver != "" {
			return compositor.New(cfg.Capture.Driver)
		}
		return compositor.Default()
	}
)

// env is the device and compositor shared by every session a command
// opens.
type env struct {
	cfg  *config.Config
	dev  *screencap.Device
	comp compositor.Compositor
	stop func()
}

func openEnv(cfg *config.Config) (*env, error) {
	comp, err := newCompositor(cfg)
	if err != nil {
		return nil, fmt.Errorf("select driver: %w", err)
	}
	dev, err := newDevice(cfg)
	if err != nil {
		return nil, fmt.Errorf("open device: %w", err)
	}
	e := &env{cfg: cfg, dev: dev, comp: comp, stop: func() {}}
	// The virtual driver only produces frames when presented.
	if v, ok := comp.(*virtual.Compositor); ok {
		v.Run(virtualInterval)
		e.stop = v.Stop
	}
	return e, nil
}

func (e *env) capture() (*screencap.Capture, error) {
	return screencap.NewCapture(e.dev,
		screencap.WithCompositor(e.comp),
		screencap.WithOutput(e.cfg.Capture.Selector()),
		screencap.WithCopyTimeout(e.cfg.Capture.CopyTimeout),
	)
}

func (e *env) close() {
	e.stop()
	e.dev.Close()
}
