// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package screencap

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// AdapterInfo describes the GPU adapter behind a Device.
type AdapterInfo struct {
	Name       string
	DeviceType gputypes.DeviceType
	Backend    gputypes.Backend
}

// Device is a GPU device and its single queue, shared by capture sessions.
//
// A Device is reference counted. The creator holds one reference and every
// Capture holds another; the HAL device is destroyed when the last one is
// released. Command submission is serialized through Submit, so sessions on
// different goroutines can share one Device.
type Device struct {
	instance hal.Instance
	adapter  hal.Adapter
	device   hal.Device
	queue    hal.Queue
	owned    bool
	info     AdapterInfo

	// submitMu serializes use of the queue.
	submitMu sync.Mutex

	refMu      sync.Mutex
	refs       int
	userClosed bool
}

// DefaultDevice opens the first suitable GPU adapter, preferring discrete
// and then integrated GPUs.
//
// It returns ErrNoAdapter when no backend is linked in or no adapter is
// found, and ErrDriverError when the instance or device cannot be created.
func DefaultDevice(opts ...DeviceOption) (*Device, error) {
	o := defaultDeviceOptions()
	for _, opt := range opts {
		opt(&o)
	}

	var driverErr error
	for _, b := range o.backends {
		backend, ok := hal.GetBackend(b)
		if !ok {
			continue
		}
		instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
		if err != nil {
			if driverErr == nil {
				driverErr = fmt.Errorf("%w: create instance: %w", ErrDriverError, err)
			}
			continue
		}

		selected := selectAdapter(instance.EnumerateAdapters(nil), o.adapterName)
		if selected == nil {
			instance.Destroy()
			continue
		}

		openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
		if err != nil {
			instance.Destroy()
			if driverErr == nil {
				driverErr = fmt.Errorf("%w: open device %q: %w", ErrDriverError, selected.Info.Name, err)
			}
			continue
		}

		d := &Device{
			instance: instance,
			adapter:  selected.Adapter,
			device:   openDev.Device,
			queue:    openDev.Queue,
			owned:    true,
			refs:     1,
			info: AdapterInfo{
				Name:       selected.Info.Name,
				DeviceType: selected.Info.DeviceType,
				Backend:    b,
			},
		}
		Logger().Info("screencap: GPU adapter selected", "adapter", d.info.Name, "backend", b)
		return d, nil
	}

	if driverErr != nil {
		return nil, driverErr
	}
	return nil, ErrNoAdapter
}

func selectAdapter(adapters []hal.ExposedAdapter, name string) *hal.ExposedAdapter {
	var candidates []*hal.ExposedAdapter
	for i := range adapters {
		if name != "" && !strings.Contains(strings.ToLower(adapters[i].Info.Name), strings.ToLower(name)) {
			continue
		}
		candidates = append(candidates, &adapters[i])
	}
	if len(candidates) == 0 {
		return nil
	}
	for _, want := range []gputypes.DeviceType{gputypes.DeviceTypeDiscreteGPU, gputypes.DeviceTypeIntegratedGPU} {
		for _, a := range candidates {
			if a.Info.DeviceType == want {
				return a
			}
		}
	}
	return candidates[0]
}

// NewDevice wraps a device and queue owned by the caller, for example one
// shared with a gg or gogpu host. Closing the Device never destroys them.
func NewDevice(device hal.Device, queue hal.Queue) *Device {
	return &Device{
		device: device,
		queue:  queue,
		refs:   1,
	}
}

// Info returns the adapter description. Wrapped devices report a zero value.
func (d *Device) Info() AdapterInfo { return d.info }

// HalDevice returns the underlying hal.Device as any, so drivers and gg
// can share it through the HAL provider pattern.
func (d *Device) HalDevice() any { return d.device }

// HalQueue returns the underlying hal.Queue as any.
func (d *Device) HalQueue() any { return d.queue }

// Submit runs fn with exclusive use of the device queue. It fails with
// ErrDeviceClosed once the last reference is gone.
func (d *Device) Submit(fn func(device hal.Device, queue hal.Queue) error) error {
	d.submitMu.Lock()
	defer d.submitMu.Unlock()

	if d.device == nil {
		return ErrDeviceClosed
	}
	return fn(d.device, d.queue)
}

// retain adds a reference for a session. A Device closed by its creator
// accepts no new sessions.
func (d *Device) retain() error {
	d.refMu.Lock()
	defer d.refMu.Unlock()
	if d.refs == 0 || d.userClosed {
		return ErrDeviceClosed
	}
	d.refs++
	return nil
}

// release drops a reference and destroys the device on the last one.
func (d *Device) release() {
	d.refMu.Lock()
	d.refs--
	last := d.refs == 0
	d.refMu.Unlock()

	if last {
		d.destroy()
	}
}

func (d *Device) destroy() {
	d.submitMu.Lock()
	defer d.submitMu.Unlock()

	if d.owned {
		if d.device != nil {
			d.device.Destroy()
		}
		if d.instance != nil {
			d.instance.Destroy()
		}
		Logger().Debug("screencap: GPU device destroyed", "adapter", d.info.Name)
	}
	d.device = nil
	d.queue = nil
	d.adapter = nil
	d.instance = nil
}

// Close drops the creator's reference. Sessions still open keep the device
// alive until they are closed. Close is idempotent.
func (d *Device) Close() {
	d.refMu.Lock()
	if d.userClosed {
		d.refMu.Unlock()
		return
	}
	d.userClosed = true
	d.refMu.Unlock()
	d.release()
}

// refCount reports the live references.
func (d *Device) refCount() int {
	d.refMu.Lock()
	defer d.refMu.Unlock()
	return d.refs
}

// Device implements gpucontext.DeviceProvider so it can be handed to the
// rest of the gogpu ecosystem. The handles are the HAL objects themselves:
// consumers type-assert them to hal.Device, hal.Queue and hal.Adapter.

// Device returns the hal.Device, or nil once the Device is destroyed.
func (d *Device) Device() gpucontext.Device {
	if d.device == nil {
		return nil
	}
	return d.device
}

// Queue returns the hal.Queue, or nil once the Device is destroyed.
func (d *Device) Queue() gpucontext.Queue {
	if d.queue == nil {
		return nil
	}
	return d.queue
}

// Adapter returns the hal.Adapter the device was opened on. Devices from
// NewDevice have none and return nil.
func (d *Device) Adapter() gpucontext.Adapter {
	if d.adapter == nil {
		return nil
	}
	return d.adapter
}

// AdapterInfo reports the adapter name and class.
func (d *Device) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Name: d.info.Name, Type: adapterType(d.info.DeviceType, d.adapter != nil)}
}

func adapterType(t gputypes.DeviceType, known bool) gpucontext.AdapterType {
	if !known {
		return gpucontext.AdapterTypeUnknown
	}
	switch t {
	case gputypes.DeviceTypeDiscreteGPU:
		return gpucontext.AdapterTypeDiscrete
	case gputypes.DeviceTypeIntegratedGPU:
		return gpucontext.AdapterTypeIntegrated
	case gputypes.DeviceTypeCPU:
		return gpucontext.AdapterTypeSoftware
	default:
		return gpucontext.AdapterTypeUnknown
	}
}

// SurfaceFormat returns the format frames are delivered in.
func (d *Device) SurfaceFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatBGRA8Unorm
}

var _ gpucontext.DeviceProvider = (*Device)(nil)
