package gpu

import (
	"fmt"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Context owns the HAL device and queue the renderer works with, and
// carries the device loss flag. A context either acquires its own device
// from the first usable adapter or wraps a device supplied by the host
// application.
type Context struct {
	device hal.Device
	queue  hal.Queue

	// instance is non-nil only for self-acquired devices.
	instance hal.Instance

	adapterName string
	lost        atomic.Bool
	destroyed   atomic.Bool
}

// NewContext acquires a GPU device from the first discrete or integrated
// adapter exposed by the Vulkan backend.
func NewContext() (*Context, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("%w: vulkan backend not registered", ErrNoAdapter)
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}
	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("open device: %w", err)
	}
	slogger().Info("gpu: device acquired", "adapter", selected.Info.Name)
	return &Context{
		device:      openDev.Device,
		queue:       openDev.Queue,
		instance:    instance,
		adapterName: selected.Info.Name,
	}, nil
}

// NewContextWithDevice wraps an externally owned device and queue. The
// context never destroys them.
func NewContextWithDevice(device hal.Device, queue hal.Queue) *Context {
	return &Context{device: device, queue: queue}
}

// NewContextFromProvider extracts a HAL device and queue from a host
// device provider. The provider must implement HalDevice() any and
// HalQueue() any returning hal.Device and hal.Queue.
func NewContextFromProvider(provider any) (*Context, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("gpu: provider does not expose HAL device access")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok {
		return nil, fmt.Errorf("gpu: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok {
		return nil, fmt.Errorf("gpu: provider HalQueue is not hal.Queue")
	}
	return NewContextWithDevice(device, queue), nil
}

// Device returns the HAL device.
func (c *Context) Device() hal.Device { return c.device }

// Queue returns the HAL queue.
func (c *Context) Queue() hal.Queue { return c.queue }

// AdapterName returns the adapter name for self-acquired devices, or ""
// for wrapped ones.
func (c *Context) AdapterName() string { return c.adapterName }

// NotifyLost marks the device as lost. Subsequent GPU work fails with
// ErrDeviceLost; recovery requires tearing the engine down and
// reinitializing.
func (c *Context) NotifyLost() {
	if !c.lost.Swap(true) {
		slogger().Error("gpu: device lost")
	}
}

// Lost reports whether the device loss flag is set.
func (c *Context) Lost() bool { return c.lost.Load() }

// Destroy releases the device and instance if the context owns them.
// Idempotent.
func (c *Context) Destroy() {
	if c.destroyed.Swap(true) {
		return
	}
	if c.instance != nil {
		if c.device != nil {
			c.device.Destroy()
		}
		c.instance.Destroy()
	}
	c.device = nil
	c.queue = nil
	c.instance = nil
}
