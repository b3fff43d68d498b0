//go:build !nogpu

// Package gpu registers the Vulkan compute backend of the water table.
//
// Import it for its side effect to let sandbox.NewDevice(true) open a
// hardware device:
//
//	import _ "github.com/gogpu/sandbox/gpu"
//
// If no adapter can be opened, sandbox.NewDevice logs a warning and falls
// back to the software device.
//
// Applications that already own a GPU device (for example a gogpu
// window) share it through NewDeviceFromProvider.
package gpu

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/sandbox"
	"github.com/gogpu/sandbox/gpucore"
	gpuimpl "github.com/gogpu/sandbox/internal/gpu"
)

// ErrNoHAL is returned for providers that do not expose their HAL device.
var ErrNoHAL = errors.New("gpu: provider does not expose HAL types")

type backend struct{}

func (backend) Name() string { return "vulkan" }

func (backend) NewDevice() (gpucore.Device, error) { return NewDevice() }

func (backend) SetLogger(l *slog.Logger) { gpuimpl.SetLogger(l) }

func init() {
	if err := sandbox.RegisterBackend(backend{}); err != nil {
		sandbox.Logger().Warn("GPU backend not registered", "err", err)
	}
}

// NewDevice opens a device on the best Vulkan adapter.
func NewDevice() (gpucore.Device, error) {
	d, err := gpuimpl.Open()
	if err != nil {
		return nil, err
	}
	return d, nil
}

// NewDeviceFromProvider runs the water table on a device owned by the
// host application. The provider must also implement HalDevice() any and
// HalQueue() any returning hal.Device and hal.Queue. Closing the returned
// device releases only what the water table created.
func NewDeviceFromProvider(provider gpucontext.DeviceProvider) (gpucore.Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrNoHAL
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is not hal.Device", ErrNoHAL)
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is not hal.Queue", ErrNoHAL)
	}
	name := "shared"
	if info := provider.AdapterInfo(); info.Name != "" {
		name = info.Name
	}
	d, err := gpuimpl.NewFromHAL(device, queue, name)
	if err != nil {
		return nil, err
	}
	return d, nil
}
