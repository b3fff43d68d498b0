//go:build !nogpu

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	_ "github.com/gogpu/wgpu/hal/vulkan" // registers the Vulkan backend

	"github.com/gogpu/sandbox/gpucore"
	"github.com/gogpu/sandbox/internal/kernels"
)

// DefaultTextureUnits is the number of texture units a pass may bind.
const DefaultTextureUnits = 16

// ErrNoAdapter is returned when the backend exposes no adapter.
var ErrNoAdapter = errors.New("gpu: no adapter found")

// Device is a gpucore.Device running programs as compute pipelines.
type Device struct {
	mu       sync.Mutex
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
	name     string
	limits   gputypes.Limits
	external bool

	textures map[gpucore.TextureID]*texture
	programs map[gpucore.ProgramID]*program
	units    []gpucore.TextureID
	nextID   uint64

	// params and dims are rewritten by every dispatch. Dispatch waits
	// for the queue, so one pair of buffers serves all passes.
	params    hal.Buffer
	paramsCap uint64
	dims      hal.Buffer
	scratch   []byte

	submission uint64
	closed     bool
}

var _ gpucore.Device = (*Device)(nil)

// Open opens a device on the best Vulkan adapter.
func Open() (*Device, error) {
	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, errors.New("gpu: vulkan backend not available")
	}
	return OpenBackend(backend)
}

// OpenBackend opens a device on the best adapter of backend, preferring
// discrete and integrated GPUs.
func OpenBackend(backend hal.Backend) (*Device, error) {
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{})
	if err != nil {
		return nil, fmt.Errorf("gpu: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, ErrNoAdapter
	}
	selected := &adapters[0]
	for i := range adapters {
		if t := adapters[i].Info.DeviceType; t == gputypes.DeviceTypeDiscreteGPU || t == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}

	limits := gputypes.DefaultLimits()
	open, err := selected.Adapter.Open(gputypes.Features(0), limits)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("gpu: open %q: %w", selected.Info.Name, err)
	}
	name := selected.Info.Name
	if name == "" {
		name = backend.Variant().String()
	}
	d, err := newDevice(open.Device, open.Queue, name, limits)
	if err != nil {
		open.Device.Destroy()
		instance.Destroy()
		return nil, err
	}
	d.instance = instance
	slogger().Info("gpu: device opened", "adapter", name, "type", selected.Info.DeviceType)
	return d, nil
}

// NewFromHAL wraps a device and queue owned by the caller. Close releases
// everything the Device created but leaves dev and queue open.
func NewFromHAL(dev hal.Device, queue hal.Queue, name string) (*Device, error) {
	if dev == nil || queue == nil {
		return nil, errors.New("gpu: nil device or queue")
	}
	d, err := newDevice(dev, queue, name, gputypes.DefaultLimits())
	if err != nil {
		return nil, err
	}
	d.external = true
	slogger().Info("gpu: using shared device", "name", name)
	return d, nil
}

func newDevice(dev hal.Device, queue hal.Queue, name string, limits gputypes.Limits) (*Device, error) {
	d := &Device{
		device:   dev,
		queue:    queue,
		name:     name,
		limits:   limits,
		textures: make(map[gpucore.TextureID]*texture),
		programs: make(map[gpucore.ProgramID]*program),
		units:    make([]gpucore.TextureID, DefaultTextureUnits),
	}
	var err error
	d.dims, err = d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "dims",
		Size:  (2 + kernels.MaxInputs) * 16,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("gpu: create dims buffer: %w", err)
	}
	if err := d.growParams(64); err != nil {
		d.device.DestroyBuffer(d.dims)
		return nil, err
	}
	return d, nil
}

// growParams makes the params buffer hold at least n bytes.
func (d *Device) growParams(n uint64) error {
	if n <= d.paramsCap {
		return nil
	}
	size := max(n, 2*d.paramsCap)
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "params",
		Size:  size,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("gpu: create params buffer: %w", err)
	}
	if d.params != nil {
		d.device.DestroyBuffer(d.params)
	}
	d.params, d.paramsCap = buf, size
	return nil
}

func (d *Device) Name() string { return "gpu: " + d.name }

func (d *Device) MaxTextureUnits() int { return len(d.units) }

func (d *Device) id() uint64 {
	d.nextID++
	return d.nextID
}

func (d *Device) lookup(id gpucore.TextureID) (*texture, error) {
	t, ok := d.textures[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", gpucore.ErrUnknownTexture, id)
	}
	return t, nil
}

func (d *Device) CreateTexture(desc *gpucore.TextureDesc) (gpucore.TextureID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrClosed
	}
	if desc.Width <= 0 || desc.Height <= 0 {
		return gpucore.InvalidID, fmt.Errorf("gpu: texture %q: invalid size %dx%d", desc.Label, desc.Width, desc.Height)
	}
	if desc.Format.Channels() == 0 {
		return gpucore.InvalidID, fmt.Errorf("gpu: texture %q: unsupported format %v", desc.Label, desc.Format)
	}
	t := &texture{label: desc.Label, width: desc.Width, height: desc.Height, format: desc.Format}
	if limit := d.limits.MaxStorageBufferBindingSize; t.size() > limit {
		return gpucore.InvalidID, fmt.Errorf("gpu: texture %q: %d bytes exceed binding limit %d", desc.Label, t.size(), limit)
	}

	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  t.size(),
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("gpu: texture %q: %w", desc.Label, err)
	}
	t.buf = buf
	if err := d.fill(t, gpucore.Rect{W: t.width, H: t.height}, desc.Fill); err != nil {
		d.device.DestroyBuffer(buf)
		return gpucore.InvalidID, fmt.Errorf("gpu: texture %q: %w", desc.Label, err)
	}

	id := gpucore.TextureID(d.id())
	d.textures[id] = t
	return id, nil
}

func (d *Device) DestroyTexture(id gpucore.TextureID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.textures[id]
	if !ok {
		return
	}
	delete(d.textures, id)
	for i, u := range d.units {
		if u == id {
			d.units[i] = gpucore.InvalidID
		}
	}
	d.device.DestroyBuffer(t.buf)
}

func (d *Device) TextureSize(id gpucore.TextureID) (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.textures[id]
	if !ok {
		return 0, 0
	}
	return t.width, t.height
}

func (d *Device) WriteTexture(id gpucore.TextureID, data []float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.lookup(id)
	if err != nil {
		return err
	}
	ch := t.format.Channels()
	if len(data) != t.width*t.height*ch {
		return fmt.Errorf("%w: write %d values into %q (%dx%dx%d)",
			gpucore.ErrSizeMismatch, len(data), t.label, t.width, t.height, ch)
	}
	b := d.buffer(int(t.size()))
	packTexels(b, data, ch)
	if err := d.queue.WriteBuffer(t.buf, 0, b); err != nil {
		return fmt.Errorf("gpu: write %q: %w", t.label, err)
	}
	return nil
}

// buffer returns a scratch slice of n bytes.
func (d *Device) buffer(n int) []byte {
	if cap(d.scratch) < n {
		d.scratch = make([]byte, n)
	}
	return d.scratch[:n]
}

func (d *Device) ClearTexture(id gpucore.TextureID, r gpucore.Rect, value [4]float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.lookup(id)
	if err != nil {
		return err
	}
	return d.fill(t, r.Resolve(t.width, t.height), value)
}

func (d *Device) fill(t *texture, r gpucore.Rect, v [4]float32) error {
	if r.Empty() {
		return nil
	}
	if r.X == 0 && r.W == t.width {
		return d.queue.WriteBuffer(t.buf, t.offset(0, r.Y), fillRow(r.W*r.H, v))
	}
	row := fillRow(r.W, v)
	for y := r.Y; y < r.Y+r.H; y++ {
		if err := d.queue.WriteBuffer(t.buf, t.offset(r.X, y), row); err != nil {
			return err
		}
	}
	return nil
}

// ReadTexture copies the rows covering r into a staging buffer, waits for
// the copy and extracts the texels of r.
func (d *Device) ReadTexture(id gpucore.TextureID, r gpucore.Rect, dst []float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.lookup(id)
	if err != nil {
		return err
	}
	r = r.Resolve(t.width, t.height)
	ch := t.format.Channels()
	if len(dst) != r.W*r.H*ch {
		return fmt.Errorf("%w: read %dx%dx%d from %q into %d values",
			gpucore.ErrSizeMismatch, r.W, r.H, ch, t.label, len(dst))
	}
	if r.Empty() {
		return nil
	}

	size := uint64(r.H*t.width) * texelSize
	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: t.label + "_readback",
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("gpu: read %q: %w", t.label, err)
	}
	defer d.device.DestroyBuffer(staging)

	err = d.submit(t.label+"_readback", func(enc hal.CommandEncoder) {
		enc.CopyBufferToBuffer(t.buf, staging, []hal.BufferCopy{{
			SrcOffset: t.offset(0, r.Y),
			Size:      size,
		}})
	})
	if err != nil {
		return fmt.Errorf("gpu: read %q: %w", t.label, err)
	}

	m, err := d.device.MapBuffer(staging, 0, size)
	if err != nil {
		return fmt.Errorf("gpu: map %q: %w", t.label, err)
	}
	rows := unsafe.Slice((*byte)(m.Ptr), size)
	for y := range r.H {
		src := rows[(y*t.width+r.X)*texelSize:]
		unpackTexels(dst[y*r.W*ch:(y+1)*r.W*ch], src, ch)
	}
	return d.device.UnmapBuffer(staging)
}

func (d *Device) SetFilterMode(id gpucore.TextureID, mode gpucore.FilterMode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.textures[id]; ok {
		t.filter = mode
	}
}

func (d *Device) BindTexture(unit int, id gpucore.TextureID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if unit < 0 || unit >= len(d.units) {
		return fmt.Errorf("%w: unit %d", gpucore.ErrNoTextureUnits, unit)
	}
	if _, err := d.lookup(id); err != nil {
		return err
	}
	d.units[unit] = id
	return nil
}

func (d *Device) CreateProgram(desc *gpucore.ProgramDesc) (gpucore.ProgramID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrClosed
	}
	p, err := d.buildProgram(desc)
	if err != nil {
		return gpucore.InvalidID, &gpucore.ProgramError{Label: desc.Label, Err: err}
	}
	id := gpucore.ProgramID(d.id())
	d.programs[id] = p
	slogger().Debug("gpu: program built", "program", desc.Label, "bindings", p.bindings())
	return id, nil
}

func (d *Device) DestroyProgram(id gpucore.ProgramID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.programs[id]; ok {
		delete(d.programs, id)
		p.destroy(d.device)
	}
}

// binding is a validated pass.
type binding struct {
	prog    *program
	inputs  []*texture
	targets []*texture
	region  gpucore.Rect
}

func (d *Device) prepare(pass *gpucore.Pass) (*binding, error) {
	if d.closed {
		return nil, gpucore.ErrClosed
	}
	prog, ok := d.programs[pass.Program]
	if !ok {
		return nil, fmt.Errorf("%w: %d (pass %q)", gpucore.ErrUnknownProgram, pass.Program, pass.Label)
	}
	if len(pass.Inputs) != prog.inputs || len(pass.Targets) != prog.outputs {
		return nil, fmt.Errorf("gpu: pass %q: program %q takes %d inputs and %d targets, got %d and %d",
			pass.Label, prog.label, prog.inputs, prog.outputs, len(pass.Inputs), len(pass.Targets))
	}

	b := &binding{
		prog:    prog,
		inputs:  make([]*texture, len(pass.Inputs)),
		targets: make([]*texture, len(pass.Targets)),
	}
	targets := make(map[gpucore.TextureID]bool, len(pass.Targets))
	for i, id := range pass.Targets {
		t, err := d.lookup(id)
		if err != nil {
			return nil, fmt.Errorf("gpu: pass %q target %d: %w", pass.Label, i, err)
		}
		if i > 0 && (t.width != b.targets[0].width || t.height != b.targets[0].height) {
			return nil, fmt.Errorf("%w: pass %q target %d is %dx%d, want %dx%d",
				gpucore.ErrSizeMismatch, pass.Label, i, t.width, t.height, b.targets[0].width, b.targets[0].height)
		}
		targets[id] = true
		b.targets[i] = t
	}
	for i, unit := range pass.Inputs {
		if unit < 0 || unit >= len(d.units) {
			return nil, fmt.Errorf("%w: pass %q input unit %d", gpucore.ErrNoTextureUnits, pass.Label, unit)
		}
		id := d.units[unit]
		if targets[id] {
			return nil, fmt.Errorf("%w: pass %q unit %d", gpucore.ErrAliasedTarget, pass.Label, unit)
		}
		t, err := d.lookup(id)
		if err != nil {
			return nil, fmt.Errorf("gpu: pass %q input %d: %w", pass.Label, i, err)
		}
		b.inputs[i] = t
	}
	b.region = pass.Region.Resolve(b.targets[0].width, b.targets[0].height)
	return b, nil
}

// Dispatch records the pass into one command buffer, submits it and
// waits until the queue is idle.
func (d *Device) Dispatch(pass *gpucore.Pass) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, err := d.prepare(pass)
	if err != nil {
		return err
	}
	if b.region.Empty() {
		return nil
	}
	if err := d.writeUniforms(pass, b); err != nil {
		return fmt.Errorf("gpu: pass %q: %w", pass.Label, err)
	}

	entries := make([]gputypes.BindGroupEntry, 0, b.prog.bindings())
	bindBuffer := func(buf hal.Buffer) {
		entries = append(entries, gputypes.BindGroupEntry{
			Binding:  uint32(len(entries)),
			Resource: gputypes.BufferBinding{Buffer: buf.NativeHandle()},
		})
	}
	bindBuffer(d.params)
	bindBuffer(d.dims)
	for _, t := range b.inputs {
		bindBuffer(t.buf)
	}
	for _, t := range b.targets {
		bindBuffer(t.buf)
	}
	group, err := d.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   pass.Label,
		Layout:  b.prog.bindLayout,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("gpu: pass %q: bind group: %w", pass.Label, err)
	}
	defer d.device.DestroyBindGroup(group)

	groupsX := uint32((b.region.W + kernels.WorkgroupSize - 1) / kernels.WorkgroupSize)
	groupsY := uint32((b.region.H + kernels.WorkgroupSize - 1) / kernels.WorkgroupSize)
	err = d.submit(pass.Label, func(enc hal.CommandEncoder) {
		cp := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: pass.Label})
		cp.SetPipeline(b.prog.pipeline)
		cp.SetBindGroup(0, group, nil)
		cp.Dispatch(groupsX, groupsY, 1)
		cp.End()
	})
	if err != nil {
		return fmt.Errorf("gpu: pass %q: %w", pass.Label, err)
	}
	slogger().Debug("gpu: dispatch", "pass", pass.Label, "program", b.prog.label,
		"region", b.region, "groups", [2]uint32{groupsX, groupsY})
	return nil
}

// writeUniforms uploads the pass parameters and the dims table.
func (d *Device) writeUniforms(pass *gpucore.Pass, b *binding) error {
	n := max(len(pass.Params), 1)
	if err := d.growParams(uint64(4 * n)); err != nil {
		return err
	}
	params := d.buffer(4 * n)
	clear(params)
	putFloats(params, pass.Params)
	if err := d.queue.WriteBuffer(d.params, 0, params); err != nil {
		return fmt.Errorf("params: %w", err)
	}

	dims := make([]uint32, 4*(2+len(b.inputs)))
	r := b.region
	copy(dims, []uint32{uint32(r.X), uint32(r.Y), uint32(r.W), uint32(r.H)})
	dims[4], dims[5] = uint32(b.targets[0].width), uint32(b.targets[0].height)
	if pass.Blend == gpucore.BlendAdd {
		dims[6] = 1
	}
	for i, t := range b.inputs {
		dims[8+4*i], dims[9+4*i] = uint32(t.width), uint32(t.height)
		if t.filter == gpucore.FilterLinear {
			dims[10+4*i] = 1
		}
	}
	raw := make([]byte, 4*len(dims))
	for i, v := range dims {
		binary.LittleEndian.PutUint32(raw[4*i:], v)
	}
	if err := d.queue.WriteBuffer(d.dims, 0, raw); err != nil {
		return fmt.Errorf("dims: %w", err)
	}
	return nil
}

// submit encodes one command buffer with record, submits it and waits
// for the device to go idle.
func (d *Device) submit(label string, record func(enc hal.CommandEncoder)) error {
	enc, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return fmt.Errorf("command encoder: %w", err)
	}
	if err := enc.BeginEncoding(label); err != nil {
		return fmt.Errorf("begin encoding: %w", err)
	}
	record(enc)
	cmd, err := enc.EndEncoding()
	if err != nil {
		return fmt.Errorf("end encoding: %w", err)
	}
	defer d.device.FreeCommandBuffer(cmd)

	idx, err := d.queue.Submit([]hal.CommandBuffer{cmd})
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	d.submission = idx
	if err := d.device.WaitIdle(); err != nil {
		return fmt.Errorf("wait: %w", err)
	}
	return nil
}

// Close destroys every texture, program and buffer. A device opened by
// this package is destroyed as well.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	if err := d.device.WaitIdle(); err != nil {
		slogger().Warn("gpu: wait before close", "err", err)
	}
	for id, p := range d.programs {
		p.destroy(d.device)
		delete(d.programs, id)
	}
	for id, t := range d.textures {
		d.device.DestroyBuffer(t.buf)
		delete(d.textures, id)
	}
	d.device.DestroyBuffer(d.params)
	d.device.DestroyBuffer(d.dims)
	d.params, d.dims = nil, nil

	if !d.external {
		d.device.Destroy()
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	d.device, d.queue, d.instance = nil, nil, nil
}
