//go:build !nogpu

package gpu

import (
	"errors"
	"testing"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/sandbox/gpucore"
	"github.com/gogpu/sandbox/internal/kernels"
)

func createNoopDevice(t *testing.T) (hal.Device, hal.Queue, func()) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
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

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	d, err := OpenBackend(noop.API{})
	if err != nil {
		t.Fatalf("OpenBackend: %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

func mustTexture(t *testing.T, d *Device, w, h int, format gpucore.TextureFormat, fill ...float32) gpucore.TextureID {
	t.Helper()
	desc := &gpucore.TextureDesc{Label: "test", Width: w, Height: h, Format: format}
	copy(desc.Fill[:], fill)
	id, err := d.CreateTexture(desc)
	if err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}
	return id
}

// contents maps the storage buffer of a texture. The noop backend keeps
// buffer data in memory, so this shows exactly what was uploaded.
func contents(t *testing.T, d *Device, id gpucore.TextureID) []float32 {
	t.Helper()
	tex := d.textures[id]
	m, err := d.device.MapBuffer(tex.buf, 0, tex.size())
	if err != nil {
		t.Fatalf("MapBuffer: %v", err)
	}
	out := make([]float32, tex.width*tex.height*4)
	unpackTexels(out, unsafe.Slice((*byte)(m.Ptr), tex.size()), 4)
	return out
}

func mustProgram(t *testing.T, d *Device, k kernels.Kind) gpucore.ProgramID {
	t.Helper()
	id, err := kernels.Create(d, k)
	if err != nil {
		t.Fatalf("Create %s: %v", k, err)
	}
	return id
}

func TestOpenBackend(t *testing.T) {
	d := newTestDevice(t)
	if d.Name() != "gpu: Noop Adapter" {
		t.Errorf("Name() = %q", d.Name())
	}
	if d.MaxTextureUnits() != DefaultTextureUnits {
		t.Errorf("MaxTextureUnits() = %d", d.MaxTextureUnits())
	}
	if d.external {
		t.Error("device opened by the package marked external")
	}
}

func TestNewFromHAL(t *testing.T) {
	device, queue, cleanup := createNoopDevice(t)
	defer cleanup()

	d, err := NewFromHAL(device, queue, "shared")
	if err != nil {
		t.Fatal(err)
	}
	if !d.external {
		t.Error("shared device not marked external")
	}
	d.Close()
	d.Close()

	if _, err := NewFromHAL(nil, queue, "x"); err == nil {
		t.Error("NewFromHAL accepted a nil device")
	}
}

func TestTextureUpload(t *testing.T) {
	d := newTestDevice(t)
	id := mustTexture(t, d, 3, 2, gpucore.TextureFormatRGBA32Float, 1, 2, 3, 4)
	for i, v := range contents(t, d, id) {
		if want := float32(i%4 + 1); v != want {
			t.Fatalf("value %d = %v, want %v", i, v, want)
		}
	}

	rg := mustTexture(t, d, 2, 2, gpucore.TextureFormatRG32Float)
	if err := d.WriteTexture(rg, []float32{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
		t.Fatal(err)
	}
	want := []float32{1, 2, 0, 0, 3, 4, 0, 0, 5, 6, 0, 0, 7, 8, 0, 0}
	got := contents(t, d, rg)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("packed = %v, want %v", got, want)
		}
	}
	if err := d.WriteTexture(rg, make([]float32, 3)); !errors.Is(err, gpucore.ErrSizeMismatch) {
		t.Errorf("short write error = %v, want ErrSizeMismatch", err)
	}
}

func TestClearRegion(t *testing.T) {
	d := newTestDevice(t)
	id := mustTexture(t, d, 4, 3, gpucore.TextureFormatR32Float)
	if err := d.ClearTexture(id, gpucore.Rect{X: 1, Y: 1, W: 2, H: 5}, [4]float32{9}); err != nil {
		t.Fatal(err)
	}
	got := contents(t, d, id)
	for y := range 3 {
		for x := range 4 {
			want := float32(0)
			if x >= 1 && x < 3 && y >= 1 {
				want = 9
			}
			if v := got[(y*4+x)*4]; v != want {
				t.Errorf("texel (%d,%d) = %v, want %v", x, y, v, want)
			}
		}
	}
}

func TestReadTexture(t *testing.T) {
	d := newTestDevice(t)
	id := mustTexture(t, d, 4, 4, gpucore.TextureFormatRG32Float, 1, 2)

	// Copies are not executed by the noop backend; only the bookkeeping
	// is checked here.
	dst := make([]float32, 2*2*2)
	if err := d.ReadTexture(id, gpucore.Rect{X: 1, Y: 2, W: 2, H: 2}, dst); err != nil {
		t.Fatal(err)
	}
	if d.submission == 0 {
		t.Error("readback was not submitted")
	}
	if err := d.ReadTexture(id, gpucore.Rect{}, dst); !errors.Is(err, gpucore.ErrSizeMismatch) {
		t.Errorf("short read error = %v, want ErrSizeMismatch", err)
	}
	if err := d.ReadTexture(99, gpucore.Rect{}, dst); !errors.Is(err, gpucore.ErrUnknownTexture) {
		t.Errorf("unknown texture error = %v", err)
	}
}

func TestCreateAllPrograms(t *testing.T) {
	d := newTestDevice(t)
	for k := kernels.Kind(0); k < kernels.KindCount; k++ {
		id := mustProgram(t, d, k)
		p := d.programs[id]
		if p.pipeline == nil || p.bindLayout == nil {
			t.Errorf("%s: incomplete program", k)
		}
		if p.bindings() > int(d.limits.MaxStorageBuffersPerShaderStage) {
			t.Errorf("%s: %d bindings", k, p.bindings())
		}
	}
}

func TestProgramErrors(t *testing.T) {
	d := newTestDevice(t)
	tests := []struct {
		name string
		desc gpucore.ProgramDesc
	}{
		{"no source", gpucore.ProgramDesc{Label: "a", Outputs: 1}},
		{"no targets", gpucore.ProgramDesc{Label: "b", WGSL: "x"}},
		{"too many inputs", gpucore.ProgramDesc{Label: "c", WGSL: "x", Inputs: kernels.MaxInputs + 1, Outputs: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.CreateProgram(&tt.desc)
			var pe *gpucore.ProgramError
			if !errors.As(err, &pe) || pe.Label != tt.desc.Label {
				t.Errorf("error = %v, want ProgramError for %q", err, tt.desc.Label)
			}
		})
	}

	d.limits.MaxStorageBuffersPerShaderStage = 4
	desc, err := kernels.Desc(kernels.RungeKuttaEngineering)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.CreateProgram(desc); err == nil {
		t.Error("program exceeding the storage buffer limit was built")
	}
}

func TestDispatch(t *testing.T) {
	d := newTestDevice(t)
	prog := mustProgram(t, d, kernels.Boundary)
	src := mustTexture(t, d, 20, 10, gpucore.TextureFormatRGBA32Float)
	dst := mustTexture(t, d, 20, 10, gpucore.TextureFormatRGBA32Float)
	d.SetFilterMode(src, gpucore.FilterLinear)
	if err := d.BindTexture(3, src); err != nil {
		t.Fatal(err)
	}

	pass := &gpucore.Pass{
		Label:   "boundary",
		Program: prog,
		Inputs:  []int{3},
		Targets: []gpucore.TextureID{dst},
		Region:  gpucore.Rect{X: 2, Y: 1, W: 17, H: 3},
		Blend:   gpucore.BlendAdd,
		Params:  []float32{0.5, 0.25},
	}
	before := d.submission
	if err := d.Dispatch(pass); err != nil {
		t.Fatal(err)
	}
	if d.submission == before {
		t.Error("pass was not submitted")
	}

	m, err := d.device.MapBuffer(d.dims, 0, 3*16)
	if err != nil {
		t.Fatal(err)
	}
	dims := unsafe.Slice((*uint32)(m.Ptr), 12)
	want := []uint32{2, 1, 17, 3, 20, 10, 1, 0, 20, 10, 1, 0}
	for i := range want {
		if dims[i] != want[i] {
			t.Fatalf("dims = %v, want %v", dims, want)
		}
	}
	m, err = d.device.MapBuffer(d.params, 0, 8)
	if err != nil {
		t.Fatal(err)
	}
	if p := unsafe.Slice((*float32)(m.Ptr), 2); p[0] != 0.5 || p[1] != 0.25 {
		t.Errorf("params = %v", p)
	}
}

func TestDispatchGrowsParams(t *testing.T) {
	d := newTestDevice(t)
	prog := mustProgram(t, d, kernels.AddConstant)
	dst := mustTexture(t, d, 4, 4, gpucore.TextureFormatR32Float)
	params := make([]float32, 40)
	params[39] = 7
	if err := d.Dispatch(&gpucore.Pass{Program: prog, Targets: []gpucore.TextureID{dst}, Params: params}); err != nil {
		t.Fatal(err)
	}
	if d.paramsCap < 160 {
		t.Errorf("params capacity %d, want at least 160", d.paramsCap)
	}
}

func TestDispatchErrors(t *testing.T) {
	d := newTestDevice(t)
	prog := mustProgram(t, d, kernels.Boundary)
	a := mustTexture(t, d, 4, 4, gpucore.TextureFormatRGBA32Float)
	b := mustTexture(t, d, 4, 4, gpucore.TextureFormatRGBA32Float)
	if err := d.BindTexture(0, a); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		pass gpucore.Pass
		want error
	}{
		{"aliased", gpucore.Pass{Program: prog, Inputs: []int{0}, Targets: []gpucore.TextureID{a}}, gpucore.ErrAliasedTarget},
		{"unknown program", gpucore.Pass{Program: 99, Inputs: []int{0}, Targets: []gpucore.TextureID{b}}, gpucore.ErrUnknownProgram},
		{"bad unit", gpucore.Pass{Program: prog, Inputs: []int{DefaultTextureUnits}, Targets: []gpucore.TextureID{b}}, gpucore.ErrNoTextureUnits},
		{"unknown target", gpucore.Pass{Program: prog, Inputs: []int{0}, Targets: []gpucore.TextureID{99}}, gpucore.ErrUnknownTexture},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := d.Dispatch(&tt.pass); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}

	if err := d.Dispatch(&gpucore.Pass{Program: prog, Targets: []gpucore.TextureID{b}}); err == nil {
		t.Error("pass with missing inputs accepted")
	}
}

func TestDestroyUnbinds(t *testing.T) {
	d := newTestDevice(t)
	id := mustTexture(t, d, 2, 2, gpucore.TextureFormatR32Float)
	if err := d.BindTexture(1, id); err != nil {
		t.Fatal(err)
	}
	d.DestroyTexture(id)
	if d.units[1] != gpucore.InvalidID {
		t.Error("destroyed texture still bound")
	}
	if w, h := d.TextureSize(id); w != 0 || h != 0 {
		t.Errorf("TextureSize after destroy = %dx%d", w, h)
	}
}

func TestClosedDevice(t *testing.T) {
	d, err := OpenBackend(noop.API{})
	if err != nil {
		t.Fatal(err)
	}
	d.Close()
	if _, err := d.CreateTexture(&gpucore.TextureDesc{Width: 1, Height: 1, Format: gpucore.TextureFormatR32Float}); !errors.Is(err, gpucore.ErrClosed) {
		t.Errorf("CreateTexture after Close = %v", err)
	}
	if _, err := d.CreateProgram(&gpucore.ProgramDesc{}); !errors.Is(err, gpucore.ErrClosed) {
		t.Errorf("CreateProgram after Close = %v", err)
	}
	if err := d.Dispatch(&gpucore.Pass{}); !errors.Is(err, gpucore.ErrClosed) {
		t.Errorf("Dispatch after Close = %v", err)
	}
}

func TestCompileWGSL(t *testing.T) {
	src, err := kernels.Source(kernels.AddConstant)
	if err != nil {
		t.Fatal(err)
	}
	words, err := compileWGSL(src)
	if err != nil {
		t.Skipf("naga: %v", err)
	}
	if words[0] != spirvMagic {
		t.Errorf("first word %#08x", words[0])
	}
	if s := shaderSource("broken", "not wgsl"); s.WGSL != "not wgsl" || s.SPIRV != nil {
		t.Errorf("invalid source not passed through as WGSL")
	}
}
