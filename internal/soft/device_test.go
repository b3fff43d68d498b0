package soft

import (
	"errors"
	"testing"

	"github.com/gogpu/sandbox/gpucore"
)

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	d := New(WithWorkers(2))
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

// copyKernel writes input 0 plus params[0] into target 0.
func copyKernel(inv *gpucore.Invocation, y, x0, x1 int) {
	for x := x0; x < x1; x++ {
		v := inv.Inputs[0].Fetch(x, y)
		v[0] += inv.Param(0)
		inv.Targets[0].Store(x, y, v)
	}
}

func mustProgram(t *testing.T, d *Device) gpucore.ProgramID {
	t.Helper()
	id, err := d.CreateProgram(&gpucore.ProgramDesc{Label: "copy", Kernel: copyKernel, Inputs: 1, Outputs: 1})
	if err != nil {
		t.Fatalf("CreateProgram: %v", err)
	}
	return id
}

func TestTextureFillAndRead(t *testing.T) {
	d := newTestDevice(t)
	id := mustTexture(t, d, 3, 2, gpucore.TextureFormatRGBA32Float, 1, 2, 3, 4)

	got := make([]float32, 3*2*4)
	if err := d.ReadTexture(id, gpucore.Rect{}, got); err != nil {
		t.Fatalf("ReadTexture: %v", err)
	}
	for i, v := range got {
		if want := float32(i%4 + 1); v != want {
			t.Fatalf("value %d = %v, want %v", i, v, want)
		}
	}
}

func TestWriteReadChannels(t *testing.T) {
	d := newTestDevice(t)
	id := mustTexture(t, d, 2, 2, gpucore.TextureFormatRG32Float)

	data := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	if err := d.WriteTexture(id, data); err != nil {
		t.Fatalf("WriteTexture: %v", err)
	}
	got := make([]float32, 2)
	if err := d.ReadTexture(id, gpucore.Rect{X: 1, Y: 1, W: 1, H: 1}, got); err != nil {
		t.Fatalf("ReadTexture: %v", err)
	}
	if got[0] != 7 || got[1] != 8 {
		t.Errorf("texel (1,1) = %v, want [7 8]", got)
	}

	if err := d.WriteTexture(id, data[:3]); !errors.Is(err, gpucore.ErrSizeMismatch) {
		t.Errorf("short write error = %v, want ErrSizeMismatch", err)
	}
}

func TestClearRegion(t *testing.T) {
	d := newTestDevice(t)
	id := mustTexture(t, d, 4, 4, gpucore.TextureFormatR32Float)

	if err := d.ClearTexture(id, gpucore.Rect{X: 1, Y: 1, W: 2, H: 2}, [4]float32{9}); err != nil {
		t.Fatalf("ClearTexture: %v", err)
	}
	got := make([]float32, 16)
	if err := d.ReadTexture(id, gpucore.Rect{}, got); err != nil {
		t.Fatalf("ReadTexture: %v", err)
	}
	for y := range 4 {
		for x := range 4 {
			want := float32(0)
			if x >= 1 && x <= 2 && y >= 1 && y <= 2 {
				want = 9
			}
			if got[y*4+x] != want {
				t.Errorf("(%d,%d) = %v, want %v", x, y, got[y*4+x], want)
			}
		}
	}
}

func TestDispatchCopy(t *testing.T) {
	d := newTestDevice(t)
	src := mustTexture(t, d, 33, 17, gpucore.TextureFormatR32Float, 2)
	dst := mustTexture(t, d, 33, 17, gpucore.TextureFormatR32Float)
	prog := mustProgram(t, d)

	if err := d.BindTexture(0, src); err != nil {
		t.Fatal(err)
	}
	err := d.Dispatch(&gpucore.Pass{Program: prog, Inputs: []int{0}, Targets: []gpucore.TextureID{dst}, Params: []float32{1}})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	got := make([]float32, 33*17)
	if err := d.ReadTexture(dst, gpucore.Rect{}, got); err != nil {
		t.Fatal(err)
	}
	for i, v := range got {
		if v != 3 {
			t.Fatalf("texel %d = %v, want 3", i, v)
		}
	}
}

func TestDispatchBlendAdd(t *testing.T) {
	d := newTestDevice(t)
	src := mustTexture(t, d, 4, 4, gpucore.TextureFormatR32Float, 1)
	dst := mustTexture(t, d, 4, 4, gpucore.TextureFormatR32Float, 5)
	prog := mustProgram(t, d)

	if err := d.BindTexture(0, src); err != nil {
		t.Fatal(err)
	}
	pass := &gpucore.Pass{
		Program: prog,
		Inputs:  []int{0},
		Targets: []gpucore.TextureID{dst},
		Region:  gpucore.Rect{X: 0, Y: 0, W: 2, H: 1},
		Blend:   gpucore.BlendAdd,
	}
	for range 2 {
		if err := d.Dispatch(pass); err != nil {
			t.Fatal(err)
		}
	}

	got := make([]float32, 16)
	if err := d.ReadTexture(dst, gpucore.Rect{}, got); err != nil {
		t.Fatal(err)
	}
	if got[0] != 7 || got[1] != 7 || got[2] != 5 || got[4] != 5 {
		t.Errorf("blend result = %v", got)
	}
}

func TestDispatchRejectsAliasing(t *testing.T) {
	d := newTestDevice(t)
	tex := mustTexture(t, d, 4, 4, gpucore.TextureFormatR32Float)
	prog := mustProgram(t, d)

	if err := d.BindTexture(0, tex); err != nil {
		t.Fatal(err)
	}
	err := d.Dispatch(&gpucore.Pass{Program: prog, Inputs: []int{0}, Targets: []gpucore.TextureID{tex}})
	if !errors.Is(err, gpucore.ErrAliasedTarget) {
		t.Fatalf("Dispatch error = %v, want ErrAliasedTarget", err)
	}
}

func TestDispatchArityMismatch(t *testing.T) {
	d := newTestDevice(t)
	dst := mustTexture(t, d, 4, 4, gpucore.TextureFormatR32Float)
	prog := mustProgram(t, d)

	if err := d.Dispatch(&gpucore.Pass{Program: prog, Targets: []gpucore.TextureID{dst}}); err == nil {
		t.Fatal("expected error for missing input")
	}
}

func TestSampleFilters(t *testing.T) {
	d := newTestDevice(t)
	id := mustTexture(t, d, 2, 1, gpucore.TextureFormatR32Float)
	if err := d.WriteTexture(id, []float32{0, 10}); err != nil {
		t.Fatal(err)
	}
	tex := d.textures[id]

	if v := tex.Sample(1.0, 0.5)[0]; v != 10 {
		t.Errorf("nearest Sample(1.0) = %v, want 10", v)
	}
	d.SetFilterMode(id, gpucore.FilterLinear)
	tests := []struct {
		u    float32
		want float32
	}{
		{0.5, 0},
		{1.0, 5},
		{1.5, 10},
		{0.0, 0},  // clamped at the left edge
		{2.0, 10}, // clamped at the right edge
	}
	for _, tt := range tests {
		if v := tex.Sample(tt.u, 0.5)[0]; v != tt.want {
			t.Errorf("linear Sample(%v) = %v, want %v", tt.u, v, tt.want)
		}
	}
}

func TestFetchClamps(t *testing.T) {
	d := newTestDevice(t)
	id := mustTexture(t, d, 2, 2, gpucore.TextureFormatR32Float)
	if err := d.WriteTexture(id, []float32{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	tex := d.textures[id]
	if v := tex.Fetch(-5, -5)[0]; v != 1 {
		t.Errorf("Fetch(-5,-5) = %v, want 1", v)
	}
	if v := tex.Fetch(9, 9)[0]; v != 4 {
		t.Errorf("Fetch(9,9) = %v, want 4", v)
	}
}

func TestClosedDevice(t *testing.T) {
	d := New()
	d.Close()
	d.Close()
	if _, err := d.CreateTexture(&gpucore.TextureDesc{Width: 1, Height: 1, Format: gpucore.TextureFormatR32Float}); !errors.Is(err, gpucore.ErrClosed) {
		t.Errorf("CreateTexture after Close = %v, want ErrClosed", err)
	}
}

func BenchmarkDispatch256(b *testing.B) {
	d := New()
	defer d.Close()
	src, _ := d.CreateTexture(&gpucore.TextureDesc{Width: 256, Height: 256, Format: gpucore.TextureFormatRGBA32Float})
	dst, _ := d.CreateTexture(&gpucore.TextureDesc{Width: 256, Height: 256, Format: gpucore.TextureFormatRGBA32Float})
	prog, _ := d.CreateProgram(&gpucore.ProgramDesc{Label: "copy", Kernel: copyKernel, Inputs: 1, Outputs: 1})
	_ = d.BindTexture(0, src)
	pass := &gpucore.Pass{Program: prog, Inputs: []int{0}, Targets: []gpucore.TextureID{dst}}

	b.ResetTimer()
	for range b.N {
		_ = d.Dispatch(pass)
	}
}
