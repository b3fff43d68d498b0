package gpucore_test

import (
	"errors"
	"testing"

	"github.com/gogpu/sandbox/gpucore"
	"github.com/gogpu/sandbox/internal/soft"
)

// countingDevice records filter changes on top of the software device.
type countingDevice struct {
	*soft.Device
	filterCalls int
}

func (d *countingDevice) SetFilterMode(id gpucore.TextureID, mode gpucore.FilterMode) {
	d.filterCalls++
	d.Device.SetFilterMode(id, mode)
}

func newDevice(t *testing.T, units int) *countingDevice {
	t.Helper()
	d := &countingDevice{Device: soft.New(soft.WithWorkers(1), soft.WithTextureUnits(units))}
	t.Cleanup(d.Close)
	return d
}

func TestTextureUnits(t *testing.T) {
	dev := newDevice(t, 2)
	id, err := dev.CreateTexture(&gpucore.TextureDesc{Width: 1, Height: 1, Format: gpucore.TextureFormatR32Float})
	if err != nil {
		t.Fatal(err)
	}

	units := gpucore.NewTextureUnits(dev)
	for want := range 2 {
		got, err := units.Bind(id)
		if err != nil {
			t.Fatalf("Bind %d: %v", want, err)
		}
		if got != want {
			t.Errorf("Bind returned unit %d, want %d", got, want)
		}
	}
	if _, err := units.Bind(id); !errors.Is(err, gpucore.ErrNoTextureUnits) {
		t.Fatalf("third Bind error = %v, want ErrNoTextureUnits", err)
	}
	if got := units.Units(); len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Errorf("Units() = %v, want [0 1]", got)
	}

	units.Reset()
	if got, err := units.Bind(id); err != nil || got != 0 {
		t.Errorf("Bind after Reset = %d, %v; want 0, nil", got, err)
	}
	if units.Active() != 2 {
		t.Errorf("Active() = %d, want 2", units.Active())
	}
}

func TestBufferedTextureInitAndFlip(t *testing.T) {
	dev := newDevice(t, 4)
	b := gpucore.NewBufferedTexture(3)
	if err := b.Init(dev, "quantity", 4, 3, gpucore.TextureFormatRGBA32Float, -20, 0, 0); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer b.Destroy()

	if b.Slots() != 3 {
		t.Fatalf("Slots() = %d, want 3", b.Slots())
	}
	for i := range b.Slots() {
		got := make([]float32, 4)
		if err := dev.ReadTexture(b.Texture(i), gpucore.Rect{X: 3, Y: 2, W: 1, H: 1}, got); err != nil {
			t.Fatal(err)
		}
		if got[0] != -20 || got[1] != 0 || got[2] != 0 {
			t.Errorf("slot %d fill = %v, want [-20 0 0 0]", i, got)
		}
	}

	if b.Current() != 0 || b.Other() != 1 {
		t.Fatalf("initial current/other = %d/%d, want 0/1", b.Current(), b.Other())
	}
	b.Flip()
	if b.Current() != 1 || b.Other() != 0 {
		t.Errorf("after Flip current/other = %d/%d, want 1/0", b.Current(), b.Other())
	}
	if b.CurrentTexture() != b.Texture(1) {
		t.Error("CurrentTexture does not follow the current slot")
	}
}

func TestBufferedTextureLazyFilter(t *testing.T) {
	dev := newDevice(t, 8)
	b := gpucore.NewBufferedTexture(2)
	if err := b.Init(dev, "bathymetry", 2, 2, gpucore.TextureFormatR32Float); err != nil {
		t.Fatal(err)
	}
	defer b.Destroy()
	units := gpucore.NewTextureUnits(dev)

	steps := []struct {
		slot      int
		linear    bool
		wantCalls int
	}{
		{0, false, 0}, // already nearest
		{0, true, 1},
		{0, true, 1}, // unchanged
		{1, true, 2}, // slot 1 tracks its own mode
		{0, false, 3},
	}
	for i, s := range steps {
		if _, err := b.Bind(units, s.slot, s.linear); err != nil {
			t.Fatalf("step %d: Bind: %v", i, err)
		}
		if dev.filterCalls != s.wantCalls {
			t.Errorf("step %d: filter changes = %d, want %d", i, dev.filterCalls, s.wantCalls)
		}
	}
}

func TestResources(t *testing.T) {
	dev := newDevice(t, 1)
	var r gpucore.Resources[*int]

	creates := 0
	create := func() (*int, error) {
		creates++
		v := creates
		return &v, nil
	}

	a, err := r.Get(dev, create)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := r.Get(dev, create)
	if a != b || creates != 1 {
		t.Fatalf("Get created %d values, want 1 shared value", creates)
	}

	failing := newDevice(t, 1)
	if _, err := r.Get(failing, func() (*int, error) { return nil, errors.New("boom") }); err == nil {
		t.Fatal("expected create error")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d after failed create, want 1", r.Len())
	}

	released := 0
	r.Release(dev, func(*int) { released++ })
	if released != 1 || r.Len() != 0 {
		t.Errorf("Release: released=%d len=%d", released, r.Len())
	}
	if _, ok := r.Lookup(dev); ok {
		t.Error("Lookup found a released value")
	}
}

func TestRectResolve(t *testing.T) {
	tests := []struct {
		name string
		in   gpucore.Rect
		want gpucore.Rect
	}{
		{"zero is whole", gpucore.Rect{}, gpucore.Rect{W: 8, H: 4}},
		{"inside", gpucore.Rect{X: 1, Y: 1, W: 2, H: 2}, gpucore.Rect{X: 1, Y: 1, W: 2, H: 2}},
		{"clipped", gpucore.Rect{X: -2, Y: 3, W: 5, H: 5}, gpucore.Rect{X: 0, Y: 3, W: 3, H: 1}},
		{"outside", gpucore.Rect{X: 9, Y: 0, W: 2, H: 2}, gpucore.Rect{X: 9, Y: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Resolve(8, 4); got != tt.want {
				t.Errorf("Resolve = %+v, want %+v", got, tt.want)
			}
		})
	}
}
