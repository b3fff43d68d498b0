package property

import (
	"bytes"
	"encoding/binary"
	"errors"
	"path/filepath"
	"testing"

	"github.com/gogpu/sandbox"
	"github.com/gogpu/sandbox/gpucore"
)

func newTestDevice(t *testing.T) gpucore.Device {
	t.Helper()
	dev := sandbox.NewSoftwareDevice(1)
	t.Cleanup(dev.Close)
	return dev
}

func newTestGrid(t *testing.T, w, h int) *Grid {
	t.Helper()
	g, err := NewGrid(w, h)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(g.Close)
	return g
}

func read(t *testing.T, dev gpucore.Device, g *Grid) []float32 {
	t.Helper()
	w, h := g.Size()
	data := make([]float32, 2*w*h)
	if err := g.Read(dev, data); err != nil {
		t.Fatal(err)
	}
	return data
}

func TestGridDefaults(t *testing.T) {
	dev := newTestDevice(t)
	g := newTestGrid(t, 3, 2)

	if g.Roughness() != DefaultRoughness || g.Absorption() != DefaultAbsorption {
		t.Errorf("defaults = %v, %v", g.Roughness(), g.Absorption())
	}
	for i, v := range read(t, dev, g) {
		want := float32(DefaultRoughness)
		if i%2 == ChannelAbsorption {
			want = DefaultAbsorption
		}
		if v != want {
			t.Fatalf("value %d = %v, want %v", i, v, want)
		}
	}
}

func TestUpdateResetsChangedChannelOnly(t *testing.T) {
	dev := newTestDevice(t)
	g := newTestGrid(t, 2, 2)

	custom := []float32{0.1, 0, 0.2, 0, 0.3, 0, 0.4, 0}
	if err := g.Write(dev, custom); err != nil {
		t.Fatal(err)
	}
	g.SetAbsorption(0.5)
	if err := g.Update(dev); err != nil {
		t.Fatal(err)
	}

	got := read(t, dev, g)
	for i := 0; i < len(got); i += 2 {
		if got[i] != custom[i] || got[i+1] != 0.5 {
			t.Fatalf("cell %d = (%v, %v), want (%v, 0.5)", i/2, got[i], got[i+1], custom[i])
		}
	}

	// Nothing pending: Update leaves the grid alone.
	if err := g.Write(dev, custom); err != nil {
		t.Fatal(err)
	}
	if err := g.Update(dev); err != nil {
		t.Fatal(err)
	}
	if got := read(t, dev, g); got[1] != 0 {
		t.Errorf("absorption reset again to %v", got[1])
	}
}

func TestSaveLoad(t *testing.T) {
	dev := newTestDevice(t)
	path := filepath.Join(t.TempDir(), "props.tif")

	src := newTestGrid(t, 3, 3)
	src.SetRoughness(0.03)
	src.SetAbsorption(0.002)
	src.RequestSave(path)
	if err := src.Update(dev); err != nil {
		t.Fatal(err)
	}

	dst := newTestGrid(t, 3, 3)
	dst.RequestLoad(path)
	if err := dst.Update(dev); err != nil {
		t.Fatal(err)
	}
	got := read(t, dev, dst)
	for i := 0; i < len(got); i += 2 {
		if got[i] != 0.03 || got[i+1] != 0.002 {
			t.Fatalf("cell %d = (%v, %v)", i/2, got[i], got[i+1])
		}
	}
}

func TestLoadMismatchLeavesGrid(t *testing.T) {
	dev := newTestDevice(t)
	path := filepath.Join(t.TempDir(), "small.tif")
	if err := WriteFile(path, 3, 3, make([]float32, 18)); err != nil {
		t.Fatal(err)
	}

	g := newTestGrid(t, 4, 4)
	g.RequestLoad(path)
	if err := g.Update(dev); !errors.Is(err, ErrGridMismatch) {
		t.Fatalf("Update error = %v, want ErrGridMismatch", err)
	}
	if got := read(t, dev, g); got[0] != DefaultRoughness {
		t.Errorf("roughness = %v after failed load", got[0])
	}

	// The failed request is consumed.
	if err := g.Update(dev); err != nil {
		t.Errorf("second Update error = %v", err)
	}
}

func TestDecodeRejects(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, 2, 2, make([]float32, 8)); err != nil {
		t.Fatal(err)
	}
	good := buf.Bytes()

	// patch overwrites the value of directory entry i.
	patch := func(i int, v uint32) []byte {
		b := append([]byte(nil), good...)
		binary.LittleEndian.PutUint32(b[10+12*i+8:], v)
		return b
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"width", patch(0, 3)},
		{"bits per sample", patch(2, 16|16<<16)},
		{"compression", patch(3, 5)},
		{"channels", patch(7, 3)},
		{"sample format", patch(12, 1|1<<16)},
		{"not tiff", []byte("PK\x03\x04....")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(bytes.NewReader(tt.data), 2, 2); !errors.Is(err, ErrGridMismatch) {
				t.Errorf("Decode error = %v, want ErrGridMismatch", err)
			}
		})
	}

	if _, err := Decode(bytes.NewReader(good), 2, 2); err != nil {
		t.Errorf("Decode of valid file: %v", err)
	}
}

func TestEngineeringTable(t *testing.T) {
	dev := newTestDevice(t)
	const w, h = 12, 10
	g := newTestGrid(t, w, h)
	g.SetAbsorption(0.05)

	table, err := sandbox.NewOfflineWaterTable(w, h, [2]float32{1, 1},
		sandbox.WithMode(sandbox.Engineering), sandbox.WithPropertyGrid(g))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(table.Close)

	bathy := make([]float32, (w-1)*(h-1))
	if err := table.SetBathymetry(dev, bathy); err != nil {
		t.Fatal(err)
	}
	level := make([]float32, w*h)
	for i := range level {
		level[i] = 1
	}
	if err := table.SetWaterLevel(dev, level); err != nil {
		t.Fatal(err)
	}
	if err := g.Update(dev); err != nil {
		t.Fatal(err)
	}

	before, err := table.Volume(dev)
	if err != nil {
		t.Fatal(err)
	}
	for range 10 {
		if _, err := table.RunSimulationStep(dev, false); err != nil {
			t.Fatal(err)
		}
	}
	after, err := table.Volume(dev)
	if err != nil {
		t.Fatal(err)
	}
	if !(after < before) {
		t.Errorf("volume %v -> %v, want absorption to drain water", before, after)
	}
}
