// Package property provides the per-cell surface properties used by the
// Engineering mode of a sandbox.WaterTable.
//
// A Grid holds two channels per water cell: the Manning roughness
// coefficient and the absorption rate (water height lost per second). Both
// are reset globally through SetRoughness and SetAbsorption, or replaced
// per cell from a grid file.
package property

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/sandbox"
	"github.com/gogpu/sandbox/gpucore"
)

// Default surface properties.
const (
	DefaultRoughness  = 0.01
	DefaultAbsorption = 0
)

// Channels of the property texture.
const (
	ChannelRoughness  = 0
	ChannelAbsorption = 1
)

// ErrGridMismatch is returned when a grid file does not hold exactly one
// two-channel float32 sample per cell.
var ErrGridMismatch = errors.New("property: grid file does not match the grid")

// Grid is a property grid the size of a water table's cell grid.
//
// Parameter changes and file requests are recorded immediately and carried
// out on each device by the next Update with that device.
type Grid struct {
	mu         sync.Mutex
	width      int
	height     int
	values     [2]float32
	versions   [2]uint64
	loadSerial uint64
	loadPath   string
	saveSerial uint64
	savePath   string

	resources gpucore.Resources[*gridResources]
}

var _ sandbox.PropertyGridProvider = (*Grid)(nil)

type gridResources struct {
	dev        gpucore.Device
	texture    gpucore.TextureID
	versions   [2]uint64
	loadSerial uint64
	saveSerial uint64
}

// NewGrid creates a property grid of width x height cells with the
// default roughness and absorption.
func NewGrid(width, height int) (*Grid, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("property: invalid grid size %dx%d", width, height)
	}
	return &Grid{
		width:    width,
		height:   height,
		values:   [2]float32{DefaultRoughness, DefaultAbsorption},
		versions: [2]uint64{1, 1},
	}, nil
}

// Size returns the grid size in cells.
func (g *Grid) Size() (width, height int) { return g.width, g.height }

// Roughness returns the most recently set global roughness.
func (g *Grid) Roughness() float32 { return g.value(ChannelRoughness) }

// Absorption returns the most recently set global absorption rate.
func (g *Grid) Absorption() float32 { return g.value(ChannelAbsorption) }

// SetRoughness resets the roughness of every cell.
func (g *Grid) SetRoughness(n float32) { g.setValue(ChannelRoughness, n) }

// SetAbsorption resets the absorption rate of every cell.
func (g *Grid) SetAbsorption(rate float32) { g.setValue(ChannelAbsorption, rate) }

func (g *Grid) value(ch int) float32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.values[ch]
}

func (g *Grid) setValue(ch int, v float32) {
	g.mu.Lock()
	g.values[ch] = v
	g.versions[ch]++
	g.mu.Unlock()
}

// RequestLoad asks the next Update of every device to replace its grid
// with the contents of path.
func (g *Grid) RequestLoad(path string) {
	g.mu.Lock()
	g.loadSerial++
	g.loadPath = path
	g.mu.Unlock()
}

// RequestSave asks the next Update to write the grid to path.
func (g *Grid) RequestSave(path string) {
	g.mu.Lock()
	g.saveSerial++
	g.savePath = path
	g.mu.Unlock()
}

// BindPropertyGridTexture implements sandbox.PropertyGridProvider.
func (g *Grid) BindPropertyGridTexture(dev gpucore.Device, units *gpucore.TextureUnits) (int, error) {
	r, err := g.context(dev)
	if err != nil {
		return 0, err
	}
	return units.Bind(r.texture)
}

// Update brings the grid on dev up to date: channels whose global value
// changed are reset, then a pending load and a pending save are carried
// out. A failed load leaves the grid untouched; the request is consumed
// either way.
func (g *Grid) Update(dev gpucore.Device) error {
	r, err := g.context(dev)
	if err != nil {
		return err
	}

	g.mu.Lock()
	values, versions := g.values, g.versions
	loadSerial, loadPath := g.loadSerial, g.loadPath
	saveSerial, savePath := g.saveSerial, g.savePath
	g.mu.Unlock()

	if versions != r.versions {
		data := make([]float32, 2*g.width*g.height)
		if err := dev.ReadTexture(r.texture, gpucore.Rect{}, data); err != nil {
			return err
		}
		for ch := range 2 {
			if versions[ch] == r.versions[ch] {
				continue
			}
			for i := ch; i < len(data); i += 2 {
				data[i] = values[ch]
			}
		}
		if err := dev.WriteTexture(r.texture, data); err != nil {
			return err
		}
		r.versions = versions
	}

	var errs []error
	if loadSerial != r.loadSerial {
		r.loadSerial = loadSerial
		if err := g.load(r, loadPath); err != nil {
			sandbox.Logger().Warn("property grid load failed", "path", loadPath, "err", err)
			errs = append(errs, err)
		}
	}
	if saveSerial != r.saveSerial {
		r.saveSerial = saveSerial
		if err := g.save(r, savePath); err != nil {
			sandbox.Logger().Warn("property grid save failed", "path", savePath, "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (g *Grid) load(r *gridResources, path string) error {
	data, err := ReadFile(path, g.width, g.height)
	if err != nil {
		return err
	}
	return r.dev.WriteTexture(r.texture, data)
}

func (g *Grid) save(r *gridResources, path string) error {
	data := make([]float32, 2*g.width*g.height)
	if err := r.dev.ReadTexture(r.texture, gpucore.Rect{}, data); err != nil {
		return err
	}
	return WriteFile(path, g.width, g.height, data)
}

// Read copies the grid of dev into dst as (roughness, absorption) pairs in
// row-major order.
func (g *Grid) Read(dev gpucore.Device, dst []float32) error {
	r, err := g.context(dev)
	if err != nil {
		return err
	}
	return dev.ReadTexture(r.texture, gpucore.Rect{}, dst)
}

// Write replaces the grid of dev with data, laid out as for Read.
func (g *Grid) Write(dev gpucore.Device, data []float32) error {
	r, err := g.context(dev)
	if err != nil {
		return err
	}
	return dev.WriteTexture(r.texture, data)
}

func (g *Grid) context(dev gpucore.Device) (*gridResources, error) {
	return g.resources.Get(dev, func() (*gridResources, error) {
		g.mu.Lock()
		values, versions := g.values, g.versions
		g.mu.Unlock()

		tex, err := dev.CreateTexture(&gpucore.TextureDesc{
			Label:  "property_grid",
			Width:  g.width,
			Height: g.height,
			Format: gpucore.TextureFormatRG32Float,
			Fill:   [4]float32{values[0], values[1]},
		})
		if err != nil {
			return nil, err
		}
		return &gridResources{dev: dev, texture: tex, versions: versions}, nil
	})
}

func (r *gridResources) destroy() { r.dev.DestroyTexture(r.texture) }

// ReleaseContext frees the texture held on dev.
func (g *Grid) ReleaseContext(dev gpucore.Device) {
	g.resources.Release(dev, (*gridResources).destroy)
}

// Close frees the textures on every device.
func (g *Grid) Close() {
	g.resources.ReleaseAll((*gridResources).destroy)
}
