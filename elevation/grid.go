// Package elevation provides terrain surfaces for a sandbox.WaterTable.
//
// A Grid is a digital elevation model: a regular grid of height samples
// over a rectangle. It renders itself into the bathymetry of every device a
// water table runs on, resampling through the table's frame.
package elevation

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"gonum.org/v1/gonum/floats"

	"github.com/gogpu/sandbox"
	"github.com/gogpu/sandbox/gpucore"
	"github.com/gogpu/sandbox/internal/kernels"
)

// ErrInvalidGrid is returned for grids with fewer than 2x2 samples, an
// empty box, or a sample count that does not match the size.
var ErrInvalidGrid = errors.New("elevation: invalid grid")

// Grid is an elevation model with width x height samples. Sample (i, j)
// lies at box.Min + (i, j) * spacing, so the box spans the sample centers.
//
// A Grid may be updated from one goroutine while water tables render it
// from others.
type Grid struct {
	mu        sync.Mutex
	width     int
	height    int
	box       [4]float32 // min x, min y, max x, max y
	samples   []float32
	transform mgl32.Mat4
	version   uint64

	resources gpucore.Resources[*gridResources]
}

var _ sandbox.ElevationProvider = (*Grid)(nil)

type gridResources struct {
	dev     gpucore.Device
	units   *gpucore.TextureUnits
	texture gpucore.TextureID
	program gpucore.ProgramID
	version uint64 // of the uploaded samples, 0 before the first upload
}

// NewGrid creates a grid over box = {minX, minY, maxX, maxY}. samples holds
// width*height values in row-major order, row 0 at minY. The grid keeps its
// own copy.
func NewGrid(width, height int, box [4]float32, samples []float32) (*Grid, error) {
	if width < 2 || height < 2 || box[2] <= box[0] || box[3] <= box[1] {
		return nil, fmt.Errorf("%w: %dx%d samples over %v", ErrInvalidGrid, width, height, box)
	}
	if len(samples) != width*height {
		return nil, fmt.Errorf("%w: %d samples for %dx%d", ErrInvalidGrid, len(samples), width, height)
	}
	return &Grid{
		width:     width,
		height:    height,
		box:       box,
		samples:   append([]float32(nil), samples...),
		transform: mgl32.Ident4(),
		version:   1,
	}, nil
}

// Size returns the number of samples in x and y.
func (g *Grid) Size() (width, height int) { return g.width, g.height }

// Box returns {minX, minY, maxX, maxY} of the sample centers.
func (g *Grid) Box() [4]float32 { return g.box }

// Samples returns a copy of the elevation samples.
func (g *Grid) Samples() []float32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]float32(nil), g.samples...)
}

// Set replaces the samples. The new surface is picked up by every water
// table on its next step.
func (g *Grid) Set(samples []float32) error {
	if len(samples) != g.width*g.height {
		return fmt.Errorf("%w: %d samples for %dx%d", ErrInvalidGrid, len(samples), g.width, g.height)
	}
	g.mu.Lock()
	copy(g.samples, samples)
	g.version++
	g.mu.Unlock()
	return nil
}

// Transform returns the map from grid space (x, y, elevation) to world
// space.
func (g *Grid) Transform() mgl32.Mat4 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.transform
}

// SetTransform sets the map from grid space to world space. It must be
// affine and must not collapse the xy plane.
func (g *Grid) SetTransform(m mgl32.Mat4) {
	g.mu.Lock()
	g.transform = m
	g.version++
	g.mu.Unlock()
}

// Mean returns the average elevation of the samples.
func (g *Grid) Mean() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := make([]float64, len(g.samples))
	for i, v := range g.samples {
		s[i] = float64(v)
	}
	return floats.Sum(s) / float64(len(s))
}

// Fit places the grid over the world rectangle [lo, hi] so that it covers
// the rectangle completely, rotating it by 90 degrees when that needs less
// shrinking. Elevations are centered on their mean, exaggerated by
// verticalScale relative to the horizontal scale, and lifted to surface.
func (g *Grid) Fit(lo, hi mgl32.Vec2, verticalScale, surface float32) {
	gsx, gsy := g.box[2]-g.box[0], g.box[3]-g.box[1]
	wsx, wsy := hi[0]-lo[0], hi[1]-lo[1]

	scale := min(gsx/wsx, gsy/wsy)
	scaleRot := min(gsx/wsy, gsy/wsx)

	center := lo.Add(hi).Mul(0.5)
	m := mgl32.Translate3D(center[0], center[1], surface)
	if scaleRot > scale {
		m = m.Mul4(mgl32.HomogRotate3DZ(math.Pi / 2))
		scale = scaleRot
	}
	m = m.Mul4(mgl32.Scale3D(1/scale, 1/scale, verticalScale/scale))
	m = m.Mul4(mgl32.Translate3D(-(g.box[0]+g.box[2])/2, -(g.box[1]+g.box[3])/2, -float32(g.Mean())))

	g.SetTransform(m)
	sandbox.Logger().Debug("elevation grid fitted", "scale", scale, "rotated", scaleRot == scale)
}

// ElevationVersion implements sandbox.ElevationProvider.
func (g *Grid) ElevationVersion() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.version
}

// DepthProjection implements sandbox.ElevationProvider. Grids carry world
// coordinates already.
func (g *Grid) DepthProjection() mgl32.Mat4 { return mgl32.Ident4() }

// BasePlane implements sandbox.ElevationProvider. Grids rest on z = 0.
func (g *Grid) BasePlane() mgl32.Vec4 { return mgl32.Vec4{0, 0, 1, 0} }

// BindElevationTexture implements sandbox.ElevationProvider. The texture
// holds one sample per texel and is sampled bilinearly.
func (g *Grid) BindElevationTexture(dev gpucore.Device, units *gpucore.TextureUnits) (int, error) {
	r, err := g.context(dev)
	if err != nil {
		return 0, err
	}
	return units.Bind(r.texture)
}

// RenderElevation implements sandbox.ElevationProvider.
func (g *Grid) RenderElevation(dev gpucore.Device, target gpucore.TextureID, toTarget mgl32.Mat4) error {
	r, err := g.context(dev)
	if err != nil {
		return err
	}
	params, err := g.resampleParams(toTarget.Mul4(g.Transform()))
	if err != nil {
		return err
	}

	r.units.Reset()
	if _, err := r.units.Bind(r.texture); err != nil {
		return err
	}
	return dev.Dispatch(&gpucore.Pass{
		Label:   "elevation_resample",
		Program: r.program,
		Inputs:  r.units.Units(),
		Targets: []gpucore.TextureID{target},
		Params:  params,
	})
}

// resampleParams lays out the resample program parameters for the frame t
// from grid space to target texels.
func (g *Grid) resampleParams(t mgl32.Mat4) ([]float32, error) {
	det := t.At(0, 0)*t.At(1, 1) - t.At(0, 1)*t.At(1, 0)
	if det == 0 {
		return nil, errors.New("elevation: target frame collapses the grid plane")
	}

	p := make([]float32, kernels.NumResampleParams)
	inv := p[kernels.ParamResampleInverse:]
	inv[0], inv[1] = t.At(1, 1)/det, -t.At(0, 1)/det
	inv[2], inv[3] = -t.At(1, 0)/det, t.At(0, 0)/det
	inv[4], inv[5] = t.At(0, 2), t.At(0, 3)
	inv[6], inv[7] = t.At(1, 2), t.At(1, 3)
	inv[8], inv[9], inv[10], inv[11] = t.At(2, 0), t.At(2, 1), t.At(2, 2), t.At(2, 3)

	su := float32(g.width-1) / (g.box[2] - g.box[0])
	sv := float32(g.height-1) / (g.box[3] - g.box[1])
	inv[12], inv[13] = su, 0.5-g.box[0]*su
	inv[14], inv[15] = sv, 0.5-g.box[1]*sv
	return p, nil
}

// context returns the texture and program of dev with the current samples
// uploaded.
func (g *Grid) context(dev gpucore.Device) (*gridResources, error) {
	r, err := g.resources.Get(dev, func() (*gridResources, error) {
		return g.newGridResources(dev)
	})
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if r.version != g.version {
		if err := dev.WriteTexture(r.texture, g.samples); err != nil {
			return nil, err
		}
		r.version = g.version
	}
	return r, nil
}

func (g *Grid) newGridResources(dev gpucore.Device) (*gridResources, error) {
	tex, err := dev.CreateTexture(&gpucore.TextureDesc{
		Label:  "elevation",
		Width:  g.width,
		Height: g.height,
		Format: gpucore.TextureFormatR32Float,
	})
	if err != nil {
		return nil, err
	}
	dev.SetFilterMode(tex, gpucore.FilterLinear)

	prog, err := kernels.Create(dev, kernels.Resample)
	if err != nil {
		dev.DestroyTexture(tex)
		sandbox.Logger().Error("elevation program failed", "device", dev.Name(), "err", err)
		return nil, err
	}
	return &gridResources{
		dev:     dev,
		units:   gpucore.NewTextureUnits(dev),
		texture: tex,
		program: prog,
	}, nil
}

func (r *gridResources) destroy() {
	r.dev.DestroyProgram(r.program)
	r.dev.DestroyTexture(r.texture)
}

// ReleaseContext frees the texture and program held on dev.
func (g *Grid) ReleaseContext(dev gpucore.Device) {
	g.resources.Release(dev, (*gridResources).destroy)
}

// Close frees the resources on every device.
func (g *Grid) Close() {
	g.resources.ReleaseAll((*gridResources).destroy)
}
