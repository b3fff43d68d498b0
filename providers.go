package sandbox

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/sandbox/gpucore"
)

// ElevationProvider supplies the terrain under the water.
//
// The solver never reads raw elevation samples. When ElevationVersion
// changes it asks the provider to render its surface into the bathymetry
// grid.
type ElevationProvider interface {
	// ElevationVersion increases whenever the surface changes.
	ElevationVersion() uint64

	// DepthProjection maps raw depth image coordinates into the provider's
	// world space.
	DepthProjection() mgl32.Mat4

	// BasePlane returns the plane (nx, ny, nz, d), n·p + d = 0, that the
	// terrain rests on. The normal points up.
	BasePlane() mgl32.Vec4

	// BindElevationTexture binds the provider's elevation texture to the
	// next unit of units.
	BindElevationTexture(dev gpucore.Device, units *gpucore.TextureUnits) (int, error)

	// RenderElevation writes the surface into target. toTarget maps world
	// space to target texel coordinates in x and y (texel centers at
	// i+0.5) and to the value to store in z.
	RenderElevation(dev gpucore.Device, target gpucore.TextureID, toTarget mgl32.Mat4) error
}

// PropertyGridProvider supplies per-cell roughness (channel 0) and
// absorption (channel 1) for Engineering mode. The texture has the size of
// the water grid.
type PropertyGridProvider interface {
	BindPropertyGridTexture(dev gpucore.Device, units *gpucore.TextureUnits) (int, error)
}

// WaterSource contributes water to the simulation once per tick.
//
// AddWater issues additive passes into the water-add field through ctx.
// Positive amounts add water, negative amounts remove it.
type WaterSource interface {
	AddWater(ctx *WaterAddContext) error
}
