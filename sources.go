package sandbox

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/sandbox/gpucore"
	"github.com/gogpu/sandbox/internal/kernels"
)

// WaterAddContext is handed to every WaterSource during a tick. Passes
// issued through it are blended additively into the water-add field,
// which holds the height of water added to each cell in this step.
type WaterAddContext struct {
	table *WaterTable
	res   *contextResources
	dt    float32
}

// Device returns the device the tick runs on.
func (c *WaterAddContext) Device() gpucore.Device { return c.res.dev }

// Target returns the water-add texture, one R value per water cell.
func (c *WaterAddContext) Target() gpucore.TextureID { return c.res.waterAdd }

// Projection maps world space to normalized device coordinates of the
// water-add field.
func (c *WaterAddContext) Projection() mgl32.Mat4 { return c.table.waterAddProjection }

// StepSize returns the length of the current step in seconds.
func (c *WaterAddContext) StepSize() float32 { return c.dt }

// toCells maps a point of upright elevation space to water cell
// coordinates.
func (c *WaterAddContext) toCells(p mgl32.Vec2) mgl32.Vec2 {
	d := c.table.domain
	cs := c.table.cellSize
	return mgl32.Vec2{(p[0] - d.Min[0]) / cs[0], (p[1] - d.Min[1]) / cs[1]}
}

// AddDisk adds water at rate (height per second) to every cell whose
// center lies within radius of center, in upright elevation space. The
// radius is measured in x cell units for non-square cells.
func (c *WaterAddContext) AddDisk(center mgl32.Vec2, radius, rate float32) error {
	cc := c.toCells(center)
	rc := radius / c.table.cellSize[0]
	region := c.clip(cc[0]-rc, cc[1]-rc, cc[0]+rc, cc[1]+rc)
	if region.Empty() {
		return nil
	}
	params := make([]float32, 4)
	params[kernels.ParamDiskCenterX] = cc[0]
	params[kernels.ParamDiskCenterY] = cc[1]
	params[kernels.ParamDiskRadius] = rc
	params[kernels.ParamDiskAmount] = rate * c.dt
	return c.dispatch("add_disk", kernels.AddDisk, region, params)
}

// AddRect adds water at rate to every cell whose center lies within the
// rectangle [lo, hi] in upright elevation space.
func (c *WaterAddContext) AddRect(lo, hi mgl32.Vec2, rate float32) error {
	a, b := c.toCells(lo), c.toCells(hi)
	region := c.clip(a[0], a[1], b[0], b[1])
	if region.Empty() {
		return nil
	}
	return c.dispatch("add_rect", kernels.AddConstant, region, []float32{rate * c.dt})
}

// clip returns the cells whose centers lie in [x0, x1] x [y0, y1], in cell
// coordinates, clipped to the grid.
func (c *WaterAddContext) clip(x0, y0, x1, y1 float32) gpucore.Rect {
	cx0 := int(math.Ceil(float64(x0 - 0.5)))
	cy0 := int(math.Ceil(float64(y0 - 0.5)))
	cx1 := int(math.Floor(float64(x1-0.5))) + 1
	cy1 := int(math.Floor(float64(y1-0.5))) + 1
	if cx1 <= cx0 || cy1 <= cy0 {
		return gpucore.Rect{}
	}
	return gpucore.Rect{X: cx0, Y: cy0, W: cx1 - cx0, H: cy1 - cy0}.Resolve(c.table.size[0], c.table.size[1])
}

func (c *WaterAddContext) dispatch(label string, program kernels.Kind, region gpucore.Rect, params []float32) error {
	return c.res.dev.Dispatch(&gpucore.Pass{
		Label:   label,
		Program: c.res.programs[program],
		Targets: []gpucore.TextureID{c.res.waterAdd},
		Region:  region,
		Blend:   gpucore.BlendAdd,
		Params:  params,
	})
}

// applySources fills the water-add field from the deposit rate and the
// registered sources, then folds it into the quantity and snow grids.
func (t *WaterTable) applySources(r *contextResources, dt float32) error {
	if err := r.dev.ClearTexture(r.waterAdd, gpucore.Rect{}, [4]float32{t.waterDeposit * dt}); err != nil {
		return err
	}

	ctx := &WaterAddContext{table: t, res: r, dt: dt}
	for _, s := range t.sources {
		if err := s.AddWater(ctx); err != nil {
			return fmt.Errorf("sandbox: water source: %w", err)
		}
	}

	params := make([]float32, 2)
	params[kernels.ParamSnowLine] = t.snowLine
	params[kernels.ParamSnowMelt] = t.snowMelt * dt

	err := t.runPass(r, "water_update", kernels.WaterUpdate, params, gpucore.Rect{},
		[]gpucore.TextureID{r.quantity.Texture(r.quantity.Other()), r.snow.Texture(r.snow.Other())},
		r.bathymetry.CurrentTexture(), r.quantity.CurrentTexture(), r.snow.CurrentTexture(), r.waterAdd)
	if err != nil {
		return err
	}
	r.quantity.Flip()
	r.snow.Flip()
	return nil
}
