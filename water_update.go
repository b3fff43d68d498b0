package sandbox

import (
	"fmt"

	"github.com/gogpu/sandbox/gpucore"
	"github.com/gogpu/sandbox/internal/kernels"
)

// UpdateBathymetry re-renders the bathymetry of dev from the elevation
// provider if its version changed since the last update. Water depth is
// preserved across the change.
func (t *WaterTable) UpdateBathymetry(dev gpucore.Device) error {
	r, err := t.context(dev)
	if err != nil {
		return err
	}
	return t.updateBathymetry(r)
}

func (t *WaterTable) updateBathymetry(r *contextResources) error {
	if t.elevation == nil {
		return nil
	}
	version := t.elevation.ElevationVersion()
	if r.bathymetryValid && version == r.bathymetryVersion {
		return nil
	}

	target := r.bathymetry.Texture(r.bathymetry.Other())
	if err := r.dev.ClearTexture(target, gpucore.Rect{}, [4]float32{t.domain.Min[2]}); err != nil {
		return err
	}
	if err := t.elevation.RenderElevation(r.dev, target, t.bathymetryTarget()); err != nil {
		return fmt.Errorf("sandbox: render elevation: %w", err)
	}
	if err := t.adaptBathymetry(r); err != nil {
		return err
	}

	Logger().Debug("bathymetry updated", "device", r.dev.Name(), "version", version)
	r.bathymetryVersion = version
	r.bathymetryValid = true
	return nil
}

// adaptBathymetry moves the water from the current bathymetry slot onto
// the other one and makes both new slots current.
func (t *WaterTable) adaptBathymetry(r *contextResources) error {
	err := t.runPass(r, "bathymetry_update", kernels.BathymetryUpdate, nil, gpucore.Rect{},
		[]gpucore.TextureID{r.quantity.Texture(r.quantity.Other())},
		r.bathymetry.CurrentTexture(), r.bathymetry.Texture(r.bathymetry.Other()), r.quantity.CurrentTexture())
	if err != nil {
		return err
	}
	r.bathymetry.Flip()
	r.quantity.Flip()
	return nil
}

// SetBathymetry replaces the bathymetry of dev with grid, one value per
// vertex in row-major order (see BathymetrySize). Water depth is
// preserved as for provider updates.
func (t *WaterTable) SetBathymetry(dev gpucore.Device, grid []float32) error {
	r, err := t.context(dev)
	if err != nil {
		return err
	}
	if err := dev.WriteTexture(r.bathymetry.Texture(r.bathymetry.Other()), grid); err != nil {
		return err
	}
	return t.adaptBathymetry(r)
}

// SetWaterLevel replaces the water surface of dev with grid, one value per
// cell. Levels below the bathymetry are raised to it, and all flow stops.
func (t *WaterTable) SetWaterLevel(dev gpucore.Device, grid []float32) error {
	r, err := t.context(dev)
	if err != nil {
		return err
	}
	if err := dev.WriteTexture(r.waterAdd, grid); err != nil {
		return err
	}
	err = t.runPass(r, "water_adapt", kernels.WaterAdapt, nil, gpucore.Rect{},
		[]gpucore.TextureID{r.quantity.Texture(r.quantity.Other())},
		r.bathymetry.CurrentTexture(), r.waterAdd)
	if err != nil {
		return err
	}
	r.quantity.Flip()
	return nil
}

// ReadBathymetry copies the bathymetry vertices of dev into dst, which
// must hold (W-1)*(H-1) values.
func (t *WaterTable) ReadBathymetry(dev gpucore.Device, dst []float32) error {
	r, err := t.context(dev)
	if err != nil {
		return err
	}
	return dev.ReadTexture(r.bathymetry.CurrentTexture(), gpucore.Rect{}, dst)
}

// ReadQuantity copies the conserved quantities of dev into dst as four
// values per cell: w, hu, hv and an unused channel.
func (t *WaterTable) ReadQuantity(dev gpucore.Device, dst []float32) error {
	r, err := t.context(dev)
	if err != nil {
		return err
	}
	return dev.ReadTexture(r.quantity.CurrentTexture(), gpucore.Rect{}, dst)
}

// ReadWaterLevel copies the water surface elevation of dev into dst, one
// value per cell.
func (t *WaterTable) ReadWaterLevel(dev gpucore.Device, dst []float32) error {
	if len(dst) != t.size[0]*t.size[1] {
		return fmt.Errorf("%w: water level of %dx%d into %d values",
			gpucore.ErrSizeMismatch, t.size[0], t.size[1], len(dst))
	}
	q := make([]float32, 4*len(dst))
	if err := t.ReadQuantity(dev, q); err != nil {
		return err
	}
	for i := range dst {
		dst[i] = q[4*i]
	}
	return nil
}

// ReadSnow copies the snow height of dev into dst, one value per cell.
func (t *WaterTable) ReadSnow(dev gpucore.Device, dst []float32) error {
	r, err := t.context(dev)
	if err != nil {
		return err
	}
	return dev.ReadTexture(r.snow.CurrentTexture(), gpucore.Rect{}, dst)
}

// ReadGrids reads the bathymetry, water level and snow grids of dev in one
// call, for handing a consistent snapshot to another goroutine.
func (t *WaterTable) ReadGrids(dev gpucore.Device, bathymetry, water, snow []float32) error {
	if err := t.ReadBathymetry(dev, bathymetry); err != nil {
		return err
	}
	if err := t.ReadWaterLevel(dev, water); err != nil {
		return err
	}
	return t.ReadSnow(dev, snow)
}

// BindBathymetryTexture binds the current bathymetry of dev for a
// renderer and returns its unit.
func (t *WaterTable) BindBathymetryTexture(dev gpucore.Device, units *gpucore.TextureUnits, linear bool) (int, error) {
	r, err := t.context(dev)
	if err != nil {
		return 0, err
	}
	return r.bathymetry.BindCurrent(units, linear)
}

// BindQuantityTexture binds the current conserved quantities of dev.
func (t *WaterTable) BindQuantityTexture(dev gpucore.Device, units *gpucore.TextureUnits, linear bool) (int, error) {
	r, err := t.context(dev)
	if err != nil {
		return 0, err
	}
	return r.quantity.BindCurrent(units, linear)
}

// BindSnowTexture binds the current snow height of dev.
func (t *WaterTable) BindSnowTexture(dev gpucore.Device, units *gpucore.TextureUnits, linear bool) (int, error) {
	r, err := t.context(dev)
	if err != nil {
		return 0, err
	}
	return r.snow.BindCurrent(units, linear)
}

// BindDerivativeTexture binds the temporal derivative of the last pass.
func (t *WaterTable) BindDerivativeTexture(dev gpucore.Device, units *gpucore.TextureUnits) (int, error) {
	r, err := t.context(dev)
	if err != nil {
		return 0, err
	}
	return units.Bind(r.derivative)
}
