package sandbox

import (
	"github.com/gogpu/sandbox/gpucore"
	"github.com/gogpu/sandbox/internal/kernels"
)

// solverPrograms are the programs a water table builds on every device.
var solverPrograms = []kernels.Kind{
	kernels.DerivativeTraditional,
	kernels.DerivativeEngineering,
	kernels.EulerTraditional,
	kernels.EulerEngineering,
	kernels.RungeKuttaTraditional,
	kernels.RungeKuttaEngineering,
	kernels.Boundary,
	kernels.BathymetryUpdate,
	kernels.WaterAdapt,
	kernels.WaterUpdate,
	kernels.ReduceMin,
	kernels.AddDisk,
	kernels.AddConstant,
}

// Quantity slots. Slots 0 and 1 ping-pong between ticks; the predictor of
// a tick always goes to slot 2.
const predictorSlot = 2

// contextResources is the per-device state of a water table.
type contextResources struct {
	dev   gpucore.Device
	units *gpucore.TextureUnits

	bathymetry *gpucore.BufferedTexture // (W-1)x(H-1) vertices, R
	quantity   *gpucore.BufferedTexture // WxH cells, (w, hu, hv)
	derivative gpucore.TextureID        // WxH cells, (w, hu, hv)/s
	maxStep    *gpucore.BufferedTexture // WxH cells, R
	snow       *gpucore.BufferedTexture // WxH cells, R
	waterAdd   gpucore.TextureID        // WxH cells, R

	programs [kernels.KindCount]gpucore.ProgramID

	bathymetryVersion uint64
	bathymetryValid   bool
}

// context returns the resources of dev, creating them on first use.
func (t *WaterTable) context(dev gpucore.Device) (*contextResources, error) {
	return t.resources.Get(dev, func() (*contextResources, error) {
		return t.newContextResources(dev)
	})
}

func (t *WaterTable) newContextResources(dev gpucore.Device) (*contextResources, error) {
	r := &contextResources{
		dev:        dev,
		units:      gpucore.NewTextureUnits(dev),
		bathymetry: gpucore.NewBufferedTexture(2),
		quantity:   gpucore.NewBufferedTexture(3),
		maxStep:    gpucore.NewBufferedTexture(2),
		snow:       gpucore.NewBufferedTexture(2),
	}
	if err := r.init(t.size[0], t.size[1], t.domain.Min[2]); err != nil {
		r.destroy()
		return nil, err
	}
	Logger().Info("water table context initialized", "device", dev.Name(), "width", t.size[0], "height", t.size[1])
	return r, nil
}

func (r *contextResources) init(w, h int, zMin float32) error {
	dev := r.dev
	if err := r.bathymetry.Init(dev, "bathymetry", w-1, h-1, gpucore.TextureFormatR32Float, zMin); err != nil {
		return err
	}
	if err := r.quantity.Init(dev, "quantity", w, h, gpucore.TextureFormatRGBA32Float, zMin, 0, 0); err != nil {
		return err
	}
	if err := r.maxStep.Init(dev, "max_step", w, h, gpucore.TextureFormatR32Float, kernels.MaxStepFill); err != nil {
		return err
	}
	if err := r.snow.Init(dev, "snow", w, h, gpucore.TextureFormatR32Float, 0); err != nil {
		return err
	}

	var err error
	if r.derivative, err = dev.CreateTexture(&gpucore.TextureDesc{
		Label: "derivative", Width: w, Height: h, Format: gpucore.TextureFormatRGBA32Float,
	}); err != nil {
		return err
	}
	if r.waterAdd, err = dev.CreateTexture(&gpucore.TextureDesc{
		Label: "water_add", Width: w, Height: h, Format: gpucore.TextureFormatR32Float,
	}); err != nil {
		return err
	}

	for _, k := range solverPrograms {
		id, err := kernels.Create(dev, k)
		if err != nil {
			Logger().Error("water table program failed", "program", k.String(), "device", dev.Name(), "err", err)
			return err
		}
		r.programs[k] = id
	}
	return nil
}

// destroy releases everything created so far. It is safe on partially
// initialized resources.
func (r *contextResources) destroy() {
	for i, id := range r.programs {
		if id != gpucore.InvalidID {
			r.dev.DestroyProgram(id)
			r.programs[i] = gpucore.InvalidID
		}
	}
	for _, b := range []*gpucore.BufferedTexture{r.bathymetry, r.quantity, r.maxStep, r.snow} {
		b.Destroy()
	}
	for _, id := range []gpucore.TextureID{r.derivative, r.waterAdd} {
		if id != gpucore.InvalidID {
			r.dev.DestroyTexture(id)
		}
	}
	r.derivative, r.waterAdd = gpucore.InvalidID, gpucore.InvalidID
}

// ReleaseContext destroys the resources the table holds on dev. The next
// call with dev starts from a dry table again.
func (t *WaterTable) ReleaseContext(dev gpucore.Device) {
	t.resources.Release(dev, (*contextResources).destroy)
}

// Close releases the resources on every device.
func (t *WaterTable) Close() {
	t.resources.ReleaseAll((*contextResources).destroy)
}
