package sandbox

import (
	"fmt"
	"math"

	"github.com/gogpu/sandbox/gpucore"
	"github.com/gogpu/sandbox/internal/kernels"
)

const cflFactor = kernels.CFLFactor

// RunSimulationStep advances the water on dev by one tick and returns the
// step size used.
//
// Unless forceStepSize is set, the step size is the largest stable step
// over all cells, clamped to MaxStepSize. A forced step uses MaxStepSize
// as is and may be unstable.
//
// Passes within a tick depend on each other strictly in order: bathymetry
// sync, derivative, Euler predictor, derivative at the predictor,
// Runge-Kutta corrector, dry boundary, then sources.
func (t *WaterTable) RunSimulationStep(dev gpucore.Device, forceStepSize bool) (float32, error) {
	if t.mode == Engineering && t.property == nil {
		return 0, ErrNoPropertyGrid
	}
	r, err := t.context(dev)
	if err != nil {
		return 0, err
	}
	if err := t.updateBathymetry(r); err != nil {
		return 0, err
	}

	cur := r.quantity.Current()
	next := r.quantity.Other()

	dt, err := t.calcDerivative(r, cur, !forceStepSize)
	if err != nil {
		return 0, err
	}

	stepProgram, rkProgram := kernels.EulerTraditional, kernels.RungeKuttaTraditional
	if t.mode == Engineering {
		stepProgram, rkProgram = kernels.EulerEngineering, kernels.RungeKuttaEngineering
	}
	params := t.integrationParams(dt)

	if err := t.runPass(r, "euler", stepProgram, params, gpucore.Rect{}, []gpucore.TextureID{r.quantity.Texture(predictorSlot)},
		r.bathymetry.CurrentTexture(), r.quantity.Texture(cur), r.derivative); err != nil {
		return 0, err
	}

	if _, err := t.calcDerivative(r, predictorSlot, false); err != nil {
		return 0, err
	}

	if err := t.runPass(r, "runge_kutta", rkProgram, params, gpucore.Rect{}, []gpucore.TextureID{r.quantity.Texture(next)},
		r.bathymetry.CurrentTexture(), r.quantity.Texture(cur), r.quantity.Texture(predictorSlot), r.derivative); err != nil {
		return 0, err
	}

	if t.dryBoundary {
		if err := t.enforceDryBoundary(r, next); err != nil {
			return 0, err
		}
	}
	r.quantity.SetCurrent(next)

	if t.waterDeposit != 0 || len(t.sources) > 0 {
		if err := t.applySources(r, dt); err != nil {
			return 0, err
		}
	}

	Logger().Debug("simulation step", "device", dev.Name(), "dt", dt, "mode", t.mode.String())
	return dt, nil
}

// integrationParams returns the parameters of the Euler and Runge-Kutta
// programs for step dt.
func (t *WaterTable) integrationParams(dt float32) []float32 {
	if t.mode == Engineering {
		p := make([]float32, 3)
		p[kernels.ParamStepSize] = dt
		p[kernels.ParamStepGravity] = t.g
		p[kernels.ParamStepEpsilon] = t.epsilon
		return p
	}
	p := make([]float32, 2)
	p[kernels.ParamStepSize] = dt
	p[kernels.ParamStepAttenuation] = float32(math.Pow(float64(t.attenuation), float64(dt)))
	return p
}

// derivativeParams returns the parameters of the derivative programs.
func (t *WaterTable) derivativeParams() []float32 {
	p := make([]float32, kernels.NumDerivativeParams)
	p[kernels.ParamCellSizeX] = t.cellSize[0]
	p[kernels.ParamCellSizeY] = t.cellSize[1]
	p[kernels.ParamTheta] = t.theta
	p[kernels.ParamGravity] = t.g
	p[kernels.ParamEpsilon] = t.epsilon
	p[kernels.ParamMaxSpeedX] = t.maxPropagationSpeed[0]
	p[kernels.ParamMaxSpeedY] = t.maxPropagationSpeed[1]
	return p
}

// calcDerivative writes the temporal derivative of quantity slot q into
// the derivative texture and, when reduce is set, returns the largest
// stable step size. Otherwise it returns the step size ceiling.
func (t *WaterTable) calcDerivative(r *contextResources, q int, reduce bool) (float32, error) {
	program := kernels.DerivativeTraditional
	if t.mode == Engineering {
		program = kernels.DerivativeEngineering
	}

	units := r.units
	units.Reset()
	if _, err := r.bathymetry.BindCurrent(units, false); err != nil {
		return 0, err
	}
	if _, err := r.quantity.Bind(units, q, false); err != nil {
		return 0, err
	}
	if t.mode == Engineering {
		if _, err := t.property.BindPropertyGridTexture(r.dev, units); err != nil {
			return 0, fmt.Errorf("sandbox: bind property grid: %w", err)
		}
	}
	err := r.dev.Dispatch(&gpucore.Pass{
		Label:   "derivative",
		Program: r.programs[program],
		Inputs:  units.Units(),
		Targets: []gpucore.TextureID{r.derivative, r.maxStep.Texture(0)},
		Params:  t.derivativeParams(),
	})
	if err != nil {
		return 0, err
	}
	if !reduce {
		return t.maxStepSize, nil
	}
	step, err := t.reduceMaxStep(r)
	if err != nil {
		return 0, err
	}
	return min(step, t.maxStepSize), nil
}

// reduceMaxStep folds the max-step field into its minimum by halving it
// until one texel is left.
func (t *WaterTable) reduceMaxStep(r *contextResources) (float32, error) {
	w, h := t.size[0], t.size[1]
	src := 0
	for w > 1 || h > 1 {
		nw, nh := (w+1)/2, (h+1)/2
		params := make([]float32, 2)
		params[kernels.ParamReduceLastX] = float32(w - 1)
		params[kernels.ParamReduceLastY] = float32(h - 1)
		err := t.runPass(r, "reduce_min", kernels.ReduceMin, params, gpucore.Rect{W: nw, H: nh},
			[]gpucore.TextureID{r.maxStep.Texture(1 - src)}, r.maxStep.Texture(src))
		if err != nil {
			return 0, err
		}
		w, h, src = nw, nh, 1-src
	}

	var v [1]float32
	if err := r.dev.ReadTexture(r.maxStep.Texture(src), gpucore.Rect{W: 1, H: 1}, v[:]); err != nil {
		return 0, err
	}
	return v[0], nil
}

// enforceDryBoundary resets the outermost ring of quantity slot q to dry,
// motionless water.
func (t *WaterTable) enforceDryBoundary(r *contextResources, q int) error {
	w, h := t.size[0], t.size[1]
	ring := []gpucore.Rect{
		{X: 0, Y: 0, W: w, H: 1},
		{X: 0, Y: h - 1, W: w, H: 1},
		{X: 0, Y: 1, W: 1, H: h - 2},
		{X: w - 1, Y: 1, W: 1, H: h - 2},
	}
	for _, region := range ring {
		if region.Empty() {
			continue
		}
		if err := t.runPass(r, "boundary", kernels.Boundary, nil, region,
			[]gpucore.TextureID{r.quantity.Texture(q)}, r.bathymetry.CurrentTexture()); err != nil {
			return err
		}
	}
	return nil
}

// runPass binds inputs in order with nearest sampling and dispatches
// program over region of targets.
func (t *WaterTable) runPass(r *contextResources, label string, program kernels.Kind, params []float32,
	region gpucore.Rect, targets []gpucore.TextureID, inputs ...gpucore.TextureID) error {
	units := r.units
	units.Reset()
	for _, id := range inputs {
		if _, err := units.Bind(id); err != nil {
			return err
		}
	}
	if t.mode == Engineering && needsPropertyGrid(program) {
		if _, err := t.property.BindPropertyGridTexture(r.dev, units); err != nil {
			return fmt.Errorf("sandbox: bind property grid: %w", err)
		}
	}
	return r.dev.Dispatch(&gpucore.Pass{
		Label:   label,
		Program: r.programs[program],
		Inputs:  units.Units(),
		Targets: targets,
		Region:  region,
		Params:  params,
	})
}

func needsPropertyGrid(k kernels.Kind) bool {
	switch k {
	case kernels.DerivativeEngineering, kernels.EulerEngineering, kernels.RungeKuttaEngineering:
		return true
	}
	return false
}
