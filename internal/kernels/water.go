package kernels

import "github.com/gogpu/sandbox/gpucore"

// bathymetryUpdateKernel moves the water surface with the terrain: the
// water depth over the old bathymetry is kept over the new one.
//
// Inputs: old bathymetry, new bathymetry, quantity.
func bathymetryUpdateKernel(inv *gpucore.Invocation, y, x0, x1 int) {
	oldB, newB, quant := inv.Inputs[0], inv.Inputs[1], inv.Inputs[2]
	for x := x0; x < x1; x++ {
		q := load(quant.Fetch(x, y))
		h := q[0] - cellBathymetry(oldB, x, y)
		bc := cellBathymetry(newB, x, y)
		if h <= 0 {
			inv.Targets[0].Store(x, y, [4]float32{bc})
			continue
		}
		inv.Targets[0].Store(x, y, [4]float32{bc + h, q[1], q[2], 0})
	}
}

// waterAdaptKernel replaces the water surface with an externally supplied
// level, never below the bathymetry, and stops all flow.
//
// Inputs: bathymetry, water level.
func waterAdaptKernel(inv *gpucore.Invocation, y, x0, x1 int) {
	bathy, level := inv.Inputs[0], inv.Inputs[1]
	for x := x0; x < x1; x++ {
		w := max(level.Fetch(x, y)[0], cellBathymetry(bathy, x, y))
		inv.Targets[0].Store(x, y, [4]float32{w})
	}
}

// waterUpdateKernel folds the water-add field and snow melt into the
// quantity and snow grids. Positive additions on terrain at or above the
// snow line fall as snow.
//
// Inputs: bathymetry, quantity, snow, water-add. Targets: quantity, snow.
// Params: snow line, melt amount for this step.
func waterUpdateKernel(inv *gpucore.Invocation, y, x0, x1 int) {
	bathy, quant, snow, add := inv.Inputs[0], inv.Inputs[1], inv.Inputs[2], inv.Inputs[3]
	snowLine, melt := inv.Param(ParamSnowLine), inv.Param(ParamSnowMelt)
	for x := x0; x < x1; x++ {
		bc := cellBathymetry(bathy, x, y)
		q := load(quant.Fetch(x, y))
		s := snow.Fetch(x, y)[0]
		a := add.Fetch(x, y)[0]

		if a > 0 && bc >= snowLine {
			s += a
		} else {
			q[0] += a
		}
		m := min(s, melt)
		s -= m
		q[0] += m

		inv.Targets[0].Store(x, y, dry(q, bc))
		inv.Targets[1].Store(x, y, [4]float32{s})
	}
}

// addDiskKernel adds an amount to every texel whose center lies inside a
// disk. Params: center x, center y, radius (texels), amount.
func addDiskKernel(inv *gpucore.Invocation, y, x0, x1 int) {
	cx, cy := inv.Param(ParamDiskCenterX), inv.Param(ParamDiskCenterY)
	r, amount := inv.Param(ParamDiskRadius), inv.Param(ParamDiskAmount)
	dy := float32(y) + 0.5 - cy
	for x := x0; x < x1; x++ {
		dx := float32(x) + 0.5 - cx
		if dx*dx+dy*dy <= r*r {
			inv.Targets[0].Store(x, y, [4]float32{amount})
		}
	}
}

// addConstantKernel adds params[0] to every texel of the pass region.
func addConstantKernel(inv *gpucore.Invocation, y, x0, x1 int) {
	v := [4]float32{inv.Param(0)}
	for x := x0; x < x1; x++ {
		inv.Targets[0].Store(x, y, v)
	}
}
