package kernels

import (
	"math"

	"github.com/gogpu/sandbox/gpucore"
)

// finishTraditional damps the discharges and dries cells whose surface
// fell to the bathymetry.
func finishTraditional(q quantity, bc, attenuation float32) [4]float32 {
	q[1] *= attenuation
	q[2] *= attenuation
	return dry(q, bc)
}

// finishEngineering applies Manning bed friction with roughness n,
// integrated semi-implicitly over dt so it cannot reverse the flow.
func finishEngineering(q quantity, bc, n, dt, g, eps float32) [4]float32 {
	if h := q[0] - bc; h > 0 {
		eps4 := eps * eps * eps * eps
		u := desingularize(h, q[1], eps4)
		v := desingularize(h, q[2], eps4)
		speed := float32(math.Sqrt(float64(u*u + v*v)))
		hk := float32(math.Pow(float64(max(h, eps)), 4.0/3.0))
		f := 1 / (1 + dt*g*n*n*speed/hk)
		q[1] *= f
		q[2] *= f
	}
	return dry(q, bc)
}

func dry(q quantity, bc float32) [4]float32 {
	if q[0] <= bc {
		return [4]float32{bc, 0, 0, 0}
	}
	return [4]float32{q[0], q[1], q[2], 0}
}

// eulerKernel advances the quantity by one forward Euler step.
//
// Inputs: bathymetry, quantity, derivative (+ property grid).
// Params: dt, then the attenuation factor (traditional) or g and epsilon
// (engineering).
func eulerKernel(engineering bool) gpucore.Kernel {
	return func(inv *gpucore.Invocation, y, x0, x1 int) {
		dt := inv.Param(ParamStepSize)
		bathy, quant, deriv := inv.Inputs[0], inv.Inputs[1], inv.Inputs[2]
		for x := x0; x < x1; x++ {
			q, d := load(quant.Fetch(x, y)), load(deriv.Fetch(x, y))
			for i := range q {
				q[i] += dt * d[i]
			}
			bc := cellBathymetry(bathy, x, y)
			if engineering {
				n := inv.Inputs[3].Fetch(x, y)[0]
				inv.Targets[0].Store(x, y, finishEngineering(q, bc, n, dt, inv.Param(ParamStepGravity), inv.Param(ParamStepEpsilon)))
			} else {
				inv.Targets[0].Store(x, y, finishTraditional(q, bc, inv.Param(ParamStepAttenuation)))
			}
		}
	}
}

// rungeKuttaKernel combines the state at the start of the step, the Euler
// predictor, and the derivative at the predictor into the second-order
// result.
//
// Inputs: bathymetry, quantity, predictor, predictor derivative (+ property
// grid). Params as for eulerKernel.
func rungeKuttaKernel(engineering bool) gpucore.Kernel {
	return func(inv *gpucore.Invocation, y, x0, x1 int) {
		dt := inv.Param(ParamStepSize)
		bathy, quant, star, deriv := inv.Inputs[0], inv.Inputs[1], inv.Inputs[2], inv.Inputs[3]
		for x := x0; x < x1; x++ {
			q0, q1, d := load(quant.Fetch(x, y)), load(star.Fetch(x, y)), load(deriv.Fetch(x, y))
			var q quantity
			for i := range q {
				q[i] = 0.5 * (q0[i] + q1[i] + dt*d[i])
			}
			bc := cellBathymetry(bathy, x, y)
			if engineering {
				n := inv.Inputs[4].Fetch(x, y)[0]
				inv.Targets[0].Store(x, y, finishEngineering(q, bc, n, dt, inv.Param(ParamStepGravity), inv.Param(ParamStepEpsilon)))
			} else {
				inv.Targets[0].Store(x, y, finishTraditional(q, bc, inv.Param(ParamStepAttenuation)))
			}
		}
	}
}

// boundaryKernel sets cells to dry, motionless water at the bathymetry.
// The solver runs it over the outermost ring of the grid.
func boundaryKernel(inv *gpucore.Invocation, y, x0, x1 int) {
	bathy := inv.Inputs[0]
	for x := x0; x < x1; x++ {
		inv.Targets[0].Store(x, y, [4]float32{cellBathymetry(bathy, x, y)})
	}
}
