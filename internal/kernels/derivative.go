package kernels

import (
	"math"

	"github.com/gogpu/sandbox/gpucore"
)

// MaxStepFill is the step size reported by dry cells, and the initial
// value of the max-step field.
const MaxStepFill = 10000

// CFLFactor scales the local wave-crossing time into a stable step size.
const CFLFactor = 0.25

// cellBathymetry returns the bathymetry at the center of cell (x, y), the
// mean of its four corner vertices. Vertex (i, j) is the corner shared by
// cells (i, j), (i+1, j), (i, j+1) and (i+1, j+1).
func cellBathymetry(b gpucore.Sampler, x, y int) float32 {
	return 0.25 * (b.Fetch(x-1, y-1)[0] + b.Fetch(x, y-1)[0] + b.Fetch(x-1, y)[0] + b.Fetch(x, y)[0])
}

// cellDerivative evaluates the semi-discrete right-hand side of the
// shallow-water equations for cell (x, y) and the cell's stable step size.
func cellDerivative(bathy, quant gpucore.Sampler, x, y int, p *fluxParams) (quantity, float32) {
	b := func(i, j int) float32 { return bathy.Fetch(i, j)[0] }

	// Face bathymetry between cells i and i+1 in row y, and between rows
	// j and j+1 in column x.
	bx := func(i int) float32 { return 0.5 * (b(i, y-1) + b(i, y)) }
	by := func(j int) float32 { return 0.5 * (b(x-1, j) + b(x, j)) }

	var qx, qy [5]quantity
	for k := range 5 {
		qx[k] = load(quant.Fetch(x+k-2, y))
		qy[k] = swapDischarge(load(quant.Fetch(x, y+k-2)))
	}

	_, highW := reconstruct(qx[0], qx[1], qx[2], bx(x-2), bx(x-1), p.theta)
	lowC, highC := reconstruct(qx[1], qx[2], qx[3], bx(x-1), bx(x), p.theta)
	lowE, _ := reconstruct(qx[2], qx[3], qx[4], bx(x), bx(x+1), p.theta)
	fW, aW := faceFlux(highW, lowC, bx(x-1), p.maxSpeedX, p)
	fE, aE := faceFlux(highC, lowE, bx(x), p.maxSpeedX, p)

	_, highS := reconstruct(qy[0], qy[1], qy[2], by(y-2), by(y-1), p.theta)
	lowM, highM := reconstruct(qy[1], qy[2], qy[3], by(y-1), by(y), p.theta)
	lowN, _ := reconstruct(qy[2], qy[3], qy[4], by(y), by(y+1), p.theta)
	gS, aS := faceFlux(highS, lowM, by(y-1), p.maxSpeedY, p)
	gN, aN := faceFlux(highM, lowN, by(y), p.maxSpeedY, p)
	gS, gN = swapDischarge(gS), swapDischarge(gN)

	h := max(qx[2][0]-cellBathymetry(bathy, x, y), 0)

	var d quantity
	for i := range d {
		d[i] = -(fE[i]-fW[i])/p.dx - (gN[i]-gS[i])/p.dy
	}
	d[1] -= p.g * h * (bx(x) - bx(x-1)) / p.dx
	d[2] -= p.g * h * (by(y) - by(y-1)) / p.dy

	step := float32(math.Inf(1))
	if a := max(aW, aE); a > 0 {
		step = p.dx / a
	}
	if a := max(aS, aN); a > 0 {
		step = min(step, p.dy/a)
	}
	return d, min(CFLFactor*step, MaxStepFill)
}

// derivativeKernel writes the time derivative of the conserved quantities
// into target 0 and the per-cell stable step size into target 1.
//
// Inputs: bathymetry, quantity, and for engineering mode the property grid
// (roughness, absorption). Engineering mode drains water at the cell's
// absorption rate.
func derivativeKernel(engineering bool) gpucore.Kernel {
	return func(inv *gpucore.Invocation, y, x0, x1 int) {
		p := readFluxParams(inv.Params)
		bathy, quant := inv.Inputs[0], inv.Inputs[1]
		for x := x0; x < x1; x++ {
			d, step := cellDerivative(bathy, quant, x, y, &p)
			if engineering {
				absorption := inv.Inputs[2].Fetch(x, y)[1]
				if quant.Fetch(x, y)[0] > cellBathymetry(bathy, x, y) {
					d[0] -= absorption
				}
			}
			inv.Targets[0].Store(x, y, [4]float32{d[0], d[1], d[2], 0})
			inv.Targets[1].Store(x, y, [4]float32{step})
		}
	}
}

// reduceMinKernel writes the minimum of each 2x2 block of input 0. The
// input level may occupy only part of its texture; params hold the last
// valid column and row, and odd sizes repeat that edge.
func reduceMinKernel(inv *gpucore.Invocation, y, x0, x1 int) {
	src := inv.Inputs[0]
	lx, ly := int(inv.Param(ParamReduceLastX)), int(inv.Param(ParamReduceLastY))
	ya, yb := min(2*y, ly), min(2*y+1, ly)
	for x := x0; x < x1; x++ {
		xa, xb := min(2*x, lx), min(2*x+1, lx)
		v := min(src.Fetch(xa, ya)[0], src.Fetch(xb, ya)[0],
			src.Fetch(xa, yb)[0], src.Fetch(xb, yb)[0])
		inv.Targets[0].Store(x, y, [4]float32{v})
	}
}
