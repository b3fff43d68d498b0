package kernels

import "github.com/gogpu/sandbox/gpucore"

// ResampleIterations is the number of fixed-point refinements used to find
// the surface point seen by a target texel when the target frame is tilted
// against the elevation grid.
const ResampleIterations = 3

// resampleKernel renders a height field into a target grid.
//
// The target frame is an affine map T of grid space (x, y, elevation).
// For each target texel center (tx, ty) the kernel solves
// T(x, y, e(x, y)).xy = (tx, ty) by fixed-point iteration on e and stores
// T(x, y, e).z. With an untilted frame the first iteration is exact.
//
// Input: the elevation grid, sampled with its filter mode. Params: see
// ParamResample*.
func resampleKernel(inv *gpucore.Invocation, y, x0, x1 int) {
	src := inv.Inputs[0]
	p := func(i int) float32 { return inv.Param(ParamResampleInverse + i) }
	a, b, c, d := p(0), p(1), p(2), p(3)
	m02, m03, m12, m13 := p(4), p(5), p(6), p(7)
	m20, m21, m22, m23 := p(8), p(9), p(10), p(11)
	su, ou, sv, ov := p(12), p(13), p(14), p(15)

	ty := float32(y) + 0.5
	for x := x0; x < x1; x++ {
		tx := float32(x) + 0.5
		var wx, wy, z float32
		for range ResampleIterations {
			rx := tx - m02*z - m03
			ry := ty - m12*z - m13
			wx = a*rx + b*ry
			wy = c*rx + d*ry
			z = src.Sample(su*wx+ou, sv*wy+ov)[0]
		}
		inv.Targets[0].Store(x, y, [4]float32{m20*wx + m21*wy + m22*z + m23})
	}
}
