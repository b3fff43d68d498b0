package gpucore

// Kernel is the CPU reference implementation of a program. It computes the
// texels x0 <= x < x1 of row y of the pass region. Kernels for different
// rows may run concurrently and must only write through inv.Targets.
type Kernel func(inv *Invocation, y, x0, x1 int)

// Invocation is the state a Kernel sees for one pass.
type Invocation struct {
	// Inputs are the bound textures in pass order.
	Inputs []Sampler

	// Targets are the pass targets in pass order.
	Targets []Target

	Params []float32

	// Width and Height are the size of the targets.
	Width, Height int
}

// Param returns parameter i, or 0 if the pass supplied fewer.
func (inv *Invocation) Param(i int) float32 {
	if i < len(inv.Params) {
		return inv.Params[i]
	}
	return 0
}

// Sampler reads an input texture.
type Sampler interface {
	Size() (width, height int)

	// Fetch returns texel (x, y). Coordinates outside the texture are
	// clamped to the nearest edge texel.
	Fetch(x, y int) [4]float32

	// Sample returns the value at texel-space position (u, v), where
	// texel (i, j) covers [i, i+1) x [j, j+1) and its center is at
	// (i+0.5, j+0.5). The texture's filter mode selects nearest or
	// bilinear interpolation.
	Sample(u, v float32) [4]float32
}

// Target receives a pass's output texels.
type Target interface {
	Store(x, y int, v [4]float32)
}
