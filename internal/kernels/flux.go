package kernels

import "math"

// quantity is (w, hu, hv): surface elevation and the two discharges.
type quantity [3]float32

func load(v [4]float32) quantity { return quantity{v[0], v[1], v[2]} }

// fluxParams are the numerical coefficients of the central-upwind scheme.
type fluxParams struct {
	dx, dy    float32
	theta     float32
	g         float32
	eps4      float32
	maxSpeedX float32
	maxSpeedY float32
}

func readFluxParams(p []float32) fluxParams {
	at := func(i int) float32 {
		if i < len(p) {
			return p[i]
		}
		return 0
	}
	eps := at(ParamEpsilon)
	return fluxParams{
		dx:        at(ParamCellSizeX),
		dy:        at(ParamCellSizeY),
		theta:     at(ParamTheta),
		g:         at(ParamGravity),
		eps4:      eps * eps * eps * eps,
		maxSpeedX: at(ParamMaxSpeedX),
		maxSpeedY: at(ParamMaxSpeedY),
	}
}

func minmod(a, b, c float32) float32 {
	switch {
	case a > 0 && b > 0 && c > 0:
		return min(a, b, c)
	case a < 0 && b < 0 && c < 0:
		return max(a, b, c)
	default:
		return 0
	}
}

// slope returns the theta-limited slope of the middle of three values.
func slope(qm, q, qp, theta float32) float32 {
	return minmod(theta*(q-qm), 0.5*(qp-qm), theta*(qp-q))
}

// reconstruct returns the limited face values of cell q on its low and
// high side. The surface elevation is corrected so that neither face lies
// below its face bathymetry while the cell average is kept.
func reconstruct(qm, q, qp quantity, bLow, bHigh, theta float32) (low, high quantity) {
	for i := range q {
		s := 0.5 * slope(qm[i], q[i], qp[i], theta)
		low[i] = q[i] - s
		high[i] = q[i] + s
	}
	if high[0] < bHigh {
		high[0] = bHigh
		low[0] = 2*q[0] - bHigh
	}
	if low[0] < bLow {
		low[0] = bLow
		high[0] = 2*q[0] - bLow
	}
	return low, high
}

// desingularize returns the velocity for discharge q at depth h without
// blowing up as h approaches zero.
func desingularize(h, q, eps4 float32) float32 {
	h2 := h * h
	h4 := h2 * h2
	return float32(math.Sqrt2) * h * q / float32(math.Sqrt(float64(h4+max(h4, eps4))))
}

// faceFlux returns the central-upwind flux across a face with bathymetry
// b between the reconstructed states l and r, and the largest wave speed at
// the face. Components 1 and 2 are the normal and tangential discharge;
// callers rotate y faces into this frame.
func faceFlux(l, r quantity, b, maxSpeed float32, p *fluxParams) (quantity, float32) {
	hl := max(l[0]-b, 0)
	hr := max(r[0]-b, 0)

	ul := desingularize(hl, l[1], p.eps4)
	vl := desingularize(hl, l[2], p.eps4)
	ur := desingularize(hr, r[1], p.eps4)
	vr := desingularize(hr, r[2], p.eps4)

	ql := quantity{l[0], hl * ul, hl * vl}
	qr := quantity{r[0], hr * ur, hr * vr}

	cl := float32(math.Sqrt(float64(p.g * hl)))
	cr := float32(math.Sqrt(float64(p.g * hr)))

	ap := min(max(ul+cl, ur+cr, 0), maxSpeed)
	am := max(min(ul-cl, ur-cr, 0), -maxSpeed)

	denom := ap - am
	if denom <= 0 {
		return quantity{}, 0
	}

	fl := quantity{ql[1], ql[1]*ul + 0.5*p.g*hl*hl, ql[1] * vl}
	fr := quantity{qr[1], qr[1]*ur + 0.5*p.g*hr*hr, qr[1] * vr}

	var f quantity
	for i := range f {
		f[i] = (ap*fl[i] - am*fr[i] + ap*am*(qr[i]-ql[i])) / denom
	}
	return f, max(ap, -am)
}

func swapDischarge(q quantity) quantity { return quantity{q[0], q[2], q[1]} }
