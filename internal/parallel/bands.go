package parallel

// MinBandRows is the smallest number of rows given to one work item.
// Smaller grids run in fewer bands.
const MinBandRows = 8

// Band is a half-open row range [Y0, Y1).
type Band struct {
	Y0, Y1 int
}

// Bands splits rows [y0, y1) into at most n bands of at least MinBandRows
// rows each. The last band absorbs the remainder.
func Bands(y0, y1, n int) []Band {
	rows := y1 - y0
	if rows <= 0 {
		return nil
	}
	n = max(min(n, rows/MinBandRows), 1)

	bands := make([]Band, 0, n)
	step := rows / n
	for i := range n {
		b := Band{Y0: y0 + i*step, Y1: y0 + (i+1)*step}
		if i == n-1 {
			b.Y1 = y1
		}
		bands = append(bands, b)
	}
	return bands
}

// ForRows calls fn once per band of [y0, y1) on the pool and waits for all
// bands to finish.
func (p *WorkerPool) ForRows(y0, y1 int, fn func(b Band)) {
	bands := Bands(y0, y1, p.workers*2)
	work := make([]func(), len(bands))
	for i, b := range bands {
		work[i] = func() { fn(b) }
	}
	p.ExecuteAll(work)
}
