package sandbox

import (
	"gonum.org/v1/gonum/floats"

	"github.com/gogpu/sandbox/gpucore"
)

// Stats summarizes the water on one device.
type Stats struct {
	// Volume is the total water volume in cubic world units.
	Volume float64

	// MaxDepth is the largest water depth of any cell.
	MaxDepth float64

	// WetCells is the number of cells holding water.
	WetCells int

	// Snow is the total snow volume.
	Snow float64
}

// Volume returns the total water volume on dev: the sum of the cell
// depths above the cell bathymetry, times the cell area.
func (t *WaterTable) Volume(dev gpucore.Device) (float64, error) {
	s, err := t.Stats(dev)
	return s.Volume, err
}

// Stats reads back the grids of dev and summarizes them.
func (t *WaterTable) Stats(dev gpucore.Device) (Stats, error) {
	w, h := t.size[0], t.size[1]
	bathy := make([]float32, (w-1)*(h-1))
	water := make([]float32, w*h)
	snow := make([]float32, w*h)
	if err := t.ReadGrids(dev, bathy, water, snow); err != nil {
		return Stats{}, err
	}

	depths := CellDepths(w, h, bathy, water)
	area := float64(t.cellSize[0]) * float64(t.cellSize[1])

	s := Stats{
		Volume:   floats.Sum(depths) * area,
		MaxDepth: floats.Max(depths),
	}
	for _, d := range depths {
		if d > 0 {
			s.WetCells++
		}
	}
	snowVol := make([]float64, len(snow))
	for i, v := range snow {
		snowVol[i] = float64(v)
	}
	s.Snow = floats.Sum(snowVol) * area
	return s, nil
}

// CellDepths returns max(w - B, 0) per cell of a w x h water grid, where B
// is the mean of the cell's four bathymetry corners and corners outside
// the (w-1) x (h-1) vertex grid repeat its edge.
func CellDepths(w, h int, bathymetry, water []float32) []float64 {
	bw, bh := w-1, h-1
	vertex := func(x, y int) float64 {
		x = min(max(x, 0), bw-1)
		y = min(max(y, 0), bh-1)
		return float64(bathymetry[y*bw+x])
	}
	depths := make([]float64, w*h)
	for y := range h {
		for x := range w {
			b := 0.25 * (vertex(x-1, y-1) + vertex(x, y-1) + vertex(x-1, y) + vertex(x, y))
			depths[y*w+x] = max(float64(water[y*w+x])-b, 0)
		}
	}
	return depths
}
