package sandbox

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/sandbox/gpucore"
)

// Errors returned by WaterTable.
var (
	// ErrInvalidSize is returned for grids smaller than 2x2 cells or
	// non-positive cell sizes.
	ErrInvalidSize = errors.New("sandbox: invalid grid size")

	// ErrNoPropertyGrid is returned when Engineering mode runs without a
	// property grid.
	ErrNoPropertyGrid = errors.New("sandbox: engineering mode requires a property grid")

	// ErrDegenerateBase is returned when the base plane corners do not span
	// an area.
	ErrDegenerateBase = errors.New("sandbox: degenerate base plane corners")
)

// Mode selects how the solver dissipates energy.
type Mode int

const (
	// Traditional damps discharges by a uniform attenuation factor per
	// second of simulated time.
	Traditional Mode = iota

	// Engineering applies per-cell Manning roughness and absorption from a
	// property grid.
	Engineering
)

func (m Mode) String() string {
	switch m {
	case Traditional:
		return "traditional"
	case Engineering:
		return "engineering"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Box is an axis-aligned box.
type Box struct {
	Min, Max mgl32.Vec3
}

// Size returns the box extent along each axis.
func (b Box) Size() mgl32.Vec3 { return b.Max.Sub(b.Min) }

// WaterTable simulates water flowing over a terrain surface with the
// shallow-water equations on a regular grid of cells.
//
// The table itself holds only parameters. Textures and programs live in
// per-device bundles created on first use by a device and released with
// ReleaseContext or Close.
//
// A WaterTable is not safe for concurrent use. Setters take effect at the
// next tick.
type WaterTable struct {
	size     [2]int
	cellSize [2]float32

	elevation ElevationProvider
	property  PropertyGridProvider

	domain                Box
	baseTransform         mgl32.Mat4
	bathymetryProjection  mgl32.Mat4
	waterAddProjection    mgl32.Mat4
	waterTextureTransform mgl32.Mat4

	mode                Mode
	theta               float32
	g                   float32
	epsilon             float32
	maxPropagationSpeed [2]float32
	attenuation         float32
	maxStepSize         float32
	waterDeposit        float32
	dryBoundary         bool
	snowLine            float32
	snowMelt            float32

	sources   []WaterSource
	resources gpucore.Resources[*contextResources]
}

// NewWaterTable creates a water table over the terrain of an elevation
// provider. The four corners (in the provider's world space, ordered
// lower-left, lower-right, upper-left, upper-right) are projected onto the
// provider's base plane and define the simulated area.
func NewWaterTable(width, height int, elevation ElevationProvider, corners [4]mgl32.Vec3, opts ...Option) (*WaterTable, error) {
	if width < 2 || height < 2 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	if elevation == nil {
		return nil, errors.New("sandbox: elevation provider must not be nil")
	}

	base, err := uprightTransform(elevation.BasePlane(), corners)
	if err != nil {
		return nil, err
	}

	t := &WaterTable{size: [2]int{width, height}, elevation: elevation, baseTransform: base}

	plane := elevation.BasePlane()
	t.domain = Box{
		Min: mgl32.Vec3{inf32(1), inf32(1), 0},
		Max: mgl32.Vec3{inf32(-1), inf32(-1), 0},
	}
	for _, c := range corners {
		p := base.Mul4x1(projectToPlane(plane, c).Vec4(1)).Vec3()
		for i := range 2 {
			t.domain.Min[i] = min(t.domain.Min[i], p[i])
			t.domain.Max[i] = max(t.domain.Max[i], p[i])
		}
	}
	for i := range 2 {
		t.cellSize[i] = (t.domain.Max[i] - t.domain.Min[i]) / float32(t.size[i])
		if !(t.cellSize[i] > 0) {
			return nil, ErrDegenerateBase
		}
	}

	t.init(opts)
	return t, nil
}

// NewOfflineWaterTable creates a water table without an elevation
// provider, covering [0, width*cellSize[0]] x [0, height*cellSize[1]].
// Bathymetry is supplied through SetBathymetry.
func NewOfflineWaterTable(width, height int, cellSize [2]float32, opts ...Option) (*WaterTable, error) {
	if width < 2 || height < 2 || !(cellSize[0] > 0) || !(cellSize[1] > 0) {
		return nil, fmt.Errorf("%w: %dx%d cells of %vx%v", ErrInvalidSize, width, height, cellSize[0], cellSize[1])
	}
	t := &WaterTable{
		size:          [2]int{width, height},
		cellSize:      cellSize,
		baseTransform: mgl32.Ident4(),
		domain: Box{
			Max: mgl32.Vec3{float32(width) * cellSize[0], float32(height) * cellSize[1], 0},
		},
	}
	t.init(opts)
	return t, nil
}

func (t *WaterTable) init(opts []Option) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	t.domain.Min[2] = o.elevationMin
	t.domain.Max[2] = o.elevationMax
	t.mode = o.mode
	t.property = o.property

	t.theta = 1.3
	t.g = 9.81
	t.epsilon = 0.01 * max(t.cellSize[0], t.cellSize[1], 1)
	t.maxPropagationSpeed = [2]float32{1e10, 1e10}
	t.attenuation = 127.0 / 128.0
	t.maxStepSize = 1
	t.dryBoundary = true
	t.snowLine = inf32(1)

	t.calcTransformations()
}

func inf32(sign int) float32 { return float32(math.Inf(sign)) }

// projectToPlane returns the orthogonal projection of p onto plane.
func projectToPlane(plane mgl32.Vec4, p mgl32.Vec3) mgl32.Vec3 {
	n := plane.Vec3()
	l2 := n.Dot(n)
	if l2 == 0 {
		return p
	}
	return p.Sub(n.Mul((n.Dot(p) + plane[3]) / l2))
}

// uprightTransform returns the rigid transformation from world space into
// upright elevation space: origin at the centroid of the projected
// corners, x along the averaged bottom and top edges, z along the plane
// normal.
func uprightTransform(plane mgl32.Vec4, corners [4]mgl32.Vec3) (mgl32.Mat4, error) {
	var bpc [4]mgl32.Vec3
	var centroid mgl32.Vec3
	for i, c := range corners {
		bpc[i] = projectToPlane(plane, c)
		centroid = centroid.Add(bpc[i].Mul(0.25))
	}

	z := plane.Vec3()
	x := bpc[1].Sub(bpc[0]).Add(bpc[3].Sub(bpc[2]))
	if z.Len() == 0 || x.Len() == 0 {
		return mgl32.Mat4{}, ErrDegenerateBase
	}
	z = z.Normalize()
	x = x.Sub(z.Mul(x.Dot(z))).Normalize()
	y := z.Cross(x)

	// Rows of the inverse rotation, followed by the translation of the
	// centroid to the origin.
	return mgl32.Mat4FromRows(
		x.Vec4(-x.Dot(centroid)),
		y.Vec4(-y.Dot(centroid)),
		z.Vec4(-z.Dot(centroid)),
		mgl32.Vec4{0, 0, 0, 1},
	), nil
}

// calcTransformations derives every projection from the domain and the
// base transform.
func (t *WaterTable) calcTransformations() {
	d := t.domain
	hw, hh := t.cellSize[0]/2, t.cellSize[1]/2

	// Bathymetry vertices sit on cell corners, half a cell inside the
	// domain boundary.
	t.bathymetryProjection = mgl32.Ortho(d.Min[0]+hw, d.Max[0]-hw, d.Min[1]+hh, d.Max[1]-hh, -d.Max[2], -d.Min[2]).
		Mul4(t.baseTransform)

	t.waterAddProjection = mgl32.Ortho(d.Min[0], d.Max[0], d.Min[1], d.Max[1], -d.Max[2]*5, -d.Min[2]).
		Mul4(t.baseTransform)

	sx := float32(t.size[0]) / (d.Max[0] - d.Min[0])
	sy := float32(t.size[1]) / (d.Max[1] - d.Min[1])
	t.waterTextureTransform = mgl32.Mat4{
		sx, 0, 0, 0,
		0, sy, 0, 0,
		0, 0, 1, 0,
		-sx * d.Min[0], -sy * d.Min[1], 0, 1,
	}.Mul4(t.baseTransform)
}

// bathymetryTarget maps world space to bathymetry texel coordinates in x
// and y and to upright elevation in z.
func (t *WaterTable) bathymetryTarget() mgl32.Mat4 {
	bw, bh := float32(t.size[0]-1), float32(t.size[1]-1)
	zMin, zMax := t.domain.Min[2], t.domain.Max[2]

	// Normalized device coordinates to texels and back to elevation.
	ndcToGrid := mgl32.Mat4{
		bw / 2, 0, 0, 0,
		0, bh / 2, 0, 0,
		0, 0, -(zMax - zMin) / 2, 0,
		bw / 2, bh / 2, zMax - (zMax-zMin)/2, 1,
	}
	return ndcToGrid.Mul4(t.bathymetryProjection)
}

// Size returns the number of water cells in x and y.
func (t *WaterTable) Size() (width, height int) { return t.size[0], t.size[1] }

// BathymetrySize returns the size of the bathymetry grid, one vertex per
// interior cell corner.
func (t *WaterTable) BathymetrySize() (width, height int) { return t.size[0] - 1, t.size[1] - 1 }

// CellSize returns the cell extent in world units.
func (t *WaterTable) CellSize() [2]float32 { return t.cellSize }

// Domain returns the simulated box in upright elevation space.
func (t *WaterTable) Domain() Box { return t.domain }

// BaseTransform maps world space into upright elevation space.
func (t *WaterTable) BaseTransform() mgl32.Mat4 { return t.baseTransform }

// BathymetryProjection maps world space to normalized device coordinates
// of the bathymetry grid.
func (t *WaterTable) BathymetryProjection() mgl32.Mat4 { return t.bathymetryProjection }

// WaterAddProjection maps world space to normalized device coordinates of
// the water-add field.
func (t *WaterTable) WaterAddProjection() mgl32.Mat4 { return t.waterAddProjection }

// WaterTextureTransform maps world space to water cell coordinates.
func (t *WaterTable) WaterTextureTransform() mgl32.Mat4 { return t.waterTextureTransform }

// SetElevationRange changes the vertical extent of the domain.
func (t *WaterTable) SetElevationRange(min, max float32) {
	t.domain.Min[2] = min
	t.domain.Max[2] = max
	t.calcTransformations()
}

// ElevationProvider returns the terrain source, or nil for offline tables.
func (t *WaterTable) ElevationProvider() ElevationProvider { return t.elevation }

// Mode returns the simulation mode.
func (t *WaterTable) Mode() Mode { return t.mode }

// SetMode selects the simulation mode.
func (t *WaterTable) SetMode(m Mode) { t.mode = m }

// PropertyGrid returns the roughness and absorption source.
func (t *WaterTable) PropertyGrid() PropertyGridProvider { return t.property }

// SetPropertyGrid sets the roughness and absorption source.
func (t *WaterTable) SetPropertyGrid(p PropertyGridProvider) { t.property = p }

// Theta returns the flux limiter coefficient.
func (t *WaterTable) Theta() float32 { return t.theta }

// SetTheta sets the flux limiter coefficient, between 1 (most diffusive)
// and 2 (least diffusive).
func (t *WaterTable) SetTheta(theta float32) { t.theta = theta }

// Gravity returns the gravitational acceleration.
func (t *WaterTable) Gravity() float32 { return t.g }

// SetGravity sets the gravitational acceleration.
func (t *WaterTable) SetGravity(g float32) { t.g = g }

// Epsilon returns the velocity desingularization depth.
func (t *WaterTable) Epsilon() float32 { return t.epsilon }

// SetEpsilon sets the velocity desingularization depth.
func (t *WaterTable) SetEpsilon(eps float32) { t.epsilon = eps }

// MaxPropagationSpeed returns the wave speed bounds in x and y.
func (t *WaterTable) MaxPropagationSpeed() [2]float32 { return t.maxPropagationSpeed }

// ForceMinStepSize bounds wave speeds so that the stable step size never
// drops below minStepSize.
func (t *WaterTable) ForceMinStepSize(minStepSize float32) {
	for i := range 2 {
		t.maxPropagationSpeed[i] = t.cellSize[i] / (minStepSize / cflFactor)
	}
}

// Attenuation returns the discharge damping factor per second
// (Traditional mode).
func (t *WaterTable) Attenuation() float32 { return t.attenuation }

// SetAttenuation sets the discharge damping factor per second.
func (t *WaterTable) SetAttenuation(a float32) { t.attenuation = a }

// MaxStepSize returns the step size ceiling.
func (t *WaterTable) MaxStepSize() float32 { return t.maxStepSize }

// SetMaxStepSize sets the step size ceiling. Forced steps use it as is.
func (t *WaterTable) SetMaxStepSize(s float32) { t.maxStepSize = s }

// WaterDeposit returns the uniform water deposit rate.
func (t *WaterTable) WaterDeposit() float32 { return t.waterDeposit }

// SetWaterDeposit sets a uniform rate of water added to (positive) or
// removed from (negative) every cell, in height per second.
func (t *WaterTable) SetWaterDeposit(rate float32) { t.waterDeposit = rate }

// DryBoundary reports whether the outermost ring of cells is kept dry.
func (t *WaterTable) DryBoundary() bool { return t.dryBoundary }

// SetDryBoundary enables or disables the dry outer ring.
func (t *WaterTable) SetDryBoundary(on bool) { t.dryBoundary = on }

// SnowLine returns the elevation above which added water falls as snow.
func (t *WaterTable) SnowLine() float32 { return t.snowLine }

// SetSnowLine sets the elevation above which added water falls as snow.
// +Inf disables snow.
func (t *WaterTable) SetSnowLine(elevation float32) { t.snowLine = elevation }

// SnowMelt returns the snow melt rate.
func (t *WaterTable) SnowMelt() float32 { return t.snowMelt }

// SetSnowMelt sets the rate at which snow turns into water, in height per
// second.
func (t *WaterTable) SetSnowMelt(rate float32) { t.snowMelt = rate }

// AddWaterSource registers s. Sources run in registration order.
func (t *WaterTable) AddWaterSource(s WaterSource) {
	t.sources = append(t.sources, s)
}

// RemoveWaterSource unregisters s, compared by identity. It reports
// whether s was registered.
func (t *WaterTable) RemoveWaterSource(s WaterSource) bool {
	for i, r := range t.sources {
		if r == s {
			t.sources = append(t.sources[:i], t.sources[i+1:]...)
			return true
		}
	}
	return false
}
