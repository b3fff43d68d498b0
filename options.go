package sandbox

// Option configures a WaterTable during creation.
//
// Example:
//
//	table, err := sandbox.NewOfflineWaterTable(640, 480, [2]float32{0.1, 0.1},
//	    sandbox.WithElevationRange(-5, 30),
//	    sandbox.WithMode(sandbox.Engineering),
//	    sandbox.WithPropertyGrid(grid))
type Option func(*tableOptions)

type tableOptions struct {
	elevationMin float32
	elevationMax float32
	mode         Mode
	property     PropertyGridProvider
}

// Default vertical extent of the simulation domain.
const (
	DefaultElevationMin = -20
	DefaultElevationMax = 100
)

func defaultOptions() tableOptions {
	return tableOptions{
		elevationMin: DefaultElevationMin,
		elevationMax: DefaultElevationMax,
		mode:         Traditional,
	}
}

// WithElevationRange sets the vertical extent of the simulation domain.
// Bathymetry outside the range is clipped when rendered.
func WithElevationRange(min, max float32) Option {
	return func(o *tableOptions) {
		o.elevationMin = min
		o.elevationMax = max
	}
}

// WithMode selects the initial simulation mode.
func WithMode(m Mode) Option {
	return func(o *tableOptions) {
		o.mode = m
	}
}

// WithPropertyGrid attaches the roughness and absorption source used in
// Engineering mode.
func WithPropertyGrid(p PropertyGridProvider) Option {
	return func(o *tableOptions) {
		o.property = p
	}
}
