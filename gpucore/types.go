package gpucore

// Resource IDs
//
// These opaque IDs represent device resources. Each device implementation
// maintains a mapping between IDs and actual backend resources.

// TextureID is an opaque handle to a 2D float texture.
type TextureID uint64

// ProgramID is an opaque handle to a compiled compute program.
type ProgramID uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// TextureFormat specifies the number of float32 channels per texel.
type TextureFormat uint32

// Texture formats.
const (
	// TextureFormatR32Float is 32-bit red channel only, floating point.
	TextureFormatR32Float TextureFormat = iota + 1

	// TextureFormatRG32Float is 32-bit RG, floating point.
	TextureFormatRG32Float

	// TextureFormatRGBA32Float is 32-bit RGBA, floating point.
	TextureFormatRGBA32Float
)

// Channels returns the number of channels stored per texel.
func (f TextureFormat) Channels() int {
	switch f {
	case TextureFormatR32Float:
		return 1
	case TextureFormatRG32Float:
		return 2
	case TextureFormatRGBA32Float:
		return 4
	default:
		return 0
	}
}

func (f TextureFormat) String() string {
	switch f {
	case TextureFormatR32Float:
		return "R32Float"
	case TextureFormatRG32Float:
		return "RG32Float"
	case TextureFormatRGBA32Float:
		return "RGBA32Float"
	default:
		return "Unknown"
	}
}

// FilterMode selects how a texture is sampled between texel centers.
type FilterMode uint8

const (
	FilterNearest FilterMode = iota
	FilterLinear
)

func (m FilterMode) String() string {
	if m == FilterLinear {
		return "linear"
	}
	return "nearest"
}

// BlendMode selects how a pass combines its output with the target.
type BlendMode uint8

const (
	// BlendReplace overwrites the target texels.
	BlendReplace BlendMode = iota

	// BlendAdd adds the pass output to the existing target texels.
	BlendAdd
)

// Rect is an axis-aligned texel region. The zero Rect means the whole
// texture.
type Rect struct {
	X, Y, W, H int
}

// Empty reports whether r covers no texels.
func (r Rect) Empty() bool { return r.W <= 0 || r.H <= 0 }

// Resolve returns r clipped to a w x h texture. The zero Rect resolves to
// the full texture.
func (r Rect) Resolve(w, h int) Rect {
	if r == (Rect{}) {
		return Rect{W: w, H: h}
	}
	x0, y0 := max(r.X, 0), max(r.Y, 0)
	x1, y1 := min(r.X+r.W, w), min(r.Y+r.H, h)
	if x1 <= x0 || y1 <= y0 {
		return Rect{X: x0, Y: y0}
	}
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

// TextureDesc describes a texture.
type TextureDesc struct {
	// Label is an optional debug label.
	Label string

	Width, Height int
	Format        TextureFormat

	// Fill is the initial value of every texel. Channels beyond the
	// format's channel count are ignored.
	Fill [4]float32
}

// ProgramDesc describes a compute program.
type ProgramDesc struct {
	// Label identifies the program in errors and logs.
	Label string

	// WGSL is the compute shader source used by hardware devices. The
	// entry point is "main" with an 8x8 workgroup.
	WGSL string

	// Kernel is the CPU reference implementation used by the software
	// device.
	Kernel Kernel

	// Inputs is the number of texture inputs the program samples.
	Inputs int

	// Outputs is the number of targets the program writes.
	Outputs int
}

// Pass describes one program invocation over a region of its targets.
type Pass struct {
	// Label is an optional debug label.
	Label string

	Program ProgramID

	// Inputs lists texture units in the order the program samples them.
	Inputs []int

	// Targets are the textures written by the pass. All targets must have
	// the same size.
	Targets []TextureID

	// Region limits the texels written. The zero Rect covers the whole
	// target.
	Region Rect

	Blend  BlendMode
	Params []float32
}
