// Package soft implements gpucore.Device on the CPU.
//
// Textures are stored as four float32 channels per texel. Passes run the
// program's reference Kernel over horizontal bands of the pass region on a
// parallel.WorkerPool. The software device is the reference the hardware
// device is checked against, and the default when no GPU is available.
package soft

import (
	"fmt"
	"math"
	"sync"

	"github.com/gogpu/sandbox/gpucore"
	"github.com/gogpu/sandbox/internal/parallel"
)

// DefaultTextureUnits matches the texture unit count of common GL drivers.
const DefaultTextureUnits = 16

type options struct {
	workers int
	units   int
}

// Option configures a Device.
type Option func(*options)

// WithWorkers sets the number of worker goroutines. Zero or negative uses
// GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithTextureUnits sets the number of texture units a pass may bind.
func WithTextureUnits(n int) Option {
	return func(o *options) { o.units = n }
}

// Device is a CPU implementation of gpucore.Device.
type Device struct {
	mu       sync.Mutex
	pool     *parallel.WorkerPool
	textures map[gpucore.TextureID]*texture
	programs map[gpucore.ProgramID]*gpucore.ProgramDesc
	units    []gpucore.TextureID
	nextID   uint64
	closed   bool
}

var _ gpucore.Device = (*Device)(nil)

// New creates a software device.
func New(opts ...Option) *Device {
	o := options{units: DefaultTextureUnits}
	for _, opt := range opts {
		opt(&o)
	}
	return &Device{
		pool:     parallel.NewWorkerPool(o.workers),
		textures: make(map[gpucore.TextureID]*texture),
		programs: make(map[gpucore.ProgramID]*gpucore.ProgramDesc),
		units:    make([]gpucore.TextureID, o.units),
	}
}

func (d *Device) Name() string { return "software" }

func (d *Device) MaxTextureUnits() int { return len(d.units) }

func (d *Device) id() uint64 {
	d.nextID++
	return d.nextID
}

func (d *Device) CreateTexture(desc *gpucore.TextureDesc) (gpucore.TextureID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrClosed
	}
	if desc.Width <= 0 || desc.Height <= 0 {
		return gpucore.InvalidID, fmt.Errorf("soft: texture %q: invalid size %dx%d", desc.Label, desc.Width, desc.Height)
	}
	if desc.Format.Channels() == 0 {
		return gpucore.InvalidID, fmt.Errorf("soft: texture %q: unsupported format %v", desc.Label, desc.Format)
	}

	t := &texture{
		label:  desc.Label,
		width:  desc.Width,
		height: desc.Height,
		format: desc.Format,
		data:   make([]float32, desc.Width*desc.Height*4),
	}
	t.fill(gpucore.Rect{W: t.width, H: t.height}, desc.Fill)

	id := gpucore.TextureID(d.id())
	d.textures[id] = t
	return id, nil
}

func (d *Device) DestroyTexture(id gpucore.TextureID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.textures, id)
	for i, u := range d.units {
		if u == id {
			d.units[i] = gpucore.InvalidID
		}
	}
}

func (d *Device) TextureSize(id gpucore.TextureID) (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.textures[id]
	if !ok {
		return 0, 0
	}
	return t.width, t.height
}

func (d *Device) lookup(id gpucore.TextureID) (*texture, error) {
	t, ok := d.textures[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", gpucore.ErrUnknownTexture, id)
	}
	return t, nil
}

func (d *Device) WriteTexture(id gpucore.TextureID, data []float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.lookup(id)
	if err != nil {
		return err
	}
	ch := t.format.Channels()
	if len(data) != t.width*t.height*ch {
		return fmt.Errorf("%w: write %d values into %q (%dx%dx%d)",
			gpucore.ErrSizeMismatch, len(data), t.label, t.width, t.height, ch)
	}
	for i := range t.width * t.height {
		copy(t.data[i*4:i*4+ch], data[i*ch:(i+1)*ch])
	}
	return nil
}

func (d *Device) ReadTexture(id gpucore.TextureID, r gpucore.Rect, dst []float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.lookup(id)
	if err != nil {
		return err
	}
	r = r.Resolve(t.width, t.height)
	ch := t.format.Channels()
	if len(dst) != r.W*r.H*ch {
		return fmt.Errorf("%w: read %dx%dx%d from %q into %d values",
			gpucore.ErrSizeMismatch, r.W, r.H, ch, t.label, len(dst))
	}
	for y := range r.H {
		for x := range r.W {
			src := ((r.Y+y)*t.width + r.X + x) * 4
			copy(dst[(y*r.W+x)*ch:(y*r.W+x+1)*ch], t.data[src:src+ch])
		}
	}
	return nil
}

func (d *Device) ClearTexture(id gpucore.TextureID, r gpucore.Rect, value [4]float32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.lookup(id)
	if err != nil {
		return err
	}
	t.fill(r.Resolve(t.width, t.height), value)
	return nil
}

func (d *Device) SetFilterMode(id gpucore.TextureID, mode gpucore.FilterMode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.textures[id]; ok {
		t.filter = mode
	}
}

func (d *Device) BindTexture(unit int, id gpucore.TextureID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if unit < 0 || unit >= len(d.units) {
		return fmt.Errorf("%w: unit %d", gpucore.ErrNoTextureUnits, unit)
	}
	if _, err := d.lookup(id); err != nil {
		return err
	}
	d.units[unit] = id
	return nil
}

func (d *Device) CreateProgram(desc *gpucore.ProgramDesc) (gpucore.ProgramID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return gpucore.InvalidID, gpucore.ErrClosed
	}
	if desc.Kernel == nil {
		return gpucore.InvalidID, &gpucore.ProgramError{Label: desc.Label, Err: fmt.Errorf("no CPU kernel")}
	}
	if desc.Outputs <= 0 {
		return gpucore.InvalidID, &gpucore.ProgramError{Label: desc.Label, Err: fmt.Errorf("program writes no targets")}
	}
	p := *desc
	id := gpucore.ProgramID(d.id())
	d.programs[id] = &p
	return id, nil
}

func (d *Device) DestroyProgram(id gpucore.ProgramID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.programs, id)
}

// Dispatch runs the pass on the worker pool and returns when every row of
// the region has been written.
func (d *Device) Dispatch(pass *gpucore.Pass) error {
	d.mu.Lock()
	inv, prog, region, err := d.prepare(pass)
	d.mu.Unlock()
	if err != nil {
		return err
	}
	if region.Empty() {
		return nil
	}

	kernel := prog.Kernel
	x0, x1 := region.X, region.X+region.W
	d.pool.ForRows(region.Y, region.Y+region.H, func(b parallel.Band) {
		for y := b.Y0; y < b.Y1; y++ {
			kernel(inv, y, x0, x1)
		}
	})
	return nil
}

func (d *Device) prepare(pass *gpucore.Pass) (*gpucore.Invocation, *gpucore.ProgramDesc, gpucore.Rect, error) {
	if d.closed {
		return nil, nil, gpucore.Rect{}, gpucore.ErrClosed
	}
	prog, ok := d.programs[pass.Program]
	if !ok {
		return nil, nil, gpucore.Rect{}, fmt.Errorf("%w: %d (pass %q)", gpucore.ErrUnknownProgram, pass.Program, pass.Label)
	}
	if len(pass.Inputs) != prog.Inputs || len(pass.Targets) != prog.Outputs {
		return nil, nil, gpucore.Rect{}, fmt.Errorf("soft: pass %q: program %q takes %d inputs and %d targets, got %d and %d",
			pass.Label, prog.Label, prog.Inputs, prog.Outputs, len(pass.Inputs), len(pass.Targets))
	}

	inv := &gpucore.Invocation{
		Inputs:  make([]gpucore.Sampler, len(pass.Inputs)),
		Targets: make([]gpucore.Target, len(pass.Targets)),
		Params:  pass.Params,
	}

	targets := make(map[gpucore.TextureID]bool, len(pass.Targets))
	for i, id := range pass.Targets {
		t, err := d.lookup(id)
		if err != nil {
			return nil, nil, gpucore.Rect{}, fmt.Errorf("soft: pass %q target %d: %w", pass.Label, i, err)
		}
		if i == 0 {
			inv.Width, inv.Height = t.width, t.height
		} else if t.width != inv.Width || t.height != inv.Height {
			return nil, nil, gpucore.Rect{}, fmt.Errorf("%w: pass %q target %d is %dx%d, want %dx%d",
				gpucore.ErrSizeMismatch, pass.Label, i, t.width, t.height, inv.Width, inv.Height)
		}
		targets[id] = true
		inv.Targets[i] = &target{tex: t, add: pass.Blend == gpucore.BlendAdd}
	}

	for i, unit := range pass.Inputs {
		if unit < 0 || unit >= len(d.units) {
			return nil, nil, gpucore.Rect{}, fmt.Errorf("%w: pass %q input unit %d", gpucore.ErrNoTextureUnits, pass.Label, unit)
		}
		id := d.units[unit]
		if targets[id] {
			return nil, nil, gpucore.Rect{}, fmt.Errorf("%w: pass %q unit %d", gpucore.ErrAliasedTarget, pass.Label, unit)
		}
		t, err := d.lookup(id)
		if err != nil {
			return nil, nil, gpucore.Rect{}, fmt.Errorf("soft: pass %q input %d: %w", pass.Label, i, err)
		}
		inv.Inputs[i] = t
	}

	return inv, prog, pass.Region.Resolve(inv.Width, inv.Height), nil
}

// Close stops the worker pool and drops every texture and program.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.pool.Close()
	clear(d.textures)
	clear(d.programs)
}

// texture is a 2D grid of RGBA float32 texels.
type texture struct {
	label  string
	width  int
	height int
	format gpucore.TextureFormat
	filter gpucore.FilterMode
	data   []float32
}

func (t *texture) fill(r gpucore.Rect, v [4]float32) {
	for y := r.Y; y < r.Y+r.H; y++ {
		for x := r.X; x < r.X+r.W; x++ {
			copy(t.data[(y*t.width+x)*4:], v[:])
		}
	}
}

func (t *texture) Size() (int, int) { return t.width, t.height }

func (t *texture) Fetch(x, y int) [4]float32 {
	x = min(max(x, 0), t.width-1)
	y = min(max(y, 0), t.height-1)
	i := (y*t.width + x) * 4
	return [4]float32{t.data[i], t.data[i+1], t.data[i+2], t.data[i+3]}
}

func (t *texture) Sample(u, v float32) [4]float32 {
	if t.filter == gpucore.FilterNearest {
		return t.Fetch(int(math.Floor(float64(u))), int(math.Floor(float64(v))))
	}
	fu, fv := float64(u)-0.5, float64(v)-0.5
	x0, y0 := math.Floor(fu), math.Floor(fv)
	tx, ty := float32(fu-x0), float32(fv-y0)
	ix, iy := int(x0), int(y0)

	a, b := t.Fetch(ix, iy), t.Fetch(ix+1, iy)
	c, e := t.Fetch(ix, iy+1), t.Fetch(ix+1, iy+1)
	var out [4]float32
	for k := range out {
		top := a[k] + (b[k]-a[k])*tx
		bottom := c[k] + (e[k]-c[k])*tx
		out[k] = top + (bottom-top)*ty
	}
	return out
}

// target writes pass output into a texture, replacing or adding.
type target struct {
	tex *texture
	add bool
}

func (t *target) Store(x, y int, v [4]float32) {
	i := (y*t.tex.width + x) * 4
	if t.add {
		for k := range v {
			t.tex.data[i+k] += v[k]
		}
		return
	}
	copy(t.tex.data[i:i+4], v[:])
}
