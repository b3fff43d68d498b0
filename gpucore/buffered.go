package gpucore

import "fmt"

// BufferedTexture is one logical grid stored in several identical
// textures. Exactly one slot is current; passes read the current slot and
// write another, and the caller flips the current index once the pass has
// completed.
type BufferedTexture struct {
	dev     Device
	ids     []TextureID
	filters []FilterMode
	current int
	width   int
	height  int
	format  TextureFormat
}

// NewBufferedTexture returns an uninitialized grid with n slots.
func NewBufferedTexture(n int) *BufferedTexture {
	return &BufferedTexture{
		ids:     make([]TextureID, n),
		filters: make([]FilterMode, n),
	}
}

// Init creates all slots with the given size and format, every texel set to
// fill. All slots start with nearest sampling. On failure the slots created
// so far are destroyed.
func (b *BufferedTexture) Init(dev Device, label string, width, height int, format TextureFormat, fill ...float32) error {
	var value [4]float32
	copy(value[:], fill)

	b.dev = dev
	b.width, b.height, b.format = width, height, format
	for i := range b.ids {
		id, err := dev.CreateTexture(&TextureDesc{
			Label:  fmt.Sprintf("%s[%d]", label, i),
			Width:  width,
			Height: height,
			Format: format,
			Fill:   value,
		})
		if err != nil {
			b.Destroy()
			return fmt.Errorf("gpucore: create %s[%d]: %w", label, i, err)
		}
		b.ids[i] = id
		b.filters[i] = FilterNearest
	}
	b.current = 0
	return nil
}

// Bind binds slot i to the next free unit. The slot's filter mode is only
// changed when it differs from the last mode set on it.
func (b *BufferedTexture) Bind(units *TextureUnits, i int, linear bool) (int, error) {
	mode := FilterNearest
	if linear {
		mode = FilterLinear
	}
	if b.filters[i] != mode {
		b.dev.SetFilterMode(b.ids[i], mode)
		b.filters[i] = mode
	}
	return units.Bind(b.ids[i])
}

// BindCurrent binds the current slot.
func (b *BufferedTexture) BindCurrent(units *TextureUnits, linear bool) (int, error) {
	return b.Bind(units, b.current, linear)
}

// Current returns the index of the slot holding the latest value.
func (b *BufferedTexture) Current() int { return b.current }

// Other returns the ping-pong partner of the current slot among slots 0
// and 1.
func (b *BufferedTexture) Other() int { return 1 - b.current }

// Flip makes the ping-pong partner current.
func (b *BufferedTexture) Flip() { b.current = 1 - b.current }

// SetCurrent marks slot i as current.
func (b *BufferedTexture) SetCurrent(i int) {
	if i < 0 || i >= len(b.ids) {
		panic(fmt.Sprintf("gpucore: slot %d out of range [0,%d)", i, len(b.ids)))
	}
	b.current = i
}

// Texture returns the texture of slot i.
func (b *BufferedTexture) Texture(i int) TextureID { return b.ids[i] }

// CurrentTexture returns the texture of the current slot.
func (b *BufferedTexture) CurrentTexture() TextureID { return b.ids[b.current] }

// Slots returns the number of slots.
func (b *BufferedTexture) Slots() int { return len(b.ids) }

// Size returns the grid size.
func (b *BufferedTexture) Size() (width, height int) { return b.width, b.height }

// Format returns the texel format.
func (b *BufferedTexture) Format() TextureFormat { return b.format }

// Destroy releases all slots.
func (b *BufferedTexture) Destroy() {
	if b.dev == nil {
		return
	}
	for i, id := range b.ids {
		if id != InvalidID {
			b.dev.DestroyTexture(id)
			b.ids[i] = InvalidID
		}
	}
}
