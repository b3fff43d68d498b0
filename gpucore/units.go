package gpucore

import "fmt"

// TextureUnits hands out texture units to the inputs of one pass.
//
// Programs sample their inputs in a fixed order. Callers Reset the
// allocator, Bind each input in that order, and pass Units() as the pass
// inputs. Reset only rewinds the cursor; bindings on the device stay in
// place until overwritten.
type TextureUnits struct {
	dev  Device
	max  int
	next int
	high int
}

// NewTextureUnits returns an allocator bound to dev's texture unit limit.
func NewTextureUnits(dev Device) *TextureUnits {
	return &TextureUnits{dev: dev, max: dev.MaxTextureUnits()}
}

// Reset rewinds the next free unit to zero.
func (u *TextureUnits) Reset() { u.next = 0 }

// Bind binds id to the next free unit and returns the unit index.
func (u *TextureUnits) Bind(id TextureID) (int, error) {
	if u.next >= u.max {
		return -1, fmt.Errorf("%w (limit %d)", ErrNoTextureUnits, u.max)
	}
	unit := u.next
	if err := u.dev.BindTexture(unit, id); err != nil {
		return -1, err
	}
	u.next++
	if u.next > u.high {
		u.high = u.next
	}
	return unit, nil
}

// Units returns the units bound since the last Reset, in binding order.
func (u *TextureUnits) Units() []int {
	units := make([]int, u.next)
	for i := range units {
		units[i] = i
	}
	return units
}

// Active returns the highest number of units bound between resets.
func (u *TextureUnits) Active() int { return u.high }
