package gpucore

import (
	"errors"
	"fmt"
)

// Errors returned by devices and the helpers in this package.
var (
	// ErrNoTextureUnits is returned when a pass binds more textures than
	// the device has texture units.
	ErrNoTextureUnits = errors.New("gpucore: no free texture unit")

	// ErrAliasedTarget is returned when a pass samples a texture it also
	// writes.
	ErrAliasedTarget = errors.New("gpucore: pass target is bound as input")

	// ErrUnknownTexture is returned for IDs the device did not create or
	// already destroyed.
	ErrUnknownTexture = errors.New("gpucore: unknown texture")

	// ErrUnknownProgram is returned for program IDs the device did not
	// create or already destroyed.
	ErrUnknownProgram = errors.New("gpucore: unknown program")

	// ErrSizeMismatch is returned when data or target sizes disagree.
	ErrSizeMismatch = errors.New("gpucore: size mismatch")

	// ErrClosed is returned by a device after Close.
	ErrClosed = errors.New("gpucore: device closed")
)

// ProgramError reports a failure to build the program with the given label.
type ProgramError struct {
	Label string
	Err   error
}

func (e *ProgramError) Error() string {
	return fmt.Sprintf("gpucore: program %q: %v", e.Label, e.Err)
}

func (e *ProgramError) Unwrap() error { return e.Err }

// Device executes passes over 2D float textures.
//
// A Device is used from one goroutine at a time; the simulation issues all
// of its passes sequentially and the order is part of its correctness.
type Device interface {
	// Name returns a human-readable backend name.
	Name() string

	// MaxTextureUnits returns the number of inputs a pass may bind.
	MaxTextureUnits() int

	CreateTexture(desc *TextureDesc) (TextureID, error)
	DestroyTexture(id TextureID)
	TextureSize(id TextureID) (width, height int)

	// WriteTexture replaces the texture contents. data holds
	// width*height*channels values in row-major order.
	WriteTexture(id TextureID, data []float32) error

	// ReadTexture copies the texels of r (zero Rect = whole texture) into
	// dst, r.W*r.H*channels values in row-major order.
	ReadTexture(id TextureID, r Rect, dst []float32) error

	// ClearTexture sets every texel of r to value.
	ClearTexture(id TextureID, r Rect, value [4]float32) error

	// SetFilterMode changes how the texture is sampled by later passes.
	SetFilterMode(id TextureID, mode FilterMode)

	// BindTexture attaches a texture to a texture unit.
	BindTexture(unit int, id TextureID) error

	CreateProgram(desc *ProgramDesc) (ProgramID, error)
	DestroyProgram(id ProgramID)

	// Dispatch runs a pass to completion.
	Dispatch(pass *Pass) error

	// Close releases every resource owned by the device.
	Close()
}
