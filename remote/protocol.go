// Package remote streams water table grids to remote viewers.
//
// A Server accepts viewers over TCP or websockets, sends them the grid
// geometry, and then pushes every requested grid triplet (bathymetry,
// water level, snow height) as quantized, losslessly compressed frames:
// intra-coded for a viewer's first frame and inter-coded afterwards.
// Viewers report their position and viewing direction back.
//
// Wire format, all values in the sender's byte order:
//
//	server -> client  u32 0x12345678
//	                  u32 width,  f32 cell width
//	                  u32 height, f32 cell height
//	                  f32 elevation min, f32 elevation max
//	                  frames: bathymetry ((w-1)x(h-1)), water level, snow
//	client -> server  u32 0x12345678
//	                  u16 message; 0 = position: f32 x3 position, f32 x3 direction
//
// A reader that sees 0x78563412 swaps all further reads. Every frame is a
// codec stream ending on a 32-bit word boundary.
package remote

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	byteOrderToken    uint32 = 0x12345678
	swappedOrderToken uint32 = 0x78563412

	msgPosition uint16 = 0
)

var (
	// ErrBadToken is returned when a peer opens with an unknown byte order
	// token.
	ErrBadToken = errors.New("remote: invalid byte order token")

	// ErrUnknownMessage is returned for a client message other than a
	// position update.
	ErrUnknownMessage = errors.New("remote: unknown client message")

	// ErrClosed is returned by operations on a closed server.
	ErrClosed = errors.New("remote: server closed")
)

// GridInfo describes the streamed grids.
type GridInfo struct {
	// Size is the water grid size in cells; bathymetry is one smaller on
	// each axis.
	Size [2]int

	// CellSize is the cell extent on each axis.
	CellSize [2]float32

	// ElevationMin and ElevationMax bound all streamed values. Servers
	// widen the range by 5% on each side before sending it.
	ElevationMin, ElevationMax float32
}

// BathymetrySize returns the bathymetry grid size.
func (g GridInfo) BathymetrySize() (width, height int) { return g.Size[0] - 1, g.Size[1] - 1 }

func (g GridInfo) validate() error {
	if g.Size[0] < 2 || g.Size[1] < 2 {
		return fmt.Errorf("remote: grid size %dx%d, need at least 2x2", g.Size[0], g.Size[1])
	}
	if !(g.ElevationMax > g.ElevationMin) {
		return fmt.Errorf("remote: empty elevation range [%v, %v]", g.ElevationMin, g.ElevationMax)
	}
	return nil
}

type handshake struct {
	Token      uint32
	Width      uint32
	CellWidth  float32
	Height     uint32
	CellHeight float32
	Min, Max   float32
}

func writeHandshake(w io.Writer, order binary.ByteOrder, g GridInfo) error {
	return binary.Write(w, order, handshake{
		Token:      byteOrderToken,
		Width:      uint32(g.Size[0]),
		CellWidth:  g.CellSize[0],
		Height:     uint32(g.Size[1]),
		CellHeight: g.CellSize[1],
		Min:        g.ElevationMin,
		Max:        g.ElevationMax,
	})
}

// readHandshake reads the server greeting and returns the byte order the
// server writes in.
func readHandshake(r io.Reader) (GridInfo, binary.ByteOrder, error) {
	var tok [4]byte
	if _, err := io.ReadFull(r, tok[:]); err != nil {
		return GridInfo{}, nil, err
	}
	order, err := tokenOrder(tok)
	if err != nil {
		return GridInfo{}, nil, err
	}
	var h struct {
		Width      uint32
		CellWidth  float32
		Height     uint32
		CellHeight float32
		Min, Max   float32
	}
	if err := binary.Read(r, order, &h); err != nil {
		return GridInfo{}, nil, err
	}
	g := GridInfo{
		Size:         [2]int{int(h.Width), int(h.Height)},
		CellSize:     [2]float32{h.CellWidth, h.CellHeight},
		ElevationMin: h.Min,
		ElevationMax: h.Max,
	}
	if err := g.validate(); err != nil {
		return GridInfo{}, nil, err
	}
	return g, order, nil
}

func writeToken(w io.Writer, order binary.ByteOrder) error {
	return binary.Write(w, order, byteOrderToken)
}

// tokenOrder returns the byte order a peer that sent tok writes in.
func tokenOrder(tok [4]byte) (binary.ByteOrder, error) {
	switch byteOrderToken {
	case binary.LittleEndian.Uint32(tok[:]):
		return binary.LittleEndian, nil
	case binary.BigEndian.Uint32(tok[:]):
		return binary.BigEndian, nil
	}
	return nil, fmt.Errorf("%w %#08x", ErrBadToken, binary.LittleEndian.Uint32(tok[:]))
}

// Pose is a viewer position and viewing direction in grid coordinates.
type Pose struct {
	Position  mgl32.Vec3
	Direction mgl32.Vec3
}

// Transform returns the viewer's frame relative to the grid center: the
// translation to the viewer and a rotation taking -z onto its viewing
// direction.
func (p Pose) Transform(g GridInfo) mgl32.Mat4 {
	center := mgl32.Vec3{
		float32(g.Size[0]) * g.CellSize[0] / 2,
		float32(g.Size[1]) * g.CellSize[1] / 2,
		0,
	}
	t := mgl32.Translate3D(p.Position.Sub(center).Elem())
	if p.Direction.Len() == 0 {
		return t
	}
	return t.Mul4(mgl32.QuatBetweenVectors(mgl32.Vec3{0, 0, -1}, p.Direction).Mat4())
}

type positionMessage struct {
	Position  [3]float32
	Direction [3]float32
}

func writePosition(w io.Writer, order binary.ByteOrder, p Pose) error {
	var buf [2 + 24]byte
	order.PutUint16(buf[:], msgPosition)
	for i := range 3 {
		order.PutUint32(buf[2+4*i:], math.Float32bits(p.Position[i]))
		order.PutUint32(buf[14+4*i:], math.Float32bits(p.Direction[i]))
	}
	_, err := w.Write(buf[:])
	return err
}

// readMessage reads one client message.
func readMessage(r io.Reader, order binary.ByteOrder) (Pose, error) {
	var msg uint16
	if err := binary.Read(r, order, &msg); err != nil {
		return Pose{}, err
	}
	if msg != msgPosition {
		return Pose{}, fmt.Errorf("%w %d", ErrUnknownMessage, msg)
	}
	var m positionMessage
	if err := binary.Read(r, order, &m); err != nil {
		return Pose{}, err
	}
	return Pose{Position: m.Position, Direction: m.Direction}, nil
}
