// Package codec losslessly compresses 16-bit grids for streaming.
//
// Intra frames are coded on their own with spatial prediction; inter
// frames code the per-pixel difference to the previous frame with run
// lengths for unchanged areas. Both use fixed Huffman codes over 32-bit
// words (see package bitio), and every frame ends on a word boundary.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/gogpu/sandbox/codec/bitio"
	"github.com/gogpu/sandbox/codec/huffman"
)

// ErrCorrupt is returned when a decoded stream does not describe a frame
// of the requested size.
var ErrCorrupt = errors.New("codec: corrupt frame")

func checkFrame(width, height int, pixels ...[]uint16) error {
	if width < 1 || height < 1 {
		return fmt.Errorf("codec: invalid frame size %dx%d", width, height)
	}
	for _, p := range pixels {
		if len(p) != width*height {
			return fmt.Errorf("codec: %d pixels for a %dx%d frame", len(p), width, height)
		}
	}
	return nil
}

// paeth returns whichever of a (left), b (above) and c (above left) is
// closest to a+b-c, preferring a, then b, on ties.
func paeth(a, b, c uint16) uint16 {
	p := int(a) + int(b) - int(c)
	pred, d := a, abs(p-int(a))
	if db := abs(p - int(b)); d > db {
		pred, d = b, db
	}
	if dc := abs(p - int(c)); d > dc {
		pred = c
	}
	return pred
}

// encodeError writes a wrapped prediction error.
func encodeError(enc *huffman.Encoder, e uint16) {
	switch {
	case e >= 1<<16-codeMax:
		enc.Encode(int(e) - (1<<16 - codeMax))
	case e <= codeMax:
		enc.Encode(int(e) + codeMax)
	default:
		enc.Encode(outOfRange)
		enc.WriteBits(uint32(e), pixelBits)
	}
}

// decodeError maps an error symbol back to the wrapped error.
func decodeError(dec *huffman.Decoder, sym uint32) uint16 {
	if sym == outOfRange {
		return uint16(dec.ReadBits(pixelBits))
	}
	return uint16(sym) - codeMax
}

// IntraCompressor writes self-contained frames.
type IntraCompressor struct {
	enc *huffman.Encoder
	err error
}

// NewIntraCompressor returns a compressor writing words to w in the given
// byte order.
func NewIntraCompressor(w io.Writer, order binary.ByteOrder) *IntraCompressor {
	m := intra()
	return &IntraCompressor{enc: huffman.NewEncoder(bitio.NewWriter(w, order), m.book), err: m.err}
}

// CompressFrame writes one width x height frame of row-major pixels.
//
// The first pixel is stored as is and the rest of row 0 is predicted from
// its left neighbor. Later rows alternate direction: each starts with the
// pixel above as prediction and continues with the Paeth predictor over
// the neighbor just coded, the pixel above and the one above that
// neighbor.
func (c *IntraCompressor) CompressFrame(width, height int, pixels []uint16) error {
	if c.err != nil {
		return c.err
	}
	if err := checkFrame(width, height, pixels); err != nil {
		return err
	}
	enc := c.enc

	enc.WriteBits(uint32(pixels[0]), pixelBits)
	for x := 1; x < width; x++ {
		encodeError(enc, pixels[x]-pixels[x-1])
	}
	for y := 1; y < height; y++ {
		row, up := pixels[y*width:(y+1)*width], pixels[(y-1)*width:y*width]
		if y%2 == 1 {
			x := width - 1
			encodeError(enc, row[x]-up[x])
			for x--; x >= 0; x-- {
				encodeError(enc, row[x]-paeth(row[x+1], up[x], up[x+1]))
			}
		} else {
			encodeError(enc, row[0]-up[0])
			for x := 1; x < width; x++ {
				encodeError(enc, row[x]-paeth(row[x-1], up[x], up[x-1]))
			}
		}
	}
	return enc.Flush()
}

// IntraDecompressor reads frames written by IntraCompressor.
type IntraDecompressor struct {
	dec *huffman.Decoder
	err error
}

// NewIntraDecompressor returns a decompressor reading words from r in the
// given byte order.
func NewIntraDecompressor(r io.Reader, order binary.ByteOrder) *IntraDecompressor {
	m := intra()
	return &IntraDecompressor{dec: huffman.NewDecoder(bitio.NewReader(r, order), m.tree), err: m.err}
}

// DecompressFrame reads one width x height frame into pixels.
func (d *IntraDecompressor) DecompressFrame(width, height int, pixels []uint16) error {
	if d.err != nil {
		return d.err
	}
	if err := checkFrame(width, height, pixels); err != nil {
		return err
	}
	dec := d.dec
	next := func() uint16 { return decodeError(dec, dec.Decode()) }

	pixels[0] = uint16(dec.ReadBits(pixelBits))
	for x := 1; x < width; x++ {
		pixels[x] = pixels[x-1] + next()
	}
	for y := 1; y < height; y++ {
		row, up := pixels[y*width:(y+1)*width], pixels[(y-1)*width:y*width]
		if y%2 == 1 {
			x := width - 1
			row[x] = up[x] + next()
			for x--; x >= 0; x-- {
				row[x] = paeth(row[x+1], up[x], up[x+1]) + next()
			}
		} else {
			row[0] = up[0] + next()
			for x := 1; x < width; x++ {
				row[x] = paeth(row[x-1], up[x], up[x-1]) + next()
			}
		}
	}
	dec.Flush()
	return dec.Err()
}
