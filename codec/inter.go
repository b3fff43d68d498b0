package codec

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/gogpu/sandbox/codec/bitio"
	"github.com/gogpu/sandbox/codec/huffman"
)

// InterCompressor writes frames as differences to the previous frame.
type InterCompressor struct {
	enc *huffman.Encoder
	err error
}

// NewInterCompressor returns a compressor writing words to w in the given
// byte order.
func NewInterCompressor(w io.Writer, order binary.ByteOrder) *InterCompressor {
	m := inter()
	return &InterCompressor{enc: huffman.NewEncoder(bitio.NewWriter(w, order), m.book), err: m.err}
}

// CompressFrame writes cur as the per-pixel difference to prev. Runs of
// unchanged pixels are coded as run lengths of at most 512.
func (c *InterCompressor) CompressFrame(width, height int, prev, cur []uint16) error {
	if c.err != nil {
		return c.err
	}
	if err := checkFrame(width, height, prev, cur); err != nil {
		return err
	}
	enc := c.enc
	run := 0
	for i, v := range cur {
		d := v - prev[i]
		if d == 0 {
			run++
			if run == maxZeroRun {
				enc.Encode(outOfRange + run)
				run = 0
			}
			continue
		}
		if run > 0 {
			enc.Encode(outOfRange + run)
			run = 0
		}
		encodeError(enc, d)
	}
	if run > 0 {
		enc.Encode(outOfRange + run)
	}
	return enc.Flush()
}

// InterDecompressor reads frames written by InterCompressor.
type InterDecompressor struct {
	dec *huffman.Decoder
	err error
}

// NewInterDecompressor returns a decompressor reading words from r in the
// given byte order.
func NewInterDecompressor(r io.Reader, order binary.ByteOrder) *InterDecompressor {
	m := inter()
	return &InterDecompressor{dec: huffman.NewDecoder(bitio.NewReader(r, order), m.tree), err: m.err}
}

// DecompressFrame reads one frame, applying the differences to prev and
// storing the result in cur. prev and cur may be the same slice.
func (d *InterDecompressor) DecompressFrame(width, height int, prev, cur []uint16) error {
	if d.err != nil {
		return d.err
	}
	if err := checkFrame(width, height, prev, cur); err != nil {
		return err
	}
	dec := d.dec
	for i := 0; i < len(cur); {
		sym := dec.Decode()
		if dec.Err() != nil {
			return dec.Err()
		}
		if sym > outOfRange {
			run := int(sym - outOfRange)
			if i+run > len(cur) {
				return fmt.Errorf("%w: run of %d at pixel %d of %d", ErrCorrupt, run, i, len(cur))
			}
			copy(cur[i:i+run], prev[i:i+run])
			i += run
			continue
		}
		cur[i] = prev[i] + decodeError(dec, sym)
		i++
	}
	dec.Flush()
	return dec.Err()
}
