// Package bitio reads and writes bit streams packed into 32-bit words.
//
// Bits are packed MSB first: the first bit written is the most significant
// bit of the first word. Words are stored in the byte order given to the
// Writer or Reader. A stream is a sequence of whole words; Flush on the
// writer pads the last word with zero bits, and Flush on the reader skips
// the rest of the current word, so independently flushed segments line up.
package bitio

import (
	"encoding/binary"
	"io"
)

// WordBits is the number of bits in a word.
const WordBits = 32

func mask(n uint) uint32 { return uint32(uint64(1)<<n - 1) }

// Writer packs bits into words and writes them to an io.Writer.
type Writer struct {
	w     io.Writer
	order binary.ByteOrder
	buf   uint32
	free  uint // unused low bits of buf
	word  [4]byte
	err   error
}

// NewWriter returns a Writer writing words to w in the given byte order.
func NewWriter(w io.Writer, order binary.ByteOrder) *Writer {
	return &Writer{w: w, order: order, free: WordBits}
}

// Write appends the n low bits of bits, most significant first. n must be
// at most 32.
func (w *Writer) Write(bits uint32, n uint) {
	bits &= mask(n)
	if n <= w.free {
		if n < WordBits {
			w.buf = w.buf<<n | bits
		} else {
			w.buf = bits
		}
		w.free -= n
		if w.free == 0 {
			w.emit()
		}
		return
	}
	lsb := n - w.free
	w.buf = w.buf<<w.free | bits>>lsb
	w.emit()
	w.buf = bits & mask(lsb)
	w.free = WordBits - lsb
}

func (w *Writer) emit() {
	if w.err == nil {
		w.order.PutUint32(w.word[:], w.buf)
		_, w.err = w.w.Write(w.word[:])
	}
	w.buf = 0
	w.free = WordBits
}

// Flush writes a partially filled word, padded with zero bits, and returns
// the first error encountered while writing.
func (w *Writer) Flush() error {
	if w.free != WordBits {
		w.buf <<= w.free
		w.emit()
	}
	return w.err
}

// Err returns the first write error.
func (w *Writer) Err() error { return w.err }

// Reader unpacks bits from words read from an io.Reader.
//
// Read errors are sticky: after the first one every read returns zero bits
// and Err reports the error.
type Reader struct {
	r     io.Reader
	order binary.ByteOrder
	buf   uint32
	avail uint // unread low bits of buf
	word  [4]byte
	err   error
}

// NewReader returns a Reader reading words from r in the given byte order.
func NewReader(r io.Reader, order binary.ByteOrder) *Reader {
	return &Reader{r: r, order: order}
}

func (r *Reader) fill() {
	if r.err == nil {
		if _, err := io.ReadFull(r.r, r.word[:]); err != nil {
			r.err = err
		}
	}
	if r.err != nil {
		r.buf = 0
	} else {
		r.buf = r.order.Uint32(r.word[:])
	}
	r.avail = WordBits
}

// Read returns the next n bits in the low bits of the result. n must be at
// most 32.
func (r *Reader) Read(n uint) uint32 {
	if n == 0 {
		return 0
	}
	if n <= r.avail {
		v := r.buf >> (r.avail - n) & mask(n)
		r.avail -= n
		return v
	}
	need := n - r.avail
	hi := r.buf & mask(r.avail)
	r.fill()
	v := r.buf >> (WordBits - need)
	if need < WordBits {
		v |= hi << need
	}
	r.avail = WordBits - need
	return v
}

// ReadBit returns the next bit.
func (r *Reader) ReadBit() uint32 {
	if r.avail == 0 {
		r.fill()
	}
	r.avail--
	return r.buf >> r.avail & 1
}

// Flush discards the unread bits of the current word.
func (r *Reader) Flush() { r.avail = 0 }

// Err returns the first read error. A stream that ends in the middle of a
// word reports io.ErrUnexpectedEOF.
func (r *Reader) Err() error { return r.err }
