package property

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// TIFF tags used by property grid files.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagOrientation     = 274
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagExtraSamples    = 338
	tagSampleFormat    = 339
)

const (
	typeShort = 3
	typeLong  = 4

	sampleFormatFloat = 3
)

// Encode writes a width x height grid of (roughness, absorption) pairs as
// an uncompressed little-endian TIFF with two 32-bit float samples per
// pixel. File row 0 is grid row 0.
func Encode(w io.Writer, width, height int, data []float32) error {
	if len(data) != 2*width*height {
		return fmt.Errorf("%w: %d values for %dx%d", ErrGridMismatch, len(data), width, height)
	}
	type entry struct {
		tag, typ uint16
		count    uint32
		value    uint32
	}
	pair := func(v uint16) uint32 { return uint32(v) | uint32(v)<<16 }
	const numEntries = 13
	const dataOffset = 8 + 2 + numEntries*12 + 4
	entries := [numEntries]entry{
		{tagImageWidth, typeLong, 1, uint32(width)},
		{tagImageLength, typeLong, 1, uint32(height)},
		{tagBitsPerSample, typeShort, 2, pair(32)},
		{tagCompression, typeShort, 1, 1},
		{tagPhotometric, typeShort, 1, 1},
		{tagStripOffsets, typeLong, 1, dataOffset},
		{tagOrientation, typeShort, 1, 1},
		{tagSamplesPerPixel, typeShort, 1, 2},
		{tagRowsPerStrip, typeLong, 1, uint32(height)},
		{tagStripByteCounts, typeLong, 1, uint32(8 * width * height)},
		{tagPlanarConfig, typeShort, 1, 1},
		{tagExtraSamples, typeShort, 1, 0},
		{tagSampleFormat, typeShort, 2, pair(sampleFormatFloat)},
	}

	bw := bufio.NewWriter(w)
	le := binary.LittleEndian
	var buf [12]byte
	bw.WriteString("II")
	le.PutUint16(buf[:], 42)
	le.PutUint32(buf[2:], 8)
	bw.Write(buf[:6])
	le.PutUint16(buf[:], numEntries)
	bw.Write(buf[:2])
	for _, e := range entries {
		le.PutUint16(buf[0:], e.tag)
		le.PutUint16(buf[2:], e.typ)
		le.PutUint32(buf[4:], e.count)
		le.PutUint32(buf[8:], e.value)
		bw.Write(buf[:12])
	}
	le.PutUint32(buf[:], 0)
	bw.Write(buf[:4])
	for _, v := range data {
		le.PutUint32(buf[:], math.Float32bits(v))
		bw.Write(buf[:4])
	}
	return bw.Flush()
}

// Decode reads a grid written by Encode, or any baseline TIFF with the same
// layout in either byte order. The image must be width x height pixels of
// two uncompressed, chunky 32-bit float samples; anything else is
// ErrGridMismatch.
func Decode(r io.ReaderAt, width, height int) ([]float32, error) {
	var hdr [8]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return nil, fmt.Errorf("property: read tiff header: %w", err)
	}
	var order binary.ByteOrder
	switch string(hdr[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: not a tiff file", ErrGridMismatch)
	}
	if order.Uint16(hdr[2:]) != 42 {
		return nil, fmt.Errorf("%w: not a tiff file", ErrGridMismatch)
	}

	ifd := int64(order.Uint32(hdr[4:]))
	var cnt [2]byte
	if _, err := r.ReadAt(cnt[:], ifd); err != nil {
		return nil, fmt.Errorf("property: read tiff directory: %w", err)
	}
	n := int(order.Uint16(cnt[:]))
	raw := make([]byte, 12*n)
	if _, err := r.ReadAt(raw, ifd+2); err != nil {
		return nil, fmt.Errorf("property: read tiff directory: %w", err)
	}

	fields := make(map[uint16][]uint32, n)
	for i := range n {
		e := raw[12*i : 12*i+12]
		tag, typ, count := order.Uint16(e), order.Uint16(e[2:]), order.Uint32(e[4:])
		vals, err := fieldValues(r, order, typ, count, e[8:12])
		if err != nil {
			return nil, err
		}
		if vals != nil {
			fields[tag] = vals
		}
	}

	one := func(tag uint16, def uint32) uint32 {
		if v, ok := fields[tag]; ok && len(v) > 0 {
			return v[0]
		}
		return def
	}
	if int(one(tagImageWidth, 0)) != width || int(one(tagImageLength, 0)) != height {
		return nil, fmt.Errorf("%w: image is %dx%d, grid is %dx%d",
			ErrGridMismatch, one(tagImageWidth, 0), one(tagImageLength, 0), width, height)
	}
	if one(tagSamplesPerPixel, 1) != 2 {
		return nil, fmt.Errorf("%w: %d channels, want 2", ErrGridMismatch, one(tagSamplesPerPixel, 1))
	}
	for _, b := range fields[tagBitsPerSample] {
		if b != 32 {
			return nil, fmt.Errorf("%w: %d-bit samples, want 32", ErrGridMismatch, b)
		}
	}
	if len(fields[tagBitsPerSample]) == 0 {
		return nil, fmt.Errorf("%w: 1-bit samples, want 32", ErrGridMismatch)
	}
	for _, f := range fields[tagSampleFormat] {
		if f != sampleFormatFloat {
			return nil, fmt.Errorf("%w: sample format %d, want float", ErrGridMismatch, f)
		}
	}
	if len(fields[tagSampleFormat]) == 0 {
		return nil, fmt.Errorf("%w: integer samples, want float", ErrGridMismatch)
	}
	if one(tagCompression, 1) != 1 || one(tagPlanarConfig, 1) != 1 {
		return nil, fmt.Errorf("%w: compressed or planar data", ErrGridMismatch)
	}

	offsets, counts := fields[tagStripOffsets], fields[tagStripByteCounts]
	if len(offsets) == 0 || len(offsets) != len(counts) {
		return nil, fmt.Errorf("%w: bad strip layout", ErrGridMismatch)
	}
	var pixels bytes.Buffer
	for i, off := range offsets {
		strip := make([]byte, counts[i])
		if _, err := r.ReadAt(strip, int64(off)); err != nil {
			return nil, fmt.Errorf("property: read tiff strip %d: %w", i, err)
		}
		pixels.Write(strip)
	}
	want := 8 * width * height
	if pixels.Len() < want {
		return nil, fmt.Errorf("%w: %d bytes of samples, want %d", ErrGridMismatch, pixels.Len(), want)
	}

	p := pixels.Bytes()
	data := make([]float32, 2*width*height)
	for i := range data {
		data[i] = math.Float32frombits(order.Uint32(p[4*i:]))
	}
	return data, nil
}

// fieldValues returns the SHORT or LONG values of a directory entry, or nil
// for other types.
func fieldValues(r io.ReaderAt, order binary.ByteOrder, typ uint16, count uint32, inline []byte) ([]uint32, error) {
	var size uint32
	switch typ {
	case typeShort:
		size = 2
	case typeLong:
		size = 4
	default:
		return nil, nil
	}
	if count > 1<<20 {
		return nil, fmt.Errorf("%w: directory entry with %d values", ErrGridMismatch, count)
	}
	b := inline
	if size*count > 4 {
		b = make([]byte, size*count)
		if _, err := r.ReadAt(b, int64(order.Uint32(inline))); err != nil {
			return nil, fmt.Errorf("property: read tiff field: %w", err)
		}
	}
	vals := make([]uint32, count)
	for i := range vals {
		if size == 2 {
			vals[i] = uint32(order.Uint16(b[2*i:]))
		} else {
			vals[i] = order.Uint32(b[4*i:])
		}
	}
	return vals, nil
}

// ReadFile loads a property grid file of width x height cells.
func ReadFile(path string, width, height int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f, width, height)
}

// WriteFile saves a property grid to path.
func WriteFile(path string, width, height int, data []float32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Encode(f, width, height, data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
