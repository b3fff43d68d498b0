package elevation

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"

	"golang.org/x/image/tiff"
)

// maxGridSamples bounds the size accepted from a grid file header.
const maxGridSamples = 1 << 28

// ReadGrid decodes a grid in the binary DEM layout: int32 width and
// height, four float32 box coordinates, then width*height float32 samples,
// all little endian.
func ReadGrid(r io.Reader) (*Grid, error) {
	var hdr struct {
		Width, Height int32
		Box           [4]float32
	}
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("elevation: read grid header: %w", err)
	}
	w, h := int(hdr.Width), int(hdr.Height)
	if w < 2 || h < 2 || w*h > maxGridSamples {
		return nil, fmt.Errorf("%w: header size %dx%d", ErrInvalidGrid, w, h)
	}
	samples := make([]float32, w*h)
	if err := binary.Read(r, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("elevation: read grid samples: %w", err)
	}
	return NewGrid(w, h, hdr.Box, samples)
}

// WriteGrid encodes g in the layout read by ReadGrid.
func WriteGrid(w io.Writer, g *Grid) error {
	hdr := struct {
		Width, Height int32
		Box           [4]float32
	}{int32(g.width), int32(g.height), g.box}
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, g.Samples())
}

// LoadGridFile reads a .grid file.
func LoadGridFile(path string) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	g, err := ReadGrid(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// DecodeTIFF builds a grid from a grey TIFF image over box. Each pixel
// value v in [0, 65535] becomes the elevation offset + scale*v. The top
// image row is the maximum y row of the grid.
func DecodeTIFF(r io.Reader, box [4]float32, scale, offset float32) (*Grid, error) {
	img, err := tiff.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("elevation: decode tiff: %w", err)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	samples := make([]float32, w*h)

	gray, _ := img.(*image.Gray16)
	for y := range h {
		row := (h - 1 - y) * w
		for x := range w {
			var v uint16
			if gray != nil {
				v = gray.Gray16At(b.Min.X+x, b.Min.Y+y).Y
			} else {
				v = color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16).Y
			}
			samples[row+x] = offset + scale*float32(v)
		}
	}
	return NewGrid(w, h, box, samples)
}

// LoadTIFF reads a grey TIFF file as described by DecodeTIFF.
func LoadTIFF(path string, box [4]float32, scale, offset float32) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	g, err := DecodeTIFF(f, box, scale, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}
