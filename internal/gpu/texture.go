//go:build !nogpu

package gpu

import (
	"encoding/binary"
	"math"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/sandbox/gpucore"
)

// texelSize is the byte size of one texel: four float32 channels.
const texelSize = 16

// texture is a grid stored in a storage buffer.
type texture struct {
	label  string
	width  int
	height int
	format gpucore.TextureFormat
	filter gpucore.FilterMode
	buf    hal.Buffer
}

func (t *texture) size() uint64 { return uint64(t.width*t.height) * texelSize }

// offset returns the byte offset of texel (x, y).
func (t *texture) offset(x, y int) uint64 { return uint64(y*t.width+x) * texelSize }

// packTexels stores n texels of ch channels from src into dst as vec4
// values. Missing channels are zero.
func packTexels(dst []byte, src []float32, ch int) {
	n := len(dst) / texelSize
	for i := range n {
		for k := range 4 {
			var v float32
			if k < ch {
				v = src[i*ch+k]
			}
			binary.LittleEndian.PutUint32(dst[i*texelSize+4*k:], math.Float32bits(v))
		}
	}
}

// unpackTexels is the inverse of packTexels.
func unpackTexels(dst []float32, src []byte, ch int) {
	n := len(dst) / ch
	for i := range n {
		for k := range ch {
			dst[i*ch+k] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*texelSize+4*k:]))
		}
	}
}

// fillRow returns w texels of value v.
func fillRow(w int, v [4]float32) []byte {
	row := make([]byte, w*texelSize)
	packTexels(row[:texelSize], v[:], 4)
	for i := texelSize; i < len(row); {
		i += copy(row[i:], row[:i])
	}
	return row
}

func putFloats(dst []byte, src []float32) {
	for i, v := range src {
		binary.LittleEndian.PutUint32(dst[4*i:], math.Float32bits(v))
	}
}
