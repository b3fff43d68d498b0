package codec

import (
	"math"
	"sync"

	"github.com/gogpu/sandbox/codec/huffman"
)

// Alphabet layout shared by both coders. Prediction errors e with
// -codeMax <= e <= codeMax are coded as e+codeMax; larger errors as
// outOfRange followed by the raw 16-bit value. Inter frames additionally
// code runs of 1..maxZeroRun unchanged pixels as outOfRange+run.
const (
	codeMax    = 256
	outOfRange = 2*codeMax + 1
	maxZeroRun = 512

	pixelBits = 16

	intraSymbols = outOfRange + 1
	interSymbols = outOfRange + maxZeroRun + 1
)

// model is a codebook and its decoding tree.
type model struct {
	book []huffman.Code
	tree []huffman.Node
	err  error
}

var (
	intraOnce, interOnce   sync.Once
	intraModel, interModel model
)

// Frequencies fall off geometrically with the error magnitude. The scale
// keeps the total small enough that no code exceeds 32 bits.
const (
	modelScale = 1 << 16
	errorDecay = 0.9
	runDecay   = 0.99
)

func geometric(scale, decay float64, k int) uint64 {
	return uint64(scale*math.Pow(decay, float64(k))) + 1
}

func setErrorFrequencies(b *huffman.Builder) {
	for e := -codeMax; e <= codeMax; e++ {
		b.SetFrequency(e+codeMax, geometric(modelScale, errorDecay, abs(e)))
	}
	b.SetFrequency(outOfRange, modelScale/64)
}

func newModel(b *huffman.Builder) model {
	book, err := b.Codebook()
	if err != nil {
		return model{err: err}
	}
	return model{book: book, tree: b.DecodingTree()}
}

func intra() *model {
	intraOnce.Do(func() {
		b := huffman.NewBuilder(intraSymbols)
		setErrorFrequencies(b)
		intraModel = newModel(b)
	})
	return &intraModel
}

func inter() *model {
	interOnce.Do(func() {
		b := huffman.NewBuilder(interSymbols)
		setErrorFrequencies(b)
		// Unchanged pixels dominate inter frames.
		b.SetFrequency(codeMax, 1)
		for run := 1; run <= maxZeroRun; run++ {
			b.SetFrequency(outOfRange+run, geometric(modelScale/4, runDecay, run-1))
		}
		b.SetFrequency(outOfRange+maxZeroRun, modelScale)
		interModel = newModel(b)
	})
	return &interModel
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
