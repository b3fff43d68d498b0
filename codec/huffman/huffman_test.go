package huffman

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/gogpu/sandbox/codec/bitio"
)

func newBuilder(freqs ...uint64) *Builder {
	b := NewBuilder(len(freqs))
	for i, f := range freqs {
		b.SetFrequency(i, f)
	}
	return b
}

func TestCodebookSmall(t *testing.T) {
	book, err := newBuilder(5, 1, 1, 2).Codebook()
	if err != nil {
		t.Fatal(err)
	}
	want := []Code{{0b0, 1}, {0b101, 3}, {0b100, 3}, {0b11, 2}}
	for i := range want {
		if book[i] != want[i] {
			t.Errorf("symbol %d: code %+v, want %+v", i, book[i], want[i])
		}
	}
}

func TestCodebookPrefixFree(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	freqs := make([]uint64, 300)
	for i := range freqs {
		freqs[i] = uint64(rng.IntN(1000))
	}
	book, err := newBuilder(freqs...).Codebook()
	if err != nil {
		t.Fatal(err)
	}

	// Kraft: a complete prefix code sums to exactly one.
	var kraft float64
	for _, c := range book {
		kraft += 1 / float64(uint64(1)<<c.Len)
	}
	if kraft != 1 {
		t.Errorf("Kraft sum = %v, want 1", kraft)
	}

	for i, a := range book {
		for j, b := range book {
			if i == j || a.Len > b.Len {
				continue
			}
			if b.Bits>>(b.Len-a.Len) == a.Bits {
				t.Fatalf("code of %d is a prefix of the code of %d", i, j)
			}
		}
	}
}

func TestCodebookDeterministic(t *testing.T) {
	freqs := []uint64{3, 3, 3, 3, 3, 3, 7, 1}
	a, _ := newBuilder(freqs...).Codebook()
	b, _ := newBuilder(freqs...).Codebook()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("symbol %d: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestCodeTooLong(t *testing.T) {
	// Fibonacci frequencies give a maximally skewed tree.
	freqs := make([]uint64, 40)
	freqs[0], freqs[1] = 1, 1
	for i := 2; i < len(freqs); i++ {
		freqs[i] = freqs[i-1] + freqs[i-2]
	}
	if _, err := newBuilder(freqs...).Codebook(); !errors.Is(err, ErrCodeTooLong) {
		t.Errorf("error = %v, want ErrCodeTooLong", err)
	}
}

func TestDecodingTree(t *testing.T) {
	b := newBuilder(5, 1, 1, 2)
	tree := b.DecodingTree()
	if len(tree) != 7 {
		t.Fatalf("tree has %d nodes, want 7", len(tree))
	}
	if tree[0].Symbol != Interior {
		t.Error("root is a leaf")
	}
	leaves := 0
	for _, n := range tree {
		if n.Symbol != Interior {
			leaves++
		}
	}
	if leaves != 4 {
		t.Errorf("%d leaves, want 4", leaves)
	}

	single := newBuilder(9).DecodingTree()
	if len(single) != 1 || single[0].Symbol != 0 {
		t.Errorf("single-symbol tree = %+v", single)
	}
}

func TestEncodeDecode(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	freqs := make([]uint64, 64)
	for i := range freqs {
		freqs[i] = uint64(1 + (64-i)*(64-i))
	}
	b := newBuilder(freqs...)
	book, err := b.Codebook()
	if err != nil {
		t.Fatal(err)
	}

	syms := make([]int, 2000)
	var buf bytes.Buffer
	enc := NewEncoder(bitio.NewWriter(&buf, binary.BigEndian), book)
	for i := range syms {
		syms[i] = rng.IntN(len(freqs))
		enc.Encode(syms[i])
		if i%100 == 0 {
			enc.WriteBits(uint32(i), 16)
		}
	}
	if err := enc.Flush(); err != nil {
		t.Fatal(err)
	}

	dec := NewDecoder(bitio.NewReader(&buf, binary.BigEndian), b.DecodingTree())
	for i, want := range syms {
		if got := dec.Decode(); got != uint32(want) {
			t.Fatalf("symbol %d = %d, want %d", i, got, want)
		}
		if i%100 == 0 {
			if got := dec.ReadBits(16); got != uint32(i) {
				t.Fatalf("raw bits after %d = %d", i, got)
			}
		}
	}
	if dec.Err() != nil {
		t.Fatal(dec.Err())
	}
}

func BenchmarkCodebook(b *testing.B) {
	freqs := make([]uint64, 1026)
	for i := range freqs {
		freqs[i] = uint64(1 + i%97)
	}
	for b.Loop() {
		if _, err := newBuilder(freqs...).Codebook(); err != nil {
			b.Fatal(err)
		}
	}
}
