// Package huffman builds Huffman codes from symbol frequencies and encodes
// and decodes symbols over a bitio stream.
//
// Codes are assigned deterministically: equal frequencies are merged in
// symbol order, so an encoder and a decoder built from the same
// frequencies always agree.
package huffman

import (
	"container/heap"
	"errors"
	"fmt"

	"github.com/gogpu/sandbox/codec/bitio"
)

// MaxCodeLen is the longest code an encoder can write.
const MaxCodeLen = bitio.WordBits

// Interior marks interior nodes of a decoding tree.
const Interior = ^uint32(0)

// ErrCodeTooLong is returned when a frequency table produces a code longer
// than MaxCodeLen.
var ErrCodeTooLong = errors.New("huffman: code longer than 32 bits")

// Code is the code of one symbol: the Len low bits of Bits, root first.
type Code struct {
	Bits uint32
	Len  uint8
}

// Node is a node of a decoding tree. Leaves hold their symbol; interior
// nodes hold Interior and the indices of their children for bits 0 and 1.
type Node struct {
	Symbol   uint32
	Children [2]uint32
}

type buildNode struct {
	parent   int
	side     int // 0 or 1 under parent, -1 for the root
	children [2]int
	freq     uint64
}

// Builder collects symbol frequencies and derives the code.
type Builder struct {
	freq  []uint64
	nodes []buildNode
}

// NewBuilder returns a builder for the symbols 0..n-1, all with frequency
// zero.
func NewBuilder(n int) *Builder {
	return &Builder{freq: make([]uint64, n)}
}

// SetFrequency sets the frequency of symbol sym.
func (b *Builder) SetFrequency(sym int, f uint64) {
	b.freq[sym] = f
	b.nodes = nil
}

// Symbols returns the alphabet size.
func (b *Builder) Symbols() int { return len(b.freq) }

type queueItem struct {
	index int
	freq  uint64
}

type queue []queueItem

func (q queue) Len() int { return len(q) }
func (q queue) Less(i, j int) bool {
	if q[i].freq != q[j].freq {
		return q[i].freq < q[j].freq
	}
	return q[i].index < q[j].index
}
func (q queue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *queue) Push(x any)   { *q = append(*q, x.(queueItem)) }
func (q *queue) Pop() any {
	old := *q
	it := old[len(old)-1]
	*q = old[:len(old)-1]
	return it
}

// build merges the two rarest nodes until one root is left. The rarer of
// the two becomes child 1.
func (b *Builder) build() {
	if b.nodes != nil {
		return
	}
	n := len(b.freq)
	nodes := make([]buildNode, n, 2*n)
	q := make(queue, n)
	for i, f := range b.freq {
		nodes[i] = buildNode{side: -1, freq: f}
		q[i] = queueItem{i, f}
	}
	heap.Init(&q)
	for q.Len() >= 2 {
		rare := heap.Pop(&q).(queueItem)
		common := heap.Pop(&q).(queueItem)
		p := len(nodes)
		nodes[common.index].parent, nodes[common.index].side = p, 0
		nodes[rare.index].parent, nodes[rare.index].side = p, 1
		nodes = append(nodes, buildNode{
			side:     -1,
			children: [2]int{common.index, rare.index},
			freq:     common.freq + rare.freq,
		})
		heap.Push(&q, queueItem{p, common.freq + rare.freq})
	}
	b.nodes = nodes
}

// Codebook returns the code of every symbol.
func (b *Builder) Codebook() ([]Code, error) {
	b.build()
	book := make([]Code, len(b.freq))
	for sym := range book {
		var c Code
		var length int
		for i := sym; b.nodes[i].side >= 0; i = b.nodes[i].parent {
			if length == MaxCodeLen {
				return nil, fmt.Errorf("%w: symbol %d", ErrCodeTooLong, sym)
			}
			c.Bits |= uint32(b.nodes[i].side) << length
			length++
		}
		c.Len = uint8(length)
		book[sym] = c
	}
	return book, nil
}

// DecodingTree returns the code tree in prefix order with the root at
// index 0.
func (b *Builder) DecodingTree() []Node {
	b.build()
	if len(b.nodes) == 0 {
		return nil
	}
	tree := make([]Node, 0, len(b.nodes))
	var walk func(i int)
	walk = func(i int) {
		if i < len(b.freq) {
			tree = append(tree, Node{Symbol: uint32(i)})
			return
		}
		at := len(tree)
		tree = append(tree, Node{Symbol: Interior})
		for side, c := range b.nodes[i].children {
			tree[at].Children[side] = uint32(len(tree))
			walk(c)
		}
	}
	walk(len(b.nodes) - 1)
	return tree
}

// Encoder writes symbols with a fixed codebook.
type Encoder struct {
	w    *bitio.Writer
	book []Code
}

// NewEncoder returns an encoder writing to w.
func NewEncoder(w *bitio.Writer, book []Code) *Encoder {
	return &Encoder{w: w, book: book}
}

// Encode writes the code of sym.
func (e *Encoder) Encode(sym int) {
	c := e.book[sym]
	e.w.Write(c.Bits, uint(c.Len))
}

// WriteBits writes n raw bits, bypassing the code.
func (e *Encoder) WriteBits(bits uint32, n uint) { e.w.Write(bits, n) }

// Flush pads and writes the current word.
func (e *Encoder) Flush() error { return e.w.Flush() }

// Decoder reads symbols with a fixed decoding tree.
type Decoder struct {
	r    *bitio.Reader
	tree []Node
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r *bitio.Reader, tree []Node) *Decoder {
	return &Decoder{r: r, tree: tree}
}

// Decode reads one symbol.
func (d *Decoder) Decode() uint32 {
	i := uint32(0)
	for d.tree[i].Symbol == Interior {
		i = d.tree[i].Children[d.r.ReadBit()]
	}
	return d.tree[i].Symbol
}

// ReadBits reads n raw bits, bypassing the code.
func (d *Decoder) ReadBits(n uint) uint32 { return d.r.Read(n) }

// Flush skips to the next word.
func (d *Decoder) Flush() { d.r.Flush() }

// Err returns the first read error of the underlying stream.
func (d *Decoder) Err() error { return d.r.Err() }
