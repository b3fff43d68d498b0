// Package triple provides a lock-free triple buffer for handing values
// from one producer goroutine to one consumer goroutine.
//
// The producer fills the back slot and posts it; the consumer locks the
// most recently posted slot. Neither side ever waits for the other, and a
// value posted twice before the consumer looks is simply replaced.
package triple

import "sync/atomic"

// fresh marks a posted slot the consumer has not locked yet.
const fresh = 1 << 2

// Buffer is a triple buffer of T. Create it with New.
//
// StartNew and Post must only be called by the producer, LockNew and
// Locked only by the consumer.
type Buffer[T any] struct {
	slots [3]T

	// ready holds the index of the middle slot, plus fresh.
	ready atomic.Uint32

	back  uint32 // producer-owned
	front uint32 // consumer-owned
}

// New returns a buffer whose three slots are initialised by init.
func New[T any](init func(*T)) *Buffer[T] {
	b := &Buffer[T]{}
	if init != nil {
		for i := range b.slots {
			init(&b.slots[i])
		}
	}
	// front 0, middle 1, back 2
	b.ready.Store(1)
	b.back = 2
	return b
}

// Slot returns slot i for initialisation before concurrent use.
func (b *Buffer[T]) Slot(i int) *T { return &b.slots[i] }

// StartNew returns the back slot for the producer to fill.
func (b *Buffer[T]) StartNew() *T {
	return &b.slots[b.back]
}

// Post publishes the back slot as the newest value.
func (b *Buffer[T]) Post() {
	old := b.ready.Swap(b.back | fresh)
	b.back = old &^ fresh
}

// HasNew reports whether a value was posted since the last LockNew.
func (b *Buffer[T]) HasNew() bool {
	return b.ready.Load()&fresh != 0
}

// LockNew makes the newest posted value the consumer's locked value. It
// returns false, keeping the current locked value, when nothing new was
// posted.
func (b *Buffer[T]) LockNew() bool {
	if !b.HasNew() {
		return false
	}
	old := b.ready.Swap(b.front)
	b.front = old &^ fresh
	return true
}

// Locked returns the consumer's locked value.
func (b *Buffer[T]) Locked() *T { return &b.slots[b.front] }
