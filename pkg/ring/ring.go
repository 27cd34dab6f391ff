// Package ring provides a generic thread-safe bounded buffer that evicts the
// oldest entry once capacity is reached.
package ring

import "sync"

// Buffer is a fixed-capacity FIFO. Items are kept in arrival order.
type Buffer[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int // index of the oldest item
	size  int
}

// New creates a buffer holding at most capacity items. A capacity below 1 is
// treated as 1.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Push appends an item, evicting the oldest one when full. It reports whether
// an item was evicted.
func (b *Buffer[T]) Push(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.items)
	if b.size < capacity {
		b.items[(b.head+b.size)%capacity] = item
		b.size++
		return false
	}

	b.items[b.head] = item
	b.head = (b.head + 1) % capacity
	return true
}

// Items returns a copy of the buffered items, oldest first.
func (b *Buffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]T, b.size)
	for i := range b.size {
		out[i] = b.items[(b.head+i)%len(b.items)]
	}
	return out
}

// Newest returns up to n items, newest first.
func (b *Buffer[T]) Newest(n int) []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n > b.size || n < 0 {
		n = b.size
	}
	out := make([]T, n)
	for i := range n {
		out[i] = b.items[(b.head+b.size-1-i)%len(b.items)]
	}
	return out
}

// Last returns the most recently pushed item.
func (b *Buffer[T]) Last() (T, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var zero T
	if b.size == 0 {
		return zero, false
	}
	return b.items[(b.head+b.size-1)%len(b.items)], true
}

// Len returns the number of buffered items.
func (b *Buffer[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Cap returns the configured capacity.
func (b *Buffer[T]) Cap() int {
	return len(b.items)
}

// Clear removes all items.
func (b *Buffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.items)
	b.head = 0
	b.size = 0
}
