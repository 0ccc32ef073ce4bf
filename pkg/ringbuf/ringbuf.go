// Package ringbuf is a small bounded history buffer safe for concurrent use.
package ringbuf

import "sync"

// Buffer keeps the most recent values up to its capacity.
type Buffer[T any] struct {
	mu   sync.Mutex
	buf  []T
	head int // index of the oldest value
	n    int
}

// New returns a buffer holding at most size values; size < 1 is treated
// as 1.
func New[T any](size int) *Buffer[T] {
	return &Buffer[T]{buf: make([]T, max(size, 1))}
}

func (b *Buffer[T]) Push(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.n < len(b.buf) {
		b.buf[(b.head+b.n)%len(b.buf)] = v
		b.n++
		return
	}
	b.buf[b.head] = v
	b.head = (b.head + 1) % len(b.buf)
}

// Items returns a copy of the values, oldest first.
func (b *Buffer[T]) Items() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.itemsLocked()
}

func (b *Buffer[T]) itemsLocked() []T {
	out := make([]T, b.n)
	for i := range b.n {
		out[i] = b.buf[(b.head+i)%len(b.buf)]
	}
	return out
}

func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

// Resize changes the capacity, keeping the newest values that fit.
func (b *Buffer[T]) Resize(size int) {
	size = max(size, 1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if size == len(b.buf) {
		return
	}
	items := b.itemsLocked()
	if len(items) > size {
		items = items[len(items)-size:]
	}
	b.buf = make([]T, size)
	copy(b.buf, items)
	b.head, b.n = 0, len(items)
}
