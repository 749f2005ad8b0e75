package encoder

import (
	"fmt"
	"sync"
)

// Buffer is a bounded, append-only byte buffer for encoded chunks. It is
// drained exactly once by Take; writes after that fail.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	max    int
	chunks int
	taken  bool
}

// NewBuffer creates a buffer holding at most max bytes; max <= 0 means
// unbounded.
func NewBuffer(max int) *Buffer {
	return &Buffer{max: max}
}

// Write appends one chunk
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.taken {
		return 0, ErrStopped
	}
	if b.max > 0 && len(b.data)+len(p) > b.max {
		return 0, fmt.Errorf("%w: %d + %d > %d bytes", ErrBufferFull, len(b.data), len(p), b.max)
	}
	b.data = append(b.data, p...)
	b.chunks++
	return len(p), nil
}

// Len returns the number of buffered bytes
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Chunks returns the number of chunks written
func (b *Buffer) Chunks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chunks
}

// Take returns the buffered bytes and clears the buffer. Only the first
// call returns data.
func (b *Buffer) Take() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.taken {
		return nil
	}
	b.taken = true
	out := b.data
	b.data = nil
	return out
}

// Discard clears the buffer without returning the data
func (b *Buffer) Discard() {
	b.Take()
}
