// Package ringbuf provides fixed-capacity circular buffers.
//
// Ring is a plain buffer for a single owner (or callers that serialize
// access themselves). SPSC is safe for exactly one producer goroutine and
// one consumer goroutine without locking.
package ringbuf

import "errors"

var (
	// ErrShortSpace is returned by WriteExact when the buffer cannot hold
	// the whole input. The buffer is left unchanged.
	ErrShortSpace = errors.New("ringbuf: insufficient free space")
	// ErrShortData is returned by ReadExact when fewer elements are buffered
	// than requested. The buffer is left unchanged.
	ErrShortData = errors.New("ringbuf: insufficient buffered data")
)

// Ring is a fixed-capacity FIFO of T. It is not safe for concurrent use.
type Ring[T any] struct {
	buf  []T
	head int // next read position
	n    int // buffered elements
}

// New creates a ring holding up to capacity elements. capacity must be > 0.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ringbuf: capacity must be positive")
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Cap returns the capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int { return r.n }

// Free returns the number of elements that can be written.
func (r *Ring[T]) Free() int { return len(r.buf) - r.n }

// Write copies as many elements of p as fit and returns how many were
// written.
func (r *Ring[T]) Write(p []T) int {
	w := min(len(p), r.Free())
	if w == 0 {
		return 0
	}
	tail := (r.head + r.n) % len(r.buf)
	c := copy(r.buf[tail:], p[:w])
	if c < w {
		copy(r.buf, p[c:w])
	}
	r.n += w
	return w
}

// WriteExact writes all of p or nothing.
func (r *Ring[T]) WriteExact(p []T) error {
	if len(p) > r.Free() {
		return ErrShortSpace
	}
	r.Write(p)
	return nil
}

// Read copies up to len(p) buffered elements into p and returns the count.
func (r *Ring[T]) Read(p []T) int {
	n := r.Peek(p)
	r.Discard(n)
	return n
}

// ReadExact fills p completely or reads nothing.
func (r *Ring[T]) ReadExact(p []T) error {
	if len(p) > r.n {
		return ErrShortData
	}
	r.Read(p)
	return nil
}

// Peek copies up to len(p) elements without consuming them.
func (r *Ring[T]) Peek(p []T) int {
	n := min(len(p), r.n)
	if n == 0 {
		return 0
	}
	c := copy(p[:n], r.buf[r.head:])
	if c < n {
		copy(p[c:n], r.buf)
	}
	return n
}

// Discard drops up to n buffered elements and returns how many were dropped.
func (r *Ring[T]) Discard(n int) int {
	n = min(n, r.n)
	if n <= 0 {
		return 0
	}
	var zero T
	for i := 0; i < n; i++ {
		r.buf[(r.head+i)%len(r.buf)] = zero
	}
	r.head = (r.head + n) % len(r.buf)
	r.n -= n
	if r.n == 0 {
		r.head = 0
	}
	return n
}

// Reset empties the ring and returns the number of elements discarded.
func (r *Ring[T]) Reset() int {
	return r.Discard(r.n)
}
