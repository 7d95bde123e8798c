package ringbuf

import "sync/atomic"

// SPSC is a lock-free ring for one producer goroutine and one consumer
// goroutine. Head and tail are monotonically increasing counters; an index
// into the backing array is counter modulo capacity.
//
// Write must only be called by the producer, Read and Reset by the
// consumer. Len and Free may be called from either side and return a
// snapshot.
type SPSC[T any] struct {
	buf  []T
	head atomic.Uint64 // consumer position
	tail atomic.Uint64 // producer position
}

// NewSPSC creates a ring holding up to capacity elements.
func NewSPSC[T any](capacity int) *SPSC[T] {
	if capacity <= 0 {
		panic("ringbuf: capacity must be positive")
	}
	return &SPSC[T]{buf: make([]T, capacity)}
}

// Cap returns the capacity.
func (r *SPSC[T]) Cap() int { return len(r.buf) }

// Len returns the number of buffered elements.
func (r *SPSC[T]) Len() int {
	return int(r.tail.Load() - r.head.Load())
}

// Free returns the number of elements that can be written.
func (r *SPSC[T]) Free() int { return len(r.buf) - r.Len() }

// Write copies as many elements of p as fit and returns the count.
func (r *SPSC[T]) Write(p []T) int {
	tail := r.tail.Load()
	head := r.head.Load()
	free := len(r.buf) - int(tail-head)
	n := min(len(p), free)
	if n == 0 {
		return 0
	}
	size := uint64(len(r.buf))
	for i := 0; i < n; i++ {
		r.buf[(tail+uint64(i))%size] = p[i]
	}
	r.tail.Store(tail + uint64(n))
	return n
}

// WriteExact writes all of p or nothing.
func (r *SPSC[T]) WriteExact(p []T) error {
	if len(p) > r.Free() {
		return ErrShortSpace
	}
	r.Write(p)
	return nil
}

// Read copies up to len(p) buffered elements into p and returns the count.
func (r *SPSC[T]) Read(p []T) int {
	head := r.head.Load()
	tail := r.tail.Load()
	n := min(len(p), int(tail-head))
	if n == 0 {
		return 0
	}
	size := uint64(len(r.buf))
	var zero T
	for i := 0; i < n; i++ {
		idx := (head + uint64(i)) % size
		p[i] = r.buf[idx]
		r.buf[idx] = zero
	}
	r.head.Store(head + uint64(n))
	return n
}

// ReadExact fills p completely or reads nothing.
func (r *SPSC[T]) ReadExact(p []T) error {
	if len(p) > r.Len() {
		return ErrShortData
	}
	r.Read(p)
	return nil
}

// Reset discards every element buffered when it is called and returns the
// count. Elements the producer writes concurrently survive.
func (r *SPSC[T]) Reset() int {
	head := r.head.Load()
	tail := r.tail.Load()
	n := int(tail - head)
	size := uint64(len(r.buf))
	var zero T
	for i := head; i < tail; i++ {
		r.buf[i%size] = zero
	}
	r.head.Store(tail)
	return n
}
