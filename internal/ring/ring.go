// Package ring provides a fixed-capacity FIFO that overwrites its oldest
// entry when full. Used for the MQTT offline buffer and the status page's
// recent-event list.
package ring

// Buffer holds up to Cap() values, oldest first.
// Not safe for concurrent use; callers synchronize.
type Buffer[T any] struct {
	buf     []T
	head    int // next write position
	count   int
	dropped uint64
}

// New returns an empty buffer holding at most capacity values.
// capacity must be positive.
func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		panic("ring: capacity must be positive")
	}
	return &Buffer[T]{buf: make([]T, capacity)}
}

// Push appends v. When the buffer is full the oldest value is overwritten
// and Push reports true.
func (r *Buffer[T]) Push(v T) (overwrote bool) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.count == len(r.buf) {
		r.dropped++
		return true
	}
	r.count++
	return false
}

// Items returns a copy of the stored values, oldest first, leaving the
// buffer unchanged. It returns nil when empty.
func (r *Buffer[T]) Items() []T {
	if r.count == 0 {
		return nil
	}
	out := make([]T, r.count)
	start := (r.head - r.count + len(r.buf)) % len(r.buf)
	for i := range out {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// Drain returns the stored values, oldest first, and empties the buffer.
func (r *Buffer[T]) Drain() []T {
	out := r.Items()
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.head = 0
	r.count = 0
	return out
}

// Len returns the number of stored values.
func (r *Buffer[T]) Len() int { return r.count }

// Cap returns the capacity.
func (r *Buffer[T]) Cap() int { return len(r.buf) }

// Dropped returns how many values have been overwritten since creation.
func (r *Buffer[T]) Dropped() uint64 { return r.dropped }
