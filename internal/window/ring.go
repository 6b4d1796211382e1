package window

// Ring is a fixed-capacity FIFO buffer. Pushing onto a full ring
// overwrites the oldest value. Ring is not safe for concurrent use;
// callers guard it with their own lock.
type Ring[T any] struct {
	buf   []T
	start int
	n     int
}

// New creates a ring holding at most capacity values. A non-positive
// capacity is treated as 1.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest value when full.
func (r *Ring[T]) Push(v T) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = v
		r.n++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

// Len returns the number of stored values.
func (r *Ring[T]) Len() int { return r.n }

// Cap returns the ring capacity.
func (r *Ring[T]) Cap() int { return len(r.buf) }

// At returns the i-th value, oldest first. It panics if i is out of range.
func (r *Ring[T]) At(i int) T {
	if i < 0 || i >= r.n {
		panic("window: index out of range")
	}
	return r.buf[(r.start+i)%len(r.buf)]
}

// Last returns the newest value and false if the ring is empty.
func (r *Ring[T]) Last() (T, bool) {
	if r.n == 0 {
		var zero T
		return zero, false
	}
	return r.At(r.n - 1), true
}

// Values returns a copy of the stored values, oldest first.
func (r *Ring[T]) Values() []T {
	out := make([]T, r.n)
	for i := range r.n {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// Each calls fn for every value, oldest first.
func (r *Ring[T]) Each(fn func(T)) {
	for i := range r.n {
		fn(r.buf[(r.start+i)%len(r.buf)])
	}
}

// Reset empties the ring without releasing its storage.
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.start = 0
	r.n = 0
}
