// Package ring implements a fixed-capacity circular buffer that overwrites
// its oldest element once full.
package ring

// Ring is a bounded FIFO of T. Internally the elements wrap around a fixed
// slice; externally they are always addressed oldest first.
// Ring is not safe for concurrent use.
type Ring[T any] struct {
	buf   []T
	next  int // slot the next Push writes to
	count int
}

// New creates a ring holding at most capacity elements.
// A capacity below 1 is treated as 1.
func New[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

// Push appends v, overwriting the oldest element when the ring is full.
// It reports whether an element was overwritten.
func (r *Ring[T]) Push(v T) bool {
	overwrote := r.count == len(r.buf)
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	if !overwrote {
		r.count++
	}
	return overwrote
}

// Len returns the number of elements currently held.
func (r *Ring[T]) Len() int {
	return r.count
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Full reports whether the next Push will overwrite the oldest element.
func (r *Ring[T]) Full() bool {
	return r.count == len(r.buf)
}

// slot maps a chronological index (0 = oldest) onto the backing slice.
func (r *Ring[T]) slot(i int) int {
	start := (r.next - r.count + len(r.buf)) % len(r.buf)
	return (start + i) % len(r.buf)
}

// At returns the i-th oldest element. ok is false when i is out of range.
func (r *Ring[T]) At(i int) (v T, ok bool) {
	if i < 0 || i >= r.count {
		return v, false
	}
	return r.buf[r.slot(i)], true
}

// Update applies fn to the i-th oldest element in place without changing
// ordering. It reports whether i was in range.
func (r *Ring[T]) Update(i int, fn func(*T)) bool {
	if i < 0 || i >= r.count {
		return false
	}
	fn(&r.buf[r.slot(i)])
	return true
}

// Last returns the most recently pushed element.
func (r *Ring[T]) Last() (v T, ok bool) {
	if r.count == 0 {
		return v, false
	}
	return r.buf[(r.next-1+len(r.buf))%len(r.buf)], true
}

// Do calls fn for every element, oldest first.
func (r *Ring[T]) Do(fn func(T)) {
	for i := range r.count {
		fn(r.buf[r.slot(i)])
	}
}

// Snapshot copies the elements, oldest first, into dst.
// Destination-based: reuses dst if it has sufficient capacity, otherwise allocates new.
func (r *Ring[T]) Snapshot(dst []T) []T {
	if cap(dst) >= r.count {
		dst = dst[:r.count]
	} else {
		dst = make([]T, r.count)
	}
	for i := range r.count {
		dst[i] = r.buf[r.slot(i)]
	}
	return dst
}

// Reset drops all elements.
func (r *Ring[T]) Reset() {
	var zero T
	for i := range r.buf {
		r.buf[i] = zero
	}
	r.next = 0
	r.count = 0
}
