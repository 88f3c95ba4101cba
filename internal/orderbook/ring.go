package orderbook

// ring is a fixed-capacity FIFO buffer backed by a single allocation.
// When full, appending evicts the oldest element.
type ring[T any] struct {
	buf   []T
	start int
	count int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) Push(v T) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = v
		r.count++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring[T]) Len() int { return r.count }

// At returns the i-th element in insertion order, oldest first.
func (r *ring[T]) At(i int) T {
	return r.buf[(r.start+i)%len(r.buf)]
}

// Last returns up to n of the most recent elements, oldest first.
func (r *ring[T]) Last(n int) []T {
	if n > r.count {
		n = r.count
	}
	out := make([]T, n)
	for i := 0; i < n; i++ {
		out[i] = r.At(r.count - n + i)
	}
	return out
}

// Snapshot copies the full contents, oldest first.
func (r *ring[T]) Snapshot() []T {
	return r.Last(r.count)
}
