// internal/storage/memory.go
package storage

// Window is a fixed-capacity FIFO buffer. Pushing onto a full window evicts
// the oldest element. Not safe for concurrent use; SensorStore guards it.
type Window[T any] struct {
	buf   []T
	start int
	size  int
}

func NewWindow[T any](capacity int) *Window[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Window[T]{buf: make([]T, capacity)}
}

func (w *Window[T]) Cap() int { return len(w.buf) }
func (w *Window[T]) Len() int { return w.size }

// Push appends v, evicting the oldest element when full.
func (w *Window[T]) Push(v T) {
	if w.size < len(w.buf) {
		w.buf[(w.start+w.size)%len(w.buf)] = v
		w.size++
		return
	}
	w.buf[w.start] = v
	w.start = (w.start + 1) % len(w.buf)
}

// Recent returns a copy of the newest count elements in append order. A
// non-positive or oversized count returns everything.
func (w *Window[T]) Recent(count int) []T {
	if count <= 0 || count > w.size {
		count = w.size
	}
	result := make([]T, count)
	offset := w.size - count
	for i := range count {
		result[i] = w.buf[(w.start+offset+i)%len(w.buf)]
	}
	return result
}

// All returns a copy of every element, oldest first.
func (w *Window[T]) All() []T {
	return w.Recent(0)
}
