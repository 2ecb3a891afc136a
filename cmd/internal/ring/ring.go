// Copyright ©2025 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ring implements a fixed capacity rolling window.
package ring

// Buffer holds the most recent values pushed to it. When full, each
// push evicts the oldest value.
type Buffer[T any] struct {
	data []T
	head int // index of oldest value
	n    int
}

func NewBuffer[T any](n int) *Buffer[T] {
	return &Buffer[T]{data: make([]T, n)}
}

// Len returns the number of values held.
func (r *Buffer[T]) Len() int { return r.n }

// Cap returns the capacity of the window.
func (r *Buffer[T]) Cap() int { return len(r.data) }

// Push appends src to the window, dropping the oldest values if
// the capacity is exceeded.
func (r *Buffer[T]) Push(src ...T) {
	if len(r.data) == 0 {
		return
	}
	if len(src) >= len(r.data) {
		copy(r.data, src[len(src)-len(r.data):])
		r.head = 0
		r.n = len(r.data)
		return
	}
	for _, v := range src {
		tail := (r.head + r.n) % len(r.data)
		r.data[tail] = v
		if r.n < len(r.data) {
			r.n++
		} else {
			r.head = (r.head + 1) % len(r.data)
		}
	}
}

// At returns the i'th value held, with zero being the oldest.
// At panics if i is out of range.
func (r *Buffer[T]) At(i int) T {
	if i < 0 || i >= r.n {
		panic("ring: index out of range")
	}
	return r.data[(r.head+i)%len(r.data)]
}

// CopyTo copies the values held, oldest first, into dst and returns
// the number of values copied.
func (r *Buffer[T]) CopyTo(dst []T) int {
	end := r.head + r.n
	if end <= len(r.data) {
		return copy(dst, r.data[r.head:end])
	}
	n := copy(dst, r.data[r.head:])
	n += copy(dst[n:], r.data[:end-len(r.data)])
	return n
}

// Reset empties the window.
func (r *Buffer[T]) Reset() {
	clear(r.data)
	r.head = 0
	r.n = 0
}
