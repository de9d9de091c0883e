package utils

import "sync"

// -----------------------------------------------------------------------------
// RingBuffer is a fixed-size circular buffer safe for one writer and many
// readers. Once full, each Append overwrites the oldest element.
// -----------------------------------------------------------------------------

type RingBuffer[T any] struct {
	mu       sync.RWMutex
	data     []T
	capacity int
	index    int // Next write position
	size     int // Current number of elements
}

// -----------------------------------------------------------------------------

// NewRingBuffer creates a new buffer with fixed capacity
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		capacity = 64
	}

	return &RingBuffer[T]{
		data:     make([]T, capacity),
		capacity: capacity,
	}
}

// -----------------------------------------------------------------------------

func (rb *RingBuffer[T]) Append(v T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.data[rb.index] = v
	rb.index = (rb.index + 1) % rb.capacity

	// Update size (never exceeds capacity)
	if rb.size < rb.capacity {
		rb.size++
	}
}

// -----------------------------------------------------------------------------

// Latest returns up to n newest elements, oldest first.
func (rb *RingBuffer[T]) Latest(n int) []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	count := min(n, rb.size)
	if count <= 0 {
		return []T{}
	}

	result := make([]T, count)
	startIdx := (rb.index - count + rb.capacity) % rb.capacity
	for i := 0; i < count; i++ {
		result[i] = rb.data[(startIdx+i)%rb.capacity]
	}
	return result
}

// -----------------------------------------------------------------------------

// All returns every element in insertion order (oldest to newest)
func (rb *RingBuffer[T]) All() []T {
	return rb.Latest(rb.capacity)
}

// -----------------------------------------------------------------------------

// Size returns current number of elements
func (rb *RingBuffer[T]) Size() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.size
}

// Capacity returns buffer capacity (fixed)
func (rb *RingBuffer[T]) Capacity() int {
	return rb.capacity
}
