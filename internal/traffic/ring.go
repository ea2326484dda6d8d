// Package traffic keeps a bounded history of passive interface samples.
//
// The ring buffer has its own lock and shares nothing with the topology
// store.
package traffic

import (
	"sync"

	"visualinternet/internal/domain"
)

// DefaultCapacity is the number of samples kept when none is configured
const DefaultCapacity = 100

// Ring is a fixed-capacity buffer that drops the oldest sample on overflow
type Ring struct {
	mu    sync.RWMutex
	buf   []domain.TrafficSample
	start int
	size  int
}

// NewRing creates a ring holding at most capacity samples
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{buf: make([]domain.TrafficSample, capacity)}
}

// Add appends a sample, evicting the oldest when full
func (r *Ring) Add(s domain.TrafficSample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = s
		r.size++
		return
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % len(r.buf)
}

// Recent returns up to n samples, oldest first. n <= 0 returns all.
func (r *Ring) Recent(n int) []domain.TrafficSample {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]domain.TrafficSample, n)
	skip := r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.start+skip+i)%len(r.buf)]
	}
	return out
}

// Len returns the number of samples held
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the capacity
func (r *Ring) Cap() int {
	return len(r.buf)
}
