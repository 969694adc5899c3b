package optimize

import (
	"sync"
)

// Sized is a fixed-dimension frame that can be pooled.
type Sized interface {
	comparable
	Width() int
	Height() int
}

type frameKey struct {
	width, height int
}

// PoolStats counts pool traffic since creation.
type PoolStats struct {
	Allocations uint64
	Reuses      uint64
	Free        int
}

// FramePool is a free list of frames keyed by dimensions, so a frame of one
// size is never handed out for another. It grows on demand, never shrinks
// and has no capacity bound.
type FramePool[T Sized] struct {
	mu    sync.Mutex
	free  map[frameKey][]T
	alloc func(width, height int) T
	stats PoolStats
}

// NewFramePool creates an empty pool that uses alloc for misses.
func NewFramePool[T Sized](alloc func(width, height int) T) *FramePool[T] {
	return &FramePool[T]{
		free:  make(map[frameKey][]T),
		alloc: alloc,
	}
}

// Acquire returns a free frame of the given size, allocating one if none is
// available. It never blocks.
func (p *FramePool[T]) Acquire(width, height int) T {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := frameKey{width, height}
	if list := p.free[key]; len(list) > 0 {
		f := list[len(list)-1]
		var zero T
		list[len(list)-1] = zero
		p.free[key] = list[:len(list)-1]
		p.stats.Reuses++
		return f
	}

	p.stats.Allocations++
	return p.alloc(width, height)
}

// Release puts f back on the free list. Releasing the zero value is a no-op.
func (p *FramePool[T]) Release(f T) {
	var zero T
	if f == zero {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := frameKey{f.Width(), f.Height()}
	p.free[key] = append(p.free[key], f)
}

// Stats returns a snapshot of the pool counters.
func (p *FramePool[T]) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.stats
	for _, list := range p.free {
		s.Free += len(list)
	}
	return s
}

// Drain drops every free frame. Counters are kept.
func (p *FramePool[T]) Drain() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.free = make(map[frameKey][]T)
}
