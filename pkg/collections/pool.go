package collections

import "sync"

// SlicePool recycles slices of T. Slices come back empty with their capacity kept.
type SlicePool[T any] struct {
	pool sync.Pool
	// maxCap drops oversized slices instead of pinning them in the pool.
	maxCap int
}

// NewSlicePool creates a pool of slices with initialCap capacity. Slices that grew past
// maxCap are not returned to the pool; zero means no limit.
func NewSlicePool[T any](initialCap, maxCap int) *SlicePool[T] {
	if initialCap <= 0 {
		initialCap = 256
	}
	return &SlicePool[T]{
		maxCap: maxCap,
		pool: sync.Pool{
			New: func() interface{} {
				s := make([]T, 0, initialCap)
				return &s
			},
		},
	}
}

// Get returns an empty slice.
func (p *SlicePool[T]) Get() *[]T {
	return p.pool.Get().(*[]T)
}

// Put returns s to the pool.
func (p *SlicePool[T]) Put(s *[]T) {
	if s == nil || (p.maxCap > 0 && cap(*s) > p.maxCap) {
		return
	}
	*s = (*s)[:0]
	p.pool.Put(s)
}
