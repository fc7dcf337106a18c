// Package arena provides the bump allocator that backs one class compilation.
//
// Every transient table the compiler builds is carved from a single Arena. Allocation
// only ever advances a cursor; the one shrinking operation is Reclaim, which returns the
// unused tail of the most recent allocation. Callers use it to size a table for the worst
// case, fill it, and then give back what they did not need.
package arena

import (
	"errors"
	"fmt"
	"unsafe"
)

const (
	// DefaultChunkSize is the chunk size used by NewGrowable when none is given.
	DefaultChunkSize = 64 * 1024

	// DefaultMaxTotal caps the bytes a growable arena may reserve.
	DefaultMaxTotal = 256 << 20
)

// ErrOutOfMemory is returned when an allocation does not fit in the arena.
var ErrOutOfMemory = errors.New("arena: out of memory")

// Token identifies one allocation. Only the token of the most recent allocation is
// accepted by Reclaim.
type Token uint64

// ContractViolation is the panic value raised when Reclaim is misused.
type ContractViolation struct {
	Reason string
}

func (c *ContractViolation) Error() string {
	return "arena: contract violation: " + c.Reason
}

type lastAlloc struct {
	token Token
	chunk int
	start int
	size  int
}

// Arena is a single-owner bump allocator. It is not safe for concurrent use.
type Arena struct {
	chunks     [][]byte
	current    int
	offset     int
	chunkSize  int
	growable   bool
	reserved   int
	maxTotal   int
	used       int
	peak       int
	gen        Token
	last       lastAlloc
	shouldFree bool
}

// New creates a fixed-capacity arena backed by a fresh buffer.
func New(capacity int) *Arena {
	return NewFromBuffer(make([]byte, capacity))
}

// NewFromBuffer creates a fixed-capacity arena over a caller-supplied buffer.
func NewFromBuffer(buf []byte) *Arena {
	return &Arena{
		chunks:   [][]byte{buf},
		reserved: len(buf),
		maxTotal: len(buf),
	}
}

// NewGrowable creates an arena that adds chunks of chunkSize on demand until maxTotal bytes
// have been reserved.
func NewGrowable(chunkSize, maxTotal int) *Arena {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if maxTotal <= 0 {
		maxTotal = DefaultMaxTotal
	}
	return &Arena{
		chunks:    [][]byte{make([]byte, 0)},
		chunkSize: chunkSize,
		growable:  true,
		maxTotal:  maxTotal,
	}
}

// Allocate returns a zeroed region of size bytes. On failure it returns ErrOutOfMemory and
// the arena reports ShouldFree from then on.
func (a *Arena) Allocate(size int) ([]byte, Token, error) {
	if size < 0 {
		panic(&ContractViolation{Reason: fmt.Sprintf("negative allocation size %d", size)})
	}
	chunk := a.chunks[a.current]
	if a.offset+size > len(chunk) {
		if !a.grow(size) {
			a.shouldFree = true
			return nil, 0, fmt.Errorf("%w: requested %d bytes, %d of %d in use", ErrOutOfMemory, size, a.used, a.maxTotal)
		}
		chunk = a.chunks[a.current]
	}

	start := a.offset
	a.offset += size
	a.used += size
	if a.used > a.peak {
		a.peak = a.used
	}
	a.gen++
	a.last = lastAlloc{token: a.gen, chunk: a.current, start: start, size: size}

	b := chunk[start:a.offset:a.offset]
	clear(b)
	return b, a.gen, nil
}

func (a *Arena) grow(size int) bool {
	if !a.growable {
		return false
	}
	for next := a.current + 1; next < len(a.chunks); next++ {
		if len(a.chunks[next]) >= size {
			a.current = next
			a.offset = 0
			return true
		}
	}
	n := a.chunkSize
	if size > n {
		n = size
	}
	if a.reserved+n > a.maxTotal {
		return false
	}
	a.chunks = append(a.chunks, make([]byte, n))
	a.current = len(a.chunks) - 1
	a.offset = 0
	a.reserved += n
	return true
}

// Reclaim shrinks the most recent allocation to actualSize bytes. Presenting any other
// token, or asking to grow the allocation, panics with *ContractViolation.
func (a *Arena) Reclaim(tok Token, actualSize int) {
	if tok == 0 || tok != a.last.token {
		panic(&ContractViolation{Reason: fmt.Sprintf("reclaim of stale allocation %d (last is %d)", tok, a.last.token)})
	}
	if actualSize < 0 || actualSize > a.last.size {
		panic(&ContractViolation{Reason: fmt.Sprintf("reclaim would resize %d bytes to %d", a.last.size, actualSize)})
	}
	diff := a.last.size - actualSize
	a.offset -= diff
	a.used -= diff
	a.last.size = actualSize
}

// Free is a no-op; memory is released when the arena is dropped or Reset.
func (a *Arena) Free([]byte) {}

// Reset releases every allocation while keeping the reserved chunks.
func (a *Arena) Reset() {
	a.current = 0
	a.offset = 0
	a.used = 0
	a.last = lastAlloc{}
	a.shouldFree = false
}

// ShouldFree reports whether an allocation has failed. The owner must abandon the
// compilation and may retry with a larger arena.
func (a *Arena) ShouldFree() bool {
	return a.shouldFree
}

// Used returns the number of bytes currently allocated.
func (a *Arena) Used() int {
	return a.used
}

// Peak returns the high-water mark of Used.
func (a *Arena) Peak() int {
	return a.peak
}

// Capacity returns the maximum number of bytes the arena can hand out.
func (a *Arena) Capacity() int {
	return a.maxTotal
}

// AllocSlice charges n elements of T against the arena and returns a Go-allocated slice of
// that length. The arena's own buffer is not used for the elements; only the budget is
// shared, so an oversized table still fails with ErrOutOfMemory.
func AllocSlice[T any](a *Arena, n int) ([]T, Token, error) {
	var zero T
	_, tok, err := a.Allocate(n * int(unsafe.Sizeof(zero)))
	if err != nil {
		return nil, 0, err
	}
	return make([]T, n), tok, nil
}

// ReclaimSlice shrinks a table returned by AllocSlice to its first n elements and returns
// the unused charge to the arena.
func ReclaimSlice[T any](a *Arena, tok Token, s []T, n int) []T {
	var zero T
	a.Reclaim(tok, n*int(unsafe.Sizeof(zero)))
	return s[:n:n]
}
