// Package collections holds small data structures shared by the compiler and the batch
// service.
package collections

import "math/bits"

// Bitset is a growable set of non-negative ints, one bit per element.
type Bitset struct {
	words []uint64
}

// NewBitset creates a bitset with room for size elements.
func NewBitset(size int) *Bitset {
	if size < 0 {
		size = 0
	}
	return &Bitset{words: make([]uint64, (size+63)/64)}
}

// Set adds i. Negative indices are ignored.
func (b *Bitset) Set(i int) {
	if i < 0 {
		return
	}
	w := i / 64
	if w >= len(b.words) {
		grown := make([]uint64, max(w+1, 2*len(b.words)))
		copy(grown, b.words)
		b.words = grown
	}
	b.words[w] |= 1 << (i % 64)
}

// Clear removes i.
func (b *Bitset) Clear(i int) {
	if i >= 0 && i/64 < len(b.words) {
		b.words[i/64] &^= 1 << (i % 64)
	}
}

// Test reports whether i is in the set.
func (b *Bitset) Test(i int) bool {
	return i >= 0 && i/64 < len(b.words) && b.words[i/64]&(1<<(i%64)) != 0
}

// Count returns the number of elements.
func (b *Bitset) Count() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Reset empties the set and keeps its storage.
func (b *Bitset) Reset() {
	clear(b.words)
}

// Union adds every element of other.
func (b *Bitset) Union(other *Bitset) {
	if len(other.words) > len(b.words) {
		grown := make([]uint64, len(other.words))
		copy(grown, b.words)
		b.words = grown
	}
	for i, w := range other.words {
		b.words[i] |= w
	}
}

// Difference removes every element of other.
func (b *Bitset) Difference(other *Bitset) {
	for i := 0; i < len(b.words) && i < len(other.words); i++ {
		b.words[i] &^= other.words[i]
	}
}

// Next returns the smallest element >= from, or -1.
func (b *Bitset) Next(from int) int {
	if from < 0 {
		from = 0
	}
	w := from / 64
	if w >= len(b.words) {
		return -1
	}
	word := b.words[w] >> (from % 64)
	if word != 0 {
		return from + bits.TrailingZeros64(word)
	}
	for w++; w < len(b.words); w++ {
		if b.words[w] != 0 {
			return w*64 + bits.TrailingZeros64(b.words[w])
		}
	}
	return -1
}

// Each calls fn for every element in ascending order until fn returns false.
func (b *Bitset) Each(fn func(i int) bool) {
	for w, word := range b.words {
		for word != 0 {
			if !fn(w*64 + bits.TrailingZeros64(word)) {
				return
			}
			word &= word - 1
		}
	}
}

// Slice returns the elements in ascending order.
func (b *Bitset) Slice() []int {
	out := make([]int, 0, b.Count())
	b.Each(func(i int) bool {
		out = append(out, i)
		return true
	})
	return out
}
