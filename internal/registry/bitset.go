package registry

import "math/bits"

// Bitset is a growable bit vector backed by 64-bit words.
type Bitset struct {
	words []uint64
	size  int
}

// NewBitset returns a bitset with room for at least size bits.
func NewBitset(size int) *Bitset {
	if size < 0 {
		size = 0
	}
	return &Bitset{
		words: make([]uint64, wordsFor(size)),
		size:  size,
	}
}

func wordsFor(size int) int {
	return (size + 63) / 64
}

// Size returns the number of addressable bits.
func (b *Bitset) Size() int {
	return b.size
}

// Grow extends the bitset to hold at least size bits, zero-padding new bits.
func (b *Bitset) Grow(size int) {
	if size <= b.size {
		return
	}
	need := wordsFor(size)
	if need > len(b.words) {
		grown := make([]uint64, need)
		copy(grown, b.words)
		b.words = grown
	}
	b.size = size
}

// Set sets bit i to 1.
func (b *Bitset) Set(i int) {
	if i >= b.size {
		b.Grow(i + 1)
	}
	b.words[i/64] |= 1 << uint(i%64)
}

// Clear sets bit i to 0.
func (b *Bitset) Clear(i int) {
	if i >= b.size {
		return
	}
	b.words[i/64] &^= 1 << uint(i%64)
}

// Test reports whether bit i is set.
func (b *Bitset) Test(i int) bool {
	if i < 0 || i >= b.size {
		return false
	}
	return b.words[i/64]&(1<<uint(i%64)) != 0
}

// ClearAll zeroes every bit without shrinking capacity.
func (b *Bitset) ClearAll() {
	for i := range b.words {
		b.words[i] = 0
	}
}

// Count returns the number of set bits.
func (b *Bitset) Count() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Iterate calls fn for every set bit, in ascending order.
func (b *Bitset) Iterate(fn func(i int)) {
	for wordIdx, w := range b.words {
		for w != 0 {
			bit := bits.TrailingZeros64(w)
			fn(wordIdx*64 + bit)
			w &= w - 1
		}
	}
}
