package bindless

import "math/bits"

// bitset is a fixed-size set of slot indices.
type bitset []uint64

func newBitset(n int) bitset {
	return make(bitset, (n+63)/64)
}

func (b bitset) set(i uint32) {
	b[i/64] |= 1 << (i % 64)
}

func (b bitset) clear(i uint32) {
	b[i/64] &^= 1 << (i % 64)
}

func (b bitset) has(i uint32) bool {
	return b[i/64]&(1<<(i%64)) != 0
}

// firstClear returns the lowest index below n that is not set.
func (b bitset) firstClear(n int) (uint32, bool) {
	for w, word := range b {
		if word == ^uint64(0) {
			continue
		}
		i := uint32(w*64 + bits.TrailingZeros64(^word))
		if int(i) >= n {
			return 0, false
		}
		return i, true
	}
	return 0, false
}

func (b bitset) count() int {
	n := 0
	for _, word := range b {
		n += bits.OnesCount64(word)
	}
	return n
}
