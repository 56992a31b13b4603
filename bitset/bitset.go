// Package bitset tracks populated ordinals. A Set grows as ordinals are
// assigned; word layout is plain uint64 little-endian bit order.
package bitset

import "math/bits"

type Set struct {
	words []uint64
}

func New() *Set {
	return &Set{}
}

func (s *Set) grow(word int) {
	for len(s.words) <= word {
		s.words = append(s.words, 0)
	}
}

func (s *Set) Set(bit int) {
	word := bit >> 6
	s.grow(word)
	s.words[word] |= uint64(1) << (bit & 63)
}

func (s *Set) Clear(bit int) {
	word := bit >> 6
	if word < len(s.words) {
		s.words[word] &^= uint64(1) << (bit & 63)
	}
}

func (s *Set) Get(bit int) bool {
	word := bit >> 6
	if word >= len(s.words) {
		return false
	}
	return (s.words[word]>>(bit&63))&1 == 1
}

func (s *Set) Count() int {
	c := 0
	for _, w := range s.words {
		c += bits.OnesCount64(w)
	}
	return c
}

func (s *Set) Reset() {
	for i := range s.words {
		s.words[i] = 0
	}
}

// Ascending walks set bits in increasing order until f returns false.
func (s *Set) Ascending(f func(bit int) bool) {
	for wi, w := range s.words {
		for w != 0 {
			tz := bits.TrailingZeros64(w)
			if !f(wi*64 + tz) {
				return
			}
			w &= w - 1 // clear lowest set bit
		}
	}
}

// Slice returns the set bits in ascending order.
func (s *Set) Slice() []int {
	out := make([]int, 0, s.Count())
	s.Ascending(func(bit int) bool {
		out = append(out, bit)
		return true
	})
	return out
}

func (s *Set) Clone() *Set {
	return &Set{words: append([]uint64(nil), s.words...)}
}

// CopyFrom makes s an exact copy of o, reusing s's backing array.
func (s *Set) CopyFrom(o *Set) {
	s.words = append(s.words[:0], o.words...)
}

func (s *Set) Equal(o *Set) bool {
	long, short := s.words, o.words
	if len(long) < len(short) {
		long, short = short, long
	}
	for i, w := range short {
		if w != long[i] {
			return false
		}
	}
	for _, w := range long[len(short):] {
		if w != 0 {
			return false
		}
	}
	return true
}

// AndNot returns the bits set in s but not in o.
func (s *Set) AndNot(o *Set) *Set {
	out := &Set{words: make([]uint64, len(s.words))}
	for i, w := range s.words {
		if i < len(o.words) {
			out.words[i] = w &^ o.words[i]
		} else {
			out.words[i] = w
		}
	}
	return out
}
