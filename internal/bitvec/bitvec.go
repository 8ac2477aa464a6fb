// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Package bitvec defines a bit vector used to track
// device pages and execution set slots.
package bitvec

import "math/bits"

// Uint represents the granularity of a bit vector.
type Uint interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// V is a growable bit vector with custom granularity.
// The zero value is an empty vector.
type V[T Uint] struct {
	s   []T
	rem int
}

func (*V[T]) nbit() int {
	var x T
	return bits.Len64(uint64(^x))
}

// Len returns the number of bits in the vector.
func (v *V[_]) Len() int { return len(v.s) * v.nbit() }

// Rem returns the number of unset bits in the vector.
func (v *V[_]) Rem() int { return v.rem }

// Grow appends nplus Uints of unset bits to the vector.
// It returns the value of v.Len prior to growing, which
// is the index of the first new bit.
func (v *V[T]) Grow(nplus int) (index int) {
	index = v.Len()
	if nplus > 0 {
		v.rem += nplus * v.nbit()
		v.s = append(v.s, make([]T, nplus)...)
	}
	return
}

func (v *V[T]) loc(index int) (int, T) {
	n := v.nbit()
	return index / n, T(1) << (index % n)
}

// Set sets a given bit.
func (v *V[T]) Set(index int) {
	i, b := v.loc(index)
	if v.s[i]&b == 0 {
		v.s[i] |= b
		v.rem--
	}
}

// Unset unsets a given bit.
func (v *V[T]) Unset(index int) {
	i, b := v.loc(index)
	if v.s[i]&b != 0 {
		v.s[i] &^= b
		v.rem++
	}
}

// IsSet checks whether a given bit is set.
func (v *V[T]) IsSet(index int) bool {
	i, b := v.loc(index)
	return v.s[i]&b != 0
}

// SearchRange locates the first run of n unset bits.
// If ok is true, every bit in [index, index+n) can be
// set.
func (v *V[T]) SearchRange(n int) (index int, ok bool) {
	n = max(n, 1)
	if v.rem < n {
		return
	}
	nb := v.nbit()
	var cnt int
	for i, x := range v.s {
		switch x {
		case ^T(0):
			cnt = 0
			continue
		case 0:
			if cnt+nb < n {
				cnt += nb
				continue
			}
		}
		for j := range nb {
			if x&(T(1)<<j) != 0 {
				cnt = 0
				continue
			}
			cnt++
			if cnt == n {
				return i*nb + j + 1 - n, true
			}
		}
	}
	return
}

// Clear unsets every bit in the vector.
func (v *V[T]) Clear() {
	clear(v.s)
	v.rem = v.Len()
}
