// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package soft

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/gviegas/dgc/internal/bitvec"
)

// Device memory is a flat address space split in
// pages. Addresses below baseAddr are never valid,
// so zero can be used as a null address.
const (
	pageSize = 256
	baseAddr = 1 << 16
)

var (
	errUnknownAddr = errors.New("soft: unknown device address")
	errAddrRange   = errors.New("soft: device address range out of bounds")
)

// alloc is a contiguous range of pages.
type alloc struct {
	addr  uint64
	page  int
	npage int
	p     []byte
}

// memory manages the device address space.
type memory struct {
	mu     sync.RWMutex
	pages  bitvec.V[uint64]
	allocs []*alloc // Sorted by addr.
}

// alloc allocates at least size bytes of zeroed memory.
func (m *memory) alloc(size int64) *alloc {
	n := int((size + pageSize - 1) / pageSize)
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.pages.SearchRange(n)
	if !ok {
		// The new extent is guaranteed to fit n pages.
		idx = m.pages.Grow((n + 63) / 64)
	}
	for i := idx; i < idx+n; i++ {
		m.pages.Set(i)
	}
	a := &alloc{
		addr:  baseAddr + uint64(idx)*pageSize,
		page:  idx,
		npage: n,
		p:     make([]byte, n*pageSize),
	}
	i := sort.Search(len(m.allocs), func(i int) bool { return m.allocs[i].addr > a.addr })
	m.allocs = append(m.allocs, nil)
	copy(m.allocs[i+1:], m.allocs[i:])
	m.allocs[i] = a
	return a
}

// free releases a.
func (m *memory) free(a *alloc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := sort.Search(len(m.allocs), func(i int) bool { return m.allocs[i].addr >= a.addr })
	if i == len(m.allocs) || m.allocs[i] != a {
		return
	}
	m.allocs = append(m.allocs[:i], m.allocs[i+1:]...)
	for j := a.page; j < a.page+a.npage; j++ {
		m.pages.Unset(j)
	}
}

// slice returns the n bytes starting at addr.
// The range must be contained in a single allocation.
func (m *memory) slice(addr uint64, n int64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := sort.Search(len(m.allocs), func(i int) bool {
		a := m.allocs[i]
		return a.addr+uint64(len(a.p)) > addr
	})
	if i == len(m.allocs) || m.allocs[i].addr > addr {
		return nil, errors.Wrapf(errUnknownAddr, "%#x", addr)
	}
	a := m.allocs[i]
	off := int64(addr - a.addr)
	if n < 0 || off+n > int64(len(a.p)) {
		return nil, errors.Wrapf(errAddrRange, "%#x+%d", addr, n)
	}
	return a.p[off : off+n : off+n], nil
}

// reset frees every allocation.
func (m *memory) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages.Clear()
	m.allocs = nil
}

// used returns the number of pages in use.
func (m *memory) used() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pages.Len() - m.pages.Rem()
}
