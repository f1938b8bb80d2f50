package pagemap

import (
	"sync/atomic"

	"github.com/gophermalloc/tcalloc/objpool"
	"github.com/gophermalloc/tcalloc/span"
)

// rootBits2 puts 32 entries in the root of the two-level map, matching
// TCMalloc_PageMap2's ROOT_BITS = 5.
const rootBits2 = 5

// leaf2 is the second level of the two-level map: a flat array of Span
// pointers, one per page within the leaf's range.
type leaf2 struct {
	values []atomic.Pointer[span.Span]
}

// pageMap2 is a two-level radix tree sized for 32-bit page numbers, small
// enough that every leaf is preallocated up front (New calls Ensure over
// the whole address space), so Set never needs to allocate.
type pageMap2 struct {
	bits       int
	leafBits   int
	leafLength int

	root     []atomic.Pointer[leaf2]
	leafPool *objpool.Pool[leaf2]
}

func newPageMap2(totalBits int) *pageMap2 {
	leafBits := totalBits - rootBits2
	m := &pageMap2{
		bits:       totalBits,
		leafBits:   leafBits,
		leafLength: 1 << leafBits,
		root:       make([]atomic.Pointer[leaf2], 1<<rootBits2),
		leafPool:   objpool.New[leaf2](),
	}
	m.Ensure(0, 1<<totalBits)
	return m
}

func (m *pageMap2) split(k uintptr) (i1, i2 uintptr) {
	i1 = k >> m.leafBits
	i2 = k & (uintptr(m.leafLength) - 1)
	return
}

func (m *pageMap2) Get(k span.PageID) *span.Span {
	key := uintptr(k)
	if key>>m.bits != 0 {
		return nil
	}
	i1, i2 := m.split(key)
	l := m.root[i1].Load()
	if l == nil {
		return nil
	}
	return l.values[i2].Load()
}

func (m *pageMap2) Set(k span.PageID, s *span.Span) {
	i1, i2 := m.split(uintptr(k))
	l := m.root[i1].Load()
	l.values[i2].Store(s)
}

func (m *pageMap2) Ensure(start span.PageID, n int) bool {
	key := uintptr(start)
	end := key + uintptr(n) - 1
	for key <= end {
		i1 := key >> m.leafBits
		if i1 >= uintptr(len(m.root)) {
			return false
		}
		if m.root[i1].Load() == nil {
			l := m.leafPool.Get()
			l.values = make([]atomic.Pointer[span.Span], m.leafLength)
			if !m.root[i1].CompareAndSwap(nil, l) {
				m.leafPool.Put(l)
			}
		}
		key = ((key >> m.leafBits) + 1) << m.leafBits
	}
	return true
}
