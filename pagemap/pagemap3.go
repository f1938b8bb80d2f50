package pagemap

import (
	"sync/atomic"

	"github.com/gophermalloc/tcalloc/objpool"
	"github.com/gophermalloc/tcalloc/span"
)

// rootBits3 and leafBits3 match TCMalloc_PageMap3's ROOT_BITS = 12 and
// LEAF_BITS = 20; the middle level absorbs whatever bits are left over
// for the platform's address width.
const (
	rootBits3 = 12
	leafBits3 = 20
)

// leaf3 is the bottom level of the three-level map.
type leaf3 struct {
	values []atomic.Pointer[span.Span]
}

// middle3 is the second level: an array of leaves, lazily populated.
type middle3 struct {
	values []atomic.Pointer[leaf3]
}

// pageMap3 is a three-level radix tree sized for 64-bit page numbers. Both
// the middle and leaf levels are populated lazily by Ensure, since
// preallocating the whole tree up front is not feasible at this width.
type pageMap3 struct {
	bits         int
	middleBits   int
	leafLength   int
	middleLength int

	root       []atomic.Pointer[middle3]
	middlePool *objpool.Pool[middle3]
	leafPool   *objpool.Pool[leaf3]
}

func newPageMap3(totalBits int) *pageMap3 {
	middleBits := totalBits - rootBits3 - leafBits3
	return &pageMap3{
		bits:         totalBits,
		middleBits:   middleBits,
		leafLength:   1 << leafBits3,
		middleLength: 1 << middleBits,
		root:         make([]atomic.Pointer[middle3], 1<<rootBits3),
		middlePool:   objpool.New[middle3](),
		leafPool:     objpool.New[leaf3](),
	}
}

func (m *pageMap3) split(k uintptr) (i1, i2, i3 uintptr) {
	i1 = k >> (leafBits3 + m.middleBits)
	i2 = (k >> leafBits3) & (uintptr(m.middleLength) - 1)
	i3 = k & (uintptr(m.leafLength) - 1)
	return
}

func (m *pageMap3) Get(k span.PageID) *span.Span {
	key := uintptr(k)
	if key>>m.bits != 0 {
		return nil
	}
	i1, i2, i3 := m.split(key)
	mid := m.root[i1].Load()
	if mid == nil {
		return nil
	}
	leaf := mid.values[i2].Load()
	if leaf == nil {
		return nil
	}
	return leaf.values[i3].Load()
}

func (m *pageMap3) Set(k span.PageID, s *span.Span) {
	i1, i2, i3 := m.split(uintptr(k))
	leaf := m.root[i1].Load().values[i2].Load()
	leaf.values[i3].Store(s)
}

func (m *pageMap3) Ensure(start span.PageID, n int) bool {
	key := uintptr(start)
	end := key + uintptr(n) - 1
	for key <= end {
		i1, i2, _ := m.split(key)
		if i1 >= uintptr(len(m.root)) {
			return false
		}
		mid := m.root[i1].Load()
		if mid == nil {
			candidate := m.middlePool.Get()
			candidate.values = make([]atomic.Pointer[leaf3], m.middleLength)
			if m.root[i1].CompareAndSwap(nil, candidate) {
				mid = candidate
			} else {
				m.middlePool.Put(candidate)
				mid = m.root[i1].Load()
			}
		}
		if mid.values[i2].Load() == nil {
			leaf := m.leafPool.Get()
			leaf.values = make([]atomic.Pointer[span.Span], m.leafLength)
			if !mid.values[i2].CompareAndSwap(nil, leaf) {
				m.leafPool.Put(leaf)
			}
		}
		key = ((key >> leafBits3) + 1) << leafBits3
	}
	return true
}
