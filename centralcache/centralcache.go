// Package centralcache is the second tier of the allocator: one free list
// of spans per size class, shared by every thread cache, and guarded by its
// own mutex rather than the page cache's coarser one. Modeled on tcmalloc's
// CentralFreeList.
package centralcache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/gophermalloc/tcalloc/pagecache"
	"github.com/gophermalloc/tcalloc/sizeclass"
	"github.com/gophermalloc/tcalloc/span"
)

// internalError reports heap corruption: a broken invariant that cannot be
// recovered from, localized to the span it was detected on. Deliberately a
// panic rather than an error return so a caller's err-check can't swallow
// it and keep running on a compromised heap.
func internalError(s *span.Span, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	panic(fmt.Sprintf("centralcache: %s (span page=%#x npages=%d objsize=%d)", msg, uintptr(s.PageID), s.NumPages, s.ObjSize))
}

// bucket holds every span currently carved into one size class, behind its
// own lock so that threads pulling from different size classes never
// contend with each other.
type bucket struct {
	mu    sync.Mutex
	spans span.List
}

// Stats carries counters describing a Cache's activity since construction.
// Every field is updated with atomic adds so Stats can be read without
// taking any bucket's lock.
type Stats struct {
	// ObjectsFetched is the total number of objects handed out through
	// FetchRange.
	ObjectsFetched int64
	// ObjectsReleased is the total number of objects accepted back
	// through ReleaseRange.
	ObjectsReleased int64
	// BytesInUse is the approximate number of bytes currently lent out
	// across all size classes (ObjectsFetched - ObjectsReleased, weighted
	// by each size class's object size).
	BytesInUse int64
	// SpansInUse is the number of spans currently owned by the central
	// cache (carved into some size class's buckets, as opposed to idle
	// in the page cache).
	SpansInUse int64
	// Refills counts how many times a bucket ran out of free objects and
	// had to pull and carve a fresh span from the page cache.
	Refills int64
	// Drains counts how many times a span's use count reached zero and
	// was handed back to the page cache.
	Drains int64
}

// Cache is the central cache: one bucket per size class, backed by a page
// cache for growth and coalescing.
type Cache struct {
	buckets [sizeclass.NumClasses]bucket
	pages   *pagecache.Cache

	objectsFetched  int64
	objectsReleased int64
	bytesInUse      int64
	spansInUse      int64
	refills         int64
	drains          int64
}

// New constructs a Cache drawing spans from pages.
func New(pages *pagecache.Cache) *Cache {
	return &Cache{pages: pages}
}

// Stats returns a snapshot of the cache's activity counters.
func (c *Cache) Stats() Stats {
	return Stats{
		ObjectsFetched:  atomic.LoadInt64(&c.objectsFetched),
		ObjectsReleased: atomic.LoadInt64(&c.objectsReleased),
		BytesInUse:      atomic.LoadInt64(&c.bytesInUse),
		SpansInUse:      atomic.LoadInt64(&c.spansInUse),
		Refills:         atomic.LoadInt64(&c.refills),
		Drains:          atomic.LoadInt64(&c.drains),
	}
}

// FetchRange fills a thread cache's free list for the given size class with
// up to batch objects, returning the chain's start, end, and the actual
// count obtained, which may be less than batch if the serving span's free
// list ran out first but is at least 1 unless the page cache itself could
// not be refilled.
func (c *Cache) FetchRange(batch, size int) (start, end unsafe.Pointer, got int) {
	idx := sizeclass.Index(size)
	b := &c.buckets[idx]

	b.mu.Lock()
	s := c.getOneSpan(b, size)
	if s == nil {
		b.mu.Unlock()
		return nil, nil, 0
	}

	start, end, got = s.Free.PopRange(batch)
	s.UseCount += got
	b.mu.Unlock()

	if got > 0 {
		atomic.AddInt64(&c.objectsFetched, int64(got))
		atomic.AddInt64(&c.bytesInUse, int64(got*size))
	}
	return start, end, got
}

// getOneSpan returns a span in b with at least one free object, fetching
// and carving a fresh span from the page cache if none of b's current
// spans has room. b.mu must be held on entry; it is dropped and
// re-acquired internally while talking to the page cache, so that a
// thread returning objects to the same bucket is never stuck behind this
// thread's wait on the page cache's lock.
func (c *Cache) getOneSpan(b *bucket, size int) *span.Span {
	for s := b.spans.Front(); s != nil; s = span.Next(s) {
		if !s.Free.Empty() {
			return s
		}
	}

	b.mu.Unlock()
	npage := sizeclass.NumMovePage(size)
	s, err := c.pages.NewSpan(npage)
	b.mu.Lock()
	if err != nil {
		return nil
	}

	s.ObjSize = size
	carveSpan(s, size)
	b.spans.PushFront(s)
	atomic.AddInt64(&c.refills, 1)
	atomic.AddInt64(&c.spansInUse, 1)
	return s
}

// carveSpan splits a freshly obtained span's backing pages into size-byte
// objects, threading them into the span's free list.
func carveSpan(s *span.Span, size int) {
	start := s.Base(sizeclass.PageSize)
	end := start + uintptr(s.NumPages)*uintptr(sizeclass.PageSize)

	// Push back to front so the chain heads at the span's lowest address
	// and walks upward, keeping consecutive fetches cache-friendly.
	n := int((end - start) / uintptr(size))
	for i := n - 1; i >= 0; i-- {
		s.Free.Push(unsafe.Pointer(start + uintptr(i)*uintptr(size)))
	}
}

// ReleaseRange returns a chain of objects (linked through their own first
// words, as produced by FetchRange or a thread cache's free list) back to
// the central cache. Any span whose use count drops to zero is handed back
// to the page cache.
func (c *Cache) ReleaseRange(start unsafe.Pointer, size int) {
	idx := sizeclass.Index(size)
	b := &c.buckets[idx]

	b.mu.Lock()
	defer b.mu.Unlock()

	for start != nil {
		next := *(*unsafe.Pointer)(start)

		s := c.pages.MapObjectToSpan(uintptr(start))
		if s == nil {
			panic(fmt.Sprintf("centralcache: released object %#x maps to no span", uintptr(start)))
		}
		if s.ObjSize != size {
			internalError(s, "released object %#x as size class %d but its span is carved into %d-byte objects", uintptr(start), size, s.ObjSize)
		}

		s.Free.Push(start)
		s.UseCount--
		if s.UseCount < 0 {
			internalError(s, "use count went negative; object %#x was freed twice", uintptr(start))
		}
		atomic.AddInt64(&c.objectsReleased, 1)
		atomic.AddInt64(&c.bytesInUse, -int64(size))

		if s.UseCount == 0 {
			b.spans.Remove(s)
			s.Free = span.FreeList{}
			s.ObjSize = 0

			b.mu.Unlock()
			c.pages.ReleaseSpan(s)
			b.mu.Lock()

			atomic.AddInt64(&c.drains, 1)
			atomic.AddInt64(&c.spansInUse, -1)
		}

		start = next
	}
}
