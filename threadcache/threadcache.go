// Package threadcache is the allocator's fast path: a per-handle set of
// free lists, one per size class, consulted before anything else. Modeled
// on tcmalloc's per-thread cache.
//
// Go offers no thread-local storage to hang a cache off, so a Cache here
// is an explicit handle rather than ambient thread state; see
// the tcalloc package for the sync.Pool-backed convenience layer that
// approximates per-thread affinity on top of it.
package threadcache

import (
	"unsafe"

	"github.com/gophermalloc/tcalloc/centralcache"
	"github.com/gophermalloc/tcalloc/sizeclass"
	"github.com/gophermalloc/tcalloc/span"
)

// bucketList is one size class's free list plus its slow-start high-water
// mark: maxSize grows by one every time a fetch from the central cache
// exactly exhausts it, letting repeat users of a size class ramp up their
// batch size over time instead of always fetching one-by-one.
type bucketList struct {
	free    span.FreeList
	maxSize int
}

// Cache is a thread cache handle: 208 per-size-class free lists with no
// internal locking, since a Cache is only ever used by the goroutine that
// owns it (the central cache accepts frees of objects obtained through a
// different Cache, so ownership need never be verified).
type Cache struct {
	buckets [sizeclass.NumClasses]bucketList
	central *centralcache.Cache
}

// New constructs an empty Cache drawing from central when its free lists
// run dry.
func New(central *centralcache.Cache) *Cache {
	c := &Cache{central: central}
	for i := range c.buckets {
		c.buckets[i].maxSize = 1
	}
	return c
}

// Allocate returns a pointer to a newly available block of at least size
// bytes, or nil if size is out of range or the central cache could not
// satisfy the request.
func (c *Cache) Allocate(size int) unsafe.Pointer {
	if size <= 0 || size > sizeclass.MaxBytes {
		return nil
	}
	alignSize := sizeclass.RoundUp(size)
	idx := sizeclass.Index(alignSize)
	b := &c.buckets[idx]

	if !b.free.Empty() {
		return b.free.Pop()
	}
	return c.fetchFromCentral(idx, alignSize)
}

// fetchFromCentral pulls a batch of alignSize objects from the central
// cache, keeps all but one on this Cache's free list, and returns the one
// kept back to the caller.
func (c *Cache) fetchFromCentral(idx, alignSize int) unsafe.Pointer {
	b := &c.buckets[idx]

	batch := sizeclass.NumMoveSize(alignSize)
	if batch > b.maxSize {
		batch = b.maxSize
	}
	if batch == b.maxSize {
		b.maxSize++
	}

	start, end, got := c.central.FetchRange(batch, alignSize)
	if got == 0 {
		return nil
	}

	if got == 1 {
		return start
	}

	rest := *(*unsafe.Pointer)(start)
	b.free.PushRange(rest, end, got-1)
	return start
}

// Deallocate returns the object at p, of the given size, to this Cache's
// free list, flushing a batch back to the central cache once the list has
// reached its current slow-start ceiling.
func (c *Cache) Deallocate(p unsafe.Pointer, size int) {
	alignSize := sizeclass.RoundUp(size)
	idx := sizeclass.Index(alignSize)
	b := &c.buckets[idx]

	b.free.Push(p)
	if b.free.Len() >= b.maxSize {
		c.flush(idx, alignSize)
	}
}

// flush returns a maxSize-sized batch from this Cache's free list for idx
// to the central cache, mirroring ListTooLong.
func (c *Cache) flush(idx, alignSize int) {
	b := &c.buckets[idx]
	start, _, got := b.free.PopRange(b.maxSize)
	if got == 0 {
		return
	}
	c.central.ReleaseRange(start, alignSize)
}

// classSizes lists the size-class byte size for each bucket index, computed
// once so Drain does not have to invert Index.
var classSizes = func() [sizeclass.NumClasses]int {
	var sizes [sizeclass.NumClasses]int
	for n := 1; n <= sizeclass.MaxBytes; n++ {
		sizes[sizeclass.Index(n)] = sizeclass.RoundUp(n)
	}
	return sizes
}()

// Drain hands every cached object back to the central cache, leaving all of
// this Cache's free lists empty. Useful before discarding a handle, e.g.
// when its owning goroutine exits; an undrained handle keeps its objects
// out of circulation until the process ends.
func (c *Cache) Drain() {
	for idx := range c.buckets {
		b := &c.buckets[idx]
		if b.free.Empty() {
			continue
		}
		start, _, got := b.free.PopRange(b.free.Len())
		if got > 0 {
			c.central.ReleaseRange(start, classSizes[idx])
		}
	}
}
