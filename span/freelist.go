package span

import "unsafe"

// objNext treats the first machine word of a free object as a pointer and
// returns it by reference: a free block is never read by anything but the
// allocator, so its first word is free real estate for the next-pointer of
// whichever free list currently holds it.
func objNext(obj unsafe.Pointer) *unsafe.Pointer {
	return (*unsafe.Pointer)(obj)
}

// FreeList is a singly-linked LIFO chain of raw, otherwise-unused memory
// blocks, threaded through their own first word. It backs the thread
// cache's per-size-class free lists and a Span's own free list of the
// objects carved out of it.
type FreeList struct {
	head  unsafe.Pointer
	count int
}

// Push adds obj to the front of the list.
func (f *FreeList) Push(obj unsafe.Pointer) {
	*objNext(obj) = f.head
	f.head = obj
	f.count++
}

// PushRange adds the chain [start, end] (already linked through their own
// first words) to the front of the list in one step, incrementing count by
// n. Used when a batch of objects arrives already linked, e.g. from the
// central cache.
func (f *FreeList) PushRange(start, end unsafe.Pointer, n int) {
	*objNext(end) = f.head
	f.head = start
	f.count += n
}

// Pop removes and returns the object at the front of the list, or nil if
// the list is empty.
func (f *FreeList) Pop() unsafe.Pointer {
	if f.head == nil {
		return nil
	}
	obj := f.head
	f.head = *objNext(obj)
	f.count--
	return obj
}

// PopRange removes up to n objects from the front of the list and returns
// the chain's start, end, and the actual number removed (less than n if
// the list ran out). The returned chain is nil-terminated at end.
func (f *FreeList) PopRange(n int) (start, end unsafe.Pointer, got int) {
	start = f.head
	cur := f.head
	for got = 0; got < n && cur != nil; got++ {
		end = cur
		cur = *objNext(cur)
	}
	if end != nil {
		*objNext(end) = nil
	}
	f.head = cur
	f.count -= got
	return start, end, got
}

// Len returns the number of objects currently on the list.
func (f *FreeList) Len() int { return f.count }

// Empty reports whether the list has no objects.
func (f *FreeList) Empty() bool { return f.head == nil }
