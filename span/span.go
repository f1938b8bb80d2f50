// Package span implements the unit of memory the page cache hands out: a
// run of contiguous pages, optionally carved into same-sized objects of one
// size class. Modeled on tcmalloc's Span bookkeeping.
package span

// PageID identifies a page by its page number (byte address >> PageShift).
// It is a plain integer rather than a pointer so it can be used as a radix
// tree key and compared/hashed cheaply.
type PageID uintptr

// Span describes one run of NumPages contiguous pages. A span is either:
//   - free and idle in the page cache (InUse false, FreeList unused), or
//   - owned by the central cache, carved into ObjSize-sized objects that
//     are handed out to thread caches (InUse true).
//
// Spans are bookkeeping records allocated from objpool, never from the
// allocator's own Allocate path (that would recurse). Prev/Next thread the
// span through whichever List currently holds it; a span is a member of
// exactly one list at a time.
type Span struct {
	PageID   PageID // first page of the span
	NumPages int    // length of the span, in pages

	ObjSize  int      // size of the objects this span is carved into; 0 if unsplit
	Free     FreeList // free objects within this span, when owned by the central cache
	UseCount int      // number of objects currently handed out from this span

	InUse bool // true while owned by the central cache, false while idle in the page cache

	prev, next *Span
}

// Base returns the byte address of the first page in the span, given the
// page size used to construct it. Kept as a method rather than a package
// constant so callers stay explicit about which page size they mean.
func (s *Span) Base(pageSize int) uintptr {
	return uintptr(s.PageID) * uintptr(pageSize)
}
