// Package pagemap implements the radix-tree page map that the page cache
// uses to find the Span owning any page, and that the allocator's Free path
// uses to find the span owning a returned pointer. Modeled on tcmalloc's
// TCMalloc_PageMap2/TCMalloc_PageMap3 pair.
//
// A PageMap's Set and Ensure calls are always made while the caller holds
// the page cache's single coarse lock, so they never race with each other.
// Get is deliberately lock-free: every slot is an atomic pointer, so a
// concurrent Get always observes either nil or a fully-constructed Span,
// never a torn write.
package pagemap

import (
	"math/bits"

	"github.com/gophermalloc/tcalloc/span"
)

// PageMap maps page numbers to the Span that owns them.
type PageMap interface {
	// Get returns the span owning page k, or nil if no span has claimed it.
	Get(k span.PageID) *span.Span

	// Set records that page k is owned by s. The caller must have already
	// called Ensure covering k.
	Set(k span.PageID, s *span.Span)

	// Ensure grows the map so that every page in [start, start+n) can be
	// Set without further allocation. Returns false if the range is out of
	// the address space the map was built for.
	Ensure(start span.PageID, n int) bool
}

// addressBits is the number of bits in a page number on this platform:
// the machine word width minus PageShift.
func addressBits(pageShift int) int {
	return bits.UintSize - pageShift
}

// New constructs the PageMap variant appropriate for this platform: a
// two-level map on 32-bit platforms, where the whole address space fits in
// a few megabytes and can be preallocated outright, and a three-level map
// on 64-bit platforms, where it cannot.
func New(pageShift int) PageMap {
	n := addressBits(pageShift)
	if bits.UintSize == 32 {
		return newPageMap2(n)
	}
	return newPageMap3(n)
}
