// Package sizeclass implements the fixed size-class table that every
// allocation request is rounded up against.
//
// The table partitions [1, MaxBytes] into 208 classes across five alignment
// regions. The bucketing is load-bearing: two allocator instances that
// share a heap (by sharing the page map) must agree on it exactly, so the
// boundaries and alignments below must never change.
package sizeclass

const (
	// PageShift is the number of bits a byte address is shifted right to
	// obtain its page id. Pages are 1<<PageShift bytes.
	PageShift = 12

	// PageSize is the size of a single page in bytes.
	PageSize = 1 << PageShift

	// MaxBytes is the largest request size this allocator serves directly;
	// anything larger belongs to a large-object path that goes straight to
	// the OS.
	MaxBytes = 256 * 1024

	// NumClasses is the number of size classes in the table.
	NumClasses = 208

	// MaxPages is the largest span size, in pages, the page cache hands
	// out from a single bucket.
	MaxPages = 128
)

// region describes one of the five alignment bands in the table.
//
// align must equal 1<<indexShift in every region: the rounded size decides
// which central-cache bucket an object lives in, and every object in a
// bucket must be at least as large as any request routed there. Rounding
// more finely than the bucket granularity (an earlier revision rounded
// (1024, 8KiB] sizes to a 64-byte boundary while bucketing them on a
// 128-byte one) lets a bucket mix two object sizes and hand the smaller
// one to a request for the larger. The bucket segmentation itself, which
// is what two allocators sharing a heap must agree on, is unchanged from
// that revision; init enforces the alignment invariant.
type region struct {
	limit      int // upper bound of the region, inclusive
	align      int // rounding alignment within the region
	indexShift int // log2 of the bucket-index granularity
	bucket     int // number of buckets contributed by this region
}

// regions must stay in ascending limit order; RoundUp and Index both walk it
// linearly, which is fine since there are only five entries.
var regions = [5]region{
	{limit: 128, align: 8, indexShift: 3, bucket: 16},
	{limit: 1024, align: 16, indexShift: 4, bucket: 56},
	{limit: 8 * 1024, align: 128, indexShift: 7, bucket: 56},
	{limit: 64 * 1024, align: 1024, indexShift: 10, bucket: 56},
	{limit: 256 * 1024, align: 8 * 1024, indexShift: 13, bucket: 24},
}

func init() {
	total := 0
	for _, r := range regions {
		total += r.bucket
		if r.align != 1<<r.indexShift {
			panic("sizeclass: region alignment does not match its bucket granularity")
		}
	}
	if total != NumClasses {
		panic("sizeclass: region bucket counts do not sum to NumClasses")
	}
}

// RoundUp returns the size-class size for a request of n bytes. The caller
// is expected to have already validated 1 <= n <= MaxBytes.
func RoundUp(n int) int {
	for _, r := range regions {
		if n <= r.limit {
			return roundUp(n, r.align)
		}
	}
	// Unreachable for valid input; keep behavior defined rather than
	// indexing out of range.
	return roundUp(n, regions[len(regions)-1].align)
}

// Index returns the bucket number, in [0, NumClasses), for a request of n
// bytes. The caller is expected to have already validated 1 <= n <= MaxBytes.
func Index(n int) int {
	bias := 0
	prevLimit := 0
	for _, r := range regions {
		if n <= r.limit {
			return bias + index(n-prevLimit, r.indexShift)
		}
		bias += r.bucket
		prevLimit = r.limit
	}
	return NumClasses - 1
}

// NumMoveSize returns the maximum number of size-class objects the central
// cache will hand to a thread cache (or accept back) in one batch.
func NumMoveSize(size int) int {
	n := MaxBytes / size
	switch {
	case n > 512:
		n = 512
	case n < 2:
		n = 2
	}
	return n
}

// NumMovePage returns the number of pages the central cache should request
// from the page cache to refill a span for the given size class: the bytes
// of NumMoveSize(size) objects, truncated to whole pages and raised to at
// least one page. Truncation means the span can hold fewer than
// NumMoveSize(size) objects when that byte count is not a page multiple.
//
// An earlier revision documented this as a right-shift by 13, a stale
// reference to an 8 KiB page size. The shift below is PageShift (12),
// matching the 4 KiB pages this package actually uses.
func NumMovePage(size int) int {
	npage := (NumMoveSize(size) * size) >> PageShift
	if npage == 0 {
		npage = 1
	}
	return npage
}

func roundUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

func index(n, shift int) int {
	return ((n + (1 << shift) - 1) >> shift) - 1
}
