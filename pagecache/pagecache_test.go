package pagecache

import (
	"errors"
	"testing"

	"github.com/gophermalloc/tcalloc/sizeclass"
	"github.com/gophermalloc/tcalloc/span"
)

func TestNewSpanReturnsExactSize(t *testing.T) {
	c := New()

	s, err := c.NewSpan(3)
	if err != nil {
		t.Fatalf("NewSpan(3) error = %v", err)
	}
	if s.NumPages != 3 {
		t.Fatalf("NumPages = %d, want 3", s.NumPages)
	}
}

func TestNewSpanMapsEveryPage(t *testing.T) {
	c := New()

	s, err := c.NewSpan(4)
	if err != nil {
		t.Fatalf("NewSpan(4) error = %v", err)
	}
	for i := 0; i < s.NumPages; i++ {
		if got := c.pages.Get(s.PageID + span.PageID(i)); got != s {
			t.Fatalf("page %d maps to %v, want %v", i, got, s)
		}
	}
}

// TestSplitThenCoalesce forces a split of the 128-page span the OS hands
// out into a 3-page span and a 125-page remainder, then frees the 3-page
// span back and confirms the two halves recombine into a single 128-page
// span with no fragments left behind.
func TestSplitThenCoalesce(t *testing.T) {
	c := New()

	k, err := c.NewSpan(3)
	if err != nil {
		t.Fatalf("NewSpan(3) error = %v", err)
	}
	if k.NumPages != 3 {
		t.Fatalf("k.NumPages = %d, want 3", k.NumPages)
	}
	if c.buckets[125].Empty() {
		t.Fatalf("bucket[125] should hold the 125-page remainder already")
	}
	if c.buckets[125].Front().NumPages != 125 {
		t.Fatalf("remainder in bucket[125] has NumPages = %d, want 125", c.buckets[125].Front().NumPages)
	}

	k.InUse = false
	c.ReleaseSpan(k)

	if !c.buckets[3].Empty() {
		t.Fatalf("bucket[3] should be empty after coalescing, still has %d spans", c.buckets[3].Len())
	}
	if !c.buckets[125].Empty() {
		t.Fatalf("bucket[125] should be empty after coalescing, still has %d spans", c.buckets[125].Len())
	}
	if c.buckets[128].Len() != 1 {
		t.Fatalf("bucket[128] has %d spans, want exactly 1", c.buckets[128].Len())
	}

	merged := c.buckets[128].Front()
	if merged.NumPages != 128 {
		t.Fatalf("merged span NumPages = %d, want 128", merged.NumPages)
	}
	if got := c.pages.Get(merged.PageID); got != merged {
		t.Fatalf("left boundary page maps to %v, want the merged span", got)
	}
	if got := c.pages.Get(merged.PageID + span.PageID(merged.NumPages) - 1); got != merged {
		t.Fatalf("right boundary page maps to %v, want the merged span", got)
	}
}

func TestCoalescingRespectsMaxPages(t *testing.T) {
	c := New()

	a, err := c.NewSpan(sizeclass.MaxPages)
	if err != nil {
		t.Fatalf("NewSpan(%d) error = %v", sizeclass.MaxPages, err)
	}
	// Take the second span while a is still out, so it has to come from a
	// fresh OS request rather than reusing a.
	b, err := c.NewSpan(sizeclass.MaxPages)
	if err != nil {
		t.Fatalf("second NewSpan(%d) error = %v", sizeclass.MaxPages, err)
	}

	a.InUse = false
	c.ReleaseSpan(a)

	if c.buckets[sizeclass.MaxPages].Len() != 1 {
		t.Fatalf("expected the freshly fetched 128-page span to sit alone in bucket[128]")
	}

	b.InUse = false
	c.ReleaseSpan(b)

	total := 0
	for i := 1; i < len(c.buckets); i++ {
		total += c.buckets[i].Len() * i
	}
	if total != 2*sizeclass.MaxPages {
		t.Fatalf("total pages held by the cache = %d, want %d", total, 2*sizeclass.MaxPages)
	}
	if c.buckets[sizeclass.MaxPages].Len() != 2 {
		t.Fatalf("two adjacent 128-page spans would exceed MaxPages if merged; expected both to remain separate in bucket[128], got %d entries", c.buckets[sizeclass.MaxPages].Len())
	}
}

func TestMapObjectToSpanResolvesWithinSpanBounds(t *testing.T) {
	c := New()

	s, err := c.NewSpan(2)
	if err != nil {
		t.Fatalf("NewSpan(2) error = %v", err)
	}

	for i := 0; i < s.NumPages; i++ {
		addr := uintptr(s.PageID+span.PageID(i)) << sizeclass.PageShift
		if got := c.MapObjectToSpan(addr); got != s {
			t.Fatalf("MapObjectToSpan(page %d) = %v, want %v", i, got, s)
		}
	}
}

func TestReleaseSpanTracksStats(t *testing.T) {
	c := New()

	s, err := c.NewSpan(5)
	if err != nil {
		t.Fatalf("NewSpan(5) error = %v", err)
	}
	before := c.Stats().SpansReleased
	s.InUse = false
	c.ReleaseSpan(s)
	after := c.Stats().SpansReleased

	if after != before+1 {
		t.Fatalf("SpansReleased went from %d to %d, want exactly +1", before, after)
	}
}

func TestNewSpanFailsWhenSourceIsExhausted(t *testing.T) {
	c := New(WithSource(failingSource{}))

	_, err := c.NewSpan(1)
	if err != ErrOutOfMemory {
		t.Fatalf("NewSpan error = %v, want ErrOutOfMemory", err)
	}
}

type failingSource struct{}

func (failingSource) Map(n, pageSize int) ([]byte, error) {
	return nil, errOutOfPages
}

var errOutOfPages = errors.New("failingSource: no pages available")
