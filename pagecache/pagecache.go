// Package pagecache is the third and coarsest tier of the allocator: it
// owns every page obtained from the OS, grouped into Spans, and hands runs
// of contiguous pages to the central cache on request. Modeled on
// tcmalloc's page heap.
//
// A single coarse mutex guards the whole cache: page-level operations are
// rare compared to the object-level traffic the central and thread caches
// absorb, so contention here is not the bottleneck a finer-grained scheme
// would need to address.
package pagecache

import (
	"errors"
	"sync"

	"github.com/gophermalloc/tcalloc/objpool"
	"github.com/gophermalloc/tcalloc/ospages"
	"github.com/gophermalloc/tcalloc/pagemap"
	"github.com/gophermalloc/tcalloc/sizeclass"
	"github.com/gophermalloc/tcalloc/span"
)

// ErrOutOfMemory is returned when the OS page source refuses to hand over
// more memory.
var ErrOutOfMemory = errors.New("pagecache: out of memory")

// numBuckets is one bucket per possible span length from 1 to MaxPages
// pages, plus bucket 0 left unused so a span's length can index directly
// into the bucket array.
const numBuckets = sizeclass.MaxPages + 1

// Config carries the configuration for a Cache.
type Config struct {
	// PageSize is the byte size of one page. Defaults to sizeclass.PageSize.
	PageSize int

	// Source supplies fresh pages when no cached span can satisfy a
	// request. Defaults to ospages.NewSource().
	Source ospages.Source
}

// DefaultConfig constructs a Config initialized with the default settings.
func DefaultConfig() *Config {
	return &Config{
		PageSize: sizeclass.PageSize,
		Source:   ospages.NewSource(),
	}
}

// Apply applies the given options to c.
func (c *Config) Apply(options ...Option) {
	for _, opt := range options {
		opt.Configure(c)
	}
}

// Option configures a Cache at construction time.
type Option interface {
	Configure(*Config)
}

type option func(*Config)

func (opt option) Configure(c *Config) { opt(c) }

// WithPageSize overrides the byte size of one page.
func WithPageSize(n int) Option {
	return option(func(c *Config) { c.PageSize = n })
}

// WithSource overrides the OS page source.
func WithSource(src ospages.Source) Option {
	return option(func(c *Config) { c.Source = src })
}

// Stats carries counters describing a Cache's activity since construction.
type Stats struct {
	SpansFetchedFromOS int64
	SpansSplit         int64
	SpansCoalesced     int64
	SpansReleased      int64

	// IdlePages is the number of pages currently sitting in the cache's
	// buckets, not lent out to the central cache. When every span has been
	// drained back, this equals MaxPages times SpansFetchedFromOS.
	IdlePages int64
}

// Cache is the page-granularity allocator. The zero value is not usable;
// construct one with New.
type Cache struct {
	mu      sync.Mutex
	config  Config
	shift   int
	buckets [numBuckets]span.List
	pages   pagemap.PageMap
	spans   *objpool.Pool[span.Span]
	stats   Stats

	// arenas keeps every region ever returned by config.Source reachable
	// for the process lifetime. Spans only remember a region's address as
	// a page id, a plain integer with no pointer shape the garbage
	// collector would trace, so without this slice a heap-backed Source
	// (see ospages.HeapSource) could be collected out from under spans
	// that still reference its pages by address.
	arenas [][]byte
}

// New constructs a Cache with the given options applied over the defaults.
func New(options ...Option) *Cache {
	config := *DefaultConfig()
	config.Apply(options...)

	return &Cache{
		config: config,
		shift:  pageShiftFor(config.PageSize),
		pages:  pagemap.New(pageShiftFor(config.PageSize)),
		spans:  objpool.New[span.Span](),
	}
}

func pageShiftFor(pageSize int) int {
	shift := 0
	for 1<<shift < pageSize {
		shift++
	}
	return shift
}

// NewSpan returns a span of exactly k pages, splitting a larger span or
// fetching fresh pages from the OS as needed. The returned span is marked
// in use before the cache's lock is dropped: a concurrent ReleaseSpan that
// finds it through the page map must never mistake a span mid-handout for
// an idle neighbor it could coalesce with.
func (c *Cache) NewSpan(k int) (*span.Span, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.newSpanLocked(k)
}

func (c *Cache) newSpanLocked(k int) (*span.Span, error) {
	if !c.buckets[k].Empty() {
		s := c.buckets[k].PopFront()
		s.InUse = true
		c.mapSpanPages(s)
		return s, nil
	}

	for i := k + 1; i < numBuckets; i++ {
		if c.buckets[i].Empty() {
			continue
		}
		n := c.buckets[i].PopFront()

		k0 := c.spans.Get()
		*k0 = span.Span{PageID: n.PageID, NumPages: k, InUse: true}

		n.PageID += span.PageID(k)
		n.NumPages -= k
		c.buckets[n.NumPages].PushFront(n)

		c.pages.Set(n.PageID, n)
		c.pages.Set(n.PageID+span.PageID(n.NumPages)-1, n)
		c.mapSpanPages(k0)
		c.stats.SpansSplit++
		return k0, nil
	}

	if err := c.fetchFromOS(numBuckets - 1); err != nil {
		return nil, err
	}
	return c.newSpanLocked(k)
}

// fetchFromOS maps npage fresh pages from the OS and files them as a new
// idle span in the matching bucket.
func (c *Cache) fetchFromOS(npage int) error {
	mem, err := c.config.Source.Map(npage, c.config.PageSize)
	if err != nil {
		return ErrOutOfMemory
	}
	id := span.PageID(uintptr(addressOf(mem)) >> c.shift)
	if !c.pages.Ensure(id, npage) {
		return ErrOutOfMemory
	}
	c.arenas = append(c.arenas, mem)

	s := c.spans.Get()
	*s = span.Span{PageID: id, NumPages: npage}
	c.buckets[npage].PushFront(s)
	c.stats.SpansFetchedFromOS++
	return nil
}

// mapSpanPages records the page-to-span mapping for every page in s,
// mirroring the per-page loop PageCache::NewSpan runs before handing a span
// to the central cache.
func (c *Cache) mapSpanPages(s *span.Span) {
	for i := 0; i < s.NumPages; i++ {
		c.pages.Set(s.PageID+span.PageID(i), s)
	}
}

// MapObjectToSpan returns the span owning the page containing the address
// of p. Called on Free to find which span (and so which size class) an
// object belongs to. Safe to call without holding the cache's lock: reads
// through the page map are lock-free.
func (c *Cache) MapObjectToSpan(p uintptr) *span.Span {
	return c.pages.Get(span.PageID(p >> c.shift))
}

// ReleaseSpan returns s to the cache, coalescing it with any idle neighbor
// spans to the left and right before filing it in the matching bucket.
func (c *Cache) ReleaseSpan(s *span.Span) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s.InUse = false

	for {
		leftID := s.PageID - 1
		left := c.pages.Get(leftID)
		if left == nil || left.InUse || left.NumPages+s.NumPages > sizeclass.MaxPages {
			break
		}
		s.PageID = left.PageID
		s.NumPages += left.NumPages
		c.buckets[left.NumPages].Remove(left)
		c.spans.Put(left)
		c.stats.SpansCoalesced++
	}

	for {
		rightID := s.PageID + span.PageID(s.NumPages)
		right := c.pages.Get(rightID)
		if right == nil || right.InUse || right.NumPages+s.NumPages > sizeclass.MaxPages {
			break
		}
		s.NumPages += right.NumPages
		c.buckets[right.NumPages].Remove(right)
		c.spans.Put(right)
		c.stats.SpansCoalesced++
	}

	c.buckets[s.NumPages].PushFront(s)
	c.pages.Set(s.PageID, s)
	c.pages.Set(s.PageID+span.PageID(s.NumPages)-1, s)
	c.stats.SpansReleased++
}

// Stats returns a snapshot of the cache's activity counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	for i := 1; i < numBuckets; i++ {
		stats.IdlePages += int64(c.buckets[i].Len() * i)
	}
	return stats
}
