// Package tcalloc implements a concurrent, three-tier memory allocator in
// the style of tcmalloc: a lock-free-fast thread cache backed by a central
// cache of size-classed spans, itself backed by a page cache that talks to
// the OS.
package tcalloc

import (
	"errors"
	"sync"
	"unsafe"

	"github.com/gophermalloc/tcalloc/centralcache"
	"github.com/gophermalloc/tcalloc/ospages"
	"github.com/gophermalloc/tcalloc/pagecache"
	"github.com/gophermalloc/tcalloc/sizeclass"
	"github.com/gophermalloc/tcalloc/threadcache"
)

// ErrInvalidSize is returned when a requested allocation size is outside
// [1, sizeclass.MaxBytes].
var ErrInvalidSize = errors.New("tcalloc: size out of range")

// ErrOutOfMemory is returned when the OS refuses to hand over more pages.
var ErrOutOfMemory = pagecache.ErrOutOfMemory

// Config carries the configuration for an Allocator.
type Config struct {
	// PageSize is the byte size of one page. Defaults to sizeclass.PageSize.
	PageSize int

	// Source supplies fresh pages from the OS. Defaults to
	// ospages.NewSource().
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

// Option configures an Allocator at construction time.
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

// Stats carries counters describing an Allocator's activity, aggregated
// across the central cache and the page cache.
type Stats struct {
	// Requests is the total number of objects handed out by the central
	// cache to thread caches.
	Requests int64
	// BytesInUse is the approximate number of bytes currently lent out
	// across all size classes.
	BytesInUse int64
	// SpanCount is the number of spans currently owned by the central
	// cache (carved into some size class, as opposed to idle in the page
	// cache).
	SpanCount int64
	// CentralRefills counts how many times the central cache had to pull
	// and carve a fresh span from the page cache.
	CentralRefills int64
	// CentralDrains counts how many times the central cache returned an
	// emptied span to the page cache.
	CentralDrains int64
	// OSPageRequests is the number of times the page cache had to ask the
	// OS page source for fresh pages.
	OSPageRequests int64
	// SpansSplit is the number of times the page cache split a larger
	// idle span to satisfy a smaller request.
	SpansSplit int64
	// SpansCoalesced is the number of idle spans merged into a larger
	// neighbor on release.
	SpansCoalesced int64
	// SpansReleased is the number of spans returned to the page cache.
	SpansReleased int64
	// IdlePages is the number of pages currently idle in the page cache's
	// buckets. Once every object has been freed and every thread cache
	// drained, it equals sizeclass.MaxPages times OSPageRequests.
	IdlePages int64
}

// Allocator is a self-contained memory hierarchy: callers obtain a
// ThreadCache handle from it (or use its own Allocate/Free, which manage a
// pool of handles internally) to request and release objects up to
// sizeclass.MaxBytes in size.
type Allocator struct {
	pages   *pagecache.Cache
	central *centralcache.Cache

	handles sync.Pool
}

// New constructs an Allocator with the given options applied over the
// defaults.
func New(options ...Option) *Allocator {
	config := *DefaultConfig()
	config.Apply(options...)

	pages := pagecache.New(
		pagecache.WithPageSize(config.PageSize),
		pagecache.WithSource(config.Source),
	)
	central := centralcache.New(pages)

	a := &Allocator{pages: pages, central: central}
	a.handles.New = func() interface{} { return threadcache.New(central) }
	return a
}

// NewThreadCache returns a new, independent thread cache handle drawing
// from a's central cache. Callers that want dedicated, lock-free-fast
// per-goroutine state (rather than a's pooled Allocate/Free convenience
// functions) should keep one of these per goroutine.
func (a *Allocator) NewThreadCache() *threadcache.Cache {
	return threadcache.New(a.central)
}

// Allocate returns size bytes of fresh memory. It borrows a pooled thread
// cache handle for the duration of the call; because the allocator never
// requires the cache that freed a block to be the same one that allocated
// it, handles may migrate between goroutines exactly like sync.Pool's own
// per-P free lists do.
func (a *Allocator) Allocate(size int) (unsafe.Pointer, error) {
	if size <= 0 || size > sizeclass.MaxBytes {
		return nil, ErrInvalidSize
	}

	tc := a.handles.Get().(*threadcache.Cache)
	defer a.handles.Put(tc)

	p := tc.Allocate(size)
	if p == nil {
		return nil, ErrOutOfMemory
	}
	return p, nil
}

// Free returns a block obtained from Allocate (directly or through a
// ThreadCache handle obtained from this Allocator). The size need not be
// remembered by the caller: it is recovered from the owning span, the same
// lookup ConcurrentFree performs before calling ThreadCache::Deallocate.
func (a *Allocator) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	s := a.pages.MapObjectToSpan(uintptr(p))
	if s == nil {
		panic("tcalloc: Free called with a pointer this allocator did not allocate")
	}
	if s.ObjSize == 0 {
		// The owning span is idle in the page cache, so every object
		// carved from it has already been returned.
		panic("tcalloc: double free detected")
	}

	tc := a.handles.Get().(*threadcache.Cache)
	defer a.handles.Put(tc)
	tc.Deallocate(p, s.ObjSize)
}

// Stats returns a snapshot of the allocator's activity, aggregated across
// the central cache and the page cache.
func (a *Allocator) Stats() Stats {
	cs := a.central.Stats()
	ps := a.pages.Stats()
	return Stats{
		Requests:       cs.ObjectsFetched,
		BytesInUse:     cs.BytesInUse,
		SpanCount:      cs.SpansInUse,
		CentralRefills: cs.Refills,
		CentralDrains:  cs.Drains,
		OSPageRequests: ps.SpansFetchedFromOS,
		SpansSplit:     ps.SpansSplit,
		SpansCoalesced: ps.SpansCoalesced,
		SpansReleased:  ps.SpansReleased,
		IdlePages:      ps.IdlePages,
	}
}

var defaultAllocator = New()

// Allocate returns size bytes of fresh memory from the package-level
// default Allocator.
func Allocate(size int) (unsafe.Pointer, error) { return defaultAllocator.Allocate(size) }

// Free returns a block obtained from Allocate to the package-level default
// Allocator.
func Free(p unsafe.Pointer) { defaultAllocator.Free(p) }
