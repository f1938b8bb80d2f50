//go:build !unix

package ospages

import "unsafe"

// HeapSource obtains pages from the Go heap instead of the OS, for
// platforms without an anonymous-mmap syscall available through x/sys.
// make([]byte, ...) already returns zeroed memory, so it satisfies the
// same contract as the mmap-backed source.
type HeapSource struct{}

// NewHeapSource returns an OS page source backed by the Go heap, a
// portability fallback for platforms with no anonymous-mmap syscall
// available through x/sys.
func NewHeapSource() Source { return HeapSource{} }

// NewSource returns the platform's default OS page source.
func NewSource() Source { return NewHeapSource() }

// Map over-allocates by one page's worth of slack and slices the result to
// a page boundary: unlike mmap, the Go heap makes no alignment promise, and
// the page cache derives page ids from the region's address by shifting, so
// a region that started mid-page would describe bytes outside itself.
func (HeapSource) Map(n, pageSize int) ([]byte, error) {
	buf := make([]byte, n*pageSize+pageSize-1)
	off := 0
	if rem := int(uintptr(unsafe.Pointer(&buf[0])) & uintptr(pageSize-1)); rem != 0 {
		off = pageSize - rem
	}
	return buf[off : off+n*pageSize : off+n*pageSize], nil
}
