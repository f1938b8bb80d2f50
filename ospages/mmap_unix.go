//go:build unix

package ospages

import "golang.org/x/sys/unix"

// MmapSource maps pages via an anonymous, private mmap. Anonymous mappings
// come pre-zeroed from the kernel, so no explicit clearing is needed.
type MmapSource struct{}

// NewMmapSource returns an OS page source backed by anonymous mmap.
func NewMmapSource() Source { return MmapSource{} }

// NewSource returns the platform's default OS page source.
func NewSource() Source { return NewMmapSource() }

func (MmapSource) Map(n, pageSize int) ([]byte, error) {
	size := n * pageSize
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, &mapError{n: n, pageSize: pageSize, cause: err}
	}
	return b, nil
}
