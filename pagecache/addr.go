package pagecache

import "unsafe"

// addressOf returns the byte address of a freshly mapped region's first
// byte, so it can be converted into a page id.
func addressOf(mem []byte) unsafe.Pointer {
	return unsafe.Pointer(&mem[0])
}
