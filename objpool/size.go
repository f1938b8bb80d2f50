package objpool

import "unsafe"

// sizeOfT returns the size in bytes of a slot[T], the unit actually carved
// out of chunks (so chunk sizing accounts for the next-pointer header too).
func sizeOfT[T any]() int {
	var z slot[T]
	return int(unsafe.Sizeof(z))
}
