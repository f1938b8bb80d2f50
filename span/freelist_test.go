package span

import (
	"testing"
	"unsafe"
)

func newBlocks(n int) []unsafe.Pointer {
	blocks := make([]unsafe.Pointer, n)
	for i := range blocks {
		buf := make([]byte, unsafe.Sizeof(uintptr(0)))
		blocks[i] = unsafe.Pointer(&buf[0])
	}
	return blocks
}

func TestFreeListPushPop(t *testing.T) {
	f := &FreeList{}
	if !f.Empty() {
		t.Fatalf("new FreeList should be empty")
	}

	blocks := newBlocks(3)
	for _, b := range blocks {
		f.Push(b)
	}
	if f.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", f.Len())
	}

	// LIFO order.
	if got := f.Pop(); got != blocks[2] {
		t.Fatalf("Pop() = %p, want %p", got, blocks[2])
	}
	if got := f.Pop(); got != blocks[1] {
		t.Fatalf("Pop() = %p, want %p", got, blocks[1])
	}
	if got := f.Pop(); got != blocks[0] {
		t.Fatalf("Pop() = %p, want %p", got, blocks[0])
	}
	if !f.Empty() {
		t.Fatalf("FreeList should be empty after draining")
	}
	if f.Pop() != nil {
		t.Fatalf("Pop() on empty list should return nil")
	}
}

func TestFreeListPopRangePartial(t *testing.T) {
	f := &FreeList{}
	blocks := newBlocks(2)
	for _, b := range blocks {
		f.Push(b)
	}

	start, end, got := f.PopRange(5)
	if got != 2 {
		t.Fatalf("PopRange(5) got = %d, want 2", got)
	}
	if start != blocks[1] || end != blocks[0] {
		t.Fatalf("PopRange returned unexpected chain ends")
	}
	if !f.Empty() {
		t.Fatalf("FreeList should be drained after PopRange exceeding its length")
	}
}

func TestFreeListPushRangeThenPop(t *testing.T) {
	f := &FreeList{}
	blocks := newBlocks(4)
	for _, b := range blocks {
		f.Push(b)
	}
	start, end, n := f.PopRange(4)

	g := &FreeList{}
	g.PushRange(start, end, n)
	if g.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", g.Len())
	}
	count := 0
	for g.Pop() != nil {
		count++
	}
	if count != 4 {
		t.Fatalf("drained %d objects, want 4", count)
	}
}
