// Package heap implements a monotonic bump-pointer allocator used as the
// kernel's heap once the fixed heap virtual range has been mapped.
package heap

import (
	"sync/atomic"

	"nanokernel/kernel"
)

var (
	errArenaExhausted = &kernel.Error{Module: "heap", Message: "bump arena exhausted"}
	errBadAlignment   = &kernel.Error{Module: "heap", Message: "alignment is not a power of two"}
)

// Layout describes the size and alignment requirements of a single
// allocation request.
type Layout struct {
	Size  uintptr
	Align uintptr
}

// BumpArena is a thread-safe monotonic allocator over a fixed [start, end)
// virtual address range. Allocations never move and are never individually
// reclaimed; Dealloc exists only to satisfy callers that expect to free what
// they allocate and does nothing.
type BumpArena struct {
	start  uintptr
	end    uintptr
	cursor uintptr
}

// Init prepares the arena to serve allocations from [start, end). The
// caller is responsible for having every page in that range already mapped
// writable before the first call to Alloc.
func (a *BumpArena) Init(start, end uintptr) {
	a.start = start
	a.end = end
	atomic.StoreUintptr(&a.cursor, start)
}

// Alloc reserves layout.Size bytes aligned to layout.Align and returns the
// address of the first byte. It retries its compare-and-swap publish of the
// new cursor on contention, so multiple callers (main-line code and an
// exception handler, say) may race Alloc concurrently.
func (a *BumpArena) Alloc(layout Layout) (uintptr, *kernel.Error) {
	for {
		cursor := atomic.LoadUintptr(&a.cursor)

		aligned := alignUp(cursor, layout.Align)
		newCursor := aligned + layout.Size
		if newCursor > a.end || newCursor < aligned {
			return 0, errArenaExhausted
		}

		if atomic.CompareAndSwapUintptr(&a.cursor, cursor, newCursor) {
			return aligned, nil
		}
	}
}

// Dealloc is a no-op: BumpArena never reclaims individual allocations.
func (a *BumpArena) Dealloc(uintptr, Layout) {}

// alignUp rounds addr up to the next multiple of align, which must be a
// power of two.
func alignUp(addr, align uintptr) uintptr {
	if align == 0 || align&(align-1) != 0 {
		kernel.Panic(errBadAlignment)
	}
	return (addr + align - 1) &^ (align - 1)
}
