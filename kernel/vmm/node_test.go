package vmm

import (
	"testing"
	"unsafe"

	"nanokernel/kernel"
	"nanokernel/kernel/mem"
)

// tableArray models a single page table's worth of raw entries, sized to
// match a real 4KiB table.
type tableArray [mem.PageSize >> mem.PointerShift]pageTableEntry

func TestEntryRoundTrip(t *testing.T) {
	var e pageTableEntry

	e.SetFrame(mem.PhysicalFrame(42))
	e.SetFlags(FlagPresent | FlagRW)

	if !e.HasFlags(FlagPresent | FlagRW) {
		t.Fatal("expected entry to have FlagPresent|FlagRW set")
	}
	if e.HasAnyFlag(FlagHugePage) {
		t.Fatal("did not expect FlagHugePage to be set")
	}
	if got := e.Frame(); got != mem.PhysicalFrame(42) {
		t.Fatalf("expected frame 42; got %d", got)
	}

	e.ClearFlags(FlagRW)
	if e.HasFlags(FlagRW) {
		t.Fatal("expected FlagRW to be cleared")
	}
}

func TestNextTableAbsentOrHugePage(t *testing.T) {
	defer func(orig func(uintptr) unsafe.Pointer) { entryPtrFn = orig }(entryPtrFn)

	var table tableArray
	entryPtrFn = func(entryAddr uintptr) unsafe.Pointer {
		index := (entryAddr & uintptr(mem.PageSize-1)) >> mem.PointerShift
		return unsafe.Pointer(&table[index])
	}

	node := PageTableNode(0)

	if _, ok := node.NextTable(0); ok {
		t.Fatal("expected NextTable to report not-ok for an absent entry")
	}

	table[1].SetFlags(FlagPresent | FlagHugePage)
	if _, ok := node.NextTable(1); ok {
		t.Fatal("expected NextTable to report not-ok for a huge page entry")
	}

	table[2].SetFlags(FlagPresent)
	if _, ok := node.NextTable(2); !ok {
		t.Fatal("expected NextTable to report ok for a present, non-huge entry")
	}
}

type fakeAllocator struct {
	nextFrame mem.PhysicalFrame
	allocated []mem.PhysicalFrame
	failWith  *kernel.Error
}

func (a *fakeAllocator) Allocate() (mem.PhysicalFrame, *kernel.Error) {
	if a.failWith != nil {
		return mem.InvalidFrame, a.failWith
	}
	f := a.nextFrame
	a.nextFrame++
	a.allocated = append(a.allocated, f)
	return f, nil
}

func (a *fakeAllocator) Deallocate(f mem.PhysicalFrame) {}

// withScratchZeroTarget redirects nextAddrFn to a real, page-sized backing
// buffer so that NextTableCreate's zeroing of a freshly allocated table does
// not attempt to write through the fabricated addresses produced by
// PageTableNode's recursive-mapping arithmetic.
func withScratchZeroTarget() (restore func()) {
	orig := nextAddrFn
	var scratch [mem.PageSize]byte
	nextAddrFn = func(uintptr) uintptr {
		return uintptr(unsafe.Pointer(&scratch[0]))
	}
	return func() { nextAddrFn = orig }
}

func TestNextTableCreateAllocatesOnlyWhenAbsent(t *testing.T) {
	defer func(orig func(uintptr) unsafe.Pointer) { entryPtrFn = orig }(entryPtrFn)
	defer withScratchZeroTarget()()

	var table tableArray
	entryPtrFn = func(entryAddr uintptr) unsafe.Pointer {
		index := (entryAddr & uintptr(mem.PageSize-1)) >> mem.PointerShift
		return unsafe.Pointer(&table[index])
	}

	node := PageTableNode(0)
	alloc := &fakeAllocator{nextFrame: 7}

	child, err := node.NextTableCreate(3, alloc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(alloc.allocated) != 1 {
		t.Fatalf("expected exactly one frame allocation; got %d", len(alloc.allocated))
	}
	if !table[3].HasFlags(FlagPresent | FlagRW) {
		t.Fatal("expected newly created entry to be present and writable")
	}
	if table[3].Frame() != mem.PhysicalFrame(7) {
		t.Fatalf("expected entry to point at allocated frame 7; got %d", table[3].Frame())
	}

	// Calling it again on the same, now-present entry must not allocate
	// another frame.
	again, err := node.NextTableCreate(3, alloc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again != child {
		t.Fatal("expected NextTableCreate to return the same child node on a repeat call")
	}
	if len(alloc.allocated) != 1 {
		t.Fatalf("expected no additional allocation; got %d total", len(alloc.allocated))
	}
}

func TestNextTableCreateHugePageConflict(t *testing.T) {
	defer func(orig func(uintptr) unsafe.Pointer) { entryPtrFn = orig }(entryPtrFn)

	var table tableArray
	entryPtrFn = func(entryAddr uintptr) unsafe.Pointer {
		index := (entryAddr & uintptr(mem.PageSize-1)) >> mem.PointerShift
		return unsafe.Pointer(&table[index])
	}
	table[0].SetFlags(FlagPresent | FlagHugePage)

	node := PageTableNode(0)
	if _, err := node.NextTableCreate(0, &fakeAllocator{}); err != ErrHugePageUnsupported {
		t.Fatalf("expected ErrHugePageUnsupported; got %v", err)
	}
}

func TestNextTableCreatePropagatesAllocatorError(t *testing.T) {
	defer func(orig func(uintptr) unsafe.Pointer) { entryPtrFn = orig }(entryPtrFn)

	var table tableArray
	entryPtrFn = func(entryAddr uintptr) unsafe.Pointer {
		index := (entryAddr & uintptr(mem.PageSize-1)) >> mem.PointerShift
		return unsafe.Pointer(&table[index])
	}

	wantErr := &kernel.Error{Module: "test", Message: "out of frames"}
	node := PageTableNode(0)
	if _, err := node.NextTableCreate(0, &fakeAllocator{failWith: wantErr}); err != wantErr {
		t.Fatalf("expected allocator error to propagate; got %v", err)
	}
}
