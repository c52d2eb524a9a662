package vmm

import (
	"testing"
	"unsafe"

	"nanokernel/kernel/mem"
)

func TestAddressSpaceSwitcherRestoresActiveEntry(t *testing.T) {
	// p4 stands in for the single physical frame backing the active
	// top-level table. Both rootPageTableNode() (reached through the
	// recursive self-map) and the TemporaryMapper's backup window (reached
	// through tempMappingAddr, since the frame mapped there is this same
	// active frame) must resolve to it: that aliasing is exactly the
	// property AddressSpaceSwitcher's restore step depends on.
	var p4, p3, p2, p1 tableArray

	defer func(orig func(uintptr) unsafe.Pointer) { entryPtrFn = orig }(entryPtrFn)
	rootBase := pdtVirtualAddr &^ uintptr(mem.PageSize-1)
	tempBase := tempMappingAddr &^ uintptr(mem.PageSize-1)
	seen := map[uintptr]*tableArray{}
	intermediate := []*tableArray{&p3, &p2, &p1}
	entryPtrFn = func(entryAddr uintptr) unsafe.Pointer {
		tableBase := entryAddr &^ uintptr(mem.PageSize-1)
		index := (entryAddr & uintptr(mem.PageSize-1)) >> mem.PointerShift

		if tableBase == rootBase || tableBase == tempBase {
			return unsafe.Pointer(&p4[index])
		}

		table, ok := seen[tableBase]
		if !ok {
			table = intermediate[len(seen)]
			seen[tableBase] = table
		}
		return unsafe.Pointer(&table[index])
	}

	defer func(orig func() uintptr) { activePDTFn = orig }(activePDTFn)
	activeFrame := mem.PhysicalFrame(321)
	activePDTFn = func() uintptr { return activeFrame.Address() }

	defer func(orig func()) { flushTLBAllFn = orig }(flushTLBAllFn)
	flushCount := 0
	flushTLBAllFn = func() { flushCount++ }

	defer func(orig func(uintptr)) { flushTLBEntryFn = orig }(flushTLBEntryFn)
	flushTLBEntryFn = func(uintptr) {}

	defer withScratchZeroTarget()()

	p4[recursiveSlot].SetFrame(activeFrame)
	p4[recursiveSlot].SetFlags(FlagPresent | FlagRW)

	reserve := &fakeAllocator{nextFrame: 900}
	temp, err := NewTemporaryMapper(reserve)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var fCalled bool
	targetFrame := mem.PhysicalFrame(654)

	var switcher AddressSpaceSwitcher
	if err := switcher.With(targetFrame, temp, func(Mapper) {
		fCalled = true
		if p4[recursiveSlot].Frame() != targetFrame {
			t.Fatalf("expected recursive slot to point at target frame %d during f; got %d", targetFrame, p4[recursiveSlot].Frame())
		}
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !fCalled {
		t.Fatal("expected f to be invoked")
	}
	if flushCount != 2 {
		t.Fatalf("expected exactly 2 full TLB flushes; got %d", flushCount)
	}
	if p4[recursiveSlot].Frame() != activeFrame {
		t.Fatalf("expected recursive slot restored to active frame %d; got %d", activeFrame, p4[recursiveSlot].Frame())
	}
	if !p4[recursiveSlot].HasFlags(FlagPresent | FlagRW) {
		t.Fatal("expected restored recursive slot to keep its flags")
	}
}
