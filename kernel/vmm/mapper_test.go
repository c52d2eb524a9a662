package vmm

import (
	"testing"
	"unsafe"

	"nanokernel/kernel/mem"
)

// withMockedTables installs an entryPtrFn that hands out pointers into
// levelTables in call order: the first distinct table addressed is
// levelTables[0] (standing in for P4), the second levelTables[1] (P3), and
// so on. This mirrors the teacher's map_test.go convention of mocking the
// page-table-entry pointer resolver with a fixed, call-count-indexed set of
// backing arrays rather than exercising real recursive-mapping address
// arithmetic.
func withMockedTables(levelTables []*tableArray) (restore func()) {
	orig := entryPtrFn

	seen := map[uintptr]int{}
	entryPtrFn = func(entryAddr uintptr) unsafe.Pointer {
		tableBase := entryAddr &^ uintptr(mem.PageSize-1)
		index := (entryAddr & uintptr(mem.PageSize-1)) >> mem.PointerShift

		level, ok := seen[tableBase]
		if !ok {
			level = len(seen)
			seen[tableBase] = level
		}

		return unsafe.Pointer(&levelTables[level][index])
	}

	return func() { entryPtrFn = orig }
}

func TestMapperTranslateNotMapped(t *testing.T) {
	var p4, p3, p2, p1 tableArray
	defer withMockedTables([]*tableArray{&p4, &p3, &p2, &p1})()

	var m Mapper
	if _, err := m.Translate(0); err != ErrInvalidMapping {
		t.Fatalf("expected ErrInvalidMapping; got %v", err)
	}
}

func TestMapperTranslate4KiBPage(t *testing.T) {
	var p4, p3, p2, p1 tableArray
	defer withMockedTables([]*tableArray{&p4, &p3, &p2, &p1})()

	page := mem.VirtualPage(0)
	p4[page.P4()].SetFlags(FlagPresent)
	p3[page.P3()].SetFlags(FlagPresent)
	p2[page.P2()].SetFlags(FlagPresent)
	p1[page.P1()].SetFlags(FlagPresent)
	p1[page.P1()].SetFrame(mem.PhysicalFrame(99))

	var m Mapper
	got, err := m.Translate(0x123)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := mem.PhysicalFrame(99).Address() + 0x123; got != want {
		t.Fatalf("expected %x; got %x", want, got)
	}
}

func TestMapperTranslateHugePageAt2MiB(t *testing.T) {
	var p4, p3, p2, p1 tableArray
	defer withMockedTables([]*tableArray{&p4, &p3, &p2, &p1})()

	page := mem.VirtualPage(0)
	p4[page.P4()].SetFlags(FlagPresent)
	p3[page.P3()].SetFlags(FlagPresent)
	p2[page.P2()].SetFlags(FlagPresent | FlagHugePage)
	p2[page.P2()].SetFrame(mem.PhysicalFrame(uint64(2*mem.Mb) >> mem.PageShift))

	var m Mapper
	got, err := m.Translate(0x1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := uintptr(2*mem.Mb) + 0x1000; got != want {
		t.Fatalf("expected %x; got %x", want, got)
	}
}

func TestMapperMapToThenDoubleMapFails(t *testing.T) {
	var p4, p3, p2, p1 tableArray
	defer withMockedTables([]*tableArray{&p4, &p3, &p2, &p1})()
	defer withScratchZeroTarget()()

	alloc := &fakeAllocator{nextFrame: 1}
	var m Mapper

	page := mem.VirtualPage(5)
	if err := m.MapTo(page, mem.PhysicalFrame(500), FlagRW, alloc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.MapTo(page, mem.PhysicalFrame(501), FlagRW, alloc); err != ErrDoubleMap {
		t.Fatalf("expected ErrDoubleMap; got %v", err)
	}
}

func TestMapperUnmapMissing(t *testing.T) {
	var p4, p3, p2, p1 tableArray
	defer withMockedTables([]*tableArray{&p4, &p3, &p2, &p1})()

	var m Mapper
	alloc := &fakeAllocator{}
	if err := m.Unmap(mem.VirtualPage(0), alloc); err != ErrUnmapMissing {
		t.Fatalf("expected ErrUnmapMissing; got %v", err)
	}
}

func TestMapperUnmapHugePageUnsupported(t *testing.T) {
	var p4, p3, p2, p1 tableArray
	defer withMockedTables([]*tableArray{&p4, &p3, &p2, &p1})()

	page := mem.VirtualPage(0)
	p4[page.P4()].SetFlags(FlagPresent)
	p3[page.P3()].SetFlags(FlagPresent | FlagHugePage)

	var m Mapper
	alloc := &fakeAllocator{}
	if err := m.Unmap(page, alloc); err != ErrHugePageUnsupported {
		t.Fatalf("expected ErrHugePageUnsupported; got %v", err)
	}
}

func TestMapperUnmapRoundTrip(t *testing.T) {
	var p4, p3, p2, p1 tableArray
	defer withMockedTables([]*tableArray{&p4, &p3, &p2, &p1})()
	defer withScratchZeroTarget()()

	defer func(orig func(uintptr)) { flushTLBEntryFn = orig }(flushTLBEntryFn)
	var flushedAddr uintptr
	flushTLBEntryFn = func(addr uintptr) { flushedAddr = addr }

	alloc := &fakeAllocator{nextFrame: 1}
	var m Mapper

	page := mem.VirtualPage(7)
	if err := m.MapTo(page, mem.PhysicalFrame(200), FlagRW, alloc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := m.Unmap(page, alloc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flushedAddr != page.Address() {
		t.Fatalf("expected TLB flush for %x; got %x", page.Address(), flushedAddr)
	}
	if p1[page.P1()].HasFlags(FlagPresent) {
		t.Fatal("expected entry to be cleared after unmap")
	}

	if err := m.Unmap(page, alloc); err != ErrUnmapMissing {
		t.Fatalf("expected ErrUnmapMissing on second unmap; got %v", err)
	}
}
