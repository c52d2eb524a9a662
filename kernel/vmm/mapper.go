package vmm

import (
	"nanokernel/kernel"
	"nanokernel/kernel/cpu"
	"nanokernel/kernel/mem"
)

// flushTLBEntryFn invalidates a single TLB entry. It is a seam so tests can
// run the walk logic without executing a privileged INVLPG.
var flushTLBEntryFn = cpu.FlushTLBEntry

// Mapper edits and queries the currently active page table hierarchy
// through the recursive self-mapping. It carries no state of its own: every
// method re-derives its starting point from rootPageTableNode, so a Mapper
// value can be freely copied.
type Mapper struct{}

// Translate resolves a virtual address to the physical address it is
// currently mapped to. It returns ErrInvalidMapping if any page table along
// the walk is not present, decoding 1GiB and 2MiB huge page leaves at the
// P3 and P2 levels respectively. Unlike NextTable, it deliberately does not
// treat "not present" and "huge page" as a single failure: those two cases
// require different decoding.
func (Mapper) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	page, perr := mem.PageFromAddress(virtAddr)
	if perr != nil {
		return 0, ErrInvalidMapping
	}

	p4 := rootPageTableNode()
	p4Entry := p4.Entry(page.P4())
	if !p4Entry.HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}

	p3 := p4.child(page.P4())
	p3Entry := p3.Entry(page.P3())
	if !p3Entry.HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}
	if p3Entry.HasAnyFlag(FlagHugePage) {
		base := p3Entry.Frame().Address()
		if base&uintptr(mem.Gb-1) != 0 {
			kernel.Panic(errMisalignedHugePage)
		}
		return base + (virtAddr & uintptr(mem.Gb-1)), nil
	}

	p2 := p3.child(page.P3())
	p2Entry := p2.Entry(page.P2())
	if !p2Entry.HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}
	if p2Entry.HasAnyFlag(FlagHugePage) {
		base := p2Entry.Frame().Address()
		if base&uintptr(mem.Mb*2-1) != 0 {
			kernel.Panic(errMisalignedHugePage)
		}
		return base + (virtAddr & uintptr(mem.Mb*2-1)), nil
	}

	p1 := p2.child(page.P2())
	p1Entry := p1.Entry(page.P1())
	if !p1Entry.HasFlags(FlagPresent) {
		return 0, ErrInvalidMapping
	}

	return p1Entry.Frame().Address() + (virtAddr & uintptr(mem.PageSize-1)), nil
}

// MapTo installs a present mapping from page to frame with the given flags,
// creating any missing intermediate P3/P2/P1 tables via allocator. It
// returns ErrDoubleMap if page is already mapped.
func (Mapper) MapTo(page mem.VirtualPage, frame mem.PhysicalFrame, flags PageTableEntryFlag, allocator FrameAllocator) *kernel.Error {
	p4 := rootPageTableNode()

	p3, err := p4.NextTableCreate(page.P4(), allocator)
	if err != nil {
		return err
	}
	p2, err := p3.NextTableCreate(page.P3(), allocator)
	if err != nil {
		return err
	}
	p1, err := p2.NextTableCreate(page.P2(), allocator)
	if err != nil {
		return err
	}

	entry := p1.Entry(page.P1())
	if entry.HasFlags(FlagPresent) {
		return ErrDoubleMap
	}

	*entry = 0
	entry.SetFrame(frame)
	entry.SetFlags(FlagPresent | flags)

	return nil
}

// Map allocates a fresh frame from allocator and maps page to it.
func (m Mapper) Map(page mem.VirtualPage, flags PageTableEntryFlag, allocator FrameAllocator) *kernel.Error {
	frame, err := allocator.Allocate()
	if err != nil {
		return err
	}
	return m.MapTo(page, frame, flags, allocator)
}

// IdentityMap maps frame to the virtual page with the same numeric address,
// i.e. page.Address() == frame.Address().
func (m Mapper) IdentityMap(frame mem.PhysicalFrame, flags PageTableEntryFlag, allocator FrameAllocator) *kernel.Error {
	page, err := mem.PageFromAddress(frame.Address())
	if err != nil {
		return ErrInvalidMapping
	}
	return m.MapTo(page, frame, flags, allocator)
}

// Unmap removes the mapping for page, flushes the TLB entry for it and
// returns the freed frame to allocator. It returns ErrUnmapMissing if page
// is not mapped, or ErrHugePageUnsupported if an intermediate entry along
// the walk is a huge page leaf.
func (Mapper) Unmap(page mem.VirtualPage, allocator FrameAllocator) *kernel.Error {
	p4 := rootPageTableNode()

	p3, ok := p4.NextTable(page.P4())
	if !ok {
		if p4.Entry(page.P4()).HasAnyFlag(FlagHugePage) {
			return ErrHugePageUnsupported
		}
		return ErrUnmapMissing
	}

	p2, ok := p3.NextTable(page.P3())
	if !ok {
		if p3.Entry(page.P3()).HasAnyFlag(FlagHugePage) {
			return ErrHugePageUnsupported
		}
		return ErrUnmapMissing
	}

	p1, ok := p2.NextTable(page.P2())
	if !ok {
		if p2.Entry(page.P2()).HasAnyFlag(FlagHugePage) {
			return ErrHugePageUnsupported
		}
		return ErrUnmapMissing
	}

	entry := p1.Entry(page.P1())
	if !entry.HasFlags(FlagPresent) {
		return ErrUnmapMissing
	}

	frame := entry.Frame()
	*entry = 0
	flushTLBEntryFn(page.Address())
	allocator.Deallocate(frame)

	return nil
}
