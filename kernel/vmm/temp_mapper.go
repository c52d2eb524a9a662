package vmm

import (
	"nanokernel/kernel"
	"nanokernel/kernel/mem"
)

// tinyReserveSize is the number of frames TemporaryMapper draws from its
// backing allocator at construction time. tempMappingAddr is a single fixed
// virtual page, so walking down to it touches at most 3 intermediate
// tables (P3, P2, P1); the reserve exists so that this walk never needs to
// call back into a general allocator while the kernel is mid-way through an
// unrelated page-table edit (in particular, while it is the very allocator
// an AddressSpaceSwitcher cycle is using to map the address space it is
// about to leave).
const tinyReserveSize = 3

var tempPage = mem.VirtualPage(tempMappingAddr >> mem.PageShift)

// discardAllocator is passed in place of a real FrameAllocator wherever a
// walk is known to only ever deallocate, never allocate: Deallocate is a
// no-op, and Allocate panics if ever invoked, since that would indicate the
// walk unexpectedly needed a new table.
type discardAllocator struct{}

func (discardAllocator) Allocate() (mem.PhysicalFrame, *kernel.Error) {
	kernel.Panic(&kernel.Error{Module: "vmm", Message: "discardAllocator.Allocate unexpectedly invoked"})
	return mem.InvalidFrame, nil
}

func (discardAllocator) Deallocate(mem.PhysicalFrame) {}

// TemporaryMapper maps a single physical frame at a time into a fixed
// virtual address slot (tempMappingAddr), used whenever code running in the
// currently active address space needs to reach into the content of a
// frame that is not otherwise mapped anywhere (another address space's
// top-level table, a freshly allocated table being initialized before it is
// linked in, ...).
type TemporaryMapper struct {
	mapper  Mapper
	reserve [tinyReserveSize]mem.PhysicalFrame
	used    int
}

// NewTemporaryMapper draws tinyReserveSize frames from allocator once, up
// front, to back the intermediate page tables tempMappingAddr's walk may
// need to create. It never calls back into allocator again.
func NewTemporaryMapper(allocator FrameAllocator) (*TemporaryMapper, *kernel.Error) {
	t := &TemporaryMapper{}
	for i := 0; i < tinyReserveSize; i++ {
		frame, err := allocator.Allocate()
		if err != nil {
			return nil, err
		}
		t.reserve[i] = frame
		t.used++
	}
	return t, nil
}

// Allocate implements FrameAllocator by popping a frame off the reserve.
func (t *TemporaryMapper) Allocate() (mem.PhysicalFrame, *kernel.Error) {
	if t.used == 0 {
		kernel.Panic(ErrTinyReserveOverflow)
	}
	t.used--
	return t.reserve[t.used], nil
}

// Deallocate implements FrameAllocator by pushing a frame back onto the
// reserve.
func (t *TemporaryMapper) Deallocate(f mem.PhysicalFrame) {
	if t.used == tinyReserveSize {
		kernel.Panic(ErrTinyReserveOverflow)
	}
	t.reserve[t.used] = f
	t.used++
}

// Map installs frame at tempMappingAddr and returns the node for the table
// that now starts there (i.e. treating frame's own content as a page
// table, which is how AddressSpaceSwitcher and KernelRemapper use it).
// Intermediate P3/P2/P1 tables, if not already present from an earlier
// cycle, are drawn from the reserve.
func (t *TemporaryMapper) Map(frame mem.PhysicalFrame) (PageTableNode, *kernel.Error) {
	if err := t.mapper.MapTo(tempPage, frame, FlagRW, t); err != nil {
		return 0, err
	}
	return PageTableNode(tempMappingAddr), nil
}

// Unmap removes the tempMappingAddr mapping installed by Map. It uses a
// discardAllocator rather than t itself: Mapper.Unmap's final step returns
// the page's own (externally owned) frame to its allocator, and that frame
// must never be folded into this mapper's private reserve.
func (t *TemporaryMapper) Unmap() *kernel.Error {
	return t.mapper.Unmap(tempPage, discardAllocator{})
}
