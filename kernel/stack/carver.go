// Package stack carves guarded kernel stacks out of a dedicated, initially
// unmapped virtual address range.
package stack

import (
	"nanokernel/kernel"
	"nanokernel/kernel/mem"
	"nanokernel/kernel/vmm"
)

var (
	// ErrRangeExhausted is returned when a carve request cannot be
	// satisfied by the remaining pages in the carver's range.
	ErrRangeExhausted = &kernel.Error{Module: "stack", Message: "stack range exhausted"}

	mapFn = func(page mem.VirtualPage, flags vmm.PageTableEntryFlag, allocator vmm.FrameAllocator) *kernel.Error {
		var m vmm.Mapper
		return m.Map(page, flags, allocator)
	}
)

// Stack describes a carved kernel stack. Top is the first address past the
// last mapped page (the value a stack pointer register is initialized to);
// Bottom is the start address of the first mapped page.
type Stack struct {
	Top    uintptr
	Bottom uintptr
}

// Carver hands out guarded kernel stacks from a contiguous virtual range
// [start, end). Each request consumes one unmapped guard page followed by
// the requested number of writable pages, so a stack that overflows its
// bottom page always faults instead of corrupting whatever came before it
// in the range.
//
// Carver allocates downward from end, mirroring how the kernel's own early
// virtual-address-space reservations are carved from the top of its range.
type Carver struct {
	cursor uintptr
	start  uintptr
}

// NewCarver creates a Carver that carves stacks out of [start, end). Both
// addresses must be page-aligned; the range must not overlap anything else
// the kernel has mapped.
func NewCarver(start, end uintptr) *Carver {
	return &Carver{cursor: end, start: start}
}

// Carve maps the requested number of contiguous writable pages, returning
// the resulting Stack, and leaves one unmapped guard page immediately below
// it. It fails with ErrRangeExhausted if fewer than pages+1 pages remain in
// the carver's range.
func (c *Carver) Carve(pages uint64, allocator vmm.FrameAllocator) (Stack, *kernel.Error) {
	if pages == 0 {
		return Stack{}, ErrRangeExhausted
	}

	pageSize := uintptr(mem.PageSize)
	needed := (uintptr(pages) + 1) * pageSize
	if needed > c.cursor-c.start {
		return Stack{}, ErrRangeExhausted
	}

	top := c.cursor
	bottom := top - uintptr(pages)*pageSize

	for addr := bottom; addr < top; addr += pageSize {
		page, err := mem.PageFromAddress(addr)
		if err != nil {
			return Stack{}, err
		}
		if err := mapFn(page, vmm.FlagRW|vmm.FlagNoExecute, allocator); err != nil {
			return Stack{}, err
		}
	}

	c.cursor = bottom - pageSize // guard page: left unmapped
	return Stack{Top: top, Bottom: bottom}, nil
}
