package vmm

import (
	"nanokernel/kernel"
	"nanokernel/kernel/mem"
)

// FrameAllocator is satisfied by any component able to hand out and reclaim
// physical frames. pfn.FrameProvider implements it.
type FrameAllocator interface {
	Allocate() (mem.PhysicalFrame, *kernel.Error)
	Deallocate(mem.PhysicalFrame)
}

var (
	// ErrInvalidMapping is returned when a virtual address does not resolve
	// to a mapped frame.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "address not mapped"}

	// ErrDoubleMap is returned when Map/MapTo targets a page that is
	// already mapped.
	ErrDoubleMap = &kernel.Error{Module: "vmm", Message: "page already mapped"}

	// ErrUnmapMissing is returned when Unmap targets a page that is not
	// currently mapped.
	ErrUnmapMissing = &kernel.Error{Module: "vmm", Message: "page not mapped"}

	// ErrHugePageUnsupported is returned when a walk encounters a huge page
	// entry where an ordinary 4KiB mapping (or unmapping) was expected.
	ErrHugePageUnsupported = &kernel.Error{Module: "vmm", Message: "huge page entry does not support this operation"}

	// errMisalignedHugePage indicates a huge page entry whose frame is not
	// aligned to the huge page's own size; this can only happen if the
	// entry was corrupted or built incorrectly, so it is treated as a
	// panic rather than a recoverable error.
	errMisalignedHugePage = &kernel.Error{Module: "vmm", Message: "huge page frame is misaligned"}

	// ErrMisalignedSection is raised when the loader reports an allocated
	// ELF section that does not start on a page boundary.
	ErrMisalignedSection = &kernel.Error{Module: "vmm", Message: "ELF section is not page-aligned"}

	// ErrTinyReserveOverflow indicates a bug in TemporaryMapper's 3-frame
	// reserve bookkeeping: either more frames were returned to it than it
	// can hold, or it was asked for a frame it does not have.
	ErrTinyReserveOverflow = &kernel.Error{Module: "vmm", Message: "temporary mapper reserve exhausted"}
)
