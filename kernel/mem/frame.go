package mem

import "math"

// PhysicalFrame describes a physical memory page index: the frame numbered n
// covers physical bytes [n*PageSize, (n+1)*PageSize).
type PhysicalFrame uint64

// InvalidFrame is returned by frame allocators when they fail to reserve a
// frame.
const InvalidFrame = PhysicalFrame(math.MaxUint64)

// IsValid returns true if this is not the InvalidFrame sentinel.
func (f PhysicalFrame) IsValid() bool {
	return f != InvalidFrame
}

// Address returns the physical address of the first byte covered by this
// frame.
func (f PhysicalFrame) Address() uintptr {
	return uintptr(f) << PageShift
}

// Next returns the frame immediately following this one.
func (f PhysicalFrame) Next() PhysicalFrame {
	return f + 1
}

// FrameFromAddress returns the PhysicalFrame that covers the given physical
// address. Addresses that are not page-aligned are rounded down to the
// frame that contains them.
func FrameFromAddress(physAddr uintptr) PhysicalFrame {
	return PhysicalFrame(physAddr >> PageShift)
}
