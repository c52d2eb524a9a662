package mem

import "nanokernel/kernel"

// canonicalHoleLow and canonicalHoleHigh bound the non-canonical region of
// x86-64 virtual address space. A canonical address either lies strictly
// below canonicalHoleLow or at/above canonicalHoleHigh; anything in between
// has mismatched bits 63..47 and triggers a general-protection fault if
// ever loaded into a register used for addressing.
const (
	canonicalHoleLow  = uintptr(0x0000800000000000)
	canonicalHoleHigh = uintptr(0xffff800000000000)
)

// pageLevelShift holds the bit offset of the P4/P3/P2/P1 index field inside
// a virtual address, ordered outermost (P4) to innermost (P1).
var pageLevelShift = [4]uint{39, 30, 21, 12}

const pageLevelMask = 0x1ff

// errInvalidAddress is returned (as a panic argument) when VirtualPage
// construction is given a non-canonical address.
var errInvalidAddress = &kernel.Error{Module: "mem", Message: "address is not in canonical form"}

// VirtualPage describes a virtual memory page index. Unlike PhysicalFrame,
// constructing a VirtualPage can fail: the x86-64 architecture requires
// that bits 63..47 of every virtual address are all equal, and this
// invariant is enforced at construction rather than left for the MMU to
// discover via a fault.
type VirtualPage uintptr

// PageFromAddress returns the VirtualPage that covers the given virtual
// address. The address is rounded down to the containing page if it is not
// already page-aligned. It returns errInvalidAddress if addr is not in
// canonical form.
func PageFromAddress(addr uintptr) (VirtualPage, *kernel.Error) {
	if !isCanonical(addr) {
		return 0, errInvalidAddress
	}

	return VirtualPage(addr &^ uintptr(PageSize-1) >> PageShift), nil
}

// isCanonical reports whether addr satisfies the x86-64 canonical address
// form: either strictly below canonicalHoleLow or at/above
// canonicalHoleHigh.
func isCanonical(addr uintptr) bool {
	return addr < canonicalHoleLow || addr >= canonicalHoleHigh
}

// Address returns the virtual address of the first byte covered by this
// page.
func (p VirtualPage) Address() uintptr {
	return uintptr(p) << PageShift
}

// index returns the 9-bit page-table index for the given level (0 == P4,
// 3 == P1) by re-deriving it from this page's address.
func (p VirtualPage) index(level int) uint16 {
	return uint16((p.Address() >> pageLevelShift[level]) & pageLevelMask)
}

// P4 returns the top-level (L4) page-table index for this page.
func (p VirtualPage) P4() uint16 { return p.index(0) }

// P3 returns the L3 page-table index for this page.
func (p VirtualPage) P3() uint16 { return p.index(1) }

// P2 returns the L2 page-table index for this page.
func (p VirtualPage) P2() uint16 { return p.index(2) }

// P1 returns the L1 page-table index for this page.
func (p VirtualPage) P1() uint16 { return p.index(3) }
