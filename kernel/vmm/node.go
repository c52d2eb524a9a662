package vmm

import (
	"nanokernel/kernel"
	"nanokernel/kernel/mem"
)

// PageTableNode is the virtual address of a single page table (P4, P3, P2
// or P1) reached through the recursive self-mapping. Its zero value is not
// meaningful; use rootPageTableNode or NextTable/NextTableCreate to obtain
// one.
type PageTableNode uintptr

// rootPageTableNode returns the node for the currently active top-level
// (P4) table.
func rootPageTableNode() PageTableNode {
	return PageTableNode(pdtVirtualAddr)
}

// Address returns the virtual address of the start of this table.
func (n PageTableNode) Address() uintptr {
	return uintptr(n)
}

// entryAddr returns the virtual address of the i-th entry of this table.
func (n PageTableNode) entryAddr(i uint16) uintptr {
	return uintptr(n) + uintptr(i)<<mem.PointerShift
}

// Entry returns a pointer to the i-th entry of this table.
func (n PageTableNode) Entry(i uint16) *pageTableEntry {
	return (*pageTableEntry)(entryPtrFn(n.entryAddr(i)))
}

// child returns the node for the table reached by following the i-th entry
// of this table, as derived purely from recursive-mapping address
// arithmetic (it does not check whether that entry is actually present).
func (n PageTableNode) child(i uint16) PageTableNode {
	return PageTableNode(n.entryAddr(i) << entryIndexBits)
}

// NextTable returns the node for the table reached by following the i-th
// entry of this table. It returns ok == false if the entry is not present
// or if it is a huge page leaf (and therefore has no child table at all).
func (n PageTableNode) NextTable(i uint16) (PageTableNode, bool) {
	entry := n.Entry(i)
	if !entry.HasFlags(FlagPresent) || entry.HasAnyFlag(FlagHugePage) {
		return 0, false
	}
	return n.child(i), true
}

// NextTableCreate behaves like NextTable but, if the i-th entry is not
// present, allocates and zeroes a fresh frame and installs it as a
// writable, present entry before returning the new child node. It returns
// ErrHugePageUnsupported if the entry is present but is a huge page leaf.
func (n PageTableNode) NextTableCreate(i uint16, allocator FrameAllocator) (PageTableNode, *kernel.Error) {
	entry := n.Entry(i)
	if entry.HasFlags(FlagPresent) {
		if entry.HasAnyFlag(FlagHugePage) {
			return 0, ErrHugePageUnsupported
		}
		return n.child(i), nil
	}

	frame, err := allocator.Allocate()
	if err != nil {
		return 0, err
	}

	next := n.child(i)
	entry.SetFrame(frame)
	entry.SetFlags(FlagPresent | FlagRW)

	mem.Memset(nextAddrFn(next.Address()), 0, mem.PageSize)

	return next, nil
}
