// Package vmm implements the virtual memory core: walking and editing the
// x86-64 4-level page table hierarchy through the recursive self-mapping
// installed by the bootstrap code, translating virtual addresses, switching
// between address spaces and remapping the kernel image with per-section
// permissions.
package vmm

import (
	"math"
	"unsafe"

	"nanokernel/kernel/mem"
)

const (
	// pageLevels is the number of levels in the x86-64 page table hierarchy
	// (P4, P3, P2, P1).
	pageLevels = 4

	// entryIndexBits is the number of bits used to index a single level of
	// the hierarchy (512 entries per table).
	entryIndexBits = 9

	// recursiveSlot is the P4 entry index that is set up (by the bootstrap
	// assembly, before any Go code runs) to point back at P4 itself. Every
	// other table in the hierarchy is reached by walking through this
	// self-reference.
	recursiveSlot = (1 << entryIndexBits) - 1

	// ptePhysPageMask isolates the physical frame address bits of a raw
	// page-table entry, excluding both the low flag bits and the high
	// NO_EXECUTE/reserved bits.
	ptePhysPageMask = uintptr(0x000ffffffffff000)

	// pdtVirtualAddr is the virtual address that, via the recursive
	// self-mapping, always resolves to the currently active top-level page
	// table regardless of which physical frame backs it. It is formed by
	// indexing all four levels with recursiveSlot.
	pdtVirtualAddr = uintptr(math.MaxUint64) &^ uintptr(mem.PageSize-1)

	// tempMappingAddr is the single fixed virtual page reserved for
	// TemporaryMapper. Its page-table indices are [510, 511, 511, 511]:
	// one level short of the recursive trampoline, so it always resolves
	// through a dedicated, otherwise-unused P4 slot.
	tempMappingAddr = uintptr(0xffffff7ffffff000)
)

// PageTableEntryFlag is an OR-able flag stored in the low/high bits of a
// page-table entry.
type PageTableEntryFlag uintptr

// nolint
const (
	FlagPresent PageTableEntryFlag = 1 << iota
	FlagRW
	FlagUserAccessible
	FlagWriteThrough
	FlagNoCache
	FlagAccessed
	FlagDirty
	FlagHugePage
	FlagGlobal
)

// FlagNoExecute marks the mapping as non-executable. It occupies the top
// bit of the entry and is only honored by the CPU once cpu.EnableNXE has
// run; until then the bit is reserved and setting it triggers a
// general-protection fault.
const FlagNoExecute PageTableEntryFlag = 1 << 63

// pageTableEntry is a single raw 8-byte slot inside a page table.
type pageTableEntry uintptr

// HasFlags returns true if all bits of flags are set on this entry.
func (e pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return uintptr(e)&uintptr(flags) == uintptr(flags)
}

// HasAnyFlag returns true if at least one bit of flags is set on this
// entry.
func (e pageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return uintptr(e)&uintptr(flags) != 0
}

// SetFlags ORs flags into this entry.
func (e *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*e |= pageTableEntry(flags)
}

// ClearFlags clears flags from this entry.
func (e *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*e &^= pageTableEntry(flags)
}

// Frame returns the physical frame this entry points to.
func (e pageTableEntry) Frame() mem.PhysicalFrame {
	return mem.FrameFromAddress(uintptr(e) & ptePhysPageMask)
}

// SetFrame updates the physical frame this entry points to, leaving its
// flags untouched.
func (e *pageTableEntry) SetFrame(frame mem.PhysicalFrame) {
	*e = (*e &^ pageTableEntry(ptePhysPageMask)) | pageTableEntry(frame.Address()&ptePhysPageMask)
}

// entryPtrFn resolves the virtual address of a page-table entry to a
// pointer to it. It is a seam: tests override it to return pointers into
// local, fixed-size arrays rather than exercising the real recursive
// mapping, which requires actual paging hardware.
var entryPtrFn = func(entryAddr uintptr) unsafe.Pointer {
	return unsafe.Pointer(entryAddr)
}

// nextAddrFn is a seam around the address a freshly created table must be
// zeroed at. In production it is the identity function: the table's virtual
// address, reached through the recursive mapping, is itself writable
// memory. Tests override it to redirect the (otherwise fabricated) address
// arithmetic to a real backing array.
var nextAddrFn = func(tableAddr uintptr) uintptr {
	return tableAddr
}
