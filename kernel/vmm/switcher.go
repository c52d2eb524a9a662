package vmm

import (
	"nanokernel/kernel"
	"nanokernel/kernel/cpu"
	"nanokernel/kernel/mem"
)

var (
	// flushTLBAllFn reloads CR3, invalidating every TLB entry. It is used
	// instead of flushTLBEntryFn whenever the active table's recursive slot
	// itself is rewritten: a single INVLPG cannot invalidate entries cached
	// for tables reached only through that slot.
	flushTLBAllFn = cpu.FlushTLBAll

	// activePDTFn returns the physical address currently loaded in CR3.
	activePDTFn = cpu.ActivePDT
)

// AddressSpaceSwitcher runs a function with a different address space
// temporarily made active, by repointing the active top-level table's own
// recursive slot at targetFrame instead of at itself.
type AddressSpaceSwitcher struct{}

// With repoints the recursive slot of the active top-level table at
// targetFrame for the duration of f, then restores it. temp is used to
// reach the active table's own physical content through a stable window:
// once the recursive slot has been repointed, the recursive mapping
// (pdtVirtualAddr) no longer resolves to the active table's own content but
// to targetFrame's, so the backup/restore of the active table's entry must
// go through a mapping that does not depend on the recursive slot's current
// target.
func (AddressSpaceSwitcher) With(targetFrame mem.PhysicalFrame, temp *TemporaryMapper, f func(Mapper)) *kernel.Error {
	activeFrame := mem.FrameFromAddress(activePDTFn())

	backupNode, err := temp.Map(activeFrame)
	if err != nil {
		return err
	}
	savedEntry := *backupNode.Entry(recursiveSlot)

	root := rootPageTableNode()
	liveEntry := root.Entry(recursiveSlot)
	*liveEntry = 0
	liveEntry.SetFrame(targetFrame)
	liveEntry.SetFlags(FlagPresent | FlagRW)
	flushTLBAllFn()

	f(Mapper{})

	*backupNode.Entry(recursiveSlot) = savedEntry
	flushTLBAllFn()

	return temp.Unmap()
}
