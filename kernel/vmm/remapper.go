package vmm

import (
	"nanokernel/kernel"
	"nanokernel/kernel/cpu"
	"nanokernel/kernel/mem"
	"nanokernel/multiboot"
)

var (
	// visitElfSectionsFn is a seam over multiboot.VisitElfSections.
	visitElfSectionsFn = multiboot.VisitElfSections

	// switchPDTFn loads a new top-level table into CR3.
	switchPDTFn = cpu.SwitchPDT

	// switcherWithFn is a seam over AddressSpaceSwitcher.With, letting
	// tests exercise Remap's section/flag bookkeeping without a working
	// recursive mapping: the mocked version just invokes f directly
	// against the already-active table.
	switcherWithFn = func(targetFrame mem.PhysicalFrame, temp *TemporaryMapper, f func(Mapper)) *kernel.Error {
		var switcher AddressSpaceSwitcher
		return switcher.With(targetFrame, temp, f)
	}

	// identityMapFn is a seam over Mapper.IdentityMap.
	identityMapFn = func(m Mapper, frame mem.PhysicalFrame, flags PageTableEntryFlag, allocator FrameAllocator) *kernel.Error {
		return m.IdentityMap(frame, flags, allocator)
	}

	// translateFn is a seam over Mapper.Translate.
	translateFn = func(m Mapper, virtAddr uintptr) (uintptr, *kernel.Error) {
		return m.Translate(virtAddr)
	}

	// unmapFn is a seam over Mapper.Unmap.
	unmapFn = func(m Mapper, page mem.VirtualPage, allocator FrameAllocator) *kernel.Error {
		return m.Unmap(page, allocator)
	}
)

// vgaFramebufferFrame is the physical frame backing the VGA text-mode
// framebuffer, identity-mapped so console output keeps working once the
// remapped address space is active.
const vgaFramebufferFrame = mem.PhysicalFrame(0xb8000 >> mem.PageShift)

// KernelRemapper replaces the loader-provided identity map (which grants
// the entire kernel image uniform RWX permissions) with one built entry by
// entry from the ELF section headers the loader reported, so that, for
// instance, .text is executable but not writable and .rodata is neither
// writable nor executable.
type KernelRemapper struct{}

// Remap builds a fresh top-level table, identity-maps the kernel's ELF
// sections (with permissions derived from each section's own flags), the
// VGA framebuffer and the multiboot info block into it, then switches the
// CPU to it. It returns the frame that backed the table that was active
// before the switch, so the caller can decide what to do with it (this
// implementation unmaps its identity-mapped page, turning it into a guard
// page, whenever the new table happens to still cover it).
func (KernelRemapper) Remap(allocator FrameAllocator) (mem.PhysicalFrame, *kernel.Error) {
	oldFrame := mem.FrameFromAddress(activePDTFn())

	temp, err := NewTemporaryMapper(allocator)
	if err != nil {
		return mem.InvalidFrame, err
	}

	newFrame, err := allocator.Allocate()
	if err != nil {
		return mem.InvalidFrame, err
	}

	node, err := temp.Map(newFrame)
	if err != nil {
		return mem.InvalidFrame, err
	}
	mem.Memset(nextAddrFn(node.Address()), 0, mem.PageSize)
	lastEntry := node.Entry(recursiveSlot)
	lastEntry.SetFrame(newFrame)
	lastEntry.SetFlags(FlagPresent | FlagRW)
	if err := temp.Unmap(); err != nil {
		return mem.InvalidFrame, err
	}

	var mapErr *kernel.Error
	err = switcherWithFn(newFrame, temp, func(m Mapper) {
		visitElfSectionsFn(func(_ string, secFlags multiboot.ElfSectionFlag, secAddress uintptr, secSize uint64) {
			if mapErr != nil || secFlags&multiboot.ElfSectionAllocated == 0 || secSize == 0 {
				return
			}
			if secAddress&uintptr(mem.PageSize-1) != 0 {
				kernel.Panic(ErrMisalignedSection)
			}

			var flags PageTableEntryFlag
			if secFlags&multiboot.ElfSectionWritable != 0 {
				flags |= FlagRW
			}
			if secFlags&multiboot.ElfSectionExecutable == 0 {
				flags |= FlagNoExecute
			}

			startFrame := mem.FrameFromAddress(secAddress)
			endFrame := mem.FrameFromAddress(secAddress + uintptr(secSize-1))
			for f := startFrame; ; f = f.Next() {
				if mapErr = identityMapFn(m, f, flags, allocator); mapErr != nil {
					return
				}
				if f == endFrame {
					break
				}
			}
		})
		if mapErr != nil {
			return
		}

		if mapErr = identityMapFn(m, vgaFramebufferFrame, FlagRW, allocator); mapErr != nil {
			return
		}

		infoStart := mem.FrameFromAddress(multiboot.InfoPtr())
		infoEnd := mem.FrameFromAddress(multiboot.InfoPtr() + uintptr(multiboot.InfoSize()-1))
		for f := infoStart; ; f = f.Next() {
			if mapErr = identityMapFn(m, f, 0, allocator); mapErr != nil {
				return
			}
			if f == infoEnd {
				break
			}
		}
	})
	if err != nil {
		return mem.InvalidFrame, err
	}
	if mapErr != nil {
		return mem.InvalidFrame, mapErr
	}

	switchPDTFn(newFrame.Address())

	// The loader's original top-level table frame is almost never covered
	// by the freshly built identity map (which only spans ELF sections,
	// the VGA framebuffer and the multiboot info block, not a general
	// low-memory range), so it is already absent from the new table and
	// therefore already behaves as an implicit guard page. Only unmap it
	// when Translate shows it genuinely collided with something the new
	// map installed.
	var m Mapper
	if oldPage, perr := mem.PageFromAddress(oldFrame.Address()); perr == nil {
		if _, terr := translateFn(m, oldFrame.Address()); terr == nil {
			if uerr := unmapFn(m, oldPage, allocator); uerr != nil {
				return mem.InvalidFrame, uerr
			}
		}
	}

	return oldFrame, nil
}
