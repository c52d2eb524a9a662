// Package pfn implements the bootstrap physical frame allocator: the single
// piece of the memory core that hands out 4 KiB physical frames before any
// general-purpose allocator exists. It walks the memory map handed to the
// kernel by the Multiboot2 loader and excludes the ranges the kernel itself
// (and the loader's own info block) already occupy.
package pfn

import (
	"nanokernel/kernel"
	"nanokernel/kernel/kfmt"
	"nanokernel/kernel/mem"
	"nanokernel/multiboot"
)

var (
	errOutOfMemory    = &kernel.Error{Module: "pfn", Message: "out of physical memory"}
	errNotInitialized = &kernel.Error{Module: "pfn", Message: "Allocate called before Init"}
)

// area describes the frame range covered by a single usable memory region
// reported by the loader, after rounding to whole frames.
type area struct {
	startFrame, endFrame mem.PhysicalFrame
	valid                bool
}

// FrameProvider hands out unused physical frames by walking the memory map
// the Multiboot2 loader reported, skipping the frames occupied by the
// running kernel image and by the loader's own info block.
//
// FrameProvider is not thread-safe. It is only ever used during
// single-threaded boot initialization, before any other CPU or task could
// be contending for frames.
type FrameProvider struct {
	initialized bool

	// nextFree is the cursor: the next candidate frame to hand out.
	nextFree mem.PhysicalFrame

	// currentArea is the memory area the cursor currently belongs to.
	// It is re-selected whenever the cursor walks off the end of one.
	currentArea area

	kernelStart, kernelEnd mem.PhysicalFrame
	loaderStart, loaderEnd mem.PhysicalFrame
}

// Init prepares the provider to allocate frames outside of
// [kernelStartAddr, kernelEndAddr) and [loaderInfoStartAddr,
// loaderInfoEndAddr): both end addresses are exclusive, one byte past the
// last byte of the respective region (matching how the ELF loader and the
// Multiboot info block report their own extents). The kernel/loader
// footprint is rounded outward to whole frames so it is never
// under-excluded by a rounding error.
func (p *FrameProvider) Init(kernelStartAddr, kernelEndAddr, loaderInfoStartAddr, loaderInfoEndAddr uintptr) {
	p.kernelStart = mem.FrameFromAddress(kernelStartAddr)
	p.kernelEnd = lastFrameOf(kernelStartAddr, kernelEndAddr)
	p.loaderStart = mem.FrameFromAddress(loaderInfoStartAddr)
	p.loaderEnd = lastFrameOf(loaderInfoStartAddr, loaderInfoEndAddr)
	// An empty range excludes no frame: store it with start > end so that
	// collidesWithForbidden never matches it.
	if kernelEndAddr <= kernelStartAddr {
		p.kernelStart, p.kernelEnd = 1, 0
	}
	if loaderInfoEndAddr <= loaderInfoStartAddr {
		p.loaderStart, p.loaderEnd = 1, 0
	}
	p.nextFree = 0
	p.currentArea = area{}
	p.initialized = true

	p.logMemoryMap()
}

// lastFrameOf returns the frame containing the last byte of the exclusive
// range [startAddr, endAddr), or startAddr's own frame if the range is
// empty (startAddr == endAddr).
func lastFrameOf(startAddr, endAddr uintptr) mem.PhysicalFrame {
	if endAddr <= startAddr {
		return mem.FrameFromAddress(startAddr)
	}
	return mem.FrameFromAddress(endAddr - 1)
}

// Allocate reserves and returns the next available physical frame. It
// returns a non-nil *kernel.Error (errOutOfMemory) once the loader-reported
// usable memory has been exhausted.
func (p *FrameProvider) Allocate() (mem.PhysicalFrame, *kernel.Error) {
	if !p.initialized {
		kernel.Panic(errNotInitialized)
	}

	// The loop below makes forward progress on every iteration (the
	// cursor either advances past every forbidden range it currently sits
	// in or a new area is selected), and there are only finitely many
	// areas and forbidden ranges, so it always terminates.
	for {
		if !p.currentArea.valid {
			next, ok := p.selectArea(p.nextFree)
			if !ok {
				return mem.InvalidFrame, errOutOfMemory
			}
			p.currentArea = next
			if p.nextFree < p.currentArea.startFrame {
				p.nextFree = p.currentArea.startFrame
			}
		}

		for {
			collisionEnd, collides := p.collidesWithForbidden(p.nextFree)
			if !collides {
				break
			}
			p.nextFree = collisionEnd + 1
		}

		if p.nextFree > p.currentArea.endFrame {
			p.currentArea = area{}
			continue
		}

		frame := p.nextFree
		p.nextFree = frame.Next()
		return frame, nil
	}
}

// Deallocate releases a previously allocated frame. The bootstrap allocator
// never reclaims memory: frame/table reclamation is out of scope for this
// provider, so Deallocate is a diagnostic no-op.
func (p *FrameProvider) Deallocate(f mem.PhysicalFrame) {
	kfmt.Printf("[pfn] warning: deallocate of frame %d ignored; bootstrap allocator never reclaims\n", uint64(f))
}

// collidesWithForbidden reports whether frame falls inside the kernel image
// or loader info block ranges, and if so returns the end of whichever
// range it fell into so the caller can fast-forward past it.
func (p *FrameProvider) collidesWithForbidden(frame mem.PhysicalFrame) (mem.PhysicalFrame, bool) {
	if frame >= p.kernelStart && frame <= p.kernelEnd {
		return p.kernelEnd, true
	}
	if frame >= p.loaderStart && frame <= p.loaderEnd {
		return p.loaderEnd, true
	}
	return 0, false
}

// selectArea scans the loader-reported memory map and returns the usable
// area with the smallest start frame among those whose end frame is >=
// cursor. It returns ok == false if no such area exists.
func (p *FrameProvider) selectArea(cursor mem.PhysicalFrame) (area, bool) {
	var (
		best    area
		foundIt bool
	)

	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		if region.Type != multiboot.MemAvailable {
			return true
		}

		pageSizeMinus1 := uint64(mem.PageSize - 1)
		startFrame := mem.FrameFromAddress(uintptr((region.PhysAddress + pageSizeMinus1) &^ pageSizeMinus1))
		endAddr := region.PhysAddress + region.Length
		if endAddr < uint64(mem.PageSize) {
			return true
		}
		endFrame := mem.FrameFromAddress(uintptr(endAddr&^pageSizeMinus1)) - 1

		if endFrame < startFrame || endFrame < cursor {
			return true
		}

		if !foundIt || startFrame < best.startFrame {
			best = area{startFrame: startFrame, endFrame: endFrame, valid: true}
			foundIt = true
		}
		return true
	})

	return best, foundIt
}

// logMemoryMap prints the loader-reported memory map and the kernel/loader
// exclusion ranges so a developer reading the boot log can cross-check the
// frames the allocator will and won't hand out.
func (p *FrameProvider) logMemoryMap() {
	kfmt.Printf("[pfn] system memory map:\n")
	var totalFree mem.Size
	multiboot.VisitMemRegions(func(region *multiboot.MemoryMapEntry) bool {
		kfmt.Printf("\t[0x%x - 0x%x] size: %d type: %d\n", region.PhysAddress, region.PhysAddress+region.Length, region.Length, uint32(region.Type))
		if region.Type == multiboot.MemAvailable {
			totalFree += mem.Size(region.Length)
		}
		return true
	})
	kfmt.Printf("[pfn] free memory: %dKb\n", uint64(totalFree/mem.Kb))
	kfmt.Printf("[pfn] excluding kernel frames [%d - %d] and loader info frames [%d - %d]\n",
		uint64(p.kernelStart), uint64(p.kernelEnd), uint64(p.loaderStart), uint64(p.loaderEnd))
}
