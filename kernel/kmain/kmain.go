// Package kmain wires together every other package in the memory core into
// the kernel's boot sequence.
package kmain

import (
	"nanokernel/console"
	"nanokernel/kernel"
	"nanokernel/kernel/cpu"
	"nanokernel/kernel/gate"
	"nanokernel/kernel/heap"
	"nanokernel/kernel/kfmt"
	"nanokernel/kernel/mem"
	"nanokernel/kernel/pfn"
	"nanokernel/kernel/stack"
	"nanokernel/kernel/vmm"
	"nanokernel/multiboot"
)

const (
	// doubleFaultISTIndex is the 1-based Interrupt Stack Table slot
	// DoubleFault is configured to run on, so a kernel stack overflow that
	// triggers a double fault does not itself fault trying to push onto
	// the very stack that overflowed.
	doubleFaultISTIndex = 1

	// doubleFaultStackPages is the size, in pages, of the dedicated
	// double-fault stack carved out of the stack range.
	doubleFaultStackPages = 2
)

var errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

// Kmain is the only Go symbol visible to the rt0 initialization code. It is
// invoked after the loader has set up long mode, a provisional identity
// mapping covering at least the kernel image and the multiboot info block,
// and a provisional stack.
//
// The rt0 code passes the physical address of the multiboot info block and
// the physical start/end addresses of the loaded kernel image.
//
// Kmain is not expected to return. If it does, the rt0 code halts the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	term := console.NewVGAWriter()
	term.Clear()
	kfmt.SetOutputSink(term)
	kfmt.Printf("booting\n")

	var frames pfn.FrameProvider
	frames.Init(kernelStart, kernelEnd, multiboot.InfoPtr(), multiboot.InfoPtr()+uintptr(multiboot.InfoSize()))

	var remapper vmm.KernelRemapper
	if _, err := remapper.Remap(&frames); err != nil {
		kernel.Panic(err)
	}

	cpu.EnableNXE()
	cpu.EnableWriteProtect()

	var m vmm.Mapper
	for addr := mem.HeapRangeStart; addr < mem.HeapRangeEnd; addr += uintptr(mem.PageSize) {
		page, perr := mem.PageFromAddress(addr)
		if perr != nil {
			kernel.Panic(perr)
		}
		if err := m.Map(page, vmm.FlagRW|vmm.FlagNoExecute, &frames); err != nil {
			kernel.Panic(err)
		}
	}

	var arena heap.BumpArena
	arena.Init(mem.HeapRangeStart, mem.HeapRangeEnd)

	carver := stack.NewCarver(mem.StackRangeStart, mem.StackRangeEnd)

	if err := vmm.Init(); err != nil {
		kernel.Panic(err)
	}

	gate.Init()

	doubleFaultStack, err := carver.Carve(doubleFaultStackPages, &frames)
	if err != nil {
		kernel.Panic(err)
	}
	gate.SetInterruptStack(doubleFaultISTIndex, doubleFaultStack.Top)
	gate.HandleInterrupt(gate.DoubleFault, doubleFaultISTIndex, doubleFaultHandler)

	kfmt.Printf("boot complete\n")

	// Use kernel.Panic instead of panic to prevent the compiler from
	// treating kernel.Panic as dead-code and eliminating it.
	kernel.Panic(errKmainReturned)
}

// doubleFaultHandler runs on its own IST-backed stack, so it can log and
// halt even when the fault was caused by a kernel stack overflow.
func doubleFaultHandler(regs *gate.Registers) {
	kfmt.Printf("\ndouble fault\n")
	regs.DumpTo(&kfmt.PrefixWriter{Sink: kfmt.Sink{}, Prefix: []byte("  ")})
	kernel.Panic(&kernel.Error{Module: "kmain", Message: "double fault"})
}
