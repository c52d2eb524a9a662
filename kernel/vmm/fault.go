package vmm

import (
	"nanokernel/kernel"
	"nanokernel/kernel/cpu"
	"nanokernel/kernel/gate"
	"nanokernel/kernel/kfmt"
)

var (
	// panicFn is a seam over kernel.Panic.
	panicFn = kernel.Panic

	// readCR2Fn is a seam over cpu.ReadCR2.
	readCR2Fn = cpu.ReadCR2

	errPageFault              = &kernel.Error{Module: "vmm", Message: "unrecoverable page fault"}
	errGeneralProtectionFault = &kernel.Error{Module: "vmm", Message: "general protection fault"}
)

// Init installs the page fault and general-protection-fault handlers. The
// memory core never attempts to recover from either: every fault this
// package cannot rule out ahead of time (via Translate, via MapTo's
// double-map check, ...) is treated as fatal.
func Init() *kernel.Error {
	gate.HandleInterrupt(gate.PageFaultException, 0, pageFaultHandler)
	gate.HandleInterrupt(gate.GPFException, 0, generalProtectionFaultHandler)
	return nil
}

// pageFaultReason decodes the error code pushed by the CPU for a page fault
// into a human-readable description.
func pageFaultReason(errorCode uint64) string {
	switch errorCode {
	case 0:
		return "read from a non-present page"
	case 1:
		return "page protection violation (read)"
	case 2:
		return "write to a non-present page"
	case 3:
		return "page protection violation (write)"
	case 4:
		return "page fault in user mode"
	case 8:
		return "use of reserved bit detected"
	case 16:
		return "instruction fetch"
	default:
		return "unknown"
	}
}

// pageFaultHandler is installed for gate.PageFaultException. Info carries
// the error code the CPU pushed onto the stack.
func pageFaultHandler(regs *gate.Registers) {
	addr := readCR2Fn()
	kfmt.Printf("\npage fault while accessing address 0x%x: %s\n", addr, pageFaultReason(regs.Info))
	regs.DumpTo(kfmt.Sink{})
	panicFn(errPageFault)
}

// generalProtectionFaultHandler is installed for gate.GPFException.
func generalProtectionFaultHandler(regs *gate.Registers) {
	kfmt.Printf("\ngeneral protection fault (selector index: %d)\n", regs.Info)
	regs.DumpTo(kfmt.Sink{})
	panicFn(errGeneralProtectionFault)
}
