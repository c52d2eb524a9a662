package kernel

import (
	"nanokernel/kernel/cpu"
	"nanokernel/kernel/kfmt"
)

var (
	// cpuHaltFn is swapped out by tests so Panic doesn't actually try to
	// execute a privileged HLT instruction under `go test`.
	cpuHaltFn = cpu.Halt

	errRuntimePanic = &Error{Module: "rt", Message: "unknown cause"}
)

// Panic outputs the supplied error (if not nil) to the logging sink and
// halts the CPU. Calls to Panic never return. Every fatal condition
// enumerated by the memory core (out-of-memory, a broken invariant, an
// unsupported page-table shape, ...) funnels through here: there is no
// recovery path for a failure in the memory subsystem.
func Panic(e interface{}) {
	var err *Error

	switch t := e.(type) {
	case *Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	case nil:
		// nothing to report
	default:
		err = errRuntimePanic
	}

	kfmt.Printf("\n-----------------------------------\n")
	if err != nil {
		kfmt.Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	kfmt.Printf("*** kernel panic: system halted ***")
	kfmt.Printf("\n-----------------------------------\n")

	cpuHaltFn()
}
