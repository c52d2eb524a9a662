package vmm

import (
	"bytes"
	"strings"
	"testing"

	"nanokernel/kernel/gate"
	"nanokernel/kernel/kfmt"
)

func TestPageFaultHandlerReportsReasonAndPanics(t *testing.T) {
	defer func(orig func() uint64) { readCR2Fn = orig }(readCR2Fn)
	readCR2Fn = func() uint64 { return 0xdeadbeef }

	defer func(orig func(interface{})) { panicFn = orig }(panicFn)
	var panickedWith interface{}
	panicFn = func(e interface{}) { panickedWith = e }

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	defer kfmt.SetOutputSink(nil)

	pageFaultHandler(&gate.Registers{Info: 3})

	if panickedWith != errPageFault {
		t.Fatalf("expected panicFn to be called with errPageFault; got %v", panickedWith)
	}
	if got := buf.String(); !strings.Contains(got, "0xdeadbeef") || !strings.Contains(got, "protection violation (write)") {
		t.Fatalf("expected fault address and reason in output; got %q", got)
	}
}

func TestPageFaultReasonCodes(t *testing.T) {
	specs := map[uint64]string{
		0:  "read from a non-present page",
		1:  "page protection violation (read)",
		2:  "write to a non-present page",
		3:  "page protection violation (write)",
		4:  "page fault in user mode",
		8:  "use of reserved bit detected",
		16: "instruction fetch",
		99: "unknown",
	}
	for code, want := range specs {
		if got := pageFaultReason(code); got != want {
			t.Errorf("code %d: expected %q; got %q", code, want, got)
		}
	}
}

func TestGeneralProtectionFaultHandlerPanics(t *testing.T) {
	defer func(orig func(interface{})) { panicFn = orig }(panicFn)
	var panickedWith interface{}
	panicFn = func(e interface{}) { panickedWith = e }

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)
	defer kfmt.SetOutputSink(nil)

	generalProtectionFaultHandler(&gate.Registers{Info: 7})

	if panickedWith != errGeneralProtectionFault {
		t.Fatalf("expected panicFn to be called with errGeneralProtectionFault; got %v", panickedWith)
	}
}
