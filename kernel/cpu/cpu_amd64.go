package cpu

var (
	cpuidFn = ID
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt stops instruction execution.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// FlushTLBAll flushes every TLB entry by reloading CR3 with its current
// value. This is the only option available after the active top-level
// table has had an entry rewritten out from under a range the TLB may have
// cached (e.g. the recursive slot during an address-space switch), since a
// single INVLPG cannot invalidate entries cached for other tables reached
// through it.
func FlushTLBAll()

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// ReadCR2 returns the value stored in the CR2 register.
func ReadCR2() uint64

// EnableNXE sets the NXE bit in the EFER MSR, allowing page-table entries to
// use the NO_EXECUTE flag. Without this bit set, bit 63 of a page-table
// entry is reserved and setting it raises a general-protection fault
// instead of enforcing non-executability.
func EnableNXE()

// EnableWriteProtect sets the WP bit in CR0, which makes write-protected
// pages (PTE WRITABLE bit clear) unwritable even from kernel mode. Without
// this bit the kernel silently ignores the WRITABLE flag on its own
// accesses, defeating read-only mappings such as the kernel's .rodata
// section.
func EnableWriteProtect()

// ID returns information about the CPU and its features. It
// is implemented as a CPUID instruction with EAX=leaf and
// returns the values in EAX, EBX, ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// IsIntel returns true if the code is running on an Intel processor.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}
