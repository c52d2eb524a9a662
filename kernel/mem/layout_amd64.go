package mem

// heapPages and stackPages size the fixed heap and stack ranges below in
// whole pages: 100 KiB divides evenly into 25 4KiB pages, and the stack
// range holds 100 pages worth of carver space.
const (
	heapPages  = uintptr((100 * Kb) / PageSize)
	stackPages = 100
)

// HeapRangeStart and HeapRangeEnd bound the fixed virtual address range
// mapped to back the kernel's bump-pointer heap arena. StackRangeStart
// equals HeapRangeEnd, the page immediately after the heap's last page, and
// StackRangeEnd
// extends it for stackPages, giving the stack carver its own dedicated
// range that can never collide with the heap.
const (
	HeapRangeStart = uintptr(0x0000010000000000)
	HeapRangeEnd   = HeapRangeStart + heapPages*uintptr(PageSize)

	StackRangeStart = HeapRangeEnd
	StackRangeEnd   = StackRangeStart + stackPages*uintptr(PageSize)
)
