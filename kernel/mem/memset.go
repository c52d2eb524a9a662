package mem

import (
	"reflect"
	"unsafe"
)

// Memset sets size bytes starting at addr to value. The implementation is
// based on bytes.Repeat: instead of looping byte-by-byte it performs
// log2(size) copies, doubling the filled region each time. This is used to
// zero freshly allocated page-table frames before the Go allocator (and
// therefore the standard library's own memclr) is available.
func Memset(addr uintptr, value byte, size Size) {
	if size == 0 {
		return
	}

	target := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(size),
		Cap:  int(size),
		Data: addr,
	}))

	target[0] = value
	for index := Size(1); index < size; index *= 2 {
		copy(target[index:], target[:index])
	}
}

// Memcopy copies size bytes from src to dst. The two regions must not
// overlap.
func Memcopy(dst, src uintptr, size Size) {
	if size == 0 {
		return
	}

	dstSlice := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(size),
		Cap:  int(size),
		Data: dst,
	}))

	srcSlice := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(size),
		Cap:  int(size),
		Data: src,
	}))

	copy(dstSlice, srcSlice)
}
