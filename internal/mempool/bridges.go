package mempool

import (
	"unsafe"

	"ferro/internal/pagealloc"
)

// copyBytes copies n bytes from src to dst, both raw addresses owned by
// one of MPF's instances.
func copyBytes(dst, src uintptr, n int) {
	if n == 0 {
		return
	}
	d := unsafe.Slice((*byte)(unsafe.Pointer(dst)), n)
	s := unsafe.Slice((*byte)(unsafe.Pointer(src)), n)
	copy(d, s)
}

// ordinaryBridge backs buddy.Pool for the ordinary instance (§4.3
// "ordinary instance"): region pages come from PA's Allocate, which
// carries the alignment/boundary request; header pages come from
// SpaceAllocate; both are released through SpaceFree.
type ordinaryBridge struct {
	pa pagealloc.Allocator
}

func (b *ordinaryBridge) Allocate(pageCount int, alignLg2, noCrossLg2 uint) (uintptr, error) {
	return b.pa.Allocate(pageCount, alignLg2, noCrossLg2, 0)
}

func (b *ordinaryBridge) Free(pageCount int, ptr uintptr) error {
	return b.pa.SpaceFree(ptr, pageCount)
}

func (b *ordinaryBridge) AllocateHeader(pageCount int) (uintptr, error) {
	return b.pa.SpaceAllocate(pageCount, pagealloc.FlagZero)
}

func (b *ordinaryBridge) FreeHeader(pageCount int, ptr uintptr) error {
	return b.pa.SpaceFree(ptr, pageCount)
}

func (b *ordinaryBridge) Panic(msg string) {
	panic("mempool(ordinary): " + msg)
}

// contiguousBridge backs buddy.Pool with physically contiguous frames
// mapped into the kernel address space (§4.3 "physically contiguous
// instance"), and additionally honours the AlignmentChecker hook so
// BPI can reject a split candidate whose physical address would not
// satisfy the caller's alignment/boundary.
type contiguousBridge struct {
	pa pagealloc.Allocator
}

func (b *contiguousBridge) Allocate(pageCount int, alignLg2, noCrossLg2 uint) (uintptr, error) {
	phys, err := b.pa.Allocate(pageCount, alignLg2, noCrossLg2, 0)
	if err != nil {
		return 0, err
	}
	virt, err := b.pa.MapAny(phys, pageCount)
	if err != nil {
		_ = b.pa.FreePhysical(phys, pageCount)
		return 0, err
	}
	return virt, nil
}

func (b *contiguousBridge) Free(pageCount int, ptr uintptr) error {
	phys := b.pa.SpaceVirtualToPhysical(ptr)
	if err := b.pa.Unmap(ptr, pageCount); err != nil {
		return err
	}
	if phys == pagealloc.Unmapped {
		return nil
	}
	return b.pa.FreePhysical(phys, pageCount)
}

func (b *contiguousBridge) AllocateHeader(pageCount int) (uintptr, error) {
	return b.pa.SpaceAllocate(pageCount, pagealloc.FlagZero)
}

func (b *contiguousBridge) FreeHeader(pageCount int, ptr uintptr) error {
	return b.pa.SpaceFree(ptr, pageCount)
}

func (b *contiguousBridge) Panic(msg string) {
	panic("mempool(contiguous): " + msg)
}

// IsAligned reports whether ptr's backing physical address is aligned
// to 2^alignLg2 bytes, consulted by BPI before serving a candidate
// split out of a physically contiguous region. noCrossLg2 is not
// checked: the physical no-cross boundary is not re-verified here.
func (b *contiguousBridge) IsAligned(ptr uintptr, alignLg2, noCrossLg2 uint) bool {
	phys := b.pa.SpaceVirtualToPhysical(ptr)
	if phys == pagealloc.Unmapped {
		return false
	}
	align := uintptr(1) << alignLg2
	if phys%align != 0 {
		return false
	}
	return true
}

// preboundBridge backs buddy.Pool with pages pre-faulted into physical
// memory (§4.3 "pre-bound instance"), so allocations from it never
// page-fault on first touch.
type preboundBridge struct {
	pa pagealloc.Allocator
}

func (b *preboundBridge) Allocate(pageCount int, alignLg2, noCrossLg2 uint) (uintptr, error) {
	return b.pa.Allocate(pageCount, alignLg2, noCrossLg2, pagealloc.FlagPrebound)
}

func (b *preboundBridge) Free(pageCount int, ptr uintptr) error {
	return b.pa.SpaceFree(ptr, pageCount)
}

func (b *preboundBridge) AllocateHeader(pageCount int) (uintptr, error) {
	return b.pa.SpaceAllocate(pageCount, pagealloc.FlagZero|pagealloc.FlagPrebound)
}

func (b *preboundBridge) FreeHeader(pageCount int, ptr uintptr) error {
	return b.pa.SpaceFree(ptr, pageCount)
}

func (b *preboundBridge) Panic(msg string) {
	panic("mempool(prebound): " + msg)
}
