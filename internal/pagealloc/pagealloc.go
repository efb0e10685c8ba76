// Package pagealloc is the page allocator (PA) external collaborator
// described in spec §4.1/§6: frame ownership, kernel address space
// mapping, and aligned/bounded region allocation. BPI and MPF only ever
// see the Allocator interface; this package supplies two
// implementations behind it (see pagealloc_sim.go and
// pagealloc_arm64.go).
package pagealloc

import (
	"errors"
	"math/bits"
)

// Flags mirrors the `flags` bitmask consumed by PA operations (§4.1).
type Flags uint32

const (
	// FlagZero requests the returned pages be zero-filled.
	FlagZero Flags = 1 << iota
	// FlagPrebound requests every page be pre-faulted into backing
	// physical memory before the call returns, so no later access can
	// page-fault — used by MPF's pre-bound pool instance.
	FlagPrebound
)

// Sentinel for "address is not currently mapped", matching §6's
// "space_virtual_to_physical returns all-ones on unmapped addresses".
const Unmapped = ^uintptr(0)

var (
	// ErrOutOfMemory is returned when PA cannot satisfy a request from
	// its frame pool or virtual address space.
	ErrOutOfMemory = errors.New("pagealloc: out of memory")
	// ErrInvalidArgument is returned for malformed alignment/boundary
	// requests or operations on addresses PA does not own.
	ErrInvalidArgument = errors.New("pagealloc: invalid argument")
)

// Allocator is the contract BPI and MPF consume (§4.1, §6). All
// addresses and counts are in units of whole pages unless noted.
type Allocator interface {
	// Allocate reserves pageCount pages aligned to 2^alignLg2 bytes
	// that do not cross a 2^noCrossLg2-byte boundary.
	Allocate(pageCount int, alignLg2, noCrossLg2 uint, flags Flags) (start uintptr, err error)
	// AllocateAligned is Allocate with noCrossLg2 left unconstrained.
	AllocateAligned(pageCount int, alignLg2 uint, flags Flags) (start uintptr, err error)

	// SpaceAllocate reserves virtual address space backed by fresh
	// physical frames (used by MPF's bridges for header pages).
	SpaceAllocate(pageCount int, flags Flags) (start uintptr, err error)
	// SpaceFree releases a SpaceAllocate region.
	SpaceFree(start uintptr, pageCount int) error
	// SpaceMap maps pageCount pages of the physical range starting at
	// phys into the kernel address space.
	SpaceMap(phys uintptr, pageCount int, flags Flags) (virt uintptr, err error)
	// SpaceUnmap removes a SpaceMap mapping without freeing the
	// backing physical frames.
	SpaceUnmap(virt uintptr, pageCount int) error
	// SpaceVirtualToPhysical translates a mapped virtual address,
	// returning Unmapped if it has no mapping.
	SpaceVirtualToPhysical(virt uintptr) uintptr

	// MapAny maps pageCount physical pages starting at phys at any
	// virtual address chosen by PA.
	MapAny(phys uintptr, pageCount int) (virt uintptr, err error)
	// Unmap is the general-purpose unmap used by MapAny/SpaceMap
	// callers that no longer track which path produced the mapping.
	Unmap(virt uintptr, pageCount int) error

	// FreePhysical releases pageCount physical frames starting at
	// phys back to PA's frame pool.
	FreePhysical(phys uintptr, pageCount int) error

	// PrefaultStack ensures the next n pages below the current stack
	// pointer are resident, so interrupt-context callers cannot fault
	// inside a spinlock-held critical section (§4.1, §5).
	PrefaultStack(n int)

	// PageSize reports the fixed physical frame size, typically 4096.
	PageSize() int
}

// RoundUpPages returns the number of PageSize-sized pages needed to
// hold byteCount bytes.
func RoundUpPages(byteCount int, pageSize int) int {
	if byteCount <= 0 {
		return 0
	}
	return (byteCount + pageSize - 1) / pageSize
}

// IsPowerOfTwo reports whether n is an exact power of two.
func IsPowerOfTwo(n uintptr) bool {
	return n != 0 && n&(n-1) == 0
}

// Log2Ceil returns the smallest k such that 2^k >= n (n > 0).
func Log2Ceil(n uintptr) uint {
	if n <= 1 {
		return 0
	}
	return uint(bits.Len64(uint64(n - 1)))
}
