//go:build !arm64

package pagealloc

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// simAllocator is the host-testable PA backend: a single large
// anonymous mmap arena from which both "physical" frames and "virtual"
// mappings are carved. It exists so BPI/MPF/IRL can be exercised by
// `go test` without real hardware (SPEC_FULL §F), mirroring the way
// the teacher kernel swaps backends per platform via build tags
// (platform_unsupported.go, *_qemu.go vs *_rpi.go).
type simAllocator struct {
	mu sync.Mutex

	pageSize int
	arena    []byte  // backing store, from unix.Mmap
	arenaPtr uintptr // address of arena[0]

	// free is a simple bitmap over pages of the arena: true = free.
	free []bool

	// mappings records virt -> phys address translations for
	// SpaceMap/MapAny, since in this backend "virtual" and "physical"
	// addresses both live inside the same process address space.
	mappings map[uintptr]uintptr
}

// New constructs the default (host-simulation) PA backend with a pool
// of totalPages pages of size pageSize.
func New(totalPages int, pageSize int) (Allocator, error) {
	if pageSize <= 0 || totalPages <= 0 {
		return nil, ErrInvalidArgument
	}
	size := totalPages * pageSize
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("pagealloc: mmap arena: %w", err)
	}
	a := &simAllocator{
		pageSize: pageSize,
		arena:    data,
		free:     make([]bool, totalPages),
		mappings: make(map[uintptr]uintptr),
	}
	a.arenaPtr = sliceAddr(data)
	for i := range a.free {
		a.free[i] = true
	}
	return a, nil
}

func (a *simAllocator) PageSize() int { return a.pageSize }

func (a *simAllocator) findRun(pageCount int, alignLg2, noCrossLg2 uint) (int, error) {
	align := uintptr(1) << alignLg2
	var noCross uintptr
	if noCrossLg2 > 0 {
		noCross = uintptr(1) << noCrossLg2
	}

	n := len(a.free)
	for start := 0; start+pageCount <= n; start++ {
		addr := a.arenaPtr + uintptr(start*a.pageSize)
		if align > uintptr(a.pageSize) && addr%align != 0 {
			continue
		}
		end := addr + uintptr(pageCount*a.pageSize) - 1
		if noCross != 0 && (addr/noCross) != (end/noCross) {
			continue
		}
		ok := true
		for i := 0; i < pageCount; i++ {
			if !a.free[start+i] {
				ok = false
				break
			}
		}
		if ok {
			return start, nil
		}
	}
	return -1, ErrOutOfMemory
}

func (a *simAllocator) markUsed(start, pageCount int, flags Flags) uintptr {
	for i := 0; i < pageCount; i++ {
		a.free[start+i] = false
	}
	addr := a.arenaPtr + uintptr(start*a.pageSize)
	if flags&FlagZero != 0 || flags&FlagPrebound != 0 {
		base := start * a.pageSize
		for i := range a.arena[base : base+pageCount*a.pageSize] {
			a.arena[base+i] = 0
		}
	}
	return addr
}

func (a *simAllocator) Allocate(pageCount int, alignLg2, noCrossLg2 uint, flags Flags) (uintptr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	start, err := a.findRun(pageCount, alignLg2, noCrossLg2)
	if err != nil {
		return 0, err
	}
	return a.markUsed(start, pageCount, flags), nil
}

func (a *simAllocator) AllocateAligned(pageCount int, alignLg2 uint, flags Flags) (uintptr, error) {
	return a.Allocate(pageCount, alignLg2, 0, flags)
}

func (a *simAllocator) SpaceAllocate(pageCount int, flags Flags) (uintptr, error) {
	return a.Allocate(pageCount, 0, 0, flags)
}

func (a *simAllocator) SpaceFree(start uintptr, pageCount int) error {
	return a.freeRange(start, pageCount)
}

func (a *simAllocator) freeRange(start uintptr, pageCount int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if start < a.arenaPtr {
		return ErrInvalidArgument
	}
	idx := int((start - a.arenaPtr) / uintptr(a.pageSize))
	if idx < 0 || idx+pageCount > len(a.free) {
		return ErrInvalidArgument
	}
	for i := 0; i < pageCount; i++ {
		a.free[idx+i] = true
	}
	return nil
}

func (a *simAllocator) SpaceMap(phys uintptr, pageCount int, flags Flags) (uintptr, error) {
	a.mu.Lock()
	a.mappings[phys] = phys
	a.mu.Unlock()
	return phys, nil
}

func (a *simAllocator) SpaceUnmap(virt uintptr, pageCount int) error {
	a.mu.Lock()
	delete(a.mappings, virt)
	a.mu.Unlock()
	return nil
}

func (a *simAllocator) SpaceVirtualToPhysical(virt uintptr) uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if phys, ok := a.mappings[virt]; ok {
		return phys
	}
	// Identity-mapped arena addresses still resolve, matching the
	// teacher's RPi/QEMU identity-map-by-default kernel pages.
	if virt >= a.arenaPtr && virt < a.arenaPtr+uintptr(len(a.arena)) {
		return virt
	}
	return Unmapped
}

func (a *simAllocator) MapAny(phys uintptr, pageCount int) (uintptr, error) {
	a.mu.Lock()
	a.mappings[phys] = phys
	a.mu.Unlock()
	return phys, nil
}

func (a *simAllocator) Unmap(virt uintptr, pageCount int) error {
	return a.SpaceUnmap(virt, pageCount)
}

func (a *simAllocator) FreePhysical(phys uintptr, pageCount int) error {
	return a.freeRange(phys, pageCount)
}

func (a *simAllocator) PrefaultStack(n int) {
	// No-op on the host backend: the Go runtime's own stack growth
	// already guarantees stack pages are resident before use. Kept
	// here only so callers written against the Allocator interface
	// behave identically on both backends (§4.1, §5).
}
