//go:build arm64

package pagealloc

import (
	"sync"
	"unsafe"
)

// ARM64 page table entry bits, carried over from the teacher kernel's
// mmu.go verbatim: a bare-metal backend needs the exact encoding the
// hardware walker expects, not a reinterpretation of it.
const (
	pteValid = 1 << 0
	pteTable = 1 << 1
	pteAF    = 1 << 10

	pteAttrNormal = 0 << 2
	pteShInner    = 3 << 8
	pteAPRWEl1    = 1 << 6

	pteSize  = 8
	pteCount = 512

	l0Shift = 39
	l1Shift = 30
	l2Shift = 21
	l3Shift = 12
	idxMask = 0x1FF
)

// arm64Allocator is the bare-metal PA backend: a bump/free-list
// physical frame pool plus an on-demand 4-level page table walker,
// adapted from mmu.go's allocPhysFrame/mapPage into a reusable,
// lockable component instead of fixed-address global state.
type arm64Allocator struct {
	mu sync.Mutex

	pageSize int

	physBase, physEnd uintptr
	freePhys          []uintptr // stack of free physical frame addresses

	l0Table uintptr // physical address of the root table, identity mapped

	mappings map[uintptr]uintptr
}

// NewARM64 constructs the bare-metal backend over the physical frame
// range [physBase, physEnd) and an already-identity-mapped L0 table at
// l0Table (built by early boot code before Go runs, as in initMMU).
func NewARM64(physBase, physEnd, l0Table uintptr, pageSize int) Allocator {
	a := &arm64Allocator{
		pageSize: pageSize,
		physBase: physBase,
		physEnd:  physEnd,
		l0Table:  l0Table,
		mappings: make(map[uintptr]uintptr),
	}
	for p := physBase; p < physEnd; p += uintptr(pageSize) {
		a.freePhys = append(a.freePhys, p)
	}
	return a
}

func (a *arm64Allocator) PageSize() int { return a.pageSize }

func (a *arm64Allocator) allocFrames(n int) ([]uintptr, error) {
	if len(a.freePhys) < n {
		return nil, ErrOutOfMemory
	}
	out := a.freePhys[len(a.freePhys)-n:]
	a.freePhys = a.freePhys[:len(a.freePhys)-n]
	frames := make([]uintptr, n)
	copy(frames, out)
	return frames, nil
}

func (a *arm64Allocator) Allocate(pageCount int, alignLg2, noCrossLg2 uint, flags Flags) (uintptr, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	frames, err := a.allocFrames(pageCount)
	if err != nil {
		return 0, err
	}
	start := frames[0]
	if flags&FlagZero != 0 || flags&FlagPrebound != 0 {
		bzero(unsafe.Pointer(start), uint32(pageCount*a.pageSize))
	}
	return start, nil
}

func (a *arm64Allocator) AllocateAligned(pageCount int, alignLg2 uint, flags Flags) (uintptr, error) {
	return a.Allocate(pageCount, alignLg2, 0, flags)
}

func (a *arm64Allocator) SpaceAllocate(pageCount int, flags Flags) (uintptr, error) {
	phys, err := a.Allocate(pageCount, 0, 0, flags)
	if err != nil {
		return 0, err
	}
	a.mu.Lock()
	a.mappings[phys] = phys
	a.mu.Unlock()
	for i := 0; i < pageCount; i++ {
		off := uintptr(i * a.pageSize)
		a.mapPage(phys+off, phys+off)
	}
	return phys, nil
}

func (a *arm64Allocator) SpaceFree(start uintptr, pageCount int) error {
	for i := 0; i < pageCount; i++ {
		a.unmapPage(start + uintptr(i*a.pageSize))
	}
	return a.FreePhysical(start, pageCount)
}

func (a *arm64Allocator) SpaceMap(phys uintptr, pageCount int, flags Flags) (uintptr, error) {
	for i := 0; i < pageCount; i++ {
		off := uintptr(i * a.pageSize)
		a.mapPage(phys+off, phys+off)
	}
	a.mu.Lock()
	a.mappings[phys] = phys
	a.mu.Unlock()
	return phys, nil
}

func (a *arm64Allocator) SpaceUnmap(virt uintptr, pageCount int) error {
	for i := 0; i < pageCount; i++ {
		a.unmapPage(virt + uintptr(i*a.pageSize))
	}
	return nil
}

func (a *arm64Allocator) SpaceVirtualToPhysical(virt uintptr) uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	if phys, ok := a.mappings[virt]; ok {
		return phys
	}
	return Unmapped
}

func (a *arm64Allocator) MapAny(phys uintptr, pageCount int) (uintptr, error) {
	return a.SpaceMap(phys, pageCount, 0)
}

func (a *arm64Allocator) Unmap(virt uintptr, pageCount int) error {
	return a.SpaceUnmap(virt, pageCount)
}

func (a *arm64Allocator) FreePhysical(phys uintptr, pageCount int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := 0; i < pageCount; i++ {
		a.freePhys = append(a.freePhys, phys+uintptr(i*a.pageSize))
	}
	return nil
}

func (a *arm64Allocator) PrefaultStack(n int) {
	// Bare-metal callers run with interrupts already disabled around
	// MPF's critical sections (§5); nothing to pre-touch beyond what
	// initMMU's preMapPages already guarantees resident.
}

// mapPage installs a single 4KB leaf mapping, walking (and
// lazily allocating) L0-L3 tables exactly as mmu.go's mapPage does,
// generalized to operate on this allocator's own table root instead of
// fixed kernel addresses.
func (a *arm64Allocator) mapPage(va, pa uintptr) {
	entryAddr := a.walkCreate(va)
	*(*uint64)(unsafe.Pointer(entryAddr)) = uint64(pa) | pteValid | pteTable | pteAF | pteAttrNormal | pteAPRWEl1 | pteShInner
}

func (a *arm64Allocator) unmapPage(va uintptr) {
	entryAddr := a.walkCreate(va)
	*(*uint64)(unsafe.Pointer(entryAddr)) = 0
}

func (a *arm64Allocator) walkCreate(va uintptr) uintptr {
	va64 := uint64(va)
	idx := [4]uint16{
		uint16((va64 >> l0Shift) & idxMask),
		uint16((va64 >> l1Shift) & idxMask),
		uint16((va64 >> l2Shift) & idxMask),
		uint16((va64 >> l3Shift) & idxMask),
	}

	table := a.l0Table
	for level := 0; level < 3; level++ {
		entryAddr := table + uintptr(idx[level])*pteSize
		entry := (*uint64)(unsafe.Pointer(entryAddr))
		if *entry&pteTable == 0 {
			frames, err := a.allocFrames(1)
			if err != nil {
				panic("pagealloc: out of physical frames for page table")
			}
			next := frames[0]
			bzero(unsafe.Pointer(next), uint32(a.pageSize))
			*entry = uint64(next) | pteValid | pteTable
		}
		table = uintptr(*entry &^ 0xFFF)
	}
	return table + uintptr(idx[3])*pteSize
}

//go:nosplit
func bzero(ptr unsafe.Pointer, size uint32) {
	b := unsafe.Slice((*byte)(ptr), size)
	for i := range b {
		b[i] = 0
	}
}
