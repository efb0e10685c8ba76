// Package mempool implements the memory pool façade (MPF) of §4.3:
// three long-lived buddy pool instances — ordinary, physically
// contiguous, and pre-bound — each bridged to the page allocator, with
// routing, cross-instance reallocation, and the per-instance spinlock
// discipline of §5.
package mempool

import (
	"errors"
	"sync"

	"ferro/internal/buddy"
	"ferro/internal/pagealloc"
)

// Class selects which buddy pool instance an allocation belongs to
// (§4.3).
type Class int

const (
	// ClassOrdinary routes to pagealloc's SpaceAllocate/SpaceFree.
	ClassOrdinary Class = iota
	// ClassContiguous allocates physical frames aligned to the
	// requested alignment and maps them into the kernel address space.
	ClassContiguous
	// ClassPrebound allocates with pagealloc.FlagPrebound so no
	// subsequent access can page-fault.
	ClassPrebound
)

// PrefaultPages is the number of stack pages prefaultStack guarantees
// resident before any instance's spinlock is taken (§4.3, §5).
const PrefaultPages = 4

var (
	// ErrInvalidArgument covers a non-owned pointer or an impossible
	// alignment request (§4.3 "Failure kinds").
	ErrInvalidArgument = errors.New("mempool: invalid argument")
	// ErrTemporaryOutage covers the underlying page allocator being
	// out of memory.
	ErrTemporaryOutage = errors.New("mempool: temporary outage")
)

// instance pairs a buddy pool with the spinlock §5 requires MPF hold
// across every call into it (BPI itself does no locking).
type instance struct {
	mu   sync.Mutex
	pool *buddy.Pool
}

// Facade is the memory pool façade (MPF). Construct with New, which
// wires up all three instances against pa.
type Facade struct {
	pa pagealloc.Allocator

	ordinary   *instance
	contiguous *instance
	prebound   *instance
}

// defaultOptions builds the shared options record of §4.3:
// {page_size, max_order=32, min_leaf_size=16, min_leaf_alignment=4,
// max_kept_region_count=3, optimal_min_region_order=4}. buddy raises
// the region order to a request's own minimum order when that is larger.
func defaultOptions(pageSize int) buddy.Options {
	return buddy.Options{
		PageSize:              pageSize,
		MaxOrder:              32,
		MinLeafSize:           16,
		MinLeafAlignment:      4,
		MaxKeptRegionCount:    3,
		OptimalMinRegionOrder: 4,
	}
}

// New initialises MPF's three instances against pa (§4.3, §9 "PA ->
// MPF -> IRL" global init order).
func New(pa pagealloc.Allocator) (*Facade, error) {
	opts := defaultOptions(pa.PageSize())

	ordinaryPool, err := buddy.New(&ordinaryBridge{pa: pa}, opts)
	if err != nil {
		return nil, err
	}
	contiguousPool, err := buddy.New(&contiguousBridge{pa: pa}, opts)
	if err != nil {
		return nil, err
	}
	preboundPool, err := buddy.New(&preboundBridge{pa: pa}, opts)
	if err != nil {
		return nil, err
	}

	return &Facade{
		pa:         pa,
		ordinary:   &instance{pool: ordinaryPool},
		contiguous: &instance{pool: contiguousPool},
		prebound:   &instance{pool: preboundPool},
	}, nil
}

func (f *Facade) instanceFor(class Class) *instance {
	switch class {
	case ClassContiguous:
		return f.contiguous
	case ClassPrebound:
		return f.prebound
	default:
		return f.ordinary
	}
}

// Allocate is ClassOrdinary sugar over AllocateAdvanced.
func (f *Facade) Allocate(byteCount int) (uintptr, error) {
	_, ptr, err := f.AllocateAdvanced(byteCount, 0, 0, ClassOrdinary)
	return ptr, err
}

// AllocateAdvanced routes to the instance selected by class (§4.3
// "allocate_advanced"), prefaulting the stack first so no page fault
// can land inside the spinlock-held critical section (§4.3, §5).
func (f *Facade) AllocateAdvanced(byteCount int, alignLg2, noCrossLg2 uint, class Class) (int, uintptr, error) {
	f.pa.PrefaultStack(PrefaultPages)

	inst := f.instanceFor(class)
	inst.mu.Lock()
	defer inst.mu.Unlock()

	size, ptr, err := inst.pool.Allocate(byteCount, alignLg2, noCrossLg2)
	if err != nil {
		return 0, 0, translateErr(err)
	}
	return size, ptr, nil
}

// ReallocateAdvanced reallocates in place when the instance selected by
// class owns old (or old is 0). Otherwise it allocates a new block in
// that class, copies min(old block's size, newByteCount) bytes, with
// the old size found by probing every instance, and frees old (§4.3
// "reallocate_advanced requires the new flags to match the region's
// original class — mismatch triggers an allocate-copy-free cycle").
func (f *Facade) ReallocateAdvanced(old uintptr, newByteCount int, alignLg2, noCrossLg2 uint, class Class) (int, uintptr, error) {
	f.pa.PrefaultStack(PrefaultPages)

	inst := f.instanceFor(class)
	inst.mu.Lock()
	owned := old == 0 || inst.pool.BelongsToInstance(old)
	if owned {
		defer inst.mu.Unlock()
		size, ptr, err := inst.pool.Reallocate(old, newByteCount, alignLg2, noCrossLg2)
		if err != nil {
			return 0, 0, translateErr(err)
		}
		return size, ptr, nil
	}
	// Mismatch: drop this instance's lock before touching any other
	// instance, matching §5's "locks do not nest across instances;
	// cross-instance reallocation drops the old lock before acquiring
	// a new one".
	inst.mu.Unlock()

	size, newPtr, err := f.AllocateAdvanced(newByteCount, alignLg2, noCrossLg2, class)
	if err != nil {
		return 0, 0, err
	}
	oldSize, oerr := f.allocatedByteCountAnyInstance(old)
	if oerr == nil {
		n := oldSize
		if newByteCount < n {
			n = newByteCount
		}
		copyBytes(newPtr, old, n)
	}
	if ferr := f.Free(old); ferr != nil {
		return 0, 0, ferr
	}
	return size, newPtr, nil
}

// Free tries each instance in turn using BelongsToInstance, releasing
// each instance's lock between attempts (§4.3, §5 "Freeing across
// instances is attempted instance-by-instance with the lock released
// between attempts").
func (f *Facade) Free(ptr uintptr) error {
	f.pa.PrefaultStack(PrefaultPages)

	for _, inst := range []*instance{f.ordinary, f.contiguous, f.prebound} {
		inst.mu.Lock()
		if inst.pool.BelongsToInstance(ptr) {
			err := inst.pool.Free(ptr)
			inst.mu.Unlock()
			if err != nil {
				return translateErr(err)
			}
			return nil
		}
		inst.mu.Unlock()
	}
	return ErrInvalidArgument
}

func (f *Facade) allocatedByteCountAnyInstance(ptr uintptr) (int, error) {
	for _, inst := range []*instance{f.ordinary, f.contiguous, f.prebound} {
		inst.mu.Lock()
		if inst.pool.BelongsToInstance(ptr) {
			n, err := inst.pool.GetAllocatedByteCount(ptr)
			inst.mu.Unlock()
			return n, err
		}
		inst.mu.Unlock()
	}
	return 0, ErrInvalidArgument
}

func translateErr(err error) error {
	switch {
	case errors.Is(err, buddy.ErrInvalidArgument):
		return ErrInvalidArgument
	case errors.Is(err, buddy.ErrOutOfMemory):
		return ErrTemporaryOutage
	default:
		return err
	}
}
