// Package buddy implements the buddy pool instance (BPI) of §4.2: a
// reusable buddy allocator parameterised by a page-sized leaf multiple,
// a maximum order, a minimum leaf size/alignment, and a region-retention
// count, grounded on the teacher kernel's page/heap allocators
// (page.go, heap.go) generalized from single-order page framing and a
// flat free-list heap into a full power-of-two buddy system with
// per-order free lists and buddy-merge.
//
// A Pool does no locking of its own (§4.2 "Concurrency"); callers
// (here, package mempool) must serialise access to a single Pool.
package buddy

import (
	"errors"
	"unsafe"
)

// MaxOrderCeiling is the hard ceiling the bookkeeping byte format can
// represent (§3's "b.order <= MAX_ORDER-1", and leafbits.MaxOrder).
const MaxOrderCeiling = 31

var (
	// ErrInvalidArgument is returned by Free for a pointer this pool
	// did not allocate, and by Allocate for impossible alignment/
	// boundary/size combinations.
	ErrInvalidArgument = errors.New("buddy: invalid argument")
	// ErrOutOfMemory is returned when the allocator bridge cannot
	// supply a new region of any usable order.
	ErrOutOfMemory = errors.New("buddy: out of memory")
)

// Bridge is the allocator_bridge capability set of §3: five required
// operations plus three optional hooks, consumed by Pool to obtain
// backing memory and header memory. Optional hooks are detected via
// the AlignmentChecker/Poisoner interfaces below, the idiomatic Go
// equivalent of "if the bridge provides them".
type Bridge interface {
	// Allocate reserves pageCount pages aligned to 2^alignLg2 bytes,
	// not crossing a 2^noCrossLg2 boundary, returning their start
	// address.
	Allocate(pageCount int, alignLg2, noCrossLg2 uint) (uintptr, error)
	// Free releases a region previously returned by Allocate.
	Free(pageCount int, ptr uintptr) error
	// AllocateHeader reserves pageCount pages of header memory (used
	// here to back the per-leaf bookkeeping vector, §3).
	AllocateHeader(pageCount int) (uintptr, error)
	// FreeHeader releases header memory from AllocateHeader.
	FreeHeader(pageCount int, ptr uintptr) error
	// Panic reports an unrecoverable allocator state (§7).
	Panic(msg string)
}

// AlignmentChecker is the optional is_aligned? hook (§3), used by the
// physically-contiguous pool instance to reject candidates whose
// physical address does not honour a requested alignment/boundary.
type AlignmentChecker interface {
	IsAligned(ptr uintptr, alignLg2, noCrossLg2 uint) bool
}

// Poisoner is the optional poison?/unpoison? hook pair (§3), called
// around leaf bodies and pointer fields before reads/writes cross the
// poison boundary (memory-sanitizer-style use-after-free detection).
type Poisoner interface {
	Poison(ptr uintptr, size uintptr)
	Unpoison(ptr uintptr, size uintptr)
}

// Options is the immutable options record of §3.
type Options struct {
	PageSize              int
	MaxOrder              uint // exclusive ceiling; valid orders are 0..MaxOrder-1
	MinLeafSize           int
	MinLeafAlignment      uint // lg2 bytes
	MaxKeptRegionCount    int
	OptimalMinRegionOrder uint
}

func (o Options) leafSize(order uint) int {
	return (1 << order) * o.MinLeafSize
}

// freeNode is the intrusive free-list node a free leaf's first bytes
// are reinterpreted as (§3 "Free leaf"). Unlike the teacher's
// pointer-to-pointer C idiom, a direct prev pointer is sufficient in
// Go to keep O(1) removal (§9 design note).
type freeNode struct {
	prev *freeNode
	next *freeNode
}

// region is one buddy tree: a contiguous run of leaves plus its
// header. The per-leaf bookkeeping vector lives in real memory
// obtained from the bridge's header allocation (so a region spanning
// many leaves can honestly require more than one header page, per
// §4.2's header_size_for_leaf_count); the rest of the header — leaf
// count and free-list heads — is ordinary Go struct state. A region
// carries no lock of its own.
type region struct {
	next *region

	start     uintptr
	pageCount int

	headerPtr   uintptr
	headerPages int

	leafCount uint32
	freeCount uint32

	buckets [MaxOrderCeiling + 1]*freeNode

	bookkeeping []byte // one byte per min-sized leaf, backed by headerPtr
}

// Pool is a buddy pool instance (§3 "Pool instance"): an ordered
// singly-linked list of regions plus the immutable options/bridge
// pair.
type Pool struct {
	opts    Options
	bridge  Bridge
	regions *region
}

// sentinelPtr is the distinguished non-null value returned for
// zero-byte allocations (§3, §6 "Sentinel values"); freeing it is a
// no-op.
var sentinelPtr = ^uintptr(0) &^ 0xF // a non-zero, 16-byte-aligned value no real leaf can equal

// New initialises a Pool against the given bridge and options (§4.2
// "init"). It performs no allocation.
func New(bridge Bridge, opts Options) (*Pool, error) {
	if opts.MaxOrder == 0 || opts.MaxOrder > MaxOrderCeiling+1 {
		return nil, ErrInvalidArgument
	}
	if opts.MinLeafSize <= 0 || opts.PageSize <= 0 {
		return nil, ErrInvalidArgument
	}
	return &Pool{opts: opts, bridge: bridge}, nil
}

// Destroy releases every region and its header via the bridge (§4.2
// "destroy"). No allocations are permitted on the Pool afterward.
func (p *Pool) Destroy() error {
	for r := p.regions; r != nil; {
		next := r.next
		if err := p.bridge.Free(r.pageCount, r.start); err != nil {
			return err
		}
		if err := p.bridge.FreeHeader(r.headerPages, r.headerPtr); err != nil {
			return err
		}
		r = next
	}
	p.regions = nil
	return nil
}

// minOrderForByteCount computes min k such that 2^k*min_leaf >=
// roundup(n, min_leaf), capped at MaxOrder-1 (§4.2).
func (p *Pool) minOrderForByteCount(n int) uint {
	if n <= 0 {
		return 0
	}
	leaves := uint32((n + p.opts.MinLeafSize - 1) / p.opts.MinLeafSize)
	var order uint
	capacity := uint32(1)
	for capacity < leaves {
		capacity <<= 1
		order++
	}
	if order > p.opts.MaxOrder-1 {
		order = p.opts.MaxOrder - 1
	}
	return order
}

// maxOrderForLeafCount returns floor(log2(c)), capped at MaxOrder-1.
func (p *Pool) maxOrderForLeafCount(c uint32) uint {
	if c == 0 {
		return 0
	}
	var order uint
	for (uint32(1) << (order + 1)) <= c {
		order++
	}
	if order > p.opts.MaxOrder-1 {
		order = p.opts.MaxOrder - 1
	}
	return order
}

func roundUp(n, multiple int) int {
	if multiple <= 0 {
		return n
	}
	return ((n + multiple - 1) / multiple) * multiple
}

// regionSizeForLeafCount rounds leafCount*min_leaf up to a whole
// number of pages (§4.2).
func (p *Pool) regionSizeForLeafCount(leafCount uint32) int {
	return roundUp(int(leafCount)*p.opts.MinLeafSize, p.opts.PageSize)
}

// headerFixedOverhead approximates the "fixed header struct and
// per-order bucket heads" footprint of the first header page (§4.2).
func (p *Pool) headerFixedOverhead() int {
	const fixedFields = 64 // leafCount, freeCount, start ptr, lock, etc.
	return fixedFields + int(p.opts.MaxOrder)*8
}

// headerPagesForLeafCount returns the number of header pages needed to
// hold leafCount bookkeeping bytes (§4.2).
func (p *Pool) headerPagesForLeafCount(leafCount uint32) int {
	firstPageCapacity := p.opts.PageSize - p.headerFixedOverhead()
	if firstPageCapacity < 0 {
		firstPageCapacity = 0
	}
	if int(leafCount) <= firstPageCapacity {
		return 1
	}
	remaining := int(leafCount) - firstPageCapacity
	extra := (remaining + p.opts.PageSize - 1) / p.opts.PageSize
	return 1 + extra
}

func clampOrder(order, lo, hi uint) uint {
	if order < lo {
		return lo
	}
	if order > hi {
		return hi
	}
	return order
}

// AllocatedByteCount returns the leaf size a successful Allocate(n, ...)
// call would report for n bytes (§8 testable property).
func (p *Pool) AllocatedByteCount(n int) int {
	return p.opts.leafSize(p.minOrderForByteCount(n))
}

func bridgeIsAligned(b Bridge, ptr uintptr, alignLg2, noCrossLg2 uint) bool {
	if ac, ok := b.(AlignmentChecker); ok {
		return ac.IsAligned(ptr, alignLg2, noCrossLg2)
	}
	return true
}

func bridgePoison(b Bridge, ptr, size uintptr) {
	if p, ok := b.(Poisoner); ok {
		p.Poison(ptr, size)
	}
}

func bridgeUnpoison(b Bridge, ptr, size uintptr) {
	if p, ok := b.(Poisoner); ok {
		p.Unpoison(ptr, size)
	}
}

func memSet(ptr unsafe.Pointer, n int) []byte {
	return unsafe.Slice((*byte)(ptr), n)
}

// memSet2 is memSet for a raw uintptr address, used when copying
// bytes between two buddy-owned leaves during reallocation.
func memSet2(ptr uintptr, n int) []byte {
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n)
}
