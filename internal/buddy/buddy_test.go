package buddy

import (
	"testing"

	"ferro/internal/pagealloc"
)

// testBridge adapts pagealloc.Allocator to Bridge the same way
// mempool's ordinaryBridge does, so this package's tests exercise a
// Pool against real (simulated) backing memory instead of a mock.
type testBridge struct {
	pa pagealloc.Allocator
}

func (b *testBridge) Allocate(pageCount int, alignLg2, noCrossLg2 uint) (uintptr, error) {
	return b.pa.Allocate(pageCount, alignLg2, noCrossLg2, 0)
}

func (b *testBridge) Free(pageCount int, ptr uintptr) error {
	return b.pa.SpaceFree(ptr, pageCount)
}

func (b *testBridge) AllocateHeader(pageCount int) (uintptr, error) {
	return b.pa.SpaceAllocate(pageCount, pagealloc.FlagZero)
}

func (b *testBridge) FreeHeader(pageCount int, ptr uintptr) error {
	return b.pa.SpaceFree(ptr, pageCount)
}

func (b *testBridge) Panic(msg string) {
	panic(msg)
}

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	pa, err := pagealloc.New(1024, 4096)
	if err != nil {
		t.Fatalf("pagealloc.New: %v", err)
	}
	p, err := New(&testBridge{pa: pa}, Options{
		PageSize:              4096,
		MaxOrder:              20,
		MinLeafSize:           16,
		MinLeafAlignment:      4,
		MaxKeptRegionCount:    3,
		OptimalMinRegionOrder: 4,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestAllocateFreeRoundTrip(t *testing.T) {
	p := newTestPool(t)

	size, ptr, err := p.Allocate(100, 0, 0)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if size < 100 {
		t.Errorf("size = %d, want >= 100", size)
	}
	if !p.BelongsToInstance(ptr) {
		t.Error("BelongsToInstance(ptr) = false after Allocate")
	}
	if err := p.Free(ptr); err != nil {
		t.Fatalf("Free: %v", err)
	}
}

func TestAllocateZeroReturnsSentinel(t *testing.T) {
	p := newTestPool(t)
	_, ptr, err := p.Allocate(0, 0, 0)
	if err != nil {
		t.Fatalf("Allocate(0): %v", err)
	}
	if ptr != sentinelPtr {
		t.Errorf("ptr = %#x, want sentinel", ptr)
	}
	if err := p.Free(ptr); err != nil {
		t.Errorf("Free(sentinel): %v", err)
	}
}

func TestFreeUnknownPointerFails(t *testing.T) {
	p := newTestPool(t)
	if err := p.Free(0xdeadbeef); err != ErrInvalidArgument {
		t.Errorf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestFreeAndMergeReunitesBuddies(t *testing.T) {
	p := newTestPool(t)

	_, a, err := p.Allocate(16, 0, 0)
	if err != nil {
		t.Fatalf("Allocate a: %v", err)
	}
	_, b, err := p.Allocate(16, 0, 0)
	if err != nil {
		t.Fatalf("Allocate b: %v", err)
	}

	before := p.Stats()
	if err := p.Free(a); err != nil {
		t.Fatalf("Free a: %v", err)
	}
	if err := p.Free(b); err != nil {
		t.Fatalf("Free b: %v", err)
	}
	after := p.Stats()
	if after.FreeCount != before.FreeCount+2 {
		t.Errorf("FreeCount after = %d, want %d", after.FreeCount, before.FreeCount+2)
	}

	// With a and b reunited, the region's whole 16-leaf span is one free
	// order-4 leaf again, so a 256-byte request fits without a new region.
	if _, _, err := p.Allocate(256, 0, 0); err != nil {
		t.Fatalf("Allocate 256: %v", err)
	}
	if got := p.Stats().RegionCount; got != 1 {
		t.Errorf("RegionCount after re-allocating the merged span = %d, want 1", got)
	}
}

func TestGetAllocatedByteCount(t *testing.T) {
	p := newTestPool(t)
	_, ptr, err := p.Allocate(50, 0, 0)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	n, err := p.GetAllocatedByteCount(ptr)
	if err != nil {
		t.Fatalf("GetAllocatedByteCount: %v", err)
	}
	if n < 50 {
		t.Errorf("GetAllocatedByteCount = %d, want >= 50", n)
	}
}

func TestStatsReflectsAllocations(t *testing.T) {
	p := newTestPool(t)
	s0 := p.Stats()
	if s0.RegionCount != 0 {
		t.Errorf("RegionCount before any allocation = %d, want 0", s0.RegionCount)
	}

	_, ptr, err := p.Allocate(32, 0, 0)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	s1 := p.Stats()
	if s1.RegionCount == 0 {
		t.Error("RegionCount after an allocation should be > 0")
	}
	if s1.UsedCount() == 0 {
		t.Error("UsedCount() after an allocation should be > 0")
	}
	if err := p.Free(ptr); err != nil {
		t.Fatalf("Free: %v", err)
	}
}
