package mempool

import (
	"testing"
	"unsafe"

	"ferro/internal/pagealloc"
)

func memAt(ptr uintptr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n)
}

func newTestFacade(t *testing.T) *Facade {
	t.Helper()
	pa, err := pagealloc.New(4096, 4096)
	if err != nil {
		t.Fatalf("pagealloc.New: %v", err)
	}
	f, err := New(pa)
	if err != nil {
		t.Fatalf("mempool.New: %v", err)
	}
	return f
}

func TestAllocateFreeOrdinary(t *testing.T) {
	f := newTestFacade(t)

	ptr, err := f.Allocate(128)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if ptr == 0 {
		t.Fatal("Allocate returned nil pointer for non-zero size")
	}
	if err := f.Free(ptr); err != nil {
		t.Fatalf("Free: %v", err)
	}
}

func TestAllocateZeroBytesReturnsSentinel(t *testing.T) {
	f := newTestFacade(t)

	ptr, err := f.Allocate(0)
	if err != nil {
		t.Fatalf("Allocate(0): %v", err)
	}
	if ptr == 0 {
		t.Fatal("Allocate(0) must not return a null pointer")
	}
	if err := f.Free(ptr); err != nil {
		t.Fatalf("Free(sentinel): %v", err)
	}
}

func TestFreeUnknownPointerFails(t *testing.T) {
	f := newTestFacade(t)

	if err := f.Free(0xdeadbeef); err == nil {
		t.Fatal("expected error freeing a pointer MPF never allocated")
	}
}

func TestAllocateAdvancedClassesAreIndependentlyAddressable(t *testing.T) {
	f := newTestFacade(t)

	_, ordinaryPtr, err := f.AllocateAdvanced(64, 0, 0, ClassOrdinary)
	if err != nil {
		t.Fatalf("AllocateAdvanced(ordinary): %v", err)
	}
	_, preboundPtr, err := f.AllocateAdvanced(64, 0, 0, ClassPrebound)
	if err != nil {
		t.Fatalf("AllocateAdvanced(prebound): %v", err)
	}
	if ordinaryPtr == preboundPtr {
		t.Fatal("ordinary and pre-bound instances must not hand back the same address")
	}

	if err := f.Free(ordinaryPtr); err != nil {
		t.Fatalf("Free(ordinary): %v", err)
	}
	if err := f.Free(preboundPtr); err != nil {
		t.Fatalf("Free(prebound): %v", err)
	}
}

func TestReallocateGrowPreservesBytes(t *testing.T) {
	f := newTestFacade(t)

	_, ptr, err := f.AllocateAdvanced(32, 0, 0, ClassOrdinary)
	if err != nil {
		t.Fatalf("AllocateAdvanced: %v", err)
	}
	src := memAt(ptr, 32)
	for i := range src {
		src[i] = byte(i)
	}

	_, grown, err := f.ReallocateAdvanced(ptr, 256, 0, 0, ClassOrdinary)
	if err != nil {
		t.Fatalf("ReallocateAdvanced: %v", err)
	}
	if grown == 0 {
		t.Fatal("grown pointer must not be null")
	}
	dst := memAt(grown, 32)
	for i := range dst {
		if dst[i] != byte(i) {
			t.Fatalf("byte %d: got %d, want %d", i, dst[i], byte(i))
		}
	}
	if err := f.Free(grown); err != nil {
		t.Fatalf("Free(grown): %v", err)
	}
}

func TestStatsTracksEachInstanceIndependently(t *testing.T) {
	f := newTestFacade(t)

	before := f.Stats()
	_, ordinaryPtr, err := f.AllocateAdvanced(64, 0, 0, ClassOrdinary)
	if err != nil {
		t.Fatalf("AllocateAdvanced(ordinary): %v", err)
	}
	_, preboundPtr, err := f.AllocateAdvanced(64, 0, 0, ClassPrebound)
	if err != nil {
		t.Fatalf("AllocateAdvanced(prebound): %v", err)
	}

	after := f.Stats()
	if after.Ordinary.UsedCount() <= before.Ordinary.UsedCount() {
		t.Error("Ordinary.UsedCount() did not increase after an ordinary allocation")
	}
	if after.Prebound.UsedCount() <= before.Prebound.UsedCount() {
		t.Error("Prebound.UsedCount() did not increase after a pre-bound allocation")
	}
	if after.Contiguous.UsedCount() != before.Contiguous.UsedCount() {
		t.Error("Contiguous.UsedCount() changed despite no contiguous allocation")
	}

	if err := f.Free(ordinaryPtr); err != nil {
		t.Fatalf("Free(ordinary): %v", err)
	}
	if err := f.Free(preboundPtr); err != nil {
		t.Fatalf("Free(prebound): %v", err)
	}
}
