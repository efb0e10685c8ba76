package buddy

import (
	"unsafe"

	"ferro/internal/leafbits"
)

func (p *Pool) leafAddr(r *region, leafIndex uint32) uintptr {
	return r.start + uintptr(leafIndex)*uintptr(p.opts.MinLeafSize)
}

func (p *Pool) leafIndex(r *region, addr uintptr) uint32 {
	return uint32((addr - r.start) / uintptr(p.opts.MinLeafSize))
}

func (p *Pool) leafFlags(r *region, leafIndex uint32) (inUse bool, order uint) {
	f := leafbits.UnpackLeafFlags(r.bookkeeping[leafIndex])
	return f.InUse, uint(f.Order)
}

func (p *Pool) setLeafFlags(r *region, leafIndex uint32, inUse bool, order uint) {
	packed, err := leafbits.PackLeafFlags(leafbits.LeafFlags{InUse: inUse, Order: uint8(order)})
	if err != nil {
		p.bridge.Panic("buddy: order exceeds bookkeeping byte width")
		return
	}
	r.bookkeeping[leafIndex] = packed
}

func (p *Pool) asFreeNode(addr uintptr) *freeNode {
	return (*freeNode)(unsafe.Pointer(addr))
}

// insertFree pushes the leaf at leafIndex with the given order onto
// the head of its region's free list for that order (§4.2 "Free-list
// discipline").
func (p *Pool) insertFree(r *region, leafIndex uint32, order uint) {
	p.setLeafFlags(r, leafIndex, false, order)
	addr := p.leafAddr(r, leafIndex)
	bridgeUnpoison(p.bridge, addr, unsafe.Sizeof(freeNode{}))
	node := p.asFreeNode(addr)
	node.prev = nil
	node.next = r.buckets[order]
	if r.buckets[order] != nil {
		r.buckets[order].prev = node
	}
	r.buckets[order] = node
	r.freeCount += 1 << order
}

// removeFree splices a known free leaf out of its bucket. The caller
// supplies the order since the leaf's bookkeeping byte already has it;
// markInUse additionally flips the in-use bit (set false when the
// caller intends to immediately re-insert at a different order).
func (p *Pool) removeFree(r *region, leafIndex uint32, order uint, markInUse bool) {
	addr := p.leafAddr(r, leafIndex)
	node := p.asFreeNode(addr)
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		r.buckets[order] = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	}
	bridgePoison(p.bridge, addr, unsafe.Sizeof(freeNode{}))
	r.freeCount -= 1 << order
	if markInUse {
		p.setLeafFlags(r, leafIndex, true, order)
	}
}

// splitTowardTarget repeatedly halves the free leaf at leafIndex/order,
// at each step keeping whichever half contains targetLeafIndex and
// inserting the other half as free at its own order, until the kept
// half's order reaches targetOrder (§4.2 "split the unaligned prefix
// ... until the first aligned sub-leaf ... is isolated; split the
// trailing surplus until min_order is reached"). The leaf is assumed
// already removed from its free list; it returns with bookkeeping set
// to free/targetOrder but NOT re-inserted, so the caller can
// immediately mark it in-use or keep splitting.
func (p *Pool) splitTowardTarget(r *region, leafIndex uint32, order uint, targetLeafIndex uint32, targetOrder uint) uint32 {
	for order > targetOrder {
		order--
		upperIndex := leafIndex + (1 << order)
		if targetLeafIndex >= upperIndex {
			p.insertFree(r, leafIndex, order)
			leafIndex = upperIndex
		} else {
			p.insertFree(r, upperIndex, order)
		}
	}
	p.setLeafFlags(r, leafIndex, false, order)
	return leafIndex
}

// buddyIndexAt computes the buddy leaf index of leafIndex at order
// within r, per §3's invariant: buddy = (L - start) XOR (2^order) +
// start, expressed here in leaf-index units.
func buddyIndexAt(leafIndex uint32, order uint) uint32 {
	return leafIndex ^ (1 << order)
}

// newRegion requests a fresh region from the bridge sized to
// regionOrder, initialises its bookkeeping to all-free, and inserts it
// at the head of the pool's region list (§4.2 step 3). It tries
// successively smaller orders down to minOrder on allocation failure.
func (p *Pool) newRegion(minOrder uint) (*region, error) {
	regionOrder := clampOrder(p.opts.OptimalMinRegionOrder, minOrder, p.opts.MaxOrder-1)

	for order := regionOrder; ; order-- {
		leafCount := uint32(1) << order
		regionBytes := p.regionSizeForLeafCount(leafCount)
		regionPages := regionBytes / p.opts.PageSize
		if regionPages == 0 {
			regionPages = 1
		}
		headerPages := p.headerPagesForLeafCount(leafCount)

		start, err := p.bridge.Allocate(regionPages, 0, 0)
		if err == nil {
			headerPtr, herr := p.bridge.AllocateHeader(headerPages)
			if herr == nil {
				r := &region{
					start:       start,
					pageCount:   regionPages,
					headerPtr:   headerPtr,
					headerPages: headerPages,
					leafCount:   leafCount,
					bookkeeping: unsafe.Slice((*byte)(unsafe.Pointer(headerPtr)), leafCount),
				}
				for i := range r.bookkeeping {
					r.bookkeeping[i] = 0
				}
				p.populateInitialFreeList(r)
				r.next = p.regions
				p.regions = r
				return r, nil
			}
			_ = p.bridge.Free(regionPages, start)
		}
		if order == minOrder {
			return nil, ErrOutOfMemory
		}
	}
}

// populateInitialFreeList decomposes leafCount into a greedy sum of
// maximal power-of-two orders and inserts each as a free leaf (§4.2
// step 3).
func (p *Pool) populateInitialFreeList(r *region) {
	remaining := r.leafCount
	var leafIndex uint32
	for remaining > 0 {
		order := p.maxOrderForLeafCount(remaining)
		for (uint32(1) << order) > remaining {
			order--
		}
		p.insertFree(r, leafIndex, order)
		leafIndex += 1 << order
		remaining -= 1 << order
	}
}

// regionFullyFree reports whether every leaf in r is currently free.
func (p *Pool) regionFullyFree(r *region) bool {
	return r.freeCount == r.leafCount
}

// collectGarbage implements §4.2's region GC: after a free leaves a
// region fully free, keep the MaxKeptRegionCount largest fully-free
// regions and release the rest through the bridge.
func (p *Pool) collectGarbage() {
	var fullyFree []*region
	for r := p.regions; r != nil; r = r.next {
		if p.regionFullyFree(r) {
			fullyFree = append(fullyFree, r)
		}
	}
	if len(fullyFree) <= p.opts.MaxKeptRegionCount {
		return
	}

	// Sort descending by leaf count (selection sort: region counts are
	// tiny in practice, and this avoids pulling in sort for one pass).
	for i := 0; i < len(fullyFree); i++ {
		max := i
		for j := i + 1; j < len(fullyFree); j++ {
			if fullyFree[j].leafCount > fullyFree[max].leafCount {
				max = j
			}
		}
		fullyFree[i], fullyFree[max] = fullyFree[max], fullyFree[i]
	}

	toRelease := make(map[*region]bool)
	for _, r := range fullyFree[p.opts.MaxKeptRegionCount:] {
		toRelease[r] = true
	}

	var newHead *region
	var tail *region
	for r := p.regions; r != nil; {
		next := r.next
		if toRelease[r] {
			_ = p.bridge.Free(r.pageCount, r.start)
			_ = p.bridge.FreeHeader(r.headerPages, r.headerPtr)
		} else {
			r.next = nil
			if newHead == nil {
				newHead = r
				tail = r
			} else {
				tail.next = r
				tail = r
			}
		}
		r = next
	}
	p.regions = newHead
}
