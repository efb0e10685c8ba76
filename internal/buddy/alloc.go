package buddy

import "unsafe"

// candidate describes a free leaf this pool could serve a request
// from, found while walking a region's buckets (§4.2 "Allocation
// algorithm" step 2).
type candidate struct {
	r           *region
	leafIndex   uint32
	order       uint
	subAt       uintptr // start address of the isolated sub-leaf
	alignOrder  uint    // suborder that isolates the aligned sub-leaf
	returnAddr  uintptr // the precise aligned pointer to hand back (§4.2.5)
}

// findAlignedSubleaf looks for the smallest suborder k' <= order whose
// aligned sub-leaf within the leaf at leafIndex/order still covers
// bytes bytes once aligned to 2^alignLg2, honouring the 2^noCrossLg2
// no-cross boundary (§4.2.5 "Alignment within a leaf"). It returns the
// sub-leaf's own start address, the exact aligned address to return to
// the caller, and the order of that sub-leaf.
func (p *Pool) findAlignedSubleaf(r *region, leafIndex uint32, order uint, bytes int, alignLg2, noCrossLg2 uint) (uintptr, uintptr, uint, bool) {
	leafStart := p.leafAddr(r, leafIndex)
	leafEnd := leafStart + uintptr(p.opts.leafSize(order))
	align := uintptr(1) << alignLg2

	var foundSub, foundAligned uintptr
	var foundOrder uint
	found := false

	for k := order; ; k-- {
		subSize := uintptr(p.opts.leafSize(k))
		// Walk each aligned sub-leaf of this order within the parent
		// leaf looking for one that satisfies alignment and bytes.
		matched := false
		for sub := leafStart; sub+subSize <= leafEnd; sub += subSize {
			aligned := sub
			if align > uintptr(1) {
				aligned = nextMultipleOf(sub, align)
			}
			if aligned+uintptr(bytes) > sub+subSize {
				continue
			}
			if noCrossLg2 > 0 {
				noCross := uintptr(1) << noCrossLg2
				if (aligned)/noCross != (aligned+uintptr(bytes)-1)/noCross {
					continue
				}
			}
			if !bridgeIsAligned(p.bridge, aligned, alignLg2, noCrossLg2) {
				continue
			}
			foundSub, foundAligned, foundOrder, found = sub, aligned, k, true
			matched = true
			break
		}
		// Keep shrinking toward the smallest suborder that still
		// covers the request (§4.2.5); once a smaller order no longer
		// matches, the last match found is the answer.
		if !matched && found {
			break
		}
		if k == 0 {
			break
		}
	}
	return foundSub, foundAligned, foundOrder, found
}

func nextMultipleOf(addr, align uintptr) uintptr {
	rem := addr % align
	if rem == 0 {
		return addr
	}
	return addr + (align - rem)
}

// findCandidate walks every region's buckets from minOrder upward,
// returning the smallest usable candidate (§4.2 step 2).
func (p *Pool) findCandidate(minOrder uint, bytes int, alignLg2, noCrossLg2 uint) *candidate {
	var best *candidate

	for r := p.regions; r != nil; r = r.next {
		for order := minOrder; order < p.opts.MaxOrder; order++ {
			if best != nil && order >= best.order {
				break
			}
			for node := r.buckets[order]; node != nil; node = node.next {
				leafIndex := p.leafIndex(r, uintptr(unsafe.Pointer(node)))
				sub, aligned, subOrder, ok := p.findAlignedSubleaf(r, leafIndex, order, bytes, alignLg2, noCrossLg2)
				if !ok {
					continue
				}
				best = &candidate{r: r, leafIndex: leafIndex, order: order, subAt: sub, alignOrder: subOrder, returnAddr: aligned}
				break
			}
		}
	}
	return best
}

// serveCandidate splits c.r's leaf down to isolate the aligned
// sub-leaf, then splits the surplus down to minOrder, marking the
// final leaf in-use (§4.2 step 4).
func (p *Pool) serveCandidate(c *candidate, minOrder uint) uintptr {
	p.removeFree(c.r, c.leafIndex, c.order, false)

	targetIndex := p.leafIndex(c.r, c.subAt)
	alignedIndex := p.splitTowardTarget(c.r, c.leafIndex, c.order, targetIndex, c.alignOrder)
	finalIndex := p.splitTowardTarget(c.r, alignedIndex, c.alignOrder, targetIndex, minOrder)
	p.setLeafFlags(c.r, finalIndex, true, minOrder)
	return c.returnAddr
}

// Allocate returns a pointer to at least byteCount bytes, aligned to
// max(2^alignLg2, min_leaf_alignment) and not crossing a
// 2^noCrossLg2-byte boundary (§4.2 "allocate"). byteCount 0 returns
// the sentinel pointer.
func (p *Pool) Allocate(byteCount int, alignLg2, noCrossLg2 uint) (int, uintptr, error) {
	if byteCount == 0 {
		return 0, sentinelPtr, nil
	}
	if alignLg2 < p.opts.MinLeafAlignment {
		alignLg2 = p.opts.MinLeafAlignment
	}

	minOrder := p.minOrderForByteCount(byteCount)

	c := p.findCandidate(minOrder, byteCount, alignLg2, noCrossLg2)
	if c == nil {
		if _, err := p.newRegion(minOrder); err != nil {
			return 0, 0, err
		}
		c = p.findCandidate(minOrder, byteCount, alignLg2, noCrossLg2)
		if c == nil {
			return 0, 0, ErrOutOfMemory
		}
	}

	ptr := p.serveCandidate(c, minOrder)
	return p.opts.leafSize(minOrder), ptr, nil
}

// regionOf finds the region owning ptr, or nil.
func (p *Pool) regionOf(ptr uintptr) *region {
	for r := p.regions; r != nil; r = r.next {
		if ptr >= r.start && ptr < r.start+uintptr(r.leafCount)*uintptr(p.opts.MinLeafSize) {
			return r
		}
	}
	return nil
}

// BelongsToInstance reports whether ptr was returned by this pool
// (§4.2 "belongs_to_instance"), used by the façade to route frees.
func (p *Pool) BelongsToInstance(ptr uintptr) bool {
	if ptr == sentinelPtr {
		return true
	}
	return p.regionOf(ptr) != nil
}

// Free releases ptr (§4.2 "free"). Freeing the sentinel is a no-op.
func (p *Pool) Free(ptr uintptr) error {
	if ptr == sentinelPtr {
		return nil
	}
	r := p.regionOf(ptr)
	if r == nil {
		return ErrInvalidArgument
	}
	leafIndex := p.leafIndex(r, ptr)
	inUse, order := p.leafFlags(r, leafIndex)
	if !inUse {
		return ErrInvalidArgument
	}
	p.freeAndMerge(r, leafIndex, order)
	if p.regionFullyFree(r) {
		p.collectGarbage()
	}
	return nil
}

// freeAndMerge implements §4.2 "Freeing and buddy-merge": walk upward
// merging with the buddy at each order as long as it is free and of
// the same order, then insert the (possibly merged) leaf at its final
// order.
func (p *Pool) freeAndMerge(r *region, leafIndex uint32, order uint) {
	for order < p.opts.MaxOrder-1 {
		buddyIndex := buddyIndexAt(leafIndex, order)
		if buddyIndex >= r.leafCount {
			break
		}
		buddyInUse, buddyOrder := p.leafFlags(r, buddyIndex)
		if buddyInUse || buddyOrder != order {
			break
		}
		p.removeFree(r, buddyIndex, order, true)
		if buddyIndex < leafIndex {
			leafIndex = buddyIndex
		}
		order++
	}
	p.insertFree(r, leafIndex, order)
}

// GetAllocatedByteCount returns the leaf size at ptr (§4.2
// "get_allocated_byte_count").
func (p *Pool) GetAllocatedByteCount(ptr uintptr) (int, error) {
	if ptr == sentinelPtr {
		return 0, nil
	}
	r := p.regionOf(ptr)
	if r == nil {
		return 0, ErrInvalidArgument
	}
	leafIndex := p.leafIndex(r, ptr)
	_, order := p.leafFlags(r, leafIndex)
	return p.opts.leafSize(order), nil
}
