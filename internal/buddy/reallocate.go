package buddy

// Reallocate implements §4.2 "reallocate"'s four cases, preserving
// existing bytes up to min(old_bytes, new_bytes) in every case.
func (p *Pool) Reallocate(old uintptr, newByteCount int, alignLg2, noCrossLg2 uint) (int, uintptr, error) {
	if old == 0 || old == sentinelPtr {
		return p.Allocate(newByteCount, alignLg2, noCrossLg2)
	}
	if newByteCount == 0 {
		if err := p.Free(old); err != nil {
			return 0, 0, err
		}
		return 0, sentinelPtr, nil
	}

	r := p.regionOf(old)
	if r == nil {
		return 0, 0, ErrInvalidArgument
	}
	leafIndex := p.leafIndex(r, old)
	inUse, oldOrder := p.leafFlags(r, leafIndex)
	if !inUse {
		return 0, 0, ErrInvalidArgument
	}

	if alignLg2 < p.opts.MinLeafAlignment {
		alignLg2 = p.opts.MinLeafAlignment
	}
	newOrder := p.minOrderForByteCount(newByteCount)

	// Same order: honour alignment/boundary in place or fall through
	// to allocate-copy-free.
	if newOrder == oldOrder {
		if p.leafHonoursAlignment(old, r, oldOrder, alignLg2, noCrossLg2) {
			return p.opts.leafSize(oldOrder), old, nil
		}
		return p.reallocateByCopy(old, r, leafIndex, oldOrder, newByteCount, alignLg2, noCrossLg2)
	}

	// Shrink in place: reduce the leaf's order and re-insert the freed
	// tail leaves at descending orders.
	if newOrder < oldOrder {
		if p.leafHonoursAlignment(old, r, newOrder, alignLg2, noCrossLg2) {
			p.setLeafFlags(r, leafIndex, true, newOrder)
			tailIndex := leafIndex + (1 << newOrder)
			for order := newOrder; order < oldOrder; order++ {
				p.insertFree(r, tailIndex, order)
				tailIndex += 1 << order
			}
			return p.opts.leafSize(newOrder), old, nil
		}
		return p.reallocateByCopy(old, r, leafIndex, oldOrder, newByteCount, alignLg2, noCrossLg2)
	}

	// Grow: try in-place expansion by consuming forward buddies of the
	// same order whose in-use bit is clear, one order at a time.
	if p.tryExpandInPlace(r, leafIndex, oldOrder, newOrder) {
		if p.leafHonoursAlignment(old, r, newOrder, alignLg2, noCrossLg2) {
			return p.opts.leafSize(newOrder), old, nil
		}
		// Expansion succeeded but the grown leaf doesn't honour the
		// requested alignment; fall back to allocate-copy-free from
		// the now-larger in-use leaf.
		return p.reallocateByCopy(old, r, leafIndex, newOrder, newByteCount, alignLg2, noCrossLg2)
	}

	return p.reallocateByCopy(old, r, leafIndex, oldOrder, newByteCount, alignLg2, noCrossLg2)
}

// leafHonoursAlignment reports whether the leaf at ptr/order already
// satisfies the requested alignment and no-cross boundary, so an
// in-place result can be returned without reshaping.
func (p *Pool) leafHonoursAlignment(ptr uintptr, r *region, order uint, alignLg2, noCrossLg2 uint) bool {
	align := uintptr(1) << alignLg2
	if ptr%align != 0 {
		return false
	}
	if noCrossLg2 > 0 {
		noCross := uintptr(1) << noCrossLg2
		size := uintptr(p.opts.leafSize(order))
		if ptr/noCross != (ptr+size-1)/noCross {
			return false
		}
	}
	return bridgeIsAligned(p.bridge, ptr, alignLg2, noCrossLg2)
}

// tryExpandInPlace attempts to grow the leaf at leafIndex/oldOrder up
// to targetOrder by repeatedly consuming its forward buddy, provided
// that buddy is free and exactly the expected order each step (§4.2
// "reallocate").
func (p *Pool) tryExpandInPlace(r *region, leafIndex uint32, oldOrder, targetOrder uint) bool {
	order := oldOrder
	for order < targetOrder {
		buddyIndex := buddyIndexAt(leafIndex, order)
		if buddyIndex != leafIndex+(1<<order) {
			// Expansion only ever consumes the forward buddy, never
			// merges backward into a lower address (that would move
			// the pointer, which in-place growth must not do).
			return false
		}
		if buddyIndex >= r.leafCount {
			return false
		}
		buddyInUse, buddyOrder := p.leafFlags(r, buddyIndex)
		if buddyInUse || buddyOrder != order {
			return false
		}
		p.removeFree(r, buddyIndex, order, true)
		order++
	}
	p.setLeafFlags(r, leafIndex, true, order)
	return true
}

// reallocateByCopy is the fallback path: allocate fresh, copy
// min(old, new) bytes, free the old leaf.
func (p *Pool) reallocateByCopy(old uintptr, r *region, leafIndex uint32, oldOrder uint, newByteCount int, alignLg2, noCrossLg2 uint) (int, uintptr, error) {
	newSize, newPtr, err := p.Allocate(newByteCount, alignLg2, noCrossLg2)
	if err != nil {
		return 0, 0, err
	}
	oldSize := p.opts.leafSize(oldOrder)
	n := oldSize
	if newByteCount < n {
		n = newByteCount
	}
	copy(memSet2(newPtr, n), memSet2(old, n))
	if err := p.Free(old); err != nil {
		return 0, 0, err
	}
	return newSize, newPtr, nil
}
