package mempool

import "ferro/internal/buddy"

// FacadeStats reports per-instance occupancy (§E.3 supplemented
// feature), consumed by cmd/ferro's diagnostic console.
type FacadeStats struct {
	Ordinary   buddy.Stats
	Contiguous buddy.Stats
	Prebound   buddy.Stats
}

// Stats snapshots all three instances, taking and releasing each
// instance's lock in turn rather than all three at once (matching
// §5's "locks do not nest across instances").
func (f *Facade) Stats() FacadeStats {
	snapshot := func(inst *instance) buddy.Stats {
		inst.mu.Lock()
		defer inst.mu.Unlock()
		return inst.pool.Stats()
	}
	return FacadeStats{
		Ordinary:   snapshot(f.ordinary),
		Contiguous: snapshot(f.contiguous),
		Prebound:   snapshot(f.prebound),
	}
}
