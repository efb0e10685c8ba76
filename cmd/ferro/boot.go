package main

import (
	"ferro/internal/kconfig"
	"ferro/internal/klog"
	"ferro/internal/mempool"
	"ferro/internal/pagealloc"
)

// kernel is the simulated boot state: a page allocator, the three-
// instance memory pool façade, and the logger every stage reports
// through. Real Ferro brings these up from KernelMain's staged
// sequence (kernel.go's kernelMainBody); this host build substitutes
// pagealloc's simulation backend for raw hardware frames, since the
// diagnostic console must run without a kernel underneath it.
type kernel struct {
	cfg        kconfig.Kernel
	log        *klog.Logger
	pa         pagealloc.Allocator
	pool       *mempool.Facade
	totalPages int
}

// bootKernel runs the staged bring-up: page allocator, then the
// memory pool façade on top of it. Each stage logs through klog.IRL's
// sibling categories the way kernelMainBody logs each stage via
// FramebufferPuts before moving to the next.
func bootKernel(logger *klog.Logger, totalPages int) (*kernel, error) {
	cfg := kconfig.LoadKernel()
	logger.Debug = cfg.Debug

	logger.Infof(klog.PA, "bringing up page allocator: pageSize=%d totalPages=%d", cfg.PageSize, totalPages)
	pa, err := pagealloc.New(totalPages, cfg.PageSize)
	if err != nil {
		return nil, err
	}

	logger.Infof(klog.BPI, "bringing up memory pool facade (ordinary/contiguous/prebound)")
	pool, err := mempool.New(pa)
	if err != nil {
		return nil, err
	}

	logger.Infof(klog.MPF, "boot complete")
	return &kernel{cfg: cfg, log: logger, pa: pa, pool: pool, totalPages: totalPages}, nil
}
