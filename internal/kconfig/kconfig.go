// Package kconfig reads Ferro/Dymple's boot and runtime tunables from
// the environment using github.com/xyproto/env/v2, the configuration
// library carried over from the xyproto-flapc example repo. cmd/ferro
// uses it for boot-parameter overrides in host-simulation builds where
// no ATAGs/DTB are available; cmd/dymple uses it for process-level
// loader configuration.
package kconfig

import (
	"strings"

	"github.com/xyproto/env/v2"
)

// Kernel holds the boot/runtime tunables PA/BPI/MPF read at startup
// (§6's page size, max order, prefault page count, plus the debug
// flag klog gates on).
type Kernel struct {
	PageSize      int
	MaxOrder      int
	PrefaultPages int
	Debug         bool
}

// DefaultKernel returns the tunables the teacher kernel hard-codes
// (4 KiB pages, order 32, a four-page prefault stack) as the fallback
// every env.*Or lookup falls back to when unset.
func DefaultKernel() Kernel {
	return Kernel{
		PageSize:      4096,
		MaxOrder:      32,
		PrefaultPages: 4,
		Debug:         false,
	}
}

// LoadKernel reads FERRO_PAGE_SIZE, FERRO_MAX_ORDER, FERRO_PREFAULT_PAGES
// and FERRO_DEBUG, falling back to DefaultKernel's values for anything
// unset or unparsable.
func LoadKernel() Kernel {
	d := DefaultKernel()
	return Kernel{
		PageSize:      env.IntOr("FERRO_PAGE_SIZE", d.PageSize),
		MaxOrder:      env.IntOr("FERRO_MAX_ORDER", d.MaxOrder),
		PrefaultPages: env.IntOr("FERRO_PREFAULT_PAGES", d.PrefaultPages),
		Debug:         env.BoolOr("FERRO_DEBUG", d.Debug),
	}
}

// Loader holds dymple's process-level configuration. SearchPaths is
// read from the environment but nothing consults it: dependencies are
// opened only by the paths recorded in LC_LOAD_DYLIB commands.
// TraceLazyBind makes dymple's load command enable klog debug output.
type Loader struct {
	SearchPaths   []string
	TraceLazyBind bool
}

// LoadLoader reads DYMPLE_SEARCH_PATHS (colon-separated) and
// DYMPLE_TRACE_LAZY_BIND from the environment.
func LoadLoader() Loader {
	var paths []string
	if raw := env.StrOr("DYMPLE_SEARCH_PATHS", ""); raw != "" {
		paths = strings.Split(raw, ":")
	}
	return Loader{
		SearchPaths:   paths,
		TraceLazyBind: env.BoolOr("DYMPLE_TRACE_LAZY_BIND", false),
	}
}
