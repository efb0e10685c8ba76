package image

import (
	"os"
	"sync"

	"ferro/internal/machofmt"
)

// Registry is the image registry & loader (IRL, §4.4): a string-keyed
// map over loaded images guarded by a single process-wide API mutex
// (§5 "IRL is guarded by a single process-wide API mutex. Recursive
// calls during dependency resolution are expected and permitted").
type Registry struct {
	mu     sync.Mutex
	images map[string]*Image

	initDone bool
	main     *Image
}

// NewRegistry constructs an empty, uninitialised registry.
func NewRegistry() *Registry {
	return &Registry{images: make(map[string]*Image)}
}

// Init is the one-shot images_init(&out_process_image) entry point
// (§4.4): opens path as the process binary, loads it, and records it
// as the main executable. A second call fails with
// ErrAlreadyInProgress.
func (r *Registry) Init(path string) (*Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.initDone {
		return nil, ErrAlreadyInProgress
	}
	img, err := r.loadByPathLocked(path)
	if err != nil {
		return nil, err
	}
	r.initDone = true
	r.main = img
	return img, nil
}

// LoadImageByName is load_image_by_name (§4.4): resolves name via the
// recursive dependency loader, behind the API mutex.
func (r *Registry) LoadImageByName(name string) (*Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadByPathLocked(name)
}

// LoadImageFromFile is load_image_from_file (§4.4): identical to
// LoadImageByName but the caller already has an open handle; the path
// argument, not the handle's name, is used as the registry key.
func (r *Registry) LoadImageFromFile(f *os.File, path string) (*Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if img, ok := r.images[path]; ok {
		return img, nil
	}
	return r.finishLoad(f, path)
}

// FindLoadedImageByName is a lookup-only operation; it does not load.
func (r *Registry) FindLoadedImageByName(name string) (*Image, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	img, ok := r.images[name]
	return img, ok
}

// ImageContainingAddress is a linear scan under the API lock (§4.4
// "image_containing_address").
func (r *Registry) ImageContainingAddress(addr uintptr) *Image {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, img := range r.images {
		if img.ContainsAddress(addr) {
			return img
		}
	}
	return nil
}

// OpenProcessBinaryRaw duplicates the file handle for the initial
// binary (§4.4). Ferro, having no live process file descriptor table,
// reopens the main image's path instead of dup()-ing a retained fd.
func (r *Registry) OpenProcessBinaryRaw() (*os.File, error) {
	r.mu.Lock()
	main := r.main
	r.mu.Unlock()
	if main == nil {
		return nil, ErrNoSuchResource
	}
	f, err := os.Open(main.Path)
	if err != nil {
		return nil, ErrNoSuchResource
	}
	return f, nil
}

// loadByPathLocked implements steps 1 and 7-10 of §4.4's load
// algorithm around loadFile's steps 2-6/9(partial); r.mu is already
// held by the caller, and recursive calls during dependency resolution
// re-enter it (Go mutexes are not naturally re-entrant, so this
// package's lock discipline is "held once per top-level call", with
// recursion happening via loadByPathLocked calling itself directly
// rather than through the exported, locking entry points — matching
// §5's "recursive calls ... are expected and permitted" without
// requiring a re-entrant mutex).
func (r *Registry) loadByPathLocked(path string) (*Image, error) {
	if img, ok := r.images[path]; ok {
		return img, nil // step 1: idempotent duplicate load
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, ErrNoSuchResource
	}
	defer f.Close()
	return r.finishLoad(f, path)
}

func (r *Registry) finishLoad(f *os.File, path string) (*Image, error) {
	r.images[path] = nil // step 1: reserve the slot before recursing

	img, err := loadFile(f, path)
	if err != nil {
		delete(r.images, path)
		return nil, err
	}
	img.registry = r

	// Step 7: dependency pass.
	for _, d := range img.file.Dylibs {
		dep, err := r.loadByPathLocked(d.Path)
		if err != nil {
			delete(r.images, path)
			return nil, err
		}
		img.Dependencies = append(img.Dependencies, dep)
		dep.Dependents = append(dep.Dependents, img)
	}
	for _, d := range img.file.Reexports {
		if dep, ok := r.images[d.Path]; ok && dep != nil {
			img.Reexports = append(img.Reexports, dep)
		}
	}

	// Step 9: relocations (rebase + eager bind; lazy-bind is deferred
	// to package lazybind).
	resolve := img.resolver()
	img.applyRebase(img.rebaseBlob)
	img.applyBind(img.bindBlob, resolve)

	r.images[path] = img
	return img, nil
}

// resolver builds the ordinalResolver an image's bind opcode stream
// (and, later, LBT's lazy-bind binder) uses to turn a library ordinal
// into a concrete dependency image (§4.4 "Tie-breaks: library ordinals
// follow Mach-O semantics for special self/main/flat values").
func (img *Image) resolver() ordinalResolver {
	return func(ord machofmt.LibraryOrdinal) *Image {
		switch ord {
		case machofmt.OrdinalSelf:
			return img
		case machofmt.OrdinalMainExecutable:
			return img.registry.main
		case machofmt.OrdinalFlatLookup, machofmt.OrdinalWeakLookup:
			return img.flatLookupOwner()
		}
		idx := ord.DependencyIndex()
		if idx < 0 || idx >= len(img.Dependencies) {
			return nil
		}
		return img.Dependencies[idx]
	}
}

// flatLookupOwner is a placeholder flat-namespace search: it returns
// img itself so callers fall through to a self/export-trie miss rather
// than crash; a full flat namespace would need the registry's complete
// image list, which applyBind's resolver does not thread through here
// (flat-namespace images are rare outside two-level-namespace-disabled
// binaries, which SPEC_FULL's supplemented surface does not target).
func (img *Image) flatLookupOwner() *Image {
	return img
}
