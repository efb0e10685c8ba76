// Package image implements the image registry & loader (IRL) of §4.4:
// a process-wide registry of loaded Mach-O images, the load algorithm,
// dependency graph construction, export-trie-backed symbol resolution,
// and eager rebase/bind relocation. Lazy-bind relocations are deferred
// to package lazybind (§4.4 step 9, §4.5).
package image

import (
	"errors"
	"sync"

	"ferro/internal/machofmt"

	mmap "github.com/edsrzf/mmap-go"
)

var (
	// ErrAlreadyInProgress is returned by Init on a second call (§7).
	ErrAlreadyInProgress = errors.New("image: already in progress")
	// ErrNoSuchResource covers an image not found in the registry or a
	// file path that cannot be opened (§7).
	ErrNoSuchResource = errors.New("image: no such resource")
	// ErrInvalidArgument covers a malformed header or a critical load
	// command the loader does not understand (§7).
	ErrInvalidArgument = errors.New("image: invalid argument")
	// ErrUnknown covers a short read or other sanity failure (§7).
	ErrUnknown = errors.New("image: unknown failure")
)

// Segment is a loaded segment's runtime metadata (§4.4 step 4 "Copy
// segment and section metadata").
type Segment struct {
	Name          string
	VMAddr        uint64 // as declared in the file
	Size          uint64
	FileOffset    uint64
	FileSize      uint64
	Reserved      bool // reserve-as-invalid (e.g. __PAGEZERO)
	LoadAddr      uintptr
	Sections      []Section
}

// Section is a loaded section's runtime metadata.
type Section struct {
	Name       string
	SegmentName string
	Address    uint64
	Size       uint64
	FileOffset uint32
}

// Image is one loaded Mach-O binary: an executable, a dylib, or the
// dynamic linker itself (§3 "Data model").
type Image struct {
	Path string

	registry *Registry

	Base uintptr
	Size uintptr

	Segments []Segment

	EntryAddress uintptr
	HasEntry     bool

	Dependencies []*Image
	Dependents   []*Image
	Reexports    []*Image

	file         *machofmt.File
	data         mmap.MMap
	fileLoadBase uint64

	exportTrie []byte
	rebaseBlob []byte
	bindBlob   []byte

	lazyBindBlob []byte

	exportsMu sync.Mutex
	exports   map[string]exportEntry

	signature *SignatureInfo
}

// lookupExport resolves name against the image's export trie, caching
// hits (and, to avoid re-walking on repeated misses, the miss itself)
// in img.exports (§4.4 "Exports table init ... population is lazy on
// first resolve").
func (img *Image) lookupExport(name string) (exportEntry, bool) {
	img.exportsMu.Lock()
	defer img.exportsMu.Unlock()
	if img.exports == nil {
		img.exports = make(map[string]exportEntry)
	}
	if e, ok := img.exports[name]; ok {
		return e, e.Address != invalidExportMarker
	}
	e, ok := walkExportTrie(img.exportTrie, name)
	if !ok {
		img.exports[name] = exportEntry{Address: invalidExportMarker}
		return exportEntry{}, false
	}
	img.exports[name] = e
	return e, true
}

const invalidExportMarker = ^uint64(0)

// LookupSymbol resolves name against this image's export trie and
// returns its absolute runtime address (§4.4 "Exports table", exposed
// for cmd/dymple's `syms` inspection command).
func (img *Image) LookupSymbol(name string) (uintptr, bool) {
	e, ok := img.lookupExport(name)
	if !ok {
		return 0, false
	}
	return img.Base + uintptr(e.Address), true
}

// ContainsAddress reports whether addr falls within this image's
// mapped range (§4.4 "image_containing_address").
func (img *Image) ContainsAddress(addr uintptr) bool {
	return addr >= img.Base && addr < img.Base+img.Size
}

// slide is the runtime offset applied to every file-declared vm_addr
// to obtain a real in-process address (image.Base corresponds to
// fileLoadBase).
func (img *Image) slide() int64 {
	return int64(img.Base) - int64(img.fileLoadBase)
}

// segmentContainingVMAddr finds the segment whose VM range contains a
// file-relative vm address. Nothing in this package calls it.
func (img *Image) segmentContainingVMAddr(vmAddr uint64) (*Segment, bool) {
	for i := range img.Segments {
		s := &img.Segments[i]
		if s.Reserved {
			continue
		}
		if vmAddr >= s.VMAddr && vmAddr < s.VMAddr+s.Size {
			return s, true
		}
	}
	return nil, false
}
