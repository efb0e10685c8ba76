package image

import (
	"os"

	"ferro/internal/machofmt"

	mmap "github.com/edsrzf/mmap-go"
)

const pageSize = 4096

func pageRoundUp(n uint64) int {
	if n == 0 {
		return 0
	}
	return int((n + pageSize - 1) / pageSize * pageSize)
}

// loadFile implements §4.4's ten-step load algorithm for a single
// image, given its already-open file handle and path. It does not
// touch the registry or dependency graph edges — the caller
// (Registry.finishLoad) does that around this call so recursive
// loads during dependency resolution see a consistent registry.
func loadFile(f *os.File, path string) (*Image, error) {
	mf, err := machofmt.Parse(f)
	if err != nil {
		return nil, translateParseErr(err)
	}

	// Step 3: sizing pass.
	var fileLoadBase, fileLoadTop uint64
	haveBase := false
	for _, sc := range mf.Segments {
		if sc.IsReserveAsInvalid() {
			continue
		}
		if !haveBase || sc.Addr < fileLoadBase {
			fileLoadBase = sc.Addr
			haveBase = true
		}
		if top := sc.Addr + sc.Size; top > fileLoadTop {
			fileLoadTop = top
		}
	}
	if !haveBase {
		fileLoadBase, fileLoadTop = 0, 0
	}
	size := fileLoadTop - fileLoadBase

	// Step 4: backing storage. An anonymous shared mapping stands in
	// for the kernel shared-memory object the spec describes (§4.4
	// step 4), sized to a whole number of pages; bytes beyond each
	// segment's file_size are left zero, matching the kernel page
	// allocator's zero-fill guarantee.
	mapLen := pageRoundUp(size)
	if mapLen == 0 {
		mapLen = pageSize
	}
	data, err := mmap.MapRegion(nil, mapLen, mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, ErrUnknown
	}

	img := &Image{
		Path:         path,
		Base:         sliceBase(data),
		Size:         uintptr(size),
		file:         mf,
		data:         data,
		fileLoadBase: fileLoadBase,
	}

	// Step 5: loading pass.
	var entryFileOffset uint64
	haveEntryFileOffset := false
	for _, sc := range mf.Segments {
		seg := Segment{
			Name:       sc.SegmentName(),
			VMAddr:     sc.Addr,
			Size:       sc.Size,
			FileOffset: sc.Offset,
			FileSize:   sc.FileSz,
			Reserved:   sc.IsReserveAsInvalid(),
		}
		if !seg.Reserved {
			shmOffset := sc.Addr - fileLoadBase
			seg.LoadAddr = img.Base + uintptr(shmOffset)
			if sc.FileSz > 0 {
				if shmOffset+sc.FileSz > uint64(len(data)) {
					return nil, ErrUnknown
				}
				dst := data[shmOffset : shmOffset+sc.FileSz]
				if _, err := f.ReadAt(dst, int64(sc.Offset)); err != nil {
					return nil, ErrUnknown
				}
			}
		}
		for _, s := range sc.Sections {
			seg.Sections = append(seg.Sections, Section{
				Name:        s.SectionName(),
				SegmentName: seg.Name,
				Address:     s.Addr,
				Size:        s.Size,
				FileOffset:  s.Offset,
			})
		}
		img.Segments = append(img.Segments, seg)
	}

	if mf.EntryPoint != nil {
		entryFileOffset = mf.EntryPoint.EntryOffset
		haveEntryFileOffset = true
	} else if mf.UnixThread != nil {
		// LC_UNIXTHREAD carries architecture-specific register state
		// IRL does not decode (§4.4 step 5 notes only LC_MAIN's offset
		// is honoured for entry resolution in this core).
	}

	if mf.CodeSignature != nil {
		img.signature = parseSignature(f, *mf.CodeSignature)
	}

	// Step 5 (continued): the compressed dynamic linker info blobs.
	if mf.DyldInfo != nil {
		di := *mf.DyldInfo
		rebaseBlob, err := readBlob(f, di.RebaseOff, di.RebaseSize)
		if err != nil {
			return nil, err
		}
		bindBlob, err := readBlob(f, di.BindOff, di.BindSize)
		if err != nil {
			return nil, err
		}
		weakBindBlob, err := readBlob(f, di.WeakBindOff, di.WeakBindSize)
		if err != nil {
			return nil, err
		}
		exportBlob, err := readBlob(f, di.ExportOff, di.ExportSize)
		if err != nil {
			return nil, err
		}
		img.exportTrie = exportBlob
		img.rebaseBlob = rebaseBlob
		img.bindBlob = append(append([]byte{}, bindBlob...), weakBindBlob...)
		lazyBindBlob, err := readBlob(f, di.LazyBindOff, di.LazyBindSize)
		if err != nil {
			return nil, err
		}
		img.lazyBindBlob = lazyBindBlob
	}

	// Step 6: entry resolution.
	if haveEntryFileOffset {
		if sect, ok := entrySection(mf, entryFileOffset); ok {
			img.EntryAddress = uintptr(sect.Addr+(entryFileOffset-uint64(sect.Offset))) + uintptr(img.slide())
			img.HasEntry = true
		}
	}

	return img, nil
}

func readBlob(f *os.File, off, size uint32) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, int64(off)); err != nil {
		return nil, ErrUnknown
	}
	return buf, nil
}

// entrySection finds the unique section whose file range contains
// entryFileOffset (§4.4 step 6).
func entrySection(mf *machofmt.File, entryFileOffset uint64) (machofmt.Section64, bool) {
	for _, sc := range mf.Segments {
		for _, s := range sc.Sections {
			if entryFileOffset >= uint64(s.Offset) && entryFileOffset < uint64(s.Offset)+s.Size {
				return s, true
			}
		}
	}
	return machofmt.Section64{}, false
}

func translateParseErr(err error) error {
	switch err {
	case machofmt.ErrBadMagic, machofmt.ErrUnsupportedFileType:
		return ErrInvalidArgument
	case machofmt.ErrShortRead:
		return ErrUnknown
	default:
		return err
	}
}
