package image

import "ferro/internal/machofmt"

// ResolveLazyBind decodes a single lazy-bind entry starting at offset
// within this image's lazy-bind opcode stream, resolves the named
// symbol through the image's ordinary dependency resolver, patches the
// bound slot in place (so a second call through the same stub would
// see an already-resolved pointer, matching real lazy-bind caching),
// and returns the resolved address (§4.4 step 9 note, §4.5 "symbol
// resolution at lazy-bind time"). It is the Go-level binder package
// lazybind's trampoline calls into.
func (img *Image) ResolveLazyBind(offset uint32) (uintptr, error) {
	if img.lazyBindBlob == nil || offset >= uint32(len(img.lazyBindBlob)) {
		return 0, ErrInvalidArgument
	}
	resolve := img.resolver()
	stream := img.lazyBindBlob[offset:]

	var (
		ordinal    machofmt.LibraryOrdinal
		symbolName string
		addend     int64
		segIndex   int
		segOffset  uint64
	)

	i := 0
	for i < len(stream) {
		op := stream[i] & 0xF0
		imm := stream[i] & 0x0F
		i++
		switch op {
		case bindOpDone:
			return 0, ErrUnknown
		case bindOpSetDylibOrdinalImm:
			ordinal = machofmt.LibraryOrdinal(imm)
		case bindOpSetDylibOrdinalULEB:
			v, n := uleb128(stream[i:])
			ordinal = machofmt.LibraryOrdinal(v)
			i += n
		case bindOpSetDylibSpecialImm:
			if imm == 0 {
				ordinal = machofmt.OrdinalSelf
			} else {
				ordinal = machofmt.LibraryOrdinal(int8(imm | 0xF0))
			}
		case bindOpSetSymbolTrailingFlagsImm:
			start := i
			for i < len(stream) && stream[i] != 0 {
				i++
			}
			symbolName = string(stream[start:i])
			i++
		case bindOpSetTypeImm:
			// only pointer binds are represented in this core.
		case bindOpSetAddendSLEB:
			v, n := sleb128(stream[i:])
			addend = v
			i += n
		case bindOpSetSegmentAndOffsetULEB:
			segIndex = int(imm)
			v, n := uleb128(stream[i:])
			segOffset = v
			i += n
		case bindOpAddAddrULEB:
			v, n := uleb128(stream[i:])
			segOffset += v
			i += n
		case bindOpDoBind:
			return img.doLazyBind(resolve, ordinal, symbolName, addend, segIndex, segOffset)
		default:
			return 0, ErrInvalidArgument
		}
	}
	return 0, ErrUnknown
}

func (img *Image) doLazyBind(resolve ordinalResolver, ordinal machofmt.LibraryOrdinal, symbolName string, addend int64, segIndex int, segOffset uint64) (uintptr, error) {
	target := resolve(ordinal)
	if target == nil {
		return 0, ErrNoSuchResource
	}
	entry, ok := target.lookupExport(symbolName)
	if !ok {
		return 0, ErrNoSuchResource
	}
	resolved := target.Base + uintptr(int64(entry.Address)+addend)

	if segIndex >= 0 && segIndex < len(img.Segments) {
		seg := &img.Segments[segIndex]
		if !seg.Reserved && segOffset+pointerSize <= seg.Size {
			writePtr(seg.LoadAddr+uintptr(segOffset), resolved)
		}
	}
	return resolved, nil
}
