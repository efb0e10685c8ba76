package image

import "ferro/internal/machofmt"

// Rebase opcodes (§6 Mach-O compressed dyld info encoding).
const (
	rebaseOpDone                         = 0x00
	rebaseOpSetTypeImm                   = 0x10
	rebaseOpSetSegmentAndOffsetULEB      = 0x20
	rebaseOpAddAddrULEB                  = 0x30
	rebaseOpAddAddrImmScaled             = 0x40
	rebaseOpDoRebaseImmTimes             = 0x50
	rebaseOpDoRebaseULEBTimes            = 0x60
	rebaseOpDoRebaseAddAddrULEB          = 0x70
	rebaseOpDoRebaseULEBTimesSkippingULEB = 0x80
)

// Bind opcodes.
const (
	bindOpDone                          = 0x00
	bindOpSetDylibOrdinalImm            = 0x10
	bindOpSetDylibOrdinalULEB           = 0x20
	bindOpSetDylibSpecialImm            = 0x30
	bindOpSetSymbolTrailingFlagsImm     = 0x40
	bindOpSetTypeImm                    = 0x50
	bindOpSetAddendSLEB                 = 0x60
	bindOpSetSegmentAndOffsetULEB       = 0x70
	bindOpAddAddrULEB                   = 0x80
	bindOpDoBind                        = 0x90
	bindOpDoBindAddAddrULEB             = 0xA0
	bindOpDoBindAddAddrImmScaled        = 0xB0
	bindOpDoBindULEBTimesSkippingULEB   = 0xC0
)

const pointerSize = 8

// applyRebase walks the rebase opcode stream, adding img's slide to
// every pointer-sized rebase location it names (§4.4 step 9).
func (img *Image) applyRebase(stream []byte) {
	if len(stream) == 0 {
		return
	}
	var segIndex int
	var segOffset uint64
	slide := img.slide()

	rebaseAt := func() {
		if segIndex < 0 || segIndex >= len(img.Segments) {
			return
		}
		seg := &img.Segments[segIndex]
		if seg.Reserved || segOffset+pointerSize > seg.Size {
			return
		}
		addr := seg.LoadAddr + uintptr(segOffset)
		ptr := readPtr(addr)
		writePtr(addr, uintptr(int64(ptr)+slide))
	}

	i := 0
	for i < len(stream) {
		op := stream[i] & 0xF0
		imm := stream[i] & 0x0F
		i++
		switch op {
		case rebaseOpDone:
			return
		case rebaseOpSetTypeImm:
			// type is not distinguished here: every rebase this core
			// applies is a pointer rebase.
		case rebaseOpSetSegmentAndOffsetULEB:
			segIndex = int(imm)
			v, n := uleb128(stream[i:])
			segOffset = v
			i += n
		case rebaseOpAddAddrULEB:
			v, n := uleb128(stream[i:])
			segOffset += v
			i += n
		case rebaseOpAddAddrImmScaled:
			segOffset += uint64(imm) * pointerSize
		case rebaseOpDoRebaseImmTimes:
			for k := byte(0); k < imm; k++ {
				rebaseAt()
				segOffset += pointerSize
			}
		case rebaseOpDoRebaseULEBTimes:
			count, n := uleb128(stream[i:])
			i += n
			for k := uint64(0); k < count; k++ {
				rebaseAt()
				segOffset += pointerSize
			}
		case rebaseOpDoRebaseAddAddrULEB:
			rebaseAt()
			v, n := uleb128(stream[i:])
			segOffset += v + pointerSize
			i += n
		case rebaseOpDoRebaseULEBTimesSkippingULEB:
			count, n := uleb128(stream[i:])
			i += n
			skip, n2 := uleb128(stream[i:])
			i += n2
			for k := uint64(0); k < count; k++ {
				rebaseAt()
				segOffset += pointerSize + skip
			}
		default:
			return
		}
	}
}

// ordinalResolver is supplied by the caller (registry.go) to look up a
// dependency by its bind-opcode library ordinal.
type ordinalResolver func(ord machofmt.LibraryOrdinal) *Image

// applyBind walks the (eager) bind opcode stream, resolving each named
// symbol through the dependency that resolve returns (or self, for
// OrdinalSelf) and writing the resolved address plus addend into the
// named GOT-style slot (§4.4 step 9; lazy-bind opcodes are a separate
// stream left for package lazybind, §4.4 step 9 note).
func (img *Image) applyBind(stream []byte, resolve ordinalResolver) {
	if len(stream) == 0 {
		return
	}
	var (
		ordinal    machofmt.LibraryOrdinal
		symbolName string
		addend     int64
		segIndex   int
		segOffset  uint64
	)

	doBind := func() {
		target := resolve(ordinal)
		if target == nil {
			return
		}
		entry, ok := target.lookupExport(symbolName)
		if !ok {
			return
		}
		if segIndex < 0 || segIndex >= len(img.Segments) {
			return
		}
		seg := &img.Segments[segIndex]
		if seg.Reserved || segOffset+pointerSize > seg.Size {
			return
		}
		addr := seg.LoadAddr + uintptr(segOffset)
		resolved := target.Base + uintptr(int64(entry.Address)+addend)
		writePtr(addr, resolved)
	}

	i := 0
	for i < len(stream) {
		op := stream[i] & 0xF0
		imm := stream[i] & 0x0F
		i++
		switch op {
		case bindOpDone:
			return
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
			i++ // skip NUL
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
			doBind()
			segOffset += pointerSize
		case bindOpDoBindAddAddrULEB:
			doBind()
			v, n := uleb128(stream[i:])
			segOffset += v + pointerSize
			i += n
		case bindOpDoBindAddAddrImmScaled:
			doBind()
			segOffset += uint64(imm)*pointerSize + pointerSize
		case bindOpDoBindULEBTimesSkippingULEB:
			count, n := uleb128(stream[i:])
			i += n
			skip, n2 := uleb128(stream[i:])
			i += n2
			for k := uint64(0); k < count; k++ {
				doBind()
				segOffset += pointerSize + skip
			}
		default:
			return
		}
	}
}

func readPtr(addr uintptr) uintptr {
	b := memAt(addr, pointerSize)
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return uintptr(v)
}

func writePtr(addr uintptr, v uintptr) {
	b := memAt(addr, pointerSize)
	u := uint64(v)
	for i := 0; i < 8; i++ {
		b[i] = byte(u)
		u >>= 8
	}
}
