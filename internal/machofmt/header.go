// Package machofmt parses the 64-bit Mach-O wire format consumed by
// IRL (§6): header, load commands, segment/section tables, and the
// compressed dynamic-linker-info sub-blobs. It is a pure decoder —
// byte-exact, no allocation policy — grounded on the corpus's
// blacktop-go-macho type layout and saferwall-pe's reader-over-a-
// ReaderAt idiom (binary.Read against fixed-size structs, explicit
// byte order, no reflection in the hot path).
package machofmt

import "encoding/binary"

// Magic64 is the magic number of a little-endian 64-bit Mach-O file.
// Ferro only ever consumes images built for its own byte order, so
// Magic64CigamBE (the byte-swapped constant real Mach-O tooling also
// defines) is treated as unsupported rather than transparently
// byte-swapped.
const Magic64 uint32 = 0xfeedfacf

// FileType enumerates Header.Type (Mach-O's filetype field). Only the
// three kinds IRL ever loads are named; Parse rejects any other value
// with ErrUnsupportedFileType.
type FileType uint32

const (
	FileTypeExecute   FileType = 2 // process binary
	FileTypeDylib     FileType = 6 // dynamic library
	FileTypeDylinker  FileType = 7 // dynamic linker (interpreter)
)

// VMProtection mirrors the Mach VM protection bitmask used by segment
// initial/maximum protection fields.
type VMProtection uint32

const (
	ProtRead    VMProtection = 0x1
	ProtWrite   VMProtection = 0x2
	ProtExecute VMProtection = 0x4
)

// Header is the fixed 32-byte 64-bit Mach-O header (§6 "64-bit
// header").
type Header struct {
	Magic      uint32
	CPUType    int32
	CPUSubtype int32
	Type       FileType
	NCmds      uint32
	SizeOfCmds uint32
	Flags      uint32
	Reserved   uint32
}

const HeaderSize = 32

// ByteOrder is the fixed byte order Ferro reads Mach-O structures
// with. The format's magic number in principle selects big- vs
// little-endian, but Ferro targets only little-endian hosts.
var ByteOrder = binary.LittleEndian

func parseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortRead
	}
	h := Header{
		Magic:      ByteOrder.Uint32(b[0:4]),
		CPUType:    int32(ByteOrder.Uint32(b[4:8])),
		CPUSubtype: int32(ByteOrder.Uint32(b[8:12])),
		Type:       FileType(ByteOrder.Uint32(b[12:16])),
		NCmds:      ByteOrder.Uint32(b[16:20]),
		SizeOfCmds: ByteOrder.Uint32(b[20:24]),
		Flags:      ByteOrder.Uint32(b[24:28]),
		Reserved:   ByteOrder.Uint32(b[28:32]),
	}
	if h.Magic != Magic64 {
		return Header{}, ErrBadMagic
	}
	return h, nil
}
