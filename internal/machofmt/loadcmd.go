package machofmt

// LoadCmdID identifies a load command's kind (§6 "Load commands
// required"), values taken directly from the Mach-O on-disk format.
type LoadCmdID uint32

const reqDyld LoadCmdID = 0x80000000

const (
	LCSegment64                     LoadCmdID = 0x19
	LCUnixThread                    LoadCmdID = 0x5
	LCLoadDylib                     LoadCmdID = 0xc
	LCLoadDylinker                  LoadCmdID = 0xe
	LCMain                          LoadCmdID = 0x28 | reqDyld
	LCReexportDylib                 LoadCmdID = 0x1f | reqDyld
	LCDyldInfo                      LoadCmdID = 0x22
	LCDyldInfoOnly                  LoadCmdID = 0x22 | reqDyld
	LCSymtab                        LoadCmdID = 0x2
	LCCodeSignature                 LoadCmdID = 0x1d
)

// cmdHeader is the 8-byte prefix common to every load command: its
// kind and its total length including this prefix.
type cmdHeader struct {
	Cmd    LoadCmdID
	CmdLen uint32
}

const cmdHeaderSize = 8

func parseCmdHeader(b []byte) (cmdHeader, error) {
	if len(b) < cmdHeaderSize {
		return cmdHeader{}, ErrShortRead
	}
	return cmdHeader{
		Cmd:    LoadCmdID(ByteOrder.Uint32(b[0:4])),
		CmdLen: ByteOrder.Uint32(b[4:8]),
	}, nil
}

// Segment64 is the fixed portion of an LC_SEGMENT_64 command, minus
// its trailing Section64 array (§6 "segment_64, section_64 inline
// payload").
type Segment64 struct {
	Name    [16]byte
	Addr    uint64
	Size    uint64
	Offset  uint64
	FileSz  uint64
	MaxProt VMProtection
	InitProt VMProtection
	NSects  uint32
	Flags   uint32
}

const segment64Size = 16 + 8*4 + 4*2 + 4*2 // = 64

// IsReserveAsInvalid reports whether this segment is reserve-as-invalid
// (e.g. __PAGEZERO): both initial and maximum protection are zero
// (§4.4 load algorithm step 3).
func (s Segment64) IsReserveAsInvalid() bool {
	return s.InitProt == 0 && s.MaxProt == 0
}

// SegmentName returns the NUL-padded 16-byte segment name as a string.
func (s Segment64) SegmentName() string {
	return cString(s.Name[:])
}

func parseSegment64(b []byte) (Segment64, error) {
	if len(b) < segment64Size {
		return Segment64{}, ErrShortRead
	}
	var s Segment64
	copy(s.Name[:], b[0:16])
	s.Addr = ByteOrder.Uint64(b[16:24])
	s.Size = ByteOrder.Uint64(b[24:32])
	s.Offset = ByteOrder.Uint64(b[32:40])
	s.FileSz = ByteOrder.Uint64(b[40:48])
	s.MaxProt = VMProtection(ByteOrder.Uint32(b[48:52]))
	s.InitProt = VMProtection(ByteOrder.Uint32(b[52:56]))
	s.NSects = ByteOrder.Uint32(b[56:60])
	s.Flags = ByteOrder.Uint32(b[60:64])
	return s, nil
}

// Section64 is one section_64 entry, read inline after its owning
// segment's fixed fields.
type Section64 struct {
	Name       [16]byte
	SegName    [16]byte
	Addr       uint64
	Size       uint64
	Offset     uint32
	Align      uint32
	RelOff     uint32
	NReloc     uint32
	Flags      uint32
	Reserved1  uint32
	Reserved2  uint32
	Reserved3  uint32
}

const section64Size = 16 + 16 + 8 + 8 + 4*8 // = 80

func (s Section64) SectionName() string { return cString(s.Name[:]) }

func parseSection64(b []byte) (Section64, error) {
	if len(b) < section64Size {
		return Section64{}, ErrShortRead
	}
	var s Section64
	copy(s.Name[:], b[0:16])
	copy(s.SegName[:], b[16:32])
	s.Addr = ByteOrder.Uint64(b[32:40])
	s.Size = ByteOrder.Uint64(b[40:48])
	s.Offset = ByteOrder.Uint32(b[48:52])
	s.Align = ByteOrder.Uint32(b[52:56])
	s.RelOff = ByteOrder.Uint32(b[56:60])
	s.NReloc = ByteOrder.Uint32(b[60:64])
	s.Flags = ByteOrder.Uint32(b[64:68])
	s.Reserved1 = ByteOrder.Uint32(b[68:72])
	s.Reserved2 = ByteOrder.Uint32(b[72:76])
	s.Reserved3 = ByteOrder.Uint32(b[76:80])
	return s, nil
}

// UnixThreadCmd is LC_UNIXTHREAD's fixed prefix; the flavor-specific
// register state that follows is opaque to IRL (it never resumes a
// thread directly — only LC_MAIN's explicit offset is honoured for
// entry resolution, §4.4 step 5).
type UnixThreadCmd struct {
	Flavor uint32
	Count  uint32
}

func parseUnixThreadCmd(b []byte) (UnixThreadCmd, error) {
	if len(b) < 8 {
		return UnixThreadCmd{}, ErrShortRead
	}
	return UnixThreadCmd{
		Flavor: ByteOrder.Uint32(b[0:4]),
		Count:  ByteOrder.Uint32(b[4:8]),
	}, nil
}

// EntryPointCmd is LC_MAIN: the file offset of the entry point within
// __TEXT and an optional requested stack size.
type EntryPointCmd struct {
	EntryOffset uint64
	StackSize   uint64
}

const entryPointCmdSize = 16

func parseEntryPointCmd(b []byte) (EntryPointCmd, error) {
	if len(b) < entryPointCmdSize {
		return EntryPointCmd{}, ErrShortRead
	}
	return EntryPointCmd{
		EntryOffset: ByteOrder.Uint64(b[0:8]),
		StackSize:   ByteOrder.Uint64(b[8:16]),
	}, nil
}

// DylibCmd is LC_LOAD_DYLIB/LC_REEXPORT_DYLIB's fixed prefix; Path is
// the NUL-terminated pathname at NameOffset within the command's own
// payload.
type DylibCmd struct {
	NameOffset     uint32
	Timestamp      uint32
	CurrentVersion uint32
	CompatVersion  uint32
	Path           string
}

const dylibCmdFixedSize = 16

func parseDylibCmd(cmd []byte) (DylibCmd, error) {
	if len(cmd) < dylibCmdFixedSize {
		return DylibCmd{}, ErrShortRead
	}
	d := DylibCmd{
		NameOffset:     ByteOrder.Uint32(cmd[0:4]),
		Timestamp:      ByteOrder.Uint32(cmd[4:8]),
		CurrentVersion: ByteOrder.Uint32(cmd[8:12]),
		CompatVersion:  ByteOrder.Uint32(cmd[12:16]),
	}
	if int(d.NameOffset) >= len(cmd) {
		return DylibCmd{}, ErrShortRead
	}
	d.Path = cString(cmd[d.NameOffset:])
	return d, nil
}

// DylinkerCmd is LC_LOAD_DYLINKER: the interpreter's path.
type DylinkerCmd struct {
	Path string
}

func parseDylinkerCmd(cmd []byte) (DylinkerCmd, error) {
	if len(cmd) < 8 {
		return DylinkerCmd{}, ErrShortRead
	}
	nameOff := ByteOrder.Uint32(cmd[0:4])
	if int(nameOff) >= len(cmd) {
		return DylinkerCmd{}, ErrShortRead
	}
	return DylinkerCmd{Path: cString(cmd[nameOff:])}, nil
}

// DyldInfoCmd is LC_DYLD_INFO(_ONLY): the five compressed dyld info
// sub-blobs (§6 "compressed_dynamic_linker_info_only ... sub-offsets/
// sizes for rebase, bind, weak-bind, lazy-bind, export-trie").
type DyldInfoCmd struct {
	RebaseOff, RebaseSize     uint32
	BindOff, BindSize         uint32
	WeakBindOff, WeakBindSize uint32
	LazyBindOff, LazyBindSize uint32
	ExportOff, ExportSize     uint32
}

const dyldInfoCmdSize = 40

func parseDyldInfoCmd(cmd []byte) (DyldInfoCmd, error) {
	if len(cmd) < dyldInfoCmdSize {
		return DyldInfoCmd{}, ErrShortRead
	}
	return DyldInfoCmd{
		RebaseOff:    ByteOrder.Uint32(cmd[0:4]),
		RebaseSize:   ByteOrder.Uint32(cmd[4:8]),
		BindOff:      ByteOrder.Uint32(cmd[8:12]),
		BindSize:     ByteOrder.Uint32(cmd[12:16]),
		WeakBindOff:  ByteOrder.Uint32(cmd[16:20]),
		WeakBindSize: ByteOrder.Uint32(cmd[20:24]),
		LazyBindOff:  ByteOrder.Uint32(cmd[24:28]),
		LazyBindSize: ByteOrder.Uint32(cmd[28:32]),
		ExportOff:    ByteOrder.Uint32(cmd[32:36]),
		ExportSize:   ByteOrder.Uint32(cmd[36:40]),
	}, nil
}

// SymtabCmd is LC_SYMTAB (§6 "symbol_table_info").
type SymtabCmd struct {
	SymOff, NSyms   uint32
	StrOff, StrSize uint32
}

func parseSymtabCmd(cmd []byte) (SymtabCmd, error) {
	if len(cmd) < 16 {
		return SymtabCmd{}, ErrShortRead
	}
	return SymtabCmd{
		SymOff:  ByteOrder.Uint32(cmd[0:4]),
		NSyms:   ByteOrder.Uint32(cmd[4:8]),
		StrOff:  ByteOrder.Uint32(cmd[8:12]),
		StrSize: ByteOrder.Uint32(cmd[12:16]),
	}, nil
}

// LinkEditDataCmd is the generic {offset,size} shape shared by
// LC_CODE_SIGNATURE and several other link-edit commands; Ferro reuses
// it only for the code signature blob (SPEC_FULL's supplemented
// Authenticode-style check).
type LinkEditDataCmd struct {
	DataOff, DataSize uint32
}

func parseLinkEditDataCmd(cmd []byte) (LinkEditDataCmd, error) {
	if len(cmd) < 8 {
		return LinkEditDataCmd{}, ErrShortRead
	}
	return LinkEditDataCmd{
		DataOff:  ByteOrder.Uint32(cmd[0:4]),
		DataSize: ByteOrder.Uint32(cmd[4:8]),
	}, nil
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
