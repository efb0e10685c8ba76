package machofmt

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// builder assembles a minimal synthetic Mach-O image byte-by-byte for
// the parser tests below; it is not a general-purpose writer.
type builder struct {
	cmds    bytes.Buffer
	ncmds   uint32
	fileTyp FileType
}

func newBuilder(typ FileType) *builder {
	return &builder{fileTyp: typ}
}

func (b *builder) addCmd(id LoadCmdID, body []byte) {
	total := cmdHeaderSize + len(body)
	binary.Write(&b.cmds, ByteOrder, uint32(id))
	binary.Write(&b.cmds, ByteOrder, uint32(total))
	b.cmds.Write(body)
	b.ncmds++
}

func (b *builder) bytes() []byte {
	var out bytes.Buffer
	binary.Write(&out, ByteOrder, Magic64)
	binary.Write(&out, ByteOrder, int32(0x0100000c)) // arm64
	binary.Write(&out, ByteOrder, int32(0))
	binary.Write(&out, ByteOrder, uint32(b.fileTyp))
	binary.Write(&out, ByteOrder, b.ncmds)
	binary.Write(&out, ByteOrder, uint32(b.cmds.Len()))
	binary.Write(&out, ByteOrder, uint32(0))
	binary.Write(&out, ByteOrder, uint32(0))
	out.Write(b.cmds.Bytes())
	return out.Bytes()
}

func segment64Body(name string, addr, size, fileOff, fileSize uint64, prot VMProtection, nsects uint32) []byte {
	var buf bytes.Buffer
	var nameBuf [16]byte
	copy(nameBuf[:], name)
	buf.Write(nameBuf[:])
	binary.Write(&buf, ByteOrder, addr)
	binary.Write(&buf, ByteOrder, size)
	binary.Write(&buf, ByteOrder, fileOff)
	binary.Write(&buf, ByteOrder, fileSize)
	binary.Write(&buf, ByteOrder, uint32(prot))
	binary.Write(&buf, ByteOrder, uint32(prot))
	binary.Write(&buf, ByteOrder, nsects)
	binary.Write(&buf, ByteOrder, uint32(0))
	return buf.Bytes()
}

func TestParseHeaderAndSegments(t *testing.T) {
	b := newBuilder(FileTypeExecute)
	b.addCmd(LCSegment64, segment64Body("__PAGEZERO", 0, 0x100000000, 0, 0, 0, 0))
	b.addCmd(LCSegment64, segment64Body("__TEXT", 0x100000000, 0x4000, 0, 0x4000, ProtRead|ProtExecute, 0))

	var mainBody [16]byte
	ByteOrder.PutUint64(mainBody[0:8], 0x1000)
	ByteOrder.PutUint64(mainBody[8:16], 0)
	b.addCmd(LCMain, mainBody[:])

	f, err := Parse(bytes.NewReader(b.bytes()))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Header.Type != FileTypeExecute {
		t.Fatalf("Type = %v, want execute", f.Header.Type)
	}
	if len(f.Segments) != 2 {
		t.Fatalf("len(Segments) = %d, want 2", len(f.Segments))
	}
	if !f.Segments[0].IsReserveAsInvalid() {
		t.Error("__PAGEZERO should be reserve-as-invalid")
	}
	if f.Segments[1].IsReserveAsInvalid() {
		t.Error("__TEXT should not be reserve-as-invalid")
	}
	if got := f.Segments[1].SegmentName(); got != "__TEXT" {
		t.Errorf("SegmentName = %q, want __TEXT", got)
	}
	if f.EntryPoint == nil || f.EntryPoint.EntryOffset != 0x1000 {
		t.Fatalf("EntryPoint = %+v, want offset 0x1000", f.EntryPoint)
	}
}

func TestParseBadMagicRejected(t *testing.T) {
	buf := make([]byte, HeaderSize)
	ByteOrder.PutUint32(buf[0:4], 0xdeadbeef)
	if _, err := Parse(bytes.NewReader(buf)); err != ErrBadMagic {
		t.Fatalf("err = %v, want ErrBadMagic", err)
	}
}

func TestParseDylibOrdinals(t *testing.T) {
	b := newBuilder(FileTypeDylib)

	dylibBody := func(path string) []byte {
		var buf bytes.Buffer
		binary.Write(&buf, ByteOrder, uint32(16))
		binary.Write(&buf, ByteOrder, uint32(0))
		binary.Write(&buf, ByteOrder, uint32(0))
		binary.Write(&buf, ByteOrder, uint32(0))
		buf.WriteString(path)
		buf.WriteByte(0)
		return buf.Bytes()
	}
	b.addCmd(LCLoadDylib, dylibBody("/usr/lib/libSystem.dylib"))
	b.addCmd(LCReexportDylib, dylibBody("/usr/lib/libcompat.dylib"))

	f, err := Parse(bytes.NewReader(b.bytes()))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(f.Dylibs) != 2 {
		t.Fatalf("len(Dylibs) = %d, want 2", len(f.Dylibs))
	}
	if f.Dylibs[0].Path != "/usr/lib/libSystem.dylib" {
		t.Errorf("Dylibs[0].Path = %q", f.Dylibs[0].Path)
	}
	if len(f.Reexports) != 1 || f.Reexports[0].Path != "/usr/lib/libcompat.dylib" {
		t.Errorf("Reexports = %+v", f.Reexports)
	}
}

func TestOrdinalSpecialValues(t *testing.T) {
	cases := []struct {
		o       LibraryOrdinal
		special bool
	}{
		{OrdinalSelf, true},
		{OrdinalMainExecutable, true},
		{OrdinalFlatLookup, true},
		{OrdinalWeakLookup, true},
		{LibraryOrdinal(1), false},
		{LibraryOrdinal(5), false},
	}
	for _, c := range cases {
		if got := c.o.IsSpecial(); got != c.special {
			t.Errorf("ordinal %d: IsSpecial() = %v, want %v", c.o, got, c.special)
		}
	}
	if got := LibraryOrdinal(3).DependencyIndex(); got != 2 {
		t.Errorf("DependencyIndex() = %d, want 2", got)
	}
}
