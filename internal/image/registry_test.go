package image

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"ferro/internal/machofmt"
)

const (
	segment64SizeForTest = 64
	section64SizeForTest = 80
)

// writeTestImage assembles a tiny synthetic Mach-O file (one __TEXT
// segment, an optional list of load-dylib paths, an optional entry
// point) and writes it to dir/name, returning its full path.
func writeTestImage(t *testing.T, dir, name string, typ machofmt.FileType, deps []string, withEntry bool) string {
	t.Helper()

	var cmds bytes.Buffer
	ncmds := uint32(0)

	addCmd := func(id uint32, body []byte) {
		binary.Write(&cmds, machofmt.ByteOrder, id)
		binary.Write(&cmds, machofmt.ByteOrder, uint32(8+len(body)))
		cmds.Write(body)
		ncmds++
	}

	// __TEXT segment with one __text section, mapped at 0x100000000,
	// 0x1000 bytes; the section covers the whole segment so an LC_MAIN
	// entry offset of 0x10 resolves inside it.
	segBody := make([]byte, segment64SizeForTest)
	var segName [16]byte
	copy(segName[:], "__TEXT")
	copy(segBody[0:16], segName[:])
	machofmt.ByteOrder.PutUint64(segBody[16:24], 0x100000000)
	machofmt.ByteOrder.PutUint64(segBody[24:32], 0x1000)
	machofmt.ByteOrder.PutUint64(segBody[32:40], 0)
	machofmt.ByteOrder.PutUint64(segBody[40:48], 0x1000)
	prot := uint32(machofmt.ProtRead | machofmt.ProtExecute)
	machofmt.ByteOrder.PutUint32(segBody[48:52], prot)
	machofmt.ByteOrder.PutUint32(segBody[52:56], prot)
	machofmt.ByteOrder.PutUint32(segBody[56:60], 1) // nsects
	machofmt.ByteOrder.PutUint32(segBody[60:64], 0)

	sectBody := make([]byte, section64SizeForTest)
	var sectName, sectSegName [16]byte
	copy(sectName[:], "__text")
	copy(sectSegName[:], "__TEXT")
	copy(sectBody[0:16], sectName[:])
	copy(sectBody[16:32], sectSegName[:])
	machofmt.ByteOrder.PutUint64(sectBody[32:40], 0x100000000)
	machofmt.ByteOrder.PutUint64(sectBody[40:48], 0x1000)
	machofmt.ByteOrder.PutUint32(sectBody[48:52], 0) // file offset

	addCmd(uint32(machofmt.LCSegment64), append(segBody, sectBody...))

	for _, dep := range deps {
		var buf bytes.Buffer
		binary.Write(&buf, machofmt.ByteOrder, uint32(16))
		binary.Write(&buf, machofmt.ByteOrder, uint32(0))
		binary.Write(&buf, machofmt.ByteOrder, uint32(0))
		binary.Write(&buf, machofmt.ByteOrder, uint32(0))
		buf.WriteString(dep)
		buf.WriteByte(0)
		addCmd(uint32(machofmt.LCLoadDylib), buf.Bytes())
	}

	if withEntry {
		var buf [16]byte
		machofmt.ByteOrder.PutUint64(buf[0:8], 0x10)
		machofmt.ByteOrder.PutUint64(buf[8:16], 0)
		addCmd(uint32(machofmt.LCMain), buf[:])
	}

	var out bytes.Buffer
	binary.Write(&out, machofmt.ByteOrder, machofmt.Magic64)
	binary.Write(&out, machofmt.ByteOrder, int32(0x0100000c))
	binary.Write(&out, machofmt.ByteOrder, int32(0))
	binary.Write(&out, machofmt.ByteOrder, uint32(typ))
	binary.Write(&out, machofmt.ByteOrder, ncmds)
	binary.Write(&out, machofmt.ByteOrder, uint32(cmds.Len()))
	binary.Write(&out, machofmt.ByteOrder, uint32(0))
	binary.Write(&out, machofmt.ByteOrder, uint32(0))
	out.Write(cmds.Bytes())

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, out.Bytes(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestRegistryLoadsDependencyGraph(t *testing.T) {
	dir := t.TempDir()
	libPath := writeTestImage(t, dir, "libfoo.dylib", machofmt.FileTypeDylib, nil, false)
	mainPath := writeTestImage(t, dir, "main", machofmt.FileTypeExecute, []string{libPath}, true)

	r := NewRegistry()
	main, err := r.Init(mainPath)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !main.HasEntry || main.EntryAddress == 0 {
		t.Errorf("expected a resolved entry point, got HasEntry=%v addr=%#x", main.HasEntry, main.EntryAddress)
	}
	if len(main.Dependencies) != 1 {
		t.Fatalf("len(Dependencies) = %d, want 1", len(main.Dependencies))
	}
	lib := main.Dependencies[0]
	if lib.Path != libPath {
		t.Errorf("dependency path = %q, want %q", lib.Path, libPath)
	}
	if len(lib.Dependents) != 1 || lib.Dependents[0] != main {
		t.Errorf("libfoo.Dependents = %+v, want [main]", lib.Dependents)
	}

	if _, err := r.Init(mainPath); err != ErrAlreadyInProgress {
		t.Errorf("second Init err = %v, want ErrAlreadyInProgress", err)
	}

	if found, ok := r.FindLoadedImageByName(libPath); !ok || found != lib {
		t.Error("FindLoadedImageByName should return the already-loaded dependency")
	}

	if got := r.ImageContainingAddress(main.Base); got != main {
		t.Error("ImageContainingAddress(main.Base) should return main")
	}
}

func TestRegistryDuplicateLoadIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := writeTestImage(t, dir, "a.dylib", machofmt.FileTypeDylib, nil, false)

	r := NewRegistry()
	first, err := r.LoadImageByName(path)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	second, err := r.LoadImageByName(path)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if first != second {
		t.Error("duplicate load must return the same *Image")
	}
}

func TestRegistryLoadMissingFile(t *testing.T) {
	r := NewRegistry()
	if _, err := r.LoadImageByName("/no/such/path"); err != ErrNoSuchResource {
		t.Errorf("err = %v, want ErrNoSuchResource", err)
	}
}

func TestImageSignatureAbsentWhenNoLoadCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeTestImage(t, dir, "unsigned.dylib", machofmt.FileTypeDylib, nil, false)

	r := NewRegistry()
	img, err := r.LoadImageByName(path)
	if err != nil {
		t.Fatalf("LoadImageByName: %v", err)
	}
	if img.Signature() != nil {
		t.Error("expected no signature info for an image without LC_CODE_SIGNATURE")
	}
}
