package main

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ferro/internal/machofmt"
)

// writeMinimalDylib builds a one-segment, no-export dylib file good
// enough to drive the load/deps/syms commands without a real entry
// point or relocations.
func writeMinimalDylib(t *testing.T, dir, name string) string {
	t.Helper()

	var cmds bytes.Buffer
	segBody := make([]byte, 64)
	copy(segBody[0:16], []byte("__TEXT"))
	machofmt.ByteOrder.PutUint64(segBody[16:24], 0x100000000)
	machofmt.ByteOrder.PutUint64(segBody[24:32], 0x1000)
	prot := uint32(machofmt.ProtRead | machofmt.ProtExecute)
	machofmt.ByteOrder.PutUint32(segBody[48:52], prot)
	machofmt.ByteOrder.PutUint32(segBody[52:56], prot)

	binary.Write(&cmds, machofmt.ByteOrder, uint32(machofmt.LCSegment64))
	binary.Write(&cmds, machofmt.ByteOrder, uint32(8+len(segBody)))
	cmds.Write(segBody)

	var out bytes.Buffer
	binary.Write(&out, machofmt.ByteOrder, machofmt.Magic64)
	binary.Write(&out, machofmt.ByteOrder, int32(0x0100000c))
	binary.Write(&out, machofmt.ByteOrder, int32(0))
	binary.Write(&out, machofmt.ByteOrder, uint32(machofmt.FileTypeDylib))
	binary.Write(&out, machofmt.ByteOrder, uint32(1))
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

func runCmd(t *testing.T, args ...string) string {
	t.Helper()
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute(%v): %v", args, err)
	}
	return buf.String()
}

func TestLoadCmdPrintsBaseAndSegments(t *testing.T) {
	dir := t.TempDir()
	path := writeMinimalDylib(t, dir, "lib.dylib")

	out := runCmd(t, "load", path)
	if !strings.Contains(out, path) {
		t.Errorf("output %q missing path", out)
	}
	if !strings.Contains(out, "__TEXT") {
		t.Errorf("output %q missing segment name", out)
	}
}

func TestDepsCmdPrintsLoadedImage(t *testing.T) {
	dir := t.TempDir()
	path := writeMinimalDylib(t, dir, "lib.dylib")

	out := runCmd(t, "deps", path)
	if strings.TrimSpace(out) != path {
		t.Errorf("deps output = %q, want just the path for a dependency-free image", out)
	}
}

func TestSymsCmdReportsUnexported(t *testing.T) {
	dir := t.TempDir()
	path := writeMinimalDylib(t, dir, "lib.dylib")

	out := runCmd(t, "syms", path, "doesnotexist")
	if !strings.Contains(out, "not exported") {
		t.Errorf("output %q, want a not-exported message", out)
	}
}
