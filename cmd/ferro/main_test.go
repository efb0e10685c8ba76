package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runFerro(t *testing.T, args ...string) string {
	t.Helper()
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute(%v): %v", args, err)
	}
	return buf.String()
}

func TestBootCmdReportsZeroOccupancyBeforeAnyAllocation(t *testing.T) {
	out := runFerro(t, "boot", "--pages", "256")
	if !strings.Contains(out, "ordinary:") || !strings.Contains(out, "used=0") {
		t.Errorf("output %q missing an idle ordinary line", out)
	}
}

func TestBootCmdAllocatesAndFrees(t *testing.T) {
	out := runFerro(t, "boot", "--pages", "256", "--allocate", "64", "--allocate", "128")
	if !strings.Contains(out, "ordinary:") {
		t.Errorf("output %q missing ordinary stats line", out)
	}
}

func TestBootCmdWritesConsolePNG(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "console.png")

	runFerro(t, "boot", "--pages", "256", "--allocate", "512", "--console-out", path)

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("console PNG not written: %v", err)
	}
	if info.Size() == 0 {
		t.Error("console PNG is empty")
	}
}
