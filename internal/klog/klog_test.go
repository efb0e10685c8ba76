package klog

import (
	"bytes"
	"strings"
	"testing"
)

func TestDebugSuppressedUnlessEnabled(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.Debugf(PA, "frame %d reserved", 3)
	if buf.Len() != 0 {
		t.Errorf("expected no output with Debug=false, got %q", buf.String())
	}

	l.Debug = true
	l.Debugf(PA, "frame %d reserved", 3)
	if !strings.Contains(buf.String(), "frame 3 reserved") {
		t.Errorf("output = %q, want it to contain the formatted message", buf.String())
	}
}

func TestLevelsAndCategoriesAppearInOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.Infof(BPI, "region split order=%d", 4)
	l.Warnf(MPF, "instance contention")
	l.Errorf(IRL, "load failed: %v", "bad magic")

	out := buf.String()
	for _, want := range []string{"[INFO] BPI:", "[WARN] MPF:", "[ERROR] IRL:", "region split order=4", "load failed: bad magic"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}
