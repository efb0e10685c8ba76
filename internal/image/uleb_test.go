package image

import "testing"

func TestULEB128RoundTrip(t *testing.T) {
	cases := []struct {
		bytes []byte
		want  uint64
	}{
		{[]byte{0x00}, 0},
		{[]byte{0x7f}, 0x7f},
		{[]byte{0x80, 0x01}, 0x80},
		{[]byte{0xe5, 0x8e, 0x26}, 624485},
	}
	for _, c := range cases {
		got, n := uleb128(c.bytes)
		if got != c.want {
			t.Errorf("uleb128(%v) = %d, want %d", c.bytes, got, c.want)
		}
		if n != len(c.bytes) {
			t.Errorf("uleb128(%v) consumed %d bytes, want %d", c.bytes, n, len(c.bytes))
		}
	}
}

func TestSLEB128Negative(t *testing.T) {
	// -2 encodes as 0x7e in SLEB128.
	got, n := sleb128([]byte{0x7e})
	if got != -2 {
		t.Errorf("sleb128(0x7e) = %d, want -2", got)
	}
	if n != 1 {
		t.Errorf("consumed %d bytes, want 1", n)
	}
}

func TestWalkExportTrieFindsLeaf(t *testing.T) {
	// Trie: root (no terminal, 1 child "foo") -> leaf (terminal: flags=0, addr=0x1000).
	leafTerminal := []byte{0x00, 0x80, 0x20} // flags=0, addr=0x1000 (ULEB)
	leaf := append([]byte{byte(len(leafTerminal))}, leafTerminal...)
	leaf = append(leaf, 0x00) // no children

	root := []byte{0x00, 0x01} // no terminal, 1 child
	root = append(root, []byte("foo")...)
	root = append(root, 0x00) // NUL terminator for the label
	childOffset := len(root) + 1
	root = append(root, byte(childOffset))
	trie := append(root, leaf...)

	entry, ok := walkExportTrie(trie, "foo")
	if !ok {
		t.Fatal("expected foo to resolve")
	}
	if entry.Address != 0x1000 {
		t.Errorf("Address = %#x, want 0x1000", entry.Address)
	}

	if _, ok := walkExportTrie(trie, "bar"); ok {
		t.Error("bar should not resolve")
	}
}
