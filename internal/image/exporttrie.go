package image

// exportFlags mirrors the low bits of a Mach-O export info terminal
// node (regular/reexport/stub-and-resolver); Ferro only distinguishes
// regular exports, the only kind IRL's lazy-bind resolution path
// consults (§4.4 "Symbol resolution at lazy-bind time").
type exportFlags uint64

const exportReexportFlag exportFlags = 0x8

// exportEntry is one resolved symbol from an export trie walk.
type exportEntry struct {
	Flags   exportFlags
	Address uint64 // image-relative
}

// walkExportTrie performs a read-DFS over the compressed export trie
// format (§D "Export trie walking"): at each node, a ULEB128-encoded
// terminal size (0 if this node is not itself an export), followed by
// that many terminal payload bytes if non-zero, followed by a byte
// count of child edges, then for each child edge a NUL-terminated
// label and a ULEB128 offset to the child node.
//
// It returns the entry for name, or ok=false if name is not exported.
func walkExportTrie(trie []byte, name string) (exportEntry, bool) {
	return walkExportTrieNode(trie, 0, name)
}

func walkExportTrieNode(trie []byte, offset int, remaining string) (exportEntry, bool) {
	if offset < 0 || offset >= len(trie) {
		return exportEntry{}, false
	}
	termSize, n := uleb128(trie[offset:])
	pos := offset + n

	if termSize > 0 && remaining == "" {
		payload := trie[pos : pos+int(termSize)]
		flags, m := uleb128(payload)
		addr, _ := uleb128(payload[m:])
		return exportEntry{Flags: exportFlags(flags), Address: addr}, true
	}

	pos += int(termSize)
	if pos >= len(trie) {
		return exportEntry{}, false
	}
	childCount := int(trie[pos])
	pos++

	for i := 0; i < childCount; i++ {
		labelStart := pos
		for pos < len(trie) && trie[pos] != 0 {
			pos++
		}
		if pos >= len(trie) {
			return exportEntry{}, false
		}
		label := string(trie[labelStart:pos])
		pos++ // skip NUL

		childOff, m := uleb128(trie[pos:])
		pos += m

		if len(remaining) >= len(label) && remaining[:len(label)] == label {
			if entry, ok := walkExportTrieNode(trie, int(childOff), remaining[len(label):]); ok {
				return entry, true
			}
		}
	}
	return exportEntry{}, false
}
