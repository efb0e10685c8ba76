package image

// uleb128 reads an unsigned LEB128 value starting at b[0], returning
// the decoded value and the number of bytes consumed. Used by both the
// export trie walker and the rebase/bind opcode streams, which share
// this encoding throughout the compressed dyld info blobs (§6).
func uleb128(b []byte) (uint64, int) {
	var result uint64
	var shift uint
	for i := 0; i < len(b); i++ {
		byt := b[i]
		result |= uint64(byt&0x7f) << shift
		if byt&0x80 == 0 {
			return result, i + 1
		}
		shift += 7
	}
	return result, len(b)
}

// sleb128 reads a signed LEB128 value, used only by the bind opcode
// stream's SET_ADDEND_SLEB.
func sleb128(b []byte) (int64, int) {
	var result int64
	var shift uint
	var i int
	var byt byte
	for i = 0; i < len(b); i++ {
		byt = b[i]
		result |= int64(byt&0x7f) << shift
		shift += 7
		if byt&0x80 == 0 {
			break
		}
	}
	if shift < 64 && byt&0x40 != 0 {
		result |= -1 << shift
	}
	return result, i + 1
}
