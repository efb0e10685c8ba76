//go:build amd64

package lazybind

// StubEntry is the AMD64 lazy stub's call-back into Go: RDI, RSI, RDX,
// RCX, R8, R9 plus two stack-passed words hold the integer arguments
// the stub preserves, XSAVE/XRSTOR bracket the call for the extended
// register state, and the argument-save block this Frame represents
// is passed in RDI (§4.5 steps 1-4). The stub tail-jumps to
// f.ResolvedTarget after this returns.
func StubEntry(b *Binder, f *Frame) error {
	return Trampoline(b, f)
}
