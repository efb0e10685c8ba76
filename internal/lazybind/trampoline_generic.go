//go:build !arm64 && !amd64

package lazybind

// StubEntry on an architecture LBT has no stub encoding for falls
// straight through to the simulation: there is no real register file
// to bracket, so this is Trampoline under another name.
func StubEntry(b *Binder, f *Frame) error {
	return Trampoline(b, f)
}
