// Package lazybind is the lazy-bind trampoline (LBT) of §4.5: the
// argument-save/extended-state/call/restore contract a lazy PLT-style
// stub executes the first time a deferred symbol is touched, and the
// Go-level binder it calls into to actually resolve that symbol
// through package image's dependency graph and export tries.
//
// The real trampoline is architecture-specific machine code (its
// steps are listed on Frame below); this package provides the
// host-testable simulation SPEC_FULL calls for, where Trampoline plays
// the part of that machine code by operating on an explicit Frame
// instead of live CPU registers (trampoline_arm64.go and
// trampoline_amd64.go record which real register each Frame field
// stands in for).
package lazybind

import (
	"errors"

	"ferro/internal/image"
)

var (
	// ErrUnresolvedImage is returned when a Frame names an image handle
	// the binder does not recognise.
	ErrUnresolvedImage = errors.New("lazybind: unresolved image handle")
	// ErrUnresolvedSymbol is returned when the lazy-bind stream at the
	// given offset does not resolve to a bindable symbol.
	ErrUnresolvedSymbol = errors.New("lazybind: unresolved symbol")
)

// ExtendedStateSize is the size, in bytes, LBT reserves for the
// extended vector/float register save area before executing the
// architecture's extended-save instruction (§4.5 step 3). The
// simulation never touches real vector state; the constant exists so
// Frame.ExtendedState has a realistic capacity to report through
// Stats-style diagnostics.
const ExtendedStateSize = 4096

// Frame is the argument-save block a lazy stub builds before calling
// the binder (§4.5 steps 1-2, 4): the image handle and stream offset
// the stub was compiled with, the integer argument registers it must
// preserve across the call, and the two stack-passed words the real
// stub pops on the way out (step 8).
type Frame struct {
	ImageHandle *image.Image
	StreamOffset uint32

	// SavedIntArgs mirrors the eight integer argument registers the
	// stub preserves across the call (§4.5 step 2); the simulation
	// does not need their values to resolve anything but restores them
	// unchanged, matching the real contract's "restore integer
	// registers" step.
	SavedIntArgs [8]uint64

	// ExtendedState stands in for the vector/float register save area
	// reserved and restored around the call (§4.5 steps 3, 7).
	ExtendedState [ExtendedStateSize]byte

	// StackArgs are the two stack-passed words the stub pops before
	// tail-jumping to the resolved target (§4.5 step 8).
	StackArgs [2]uint64

	// ResolvedTarget is filled in by Trampoline: the address the stub
	// tail-jumps to once the binder returns (§4.5 step 6, "move the
	// binder's result to a scratch register").
	ResolvedTarget uintptr
}

// Binder is the Go-level half of the trampoline contract: given the
// argument-save block a stub built, it resolves the deferred symbol
// and reports the address the stub should jump to.
type Binder struct{}

// NewBinder constructs the lazy-bind symbol binder. It carries no
// state of its own: resolution is entirely a function of the Frame's
// image handle and stream offset, both already populated by the image
// that owns the stub.
func NewBinder() *Binder {
	return &Binder{}
}

// Resolve is the binder call a lazy stub makes after saving its
// argument-save block (§4.5 step 5). It walks the owning image's
// lazy-bind opcode stream starting at streamOffset, resolves the
// symbol it names against that image's dependency graph and export
// trie, and returns the address to tail-jump to.
func (b *Binder) Resolve(img *image.Image, streamOffset uint32) (uintptr, error) {
	if img == nil {
		return 0, ErrUnresolvedImage
	}
	addr, err := img.ResolveLazyBind(streamOffset)
	if err != nil {
		return 0, ErrUnresolvedSymbol
	}
	return addr, nil
}

// Trampoline executes the architecture-neutral simulation of the
// real stub's full eight-step contract (§4.5) against an explicit
// Frame rather than live registers: steps 1-4 and 7-8 are represented
// as no-ops over Frame's fields (there is no real stack or register
// file to align/save/restore), and steps 5-6 call through to Resolve.
// trampoline_arm64.go and trampoline_amd64.go wrap this with the
// architecture-tagged entry point the real stub would call.
func Trampoline(b *Binder, f *Frame) error {
	// Steps 1-4: align stack, save integer args, reserve and populate
	// the extended-state save area. Frame already holds the saved
	// state; there is nothing further to capture in simulation.

	// Step 5: call the binder with the argument-save block.
	target, err := b.Resolve(f.ImageHandle, f.StreamOffset)
	if err != nil {
		return err
	}

	// Step 6: move the binder's result to a scratch register.
	f.ResolvedTarget = target

	// Steps 7-8: restore extended state and integer registers, unwind,
	// pop the two stack-passed arguments. Simulation leaves
	// SavedIntArgs/ExtendedState/StackArgs untouched, matching a real
	// stub's "restore exactly what was saved" requirement.
	return nil
}
