//go:build amd64

package interpose

import (
	"fmt"
	"unsafe"

	"golang.org/x/arch/x86/x86asm"
)

// verifyTrampoline disassembles the first few instructions at addr to
// confirm they form a decodable prologue before memtrace considers the
// jump it is about to overwrite them with safe. This mirrors what a
// binary patcher must do before clobbering a live function's opening
// bytes: overwriting mid-instruction leaves the untouched tail of the
// original prologue executing garbage the moment control returns to it.
func verifyTrampoline(addr uintptr) (bool, error) {
	if addr == 0 {
		return false, fmt.Errorf("interpose: nil real address")
	}
	// trampolineLen is the number of leading bytes a jmp-based hook needs
	// to overwrite (5 bytes for a relative near jmp on amd64); read a
	// small margin past that so a straddling multi-byte instruction
	// still has enough bytes to decode cleanly.
	const trampolineLen = 5
	const readMargin = 16

	code := unsafe.Slice((*byte)(unsafe.Pointer(addr)), readMargin)

	var consumed int
	for consumed < trampolineLen {
		inst, err := x86asm.Decode(code[consumed:], 64)
		if err != nil {
			return false, fmt.Errorf("interpose: could not decode prologue at offset %d: %w", consumed, err)
		}
		if inst.Len == 0 {
			return false, fmt.Errorf("interpose: zero-length instruction at offset %d", consumed)
		}
		consumed += inst.Len
	}
	return true, nil
}
