//go:build arm64

package jit

import "unsafe"

// flushInstructionCache is implemented in icache_arm64.s.
//
//go:noescape
func flushInstructionCache(addr, length uintptr)

// syncInstructionCache cleans and invalidates the AArch64 I/D caches over
// mem, required between writing translated code and flipping the page
// executable.
func syncInstructionCache(mem []byte) {
	if len(mem) == 0 {
		return
	}
	flushInstructionCache(uintptr(unsafe.Pointer(&mem[0])), uintptr(len(mem)))
}
