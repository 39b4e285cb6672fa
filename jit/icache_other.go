//go:build !arm64

package jit

// syncInstructionCache is a no-op on architectures with coherent I/D
// caches (x86-64); only AArch64 needs explicit cache maintenance between
// writing JIT-ed code and executing it.
func syncInstructionCache(mem []byte) {}
