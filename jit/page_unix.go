//go:build unix

package jit

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// execPage is an anonymous mmap'd region holding translated native code.
// It starts writable and is flipped to read+execute once code emission
// is complete, and is always released on every exit path.
type execPage struct {
	mem []byte
}

// allocPage reserves a page-aligned, anonymous, writable mapping at
// least len(code) bytes long and copies code into it.
func allocPage(code []byte) (*execPage, error) {
	size := (len(code) + unix.Getpagesize() - 1) &^ (unix.Getpagesize() - 1)
	if size == 0 {
		size = unix.Getpagesize()
	}
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap: %v", ErrProvision, err)
	}
	copy(mem, code)
	return &execPage{mem: mem}, nil
}

// MakeExecutable flips the page from read-write to read-execute, after
// syncing the instruction cache (a no-op on architectures, like x86-64,
// where that sync isn't needed).
func (p *execPage) MakeExecutable() error {
	syncInstructionCache(p.mem)
	if err := unix.Mprotect(p.mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("%w: mprotect: %v", ErrProvision, err)
	}
	return nil
}

// Addr returns the base address of the page as a uintptr suitable for
// handing to the native invocation trampoline.
func (p *execPage) Addr() uintptr {
	return uintptr(unsafe.Pointer(&p.mem[0]))
}

// Free releases the mapping. Safe to call on every exit path, including
// after a translation or execution fault.
func (p *execPage) Free() error {
	if p.mem == nil {
		return nil
	}
	err := unix.Munmap(p.mem)
	p.mem = nil
	return err
}
