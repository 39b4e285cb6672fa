//go:build !unix

package jit

import "fmt"

// execPage is the non-Unix stub: this toolchain's JIT back ends rely on
// mmap/mprotect, which have no portable equivalent here.
type execPage struct{}

func allocPage(code []byte) (*execPage, error) {
	return nil, fmt.Errorf("%w: anonymous executable pages are not supported on this platform", ErrProvision)
}

func (p *execPage) MakeExecutable() error { return fmt.Errorf("%w: unsupported platform", ErrProvision) }
func (p *execPage) Addr() uintptr         { return 0 }
func (p *execPage) Free() error           { return nil }
