//go:build !amd64

package jit

import (
	"fmt"
	"runtime"

	"rvm/vmcore"
)

func runX86_64Native(vm *vmcore.VM) error {
	return fmt.Errorf("%w: x86-64 JIT requires an amd64 host (running on %s)", ErrUnsupportedHost, runtime.GOARCH)
}
