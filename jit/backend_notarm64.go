//go:build !arm64

package jit

import (
	"fmt"
	"runtime"

	"rvm/vmcore"
)

func runAArch64Native(vm *vmcore.VM) error {
	return fmt.Errorf("%w: AArch64 JIT requires an arm64 host (running on %s)", ErrUnsupportedHost, runtime.GOARCH)
}
