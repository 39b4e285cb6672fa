// Package jit translates a decoded guest program into native machine
// code for AArch64 or x86-64 and runs it in place of the portable
// interpreter. Both back ends share one design: guest registers and
// flags live in ordinary process memory (the VM's own Regs array and a
// one-byte flags cell) reachable through a small set of reserved host
// registers, so arithmetic on guest registers becomes ordinary
// load/operate/store sequences with no register allocation across basic
// blocks. CALL/RET thread guest return addresses through the guest stack
// in VM memory, never the host call stack. sys_write and print_u64 are
// lowered directly to a write(2) syscall rather than calling back into
// the Go runtime, avoiding any Go/C calling-convention mismatch.
package jit

import (
	"fmt"

	"rvm/isa"
	"rvm/vmcore"
)

// ErrUnsupportedHost is returned when the selected back end cannot run
// on the process's actual architecture or operating system.
var ErrUnsupportedHost = fmt.Errorf("jit: unsupported host")

// ErrProvision covers page allocation or permission-flip failures.
var ErrProvision = fmt.Errorf("jit: provisioning fault")

// RunX86_64 translates and executes vm's program using the x86-64 back
// end. It requires an amd64, Unix-like host: a non-amd64 host is reported
// through ErrUnsupportedHost without attempting translation, and on a
// non-Unix host page allocation fails with ErrProvision.
func RunX86_64(vm *vmcore.VM) error {
	return runX86_64Native(vm)
}

// RunAArch64 translates and executes vm's program using the AArch64
// back end, under the same host requirements as RunX86_64.
func RunAArch64(vm *vmcore.VM) error {
	return runAArch64Native(vm)
}

// guestTable maps every byte offset in the guest code image to the host
// code offset of its translation, or -1 if that offset is not the start
// of a translated instruction. RET uses this at run time (via a pointer
// handed to the native code) to resolve a dynamic guest return address;
// forward CALL/JMP* targets use it during the single translation pass
// via the backpatch list below, since by definition their address may
// not be known yet.
type guestTable []int64

func newGuestTable(codeLen int) guestTable {
	t := make(guestTable, codeLen)
	for i := range t {
		t[i] = -1
	}
	return t
}

// backpatch records one forward-referenced branch/call whose 32-bit
// relative displacement field (at host offset Site) must be fixed up
// once the guest target's host offset is known.
type backpatch struct {
	Site   int    // host byte offset of the 4-byte displacement field
	Target uint64 // guest byte address being referenced
	// Base is the host offset of the byte *after* the full instruction,
	// i.e. where a relative displacement is measured from.
	Base int
}

// walkGuest decodes every instruction in vm's code image in order,
// calling emit for each, from PrologueLen to the end of the image. The
// prologue (the entry trampoline and the trap bodies) is never translated.
func walkGuest(vm *vmcore.VM, emit func(pc uint64, d vmcore.Decoded) error) error {
	code := vm.Code()
	pc := vmcore.PrologueLen
	for pc < uint64(len(code)) {
		d, err := vmcore.Decode(code, pc)
		if err != nil {
			return err
		}
		if err := emit(pc, d); err != nil {
			return err
		}
		pc += uint64(d.Width)
	}
	return nil
}

// isTrapCall reports whether a CALL's immediate target is one of the
// prologue's intercepted trap addresses rather than a real guest call.
func isTrapCall(imm uint64) bool {
	return imm == vmcore.PrintU64Addr || imm == vmcore.SysWriteAddr
}

// flagsFromByte converts a translated program's one-byte flags cell back
// into vmcore's Flags, shared by both native back ends.
func flagsFromByte(b byte) vmcore.Flags {
	return vmcore.Flags{EQ: b&1 != 0, LT: b&2 != 0, GT: b&4 != 0}
}

// regSlot returns a guest register's byte offset within vm.Regs, shared
// by both back ends' memory-resident register templates.
func regSlot(r isa.Reg) int32 { return int32(r) * 8 }
