// Package vmcore implements the architectural VM state and the portable
// interpreter back end over it. The JIT back ends (package jit) translate
// against the same decoder and must leave memory/register state observably
// identical to the interpreter's.
package vmcore

import (
	"bufio"
	"fmt"
	"io"

	"rvm/isa"
)

const (
	// DefaultMemoryMiB is the VM CLI's default memory window size.
	DefaultMemoryMiB = 4

	// EntryTrampolineAddr is the fixed byte address of the sys_enter
	// self-jump every assembled image's prologue defines. Reaching it
	// halts the VM.
	EntryTrampolineAddr uint64 = 0

	// PrintU64Addr is the fixed byte address of the print_u64 trap body.
	// CALLing it writes the decimal representation of R0 followed by a
	// newline to standard output. sys_enter's self-jump (JMP, one-
	// immediate form) occupies bytes [0,9), so print_u64's single-byte
	// RET body sits at 9.
	PrintU64Addr uint64 = 9

	// SysWriteAddr is the fixed byte address of the sys_write trap body,
	// immediately after print_u64. CALLing it writes Mem[R1:R1+R0) to
	// standard output.
	SysWriteAddr uint64 = 10

	// PrologueLen is the total size in bytes of the synthetic prologue
	// (sys_enter + print_u64 + sys_write); user code starts here.
	PrologueLen uint64 = 11
)

// Flags holds the three mutually exclusive condition bits set by CMP.
type Flags struct {
	EQ, LT, GT bool
}

func (f Flags) String() string {
	switch {
	case f.EQ:
		return "EQ"
	case f.LT:
		return "LT"
	case f.GT:
		return "GT"
	default:
		return "--"
	}
}

// set clears all three bits and sets exactly one, per the flag-exclusivity
// property every CMP must preserve.
func (f *Flags) set(cmp int) {
	f.EQ, f.LT, f.GT = false, false, false
	switch {
	case cmp == 0:
		f.EQ = true
	case cmp < 0:
		f.LT = true
	default:
		f.GT = true
	}
}

// ErrMemoryFault is returned (wrapped with context) for any load, store or
// stack access outside the configured memory window.
var ErrMemoryFault = fmt.Errorf("memory fault")

// ErrIllegalOperation is returned for well-decoded instructions that
// attempt something the architecture forbids, such as overwriting PC
// through a generic register write.
var ErrIllegalOperation = fmt.Errorf("illegal operation")

// ErrUnknownInstruction mirrors ErrDecodeFault but is raised post-decode,
// from code paths (e.g. the JIT) that dispatch on isa.Instr directly.
var ErrUnknownInstruction = fmt.Errorf("instruction not recognized")

// VM is the architectural state shared by the interpreter and both JIT
// back ends: registers, flags, linear memory and the code image resident
// at its low end.
type VM struct {
	Regs  [isa.NumRegisters + 1]uint64 // one cell per 4-bit index, including reserved index 15
	Flags Flags
	Mem   []byte
	// CodeLen is the length of the code image living at Mem[0:CodeLen].
	CodeLen int

	Stdout *bufio.Writer
	Stdin  *bufio.Reader

	Debug bool

	halted bool
	err    error
}

// New constructs a VM with memMiB mebibytes of zero-initialized linear
// memory, the code image loaded at address 0, and SP pointing one byte
// past the top of memory (so the first PUSH lands inside bounds).
func New(code []byte, memMiB int, out io.Writer, in io.Reader) (*VM, error) {
	if memMiB <= 0 {
		memMiB = DefaultMemoryMiB
	}
	memSize := memMiB * 1024 * 1024
	if len(code) > memSize {
		return nil, fmt.Errorf("%w: code image (%d bytes) larger than memory window (%d bytes)", ErrMemoryFault, len(code), memSize)
	}

	vm := &VM{
		Mem:     make([]byte, memSize),
		CodeLen: len(code),
		Stdout:  bufio.NewWriter(out),
		Stdin:   bufio.NewReader(in),
	}
	copy(vm.Mem, code)
	vm.Regs[isa.SP] = uint64(memSize)
	vm.Regs[isa.PC] = PrologueLen
	return vm, nil
}

// PC returns the current program counter.
func (vm *VM) PC() uint64 { return vm.Regs[isa.PC] }

// SetPC overwrites the program counter, used by CALL/RET/JMP* and by the
// JIT's backpatched control transfers.
func (vm *VM) SetPC(addr uint64) { vm.Regs[isa.PC] = addr }

// Halted reports whether execution reached the entry trampoline. A fault
// leaves it false; see Err.
func (vm *VM) Halted() bool { return vm.halted }

// Err returns the fault that stopped execution, or nil on a clean halt.
func (vm *VM) Err() error { return vm.err }

// Code returns the read-only code image.
func (vm *VM) Code() []byte { return vm.Mem[:vm.CodeLen] }

// checkRange validates that [addr, addr+n) lies entirely within memory.
func (vm *VM) checkRange(addr uint64, n uint64) error {
	if addr > uint64(len(vm.Mem)) || n > uint64(len(vm.Mem))-addr {
		return fmt.Errorf("%w: address 0x%x (len %d) out of %d-byte window at pc %d", ErrMemoryFault, addr, n, len(vm.Mem), vm.PC())
	}
	return nil
}

// Load64 reads a little-endian 64-bit guest memory cell.
func (vm *VM) Load64(addr uint64) (uint64, error) {
	if err := vm.checkRange(addr, 8); err != nil {
		return 0, err
	}
	return leUint64(vm.Mem[addr : addr+8]), nil
}

// Store64 writes a little-endian 64-bit guest memory cell.
func (vm *VM) Store64(addr uint64, v uint64) error {
	if err := vm.checkRange(addr, 8); err != nil {
		return err
	}
	putLeUint64(vm.Mem[addr:addr+8], v)
	return nil
}

// Push pushes one 64-bit value onto the guest stack, which grows toward
// lower addresses.
func (vm *VM) Push(v uint64) error {
	sp := vm.Regs[isa.SP] - 8
	if err := vm.checkRange(sp, 8); err != nil {
		return err
	}
	putLeUint64(vm.Mem[sp:sp+8], v)
	vm.Regs[isa.SP] = sp
	return nil
}

// Pop pops one 64-bit value off the guest stack.
func (vm *VM) Pop() (uint64, error) {
	sp := vm.Regs[isa.SP]
	if err := vm.checkRange(sp, 8); err != nil {
		return 0, err
	}
	v := leUint64(vm.Mem[sp : sp+8])
	vm.Regs[isa.SP] = sp + 8
	return v, nil
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putLeUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}

// SysWrite performs the sys_write trap: writes Mem[addr:addr+length) to
// Stdout, where length comes from R0 and addr from R1.
func (vm *VM) SysWrite() error {
	length := vm.Regs[isa.R0]
	addr := vm.Regs[isa.R1]
	if err := vm.checkRange(addr, length); err != nil {
		return err
	}
	_, err := vm.Stdout.Write(vm.Mem[addr : addr+length])
	if err != nil {
		return fmt.Errorf("%w: sys_write: %v", ErrMemoryFault, err)
	}
	return vm.Stdout.Flush()
}

// PrintU64 performs the print_u64 trap: writes the unsigned decimal
// representation of R0 followed by a newline to Stdout.
func (vm *VM) PrintU64() error {
	_, err := fmt.Fprintf(vm.Stdout, "%d\n", vm.Regs[isa.R0])
	if err != nil {
		return fmt.Errorf("%w: print_u64: %v", ErrMemoryFault, err)
	}
	return vm.Stdout.Flush()
}
