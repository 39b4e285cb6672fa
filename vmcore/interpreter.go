package vmcore

import (
	"runtime/debug"

	"rvm/internal/diag"
	"rvm/isa"

	"github.com/pkg/errors"
)

// Run executes instructions starting from the current PC until the machine
// reaches the entry trampoline or faults; there is no instruction count cap.
// GC is disabled for the duration, mirroring how the reference interpreter
// avoids stop-the-world pauses mid-trace; it is restored before Run returns
// under any outcome.
func (vm *VM) Run() error {
	old := debug.SetGCPercent(-1)
	defer debug.SetGCPercent(old)

	for {
		halted, err := vm.Step()
		if err != nil {
			vm.err = err
			return err
		}
		if halted {
			vm.halted = true
			return nil
		}
	}
}

// Step decodes and executes exactly one instruction. halted reports whether
// PC is (or, after this step, has become) the entry trampoline address 0;
// the trampoline's self-jump itself is never executed. The caller should
// stop calling Step once halted is true.
func (vm *VM) Step() (halted bool, err error) {
	pc := vm.PC()

	if pc == EntryTrampolineAddr {
		return true, nil
	}

	d, err := Decode(vm.Code(), pc)
	if err != nil {
		return false, errors.Wrapf(err, "step at pc %d", pc)
	}

	if vm.Debug {
		diag.Log.Debugf("pc=%d %v mode=%v dst=%v src=%v imm=%d disp=%d", pc, d.Instr, d.Mode, d.Dst, d.Src, d.Imm, d.Disp)
	}

	next := pc + uint64(d.Width)

	switch d.Instr {
	case isa.LOAD:
		addr, err := vm.effectiveAddr(d)
		if err != nil {
			return false, err
		}
		v, err := vm.Load64(addr)
		if err != nil {
			return false, err
		}
		if err := vm.writeReg(d.Dst, v); err != nil {
			return false, err
		}

	case isa.STORE:
		addr, err := vm.effectiveAddr(d)
		if err != nil {
			return false, err
		}
		if err := vm.Store64(addr, vm.Regs[d.Src]); err != nil {
			return false, err
		}

	case isa.MOV:
		v, err := vm.srcValue(d)
		if err != nil {
			return false, err
		}
		if err := vm.writeReg(d.Dst, v); err != nil {
			return false, err
		}

	case isa.ADD, isa.SUB, isa.AND, isa.OR, isa.XOR:
		rhs, err := vm.srcValue(d)
		if err != nil {
			return false, err
		}
		lhs := vm.Regs[d.Dst]
		var res uint64
		switch d.Instr {
		case isa.ADD:
			res = lhs + rhs
		case isa.SUB:
			res = lhs - rhs
		case isa.AND:
			res = lhs & rhs
		case isa.OR:
			res = lhs | rhs
		case isa.XOR:
			res = lhs ^ rhs
		}
		if err := vm.writeReg(d.Dst, res); err != nil {
			return false, err
		}

	case isa.NOT:
		if err := vm.writeReg(d.Dst, ^vm.Regs[d.Dst]); err != nil {
			return false, err
		}

	case isa.CMP:
		rhs, err := vm.srcValue(d)
		if err != nil {
			return false, err
		}
		lhs := int64(vm.Regs[d.Dst])
		cmp := 0
		switch {
		case lhs < int64(rhs):
			cmp = -1
		case lhs > int64(rhs):
			cmp = 1
		}
		vm.Flags.set(cmp)

	case isa.PUSH:
		if err := vm.Push(vm.Regs[d.Dst]); err != nil {
			return false, err
		}

	case isa.POP:
		v, err := vm.Pop()
		if err != nil {
			return false, err
		}
		if err := vm.writeReg(d.Dst, v); err != nil {
			return false, err
		}

	case isa.CALL:
		switch d.Imm {
		case PrintU64Addr:
			if err := vm.PrintU64(); err != nil {
				return false, err
			}
		case SysWriteAddr:
			if err := vm.SysWrite(); err != nil {
				return false, err
			}
		default:
			if err := vm.Push(next); err != nil {
				return false, err
			}
			next = d.Imm
		}

	case isa.RET:
		ret, err := vm.Pop()
		if err != nil {
			return false, err
		}
		next = ret

	case isa.JMP:
		next = d.Imm

	case isa.JMPEQ:
		if vm.Flags.EQ {
			next = d.Imm
		}
	case isa.JMPNE:
		if !vm.Flags.EQ {
			next = d.Imm
		}
	case isa.JMPGT:
		if vm.Flags.GT {
			next = d.Imm
		}
	case isa.JMPLT:
		if vm.Flags.LT {
			next = d.Imm
		}
	case isa.JMPGE:
		if vm.Flags.GT || vm.Flags.EQ {
			next = d.Imm
		}
	case isa.JMPLE:
		if vm.Flags.LT || vm.Flags.EQ {
			next = d.Imm
		}

	default:
		return false, errors.Wrapf(ErrUnknownInstruction, "pc %d: %v", pc, d.Instr)
	}

	vm.SetPC(next)
	return next == EntryTrampolineAddr, nil
}

// effectiveAddr computes the REG_IDX address operand for LOAD/STORE:
// base register plus a signed 16-bit displacement. LOAD carries its base
// in Src; STORE, whose destination is the memory cell, carries it in Dst.
func (vm *VM) effectiveAddr(d Decoded) (uint64, error) {
	base := vm.Regs[d.Src]
	if d.Instr == isa.STORE {
		base = vm.Regs[d.Dst]
	}
	return uint64(int64(base) + int64(d.Disp)), nil
}

// srcValue resolves the right-hand operand of a REG- or IMM-mode
// instruction: another register's value, or the decoded immediate.
func (vm *VM) srcValue(d Decoded) (uint64, error) {
	if d.Mode == isa.ModeIMM {
		return d.Imm, nil
	}
	return vm.Regs[d.Src], nil
}

// writeReg enforces the architectural rule that PC is never a valid
// destination for a generic register write; only control-flow instructions
// (CALL/RET/JMP*) may change it.
func (vm *VM) writeReg(r isa.Reg, v uint64) error {
	if r == isa.PC {
		return errors.Wrapf(ErrIllegalOperation, "pc %d: write to PC via non-control-flow instruction", vm.PC())
	}
	vm.Regs[r] = v
	return nil
}
