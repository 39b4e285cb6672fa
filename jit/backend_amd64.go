//go:build amd64

package jit

import (
	"fmt"
	"unsafe"

	"rvm/isa"
	"rvm/vmcore"
)

// invokeX86_64 is implemented in call_amd64.s. It loads the five base
// pointers into their reserved host registers and transfers control to
// code; the translated program returns to it (via a native RET) once it
// reaches the entry trampoline.
//
//go:noescape
func invokeX86_64(code uintptr, regsBase uintptr, memBase uintptr, flagsBase uintptr, lookupBase uintptr)

// codeBaseReg (R12) is loaded by the trampoline with the same value as
// the code argument, so translated RET sequences can recover an
// absolute host address from a lookup-table offset.

func runX86_64Native(vm *vmcore.VM) error {
	hostCode, table, err := translateX86_64(vm)
	if err != nil {
		return err
	}

	page, err := allocPage(hostCode)
	if err != nil {
		return err
	}
	defer page.Free()
	if err := page.MakeExecutable(); err != nil {
		return err
	}

	var flagsByte byte
	invokeX86_64(
		page.Addr(),
		uintptr(unsafe.Pointer(&vm.Regs[0])),
		uintptr(unsafe.Pointer(&vm.Mem[0])),
		uintptr(unsafe.Pointer(&flagsByte)),
		uintptr(unsafe.Pointer(&table[0])),
	)

	vm.Flags = flagsFromByte(flagsByte)
	return nil
}

// translateX86_64 runs the single-pass template expander over vm's
// guest code and returns the finished host machine code together with
// the guest-address -> host-offset lookup table the RET template
// consults at run time.
func translateX86_64(vm *vmcore.VM) ([]byte, guestTable, error) {
	g := &x86Gen{}
	table := newGuestTable(len(vm.Code()))

	var toPatch []backpatch
	var toEpilogue []int

	err := walkGuest(vm, func(pc uint64, d vmcore.Decoded) error {
		table[pc] = int64(len(g.buf))

		switch d.Instr {
		case isa.LOAD:
			g.loadMem(scratchAddr, regsBaseReg, 0, false, 1, regSlot(d.Src))
			g.addRegImm32(scratchAddr, int32(d.Disp))
			g.loadMem(scratchA, memBaseReg, scratchAddr, true, 1, 0)
			g.storeMem(regsBaseReg, 0, false, 1, regSlot(d.Dst), scratchA)

		case isa.STORE:
			g.loadMem(scratchAddr, regsBaseReg, 0, false, 1, regSlot(d.Dst))
			g.addRegImm32(scratchAddr, int32(d.Disp))
			g.loadMem(scratchB, regsBaseReg, 0, false, 1, regSlot(d.Src))
			g.storeMem(memBaseReg, scratchAddr, true, 1, 0, scratchB)

		case isa.MOV:
			g.loadOperand(d, scratchA)
			g.storeMem(regsBaseReg, 0, false, 1, regSlot(d.Dst), scratchA)

		case isa.ADD, isa.SUB, isa.AND, isa.OR, isa.XOR:
			g.loadMem(scratchA, regsBaseReg, 0, false, 1, regSlot(d.Dst))
			g.loadOperand(d, scratchB)
			g.aluRegReg(aluOp(d.Instr), scratchA, scratchB)
			g.storeMem(regsBaseReg, 0, false, 1, regSlot(d.Dst), scratchA)

		case isa.NOT:
			g.loadMem(scratchA, regsBaseReg, 0, false, 1, regSlot(d.Dst))
			g.notReg(scratchA)
			g.storeMem(regsBaseReg, 0, false, 1, regSlot(d.Dst), scratchA)

		case isa.CMP:
			g.loadMem(scratchA, regsBaseReg, 0, false, 1, regSlot(d.Dst))
			g.loadOperand(d, scratchB)
			g.emitCompare()

		case isa.PUSH:
			g.guestPush(d.Dst)

		case isa.POP:
			g.guestPop(d.Dst)

		case isa.CALL:
			switch d.Imm {
			case vmcore.PrintU64Addr:
				g.emitPrintU64()
			case vmcore.SysWriteAddr:
				g.emitSysWrite()
			default:
				retAddr := pc + uint64(d.Width)
				g.guestPushConst(retAddr)
				pos := g.jmpRel32()
				toPatch = append(toPatch, backpatch{Site: pos, Target: d.Imm})
			}

		case isa.RET:
			toEpilogue = append(toEpilogue, g.emitDynamicReturn())

		case isa.JMP:
			if d.Imm == vmcore.EntryTrampolineAddr {
				toEpilogue = append(toEpilogue, g.jmpRel32())
			} else {
				pos := g.jmpRel32()
				toPatch = append(toPatch, backpatch{Site: pos, Target: d.Imm})
			}

		case isa.JMPEQ, isa.JMPNE, isa.JMPGT, isa.JMPLT, isa.JMPGE, isa.JMPLE:
			pos := g.emitConditionalTest(d.Instr)
			if d.Imm == vmcore.EntryTrampolineAddr {
				toEpilogue = append(toEpilogue, pos)
			} else {
				toPatch = append(toPatch, backpatch{Site: pos, Target: d.Imm})
			}

		default:
			return fmt.Errorf("%w: %v", vmcore.ErrUnknownInstruction, d.Instr)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	epilogueOffset := len(g.buf)
	// write PC = 0 back to Regs so the halted state observed by Go-side
	// callers matches the interpreter's.
	g.movRegImm64(scratchA, vmcore.EntryTrampolineAddr)
	g.storeMem(regsBaseReg, 0, false, 1, regSlot(isa.PC), scratchA)
	g.ret()

	for _, pos := range toEpilogue {
		g.patchTo(pos, epilogueOffset)
	}
	for _, bp := range toPatch {
		target := table[bp.Target]
		if target < 0 {
			return nil, nil, fmt.Errorf("%w: branch target %d is not a valid instruction start", vmcore.ErrDecodeFault, bp.Target)
		}
		g.patchTo(bp.Site, int(target))
	}

	return g.buf, table, nil
}

func aluOp(i isa.Instr) byte {
	switch i {
	case isa.ADD:
		return opADD
	case isa.SUB:
		return opSUB
	case isa.AND:
		return opAND
	case isa.OR:
		return opOR
	case isa.XOR:
		return opXOR
	default:
		return opADD
	}
}

// loadOperand loads a decoded REG/IMM right-hand operand into dst.
func (g *x86Gen) loadOperand(d vmcore.Decoded, dst int) {
	if d.Mode == isa.ModeIMM {
		g.movRegImm64(dst, d.Imm)
	} else {
		g.loadMem(dst, regsBaseReg, 0, false, 1, regSlot(d.Src))
	}
}

// guestPush decrements the guest SP and stores reg's guest register
// value at the new top of the guest stack, entirely in VM memory.
func (g *x86Gen) guestPush(reg isa.Reg) {
	g.loadMem(scratchAddr, regsBaseReg, 0, false, 1, regSlot(isa.SP))
	g.addRegImm32(scratchAddr, -8)
	g.storeMem(regsBaseReg, 0, false, 1, regSlot(isa.SP), scratchAddr)
	g.loadMem(scratchA, regsBaseReg, 0, false, 1, regSlot(reg))
	g.storeMem(memBaseReg, scratchAddr, true, 1, 0, scratchA)
}

// guestPushConst pushes a compile-time-known constant (a CALL return
// address) onto the guest stack.
func (g *x86Gen) guestPushConst(v uint64) {
	g.loadMem(scratchAddr, regsBaseReg, 0, false, 1, regSlot(isa.SP))
	g.addRegImm32(scratchAddr, -8)
	g.storeMem(regsBaseReg, 0, false, 1, regSlot(isa.SP), scratchAddr)
	g.movRegImm64(scratchA, v)
	g.storeMem(memBaseReg, scratchAddr, true, 1, 0, scratchA)
}

func (g *x86Gen) guestPop(reg isa.Reg) {
	g.loadMem(scratchAddr, regsBaseReg, 0, false, 1, regSlot(isa.SP))
	g.loadMem(scratchA, memBaseReg, scratchAddr, true, 1, 0)
	g.storeMem(regsBaseReg, 0, false, 1, regSlot(reg), scratchA)
	g.addRegImm32(scratchAddr, 8)
	g.storeMem(regsBaseReg, 0, false, 1, regSlot(isa.SP), scratchAddr)
}

// emitCompare expects lhs in scratchA, rhs in scratchB; it writes the
// flags byte to exactly one of {1=EQ, 2=LT, 4=GT}.
func (g *x86Gen) emitCompare() {
	g.aluRegReg(opCMP, scratchA, scratchB)
	jePos := g.jccRel32(ccJE)
	jlPos := g.jccRel32(ccJL)
	g.storeMemByteImm(flagsReg, 0, 4)
	doneJmp1 := g.jmpRel32()
	g.patchHere(jlPos)
	g.storeMemByteImm(flagsReg, 0, 2)
	doneJmp2 := g.jmpRel32()
	g.patchHere(jePos)
	g.storeMemByteImm(flagsReg, 0, 1)
	g.patchHere(doneJmp1)
	g.patchHere(doneJmp2)
}

// emitConditionalTest emits the flags-byte test for one conditional
// jump mnemonic and returns the offset of its (still unpatched) rel32
// branch-target field.
func (g *x86Gen) emitConditionalTest(instr isa.Instr) int {
	var mask byte
	var cc byte = ccJNZ
	switch instr {
	case isa.JMPEQ:
		mask = 1
	case isa.JMPNE:
		mask, cc = 1, ccJZ
	case isa.JMPGT:
		mask = 4
	case isa.JMPLT:
		mask = 2
	case isa.JMPGE:
		mask = 4 | 1
	case isa.JMPLE:
		mask = 2 | 1
	}
	g.testMemImm8(flagsReg, 0, mask)
	return g.jccRel32(cc)
}

// emitDynamicReturn pops the guest return address and jumps to its
// translation via the guest-address -> host-offset lookup table, since
// RET's target is only known at run time. A return to address 0 (the
// entry trampoline) is not a valid lookup-table entry — guestTable is
// only populated from PrologueLen onward — so it is tested for and
// routed to the same epilogue as a static JMP/Jcc to address 0; the
// returned offset is the unpatched test's rel32 field, for the caller to
// add to the epilogue patch list.
func (g *x86Gen) emitDynamicReturn() int {
	g.loadMem(scratchAddr, regsBaseReg, 0, false, 1, regSlot(isa.SP))
	g.loadMem(scratchA, memBaseReg, scratchAddr, true, 1, 0) // guest target addr
	g.addRegImm32(scratchAddr, 8)
	g.storeMem(regsBaseReg, 0, false, 1, regSlot(isa.SP), scratchAddr)
	g.testRegReg(scratchA)
	zeroPos := g.jccRel32(ccJZ)
	g.loadMem(scratchA, lookupReg, scratchA, true, 8, 0) // host offset
	g.movRegReg(scratchB, codeBaseReg)
	g.aluRegReg(opADD, scratchB, scratchA)
	g.jmpIndirect(scratchB)
	return zeroPos
}

// emitSysWrite lowers the sys_write trap directly to a Linux write(2)
// syscall: len = R0, guest buffer address = R1.
func (g *x86Gen) emitSysWrite() {
	g.loadMem(hRAX, regsBaseReg, 0, false, 1, regSlot(isa.R1)) // guest addr
	g.movRegReg(hRSI, memBaseReg)
	g.aluRegReg(opADD, hRSI, hRAX)
	g.loadMem(hRDX, regsBaseReg, 0, false, 1, regSlot(isa.R0)) // len
	g.movRegImm32(hRDI, 1)                                     // fd = stdout
	g.movRegImm32(hRAX, 1)                                     // SYS_write
	g.syscall()
}

// emitPrintU64 lowers the print_u64 trap to an inline decimal formatter
// (host-stack scratch buffer, repeated unsigned divide by 10) followed
// by a write(2) syscall.
func (g *x86Gen) emitPrintU64() {
	g.subRspImm8(32)
	g.leaRspDisp8(hRDI, 0x1F) // rdi = rsp+31, cursor
	g.storeByteImm(hRDI, '\n')
	g.loadMem(hRAX, regsBaseReg, 0, false, 1, regSlot(isa.R0))
	g.movRegImm64(hRCX, 10)

	loopStart := len(g.buf)
	g.xorEdxEdx()
	g.divReg(hRCX)
	g.addDLImm8('0')
	g.decReg(hRDI)
	g.storeByteReg(hRDI, hRDX)
	g.testRegReg(hRAX)
	jnzPos := g.jccRel32(ccJNZ)
	g.patchTo(jnzPos, loopStart)

	g.leaRspDisp8(hRSI, 0x20) // rsi = rsp+32 (buffer end, one past newline)
	g.aluRegReg(opSUB, hRSI, hRDI)
	g.movRegReg(hRDX, hRSI) // length
	g.movRegReg(hRSI, hRDI) // buffer pointer
	g.movRegImm32(hRDI, 1)  // fd = stdout
	g.movRegImm32(hRAX, 1)  // SYS_write
	g.syscall()
	g.subRspImm8(0xE0) // add rsp, 32 (sub by -32 as signed imm8 = 0xE0)
}
