//go:build arm64

package jit

import (
	"fmt"
	"unsafe"

	"rvm/isa"
	"rvm/vmcore"
)

// invokeAArch64 is implemented in call_arm64.s. It loads the five base
// pointers into their reserved host registers and branches into code;
// the translated program returns to it (via a native RET) once it
// reaches the entry trampoline.
//
//go:noescape
func invokeAArch64(code uintptr, regsBase uintptr, memBase uintptr, flagsBase uintptr, lookupBase uintptr)

func runAArch64Native(vm *vmcore.VM) error {
	hostCode, table, err := translateAArch64(vm)
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
	invokeAArch64(
		page.Addr(),
		uintptr(unsafe.Pointer(&vm.Regs[0])),
		uintptr(unsafe.Pointer(&vm.Mem[0])),
		uintptr(unsafe.Pointer(&flagsByte)),
		uintptr(unsafe.Pointer(&table[0])),
	)

	vm.Flags = flagsFromByte(flagsByte)
	return nil
}

// translateAArch64 mirrors translateX86_64's single-pass template
// expansion, using load/operate/store sequences against the
// memory-resident guest register file instead of true register
// allocation, per the package-level design note in jit.go.
func translateAArch64(vm *vmcore.VM) ([]byte, guestTable, error) {
	g := &a64Gen{}
	table := newGuestTable(len(vm.Code()))

	var toPatch []backpatch
	var toEpilogue []int
	var condPatch []struct {
		pos    int
		target uint64
	}
	var condToEpilogue []int

	err := walkGuest(vm, func(pc uint64, d vmcore.Decoded) error {
		table[pc] = int64(g.wordOffset())

		switch d.Instr {
		case isa.LOAD:
			g.ldrImm(aScratchAddr, aRegsBase, regSlot(d.Src))
			g.addGuestDisp(aScratchAddr, d.Disp)
			g.ldrReg(aScratchA, aMemBase, aScratchAddr)
			g.strImm(aScratchA, aRegsBase, regSlot(d.Dst))

		case isa.STORE:
			g.ldrImm(aScratchAddr, aRegsBase, regSlot(d.Dst))
			g.addGuestDisp(aScratchAddr, d.Disp)
			g.ldrImm(aScratchB, aRegsBase, regSlot(d.Src))
			g.strReg(aScratchB, aMemBase, aScratchAddr)

		case isa.MOV:
			g.loadOperandA(d)
			g.strImm(aScratchA, aRegsBase, regSlot(d.Dst))

		case isa.ADD, isa.SUB, isa.AND, isa.OR, isa.XOR:
			g.ldrImm(aScratchA, aRegsBase, regSlot(d.Dst))
			g.loadOperandB(d)
			switch d.Instr {
			case isa.ADD:
				g.addRegReg(aScratchA, aScratchA, aScratchB)
			case isa.SUB:
				g.subRegReg(aScratchA, aScratchA, aScratchB)
			case isa.AND:
				g.andRegReg(aScratchA, aScratchA, aScratchB)
			case isa.OR:
				g.orrRegReg(aScratchA, aScratchA, aScratchB)
			case isa.XOR:
				g.eorRegReg(aScratchA, aScratchA, aScratchB)
			}
			g.strImm(aScratchA, aRegsBase, regSlot(d.Dst))

		case isa.NOT:
			g.ldrImm(aScratchA, aRegsBase, regSlot(d.Dst))
			g.mvnReg(aScratchA, aScratchA)
			g.strImm(aScratchA, aRegsBase, regSlot(d.Dst))

		case isa.CMP:
			g.ldrImm(aScratchA, aRegsBase, regSlot(d.Dst))
			g.loadOperandB(d)
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
				pos := g.bUncond()
				toPatch = append(toPatch, backpatch{Site: pos, Target: d.Imm})
			}

		case isa.RET:
			toEpilogue = append(toEpilogue, g.emitDynamicReturn())

		case isa.JMP:
			if d.Imm == vmcore.EntryTrampolineAddr {
				toEpilogue = append(toEpilogue, g.bUncond())
			} else {
				pos := g.bUncond()
				toPatch = append(toPatch, backpatch{Site: pos, Target: d.Imm})
			}

		case isa.JMPEQ, isa.JMPNE, isa.JMPGT, isa.JMPLT, isa.JMPGE, isa.JMPLE:
			pos := g.emitConditionalTest(d.Instr)
			if d.Imm == vmcore.EntryTrampolineAddr {
				condToEpilogue = append(condToEpilogue, pos)
			} else {
				condPatch = append(condPatch, struct {
					pos    int
					target uint64
				}{pos, d.Imm})
			}

		default:
			return fmt.Errorf("%w: %v", vmcore.ErrUnknownInstruction, d.Instr)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	epilogueOffset := g.wordOffset()
	g.movReg64(aScratchA, vmcore.EntryTrampolineAddr)
	g.strImm(aScratchA, aRegsBase, regSlot(isa.PC))
	g.ret()

	for _, pos := range toEpilogue {
		g.patchBranch(pos, epilogueOffset)
	}
	for _, pos := range condToEpilogue {
		g.patchBranch(pos, epilogueOffset)
	}
	for _, bp := range toPatch {
		target := table[bp.Target]
		if target < 0 {
			return nil, nil, fmt.Errorf("%w: branch target %d is not a valid instruction start", vmcore.ErrDecodeFault, bp.Target)
		}
		g.patchBranch(bp.Site, int(target))
	}
	for _, cp := range condPatch {
		target := table[cp.target]
		if target < 0 {
			return nil, nil, fmt.Errorf("%w: branch target %d is not a valid instruction start", vmcore.ErrDecodeFault, cp.target)
		}
		g.patchBranch(cp.pos, int(target))
	}

	return g.buf, table, nil
}

// addGuestDisp adds a REGIDX displacement (a signed 16-bit value) onto
// an address register already holding a guest base register's value.
func (g *a64Gen) addGuestDisp(reg int, disp int16) {
	if disp >= 0 {
		g.addImm12(reg, reg, uint32(disp))
	} else {
		g.subImm12(reg, reg, uint32(-disp))
	}
}

func (g *a64Gen) loadOperandA(d vmcore.Decoded) {
	if d.Mode == isa.ModeIMM {
		g.movReg64(aScratchA, d.Imm)
	} else {
		g.ldrImm(aScratchA, aRegsBase, regSlot(d.Src))
	}
}

func (g *a64Gen) loadOperandB(d vmcore.Decoded) {
	if d.Mode == isa.ModeIMM {
		g.movReg64(aScratchB, d.Imm)
	} else {
		g.ldrImm(aScratchB, aRegsBase, regSlot(d.Src))
	}
}

func (g *a64Gen) guestPush(reg isa.Reg) {
	g.ldrImm(aScratchAddr, aRegsBase, regSlot(isa.SP))
	g.subImm12(aScratchAddr, aScratchAddr, 8)
	g.strImm(aScratchAddr, aRegsBase, regSlot(isa.SP))
	g.ldrImm(aScratchA, aRegsBase, regSlot(reg))
	g.strReg(aScratchA, aMemBase, aScratchAddr)
}

func (g *a64Gen) guestPushConst(v uint64) {
	g.ldrImm(aScratchAddr, aRegsBase, regSlot(isa.SP))
	g.subImm12(aScratchAddr, aScratchAddr, 8)
	g.strImm(aScratchAddr, aRegsBase, regSlot(isa.SP))
	g.movReg64(aScratchA, v)
	g.strReg(aScratchA, aMemBase, aScratchAddr)
}

func (g *a64Gen) guestPop(reg isa.Reg) {
	g.ldrImm(aScratchAddr, aRegsBase, regSlot(isa.SP))
	g.ldrReg(aScratchA, aMemBase, aScratchAddr)
	g.strImm(aScratchA, aRegsBase, regSlot(reg))
	g.addImm12(aScratchAddr, aScratchAddr, 8)
	g.strImm(aScratchAddr, aRegsBase, regSlot(isa.SP))
}

// emitCompare expects lhs in aScratchA, rhs in aScratchB; it writes the
// flags byte to exactly one of {1=EQ, 2=LT, 4=GT}.
func (g *a64Gen) emitCompare() {
	g.cmpRegs(aScratchA, aScratchB)
	eqPos := g.bCond(condEQ)
	ltPos := g.bCond(condLT)
	g.movImmByte(aScratchC, 4)
	g.strbImm(aScratchC, aFlagsBase, 0)
	doneJmp1 := g.bUncond()
	g.patchBranch(ltPos, g.wordOffset())
	g.movImmByte(aScratchC, 2)
	g.strbImm(aScratchC, aFlagsBase, 0)
	doneJmp2 := g.bUncond()
	g.patchBranch(eqPos, g.wordOffset())
	g.movImmByte(aScratchC, 1)
	g.strbImm(aScratchC, aFlagsBase, 0)
	g.patchBranch(doneJmp1, g.wordOffset())
	g.patchBranch(doneJmp2, g.wordOffset())
}

// emitConditionalTest loads the flags byte, masks the bit(s) the mnemonic
// tests and emits a CBNZ on the result (a CBZ for JMPNE), returning the
// patch site.
func (g *a64Gen) emitConditionalTest(instr isa.Instr) int {
	g.ldrbImm(aScratchA, aFlagsBase, 0)
	var mask byte
	switch instr {
	case isa.JMPEQ:
		mask = 1
	case isa.JMPNE:
		mask = 1
	case isa.JMPGT:
		mask = 4
	case isa.JMPLT:
		mask = 2
	case isa.JMPGE:
		mask = 4 | 1
	case isa.JMPLE:
		mask = 2 | 1
	}
	g.movImmByte(aScratchB, mask)
	g.andRegReg(aScratchA, aScratchA, aScratchB)
	if instr == isa.JMPNE {
		return g.cbz(aScratchA)
	}
	return g.cbnz(aScratchA)
}

// emitDynamicReturn pops the guest return address and branches to its
// translation via the guest-address -> host-offset lookup table. A
// return to address 0 (the entry trampoline) is not a valid lookup-table
// entry — guestTable is only populated from PrologueLen onward — so it
// is tested for and routed to the same epilogue as a static JMP/Jcc to
// address 0; the returned offset is the unpatched CBZ's word offset, for
// the caller to add to the epilogue patch list.
func (g *a64Gen) emitDynamicReturn() int {
	g.ldrImm(aScratchAddr, aRegsBase, regSlot(isa.SP))
	g.ldrReg(aScratchA, aMemBase, aScratchAddr) // guest target addr
	g.addImm12(aScratchAddr, aScratchAddr, 8)
	g.strImm(aScratchAddr, aRegsBase, regSlot(isa.SP))
	zeroPos := g.cbz(aScratchA)
	g.ldrRegScale8(aScratchA, aLookup, aScratchA) // host word offset
	g.addRegReg(aScratchA, aCodeBase, aScratchA)
	g.brReg(aScratchA)
	return zeroPos
}

// emitSysWrite lowers the sys_write trap directly to a Linux write(2)
// syscall: len = R0, guest buffer address = R1.
func (g *a64Gen) emitSysWrite() {
	g.ldrImm(1, aRegsBase, regSlot(isa.R1)) // X1 = guest addr
	g.addRegReg(1, aMemBase, 1)             // X1 = host buffer pointer
	g.ldrImm(2, aRegsBase, regSlot(isa.R0)) // X2 = len
	g.movImmByte(0, 1)                      // X0 = fd (stdout)
	g.movImmByte(8, 64)                     // X8 = SYS_write (arm64 syscall ABI)
	g.svc0()
}

// emitPrintU64 lowers the print_u64 trap to an inline decimal formatter
// (host-stack scratch buffer, repeated unsigned divide by 10) followed
// by a write(2) syscall. ARM64 has no integer DIV-with-remainder in one
// instruction, so the remainder is recovered via UDIV then MSUB.
func (g *a64Gen) emitPrintU64() {
	g.subImm12(31, 31, 32) // sub sp, sp, #32 (immediate-form Rd/Rn=31 means SP)
	g.addImm12(4, 31, 31)  // X4 = sp + 31, cursor starts just before the end
	g.movImmByte(5, '\n')
	g.strbImm(5, 4, 0)
	g.ldrImm(0, aRegsBase, regSlot(isa.R0)) // X0 = value
	g.movReg64(6, 10)                       // X6 = 10

	loopStart := g.wordOffset()
	g.udivReg(7, 0, 6)    // X7 = X0 / 10
	g.msubReg(8, 7, 6, 0) // X8 = X0 - X7*10 (remainder)
	g.addImm12(8, 8, '0')
	g.subImm12(4, 4, 1)
	g.strbImm(8, 4, 0)
	g.movRegReg(0, 7)
	pos := g.cbnz(0)
	g.patchBranch(pos, loopStart)

	g.movRegReg(1, 4)     // X1 = buffer pointer
	g.addImm12(2, 31, 32) // X2 = sp + 32 (buffer end, one past the newline)
	g.subRegReg(2, 2, 4)  // X2 = length
	g.movImmByte(0, 1)   // X0 = fd
	g.movImmByte(8, 64)  // X8 = SYS_write
	g.svc0()
	g.addImm12(31, 31, 32) // add sp, sp, #32
}

// udivReg emits UDIV Rd, Rn, Rm (unsigned 64-bit divide, quotient only).
func (g *a64Gen) udivReg(rd, rn, rm int) {
	g.emitWord(0x9AC00800 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rd))
}

// msubReg emits MSUB Rd, Rn, Rm, Ra (Rd = Ra - Rn*Rm).
func (g *a64Gen) msubReg(rd, rn, rm, ra int) {
	g.emitWord(0x9B008000 | uint32(rm)<<16 | uint32(ra)<<10 | uint32(rn)<<5 | uint32(rd))
}
