// Package isa defines the opcode set, access modes, register file and
// on-the-wire encoding widths shared by the assembler and the VM back ends.
//
// Everything here is pure data: no parsing, no execution. Opcode byte =
// (instr<<2)|mode, exactly as laid out in the reference toolchain.
package isa

import "fmt"

// Instr is one of the 21 instruction mnemonics the machine understands.
type Instr byte

const (
	LOAD Instr = iota
	STORE
	MOV
	ADD
	SUB
	AND
	OR
	XOR
	NOT
	CMP
	PUSH
	POP
	CALL
	RET
	JMP
	JMPEQ
	JMPNE
	JMPGT
	JMPLT
	JMPGE
	JMPLE
)

var instrNames = [...]string{
	LOAD: "LOAD", STORE: "STORE", MOV: "MOV", ADD: "ADD", SUB: "SUB",
	AND: "AND", OR: "OR", XOR: "XOR", NOT: "NOT", CMP: "CMP",
	PUSH: "PUSH", POP: "POP", CALL: "CALL", RET: "RET", JMP: "JMP",
	JMPEQ: "JMPEQ", JMPNE: "JMPNE", JMPGT: "JMPGT", JMPLT: "JMPLT",
	JMPGE: "JMPGE", JMPLE: "JMPLE",
}

func (i Instr) String() string {
	if int(i) < len(instrNames) && instrNames[i] != "" {
		return instrNames[i]
	}
	return fmt.Sprintf("?instr(%d)?", byte(i))
}

// InstrByName resolves an upper-case mnemonic to its Instr, reporting
// ok=false for anything that isn't one of the 21 known mnemonics. The
// lookup is case-sensitive; callers upper-case the token first.
func InstrByName(name string) (Instr, bool) {
	i, ok := nameToInstr[name]
	return i, ok
}

var nameToInstr map[string]Instr

func init() {
	nameToInstr = make(map[string]Instr, len(instrNames))
	for i, n := range instrNames {
		nameToInstr[n] = Instr(i)
	}
}

// Mode is the 2-bit access-mode suffix packed into the low bits of the
// opcode byte.
type Mode byte

const (
	ModeREG    Mode = 0
	ModeIMM    Mode = 1
	ModeREGIDX Mode = 2
)

// Opcode packs an instruction and its access mode into the single leading
// byte that appears on the wire.
func Opcode(i Instr, m Mode) byte {
	return byte(i)<<2 | byte(m)
}

// DecodeOpcode splits a leading opcode byte back into instruction and mode.
func DecodeOpcode(b byte) (Instr, Mode) {
	return Instr(b >> 2), Mode(b & 0x3)
}

// Reg is a 4-bit register index. Index encoding is fixed: 0-12 are named
// general-purpose registers R0-R12, 13 is SP, 14 is PC; index 15 is
// reserved (the decoder accepts it, the assembler's grammar never emits
// it, and the interpreter treats it as an ordinary 64-bit cell).
type Reg byte

const (
	R0 Reg = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	R11
	R12
	SP
	PC
	RegReserved
)

var regNames = [...]string{
	R0: "R0", R1: "R1", R2: "R2", R3: "R3", R4: "R4", R5: "R5", R6: "R6",
	R7: "R7", R8: "R8", R9: "R9", R10: "R10", R11: "R11", R12: "R12",
	SP: "SP", PC: "PC", RegReserved: "?reserved?",
}

func (r Reg) String() string {
	if int(r) < len(regNames) {
		return regNames[r]
	}
	return fmt.Sprintf("?reg(%d)?", byte(r))
}

// RegByName resolves an upper-case register mnemonic; the lookup is
// case-sensitive and callers upper-case the token first. RegReserved has
// no mnemonic and can never be produced by this lookup.
func RegByName(name string) (Reg, bool) {
	r, ok := nameToReg[name]
	return r, ok
}

var nameToReg map[string]Reg

func init() {
	nameToReg = make(map[string]Reg, len(regNames)-1)
	for i := R0; i < RegReserved; i++ {
		nameToReg[regNames[i]] = i
	}
}

// NumRegisters is the size of the architectural register file, including
// SP and PC but excluding the reserved index.
const NumRegisters = int(RegReserved)

// Width returns the total encoded byte width of an instruction given its
// opcode byte. ok is false for an opcode/mode combination that does not
// correspond to any known instruction form.
func Width(opcode byte) (width int, ok bool) {
	instr, mode := DecodeOpcode(opcode)
	switch instr {
	case RET:
		if mode == ModeREG {
			return 1, true
		}
	case NOT, PUSH, POP:
		if mode == ModeREG {
			return 2, true
		}
	case LOAD, STORE:
		if mode == ModeREGIDX {
			return 4, true
		}
	case CALL, JMP, JMPEQ, JMPNE, JMPGT, JMPLT, JMPGE, JMPLE:
		if mode == ModeIMM {
			return 9, true
		}
	case MOV, ADD, SUB, AND, OR, XOR, CMP:
		switch mode {
		case ModeREG:
			return 2, true
		case ModeIMM:
			return 10, true
		}
	}
	return 0, false
}

// SignedImmediate reports whether an instruction's immediate operand is
// interpreted as a signed two's-complement value (arithmetic/compare/mov)
// as opposed to an unsigned quantity (bitwise ops, absolute call/jump
// targets).
func SignedImmediate(i Instr) bool {
	switch i {
	case MOV, ADD, SUB, CMP:
		return true
	default:
		return false
	}
}
