package asm

import (
	"encoding/binary"

	"rvm/isa"
)

// encodeNoOperand encodes RET: a single opcode byte.
func encodeNoOperand(i isa.Instr) []byte {
	return []byte{isa.Opcode(i, isa.ModeREG)}
}

// encodeOneReg encodes NOT/PUSH/POP: opcode, then reg<<4 (the register in
// the high nibble).
func encodeOneReg(i isa.Instr, r isa.Reg) []byte {
	return []byte{isa.Opcode(i, isa.ModeREG), byte(r) << 4}
}

// encodeTwoReg encodes the register-register form of MOV/arithmetic/
// bitwise/CMP: opcode, then (dst<<4)|src.
func encodeTwoReg(i isa.Instr, dst, src isa.Reg) []byte {
	return []byte{isa.Opcode(i, isa.ModeREG), byte(dst)<<4 | byte(src)}
}

// encodeRegImm encodes the register-immediate form: opcode, reg<<4, then
// the big-endian imm64.
func encodeRegImm(i isa.Instr, dst isa.Reg, imm uint64) []byte {
	buf := make([]byte, 10)
	buf[0] = isa.Opcode(i, isa.ModeIMM)
	buf[1] = byte(dst) << 4
	binary.BigEndian.PutUint64(buf[2:10], imm)
	return buf
}

// encodeImmOnly encodes CALL/JMP*: opcode followed by the big-endian
// imm64 target address.
func encodeImmOnly(i isa.Instr, imm uint64) []byte {
	buf := make([]byte, 9)
	buf[0] = isa.Opcode(i, isa.ModeIMM)
	binary.BigEndian.PutUint64(buf[1:9], imm)
	return buf
}

// encodeRegIdx encodes LOAD/STORE: opcode, (dst<<4)|src, then the 16-bit
// signed big-endian displacement.
func encodeRegIdx(i isa.Instr, dst, src isa.Reg, disp int16) []byte {
	buf := make([]byte, 4)
	buf[0] = isa.Opcode(i, isa.ModeREGIDX)
	buf[1] = byte(dst)<<4 | byte(src)
	binary.BigEndian.PutUint16(buf[2:4], uint16(disp))
	return buf
}
