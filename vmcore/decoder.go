package vmcore

import (
	"encoding/binary"
	"fmt"

	"rvm/isa"
)

// Decoded is the record produced by decoding one instruction from the code
// image. It carries every operand field any instruction form might use;
// unused fields are simply left zero.
type Decoded struct {
	Instr isa.Instr
	Mode  isa.Mode
	Dst   isa.Reg
	Src   isa.Reg
	Disp  int16
	Imm   uint64
	Width int
}

// ErrDecodeFault is returned (wrapped with context) whenever the byte
// cursor lands on an opcode/mode combination that encodes no instruction,
// or an instruction's operand bytes would read past the end of the image.
var ErrDecodeFault = fmt.Errorf("decode fault")

// Decode reads one instruction starting at byte offset pc in code. It never
// reads past len(code); truncated trailing bytes are reported the same way
// as an unknown opcode/mode byte.
func Decode(code []byte, pc uint64) (Decoded, error) {
	if pc >= uint64(len(code)) {
		return Decoded{}, fmt.Errorf("%w: pc %d past end of image (%d bytes)", ErrDecodeFault, pc, len(code))
	}

	opcode := code[pc]
	width, ok := isa.Width(opcode)
	if !ok {
		instr, mode := isa.DecodeOpcode(opcode)
		return Decoded{}, fmt.Errorf("%w: unknown opcode/mode at pc %d (instr=%v mode=%v)", ErrDecodeFault, pc, instr, mode)
	}
	if pc+uint64(width) > uint64(len(code)) {
		return Decoded{}, fmt.Errorf("%w: truncated instruction at pc %d (need %d bytes, have %d)", ErrDecodeFault, pc, width, len(code)-int(pc))
	}

	instr, mode := isa.DecodeOpcode(opcode)
	d := Decoded{Instr: instr, Mode: mode, Width: width}
	body := code[pc+1 : pc+uint64(width)]

	switch {
	case instr == isa.RET:
		// no operands
	case instr == isa.NOT || instr == isa.PUSH || instr == isa.POP:
		d.Dst = isa.Reg(body[0] >> 4)
	case mode == isa.ModeREGIDX:
		d.Dst = isa.Reg(body[0] >> 4)
		d.Src = isa.Reg(body[0] & 0xf)
		d.Disp = int16(binary.BigEndian.Uint16(body[1:3]))
	case mode == isa.ModeIMM && (instr == isa.CALL || instr == isa.JMP || instr == isa.JMPEQ ||
		instr == isa.JMPNE || instr == isa.JMPGT || instr == isa.JMPLT || instr == isa.JMPGE || instr == isa.JMPLE):
		d.Imm = binary.BigEndian.Uint64(body[0:8])
	case mode == isa.ModeIMM:
		d.Dst = isa.Reg(body[0] >> 4)
		d.Imm = binary.BigEndian.Uint64(body[1:9])
	case mode == isa.ModeREG:
		d.Dst = isa.Reg(body[0] >> 4)
		d.Src = isa.Reg(body[0] & 0xf)
	}

	return d, nil
}
