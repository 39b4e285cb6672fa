//go:build arm64

package jit

import "encoding/binary"

// Reserved host registers. These hold fixed base pointers for the
// duration of one JIT invocation and are never used as scratch space by
// the template expander. X19-X23 are AAPCS64 callee-saved, so the
// trampoline must restore them itself before returning to Go.
const (
	aRegsBase  = 19 // &vm.Regs[0]
	aMemBase   = 20 // &vm.Mem[0]
	aFlagsBase = 21 // &flagsByte, the one-byte flags cell in runAArch64Native
	aCodeBase  = 22 // base address of this translation's page
	aLookup    = 23 // &guestTable[0] (int64 per guest byte address)

	aScratchA    = 0
	aScratchB    = 1
	aScratchAddr = 2
	aScratchC    = 3
	aXZR         = 31
	aLR          = 30
)

// a64Gen accumulates the translated instruction stream for one program.
// ARM64 is fixed-width (4 bytes/instruction, little-endian), so every
// emit appends exactly one word.
type a64Gen struct {
	buf []byte
}

func (g *a64Gen) emitWord(w uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], w)
	g.buf = append(g.buf, b[:]...)
}

func (g *a64Gen) wordOffset() int { return len(g.buf) }

// movReg64 materializes a 64-bit immediate via MOVZ followed by up to
// three MOVK instructions, one per non-zero 16-bit half-word.
func (g *a64Gen) movReg64(rd int, imm uint64) {
	g.emitWord(0xD2800000 | uint32(imm&0xFFFF)<<5 | uint32(rd))
	for hw := 1; hw < 4; hw++ {
		half := uint32(imm>>(16*hw)) & 0xFFFF
		if half == 0 {
			continue
		}
		g.emitWord(0xF2800000 | uint32(hw)<<21 | half<<5 | uint32(rd))
	}
}

func (g *a64Gen) movRegReg(rd, rm int) {
	// ORR Rd, XZR, Rm
	g.emitWord(0xAA0003E0 | uint32(rm)<<16 | uint32(rd))
}

func (g *a64Gen) addRegReg(rd, rn, rm int) {
	g.emitWord(0x8B000000 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rd))
}

func (g *a64Gen) subRegReg(rd, rn, rm int) {
	g.emitWord(0xCB000000 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rd))
}

func (g *a64Gen) andRegReg(rd, rn, rm int) {
	g.emitWord(0x8A000000 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rd))
}

func (g *a64Gen) orrRegReg(rd, rn, rm int) {
	g.emitWord(0xAA000000 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rd))
}

func (g *a64Gen) eorRegReg(rd, rn, rm int) {
	g.emitWord(0xCA000000 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rd))
}

// mvnReg emits the bitwise complement of rm into rd (ORN Rd, XZR, Rm).
func (g *a64Gen) mvnReg(rd, rm int) {
	g.emitWord(0xAA2003E0 | uint32(rm)<<16 | uint32(rd))
}

// addImm12/subImm12 add or subtract an unsigned 12-bit immediate.
func (g *a64Gen) addImm12(rd, rn int, imm12 uint32) {
	g.emitWord(0x91000000 | (imm12&0xFFF)<<10 | uint32(rn)<<5 | uint32(rd))
}

func (g *a64Gen) subImm12(rd, rn int, imm12 uint32) {
	g.emitWord(0xD1000000 | (imm12&0xFFF)<<10 | uint32(rn)<<5 | uint32(rd))
}

// ldrImm/strImm access a 64-bit cell at [rn, #imm] where imm is a
// byte offset that must be a multiple of 8 (the unsigned-offset LDR/STR
// encoding scales the immediate field by the access size).
func (g *a64Gen) ldrImm(rt, rn int, byteOff int32) {
	g.emitWord(0xF9400000 | (uint32(byteOff/8)&0xFFF)<<10 | uint32(rn)<<5 | uint32(rt))
}

func (g *a64Gen) strImm(rt, rn int, byteOff int32) {
	g.emitWord(0xF9000000 | (uint32(byteOff/8)&0xFFF)<<10 | uint32(rn)<<5 | uint32(rt))
}

// ldrReg/strReg access a 64-bit cell at [rn, rm] (unscaled register
// offset), used for guest-memory and lookup-table accesses whose index
// is only known at run time.
func (g *a64Gen) ldrReg(rt, rn, rm int) {
	g.emitWord(0xF8606800 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rt))
}

func (g *a64Gen) strReg(rt, rn, rm int) {
	g.emitWord(0xF8206800 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rt))
}

// ldrRegScale8/strRegScale8 are the LSL #3 register-offset forms used to
// index the int64 guest lookup table directly by guest byte address.
func (g *a64Gen) ldrRegScale8(rt, rn, rm int) {
	g.emitWord(0xF8607800 | uint32(rm)<<16 | uint32(rn)<<5 | uint32(rt))
}

func (g *a64Gen) ldrbImm(rt, rn int, byteOff uint32) {
	g.emitWord(0x39400000 | (byteOff&0xFFF)<<10 | uint32(rn)<<5 | uint32(rt))
}

func (g *a64Gen) strbImm(rt, rn int, byteOff uint32) {
	g.emitWord(0x39000000 | (byteOff&0xFFF)<<10 | uint32(rn)<<5 | uint32(rt))
}

// movImmByte stores a small unsigned byte immediate into rd.
func (g *a64Gen) movImmByte(rd int, v byte) {
	g.emitWord(0xD2800000 | uint32(v)<<5 | uint32(rd))
}

// cmpRegs emits SUBS XZR, rn, rm, setting NZCV from rn-rm.
func (g *a64Gen) cmpRegs(rn, rm int) {
	g.emitWord(0xEB00001F | uint32(rm)<<16 | uint32(rn)<<5)
}

// ARM64 condition codes, as used by B.cond.
const (
	condEQ = 0x0
	condNE = 0x1
	condLT = 0xB
	condGT = 0xC
	condGE = 0xA
	condLE = 0xD
)

// bCond emits a placeholder B.cond and returns its word offset for
// later patching.
func (g *a64Gen) bCond(cond byte) int {
	pos := g.wordOffset()
	g.emitWord(0x54000000 | uint32(cond))
	return pos
}

// bUncond emits a placeholder unconditional B and returns its word
// offset for later patching.
func (g *a64Gen) bUncond() int {
	pos := g.wordOffset()
	g.emitWord(0x14000000)
	return pos
}

// cbz/cbnz emit a compare-and-branch on rt and return the patch site.
func (g *a64Gen) cbz(rt int) int {
	pos := g.wordOffset()
	g.emitWord(0xB4000000 | uint32(rt))
	return pos
}

func (g *a64Gen) cbnz(rt int) int {
	pos := g.wordOffset()
	g.emitWord(0xB5000000 | uint32(rt))
	return pos
}

func (g *a64Gen) brReg(rn int) {
	g.emitWord(0xD61F0000 | uint32(rn)<<5)
}

func (g *a64Gen) ret() {
	g.emitWord(0xD65F0000 | uint32(aLR)<<5)
}

func (g *a64Gen) svc0() {
	g.emitWord(0xD4000001)
}

// patchBranch rewrites the word at pos (previously emitted by bCond,
// bUncond, cbz or cbnz) so its displacement field targets targetWord.
// It rereads the opcode's top bits to tell which family it is, since
// each uses a different immediate width and position.
func (g *a64Gen) patchBranch(pos int, targetWordOffset int) {
	delta := int32(targetWordOffset-pos) / 4
	word := binary.LittleEndian.Uint32(g.buf[pos : pos+4])
	switch {
	case word&0xFC000000 == 0x14000000: // B
		word = (word &^ 0x03FFFFFF) | (uint32(delta) & 0x03FFFFFF)
	case word&0xFF000010 == 0x54000000: // B.cond
		word = (word &^ (0x7FFFF << 5)) | ((uint32(delta) & 0x7FFFF) << 5)
	case word&0x7E000000 == 0x34000000: // CBZ/CBNZ (bit 24 distinguishes the two)
		word = (word &^ (0x7FFFF << 5)) | ((uint32(delta) & 0x7FFFF) << 5)
	}
	binary.LittleEndian.PutUint32(g.buf[pos:pos+4], word)
}
