//go:build amd64

package jit

import "testing"

func TestMovRegImm64Encoding(t *testing.T) {
	g := &x86Gen{}
	g.movRegImm64(hRAX, 0x0102030405060708)
	// REX.W (no R/X/B needed for RAX) + B8 + 8 bytes little-endian imm.
	want := []byte{0x48, 0xB8, 0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}
	if string(g.buf) != string(want) {
		t.Fatalf("movRegImm64 = % x, want % x", g.buf, want)
	}
}

func TestMovRegImm64HighRegisterSetsRexB(t *testing.T) {
	g := &x86Gen{}
	g.movRegImm64(hR8, 1)
	if g.buf[0] != 0x49 { // REX.WB
		t.Fatalf("REX prefix = %#x, want 0x49 (W+B)", g.buf[0])
	}
	if g.buf[1] != 0xB8 {
		t.Fatalf("opcode byte = %#x, want 0xB8 (low 3 bits of B8+r are masked off via rex.B)", g.buf[1])
	}
}

func TestPatchHereComputesForwardDisplacement(t *testing.T) {
	g := &x86Gen{}
	pos := g.jmpRel32()
	g.emitByte(0x90) // one byte of filler so the displacement is nonzero
	g.patchHere(pos)

	rel := int32(g.buf[pos]) | int32(g.buf[pos+1])<<8 | int32(g.buf[pos+2])<<16 | int32(g.buf[pos+3])<<24
	if rel != 1 {
		t.Fatalf("patched rel32 = %d, want 1 (one filler byte between the field and the target)", rel)
	}
}

func TestPatchToComputesBackwardDisplacement(t *testing.T) {
	g := &x86Gen{}
	target := len(g.buf)
	g.emitByte(0x90)
	g.emitByte(0x90)
	pos := g.jmpRel32()
	g.patchTo(pos, target)

	rel := int32(g.buf[pos]) | int32(g.buf[pos+1])<<8 | int32(g.buf[pos+2])<<16 | int32(g.buf[pos+3])<<24
	want := int32(target - (pos + 4))
	if rel != want {
		t.Fatalf("patched rel32 = %d, want %d", rel, want)
	}
}

func TestAluRegRegOpcodes(t *testing.T) {
	g := &x86Gen{}
	g.aluRegReg(opADD, hRAX, hRCX)
	g.aluRegReg(opCMP, hRAX, hRCX)
	if g.buf[1] != opADD {
		t.Fatalf("first opcode byte = %#x, want opADD", g.buf[1])
	}
	if g.buf[4] != opCMP {
		t.Fatalf("second opcode byte = %#x, want opCMP", g.buf[4])
	}
}

func TestScaleBits(t *testing.T) {
	cases := map[int]byte{1: 0, 2: 1, 4: 2, 8: 3}
	for scale, want := range cases {
		if got := scaleBits(scale); got != want {
			t.Errorf("scaleBits(%d) = %d, want %d", scale, got, want)
		}
	}
}
