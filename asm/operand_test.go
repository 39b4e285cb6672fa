package asm

import (
	"testing"

	"rvm/isa"
)

func TestParseImmediateForms(t *testing.T) {
	cases := []struct {
		tok  string
		want uint64
	}{
		{"40", 40},
		{"0x2A", 42},
		{"0xdeadbeef", 0xdeadbeef},
		{"-1", 0xFFFFFFFFFFFFFFFF},
		{"-128", uint64(int64(-128))},
	}
	for _, c := range cases {
		got, err := parseImmediate(c.tok)
		if err != nil {
			t.Fatalf("parseImmediate(%q): %v", c.tok, err)
		}
		if got != c.want {
			t.Errorf("parseImmediate(%q) = %#x, want %#x", c.tok, got, c.want)
		}
	}
}

func TestParseImmediateRejectsGarbage(t *testing.T) {
	if _, err := parseImmediate("not-a-number"); err == nil {
		t.Fatal("expected an error")
	}
	if _, err := parseImmediate(""); err == nil {
		t.Fatal("expected an error for an empty token")
	}
}

func TestParseRegOrImm(t *testing.T) {
	op, err := parseRegOrImm("r3")
	if err != nil || op.kind != opRegister || op.reg != isa.R3 {
		t.Fatalf("parseRegOrImm(\"r3\") = %+v, %v", op, err)
	}

	op, err = parseRegOrImm("100")
	if err != nil || op.kind != opImmediate || op.imm != 100 {
		t.Fatalf("parseRegOrImm(\"100\") = %+v, %v", op, err)
	}
}

func TestParseImmOrLabel(t *testing.T) {
	op, err := parseImmOrLabel("42")
	if err != nil || op.kind != opImmediate || op.imm != 42 {
		t.Fatalf("parseImmOrLabel(\"42\") = %+v, %v", op, err)
	}

	op, err = parseImmOrLabel("my_label")
	if err != nil || op.kind != opLabel || op.label != "my_label" {
		t.Fatalf("parseImmOrLabel(\"my_label\") = %+v, %v", op, err)
	}
}

func TestParseMemRef(t *testing.T) {
	cases := []struct {
		tok      string
		wantReg  isa.Reg
		wantDisp int16
	}{
		{"[R1]", isa.R1, 0},
		{"[R2+8]", isa.R2, 8},
		{"[R3-4]", isa.R3, -4},
		{"[SP+16]", isa.SP, 16},
	}
	for _, c := range cases {
		op, err := parseMemRef(c.tok)
		if err != nil {
			t.Fatalf("parseMemRef(%q): %v", c.tok, err)
		}
		if op.kind != opMemRef || op.reg != c.wantReg || op.disp != c.wantDisp {
			t.Errorf("parseMemRef(%q) = %+v, want reg=%v disp=%d", c.tok, op, c.wantReg, c.wantDisp)
		}
	}
}

func TestParseMemRefRejectsMalformed(t *testing.T) {
	for _, tok := range []string{"R1", "[R1", "R1]", "[99]"} {
		if _, err := parseMemRef(tok); err == nil {
			t.Errorf("parseMemRef(%q) should have failed", tok)
		}
	}
}

func TestParseMemRefDisplacementRange(t *testing.T) {
	if _, err := parseMemRef("[R1+40000]"); err == nil {
		t.Fatal("expected a 16-bit displacement range error")
	}
}

func TestSplitOperands(t *testing.T) {
	dst, src, err := splitOperands("R0, R1")
	if err != nil || dst != "R0" || src != "R1" {
		t.Fatalf("splitOperands = (%q, %q), %v", dst, src, err)
	}
	if _, _, err := splitOperands("R0"); err == nil {
		t.Fatal("expected an error with no comma")
	}
}
