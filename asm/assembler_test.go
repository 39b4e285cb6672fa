package asm

import (
	"testing"

	"rvm/isa"
)

func TestPrologueLayout(t *testing.T) {
	a := New()
	if got := a.labelAddr["sys_enter"]; got != 0 {
		t.Errorf("sys_enter at %d, want 0", got)
	}
	if got := a.labelAddr["print_u64"]; got != 9 {
		t.Errorf("print_u64 at %d, want 9 (sys_enter's JMP is the 9-byte imm-only form)", got)
	}
	if got := a.labelAddr["sys_write"]; got != 10 {
		t.Errorf("sys_write at %d, want 10", got)
	}
	if got := len(a.program); got != 11 {
		t.Errorf("prologue length = %d, want 11", got)
	}
}

func TestSysEnterIsASelfJump(t *testing.T) {
	program, _, err := Assemble("")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	instr, mode := isa.DecodeOpcode(program[0])
	if instr != isa.JMP || mode != isa.ModeIMM {
		t.Fatalf("sys_enter = (%v, %v), want (JMP, ModeIMM)", instr, mode)
	}
	var target uint64
	for _, b := range program[1:9] {
		target = target<<8 | uint64(b)
	}
	if target != 0 {
		t.Fatalf("sys_enter's jump target = %d, want 0 (self-jump)", target)
	}
}

func TestLabelForwardAndBackwardReferences(t *testing.T) {
	const source = `
		JMP forward
	back:
		RET
	forward:
		CALL back
		JMP sys_enter
	`
	_, _, err := Assemble(source)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
}

func TestDuplicateTopLevelLabelIsRejected(t *testing.T) {
	const source = `
	again:
		RET
	again:
		RET
	`
	if _, _, err := Assemble(source); err == nil {
		t.Fatal("expected a duplicate-label error")
	}
}

func TestLocalLabelWithoutEnclosingScopeIsRejected(t *testing.T) {
	const source = `
		JMP .nope
	`
	if _, _, err := Assemble(source); err == nil {
		t.Fatal("expected a local-label-without-scope error")
	}
}

func TestLocalLabelsInDifferentScopesDoNotCollide(t *testing.T) {
	const source = `
	first:
		JMP .body
	.body:
		RET
	second:
		JMP .body
	.body:
		RET
	`
	if _, _, err := Assemble(source); err != nil {
		t.Fatalf("Assemble: %v", err)
	}
}

func TestUnknownMnemonicIsSyntaxError(t *testing.T) {
	if _, _, err := Assemble("FROBNICATE R0, R1"); err == nil {
		t.Fatal("expected a syntax error for an unknown mnemonic")
	}
}

func TestLabelsTableIsSortedByAddress(t *testing.T) {
	const source = `
	b_label:
		RET
	a_label:
		RET
	`
	_, a, err := Assemble(source)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	entries := a.Labels()
	for i := 1; i < len(entries); i++ {
		if entries[i-1].Addr > entries[i].Addr {
			t.Fatalf("Labels() not sorted by address: %v", entries)
		}
	}
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	if !names["b_label"] || !names["a_label"] {
		t.Fatalf("Labels() missing expected entries: %v", entries)
	}
}

func TestEncodedWidthsMatchIsaWidth(t *testing.T) {
	const source = `
		MOV R0, 1
		MOV R1, R2
		ADD R0, 5
		NOT R3
		PUSH R4
		LOAD R5, [R6+4]
		STORE [R6+4], R5
		CALL sys_write
		RET
	`
	program, _, err := Assemble(source)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	var pc uint64
	for pc < uint64(len(program)) {
		width, ok := isa.Width(program[pc])
		if !ok {
			t.Fatalf("offset %d: opcode %#x has no known width", pc, program[pc])
		}
		pc += uint64(width)
	}
	if pc != uint64(len(program)) {
		t.Fatalf("walked %d bytes, program is %d bytes", pc, len(program))
	}
}
