package jit

import (
	"strings"
	"testing"

	"rvm/asm"
	"rvm/vmcore"
)

func TestNewGuestTableStartsAllInvalid(t *testing.T) {
	table := newGuestTable(16)
	for i, v := range table {
		if v != -1 {
			t.Fatalf("table[%d] = %d, want -1", i, v)
		}
	}
}

func TestIsTrapCall(t *testing.T) {
	if !isTrapCall(vmcore.PrintU64Addr) {
		t.Error("PrintU64Addr should be a trap call")
	}
	if !isTrapCall(vmcore.SysWriteAddr) {
		t.Error("SysWriteAddr should be a trap call")
	}
	if isTrapCall(vmcore.PrologueLen) {
		t.Error("an ordinary user-code address should not be a trap call")
	}
}

func TestWalkGuestVisitsEveryInstructionOnce(t *testing.T) {
	const source = `
		MOV R0, 1
		ADD R0, 2
		CALL print_u64
		JMP sys_enter
	`
	program, _, err := asm.Assemble(strings.TrimSpace(source))
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	vm, err := vmcore.New(program, 0, new(strings.Builder), strings.NewReader(""))
	if err != nil {
		t.Fatalf("vmcore.New: %v", err)
	}

	var count int
	err = walkGuest(vm, func(pc uint64, d vmcore.Decoded) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("walkGuest: %v", err)
	}
	if count != 4 {
		t.Fatalf("walkGuest visited %d instructions, want 4", count)
	}
}
