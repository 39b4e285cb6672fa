package vmcore_test

import (
	"bytes"
	"strings"
	"testing"

	"rvm/asm"
	"rvm/vmcore"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

func assembleAndRun(t *testing.T, source string) (*vmcore.VM, string) {
	t.Helper()
	program, _, err := asm.Assemble(source)
	assert(t, err == nil, "Assemble failed: %v", err)

	var out bytes.Buffer
	vm, err := vmcore.New(program, 0, &out, strings.NewReader(""))
	assert(t, err == nil, "vmcore.New failed: %v", err)

	err = vm.Run()
	assert(t, err == nil, "Run returned an unexpected fault: %v", err)
	assert(t, vm.Halted(), "program did not halt")
	return vm, out.String()
}

func TestPrintU64Scenario(t *testing.T) {
	const source = `
		MOV R0, 40
		ADD R0, 2
		CALL print_u64
		JMP sys_enter
	`
	_, out := assembleAndRun(t, source)
	assert(t, out == "42\n", "stdout = %q, want %q", out, "42\n")
}

func TestSysWriteScenario(t *testing.T) {
	const source = `
		; write the one byte at [R2] to stdout
		MOV R2, 64
		MOV R3, 72
		STORE [R2+0], R3
		MOV R0, 1
		MOV R1, 64
		CALL sys_write
		JMP sys_enter
	`
	_, out := assembleAndRun(t, source)
	assert(t, out == "H", "stdout = %q, want %q", out, "H")
}

func TestArithmeticAndFlagsExclusivity(t *testing.T) {
	const source = `
		MOV R0, 10
		MOV R1, 3
		SUB R0, R1
		CMP R0, 7
		JMPEQ eq_branch
		MOV R5, 1
		JMP sys_enter
	eq_branch:
		MOV R5, 2
		JMP sys_enter
	`
	vm, _ := assembleAndRun(t, source)
	assert(t, vm.Regs[5] == 2, "R5 = %d, want 2 (CMP should have taken the EQ branch)", vm.Regs[5])
	assert(t, vm.Flags.EQ && !vm.Flags.LT && !vm.Flags.GT, "flags = %v, want exactly EQ set", vm.Flags)
}

func TestCallReturnsThroughGuestStack(t *testing.T) {
	const source = `
		MOV R0, 5
		CALL double
		CALL print_u64
		JMP sys_enter
	double:
		ADD R0, R0
		RET
	`
	_, out := assembleAndRun(t, source)
	assert(t, out == "10\n", "stdout = %q, want %q", out, "10\n")
}

func TestLocalLabelsScopeToTopLevel(t *testing.T) {
	const source = `
	outer_a:
		MOV R0, 1
		JMP .done
	.done:
		CALL print_u64
		JMP sys_enter
	`
	_, out := assembleAndRun(t, source)
	assert(t, out == "1\n", "stdout = %q, want %q", out, "1\n")
}

func TestMemoryLoadStoreRoundTrip(t *testing.T) {
	const source = `
		MOV R1, 256
		MOV R2, 0xdeadbeef
		STORE [R1+0], R2
		LOAD R3, [R1+0]
		MOV R0, R3
		CALL print_u64
		JMP sys_enter
	`
	_, out := assembleAndRun(t, source)
	assert(t, out == "3735928559\n", "stdout = %q, want %q", out, "3735928559\n")
}

func TestUnknownLabelFaultsAtAssembleTime(t *testing.T) {
	const source = `
		JMP nowhere
	`
	_, _, err := asm.Assemble(source)
	assert(t, err != nil, "expected an unknown-label error")
}

func TestWritingPCDirectlyIsIllegal(t *testing.T) {
	// PC resolves as an ordinary register name in the grammar, so MOV PC,
	// imm assembles fine; the interpreter must still refuse the write.
	const source = `
		MOV PC, 100
	`
	program, _, err := asm.Assemble(source)
	assert(t, err == nil, "Assemble failed: %v", err)

	var out bytes.Buffer
	vm, err := vmcore.New(program, 0, &out, strings.NewReader(""))
	assert(t, err == nil, "vmcore.New failed: %v", err)

	err = vm.Run()
	assert(t, err != nil, "expected ErrIllegalOperation writing PC via MOV")
}
