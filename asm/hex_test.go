package asm

import (
	"bytes"
	"strings"
	"testing"

	"rvm/isa"

	"github.com/google/go-cmp/cmp"
)

func TestHexRoundTrip(t *testing.T) {
	const source = `
		MOV R0, 40
		ADD R0, 2
		CALL print_u64
		JMP sys_enter
	`
	program, _, err := Assemble(source)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteHex(&buf, program); err != nil {
		t.Fatalf("WriteHex: %v", err)
	}

	got, err := ReadHex(&buf)
	if err != nil {
		t.Fatalf("ReadHex: %v", err)
	}
	if diff := cmp.Diff(program, got); diff != "" {
		t.Fatalf("hex round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteHexOneInstructionPerLine(t *testing.T) {
	const source = `
		MOV R0, 1
		RET
	`
	program, _, err := Assemble(source)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	var buf bytes.Buffer
	if err := WriteHex(&buf, program); err != nil {
		t.Fatalf("WriteHex: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")

	var instrCount int
	var pc int
	for pc < len(program) {
		width, ok := isa.Width(program[pc])
		if !ok {
			t.Fatalf("no known width at offset %d", pc)
		}
		pc += width
		instrCount++
	}
	if len(lines) != instrCount {
		t.Fatalf("WriteHex produced %d lines, want %d (one per instruction)", len(lines), instrCount)
	}
}

func TestReadHexIgnoresWhitespace(t *testing.T) {
	got, err := ReadHex(strings.NewReader("de ad\nbe\tef\r\n"))
	if err != nil {
		t.Fatalf("ReadHex: %v", err)
	}
	want := []byte{0xde, 0xad, 0xbe, 0xef}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ReadHex mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteLabelsFormat(t *testing.T) {
	var buf bytes.Buffer
	err := WriteLabels(&buf, []LabelEntry{{Addr: 0, Name: "sys_enter"}, {Addr: 9, Name: "print_u64"}})
	if err != nil {
		t.Fatalf("WriteLabels: %v", err)
	}
	want := "       0   sys_enter\n       9   print_u64\n"
	if buf.String() != want {
		t.Fatalf("WriteLabels output = %q, want %q", buf.String(), want)
	}
}
