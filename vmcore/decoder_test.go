package vmcore

import (
	"testing"

	"rvm/isa"

	"github.com/google/go-cmp/cmp"
)

func TestDecodeEachForm(t *testing.T) {
	cases := []struct {
		name string
		code []byte
		want Decoded
	}{
		{
			name: "RET",
			code: []byte{isa.Opcode(isa.RET, isa.ModeREG)},
			want: Decoded{Instr: isa.RET, Mode: isa.ModeREG, Width: 1},
		},
		{
			name: "PUSH R3",
			code: []byte{isa.Opcode(isa.PUSH, isa.ModeREG), byte(isa.R3) << 4},
			want: Decoded{Instr: isa.PUSH, Mode: isa.ModeREG, Dst: isa.R3, Width: 2},
		},
		{
			name: "MOV R1,R2",
			code: []byte{isa.Opcode(isa.MOV, isa.ModeREG), byte(isa.R1)<<4 | byte(isa.R2)},
			want: Decoded{Instr: isa.MOV, Mode: isa.ModeREG, Dst: isa.R1, Src: isa.R2, Width: 2},
		},
		{
			name: "MOV R0,40",
			code: []byte{
				isa.Opcode(isa.MOV, isa.ModeIMM), byte(isa.R0) << 4,
				0, 0, 0, 0, 0, 0, 0, 40,
			},
			want: Decoded{Instr: isa.MOV, Mode: isa.ModeIMM, Dst: isa.R0, Imm: 40, Width: 10},
		},
		{
			name: "LOAD R4,[R5+8]",
			code: []byte{isa.Opcode(isa.LOAD, isa.ModeREGIDX), byte(isa.R4)<<4 | byte(isa.R5), 0, 8},
			want: Decoded{Instr: isa.LOAD, Mode: isa.ModeREGIDX, Dst: isa.R4, Src: isa.R5, Disp: 8, Width: 4},
		},
		{
			name: "STORE [R6-4],R7",
			code: []byte{isa.Opcode(isa.STORE, isa.ModeREGIDX), byte(isa.R6)<<4 | byte(isa.R7), 0xff, 0xfc},
			want: Decoded{Instr: isa.STORE, Mode: isa.ModeREGIDX, Dst: isa.R6, Src: isa.R7, Disp: -4, Width: 4},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := Decode(c.code, 0)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if diff := cmp.Diff(c.want, got); diff != "" {
				t.Fatalf("Decode mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeCallImmOnly(t *testing.T) {
	buf := make([]byte, 9)
	buf[0] = isa.Opcode(isa.CALL, isa.ModeIMM)
	buf[8] = 9
	got, err := Decode(buf, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := Decoded{Instr: isa.CALL, Mode: isa.ModeIMM, Imm: 9, Width: 9}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Decode mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeUnknownOpcode(t *testing.T) {
	// instr field 63 has no assigned mnemonic; opcode byte packs it with
	// mode 0.
	code := []byte{byte(63) << 2}
	if _, err := Decode(code, 0); err == nil {
		t.Fatal("expected an error decoding an unassigned opcode")
	}
}

func TestDecodeTruncated(t *testing.T) {
	code := []byte{isa.Opcode(isa.MOV, isa.ModeIMM), byte(isa.R0) << 4, 0, 0}
	if _, err := Decode(code, 0); err == nil {
		t.Fatal("expected an error decoding a truncated instruction")
	}
}

func TestDecodePastEnd(t *testing.T) {
	code := []byte{isa.Opcode(isa.RET, isa.ModeREG)}
	if _, err := Decode(code, 1); err == nil {
		t.Fatal("expected an error decoding past the end of the image")
	}
}
