package asm

import (
	"fmt"
	"sort"
	"strings"

	"rvm/isa"

	"github.com/pkg/errors"
)

// ErrSyntax covers any source line matching no known production.
var ErrSyntax = fmt.Errorf("syntax error")

// ErrUnknownLabel is raised at link time for a reference with no matching
// definition.
var ErrUnknownLabel = fmt.Errorf("unknown label")

// ErrDuplicateLabel is raised at definition time when a qualified name is
// already in labelAddr.
var ErrDuplicateLabel = fmt.Errorf("duplicate label")

// ErrLocalWithoutScope is raised when a local label appears with no
// enclosing top-level label yet seen.
var ErrLocalWithoutScope = fmt.Errorf("local label without enclosing top-level label")

// labelRef records one program-slot awaiting a patched address: the byte
// offset of the instruction within program, plus the offset of the
// 8-byte immediate field within that instruction.
type labelRef struct {
	instrOffset int
	fieldOffset int
}

// Assembler holds all per-invocation state for one assembly: the growing
// byte program, the label tables, and bookkeeping for scope resolution.
// It is reset by calling New for each new input; there is no process-wide
// assembler state.
type Assembler struct {
	program      []byte
	labelAddr    map[string]uint64
	labelRefs    map[string][]labelRef
	curTopLevel  string
	sawTopLevel  bool
}

// New constructs an empty Assembler and immediately emits the synthetic
// prologue: sys_enter's self-jump trampoline, then the print_u64 and
// sys_write trap bodies (each a single RET, intercepted by address before
// the interpreter or JIT would otherwise execute them as a no-op return).
func New() *Assembler {
	a := &Assembler{
		labelAddr: make(map[string]uint64),
		labelRefs: make(map[string][]labelRef),
	}
	a.defineLabel("sys_enter")
	instrOffset := len(a.program)
	a.emit(encodeImmOnly(isa.JMP, 0)) // placeholder; patched to self below
	a.recordRef("sys_enter", instrOffset, 1)

	a.defineLabel("print_u64")
	a.emit(encodeNoOperand(isa.RET))

	a.defineLabel("sys_write")
	a.emit(encodeNoOperand(isa.RET))

	return a
}

func (a *Assembler) emit(b []byte) {
	a.program = append(a.program, b...)
}

// defineLabel records addr = current program length for name, which must
// already be the fully qualified form. It fails on redefinition.
func (a *Assembler) defineLabel(qualified string) error {
	if _, dup := a.labelAddr[qualified]; dup {
		return errors.Wrapf(ErrDuplicateLabel, "%q", qualified)
	}
	a.labelAddr[qualified] = uint64(len(a.program))
	return nil
}

// recordRef notes that the 8-byte immediate field at program[instrOffset+
// fieldOffset:...+8] must be patched with name's resolved address.
func (a *Assembler) recordRef(name string, instrOffset, fieldOffset int) {
	a.labelRefs[name] = append(a.labelRefs[name], labelRef{instrOffset: instrOffset, fieldOffset: fieldOffset})
}

// qualify resolves a raw label token (as it appeared in source) into its
// fully qualified namespace form, using the current curTopLevel as the
// scope of a local name. It does not change curTopLevel.
func (a *Assembler) qualify(name string) (string, error) {
	if !isLocal(name) {
		return name, nil
	}
	if !a.sawTopLevel {
		return "", errors.Wrapf(ErrLocalWithoutScope, "%q", name)
	}
	return a.curTopLevel + scopeSep + strings.TrimPrefix(name, localMarker), nil
}

// Assemble compiles source into a finished, linked byte image and the
// Assembler that produced it, from which Labels() yields the .lbl table.
// Labels may be referenced before their definition; Pass B resolves every
// reference once the whole source has been scanned.
func Assemble(source string) ([]byte, *Assembler, error) {
	a := New()
	for _, s := range lex(source) {
		if err := a.assembleStatement(s); err != nil {
			return nil, nil, errors.Wrapf(err, "line %d", s.line)
		}
	}
	if err := a.link(); err != nil {
		return nil, nil, err
	}
	return a.program, a, nil
}

func (a *Assembler) assembleStatement(s statement) error {
	if s.kind == stmtLabel {
		if isLocal(s.label) {
			if !a.sawTopLevel {
				return errors.Wrapf(ErrLocalWithoutScope, "%q", s.label)
			}
			return a.defineLabel(a.curTopLevel + scopeSep + strings.TrimPrefix(s.label, localMarker))
		}
		a.curTopLevel = s.label
		a.sawTopLevel = true
		return a.defineLabel(s.label)
	}
	return a.assembleInstruction(s)
}

func (a *Assembler) assembleInstruction(s statement) error {
	instr, ok := isa.InstrByName(s.mnemonic)
	if !ok {
		return errors.Wrapf(ErrSyntax, "unknown mnemonic %q", s.mnemonic)
	}

	switch instr {
	case isa.RET:
		a.emit(encodeNoOperand(instr))
		return nil

	case isa.NOT, isa.PUSH, isa.POP:
		r, err := parseRegister(s.operands)
		if err != nil {
			return err
		}
		a.emit(encodeOneReg(instr, r))
		return nil

	case isa.CALL, isa.JMP, isa.JMPEQ, isa.JMPNE, isa.JMPGT, isa.JMPLT, isa.JMPGE, isa.JMPLE:
		op, err := parseImmOrLabel(s.operands)
		if err != nil {
			return err
		}
		instrOffset := len(a.program)
		a.emit(encodeImmOnly(instr, op.imm))
		if op.kind == opLabel {
			qualified, err := a.qualify(op.label)
			if err != nil {
				return err
			}
			a.recordRef(qualified, instrOffset, 1)
		}
		return nil

	case isa.LOAD:
		dstTok, srcTok, err := splitOperands(s.operands)
		if err != nil {
			return err
		}
		dst, err := parseRegister(dstTok)
		if err != nil {
			return err
		}
		mem, err := parseMemRef(srcTok)
		if err != nil {
			return err
		}
		a.emit(encodeRegIdx(instr, dst, mem.reg, mem.disp))
		return nil

	case isa.STORE:
		dstTok, srcTok, err := splitOperands(s.operands)
		if err != nil {
			return err
		}
		mem, err := parseMemRef(dstTok)
		if err != nil {
			return err
		}
		src, err := parseRegister(srcTok)
		if err != nil {
			return err
		}
		a.emit(encodeRegIdx(instr, mem.reg, src, mem.disp))
		return nil

	case isa.MOV, isa.ADD, isa.SUB, isa.AND, isa.OR, isa.XOR, isa.CMP:
		dstTok, srcTok, err := splitOperands(s.operands)
		if err != nil {
			return err
		}
		dst, err := parseRegister(dstTok)
		if err != nil {
			return err
		}
		src, err := parseRegOrImm(srcTok)
		if err != nil {
			return err
		}
		if src.kind == opRegister {
			a.emit(encodeTwoReg(instr, dst, src.reg))
		} else {
			a.emit(encodeRegImm(instr, dst, src.imm))
		}
		return nil
	}

	return errors.Wrapf(ErrSyntax, "unhandled mnemonic %q", s.mnemonic)
}

// link runs Pass B: resolve every recorded reference against labelAddr
// and OR the big-endian address into the zeroed placeholder field.
func (a *Assembler) link() error {
	names := make([]string, 0, len(a.labelRefs))
	for name := range a.labelRefs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		addr, ok := a.labelAddr[name]
		if !ok {
			return errors.Wrapf(ErrUnknownLabel, "%q", name)
		}
		for _, ref := range a.labelRefs[name] {
			start := ref.instrOffset + ref.fieldOffset
			for i := 0; i < 8; i++ {
				shift := uint((7 - i) * 8)
				a.program[start+i] |= byte(addr >> shift)
			}
		}
	}
	return nil
}

// Labels returns the address table sorted by address ascending, with
// qualified names reduced to their unqualified form, matching the .lbl
// file's record order and contents.
func (a *Assembler) Labels() []LabelEntry {
	entries := make([]LabelEntry, 0, len(a.labelAddr))
	for name, addr := range a.labelAddr {
		entries = append(entries, LabelEntry{Addr: addr, Name: unqualify(name)})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Addr != entries[j].Addr {
			return entries[i].Addr < entries[j].Addr
		}
		return entries[i].Name < entries[j].Name
	})
	return entries
}

// LabelEntry is one row of the label table.
type LabelEntry struct {
	Addr uint64
	Name string
}

func unqualify(qualified string) string {
	if i := strings.LastIndex(qualified, scopeSep); i >= 0 {
		return qualified[i+1:]
	}
	return qualified
}
