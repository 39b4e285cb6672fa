package asm

import (
	"fmt"
	"strconv"
	"strings"

	"rvm/isa"
)

// operandKind distinguishes the surface forms the grammar allows; the
// encoder picks its instruction form from a combination of these.
type operandKind int

const (
	opRegister operandKind = iota
	opImmediate
	opMemRef
	opLabel
)

// operand is one parsed operand: exactly one of its fields is meaningful,
// selected by kind.
type operand struct {
	kind operandKind

	reg   isa.Reg // opRegister, and base register of opMemRef
	imm   uint64  // opImmediate
	disp  int16   // opMemRef
	label string  // opLabel
}

// parseImmediate accepts decimal with an optional leading '-', or an
// unsigned 0x-prefixed hex literal, and returns its uint64 bit pattern.
// A leading '-' is parsed as a signed int64 and reinterpreted, matching
// the encoder's two's-complement rule; everything else is parsed as an
// unsigned literal directly.
func parseImmediate(tok string) (uint64, error) {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return 0, fmt.Errorf("empty immediate")
	}
	if strings.HasPrefix(tok, "-") {
		v, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid signed immediate %q: %w", tok, err)
		}
		return uint64(v), nil
	}
	lower := strings.ToLower(tok)
	if strings.HasPrefix(lower, "0x") {
		v, err := strconv.ParseUint(tok[2:], 16, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid hex immediate %q: %w", tok, err)
		}
		return v, nil
	}
	v, err := strconv.ParseUint(tok, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid decimal immediate %q: %w", tok, err)
	}
	return v, nil
}

// looksLikeImmediate reports whether tok starts like an immediate literal
// (a '-' or a decimal digit); used to tell an immediate from a label name
// in the operand of CALL/JMP*.
func looksLikeImmediate(tok string) bool {
	if tok == "" {
		return false
	}
	c := tok[0]
	return c == '-' || (c >= '0' && c <= '9')
}

// parseRegOrImm parses the src half of a two-operand instruction (MOV,
// arithmetic, bitwise, CMP): a register or an immediate literal. The
// grammar does not allow a label here.
func parseRegOrImm(tok string) (operand, error) {
	tok = strings.TrimSpace(tok)
	if r, ok := isa.RegByName(strings.ToUpper(tok)); ok {
		return operand{kind: opRegister, reg: r}, nil
	}
	v, err := parseImmediate(tok)
	if err != nil {
		return operand{}, fmt.Errorf("expected register or immediate, got %q: %w", tok, err)
	}
	return operand{kind: opImmediate, imm: v}, nil
}

// parseRegister parses a bare register operand.
func parseRegister(tok string) (isa.Reg, error) {
	tok = strings.ToUpper(strings.TrimSpace(tok))
	r, ok := isa.RegByName(tok)
	if !ok {
		return 0, fmt.Errorf("unknown register %q", tok)
	}
	return r, nil
}

// parseImmOrLabel parses the sole operand of CALL/JMP*: an immediate
// literal or a label reference.
func parseImmOrLabel(tok string) (operand, error) {
	tok = strings.TrimSpace(tok)
	if looksLikeImmediate(tok) {
		v, err := parseImmediate(tok)
		if err != nil {
			return operand{}, err
		}
		return operand{kind: opImmediate, imm: v}, nil
	}
	return operand{kind: opLabel, label: tok}, nil
}

// parseMemRef parses '[' register [ ('+'|'-') imm ] ']'.
func parseMemRef(tok string) (operand, error) {
	tok = strings.TrimSpace(tok)
	if !strings.HasPrefix(tok, "[") || !strings.HasSuffix(tok, "]") {
		return operand{}, fmt.Errorf("expected memory reference in brackets, got %q", tok)
	}
	inner := strings.TrimSpace(tok[1 : len(tok)-1])

	sign := 1
	splitIdx := -1
	for i := len(inner) - 1; i > 0; i-- {
		if inner[i] == '+' {
			splitIdx = i
			sign = 1
			break
		}
		if inner[i] == '-' {
			splitIdx = i
			sign = -1
			break
		}
	}

	var regTok, dispTok string
	if splitIdx < 0 {
		regTok = inner
	} else {
		regTok = inner[:splitIdx]
		dispTok = inner[splitIdx+1:]
	}

	r, err := parseRegister(regTok)
	if err != nil {
		return operand{}, err
	}

	var disp int16
	if dispTok != "" {
		v, err := parseImmediate(strings.TrimSpace(dispTok))
		if err != nil {
			return operand{}, fmt.Errorf("invalid displacement: %w", err)
		}
		d := int64(v) * int64(sign)
		if d < -32768 || d > 32767 {
			return operand{}, fmt.Errorf("displacement %d out of 16-bit signed range", d)
		}
		disp = int16(d)
	}

	return operand{kind: opMemRef, reg: r, disp: disp}, nil
}

// splitOperands splits a "dst, src" operand string on the first comma.
func splitOperands(s string) (string, string, error) {
	i := strings.IndexByte(s, ',')
	if i < 0 {
		return "", "", fmt.Errorf("expected two comma-separated operands, got %q", s)
	}
	return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:]), nil
}
