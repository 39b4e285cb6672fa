package asm

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"rvm/isa"

	"github.com/pkg/errors"
)

// WriteHex writes one line per encoded instruction: lowercase hex byte
// pairs separated by single spaces, re-walking the byte image with
// isa.Width, the same width table the VM's decoder uses, so instruction
// boundaries line up exactly.
func WriteHex(w io.Writer, program []byte) error {
	bw := bufio.NewWriter(w)
	var pc uint64
	for pc < uint64(len(program)) {
		width, ok := isa.Width(program[pc])
		if !ok {
			return fmt.Errorf("%w: cannot format instruction at offset %d for hex output", ErrSyntax, pc)
		}
		line := hex.EncodeToString(program[pc : pc+uint64(width)])
		if len(line)%2 != 0 {
			line = "0" + line
		}
		if _, err := bw.WriteString(formatHexPairs(line)); err != nil {
			return err
		}
		if _, err := bw.WriteString("\n"); err != nil {
			return err
		}
		pc += uint64(width)
	}
	return bw.Flush()
}

// formatHexPairs inserts a single space between each pair of hex digits.
func formatHexPairs(line string) string {
	var b strings.Builder
	for i := 0; i < len(line); i += 2 {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(line[i : i+2])
	}
	return b.String()
}

// ReadHex parses a whitespace-tolerant hex byte stream: every run of
// whitespace, including newlines, is ignored.
func ReadHex(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var compact bytes.Buffer
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r', '\v', '\f':
			continue
		default:
			compact.WriteByte(b)
		}
	}
	decoded, err := hex.DecodeString(compact.String())
	if err != nil {
		return nil, errors.Wrap(err, "invalid hex image")
	}
	return decoded, nil
}

// WriteLabels writes the .lbl side table: one record per line, an
// 8-character right-justified lowercase hex address, three spaces, and
// the label's unqualified name.
func WriteLabels(w io.Writer, entries []LabelEntry) error {
	bw := bufio.NewWriter(w)
	for _, e := range entries {
		if _, err := fmt.Fprintf(bw, "%8x   %s\n", e.Addr, e.Name); err != nil {
			return err
		}
	}
	return bw.Flush()
}
