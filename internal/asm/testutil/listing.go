package testutil

import (
	"strings"

	"github.com/tinyrange/lirgen/internal/asm"
)

// FromListing converts an assembler listing into the line form used by
// VerifyExpectations. Label lines are dropped.
func FromListing(listing []asm.Line) []DisasmLine {
	var out []DisasmLine
	for _, line := range listing {
		if line.Mnemonic == "" {
			continue
		}
		fields := strings.Fields(line.Text)
		out = append(out, DisasmLine{
			Text:       line.Text,
			Normalized: strings.Join(fields, " "),
			Mnemonic:   strings.ToLower(line.Mnemonic),
		})
	}
	return out
}

// Mnemonics returns the mnemonic of every instruction in order.
func Mnemonics(lines []DisasmLine) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.Mnemonic)
	}
	return out
}

// Count reports how many lines use mnemonic.
func Count(lines []DisasmLine, mnemonic string) int {
	n := 0
	for _, l := range lines {
		if l.Mnemonic == mnemonic {
			n++
		}
	}
	return n
}
