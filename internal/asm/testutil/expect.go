package testutil

import (
	"fmt"
	"strings"
	"testing"
)

// Expectation is one instruction a listing must contain.
type Expectation struct {
	Name     string
	Mnemonic string
	Contains []string
}

func (e Expectation) check(line DisasmLine) error {
	if e.Mnemonic != "" && line.Mnemonic != e.Mnemonic {
		return fmt.Errorf("mnemonic %s, want %s", line.Mnemonic, e.Mnemonic)
	}
	for _, needle := range e.Contains {
		if !line.Contains(needle) {
			return fmt.Errorf("%q does not contain %q", line.Normalized, needle)
		}
	}
	return nil
}

// VerifyExpectations checks expect against lines one to one, in order.
// Lines after the last expectation are ignored.
func VerifyExpectations(t *testing.T, lines []DisasmLine, expect []Expectation) {
	t.Helper()
	if len(lines) < len(expect) {
		t.Fatalf("%d instructions, want at least %d\n%s", len(lines), len(expect), render(lines))
	}
	for i, e := range expect {
		if err := e.check(lines[i]); err != nil {
			t.Fatalf("instruction %d (%s): %v\n%s", i, e.Name, err, render(lines))
		}
	}
}

// VerifySequence checks that expect occurs in lines in order, allowing
// other instructions in between. Register allocation and spill moves make
// generated code match only this way.
func VerifySequence(t *testing.T, lines []DisasmLine, expect []Expectation) {
	t.Helper()
	i := 0
	for _, line := range lines {
		if i < len(expect) && expect[i].check(line) == nil {
			i++
		}
	}
	if i < len(expect) {
		t.Fatalf("no instruction matches %s (%s) after the first %d\n%s", expect[i].Name, expect[i].Mnemonic, i, render(lines))
	}
}

func render(lines []DisasmLine) string {
	var sb strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&sb, "  %s\n", l.Text)
	}
	return sb.String()
}
