package testutil

import (
	"debug/elf"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tinyrange/lirgen/internal/asm"
)

// DisasmLine is one decoded instruction, from a listing or a disassembler.
type DisasmLine struct {
	Text       string
	Normalized string
	Mnemonic   string
}

// Contains reports whether the normalized text contains substr.
func (l DisasmLine) Contains(substr string) bool {
	return strings.Contains(l.Normalized, substr)
}

// Objdump writes p as an ELF image for machine and disassembles it with
// GNU objdump. The test is skipped when objdump is not installed.
func Objdump(t *testing.T, p asm.Program, machine elf.Machine, args ...string) []DisasmLine {
	t.Helper()

	tool, err := exec.LookPath("objdump")
	if err != nil {
		t.Skipf("objdump not found: %v", err)
	}
	image, err := p.ELFImage(asm.ImageConfig{Machine: machine})
	if err != nil {
		t.Fatalf("ELFImage failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "code.elf")
	if err := os.WriteFile(path, image, 0o644); err != nil {
		t.Fatalf("write image: %v", err)
	}

	cmdArgs := append([]string{"-d", "--no-show-raw-insn", "-j", ".text"}, args...)
	out, err := exec.Command(tool, append(cmdArgs, path)...).CombinedOutput()
	if err != nil {
		t.Fatalf("objdump failed: %v\n\n%s", err, out)
	}
	lines := parseObjdump(string(out))
	if len(lines) == 0 {
		t.Fatalf("objdump produced no instructions:\n%s", out)
	}
	return lines
}

// parseObjdump keeps the instruction lines of objdump -d output, which
// look like "  401000:\tmov    %rdi,%rax".
func parseObjdump(out string) []DisasmLine {
	var lines []DisasmLine
	for _, line := range strings.Split(out, "\n") {
		addr, text, ok := strings.Cut(line, ":")
		if !ok || !strings.HasPrefix(line, " ") || strings.TrimSpace(addr) == "" {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) == 0 || strings.HasPrefix(fields[0], "<") || strings.HasPrefix(fields[0], ".") {
			continue
		}
		lines = append(lines, DisasmLine{
			Text:       strings.TrimSpace(text),
			Normalized: strings.Join(fields, " "),
			Mnemonic:   strings.ToLower(fields[0]),
		})
	}
	return lines
}
