package main

import (
	"bytes"
	"debug/elf"
	"log/slog"
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"
	"github.com/tinyrange/lirgen/internal/backend"
	"github.com/tinyrange/lirgen/internal/lir"
)

func testConfig(t *testing.T, tgt *lir.Target) config {
	t.Helper()
	return config{target: tgt, log: slog.New(slog.DiscardHandler)}
}

func TestCompileFileRuns(t *testing.T) {
	for _, tgt := range []*lir.Target{lir.AMD64(true), lir.SPARC(true)} {
		cfg := testConfig(t, tgt)
		cfg.execute = true
		cfg.run = "4, 10"
		var out bytes.Buffer
		if err := compileFile(cfg, "testdata/addmul.yaml", &out); err != nil {
			t.Fatalf("%s: compileFile failed: %v", tgt.Name, err)
		}
		if !strings.HasPrefix(out.String(), "addmul ("+tgt.Name+")\n") {
			t.Fatalf("%s: output does not start with a heading:\n%s", tgt.Name, out.String())
		}
		if !strings.Contains(out.String(), "=> long[42]\n") {
			t.Fatalf("%s: output has no result:\n%s", tgt.Name, out.String())
		}
	}
}

func TestCompileFileReportsTraps(t *testing.T) {
	for _, tgt := range []*lir.Target{lir.AMD64(true), lir.SPARC(true)} {
		cfg := testConfig(t, tgt)
		cfg.execute = true
		cfg.run = "7,0"
		var out bytes.Buffer
		if err := compileFile(cfg, "testdata/divide.yaml", &out); err != nil {
			t.Fatalf("%s: compileFile failed: %v", tgt.Name, err)
		}
		if !strings.Contains(out.String(), "; trap -> divide@2") {
			t.Fatalf("%s: listing does not mark the division:\n%s", tgt.Name, out.String())
		}
		if !strings.Contains(out.String(), "resumes at divide@2") {
			t.Fatalf("%s: trap was not reported:\n%s", tgt.Name, out.String())
		}
	}
}

func TestColorOnlyAddsEscapes(t *testing.T) {
	tgt := lir.SPARC(true)
	var plain, colored bytes.Buffer
	cfg := testConfig(t, tgt)
	if err := compileFile(cfg, "testdata/divide.yaml", &plain); err != nil {
		t.Fatalf("compileFile failed: %v", err)
	}
	cfg.color = true
	if err := compileFile(cfg, "testdata/divide.yaml", &colored); err != nil {
		t.Fatalf("compileFile failed: %v", err)
	}
	if colored.String() == plain.String() {
		t.Fatalf("color output has no escapes")
	}
	if got := ansi.Strip(colored.String()); got != plain.String() {
		t.Fatalf("stripped color output differs:\n%s\nwant:\n%s", got, plain.String())
	}
}

func TestWriteImage(t *testing.T) {
	for _, tc := range []struct {
		tgt     *lir.Target
		machine elf.Machine
	}{
		{lir.AMD64(true), elf.EM_X86_64},
		{lir.SPARC(true), elf.EM_SPARCV9},
	} {
		cfg := testConfig(t, tc.tgt)
		cfg.elfDir = t.TempDir()
		var out bytes.Buffer
		if err := compileFile(cfg, "testdata/addmul.yaml", &out); err != nil {
			t.Fatalf("%s: compileFile failed: %v", tc.tgt.Name, err)
		}
		f, err := elf.Open(cfg.elfDir + "/addmul.elf")
		if err != nil {
			t.Fatalf("%s: elf.Open failed: %v", tc.tgt.Name, err)
		}
		defer f.Close()
		if f.Machine != tc.machine {
			t.Fatalf("%s: machine = %s, want %s", tc.tgt.Name, f.Machine, tc.machine)
		}
		if f.Section(".text") == nil {
			t.Fatalf("%s: image has no .text section", tc.tgt.Name)
		}
	}
}

func TestSelectTarget(t *testing.T) {
	tgt, err := selectTarget("", "testdata/sparc.yaml")
	if err != nil {
		t.Fatalf("selectTarget failed: %v", err)
	}
	if tgt.Name != "t5" || tgt.Arch != lir.ArchitectureSPARC || !tgt.Has("vis3") {
		t.Fatalf("target = %+v", tgt)
	}
	if _, err := selectTarget("amd64", "testdata/sparc.yaml"); err == nil {
		t.Fatalf("a conflicting -arch was accepted")
	}
	if _, err := selectTarget("mips", ""); err == nil {
		t.Fatalf("an unknown -arch was accepted")
	}
	if tgt, err := selectTarget("sparc", ""); err != nil || tgt.Arch != lir.ArchitectureSPARC {
		t.Fatalf("selectTarget(sparc) = %v, %v", tgt, err)
	}
}

func TestParseArgs(t *testing.T) {
	sig := backend.Signature{Params: []lir.Kind{lir.Int32, lir.Float64, lir.Object}, Result: lir.Int32}
	args, err := parseArgs(sig, "-3, 2.5, null")
	if err != nil {
		t.Fatalf("parseArgs failed: %v", err)
	}
	if args[0].AsInt() != -3 || args[1].AsDouble() != 2.5 || !args[2].IsNull() {
		t.Fatalf("parseArgs = %v", args)
	}
	if _, err := parseArgs(sig, "1,2"); err == nil {
		t.Fatalf("too few arguments were accepted")
	}
	if _, err := parseArgs(sig, "x,2,null"); err == nil {
		t.Fatalf("a malformed int was accepted")
	}
	if args, err := parseArgs(backend.Signature{}, ""); err != nil || len(args) != 0 {
		t.Fatalf("parseArgs of no parameters = %v, %v", args, err)
	}
}
