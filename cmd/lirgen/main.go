package main

import (
	"debug/elf"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/tinyrange/lirgen/internal/asm"
	"github.com/tinyrange/lirgen/internal/backend"
	_ "github.com/tinyrange/lirgen/internal/backend/amd64"
	_ "github.com/tinyrange/lirgen/internal/backend/sparc"
	"github.com/tinyrange/lirgen/internal/ir"
	"github.com/tinyrange/lirgen/internal/lir"
	"github.com/tinyrange/lirgen/internal/target"
	"github.com/xyproto/env/v2"
	"golang.org/x/term"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "lirgen: %v\n", err)
		os.Exit(1)
	}
}

type config struct {
	target *lir.Target
	// execute is set when -run was given, even with no arguments.
	execute bool
	run     string
	native  bool
	hex     bool
	elfDir  string
	color   bool
	log     *slog.Logger
}

func run() error {
	arch := flag.String("arch", "", "Backend (amd64, sparc); default is the host or the descriptor")
	targetFile := flag.String("target", "", "YAML target descriptor")
	runArgs := flag.String("run", "", "Run on the simulator with comma-separated arguments")
	native := flag.Bool("native", false, "Run natively (linux/amd64 only)")
	hex := flag.Bool("hex", false, "Print code bytes")
	elfDir := flag.String("elf", "", "Write an ELF image of each program into `dir`")
	verbose := flag.Bool("v", false, "Enable debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <program.yaml>...\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Compile scheduled IR programs to machine code and print the listing.\n\n")
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  %s -arch sparc add.yaml\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -run 3,4 add.yaml\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	files := flag.Args()
	if len(files) < 1 {
		flag.Usage()
		return fmt.Errorf("program file required")
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	tgt, err := selectTarget(*arch, *targetFile)
	if err != nil {
		return err
	}
	log.Debug("target", "name", tgt.Name, "arch", tgt.Arch, "mp", tgt.IsMP)

	cfg := config{
		target: tgt,
		run:    *runArgs,
		native: *native,
		hex:    *hex,
		elfDir: *elfDir,
		color:  term.IsTerminal(int(os.Stdout.Fd())) && !env.Bool("NO_COLOR"),
		log:    log,
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "run" {
			cfg.execute = true
		}
	})

	if len(files) == 1 {
		return compileFile(cfg, files[0], os.Stdout)
	}

	var bar *progressbar.ProgressBar
	if term.IsTerminal(int(os.Stderr.Fd())) {
		bar = progressbar.Default(int64(len(files)), "compiling")
		defer bar.Close()
	}
	var errs []error
	for _, file := range files {
		if err := compileFile(cfg, file, os.Stdout); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", file, err))
		}
		if bar != nil {
			bar.Add(1)
		}
	}
	return errors.Join(errs...)
}

// selectTarget resolves the -arch and -target flags. A descriptor wins
// over the host; -arch must agree with a descriptor when both are given.
func selectTarget(arch, file string) (*lir.Target, error) {
	if file != "" {
		d, err := target.Load(file)
		if err != nil {
			return nil, err
		}
		if arch != "" && lir.Architecture(arch) != d.Arch {
			return nil, fmt.Errorf("-arch %s does not match descriptor %s (%s)", arch, d.Name, d.Arch)
		}
		return d.Target()
	}
	switch lir.Architecture(arch) {
	case "":
		return target.Default(), nil
	case lir.ArchitectureAMD64:
		if host, err := target.Host(); err == nil {
			return host, nil
		}
		return lir.AMD64(true), nil
	case lir.ArchitectureSPARC:
		return lir.SPARC(true), nil
	}
	return nil, fmt.Errorf("unsupported architecture: %s", arch)
}

func compileFile(cfg config, path string, w io.Writer) error {
	g, err := ir.Load(path)
	if err != nil {
		return err
	}
	code, err := ir.Compile(backend.Options{Target: cfg.target, Logger: cfg.log}, g)
	if err != nil {
		return fmt.Errorf("compile %s: %w", g.Name, err)
	}

	fmt.Fprintf(w, "%s\n", heading(cfg.color, fmt.Sprintf("%s (%s)", g.Name, cfg.target.Name)))
	printListing(w, code.Program(), cfg.color)
	if cfg.hex {
		printHex(w, code.Program().Code())
	}
	if cfg.elfDir != "" {
		path, err := writeImage(cfg, g.Name, code.Program())
		if err != nil {
			return err
		}
		cfg.log.Info("wrote image", "path", path)
	}

	if !cfg.execute && !cfg.native {
		return nil
	}
	args, err := parseArgs(code.Signature(), cfg.run)
	if err != nil {
		return err
	}
	var result lir.Constant
	if cfg.native {
		n, ok := code.(backend.Native)
		if !ok {
			return fmt.Errorf("%s code cannot run natively", cfg.target.Arch)
		}
		result, err = n.RunNative(args)
	} else {
		result, err = code.Simulate(args, backend.DefaultRuntime().Stubs())
	}
	if err != nil {
		var trap *backend.TrapError
		var deopt *backend.Deoptimized
		switch {
		case errors.As(err, &trap):
			fmt.Fprintf(w, "%s\n", trapped(cfg.color, trap.Error()))
			return nil
		case errors.As(err, &deopt):
			fmt.Fprintf(w, "%s\n", trapped(cfg.color, deopt.Error()))
			return nil
		}
		return fmt.Errorf("run %s: %w", g.Name, err)
	}
	if code.Signature().Result == lir.Illegal {
		fmt.Fprintf(w, "=> void\n")
	} else {
		fmt.Fprintf(w, "=> %s\n", result)
	}
	return nil
}

var machines = map[lir.Architecture]elf.Machine{
	lir.ArchitectureAMD64: elf.EM_X86_64,
	lir.ArchitectureSPARC: elf.EM_SPARCV9,
}

// writeImage stores p as <dir>/<name>.elf for inspection with objdump.
func writeImage(cfg config, name string, p asm.Program) (string, error) {
	image, err := p.ELFImage(asm.ImageConfig{Machine: machines[cfg.target.Arch]})
	if err != nil {
		return "", fmt.Errorf("image %s: %w", name, err)
	}
	if err := os.MkdirAll(cfg.elfDir, 0o755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}
	path := filepath.Join(cfg.elfDir, name+".elf")
	if err := os.WriteFile(path, image, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
