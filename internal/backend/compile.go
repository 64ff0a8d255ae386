package backend

import (
	"fmt"
	"log/slog"

	"github.com/tinyrange/lirgen/internal/asm"
	"github.com/tinyrange/lirgen/internal/lir"
	"github.com/tinyrange/lirgen/internal/regalloc"
)

// Compile creates the generator registered for opts.Target, lets build
// lower a program into it, allocates registers and emits code. A contract
// violation raised anywhere on the way is returned as an error; no partial
// code is returned.
func Compile(opts Options, build func(g Generator)) (Code, error) {
	g, err := New(opts)
	if err != nil {
		return nil, err
	}
	return Generate(g, opts.logger(), build)
}

// Generate runs build against an existing generator and finishes the
// compilation.
func Generate(g Generator, log *slog.Logger, build func(g Generator)) (code Code, err error) {
	defer lir.Recover(&err)
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	build(g)
	l := g.LIR()
	log.Debug("lowered",
		"arch", g.Target().Arch,
		"blocks", len(l.Blocks),
		"instructions", l.Len(),
	)

	alloc, err := regalloc.Allocate(l, g.Registers())
	if err != nil {
		return nil, err
	}
	log.Debug("allocated",
		"variables", len(alloc.Intervals),
		"general", len(alloc.Used[lir.GeneralClass]),
		"float", len(alloc.Used[lir.FloatClass]),
	)

	code, err = g.EmitCode()
	if err != nil {
		return nil, err
	}
	prog := code.Program()
	log.Debug("emitted",
		"bytes", len(prog.Code()),
		"data", len(prog.Bytes())-prog.DataBase(),
		"exceptions", len(prog.Exceptions),
		"calls", len(prog.Calls),
	)
	return code, nil
}

// Emitter encodes the instruction records of an allocated LIR.
type Emitter interface {
	// Bind places the label of a block at the current position.
	Bind(label lir.Label)
	// Emit encodes inst. next is the label of the block laid out after the
	// current one, or "" for the last block.
	Emit(inst lir.Instruction, next lir.Label)
}

// EmitBlocks drives e over the blocks of l in layout order.
func EmitBlocks(l *lir.LIR, e Emitter) {
	for i, b := range l.Blocks {
		e.Bind(b.Label)
		next := l.Successor(i)
		for _, inst := range b.Instructions {
			e.Emit(inst, next)
		}
	}
}

// Trapped converts a simulator trap at offset into a *TrapError when the
// program recorded an implicit exception there.
func Trapped(prog asm.Program, offset int, reason string, cause error) error {
	if rec, ok := prog.ExceptionAt(offset); ok {
		return &TrapError{Offset: offset, State: rec.State, Reason: reason}
	}
	return fmt.Errorf("backend: unexpected trap: %w", cause)
}

// CheckArguments validates simulation arguments against sig.
func CheckArguments(sig Signature, args []lir.Constant) error {
	if len(args) != len(sig.Params) {
		return fmt.Errorf("backend: %d arguments for %d parameters", len(args), len(sig.Params))
	}
	for i, a := range args {
		if a.K != sig.Params[i] {
			return fmt.Errorf("backend: argument %d is %s, want %s", i, a.K, sig.Params[i])
		}
	}
	return nil
}
