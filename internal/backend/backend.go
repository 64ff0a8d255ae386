// Package backend holds the architecture-independent half of LIR
// generation: the Generator contract the architecture packages implement,
// the LIR instruction records they share, the registry that selects a
// generator for a target, and the Compile entry point.
package backend

import (
	"log/slog"

	"github.com/tinyrange/lirgen/internal/asm"
	"github.com/tinyrange/lirgen/internal/lir"
	"github.com/tinyrange/lirgen/internal/regalloc"
)

// Generator lowers operations into the LIR of one compilation. Operand
// shape, kind or operation combinations the architecture does not
// implement panic with a *lir.Error; Compile turns that into an error.
type Generator interface {
	Target() *lir.Target
	LIR() *lir.LIR
	NewVariable(k lir.Kind) lir.Variable
	StartBlock(label lir.Label)
	// Parameter returns the variable holding incoming parameter i. The
	// move out of the ABI register is placed at the start of the entry
	// block regardless of when Parameter is called.
	Parameter(i int, k lir.Kind) lir.Variable

	CanStoreConstant(c lir.Constant, compressed bool) bool
	CanInlineConstant(c lir.Constant) bool

	EmitMove(v lir.Value) lir.Variable
	// EmitAddress builds base + index*scale + displacement in a legal
	// addressing form. scale 0 means there is no index.
	EmitAddress(base lir.Value, displacement int64, index lir.Value, scale int) lir.Address
	EmitLoad(k lir.Kind, addr lir.Address, state *lir.FrameState) lir.Variable
	EmitStore(k lir.Kind, addr lir.Address, value lir.Value, state *lir.FrameState)
	EmitNullCheck(addr lir.Address, state *lir.FrameState)

	EmitBinary(op lir.Op, x, y lir.Value, state *lir.FrameState) lir.Value
	EmitUnary(op lir.Op, x lir.Value) lir.Value
	// EmitDivRem computes the signed quotient and remainder with one
	// trapping division.
	EmitDivRem(x, y lir.Value, state *lir.FrameState) (quotient, remainder lir.Value)
	EmitUnsignedDivRem(x, y lir.Value, state *lir.FrameState) (quotient, remainder lir.Value)
	EmitMath(fn MathFunction, x lir.Value) lir.Value

	EmitCompareBranch(x, y lir.Value, cond lir.Condition, unorderedIsTrue bool, trueDest, falseDest lir.Label)
	// EmitIntegerTestBranch branches to trueDest when x&y is zero, or when
	// it is non-zero if negated is set.
	EmitIntegerTestBranch(x, y lir.Value, negated bool, trueDest, falseDest lir.Label)
	EmitConditionalMove(x, y lir.Value, cond lir.Condition, unorderedIsTrue bool, trueValue, falseValue lir.Value) lir.Value
	EmitIntegerTestMove(x, y lir.Value, trueValue, falseValue lir.Value) lir.Value
	EmitStrategySwitch(strategy lir.SwitchStrategy, key lir.Value, keyTargets []lir.Label, defaultTarget lir.Label)
	EmitJump(target lir.Label)

	EmitMembar(barriers lir.Barrier)
	EmitForeignCall(linkage *lir.Linkage, args []lir.Value, state *lir.FrameState) lir.Value
	EmitDeoptimize(action lir.DeoptimizationAction, reason lir.DeoptimizationReason, state *lir.FrameState)
	EmitReturn(x lir.Value)

	// Registers is the allocatable pool handed to the register allocator.
	Registers() regalloc.Registers
	// EmitCode assembles the allocated LIR.
	EmitCode() (Code, error)
}

// Arch is the architecture half of a generator. Base consults it for every
// decision that depends on the instruction set.
type Arch interface {
	Policy() lir.ConstantPolicy
	// Shapes reports which operands of op may stay constant. It panics with
	// an Unimplemented error for operations the architecture lacks.
	Shapes(op lir.Op) Shapes
	// Temporaries lists the kinds of the scratch variables op needs for
	// the given operands.
	Temporaries(op lir.Op, x, y lir.Value) []lir.Kind
	ParameterRegisters(kinds []lir.Kind) []lir.Register
	ArgumentRegisters(kinds []lir.Kind) []lir.Register
	// ReturnRegister holds the value this function returns;
	// CallResultRegister holds the value a foreign call returned.
	ReturnRegister(k lir.Kind) lir.Register
	CallResultRegister(k lir.Kind) lir.Register
}

// Shapes lists the constant operand positions an emitter table entry
// accepts.
type Shapes struct {
	ConstantLeft  bool
	ConstantRight bool
}

// Signature is the parameter and result kinds of a compiled function.
type Signature struct {
	Params []lir.Kind
	Result lir.Kind
}

// Stub implements a foreign call target in simulation.
type Stub func(args []lir.Constant) (lir.Constant, error)

// Code is the output of a compilation.
type Code interface {
	Program() asm.Program
	Signature() Signature
	// Simulate runs the code on the architecture simulator. Calls are
	// served by stubs keyed by linkage address. A trap with a recorded
	// exception returns *TrapError; a deoptimization request returns
	// *Deoptimized.
	Simulate(args []lir.Constant, stubs map[uint64]Stub) (lir.Constant, error)
}

// Native is implemented by Code that can also run on the host processor.
type Native interface {
	RunNative(args []lir.Constant) (lir.Constant, error)
}

// Options configures a generator.
type Options struct {
	Target  *lir.Target
	Runtime Runtime
	// Logger receives debug records from Compile. Nil disables logging.
	Logger *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}
