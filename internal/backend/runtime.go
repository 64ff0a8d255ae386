package backend

import (
	"fmt"
	"math"

	"github.com/tinyrange/lirgen/internal/lir"
)

// MathFunction names a math intrinsic.
type MathFunction uint8

const (
	MathAbs MathFunction = iota
	MathSqrt
	MathLog
	MathLog10
	MathSin
	MathCos
	MathTan
)

var mathNames = [...]string{
	MathAbs: "abs", MathSqrt: "sqrt", MathLog: "log", MathLog10: "log10",
	MathSin: "sin", MathCos: "cos", MathTan: "tan",
}

func (f MathFunction) String() string {
	if int(f) < len(mathNames) {
		return mathNames[f]
	}
	return fmt.Sprintf("MathFunction(%d)", uint8(f))
}

// ParseMathFunction accepts the names printed by MathFunction.String.
func ParseMathFunction(s string) (MathFunction, error) {
	for f, name := range mathNames {
		if name == s {
			return MathFunction(f), nil
		}
	}
	return 0, fmt.Errorf("backend: unknown math function %q", s)
}

// Runtime holds the linkages of the runtime stubs generated code calls.
type Runtime struct {
	FRem         *lir.Linkage
	DRem         *lir.Linkage
	Log          *lir.Linkage
	Log10        *lir.Linkage
	Sin          *lir.Linkage
	Cos          *lir.Linkage
	Tan          *lir.Linkage
	UncommonTrap *lir.Linkage
}

// RuntimeBase is where DefaultRuntime places its stubs.
const RuntimeBase uint64 = 0x4000_0000

// DefaultRuntime lays the stubs out at RuntimeBase, close enough for near
// calls from code loaded below 2GiB.
func DefaultRuntime() Runtime {
	next := RuntimeBase
	link := func(name string, result lir.Kind, args ...lir.Kind) *lir.Linkage {
		l := &lir.Linkage{
			Name:                name,
			Address:             next,
			MaxCallTargetOffset: int64(next),
			Args:                args,
			Result:              result,
		}
		next += 0x100
		return l
	}
	return Runtime{
		FRem:         link("frem", lir.Float32, lir.Float32, lir.Float32),
		DRem:         link("drem", lir.Float64, lir.Float64, lir.Float64),
		Log:          link("log", lir.Float64, lir.Float64),
		Log10:        link("log10", lir.Float64, lir.Float64),
		Sin:          link("sin", lir.Float64, lir.Float64),
		Cos:          link("cos", lir.Float64, lir.Float64),
		Tan:          link("tan", lir.Float64, lir.Float64),
		UncommonTrap: link("uncommonTrap", lir.Illegal, lir.Int32),
	}
}

func (r Runtime) math(fn MathFunction) *lir.Linkage {
	switch fn {
	case MathLog:
		return r.Log
	case MathLog10:
		return r.Log10
	case MathSin:
		return r.Sin
	case MathCos:
		return r.Cos
	case MathTan:
		return r.Tan
	}
	return nil
}

// Stubs implements every linkage of r for simulation. The uncommon trap
// stub ends the run with *Deoptimized.
func (r Runtime) Stubs() map[uint64]Stub {
	stubs := make(map[uint64]Stub)
	double := func(l *lir.Linkage, fn func(float64) float64) {
		if l == nil {
			return
		}
		stubs[l.Address] = func(args []lir.Constant) (lir.Constant, error) {
			return lir.DoubleConstant(fn(args[0].AsDouble())), nil
		}
	}
	double(r.Log, math.Log)
	double(r.Log10, math.Log10)
	double(r.Sin, math.Sin)
	double(r.Cos, math.Cos)
	double(r.Tan, math.Tan)
	if r.FRem != nil {
		stubs[r.FRem.Address] = func(args []lir.Constant) (lir.Constant, error) {
			return lir.FloatConstant(float32(math.Mod(float64(args[0].AsFloat()), float64(args[1].AsFloat())))), nil
		}
	}
	if r.DRem != nil {
		stubs[r.DRem.Address] = func(args []lir.Constant) (lir.Constant, error) {
			return lir.DoubleConstant(math.Mod(args[0].AsDouble(), args[1].AsDouble())), nil
		}
	}
	if r.UncommonTrap != nil {
		stubs[r.UncommonTrap.Address] = func(args []lir.Constant) (lir.Constant, error) {
			action, reason, id := lir.DecodeDeoptActionAndReason(args[0].AsInt())
			return lir.Constant{}, &Deoptimized{Action: action, Reason: reason, DebugID: id}
		}
	}
	return stubs
}

// TrapError reports a hardware trap at a recorded implicit exception site.
type TrapError struct {
	Offset int
	State  *lir.FrameState
	Reason string
}

func (e *TrapError) Error() string {
	return fmt.Sprintf("backend: trap at %#x (%s) resumes at %s", e.Offset, e.Reason, e.State)
}

// Deoptimized reports that the code called the uncommon trap stub.
type Deoptimized struct {
	Action  lir.DeoptimizationAction
	Reason  lir.DeoptimizationReason
	DebugID int32
}

func (e *Deoptimized) Error() string {
	return fmt.Sprintf("backend: deoptimized (action %d, reason %d)", e.Action, e.Reason)
}
