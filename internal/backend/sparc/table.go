package sparc

import (
	"fmt"

	"github.com/tinyrange/lirgen/internal/asm/sparc"
	"github.com/tinyrange/lirgen/internal/backend"
	"github.com/tinyrange/lirgen/internal/lir"
)

// emitFunc encodes one operation whose operands are already allocated.
type emitFunc func(b *builder, op lir.Op, dst, x, y lir.Value, temps []lir.Value, state *lir.FrameState)

// entry holds the emitters of one operation by operand shape. SPARC has no
// constant-left forms: a constant left operand is always loaded.
type entry struct {
	rr, rc emitFunc
}

var table = map[lir.Op]entry{
	lir.IAdd: alu(sparc.ADD), lir.LAdd: alu(sparc.ADD),
	lir.ISub: alu(sparc.SUB), lir.LSub: alu(sparc.SUB),
	lir.IMul: alu(sparc.MULX), lir.LMul: alu(sparc.MULX),
	lir.IAnd: alu(sparc.AND), lir.LAnd: alu(sparc.AND),
	lir.IOr: alu(sparc.OR), lir.LOr: alu(sparc.OR),
	lir.IXor: alu(sparc.XOR), lir.LXor: alu(sparc.XOR),

	lir.IShl: shift(sparc.SLL, 5), lir.LShl: shift(sparc.SLLX, 6),
	lir.IShr: shift(sparc.SRA, 5), lir.LShr: shift(sparc.SRAX, 6),
	lir.IUShr: shift(sparc.SRL, 5), lir.LUShr: shift(sparc.SRLX, 6),

	lir.IDiv: division(quotient), lir.LDiv: division(quotient),
	lir.IUDiv: division(quotient), lir.LUDiv: division(quotient),
	lir.IRem: division(remainder), lir.LRem: division(remainder),
	lir.IURem: division(remainder), lir.LURem: division(remainder),

	lir.FAdd: unary(fpop(sparc.FADDS)), lir.DAdd: unary(fpop(sparc.FADDD)),
	lir.FSub: unary(fpop(sparc.FSUBS)), lir.DSub: unary(fpop(sparc.FSUBD)),
	lir.FMul: unary(fpop(sparc.FMULS)), lir.DMul: unary(fpop(sparc.FMULD)),
	lir.FDiv: unary(fpop(sparc.FDIVS)), lir.DDiv: unary(fpop(sparc.FDIVD)),
	lir.FAnd: unary(floatLogic(sparc.AND)), lir.DAnd: unary(floatLogic(sparc.AND)),
	lir.FXor: unary(floatLogic(sparc.XOR)), lir.DXor: unary(floatLogic(sparc.XOR)),

	lir.INeg: unary(negate), lir.LNeg: unary(negate),
	lir.INot: unary(not), lir.LNot: unary(not),
	lir.FNeg: unary(fpop1(sparc.FNEGS)), lir.DNeg: unary(fpop1(sparc.FNEGD)),
	lir.DAbs:  unary(fpop1(sparc.FABSD)),
	lir.DSqrt: unary(fpop1(sparc.FSQRTD)),

	lir.I2L: unary(shiftPair(0, sparc.SRA)),
	lir.L2I: unary(narrow),
	lir.I2B: unary(shiftPair(24, sparc.SRA)),
	lir.I2S: unary(shiftPair(16, sparc.SRA)),
	lir.I2C: unary(shiftPair(16, sparc.SRL)),
	lir.I2F: unary(intToFloat(false, sparc.FITOS)), lir.I2D: unary(intToFloat(false, sparc.FITOD)),
	lir.L2F: unary(intToFloat(true, sparc.FXTOS)), lir.L2D: unary(intToFloat(true, sparc.FXTOD)),
	lir.F2I: unary(floatToInt), lir.F2L: unary(floatToInt),
	lir.D2I: unary(floatToInt), lir.D2L: unary(floatToInt),
	lir.F2D: unary(fpop1(sparc.FSTOD)), lir.D2F: unary(fpop1(sparc.FDTOS)),

	lir.MovI2F: unary(reinterpret), lir.MovF2I: unary(reinterpret),
	lir.MovL2D: unary(reinterpret), lir.MovD2L: unary(reinterpret),

	lir.IPopcnt: unary(popcount), lir.LPopcnt: unary(popcount),
	lir.IBsf: unary(trailingZeros), lir.LBsf: unary(trailingZeros),
}

// unsupported lists the catalog operations that never reach the table.
var unsupported = map[lir.Op]string{
	lir.FRem:   "lowered to a runtime call",
	lir.DRem:   "lowered to a runtime call",
	lir.IBsr:   "no bit scan reverse instruction",
	lir.LBsr:   "no bit scan reverse instruction",
	lir.IBswap: "no byte swap instruction",
	lir.LBswap: "no byte swap instruction",
}

func init() {
	for _, op := range lir.Ops() {
		_, ok := table[op]
		_, skip := unsupported[op]
		if ok == skip {
			panic(fmt.Sprintf("sparc: %s must be either emitted or listed as unsupported", op))
		}
	}
}

func lookup(op lir.Op) entry {
	e, ok := table[op]
	if !ok {
		reason := unsupported[op]
		if reason == "" {
			reason = "unknown operation"
		}
		panic(lir.Unimplemented("sparc: %s: %s", op, reason))
	}
	return e
}

// unary wraps an emitter that only accepts registers. Binary float
// operations use it too since float constants are never inlined.
func unary(fn emitFunc) entry { return entry{rr: fn} }

func dispatch(b *builder, i *backend.Op) {
	e := lookup(i.Op)
	fn := e.rr
	switch {
	case lir.IsConstant(i.X):
		fn = nil
	case lir.IsConstant(i.Y):
		fn = e.rc
	}
	if fn == nil {
		panic(lir.ShouldNotReachHere("sparc: %s has no emitter for %s, %s", i.Op, i.X, i.Y))
	}
	fn(b, i.Op, i.Dst, i.X, i.Y, i.Temps, i.State)
}
