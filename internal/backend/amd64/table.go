package amd64

import (
	"fmt"

	"github.com/tinyrange/lirgen/internal/asm/amd64"
	"github.com/tinyrange/lirgen/internal/backend"
	"github.com/tinyrange/lirgen/internal/lir"
)

// emitFunc encodes one operation whose operands are already allocated.
type emitFunc func(b *builder, op lir.Op, dst, x, y lir.Value, temps []lir.Value, state *lir.FrameState)

// entry holds the emitters of one operation by operand shape: rr for two
// registers (or the single operand of a unary op), rc for a constant right
// operand and cr for a constant left operand.
type entry struct {
	rr, rc, cr emitFunc
}

var table = map[lir.Op]entry{
	lir.IAdd: alu(amd64.ADD), lir.LAdd: alu(amd64.ADD),
	lir.ISub: reverseALU(amd64.SUB), lir.LSub: reverseALU(amd64.SUB),
	lir.IAnd: alu(amd64.AND), lir.LAnd: alu(amd64.AND),
	lir.IOr: alu(amd64.OR), lir.LOr: alu(amd64.OR),
	lir.IXor: alu(amd64.XOR), lir.LXor: alu(amd64.XOR),
	lir.IMul: {rr: mulRR, rc: mulRC}, lir.LMul: {rr: mulRR, rc: mulRC},

	lir.IShl: shift(amd64.SHL), lir.LShl: shift(amd64.SHL),
	lir.IShr: shift(amd64.SAR), lir.LShr: shift(amd64.SAR),
	lir.IUShr: shift(amd64.SHR), lir.LUShr: shift(amd64.SHR),

	lir.IDiv: division(), lir.LDiv: division(),
	lir.IRem: division(), lir.LRem: division(),
	lir.IUDiv: division(), lir.LUDiv: division(),
	lir.IURem: division(), lir.LURem: division(),

	lir.FAdd: sse(amd64.ADDS), lir.DAdd: sse(amd64.ADDS),
	lir.FSub: sse(amd64.SUBS), lir.DSub: sse(amd64.SUBS),
	lir.FMul: sse(amd64.MULS), lir.DMul: sse(amd64.MULS),
	lir.FDiv: sse(amd64.DIVS), lir.DDiv: sse(amd64.DIVS),
	lir.FAnd: sse(amd64.ANDP), lir.DAnd: sse(amd64.ANDP),
	lir.FXor: sse(amd64.XORP), lir.DXor: sse(amd64.XORP),

	lir.INeg: unary(intUnary(amd64.NEG)), lir.LNeg: unary(intUnary(amd64.NEG)),
	lir.INot: unary(intUnary(amd64.NOT)), lir.LNot: unary(intUnary(amd64.NOT)),
	lir.FNeg: unary(floatNegate), lir.DNeg: unary(floatNegate),

	lir.I2L: unary(widen), lir.L2I: unary(narrow),
	lir.I2B: unary(extend(amd64.MOVSX, 1)),
	lir.I2S: unary(extend(amd64.MOVSX, 2)),
	lir.I2C: unary(extend(amd64.MOVZX, 2)),
	lir.I2F: unary(intToFloat), lir.I2D: unary(intToFloat),
	lir.L2F: unary(intToFloat), lir.L2D: unary(intToFloat),
	lir.F2I: unary(floatToInt), lir.F2L: unary(floatToInt),
	lir.D2I: unary(floatToInt), lir.D2L: unary(floatToInt),
	lir.F2D: unary(floatToFloat), lir.D2F: unary(floatToFloat),

	lir.MovI2F: unary(reinterpret), lir.MovF2I: unary(reinterpret),
	lir.MovL2D: unary(reinterpret), lir.MovD2L: unary(reinterpret),

	lir.DAbs:  unary(absolute),
	lir.DSqrt: unary(squareRoot),

	lir.IPopcnt: unary(popcount), lir.LPopcnt: unary(popcount),
	lir.IBsf: unary(bitScan(amd64.BSF)), lir.LBsf: unary(bitScan(amd64.BSF)),
	lir.IBsr: unary(bitScan(amd64.BSR)), lir.LBsr: unary(bitScan(amd64.BSR)),
	lir.IBswap: unary(byteSwap), lir.LBswap: unary(byteSwap),
}

// unsupported lists the catalog operations that never reach the table.
var unsupported = map[lir.Op]string{
	lir.FRem: "lowered to a runtime call",
	lir.DRem: "lowered to a runtime call",
}

func init() {
	for _, op := range lir.Ops() {
		_, ok := table[op]
		_, skip := unsupported[op]
		if ok == skip {
			panic(fmt.Sprintf("amd64: %s must be either emitted or listed as unsupported", op))
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
		panic(lir.Unimplemented("amd64: %s: %s", op, reason))
	}
	return e
}

func unary(fn emitFunc) entry { return entry{rr: fn} }

func dispatch(b *builder, i *backend.Op) {
	e := lookup(i.Op)
	fn := e.rr
	switch {
	case lir.IsConstant(i.X):
		fn = e.cr
	case lir.IsConstant(i.Y):
		fn = e.rc
	}
	if fn == nil {
		panic(lir.ShouldNotReachHere("amd64: %s has no emitter for %s, %s", i.Op, i.X, i.Y))
	}
	fn(b, i.Op, i.Dst, i.X, i.Y, i.Temps, i.State)
}
