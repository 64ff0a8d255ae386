package amd64

import (
	"github.com/tinyrange/lirgen/internal/asm"
	"github.com/tinyrange/lirgen/internal/asm/amd64"
	"github.com/tinyrange/lirgen/internal/lir"
)

func widen(b *builder, op lir.Op, dst, x, _ lir.Value, _ []lir.Value, _ *lir.FrameState) {
	b.emit(amd64.Extend(amd64.MOVSXD, 8, reg(dst), amd64.Reg32(reg(x)), 4))
}

// narrow keeps the low word; 32-bit moves clear the upper half.
func narrow(b *builder, op lir.Op, dst, x, _ lir.Value, _ []lir.Value, _ *lir.FrameState) {
	b.emit(amd64.Binary(amd64.MOV, 4, amd64.Reg32(reg(dst)), amd64.Reg32(reg(x))))
}

func extend(m amd64.Mnemonic, from int) emitFunc {
	return func(b *builder, op lir.Op, dst, x, _ lir.Value, _ []lir.Value, _ *lir.FrameState) {
		src := amd64.Reg8(reg(x))
		if from == 2 {
			src = amd64.Reg16(reg(x))
		}
		b.emit(amd64.Extend(m, 4, reg(dst), src, from))
	}
}

func intToFloat(b *builder, op lir.Op, dst, x, _ lir.Value, _ []lir.Value, _ *lir.FrameState) {
	b.emit(amd64.IntToFloat(width(dst.Kind()), fpr(dst), operand(x), width(x.Kind())))
}

func floatToFloat(b *builder, op lir.Op, dst, x, _ lir.Value, _ []lir.Value, _ *lir.FrameState) {
	b.emit(amd64.SSE(amd64.CVTS2S, width(x.Kind()), fpr(dst), fpr(x)))
}

// floatToInt truncates toward zero with Java semantics. cvtts*2si returns
// MIN for NaN and for every out of range input; comparing the result with
// 1 overflows only for MIN, so the fix-up runs for that value alone. NaN
// becomes zero and positive overflow becomes MAX.
func floatToInt(b *builder, op lir.Op, dst, x, _ lir.Value, _ []lir.Value, _ *lir.FrameState) {
	p, w := width(x.Kind()), width(dst.Kind())
	r, src := reg(dst), fpr(x)
	result := amd64.RegSized(r, w)
	nan, done := b.newLabel(), b.newLabel()
	b.emit(
		amd64.FloatToInt(p, r, src, w),
		amd64.BinaryImm(amd64.CMP, w, result, 1),
		amd64.Jcc(amd64.CondNO, done),
		amd64.SSE(amd64.UCOMIS, p, src, src),
		amd64.Jcc(amd64.CondP, nan),
		amd64.SSE(amd64.XORP, 4, amd64.ScratchXmm, amd64.ScratchXmm),
		amd64.SSE(amd64.UCOMIS, p, src, amd64.ScratchXmm),
		amd64.Jcc(amd64.CondB, done),
		amd64.Unary(amd64.NOT, w, result),
		amd64.Jmp(done),
		asm.MarkLabel(nan),
		amd64.Binary(amd64.XOR, 4, amd64.Reg32(r), amd64.Reg32(r)),
		asm.MarkLabel(done),
	)
}

// reinterpret moves bits between the register files.
func reinterpret(b *builder, op lir.Op, dst, x, _ lir.Value, _ []lir.Value, _ *lir.FrameState) {
	w := width(dst.Kind())
	if dst.Kind().IsFloat() {
		b.emit(amd64.MoveBits(w, fpr(dst), operand(x)))
		return
	}
	b.emit(amd64.MoveBits(w, operand(dst), fpr(x)))
}
