package sparc

import (
	"github.com/tinyrange/lirgen/internal/asm"
	"github.com/tinyrange/lirgen/internal/asm/sparc"
	"github.com/tinyrange/lirgen/internal/lir"
)

// shiftPair shifts left by n and back with m, which sign or zero extends
// the remaining low bits. n = 0 with sra sign extends an int.
func shiftPair(n int64, m sparc.Mnemonic) emitFunc {
	return func(b *builder, op lir.Op, dst, x, _ lir.Value, _ []lir.Value, _ *lir.FrameState) {
		src, rd := reg(x), reg(dst)
		if n != 0 {
			b.emit(sparc.ArithImm(sparc.SLL, src, n, rd))
			src = rd
		}
		b.emit(sparc.ArithImm(m, src, n, rd))
	}
}

// narrow is a plain copy: ints only look at the low word.
func narrow(b *builder, op lir.Op, dst, x, _ lir.Value, _ []lir.Value, _ *lir.FrameState) {
	b.emit(sparc.Mov(reg(x), reg(dst)))
}

// intToFloat moves the integer into the destination register and converts
// it in place.
func intToFloat(wide bool, m sparc.Mnemonic) emitFunc {
	return func(b *builder, op lir.Op, dst, x, _ lir.Value, _ []lir.Value, _ *lir.FrameState) {
		fd := freg(dst)
		b.toFloat(wide, reg(x), fd)
		b.emit(sparc.FPop1(m, fd, fd))
	}
}

type conversion struct {
	compare, convert, back, sub sparc.Mnemonic
	wide                        bool
}

var conversions = map[lir.Op]conversion{
	lir.F2I: {sparc.FCMPS, sparc.FSTOI, sparc.FITOS, sparc.FSUBS, false},
	lir.D2I: {sparc.FCMPD, sparc.FDTOI, sparc.FITOS, sparc.FSUBS, false},
	lir.F2L: {sparc.FCMPS, sparc.FSTOX, sparc.FXTOD, sparc.FSUBD, true},
	lir.D2L: {sparc.FCMPD, sparc.FDTOX, sparc.FXTOD, sparc.FSUBD, true},
}

// floatToInt converts with the hardware's saturation. An ordered input
// branches over the fix-up with the conversion in the delay slot; NaN falls
// through, converts back and subtracts the result from itself, leaving
// zero.
func floatToInt(b *builder, op lir.Op, dst, x, _ lir.Value, temps []lir.Value, _ *lir.FrameState) {
	c := conversions[op]
	src, t := freg(x), freg(temps[0])
	done := b.newLabel()
	b.emit(
		sparc.FCmp(c.compare, src, src),
		sparc.FBranch(sparc.FCondO, done),
		sparc.FPop1(c.convert, src, t),
		sparc.FPop1(c.back, t, t),
		sparc.FPop(c.sub, t, t, t),
		asm.MarkLabel(done),
	)
	b.toInt(c.wide, t, reg(dst))
}

func reinterpret(b *builder, op lir.Op, dst, x, _ lir.Value, _ []lir.Value, _ *lir.FrameState) {
	switch op {
	case lir.MovI2F:
		b.toFloat(false, reg(x), freg(dst))
	case lir.MovL2D:
		b.toFloat(true, reg(x), freg(dst))
	case lir.MovF2I:
		b.toInt(false, freg(x), reg(dst))
	case lir.MovD2L:
		b.toInt(true, freg(x), reg(dst))
	}
}
