package amd64

import (
	"github.com/tinyrange/lirgen/internal/asm"
	"github.com/tinyrange/lirgen/internal/asm/amd64"
	"github.com/tinyrange/lirgen/internal/lir"
)

// alu covers the two-address integer operations: dst = x; dst op= y.
func alu(m amd64.Mnemonic) entry {
	rr := func(b *builder, op lir.Op, dst, x, y lir.Value, _ []lir.Value, _ *lir.FrameState) {
		w := width(dst.Kind())
		b.copyTo(reg(dst), x)
		b.emit(amd64.Binary(m, w, operand(dst), operand(y)))
	}
	rc := func(b *builder, op lir.Op, dst, x, y lir.Value, _ []lir.Value, _ *lir.FrameState) {
		w := width(dst.Kind())
		b.copyTo(reg(dst), x)
		b.emit(amd64.BinaryImm(m, w, operand(dst), immediate(y)))
	}
	return entry{rr: rr, rc: rc}
}

// reverseALU adds the constant-left form for operations that do not
// commute.
func reverseALU(m amd64.Mnemonic) entry {
	e := alu(m)
	e.cr = e.rr
	return e
}

func mulRR(b *builder, op lir.Op, dst, x, y lir.Value, _ []lir.Value, _ *lir.FrameState) {
	b.copyTo(reg(dst), x)
	b.emit(amd64.Binary(amd64.IMUL, width(dst.Kind()), operand(dst), operand(y)))
}

func mulRC(b *builder, op lir.Op, dst, x, y lir.Value, _ []lir.Value, _ *lir.FrameState) {
	b.emit(amd64.ImulImm(width(dst.Kind()), reg(dst), operand(x), immediate(y)))
}

// shift takes a variable count in cl and a constant count as an immediate.
// The hardware masks the count.
func shift(m amd64.Mnemonic) entry {
	rr := func(b *builder, op lir.Op, dst, x, y lir.Value, _ []lir.Value, _ *lir.FrameState) {
		b.copyTo(amd64.RCX, y)
		b.copyTo(reg(dst), x)
		b.emit(amd64.Shift(m, width(dst.Kind()), operand(dst), -1))
	}
	rc := func(b *builder, op lir.Op, dst, x, y lir.Value, _ []lir.Value, _ *lir.FrameState) {
		b.copyTo(reg(dst), x)
		b.emit(amd64.Shift(m, width(dst.Kind()), operand(dst), int(immediate(y)&0xff)))
	}
	return entry{rr: rr, rc: rc, cr: rr}
}

func division() entry {
	fn := func(b *builder, op lir.Op, dst, x, y lir.Value, _ []lir.Value, state *lir.FrameState) {
		b.divide(op, x, y, state)
		from := amd64.RAX
		switch op {
		case lir.IRem, lir.LRem, lir.IURem, lir.LURem:
			from = amd64.RDX
		}
		b.fixed(dst, from)
	}
	return entry{rr: fn, rc: fn}
}

// divRem encodes a DivRem record: one division, both results.
func (b *builder) divRem(op lir.Op, quotient, remainder, x, y lir.Value, state *lir.FrameState) {
	lookup(op)
	b.divide(op, x, y, state)
	if lir.IsLegal(quotient) {
		b.fixed(quotient, amd64.RAX)
	}
	if lir.IsLegal(remainder) {
		b.fixed(remainder, amd64.RDX)
	}
}

// fixed copies the fixed register from into dst.
func (b *builder) fixed(dst lir.Value, from asm.Register) {
	w := width(dst.Kind())
	b.emit(amd64.Binary(amd64.MOV, w, operand(dst), amd64.RegSized(from, w)))
}

// divide leaves the quotient of x / y in rax and the remainder in rdx. The
// div or idiv is the only instruction that traps. MIN / -1 faults on
// hardware, so signed division answers it (MIN, remainder 0) without
// dividing.
func (b *builder) divide(op lir.Op, x, y lir.Value, state *lir.FrameState) {
	w := width(x.Kind())
	b.copyTo(amd64.RAX, x)
	d := amd64.ScratchRegister
	if lir.IsConstant(y) {
		b.loadConstant(d, constant(y))
	} else {
		d = reg(y)
	}
	divisor := amd64.RegSized(d, w)

	if op.Info().Unsigned {
		b.emit(amd64.Binary(amd64.XOR, 4, amd64.Reg32(amd64.RDX), amd64.Reg32(amd64.RDX)))
		div := amd64.Unary(amd64.DIV, w, divisor)
		div.Trap = state
		b.emit(div)
		return
	}

	normal, done := b.newLabel(), b.newLabel()
	idiv := amd64.Unary(amd64.IDIV, w, divisor)
	idiv.Trap = state
	b.emit(
		// Only MIN - 1 overflows.
		amd64.BinaryImm(amd64.CMP, w, amd64.RegSized(amd64.RAX, w), 1),
		amd64.Jcc(amd64.CondNO, normal),
		amd64.BinaryImm(amd64.CMP, w, divisor, -1),
		amd64.Jcc(amd64.CondNE, normal),
		amd64.Binary(amd64.XOR, 4, amd64.Reg32(amd64.RDX), amd64.Reg32(amd64.RDX)),
		amd64.Jmp(done),
		asm.MarkLabel(normal),
		amd64.SignExtendAccumulator(w),
		idiv,
		asm.MarkLabel(done),
	)
}

// sse covers the scalar float operations: dst = x; dst op= y. A constant
// right operand goes through the scratch xmm register.
func sse(m amd64.Mnemonic) entry {
	fn := func(b *builder, op lir.Op, dst, x, y lir.Value, _ []lir.Value, _ *lir.FrameState) {
		d := fpr(dst)
		b.copyFloat(d, x)
		b.emit(amd64.SSE(m, width(dst.Kind()), d, b.floatOperand(y)))
	}
	return entry{rr: fn, rc: fn, cr: fn}
}

func intUnary(m amd64.Mnemonic) emitFunc {
	return func(b *builder, op lir.Op, dst, x, _ lir.Value, _ []lir.Value, _ *lir.FrameState) {
		b.copyTo(reg(dst), x)
		b.emit(amd64.Unary(m, width(dst.Kind()), operand(dst)))
	}
}

func floatNegate(b *builder, op lir.Op, dst, x, _ lir.Value, _ []lir.Value, _ *lir.FrameState) {
	b.copyFloat(fpr(dst), x)
	b.signMask(amd64.XORP, fpr(dst), dst.Kind(), false)
}

func absolute(b *builder, op lir.Op, dst, x, _ lir.Value, _ []lir.Value, _ *lir.FrameState) {
	b.copyFloat(fpr(dst), x)
	b.signMask(amd64.ANDP, fpr(dst), dst.Kind(), true)
}

func squareRoot(b *builder, op lir.Op, dst, x, _ lir.Value, _ []lir.Value, _ *lir.FrameState) {
	b.emit(amd64.SSE(amd64.SQRTS, 8, fpr(dst), fpr(x)))
}

func popcount(b *builder, op lir.Op, dst, x, _ lir.Value, _ []lir.Value, _ *lir.FrameState) {
	b.emit(amd64.Bits(amd64.POPCNT, width(x.Kind()), reg(dst), operand(x)))
}

// bitScan leaves dst undefined for a zero input, so the zero result is
// loaded when the scan sets ZF: the operand width for bsf, -1 for bsr.
func bitScan(m amd64.Mnemonic) emitFunc {
	return func(b *builder, op lir.Op, dst, x, _ lir.Value, _ []lir.Value, _ *lir.FrameState) {
		size := width(x.Kind())
		zero := int64(-1)
		if m == amd64.BSF {
			zero = int64(size * 8)
		}
		done := b.newLabel()
		b.emit(
			amd64.Bits(m, size, reg(dst), operand(x)),
			amd64.Jcc(amd64.CondNE, done),
			amd64.MovImm(4, reg(dst), zero),
		)
		b.bind(done)
	}
}

func byteSwap(b *builder, op lir.Op, dst, x, _ lir.Value, _ []lir.Value, _ *lir.FrameState) {
	b.copyTo(reg(dst), x)
	b.emit(amd64.Unary(amd64.BSWAP, width(dst.Kind()), operand(dst)))
}
