package sparc

import (
	"github.com/tinyrange/lirgen/internal/asm"
	"github.com/tinyrange/lirgen/internal/asm/sparc"
	"github.com/tinyrange/lirgen/internal/backend"
	"github.com/tinyrange/lirgen/internal/lir"
)

// alu covers the three-address integer operations, dst = x op y, with y
// in a register or simm13. Shift counts are masked by the hardware.
func alu(m sparc.Mnemonic) entry {
	fn := func(b *builder, op lir.Op, dst, x, y lir.Value, _ []lir.Value, _ *lir.FrameState) {
		b.emit(operand2(m, reg(x), y, reg(dst)))
	}
	return entry{rr: fn, rc: fn}
}

// shift masks a constant count the way the register form masks rs2: the
// shift count field holds 5 bits for the 32-bit forms and 6 for the x forms.
func shift(m sparc.Mnemonic, bits uint) entry {
	rr := func(b *builder, op lir.Op, dst, x, y lir.Value, _ []lir.Value, _ *lir.FrameState) {
		b.emit(sparc.Arith(m, reg(x), reg(y), reg(dst)))
	}
	rc := func(b *builder, op lir.Op, dst, x, y lir.Value, _ []lir.Value, _ *lir.FrameState) {
		b.emit(sparc.ArithImm(m, reg(x), immediate(y)&(1<<bits-1), reg(dst)))
	}
	return entry{rr: rr, rc: rc}
}

func negate(b *builder, op lir.Op, dst, x, _ lir.Value, _ []lir.Value, _ *lir.FrameState) {
	b.emit(sparc.Arith(sparc.SUB, sparc.G0, reg(x), reg(dst)))
}

func not(b *builder, op lir.Op, dst, x, _ lir.Value, _ []lir.Value, _ *lir.FrameState) {
	b.emit(sparc.ArithImm(sparc.XOR, reg(x), -1, reg(dst)))
}

// source is the second operand of an instruction: a register or simm13.
type source struct {
	r     asm.Register
	imm   int64
	isImm bool
}

func (s source) apply(op sparc.Mnemonic, rs1, rd asm.Register) *sparc.Inst {
	if s.isImm {
		return sparc.ArithImm(op, rs1, s.imm, rd)
	}
	return sparc.Arith(op, rs1, s.r, rd)
}

// extend widens an int for a 64-bit consumer: sign extension for signed
// operations, zero extension for unsigned ones.
func (b *builder) extend(unsigned bool, rs, rd asm.Register) {
	op := sparc.SRA
	if unsigned {
		op = sparc.SRL
	}
	b.emit(sparc.ArithImm(op, rs, 0, rd))
}

// dividend returns the register holding x as a 64-bit value, extending an
// int into into.
func (b *builder) dividend(op lir.Op, x lir.Value, into asm.Register) asm.Register {
	if x.Kind() != lir.Int32 {
		return reg(x)
	}
	b.extend(op.Info().Unsigned, reg(x), into)
	return into
}

// divisor prepares y for sdivx or udivx. Ints are extended into the
// scratch register; constants stay immediate when the extended value fits
// simm13.
func (b *builder) divisor(op lir.Op, y lir.Value) source {
	unsigned := op.Info().Unsigned
	if c, ok := y.(lir.Constant); ok {
		v := value(c)
		if c.K == lir.Int32 && unsigned {
			v = int64(uint32(c.AsInt()))
		}
		if lir.IsSimm(v, 13) {
			return source{imm: v, isImm: true}
		}
		b.emit(sparc.SetConst(v, sparc.Scratch))
		return source{r: sparc.Scratch}
	}
	if y.Kind() != lir.Int32 {
		return source{r: reg(y)}
	}
	b.extend(unsigned, reg(y), sparc.Scratch)
	return source{r: sparc.Scratch}
}

// divide emits the single trapping division of x by d into rd. A constant
// zero divisor keeps its immediate form so the trap happens here.
func (b *builder) divide(op lir.Op, x asm.Register, d source, rd asm.Register, state *lir.FrameState) {
	m := sparc.SDIVX
	if op.Info().Unsigned {
		m = sparc.UDIVX
	}
	div := d.apply(m, x, rd)
	div.Trap = state
	b.emit(div)
}

func division(fn emitFunc) entry { return entry{rr: fn, rc: fn} }

func quotient(b *builder, op lir.Op, dst, x, y lir.Value, _ []lir.Value, state *lir.FrameState) {
	rd := reg(dst)
	n := b.dividend(op, x, rd)
	b.divide(op, n, b.divisor(op, y), rd, state)
}

// remainder computes x - (x / y) * y in two temporaries.
func remainder(b *builder, op lir.Op, dst, x, y lir.Value, temps []lir.Value, state *lir.FrameState) {
	n := b.dividend(op, x, reg(temps[0]))
	d := b.divisor(op, y)
	q := reg(temps[1])
	b.divide(op, n, d, q, state)
	b.emit(
		d.apply(sparc.MULX, q, q),
		sparc.Arith(sparc.SUB, n, q, reg(dst)),
	)
}

// divRem shares one division between the quotient and the remainder.
func (b *builder) divRem(i *backend.DivRem) {
	lookup(i.Op)
	n := b.dividend(i.Op, i.X, reg(i.Temps[0]))
	d := b.divisor(i.Op, i.Y)
	q := reg(i.Quotient)
	b.divide(i.Op, n, d, q, i.State)
	p := reg(i.Temps[1])
	b.emit(
		d.apply(sparc.MULX, q, p),
		sparc.Arith(sparc.SUB, n, p, reg(i.Remainder)),
	)
}

func fpop(m sparc.Mnemonic) emitFunc {
	return func(b *builder, op lir.Op, dst, x, y lir.Value, _ []lir.Value, _ *lir.FrameState) {
		b.emit(sparc.FPop(m, freg(x), freg(y), freg(dst)))
	}
}

func fpop1(m sparc.Mnemonic) emitFunc {
	return func(b *builder, op lir.Op, dst, x, _ lir.Value, _ []lir.Value, _ *lir.FrameState) {
		b.emit(sparc.FPop1(m, freg(x), freg(dst)))
	}
}

// floatLogic applies an integer logic operation to the bits of two float
// registers.
func floatLogic(m sparc.Mnemonic) emitFunc {
	return func(b *builder, op lir.Op, dst, x, y lir.Value, temps []lir.Value, _ *lir.FrameState) {
		double := isDouble(dst.Kind())
		t := reg(temps[0])
		b.toInt(double, freg(x), sparc.Scratch)
		b.toInt(double, freg(y), t)
		b.emit(sparc.Arith(m, sparc.Scratch, t, sparc.Scratch))
		b.toFloat(double, sparc.Scratch, freg(dst))
	}
}

func popcount(b *builder, op lir.Op, dst, x, _ lir.Value, _ []lir.Value, _ *lir.FrameState) {
	src := reg(x)
	if x.Kind() == lir.Int32 {
		b.extend(true, src, reg(dst))
		src = reg(dst)
	}
	b.emit(sparc.Popc(src, reg(dst)))
}

// trailingZeros counts the bits below the lowest set bit as
// popc((x - 1) &^ x).
func trailingZeros(b *builder, op lir.Op, dst, x, _ lir.Value, _ []lir.Value, _ *lir.FrameState) {
	src, rd := reg(x), reg(dst)
	if x.Kind() == lir.Int32 {
		b.extend(true, src, sparc.Scratch)
		src = sparc.Scratch
	}
	b.emit(
		sparc.ArithImm(sparc.SUB, src, 1, rd),
		sparc.Arith(sparc.ANDN, rd, src, rd),
	)
	if x.Kind() == lir.Int32 {
		b.extend(true, rd, rd)
	}
	b.emit(sparc.Popc(rd, rd))
}
