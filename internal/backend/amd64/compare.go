package amd64

import (
	"github.com/tinyrange/lirgen/internal/asm"
	"github.com/tinyrange/lirgen/internal/asm/amd64"
	"github.com/tinyrange/lirgen/internal/backend"
	"github.com/tinyrange/lirgen/internal/lir"
)

// compare sets the flags from x - y and reports whether the compare was a
// float compare, whose flags read like an unsigned one.
func (b *builder) compare(x, y lir.Value) bool {
	k := x.Kind()
	if k.IsFloat() {
		b.emit(amd64.SSE(amd64.UCOMIS, width(k), fpr(x), b.floatOperand(y)))
		return true
	}
	if lir.IsConstant(y) {
		b.emit(amd64.BinaryImm(amd64.CMP, width(k), operand(x), immediate(y)))
	} else {
		b.emit(amd64.Binary(amd64.CMP, width(k), operand(x), operand(y)))
	}
	return false
}

func (b *builder) test(x, y lir.Value) {
	k := x.Kind()
	if lir.IsConstant(y) {
		b.emit(amd64.BinaryImm(amd64.TEST, width(k), operand(x), immediate(y)))
		return
	}
	b.emit(amd64.Binary(amd64.TEST, width(k), operand(x), operand(y)))
}

// branch jumps to t when cc holds and to f otherwise, leaving out the jump
// to the block laid out next.
func (b *builder) branch(cc amd64.Cond, t, f, next asm.Label) {
	switch {
	case t == next:
		b.emit(amd64.Jcc(cc.Negate(), f))
	case f == next:
		b.emit(amd64.Jcc(cc, t))
	default:
		b.emit(amd64.Jcc(cc, t), amd64.Jmp(f))
	}
}

func (b *builder) compareBranch(i *backend.CompareBranch, next lir.Label) {
	t, f := asm.Label(i.True), asm.Label(i.False)
	float := b.compare(i.X, i.Y)
	if float {
		unordered := f
		if i.UnorderedIsTrue {
			unordered = t
		}
		b.emit(amd64.Jcc(amd64.CondP, unordered))
	}
	b.branch(amd64.ConditionCode(i.Cond, float), t, f, asm.Label(next))
}

// condMove selects with cmov for integer results and branches around a
// move for float results. The operands are registers, so the moves leave
// the flags alone.
func (b *builder) condMove(i *backend.CondMove) {
	float := false
	if i.Test {
		b.test(i.X, i.Y)
	} else {
		float = b.compare(i.X, i.Y)
	}
	cc := amd64.ConditionCode(i.Cond, float)

	unordered := i.FalseValue
	if i.UnorderedIsTrue {
		unordered = i.TrueValue
	}

	k := i.Dst.Kind()
	if !k.IsFloat() {
		w := width(k)
		dst := reg(i.Dst)
		b.copyTo(dst, i.FalseValue)
		b.emit(amd64.CMov(cc, w, dst, operand(i.TrueValue)))
		if float {
			b.emit(amd64.CMov(amd64.CondP, w, dst, operand(unordered)))
		}
		return
	}

	dst := fpr(i.Dst)
	other, done := b.newLabel(), b.newLabel()
	b.copyFloat(dst, i.TrueValue)
	if float {
		target := other
		if i.UnorderedIsTrue {
			target = done
		}
		b.emit(amd64.Jcc(amd64.CondP, target))
	}
	b.emit(amd64.Jcc(cc, done))
	b.bind(other)
	b.copyFloat(dst, i.FalseValue)
	b.bind(done)
}

// switchClosure runs a switch strategy against the key register.
type switchClosure struct {
	b    *builder
	key  amd64.Reg
	keys []lir.Constant
}

func (c *switchClosure) ConditionalJump(index int, cond lir.Condition, target lir.Label) {
	c.b.emit(
		amd64.BinaryImm(amd64.CMP, 4, c.key, int64(c.keys[index].AsInt())),
		amd64.Jcc(amd64.ConditionCode(cond, false), asm.Label(target)),
	)
}

func (c *switchClosure) Jump(target lir.Label) {
	c.b.emit(amd64.Jmp(asm.Label(target)))
}

func (c *switchClosure) NewLabel() lir.Label { return lir.Label(c.b.newLabel()) }

func (c *switchClosure) Bind(label lir.Label) { c.b.bind(asm.Label(label)) }

func (b *builder) strategySwitch(i *backend.Switch) {
	c := &switchClosure{b: b, key: amd64.Reg32(reg(i.Key)), keys: i.Strategy.Keys()}
	i.Strategy.Run(c, i.KeyTargets, i.Default)
}
