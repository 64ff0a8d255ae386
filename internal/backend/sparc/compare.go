package sparc

import (
	"github.com/tinyrange/lirgen/internal/asm"
	"github.com/tinyrange/lirgen/internal/asm/sparc"
	"github.com/tinyrange/lirgen/internal/backend"
	"github.com/tinyrange/lirgen/internal/lir"
)

// compare sets the condition codes from x - y and reports whether it set
// %fcc0.
func (b *builder) compare(x, y lir.Value) bool {
	k := x.Kind()
	if k.IsFloat() {
		op := sparc.FCMPS
		if isDouble(k) {
			op = sparc.FCMPD
		}
		b.emit(sparc.FCmp(op, freg(x), freg(y)))
		return true
	}
	if lir.IsConstant(y) {
		b.emit(sparc.CmpImm(reg(x), immediate(y)))
	} else {
		b.emit(sparc.Cmp(reg(x), reg(y)))
	}
	return false
}

func (b *builder) test(x, y lir.Value) {
	b.emit(operand2(sparc.ANDCC, reg(x), y, sparc.G0))
}

// conditionBranch branches on cond in cc with a nop in the delay slot.
func conditionBranch(cond uint8, cc sparc.CC, l asm.Label) asm.Group {
	if cc == sparc.FCC0 {
		return asm.Group{sparc.FBranch(sparc.FCond(cond), l), sparc.Nop()}
	}
	return asm.Group{sparc.Branch(sparc.Cond(cond), cc, l), sparc.Nop()}
}

func invert(cond uint8, cc sparc.CC) uint8 {
	if cc == sparc.FCC0 {
		return uint8(sparc.FCond(cond).Negate())
	}
	return uint8(sparc.Cond(cond).Negate())
}

// branch jumps to t when cond holds and to f otherwise, leaving out the
// jump to the block laid out next.
func (b *builder) branch(cond uint8, cc sparc.CC, t, f, next asm.Label) {
	switch {
	case t == next:
		b.emit(conditionBranch(invert(cond, cc), cc, f))
	case f == next:
		b.emit(conditionBranch(cond, cc, t))
	default:
		b.emit(conditionBranch(cond, cc, t))
		b.jump(f)
	}
}

// condition picks the branch or move condition for a compare of kind k.
// Float conditions fold the unordered outcome in, so no separate parity
// check is needed.
func condition(cond lir.Condition, k lir.Kind, unorderedIsTrue bool) (uint8, sparc.CC) {
	if k.IsFloat() {
		return uint8(sparc.FloatConditionCode(cond, unorderedIsTrue)), sparc.FCC0
	}
	return uint8(sparc.ConditionCode(cond)), conditionCodes(k)
}

func (b *builder) compareBranch(i *backend.CompareBranch, next lir.Label) {
	b.compare(i.X, i.Y)
	cond, cc := condition(i.Cond, i.X.Kind(), i.UnorderedIsTrue)
	b.branch(cond, cc, asm.Label(i.True), asm.Label(i.False), asm.Label(next))
}

// condMove copies the false value and conditionally overwrites it with the
// true value. Neither mov nor fmovs touch the condition codes.
func (b *builder) condMove(i *backend.CondMove) {
	var cond uint8
	var cc sparc.CC
	if i.Test {
		b.test(i.X, i.Y)
		cond, cc = uint8(sparc.ConditionCode(i.Cond)), conditionCodes(i.X.Kind())
	} else {
		b.compare(i.X, i.Y)
		cond, cc = condition(i.Cond, i.X.Kind(), i.UnorderedIsTrue)
	}

	k := i.Dst.Kind()
	b.move(i.Dst, i.FalseValue)
	if !k.IsFloat() {
		b.emit(sparc.MovCC(cond, cc, reg(i.TrueValue), reg(i.Dst)))
		return
	}
	op := sparc.FMOVSCC
	if isDouble(k) {
		op = sparc.FMOVDCC
	}
	b.emit(sparc.FMovCC(op, cond, cc, freg(i.TrueValue), freg(i.Dst)))
}

func (b *builder) jump(l asm.Label) {
	b.emit(sparc.Branch(sparc.CondA, sparc.ICC, l), sparc.Nop())
}

// switchClosure runs a switch strategy against the key register. Keys that
// do not fit simm13 are built in the scratch register.
type switchClosure struct {
	b    *builder
	key  asm.Register
	keys []lir.Constant
}

func (c *switchClosure) ConditionalJump(index int, cond lir.Condition, target lir.Label) {
	v := int64(c.keys[index].AsInt())
	if lir.IsSimm(v, 13) {
		c.b.emit(sparc.CmpImm(c.key, v))
	} else {
		c.b.emit(sparc.SetConst(v, sparc.Scratch), sparc.Cmp(c.key, sparc.Scratch))
	}
	c.b.emit(conditionBranch(uint8(sparc.ConditionCode(cond)), sparc.ICC, asm.Label(target)))
}

func (c *switchClosure) Jump(target lir.Label) { c.b.jump(asm.Label(target)) }

func (c *switchClosure) NewLabel() lir.Label { return lir.Label(c.b.newLabel()) }

func (c *switchClosure) Bind(label lir.Label) { c.b.bind(asm.Label(label)) }

func (b *builder) strategySwitch(i *backend.Switch) {
	c := &switchClosure{b: b, key: reg(i.Key), keys: i.Strategy.Keys()}
	i.Strategy.Run(c, i.KeyTargets, i.Default)
}
