package backend

import (
	"github.com/tinyrange/lirgen/internal/lir"
)

// Base implements the architecture-independent part of Generator. The
// architecture generators embed it and add EmitAddress, Registers and
// EmitCode.
type Base struct {
	arch    Arch
	target  *lir.Target
	policy  lir.ConstantPolicy
	runtime Runtime
	lir     lir.LIR

	next      int
	params    []lir.Kind
	paramVars []lir.Variable
	result    lir.Kind
}

func NewBase(opts Options, arch Arch) *Base {
	rt := opts.Runtime
	if rt == (Runtime{}) {
		rt = DefaultRuntime()
	}
	return &Base{
		arch:    arch,
		target:  opts.Target,
		policy:  arch.Policy(),
		runtime: rt,
	}
}

func (b *Base) Target() *lir.Target { return b.target }
func (b *Base) LIR() *lir.LIR       { return &b.lir }
func (b *Base) Runtime() Runtime    { return b.runtime }

// Signature is known once every parameter and return has been emitted.
func (b *Base) Signature() Signature {
	return Signature{Params: append([]lir.Kind(nil), b.params...), Result: b.result}
}

func (b *Base) NewVariable(k lir.Kind) lir.Variable {
	if k == lir.Illegal {
		panic(lir.ShouldNotReachHere("variable of illegal kind"))
	}
	v := lir.Variable{Index: b.next, K: k}
	b.next++
	return v
}

func (b *Base) StartBlock(label lir.Label) {
	b.lir.StartBlock(label)
}

// Append adds inst to the current block.
func (b *Base) Append(inst lir.Instruction) {
	b.lir.Append(inst)
}

func (b *Base) Parameter(i int, k lir.Kind) lir.Variable {
	if i < len(b.paramVars) {
		if b.params[i] != k {
			panic(lir.KindMismatch("parameter %d is %s, requested as %s", i, b.params[i], k))
		}
		return b.paramVars[i]
	}
	if i != len(b.paramVars) {
		panic(lir.ShouldNotReachHere("parameter %d requested before parameter %d", i, len(b.paramVars)))
	}
	kinds := append(append([]lir.Kind(nil), b.params...), k)
	regs := b.arch.ParameterRegisters(kinds)
	if len(regs) <= i {
		panic(lir.Unsupported("parameter %d of kind %s is not passed in a register", i, k))
	}
	if len(b.lir.Blocks) == 0 {
		b.lir.StartBlock("entry")
	}
	v := b.NewVariable(k)
	entry := b.lir.Blocks[0]
	move := &Move{Dst: v, Src: regs[i].As(k)}
	entry.Instructions = append(entry.Instructions[:i], append([]lir.Instruction{move}, entry.Instructions[i:]...)...)

	b.params = kinds
	b.paramVars = append(b.paramVars, v)
	return v
}

func (b *Base) CanStoreConstant(c lir.Constant, compressed bool) bool {
	return b.policy.CanStore(c, compressed)
}

func (b *Base) CanInlineConstant(c lir.Constant) bool {
	return b.policy.CanInline(c)
}

// EmitMove copies v into a fresh variable.
func (b *Base) EmitMove(v lir.Value) lir.Variable {
	if !lir.IsLegal(v) {
		panic(lir.ShouldNotReachHere("move of an illegal value"))
	}
	dst := b.NewVariable(v.Kind())
	b.Append(&Move{Dst: dst, Src: v})
	return dst
}

// Load returns v if it already is a variable and a copy of it otherwise.
func (b *Base) Load(v lir.Value) lir.Value {
	if lir.IsVariable(v) {
		return v
	}
	return b.EmitMove(v)
}

// operand keeps v as an immediate when the emitter accepts a constant in
// that position and the policy allows inlining it.
func (b *Base) operand(v lir.Value, constantOK bool) lir.Value {
	c, ok := v.(lir.Constant)
	if !ok {
		if lir.Classify(v) != lir.RegisterForm {
			panic(lir.ShouldNotReachHere("operand %s is not a register or constant", v))
		}
		return v
	}
	if constantOK && b.policy.CanInline(c) {
		return v
	}
	return b.EmitMove(c)
}

func (b *Base) temps(op lir.Op, x, y lir.Value) []lir.Value {
	kinds := b.arch.Temporaries(op, x, y)
	if len(kinds) == 0 {
		return nil
	}
	out := make([]lir.Value, len(kinds))
	for i, k := range kinds {
		out[i] = b.NewVariable(k)
	}
	return out
}

func (b *Base) EmitLoad(k lir.Kind, addr lir.Address, state *lir.FrameState) lir.Variable {
	dst := b.NewVariable(k)
	b.Append(&Load{K: k, Dst: dst, Addr: addr, State: state})
	return dst
}

func (b *Base) EmitStore(k lir.Kind, addr lir.Address, value lir.Value, state *lir.FrameState) {
	if value.Kind() != k {
		panic(lir.KindMismatch("store of %s as %s", value.Kind(), k))
	}
	if c, ok := value.(lir.Constant); !ok || !b.CanStoreConstant(c, false) {
		value = b.Load(value)
	}
	b.Append(&Store{K: k, Addr: addr, Value: value, State: state})
}

func (b *Base) EmitNullCheck(addr lir.Address, state *lir.FrameState) {
	b.Append(&NullCheck{Addr: addr, State: state})
}

func isRemainder(op lir.Op) bool {
	switch op {
	case lir.IRem, lir.LRem, lir.IURem, lir.LURem:
		return true
	}
	return false
}

// EmitBinary emits x op y. Commutative operations move a constant to the
// right; remainders of two constants are folded unless the divisor is
// zero, in which case the trapping instruction is still emitted.
func (b *Base) EmitBinary(op lir.Op, x, y lir.Value, state *lir.FrameState) lir.Value {
	lir.CheckOperands(op, x, y)
	switch op {
	case lir.FRem:
		return b.EmitForeignCall(b.runtime.FRem, []lir.Value{x, y}, state)
	case lir.DRem:
		return b.EmitForeignCall(b.runtime.DRem, []lir.Value{x, y}, state)
	}

	xc, xConst := x.(lir.Constant)
	yc, yConst := y.(lir.Constant)
	if xConst && yConst {
		if !isRemainder(op) {
			panic(lir.ShouldNotReachHere("%s with two constant operands %s, %s", op, xc, yc))
		}
		if !yc.IsDefaultForKind() {
			r, err := lir.Eval(op, xc, yc)
			if err != nil {
				panic(lir.ShouldNotReachHere("fold %s: %v", op, err))
			}
			return b.EmitMove(r)
		}
		x, xConst = b.EmitMove(xc), false
	}
	if xConst && op.Info().Commutative {
		x, y = y, x
	}
	return b.EmitOp(op, x, y, state)
}

// EmitOp appends op without checking operand kinds. Address arithmetic
// uses it to combine object and word operands.
func (b *Base) EmitOp(op lir.Op, x, y lir.Value, state *lir.FrameState) lir.Variable {
	shapes := b.arch.Shapes(op)
	info := op.Info()
	x = b.operand(x, shapes.ConstantLeft)
	if lir.IsLegal(y) {
		y = b.operand(y, shapes.ConstantRight)
	} else {
		y = lir.IllegalValue
	}
	if !info.Traps {
		state = nil
	}
	dst := b.NewVariable(info.Result)
	b.Append(&Op{Op: op, Dst: dst, X: x, Y: y, Temps: b.temps(op, x, y), State: state})
	return dst
}

// EmitUnary emits op x. A constant operand is folded.
func (b *Base) EmitUnary(op lir.Op, x lir.Value) lir.Value {
	lir.CheckOperands(op, x)
	b.arch.Shapes(op)
	if c, ok := x.(lir.Constant); ok {
		if r, err := lir.Eval(op, c); err == nil {
			return b.EmitMove(r)
		}
	}
	return b.EmitOp(op, x, lir.IllegalValue, nil)
}

func (b *Base) EmitDivRem(x, y lir.Value, state *lir.FrameState) (lir.Value, lir.Value) {
	return b.divRem(lir.Arith(lir.Div, x.Kind()), lir.Arith(lir.Rem, x.Kind()), x, y, state)
}

func (b *Base) EmitUnsignedDivRem(x, y lir.Value, state *lir.FrameState) (lir.Value, lir.Value) {
	return b.divRem(lir.Arith(lir.UDiv, x.Kind()), lir.Arith(lir.URem, x.Kind()), x, y, state)
}

func (b *Base) divRem(div, rem lir.Op, x, y lir.Value, state *lir.FrameState) (lir.Value, lir.Value) {
	if !x.Kind().IsNumericInteger() {
		panic(lir.KindMismatch("divrem on %s", x.Kind()))
	}
	lir.CheckOperands(div, x, y)
	xc, xConst := x.(lir.Constant)
	yc, yConst := y.(lir.Constant)
	if xConst && yConst && !yc.IsDefaultForKind() {
		q, err := lir.Eval(div, xc, yc)
		if err != nil {
			panic(lir.ShouldNotReachHere("fold %s: %v", div, err))
		}
		r, err := lir.Eval(rem, xc, yc)
		if err != nil {
			panic(lir.ShouldNotReachHere("fold %s: %v", rem, err))
		}
		return b.EmitMove(q), b.EmitMove(r)
	}

	shapes := b.arch.Shapes(div)
	x = b.operand(x, false)
	y = b.operand(y, shapes.ConstantRight)
	q := b.NewVariable(x.Kind())
	r := b.NewVariable(x.Kind())
	b.Append(&DivRem{Op: div, Quotient: q, Remainder: r, X: x, Y: y, Temps: b.temps(rem, x, y), State: state})
	return q, r
}

// EmitMath emits abs and sqrt inline and calls the runtime for the
// transcendental functions.
func (b *Base) EmitMath(fn MathFunction, x lir.Value) lir.Value {
	switch fn {
	case MathAbs:
		return b.EmitUnary(lir.DAbs, x)
	case MathSqrt:
		return b.EmitUnary(lir.DSqrt, x)
	}
	if x.Kind() != lir.Float64 {
		panic(lir.KindMismatch("%s of %s", fn, x.Kind()))
	}
	linkage := b.runtime.math(fn)
	if linkage == nil {
		panic(lir.Unsupported("math function %s has no runtime stub", fn))
	}
	return b.EmitForeignCall(linkage, []lir.Value{x}, nil)
}

// compareOperands orders a compare so the left side is in a register. When
// y is a variable the operands are swapped and mirrored is set; callers
// must then use the mirrored condition.
func (b *Base) compareOperands(x, y lir.Value) (left, right lir.Value, mirrored bool) {
	if x.Kind() != y.Kind() {
		panic(lir.KindMismatch("compare of %s with %s", x.Kind(), y.Kind()))
	}
	if lir.IsVariable(y) {
		return y, b.operand(x, true), true
	}
	return b.Load(x), b.operand(y, true), false
}

func checkCondition(k lir.Kind, cond lir.Condition) {
	if k.IsFloat() && cond.IsUnsigned() {
		panic(lir.ShouldNotReachHere("unsigned condition %s on %s", cond, k))
	}
}

func (b *Base) EmitCompareBranch(x, y lir.Value, cond lir.Condition, unorderedIsTrue bool, trueDest, falseDest lir.Label) {
	checkCondition(x.Kind(), cond)
	left, right, mirrored := b.compareOperands(x, y)
	if mirrored {
		cond = cond.Mirror()
	}
	b.Append(&CompareBranch{X: left, Y: right, Cond: cond, UnorderedIsTrue: unorderedIsTrue, True: trueDest, False: falseDest})
}

func (b *Base) testOperands(x, y lir.Value) (lir.Value, lir.Value) {
	if !x.Kind().IsInteger() || x.Kind() != y.Kind() {
		panic(lir.KindMismatch("integer test of %s and %s", x.Kind(), y.Kind()))
	}
	if lir.IsConstant(x) && !lir.IsConstant(y) {
		x, y = y, x
	}
	return b.Load(x), b.operand(y, true)
}

func (b *Base) EmitIntegerTestBranch(x, y lir.Value, negated bool, trueDest, falseDest lir.Label) {
	left, right := b.testOperands(x, y)
	cond := lir.EQ
	if negated {
		cond = lir.NE
	}
	b.Append(&TestBranch{X: left, Y: right, Cond: cond, True: trueDest, False: falseDest})
}

func (b *Base) selectOperands(trueValue, falseValue lir.Value) (lir.Value, lir.Value, lir.Variable) {
	if trueValue.Kind() != falseValue.Kind() {
		panic(lir.KindMismatch("select between %s and %s", trueValue.Kind(), falseValue.Kind()))
	}
	t := b.Load(trueValue)
	f := b.Load(falseValue)
	return t, f, b.NewVariable(trueValue.Kind())
}

func (b *Base) EmitConditionalMove(x, y lir.Value, cond lir.Condition, unorderedIsTrue bool, trueValue, falseValue lir.Value) lir.Value {
	checkCondition(x.Kind(), cond)
	left, right, mirrored := b.compareOperands(x, y)
	if mirrored {
		cond = cond.Mirror()
	}
	t, f, dst := b.selectOperands(trueValue, falseValue)
	b.Append(&CondMove{Dst: dst, X: left, Y: right, TrueValue: t, FalseValue: f, Cond: cond, UnorderedIsTrue: unorderedIsTrue})
	return dst
}

func (b *Base) EmitIntegerTestMove(x, y lir.Value, trueValue, falseValue lir.Value) lir.Value {
	left, right := b.testOperands(x, y)
	t, f, dst := b.selectOperands(trueValue, falseValue)
	b.Append(&CondMove{Dst: dst, X: left, Y: right, TrueValue: t, FalseValue: f, Cond: lir.EQ, Test: true})
	return dst
}

// EmitStrategySwitch emits the compare cascade of strategy. Only int keys
// are supported.
func (b *Base) EmitStrategySwitch(strategy lir.SwitchStrategy, key lir.Value, keyTargets []lir.Label, defaultTarget lir.Label) {
	if key.Kind() != lir.Int32 {
		panic(lir.Unsupported("switch on %s keys", key.Kind()))
	}
	keys := strategy.Keys()
	if len(keys) != len(keyTargets) {
		panic(lir.ShouldNotReachHere("switch has %d keys and %d targets", len(keys), len(keyTargets)))
	}
	for _, k := range keys {
		if k.K != lir.Int32 {
			panic(lir.Unsupported("switch key %s", k))
		}
	}
	b.Append(&Switch{
		Strategy:   strategy,
		Key:        b.Load(key),
		KeyTargets: append([]lir.Label(nil), keyTargets...),
		Default:    defaultTarget,
	})
}

func (b *Base) EmitJump(target lir.Label) {
	b.Append(&Jump{Target: target})
}

// EmitMembar emits nothing on uniprocessors or when the memory model
// already provides every requested barrier.
func (b *Base) EmitMembar(barriers lir.Barrier) {
	if !b.target.IsMP {
		return
	}
	required := b.target.RequiredBarriers(barriers)
	if required == 0 {
		return
	}
	b.Append(&Membar{Barriers: required})
}

func (b *Base) EmitForeignCall(linkage *lir.Linkage, args []lir.Value, state *lir.FrameState) lir.Value {
	if linkage == nil {
		panic(lir.ShouldNotReachHere("foreign call without linkage"))
	}
	if len(args) != len(linkage.Args) {
		panic(lir.KindMismatch("%s takes %d arguments, got %d", linkage.Name, len(linkage.Args), len(args)))
	}
	for i, a := range args {
		if a.Kind() != linkage.Args[i] {
			panic(lir.KindMismatch("%s argument %d: got %s, want %s", linkage.Name, i, a.Kind(), linkage.Args[i]))
		}
	}
	regs := b.arch.ArgumentRegisters(linkage.Args)
	if len(regs) < len(args) {
		panic(lir.Unsupported("%s passes %d arguments, only %d fit in registers", linkage.Name, len(args), len(regs)))
	}
	fixed := make([]lir.Value, len(args))
	for i, a := range args {
		fixed[i] = regs[i]
		b.Append(&Move{Dst: regs[i], Src: a})
	}
	result := lir.IllegalValue
	if linkage.Result != lir.Illegal {
		result = b.arch.CallResultRegister(linkage.Result)
	}
	b.Append(&Call{Linkage: linkage, Args: fixed, Result: result, State: state})
	if !lir.IsLegal(result) {
		return lir.IllegalValue
	}
	return b.EmitMove(result)
}

func (b *Base) EmitDeoptimize(action lir.DeoptimizationAction, reason lir.DeoptimizationReason, state *lir.FrameState) {
	if b.runtime.UncommonTrap == nil {
		panic(lir.Unsupported("deoptimization without an uncommon trap stub"))
	}
	b.Append(&Deoptimize{
		Linkage: b.runtime.UncommonTrap,
		Word:    lir.EncodeDeoptActionAndReason(action, reason, 0),
		Reason:  reason,
		State:   state,
	})
}

// EmitReturn returns x, or nothing when x is IllegalValue. Every return of
// one compilation must agree on the kind.
func (b *Base) EmitReturn(x lir.Value) {
	k := lir.Illegal
	if lir.IsLegal(x) {
		k = x.Kind()
	}
	if b.result != lir.Illegal && b.result != k {
		panic(lir.KindMismatch("return of %s after return of %s", k, b.result))
	}
	b.result = k
	if k == lir.Illegal {
		b.Append(&Return{Value: lir.IllegalValue})
		return
	}
	reg := b.arch.ReturnRegister(k)
	b.Append(&Move{Dst: reg, Src: x})
	b.Append(&Return{Value: reg})
}

// AddressRules describe the addressing forms of an architecture.
type AddressRules struct {
	// Scales lists the index scales the hardware applies itself.
	Scales []lir.Scale
	// DisplacementBits is the signed width of the displacement field.
	DisplacementBits uint
	// IndexWithDisplacement is false when an indexed address cannot also
	// carry a displacement.
	IndexWithDisplacement bool
}

func (r AddressRules) supports(scale int) bool {
	for _, s := range r.Scales {
		if int(s) == scale {
			return true
		}
	}
	return false
}

// SynthesizeAddress folds base + index*scale + displacement into one
// address the rules allow. Constant components are folded before any
// register is allocated.
func (b *Base) SynthesizeAddress(rules AddressRules, base lir.Value, displacement int64, index lir.Value, scale int) lir.Address {
	addr := lir.Address{K: b.target.WordKind, Base: lir.IllegalValue, Index: lir.IllegalValue, Scale: lir.Times1}

	if lir.IsLegal(base) {
		switch c, ok := base.(lir.Constant); {
		case !ok:
			addr.Base = base
		case c.IsNull():
		case c.NeedsPatch():
			addr.Base = b.EmitMove(c)
		default:
			v, ok := c.AsIntegral()
			if !ok {
				panic(lir.KindMismatch("address base %s", c))
			}
			displacement += v
		}
	}

	if scale != 0 && lir.IsLegal(index) {
		if c, ok := index.(lir.Constant); ok {
			v, ok := c.AsIntegral()
			if !ok {
				panic(lir.KindMismatch("address index %s", c))
			}
			displacement += v * int64(scale)
		} else {
			idx := b.wordIndex(index)
			switch {
			case rules.supports(scale):
				addr.Scale = lir.Scale(scale)
			case lir.IsPowerOfTwo(int64(scale)):
				idx = b.EmitOp(lir.LShl, idx, lir.IntConstant(int32(lir.Log2(int64(scale)))), nil)
			default:
				idx = b.EmitOp(lir.LMul, idx, lir.LongConstant(int64(scale)), nil)
			}
			addr.Index = idx
		}
	}

	if !lir.IsSimm(displacement, rules.DisplacementBits) {
		d := b.EmitMove(lir.LongConstant(displacement))
		displacement = 0
		switch {
		case !addr.HasBase():
			addr.Base = d
		case !addr.HasIndex():
			addr.Index = d
			addr.Scale = lir.Times1
		default:
			addr.Base = b.EmitOp(lir.LAdd, addr.Base, d, nil)
		}
	}

	if !rules.IndexWithDisplacement && addr.HasIndex() && displacement != 0 {
		if addr.HasBase() {
			addr.Base = b.EmitOp(lir.LAdd, addr.Base, addr.Index, nil)
		} else {
			addr.Base = addr.Index
		}
		addr.Index = lir.IllegalValue
	}

	addr.Displacement = displacement
	return addr
}

// wordIndex widens an int index to the word size.
func (b *Base) wordIndex(index lir.Value) lir.Value {
	switch index.Kind() {
	case lir.Int32:
		return b.EmitOp(lir.I2L, index, lir.IllegalValue, nil)
	case lir.Int64:
		return index
	}
	panic(lir.KindMismatch("address index of kind %s", index.Kind()))
}
