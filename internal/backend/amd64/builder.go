package amd64

import (
	"fmt"

	"github.com/tinyrange/lirgen/internal/asm"
	"github.com/tinyrange/lirgen/internal/asm/amd64"
	"github.com/tinyrange/lirgen/internal/backend"
	"github.com/tinyrange/lirgen/internal/lir"
)

// builder encodes allocated LIR into amd64 instructions.
type builder struct {
	frags  asm.Group
	labels int
}

var _ backend.Emitter = (*builder)(nil)

func (b *builder) emit(frags ...asm.Fragment) {
	b.frags = append(b.frags, frags...)
}

func (b *builder) newLabel() asm.Label {
	b.labels++
	return asm.Label(fmt.Sprintf(".L%d", b.labels))
}

func (b *builder) bind(l asm.Label) {
	b.emit(asm.MarkLabel(l))
}

func (b *builder) Bind(label lir.Label) {
	b.bind(asm.Label(label))
}

func (b *builder) Emit(inst lir.Instruction, next lir.Label) {
	switch i := inst.(type) {
	case *backend.Move:
		b.move(i.Dst, i.Src)
	case *backend.Op:
		dispatch(b, i)
	case *backend.DivRem:
		b.divRem(i.Op, i.Quotient, i.Remainder, i.X, i.Y, i.State)
	case *backend.Load:
		b.load(i.K, i.Dst, i.Address(), i.State)
	case *backend.Store:
		b.store(i.K, i.Address(), i.Value, i.State)
	case *backend.NullCheck:
		b.nullCheck(i.Address(), i.State)
	case *backend.CompareBranch:
		b.compareBranch(i, next)
	case *backend.TestBranch:
		b.test(i.X, i.Y)
		b.branch(amd64.ConditionCode(i.Cond, false), asm.Label(i.True), asm.Label(i.False), asm.Label(next))
	case *backend.CondMove:
		b.condMove(i)
	case *backend.Switch:
		b.strategySwitch(i)
	case *backend.Jump:
		if i.Target != next {
			b.emit(amd64.Jmp(asm.Label(i.Target)))
		}
	case *backend.Membar:
		b.membar(i.Barriers)
	case *backend.Call:
		b.call(i.Linkage, i.State, nil)
	case *backend.Deoptimize:
		b.deoptimize(i)
	case *backend.Return:
		b.ret()
	default:
		panic(lir.ShouldNotReachHere("amd64: no encoding for %s", lir.Format(inst)))
	}
}

// width is the operand size of a kind in bytes.
func width(k lir.Kind) int {
	switch k {
	case lir.Int32, lir.Float32:
		return 4
	}
	return 8
}

func register(v lir.Value) lir.Register {
	r, ok := v.(lir.Register)
	if !ok {
		panic(lir.ShouldNotReachHere("amd64: %s is not allocated to a register", v))
	}
	return r
}

// reg returns the general purpose register v is allocated to.
func reg(v lir.Value) asm.Register {
	r := register(v)
	if r.Class != lir.GeneralClass {
		panic(lir.ShouldNotReachHere("amd64: %s is not a general purpose register", v))
	}
	return asm.Register(r.Number)
}

// fpr returns the xmm register v is allocated to.
func fpr(v lir.Value) amd64.Xmm {
	r := register(v)
	if r.Class != lir.FloatClass {
		panic(lir.ShouldNotReachHere("amd64: %s is not an xmm register", v))
	}
	return amd64.Xmm(r.Number)
}

// operand returns v as a register operand of its kind's width.
func operand(v lir.Value) amd64.Reg {
	return amd64.RegSized(reg(v), width(v.Kind()))
}

func constant(v lir.Value) lir.Constant {
	c, ok := v.(lir.Constant)
	if !ok {
		panic(lir.ShouldNotReachHere("amd64: %s is not a constant", v))
	}
	return c
}

// immediate returns the value of an inlinable integer constant.
func immediate(v lir.Value) int64 {
	c := constant(v)
	if !policy.CanInline(c) {
		panic(lir.ShouldNotReachHere("amd64: %s does not fit an immediate", c))
	}
	if c.K == lir.Object {
		return 0
	}
	n, ok := c.AsIntegral()
	if !ok {
		panic(lir.ShouldNotReachHere("amd64: %s is not an integer immediate", c))
	}
	return n
}

// dataLoad places a constant in the data section and applies op to it.
type dataLoad struct {
	op        amd64.Mnemonic
	precision int
	dst       amd64.Xmm
	c         lir.Constant
	alignment int
}

func (d *dataLoad) Emit(ctx asm.Context) error {
	off := ctx.RecordDataReferenceInCode(d.c, d.alignment)
	return amd64.SSE(d.op, d.precision, d.dst, amd64.MemData(off)).Emit(ctx)
}

// loadFloat materializes a float constant. Positive zero is cleared with
// xorps, everything else comes from the data section.
func (b *builder) loadFloat(dst amd64.Xmm, c lir.Constant) {
	if c.Bits == 0 {
		b.emit(amd64.SSE(amd64.XORP, 4, dst, dst))
		return
	}
	b.emit(&dataLoad{op: amd64.MOVS, precision: width(c.K), dst: dst, c: c})
}

// floatOperand returns the xmm register holding v, materializing a
// constant into the scratch register.
func (b *builder) floatOperand(v lir.Value) amd64.Xmm {
	if c, ok := v.(lir.Constant); ok {
		b.loadFloat(amd64.ScratchXmm, c)
		return amd64.ScratchXmm
	}
	return fpr(v)
}

// signMask applies op with the sign bit of a kind, or with its complement
// when invert is set. andp and xorp read eight bytes, so the mask is
// always placed as a double.
func (b *builder) signMask(op amd64.Mnemonic, dst amd64.Xmm, k lir.Kind, invert bool) {
	bits := uint64(1) << (k.Bits() - 1)
	if invert {
		bits = ^bits
		if k == lir.Float32 {
			bits &= 0xffffffff
		}
	}
	c := lir.ConstantFromBits(lir.Float64, bits)
	b.emit(&dataLoad{op: op, precision: width(k), dst: dst, c: c, alignment: 16})
}

// loadConstant materializes an integer or object constant into r.
func (b *builder) loadConstant(r asm.Register, c lir.Constant) {
	switch {
	case c.K == lir.Int32:
		b.emit(amd64.MovImm(4, r, int64(c.AsInt())))
	case c.NeedsPatch():
		b.emit(amd64.MovRelocated(r, int64(c.Bits)))
	case c.Bits == 0:
		b.emit(amd64.Binary(amd64.XOR, 4, amd64.Reg32(r), amd64.Reg32(r)))
	default:
		b.emit(amd64.MovImm(8, r, int64(c.Bits)))
	}
}

// copyTo moves v (register or constant) into the general purpose register r.
func (b *builder) copyTo(r asm.Register, v lir.Value) {
	if c, ok := v.(lir.Constant); ok {
		b.loadConstant(r, c)
		return
	}
	if src := reg(v); src != r {
		size := width(v.Kind())
		b.emit(amd64.Binary(amd64.MOV, size, amd64.RegSized(r, size), amd64.RegSized(src, size)))
	}
}

// copyFloat moves v (register or constant) into the xmm register x.
func (b *builder) copyFloat(x amd64.Xmm, v lir.Value) {
	if c, ok := v.(lir.Constant); ok {
		b.loadFloat(x, c)
		return
	}
	if src := fpr(v); src != x {
		b.emit(amd64.SSE(amd64.MOVS, width(v.Kind()), x, src))
	}
}

func (b *builder) move(dst, src lir.Value) {
	if dst.Kind().Class() != src.Kind().Class() {
		panic(lir.KindMismatch("amd64: move of %s into %s", src, dst))
	}
	if dst.Kind().IsFloat() {
		b.copyFloat(fpr(dst), src)
		return
	}
	b.copyTo(reg(dst), src)
}

// memory translates an allocated address into a memory operand.
func memory(a lir.Address) amd64.Memory {
	disp := int32(a.Displacement)
	if int64(disp) != a.Displacement {
		panic(lir.ShouldNotReachHere("amd64: displacement %#x does not fit", a.Displacement))
	}
	switch {
	case a.HasBase() && a.HasIndex():
		return amd64.MemIndex(amd64.Reg64(reg(a.Base)), amd64.Reg64(reg(a.Index)), uint8(a.Scale)).WithDisp(disp)
	case a.HasBase():
		return amd64.Mem(amd64.Reg64(reg(a.Base))).WithDisp(disp)
	case a.HasIndex():
		return amd64.MemScaled(amd64.Reg64(reg(a.Index)), uint8(a.Scale)).WithDisp(disp)
	}
	return amd64.MemAbs(disp)
}

func (b *builder) load(k lir.Kind, dst lir.Value, a lir.Address, state *lir.FrameState) {
	mem := memory(a)
	var inst *amd64.Inst
	if k.IsFloat() {
		inst = amd64.SSE(amd64.MOVS, width(k), fpr(dst), mem)
	} else {
		inst = amd64.Binary(amd64.MOV, width(k), operand(dst), mem)
	}
	inst.Trap = state
	b.emit(inst)
}

func (b *builder) store(k lir.Kind, a lir.Address, value lir.Value, state *lir.FrameState) {
	mem := memory(a)
	var inst *amd64.Inst
	switch {
	case lir.IsConstant(value):
		c := constant(value)
		imm := int64(c.Bits)
		if width(k) == 4 {
			imm = int64(int32(c.Bits))
		}
		inst = amd64.BinaryImm(amd64.MOV, width(k), mem, imm)
	case k.IsFloat():
		inst = amd64.SSE(amd64.MOVS, width(k), mem, fpr(value))
	default:
		inst = amd64.Binary(amd64.MOV, width(k), mem, operand(value))
	}
	inst.Trap = state
	b.emit(inst)
}

// nullCheck reads the address into the scratch register so a null base
// faults at a recorded site.
func (b *builder) nullCheck(a lir.Address, state *lir.FrameState) {
	inst := amd64.Binary(amd64.TEST, 8, memory(a), amd64.Reg64(amd64.ScratchRegister))
	inst.Trap = state
	b.emit(inst)
}
