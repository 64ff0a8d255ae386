package sparc

import (
	"fmt"

	"github.com/tinyrange/lirgen/internal/asm"
	"github.com/tinyrange/lirgen/internal/asm/sparc"
	"github.com/tinyrange/lirgen/internal/backend"
	"github.com/tinyrange/lirgen/internal/lir"
)

// builder encodes allocated LIR into SPARC instructions. Branch and call
// delay slots are filled with nop unless an emitter has a better use for
// them.
type builder struct {
	frags  asm.Group
	labels int
	vis3   bool
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
		b.divRem(i)
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
		b.branch(uint8(sparc.ConditionCode(i.Cond)), conditionCodes(i.X.Kind()), asm.Label(i.True), asm.Label(i.False), asm.Label(next))
	case *backend.CondMove:
		b.condMove(i)
	case *backend.Switch:
		b.strategySwitch(i)
	case *backend.Jump:
		if i.Target != next {
			b.jump(asm.Label(i.Target))
		}
	case *backend.Membar:
		b.emit(sparc.Membar(i.Barriers))
	case *backend.Call:
		b.call(i.Linkage, i.State, nil)
	case *backend.Deoptimize:
		b.deoptimize(i)
	case *backend.Return:
		b.emit(sparc.Ret(), sparc.Restore())
	default:
		panic(lir.ShouldNotReachHere("sparc: no encoding for %s", lir.Format(inst)))
	}
}

func register(v lir.Value) lir.Register {
	r, ok := v.(lir.Register)
	if !ok {
		panic(lir.ShouldNotReachHere("sparc: %s is not allocated to a register", v))
	}
	return r
}

func reg(v lir.Value) asm.Register {
	r := register(v)
	if r.Class != lir.GeneralClass {
		panic(lir.ShouldNotReachHere("sparc: %s is not an integer register", v))
	}
	return asm.Register(r.Number)
}

func freg(v lir.Value) sparc.Freg {
	r := register(v)
	if r.Class != lir.FloatClass {
		panic(lir.ShouldNotReachHere("sparc: %s is not a float register", v))
	}
	return sparc.Freg(r.Number)
}

func constant(v lir.Value) lir.Constant {
	c, ok := v.(lir.Constant)
	if !ok {
		panic(lir.ShouldNotReachHere("sparc: %s is not a constant", v))
	}
	return c
}

// immediate returns the value of a constant that fits simm13.
func immediate(v lir.Value) int64 {
	c := constant(v)
	if !policy.CanInline(c) {
		panic(lir.ShouldNotReachHere("sparc: %s does not fit simm13", c))
	}
	if c.K == lir.Object {
		return 0
	}
	n, _ := c.AsIntegral()
	return n
}

// value is the 64-bit register image of an integer or object constant.
func value(c lir.Constant) int64 {
	if c.K == lir.Int32 {
		return int64(c.AsInt())
	}
	return int64(c.Bits)
}

func isDouble(k lir.Kind) bool { return k == lir.Float64 }

// conditionCodes selects %icc for ints and %xcc for words.
func conditionCodes(k lir.Kind) sparc.CC {
	if k == lir.Int32 {
		return sparc.ICC
	}
	return sparc.XCC
}

// operand2 applies op with y as a register or simm13.
func operand2(op sparc.Mnemonic, rs1 asm.Register, y lir.Value, rd asm.Register) *sparc.Inst {
	if lir.IsConstant(y) {
		return sparc.ArithImm(op, rs1, immediate(y), rd)
	}
	return sparc.Arith(op, rs1, reg(y), rd)
}

func (b *builder) loadConstant(rd asm.Register, c lir.Constant) {
	b.emit(sparc.SetConst(value(c), rd))
}

// toFloat moves the low word (or all 64 bits for doubles) of rs into fd.
// Without VIS3 the value goes through the spill slot.
func (b *builder) toFloat(double bool, rs asm.Register, fd sparc.Freg) {
	switch {
	case b.vis3 && double:
		b.emit(sparc.IntToFloat(sparc.MOVXTOD, rs, fd))
	case b.vis3:
		b.emit(sparc.IntToFloat(sparc.MOVWTOS, rs, fd))
	case double:
		b.emit(
			sparc.Store(sparc.STX, rs, sparc.FP, spillOffset),
			sparc.LoadFloat(sparc.LDDF, sparc.FP, spillOffset, fd),
		)
	default:
		b.emit(
			sparc.Store(sparc.STW, rs, sparc.FP, spillOffset),
			sparc.LoadFloat(sparc.LDF, sparc.FP, spillOffset, fd),
		)
	}
}

// toInt moves fs into rd. Singles are sign extended.
func (b *builder) toInt(double bool, fs sparc.Freg, rd asm.Register) {
	switch {
	case b.vis3 && double:
		b.emit(sparc.FloatToInt(sparc.MOVDTOX, fs, rd))
	case b.vis3:
		b.emit(sparc.FloatToInt(sparc.MOVSTOSW, fs, rd))
	case double:
		b.emit(
			sparc.StoreFloat(sparc.STDF, fs, sparc.FP, spillOffset),
			sparc.Load(sparc.LDX, sparc.FP, spillOffset, rd),
		)
	default:
		b.emit(
			sparc.StoreFloat(sparc.STF, fs, sparc.FP, spillOffset),
			sparc.Load(sparc.LDSW, sparc.FP, spillOffset, rd),
		)
	}
}

// loadFloat builds the bit pattern of c in the scratch register and moves
// it across. Zero comes straight from %g0.
func (b *builder) loadFloat(fd sparc.Freg, c lir.Constant) {
	src := sparc.G0
	if c.Bits != 0 {
		src = sparc.Scratch
		bits := int64(c.Bits)
		if c.K == lir.Float32 {
			bits = int64(int32(c.Bits))
		}
		b.emit(sparc.SetConst(bits, src))
	}
	b.toFloat(isDouble(c.K), src, fd)
}

func (b *builder) fmov(k lir.Kind, fs, fd sparc.Freg) {
	if fs == fd {
		return
	}
	op := sparc.FMOVS
	if isDouble(k) {
		op = sparc.FMOVD
	}
	b.emit(sparc.FPop1(op, fs, fd))
}

func (b *builder) move(dst, src lir.Value) {
	if dst.Kind().Class() != src.Kind().Class() {
		panic(lir.KindMismatch("sparc: move of %s into %s", src, dst))
	}
	if dst.Kind().IsFloat() {
		if c, ok := src.(lir.Constant); ok {
			b.loadFloat(freg(dst), c)
			return
		}
		b.fmov(dst.Kind(), freg(src), freg(dst))
		return
	}
	rd := reg(dst)
	if c, ok := src.(lir.Constant); ok {
		b.loadConstant(rd, c)
		return
	}
	if rs := reg(src); rs != rd {
		b.emit(sparc.Mov(rs, rd))
	}
}

// addressing resolves an allocated address into base and either an index
// register or a displacement. Indexed addresses never carry a
// displacement.
func addressing(a lir.Address) (base, index asm.Register, disp int64, indexed bool) {
	base = sparc.G0
	if a.HasBase() {
		base = reg(a.Base)
	}
	if a.HasIndex() {
		if a.Displacement != 0 || a.Scale != lir.Times1 {
			panic(lir.ShouldNotReachHere("sparc: address %s is not encodable", a))
		}
		return base, reg(a.Index), 0, true
	}
	if !lir.IsSimm(a.Displacement, 13) {
		panic(lir.ShouldNotReachHere("sparc: displacement %#x does not fit", a.Displacement))
	}
	return base, sparc.G0, a.Displacement, false
}

var (
	loads  = map[lir.Kind]sparc.Mnemonic{lir.Int32: sparc.LDSW, lir.Int64: sparc.LDX, lir.Object: sparc.LDX, lir.Float32: sparc.LDF, lir.Float64: sparc.LDDF}
	stores = map[lir.Kind]sparc.Mnemonic{lir.Int32: sparc.STW, lir.Int64: sparc.STX, lir.Object: sparc.STX, lir.Float32: sparc.STF, lir.Float64: sparc.STDF}
)

// memoryOp builds a load or store. Both keep the data register in rd; float
// mnemonics take a float register number there.
func memoryOp(op sparc.Mnemonic, rd uint8, a lir.Address, state *lir.FrameState) *sparc.Inst {
	base, index, disp, indexed := addressing(a)
	var i *sparc.Inst
	if indexed {
		i = sparc.LoadIndexed(op, base, index, asm.Register(rd))
	} else {
		i = sparc.Load(op, base, disp, asm.Register(rd))
	}
	i.Trap = state
	return i
}

func (b *builder) load(k lir.Kind, dst lir.Value, a lir.Address, state *lir.FrameState) {
	var rd uint8
	if k.IsFloat() {
		rd = uint8(freg(dst))
	} else {
		rd = uint8(reg(dst))
	}
	b.emit(memoryOp(loads[k], rd, a, state))
}

// store writes value to a. Constants are stored from %g0 when zero and
// from the scratch register otherwise; float zero is stored with the
// integer store of the same width.
func (b *builder) store(k lir.Kind, a lir.Address, v lir.Value, state *lir.FrameState) {
	op := stores[k]
	var rd uint8
	switch {
	case lir.IsConstant(v):
		c := constant(v)
		if k.IsFloat() {
			op = sparc.STW
			if isDouble(k) {
				op = sparc.STX
			}
		}
		src := sparc.G0
		if c.Bits != 0 {
			src = sparc.Scratch
			b.loadConstant(src, c)
		}
		rd = uint8(src)
	case k.IsFloat():
		rd = uint8(freg(v))
	default:
		rd = uint8(reg(v))
	}
	b.emit(memoryOp(op, rd, a, state))
}

// nullCheck loads a byte into %g0 so a null base faults at a recorded
// site.
func (b *builder) nullCheck(a lir.Address, state *lir.FrameState) {
	b.emit(memoryOp(sparc.LDUB, uint8(sparc.G0), a, state))
}
