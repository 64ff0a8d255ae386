package lir

import "fmt"

// Op is an operation tag of the instruction catalog.
type Op uint16

const (
	OpInvalid Op = iota

	IAdd
	ISub
	IMul
	IDiv
	IRem
	IUDiv
	IURem
	IAnd
	IOr
	IXor
	IShl
	IShr
	IUShr

	LAdd
	LSub
	LMul
	LDiv
	LRem
	LUDiv
	LURem
	LAnd
	LOr
	LXor
	LShl
	LShr
	LUShr

	FAdd
	FSub
	FMul
	FDiv
	FRem
	FAnd
	FXor

	DAdd
	DSub
	DMul
	DDiv
	DRem
	DAnd
	DXor

	INeg
	LNeg
	FNeg
	DNeg
	INot
	LNot

	I2L
	L2I
	I2B
	I2S
	I2C
	I2F
	I2D
	L2F
	L2D
	F2I
	F2L
	D2I
	D2L
	F2D
	D2F

	MovI2F
	MovF2I
	MovL2D
	MovD2L

	DAbs
	DSqrt

	IPopcnt
	LPopcnt
	IBsf
	LBsf
	IBsr
	LBsr
	IBswap
	LBswap

	opCount
)

// Family groups operations that share an emission strategy. Conversions and
// reinterprets are distinct families: a reinterpret preserves bits, a
// conversion preserves the numeric value.
type Family uint8

const (
	FamilyArithmetic Family = iota + 1
	FamilyLogic
	FamilyShift
	FamilyDivRem
	FamilyUnary
	FamilyConvert
	FamilyReinterpret
	FamilyMath
	FamilyBit
)

func (f Family) String() string {
	switch f {
	case FamilyArithmetic:
		return "arithmetic"
	case FamilyLogic:
		return "logic"
	case FamilyShift:
		return "shift"
	case FamilyDivRem:
		return "divrem"
	case FamilyUnary:
		return "unary"
	case FamilyConvert:
		return "convert"
	case FamilyReinterpret:
		return "reinterpret"
	case FamilyMath:
		return "math"
	case FamilyBit:
		return "bit"
	}
	return "invalid"
}

// OpInfo is the static description of an operation.
type OpInfo struct {
	Name        string
	Family      Family
	Inputs      []Kind
	Result      Kind
	Commutative bool
	// Traps is set for operations that fault on a zero divisor.
	Traps bool
	// Unsigned marks unsigned division and remainder.
	Unsigned bool
}

// Arity is the number of inputs.
func (i OpInfo) Arity() int { return len(i.Inputs) }

func binary(name string, fam Family, k Kind) OpInfo {
	return OpInfo{Name: name, Family: fam, Inputs: []Kind{k, k}, Result: k}
}

func commutative(info OpInfo) OpInfo {
	info.Commutative = true
	return info
}

func trapping(info OpInfo, unsigned bool) OpInfo {
	info.Traps = true
	info.Unsigned = unsigned
	return info
}

func shift(name string, k Kind) OpInfo {
	return OpInfo{Name: name, Family: FamilyShift, Inputs: []Kind{k, Int32}, Result: k}
}

func unary(name string, fam Family, from, to Kind) OpInfo {
	return OpInfo{Name: name, Family: fam, Inputs: []Kind{from}, Result: to}
}

var opTable = [opCount]OpInfo{
	IAdd:  commutative(binary("iadd", FamilyArithmetic, Int32)),
	ISub:  binary("isub", FamilyArithmetic, Int32),
	IMul:  commutative(binary("imul", FamilyArithmetic, Int32)),
	IDiv:  trapping(binary("idiv", FamilyDivRem, Int32), false),
	IRem:  trapping(binary("irem", FamilyDivRem, Int32), false),
	IUDiv: trapping(binary("iudiv", FamilyDivRem, Int32), true),
	IURem: trapping(binary("iurem", FamilyDivRem, Int32), true),
	IAnd:  commutative(binary("iand", FamilyLogic, Int32)),
	IOr:   commutative(binary("ior", FamilyLogic, Int32)),
	IXor:  commutative(binary("ixor", FamilyLogic, Int32)),
	IShl:  shift("ishl", Int32),
	IShr:  shift("ishr", Int32),
	IUShr: shift("iushr", Int32),

	LAdd:  commutative(binary("ladd", FamilyArithmetic, Int64)),
	LSub:  binary("lsub", FamilyArithmetic, Int64),
	LMul:  commutative(binary("lmul", FamilyArithmetic, Int64)),
	LDiv:  trapping(binary("ldiv", FamilyDivRem, Int64), false),
	LRem:  trapping(binary("lrem", FamilyDivRem, Int64), false),
	LUDiv: trapping(binary("ludiv", FamilyDivRem, Int64), true),
	LURem: trapping(binary("lurem", FamilyDivRem, Int64), true),
	LAnd:  commutative(binary("land", FamilyLogic, Int64)),
	LOr:   commutative(binary("lor", FamilyLogic, Int64)),
	LXor:  commutative(binary("lxor", FamilyLogic, Int64)),
	LShl:  shift("lshl", Int64),
	LShr:  shift("lshr", Int64),
	LUShr: shift("lushr", Int64),

	FAdd: commutative(binary("fadd", FamilyArithmetic, Float32)),
	FSub: binary("fsub", FamilyArithmetic, Float32),
	FMul: commutative(binary("fmul", FamilyArithmetic, Float32)),
	FDiv: binary("fdiv", FamilyArithmetic, Float32),
	FRem: binary("frem", FamilyArithmetic, Float32),
	FAnd: commutative(binary("fand", FamilyLogic, Float32)),
	FXor: commutative(binary("fxor", FamilyLogic, Float32)),

	DAdd: commutative(binary("dadd", FamilyArithmetic, Float64)),
	DSub: binary("dsub", FamilyArithmetic, Float64),
	DMul: commutative(binary("dmul", FamilyArithmetic, Float64)),
	DDiv: binary("ddiv", FamilyArithmetic, Float64),
	DRem: binary("drem", FamilyArithmetic, Float64),
	DAnd: commutative(binary("dand", FamilyLogic, Float64)),
	DXor: commutative(binary("dxor", FamilyLogic, Float64)),

	INeg: unary("ineg", FamilyUnary, Int32, Int32),
	LNeg: unary("lneg", FamilyUnary, Int64, Int64),
	FNeg: unary("fneg", FamilyUnary, Float32, Float32),
	DNeg: unary("dneg", FamilyUnary, Float64, Float64),
	INot: unary("inot", FamilyUnary, Int32, Int32),
	LNot: unary("lnot", FamilyUnary, Int64, Int64),

	I2L: unary("i2l", FamilyConvert, Int32, Int64),
	L2I: unary("l2i", FamilyConvert, Int64, Int32),
	I2B: unary("i2b", FamilyConvert, Int32, Int32),
	I2S: unary("i2s", FamilyConvert, Int32, Int32),
	I2C: unary("i2c", FamilyConvert, Int32, Int32),
	I2F: unary("i2f", FamilyConvert, Int32, Float32),
	I2D: unary("i2d", FamilyConvert, Int32, Float64),
	L2F: unary("l2f", FamilyConvert, Int64, Float32),
	L2D: unary("l2d", FamilyConvert, Int64, Float64),
	F2I: unary("f2i", FamilyConvert, Float32, Int32),
	F2L: unary("f2l", FamilyConvert, Float32, Int64),
	D2I: unary("d2i", FamilyConvert, Float64, Int32),
	D2L: unary("d2l", FamilyConvert, Float64, Int64),
	F2D: unary("f2d", FamilyConvert, Float32, Float64),
	D2F: unary("d2f", FamilyConvert, Float64, Float32),

	MovI2F: unary("mov_i2f", FamilyReinterpret, Int32, Float32),
	MovF2I: unary("mov_f2i", FamilyReinterpret, Float32, Int32),
	MovL2D: unary("mov_l2d", FamilyReinterpret, Int64, Float64),
	MovD2L: unary("mov_d2l", FamilyReinterpret, Float64, Int64),

	DAbs:  unary("dabs", FamilyMath, Float64, Float64),
	DSqrt: unary("dsqrt", FamilyMath, Float64, Float64),

	IPopcnt: unary("ipopcnt", FamilyBit, Int32, Int32),
	LPopcnt: unary("lpopcnt", FamilyBit, Int64, Int32),
	IBsf:    unary("ibsf", FamilyBit, Int32, Int32),
	LBsf:    unary("lbsf", FamilyBit, Int64, Int32),
	IBsr:    unary("ibsr", FamilyBit, Int32, Int32),
	LBsr:    unary("lbsr", FamilyBit, Int64, Int32),
	IBswap:  unary("ibswap", FamilyBit, Int32, Int32),
	LBswap:  unary("lbswap", FamilyBit, Int64, Int64),
}

var opByName = make(map[string]Op, opCount)

func init() {
	for op := Op(1); op < opCount; op++ {
		info := opTable[op]
		if info.Name == "" || info.Family == 0 || info.Result == Illegal {
			panic(fmt.Sprintf("lir: catalog entry %d is incomplete", op))
		}
		if _, dup := opByName[info.Name]; dup {
			panic(fmt.Sprintf("lir: duplicate catalog name %q", info.Name))
		}
		opByName[info.Name] = op
	}
}

// Info returns the catalog entry for op.
func (op Op) Info() OpInfo {
	if op == OpInvalid || op >= opCount {
		panic(ShouldNotReachHere("invalid operation %d", op))
	}
	return opTable[op]
}

func (op Op) String() string {
	if op == OpInvalid || op >= opCount {
		return fmt.Sprintf("Op(%d)", uint16(op))
	}
	return opTable[op].Name
}

func (op Op) Family() Family { return op.Info().Family }

// Ops returns every catalog operation in declaration order.
func Ops() []Op {
	ops := make([]Op, 0, opCount-1)
	for op := Op(1); op < opCount; op++ {
		ops = append(ops, op)
	}
	return ops
}

// LookupOp finds an operation by catalog name.
func LookupOp(name string) (Op, bool) {
	op, ok := opByName[name]
	return op, ok
}

// CheckOperands panics with a kind mismatch when the operand kinds do not
// match the catalog entry. Object operands are accepted where Int64 is
// expected only for address arithmetic, which never goes through the catalog.
func CheckOperands(op Op, operands ...Value) {
	info := op.Info()
	if len(operands) != len(info.Inputs) {
		panic(KindMismatch("%s takes %d operands, got %d", op, len(info.Inputs), len(operands)))
	}
	for i, v := range operands {
		if v.Kind() != info.Inputs[i] {
			panic(KindMismatch("%s operand %d: got %s, want %s", op, i, v.Kind(), info.Inputs[i]))
		}
	}
}

// BinaryOperator is the kind-independent name of a binary operation.
type BinaryOperator uint8

const (
	Add BinaryOperator = iota
	Sub
	Mul
	Div
	Rem
	UDiv
	URem
	And
	Or
	Xor
	Shl
	Shr
	UShr
)

var binaryOps = [...]map[Kind]Op{
	Add:  {Int32: IAdd, Int64: LAdd, Float32: FAdd, Float64: DAdd},
	Sub:  {Int32: ISub, Int64: LSub, Float32: FSub, Float64: DSub},
	Mul:  {Int32: IMul, Int64: LMul, Float32: FMul, Float64: DMul},
	Div:  {Int32: IDiv, Int64: LDiv, Float32: FDiv, Float64: DDiv},
	Rem:  {Int32: IRem, Int64: LRem, Float32: FRem, Float64: DRem},
	UDiv: {Int32: IUDiv, Int64: LUDiv},
	URem: {Int32: IURem, Int64: LURem},
	And:  {Int32: IAnd, Int64: LAnd, Float32: FAnd, Float64: DAnd},
	Or:   {Int32: IOr, Int64: LOr},
	Xor:  {Int32: IXor, Int64: LXor, Float32: FXor, Float64: DXor},
	Shl:  {Int32: IShl, Int64: LShl},
	Shr:  {Int32: IShr, Int64: LShr},
	UShr: {Int32: IUShr, Int64: LUShr},
}

// Arith selects the catalog operation for a binary operator on kind k.
func Arith(b BinaryOperator, k Kind) Op {
	if int(b) < len(binaryOps) {
		if op, ok := binaryOps[b][k]; ok {
			return op
		}
	}
	panic(ShouldNotReachHere("missing binary operator %d for %s", b, k))
}

var negateOps = map[Kind]Op{Int32: INeg, Int64: LNeg, Float32: FNeg, Float64: DNeg}
var notOps = map[Kind]Op{Int32: INot, Int64: LNot}

// Negate selects the negation for kind k.
func Negate(k Kind) Op {
	if op, ok := negateOps[k]; ok {
		return op
	}
	panic(ShouldNotReachHere("negate %s", k))
}

// Not selects the bitwise complement for kind k.
func Not(k Kind) Op {
	if op, ok := notOps[k]; ok {
		return op
	}
	panic(ShouldNotReachHere("not %s", k))
}

// Reinterpret selects the bit-preserving move from kind `from` to `to`.
func Reinterpret(from, to Kind) Op {
	switch {
	case from == Int32 && to == Float32:
		return MovI2F
	case from == Float32 && to == Int32:
		return MovF2I
	case from == Int64 && to == Float64:
		return MovL2D
	case from == Float64 && to == Int64:
		return MovD2L
	}
	panic(KindMismatch("cannot reinterpret %s as %s", from, to))
}
