package lir

import (
	"fmt"
	"math"
	"strings"
)

// Value is an operand of a LIR instruction. The set of implementations is
// closed: Variable, Register, StackSlot, Constant, Address and IllegalValue.
type Value interface {
	Kind() Kind
	String() string
	isValue()
}

// OperandForm is the coarse shape of an operand as seen by instruction
// selection.
type OperandForm uint8

const (
	NoForm OperandForm = iota
	RegisterForm
	StackForm
	ConstantForm
	AddressForm
)

func (f OperandForm) String() string {
	switch f {
	case RegisterForm:
		return "register"
	case StackForm:
		return "stack"
	case ConstantForm:
		return "constant"
	case AddressForm:
		return "address"
	}
	return "none"
}

// Classify returns the operand form of v. Variables classify as registers
// because the allocator always maps them to one before emission.
func Classify(v Value) OperandForm {
	switch v.(type) {
	case Variable, Register:
		return RegisterForm
	case StackSlot:
		return StackForm
	case Constant:
		return ConstantForm
	case Address:
		return AddressForm
	}
	return NoForm
}

type illegal struct{}

func (illegal) Kind() Kind     { return Illegal }
func (illegal) String() string { return "-" }
func (illegal) isValue()       {}

// IllegalValue marks an absent operand.
var IllegalValue Value = illegal{}

// IsLegal reports whether v is present.
func IsLegal(v Value) bool {
	return v != nil && v != IllegalValue
}

// Variable is a symbolic operand that the register allocator replaces with a
// Register or StackSlot before code emission.
type Variable struct {
	Index int
	K     Kind
}

func (v Variable) Kind() Kind     { return v.K }
func (v Variable) String() string { return fmt.Sprintf("v%d|%s", v.Index, v.K) }
func (Variable) isValue()         {}

// Register is a physical register. Number is interpreted by the architecture
// package for the register class.
type Register struct {
	Number int
	Class  RegisterClass
	K      Kind
}

func (r Register) Kind() Kind { return r.K }
func (r Register) String() string {
	prefix := "r"
	if r.Class == FloatClass {
		prefix = "f"
	}
	return fmt.Sprintf("%s%d|%s", prefix, r.Number, r.K)
}
func (Register) isValue() {}

// As returns the same physical register viewed with kind k.
func (r Register) As(k Kind) Register {
	r.K = k
	return r
}

// StackSlot is a frame slot addressed relative to the stack pointer.
type StackSlot struct {
	Offset int32
	K      Kind
}

func (s StackSlot) Kind() Kind     { return s.K }
func (s StackSlot) String() string { return fmt.Sprintf("stack:%d|%s", s.Offset, s.K) }
func (StackSlot) isValue()         {}

// Scale is the multiplier applied to an address index.
type Scale uint8

const (
	Times1 Scale = 1
	Times2 Scale = 2
	Times4 Scale = 4
	Times8 Scale = 8
)

// Address is a computed memory address: Base + Index*Scale + Displacement.
// Absent components are IllegalValue.
type Address struct {
	K            Kind
	Base         Value
	Index        Value
	Scale        Scale
	Displacement int64
}

func (a Address) Kind() Kind { return a.K }
func (Address) isValue()     {}

func (a Address) String() string {
	var parts []string
	if IsLegal(a.Base) {
		parts = append(parts, a.Base.String())
	}
	if IsLegal(a.Index) {
		parts = append(parts, fmt.Sprintf("%s*%d", a.Index, a.Scale))
	}
	if a.Displacement != 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%#x", a.Displacement))
	}
	return "[" + strings.Join(parts, " + ") + "]"
}

// HasBase and HasIndex report the presence of the register components.
func (a Address) HasBase() bool  { return IsLegal(a.Base) }
func (a Address) HasIndex() bool { return IsLegal(a.Index) }

// Constant is an immediate value. Bits holds the raw pattern: sign-extended
// for integers, IEEE-754 bits for floats, an opaque handle for objects.
type Constant struct {
	K    Kind
	Bits uint64
	// Ref marks a non-null object reference. Such constants are patched at
	// install time and can never be folded into arithmetic.
	Ref bool
}

func (c Constant) Kind() Kind { return c.K }
func (Constant) isValue()     {}

func (c Constant) String() string {
	switch c.K {
	case Int32:
		return fmt.Sprintf("int[%d]", c.AsInt())
	case Int64:
		return fmt.Sprintf("long[%d]", c.AsLong())
	case Float32:
		return fmt.Sprintf("float[%g]", c.AsFloat())
	case Float64:
		return fmt.Sprintf("double[%g]", c.AsDouble())
	case Object:
		if c.IsNull() {
			return "null"
		}
		return fmt.Sprintf("object[%#x]", c.Bits)
	}
	return "illegal"
}

func IntConstant(v int32) Constant  { return Constant{K: Int32, Bits: uint64(int64(v))} }
func LongConstant(v int64) Constant { return Constant{K: Int64, Bits: uint64(v)} }
func FloatConstant(v float32) Constant {
	return Constant{K: Float32, Bits: uint64(math.Float32bits(v))}
}
func DoubleConstant(v float64) Constant {
	return Constant{K: Float64, Bits: math.Float64bits(v)}
}
func NullConstant() Constant { return Constant{K: Object} }

// ObjectConstant is a reference to a heap object identified by handle.
func ObjectConstant(handle uint64) Constant {
	if handle == 0 {
		return NullConstant()
	}
	return Constant{K: Object, Bits: handle, Ref: true}
}

// ConstantFromBits builds a constant of kind k from a raw 64-bit pattern,
// truncating to the kind's width.
func ConstantFromBits(k Kind, bits uint64) Constant {
	switch k {
	case Int32:
		return IntConstant(int32(bits))
	case Int64:
		return LongConstant(int64(bits))
	case Float32:
		return Constant{K: Float32, Bits: bits & 0xffffffff}
	case Float64:
		return Constant{K: Float64, Bits: bits}
	case Object:
		return ObjectConstant(bits)
	}
	panic(ShouldNotReachHere("constant of kind %s", k))
}

func (c Constant) AsInt() int32      { return int32(c.Bits) }
func (c Constant) AsLong() int64     { return int64(c.Bits) }
func (c Constant) AsFloat() float32  { return math.Float32frombits(uint32(c.Bits)) }
func (c Constant) AsDouble() float64 { return math.Float64frombits(c.Bits) }
func (c Constant) IsNull() bool      { return c.K == Object && c.Bits == 0 }
func (c Constant) NeedsPatch() bool  { return c.Ref }

// IsDefaultForKind reports whether c is the all-zero value of its kind
// (0, +0.0 or null).
func (c Constant) IsDefaultForKind() bool { return c.Bits == 0 }

// AsIntegral returns the integer value of an Int32 or Int64 constant.
func (c Constant) AsIntegral() (int64, bool) {
	switch c.K {
	case Int32:
		return int64(c.AsInt()), true
	case Int64:
		return c.AsLong(), true
	}
	return 0, false
}

// IsVariable reports whether v is a symbolic allocator operand.
func IsVariable(v Value) bool {
	_, ok := v.(Variable)
	return ok
}

// IsConstant reports whether v is an immediate.
func IsConstant(v Value) bool {
	_, ok := v.(Constant)
	return ok
}

// IsAllocatable reports whether v names a register (symbolic or fixed).
func IsAllocatable(v Value) bool {
	return Classify(v) == RegisterForm
}

// AsConstant unwraps a constant operand.
func AsConstant(v Value) (Constant, bool) {
	c, ok := v.(Constant)
	return c, ok
}
