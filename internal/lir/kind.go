package lir

import "fmt"

// Kind is the primitive type tag of a value.
type Kind uint8

const (
	Illegal Kind = iota
	Int32
	Int64
	Float32
	Float64
	Object
)

var kindNames = [...]string{
	Illegal: "illegal",
	Int32:   "int",
	Int64:   "long",
	Float32: "float",
	Float64: "double",
	Object:  "object",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ParseKind accepts the names printed by Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s && Kind(k) != Illegal {
			return Kind(k), nil
		}
	}
	switch s {
	case "i32", "int32":
		return Int32, nil
	case "i64", "int64":
		return Int64, nil
	case "f32", "float32":
		return Float32, nil
	case "f64", "float64":
		return Float64, nil
	case "ref":
		return Object, nil
	}
	return Illegal, fmt.Errorf("lir: unknown kind %q", s)
}

// Bits returns the storage width of the kind. Objects are word sized.
func (k Kind) Bits() int {
	switch k {
	case Int32, Float32:
		return 32
	case Int64, Float64, Object:
		return 64
	}
	return 0
}

// IsNumericInteger reports whether the kind is Int32 or Int64.
func (k Kind) IsNumericInteger() bool { return k == Int32 || k == Int64 }

// IsFloat reports whether the kind lives in the floating point register file.
func (k Kind) IsFloat() bool { return k == Float32 || k == Float64 }

// IsInteger includes object references, which are manipulated with integer
// instructions.
func (k Kind) IsInteger() bool { return k == Int32 || k == Int64 || k == Object }

// RegisterClass identifies the register file a kind is allocated from.
type RegisterClass uint8

const (
	NoClass RegisterClass = iota
	GeneralClass
	FloatClass
)

func (c RegisterClass) String() string {
	switch c {
	case GeneralClass:
		return "gpr"
	case FloatClass:
		return "fpr"
	}
	return "none"
}

func (k Kind) Class() RegisterClass {
	switch {
	case k.IsInteger():
		return GeneralClass
	case k.IsFloat():
		return FloatClass
	}
	return NoClass
}
