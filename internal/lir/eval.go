package lir

import (
	"math"
	"math/bits"
)

// Eval computes op on constant inputs. It is the executable form of the
// catalog's numeric contract: two's complement wrap-around, truncating signed
// division with MIN / -1 == MIN, shift counts masked to the operand width,
// IEEE-754 floating point and saturating float-to-integer conversion that
// maps NaN to zero. Integer division by zero returns ErrDivideByZero.
func Eval(op Op, args ...Constant) (Constant, error) {
	info := op.Info()
	if len(args) != len(info.Inputs) {
		panic(KindMismatch("%s takes %d operands, got %d", op, len(info.Inputs), len(args)))
	}
	for i, c := range args {
		if c.K != info.Inputs[i] {
			panic(KindMismatch("%s operand %d: got %s, want %s", op, i, c.K, info.Inputs[i]))
		}
	}
	if len(args) == 2 {
		return evalBinary(op, args[0], args[1])
	}
	return evalUnary(op, args[0]), nil
}

func evalBinary(op Op, x, y Constant) (Constant, error) {
	switch x.K {
	case Int32:
		a, b := x.AsInt(), y.AsInt()
		switch op {
		case IAdd:
			return IntConstant(a + b), nil
		case ISub:
			return IntConstant(a - b), nil
		case IMul:
			return IntConstant(a * b), nil
		case IAnd:
			return IntConstant(a & b), nil
		case IOr:
			return IntConstant(a | b), nil
		case IXor:
			return IntConstant(a ^ b), nil
		case IShl:
			return IntConstant(a << (uint32(b) & 31)), nil
		case IShr:
			return IntConstant(a >> (uint32(b) & 31)), nil
		case IUShr:
			return IntConstant(int32(uint32(a) >> (uint32(b) & 31))), nil
		}
		if b == 0 {
			return Constant{}, ErrDivideByZero
		}
		switch op {
		case IDiv:
			return IntConstant(a / b), nil
		case IRem:
			return IntConstant(a % b), nil
		case IUDiv:
			return IntConstant(int32(uint32(a) / uint32(b))), nil
		case IURem:
			return IntConstant(int32(uint32(a) % uint32(b))), nil
		}
	case Int64:
		a := x.AsLong()
		if info := op.Info(); info.Family == FamilyShift {
			n := uint32(y.AsInt()) & 63
			switch op {
			case LShl:
				return LongConstant(a << n), nil
			case LShr:
				return LongConstant(a >> n), nil
			case LUShr:
				return LongConstant(int64(uint64(a) >> n)), nil
			}
		}
		b := y.AsLong()
		switch op {
		case LAdd:
			return LongConstant(a + b), nil
		case LSub:
			return LongConstant(a - b), nil
		case LMul:
			return LongConstant(a * b), nil
		case LAnd:
			return LongConstant(a & b), nil
		case LOr:
			return LongConstant(a | b), nil
		case LXor:
			return LongConstant(a ^ b), nil
		}
		if b == 0 {
			return Constant{}, ErrDivideByZero
		}
		switch op {
		case LDiv:
			return LongConstant(a / b), nil
		case LRem:
			return LongConstant(a % b), nil
		case LUDiv:
			return LongConstant(int64(uint64(a) / uint64(b))), nil
		case LURem:
			return LongConstant(int64(uint64(a) % uint64(b))), nil
		}
	case Float32:
		a, b := x.AsFloat(), y.AsFloat()
		switch op {
		case FAdd:
			return FloatConstant(a + b), nil
		case FSub:
			return FloatConstant(a - b), nil
		case FMul:
			return FloatConstant(a * b), nil
		case FDiv:
			return FloatConstant(a / b), nil
		case FRem:
			return FloatConstant(float32(math.Mod(float64(a), float64(b)))), nil
		case FAnd:
			return ConstantFromBits(Float32, x.Bits&y.Bits), nil
		case FXor:
			return ConstantFromBits(Float32, x.Bits^y.Bits), nil
		}
	case Float64:
		a, b := x.AsDouble(), y.AsDouble()
		switch op {
		case DAdd:
			return DoubleConstant(a + b), nil
		case DSub:
			return DoubleConstant(a - b), nil
		case DMul:
			return DoubleConstant(a * b), nil
		case DDiv:
			return DoubleConstant(a / b), nil
		case DRem:
			return DoubleConstant(math.Mod(a, b)), nil
		case DAnd:
			return ConstantFromBits(Float64, x.Bits&y.Bits), nil
		case DXor:
			return ConstantFromBits(Float64, x.Bits^y.Bits), nil
		}
	}
	panic(ShouldNotReachHere("eval %s", op))
}

func evalUnary(op Op, x Constant) Constant {
	switch op {
	case INeg:
		return IntConstant(-x.AsInt())
	case LNeg:
		return LongConstant(-x.AsLong())
	case FNeg:
		return ConstantFromBits(Float32, x.Bits^0x80000000)
	case DNeg:
		return ConstantFromBits(Float64, x.Bits^(1<<63))
	case INot:
		return IntConstant(^x.AsInt())
	case LNot:
		return LongConstant(^x.AsLong())

	case I2L:
		return LongConstant(int64(x.AsInt()))
	case L2I:
		return IntConstant(int32(x.AsLong()))
	case I2B:
		return IntConstant(int32(int8(x.AsInt())))
	case I2S:
		return IntConstant(int32(int16(x.AsInt())))
	case I2C:
		return IntConstant(int32(uint16(x.AsInt())))
	case I2F:
		return FloatConstant(float32(x.AsInt()))
	case I2D:
		return DoubleConstant(float64(x.AsInt()))
	case L2F:
		return FloatConstant(float32(x.AsLong()))
	case L2D:
		return DoubleConstant(float64(x.AsLong()))
	case F2I:
		return IntConstant(int32(SaturateToInt(float64(x.AsFloat()), 32)))
	case F2L:
		return LongConstant(SaturateToInt(float64(x.AsFloat()), 64))
	case D2I:
		return IntConstant(int32(SaturateToInt(x.AsDouble(), 32)))
	case D2L:
		return LongConstant(SaturateToInt(x.AsDouble(), 64))
	case F2D:
		return DoubleConstant(float64(x.AsFloat()))
	case D2F:
		return FloatConstant(float32(x.AsDouble()))

	case MovI2F:
		return ConstantFromBits(Float32, uint64(uint32(x.AsInt())))
	case MovF2I:
		return IntConstant(int32(uint32(x.Bits)))
	case MovL2D:
		return ConstantFromBits(Float64, x.Bits)
	case MovD2L:
		return LongConstant(int64(x.Bits))

	case DAbs:
		return DoubleConstant(math.Abs(x.AsDouble()))
	case DSqrt:
		return DoubleConstant(math.Sqrt(x.AsDouble()))

	case IPopcnt:
		return IntConstant(int32(bits.OnesCount32(uint32(x.AsInt()))))
	case LPopcnt:
		return IntConstant(int32(bits.OnesCount64(x.Bits)))
	case IBsf:
		return IntConstant(int32(bits.TrailingZeros32(uint32(x.AsInt()))))
	case LBsf:
		return IntConstant(int32(bits.TrailingZeros64(x.Bits)))
	case IBsr:
		return IntConstant(int32(31 - bits.LeadingZeros32(uint32(x.AsInt()))))
	case LBsr:
		return IntConstant(int32(63 - bits.LeadingZeros64(x.Bits)))
	case IBswap:
		return IntConstant(int32(bits.ReverseBytes32(uint32(x.AsInt()))))
	case LBswap:
		return LongConstant(int64(bits.ReverseBytes64(x.Bits)))
	}
	panic(ShouldNotReachHere("eval %s", op))
}

// SaturateToInt converts v to a signed integer of the given width: NaN gives
// 0 and values outside the range clamp to the minimum or maximum.
func SaturateToInt(v float64, width int) int64 {
	if math.IsNaN(v) {
		return 0
	}
	max := int64(1)<<(width-1) - 1
	min := -max - 1
	if v >= float64(max) {
		return max
	}
	if v <= float64(min) {
		return min
	}
	return int64(v)
}
