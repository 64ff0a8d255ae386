package lir

import (
	"fmt"
	"math"
)

// Condition is a comparison predicate between a left and a right operand.
type Condition uint8

const (
	EQ Condition = iota
	NE
	LT
	LE
	GT
	GE
	// Unsigned integer conditions.
	BT
	BE
	AT
	AE
)

var conditionNames = [...]string{
	EQ: "==", NE: "!=", LT: "<", LE: "<=", GT: ">", GE: ">=",
	BT: "|<|", BE: "|<=|", AT: "|>|", AE: "|>=|",
}

func (c Condition) String() string {
	if int(c) < len(conditionNames) {
		return conditionNames[c]
	}
	return fmt.Sprintf("Condition(%d)", uint8(c))
}

// ParseCondition accepts both operator spellings and mnemonic names.
func ParseCondition(s string) (Condition, error) {
	for c, name := range conditionNames {
		if name == s {
			return Condition(c), nil
		}
	}
	switch s {
	case "eq", "EQ":
		return EQ, nil
	case "ne", "NE":
		return NE, nil
	case "lt", "LT":
		return LT, nil
	case "le", "LE":
		return LE, nil
	case "gt", "GT":
		return GT, nil
	case "ge", "GE":
		return GE, nil
	case "bt", "BT":
		return BT, nil
	case "be", "BE":
		return BE, nil
	case "at", "AT":
		return AT, nil
	case "ae", "AE":
		return AE, nil
	}
	return 0, fmt.Errorf("lir: unknown condition %q", s)
}

var (
	mirrored = [...]Condition{EQ: EQ, NE: NE, LT: GT, LE: GE, GT: LT, GE: LE, BT: AT, BE: AE, AT: BT, AE: BE}
	negated  = [...]Condition{EQ: NE, NE: EQ, LT: GE, LE: GT, GT: LE, GE: LT, BT: AE, BE: AT, AT: BE, AE: BT}
)

// Mirror returns the condition that holds for (y, x) whenever c holds for
// (x, y).
func (c Condition) Mirror() Condition { return mirrored[c] }

// Negate returns the condition that holds exactly when c does not.
func (c Condition) Negate() Condition { return negated[c] }

func (c Condition) IsUnsigned() bool { return c >= BT }

// Fold evaluates the condition on two constants of the same kind. For
// floating point operands unorderedIsTrue decides the outcome when either
// side is NaN.
func (c Condition) Fold(x, y Constant, unorderedIsTrue bool) bool {
	if x.K != y.K {
		panic(KindMismatch("fold %s on %s and %s", c, x.K, y.K))
	}
	switch x.K {
	case Int32:
		if c.IsUnsigned() {
			return c.foldUnsigned(uint64(uint32(x.Bits)), uint64(uint32(y.Bits)))
		}
		return c.foldSigned(int64(x.AsInt()), int64(y.AsInt()))
	case Int64:
		if c.IsUnsigned() {
			return c.foldUnsigned(x.Bits, y.Bits)
		}
		return c.foldSigned(x.AsLong(), y.AsLong())
	case Object:
		switch c {
		case EQ:
			return x.Bits == y.Bits
		case NE:
			return x.Bits != y.Bits
		}
	case Float32:
		return c.foldFloat(float64(x.AsFloat()), float64(y.AsFloat()), unorderedIsTrue)
	case Float64:
		return c.foldFloat(x.AsDouble(), y.AsDouble(), unorderedIsTrue)
	}
	panic(ShouldNotReachHere("fold %s on %s", c, x.K))
}

func (c Condition) foldSigned(x, y int64) bool {
	switch c {
	case EQ:
		return x == y
	case NE:
		return x != y
	case LT:
		return x < y
	case LE:
		return x <= y
	case GT:
		return x > y
	case GE:
		return x >= y
	}
	return c.foldUnsigned(uint64(x), uint64(y))
}

func (c Condition) foldUnsigned(x, y uint64) bool {
	switch c {
	case EQ:
		return x == y
	case NE:
		return x != y
	case BT, LT:
		return x < y
	case BE, LE:
		return x <= y
	case AT, GT:
		return x > y
	case AE, GE:
		return x >= y
	}
	panic(ShouldNotReachHere("condition %d", c))
}

func (c Condition) foldFloat(x, y float64, unorderedIsTrue bool) bool {
	if math.IsNaN(x) || math.IsNaN(y) {
		return unorderedIsTrue
	}
	switch c {
	case EQ:
		return x == y
	case NE:
		return x != y
	case LT:
		return x < y
	case LE:
		return x <= y
	case GT:
		return x > y
	case GE:
		return x >= y
	}
	panic(Unsupported("unsigned condition %s on floating point", c))
}
