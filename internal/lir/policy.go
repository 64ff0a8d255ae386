package lir

// ConstantRule decides whether constants of one kind may appear as
// immediates.
type ConstantRule struct {
	// Inline reports whether c can be an immediate operand of an ALU or
	// compare instruction.
	Inline func(c Constant) bool
	// Store reports whether c can be stored to memory without first being
	// loaded into a register. compressed is set for narrow references.
	Store func(c Constant, compressed bool) bool
}

// ConstantPolicy is the per-architecture immediate table, keyed by kind.
// Kinds without a rule are never inlined.
type ConstantPolicy map[Kind]ConstantRule

func (p ConstantPolicy) CanInline(c Constant) bool {
	rule, ok := p[c.K]
	return ok && rule.Inline != nil && rule.Inline(c)
}

func (p ConstantPolicy) CanStore(c Constant, compressed bool) bool {
	rule, ok := p[c.K]
	return ok && rule.Store != nil && rule.Store(c, compressed)
}

// Always and Never are convenience rules.
func Always(Constant) bool { return true }
func Never(Constant) bool  { return false }

// IsInt32 reports whether v survives a round trip through int32.
func IsInt32(v int64) bool { return v == int64(int32(v)) }

// IsSimm reports whether v fits a signed immediate of the given bit width.
func IsSimm(v int64, bits uint) bool {
	limit := int64(1) << (bits - 1)
	return v >= -limit && v < limit
}

// FitsSimm reports whether an integral constant fits a signed immediate of
// the given width. Non-integral constants never fit.
func FitsSimm(c Constant, bits uint) bool {
	v, ok := c.AsIntegral()
	return ok && IsSimm(v, bits)
}

// IsPowerOfTwo reports whether v is a positive power of two.
func IsPowerOfTwo(v int64) bool { return v > 0 && v&(v-1) == 0 }

// Log2 returns the base-2 logarithm of a power of two.
func Log2(v int64) uint {
	n := uint(0)
	for v > 1 {
		v >>= 1
		n++
	}
	return n
}
