package sparc

import (
	"fmt"

	"github.com/tinyrange/lirgen/internal/asm"
)

// Integer registers in encoding order: globals, outs, locals, ins.
const (
	G0 asm.Register = iota
	G1
	G2
	G3
	G4
	G5
	G6
	G7
	O0
	O1
	O2
	O3
	O4
	O5
	O6
	O7
	L0
	L1
	L2
	L3
	L4
	L5
	L6
	L7
	I0
	I1
	I2
	I3
	I4
	I5
	I6
	I7
)

const (
	SP = O6
	FP = I6
)

// Scratch is reserved for constant materialization and address arithmetic.
const Scratch = G1

// CallTarget holds the address of far calls.
const CallTarget = G5

func RegisterName(r asm.Register) string {
	if r < G0 || r > I7 {
		return fmt.Sprintf("%%r?%d", r)
	}
	switch r {
	case SP:
		return "%sp"
	case FP:
		return "%fp"
	}
	return fmt.Sprintf("%%%c%d", "goli"[r/8], r%8)
}

// Freg is a floating point register by architectural number. Singles use
// f0-f31; doubles use even numbers.
type Freg uint8

func (f Freg) String() string { return fmt.Sprintf("%%f%d", uint8(f)) }

// field encodes f for a 5-bit register field. Doubles above f31 fold bit 5
// into bit 0.
func (f Freg) field(double bool) uint32 {
	n := uint32(f)
	if double {
		return n&0x1e | (n>>5)&1
	}
	return n & 0x1f
}

// Float argument and return registers of the V9 ABI.
const (
	FloatReturn  Freg = 0
	ScratchFloat Freg = 6
)

// SingleArgument and DoubleArgument return the register carrying the i'th
// float or double argument.
func SingleArgument(i int) Freg { return Freg(2*i + 1) }
func DoubleArgument(i int) Freg { return Freg(2 * i) }
