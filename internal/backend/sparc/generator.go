// Package sparc generates SPARC V9 code from LIR. The generated function
// owns a register window: parameters arrive in the in registers, values
// live in locals and a few globals, and the out registers carry the
// arguments of foreign calls.
//
// Int values are not kept sign extended in their registers. Operations
// that read all 64 bits (division, conversions, popc) extend their inputs
// first; compares of ints use %icc.
package sparc

import (
	"github.com/tinyrange/lirgen/internal/asm"
	"github.com/tinyrange/lirgen/internal/asm/sparc"
	"github.com/tinyrange/lirgen/internal/backend"
	"github.com/tinyrange/lirgen/internal/lir"
	"github.com/tinyrange/lirgen/internal/regalloc"
)

func init() {
	backend.Register(lir.ArchitectureSPARC, func(opts backend.Options) backend.Generator {
		return New(opts)
	})
}

const (
	// frameSize is the minimum V9 frame: the window save area and the
	// six argument words, rounded to 16 bytes.
	frameSize = 176
	// spillOffset is the %fp relative slot that moves values between the
	// register files when VIS3 is not available.
	spillOffset = -8

	// maxIntParameters are passed in %i0-%i5.
	maxIntParameters = 6
	// maxFloatParameters stay below the allocatable float registers.
	maxFloatParameters = 4
)

var (
	poolGPRs = []asm.Register{
		sparc.L0, sparc.L1, sparc.L2, sparc.L3, sparc.L4, sparc.L5, sparc.L6, sparc.L7,
		sparc.G2, sparc.G3, sparc.G4,
	}
	// Every allocatable float register is even so it can hold a double.
	poolFregs = []sparc.Freg{8, 10, 12, 14, 16, 18, 20, 22, 24, 26, 28, 30}
)

func simm13(c lir.Constant) bool { return lir.FitsSimm(c, 13) }

var policy = lir.ConstantPolicy{
	lir.Int32: {
		Inline: simm13,
		Store:  func(c lir.Constant, _ bool) bool { return simm13(c) },
	},
	lir.Int64: {
		Inline: func(c lir.Constant) bool { return !c.NeedsPatch() && simm13(c) },
		Store:  func(c lir.Constant, _ bool) bool { return !c.NeedsPatch() && simm13(c) },
	},
	lir.Float32: {Inline: lir.Never, Store: func(c lir.Constant, _ bool) bool { return c.Bits == 0 }},
	lir.Float64: {Inline: lir.Never, Store: func(c lir.Constant, _ bool) bool { return c.Bits == 0 }},
	lir.Object: {
		Inline: func(c lir.Constant) bool { return c.IsNull() },
		Store:  func(c lir.Constant, _ bool) bool { return c.IsNull() },
	},
}

var addressRules = backend.AddressRules{
	Scales:                []lir.Scale{lir.Times1},
	DisplacementBits:      13,
	IndexWithDisplacement: false,
}

// Generator lowers into SPARC LIR.
type Generator struct {
	*backend.Base
}

var (
	_ backend.Generator = (*Generator)(nil)
	_ backend.Arch      = (*Generator)(nil)
)

func New(opts backend.Options) *Generator {
	g := &Generator{}
	g.Base = backend.NewBase(opts, g)
	return g
}

func (g *Generator) Policy() lir.ConstantPolicy { return policy }

func (g *Generator) Shapes(op lir.Op) backend.Shapes {
	e := lookup(op)
	return backend.Shapes{ConstantRight: e.rc != nil}
}

func (g *Generator) Temporaries(op lir.Op, x, y lir.Value) []lir.Kind {
	switch op {
	case lir.IRem, lir.LRem, lir.IURem, lir.LURem:
		return []lir.Kind{lir.Int64, lir.Int64}
	case lir.FAnd, lir.FXor, lir.DAnd, lir.DXor:
		return []lir.Kind{lir.Int64}
	case lir.F2I, lir.F2L, lir.D2I, lir.D2L:
		return []lir.Kind{lir.Float64}
	}
	return nil
}

func gpr(n asm.Register, k lir.Kind) lir.Register {
	return lir.Register{Number: int(n), Class: lir.GeneralClass, K: k}
}

func fpr(f sparc.Freg, k lir.Kind) lir.Register {
	return lir.Register{Number: int(f), Class: lir.FloatClass, K: k}
}

// positional assigns argument slot i to the i'th integer register from
// first, or to the float argument register of slot i. The list ends at the
// first argument that does not fit.
func positional(first asm.Register, kinds []lir.Kind) []lir.Register {
	var out []lir.Register
	for i, k := range kinds {
		switch {
		case k == lir.Float32 && i < maxFloatParameters:
			out = append(out, fpr(sparc.SingleArgument(i), k))
		case k == lir.Float64 && i < maxFloatParameters:
			out = append(out, fpr(sparc.DoubleArgument(i), k))
		case !k.IsFloat() && i < maxIntParameters:
			out = append(out, gpr(first+asm.Register(i), k))
		default:
			return out
		}
	}
	return out
}

func parameterRegisters(kinds []lir.Kind) []lir.Register { return positional(sparc.I0, kinds) }
func argumentRegisters(kinds []lir.Kind) []lir.Register  { return positional(sparc.O0, kinds) }

func returnRegister(k lir.Kind) lir.Register {
	if k.IsFloat() {
		return fpr(sparc.FloatReturn, k)
	}
	return gpr(sparc.I0, k)
}

// callResultRegister is where a callee's result appears after its
// window has been restored.
func callResultRegister(k lir.Kind) lir.Register {
	if k.IsFloat() {
		return fpr(sparc.FloatReturn, k)
	}
	return gpr(sparc.O0, k)
}

func (g *Generator) ParameterRegisters(kinds []lir.Kind) []lir.Register {
	return parameterRegisters(kinds)
}

func (g *Generator) ArgumentRegisters(kinds []lir.Kind) []lir.Register {
	return argumentRegisters(kinds)
}

func (g *Generator) ReturnRegister(k lir.Kind) lir.Register     { return returnRegister(k) }
func (g *Generator) CallResultRegister(k lir.Kind) lir.Register { return callResultRegister(k) }

func (g *Generator) EmitAddress(base lir.Value, displacement int64, index lir.Value, scale int) lir.Address {
	return g.SynthesizeAddress(addressRules, base, displacement, index, scale)
}

func (g *Generator) Registers() regalloc.Registers {
	var regs regalloc.Registers
	for _, r := range poolGPRs {
		regs.General = append(regs.General, int(r))
	}
	for _, f := range poolFregs {
		regs.Float = append(regs.Float, int(f))
	}
	return regs
}

// EmitCode assembles the allocated LIR behind a save of a fresh window.
func (g *Generator) EmitCode() (backend.Code, error) {
	b := &builder{vis3: g.Target().Has("vis3")}
	b.emit(sparc.Save(frameSize))
	backend.EmitBlocks(g.LIR(), b)

	a, err := sparc.Assemble(b.frags)
	if err != nil {
		return nil, err
	}
	return &code{asm: a, sig: g.Signature()}, nil
}
