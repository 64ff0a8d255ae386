// Package amd64 generates x86-64 code from LIR. Integer operations use the
// two-address forms of the instruction set: the left operand is copied into
// the result register and combined with the right operand in place.
package amd64

import (
	"github.com/tinyrange/lirgen/internal/asm"
	"github.com/tinyrange/lirgen/internal/asm/amd64"
	"github.com/tinyrange/lirgen/internal/backend"
	"github.com/tinyrange/lirgen/internal/lir"
	"github.com/tinyrange/lirgen/internal/regalloc"
)

func init() {
	backend.Register(lir.ArchitectureAMD64, func(opts backend.Options) backend.Generator {
		return New(opts)
	})
}

var (
	parameterGPRs = []asm.Register{amd64.RDI, amd64.RSI, amd64.RDX, amd64.RCX, amd64.R8, amd64.R9}
	parameterXmms = []amd64.Xmm{amd64.XMM0, amd64.XMM1, amd64.XMM2, amd64.XMM3, amd64.XMM4, amd64.XMM5, amd64.XMM6, amd64.XMM7}

	// Allocatable registers. RAX and RDX belong to division, RCX to shifts
	// and the parameter registers are never handed out.
	poolGPRs = []asm.Register{amd64.RBX, amd64.R10, amd64.R12, amd64.R13, amd64.R14, amd64.R15}
	poolXmms = []amd64.Xmm{amd64.XMM8, amd64.XMM9, amd64.XMM10, amd64.XMM11, amd64.XMM12, amd64.XMM13, amd64.XMM14}

	// calleeSaved is pushed by the prologue in this order.
	calleeSaved = []asm.Register{amd64.RBX, amd64.R12, amd64.R13, amd64.R14, amd64.R15}
)

var policy = lir.ConstantPolicy{
	lir.Int32: {Inline: lir.Always, Store: func(lir.Constant, bool) bool { return true }},
	lir.Int64: {
		Inline: func(c lir.Constant) bool { return !c.NeedsPatch() && lir.IsInt32(c.AsLong()) },
		Store: func(c lir.Constant, _ bool) bool {
			return !c.NeedsPatch() && lir.IsInt32(c.AsLong())
		},
	},
	lir.Float32: {Inline: lir.Always, Store: func(lir.Constant, bool) bool { return true }},
	lir.Float64: {Inline: lir.Always, Store: func(lir.Constant, bool) bool { return false }},
	lir.Object: {
		Inline: func(c lir.Constant) bool { return c.IsNull() },
		Store: func(c lir.Constant, compressed bool) bool {
			return compressed || c.IsNull()
		},
	},
}

var addressRules = backend.AddressRules{
	Scales:                []lir.Scale{lir.Times1, lir.Times2, lir.Times4, lir.Times8},
	DisplacementBits:      32,
	IndexWithDisplacement: true,
}

// Generator lowers into amd64 LIR.
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
	if (op == lir.IPopcnt || op == lir.LPopcnt) && !g.Target().Has("popcnt") {
		panic(lir.Unsupported("%s needs the popcnt feature", op))
	}
	return backend.Shapes{ConstantLeft: e.cr != nil, ConstantRight: e.rc != nil}
}

// Temporaries is empty: sequences that need scratch space use the reserved
// registers.
func (g *Generator) Temporaries(lir.Op, lir.Value, lir.Value) []lir.Kind { return nil }

func gpr(n asm.Register, k lir.Kind) lir.Register {
	return lir.Register{Number: int(n), Class: lir.GeneralClass, K: k}
}

func xmm(n amd64.Xmm, k lir.Kind) lir.Register {
	return lir.Register{Number: int(n), Class: lir.FloatClass, K: k}
}

// parameterRegisters follows the System V convention: integers and floats
// are counted separately.
func parameterRegisters(kinds []lir.Kind) []lir.Register {
	var out []lir.Register
	ints, floats := 0, 0
	for _, k := range kinds {
		if k.IsFloat() {
			if floats == len(parameterXmms) {
				break
			}
			out = append(out, xmm(parameterXmms[floats], k))
			floats++
			continue
		}
		if ints == len(parameterGPRs) {
			break
		}
		out = append(out, gpr(parameterGPRs[ints], k))
		ints++
	}
	return out
}

func returnRegister(k lir.Kind) lir.Register {
	if k.IsFloat() {
		return xmm(amd64.XMM0, k)
	}
	return gpr(amd64.RAX, k)
}

func (g *Generator) ParameterRegisters(kinds []lir.Kind) []lir.Register {
	return parameterRegisters(kinds)
}

// ArgumentRegisters of a foreign call are the parameter registers of the
// callee.
func (g *Generator) ArgumentRegisters(kinds []lir.Kind) []lir.Register {
	return parameterRegisters(kinds)
}

func (g *Generator) ReturnRegister(k lir.Kind) lir.Register     { return returnRegister(k) }
func (g *Generator) CallResultRegister(k lir.Kind) lir.Register { return returnRegister(k) }

func (g *Generator) EmitAddress(base lir.Value, displacement int64, index lir.Value, scale int) lir.Address {
	return g.SynthesizeAddress(addressRules, base, displacement, index, scale)
}

func (g *Generator) Registers() regalloc.Registers {
	var regs regalloc.Registers
	for _, r := range poolGPRs {
		regs.General = append(regs.General, int(r))
	}
	for _, x := range poolXmms {
		regs.Float = append(regs.Float, int(x))
	}
	return regs
}

// EmitCode assembles the allocated LIR behind a prologue that saves the
// callee-saved registers. Every return restores them.
func (g *Generator) EmitCode() (backend.Code, error) {
	b := &builder{}
	for _, r := range calleeSaved {
		b.emit(amd64.Push(r))
	}
	backend.EmitBlocks(g.LIR(), b)

	a, err := amd64.Assemble(b.frags)
	if err != nil {
		return nil, err
	}
	return &code{asm: a, sig: g.Signature()}, nil
}
