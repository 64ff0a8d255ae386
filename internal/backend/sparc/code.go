package sparc

import (
	"errors"

	"github.com/tinyrange/lirgen/internal/asm"
	"github.com/tinyrange/lirgen/internal/asm/sparc"
	"github.com/tinyrange/lirgen/internal/backend"
	"github.com/tinyrange/lirgen/internal/lir"
)

// code is an assembled SPARC compilation.
type code struct {
	asm *sparc.Assembly
	sig backend.Signature
}

var _ backend.Code = (*code)(nil)

func (c *code) Program() asm.Program         { return c.asm.Program }
func (c *code) Signature() backend.Signature { return c.sig }

// readRegister returns the bits of r; a double spans an even/odd pair with
// the high word first.
func readRegister(m *sparc.Machine, r lir.Register) uint64 {
	if r.Class != lir.FloatClass {
		return m.Reg(asm.Register(r.Number))
	}
	if r.K == lir.Float32 {
		return uint64(m.F[r.Number])
	}
	return uint64(m.F[r.Number])<<32 | uint64(m.F[r.Number+1])
}

func writeRegister(m *sparc.Machine, r lir.Register, bits uint64) {
	if r.Class != lir.FloatClass {
		m.SetReg(asm.Register(r.Number), bits)
		return
	}
	if r.K == lir.Float32 {
		m.F[r.Number] = uint32(bits)
		return
	}
	m.F[r.Number] = uint32(bits >> 32)
	m.F[r.Number+1] = uint32(bits)
}

// Simulate runs the code on sparc.Machine as a callee: the arguments are
// placed in the caller's out registers and the result is read back from
// them once the window is restored.
func (c *code) Simulate(args []lir.Constant, stubs map[uint64]backend.Stub) (lir.Constant, error) {
	if err := backend.CheckArguments(c.sig, args); err != nil {
		return lir.Constant{}, err
	}
	m := sparc.NewMachine(c.asm)
	for i, r := range argumentRegisters(c.sig.Params) {
		writeRegister(m, r, args[i].Bits)
	}

	for _, site := range c.asm.Calls {
		linkage := site.Linkage
		stub, ok := stubs[linkage.Address]
		if !ok {
			continue
		}
		m.Handle(linkage.Address, func(m *sparc.Machine) error {
			in := make([]lir.Constant, len(linkage.Args))
			for i, r := range argumentRegisters(linkage.Args) {
				in[i] = lir.ConstantFromBits(linkage.Args[i], readRegister(m, r))
			}
			out, err := stub(in)
			if err != nil {
				return err
			}
			if linkage.Result != lir.Illegal {
				writeRegister(m, callResultRegister(linkage.Result), out.Bits)
			}
			return nil
		})
	}

	if err := m.Run(); err != nil {
		var trap *sparc.Trap
		if errors.As(err, &trap) {
			return lir.Constant{}, backend.Trapped(c.asm.Program, trap.Offset, trap.Reason, err)
		}
		return lir.Constant{}, err
	}
	if c.sig.Result == lir.Illegal {
		return lir.Constant{}, nil
	}
	return lir.ConstantFromBits(c.sig.Result, readRegister(m, callResultRegister(c.sig.Result))), nil
}
