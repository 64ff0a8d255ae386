package amd64

import (
	"errors"

	"github.com/tinyrange/lirgen/internal/asm"
	"github.com/tinyrange/lirgen/internal/asm/amd64"
	"github.com/tinyrange/lirgen/internal/backend"
	"github.com/tinyrange/lirgen/internal/lir"
)

// code is an assembled amd64 compilation.
type code struct {
	asm *amd64.Assembly
	sig backend.Signature
}

var _ backend.Code = (*code)(nil)

func (c *code) Program() asm.Program         { return c.asm.Program }
func (c *code) Signature() backend.Signature { return c.sig }

func readRegister(m *amd64.Machine, r lir.Register) uint64 {
	if r.Class == lir.FloatClass {
		return m.Xmm[r.Number]
	}
	return m.Regs[r.Number]
}

func writeRegister(m *amd64.Machine, r lir.Register, bits uint64) {
	if r.Class == lir.FloatClass {
		m.Xmm[r.Number] = bits
		return
	}
	m.Regs[r.Number] = bits
}

// Simulate runs the code on amd64.Machine with the arguments in the System
// V registers.
func (c *code) Simulate(args []lir.Constant, stubs map[uint64]backend.Stub) (lir.Constant, error) {
	if err := backend.CheckArguments(c.sig, args); err != nil {
		return lir.Constant{}, err
	}
	m := amd64.NewMachine(c.asm)
	for i, r := range parameterRegisters(c.sig.Params) {
		writeRegister(m, r, args[i].Bits)
	}

	// The machine reports handler errors as traps; stopped keeps the
	// original so a deoptimization surfaces as itself.
	var stopped error
	for _, site := range c.asm.Calls {
		linkage := site.Linkage
		stub, ok := stubs[linkage.Address]
		if !ok {
			continue
		}
		m.Handle(linkage.Address, func(m *amd64.Machine) error {
			in := make([]lir.Constant, len(linkage.Args))
			for i, r := range parameterRegisters(linkage.Args) {
				in[i] = lir.ConstantFromBits(linkage.Args[i], readRegister(m, r))
			}
			out, err := stub(in)
			if err != nil {
				stopped = err
				return err
			}
			if linkage.Result != lir.Illegal {
				writeRegister(m, returnRegister(linkage.Result), out.Bits)
			}
			return nil
		})
	}

	if err := m.Run(); err != nil {
		if stopped != nil {
			return lir.Constant{}, stopped
		}
		var trap *amd64.Trap
		if errors.As(err, &trap) {
			return lir.Constant{}, backend.Trapped(c.asm.Program, trap.Offset, trap.Reason, err)
		}
		return lir.Constant{}, err
	}
	if c.sig.Result == lir.Illegal {
		return lir.Constant{}, nil
	}
	return lir.ConstantFromBits(c.sig.Result, readRegister(m, returnRegister(c.sig.Result))), nil
}
