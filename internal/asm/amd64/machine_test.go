package amd64

import (
	"errors"
	"math"
	"testing"

	"github.com/tinyrange/lirgen/internal/asm"
	"github.com/tinyrange/lirgen/internal/lir"
)

func run(t *testing.T, frag asm.Fragment, setup func(m *Machine)) (*Machine, error) {
	t.Helper()
	a, err := Assemble(frag)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	m := NewMachine(a)
	if setup != nil {
		setup(m)
	}
	return m, m.Run()
}

func TestMachineAddWraps(t *testing.T) {
	m, err := run(t, asm.Group{
		Binary(MOV, 4, Reg32(RAX), Reg32(RDI)),
		Binary(ADD, 4, Reg32(RAX), Reg32(RSI)),
		Ret(),
	}, func(m *Machine) {
		m.Regs[RDI] = math.MaxInt32
		m.Regs[RSI] = 1
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got, want := int32(m.Regs[RAX]), int32(math.MinInt32); got != want {
		t.Fatalf("eax=%d, want %d", got, want)
	}
	if m.Regs[RAX]>>32 != 0 {
		t.Fatalf("32-bit write did not clear the upper half: %#x", m.Regs[RAX])
	}
}

func TestMachineLoop(t *testing.T) {
	// Sum 1..10.
	m, err := run(t, asm.Group{
		Binary(XOR, 4, Reg32(RAX), Reg32(RAX)),
		MovImm(4, RCX, 10),
		asm.MarkLabel("loop"),
		Binary(ADD, 4, Reg32(RAX), Reg32(RCX)),
		BinaryImm(SUB, 4, Reg32(RCX), 1),
		Jcc(CondNE, "loop"),
		Ret(),
	}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got, want := m.Regs[RAX], uint64(55); got != want {
		t.Fatalf("rax=%d, want %d", got, want)
	}
}

func TestMachineDivideByZeroTraps(t *testing.T) {
	state := &lir.FrameState{Method: "div", BCI: 7}
	idiv := Unary(IDIV, 4, Reg32(RCX))
	idiv.Trap = state
	a, err := Assemble(asm.Group{
		Binary(MOV, 4, Reg32(RAX), Reg32(RDI)),
		SignExtendAccumulator(4),
		idiv,
		Ret(),
	})
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	m := NewMachine(a)
	m.Regs[RDI] = 10
	err = m.Run()

	var trap *Trap
	if !errors.As(err, &trap) {
		t.Fatalf("Run()=%v, want a trap", err)
	}
	rec, ok := a.ExceptionAt(trap.Offset)
	if !ok || rec.State != state {
		t.Fatalf("trap at %#x has no matching exception record (%v)", trap.Offset, a.Exceptions)
	}
}

func TestMachineSignedDivisionOverflowTraps(t *testing.T) {
	_, err := run(t, asm.Group{
		MovImm(8, RAX, math.MinInt64),
		MovImm(8, RCX, -1),
		SignExtendAccumulator(8),
		Unary(IDIV, 8, Reg64(RCX)),
		Ret(),
	}, nil)
	var trap *Trap
	if !errors.As(err, &trap) {
		t.Fatalf("Run()=%v, want a divide overflow trap", err)
	}
}

func TestMachineUnsignedDivide(t *testing.T) {
	m, err := run(t, asm.Group{
		MovImm(4, RAX, -7),
		Binary(XOR, 4, Reg32(RDX), Reg32(RDX)),
		MovImm(4, RCX, 2),
		Unary(DIV, 4, Reg32(RCX)),
		Ret(),
	}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got, want := uint32(m.Regs[RAX]), uint32(0xfffffff9)/2; got != want {
		t.Fatalf("eax=%#x, want %#x", got, want)
	}
	if got, want := m.Regs[RDX], uint64(1); got != want {
		t.Fatalf("edx=%d, want %d", got, want)
	}
}

func TestMachineNullPageFaults(t *testing.T) {
	_, err := run(t, asm.Group{
		Binary(MOV, 8, Reg64(RAX), Mem(Reg64(RDI)).WithDisp(8)),
		Ret(),
	}, nil)
	var trap *Trap
	if !errors.As(err, &trap) || trap.Offset != 0 {
		t.Fatalf("Run()=%v, want a fault at offset 0", err)
	}
}

func TestMachineForeignCall(t *testing.T) {
	linkage := &lir.Linkage{Name: "twice", Address: 0x7000_1000}
	a, err := Assemble(asm.Group{
		MovImm(8, ScratchRegister, int64(linkage.Address)),
		CallIndirect(ScratchRegister, linkage, nil),
		BinaryImm(ADD, 8, Reg64(RAX), 1),
		Ret(),
	})
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	m := NewMachine(a)
	m.Handle(linkage.Address, func(m *Machine) error {
		m.Regs[RAX] = m.Regs[RDI] * 2
		return nil
	})
	m.Regs[RDI] = 20
	if err := m.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got, want := m.Regs[RAX], uint64(41); got != want {
		t.Fatalf("rax=%d, want %d", got, want)
	}
	if got, want := len(a.Calls), 1; got != want {
		t.Fatalf("call sites=%d, want %d", got, want)
	}
	if a.Calls[0].Near {
		t.Fatalf("indirect call recorded as near")
	}
}

func TestMachineFloatConversion(t *testing.T) {
	m, err := run(t, asm.Group{
		dataLoad{dst: XMM1, c: lir.DoubleConstant(math.NaN())},
		FloatToInt(8, RAX, XMM1, 4),
		SSE(UCOMIS, 8, XMM1, XMM1),
		SetCC(CondP, RCX),
		Ret(),
	}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got, want := uint32(m.Regs[RAX]), uint32(0x80000000); got != want {
		t.Fatalf("cvttsd2si(NaN)=%#x, want %#x", got, want)
	}
	if got := m.Regs[RCX] & 0xff; got != 1 {
		t.Fatalf("parity after unordered compare=%d, want 1", got)
	}
}

func TestMachineSinglePrecision(t *testing.T) {
	m, err := run(t, asm.Group{
		SSE(ADDS, 4, XMM0, XMM1),
		SSE(CVTS2S, 4, XMM2, XMM0),
		Ret(),
	}, func(m *Machine) {
		m.SetFloat32(XMM0, 1.25)
		m.SetFloat32(XMM1, 2)
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got, want := m.Float32(XMM0), float32(3.25); got != want {
		t.Fatalf("addss=%v, want %v", got, want)
	}
	if got, want := m.Float64(XMM2), 3.25; got != want {
		t.Fatalf("cvtss2sd=%v, want %v", got, want)
	}
}

func TestMachineCMovZeroExtends(t *testing.T) {
	m, err := run(t, asm.Group{
		BinaryImm(CMP, 4, Reg32(RDI), 0),
		CMov(CondNE, 4, RAX, Reg32(RSI)),
		Ret(),
	}, func(m *Machine) {
		m.Regs[RAX] = 0xffff_ffff_0000_0001
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got, want := m.Regs[RAX], uint64(1); got != want {
		t.Fatalf("rax=%#x, want %#x", got, want)
	}
}
