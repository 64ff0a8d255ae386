package sparc

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

// function wraps body in a windowed frame.
func function(body ...asm.Fragment) asm.Fragment {
	g := asm.Group{Save(176)}
	g = append(g, body...)
	return append(g, Ret(), Restore())
}

func TestMachineWindowedCall(t *testing.T) {
	m, err := run(t, function(
		Arith(ADD, I0, I1, I0),
	), func(m *Machine) {
		m.SetReg(O0, 40)
		m.SetReg(O1, 2)
		m.SetReg(L3, 99)
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := m.Reg(O0); got != 42 {
		t.Fatalf("%%o0 = %d, want 42", got)
	}
	if got := m.Reg(L3); got != 99 {
		t.Fatalf("restore did not bring back %%l3: %d", got)
	}
}

func TestMachineLoopWithDelaySlot(t *testing.T) {
	// Sum 1..10; the decrement sits in the delay slot.
	m, err := run(t, function(
		Mov(G0, L0),
		ArithImm(OR, G0, 10, L1),
		asm.MarkLabel("loop"),
		Arith(ADD, L0, L1, L0),
		ArithImm(SUBCC, L1, 1, L1),
		Branch(CondNE, ICC, "loop"),
		Nop(),
		Mov(L0, I0),
	), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := m.Reg(O0); got != 55 {
		t.Fatalf("sum = %d, want 55", got)
	}
}

func TestMachineAnnulledBranch(t *testing.T) {
	m, err := run(t, function(
		ArithImm(OR, G0, 1, I0),
		CmpImm(I0, 1),
		Branch(CondNE, ICC, "skip"),
		ArithImm(OR, G0, 7, I0),
		&Inst{Op: BPCC, Cond: uint8(CondE), CC: ICC, Annul: true, Label: "skip"},
		ArithImm(ADD, I0, 100, I0),
		asm.MarkLabel("skip"),
	), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// The untaken branch still runs its delay slot; the taken annulled
	// branch runs its delay slot too (only BA,a and untaken ,a annul).
	if got := m.Reg(O0); got != 107 {
		t.Fatalf("%%o0 = %d, want 107", got)
	}
}

func TestSetConst(t *testing.T) {
	values := []int64{
		0, 1, -1, 4095, -4096, 4096, 0x12345678, 0xffffffff, 0x80000000,
		-4097, math.MinInt32, -0x12345678,
		0x1_0000_0000, math.MaxInt64, math.MinInt64, -0x1234_5678_9abc,
		0x7ff8_0000_0000_0001,
	}
	for _, v := range values {
		m, err := run(t, asm.Group{
			SetConst(v, O0),
			Jmpl(O7, 8, G0),
			Nop(),
		}, nil)
		if err != nil {
			t.Fatalf("%#x: Run failed: %v", v, err)
		}
		if got := int64(m.Reg(O0)); got != v {
			t.Fatalf("SetConst(%#x) = %#x", v, got)
		}
	}
}

func TestMachineDivideByZeroTraps(t *testing.T) {
	state := &lir.FrameState{Method: "div", BCI: 3}
	div := Arith(SDIVX, I0, I1, I0)
	div.Trap = state
	a, err := Assemble(function(Nop(), div))
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	m := NewMachine(a)
	m.SetReg(O0, 10)
	err = m.Run()
	var trap *Trap
	if !errors.As(err, &trap) {
		t.Fatalf("Run error = %v, want trap", err)
	}
	if trap.Offset != 8 {
		t.Fatalf("trap offset = %#x, want 0x8", trap.Offset)
	}
	rec, ok := a.ExceptionAt(trap.Offset)
	if !ok || rec.State != state {
		t.Fatalf("no exception record for the trapping instruction")
	}
}

func TestMachineSignedDivisionOverflowWraps(t *testing.T) {
	m, err := run(t, function(Arith(SDIVX, I0, I1, I0)), func(m *Machine) {
		m.SetReg(O0, uint64(1)<<63)
		m.SetReg(O1, math.MaxUint64)
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := m.Reg(O0); got != 1<<63 {
		t.Fatalf("MIN / -1 = %#x, want MIN", got)
	}
}

func TestMachineNullPageFaults(t *testing.T) {
	_, err := run(t, function(Load(LDX, G0, 16, L0)), nil)
	var trap *Trap
	if !errors.As(err, &trap) || trap.Offset != 4 {
		t.Fatalf("Run error = %v, want trap at 0x4", err)
	}
}

func TestMachineBigEndianMemory(t *testing.T) {
	m, err := run(t, function(
		SetConst(0x0102030405060708, L0),
		ArithImm(ADD, FP, -16, L1),
		Store(STX, L0, L1, 0),
		Load(LDUB, L1, 0, L2),
		Load(LDSH, L1, 6, L3),
		Arith(ADD, L2, L3, I0),
	), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := m.Reg(O0); got != 0x01+0x0708 {
		t.Fatalf("%%o0 = %#x, want %#x", got, 0x01+0x0708)
	}
}

func TestMachineFarCall(t *testing.T) {
	stub := &lir.Linkage{Name: "twice", Address: 0x7f00_1234_5000}
	body := append(asm.Group{}, SetConst(int64(stub.Address), CallTarget)...)
	body = append(body,
		Mov(I0, O0),
		CallFar(stub, nil),
		Nop(),
		Mov(O0, I0),
	)
	a, err := Assemble(function(body...))
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	m := NewMachine(a)
	m.Handle(stub.Address, func(m *Machine) error {
		m.SetReg(O0, m.Reg(O0)*2)
		return nil
	})
	m.SetReg(O0, 21)
	if err := m.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := m.Reg(O0); got != 42 {
		t.Fatalf("%%o0 = %d, want 42", got)
	}
	if len(a.Calls) != 1 || a.Calls[0].Near {
		t.Fatalf("call sites = %+v, want one far call", a.Calls)
	}
}

func TestMachineNearCallRunsAfterDelaySlot(t *testing.T) {
	stub := &lir.Linkage{Name: "inc", Address: 0x1000}
	a, err := Assemble(function(
		CallNear(stub, nil),
		ArithImm(OR, G0, 5, O0),
		Mov(O0, I0),
	))
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	m := NewMachine(a)
	m.Handle(stub.Address, func(m *Machine) error {
		m.SetReg(O0, m.Reg(O0)+1)
		return nil
	})
	if err := m.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := m.Reg(O0); got != 6 {
		t.Fatalf("%%o0 = %d, want 6", got)
	}
}

func TestMachineDoubleToLongIdiom(t *testing.T) {
	tests := []struct {
		in   float64
		want int64
	}{
		{3.75, 3},
		{-2.5, -2},
		{math.NaN(), 0},
		{1e300, math.MaxInt64},
		{-1e300, math.MinInt64},
	}
	for _, tt := range tests {
		m, err := run(t, function(
			FCmp(FCMPD, 8, 8),
			FBranch(FCondO, "done"),
			FPop1(FDTOX, 8, 10),
			FPop1(FXTOD, 10, 10),
			FPop(FSUBD, 10, 10, 10),
			asm.MarkLabel("done"),
			FloatToInt(MOVDTOX, 10, I0),
		), func(m *Machine) {
			m.SetFloat64(8, tt.in)
		})
		if err != nil {
			t.Fatalf("%v: Run failed: %v", tt.in, err)
		}
		if got := int64(m.Reg(O0)); got != tt.want {
			t.Fatalf("d2l(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestMachineFloatCompareUnordered(t *testing.T) {
	for _, tt := range []struct {
		cond FCond
		want uint64
	}{
		{FCondL, 0},
		{FCondUL, 1},
		{FCondNE, 1},
		{FCondLG, 0},
	} {
		m, err := run(t, function(
			FCmp(FCMPS, 1, 3),
			Mov(G0, I0),
			MovCCImm(uint8(tt.cond), FCC0, 1, I0),
		), func(m *Machine) {
			m.SetFloat32(1, float32(math.NaN()))
			m.SetFloat32(3, 1)
		})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if got := m.Reg(O0); got != tt.want {
			t.Fatalf("mov%s on NaN = %d, want %d", tt.cond, got, tt.want)
		}
	}
}

func TestMachineSingleArithmetic(t *testing.T) {
	m, err := run(t, function(
		FPop(FMULS, 1, 3, 5),
		FPop1(FSTOD, 5, 0),
	), func(m *Machine) {
		m.SetFloat32(1, 1.5)
		m.SetFloat32(3, 4)
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := m.Float64(FloatReturn); got != 6 {
		t.Fatalf("%%d0 = %v, want 6", got)
	}
}
