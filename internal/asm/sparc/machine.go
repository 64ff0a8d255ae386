package sparc

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/tinyrange/lirgen/internal/asm"
	"github.com/tinyrange/lirgen/internal/lir"
)

// Trap is a hardware exception raised while simulating.
type Trap struct {
	Offset int
	Reason string
}

func (t *Trap) Error() string {
	return fmt.Sprintf("sparc: trap at %#x: %s", t.Offset, t.Reason)
}

// ForeignCall implements a call target outside the program. Arguments are
// in %o0-%o5 (or the float argument registers); the result goes in %o0 or
// %f0.
type ForeignCall func(m *Machine) error

const (
	// StackTop is the initial %sp of a simulated run.
	StackTop uint64 = 0x7fff_0000
	// Addresses below GuardLimit fault like an unmapped zero page.
	GuardLimit uint64 = 4096
	// ReturnAddress is the initial %o7; returning to it ends the run.
	ReturnAddress uint64 = 0xdead_0000

	defaultMaxSteps = 1 << 20

	halted = -1
)

type window struct {
	locals, ins [8]uint64
}

// Machine executes an Assembly with delay slots and register windows.
type Machine struct {
	asm *Assembly

	regs    [32]uint64
	windows []window

	// F is the floating point file as 32-bit words; a double occupies an
	// even/odd pair with the high word first.
	F [64]uint32

	icc, xcc flags
	fcc      uint8

	mem      map[uint64]byte
	calls    map[int]*lir.Linkage
	handlers map[uint64]ForeignCall

	deferred   ForeignCall
	deferredAt int

	MaxSteps int
	Steps    int
}

type flags struct{ n, z, v, c bool }

// fcc values.
const (
	fccEqual uint8 = iota
	fccLess
	fccGreater
	fccUnordered
)

func NewMachine(a *Assembly) *Machine {
	m := &Machine{
		asm:      a,
		mem:      make(map[uint64]byte),
		calls:    make(map[int]*lir.Linkage),
		handlers: make(map[uint64]ForeignCall),
		MaxSteps: defaultMaxSteps,
	}
	for _, c := range a.Calls {
		m.calls[c.Offset] = c.Linkage
	}
	m.regs[SP] = StackTop
	m.regs[O7] = ReturnAddress
	return m
}

func (m *Machine) Handle(address uint64, fn ForeignCall) {
	m.handlers[address] = fn
}

func (m *Machine) Reg(r asm.Register) uint64 { return m.regs[r] }

func (m *Machine) SetReg(r asm.Register, v uint64) {
	if r != G0 {
		m.regs[r] = v
	}
}

func (m *Machine) single(f uint8) uint32 { return m.F[f] }

func (m *Machine) double(f uint8) uint64 {
	return uint64(m.F[f])<<32 | uint64(m.F[f+1])
}

func (m *Machine) setSingle(f uint8, v uint32) { m.F[f] = v }

func (m *Machine) setDouble(f uint8, v uint64) {
	m.F[f] = uint32(v >> 32)
	m.F[f+1] = uint32(v)
}

func (m *Machine) SetFloat32(f Freg, v float32) { m.setSingle(uint8(f), math.Float32bits(v)) }
func (m *Machine) SetFloat64(f Freg, v float64) { m.setDouble(uint8(f), math.Float64bits(v)) }

func (m *Machine) Float32(f Freg) float32 { return math.Float32frombits(m.single(uint8(f))) }
func (m *Machine) Float64(f Freg) float64 { return math.Float64frombits(m.double(uint8(f))) }

// Load reads size bytes big endian from simulated memory.
func (m *Machine) Load(addr uint64, size int) (uint64, error) {
	if addr < GuardLimit {
		return 0, fmt.Errorf("load from %#x", addr)
	}
	var v uint64
	for i := 0; i < size; i++ {
		v = v<<8 | uint64(m.mem[addr+uint64(i)])
	}
	return v, nil
}

// Store writes size bytes big endian into simulated memory.
func (m *Machine) Store(addr uint64, size int, v uint64) error {
	if addr < GuardLimit {
		return fmt.Errorf("store to %#x", addr)
	}
	for i := 0; i < size; i++ {
		m.mem[addr+uint64(i)] = byte(v >> (8 * (size - 1 - i)))
	}
	return nil
}

// Run executes from offset zero until control returns to ReturnAddress.
func (m *Machine) Run() error {
	return m.RunFrom(0)
}

func (m *Machine) RunFrom(offset int) error {
	pc, ok := m.asm.At(offset)
	if !ok {
		return fmt.Errorf("sparc: no instruction at %#x", offset)
	}
	npc := pc + 1
	for {
		if m.deferred != nil && pc == m.deferredAt {
			fn := m.deferred
			m.deferred = nil
			if err := fn(m); err != nil {
				return err
			}
		}
		if pc == halted {
			return nil
		}
		if pc < 0 || pc >= len(m.asm.Insts) {
			return fmt.Errorf("sparc: fell off the end of the code")
		}
		if m.Steps >= m.MaxSteps {
			return fmt.Errorf("sparc: step limit %d exceeded", m.MaxSteps)
		}
		m.Steps++
		placed := m.asm.Insts[pc]
		nextPC, nextNPC, err := m.step(pc, npc, placed)
		if err != nil {
			if t, ok := err.(*Trap); ok {
				return t
			}
			return &Trap{Offset: placed.Offset, Reason: err.Error()}
		}
		pc, npc = nextPC, nextNPC
	}
}

func (m *Machine) operand2(i *Inst) uint64 {
	if i.HasImm {
		return uint64(i.Imm)
	}
	return m.regs[i.Rs2]
}

func subFlags(a, b uint64) (icc, xcc flags) {
	r := a - b
	xcc = flags{
		n: int64(r) < 0,
		z: r == 0,
		v: int64((a^b)&(a^r)) < 0,
		c: a < b,
	}
	a32, b32 := uint32(a), uint32(b)
	r32 := a32 - b32
	icc = flags{
		n: int32(r32) < 0,
		z: r32 == 0,
		v: int32((a32^b32)&(a32^r32)) < 0,
		c: a32 < b32,
	}
	return icc, xcc
}

func addFlags(a, b uint64) (icc, xcc flags) {
	r, carry := bits.Add64(a, b, 0)
	xcc = flags{
		n: int64(r) < 0,
		z: r == 0,
		v: int64(^(a^b)&(a^r)) < 0,
		c: carry != 0,
	}
	a32, b32 := uint32(a), uint32(b)
	r32, carry32 := bits.Add32(a32, b32, 0)
	icc = flags{
		n: int32(r32) < 0,
		z: r32 == 0,
		v: int32(^(a32^b32)&(a32^r32)) < 0,
		c: carry32 != 0,
	}
	return icc, xcc
}

func logicFlags(r uint64) (icc, xcc flags) {
	return flags{n: int32(r) < 0, z: uint32(r) == 0}, flags{n: int64(r) < 0, z: r == 0}
}

func (f flags) holds(c Cond) bool {
	switch c {
	case CondA:
		return true
	case CondNever:
		return false
	case CondNE:
		return !f.z
	case CondE:
		return f.z
	case CondG:
		return !(f.z || f.n != f.v)
	case CondLE:
		return f.z || f.n != f.v
	case CondGE:
		return f.n == f.v
	case CondL:
		return f.n != f.v
	case CondGU:
		return !(f.c || f.z)
	case CondLEU:
		return f.c || f.z
	case CondCC:
		return !f.c
	case CondCS:
		return f.c
	case CondPos:
		return !f.n
	case CondNeg:
		return f.n
	case CondVC:
		return !f.v
	case CondVS:
		return f.v
	}
	return false
}

// fcondSets lists which fcc outcomes satisfy each condition as a bit set
// indexed by fcc value.
var fcondSets = [16]uint8{
	FCondNever: 0,
	FCondNE:    1<<fccLess | 1<<fccGreater | 1<<fccUnordered,
	FCondLG:    1<<fccLess | 1<<fccGreater,
	FCondUL:    1<<fccUnordered | 1<<fccLess,
	FCondL:     1 << fccLess,
	FCondUG:    1<<fccUnordered | 1<<fccGreater,
	FCondG:     1 << fccGreater,
	FCondU:     1 << fccUnordered,
	FCondA:     0xf,
	FCondE:     1 << fccEqual,
	FCondUE:    1<<fccUnordered | 1<<fccEqual,
	FCondGE:    1<<fccGreater | 1<<fccEqual,
	FCondUGE:   1<<fccUnordered | 1<<fccGreater | 1<<fccEqual,
	FCondLE:    1<<fccLess | 1<<fccEqual,
	FCondULE:   1<<fccUnordered | 1<<fccLess | 1<<fccEqual,
	FCondO:     1<<fccEqual | 1<<fccLess | 1<<fccGreater,
}

func (m *Machine) holds(cond uint8, cc CC) bool {
	switch cc {
	case ICC:
		return m.icc.holds(Cond(cond))
	case XCC:
		return m.xcc.holds(Cond(cond))
	}
	return fcondSets[cond&0xf]&(1<<m.fcc) != 0
}

func (m *Machine) target(label asm.Label) (int, error) {
	off, ok := m.asm.Labels[label]
	if !ok {
		return 0, fmt.Errorf("undefined label %q", label)
	}
	if off == len(m.asm.Insts)*InstSize {
		return len(m.asm.Insts), nil
	}
	idx, ok := m.asm.At(off)
	if !ok {
		return 0, fmt.Errorf("label %q at %#x is not an instruction boundary", label, off)
	}
	return idx, nil
}

// branch resolves a conditional transfer with its delay slot. An annulled
// branch skips the delay slot when not taken, and a BA,a always does.
func (m *Machine) branch(pc, npc int, i *Inst, taken bool) (int, int, error) {
	always := i.Cond == uint8(CondA)
	if taken {
		t, err := m.target(i.Label)
		if err != nil {
			return 0, 0, err
		}
		if always && i.Annul {
			return t, t + 1, nil
		}
		return npc, t, nil
	}
	if i.Annul {
		return npc + 1, npc + 2, nil
	}
	return npc, npc + 1, nil
}

func (m *Machine) foreign(offset int) (ForeignCall, *lir.Linkage, error) {
	linkage, ok := m.calls[offset]
	if !ok {
		return nil, nil, fmt.Errorf("call at %#x has no linkage", offset)
	}
	fn, ok := m.handlers[linkage.Address]
	if !ok {
		return nil, nil, fmt.Errorf("no handler for %s at %#x", linkage.Name, linkage.Address)
	}
	return fn, linkage, nil
}

func (m *Machine) save(rd uint8, v uint64) {
	m.windows = append(m.windows, window{
		locals: [8]uint64(m.regs[L0 : L7+1]),
		ins:    [8]uint64(m.regs[I0 : I7+1]),
	})
	copy(m.regs[I0:I7+1], m.regs[O0:O7+1])
	clear(m.regs[O0 : L7+1])
	m.SetReg(asm.Register(rd), v)
}

func (m *Machine) restore(rd uint8, v uint64) error {
	if len(m.windows) == 0 {
		return fmt.Errorf("restore without a saved window")
	}
	w := m.windows[len(m.windows)-1]
	m.windows = m.windows[:len(m.windows)-1]
	copy(m.regs[O0:O7+1], m.regs[I0:I7+1])
	copy(m.regs[L0:L7+1], w.locals[:])
	copy(m.regs[I0:I7+1], w.ins[:])
	m.SetReg(asm.Register(rd), v)
	return nil
}

func (m *Machine) step(pc, npc int, p Placed) (int, int, error) {
	i := p.Inst
	info := i.info()
	next, nextN := npc, npc+1
	a := m.regs[i.Rs1]
	b := m.operand2(i)

	set := func(v uint64) { m.SetReg(asm.Register(i.Rd), v) }

	switch i.Op {
	case NOP, MEMBAR:
	case ADD:
		set(a + b)
	case SUB:
		set(a - b)
	case AND:
		set(a & b)
	case ANDN:
		set(a &^ b)
	case OR:
		set(a | b)
	case XOR:
		set(a ^ b)
	case ADDCC:
		m.icc, m.xcc = addFlags(a, b)
		set(a + b)
	case SUBCC:
		m.icc, m.xcc = subFlags(a, b)
		set(a - b)
	case ANDCC:
		m.icc, m.xcc = logicFlags(a & b)
		set(a & b)
	case MULX:
		set(a * b)
	case SDIVX, UDIVX:
		if b == 0 {
			return 0, 0, &Trap{Offset: p.Offset, Reason: "division by zero"}
		}
		if i.Op == UDIVX {
			set(a / b)
		} else if int64(a) == math.MinInt64 && int64(b) == -1 {
			set(a)
		} else {
			set(uint64(int64(a) / int64(b)))
		}
	case SLL:
		set(a << (b & 31))
	case SRL:
		set(uint64(uint32(a)) >> (b & 31))
	case SRA:
		set(uint64(int64(int32(a)) >> (b & 31)))
	case SLLX:
		set(a << (b & 63))
	case SRLX:
		set(a >> (b & 63))
	case SRAX:
		set(uint64(int64(a) >> (b & 63)))
	case POPC:
		set(uint64(bits.OnesCount64(b)))
	case SETHI:
		set(uint64(i.Imm) << 10 & 0xffffffff)
	case MOVCC:
		if m.holds(i.Cond, i.CC) {
			set(b)
		}
	case SAVE:
		m.save(i.Rd, a+b)
	case RESTORE:
		if err := m.restore(i.Rd, a+b); err != nil {
			return 0, 0, err
		}

	case JMPL:
		dest := a + b
		set(uint64(p.Offset))
		if i.Linkage != nil {
			fn, linkage, err := m.foreign(p.Offset)
			if err != nil {
				return 0, 0, err
			}
			if dest != linkage.Address {
				return 0, 0, fmt.Errorf("far call to %#x, linkage %s is at %#x", dest, linkage.Name, linkage.Address)
			}
			m.deferred, m.deferredAt = fn, npc+1
			return npc, npc + 1, nil
		}
		if dest == ReturnAddress+8 {
			return npc, halted, nil
		}
		if dest%InstSize != 0 || dest >= uint64(len(m.asm.Insts)*InstSize) {
			return 0, 0, fmt.Errorf("jmpl to %#x", dest)
		}
		return npc, int(dest / InstSize), nil
	case CALL:
		fn, _, err := m.foreign(p.Offset)
		if err != nil {
			return 0, 0, err
		}
		m.regs[O7] = uint64(p.Offset)
		m.deferred, m.deferredAt = fn, npc+1
		return npc, npc + 1, nil

	case BPCC:
		return m.branch(pc, npc, i, m.holds(i.Cond, i.CC))
	case FBPFCC:
		return m.branch(pc, npc, i, m.holds(i.Cond, FCC0))

	case LDUB, LDSB, LDUH, LDSH, LDUW, LDSW, LDX, LDF, LDDF:
		v, err := m.Load(a+b, info.width)
		if err != nil {
			return 0, 0, err
		}
		switch {
		case i.Op == LDF:
			m.setSingle(i.Rd, uint32(v))
		case i.Op == LDDF:
			m.setDouble(i.Rd, v)
		case info.signed:
			shift := 64 - 8*uint(info.width)
			set(uint64(int64(v<<shift) >> shift))
		default:
			set(v)
		}
	case STB, STH, STW, STX:
		if err := m.Store(a+b, info.width, m.regs[i.Rd]); err != nil {
			return 0, 0, err
		}
	case STF:
		if err := m.Store(a+b, 4, uint64(m.single(i.Rd))); err != nil {
			return 0, 0, err
		}
	case STDF:
		if err := m.Store(a+b, 8, m.double(i.Rd)); err != nil {
			return 0, 0, err
		}

	default:
		if err := m.stepFloat(i); err != nil {
			return 0, 0, err
		}
	}
	return next, nextN, nil
}

func (m *Machine) readFloat(cl class, f uint8) float64 {
	if cl == single {
		return float64(math.Float32frombits(m.single(f)))
	}
	return math.Float64frombits(m.double(f))
}

func (m *Machine) writeFloat(cl class, f uint8, v float64) {
	if cl == single {
		m.setSingle(f, math.Float32bits(float32(v)))
		return
	}
	m.setDouble(f, math.Float64bits(v))
}

// convert is the fp-to-integer result with IEEE traps disabled: NaN and
// positive overflow give the largest value, negative overflow the smallest.
func convert(f float64, width int) uint64 {
	maxV := uint64(1)<<(uint(width)*8-1) - 1
	minV := uint64(1) << (uint(width)*8 - 1)
	if math.IsNaN(f) {
		return maxV
	}
	t := math.Trunc(f)
	limit := math.Ldexp(1, width*8-1)
	switch {
	case t >= limit:
		return maxV
	case t < -limit:
		return minV | ^(uint64(1)<<(uint(width)*8) - 1)
	}
	return uint64(int64(t))
}

func (m *Machine) stepFloat(i *Inst) error {
	info := i.info()
	switch i.Op {
	case FMOVS, FMOVSCC:
		if i.Op == FMOVSCC && !m.holds(i.Cond, i.CC) {
			return nil
		}
		m.setSingle(i.Rd, m.single(i.Rs2))
	case FMOVD, FMOVDCC:
		if i.Op == FMOVDCC && !m.holds(i.Cond, i.CC) {
			return nil
		}
		m.setDouble(i.Rd, m.double(i.Rs2))
	case FNEGS:
		m.setSingle(i.Rd, m.single(i.Rs2)^1<<31)
	case FNEGD:
		m.setDouble(i.Rd, m.double(i.Rs2)^1<<63)
	case FABSS:
		m.setSingle(i.Rd, m.single(i.Rs2)&^(1<<31))
	case FABSD:
		m.setDouble(i.Rd, m.double(i.Rs2)&^(1<<63))
	case FSQRTS:
		m.setSingle(i.Rd, math.Float32bits(float32(math.Sqrt(m.readFloat(single, i.Rs2)))))
	case FSQRTD:
		m.writeFloat(double, i.Rd, math.Sqrt(m.readFloat(double, i.Rs2)))
	case FADDS, FSUBS, FMULS, FDIVS:
		x := math.Float32frombits(m.single(i.Rs1))
		y := math.Float32frombits(m.single(i.Rs2))
		var r float32
		switch i.Op {
		case FADDS:
			r = x + y
		case FSUBS:
			r = x - y
		case FMULS:
			r = x * y
		case FDIVS:
			r = x / y
		}
		m.setSingle(i.Rd, math.Float32bits(r))
	case FADDD, FSUBD, FMULD, FDIVD:
		x := m.readFloat(double, i.Rs1)
		y := m.readFloat(double, i.Rs2)
		var r float64
		switch i.Op {
		case FADDD:
			r = x + y
		case FSUBD:
			r = x - y
		case FMULD:
			r = x * y
		case FDIVD:
			r = x / y
		}
		m.writeFloat(double, i.Rd, r)
	case FSTOX, FDTOX:
		m.setDouble(i.Rd, convert(m.readFloat(info.rs2, i.Rs2), 8))
	case FSTOI, FDTOI:
		m.setSingle(i.Rd, uint32(convert(m.readFloat(info.rs2, i.Rs2), 4)))
	case FXTOS, FXTOD:
		m.writeFloat(info.rd, i.Rd, float64(int64(m.double(i.Rs2))))
	case FITOS, FITOD:
		m.writeFloat(info.rd, i.Rd, float64(int32(m.single(i.Rs2))))
	case FSTOD, FDTOS:
		m.writeFloat(info.rd, i.Rd, m.readFloat(info.rs2, i.Rs2))
	case FCMPS, FCMPD:
		x := m.readFloat(info.rs1, i.Rs1)
		y := m.readFloat(info.rs2, i.Rs2)
		switch {
		case math.IsNaN(x) || math.IsNaN(y):
			m.fcc = fccUnordered
		case x < y:
			m.fcc = fccLess
		case x > y:
			m.fcc = fccGreater
		default:
			m.fcc = fccEqual
		}
	case MOVDTOX:
		m.SetReg(asm.Register(i.Rd), m.double(i.Rs2))
	case MOVSTOUW:
		m.SetReg(asm.Register(i.Rd), uint64(m.single(i.Rs2)))
	case MOVSTOSW:
		m.SetReg(asm.Register(i.Rd), uint64(int64(int32(m.single(i.Rs2)))))
	case MOVXTOD:
		m.setDouble(i.Rd, m.regs[i.Rs2])
	case MOVWTOS:
		m.setSingle(i.Rd, uint32(m.regs[i.Rs2]))
	default:
		return fmt.Errorf("unsupported instruction %s", i)
	}
	return nil
}
