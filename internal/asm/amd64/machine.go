package amd64

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
	return fmt.Sprintf("amd64: trap at %#x: %s", t.Offset, t.Reason)
}

// ForeignCall implements a call target outside the program. It reads its
// arguments from the machine registers and leaves the result in RAX or XMM0.
type ForeignCall func(m *Machine) error

const (
	// StackTop is the initial RSP of a simulated run.
	StackTop uint64 = 0x7fff_0000
	// Addresses below GuardLimit fault like an unmapped zero page.
	GuardLimit uint64 = 4096

	defaultMaxSteps = 1 << 20
)

// Machine executes an Assembly instruction by instruction. It models the
// integer and SSE subset that the backend emits.
type Machine struct {
	asm *Assembly

	Regs [16]uint64
	Xmm  [16]uint64

	zf, sf, cf, of, pf bool

	mem      map[uint64]byte
	data     []byte
	calls    map[int]*lir.Linkage
	handlers map[uint64]ForeignCall
	returns  []int

	MaxSteps int
	Steps    int
}

func NewMachine(a *Assembly) *Machine {
	m := &Machine{
		asm:      a,
		mem:      make(map[uint64]byte),
		data:     a.Bytes(),
		calls:    make(map[int]*lir.Linkage),
		handlers: make(map[uint64]ForeignCall),
		MaxSteps: defaultMaxSteps,
	}
	for _, c := range a.Calls {
		m.calls[c.Offset] = c.Linkage
	}
	m.Regs[RSP] = StackTop
	return m
}

// Handle installs fn as the implementation of the linkage at address.
func (m *Machine) Handle(address uint64, fn ForeignCall) {
	m.handlers[address] = fn
}

// SetFloat32 and SetFloat64 place a value in the low lane of an xmm register.
func (m *Machine) SetFloat32(x Xmm, v float32) { m.Xmm[x] = uint64(math.Float32bits(v)) }
func (m *Machine) SetFloat64(x Xmm, v float64) { m.Xmm[x] = math.Float64bits(v) }

func (m *Machine) Float32(x Xmm) float32 { return math.Float32frombits(uint32(m.Xmm[x])) }
func (m *Machine) Float64(x Xmm) float64 { return math.Float64frombits(m.Xmm[x]) }

// Load reads size bytes little endian from simulated memory.
func (m *Machine) Load(addr uint64, size int) (uint64, error) {
	if addr < GuardLimit {
		return 0, fmt.Errorf("load from %#x", addr)
	}
	var v uint64
	for i := size - 1; i >= 0; i-- {
		v = v<<8 | uint64(m.mem[addr+uint64(i)])
	}
	return v, nil
}

// Store writes size bytes little endian into simulated memory.
func (m *Machine) Store(addr uint64, size int, v uint64) error {
	if addr < GuardLimit {
		return fmt.Errorf("store to %#x", addr)
	}
	for i := 0; i < size; i++ {
		m.mem[addr+uint64(i)] = byte(v >> (8 * i))
	}
	return nil
}

// Run executes from offset zero until the outermost ret.
func (m *Machine) Run() error {
	return m.RunFrom(0)
}

func (m *Machine) RunFrom(offset int) error {
	pc, ok := m.asm.At(offset)
	if !ok {
		return fmt.Errorf("amd64: no instruction at %#x", offset)
	}
	for {
		if pc >= len(m.asm.Insts) {
			return fmt.Errorf("amd64: fell off the end of the code")
		}
		if m.Steps >= m.MaxSteps {
			return fmt.Errorf("amd64: step limit %d exceeded", m.MaxSteps)
		}
		m.Steps++
		placed := m.asm.Insts[pc]
		next, halt, err := m.step(pc, placed)
		if err != nil {
			if t, ok := err.(*Trap); ok {
				return t
			}
			return &Trap{Offset: placed.Offset, Reason: err.Error()}
		}
		if halt {
			return nil
		}
		pc = next
	}
}

func mask(size int) uint64 {
	if size >= 8 {
		return math.MaxUint64
	}
	return 1<<(uint(size)*8) - 1
}

func signBit(v uint64, size int) bool {
	return v>>(uint(size)*8-1)&1 == 1
}

func signExtend(v uint64, size int) int64 {
	shift := 64 - uint(size)*8
	return int64(v<<shift) >> shift
}

func (m *Machine) address(mem Memory) uint64 {
	if mem.rip {
		return uint64(m.asm.DataBase() + mem.dataOffset)
	}
	var addr uint64
	if mem.hasBase {
		addr = m.Regs[mem.base.id]
	}
	if mem.hasIndex {
		addr += m.Regs[mem.index.id] * uint64(mem.scale)
	}
	return addr + uint64(int64(mem.disp))
}

func (m *Machine) loadMem(mem Memory, size int) (uint64, error) {
	addr := m.address(mem)
	if mem.rip {
		if int(addr)+size > len(m.data) {
			return 0, fmt.Errorf("data reference %#x out of range", addr)
		}
		var v uint64
		for i := size - 1; i >= 0; i-- {
			v = v<<8 | uint64(m.data[int(addr)+i])
		}
		return v, nil
	}
	return m.Load(addr, size)
}

func (m *Machine) read(op Operand, size int) (uint64, error) {
	switch o := op.(type) {
	case Reg:
		return m.Regs[o.id] & mask(size), nil
	case Xmm:
		return m.Xmm[o] & mask(size), nil
	case Memory:
		return m.loadMem(o, size)
	case Imm:
		return uint64(o) & mask(size), nil
	}
	return 0, fmt.Errorf("unreadable operand %v", op)
}

// writeReg follows x86 semantics: 32-bit writes zero the upper half, 8 and
// 16-bit writes merge.
func (m *Machine) writeReg(id asm.Register, size int, v uint64) {
	switch size {
	case 8:
		m.Regs[id] = v
	case 4:
		m.Regs[id] = v & math.MaxUint32
	default:
		mk := mask(size)
		m.Regs[id] = m.Regs[id]&^mk | v&mk
	}
}

func (m *Machine) write(op Operand, size int, v uint64) error {
	switch o := op.(type) {
	case Reg:
		m.writeReg(o.id, size, v)
		return nil
	case Memory:
		if o.rip {
			return fmt.Errorf("write to data section")
		}
		return m.Store(m.address(o), size, v)
	}
	return fmt.Errorf("unwritable operand %v", op)
}

// writeLane merges a scalar result into the low lane of an xmm register.
func (m *Machine) writeLane(x Xmm, precision int, v uint64) {
	mk := mask(precision)
	m.Xmm[x] = m.Xmm[x]&^mk | v&mk
}

func (m *Machine) setResultFlags(r uint64, size int) {
	m.zf = r&mask(size) == 0
	m.sf = signBit(r, size)
	m.pf = bits.OnesCount8(uint8(r))%2 == 0
}

func (m *Machine) logic(r uint64, size int) {
	m.setResultFlags(r, size)
	m.cf, m.of = false, false
}

func (m *Machine) add(a, b uint64, size int) uint64 {
	mk := mask(size)
	a, b = a&mk, b&mk
	sum, carry := bits.Add64(a, b, 0)
	r := sum & mk
	if size < 8 {
		m.cf = sum > mk
	} else {
		m.cf = carry != 0
	}
	m.of = signBit(a, size) == signBit(b, size) && signBit(r, size) != signBit(a, size)
	m.setResultFlags(r, size)
	return r
}

func (m *Machine) sub(a, b uint64, size int) uint64 {
	mk := mask(size)
	a, b = a&mk, b&mk
	r := (a - b) & mk
	m.cf = a < b
	m.of = signBit(a, size) != signBit(b, size) && signBit(r, size) != signBit(a, size)
	m.setResultFlags(r, size)
	return r
}

func (m *Machine) cond(c Cond) bool {
	switch c {
	case CondO:
		return m.of
	case CondNO:
		return !m.of
	case CondB:
		return m.cf
	case CondAE:
		return !m.cf
	case CondE:
		return m.zf
	case CondNE:
		return !m.zf
	case CondBE:
		return m.cf || m.zf
	case CondA:
		return !m.cf && !m.zf
	case CondS:
		return m.sf
	case CondNS:
		return !m.sf
	case CondP:
		return m.pf
	case CondNP:
		return !m.pf
	case CondL:
		return m.sf != m.of
	case CondGE:
		return m.sf == m.of
	case CondLE:
		return m.zf || m.sf != m.of
	case CondG:
		return !m.zf && m.sf == m.of
	}
	return false
}

func (m *Machine) jumpTarget(label asm.Label) (int, error) {
	off, ok := m.asm.Labels[label]
	if !ok {
		return 0, fmt.Errorf("undefined label %q", label)
	}
	if off == m.asm.Insts[len(m.asm.Insts)-1].Offset+m.asm.Insts[len(m.asm.Insts)-1].Size {
		return len(m.asm.Insts), nil
	}
	idx, ok := m.asm.At(off)
	if !ok {
		return 0, fmt.Errorf("label %q at %#x is not an instruction boundary", label, off)
	}
	return idx, nil
}

func (m *Machine) source(i *Inst, size int) (uint64, error) {
	if i.HasImm {
		return uint64(i.Imm) & mask(size), nil
	}
	return m.read(i.Src, size)
}

func (m *Machine) floatOf(v uint64, precision int) float64 {
	if precision == 4 {
		return float64(math.Float32frombits(uint32(v)))
	}
	return math.Float64frombits(v)
}

func bitsOf(f float64, precision int) uint64 {
	if precision == 4 {
		return uint64(math.Float32bits(float32(f)))
	}
	return math.Float64bits(f)
}

func (m *Machine) step(pc int, p Placed) (next int, halt bool, err error) {
	i := p.Inst
	size := i.Size
	next = pc + 1

	switch i.Op {
	case NOP, MFENCE:
	case MOV:
		v, err := m.source(i, size)
		if err != nil {
			return 0, false, err
		}
		if i.HasImm {
			v = uint64(i.Imm)
		}
		return next, false, m.write(i.Dst, size, v)
	case LEA:
		mem := i.Src.(Memory)
		m.writeReg(i.Dst.(Reg).id, 8, m.address(mem))
	case ADD, OR, AND, SUB, XOR, CMP:
		a, err := m.read(i.Dst, size)
		if err != nil {
			return 0, false, err
		}
		b, err := m.source(i, size)
		if err != nil {
			return 0, false, err
		}
		if i.HasImm {
			b = uint64(i.Imm) & mask(size)
		}
		var r uint64
		switch i.Op {
		case ADD:
			r = m.add(a, b, size)
		case SUB, CMP:
			r = m.sub(a, b, size)
		case AND:
			r = a & b
			m.logic(r, size)
		case OR:
			r = a | b
			m.logic(r, size)
		case XOR:
			r = a ^ b
			m.logic(r, size)
		}
		if i.Op != CMP {
			return next, false, m.write(i.Dst, size, r)
		}
	case TEST:
		a, err := m.read(i.Dst, size)
		if err != nil {
			return 0, false, err
		}
		b, err := m.source(i, size)
		if err != nil {
			return 0, false, err
		}
		m.logic(a&b, size)
	case IMUL:
		src := i.Src
		if src == nil {
			src = i.Dst
		}
		a, err := m.read(src, size)
		if err != nil {
			return 0, false, err
		}
		var b uint64
		if i.HasImm {
			b = uint64(i.Imm)
		} else {
			b = m.Regs[i.Dst.(Reg).id]
		}
		r := uint64(signExtend(a, size) * signExtend(b&mask(size), size))
		m.writeReg(i.Dst.(Reg).id, size, r)
	case NEG:
		a, err := m.read(i.Dst, size)
		if err != nil {
			return 0, false, err
		}
		r := m.sub(0, a, size)
		return next, false, m.write(i.Dst, size, r)
	case NOT:
		a, err := m.read(i.Dst, size)
		if err != nil {
			return 0, false, err
		}
		return next, false, m.write(i.Dst, size, ^a)
	case IDIV, DIV:
		return next, false, m.divide(i, p.Offset)
	case CDQ:
		sign := uint64(0)
		if signBit(m.Regs[RAX], size) {
			sign = math.MaxUint64
		}
		m.writeReg(RDX, size, sign)
	case SHL, SHR, SAR:
		a, err := m.read(i.Dst, size)
		if err != nil {
			return 0, false, err
		}
		count := m.Regs[RCX]
		if i.HasImm {
			count = uint64(i.Imm)
		}
		if size == 8 {
			count &= 63
		} else {
			count &= 31
		}
		if count == 0 {
			break
		}
		var r uint64
		switch i.Op {
		case SHL:
			r = a << count
		case SHR:
			r = (a & mask(size)) >> count
		case SAR:
			r = uint64(signExtend(a, size) >> count)
		}
		m.setResultFlags(r, size)
		return next, false, m.write(i.Dst, size, r)
	case MOVSXD:
		v, err := m.read(i.Src, 4)
		if err != nil {
			return 0, false, err
		}
		m.writeReg(i.Dst.(Reg).id, 8, uint64(signExtend(v, 4)))
	case MOVSX, MOVZX:
		v, err := m.read(i.Src, i.Width)
		if err != nil {
			return 0, false, err
		}
		if i.Op == MOVSX {
			v = uint64(signExtend(v, i.Width))
		}
		m.writeReg(i.Dst.(Reg).id, size, v)
	case CMOV:
		v, err := m.read(i.Src, size)
		if err != nil {
			return 0, false, err
		}
		id := i.Dst.(Reg).id
		if m.cond(i.Cond) {
			m.writeReg(id, size, v)
		} else {
			m.writeReg(id, size, m.Regs[id])
		}
	case SETCC:
		v := uint64(0)
		if m.cond(i.Cond) {
			v = 1
		}
		m.writeReg(i.Dst.(Reg).id, 1, v)
	case JMP:
		return m.branch(i.Label)
	case JCC:
		if m.cond(i.Cond) {
			return m.branch(i.Label)
		}
	case CALL:
		linkage, ok := m.calls[p.Offset]
		if !ok {
			return 0, false, fmt.Errorf("call at %#x has no linkage", p.Offset)
		}
		fn, ok := m.handlers[linkage.Address]
		if !ok {
			return 0, false, fmt.Errorf("no handler for %s at %#x", linkage.Name, linkage.Address)
		}
		if err := fn(m); err != nil {
			return 0, false, err
		}
	case RET:
		if len(m.returns) == 0 {
			return 0, true, nil
		}
		next = m.returns[len(m.returns)-1]
		m.returns = m.returns[:len(m.returns)-1]
	case PUSH:
		m.Regs[RSP] -= 8
		return next, false, m.Store(m.Regs[RSP], 8, m.Regs[i.Dst.(Reg).id])
	case POP:
		v, err := m.Load(m.Regs[RSP], 8)
		if err != nil {
			return 0, false, err
		}
		m.Regs[RSP] += 8
		m.Regs[i.Dst.(Reg).id] = v
	case BSWAP:
		id := i.Dst.(Reg).id
		if size == 8 {
			m.Regs[id] = bits.ReverseBytes64(m.Regs[id])
		} else {
			m.writeReg(id, 4, uint64(bits.ReverseBytes32(uint32(m.Regs[id]))))
		}
	case POPCNT, BSF, BSR:
		v, err := m.read(i.Src, size)
		if err != nil {
			return 0, false, err
		}
		id := i.Dst.(Reg).id
		m.zf = v == 0
		switch i.Op {
		case POPCNT:
			m.writeReg(id, size, uint64(bits.OnesCount64(v)))
		case BSF:
			if v != 0 {
				m.writeReg(id, size, uint64(bits.TrailingZeros64(v)))
			}
		case BSR:
			if v != 0 {
				m.writeReg(id, size, uint64(63-bits.LeadingZeros64(v)))
			}
		}
	default:
		return next, false, m.stepSSE(i)
	}
	return next, false, nil
}

func (m *Machine) branch(label asm.Label) (int, bool, error) {
	idx, err := m.jumpTarget(label)
	if err != nil {
		return 0, false, err
	}
	return idx, false, nil
}

func (m *Machine) divide(i *Inst, offset int) error {
	size := i.Size
	d, err := m.read(i.Dst, size)
	if err != nil {
		return err
	}
	if d == 0 {
		return &Trap{Offset: offset, Reason: "divide error"}
	}
	if i.Op == DIV {
		hi := m.Regs[RDX] & mask(size)
		lo := m.Regs[RAX] & mask(size)
		if size == 4 {
			n := hi<<32 | lo
			q := n / d
			if q > math.MaxUint32 {
				return &Trap{Offset: offset, Reason: "divide overflow"}
			}
			m.writeReg(RAX, 4, q)
			m.writeReg(RDX, 4, n%d)
			return nil
		}
		if hi >= d {
			return &Trap{Offset: offset, Reason: "divide overflow"}
		}
		q, r := bits.Div64(hi, lo, d)
		m.Regs[RAX], m.Regs[RDX] = q, r
		return nil
	}

	divisor := signExtend(d, size)
	dividend := signExtend(m.Regs[RAX]&mask(size), size)
	wantHigh := uint64(0)
	if dividend < 0 {
		wantHigh = mask(size)
	}
	if m.Regs[RDX]&mask(size) != wantHigh {
		return fmt.Errorf("idiv with a dividend wider than %d bytes is not modeled", size)
	}
	minValue := int64(-1) << (uint(size)*8 - 1)
	if dividend == minValue && divisor == -1 {
		return &Trap{Offset: offset, Reason: "divide overflow"}
	}
	m.writeReg(RAX, size, uint64(dividend/divisor))
	m.writeReg(RDX, size, uint64(dividend%divisor))
	return nil
}

// truncate is the cvtts*2si result: the integer indefinite value for NaN
// and out of range inputs.
func truncate(f float64, width int) uint64 {
	indefinite := uint64(1) << (uint(width)*8 - 1)
	if math.IsNaN(f) {
		return indefinite
	}
	t := math.Trunc(f)
	if width == 4 {
		if t < math.MinInt32 || t > math.MaxInt32 {
			return indefinite
		}
		return uint64(int64(t)) & math.MaxUint32
	}
	if t < -(1<<63) || t >= 1<<63 {
		return indefinite
	}
	return uint64(int64(t))
}

func (m *Machine) stepSSE(i *Inst) error {
	precision := i.Size
	switch i.Op {
	case MOVS:
		switch dst := i.Dst.(type) {
		case Memory:
			return m.write(dst, precision, m.Xmm[i.Src.(Xmm)])
		case Xmm:
			v, err := m.read(i.Src, precision)
			if err != nil {
				return err
			}
			if _, load := i.Src.(Memory); load {
				m.Xmm[dst] = v
			} else {
				m.writeLane(dst, precision, v)
			}
		}
	case ADDS, SUBS, MULS, DIVS, SQRTS:
		dst := i.Dst.(Xmm)
		bv, err := m.read(i.Src, precision)
		if err != nil {
			return err
		}
		a := m.floatOf(m.Xmm[dst], precision)
		b := m.floatOf(bv, precision)
		var r float64
		switch i.Op {
		case ADDS:
			r = a + b
		case SUBS:
			r = a - b
		case MULS:
			r = a * b
		case DIVS:
			r = a / b
		case SQRTS:
			r = math.Sqrt(b)
		}
		if precision == 4 {
			// Single precision arithmetic rounds each result to float32.
			r = float64(float32(r))
		}
		m.writeLane(dst, precision, bitsOf(r, precision))
	case ANDP, XORP:
		dst := i.Dst.(Xmm)
		b, err := m.read(i.Src, 8)
		if err != nil {
			return err
		}
		if i.Op == ANDP {
			m.Xmm[dst] &= b
		} else {
			m.Xmm[dst] ^= b
		}
	case UCOMIS:
		bv, err := m.read(i.Src, precision)
		if err != nil {
			return err
		}
		a := m.floatOf(m.Xmm[i.Dst.(Xmm)], precision)
		b := m.floatOf(bv, precision)
		m.of, m.sf = false, false
		switch {
		case math.IsNaN(a) || math.IsNaN(b):
			m.zf, m.pf, m.cf = true, true, true
		case a < b:
			m.zf, m.pf, m.cf = false, false, true
		case a == b:
			m.zf, m.pf, m.cf = true, false, false
		default:
			m.zf, m.pf, m.cf = false, false, false
		}
	case CVTSI2S:
		v, err := m.read(i.Src, i.Width)
		if err != nil {
			return err
		}
		n := signExtend(v, i.Width)
		var b uint64
		if precision == 4 {
			b = uint64(math.Float32bits(float32(n)))
		} else {
			b = math.Float64bits(float64(n))
		}
		m.writeLane(i.Dst.(Xmm), precision, b)
	case CVTTS2SI:
		v, err := m.read(i.Src, precision)
		if err != nil {
			return err
		}
		m.writeReg(i.Dst.(Reg).id, i.Width, truncate(m.floatOf(v, precision), i.Width))
	case CVTS2S:
		v, err := m.read(i.Src, precision)
		if err != nil {
			return err
		}
		f := m.floatOf(v, precision)
		if precision == 4 {
			m.writeLane(i.Dst.(Xmm), 8, math.Float64bits(f))
		} else {
			m.writeLane(i.Dst.(Xmm), 4, uint64(math.Float32bits(float32(f))))
		}
	case MOVD:
		if dst, ok := i.Dst.(Xmm); ok {
			v, err := m.read(i.Src, precision)
			if err != nil {
				return err
			}
			m.Xmm[dst] = v
			return nil
		}
		return m.write(i.Dst, precision, m.Xmm[i.Src.(Xmm)]&mask(precision))
	default:
		return fmt.Errorf("unsupported mnemonic %s", i.Op)
	}
	return nil
}
