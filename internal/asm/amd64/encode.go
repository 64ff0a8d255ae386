package amd64

import (
	"encoding/binary"
	"fmt"
	"math"
)

type rexState struct {
	w     bool
	r     bool
	x     bool
	b     bool
	force bool
}

func (r rexState) prefix() byte {
	if !r.w && !r.r && !r.x && !r.b && !r.force {
		return 0
	}
	p := byte(0x40)
	if r.w {
		p |= 0x08
	}
	if r.r {
		p |= 0x04
	}
	if r.x {
		p |= 0x02
	}
	if r.b {
		p |= 0x01
	}
	return p
}

type memEncoding struct {
	modrm      byte
	sib        []byte
	disp       []byte
	rex        rexState
	rip        bool
	dataOffset int
}

func scaleBits(scale uint8) (byte, error) {
	switch scale {
	case 1:
		return 0, nil
	case 2:
		return 1, nil
	case 4:
		return 2, nil
	case 8:
		return 3, nil
	}
	return 0, fmt.Errorf("invalid scale %d", scale)
}

func disp32(v int32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	return buf[:]
}

func encodeMemoryOperand(mem Memory) (memEncoding, error) {
	if err := mem.validate(); err != nil {
		return memEncoding{}, err
	}

	if mem.rip {
		// mod=00 rm=101 is disp32(%rip) in long mode.
		return memEncoding{modrm: 0x05, disp: disp32(0), rip: true, dataOffset: mem.dataOffset}, nil
	}

	var indexInfo registerCode
	if mem.hasIndex {
		info, err := regInfo(mem.index.id)
		if err != nil {
			return memEncoding{}, err
		}
		indexInfo = info
	}

	if !mem.hasBase {
		// No base: SIB with base=101 and mod=00 means disp32 only. An
		// absent index is encoded as 100, giving [disp32].
		indexCode := byte(4)
		if mem.hasIndex {
			indexCode = indexInfo.code
		}
		sb, err := scaleBits(mem.scale)
		if err != nil {
			return memEncoding{}, err
		}
		return memEncoding{
			modrm: 0x04,
			sib:   []byte{sb<<6 | indexCode<<3 | 5},
			disp:  disp32(mem.disp),
			rex:   rexState{x: mem.hasIndex && indexInfo.high},
		}, nil
	}

	baseInfo, err := regInfo(mem.base.id)
	if err != nil {
		return memEncoding{}, err
	}

	enc := memEncoding{
		rex: rexState{
			b: baseInfo.high,
			x: mem.hasIndex && indexInfo.high,
		},
	}

	rm := baseInfo.code
	switch {
	case mem.disp == 0 && rm != 5:
		enc.modrm = 0x00
	case mem.disp >= -128 && mem.disp <= 127:
		// [rbp] and [r13] have no mod=00 form and take a zero disp8.
		enc.modrm = 0x40
		enc.disp = []byte{byte(mem.disp)}
	default:
		enc.modrm = 0x80
		enc.disp = disp32(mem.disp)
	}

	if mem.hasIndex || rm == 4 {
		indexCode := byte(4)
		if mem.hasIndex {
			indexCode = indexInfo.code
		}
		sb, err := scaleBits(mem.scale)
		if err != nil {
			return memEncoding{}, err
		}
		enc.sib = []byte{sb<<6 | indexCode<<3 | rm}
		rm = 4
	}

	enc.modrm |= rm
	return enc, nil
}

// encoded is the byte form of one instruction plus the positions the context
// patches once addresses are known.
type encoded struct {
	code []byte
	// dispPos is the offset of a RIP-relative disp32 into the data section.
	dispPos    int
	dataOffset int
	// relPos is the offset of a label-relative rel32.
	relPos int
	// immPos is the offset of a relocated imm64.
	immPos int
}

type encoding struct {
	prefixes []byte
	rex      rexState
	opcode   []byte
	hasModRM bool
	modrm    byte
	mem      *memEncoding
	imm      []byte
	rel      bool
	reloc    bool
}

func (e *encoding) prefix(b byte) { e.prefixes = append(e.prefixes, b) }

func (e *encoding) op(b ...byte) { e.opcode = append(e.opcode, b...) }

// width applies the operand size: 0x66 for 16-bit and REX.W for 64-bit.
func (e *encoding) width(size int) {
	switch size {
	case 2:
		e.prefix(0x66)
	case 8:
		e.rex.w = true
	}
}

func (e *encoding) digit(n byte) {
	e.hasModRM = true
	e.modrm |= (n & 7) << 3
}

// regField places a register operand in ModRM.reg.
func (e *encoding) regField(op Operand, size int) error {
	e.hasModRM = true
	switch o := op.(type) {
	case Reg:
		info, err := regInfo(o.id)
		if err != nil {
			return err
		}
		e.modrm |= info.code << 3
		e.rex.r = info.high
		if size == 1 && info.needsRex {
			e.rex.force = true
		}
	case Xmm:
		if o > XMM15 {
			return fmt.Errorf("unsupported xmm register %d", o)
		}
		e.modrm |= (byte(o) & 7) << 3
		e.rex.r = o >= XMM8
	default:
		return fmt.Errorf("operand %v cannot be encoded in the reg field", op)
	}
	return nil
}

// rmField places a register or memory operand in ModRM.rm.
func (e *encoding) rmField(op Operand, size int) error {
	e.hasModRM = true
	switch o := op.(type) {
	case Reg:
		info, err := regInfo(o.id)
		if err != nil {
			return err
		}
		e.modrm |= 0xC0 | info.code
		e.rex.b = info.high
		if size == 1 && info.needsRex {
			e.rex.force = true
		}
	case Xmm:
		if o > XMM15 {
			return fmt.Errorf("unsupported xmm register %d", o)
		}
		e.modrm |= 0xC0 | byte(o)&7
		e.rex.b = o >= XMM8
	case Memory:
		mem, err := encodeMemoryOperand(o)
		if err != nil {
			return err
		}
		e.modrm |= mem.modrm
		e.rex.b = mem.rex.b
		e.rex.x = mem.rex.x
		e.mem = &mem
	default:
		return fmt.Errorf("operand %v cannot be encoded in the rm field", op)
	}
	return nil
}

func (e *encoding) immediate(size int, v int64) {
	switch size {
	case 1:
		e.imm = []byte{byte(v)}
	case 2:
		e.imm = binary.LittleEndian.AppendUint16(nil, uint16(v))
	case 4:
		e.imm = binary.LittleEndian.AppendUint32(nil, uint32(v))
	default:
		e.imm = binary.LittleEndian.AppendUint64(nil, uint64(v))
	}
}

func (e *encoding) finish() encoded {
	out := encoded{dispPos: -1, relPos: -1, immPos: -1}
	code := append([]byte(nil), e.prefixes...)
	if p := e.rex.prefix(); p != 0 {
		code = append(code, p)
	}
	code = append(code, e.opcode...)
	if e.hasModRM {
		code = append(code, e.modrm)
	}
	if e.mem != nil {
		code = append(code, e.mem.sib...)
		if e.mem.rip {
			out.dispPos = len(code)
			out.dataOffset = e.mem.dataOffset
		}
		code = append(code, e.mem.disp...)
	}
	if e.rel {
		out.relPos = len(code)
		code = append(code, 0, 0, 0, 0)
	}
	if e.reloc {
		out.immPos = len(code)
	}
	code = append(code, e.imm...)
	out.code = code
	return out
}

func fitsInt8(v int64) bool  { return v >= math.MinInt8 && v <= math.MaxInt8 }
func fitsInt32(v int64) bool { return v >= math.MinInt32 && v <= math.MaxInt32 }

var aluDigit = map[Mnemonic]byte{ADD: 0, OR: 1, AND: 4, SUB: 5, XOR: 6, CMP: 7}

var unaryDigit = map[Mnemonic]byte{NOT: 2, NEG: 3, DIV: 6, IDIV: 7}

var shiftDigit = map[Mnemonic]byte{SHL: 4, SHR: 5, SAR: 7}

var sseArith = map[Mnemonic]byte{SQRTS: 0x51, ADDS: 0x58, MULS: 0x59, SUBS: 0x5C, DIVS: 0x5E}

func scalarPrefix(precision int) byte {
	if precision == 8 {
		return 0xF2
	}
	return 0xF3
}

func encodeInst(i *Inst) (encoded, error) {
	var e encoding
	if i.Lock {
		e.prefix(0xF0)
	}
	size := i.Size

	switch i.Op {
	case NOP:
		e.op(0x90)
	case MOV:
		if err := e.mov(i); err != nil {
			return encoded{}, err
		}
	case LEA:
		mem, ok := i.Src.(Memory)
		if !ok {
			return encoded{}, fmt.Errorf("lea requires a memory source")
		}
		e.width(8)
		e.op(0x8D)
		if err := e.regField(i.Dst, 8); err != nil {
			return encoded{}, err
		}
		if err := e.rmField(mem, 8); err != nil {
			return encoded{}, err
		}
	case ADD, OR, AND, SUB, XOR, CMP:
		if err := e.alu(i, aluDigit[i.Op]); err != nil {
			return encoded{}, err
		}
	case TEST:
		e.width(size)
		if i.HasImm {
			e.op(byteForm(size, 0xF6, 0xF7))
			e.digit(0)
			if err := e.rmField(i.Dst, size); err != nil {
				return encoded{}, err
			}
			e.immediate(min(size, 4), i.Imm)
			break
		}
		e.op(byteForm(size, 0x84, 0x85))
		if err := e.regField(i.Src, size); err != nil {
			return encoded{}, err
		}
		if err := e.rmField(i.Dst, size); err != nil {
			return encoded{}, err
		}
	case IMUL:
		e.width(size)
		src := i.Src
		if src == nil {
			src = i.Dst
		}
		switch {
		case i.HasImm && fitsInt8(i.Imm):
			e.op(0x6B)
			e.immediate(1, i.Imm)
		case i.HasImm:
			if !fitsInt32(i.Imm) {
				return encoded{}, fmt.Errorf("imul immediate %#x out of range", i.Imm)
			}
			e.op(0x69)
			e.immediate(4, i.Imm)
		default:
			e.op(0x0F, 0xAF)
		}
		if err := e.regField(i.Dst, size); err != nil {
			return encoded{}, err
		}
		if err := e.rmField(src, size); err != nil {
			return encoded{}, err
		}
	case NEG, NOT, IDIV, DIV:
		e.width(size)
		e.op(byteForm(size, 0xF6, 0xF7))
		e.digit(unaryDigit[i.Op])
		if err := e.rmField(i.Dst, size); err != nil {
			return encoded{}, err
		}
	case CDQ:
		e.width(size)
		e.op(0x99)
	case SHL, SHR, SAR:
		e.width(size)
		if i.HasImm {
			e.op(byteForm(size, 0xC0, 0xC1))
			e.immediate(1, i.Imm)
		} else {
			e.op(byteForm(size, 0xD2, 0xD3))
		}
		e.digit(shiftDigit[i.Op])
		if err := e.rmField(i.Dst, size); err != nil {
			return encoded{}, err
		}
	case MOVSXD:
		e.width(8)
		e.op(0x63)
		if err := e.regField(i.Dst, 8); err != nil {
			return encoded{}, err
		}
		if err := e.rmField(i.Src, 4); err != nil {
			return encoded{}, err
		}
	case MOVSX, MOVZX:
		e.width(size)
		base := byte(0xBE)
		if i.Op == MOVZX {
			base = 0xB6
		}
		switch i.Width {
		case 1:
			e.op(0x0F, base)
		case 2:
			e.op(0x0F, base+1)
		default:
			return encoded{}, fmt.Errorf("%s from %d bytes is not encodable", i.Op, i.Width)
		}
		if err := e.regField(i.Dst, size); err != nil {
			return encoded{}, err
		}
		if err := e.rmField(i.Src, i.Width); err != nil {
			return encoded{}, err
		}
	case CMOV:
		e.width(size)
		e.op(0x0F, 0x40+byte(i.Cond))
		if err := e.regField(i.Dst, size); err != nil {
			return encoded{}, err
		}
		if err := e.rmField(i.Src, size); err != nil {
			return encoded{}, err
		}
	case SETCC:
		e.op(0x0F, 0x90+byte(i.Cond))
		e.digit(0)
		if err := e.rmField(i.Dst, 1); err != nil {
			return encoded{}, err
		}
	case JMP:
		e.op(0xE9)
		e.rel = true
	case JCC:
		e.op(0x0F, 0x80+byte(i.Cond))
		e.rel = true
	case CALL:
		if i.Dst == nil {
			// Near call; the displacement is bound when the code is installed.
			e.op(0xE8)
			e.imm = []byte{0, 0, 0, 0}
			break
		}
		e.op(0xFF)
		e.digit(2)
		if err := e.rmField(i.Dst, 8); err != nil {
			return encoded{}, err
		}
	case RET:
		e.op(0xC3)
	case PUSH, POP:
		reg, ok := i.Dst.(Reg)
		if !ok {
			return encoded{}, fmt.Errorf("%s requires a register", i.Op)
		}
		info, err := regInfo(reg.id)
		if err != nil {
			return encoded{}, err
		}
		e.rex.b = info.high
		base := byte(0x58)
		if i.Op == PUSH {
			base = 0x50
		}
		e.op(base + info.code)
	case MFENCE:
		e.op(0x0F, 0xAE, 0xF0)
	case BSWAP:
		reg, ok := i.Dst.(Reg)
		if !ok {
			return encoded{}, fmt.Errorf("bswap requires a register")
		}
		info, err := regInfo(reg.id)
		if err != nil {
			return encoded{}, err
		}
		e.width(size)
		e.rex.b = info.high
		e.op(0x0F, 0xC8+info.code)
	case POPCNT, BSF, BSR:
		if i.Op == POPCNT {
			e.prefix(0xF3)
		}
		e.width(size)
		e.op(0x0F, map[Mnemonic]byte{POPCNT: 0xB8, BSF: 0xBC, BSR: 0xBD}[i.Op])
		if err := e.regField(i.Dst, size); err != nil {
			return encoded{}, err
		}
		if err := e.rmField(i.Src, size); err != nil {
			return encoded{}, err
		}
	case MOVS:
		e.prefix(scalarPrefix(size))
		if _, store := i.Dst.(Memory); store {
			e.op(0x0F, 0x11)
			if err := e.regField(i.Src, size); err != nil {
				return encoded{}, err
			}
			if err := e.rmField(i.Dst, size); err != nil {
				return encoded{}, err
			}
			break
		}
		e.op(0x0F, 0x10)
		if err := e.sseRegRM(i.Dst, i.Src, size); err != nil {
			return encoded{}, err
		}
	case ADDS, SUBS, MULS, DIVS, SQRTS:
		e.prefix(scalarPrefix(size))
		e.op(0x0F, sseArith[i.Op])
		if err := e.sseRegRM(i.Dst, i.Src, size); err != nil {
			return encoded{}, err
		}
	case ANDP, XORP, UCOMIS:
		if size == 8 {
			e.prefix(0x66)
		}
		e.op(0x0F, map[Mnemonic]byte{ANDP: 0x54, XORP: 0x57, UCOMIS: 0x2E}[i.Op])
		if err := e.sseRegRM(i.Dst, i.Src, size); err != nil {
			return encoded{}, err
		}
	case CVTSI2S:
		e.prefix(scalarPrefix(size))
		e.rex.w = i.Width == 8
		e.op(0x0F, 0x2A)
		if err := e.sseRegRM(i.Dst, i.Src, i.Width); err != nil {
			return encoded{}, err
		}
	case CVTTS2SI:
		e.prefix(scalarPrefix(size))
		e.rex.w = i.Width == 8
		e.op(0x0F, 0x2C)
		if err := e.sseRegRM(i.Dst, i.Src, size); err != nil {
			return encoded{}, err
		}
	case CVTS2S:
		e.prefix(scalarPrefix(size))
		e.op(0x0F, 0x5A)
		if err := e.sseRegRM(i.Dst, i.Src, size); err != nil {
			return encoded{}, err
		}
	case MOVD:
		e.prefix(0x66)
		e.rex.w = size == 8
		if _, toXmm := i.Dst.(Xmm); toXmm {
			e.op(0x0F, 0x6E)
			if err := e.sseRegRM(i.Dst, i.Src, size); err != nil {
				return encoded{}, err
			}
			break
		}
		e.op(0x0F, 0x7E)
		if err := e.sseRegRM(i.Src, i.Dst, size); err != nil {
			return encoded{}, err
		}
	default:
		return encoded{}, fmt.Errorf("unsupported mnemonic %s", i.Op)
	}
	return e.finish(), nil
}

func (e *encoding) sseRegRM(reg, rm Operand, size int) error {
	if err := e.regField(reg, size); err != nil {
		return err
	}
	return e.rmField(rm, size)
}

func byteForm(size int, b8, other byte) byte {
	if size == 1 {
		return b8
	}
	return other
}

func (e *encoding) mov(i *Inst) error {
	size := i.Size
	e.width(size)
	if i.HasImm {
		if reg, ok := i.Dst.(Reg); ok {
			info, err := regInfo(reg.id)
			if err != nil {
				return err
			}
			if size != 8 || i.Reloc || !fitsInt32(i.Imm) {
				// B8+r carries a full width immediate (movabs for 64-bit).
				e.rex.b = info.high
				if size == 1 {
					e.rex.force = info.needsRex
				}
				e.op(byteForm(size, 0xB0, 0xB8) + info.code)
				e.immediate(size, i.Imm)
				e.reloc = i.Reloc
				return nil
			}
		}
		if size == 8 && !fitsInt32(i.Imm) {
			return fmt.Errorf("mov immediate %#x to memory out of range", i.Imm)
		}
		e.op(byteForm(size, 0xC6, 0xC7))
		e.digit(0)
		e.immediate(min(size, 4), i.Imm)
		return e.rmField(i.Dst, size)
	}
	if _, load := i.Src.(Memory); load {
		e.op(byteForm(size, 0x8A, 0x8B))
		if err := e.regField(i.Dst, size); err != nil {
			return err
		}
		return e.rmField(i.Src, size)
	}
	e.op(byteForm(size, 0x88, 0x89))
	if err := e.regField(i.Src, size); err != nil {
		return err
	}
	return e.rmField(i.Dst, size)
}

func (e *encoding) alu(i *Inst, n byte) error {
	size := i.Size
	e.width(size)
	if i.HasImm {
		switch {
		case size == 1:
			e.op(0x80)
			e.immediate(1, i.Imm)
		case fitsInt8(i.Imm):
			e.op(0x83)
			e.immediate(1, i.Imm)
		case fitsInt32(i.Imm):
			e.op(0x81)
			e.immediate(min(size, 4), i.Imm)
		default:
			return fmt.Errorf("%s immediate %#x out of range", i.Op, i.Imm)
		}
		e.digit(n)
		return e.rmField(i.Dst, size)
	}
	if _, load := i.Src.(Memory); load {
		e.op(byteForm(size, 0x02, 0x03) + n<<3)
		if err := e.regField(i.Dst, size); err != nil {
			return err
		}
		return e.rmField(i.Src, size)
	}
	e.op(byteForm(size, 0x00, 0x01) + n<<3)
	if err := e.regField(i.Src, size); err != nil {
		return err
	}
	return e.rmField(i.Dst, size)
}
