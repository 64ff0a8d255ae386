package amd64

import (
	"fmt"
	"strings"

	"github.com/tinyrange/lirgen/internal/asm"
	"github.com/tinyrange/lirgen/internal/lir"
)

// Mnemonic names one instruction family. Operand shape and width select the
// concrete encoding.
type Mnemonic uint8

const (
	NOP Mnemonic = iota
	MOV
	LEA
	ADD
	OR
	AND
	SUB
	XOR
	CMP
	TEST
	IMUL
	NEG
	NOT
	IDIV
	DIV
	CDQ // cdq or cqo depending on Size
	SHL
	SHR
	SAR
	MOVSXD
	MOVSX
	MOVZX
	CMOV
	SETCC
	JMP
	JCC
	CALL
	RET
	PUSH
	POP
	MFENCE
	BSWAP
	POPCNT
	BSF
	BSR

	// SSE. Size selects single (4) or double (8) precision.
	MOVS
	ADDS
	SUBS
	MULS
	DIVS
	SQRTS
	ANDP
	XORP
	UCOMIS
	CVTSI2S
	CVTTS2SI
	CVTS2S
	MOVD // movd or movq depending on Size
)

var mnemonicNames = [...]string{
	NOP: "nop", MOV: "mov", LEA: "lea", ADD: "add", OR: "or", AND: "and",
	SUB: "sub", XOR: "xor", CMP: "cmp", TEST: "test", IMUL: "imul", NEG: "neg",
	NOT: "not", IDIV: "idiv", DIV: "div", CDQ: "cdq", SHL: "shl", SHR: "shr",
	SAR: "sar", MOVSXD: "movsxd", MOVSX: "movsx", MOVZX: "movzx", CMOV: "cmov",
	SETCC: "set", JMP: "jmp", JCC: "j", CALL: "call", RET: "ret", PUSH: "push", POP: "pop",
	MFENCE: "mfence", BSWAP: "bswap", POPCNT: "popcnt", BSF: "bsf", BSR: "bsr",
	MOVS: "movs", ADDS: "adds", SUBS: "subs", MULS: "muls", DIVS: "divs",
	SQRTS: "sqrts", ANDP: "andp", XORP: "xorp", UCOMIS: "ucomis",
	CVTSI2S: "cvtsi2s", CVTTS2SI: "cvtts", CVTS2S: "cvts", MOVD: "movd",
}

func (m Mnemonic) String() string {
	if int(m) < len(mnemonicNames) && mnemonicNames[m] != "" {
		return mnemonicNames[m]
	}
	return fmt.Sprintf("Mnemonic(%d)", uint8(m))
}

// Cond is an x86 condition code as encoded in Jcc, SETcc and CMOVcc.
type Cond uint8

const (
	CondO  Cond = 0x0
	CondNO Cond = 0x1
	CondB  Cond = 0x2
	CondAE Cond = 0x3
	CondE  Cond = 0x4
	CondNE Cond = 0x5
	CondBE Cond = 0x6
	CondA  Cond = 0x7
	CondS  Cond = 0x8
	CondNS Cond = 0x9
	CondP  Cond = 0xA
	CondNP Cond = 0xB
	CondL  Cond = 0xC
	CondGE Cond = 0xD
	CondLE Cond = 0xE
	CondG  Cond = 0xF
)

var condNames = [16]string{"o", "no", "b", "ae", "e", "ne", "be", "a", "s", "ns", "p", "np", "l", "ge", "le", "g"}

func (c Cond) String() string { return condNames[c&0xF] }

// Negate flips the condition; x86 pairs conditions by the low bit.
func (c Cond) Negate() Cond { return c ^ 1 }

// ConditionCode maps a LIR condition onto the flags produced by cmp. For
// floats the unsigned codes apply since ucomis sets CF and ZF.
func ConditionCode(c lir.Condition, float bool) Cond {
	if float {
		switch c {
		case lir.EQ:
			return CondE
		case lir.NE:
			return CondNE
		case lir.LT, lir.BT:
			return CondB
		case lir.LE, lir.BE:
			return CondBE
		case lir.GT, lir.AT:
			return CondA
		case lir.GE, lir.AE:
			return CondAE
		}
	}
	switch c {
	case lir.EQ:
		return CondE
	case lir.NE:
		return CondNE
	case lir.LT:
		return CondL
	case lir.LE:
		return CondLE
	case lir.GT:
		return CondG
	case lir.GE:
		return CondGE
	case lir.BT:
		return CondB
	case lir.BE:
		return CondBE
	case lir.AT:
		return CondA
	case lir.AE:
		return CondAE
	}
	panic(lir.ShouldNotReachHere("condition %v", c))
}

// Inst is one structured machine instruction. It implements asm.Fragment.
type Inst struct {
	Op   Mnemonic
	Size int // operand width in bytes; precision for SSE forms
	Cond Cond

	Dst Operand
	Src Operand

	Imm    int64
	HasImm bool

	// Width is the integer width of cvtsi2s/cvtts2si and the source width
	// of movsx/movzx.
	Width int

	Label   asm.Label
	Linkage *lir.Linkage

	// Trap records the instruction as an implicit exception site.
	Trap *lir.FrameState
	// State is the frame state of a call.
	State *lir.FrameState
	// Reason marks a call as a deoptimization infopoint.
	Reason *lir.DeoptimizationReason

	Lock bool
	// Reloc forces the 64-bit immediate form and records the immediate as
	// a relocation.
	Reloc bool
}

var _ asm.Fragment = (*Inst)(nil)

func (i *Inst) Emit(ctx asm.Context) error {
	c, ok := ctx.(*Context)
	if !ok {
		return fmt.Errorf("amd64: instruction %s emitted into foreign context %T", i.Op, ctx)
	}
	return c.emitInst(i)
}

func (i *Inst) mnemonic() string {
	name := i.Op.String()
	switch i.Op {
	case JCC, SETCC, CMOV:
		return name + i.Cond.String()
	case CDQ:
		if i.Size == 8 {
			return "cqo"
		}
	case MOVD:
		if i.Size == 8 {
			return "movq"
		}
	case MOVS, ADDS, SUBS, MULS, DIVS, SQRTS, UCOMIS, CVTSI2S:
		return name + precisionSuffix(i.Size)
	case ANDP, XORP:
		if i.Size == 8 {
			return name + "d"
		}
		return name + "s"
	case CVTTS2SI:
		return name + precisionSuffix(i.Size) + "2si"
	case CVTS2S:
		if i.Size == 8 {
			return "cvtsd2ss"
		}
		return "cvtss2sd"
	}
	return name
}

func precisionSuffix(size int) string {
	if size == 8 {
		return "d"
	}
	return "s"
}

func (i *Inst) String() string {
	var sb strings.Builder
	if i.Lock {
		sb.WriteString("lock ")
	}
	sb.WriteString(i.mnemonic())
	var ops []string
	switch {
	case i.Op == JMP || i.Op == JCC:
		ops = append(ops, string(i.Label))
	case i.Op == CALL && i.Linkage != nil && i.Dst == nil:
		ops = append(ops, i.Linkage.Name)
	default:
		if i.Dst != nil {
			ops = append(ops, i.Dst.String())
		}
		if i.Src != nil {
			ops = append(ops, i.Src.String())
		}
		if i.HasImm {
			ops = append(ops, Imm(i.Imm).String())
		}
	}
	if len(ops) > 0 {
		sb.WriteByte(' ')
		sb.WriteString(strings.Join(ops, ", "))
	}
	return sb.String()
}

func gpr(size int, id asm.Register) Reg {
	switch size {
	case 1:
		return Reg8(id)
	case 2:
		return Reg16(id)
	case 4:
		return Reg32(id)
	}
	return Reg64(id)
}

// Binary builds a two operand integer instruction (mov, add, cmp, imul...).
func Binary(op Mnemonic, size int, dst, src Operand) *Inst {
	return &Inst{Op: op, Size: size, Dst: dst, Src: src}
}

// BinaryImm builds the immediate form of a two operand instruction.
func BinaryImm(op Mnemonic, size int, dst Operand, imm int64) *Inst {
	return &Inst{Op: op, Size: size, Dst: dst, Imm: imm, HasImm: true}
}

// MovImm loads an immediate into a register.
func MovImm(size int, dst asm.Register, imm int64) *Inst {
	return BinaryImm(MOV, size, gpr(size, dst), imm)
}

// MovRelocated loads a 64-bit value that is adjusted by the load address.
func MovRelocated(dst asm.Register, imm int64) *Inst {
	return &Inst{Op: MOV, Size: 8, Dst: Reg64(dst), Imm: imm, HasImm: true, Reloc: true}
}

// ImulImm builds the three operand dst = src * imm form.
func ImulImm(size int, dst asm.Register, src Operand, imm int64) *Inst {
	return &Inst{Op: IMUL, Size: size, Dst: gpr(size, dst), Src: src, Imm: imm, HasImm: true}
}

// Unary builds neg, not, idiv, div, bswap.
func Unary(op Mnemonic, size int, operand Operand) *Inst {
	return &Inst{Op: op, Size: size, Dst: operand}
}

// Shift by an immediate, or by cl when count is negative.
func Shift(op Mnemonic, size int, dst Operand, count int) *Inst {
	if count < 0 {
		return &Inst{Op: op, Size: size, Dst: dst, Src: Reg8(RCX)}
	}
	return &Inst{Op: op, Size: size, Dst: dst, Imm: int64(count), HasImm: true}
}

func SignExtendAccumulator(size int) *Inst { return &Inst{Op: CDQ, Size: size} }

// Extend builds movsx/movzx/movsxd from a width-byte source.
func Extend(op Mnemonic, size int, dst asm.Register, src Operand, width int) *Inst {
	return &Inst{Op: op, Size: size, Dst: gpr(size, dst), Src: src, Width: width}
}

func Lea(dst asm.Register, mem Memory) *Inst {
	return &Inst{Op: LEA, Size: 8, Dst: Reg64(dst), Src: mem}
}

func CMov(cond Cond, size int, dst asm.Register, src Operand) *Inst {
	return &Inst{Op: CMOV, Cond: cond, Size: size, Dst: gpr(size, dst), Src: src}
}

func SetCC(cond Cond, dst asm.Register) *Inst {
	return &Inst{Op: SETCC, Cond: cond, Size: 1, Dst: Reg8(dst)}
}

func Jmp(label asm.Label) *Inst { return &Inst{Op: JMP, Label: label} }

func Jcc(cond Cond, label asm.Label) *Inst { return &Inst{Op: JCC, Cond: cond, Label: label} }

// CallNear emits call rel32 to the linkage address.
func CallNear(linkage *lir.Linkage, state *lir.FrameState) *Inst {
	return &Inst{Op: CALL, Linkage: linkage, State: state}
}

// CallIndirect emits call through a register holding the linkage address.
func CallIndirect(reg asm.Register, linkage *lir.Linkage, state *lir.FrameState) *Inst {
	return &Inst{Op: CALL, Dst: Reg64(reg), Linkage: linkage, State: state}
}

func Ret() *Inst { return &Inst{Op: RET} }

func Push(reg asm.Register) *Inst { return &Inst{Op: PUSH, Size: 8, Dst: Reg64(reg)} }

func Pop(reg asm.Register) *Inst { return &Inst{Op: POP, Size: 8, Dst: Reg64(reg)} }

func Mfence() *Inst { return &Inst{Op: MFENCE} }

// LockAddStack is the cheaper StoreLoad fence, lock add [rsp], 0.
func LockAddStack() *Inst {
	return &Inst{Op: ADD, Size: 4, Dst: Mem(Reg64(RSP)), HasImm: true, Lock: true}
}

// Bits builds popcnt, bsf and bsr.
func Bits(op Mnemonic, size int, dst asm.Register, src Operand) *Inst {
	return &Inst{Op: op, Size: size, Dst: gpr(size, dst), Src: src}
}

// SSE builds a scalar floating point instruction of the given precision.
func SSE(op Mnemonic, precision int, dst, src Operand) *Inst {
	return &Inst{Op: op, Size: precision, Dst: dst, Src: src}
}

// IntToFloat builds cvtsi2ss/cvtsi2sd from a width-byte integer.
func IntToFloat(precision int, dst Xmm, src Operand, width int) *Inst {
	return &Inst{Op: CVTSI2S, Size: precision, Dst: dst, Src: src, Width: width}
}

// FloatToInt builds the truncating cvtts*2si into a width-byte register.
func FloatToInt(precision int, dst asm.Register, src Operand, width int) *Inst {
	return &Inst{Op: CVTTS2SI, Size: precision, Dst: gpr(width, dst), Src: src, Width: width}
}

// MoveBits builds movd/movq between a general purpose and an xmm register.
func MoveBits(size int, dst, src Operand) *Inst {
	return &Inst{Op: MOVD, Size: size, Dst: dst, Src: src}
}
