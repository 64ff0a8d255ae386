package sparc

import (
	"fmt"
	"strings"

	"github.com/tinyrange/lirgen/internal/asm"
	"github.com/tinyrange/lirgen/internal/lir"
)

type Mnemonic uint8

const (
	NOP Mnemonic = iota
	ADD
	SUB
	AND
	ANDN
	OR
	XOR
	ADDCC
	SUBCC
	ANDCC
	MULX
	SDIVX
	UDIVX
	SLL
	SRL
	SRA
	SLLX
	SRLX
	SRAX
	POPC
	SETHI
	MOVCC
	JMPL
	SAVE
	RESTORE
	MEMBAR

	LDUB
	LDSB
	LDUH
	LDSH
	LDUW
	LDSW
	LDX
	STB
	STH
	STW
	STX
	LDF
	LDDF
	STF
	STDF

	BPCC
	FBPFCC
	CALL

	FMOVS
	FMOVD
	FNEGS
	FNEGD
	FABSS
	FABSD
	FSQRTS
	FSQRTD
	FADDS
	FADDD
	FSUBS
	FSUBD
	FMULS
	FMULD
	FDIVS
	FDIVD
	FSTOX
	FDTOX
	FSTOI
	FDTOI
	FXTOS
	FXTOD
	FITOS
	FITOD
	FSTOD
	FDTOS
	FCMPS
	FCMPD
	FMOVSCC
	FMOVDCC

	MOVDTOX
	MOVSTOUW
	MOVSTOSW
	MOVXTOD
	MOVWTOS
)

type class uint8

const (
	none class = iota
	gpr
	single
	double
)

type format uint8

const (
	fmtArith format = iota
	fmtShift
	fmtMem
	fmtSethi
	fmtNop
	fmtMembar
	fmtMovcc
	fmtBranch
	fmtFBranch
	fmtCall
	fmtFPop1
	fmtFCmp
	fmtFMovcc
	fmtVIS
)

type opInfo struct {
	name         string
	format       format
	op3          uint32
	opf          uint32
	rd, rs1, rs2 class
	x            bool // 64-bit shift
	width        int  // memory access width
	signed       bool
}

var opTable = map[Mnemonic]opInfo{
	NOP:     {name: "nop", format: fmtNop},
	ADD:     {name: "add", format: fmtArith, op3: 0x00, rd: gpr, rs1: gpr, rs2: gpr},
	AND:     {name: "and", format: fmtArith, op3: 0x01, rd: gpr, rs1: gpr, rs2: gpr},
	OR:      {name: "or", format: fmtArith, op3: 0x02, rd: gpr, rs1: gpr, rs2: gpr},
	XOR:     {name: "xor", format: fmtArith, op3: 0x03, rd: gpr, rs1: gpr, rs2: gpr},
	SUB:     {name: "sub", format: fmtArith, op3: 0x04, rd: gpr, rs1: gpr, rs2: gpr},
	ANDN:    {name: "andn", format: fmtArith, op3: 0x05, rd: gpr, rs1: gpr, rs2: gpr},
	MULX:    {name: "mulx", format: fmtArith, op3: 0x09, rd: gpr, rs1: gpr, rs2: gpr},
	UDIVX:   {name: "udivx", format: fmtArith, op3: 0x0D, rd: gpr, rs1: gpr, rs2: gpr},
	ADDCC:   {name: "addcc", format: fmtArith, op3: 0x10, rd: gpr, rs1: gpr, rs2: gpr},
	ANDCC:   {name: "andcc", format: fmtArith, op3: 0x11, rd: gpr, rs1: gpr, rs2: gpr},
	SUBCC:   {name: "subcc", format: fmtArith, op3: 0x14, rd: gpr, rs1: gpr, rs2: gpr},
	SDIVX:   {name: "sdivx", format: fmtArith, op3: 0x2D, rd: gpr, rs1: gpr, rs2: gpr},
	SLL:     {name: "sll", format: fmtShift, op3: 0x25, rd: gpr, rs1: gpr, rs2: gpr},
	SRL:     {name: "srl", format: fmtShift, op3: 0x26, rd: gpr, rs1: gpr, rs2: gpr},
	SRA:     {name: "sra", format: fmtShift, op3: 0x27, rd: gpr, rs1: gpr, rs2: gpr},
	SLLX:    {name: "sllx", format: fmtShift, op3: 0x25, rd: gpr, rs1: gpr, rs2: gpr, x: true},
	SRLX:    {name: "srlx", format: fmtShift, op3: 0x26, rd: gpr, rs1: gpr, rs2: gpr, x: true},
	SRAX:    {name: "srax", format: fmtShift, op3: 0x27, rd: gpr, rs1: gpr, rs2: gpr, x: true},
	POPC:    {name: "popc", format: fmtArith, op3: 0x2E, rd: gpr, rs2: gpr},
	SETHI:   {name: "sethi", format: fmtSethi, rd: gpr},
	MOVCC:   {name: "mov", format: fmtMovcc, op3: 0x2C, rd: gpr, rs2: gpr},
	JMPL:    {name: "jmpl", format: fmtArith, op3: 0x38, rd: gpr, rs1: gpr, rs2: gpr},
	SAVE:    {name: "save", format: fmtArith, op3: 0x3C, rd: gpr, rs1: gpr, rs2: gpr},
	RESTORE: {name: "restore", format: fmtArith, op3: 0x3D, rd: gpr, rs1: gpr, rs2: gpr},
	MEMBAR:  {name: "membar", format: fmtMembar, op3: 0x28},

	LDUB: {name: "ldub", format: fmtMem, op3: 0x01, rd: gpr, rs1: gpr, rs2: gpr, width: 1},
	LDSB: {name: "ldsb", format: fmtMem, op3: 0x09, rd: gpr, rs1: gpr, rs2: gpr, width: 1, signed: true},
	LDUH: {name: "lduh", format: fmtMem, op3: 0x02, rd: gpr, rs1: gpr, rs2: gpr, width: 2},
	LDSH: {name: "ldsh", format: fmtMem, op3: 0x0A, rd: gpr, rs1: gpr, rs2: gpr, width: 2, signed: true},
	LDUW: {name: "lduw", format: fmtMem, op3: 0x00, rd: gpr, rs1: gpr, rs2: gpr, width: 4},
	LDSW: {name: "ldsw", format: fmtMem, op3: 0x08, rd: gpr, rs1: gpr, rs2: gpr, width: 4, signed: true},
	LDX:  {name: "ldx", format: fmtMem, op3: 0x0B, rd: gpr, rs1: gpr, rs2: gpr, width: 8},
	STB:  {name: "stb", format: fmtMem, op3: 0x05, rd: gpr, rs1: gpr, rs2: gpr, width: 1},
	STH:  {name: "sth", format: fmtMem, op3: 0x06, rd: gpr, rs1: gpr, rs2: gpr, width: 2},
	STW:  {name: "stw", format: fmtMem, op3: 0x04, rd: gpr, rs1: gpr, rs2: gpr, width: 4},
	STX:  {name: "stx", format: fmtMem, op3: 0x0E, rd: gpr, rs1: gpr, rs2: gpr, width: 8},
	LDF:  {name: "ld", format: fmtMem, op3: 0x20, rd: single, rs1: gpr, rs2: gpr, width: 4},
	LDDF: {name: "ldd", format: fmtMem, op3: 0x23, rd: double, rs1: gpr, rs2: gpr, width: 8},
	STF:  {name: "st", format: fmtMem, op3: 0x24, rd: single, rs1: gpr, rs2: gpr, width: 4},
	STDF: {name: "std", format: fmtMem, op3: 0x27, rd: double, rs1: gpr, rs2: gpr, width: 8},

	BPCC:   {name: "b", format: fmtBranch},
	FBPFCC: {name: "fb", format: fmtFBranch},
	CALL:   {name: "call", format: fmtCall},

	FMOVS:   {name: "fmovs", format: fmtFPop1, opf: 0x01, rd: single, rs2: single},
	FMOVD:   {name: "fmovd", format: fmtFPop1, opf: 0x02, rd: double, rs2: double},
	FNEGS:   {name: "fnegs", format: fmtFPop1, opf: 0x05, rd: single, rs2: single},
	FNEGD:   {name: "fnegd", format: fmtFPop1, opf: 0x06, rd: double, rs2: double},
	FABSS:   {name: "fabss", format: fmtFPop1, opf: 0x09, rd: single, rs2: single},
	FABSD:   {name: "fabsd", format: fmtFPop1, opf: 0x0A, rd: double, rs2: double},
	FSQRTS:  {name: "fsqrts", format: fmtFPop1, opf: 0x29, rd: single, rs2: single},
	FSQRTD:  {name: "fsqrtd", format: fmtFPop1, opf: 0x2A, rd: double, rs2: double},
	FADDS:   {name: "fadds", format: fmtFPop1, opf: 0x41, rd: single, rs1: single, rs2: single},
	FADDD:   {name: "faddd", format: fmtFPop1, opf: 0x42, rd: double, rs1: double, rs2: double},
	FSUBS:   {name: "fsubs", format: fmtFPop1, opf: 0x45, rd: single, rs1: single, rs2: single},
	FSUBD:   {name: "fsubd", format: fmtFPop1, opf: 0x46, rd: double, rs1: double, rs2: double},
	FMULS:   {name: "fmuls", format: fmtFPop1, opf: 0x49, rd: single, rs1: single, rs2: single},
	FMULD:   {name: "fmuld", format: fmtFPop1, opf: 0x4A, rd: double, rs1: double, rs2: double},
	FDIVS:   {name: "fdivs", format: fmtFPop1, opf: 0x4D, rd: single, rs1: single, rs2: single},
	FDIVD:   {name: "fdivd", format: fmtFPop1, opf: 0x4E, rd: double, rs1: double, rs2: double},
	FSTOX:   {name: "fstox", format: fmtFPop1, opf: 0x81, rd: double, rs2: single},
	FDTOX:   {name: "fdtox", format: fmtFPop1, opf: 0x82, rd: double, rs2: double},
	FXTOS:   {name: "fxtos", format: fmtFPop1, opf: 0x84, rd: single, rs2: double},
	FXTOD:   {name: "fxtod", format: fmtFPop1, opf: 0x88, rd: double, rs2: double},
	FITOS:   {name: "fitos", format: fmtFPop1, opf: 0xC4, rd: single, rs2: single},
	FDTOS:   {name: "fdtos", format: fmtFPop1, opf: 0xC6, rd: single, rs2: double},
	FITOD:   {name: "fitod", format: fmtFPop1, opf: 0xC8, rd: double, rs2: single},
	FSTOD:   {name: "fstod", format: fmtFPop1, opf: 0xC9, rd: double, rs2: single},
	FSTOI:   {name: "fstoi", format: fmtFPop1, opf: 0xD1, rd: single, rs2: single},
	FDTOI:   {name: "fdtoi", format: fmtFPop1, opf: 0xD2, rd: single, rs2: double},
	FCMPS:   {name: "fcmps", format: fmtFCmp, opf: 0x51, rs1: single, rs2: single},
	FCMPD:   {name: "fcmpd", format: fmtFCmp, opf: 0x52, rs1: double, rs2: double},
	FMOVSCC: {name: "fmovs", format: fmtFMovcc, opf: 0x01, rd: single, rs2: single},
	FMOVDCC: {name: "fmovd", format: fmtFMovcc, opf: 0x02, rd: double, rs2: double},

	MOVDTOX:  {name: "movdtox", format: fmtVIS, opf: 0x110, rd: gpr, rs2: double},
	MOVSTOUW: {name: "movstouw", format: fmtVIS, opf: 0x111, rd: gpr, rs2: single},
	MOVSTOSW: {name: "movstosw", format: fmtVIS, opf: 0x113, rd: gpr, rs2: single},
	MOVXTOD:  {name: "movxtod", format: fmtVIS, opf: 0x118, rd: double, rs2: gpr},
	MOVWTOS:  {name: "movwtos", format: fmtVIS, opf: 0x119, rd: single, rs2: gpr},
}

func (m Mnemonic) String() string {
	if info, ok := opTable[m]; ok {
		return info.name
	}
	return fmt.Sprintf("Mnemonic(%d)", uint8(m))
}

// Cond is the 4-bit condition field of Bicc/BPcc and MOVcc.
type Cond uint8

const (
	CondNever Cond = 0x0
	CondE     Cond = 0x1
	CondLE    Cond = 0x2
	CondL     Cond = 0x3
	CondLEU   Cond = 0x4
	CondCS    Cond = 0x5 // lu
	CondNeg   Cond = 0x6
	CondVS    Cond = 0x7
	CondA     Cond = 0x8 // always
	CondNE    Cond = 0x9
	CondG     Cond = 0xA
	CondGE    Cond = 0xB
	CondGU    Cond = 0xC
	CondCC    Cond = 0xD // geu
	CondPos   Cond = 0xE
	CondVC    Cond = 0xF
)

var condNames = [16]string{"n", "e", "le", "l", "leu", "lu", "neg", "vs", "a", "ne", "g", "ge", "gu", "geu", "pos", "vc"}

func (c Cond) String() string { return condNames[c&0xF] }

// Negate pairs conditions by bit 3.
func (c Cond) Negate() Cond { return c ^ 0x8 }

// FCond is the condition field of FBfcc/FBPfcc and MOVcc on fcc.
type FCond uint8

const (
	FCondNever FCond = 0x0
	FCondNE    FCond = 0x1
	FCondLG    FCond = 0x2
	FCondUL    FCond = 0x3
	FCondL     FCond = 0x4
	FCondUG    FCond = 0x5
	FCondG     FCond = 0x6
	FCondU     FCond = 0x7
	FCondA     FCond = 0x8
	FCondE     FCond = 0x9
	FCondUE    FCond = 0xA
	FCondGE    FCond = 0xB
	FCondUGE   FCond = 0xC
	FCondLE    FCond = 0xD
	FCondULE   FCond = 0xE
	FCondO     FCond = 0xF
)

var fcondNames = [16]string{"n", "ne", "lg", "ul", "l", "ug", "g", "u", "a", "e", "ue", "ge", "uge", "le", "ule", "o"}

func (c FCond) String() string { return fcondNames[c&0xF] }

func (c FCond) Negate() FCond { return c ^ 0x8 }

// CC selects the condition code register a branch or move reads.
type CC uint8

const (
	ICC CC = iota
	XCC
	FCC0
)

func (cc CC) String() string {
	switch cc {
	case ICC:
		return "%icc"
	case XCC:
		return "%xcc"
	}
	return "%fcc0"
}

// ConditionCode maps an integer LIR condition onto the branch condition.
func ConditionCode(c lir.Condition) Cond {
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
		return CondCS
	case lir.BE:
		return CondLEU
	case lir.AT:
		return CondGU
	case lir.AE:
		return CondCC
	}
	panic(lir.ShouldNotReachHere("condition %v", c))
}

// FloatConditionCode maps a float LIR condition onto fbfcc. When
// unorderedIsTrue the unordered outcome takes the branch.
func FloatConditionCode(c lir.Condition, unorderedIsTrue bool) FCond {
	type pair struct{ ordered, unordered FCond }
	table := map[lir.Condition]pair{
		lir.EQ: {FCondE, FCondUE},
		lir.NE: {FCondLG, FCondNE},
		lir.LT: {FCondL, FCondUL},
		lir.LE: {FCondLE, FCondULE},
		lir.GT: {FCondG, FCondUG},
		lir.GE: {FCondGE, FCondUGE},
	}
	p, ok := table[c]
	if !ok {
		panic(lir.ShouldNotReachHere("float condition %v", c))
	}
	if unorderedIsTrue {
		return p.unordered
	}
	return p.ordered
}

// Inst is one SPARC instruction. Register fields hold integer register
// numbers or Freg numbers depending on the mnemonic.
type Inst struct {
	Op  Mnemonic
	Rd  uint8
	Rs1 uint8
	Rs2 uint8

	Imm    int64
	HasImm bool

	Cond  uint8
	CC    CC
	Annul bool

	Label   asm.Label
	Linkage *lir.Linkage

	Trap   *lir.FrameState
	State  *lir.FrameState
	Reason *lir.DeoptimizationReason
}

var _ asm.Fragment = (*Inst)(nil)

func (i *Inst) Emit(ctx asm.Context) error {
	c, ok := ctx.(*Context)
	if !ok {
		return fmt.Errorf("sparc: instruction %s emitted into foreign context %T", i.Op, ctx)
	}
	return c.emitInst(i)
}

func regString(cl class, n uint8) string {
	if cl == gpr {
		return RegisterName(asm.Register(n))
	}
	return Freg(n).String()
}

func (i *Inst) info() opInfo { return opTable[i.Op] }

func (i *Inst) mnemonic() string {
	info := i.info()
	switch info.format {
	case fmtBranch:
		s := "b" + Cond(i.Cond).String()
		if i.Annul {
			s += ",a"
		}
		return s
	case fmtFBranch:
		s := "fb" + FCond(i.Cond).String()
		if i.Annul {
			s += ",a"
		}
		return s
	case fmtMovcc:
		if i.CC == FCC0 {
			return "mov" + FCond(i.Cond).String()
		}
		return "mov" + Cond(i.Cond).String()
	case fmtFMovcc:
		if i.CC == FCC0 {
			return info.name + FCond(i.Cond).String()
		}
		return info.name + Cond(i.Cond).String()
	}
	return info.name
}

func (i *Inst) src2() string {
	if i.HasImm {
		return fmt.Sprintf("%d", i.Imm)
	}
	return regString(i.info().rs2, i.Rs2)
}

func (i *Inst) address() string {
	base := RegisterName(asm.Register(i.Rs1))
	switch {
	case i.HasImm && i.Imm == 0:
		return "[" + base + "]"
	case i.HasImm && i.Imm < 0:
		return fmt.Sprintf("[%s - %d]", base, -i.Imm)
	case i.HasImm:
		return fmt.Sprintf("[%s + %d]", base, i.Imm)
	}
	return fmt.Sprintf("[%s + %s]", base, RegisterName(asm.Register(i.Rs2)))
}

func (i *Inst) String() string {
	info := i.info()
	var ops []string
	switch info.format {
	case fmtNop:
	case fmtArith, fmtShift:
		switch i.Op {
		case POPC:
			ops = []string{i.src2(), regString(info.rd, i.Rd)}
		default:
			ops = []string{regString(info.rs1, i.Rs1), i.src2(), regString(info.rd, i.Rd)}
		}
	case fmtMem:
		if strings.HasPrefix(info.name, "st") {
			ops = []string{regString(info.rd, i.Rd), i.address()}
		} else {
			ops = []string{i.address(), regString(info.rd, i.Rd)}
		}
	case fmtSethi:
		ops = []string{fmt.Sprintf("%%hi(%#x)", uint64(i.Imm)<<10), regString(gpr, i.Rd)}
	case fmtMembar:
		ops = []string{lir.Barrier(i.Imm).String()}
	case fmtMovcc, fmtFMovcc:
		ops = []string{i.CC.String(), i.src2(), regString(info.rd, i.Rd)}
	case fmtBranch:
		ops = []string{i.CC.String(), string(i.Label)}
	case fmtFBranch:
		ops = []string{"%fcc0", string(i.Label)}
	case fmtCall:
		if i.Linkage != nil {
			ops = []string{i.Linkage.Name}
		}
	case fmtFPop1, fmtVIS:
		if info.rs1 != none {
			ops = append(ops, regString(info.rs1, i.Rs1))
		}
		ops = append(ops, regString(info.rs2, i.Rs2), regString(info.rd, i.Rd))
	case fmtFCmp:
		ops = []string{regString(info.rs1, i.Rs1), regString(info.rs2, i.Rs2)}
	}
	if len(ops) == 0 {
		return i.mnemonic()
	}
	return i.mnemonic() + " " + strings.Join(ops, ", ")
}

func r(reg asm.Register) uint8 { return uint8(reg) }

// Arith builds rd = rs1 op rs2 for the integer arithmetic, logic and shift
// mnemonics.
func Arith(op Mnemonic, rs1, rs2, rd asm.Register) *Inst {
	return &Inst{Op: op, Rs1: r(rs1), Rs2: r(rs2), Rd: r(rd)}
}

// ArithImm builds rd = rs1 op simm13.
func ArithImm(op Mnemonic, rs1 asm.Register, imm int64, rd asm.Register) *Inst {
	return &Inst{Op: op, Rs1: r(rs1), Imm: imm, HasImm: true, Rd: r(rd)}
}

// Mov copies rs into rd (or %g0, rs, rd).
func Mov(rs, rd asm.Register) *Inst { return Arith(OR, G0, rs, rd) }

// Cmp sets the condition codes from rs1 - rs2.
func Cmp(rs1, rs2 asm.Register) *Inst { return Arith(SUBCC, rs1, rs2, G0) }

func CmpImm(rs1 asm.Register, imm int64) *Inst { return ArithImm(SUBCC, rs1, imm, G0) }

func Popc(rs, rd asm.Register) *Inst { return &Inst{Op: POPC, Rs2: r(rs), Rd: r(rd)} }

// Sethi sets rd to value with the low 10 bits cleared.
func Sethi(value uint32, rd asm.Register) *Inst {
	return &Inst{Op: SETHI, Imm: int64(value >> 10), HasImm: true, Rd: r(rd)}
}

// Load builds rd = [rs1 + simm13] for integer loads.
func Load(op Mnemonic, base asm.Register, disp int64, rd asm.Register) *Inst {
	return &Inst{Op: op, Rs1: r(base), Imm: disp, HasImm: true, Rd: r(rd)}
}

// LoadIndexed builds rd = [rs1 + rs2].
func LoadIndexed(op Mnemonic, base, index, rd asm.Register) *Inst {
	return &Inst{Op: op, Rs1: r(base), Rs2: r(index), Rd: r(rd)}
}

// Store builds [rs1 + simm13] = src.
func Store(op Mnemonic, src, base asm.Register, disp int64) *Inst {
	return &Inst{Op: op, Rd: r(src), Rs1: r(base), Imm: disp, HasImm: true}
}

func StoreIndexed(op Mnemonic, src, base, index asm.Register) *Inst {
	return &Inst{Op: op, Rd: r(src), Rs1: r(base), Rs2: r(index)}
}

// LoadFloat and StoreFloat move a single or double between memory and an
// FP register.
func LoadFloat(op Mnemonic, base asm.Register, disp int64, fd Freg) *Inst {
	return &Inst{Op: op, Rs1: r(base), Imm: disp, HasImm: true, Rd: uint8(fd)}
}

func LoadFloatIndexed(op Mnemonic, base, index asm.Register, fd Freg) *Inst {
	return &Inst{Op: op, Rs1: r(base), Rs2: r(index), Rd: uint8(fd)}
}

func StoreFloat(op Mnemonic, fs Freg, base asm.Register, disp int64) *Inst {
	return &Inst{Op: op, Rd: uint8(fs), Rs1: r(base), Imm: disp, HasImm: true}
}

func StoreFloatIndexed(op Mnemonic, fs Freg, base, index asm.Register) *Inst {
	return &Inst{Op: op, Rd: uint8(fs), Rs1: r(base), Rs2: r(index)}
}

// FPop builds a two source FP operation.
func FPop(op Mnemonic, fs1, fs2, fd Freg) *Inst {
	return &Inst{Op: op, Rs1: uint8(fs1), Rs2: uint8(fs2), Rd: uint8(fd)}
}

// FPop1 builds a single source FP operation (moves, negate, conversions).
func FPop1(op Mnemonic, fs, fd Freg) *Inst {
	return &Inst{Op: op, Rs2: uint8(fs), Rd: uint8(fd)}
}

func FCmp(op Mnemonic, fs1, fs2 Freg) *Inst {
	return &Inst{Op: op, Rs1: uint8(fs1), Rs2: uint8(fs2), CC: FCC0}
}

// FloatToInt moves FP register bits into an integer register.
func FloatToInt(op Mnemonic, fs Freg, rd asm.Register) *Inst {
	return &Inst{Op: op, Rs2: uint8(fs), Rd: r(rd)}
}

// IntToFloat moves integer register bits into an FP register.
func IntToFloat(op Mnemonic, rs asm.Register, fd Freg) *Inst {
	return &Inst{Op: op, Rs2: r(rs), Rd: uint8(fd)}
}

// Branch on integer condition codes. Each branch has a delay slot that the
// caller fills.
func Branch(cond Cond, cc CC, label asm.Label) *Inst {
	return &Inst{Op: BPCC, Cond: uint8(cond), CC: cc, Label: label}
}

func FBranch(cond FCond, label asm.Label) *Inst {
	return &Inst{Op: FBPFCC, Cond: uint8(cond), CC: FCC0, Label: label}
}

// MovCC sets rd to rs when cond holds.
func MovCC(cond uint8, cc CC, rs, rd asm.Register) *Inst {
	return &Inst{Op: MOVCC, Cond: cond, CC: cc, Rs2: r(rs), Rd: r(rd)}
}

// MovCCImm sets rd to a simm11 when cond holds.
func MovCCImm(cond uint8, cc CC, imm int64, rd asm.Register) *Inst {
	return &Inst{Op: MOVCC, Cond: cond, CC: cc, Imm: imm, HasImm: true, Rd: r(rd)}
}

func FMovCC(op Mnemonic, cond uint8, cc CC, fs, fd Freg) *Inst {
	return &Inst{Op: op, Cond: cond, CC: cc, Rs2: uint8(fs), Rd: uint8(fd)}
}

// CallNear emits call disp30; the displacement is bound at install time.
func CallNear(linkage *lir.Linkage, state *lir.FrameState) *Inst {
	return &Inst{Op: CALL, Linkage: linkage, State: state}
}

// Jmpl jumps to rs1 + simm13 and writes the return address to rd. When
// linkage is set the jump is a far call.
func Jmpl(rs1 asm.Register, disp int64, rd asm.Register) *Inst {
	return &Inst{Op: JMPL, Rs1: r(rs1), Imm: disp, HasImm: true, Rd: r(rd)}
}

// CallFar jumps through CallTarget and links %o7.
func CallFar(linkage *lir.Linkage, state *lir.FrameState) *Inst {
	i := Jmpl(CallTarget, 0, O7)
	i.Linkage = linkage
	i.State = state
	return i
}

// Ret returns from a windowed frame; the delay slot restores the window.
func Ret() *Inst { return Jmpl(I7, 8, G0) }

func Save(frameSize int64) *Inst { return ArithImm(SAVE, SP, -frameSize, SP) }

func Restore() *Inst { return Arith(RESTORE, G0, G0, G0) }

func Membar(mask lir.Barrier) *Inst {
	return &Inst{Op: MEMBAR, Imm: int64(mask), HasImm: true}
}

func Nop() *Inst { return &Inst{Op: NOP} }

// SetConst materializes value into rd using rd only.
func SetConst(value int64, rd asm.Register) asm.Group {
	switch {
	case lir.IsSimm(value, 13):
		return asm.Group{ArithImm(OR, G0, value, rd)}
	case value >= 0 && value <= 0xffffffff:
		g := asm.Group{Sethi(uint32(value), rd)}
		if lo := value & 0x3ff; lo != 0 {
			g = append(g, ArithImm(OR, rd, lo, rd))
		}
		return g
	case value < 0 && value >= -1<<31:
		// sethi clears the upper word; xor with a negative simm13 sets it.
		return asm.Group{
			Sethi(^uint32(value), rd),
			ArithImm(XOR, rd, -0x400|value&0x3ff, rd),
		}
	}
	hi := uint64(value) >> 32
	lo := uint64(value) & 0xffffffff
	g := SetConst(int64(hi), rd)
	return append(g,
		ArithImm(SLLX, rd, 12, rd),
		ArithImm(OR, rd, int64(lo>>20&0xfff), rd),
		ArithImm(SLLX, rd, 12, rd),
		ArithImm(OR, rd, int64(lo>>8&0xfff), rd),
		ArithImm(SLLX, rd, 8, rd),
		ArithImm(OR, rd, int64(lo&0xff), rd),
	)
}
