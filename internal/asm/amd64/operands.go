package amd64

import (
	"fmt"
	"strings"

	"github.com/tinyrange/lirgen/internal/asm"
)

type operandSize uint8

const (
	size8  operandSize = 1
	size16 operandSize = 2
	size32 operandSize = 4
	size64 operandSize = 8
)

// Operand is one of Reg, Xmm, Memory or Imm.
type Operand interface {
	String() string
	isOperand()
}

// Reg represents a general-purpose register with an explicit operand size.
type Reg struct {
	id   asm.Register
	size operandSize
}

// Reg64 constructs a 64-bit register operand backed by the provided register id.
func Reg64(id asm.Register) Reg { return Reg{id: id, size: size64} }

// Reg32 constructs a 32-bit register operand backed by the provided register id.
func Reg32(id asm.Register) Reg { return Reg{id: id, size: size32} }

// Reg16 constructs a 16-bit register operand backed by the provided register id.
func Reg16(id asm.Register) Reg { return Reg{id: id, size: size16} }

// Reg8 constructs an 8-bit register operand backed by the provided register id.
func Reg8(id asm.Register) Reg { return Reg{id: id, size: size8} }

// RegSized picks the width from a byte count (4 or 8).
func RegSized(id asm.Register, bytes int) Reg {
	if bytes == 4 {
		return Reg32(id)
	}
	return Reg64(id)
}

func (r Reg) ID() asm.Register { return r.id }
func (r Reg) Bytes() int       { return int(r.size) }

func (r Reg) String() string {
	col := 0
	switch r.size {
	case size32:
		col = 1
	case size16:
		col = 2
	case size8:
		col = 3
	}
	if r.id < RAX || r.id > R15 {
		return fmt.Sprintf("r?%d", r.id)
	}
	return gprNames[r.id][col]
}

func (Reg) isOperand() {}

func (x Xmm) String() string { return fmt.Sprintf("xmm%d", uint8(x)) }
func (Xmm) isOperand()       {}

// Imm is an immediate operand.
type Imm int64

func (i Imm) String() string {
	if i < 0 {
		return fmt.Sprintf("-%#x", -int64(i))
	}
	return fmt.Sprintf("%#x", int64(i))
}
func (Imm) isOperand() {}

// Memory describes an effective address used by memory operands.
type Memory struct {
	base     Reg
	index    Reg
	disp     int32
	scale    uint8
	hasBase  bool
	hasIndex bool
	// rip marks a reference into the data section at dataOffset.
	rip        bool
	dataOffset int
}

func (Memory) isOperand() {}

// Mem constructs a memory operand referencing [base].
func Mem(base Reg) Memory {
	return Memory{
		base:    base,
		scale:   1,
		hasBase: true,
	}
}

// MemIndex constructs a memory operand referencing [base + index*scale].
func MemIndex(base Reg, index Reg, scale uint8) Memory {
	if scale == 0 {
		scale = 1
	}
	return Memory{
		base:     base,
		index:    index,
		scale:    scale,
		hasBase:  true,
		hasIndex: true,
	}
}

// MemScaled references [index*scale + disp] without a base register.
func MemScaled(index Reg, scale uint8) Memory {
	if scale == 0 {
		scale = 1
	}
	return Memory{index: index, scale: scale, hasIndex: true}
}

// MemAbs references the absolute address disp.
func MemAbs(disp int32) Memory {
	return Memory{disp: disp, scale: 1}
}

// MemData references a constant in the data section through a RIP-relative
// displacement patched at finalize.
func MemData(dataOffset int) Memory {
	return Memory{rip: true, dataOffset: dataOffset, scale: 1}
}

// WithDisp returns a copy of the memory operand with the supplied displacement added.
func (m Memory) WithDisp(disp int32) Memory {
	m.disp = disp
	return m
}

func (m Memory) Base() (Reg, bool)  { return m.base, m.hasBase }
func (m Memory) Index() (Reg, bool) { return m.index, m.hasIndex }
func (m Memory) Scale() uint8       { return m.scale }
func (m Memory) Disp() int32        { return m.disp }
func (m Memory) IsData() bool       { return m.rip }
func (m Memory) DataOffset() int    { return m.dataOffset }

func (m Memory) validate() error {
	if m.rip {
		if m.hasBase || m.hasIndex {
			return fmt.Errorf("rip-relative operand cannot use base or index")
		}
		return nil
	}
	if m.hasBase && m.base.size != size64 {
		return fmt.Errorf("base register must be 64-bit")
	}
	if m.hasIndex {
		if m.index.size != size64 {
			return fmt.Errorf("index register must be 64-bit")
		}
		if m.index.id == RSP {
			return fmt.Errorf("rsp cannot be used as index register")
		}
		switch m.scale {
		case 1, 2, 4, 8:
		default:
			return fmt.Errorf("invalid index scale %d", m.scale)
		}
	}
	return nil
}

func (m Memory) String() string {
	if m.rip {
		return fmt.Sprintf("[rip + data%+#x]", m.dataOffset)
	}
	var parts []string
	if m.hasBase {
		parts = append(parts, m.base.String())
	}
	if m.hasIndex {
		parts = append(parts, fmt.Sprintf("%s*%d", m.index, m.scale))
	}
	s := strings.Join(parts, " + ")
	switch {
	case s == "":
		s = fmt.Sprintf("%#x", m.disp)
	case m.disp > 0:
		s += fmt.Sprintf(" + %#x", m.disp)
	case m.disp < 0:
		s += fmt.Sprintf(" - %#x", -int64(m.disp))
	}
	return "[" + s + "]"
}
