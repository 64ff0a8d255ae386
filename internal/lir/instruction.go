package lir

import (
	"fmt"
	"strings"
)

// Label names a block. Branches refer to blocks by label.
type Label string

// OperandMode is the role an operand plays in an instruction.
type OperandMode uint8

const (
	// Def operands are written by the instruction.
	Def OperandMode = iota
	// Use operands are read at the start of the instruction; the allocator
	// may assign the same register to a Def.
	Use
	// Alive operands are read and must survive until the instruction ends,
	// so they never share a register with a Def or Temp.
	Alive
	// Temp operands are scratch registers clobbered by the instruction.
	Temp
)

func (m OperandMode) String() string {
	switch m {
	case Def:
		return "def"
	case Use:
		return "use"
	case Alive:
		return "alive"
	case Temp:
		return "temp"
	}
	return "?"
}

// Instruction is implemented by every LIR instruction of every backend. The
// allocator reads and rewrites operands through the returned pointers.
type Instruction interface {
	Name() string
	DefinedOperands() []*Value
	UsedOperands() []*Value
	AliveOperands() []*Value
	TemporaryOperands() []*Value
	// FrameState is non-nil when the instruction may trap and must record
	// an implicit exception.
	FrameState() *FrameState
}

// Operands is a helper for building operand role lists.
func Operands(ptrs ...*Value) []*Value { return ptrs }

// VisitOperands calls fn for every operand of inst by role, in the order
// defs, uses, alives, temps. Register components of an Address are visited
// with the role of the address itself.
func VisitOperands(inst Instruction, fn func(v *Value, mode OperandMode)) {
	visit := func(list []*Value, mode OperandMode) {
		for _, p := range list {
			if addr, ok := (*p).(Address); ok {
				fn(&addr.Base, mode)
				fn(&addr.Index, mode)
				*p = addr
				continue
			}
			fn(p, mode)
		}
	}
	visit(inst.DefinedOperands(), Def)
	visit(inst.UsedOperands(), Use)
	visit(inst.AliveOperands(), Alive)
	visit(inst.TemporaryOperands(), Temp)
}

// Format renders inst with its operands for listings and test failures.
func Format(inst Instruction) string {
	var sb strings.Builder
	defs := inst.DefinedOperands()
	for i, d := range defs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString((*d).String())
	}
	if len(defs) > 0 {
		sb.WriteString(" = ")
	}
	sb.WriteString(inst.Name())
	var rest []string
	for _, u := range inst.UsedOperands() {
		rest = append(rest, (*u).String())
	}
	for _, a := range inst.AliveOperands() {
		rest = append(rest, "alive:"+(*a).String())
	}
	for _, t := range inst.TemporaryOperands() {
		rest = append(rest, "temp:"+(*t).String())
	}
	if len(rest) > 0 {
		sb.WriteByte(' ')
		sb.WriteString(strings.Join(rest, ", "))
	}
	if st := inst.FrameState(); st != nil {
		fmt.Fprintf(&sb, " state=%s", st)
	}
	return sb.String()
}

// Block is a straight-line instruction sequence entered only at its label.
type Block struct {
	Label        Label
	Instructions []Instruction
}

// LIR is the ordered list of blocks of one compilation. Block order is the
// final code layout.
type LIR struct {
	Blocks []*Block
}

// StartBlock appends an empty block and makes it current.
func (l *LIR) StartBlock(label Label) *Block {
	for _, b := range l.Blocks {
		if b.Label == label {
			panic(ShouldNotReachHere("duplicate block label %q", label))
		}
	}
	b := &Block{Label: label}
	l.Blocks = append(l.Blocks, b)
	return b
}

// Append adds inst to the current block, starting an entry block if needed.
func (l *LIR) Append(inst Instruction) {
	if len(l.Blocks) == 0 {
		l.StartBlock("entry")
	}
	cur := l.Blocks[len(l.Blocks)-1]
	cur.Instructions = append(cur.Instructions, inst)
}

// Current returns the block instructions are appended to.
func (l *LIR) Current() *Block {
	if len(l.Blocks) == 0 {
		return nil
	}
	return l.Blocks[len(l.Blocks)-1]
}

// Successor returns the label of the block laid out after blocks[index], or
// "" for the last block.
func (l *LIR) Successor(index int) Label {
	if index+1 < len(l.Blocks) {
		return l.Blocks[index+1].Label
	}
	return ""
}

// Len counts instructions across all blocks.
func (l *LIR) Len() int {
	n := 0
	for _, b := range l.Blocks {
		n += len(b.Instructions)
	}
	return n
}

func (l *LIR) String() string {
	var sb strings.Builder
	for _, b := range l.Blocks {
		fmt.Fprintf(&sb, "%s:\n", b.Label)
		for _, inst := range b.Instructions {
			fmt.Fprintf(&sb, "  %s\n", Format(inst))
		}
	}
	return sb.String()
}
