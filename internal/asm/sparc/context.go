package sparc

import (
	"encoding/binary"
	"fmt"

	"github.com/tinyrange/lirgen/internal/asm"
)

// InstSize is the width of every SPARC instruction.
const InstSize = 4

// Placed is an instruction at its final code offset.
type Placed struct {
	Offset int
	Inst   *Inst
}

// Assembly is an assembled program together with its instruction stream.
type Assembly struct {
	asm.Program
	Insts  []Placed
	Labels map[asm.Label]int
}

// At returns the index of the instruction at offset.
func (a *Assembly) At(offset int) (int, bool) {
	if offset < 0 || offset%InstSize != 0 || offset/InstSize >= len(a.Insts) {
		return 0, false
	}
	return offset / InstSize, true
}

func Assemble(fragment asm.Fragment) (*Assembly, error) {
	ctx := NewContext()
	if err := fragment.Emit(ctx); err != nil {
		return nil, err
	}
	return ctx.finalize()
}

func EmitProgram(fragment asm.Fragment) (asm.Program, error) {
	a, err := Assemble(fragment)
	if err != nil {
		return asm.Program{}, err
	}
	return a.Program, nil
}

type Context struct {
	asm.Recorder

	text   []byte
	labels map[asm.Label]int
	jumps  []jumpPatch
	insts  []Placed
}

var _ asm.Context = (*Context)(nil)

type jumpPatch struct {
	label asm.Label
	pos   int
}

func NewContext() *Context {
	c := &Context{labels: make(map[asm.Label]int)}
	c.Order = binary.BigEndian
	return c
}

func (c *Context) Position() int {
	return len(c.text)
}

func (c *Context) GetLabel(label asm.Label) (int, bool) {
	pos, ok := c.labels[label]
	return pos, ok
}

func (c *Context) SetLabel(label asm.Label) {
	c.labels[label] = len(c.text)
	c.AddListing(asm.Line{Offset: len(c.text), Label: label})
}

func (c *Context) emitInst(i *Inst) error {
	enc, err := encodeInst(i)
	if err != nil {
		return fmt.Errorf("sparc: encode %s: %w", i, err)
	}

	pos := len(c.text)
	if i.Trap != nil {
		c.RecordImplicitException(pos, i.Trap)
	}
	if (i.Op == CALL || i.Op == JMPL) && i.Linkage != nil {
		c.RecordCall(pos, i.Linkage, i.Op == CALL, i.State)
		if i.Reason != nil {
			c.RecordInfopoint(pos, i.State, *i.Reason)
		}
	}

	c.text = binary.BigEndian.AppendUint32(c.text, enc.word)
	if enc.branch {
		c.jumps = append(c.jumps, jumpPatch{label: i.Label, pos: pos})
	}

	c.insts = append(c.insts, Placed{Offset: pos, Inst: i})
	c.AddListing(asm.Line{
		Offset:   pos,
		Size:     InstSize,
		Mnemonic: i.mnemonic(),
		Text:     i.String(),
	})
	return nil
}

func (c *Context) finalize() (*Assembly, error) {
	for _, j := range c.jumps {
		target, ok := c.labels[j.label]
		if !ok {
			return nil, fmt.Errorf("sparc: undefined label %q", j.label)
		}
		disp := (target - j.pos) / InstSize
		if disp < -1<<18 || disp >= 1<<18 {
			return nil, fmt.Errorf("sparc: branch to label %q out of range", j.label)
		}
		word := binary.BigEndian.Uint32(c.text[j.pos:])
		word |= uint32(disp) & 0x7ffff
		binary.BigEndian.PutUint32(c.text[j.pos:], word)
	}

	labels := make(map[asm.Label]int, len(c.labels))
	for k, v := range c.labels {
		labels[k] = v
	}
	return &Assembly{
		Program: asm.NewProgram(c.text, nil, &c.Recorder),
		Insts:   append([]Placed(nil), c.insts...),
		Labels:  labels,
	}, nil
}
