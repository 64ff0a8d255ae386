package amd64

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/tinyrange/lirgen/internal/asm"
)

// Placed is an instruction at its final code offset.
type Placed struct {
	Offset int
	Size   int
	Inst   *Inst
}

// Assembly is an assembled program together with the instruction stream
// that produced it. Machine executes the stream.
type Assembly struct {
	asm.Program
	Insts  []Placed
	Labels map[asm.Label]int
}

// At returns the index of the instruction starting at offset.
func (a *Assembly) At(offset int) (int, bool) {
	lo, hi := 0, len(a.Insts)
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case a.Insts[mid].Offset == offset:
			return mid, true
		case a.Insts[mid].Offset < offset:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return 0, false
}

// Assemble emits fragment into a fresh context and resolves every label and
// data reference.
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

func EmitBytes(fragment asm.Fragment) ([]byte, error) {
	prog, err := EmitProgram(fragment)
	if err != nil {
		return nil, err
	}
	return prog.Bytes(), nil
}

type Context struct {
	asm.Recorder

	text        []byte
	labels      map[asm.Label]int
	jumps       []jumpPatch
	dataPatches []dataPatch
	relocations []int
	insts       []Placed
}

var _ asm.Context = (*Context)(nil)

type jumpPatch struct {
	label asm.Label
	pos   int
}

type dataPatch struct {
	pos        int
	end        int
	dataOffset int
}

func NewContext() *Context {
	return &Context{
		labels: make(map[asm.Label]int),
	}
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
		return fmt.Errorf("amd64: encode %s: %w", i, err)
	}

	pos := len(c.text)
	if i.Trap != nil {
		c.RecordImplicitException(pos, i.Trap)
	}
	if i.Op == CALL && i.Linkage != nil {
		c.RecordCall(pos, i.Linkage, i.Dst == nil, i.State)
		if i.Reason != nil {
			c.RecordInfopoint(pos, i.State, *i.Reason)
		}
	}

	c.text = append(c.text, enc.code...)
	end := len(c.text)

	if enc.relPos >= 0 {
		c.jumps = append(c.jumps, jumpPatch{label: i.Label, pos: pos + enc.relPos})
	}
	if enc.dispPos >= 0 {
		c.dataPatches = append(c.dataPatches, dataPatch{pos: pos + enc.dispPos, end: end, dataOffset: enc.dataOffset})
	}
	if enc.immPos >= 0 {
		c.relocations = append(c.relocations, pos+enc.immPos)
	}

	c.insts = append(c.insts, Placed{Offset: pos, Size: len(enc.code), Inst: i})
	c.AddListing(asm.Line{
		Offset:   pos,
		Size:     len(enc.code),
		Mnemonic: i.mnemonic(),
		Text:     i.String(),
	})
	return nil
}

func (c *Context) finalize() (*Assembly, error) {
	for _, j := range c.jumps {
		target, ok := c.labels[j.label]
		if !ok {
			return nil, fmt.Errorf("amd64: undefined label %q", j.label)
		}
		rel := target - (j.pos + 4)
		if rel < math.MinInt32 || rel > math.MaxInt32 {
			return nil, fmt.Errorf("amd64: jump to label %q out of range", j.label)
		}
		binary.LittleEndian.PutUint32(c.text[j.pos:j.pos+4], uint32(int32(rel)))
	}

	prog := asm.NewProgram(c.text, c.relocations, &c.Recorder)
	for _, p := range c.dataPatches {
		rel := prog.DataBase() + p.dataOffset - p.end
		binary.LittleEndian.PutUint32(c.text[p.pos:p.pos+4], uint32(int32(rel)))
	}
	// Rebuild with the patched displacements.
	prog = asm.NewProgram(c.text, c.relocations, &c.Recorder)

	labels := make(map[asm.Label]int, len(c.labels))
	for k, v := range c.labels {
		labels[k] = v
	}
	return &Assembly{
		Program: prog,
		Insts:   append([]Placed(nil), c.insts...),
		Labels:  labels,
	}, nil
}
