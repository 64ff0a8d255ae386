package asm

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/tinyrange/lirgen/internal/lir"
)

// Register is an architecture-specific register number.
type Register int

// Context is the architecture-neutral face of an assembler. Instructions
// emit themselves into it; the metadata recorders are shared by all
// architectures.
type Context interface {
	// Position is the byte offset the next instruction is emitted at.
	Position() int

	GetLabel(label Label) (int, bool)
	SetLabel(label Label)

	// RecordImplicitException registers offset as a trap site that resumes
	// through state.
	RecordImplicitException(offset int, state *lir.FrameState)
	// RecordDataReferenceInCode places c in the data section and returns
	// its offset there.
	RecordDataReferenceInCode(c lir.Constant, alignment int) int
	RecordCall(offset int, linkage *lir.Linkage, near bool, state *lir.FrameState)
	RecordInfopoint(offset int, state *lir.FrameState, reason lir.DeoptimizationReason)
}

type Fragment interface {
	Emit(ctx Context) error
}

type Group []Fragment

var (
	_ Fragment = Group{}
)

func (g Group) Emit(ctx Context) error {
	for _, frag := range g {
		if err := frag.Emit(ctx); err != nil {
			return err
		}
	}
	return nil
}

type Label string

type labelDef struct {
	label Label
}

func MarkLabel(label Label) Fragment {
	return &labelDef{label: label}
}

func (l *labelDef) Emit(ctx Context) error {
	if _, exists := ctx.GetLabel(l.label); exists {
		return fmt.Errorf("label %q already defined", l.label)
	}
	ctx.SetLabel(l.label)
	return nil
}

// ExceptionRecord maps a trapping instruction to its deoptimization state.
type ExceptionRecord struct {
	Offset int
	State  *lir.FrameState
}

// DataReference is a constant placed in the data section.
type DataReference struct {
	DataOffset int
	Constant   lir.Constant
	Alignment  int
}

// CallSite records a call to code outside the compilation.
type CallSite struct {
	Offset  int
	Linkage *lir.Linkage
	Near    bool
	State   *lir.FrameState
}

// Infopoint records a deoptimization request.
type Infopoint struct {
	Offset int
	State  *lir.FrameState
	Reason lir.DeoptimizationReason
}

// Line is one entry of the structured listing.
type Line struct {
	Offset   int
	Size     int
	Mnemonic string
	Text     string
	Label    Label
}

func (l Line) String() string {
	if l.Label != "" && l.Mnemonic == "" {
		return fmt.Sprintf("%s:", l.Label)
	}
	return fmt.Sprintf("%6x:  %s", l.Offset, l.Text)
}

// Recorder implements the metadata half of Context. Architecture contexts
// embed it.
type Recorder struct {
	// Order is the byte order of the data section; nil means little endian.
	Order binary.ByteOrder

	exceptions []ExceptionRecord
	dataRefs   []DataReference
	data       []byte
	dataIndex  map[dataKey]int
	calls      []CallSite
	infopoints []Infopoint
	listing    []Line
}

type dataKey struct {
	bits  uint64
	width int
}

func (r *Recorder) RecordImplicitException(offset int, state *lir.FrameState) {
	if state == nil {
		panic(lir.ShouldNotReachHere("implicit exception at %#x without frame state", offset))
	}
	r.exceptions = append(r.exceptions, ExceptionRecord{Offset: offset, State: state})
}

func (r *Recorder) RecordDataReferenceInCode(c lir.Constant, alignment int) int {
	width := c.K.Bits() / 8
	if alignment < width {
		alignment = width
	}
	key := dataKey{bits: c.Bits, width: width}
	if r.dataIndex == nil {
		r.dataIndex = make(map[dataKey]int)
	}
	if off, ok := r.dataIndex[key]; ok && off%alignment == 0 {
		return off
	}
	off := alignTo(len(r.data), alignment)
	r.data = append(r.data, make([]byte, off-len(r.data)+width)...)
	switch width {
	case 4:
		r.order().PutUint32(r.data[off:], uint32(c.Bits))
	case 8:
		r.order().PutUint64(r.data[off:], c.Bits)
	default:
		panic(lir.ShouldNotReachHere("data reference to %s", c))
	}
	r.dataIndex[key] = off
	r.dataRefs = append(r.dataRefs, DataReference{DataOffset: off, Constant: c, Alignment: alignment})
	return off
}

func (r *Recorder) order() binary.ByteOrder {
	if r.Order == nil {
		return binary.LittleEndian
	}
	return r.Order
}

func (r *Recorder) RecordCall(offset int, linkage *lir.Linkage, near bool, state *lir.FrameState) {
	r.calls = append(r.calls, CallSite{Offset: offset, Linkage: linkage, Near: near, State: state})
}

func (r *Recorder) RecordInfopoint(offset int, state *lir.FrameState, reason lir.DeoptimizationReason) {
	r.infopoints = append(r.infopoints, Infopoint{Offset: offset, State: state, Reason: reason})
}

// AddListing appends a listing line. Architecture contexts call it for every
// instruction they encode.
func (r *Recorder) AddListing(line Line) {
	r.listing = append(r.listing, line)
}

// DataSection returns the current data section contents.
func (r *Recorder) DataSection() []byte {
	return r.data
}

// ReadData returns the bits stored at a data section offset.
func (r *Recorder) ReadData(offset, width int) (uint64, error) {
	if offset < 0 || offset+width > len(r.data) {
		return 0, fmt.Errorf("asm: data offset %d out of range", offset)
	}
	switch width {
	case 4:
		return uint64(r.order().Uint32(r.data[offset:])), nil
	case 8:
		return r.order().Uint64(r.data[offset:]), nil
	}
	return 0, fmt.Errorf("asm: unsupported data width %d", width)
}

// Program is the finished output of one compilation.
type Program struct {
	order       binary.ByteOrder
	code        []byte
	data        []byte
	dataBase    int
	relocations []int

	Exceptions []ExceptionRecord
	DataRefs   []DataReference
	Calls      []CallSite
	Infopoints []Infopoint
	Listing    []Line
}

// NewProgram assembles the final program from encoded text and the
// recorder's metadata. The data section is placed after the code, aligned to
// 16 bytes.
func NewProgram(code []byte, relocations []int, r *Recorder) Program {
	p := Program{
		code:        append([]byte(nil), code...),
		relocations: append([]int(nil), relocations...),
		dataBase:    alignTo(len(code), 16),
		order:       binary.LittleEndian,
	}
	if r != nil {
		p.order = r.order()
		p.data = append([]byte(nil), r.data...)
		p.Exceptions = append([]ExceptionRecord(nil), r.exceptions...)
		p.DataRefs = append([]DataReference(nil), r.dataRefs...)
		p.Calls = append([]CallSite(nil), r.calls...)
		p.Infopoints = append([]Infopoint(nil), r.infopoints...)
		p.Listing = append([]Line(nil), r.listing...)
	}
	return p
}

// Code returns the instruction bytes only.
func (p Program) Code() []byte {
	return append([]byte(nil), p.code...)
}

// Bytes returns code followed by the aligned data section.
func (p Program) Bytes() []byte {
	out := make([]byte, p.dataBase, p.dataBase+len(p.data))
	copy(out, p.code)
	return append(out, p.data...)
}

// ByteOrder is the byte order of code words and data.
func (p Program) ByteOrder() binary.ByteOrder {
	if p.order == nil {
		return binary.LittleEndian
	}
	return p.order
}

// DataBase is the offset of the data section within Bytes.
func (p Program) DataBase() int {
	return p.dataBase
}

// Relocations lists offsets of 64-bit absolute values that must be
// adjusted by the load address (object constants).
func (p Program) Relocations() []int {
	return append([]int(nil), p.relocations...)
}

func (p Program) RelocatedCopy(base uintptr) []byte {
	out := p.Bytes()
	for _, off := range p.relocations {
		if off < 0 || off+8 > len(out) {
			continue
		}
		val := p.ByteOrder().Uint64(out[off:])
		p.ByteOrder().PutUint64(out[off:], val+uint64(base))
	}
	return out
}

// ExceptionAt returns the record for a trap at offset.
func (p Program) ExceptionAt(offset int) (ExceptionRecord, bool) {
	for _, e := range p.Exceptions {
		if e.Offset == offset {
			return e, true
		}
	}
	return ExceptionRecord{}, false
}

// String renders the listing.
func (p Program) String() string {
	var sb strings.Builder
	for _, line := range p.Listing {
		sb.WriteString(line.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

func alignTo(value, boundary int) int {
	if boundary <= 0 {
		return value
	}
	mask := boundary - 1
	return (value + mask) &^ mask
}
