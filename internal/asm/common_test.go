package asm

import (
	"testing"

	"github.com/tinyrange/lirgen/internal/lir"
)

func TestRecorderDeduplicatesData(t *testing.T) {
	var rec Recorder
	a := rec.RecordDataReferenceInCode(lir.FloatConstant(2.5), 4)
	b := rec.RecordDataReferenceInCode(lir.DoubleConstant(-1), 8)
	c := rec.RecordDataReferenceInCode(lir.FloatConstant(2.5), 4)

	if a != c {
		t.Fatalf("duplicate constant placed twice: %d and %d", a, c)
	}
	if b%8 != 0 {
		t.Fatalf("double placed at unaligned offset %d", b)
	}
	bits, err := rec.ReadData(b, 8)
	if err != nil {
		t.Fatalf("ReadData failed: %v", err)
	}
	if got, want := bits, lir.DoubleConstant(-1).Bits; got != want {
		t.Fatalf("data=%#x, want %#x", got, want)
	}
}

func TestRecorderHonoursLargerAlignment(t *testing.T) {
	var rec Recorder
	rec.RecordDataReferenceInCode(lir.IntConstant(7), 4)
	off := rec.RecordDataReferenceInCode(lir.LongConstant(-1<<63), 16)
	if off%16 != 0 {
		t.Fatalf("offset %d not 16-byte aligned", off)
	}
}

func TestImplicitExceptionRequiresState(t *testing.T) {
	var rec Recorder
	err := lir.Catch(func() {
		rec.RecordImplicitException(4, nil)
	})
	if !lir.IsKind(err, lir.ErrShouldNotReachHere) {
		t.Fatalf("err=%v, want should-not-reach-here", err)
	}
}

func TestProgramLayout(t *testing.T) {
	var rec Recorder
	state := &lir.FrameState{Method: "m", BCI: 3}
	rec.RecordImplicitException(2, state)
	rec.RecordDataReferenceInCode(lir.LongConstant(0x1122334455667788), 8)
	prog := NewProgram(make([]byte, 21), nil, &rec)

	if got, want := prog.DataBase(), 32; got != want {
		t.Fatalf("DataBase()=%d, want %d", got, want)
	}
	if got, want := len(prog.Bytes()), 40; got != want {
		t.Fatalf("len(Bytes())=%d, want %d", got, want)
	}
	rec2, ok := prog.ExceptionAt(2)
	if !ok || rec2.State != state {
		t.Fatalf("ExceptionAt(2)=%v,%v, want the recorded state", rec2, ok)
	}
	if _, ok := prog.ExceptionAt(3); ok {
		t.Fatalf("unexpected exception record at 3")
	}
}

func TestGroupPropagatesLabelErrors(t *testing.T) {
	ctx := &labelOnly{labels: map[Label]int{}}
	err := Group{MarkLabel("a"), MarkLabel("a")}.Emit(ctx)
	if err == nil {
		t.Fatalf("expected duplicate label error")
	}
}

type labelOnly struct {
	Recorder
	labels map[Label]int
}

func (c *labelOnly) Position() int { return 0 }
func (c *labelOnly) GetLabel(l Label) (int, bool) {
	pos, ok := c.labels[l]
	return pos, ok
}
func (c *labelOnly) SetLabel(l Label) { c.labels[l] = 0 }
