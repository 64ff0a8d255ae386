package sparc

import (
	"testing"

	"github.com/tinyrange/lirgen/internal/asm"
	"github.com/tinyrange/lirgen/internal/asm/testutil"
	"github.com/tinyrange/lirgen/internal/lir"
)

type sinkBuilder struct {
	fragments    []asm.Fragment
	expectations []testutil.Expectation
}

func (b *sinkBuilder) add(name, mnemonic string, frag asm.Fragment, contains ...string) {
	b.fragments = append(b.fragments, frag)
	b.expectations = append(b.expectations, testutil.Expectation{
		Name:     name,
		Mnemonic: mnemonic,
		Contains: contains,
	})
}

func TestKitchenSinkListingSPARC(t *testing.T) {
	var b sinkBuilder
	b.add("save", "save", Save(176), "%sp, -176, %sp")
	b.add("sethi", "sethi", Sethi(0x12345400, L0), "%hi(0x12345400), %l0")
	b.add("or_imm", "or", ArithImm(OR, L0, 0x78, L0), "%l0, 120, %l0")
	b.add("sub", "sub", Arith(SUB, G0, I0, L1), "%g0, %i0, %l1")
	b.add("mulx", "mulx", Arith(MULX, I0, I1, L2), "%i0, %i1, %l2")
	b.add("udivx", "udivx", Arith(UDIVX, I0, I1, L2))
	b.add("srl_zero", "srl", ArithImm(SRL, I0, 0, I0), "%i0, 0, %i0")
	b.add("srax", "srax", ArithImm(SRAX, I0, 63, I0))
	b.add("popc", "popc", Popc(L3, L4), "%l3, %l4")
	b.add("andcc", "andcc", Arith(ANDCC, I0, I1, G0))
	b.add("movne_xcc", "movne", MovCC(uint8(CondNE), XCC, L5, L6), "%xcc, %l5, %l6")
	b.add("stw", "stw", Store(STW, L0, FP, -8), "%l0, [%fp - 8]")
	b.add("ldd", "ldd", LoadFloatIndexed(LDDF, L0, L1, 8), "[%l0 + %l1], %f8")
	b.add("fdtoi", "fdtoi", FPop1(FDTOI, 8, 9), "%f8, %f9")
	b.add("fnegd", "fnegd", FPop1(FNEGD, 10, 12))
	b.add("fsqrtd", "fsqrtd", FPop1(FSQRTD, 40, 42), "%f40, %f42")
	b.add("fmovdcc", "fmovdue", FMovCC(FMOVDCC, uint8(FCondUE), FCC0, 8, 10), "%fcc0, %f8, %f10")
	b.add("movwtos", "movwtos", IntToFloat(MOVWTOS, L0, 11), "%l0, %f11")
	b.add("membar", "membar", Membar(lir.StoreLoad), "StoreLoad")
	b.add("call", "call", CallNear(&lir.Linkage{Name: "frem"}, nil), "frem")
	b.add("delay", "nop", Nop())
	b.add("ret", "jmpl", Ret())
	b.add("restore", "restore", Restore())

	prog, err := EmitProgram(asm.Group(b.fragments))
	if err != nil {
		t.Fatalf("EmitProgram failed: %v", err)
	}
	testutil.VerifyExpectations(t, testutil.FromListing(prog.Listing), b.expectations)
	if got := len(prog.Code()); got != 4*len(b.fragments) {
		t.Fatalf("code size = %d, want %d", got, 4*len(b.fragments))
	}
}
