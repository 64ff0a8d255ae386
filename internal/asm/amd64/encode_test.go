package amd64

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/tinyrange/lirgen/internal/asm"
	"github.com/tinyrange/lirgen/internal/lir"
)

func expectCode(t *testing.T, frag asm.Fragment, wantHex string) {
	t.Helper()
	want, err := hex.DecodeString(wantHex)
	if err != nil {
		t.Fatalf("invalid hex %q: %v", wantHex, err)
	}
	prog, err := EmitProgram(frag)
	if err != nil {
		t.Fatalf("EmitProgram failed: %v", err)
	}
	if got := prog.Code(); !bytes.Equal(got, want) {
		t.Fatalf("unexpected encoding:\n got: %x\nwant: %x", got, want)
	}
}

func TestEncodings(t *testing.T) {
	tests := []struct {
		name string
		frag asm.Fragment
		want string
	}{
		{"movabs", MovImm(8, RAX, 0x1122334455667788), "48b88877665544332211"},
		{"mov_imm32", MovImm(4, RCX, 7), "b907000000"},
		{"mov_imm_sext", MovImm(8, RDX, -1), "48c7c2ffffffff"},
		{"mov_r9_r10", Binary(MOV, 8, Reg64(R9), Reg64(R10)), "4d89d1"},
		{"mov_store_rsp", Binary(MOV, 8, Mem(Reg64(RSP)).WithDisp(0x28), Reg64(RAX)), "4889442428"},
		{"mov_load_r13", Binary(MOV, 8, Reg64(RAX), Mem(Reg64(R13))), "498b4500"},
		{"mov_abs", Binary(MOV, 4, Reg32(RAX), MemAbs(0x1000)), "8b042500100000"},
		{"add_imm8", BinaryImm(ADD, 4, Reg32(RBX), 1), "83c301"},
		{"sub_imm32", BinaryImm(SUB, 8, Reg64(RAX), 0x1000), "4881e800100000"},
		{"cmp_reg", Binary(CMP, 4, Reg32(RAX), Reg32(RCX)), "39c8"},
		{"idiv32", Unary(IDIV, 4, Reg32(RBX)), "f7fb"},
		{"cqo", SignExtendAccumulator(8), "4899"},
		{"shl_cl", Shift(SHL, 8, Reg64(RAX), -1), "48d3e0"},
		{"lock_add", LockAddStack(), "f083042400"},
		{"sete_sil", SetCC(CondE, RSI), "400f94c6"},
		{"addsd", SSE(ADDS, 8, XMM0, XMM1), "f20f58c1"},
		{"addss_high", SSE(ADDS, 4, XMM9, XMM1), "f3440f58c9"},
		{"movq_to_xmm", MoveBits(8, XMM1, Reg64(RAX)), "66480f6ec8"},
		{"cvttsd2si64", FloatToInt(8, RAX, XMM1, 8), "f2480f2cc1"},
		{"popcnt", Bits(POPCNT, 8, RAX, Reg64(RBX)), "f3480fb8c3"},
		{"bswap32", Unary(BSWAP, 4, Reg32(RCX)), "0fc9"},
		{"push_r12", Push(R12), "4154"},
		{"pop_rbx", Pop(RBX), "5b"},
		{"ret", Ret(), "c3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectCode(t, tt.frag, tt.want)
		})
	}
}

func TestJumpPatching(t *testing.T) {
	expectCode(t, asm.Group{
		Jmp("done"),
		asm.MarkLabel("back"),
		Ret(),
		asm.MarkLabel("done"),
		Jcc(CondE, "back"),
	}, "e901000000"+"c3"+"0f84f9ffffff")
}

func TestRIPRelativeDataPatch(t *testing.T) {
	a, err := Assemble(dataLoad{dst: XMM0, c: lir.ConstantFromBits(lir.Float64, 0x3ff8000000000000)})
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	// 8 bytes of code, data at 16: disp = 16 - 8.
	if got, want := hex.EncodeToString(a.Code()), "f20f100508000000"; got != want {
		t.Fatalf("code=%s, want %s", got, want)
	}
	if got, want := len(a.DataRefs), 1; got != want {
		t.Fatalf("data refs=%d, want %d", got, want)
	}
}

func TestUndefinedLabel(t *testing.T) {
	if _, err := EmitProgram(Jmp("nowhere")); err == nil {
		t.Fatalf("expected undefined label error")
	}
}

func TestRejectsRSPIndex(t *testing.T) {
	if _, err := EmitProgram(Binary(MOV, 8, Reg64(RAX), MemIndex(Reg64(RBX), Reg64(RSP), 1))); err == nil {
		t.Fatalf("expected rsp index error")
	}
}

func TestListing(t *testing.T) {
	a, err := Assemble(asm.Group{
		asm.MarkLabel("entry"),
		BinaryImm(ADD, 4, Reg32(RAX), 3),
		Ret(),
	})
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if got, want := len(a.Listing), 3; got != want {
		t.Fatalf("listing lines=%d, want %d", got, want)
	}
	if got, want := a.Listing[1].Text, "add eax, 0x3"; got != want {
		t.Fatalf("listing text=%q, want %q", got, want)
	}
}
