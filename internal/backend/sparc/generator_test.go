package sparc

import (
	"errors"
	"math"
	"testing"

	"github.com/tinyrange/lirgen/internal/asm/testutil"
	"github.com/tinyrange/lirgen/internal/backend"
	"github.com/tinyrange/lirgen/internal/lir"
)

func compile(t *testing.T, target *lir.Target, build func(g backend.Generator)) backend.Code {
	t.Helper()
	if target == nil {
		target = lir.SPARC(true)
	}
	code, err := backend.Compile(backend.Options{Target: target}, build)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	return code
}

func simulate(t *testing.T, code backend.Code, args ...lir.Constant) lir.Constant {
	t.Helper()
	got, err := code.Simulate(args, backend.DefaultRuntime().Stubs())
	if err != nil {
		t.Fatalf("Simulate(%v) failed: %v\n%s", args, err, code.Program())
	}
	return got
}

func withoutVIS3() *lir.Target {
	target := lir.SPARC(true)
	delete(target.Features, "vis3")
	return target
}

func isNaN(c lir.Constant) bool {
	switch c.K {
	case lir.Float32:
		return c.AsFloat() != c.AsFloat()
	case lir.Float64:
		return math.IsNaN(c.AsDouble())
	}
	return false
}

func branchProgram(k lir.Kind, cond lir.Condition, unorderedIsTrue, swap bool) func(g backend.Generator) {
	return func(g backend.Generator) {
		g.StartBlock("entry")
		x := g.Parameter(0, k)
		y := g.Parameter(1, k)
		if swap {
			g.EmitCompareBranch(y, x, cond.Mirror(), unorderedIsTrue, "yes", "no")
		} else {
			g.EmitCompareBranch(x, y, cond, unorderedIsTrue, "yes", "no")
		}
		g.StartBlock("yes")
		g.EmitReturn(lir.IntConstant(1))
		g.StartBlock("no")
		g.EmitReturn(lir.IntConstant(0))
	}
}

func TestCompareBranchMirrorInvariant(t *testing.T) {
	conds := []lir.Condition{lir.EQ, lir.NE, lir.LT, lir.LE, lir.GT, lir.GE, lir.BT, lir.AE}
	pairs := [][2]int32{{1, 2}, {2, 2}, {3, 2}, {-1, 2}, {math.MinInt32, math.MaxInt32}}
	for _, cond := range conds {
		direct := compile(t, nil, branchProgram(lir.Int32, cond, false, false))
		mirrored := compile(t, nil, branchProgram(lir.Int32, cond, false, true))
		for _, p := range pairs {
			x, y := lir.IntConstant(p[0]), lir.IntConstant(p[1])
			want := int32(0)
			if cond.Fold(x, y, false) {
				want = 1
			}
			if got := simulate(t, direct, x, y).AsInt(); got != want {
				t.Fatalf("%d %s %d = %d, want %d", p[0], cond, p[1], got, want)
			}
			if got := simulate(t, mirrored, x, y).AsInt(); got != want {
				t.Fatalf("%d %s %d = %d, want %d", p[1], cond.Mirror(), p[0], got, want)
			}
		}
	}
}

func TestCompareBranchUnordered(t *testing.T) {
	nan := lir.DoubleConstant(math.NaN())
	one := lir.DoubleConstant(1)
	for _, cond := range []lir.Condition{lir.EQ, lir.NE, lir.LT, lir.GE} {
		for _, unorderedIsTrue := range []bool{false, true} {
			code := compile(t, nil, branchProgram(lir.Float64, cond, unorderedIsTrue, false))
			want := int32(0)
			if unorderedIsTrue {
				want = 1
			}
			if got := simulate(t, code, nan, one).AsInt(); got != want {
				t.Fatalf("NaN %s 1 (unorderedIsTrue=%v) = %d, want %d", cond, unorderedIsTrue, got, want)
			}
			ordered := int32(0)
			if cond.Fold(one, one, false) {
				ordered = 1
			}
			if got := simulate(t, code, one, one).AsInt(); got != ordered {
				t.Fatalf("1 %s 1 = %d, want %d", cond, got, ordered)
			}
		}
	}
}

func TestAddressMaterializesWideDisplacement(t *testing.T) {
	g := New(backend.Options{Target: lir.SPARC(true)})
	g.StartBlock("entry")
	addr := g.EmitAddress(lir.LongConstant(0x1000), 0, lir.IntConstant(4), 8)
	if !addr.HasBase() || addr.Displacement != 0 {
		t.Fatalf("address %s, want the folded 0x1020 in a register", addr)
	}
	if g.LIR().Len() == 0 {
		t.Fatalf("no instructions emitted for a displacement beyond simm13")
	}

	addr = g.EmitAddress(lir.LongConstant(0x100), 0, lir.IntConstant(4), 8)
	if addr.HasBase() || addr.HasIndex() || addr.Displacement != 0x120 {
		t.Fatalf("address %s, want an absolute 0x120", addr)
	}

	base := g.Parameter(0, lir.Object)
	index := g.Parameter(1, lir.Int64)
	addr = g.EmitAddress(base, 16, index, 8)
	if addr.HasIndex() || addr.Displacement != 16 || addr.Base == lir.Value(base) {
		t.Fatalf("scaled address %s, want base plus scaled index folded into the base", addr)
	}
}

func TestLoadStoreRoundTrip(t *testing.T) {
	for _, target := range []*lir.Target{lir.SPARC(true), withoutVIS3()} {
		code := compile(t, target, func(g backend.Generator) {
			g.StartBlock("entry")
			p := g.Parameter(0, lir.Object)
			x := g.Parameter(1, lir.Int64)
			i := g.Parameter(2, lir.Int64)
			addr := g.EmitAddress(p, 8, i, 8)
			g.EmitStore(lir.Int64, addr, x, nil)
			g.EmitStore(lir.Int32, g.EmitAddress(p, 0, lir.IllegalValue, 0), lir.IntConstant(-2), nil)
			g.EmitStore(lir.Float64, g.EmitAddress(p, 128, lir.IllegalValue, 0), lir.DoubleConstant(0), nil)
			v := g.EmitLoad(lir.Int64, addr, nil)
			w := g.EmitLoad(lir.Int32, g.EmitAddress(p, 0, lir.IllegalValue, 0), nil)
			z := g.EmitLoad(lir.Float64, g.EmitAddress(p, 128, lir.IllegalValue, 0), nil)
			sum := g.EmitBinary(lir.LAdd, v, g.EmitUnary(lir.I2L, w), nil)
			g.EmitReturn(g.EmitBinary(lir.LAdd, sum, g.EmitUnary(lir.D2L, z), nil))
		})
		got := simulate(t, code, lir.ObjectConstant(0x10000), lir.LongConstant(40), lir.LongConstant(3))
		if got.AsLong() != 38 {
			t.Fatalf("round trip = %d, want 38", got.AsLong())
		}
	}
}

func TestNullCheckTraps(t *testing.T) {
	state := &lir.FrameState{Method: "get", BCI: 4}
	code := compile(t, nil, func(g backend.Generator) {
		g.StartBlock("entry")
		p := g.Parameter(0, lir.Object)
		g.EmitNullCheck(g.EmitAddress(p, 0, lir.IllegalValue, 0), state)
		g.EmitReturn(lir.IntConstant(1))
	})
	_, err := code.Simulate([]lir.Constant{lir.NullConstant()}, nil)
	var trap *backend.TrapError
	if !errors.As(err, &trap) || trap.State != state {
		t.Fatalf("Simulate(null)=%v, want a trap resuming at %s", err, state)
	}
	if got := simulate(t, code, lir.ObjectConstant(0x20000)).AsInt(); got != 1 {
		t.Fatalf("Simulate(non-null) = %d, want 1", got)
	}
}

func TestDivisionByConstantZeroTraps(t *testing.T) {
	for _, tc := range []struct {
		op   lir.Op
		k    lir.Kind
		zero lir.Constant
		arg  lir.Constant
	}{
		{lir.IDiv, lir.Int32, lir.IntConstant(0), lir.IntConstant(7)},
		{lir.LRem, lir.Int64, lir.LongConstant(0), lir.LongConstant(7)},
		{lir.IUDiv, lir.Int32, lir.IntConstant(0), lir.IntConstant(7)},
	} {
		state := &lir.FrameState{Method: tc.op.String(), BCI: 1}
		code := compile(t, nil, func(g backend.Generator) {
			g.StartBlock("entry")
			x := g.Parameter(0, tc.k)
			g.EmitReturn(g.EmitBinary(tc.op, x, tc.zero, state))
		})
		prog := code.Program()
		if len(prog.Exceptions) != 1 {
			t.Fatalf("%s: %d exception records, want 1", tc.op, len(prog.Exceptions))
		}
		_, err := code.Simulate([]lir.Constant{tc.arg}, nil)
		var trap *backend.TrapError
		if !errors.As(err, &trap) {
			t.Fatalf("%s: Simulate()=%v, want a trap", tc.op, err)
		}
		if trap.Offset != prog.Exceptions[0].Offset || trap.State != state {
			t.Fatalf("%s: trap at %#x (%s), want %#x (%s)", tc.op, trap.Offset, trap.State, prog.Exceptions[0].Offset, state)
		}
	}
}

func TestIntegerArithmeticContract(t *testing.T) {
	cases := []struct {
		op   lir.Op
		x, y lir.Constant
	}{
		{lir.IDiv, lir.IntConstant(math.MinInt32), lir.IntConstant(-1)},
		{lir.IRem, lir.IntConstant(math.MinInt32), lir.IntConstant(-1)},
		{lir.IDiv, lir.IntConstant(7), lir.IntConstant(-2)},
		{lir.IRem, lir.IntConstant(-7), lir.IntConstant(2)},
		{lir.LDiv, lir.LongConstant(math.MinInt64), lir.LongConstant(-1)},
		{lir.LRem, lir.LongConstant(math.MinInt64), lir.LongConstant(-1)},
		{lir.IUDiv, lir.IntConstant(-1), lir.IntConstant(2)},
		{lir.IURem, lir.IntConstant(-1), lir.IntConstant(7)},
		{lir.LUDiv, lir.LongConstant(-2), lir.LongConstant(3)},
		{lir.LURem, lir.LongConstant(-1), lir.LongConstant(10)},
		{lir.IAdd, lir.IntConstant(math.MaxInt32), lir.IntConstant(1)},
		{lir.ISub, lir.IntConstant(math.MinInt32), lir.IntConstant(1)},
		{lir.IMul, lir.IntConstant(0x10000), lir.IntConstant(0x10000)},
		{lir.LMul, lir.LongConstant(math.MaxInt64), lir.LongConstant(3)},
		{lir.IXor, lir.IntConstant(0x0f0f), lir.IntConstant(0x00ff)},
		{lir.IShl, lir.IntConstant(1), lir.IntConstant(33)},
		{lir.IShr, lir.IntConstant(-16), lir.IntConstant(2)},
		{lir.IUShr, lir.IntConstant(-16), lir.IntConstant(28)},
		{lir.LShl, lir.LongConstant(1), lir.IntConstant(65)},
		{lir.LShr, lir.LongConstant(math.MinInt64), lir.IntConstant(63)},
	}
	for _, tc := range cases {
		want, err := lir.Eval(tc.op, tc.x, tc.y)
		if err != nil {
			t.Fatalf("Eval(%s) failed: %v", tc.op, err)
		}
		code := compile(t, nil, func(g backend.Generator) {
			g.StartBlock("entry")
			x := g.Parameter(0, tc.x.K)
			y := g.Parameter(1, tc.y.K)
			g.EmitReturn(g.EmitBinary(tc.op, x, y, &lir.FrameState{Method: tc.op.String()}))
		})
		if got := simulate(t, code, tc.x, tc.y); got != want {
			t.Fatalf("%s(%s, %s) = %s, want %s", tc.op, tc.x, tc.y, got, want)
		}
	}
}

func TestBinaryWithConstantOperands(t *testing.T) {
	cases := []struct {
		op   lir.Op
		x, y lir.Constant
		left bool
	}{
		{lir.ISub, lir.IntConstant(100), lir.IntConstant(7), true},
		{lir.ISub, lir.IntConstant(100), lir.IntConstant(7), false},
		{lir.IAdd, lir.IntConstant(5), lir.IntConstant(100000), false},
		{lir.LAnd, lir.LongConstant(0xff), lir.LongConstant(0x1234), false},
		{lir.IShl, lir.IntConstant(3), lir.IntConstant(4), true},
		{lir.LUShr, lir.LongConstant(-1), lir.IntConstant(60), false},
		{lir.IDiv, lir.IntConstant(100), lir.IntConstant(-7), false},
		{lir.IUDiv, lir.IntConstant(-1), lir.IntConstant(-2), false},
		{lir.IURem, lir.IntConstant(-1), lir.IntConstant(100), false},
		{lir.LRem, lir.LongConstant(1 << 40), lir.LongConstant(1 << 33), false},
		{lir.DSub, lir.DoubleConstant(1.5), lir.DoubleConstant(0.25), true},
		{lir.FDiv, lir.FloatConstant(1), lir.FloatConstant(4), false},
	}
	for _, tc := range cases {
		want, err := lir.Eval(tc.op, tc.x, tc.y)
		if err != nil {
			t.Fatalf("Eval(%s) failed: %v", tc.op, err)
		}
		arg := tc.x
		if tc.left {
			arg = tc.y
		}
		code := compile(t, nil, func(g backend.Generator) {
			g.StartBlock("entry")
			v := g.Parameter(0, arg.K)
			if tc.left {
				g.EmitReturn(g.EmitBinary(tc.op, tc.x, v, nil))
			} else {
				g.EmitReturn(g.EmitBinary(tc.op, v, tc.y, nil))
			}
		})
		if got := simulate(t, code, arg); got != want {
			t.Fatalf("%s(%s, %s) = %s, want %s", tc.op, tc.x, tc.y, got, want)
		}
	}
}

func TestConstantShiftCountsAreMasked(t *testing.T) {
	ops := []struct {
		op lir.Op
		x  lir.Constant
	}{
		{lir.IShl, lir.IntConstant(0x12345)},
		{lir.IShr, lir.IntConstant(math.MinInt32 + 5)},
		{lir.IUShr, lir.IntConstant(-16)},
		{lir.LShl, lir.LongConstant(0x123456789)},
		{lir.LShr, lir.LongConstant(math.MinInt64 + 9)},
		{lir.LUShr, lir.LongConstant(-256)},
	}
	for _, tc := range ops {
		for _, n := range []int32{33, -1, 65} {
			count := lir.IntConstant(n)
			want, err := lir.Eval(tc.op, tc.x, count)
			if err != nil {
				t.Fatalf("Eval(%s) failed: %v", tc.op, err)
			}
			code := compile(t, nil, func(g backend.Generator) {
				g.StartBlock("entry")
				g.EmitReturn(g.EmitBinary(tc.op, g.Parameter(0, tc.x.K), count, nil))
			})
			if got := simulate(t, code, tc.x); got != want {
				t.Fatalf("%s(%s, %d) = %s, want %s", tc.op, tc.x, n, got, want)
			}
		}
	}
}

func TestDivRemSharesOneDivision(t *testing.T) {
	for _, k := range []lir.Kind{lir.Int32, lir.Int64} {
		code := compile(t, nil, func(g backend.Generator) {
			g.StartBlock("entry")
			var x, y lir.Value = g.Parameter(0, lir.Int64), g.Parameter(1, lir.Int64)
			if k == lir.Int32 {
				x, y = g.EmitUnary(lir.L2I, x), g.EmitUnary(lir.L2I, y)
			}
			q, r := g.EmitDivRem(x, y, &lir.FrameState{Method: "divrem"})
			if k == lir.Int32 {
				q, r = g.EmitUnary(lir.I2L, q), g.EmitUnary(lir.I2L, r)
			}
			g.EmitReturn(g.EmitBinary(lir.LAdd, g.EmitBinary(lir.LMul, q, lir.LongConstant(1000), nil), r, nil))
		})
		lines := testutil.FromListing(code.Program().Listing)
		if n := testutil.Count(lines, "sdivx"); n != 1 {
			t.Fatalf("%s: listing has %d sdivx, want 1\n%s", k, n, code.Program())
		}
		testutil.VerifySequence(t, lines, []testutil.Expectation{
			{Name: "quotient", Mnemonic: "sdivx"},
			{Name: "product", Mnemonic: "mulx"},
			{Name: "remainder", Mnemonic: "sub"},
		})
		if got := simulate(t, code, lir.LongConstant(-47), lir.LongConstant(5)).AsLong(); got != -9*1000-2 {
			t.Fatalf("%s: divrem(-47, 5) = %d, want %d", k, got, -9*1000-2)
		}
	}
}

func TestConversions(t *testing.T) {
	doubles := []lir.Constant{
		lir.DoubleConstant(math.NaN()),
		lir.DoubleConstant(1e300),
		lir.DoubleConstant(-1e300),
		lir.DoubleConstant(-3.9),
		lir.DoubleConstant(3.9),
		lir.DoubleConstant(math.Inf(-1)),
	}
	for _, target := range []*lir.Target{lir.SPARC(true), withoutVIS3()} {
		run := func(op lir.Op, arg lir.Constant) {
			t.Helper()
			want, err := lir.Eval(op, arg)
			if err != nil {
				t.Fatalf("Eval(%s) failed: %v", op, err)
			}
			code := compile(t, target, func(g backend.Generator) {
				g.StartBlock("entry")
				g.EmitReturn(g.EmitUnary(op, g.Parameter(0, arg.K)))
			})
			if got := simulate(t, code, arg); got.Bits != want.Bits && !(isNaN(got) && isNaN(want)) {
				t.Fatalf("vis3=%v: %s(%s) = %s, want %s", target.Has("vis3"), op, arg, got, want)
			}
		}
		for _, op := range []lir.Op{lir.D2I, lir.D2L, lir.D2F} {
			for _, c := range doubles {
				run(op, c)
			}
		}
		for _, c := range []lir.Constant{lir.FloatConstant(float32(math.NaN())), lir.FloatConstant(3e10), lir.FloatConstant(-2.5)} {
			run(lir.F2I, c)
			run(lir.F2L, c)
			run(lir.F2D, c)
		}
		for _, c := range []lir.Constant{lir.IntConstant(-7), lir.IntConstant(0x12345), lir.IntConstant(math.MaxInt32)} {
			run(lir.I2L, c)
			run(lir.I2B, c)
			run(lir.I2S, c)
			run(lir.I2C, c)
			run(lir.I2F, c)
			run(lir.I2D, c)
			run(lir.MovI2F, c)
		}
		for _, c := range []lir.Constant{lir.LongConstant(-1 << 40), lir.LongConstant(math.MaxInt64)} {
			run(lir.L2I, c)
			run(lir.L2D, c)
			run(lir.L2F, c)
			run(lir.MovL2D, c)
		}
		run(lir.MovD2L, lir.DoubleConstant(-0.5))
		run(lir.MovF2I, lir.FloatConstant(-0.5))
	}
}

func TestUnaryOperations(t *testing.T) {
	cases := []struct {
		op  lir.Op
		arg lir.Constant
	}{
		{lir.INeg, lir.IntConstant(math.MinInt32)},
		{lir.LNeg, lir.LongConstant(5)},
		{lir.INot, lir.IntConstant(0)},
		{lir.LNot, lir.LongConstant(0x0f)},
		{lir.DNeg, lir.DoubleConstant(2.5)},
		{lir.FNeg, lir.FloatConstant(float32(math.Copysign(0, -1)))},
		{lir.DAbs, lir.DoubleConstant(-7.25)},
		{lir.DSqrt, lir.DoubleConstant(2)},
		{lir.IPopcnt, lir.IntConstant(-1)},
		{lir.LPopcnt, lir.LongConstant(0x0101)},
		{lir.IBsf, lir.IntConstant(0x80)},
		{lir.IBsf, lir.IntConstant(0)},
		{lir.IBsf, lir.IntConstant(math.MinInt32)},
		{lir.LBsf, lir.LongConstant(1 << 50)},
		{lir.LBsf, lir.LongConstant(0)},
	}
	for _, tc := range cases {
		want, err := lir.Eval(tc.op, tc.arg)
		if err != nil {
			t.Fatalf("Eval(%s) failed: %v", tc.op, err)
		}
		code := compile(t, nil, func(g backend.Generator) {
			g.StartBlock("entry")
			g.EmitReturn(g.EmitUnary(tc.op, g.Parameter(0, tc.arg.K)))
		})
		if got := simulate(t, code, tc.arg); got != want {
			t.Fatalf("%s(%s) = %s, want %s", tc.op, tc.arg, got, want)
		}
	}
}

func TestFloatLogic(t *testing.T) {
	cases := []struct {
		op   lir.Op
		x, y lir.Constant
	}{
		{lir.DAnd, lir.DoubleConstant(-2.5), lir.LongConstant(math.MaxInt64)},
		{lir.DXor, lir.DoubleConstant(2.5), lir.LongConstant(math.MinInt64)},
		{lir.FAnd, lir.FloatConstant(-1.5), lir.IntConstant(math.MaxInt32)},
		{lir.FXor, lir.FloatConstant(1.5), lir.IntConstant(math.MinInt32)},
	}
	for _, target := range []*lir.Target{lir.SPARC(true), withoutVIS3()} {
		for _, tc := range cases {
			y := lir.ConstantFromBits(tc.x.K, tc.y.Bits)
			want, err := lir.Eval(tc.op, tc.x, y)
			if err != nil {
				t.Fatalf("Eval(%s) failed: %v", tc.op, err)
			}
			code := compile(t, target, func(g backend.Generator) {
				g.StartBlock("entry")
				x := g.Parameter(0, tc.x.K)
				m := g.Parameter(1, tc.x.K)
				g.EmitReturn(g.EmitBinary(tc.op, x, m, nil))
			})
			if got := simulate(t, code, tc.x, y); got != want {
				t.Fatalf("vis3=%v: %s(%s, %s) = %s, want %s", target.Has("vis3"), tc.op, tc.x, y, got, want)
			}
		}
	}
}

func TestMissingInstructionsAreUnimplemented(t *testing.T) {
	for _, op := range []lir.Op{lir.IBswap, lir.LBsr} {
		k := op.Info().Inputs[0]
		_, err := backend.Compile(backend.Options{Target: lir.SPARC(true)}, func(g backend.Generator) {
			g.StartBlock("entry")
			g.EmitReturn(g.EmitUnary(op, g.Parameter(0, k)))
		})
		if !lir.IsKind(err, lir.ErrUnimplemented) {
			t.Fatalf("%s: Compile()=%v, want an unimplemented error", op, err)
		}
	}
}

func TestFloatRemainderAndMathCallRuntime(t *testing.T) {
	code := compile(t, nil, func(g backend.Generator) {
		g.StartBlock("entry")
		x := g.Parameter(0, lir.Float64)
		y := g.Parameter(1, lir.Float64)
		r := g.EmitBinary(lir.DRem, x, y, nil)
		s := g.EmitMath(backend.MathSqrt, g.EmitMath(backend.MathAbs, x))
		g.EmitReturn(g.EmitBinary(lir.DAdd, r, g.EmitBinary(lir.DAdd, s, g.EmitMath(backend.MathLog, y), nil), nil))
	})
	if n := len(code.Program().Calls); n != 2 {
		t.Fatalf("%d call sites, want 2", n)
	}
	x, y := -16.0, 3.0
	want := math.Mod(x, y) + math.Sqrt(math.Abs(x)) + math.Log(y)
	if got := simulate(t, code, lir.DoubleConstant(x), lir.DoubleConstant(y)).AsDouble(); got != want {
		t.Fatalf("result = %v, want %v", got, want)
	}
}

func TestConditionalMove(t *testing.T) {
	intSelect := compile(t, nil, func(g backend.Generator) {
		g.StartBlock("entry")
		x := g.Parameter(0, lir.Int32)
		g.EmitReturn(g.EmitConditionalMove(x, lir.IntConstant(5), lir.LT, false, lir.IntConstant(10), lir.IntConstant(20)))
	})
	for _, tc := range []struct{ x, want int32 }{{4, 10}, {5, 20}, {-9, 10}} {
		if got := simulate(t, intSelect, lir.IntConstant(tc.x)).AsInt(); got != tc.want {
			t.Fatalf("select(%d < 5) = %d, want %d", tc.x, got, tc.want)
		}
	}

	for _, unorderedIsTrue := range []bool{false, true} {
		floatToInt := compile(t, nil, func(g backend.Generator) {
			g.StartBlock("entry")
			x := g.Parameter(0, lir.Float64)
			g.EmitReturn(g.EmitConditionalMove(x, lir.DoubleConstant(1), lir.EQ, unorderedIsTrue, lir.LongConstant(1), lir.LongConstant(2)))
		})
		floatToFloat := compile(t, nil, func(g backend.Generator) {
			g.StartBlock("entry")
			x := g.Parameter(0, lir.Float64)
			g.EmitReturn(g.EmitConditionalMove(x, lir.DoubleConstant(1), lir.EQ, unorderedIsTrue, lir.DoubleConstant(1.5), lir.DoubleConstant(2.5)))
		})
		for _, tc := range []struct {
			x    float64
			want bool
		}{{1, true}, {2, false}, {math.NaN(), unorderedIsTrue}} {
			wantInt, wantFloat := int64(2), 2.5
			if tc.want {
				wantInt, wantFloat = 1, 1.5
			}
			if got := simulate(t, floatToInt, lir.DoubleConstant(tc.x)).AsLong(); got != wantInt {
				t.Fatalf("select(%v == 1, unorderedIsTrue=%v) = %d, want %d", tc.x, unorderedIsTrue, got, wantInt)
			}
			if got := simulate(t, floatToFloat, lir.DoubleConstant(tc.x)).AsDouble(); got != wantFloat {
				t.Fatalf("select(%v == 1, unorderedIsTrue=%v) = %v, want %v", tc.x, unorderedIsTrue, got, wantFloat)
			}
		}
	}

	test := compile(t, nil, func(g backend.Generator) {
		g.StartBlock("entry")
		x := g.Parameter(0, lir.Int64)
		g.EmitReturn(g.EmitIntegerTestMove(x, lir.LongConstant(4), lir.IntConstant(1), lir.IntConstant(0)))
	})
	if got := simulate(t, test, lir.LongConstant(3)).AsInt(); got != 1 {
		t.Fatalf("test(3 & 4) = %d, want 1", got)
	}
	if got := simulate(t, test, lir.LongConstant(12)).AsInt(); got != 0 {
		t.Fatalf("test(12 & 4) = %d, want 0", got)
	}
}

func TestStrategySwitch(t *testing.T) {
	keys := []lir.Constant{lir.IntConstant(1), lir.IntConstant(5), lir.IntConstant(100000)}
	sequential, err := lir.NewSequentialStrategy([]float64{0.1, 0.7, 0.2}, keys)
	if err != nil {
		t.Fatalf("NewSequentialStrategy failed: %v", err)
	}
	binary, err := lir.NewBinaryStrategy(keys)
	if err != nil {
		t.Fatalf("NewBinaryStrategy failed: %v", err)
	}
	for _, strategy := range []lir.SwitchStrategy{sequential, binary} {
		code := compile(t, nil, func(g backend.Generator) {
			g.StartBlock("entry")
			key := g.Parameter(0, lir.Int32)
			g.EmitStrategySwitch(strategy, key, []lir.Label{"one", "five", "big"}, "other")
			for i, label := range []lir.Label{"one", "five", "big", "other"} {
				g.StartBlock(label)
				g.EmitReturn(lir.IntConstant(int32(i)))
			}
		})
		for _, tc := range []struct{ key, want int32 }{{1, 0}, {5, 1}, {100000, 2}, {0, 3}, {6, 3}, {-100, 3}, {1 << 30, 3}} {
			if got := simulate(t, code, lir.IntConstant(tc.key)).AsInt(); got != tc.want {
				t.Fatalf("%s: switch(%d) = %d, want %d", strategy, tc.key, got, tc.want)
			}
		}
	}
}

func TestMembar(t *testing.T) {
	for _, tc := range []struct {
		isMP     bool
		barriers lir.Barrier
		want     int
	}{
		{false, lir.StoreLoad, 0},
		{true, lir.StoreStore | lir.LoadLoad, 0},
		{true, lir.StoreLoad, 1},
		{true, lir.AllBarriers, 1},
	} {
		code := compile(t, lir.SPARC(tc.isMP), func(g backend.Generator) {
			g.StartBlock("entry")
			g.EmitMembar(tc.barriers)
			g.EmitReturn(lir.IllegalValue)
		})
		lines := testutil.FromListing(code.Program().Listing)
		if n := testutil.Count(lines, "membar"); n != tc.want {
			t.Fatalf("membar(%s) on mp=%v: %d barriers, want %d", tc.barriers, tc.isMP, n, tc.want)
		}
	}
}

func TestDeoptimize(t *testing.T) {
	state := &lir.FrameState{Method: "cast", BCI: 12}
	code := compile(t, nil, func(g backend.Generator) {
		g.StartBlock("entry")
		x := g.Parameter(0, lir.Int32)
		g.EmitCompareBranch(x, lir.IntConstant(0), lir.EQ, false, "deopt", "ok")
		g.StartBlock("ok")
		g.EmitReturn(x)
		g.StartBlock("deopt")
		g.EmitDeoptimize(lir.ActionInvalidateReprofile, lir.ReasonClassCastException, state)
	})
	prog := code.Program()
	if len(prog.Infopoints) != 1 || prog.Infopoints[0].Reason != lir.ReasonClassCastException || prog.Infopoints[0].State != state {
		t.Fatalf("infopoints = %+v, want one class cast infopoint", prog.Infopoints)
	}
	if got := simulate(t, code, lir.IntConstant(3)).AsInt(); got != 3 {
		t.Fatalf("ok path = %d, want 3", got)
	}
	_, err := code.Simulate([]lir.Constant{lir.IntConstant(0)}, backend.DefaultRuntime().Stubs())
	var deopt *backend.Deoptimized
	if !errors.As(err, &deopt) {
		t.Fatalf("Simulate(0)=%v, want a deoptimization", err)
	}
	if deopt.Action != lir.ActionInvalidateReprofile || deopt.Reason != lir.ReasonClassCastException {
		t.Fatalf("deoptimized with %d/%d, want %d/%d", deopt.Action, deopt.Reason, lir.ActionInvalidateReprofile, lir.ReasonClassCastException)
	}
}

func TestFarCallJumpsThroughCallTarget(t *testing.T) {
	far := &lir.Linkage{Name: "far", Address: 1 << 40, MaxCallTargetOffset: 1 << 40, Args: []lir.Kind{lir.Int64}, Result: lir.Int64}
	code := compile(t, nil, func(g backend.Generator) {
		g.StartBlock("entry")
		x := g.Parameter(0, lir.Int64)
		g.EmitReturn(g.EmitForeignCall(far, []lir.Value{x}, nil))
	})
	stubs := map[uint64]backend.Stub{
		far.Address: func(args []lir.Constant) (lir.Constant, error) {
			return lir.LongConstant(args[0].AsLong() * 2), nil
		},
	}
	got, err := code.Simulate([]lir.Constant{lir.LongConstant(21)}, stubs)
	if err != nil {
		t.Fatalf("Simulate failed: %v", err)
	}
	if got.AsLong() != 42 {
		t.Fatalf("far call = %d, want 42", got.AsLong())
	}
	if calls := code.Program().Calls; len(calls) != 1 || calls[0].Near {
		t.Fatalf("call sites = %+v, want one far call", calls)
	}
	lines := testutil.FromListing(code.Program().Listing)
	if n := testutil.Count(lines, "jmpl"); n != 2 {
		t.Fatalf("listing has %d jmpl, want the call and the return\n%s", n, code.Program())
	}
}
