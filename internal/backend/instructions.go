package backend

import (
	"fmt"

	"github.com/tinyrange/lirgen/internal/lir"
	"github.com/tinyrange/lirgen/internal/regalloc"
)

// The LIR instruction records below are shared by every architecture. The
// architecture packages decide how each record is encoded.

func legal(ptrs ...*lir.Value) []*lir.Value {
	out := ptrs[:0]
	for _, p := range ptrs {
		if lir.IsLegal(*p) {
			out = append(out, p)
		}
	}
	return out
}

func each(list []lir.Value) []*lir.Value {
	out := make([]*lir.Value, len(list))
	for i := range list {
		out[i] = &list[i]
	}
	return out
}

type noState struct{}

func (noState) FrameState() *lir.FrameState { return nil }

type noOperands struct{}

func (noOperands) DefinedOperands() []*lir.Value   { return nil }
func (noOperands) UsedOperands() []*lir.Value      { return nil }
func (noOperands) AliveOperands() []*lir.Value     { return nil }
func (noOperands) TemporaryOperands() []*lir.Value { return nil }

// Move copies Src (a register, variable or constant) into Dst.
type Move struct {
	noState
	Dst lir.Value
	Src lir.Value
}

func (*Move) Name() string                    { return "move" }
func (i *Move) DefinedOperands() []*lir.Value { return legal(&i.Dst) }
func (i *Move) UsedOperands() []*lir.Value    { return legal(&i.Src) }
func (*Move) AliveOperands() []*lir.Value     { return nil }
func (*Move) TemporaryOperands() []*lir.Value { return nil }

// Op is one catalog operation: Dst = X op Y, or Dst = op X for unary
// operations. Y stays alive across the instruction so two-address forms
// can write Dst before reading it.
type Op struct {
	Op    lir.Op
	Dst   lir.Value
	X     lir.Value
	Y     lir.Value
	Temps []lir.Value
	State *lir.FrameState
}

func (i *Op) Name() string                    { return i.Op.String() }
func (i *Op) DefinedOperands() []*lir.Value   { return legal(&i.Dst) }
func (i *Op) UsedOperands() []*lir.Value      { return legal(&i.X) }
func (i *Op) AliveOperands() []*lir.Value     { return legal(&i.Y) }
func (i *Op) TemporaryOperands() []*lir.Value { return each(i.Temps) }
func (i *Op) FrameState() *lir.FrameState     { return i.State }

// DivRem computes both results of one division. Op is the division (IDiv,
// LDiv, IUDiv or LUDiv).
type DivRem struct {
	Op        lir.Op
	Quotient  lir.Value
	Remainder lir.Value
	X         lir.Value
	Y         lir.Value
	Temps     []lir.Value
	State     *lir.FrameState
}

func (*DivRem) Name() string { return "divrem" }
func (i *DivRem) DefinedOperands() []*lir.Value {
	return legal(&i.Quotient, &i.Remainder)
}
func (i *DivRem) UsedOperands() []*lir.Value      { return legal(&i.X) }
func (i *DivRem) AliveOperands() []*lir.Value     { return legal(&i.Y) }
func (i *DivRem) TemporaryOperands() []*lir.Value { return each(i.Temps) }
func (i *DivRem) FrameState() *lir.FrameState     { return i.State }

// Load reads a K-kind value from Addr, which always holds a lir.Address.
type Load struct {
	K     lir.Kind
	Dst   lir.Value
	Addr  lir.Value
	State *lir.FrameState
}

func (*Load) Name() string                    { return "load" }
func (i *Load) DefinedOperands() []*lir.Value { return legal(&i.Dst) }
func (i *Load) UsedOperands() []*lir.Value    { return legal(&i.Addr) }
func (*Load) AliveOperands() []*lir.Value     { return nil }
func (*Load) TemporaryOperands() []*lir.Value { return nil }
func (i *Load) FrameState() *lir.FrameState   { return i.State }
func (i *Load) Address() lir.Address          { return i.Addr.(lir.Address) }

// Store writes Value to Addr.
type Store struct {
	K     lir.Kind
	Addr  lir.Value
	Value lir.Value
	State *lir.FrameState
}

func (*Store) Name() string                    { return "store" }
func (*Store) DefinedOperands() []*lir.Value   { return nil }
func (i *Store) UsedOperands() []*lir.Value    { return legal(&i.Addr, &i.Value) }
func (*Store) AliveOperands() []*lir.Value     { return nil }
func (*Store) TemporaryOperands() []*lir.Value { return nil }
func (i *Store) FrameState() *lir.FrameState   { return i.State }
func (i *Store) Address() lir.Address          { return i.Addr.(lir.Address) }

// NullCheck touches Addr so a null base traps.
type NullCheck struct {
	Addr  lir.Value
	State *lir.FrameState
}

func (*NullCheck) Name() string                    { return "nullcheck" }
func (*NullCheck) DefinedOperands() []*lir.Value   { return nil }
func (i *NullCheck) UsedOperands() []*lir.Value    { return legal(&i.Addr) }
func (*NullCheck) AliveOperands() []*lir.Value     { return nil }
func (*NullCheck) TemporaryOperands() []*lir.Value { return nil }
func (i *NullCheck) FrameState() *lir.FrameState   { return i.State }
func (i *NullCheck) Address() lir.Address          { return i.Addr.(lir.Address) }

// CompareBranch compares X with Y and branches to True when Cond holds.
type CompareBranch struct {
	noState
	X               lir.Value
	Y               lir.Value
	Cond            lir.Condition
	UnorderedIsTrue bool
	True            lir.Label
	False           lir.Label
}

func (i *CompareBranch) Name() string {
	return fmt.Sprintf("branch[%s -> %s | %s]", i.Cond, i.True, i.False)
}
func (*CompareBranch) DefinedOperands() []*lir.Value   { return nil }
func (i *CompareBranch) UsedOperands() []*lir.Value    { return legal(&i.X, &i.Y) }
func (*CompareBranch) AliveOperands() []*lir.Value     { return nil }
func (*CompareBranch) TemporaryOperands() []*lir.Value { return nil }
func (i *CompareBranch) Targets() []lir.Label          { return []lir.Label{i.True, i.False} }
func (*CompareBranch) FallsThrough() bool              { return false }

// TestBranch branches to True when X&Y compares to zero under Cond (EQ or
// NE).
type TestBranch struct {
	noState
	X     lir.Value
	Y     lir.Value
	Cond  lir.Condition
	True  lir.Label
	False lir.Label
}

func (i *TestBranch) Name() string {
	return fmt.Sprintf("test[%s -> %s | %s]", i.Cond, i.True, i.False)
}
func (*TestBranch) DefinedOperands() []*lir.Value   { return nil }
func (i *TestBranch) UsedOperands() []*lir.Value    { return legal(&i.X, &i.Y) }
func (*TestBranch) AliveOperands() []*lir.Value     { return nil }
func (*TestBranch) TemporaryOperands() []*lir.Value { return nil }
func (i *TestBranch) Targets() []lir.Label          { return []lir.Label{i.True, i.False} }
func (*TestBranch) FallsThrough() bool              { return false }

// CondMove sets Dst to TrueValue when X Cond Y holds and to FalseValue
// otherwise. Test selects the X&Y == 0 test instead of a compare.
type CondMove struct {
	noState
	Dst             lir.Value
	X               lir.Value
	Y               lir.Value
	TrueValue       lir.Value
	FalseValue      lir.Value
	Cond            lir.Condition
	UnorderedIsTrue bool
	Test            bool
}

func (i *CondMove) Name() string {
	if i.Test {
		return "testmove"
	}
	return fmt.Sprintf("cmove[%s]", i.Cond)
}
func (i *CondMove) DefinedOperands() []*lir.Value { return legal(&i.Dst) }
func (i *CondMove) UsedOperands() []*lir.Value {
	return legal(&i.X, &i.Y, &i.TrueValue, &i.FalseValue)
}
func (*CondMove) AliveOperands() []*lir.Value     { return nil }
func (*CondMove) TemporaryOperands() []*lir.Value { return nil }

// Switch runs Strategy over Key.
type Switch struct {
	noState
	Strategy   lir.SwitchStrategy
	Key        lir.Value
	KeyTargets []lir.Label
	Default    lir.Label
}

func (i *Switch) Name() string                  { return fmt.Sprintf("switch[%s]", i.Strategy) }
func (*Switch) DefinedOperands() []*lir.Value   { return nil }
func (i *Switch) UsedOperands() []*lir.Value    { return legal(&i.Key) }
func (*Switch) AliveOperands() []*lir.Value     { return nil }
func (*Switch) TemporaryOperands() []*lir.Value { return nil }
func (*Switch) FallsThrough() bool              { return false }
func (i *Switch) Targets() []lir.Label {
	return append(append([]lir.Label(nil), i.KeyTargets...), i.Default)
}

// Jump transfers control to Target.
type Jump struct {
	noState
	noOperands
	Target lir.Label
}

func (i *Jump) Name() string         { return fmt.Sprintf("jump[%s]", i.Target) }
func (i *Jump) Targets() []lir.Label { return []lir.Label{i.Target} }
func (*Jump) FallsThrough() bool     { return false }

// Membar orders memory accesses. Barriers is already filtered down to the
// set the target needs an instruction for.
type Membar struct {
	noState
	noOperands
	Barriers lir.Barrier
}

func (i *Membar) Name() string { return fmt.Sprintf("membar[%s]", i.Barriers) }

// Call invokes a foreign linkage. Args and Result are fixed ABI registers.
type Call struct {
	Linkage *lir.Linkage
	Args    []lir.Value
	Result  lir.Value
	State   *lir.FrameState
}

func (i *Call) Name() string                  { return fmt.Sprintf("call[%s]", i.Linkage.Name) }
func (i *Call) DefinedOperands() []*lir.Value { return legal(&i.Result) }
func (i *Call) UsedOperands() []*lir.Value    { return each(i.Args) }
func (*Call) AliveOperands() []*lir.Value     { return nil }
func (*Call) TemporaryOperands() []*lir.Value { return nil }
func (i *Call) FrameState() *lir.FrameState   { return i.State }

// Deoptimize passes the encoded action and reason to the uncommon trap
// stub and never returns.
type Deoptimize struct {
	noOperands
	Linkage *lir.Linkage
	Word    int32
	Reason  lir.DeoptimizationReason
	State   *lir.FrameState
}

func (i *Deoptimize) Name() string                { return fmt.Sprintf("deopt[%d]", i.Reason) }
func (i *Deoptimize) FrameState() *lir.FrameState { return i.State }
func (*Deoptimize) Targets() []lir.Label          { return nil }
func (*Deoptimize) FallsThrough() bool            { return false }

// Return leaves the function. Value is the fixed return register or
// IllegalValue.
type Return struct {
	noState
	Value lir.Value
}

func (*Return) Name() string                    { return "return" }
func (*Return) DefinedOperands() []*lir.Value   { return nil }
func (i *Return) UsedOperands() []*lir.Value    { return legal(&i.Value) }
func (*Return) AliveOperands() []*lir.Value     { return nil }
func (*Return) TemporaryOperands() []*lir.Value { return nil }
func (*Return) Targets() []lir.Label            { return nil }
func (*Return) FallsThrough() bool              { return false }

var (
	_ regalloc.Branch = (*CompareBranch)(nil)
	_ regalloc.Branch = (*TestBranch)(nil)
	_ regalloc.Branch = (*Switch)(nil)
	_ regalloc.Branch = (*Jump)(nil)
	_ regalloc.Branch = (*Deoptimize)(nil)
	_ regalloc.Branch = (*Return)(nil)

	_ lir.Instruction = (*Move)(nil)
	_ lir.Instruction = (*Op)(nil)
	_ lir.Instruction = (*DivRem)(nil)
	_ lir.Instruction = (*Load)(nil)
	_ lir.Instruction = (*Store)(nil)
	_ lir.Instruction = (*NullCheck)(nil)
	_ lir.Instruction = (*CondMove)(nil)
	_ lir.Instruction = (*Membar)(nil)
	_ lir.Instruction = (*Call)(nil)
)
