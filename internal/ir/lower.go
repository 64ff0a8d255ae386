package ir

import (
	"github.com/tinyrange/lirgen/internal/backend"
	"github.com/tinyrange/lirgen/internal/lir"
)

// Compile canonicalizes g and lowers it with the generator registered for
// opts.Target.
func Compile(opts backend.Options, g *Graph) (backend.Code, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	Canonicalize(g)
	return backend.Compile(opts, func(gen backend.Generator) {
		Lower(gen, g)
	})
}

// Lower walks the blocks of g in layout order and emits every node. It
// panics with a *lir.Error when the generator rejects an operation.
func Lower(gen backend.Generator, g *Graph) {
	l := &lowering{gen: gen, values: make(map[string]lir.Value)}
	for i, b := range g.Blocks {
		gen.StartBlock(b.Label)
		if i == 0 {
			for p, k := range g.Params {
				l.params = append(l.params, gen.Parameter(p, k))
			}
		}
		for j, n := range b.Nodes {
			l.node(b.Nodes[j+1:], n)
		}
	}
}

type lowering struct {
	gen    backend.Generator
	values map[string]lir.Value
	params []lir.Variable
}

func (l *lowering) arg(n *Node, i int) lir.Value {
	v, ok := l.values[n.Args[i]]
	if !ok {
		panic(lir.ShouldNotReachHere("ir: %s has no value", n.Args[i]))
	}
	return v
}

func (l *lowering) define(n *Node, v lir.Value) {
	l.values[n.Name] = v
}

// address builds the address of a memory node from base and an optional
// index starting at argument first.
func (l *lowering) address(n *Node, first int) lir.Address {
	base := l.arg(n, first)
	index, scale := lir.Value(lir.IllegalValue), 0
	if len(n.Args) > first+1 {
		index, scale = l.arg(n, first+1), n.Scale
		if scale == 0 {
			scale = 1
		}
	}
	return l.gen.EmitAddress(base, n.Offset, index, scale)
}

func (l *lowering) node(rest []*Node, n *Node) {
	gen := l.gen
	switch n.Op {
	case OpParam:
		l.define(n, l.params[n.Index])
	case OpConst:
		l.define(n, n.Const)
	case OpArith:
		if _, done := l.values[n.Name]; done {
			return
		}
		if n.Arith.Family() == lir.FamilyDivRem && l.fuseDivRem(rest, n) {
			return
		}
		if n.Arith.Info().Arity() == 1 {
			l.define(n, gen.EmitUnary(n.Arith, l.arg(n, 0)))
			return
		}
		x, y := l.arg(n, 0), l.arg(n, 1)
		// Only a trapping division survives canonicalization with two
		// constant operands.
		if lir.IsConstant(x) && lir.IsConstant(y) {
			x = gen.EmitMove(x)
		}
		l.define(n, gen.EmitBinary(n.Arith, x, y, n.State))
	case OpNegate:
		x := l.arg(n, 0)
		l.define(n, gen.EmitUnary(lir.Negate(x.Kind()), x))
	case OpReinterpret:
		x := l.arg(n, 0)
		l.define(n, gen.EmitUnary(lir.Reinterpret(x.Kind(), n.Kind), x))
	case OpMath:
		l.define(n, gen.EmitMath(n.Math, l.arg(n, 0)))
	case OpLoad:
		l.define(n, gen.EmitLoad(n.Kind, l.address(n, 0), n.State))
	case OpStore:
		gen.EmitStore(n.Kind, l.address(n, 1), l.arg(n, 0), n.State)
	case OpNullCheck:
		gen.EmitNullCheck(l.address(n, 0), n.State)
	case OpSelect:
		l.define(n, gen.EmitConditionalMove(l.arg(n, 0), l.arg(n, 1), n.Cond, n.UnorderedIsTrue, l.arg(n, 2), l.arg(n, 3)))
	case OpTestSelect:
		l.define(n, gen.EmitIntegerTestMove(l.arg(n, 0), l.arg(n, 1), l.arg(n, 2), l.arg(n, 3)))
	case OpMembar:
		gen.EmitMembar(n.Barriers)
	case OpIf:
		gen.EmitCompareBranch(l.arg(n, 0), l.arg(n, 1), n.Cond, n.UnorderedIsTrue, n.Targets[0], n.Targets[1])
	case OpTest:
		gen.EmitIntegerTestBranch(l.arg(n, 0), l.arg(n, 1), n.Negated, n.Targets[0], n.Targets[1])
	case OpSwitch:
		gen.EmitStrategySwitch(strategy(n), l.arg(n, 0), n.Targets[:len(n.Keys)], n.Targets[len(n.Keys)])
	case OpJump:
		gen.EmitJump(n.Targets[0])
	case OpReturn:
		if len(n.Args) == 0 {
			gen.EmitReturn(lir.IllegalValue)
			return
		}
		gen.EmitReturn(l.arg(n, 0))
	case OpDeoptimize:
		gen.EmitDeoptimize(n.Action, n.Reason, n.State)
	default:
		panic(lir.ShouldNotReachHere("ir: cannot lower %s", n))
	}
}

func strategy(n *Node) lir.SwitchStrategy {
	keys := make([]lir.Constant, len(n.Keys))
	for i, k := range n.Keys {
		keys[i] = lir.IntConstant(k)
	}
	var (
		s   lir.SwitchStrategy
		err error
	)
	if n.Binary {
		s, err = lir.NewBinaryStrategy(keys)
	} else {
		probabilities := n.Probabilities
		if len(probabilities) == 0 {
			probabilities = make([]float64, len(keys))
			for i := range probabilities {
				probabilities[i] = 1 / float64(len(keys))
			}
		}
		s, err = lir.NewSequentialStrategy(probabilities, keys)
	}
	if err != nil {
		panic(lir.Unsupported("ir: %s: %v", n, err))
	}
	return s
}

// partners pairs each integer division with the remainder of the same
// signedness and width.
var partners = map[lir.Op]lir.Op{
	lir.IDiv: lir.IRem, lir.IRem: lir.IDiv,
	lir.LDiv: lir.LRem, lir.LRem: lir.LDiv,
	lir.IUDiv: lir.IURem, lir.IURem: lir.IUDiv,
	lir.LUDiv: lir.LURem, lir.LURem: lir.LUDiv,
}

// fuseDivRem looks ahead in the block for the partner of n over the same
// operands. When one is found that has not been lowered yet, a single
// division produces both results.
func (l *lowering) fuseDivRem(rest []*Node, n *Node) bool {
	partner, ok := partners[n.Arith]
	if !ok {
		return false
	}
	var other *Node
	for _, m := range rest {
		if m.Op == OpArith && m.Arith == partner && sameArgs(m, n) {
			other = m
			break
		}
	}
	if other == nil {
		return false
	}
	if _, done := l.values[other.Name]; done {
		return false
	}

	x, y := l.arg(n, 0), l.arg(n, 1)
	var q, r lir.Value
	if n.Arith.Info().Unsigned {
		q, r = l.gen.EmitUnsignedDivRem(x, y, n.State)
	} else {
		q, r = l.gen.EmitDivRem(x, y, n.State)
	}
	div, rem := n, other
	if isRemainder(n.Arith) {
		div, rem = other, n
	}
	l.define(div, q)
	l.define(rem, r)
	return true
}

func isRemainder(op lir.Op) bool {
	switch op {
	case lir.IRem, lir.LRem, lir.IURem, lir.LURem:
		return true
	}
	return false
}

func sameArgs(a, b *Node) bool {
	if len(a.Args) != len(b.Args) {
		return false
	}
	for i := range a.Args {
		if a.Args[i] != b.Args[i] {
			return false
		}
	}
	return true
}
