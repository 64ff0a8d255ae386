package ir

import (
	"errors"
	"fmt"

	"github.com/tinyrange/lirgen/internal/lir"
)

// arity is the accepted argument count range of each opcode. Arithmetic
// nodes take the arity of their catalog operation.
var arity = map[Opcode][2]int{
	OpParam:       {0, 0},
	OpConst:       {0, 0},
	OpNegate:      {1, 1},
	OpReinterpret: {1, 1},
	OpMath:        {1, 1},
	OpLoad:        {1, 2},
	OpStore:       {2, 3},
	OpNullCheck:   {1, 1},
	OpSelect:      {4, 4},
	OpTestSelect:  {4, 4},
	OpMembar:      {0, 0},
	OpIf:          {2, 2},
	OpTest:        {2, 2},
	OpSwitch:      {1, 1},
	OpJump:        {0, 0},
	OpReturn:      {0, 1},
	OpDeoptimize:  {0, 0},
}

// Validate checks the structure of g and fills in the result kinds that
// depend on operands. All problems are reported together.
func (g *Graph) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("ir: %s: "+format, append([]any{g.Name}, args...)...))
	}

	if len(g.Blocks) == 0 {
		fail("no blocks")
	}
	labels := make(map[lir.Label]bool)
	for _, b := range g.Blocks {
		if b.Label == "" {
			fail("block without a label")
		}
		if labels[b.Label] {
			fail("duplicate block %s", b.Label)
		}
		labels[b.Label] = true
	}

	kinds := make(map[string]lir.Kind)
	for _, b := range g.Blocks {
		if len(b.Nodes) == 0 {
			fail("block %s is empty", b.Label)
			continue
		}
		for i, n := range b.Nodes {
			last := i == len(b.Nodes)-1
			if n.Op.IsControl() != last {
				if last {
					fail("block %s does not end in a control node", b.Label)
				} else {
					fail("block %s: %s is not at the end of the block", b.Label, n)
				}
			}
			if err := g.validateNode(n, kinds, labels); err != nil {
				fail("block %s: %s: %v", b.Label, n, err)
				continue
			}
			if n.IsValue() {
				if _, ok := kinds[n.Name]; ok {
					fail("block %s: %s is defined twice", b.Label, n.Name)
				}
				kinds[n.Name] = n.Kind
			}
		}
	}
	return errors.Join(errs...)
}

func (g *Graph) validateNode(n *Node, kinds map[string]lir.Kind, labels map[lir.Label]bool) error {
	bounds, ok := arity[n.Op]
	if n.Op == OpArith {
		a := n.Arith.Info().Arity()
		bounds, ok = [2]int{a, a}, true
	}
	if !ok {
		return fmt.Errorf("unknown opcode %s", n.Op)
	}
	if len(n.Args) < bounds[0] || len(n.Args) > bounds[1] {
		return fmt.Errorf("%d arguments, want %d to %d", len(n.Args), bounds[0], bounds[1])
	}
	args := make([]lir.Kind, len(n.Args))
	for i, a := range n.Args {
		k, ok := kinds[a]
		if !ok {
			return fmt.Errorf("%s is used before it is defined", a)
		}
		args[i] = k
	}
	for _, t := range n.Targets {
		if !labels[t] {
			return fmt.Errorf("unknown block %s", t)
		}
	}

	switch n.Op {
	case OpParam:
		if n.Index < 0 || n.Index >= len(g.Params) {
			return fmt.Errorf("parameter %d of %d", n.Index, len(g.Params))
		}
		n.Kind = g.Params[n.Index]
	case OpArith:
		for i, want := range n.Arith.Info().Inputs {
			if args[i] != want {
				return fmt.Errorf("operand %d is %s, want %s", i, args[i], want)
			}
		}
	case OpNegate:
		if args[0] == lir.Object {
			return fmt.Errorf("cannot negate %s", args[0])
		}
		n.Kind = args[0]
	case OpReinterpret:
		if args[0].Bits() != n.Kind.Bits() || args[0] == lir.Object || n.Kind == lir.Object {
			return fmt.Errorf("cannot reinterpret %s as %s", args[0], n.Kind)
		}
	case OpMath:
		if args[0] != lir.Float64 {
			return fmt.Errorf("math on %s", args[0])
		}
		n.Kind = lir.Float64
	case OpLoad, OpStore, OpNullCheck:
		addr := args
		if n.Op == OpStore {
			if args[0] != n.Kind {
				return fmt.Errorf("stores %s as %s", args[0], n.Kind)
			}
			addr = args[1:]
		}
		if addr[0] != lir.Object && addr[0] != lir.Int64 {
			return fmt.Errorf("base of kind %s", addr[0])
		}
		if len(addr) == 2 && !addr[1].IsNumericInteger() {
			return fmt.Errorf("index of kind %s", addr[1])
		}
	case OpSelect, OpTestSelect:
		if args[0] != args[1] || args[2] != args[3] {
			return fmt.Errorf("operand kinds %v do not pair up", args)
		}
		n.Kind = args[2]
	case OpIf, OpTest:
		if len(n.Targets) != 2 {
			return fmt.Errorf("%d targets, want 2", len(n.Targets))
		}
		if args[0] != args[1] {
			return fmt.Errorf("compares %s with %s", args[0], args[1])
		}
	case OpSwitch:
		if args[0] != lir.Int32 {
			return fmt.Errorf("switch on %s", args[0])
		}
		if len(n.Targets) != len(n.Keys)+1 {
			return fmt.Errorf("%d targets for %d keys and a default", len(n.Targets), len(n.Keys))
		}
	case OpJump:
		if len(n.Targets) != 1 {
			return fmt.Errorf("%d targets, want 1", len(n.Targets))
		}
	case OpReturn:
		got := lir.Illegal
		if len(args) == 1 {
			got = args[0]
		}
		if got != g.Result {
			return fmt.Errorf("returns %s from a function returning %s", got, g.Result)
		}
	}

	switch {
	case producesValue(n.Op) && !n.IsValue():
		return fmt.Errorf("value node without a name")
	case !producesValue(n.Op) && n.IsValue():
		return fmt.Errorf("%s does not define a value", n.Op)
	}
	return nil
}

func producesValue(op Opcode) bool {
	switch op {
	case OpStore, OpNullCheck, OpMembar:
		return false
	}
	return !op.IsControl()
}
