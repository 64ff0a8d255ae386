package ir

import "github.com/tinyrange/lirgen/internal/lir"

// Canonicalize rewrites g in place and returns the number of nodes it
// changed or removed:
//
//   - a reinterpret to the kind its operand already has, or of a
//     reinterpret back to the original kind, is replaced by that operand;
//   - a reinterpret of a constant becomes a constant with the same bits;
//   - a negate of a negate is replaced by the inner operand;
//   - arithmetic on constants is folded, unless evaluating it would trap;
//   - values nothing uses are dropped unless computing them can trap.
//
// Uses of a replaced node are renamed to the replacement.
func Canonicalize(g *Graph) int {
	defs := make(map[string]*Node)
	rename := make(map[string]string)
	changed := 0
	for _, b := range g.Blocks {
		kept := b.Nodes[:0]
		for _, n := range b.Nodes {
			for i, a := range n.Args {
				if r, ok := rename[a]; ok {
					n.Args[i] = r
				}
			}
			if alias, ok := replacement(n, defs); ok {
				rename[n.Name] = alias
				changed++
				continue
			}
			if fold(n, defs) {
				changed++
			}
			if n.IsValue() {
				defs[n.Name] = n
			}
			kept = append(kept, n)
		}
		b.Nodes = kept
	}
	return changed + removeDead(g)
}

// pure reports whether n can be dropped when its value is unused.
func pure(n *Node) bool {
	switch n.Op {
	case OpConst, OpNegate, OpReinterpret, OpMath, OpSelect, OpTestSelect:
		return true
	case OpArith:
		return !n.Arith.Info().Traps
	}
	return false
}

func removeDead(g *Graph) int {
	removed := 0
	for {
		used := make(map[string]bool)
		for _, b := range g.Blocks {
			for _, n := range b.Nodes {
				for _, a := range n.Args {
					used[a] = true
				}
			}
		}
		n := 0
		for _, b := range g.Blocks {
			kept := b.Nodes[:0]
			for _, node := range b.Nodes {
				if node.IsValue() && pure(node) && !used[node.Name] {
					n++
					continue
				}
				kept = append(kept, node)
			}
			b.Nodes = kept
		}
		if n == 0 {
			return removed
		}
		removed += n
	}
}

// replacement returns the name of an existing value n is equal to.
func replacement(n *Node, defs map[string]*Node) (string, bool) {
	switch n.Op {
	case OpReinterpret:
		x := defs[n.Args[0]]
		if x.Kind == n.Kind {
			return x.Name, true
		}
		if x.Op == OpReinterpret {
			if inner := defs[x.Args[0]]; inner.Kind == n.Kind {
				return inner.Name, true
			}
		}
	case OpNegate:
		if x := defs[n.Args[0]]; x.Op == OpNegate {
			return x.Args[0], true
		}
	}
	return "", false
}

func constants(n *Node, defs map[string]*Node) ([]lir.Constant, bool) {
	out := make([]lir.Constant, len(n.Args))
	for i, a := range n.Args {
		d := defs[a]
		if d.Op != OpConst {
			return nil, false
		}
		out[i] = d.Const
	}
	return out, true
}

// fold turns n into a constant when all its operands are constants.
func fold(n *Node, defs map[string]*Node) bool {
	var op lir.Op
	switch n.Op {
	case OpReinterpret:
		op = lir.Reinterpret(defs[n.Args[0]].Kind, n.Kind)
	case OpNegate:
		op = lir.Negate(n.Kind)
	case OpArith:
		op = n.Arith
	default:
		return false
	}
	args, ok := constants(n, defs)
	if !ok {
		return false
	}
	c, err := lir.Eval(op, args...)
	if err != nil {
		return false
	}
	*n = Node{Name: n.Name, Op: OpConst, Kind: c.K, Const: c}
	return true
}
