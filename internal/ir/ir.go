// Package ir is the scheduled node model lowered by the backends. A Graph
// is a list of blocks in layout order; every block is a list of nodes in
// execution order and ends in a control node. Values are named, each name
// is defined once and used only after its definition.
package ir

import (
	"fmt"
	"strings"

	"github.com/tinyrange/lirgen/internal/backend"
	"github.com/tinyrange/lirgen/internal/lir"
)

// Opcode is the node operation. Arithmetic nodes carry their catalog
// operation in Node.Arith.
type Opcode uint8

const (
	OpInvalid Opcode = iota
	OpParam
	OpConst
	OpArith
	OpNegate
	OpReinterpret
	OpMath
	OpLoad
	OpStore
	OpNullCheck
	OpSelect
	OpTestSelect
	OpMembar

	OpIf
	OpTest
	OpSwitch
	OpJump
	OpReturn
	OpDeoptimize
)

var opcodeNames = [...]string{
	OpInvalid:     "invalid",
	OpParam:       "param",
	OpConst:       "const",
	OpArith:       "arith",
	OpNegate:      "neg",
	OpReinterpret: "reinterpret",
	OpMath:        "math",
	OpLoad:        "load",
	OpStore:       "store",
	OpNullCheck:   "nullcheck",
	OpSelect:      "select",
	OpTestSelect:  "testselect",
	OpMembar:      "membar",
	OpIf:          "if",
	OpTest:        "test",
	OpSwitch:      "switch",
	OpJump:        "jump",
	OpReturn:      "return",
	OpDeoptimize:  "deopt",
}

func (op Opcode) String() string {
	if int(op) < len(opcodeNames) {
		return opcodeNames[op]
	}
	return fmt.Sprintf("Opcode(%d)", uint8(op))
}

// IsControl reports whether op ends a block.
func (op Opcode) IsControl() bool { return op >= OpIf }

// Graph is one function.
type Graph struct {
	Name   string
	Params []lir.Kind
	Result lir.Kind
	Blocks []*Block
}

// Block is a labelled node list.
type Block struct {
	Label lir.Label
	Nodes []*Node
}

// Node is one operation. Fields beyond Op, Name, Kind and Args are read
// only by the opcodes that use them.
type Node struct {
	Name string
	Op   Opcode
	// Arith is the catalog operation of an OpArith node.
	Arith lir.Op
	// Kind is the result kind of a value node, or the accessed kind of a
	// load or store.
	Kind lir.Kind
	Args []string

	Index int
	Const lir.Constant

	Cond            lir.Condition
	UnorderedIsTrue bool
	Negated         bool
	Targets         []lir.Label

	Keys          []int32
	Probabilities []float64
	Binary        bool

	Scale  int
	Offset int64

	Math     backend.MathFunction
	Barriers lir.Barrier
	Action   lir.DeoptimizationAction
	Reason   lir.DeoptimizationReason
	State    *lir.FrameState
}

func (n *Node) String() string {
	var sb strings.Builder
	if n.Name != "" {
		fmt.Fprintf(&sb, "%s = ", n.Name)
	}
	switch n.Op {
	case OpArith:
		sb.WriteString(n.Arith.String())
	case OpConst:
		return sb.String() + n.Const.String()
	default:
		sb.WriteString(n.Op.String())
	}
	if len(n.Args) > 0 {
		fmt.Fprintf(&sb, " %s", strings.Join(n.Args, ", "))
	}
	if len(n.Targets) > 0 {
		parts := make([]string, len(n.Targets))
		for i, t := range n.Targets {
			parts[i] = string(t)
		}
		fmt.Fprintf(&sb, " -> %s", strings.Join(parts, " | "))
	}
	return sb.String()
}

// IsValue reports whether the node defines a value.
func (n *Node) IsValue() bool { return n.Name != "" }

func (g *Graph) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s(", g.Name)
	for i, k := range g.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(k.String())
	}
	fmt.Fprintf(&sb, ") %s\n", g.Result)
	for _, b := range g.Blocks {
		fmt.Fprintf(&sb, "%s:\n", b.Label)
		for _, n := range b.Nodes {
			fmt.Fprintf(&sb, "  %s\n", n)
		}
	}
	return sb.String()
}

// definitions maps every value name to its node.
func (g *Graph) definitions() map[string]*Node {
	defs := make(map[string]*Node)
	for _, b := range g.Blocks {
		for _, n := range b.Nodes {
			if n.IsValue() {
				defs[n.Name] = n
			}
		}
	}
	return defs
}
