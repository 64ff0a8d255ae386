package ir

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/tinyrange/lirgen/internal/backend"
	"github.com/tinyrange/lirgen/internal/lir"
	"gopkg.in/yaml.v3"
)

type graphYAML struct {
	Name   string      `yaml:"name"`
	Params []string    `yaml:"params,omitempty"`
	Result string      `yaml:"result,omitempty"`
	Blocks []blockYAML `yaml:"blocks"`
}

type blockYAML struct {
	Label string  `yaml:"label"`
	Nodes []*Node `yaml:"nodes"`
}

type stateYAML struct {
	Method      string `yaml:"method"`
	BCI         int    `yaml:"bci"`
	Description string `yaml:"description,omitempty"`
}

type nodeYAML struct {
	Name string   `yaml:"name,omitempty"`
	Op   string   `yaml:"op"`
	Kind string   `yaml:"kind,omitempty"`
	Args []string `yaml:"args,omitempty"`

	Index int    `yaml:"index,omitempty"`
	Value string `yaml:"value,omitempty"`

	Cond      string   `yaml:"cond,omitempty"`
	Unordered bool     `yaml:"unordered,omitempty"`
	Negated   bool     `yaml:"negated,omitempty"`
	Targets   []string `yaml:"targets,omitempty"`

	Keys          []int32   `yaml:"keys,omitempty"`
	Probabilities []float64 `yaml:"probabilities,omitempty"`
	Strategy      string    `yaml:"strategy,omitempty"`

	Scale  int   `yaml:"scale,omitempty"`
	Offset int64 `yaml:"offset,omitempty"`

	Fn       string     `yaml:"fn,omitempty"`
	Barriers []string   `yaml:"barriers,omitempty"`
	Action   uint8      `yaml:"action,omitempty"`
	Reason   uint8      `yaml:"reason,omitempty"`
	State    *stateYAML `yaml:"state,omitempty"`
}

// UnmarshalYAML decodes a node and resolves its names into typed fields.
// Kinds that depend on other nodes are filled in by Validate.
func (n *Node) UnmarshalYAML(value *yaml.Node) error {
	var raw nodeYAML
	if err := value.Decode(&raw); err != nil {
		return err
	}
	out := Node{
		Name:            raw.Name,
		Args:            raw.Args,
		Index:           raw.Index,
		UnorderedIsTrue: raw.Unordered,
		Negated:         raw.Negated,
		Keys:            raw.Keys,
		Probabilities:   raw.Probabilities,
		Binary:          raw.Strategy == "binary",
		Scale:           raw.Scale,
		Offset:          raw.Offset,
		Action:          lir.DeoptimizationAction(raw.Action),
		Reason:          lir.DeoptimizationReason(raw.Reason),
	}
	if op, ok := lir.LookupOp(raw.Op); ok {
		out.Op = OpArith
		out.Arith = op
		out.Kind = op.Info().Result
	} else {
		for i, name := range opcodeNames {
			if name == raw.Op && Opcode(i) != OpInvalid && Opcode(i) != OpArith {
				out.Op = Opcode(i)
			}
		}
	}
	if out.Op == OpInvalid {
		return fmt.Errorf("line %d: unknown op %q", value.Line, raw.Op)
	}
	if raw.Kind != "" {
		k, err := lir.ParseKind(raw.Kind)
		if err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		out.Kind = k
	}
	if raw.Cond != "" {
		c, err := lir.ParseCondition(raw.Cond)
		if err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		out.Cond = c
	}
	for _, t := range raw.Targets {
		out.Targets = append(out.Targets, lir.Label(t))
	}
	for _, s := range raw.Barriers {
		b, err := lir.ParseBarrier(s)
		if err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		out.Barriers |= b
	}
	if raw.Fn != "" {
		fn, err := backend.ParseMathFunction(raw.Fn)
		if err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		out.Math = fn
	}
	if raw.State != nil {
		out.State = &lir.FrameState{Method: raw.State.Method, BCI: raw.State.BCI, Description: raw.State.Description}
	}
	if out.Op == OpConst {
		c, err := ParseConstant(out.Kind, raw.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", value.Line, err)
		}
		out.Const = c
	}
	*n = out
	return nil
}

// ParseConstant reads a literal of kind k. Integers accept any base prefix
// strconv understands, floats accept NaN and Inf, and objects are "null"
// or a handle.
func ParseConstant(k lir.Kind, s string) (lir.Constant, error) {
	s = strings.TrimSpace(s)
	switch k {
	case lir.Int32:
		v, err := strconv.ParseInt(s, 0, 32)
		if err != nil {
			return lir.Constant{}, fmt.Errorf("ir: int constant %q: %w", s, err)
		}
		return lir.IntConstant(int32(v)), nil
	case lir.Int64:
		v, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return lir.Constant{}, fmt.Errorf("ir: long constant %q: %w", s, err)
		}
		return lir.LongConstant(v), nil
	case lir.Float32:
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return lir.Constant{}, fmt.Errorf("ir: float constant %q: %w", s, err)
		}
		return lir.FloatConstant(float32(v)), nil
	case lir.Float64:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return lir.Constant{}, fmt.Errorf("ir: double constant %q: %w", s, err)
		}
		return lir.DoubleConstant(v), nil
	case lir.Object:
		if s == "null" || s == "" {
			return lir.NullConstant(), nil
		}
		v, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return lir.Constant{}, fmt.Errorf("ir: object constant %q: %w", s, err)
		}
		return lir.ObjectConstant(v), nil
	}
	return lir.Constant{}, fmt.Errorf("ir: constant of kind %s", k)
}

// FormatConstant prints c so ParseConstant reads it back.
func FormatConstant(c lir.Constant) string {
	switch c.K {
	case lir.Int32:
		return strconv.FormatInt(int64(c.AsInt()), 10)
	case lir.Int64:
		return strconv.FormatInt(c.AsLong(), 10)
	case lir.Float32:
		return strconv.FormatFloat(float64(c.AsFloat()), 'g', -1, 32)
	case lir.Float64:
		if math.IsNaN(c.AsDouble()) {
			return "NaN"
		}
		return strconv.FormatFloat(c.AsDouble(), 'g', -1, 64)
	case lir.Object:
		if c.IsNull() {
			return "null"
		}
		return fmt.Sprintf("%#x", c.Bits)
	}
	return c.String()
}

// Parse decodes a graph from YAML and validates it.
func Parse(data []byte) (*Graph, error) {
	var raw graphYAML
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("ir: parse: %w", err)
	}

	g := &Graph{Name: raw.Name, Result: lir.Illegal}
	for _, s := range raw.Params {
		k, err := lir.ParseKind(s)
		if err != nil {
			return nil, fmt.Errorf("ir: %s: %w", raw.Name, err)
		}
		g.Params = append(g.Params, k)
	}
	if raw.Result != "" {
		k, err := lir.ParseKind(raw.Result)
		if err != nil {
			return nil, fmt.Errorf("ir: %s: %w", raw.Name, err)
		}
		g.Result = k
	}
	for _, b := range raw.Blocks {
		g.Blocks = append(g.Blocks, &Block{Label: lir.Label(b.Label), Nodes: b.Nodes})
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Load reads and parses a graph file.
func Load(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ir: read %s: %w", path, err)
	}
	return Parse(data)
}
