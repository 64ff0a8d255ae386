package regalloc

import (
	"fmt"
	"sort"

	"github.com/tinyrange/lirgen/internal/lir"
)

type blockInfo struct {
	header int
	end    int
	succ   []int
	use    map[int]bool
	def    map[int]bool
	in     map[int]bool
	out    map[int]bool
}

// BuildIntervals numbers the instructions of l, computes which variables
// are live across block boundaries and returns one hull interval per
// variable ordered by variable index. Every block header takes a position
// of its own so values live into an empty block still occupy it.
func BuildIntervals(l *lir.LIR) ([]Interval, error) {
	index := make(map[lir.Label]int, len(l.Blocks))
	for i, b := range l.Blocks {
		index[b.Label] = i
	}

	blocks := make([]*blockInfo, len(l.Blocks))
	variables := make(map[int]lir.Variable)
	defined := make(map[int]bool)
	spans := make(map[int]*Interval)

	touch := func(v lir.Variable, pos int) {
		if prev, ok := variables[v.Index]; ok && prev.K != v.K {
			panic(lir.KindMismatch("variable v%d used as %s and %s", v.Index, prev.K, v.K))
		}
		variables[v.Index] = v
		if iv, ok := spans[v.Index]; ok {
			iv.Start = min(iv.Start, pos)
			iv.End = max(iv.End, pos)
			return
		}
		spans[v.Index] = &Interval{Variable: v, Start: pos, End: pos}
	}

	pos := 0
	for bi, b := range l.Blocks {
		info := &blockInfo{
			header: pos,
			use:    make(map[int]bool),
			def:    make(map[int]bool),
			in:     make(map[int]bool),
			out:    make(map[int]bool),
		}
		pos++
		for _, inst := range b.Instructions {
			var defs []lir.Variable
			lir.VisitOperands(inst, func(v *lir.Value, mode lir.OperandMode) {
				variable, ok := (*v).(lir.Variable)
				if !ok {
					return
				}
				touch(variable, pos)
				switch mode {
				case lir.Def, lir.Temp:
					defs = append(defs, variable)
				default:
					if !info.def[variable.Index] {
						info.use[variable.Index] = true
					}
				}
			})
			for _, d := range defs {
				info.def[d.Index] = true
				defined[d.Index] = true
			}
			pos++
		}
		info.end = pos - 1

		succ, err := successors(l, bi, index)
		if err != nil {
			return nil, err
		}
		info.succ = succ
		blocks[bi] = info
	}

	for idx, v := range variables {
		if !defined[idx] {
			return nil, fmt.Errorf("regalloc: %s is used but never defined", v)
		}
	}

	// Backward dataflow to a fixed point.
	for changed := true; changed; {
		changed = false
		for bi := len(blocks) - 1; bi >= 0; bi-- {
			info := blocks[bi]
			for _, s := range info.succ {
				for v := range blocks[s].in {
					if !info.out[v] {
						info.out[v] = true
						changed = true
					}
				}
			}
			for v := range info.use {
				if !info.in[v] {
					info.in[v] = true
					changed = true
				}
			}
			for v := range info.out {
				if !info.def[v] && !info.in[v] {
					info.in[v] = true
					changed = true
				}
			}
		}
	}

	for _, info := range blocks {
		for v := range info.in {
			touch(variables[v], info.header)
		}
		for v := range info.out {
			touch(variables[v], info.end)
		}
	}

	out := make([]Interval, 0, len(spans))
	for _, iv := range spans {
		out = append(out, *iv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Variable.Index < out[j].Variable.Index })
	return out, nil
}

func successors(l *lir.LIR, bi int, index map[lir.Label]int) ([]int, error) {
	b := l.Blocks[bi]
	falls := true
	var succ []int
	if n := len(b.Instructions); n > 0 {
		if br, ok := b.Instructions[n-1].(Branch); ok {
			for _, target := range br.Targets() {
				ti, ok := index[target]
				if !ok {
					return nil, fmt.Errorf("regalloc: block %s branches to unknown block %q", b.Label, target)
				}
				succ = append(succ, ti)
			}
			falls = br.FallsThrough()
		}
	}
	if falls && bi+1 < len(l.Blocks) {
		succ = append(succ, bi+1)
	}
	return succ, nil
}
