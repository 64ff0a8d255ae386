// Package regalloc maps the symbolic variables of a LIR onto physical
// registers. It computes block liveness, widens every variable to one
// interval that covers all of its live ranges and runs a linear scan over the
// configured register pools. It never spills: a program that needs more
// registers than the pool holds fails with ErrOutOfRegisters.
package regalloc

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tinyrange/lirgen/internal/lir"
)

// ErrOutOfRegisters is returned when more variables are live at one point
// than the pool of their register class holds.
var ErrOutOfRegisters = errors.New("regalloc: out of registers")

// Registers lists the allocatable register numbers of each class in
// preference order.
type Registers struct {
	General []int
	Float   []int
}

func (r Registers) pool(class lir.RegisterClass) []int {
	switch class {
	case lir.GeneralClass:
		return r.General
	case lir.FloatClass:
		return r.Float
	}
	return nil
}

// Branch is implemented by instructions that end a block with explicit
// control flow. Blocks ending in any other instruction fall through to the
// next block in layout order.
type Branch interface {
	lir.Instruction
	Targets() []lir.Label
	// FallsThrough reports whether execution may continue with the next
	// block when no target is taken.
	FallsThrough() bool
}

// Interval is the span of instruction positions a variable occupies.
type Interval struct {
	Variable lir.Variable
	Start    int
	End      int
}

func (iv Interval) overlaps(other Interval) bool {
	return iv.Start <= other.End && other.Start <= iv.End
}

// Result describes a finished allocation.
type Result struct {
	Intervals  []Interval
	Assignment map[int]lir.Register
	// Used holds every register number handed out, per class.
	Used map[lir.RegisterClass][]int
}

// Allocate assigns a register to every variable of l and rewrites the
// operands in place.
func Allocate(l *lir.LIR, regs Registers) (*Result, error) {
	intervals, err := BuildIntervals(l)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Intervals:  intervals,
		Assignment: make(map[int]lir.Register, len(intervals)),
		Used:       make(map[lir.RegisterClass][]int),
	}
	for _, class := range []lir.RegisterClass{lir.GeneralClass, lir.FloatClass} {
		if err := res.scan(class, regs.pool(class)); err != nil {
			return nil, err
		}
	}

	for _, block := range l.Blocks {
		for _, inst := range block.Instructions {
			lir.VisitOperands(inst, func(v *lir.Value, _ lir.OperandMode) {
				variable, ok := (*v).(lir.Variable)
				if !ok {
					return
				}
				reg, ok := res.Assignment[variable.Index]
				if !ok {
					panic(lir.ShouldNotReachHere("variable %s was not allocated", variable))
				}
				*v = reg
			})
		}
	}
	return res, nil
}

func (res *Result) scan(class lir.RegisterClass, pool []int) error {
	var work []Interval
	for _, iv := range res.Intervals {
		if iv.Variable.K.Class() == class {
			work = append(work, iv)
		}
	}
	sort.SliceStable(work, func(i, j int) bool { return work[i].Start < work[j].Start })

	type active struct {
		iv  Interval
		reg int
	}
	var live []active
	used := make(map[int]bool)

	for _, iv := range work {
		kept := live[:0]
		for _, a := range live {
			if a.iv.overlaps(iv) {
				kept = append(kept, a)
			}
		}
		live = kept

		taken := make(map[int]bool, len(live))
		for _, a := range live {
			taken[a.reg] = true
		}
		reg := -1
		for _, candidate := range pool {
			if !taken[candidate] {
				reg = candidate
				break
			}
		}
		if reg < 0 {
			return fmt.Errorf("%w: %d %s values live at position %d", ErrOutOfRegisters, len(live)+1, class, iv.Start)
		}
		live = append(live, active{iv: iv, reg: reg})
		res.Assignment[iv.Variable.Index] = lir.Register{Number: reg, Class: class, K: iv.Variable.K}
		if !used[reg] {
			used[reg] = true
			res.Used[class] = append(res.Used[class], reg)
		}
	}
	return nil
}
