package lir

import (
	"fmt"
	"strings"
)

// Architecture names a backend.
type Architecture string

const (
	ArchitectureInvalid Architecture = "invalid"
	ArchitectureAMD64   Architecture = "amd64"
	ArchitectureSPARC   Architecture = "sparc"
)

// Barrier is a set of memory ordering constraints.
type Barrier uint8

const (
	LoadLoad Barrier = 1 << iota
	LoadStore
	StoreLoad
	StoreStore

	NoBarriers  Barrier = 0
	AllBarriers         = LoadLoad | LoadStore | StoreLoad | StoreStore
)

var barrierNames = []struct {
	b    Barrier
	name string
}{
	{LoadLoad, "LoadLoad"},
	{LoadStore, "LoadStore"},
	{StoreLoad, "StoreLoad"},
	{StoreStore, "StoreStore"},
}

func (b Barrier) String() string {
	if b == 0 {
		return "none"
	}
	var parts []string
	for _, n := range barrierNames {
		if b&n.b != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// ParseBarrier accepts one barrier name, case-insensitively.
func ParseBarrier(s string) (Barrier, error) {
	for _, n := range barrierNames {
		if strings.EqualFold(n.name, s) {
			return n.b, nil
		}
	}
	if strings.EqualFold(s, "all") {
		return AllBarriers, nil
	}
	return 0, fmt.Errorf("lir: unknown barrier %q", s)
}

// Target describes the machine code is generated for.
type Target struct {
	Name     string
	Arch     Architecture
	WordKind Kind
	// IsMP is false for uniprocessor targets, which never need fences.
	IsMP bool
	// Implicit lists the barriers the memory model already guarantees. TSO
	// machines order everything except StoreLoad.
	Implicit Barrier
	// Features holds optional instruction set extensions (for example
	// "popcnt").
	Features map[string]bool
}

// RequiredBarriers filters the requested set down to the barriers that need
// an explicit instruction.
func (t *Target) RequiredBarriers(requested Barrier) Barrier {
	return requested &^ t.Implicit
}

// Has reports whether the target advertises feature.
func (t *Target) Has(feature string) bool {
	return t.Features[feature]
}

// AMD64 returns the default descriptor for x86-64 (total store order).
func AMD64(isMP bool) *Target {
	return &Target{
		Name:     "amd64",
		Arch:     ArchitectureAMD64,
		WordKind: Int64,
		IsMP:     isMP,
		Implicit: LoadLoad | LoadStore | StoreStore,
		Features: map[string]bool{"popcnt": true},
	}
}

// SPARC returns the default descriptor for SPARC V9 running in TSO mode.
func SPARC(isMP bool) *Target {
	return &Target{
		Name:     "sparc",
		Arch:     ArchitectureSPARC,
		WordKind: Int64,
		IsMP:     isMP,
		Implicit: LoadLoad | LoadStore | StoreStore,
		Features: map[string]bool{"vis3": true},
	}
}

// Linkage describes a call target outside the compiled code: a runtime stub
// or foreign function.
type Linkage struct {
	Name    string
	Address uint64
	// MaxCallTargetOffset is the largest distance between any call site and
	// the target. It decides between near and far call encodings.
	MaxCallTargetOffset int64
	Args                []Kind
	Result              Kind
}

func (l *Linkage) String() string {
	return fmt.Sprintf("%s@%#x", l.Name, l.Address)
}

// FrameState is the opaque deoptimization snapshot attached to trapping
// instructions. Only the caller interprets it.
type FrameState struct {
	Method      string
	BCI         int
	Description string
}

func (s *FrameState) String() string {
	if s == nil {
		return "<none>"
	}
	if s.Description != "" {
		return fmt.Sprintf("%s@%d(%s)", s.Method, s.BCI, s.Description)
	}
	return fmt.Sprintf("%s@%d", s.Method, s.BCI)
}

// DeoptimizationAction tells the runtime what to do with the compiled code
// after a deoptimization.
type DeoptimizationAction uint8

const (
	ActionNone DeoptimizationAction = iota
	ActionRecompileIfTooManyDeopts
	ActionInvalidateReprofile
	ActionInvalidateRecompile
	ActionInvalidateStopCompiling
)

// DeoptimizationReason records why compiled code was abandoned.
type DeoptimizationReason uint8

const (
	ReasonNone DeoptimizationReason = iota
	ReasonNullCheckException
	ReasonBoundsCheckException
	ReasonClassCastException
	ReasonArithmeticException
	ReasonUnreachedCode
	ReasonTypeCheckedInliningViolated
	ReasonOptimizedTypeCheckViolated
	ReasonNotCompiledExceptionHandler
	ReasonUnresolved
	ReasonJavaSubroutineMismatch
	ReasonTransferToInterpreter
)

const (
	deoptActionBits   = 3
	deoptReasonBits   = 5
	deoptReasonShift  = deoptActionBits
	deoptDebugIDShift = deoptActionBits + deoptReasonBits
)

// EncodeDeoptActionAndReason packs the action, reason and a debug id into the
// single word handed to the uncommon trap stub. The encoding is the bitwise
// complement so that a valid request is always negative.
func EncodeDeoptActionAndReason(action DeoptimizationAction, reason DeoptimizationReason, debugID int32) int32 {
	v := int32(action)&(1<<deoptActionBits-1) |
		(int32(reason)&(1<<deoptReasonBits-1))<<deoptReasonShift |
		debugID<<deoptDebugIDShift
	return ^v
}

// DecodeDeoptActionAndReason reverses EncodeDeoptActionAndReason.
func DecodeDeoptActionAndReason(word int32) (DeoptimizationAction, DeoptimizationReason, int32) {
	v := ^word
	action := DeoptimizationAction(v & (1<<deoptActionBits - 1))
	reason := DeoptimizationReason((v >> deoptReasonShift) & (1<<deoptReasonBits - 1))
	return action, reason, v >> deoptDebugIDShift
}
