package sparc

import (
	"github.com/tinyrange/lirgen/internal/asm/sparc"
	"github.com/tinyrange/lirgen/internal/backend"
	"github.com/tinyrange/lirgen/internal/lir"
)

// call uses call disp30 when every possible target is within reach and
// jumps through %g5 otherwise.
func (b *builder) call(linkage *lir.Linkage, state *lir.FrameState, reason *lir.DeoptimizationReason) {
	var inst *sparc.Inst
	if lir.IsSimm(linkage.MaxCallTargetOffset, 32) {
		inst = sparc.CallNear(linkage, state)
	} else {
		b.emit(sparc.SetConst(int64(linkage.Address), sparc.CallTarget))
		inst = sparc.CallFar(linkage, state)
	}
	inst.Reason = reason
	b.emit(inst, sparc.Nop())
}

func (b *builder) deoptimize(i *backend.Deoptimize) {
	b.emit(sparc.SetConst(int64(i.Word), sparc.O0))
	reason := i.Reason
	b.call(i.Linkage, i.State, &reason)
}
