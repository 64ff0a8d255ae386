package amd64

import (
	"github.com/tinyrange/lirgen/internal/asm/amd64"
	"github.com/tinyrange/lirgen/internal/backend"
	"github.com/tinyrange/lirgen/internal/lir"
)

// membar emits the one barrier total store order needs, StoreLoad. The
// locked add is a full fence.
func (b *builder) membar(barriers lir.Barrier) {
	if barriers == 0 {
		return
	}
	b.emit(amd64.LockAddStack())
}

// call is direct when every possible target is within rel32 reach and
// goes through the scratch register otherwise.
func (b *builder) call(linkage *lir.Linkage, state *lir.FrameState, reason *lir.DeoptimizationReason) {
	var inst *amd64.Inst
	if lir.IsInt32(linkage.MaxCallTargetOffset) {
		inst = amd64.CallNear(linkage, state)
	} else {
		b.emit(amd64.MovImm(8, amd64.ScratchRegister, int64(linkage.Address)))
		inst = amd64.CallIndirect(amd64.ScratchRegister, linkage, state)
	}
	inst.Reason = reason
	b.emit(inst)
}

func (b *builder) deoptimize(i *backend.Deoptimize) {
	b.emit(amd64.MovImm(4, amd64.RDI, int64(i.Word)))
	reason := i.Reason
	b.call(i.Linkage, i.State, &reason)
}

// ret restores the callee-saved registers pushed by the prologue.
func (b *builder) ret() {
	for i := len(calleeSaved) - 1; i >= 0; i-- {
		b.emit(amd64.Pop(calleeSaved[i]))
	}
	b.emit(amd64.Ret())
}
