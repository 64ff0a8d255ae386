package amd64

import (
	"fmt"

	"github.com/tinyrange/lirgen/internal/asm"
)

// General purpose registers in hardware encoding order.
const (
	RAX asm.Register = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// Xmm is an SSE register.
type Xmm uint8

const (
	XMM0 Xmm = iota
	XMM1
	XMM2
	XMM3
	XMM4
	XMM5
	XMM6
	XMM7
	XMM8
	XMM9
	XMM10
	XMM11
	XMM12
	XMM13
	XMM14
	XMM15
)

var gprNames = [16][4]string{
	{"rax", "eax", "ax", "al"},
	{"rcx", "ecx", "cx", "cl"},
	{"rdx", "edx", "dx", "dl"},
	{"rbx", "ebx", "bx", "bl"},
	{"rsp", "esp", "sp", "spl"},
	{"rbp", "ebp", "bp", "bpl"},
	{"rsi", "esi", "si", "sil"},
	{"rdi", "edi", "di", "dil"},
	{"r8", "r8d", "r8w", "r8b"},
	{"r9", "r9d", "r9w", "r9b"},
	{"r10", "r10d", "r10w", "r10b"},
	{"r11", "r11d", "r11w", "r11b"},
	{"r12", "r12d", "r12w", "r12b"},
	{"r13", "r13d", "r13w", "r13b"},
	{"r14", "r14d", "r14w", "r14b"},
	{"r15", "r15d", "r15w", "r15b"},
}

type registerCode struct {
	code     byte
	high     bool
	needsRex bool
}

func regInfo(v asm.Register) (registerCode, error) {
	if v < RAX || v > R15 {
		return registerCode{}, fmt.Errorf("unsupported register %d", v)
	}
	return registerCode{
		code: byte(v) & 7,
		high: v >= R8,
		// spl, bpl, sil and dil are only reachable with a REX prefix.
		needsRex: v >= RSP,
	}, nil
}

// ScratchRegister is reserved for sequences that need a register the
// allocator does not know about (far call targets, wide displacements).
const ScratchRegister = R11

// ScratchXmm is the floating point counterpart of ScratchRegister.
const ScratchXmm = XMM15
