package asm

// NativeFunc is emitted code mapped executable in the current process.
// Architecture packages implement it where the host can run their code.
type NativeFunc interface {
	// Call passes integer arguments in the platform argument registers and
	// returns the integer result register.
	Call(args ...uint64) uint64

	// Bind points fptr, a pointer to a Go func variable, at the code so
	// float arguments and results can be exchanged.
	Bind(fptr any)

	Entry() uintptr

	Program() Program
}
