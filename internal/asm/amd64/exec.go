//go:build linux && amd64

package amd64

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/ebitengine/purego"
	"golang.org/x/sys/unix"

	"github.com/tinyrange/lirgen/internal/asm"
)

// Func is an assembled program mapped executable in the current process.
type Func struct {
	entry uintptr
	prog  asm.Program
}

// Call executes the code with up to six integer arguments in the System V
// registers and returns RAX.
func (fn Func) Call(args ...uint64) uint64 {
	if fn.entry == 0 {
		panic("amd64.Func: call on zero value")
	}
	if len(args) > maxAssemblyArguments {
		panic(fmt.Sprintf("assembly call accepts at most %d arguments, got %d", maxAssemblyArguments, len(args)))
	}
	buf := make([]uintptr, len(args))
	for idx, arg := range args {
		buf[idx] = uintptr(arg)
	}
	r1, _, _ := purego.SyscallN(fn.entry, buf...)
	return uint64(r1)
}

// Bind sets fptr, a pointer to a Go func variable, to call the code with
// the platform C calling convention. Float arguments and results travel in
// xmm registers.
func (fn Func) Bind(fptr any) {
	purego.RegisterFunc(fptr, fn.entry)
}

// Entry returns the entrypoint address of the mapped code.
func (fn Func) Entry() uintptr {
	return fn.entry
}

func (fn Func) Program() asm.Program {
	return fn.prog
}

const maxAssemblyArguments = 6

// Prepare maps prog executable. Programs with call sites cannot run natively
// since their targets only exist in the simulator.
func Prepare(prog asm.Program) (Func, func(), error) {
	if len(prog.Calls) > 0 {
		return Func{}, nil, fmt.Errorf("amd64: program has %d call sites and cannot run natively", len(prog.Calls))
	}
	entry, release, err := mapExecutable(prog.Bytes(), prog.Relocations())
	if err != nil {
		return Func{}, nil, fmt.Errorf("prepare native code: %w", err)
	}
	return Func{entry: entry, prog: prog}, release, nil
}

func mapExecutable(code []byte, relocations []int) (uintptr, func(), error) {
	size := len(code)
	if size == 0 {
		return 0, nil, fmt.Errorf("empty code")
	}

	pageSize := unix.Getpagesize()
	allocSize := ((size + pageSize - 1) / pageSize) * pageSize

	mem, err := unix.Mmap(-1, 0, allocSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, nil, fmt.Errorf("mmap code region: %w", err)
	}
	release := true
	defer func() {
		if release {
			_ = unix.Munmap(mem)
		}
	}()

	copy(mem, code)
	base := uintptr(unsafe.Pointer(&mem[0]))

	for _, offset := range relocations {
		if offset < 0 || offset+8 > len(mem) {
			return 0, nil, fmt.Errorf("relocation offset %d out of range (code len %d)", offset, len(mem))
		}
		value := binary.LittleEndian.Uint64(mem[offset:])
		binary.LittleEndian.PutUint64(mem[offset:], value+uint64(base))
	}

	// The data section shares the mapping and is only read.
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return 0, nil, fmt.Errorf("mprotect code region: %w", err)
	}

	release = false
	return base, func() {
		_ = unix.Munmap(mem)
	}, nil
}

var _ asm.NativeFunc = Func{}
