package backend

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tinyrange/lirgen/internal/lir"
)

// Factory creates a generator for one compilation.
type Factory func(opts Options) Generator

var (
	factoriesMu sync.RWMutex
	factories   = make(map[lir.Architecture]Factory)
)

// Register wires an architecture package into New. It panics when the same
// architecture is registered twice so mistakes are caught during init.
func Register(arch lir.Architecture, factory Factory) {
	if arch == "" || arch == lir.ArchitectureInvalid {
		panic("backend: cannot register generator for invalid architecture")
	}
	if factory == nil {
		panic("backend: factory must be non-nil")
	}

	factoriesMu.Lock()
	defer factoriesMu.Unlock()

	if _, exists := factories[arch]; exists {
		panic(fmt.Sprintf("backend: generator for %s already registered", arch))
	}
	factories[arch] = factory
}

func lookup(arch lir.Architecture) (Factory, error) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	if f, ok := factories[arch]; ok {
		return f, nil
	}
	if arch == "" || arch == lir.ArchitectureInvalid {
		return nil, fmt.Errorf("backend: architecture must be specified")
	}
	return nil, fmt.Errorf("backend: no generator registered for %q", arch)
}

// New creates a generator for opts.Target. A zero Runtime is replaced by
// DefaultRuntime.
func New(opts Options) (Generator, error) {
	if opts.Target == nil {
		return nil, fmt.Errorf("backend: target must be non-nil")
	}
	f, err := lookup(opts.Target.Arch)
	if err != nil {
		return nil, err
	}
	if opts.Runtime == (Runtime{}) {
		opts.Runtime = DefaultRuntime()
	}
	return f(opts), nil
}

// Architectures lists the registered architectures in name order.
func Architectures() []lir.Architecture {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	out := make([]lir.Architecture, 0, len(factories))
	for arch := range factories {
		out = append(out, arch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
