package target

import (
	"fmt"
	"runtime"

	"github.com/tinyrange/lirgen/internal/lir"
	"golang.org/x/sys/cpu"
)

// Host describes the machine the process runs on. Only amd64 hosts have a
// backend that can execute natively.
func Host() (*lir.Target, error) {
	isMP := runtime.NumCPU() > 1
	switch runtime.GOARCH {
	case "amd64":
		t := lir.AMD64(isMP)
		t.Name = "host"
		t.Features = map[string]bool{"popcnt": cpu.X86.HasPOPCNT}
		return t, nil
	}
	return nil, fmt.Errorf("target: no backend for host architecture %s", runtime.GOARCH)
}

// Default returns the host target when there is one, and the amd64
// default descriptor otherwise.
func Default() *lir.Target {
	if t, err := Host(); err == nil {
		return t
	}
	return lir.AMD64(true)
}
