//go:build !(linux && amd64)

package amd64

import (
	"fmt"
	"runtime"

	"github.com/tinyrange/lirgen/internal/backend"
	"github.com/tinyrange/lirgen/internal/lir"
)

var _ backend.Native = (*code)(nil)

func (c *code) RunNative([]lir.Constant) (lir.Constant, error) {
	return lir.Constant{}, fmt.Errorf("amd64: native execution is not available on %s/%s", runtime.GOOS, runtime.GOARCH)
}
