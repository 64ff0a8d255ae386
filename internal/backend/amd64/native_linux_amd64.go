package amd64

import (
	"fmt"
	"reflect"

	"github.com/tinyrange/lirgen/internal/asm/amd64"
	"github.com/tinyrange/lirgen/internal/backend"
	"github.com/tinyrange/lirgen/internal/lir"
)

var _ backend.Native = (*code)(nil)

func goType(k lir.Kind) (reflect.Type, error) {
	switch k {
	case lir.Int32:
		return reflect.TypeFor[int32](), nil
	case lir.Int64:
		return reflect.TypeFor[int64](), nil
	case lir.Float32:
		return reflect.TypeFor[float32](), nil
	case lir.Float64:
		return reflect.TypeFor[float64](), nil
	case lir.Object:
		return reflect.TypeFor[uintptr](), nil
	}
	return nil, fmt.Errorf("amd64: no native type for %s", k)
}

func goValue(c lir.Constant, t reflect.Type) reflect.Value {
	v := reflect.New(t).Elem()
	switch c.K {
	case lir.Int32:
		v.SetInt(int64(c.AsInt()))
	case lir.Int64:
		v.SetInt(c.AsLong())
	case lir.Float32:
		v.SetFloat(float64(c.AsFloat()))
	case lir.Float64:
		v.SetFloat(c.AsDouble())
	case lir.Object:
		v.SetUint(c.Bits)
	}
	return v
}

func fromGo(k lir.Kind, v reflect.Value) lir.Constant {
	switch k {
	case lir.Int32:
		return lir.IntConstant(int32(v.Int()))
	case lir.Int64:
		return lir.LongConstant(v.Int())
	case lir.Float32:
		return lir.FloatConstant(float32(v.Float()))
	case lir.Float64:
		return lir.DoubleConstant(v.Float())
	}
	return lir.ConstantFromBits(k, v.Uint())
}

// RunNative maps the code executable and calls it through purego with a
// function type built from the signature.
func (c *code) RunNative(args []lir.Constant) (lir.Constant, error) {
	if err := backend.CheckArguments(c.sig, args); err != nil {
		return lir.Constant{}, err
	}
	fn, release, err := amd64.Prepare(c.asm.Program)
	if err != nil {
		return lir.Constant{}, err
	}
	defer release()

	in := make([]reflect.Type, len(c.sig.Params))
	vals := make([]reflect.Value, len(args))
	for i, k := range c.sig.Params {
		t, err := goType(k)
		if err != nil {
			return lir.Constant{}, err
		}
		in[i] = t
		vals[i] = goValue(args[i], t)
	}
	var out []reflect.Type
	if c.sig.Result != lir.Illegal {
		t, err := goType(c.sig.Result)
		if err != nil {
			return lir.Constant{}, err
		}
		out = append(out, t)
	}

	fptr := reflect.New(reflect.FuncOf(in, out, false))
	fn.Bind(fptr.Interface())
	results := fptr.Elem().Call(vals)
	if len(results) == 0 {
		return lir.Constant{}, nil
	}
	return fromGo(c.sig.Result, results[0]), nil
}
