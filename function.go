package jitrt

import (
	"fmt"
	"unsafe"

	"github.com/jitrt/jitrt/api"
	"github.com/jitrt/jitrt/internal/handlers"
	"github.com/jitrt/jitrt/native"
	"github.com/jitrt/jitrt/sys"
)

// Function is the typed entry point of a pipeline.
type Function struct {
	name string
	typ  *api.Type
	sym  native.Symbol
}

// Name is the name the function is exported as.
func (f *Function) Name() string {
	return f.name
}

// Type is the function type, which lists the parameters in call order.
func (f *Function) Type() *api.Type {
	return f.typ
}

// Address is the stable address of the function in its image.
func (f *Function) Address() uintptr {
	return f.sym.Address
}

// Call invokes the function with one argument per parameter. Each argument must have the Go type of its parameter:
//
//   - api.ValueTypeBool: bool
//   - api.ValueTypeInt8 to api.ValueTypeUint64: the Go integer of the same size and signedness
//   - api.ValueTypeFloat32 and api.ValueTypeFloat64: float32 and float64
//   - api.ValueTypeHandle: unsafe.Pointer, or nil
//   - api.ValueTypeBuffer: a non-nil *api.Buffer
//   - api.ValueTypeUserContext: *api.UserContext, or nil for one resolved from the default handlers
//
// The status is what the function returned. When compiled code aborts, the status is sys.StatusAborted and the
// error is a *sys.AbortError.
func (f *Function) Call(args ...any) (int32, error) {
	params := f.typ.Params
	if len(args) != len(params) {
		return sys.StatusBadArguments, fmt.Errorf("calling %q: expected %d arguments, but passed %d",
			f.name, len(params), len(args))
	}

	var uc *api.UserContext
	argv := make([]unsafe.Pointer, len(args))
	for i, p := range params {
		if p != api.ValueTypeUserContext {
			ptr, err := argPointer(p, args[i])
			if err != nil {
				return sys.StatusBadArguments, fmt.Errorf("calling %q: param[%d]: %w", f.name, i, err)
			}
			argv[i] = ptr
			continue
		}
		switch v := args[i].(type) {
		case nil:
		case *api.UserContext:
			uc = v
		default:
			return sys.StatusBadArguments, fmt.Errorf("calling %q: param[%d]: expected user_context, but was %T",
				f.name, i, args[i])
		}
		if uc == nil {
			uc = handlers.NewUserContext(nil, api.Handlers{})
		}
		argv[i] = unsafe.Pointer(uc)
	}
	return native.Invoke(f.sym, uc, argv)
}

// argPointer returns the argument slot holding arg as a value of type t.
func argPointer(t api.ValueType, arg any) (p unsafe.Pointer, err error) {
	ok := false
	switch t {
	case api.ValueTypeBool:
		p, ok = scalar[bool](arg)
	case api.ValueTypeInt8:
		p, ok = scalar[int8](arg)
	case api.ValueTypeInt16:
		p, ok = scalar[int16](arg)
	case api.ValueTypeInt32:
		p, ok = scalar[int32](arg)
	case api.ValueTypeInt64:
		p, ok = scalar[int64](arg)
	case api.ValueTypeUint8:
		p, ok = scalar[uint8](arg)
	case api.ValueTypeUint16:
		p, ok = scalar[uint16](arg)
	case api.ValueTypeUint32:
		p, ok = scalar[uint32](arg)
	case api.ValueTypeUint64:
		p, ok = scalar[uint64](arg)
	case api.ValueTypeFloat32:
		p, ok = scalar[float32](arg)
	case api.ValueTypeFloat64:
		p, ok = scalar[float64](arg)
	case api.ValueTypeHandle:
		var v unsafe.Pointer
		if v, ok = arg.(unsafe.Pointer); ok || arg == nil {
			p, ok = native.HandleArg(v), true
		}
	case api.ValueTypeBuffer:
		var b *api.Buffer
		b, ok = arg.(*api.Buffer)
		ok = ok && b != nil
		p = unsafe.Pointer(b)
	default:
		return nil, fmt.Errorf("unsupported value type %#x", t)
	}
	if !ok {
		return nil, fmt.Errorf("expected %s, but was %T", api.ValueTypeName(t), arg)
	}
	return
}

func scalar[T any](arg any) (unsafe.Pointer, bool) {
	v, ok := arg.(T)
	if !ok {
		return nil, false
	}
	return unsafe.Pointer(&v), true
}

// WrapperFunc is the type-erased entry point of a pipeline. args holds one pointer per parameter of the typed
// entry point, in order: buffers as *api.Buffer, scalars as a pointer to the value, handles as a pointer to the
// handle and the user context as *api.UserContext. The last slot is the output buffer.
//
// A nil user context slot is resolved from the default handlers. A wrong number of pointers, or another nil
// pointer, returns sys.StatusBadArguments. An abort returns sys.StatusAborted.
type WrapperFunc func(args []unsafe.Pointer) int32

func newWrapperFunc(sym native.Symbol) WrapperFunc {
	return func(args []unsafe.Pointer) int32 {
		status, _ := native.Invoke(sym, nil, []unsafe.Pointer{native.HandleArg(unsafe.Pointer(&args))})
		return status
	}
}
