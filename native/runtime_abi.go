package native

import (
	"unsafe"

	"github.com/jitrt/jitrt/api"
)

// Names of the symbols the shared runtime module defines for compiled code. Frame helpers call them by these names,
// so a module that uses a helper must declare the matching extern.
const (
	SymbolMalloc   = "rt_malloc"
	SymbolFree     = "rt_free"
	SymbolPrint    = "rt_print"
	SymbolError    = "rt_error"
	SymbolTrace    = "rt_trace"
	SymbolDoTask   = "rt_do_task"
	SymbolDoParFor = "rt_do_par_for"

	// The device symbols are optional. A module without them has no device backend.
	SymbolCopyToDevice = "rt_copy_to_device"
	SymbolCopyToHost   = "rt_copy_to_host"
	SymbolDeviceFree   = "rt_device_free"
)

var (
	// MallocType is (user_context, size uint64, out handle): the allocation is written through out.
	MallocType = api.FuncOf(api.ValueTypeUserContext, api.ValueTypeUint64, api.ValueTypeHandle)
	// FreeType is (user_context, ptr handle).
	FreeType = api.FuncOf(api.ValueTypeUserContext, api.ValueTypeHandle)
	// PrintType is (user_context, msg handle) where the handle points to a string.
	PrintType = api.FuncOf(api.ValueTypeUserContext, api.ValueTypeHandle)
	// ErrorType is (user_context, msg handle) where the handle points to a string.
	ErrorType = api.FuncOf(api.ValueTypeUserContext, api.ValueTypeHandle)
	// TraceType is (user_context, event handle) where the handle points to an api.TraceEvent.
	TraceType = api.FuncOf(api.ValueTypeUserContext, api.ValueTypeHandle)
	// DoTaskType is (user_context, task handle, index int32, closure handle) where task points to an api.Task.
	DoTaskType = api.FuncOf(api.ValueTypeUserContext, api.ValueTypeHandle, api.ValueTypeInt32, api.ValueTypeHandle)
	// DoParForType is (user_context, task handle, min int32, extent int32, closure handle).
	DoParForType = api.FuncOf(api.ValueTypeUserContext, api.ValueTypeHandle, api.ValueTypeInt32,
		api.ValueTypeInt32, api.ValueTypeHandle)
	// DeviceType is (user_context, buffer), shared by the three device symbols.
	DeviceType = api.FuncOf(api.ValueTypeUserContext, api.ValueTypeBuffer)
	// WrapperType is (argv handle) where the handle points to a []unsafe.Pointer.
	WrapperType = api.FuncOf(api.ValueTypeHandle)
)

// RuntimeSymbols are the required runtime symbols and their types.
var RuntimeSymbols = map[string]*api.Type{
	SymbolMalloc:   MallocType,
	SymbolFree:     FreeType,
	SymbolPrint:    PrintType,
	SymbolError:    ErrorType,
	SymbolTrace:    TraceType,
	SymbolDoTask:   DoTaskType,
	SymbolDoParFor: DoParForType,
}

// HandleArg returns an argument slot for a ValueTypeHandle parameter holding p.
func HandleArg(p unsafe.Pointer) unsafe.Pointer {
	return unsafe.Pointer(&p)
}

// HandleValue returns the pointer held by a ValueTypeHandle argument slot.
func HandleValue(arg unsafe.Pointer) unsafe.Pointer {
	return *(*unsafe.Pointer)(arg)
}
