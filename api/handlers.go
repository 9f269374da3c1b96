package api

import "unsafe"

// Task is one unit of parallel work. Compiled code passes a Task to the DoTask and DoParFor handlers, which must call
// it once per index. closure is opaque to the dispatcher. A non-zero result reports failure.
type Task func(uc *UserContext, index int32, closure unsafe.Pointer) int32

// PrintHandler receives text printed by compiled code.
type PrintHandler func(uc *UserContext, msg string)

// MallocHandler returns size bytes of memory, or nil on failure.
type MallocHandler func(uc *UserContext, size uintptr) unsafe.Pointer

// FreeHandler releases memory returned by the paired MallocHandler.
type FreeHandler func(uc *UserContext, ptr unsafe.Pointer)

// DoTaskHandler runs task for exactly one index and returns its result.
type DoTaskHandler func(uc *UserContext, task Task, index int32, closure unsafe.Pointer) int32

// DoParForHandler runs task once for every index in [min, min+extent). It must not return before every dispatched
// index has completed or one has failed, and returns the first non-zero result observed, or zero.
type DoParForHandler func(uc *UserContext, task Task, min, extent int32, closure unsafe.Pointer) int32

// ErrorHandler receives the message of a fatal condition detected by compiled code. The invocation that raised it is
// aborted after the handler returns.
type ErrorHandler func(uc *UserContext, msg string)

// TraceHandler receives trace events from instrumented pipelines. A non-zero result aborts the invocation.
type TraceHandler func(uc *UserContext, ev *TraceEvent) int32

// Handlers is the set of hooks compiled code calls back into. Each field is independently optional: a nil field
// resolves to the process-wide default when a UserContext is built, and to the runtime's built-in behavior when the
// default is nil too.
type Handlers struct {
	Print    PrintHandler
	Malloc   MallocHandler
	Free     FreeHandler
	DoTask   DoTaskHandler
	DoParFor DoParForHandler
	Error    ErrorHandler
	Trace    TraceHandler
}

// UserContext is passed into every invocation of a compiled pipeline. It pairs an opaque caller value with the
// handlers resolved for that invocation.
//
// Note: A UserContext belongs to the call it was built for. Do not retain it after the call returns.
type UserContext struct {
	// User is opaque to the runtime and returned unchanged to every handler.
	User any
	// Handlers are the effective handlers of this invocation.
	Handlers Handlers
}
