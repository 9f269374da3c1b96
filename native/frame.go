package native

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/jitrt/jitrt/api"
	"github.com/jitrt/jitrt/internal/handlers"
	"github.com/jitrt/jitrt/sys"
)

// ErrImageClosed is returned when invoking a symbol whose image was already unmapped.
var ErrImageClosed = errors.New("image closed")

// invocation is the state shared by every frame of one call into compiled code, including frames of tasks running
// on other goroutines.
type invocation struct {
	// abort is the first abort raised by a task.
	abort atomic.Pointer[sys.AbortError]
}

// Scope is the set of symbols visible to the code of one linked image.
type Scope interface {
	// Name is the name of the module the image was linked from.
	Name() string
	// Lookup returns a symbol defined by the image or resolved into it.
	Lookup(name string) (Symbol, bool)
	// Closed returns true once the image is unmapped.
	Closed() bool
}

// Frame is what compiled code runs with: the user context of the invocation and the scope of the image whose
// symbols the code refers to by name.
type Frame struct {
	uc    *api.UserContext
	scope Scope
	inv   *invocation
}

// UserContext returns the user context of the current invocation. It is never nil.
func (fr *Frame) UserContext() *api.UserContext {
	return fr.uc
}

// Scope returns the scope of the image defining the running code.
func (fr *Frame) Scope() Scope {
	return fr.scope
}

// Invoke calls the function sym with a fresh invocation. A nil uc is replaced with one resolved from the process
// defaults. The returned error is a *sys.AbortError if compiled code aborted.
func Invoke(sym Symbol, uc *api.UserContext, args []unsafe.Pointer) (int32, error) {
	if !sym.IsFunc() {
		return sys.StatusBadArguments, fmt.Errorf("symbol at %#x is not a function", sym.Address)
	}
	fn := sym.fn
	if fn.scope.Closed() {
		return sys.StatusBadArguments, fmt.Errorf("calling %q: %w", fn.name, ErrImageClosed)
	}
	if len(args) != len(fn.typ.Params) {
		return sys.StatusBadArguments, fmt.Errorf("calling %q: expected %d arguments, but passed %d",
			fn.name, len(fn.typ.Params), len(args))
	}
	if uc == nil {
		uc = handlers.NewUserContext(nil, api.Handlers{})
	}
	fr := &Frame{uc: uc, scope: fn.scope, inv: &invocation{}}
	return guard(func() int32 { return fn.code(fr, args) })
}

// guard runs f, turning an abort raised by compiled code into its status. Other panics are not recovered.
func guard(f func() int32) (status int32, err error) {
	defer func() {
		if r := recover(); r != nil {
			abortErr, ok := r.(*sys.AbortError)
			if !ok {
				panic(r)
			}
			status, err = abortErr.Status(), abortErr
		}
	}()
	return f(), nil
}

// withUserContext returns a frame of the same invocation running with uc.
func (fr *Frame) withUserContext(uc *api.UserContext) *Frame {
	return &Frame{uc: uc, scope: fr.scope, inv: fr.inv}
}

// Lookup returns a symbol visible from the running code.
func (fr *Frame) Lookup(name string) (Symbol, bool) {
	return fr.scope.Lookup(name)
}

// Global returns the address of a data symbol visible from the running code.
func (fr *Frame) Global(name string) unsafe.Pointer {
	sym := fr.mustLookup(name)
	if sym.IsFunc() {
		fr.badArguments("%q in %q is a function, not data", name, fr.scope.Name())
	}
	return sym.data
}

// Call calls a function visible from the running code, passing args as is.
func (fr *Frame) Call(name string, args ...unsafe.Pointer) int32 {
	return fr.call(fr.mustLookup(name), args)
}

func (fr *Frame) mustLookup(name string) Symbol {
	sym, ok := fr.scope.Lookup(name)
	if !ok {
		fr.badArguments("%q is not linked into %q", name, fr.scope.Name())
	}
	return sym
}

func (fr *Frame) call(sym Symbol, args []unsafe.Pointer) int32 {
	if !sym.IsFunc() {
		fr.badArguments("symbol at %#x is not a function", sym.Address)
	}
	fn := sym.fn
	if fn.scope.Closed() {
		fr.badArguments("calling %q: %v", fn.name, ErrImageClosed)
	}
	if len(args) != len(fn.typ.Params) {
		fr.badArguments("calling %q: expected %d arguments, but passed %d", fn.name, len(fn.typ.Params), len(args))
	}
	callee := &Frame{uc: fr.uc, scope: fn.scope, inv: fr.inv}
	return fn.code(callee, args)
}

// badArguments aborts the invocation with sys.StatusBadArguments. The error handler is not called: the failure is in
// how the code was linked or called, not a condition the code reported.
func (fr *Frame) badArguments(format string, args ...any) {
	panic(sys.NewAbortError(sys.StatusBadArguments, fmt.Sprintf(format, args...)))
}

func (fr *Frame) ucArg() unsafe.Pointer {
	return unsafe.Pointer(fr.uc)
}

// Malloc allocates size bytes through the runtime, returning nil on failure.
func (fr *Frame) Malloc(size uintptr) unsafe.Pointer {
	n := uint64(size)
	var out unsafe.Pointer
	fr.Call(SymbolMalloc, fr.ucArg(), unsafe.Pointer(&n), unsafe.Pointer(&out))
	return out
}

// Free releases memory returned by Malloc.
func (fr *Frame) Free(ptr unsafe.Pointer) {
	fr.Call(SymbolFree, fr.ucArg(), HandleArg(ptr))
}

// Print prints msg through the runtime.
func (fr *Frame) Print(msg string) {
	fr.Call(SymbolPrint, fr.ucArg(), HandleArg(unsafe.Pointer(&msg)))
}

// Error reports a fatal condition and aborts the invocation. It does not return.
//
// The error handler runs first when the runtime is linked. The invocation then ends with sys.StatusAborted, even
// if the handler returned normally.
func (fr *Frame) Error(msg string) {
	if sym, ok := fr.scope.Lookup(SymbolError); ok && sym.IsFunc() {
		fr.call(sym, []unsafe.Pointer{fr.ucArg(), HandleArg(unsafe.Pointer(&msg))})
	}
	panic(sys.NewAbortError(sys.StatusAborted, msg))
}

// Errorf is like Error, but formats the message.
func (fr *Frame) Errorf(format string, args ...any) {
	fr.Error(fmt.Sprintf(format, args...))
}

// Trace reports ev. A non-zero result of the trace handler is a fatal error: the invocation is aborted via Error.
func (fr *Frame) Trace(ev *api.TraceEvent) {
	if status := fr.Call(SymbolTrace, fr.ucArg(), HandleArg(unsafe.Pointer(ev))); status != 0 {
		fr.Errorf("trace of %q (%s) failed with status %d", ev.Func, ev.Event, status)
	}
}

// DoTask runs task for index through the single-task dispatcher.
func (fr *Frame) DoTask(task api.Task, index int32, closure unsafe.Pointer) int32 {
	guarded := fr.guardTask(task)
	status := fr.Call(SymbolDoTask, fr.ucArg(), HandleArg(unsafe.Pointer(&guarded)), unsafe.Pointer(&index),
		HandleArg(closure))
	fr.reraise(status)
	return status
}

// DoParFor runs task for every index in [min, min+extent) through the parallel dispatcher. It returns the first
// non-zero task result, or zero. If a task aborted, the abort continues on the calling goroutine.
func (fr *Frame) DoParFor(task api.Task, min, extent int32, closure unsafe.Pointer) int32 {
	guarded := fr.guardTask(task)
	status := fr.Call(SymbolDoParFor, fr.ucArg(), HandleArg(unsafe.Pointer(&guarded)), unsafe.Pointer(&min),
		unsafe.Pointer(&extent), HandleArg(closure))
	fr.reraise(status)
	return status
}

// guardTask keeps an abort inside a task from unwinding through the dispatcher, which may run it on a goroutine
// of its own. The abort is recorded and the task reports its status instead.
func (fr *Frame) guardTask(task api.Task) api.Task {
	return func(uc *api.UserContext, index int32, closure unsafe.Pointer) int32 {
		status, err := guard(func() int32 { return task(uc, index, closure) })
		if err != nil {
			fr.inv.abort.CompareAndSwap(nil, err.(*sys.AbortError))
		}
		return status
	}
}

func (fr *Frame) reraise(status int32) {
	if status == 0 {
		return
	}
	if abortErr := fr.inv.abort.Swap(nil); abortErr != nil {
		panic(abortErr)
	}
}
