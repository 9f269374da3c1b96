// Package rtmodule builds the shared runtime module: the native module every pipeline links against for memory,
// task dispatch, printing, errors, tracing and, optionally, an emulated device backend.
//
// Each symbol calls the matching handler of the invocation's user context when it is set, and falls back to the
// built-in behavior otherwise.
package rtmodule

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"unsafe"

	"github.com/jitrt/jitrt/api"
	"github.com/jitrt/jitrt/internal/handlers"
	"github.com/jitrt/jitrt/internal/parallel"
	"github.com/jitrt/jitrt/native"
)

// Name is the module name of the shared runtime.
const Name = "jitrt_runtime"

// Config controls the built-in behaviors.
type Config struct {
	// Logger receives errors (at error level) and trace events (at debug level) when no handler is set.
	Logger *slog.Logger
	// Print receives printed text when no handler is set. Defaults to os.Stderr.
	Print io.Writer
	// Workers bounds the goroutines of one parallel loop. Below one means runtime.GOMAXPROCS.
	Workers int
	// Device adds the device symbols, backed by host memory standing in for device memory.
	Device bool
	// MaxAllocation is the largest request the built-in allocator serves. Larger requests return nil. Zero means
	// DefaultMaxAllocation.
	MaxAllocation uint64
}

// Runtime is the state behind one shared runtime module.
type Runtime struct {
	logger *slog.Logger
	print  io.Writer
	pool   *parallel.Pool
	heap   *heap
	device *device
}

// New returns the state for a shared runtime module configured by cfg.
func New(cfg Config) *Runtime {
	r := &Runtime{
		logger: cfg.Logger,
		print:  cfg.Print,
		pool:   parallel.New(cfg.Workers),
		heap:   newHeap(cfg.MaxAllocation),
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.print == nil {
		r.print = os.Stderr
	}
	if cfg.Device {
		r.device = newDevice(r.logger)
	}
	return r
}

// Exports returns the names of all symbols Module defines.
func (r *Runtime) Exports() []string {
	names := make([]string, 0, len(native.RuntimeSymbols)+3)
	for name := range native.RuntimeSymbols {
		names = append(names, name)
	}
	if r.device != nil {
		names = append(names, native.SymbolCopyToDevice, native.SymbolCopyToHost, native.SymbolDeviceFree)
	}
	return names
}

// Workers returns the size of the built-in parallel pool.
func (r *Runtime) Workers() int {
	return r.pool.Workers()
}

// LiveAllocations returns the number of built-in allocations not yet freed.
func (r *Runtime) LiveAllocations() int {
	return r.heap.live()
}

// DeviceAllocations returns the number of live emulated device allocations.
func (r *Runtime) DeviceAllocations() int {
	if r.device == nil {
		return 0
	}
	return r.device.live()
}

// Module returns the native module defining the runtime symbols.
func (r *Runtime) Module() (*native.Module, error) {
	b := native.NewBuilder(Name).
		ExportFunction(native.SymbolMalloc, native.MallocType, r.malloc).
		ExportFunction(native.SymbolFree, native.FreeType, r.free).
		ExportFunction(native.SymbolPrint, native.PrintType, r.printMsg).
		ExportFunction(native.SymbolError, native.ErrorType, r.reportError).
		ExportFunction(native.SymbolTrace, native.TraceType, r.trace).
		ExportFunction(native.SymbolDoTask, native.DoTaskType, r.doTask).
		ExportFunction(native.SymbolDoParFor, native.DoParForType, r.doParFor)
	if r.device != nil {
		b.ExportFunction(native.SymbolCopyToDevice, native.DeviceType, r.device.copyToDevice).
			ExportFunction(native.SymbolCopyToHost, native.DeviceType, r.device.copyToHost).
			ExportFunction(native.SymbolDeviceFree, native.DeviceType, r.device.free)
	}
	m, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("building %s: %w", Name, err)
	}
	return m, nil
}

// Close releases every allocation still held by the built-in allocator and the emulated device.
func (r *Runtime) Close() {
	r.heap.reset()
	if r.device != nil {
		r.device.reset()
	}
}

func userContext(arg unsafe.Pointer) *api.UserContext {
	if arg == nil {
		return handlers.NewUserContext(nil, api.Handlers{})
	}
	return (*api.UserContext)(arg)
}

func stringArg(arg unsafe.Pointer) string {
	return *(*string)(native.HandleValue(arg))
}

func (r *Runtime) malloc(_ *native.Frame, args []unsafe.Pointer) int32 {
	uc := userContext(args[0])
	size := *(*uint64)(args[1])
	var p unsafe.Pointer
	switch {
	case uc.Handlers.Malloc == nil:
		p = r.heap.malloc(size)
	case size <= uint64(^uintptr(0)):
		p = uc.Handlers.Malloc(uc, uintptr(size))
	}
	*(*unsafe.Pointer)(args[2]) = p
	return 0
}

func (r *Runtime) free(_ *native.Frame, args []unsafe.Pointer) int32 {
	uc := userContext(args[0])
	p := native.HandleValue(args[1])
	if p == nil {
		return 0
	}
	if uc.Handlers.Free != nil {
		uc.Handlers.Free(uc, p)
	} else {
		r.heap.free(p)
	}
	return 0
}

func (r *Runtime) printMsg(_ *native.Frame, args []unsafe.Pointer) int32 {
	uc := userContext(args[0])
	msg := stringArg(args[1])
	if uc.Handlers.Print != nil {
		uc.Handlers.Print(uc, msg)
	} else {
		_, _ = io.WriteString(r.print, msg)
	}
	return 0
}

func (r *Runtime) reportError(_ *native.Frame, args []unsafe.Pointer) int32 {
	uc := userContext(args[0])
	msg := stringArg(args[1])
	if uc.Handlers.Error != nil {
		uc.Handlers.Error(uc, msg)
	} else {
		r.logger.Error("pipeline error", "error", msg)
	}
	return 0
}

func (r *Runtime) trace(_ *native.Frame, args []unsafe.Pointer) int32 {
	uc := userContext(args[0])
	ev := (*api.TraceEvent)(native.HandleValue(args[1]))
	if uc.Handlers.Trace != nil {
		return uc.Handlers.Trace(uc, ev)
	}
	if r.logger.Enabled(context.Background(), slog.LevelDebug) {
		r.logger.Debug("trace", "func", ev.Func, "event", ev.Event.String(), "value_index", ev.ValueIndex,
			"coordinates", ev.Coordinates)
	}
	return 0
}

func (r *Runtime) doTask(_ *native.Frame, args []unsafe.Pointer) int32 {
	uc := userContext(args[0])
	task := *(*api.Task)(native.HandleValue(args[1]))
	index := *(*int32)(args[2])
	closure := native.HandleValue(args[3])
	if uc.Handlers.DoTask != nil {
		return uc.Handlers.DoTask(uc, task, index, closure)
	}
	return r.pool.DoTask(uc, task, index, closure)
}

func (r *Runtime) doParFor(_ *native.Frame, args []unsafe.Pointer) int32 {
	uc := userContext(args[0])
	task := *(*api.Task)(native.HandleValue(args[1]))
	min, extent := *(*int32)(args[2]), *(*int32)(args[3])
	closure := native.HandleValue(args[4])
	if uc.Handlers.DoParFor != nil {
		return uc.Handlers.DoParFor(uc, task, min, extent, closure)
	}
	return r.pool.DoParFor(uc, task, min, extent, closure)
}
