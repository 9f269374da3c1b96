package native_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/jitrt/jitrt/api"
	"github.com/jitrt/jitrt/internal/linker"
	"github.com/jitrt/jitrt/native"
)

// testRuntime records what compiled code sent through the runtime symbols.
type testRuntime struct {
	printed []string
	errors  []string
	allocs  [][]byte
}

// link returns the exports of a minimal runtime: allocations from the Go heap, tasks run inline in order.
func (r *testRuntime) link(t *testing.T) *native.SymbolTable {
	m, err := native.NewBuilder("runtime").
		ExportFunction(native.SymbolMalloc, native.MallocType, func(fr *native.Frame, args []unsafe.Pointer) int32 {
			b := make([]byte, *(*uint64)(args[1])+1)
			r.allocs = append(r.allocs, b)
			*(*unsafe.Pointer)(args[2]) = unsafe.Pointer(&b[0])
			return 0
		}).
		ExportFunction(native.SymbolFree, native.FreeType, func(fr *native.Frame, args []unsafe.Pointer) int32 {
			return 0
		}).
		ExportFunction(native.SymbolPrint, native.PrintType, func(fr *native.Frame, args []unsafe.Pointer) int32 {
			r.printed = append(r.printed, *(*string)(native.HandleValue(args[1])))
			return 0
		}).
		ExportFunction(native.SymbolError, native.ErrorType, func(fr *native.Frame, args []unsafe.Pointer) int32 {
			r.errors = append(r.errors, *(*string)(native.HandleValue(args[1])))
			return 0
		}).
		ExportFunction(native.SymbolTrace, native.TraceType, func(fr *native.Frame, args []unsafe.Pointer) int32 {
			uc := (*api.UserContext)(args[0])
			if uc.Handlers.Trace == nil {
				return 0
			}
			return uc.Handlers.Trace(uc, (*api.TraceEvent)(native.HandleValue(args[1])))
		}).
		ExportFunction(native.SymbolDoTask, native.DoTaskType, func(fr *native.Frame, args []unsafe.Pointer) int32 {
			task := *(*api.Task)(native.HandleValue(args[1]))
			return task((*api.UserContext)(args[0]), *(*int32)(args[2]), native.HandleValue(args[3]))
		}).
		ExportFunction(native.SymbolDoParFor, native.DoParForType, func(fr *native.Frame, args []unsafe.Pointer) int32 {
			task := *(*api.Task)(native.HandleValue(args[1]))
			min, extent := *(*int32)(args[2]), *(*int32)(args[3])
			for i := int32(0); i < extent; i++ {
				if status := task((*api.UserContext)(args[0]), min+i, native.HandleValue(args[4])); status != 0 {
					return status
				}
			}
			return 0
		}).
		Build()
	require.NoError(t, err)

	img, err := linker.Link(m, "amd64", nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, img.Close()) })

	symbols := map[string]native.Symbol{}
	for name := range native.RuntimeSymbols {
		sym, ok := img.Defined(name)
		require.True(t, ok)
		symbols[name] = sym
	}
	return native.NewSymbolTable(symbols)
}

// linkWithRuntime declares all runtime symbols as externs of the module built by b and links it.
func linkWithRuntime(t *testing.T, b *native.Builder, rt *native.SymbolTable) *linker.Image {
	for name, typ := range native.RuntimeSymbols {
		b.DeclareExtern(name, typ)
	}
	m, err := b.Build()
	require.NoError(t, err)
	img, err := linker.Link(m, "amd64", []linker.Resolver{rt})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, img.Close()) })
	return img
}

func mustDefined(t *testing.T, img *linker.Image, name string) native.Symbol {
	sym, ok := img.Defined(name)
	require.True(t, ok, name)
	return sym
}
