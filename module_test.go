package jitrt

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"unsafe"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/jitrt/jitrt/api"
	"github.com/jitrt/jitrt/internal/logging"
	"github.com/jitrt/jitrt/internal/pipelines"
	"github.com/jitrt/jitrt/native"
	"github.com/jitrt/jitrt/sys"
)

// testCtx is an arbitrary, non-default context. Non-nil also prevents linter errors.
var testCtx = context.WithValue(context.Background(), struct{}{}, "arbitrary")

// sumType is (a int32, b int32, out handle) where out points to an int32.
var sumType = api.FuncOf(api.ValueTypeInt32, api.ValueTypeInt32, api.ValueTypeHandle)

func sumCode(_ *native.Frame, args []unsafe.Pointer) int32 {
	out := (*int32)(native.HandleValue(args[2]))
	*out = *(*int32)(args[0]) + *(*int32)(args[1])
	return 0
}

// newLibModule returns a native module defining the function "sum", the function "helper" and the data "table".
func newLibModule(t *testing.T, name string) *native.Module {
	m, err := native.NewBuilder(name).
		ExportFunction("sum", sumType, sumCode).
		ExportFunction("helper", api.FuncOf(), func(*native.Frame, []unsafe.Pointer) int32 { return 7 }).
		ExportData("table", []byte{1, 2, 3, 4}).
		Build()
	require.NoError(t, err)
	return m
}

// finalizeLib finalizes newLibModule with "sum" as entry and every other symbol requested.
func finalizeLib(t *testing.T) *CompiledModule {
	lib := NewCompiledModule()
	require.NoError(t, lib.Finalize(testCtx, newLibModule(t, "lib"), "sum", nil, []string{"helper", "table"}))
	return lib
}

// newTestRuntime returns a shared runtime module for target which is released when the test ends.
func newTestRuntime(t *testing.T, target Target) *CompiledModule {
	s := NewSharedRuntime(NewRuntimeConfig().WithLogger(logging.Discard()))
	rt, err := s.Get(testCtx, target)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.ReleaseAll(testCtx)) })
	return rt
}

// newBrighten finalizes a brighten pipeline linked against rt.
func newBrighten(t *testing.T, rt *CompiledModule) *CompiledModule {
	b := native.NewBuilder("brighten")
	rt.DeclareExterns(b)
	m, err := pipelines.AddBrighten(b, "brighten").Build()
	require.NoError(t, err)

	p := NewCompiledModule()
	require.NoError(t, p.Finalize(testCtx, m, "brighten", []*CompiledModule{rt}, nil))
	t.Cleanup(func() { require.NoError(t, p.Close(testCtx)) })
	return p
}

// capturePanic returns the value fn panicked with, as an error.
func capturePanic(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
			} else {
				err = fmt.Errorf("%v", r)
			}
		}
	}()
	fn()
	return
}

func TestCompiledModule_Empty(t *testing.T) {
	m := NewCompiledModule()
	require.NotEmpty(t, m.ID())
	require.NotEqual(t, m.ID(), NewCompiledModule().ID())
	require.Equal(t, m.ID(), m.String())

	require.Nil(t, m.MainFunction())
	require.Nil(t, m.WrapperFunction())
	require.Zero(t, m.Exports().Len())
	_, ok := m.Lookup("sum")
	require.False(t, ok)

	// Nothing to declare.
	b := native.NewBuilder("dependent")
	m.DeclareExterns(b)
	built, err := b.Build()
	require.NoError(t, err)
	require.Empty(t, built.Externs())

	require.NoError(t, m.Close(testCtx))
}

func TestCompiledModule_Finalize(t *testing.T) {
	tests := []struct {
		name          string
		entry         string
		requested     []string
		expectMain    bool
		expectedNames []string
	}{
		{
			name:          "entry only",
			entry:         "sum",
			expectMain:    true,
			expectedNames: []string{"sum", "sum_jit_wrapper"},
		},
		{
			name:          "entry and requested exports",
			entry:         "sum",
			requested:     []string{"helper", "table", "missing"},
			expectMain:    true,
			expectedNames: []string{"helper", "sum", "sum_jit_wrapper", "table"},
		},
		{
			name:          "entry not found",
			entry:         "nope",
			requested:     []string{"helper"},
			expectedNames: []string{"helper"},
		},
		{
			name:          "no entry",
			requested:     []string{"sum"},
			expectedNames: []string{"sum"},
		},
		{
			name:          "nothing",
			expectedNames: []string{},
		},
	}

	for _, tt := range tests {
		tc := tt

		t.Run(tc.name, func(t *testing.T) {
			m := NewCompiledModule()
			require.NoError(t, m.Finalize(testCtx, newLibModule(t, "lib"), tc.entry, nil, tc.requested))
			defer func() { require.NoError(t, m.Close(testCtx)) }()

			require.Equal(t, "lib", m.Name())
			if diff := cmp.Diff(tc.expectedNames, m.Exports().Names()); diff != "" {
				t.Errorf("unexpected exports (-want +got):\n%s", diff)
			}
			if tc.expectMain {
				require.NotNil(t, m.MainFunction())
				require.NotNil(t, m.WrapperFunction())
				require.Equal(t, tc.entry, m.MainFunction().Name())
				require.Equal(t, sumType, m.MainFunction().Type())

				sym, ok := m.Lookup(tc.entry)
				require.True(t, ok)
				require.Equal(t, sym.Address, m.MainFunction().Address())
			} else {
				require.Nil(t, m.MainFunction())
				require.Nil(t, m.WrapperFunction())
			}
		})
	}
}

func TestCompiledModule_Finalize_Twice(t *testing.T) {
	m := finalizeLib(t)
	defer func() { require.NoError(t, m.Close(testCtx)) }()

	err := m.Finalize(testCtx, newLibModule(t, "other"), "sum", nil, nil)
	require.ErrorIs(t, err, ErrAlreadyFinalized)
	require.Equal(t, "lib", m.Name())
}

func TestCompiledModule_Finalize_AfterClose(t *testing.T) {
	m := NewCompiledModule()
	require.NoError(t, m.Close(testCtx))

	err := m.Finalize(testCtx, newLibModule(t, "lib"), "sum", nil, nil)
	require.ErrorIs(t, err, ErrModuleClosed)
}

func TestCompiledModule_Finalize_Errors(t *testing.T) {
	lib := finalizeLib(t)
	defer func() { require.NoError(t, lib.Close(testCtx)) }()

	closed := finalizeLib(t)
	require.NoError(t, closed.Close(testCtx))

	tests := []struct {
		name        string
		module      func(t *testing.T) *native.Module
		deps        []*CompiledModule
		expectedErr string
	}{
		{
			name:        "nil module",
			module:      func(*testing.T) *native.Module { return nil },
			expectedErr: "native module is nil",
		},
		{
			name: "unresolved extern",
			module: func(t *testing.T) *native.Module {
				m, err := native.NewBuilder("dependent").DeclareExtern("missing", sumType).Build()
				require.NoError(t, err)
				return m
			},
			deps:        []*CompiledModule{lib},
			expectedErr: `linking "dependent": unresolved extern "missing"`,
		},
		{
			name: "extern type mismatch",
			module: func(t *testing.T) *native.Module {
				m, err := native.NewBuilder("dependent").DeclareExtern("sum", api.FuncOf(api.ValueTypeInt32)).Build()
				require.NoError(t, err)
				return m
			},
			deps:        []*CompiledModule{lib},
			expectedErr: `linking "dependent": extern "sum" declared as func(int32) but defined as func(int32, int32, handle)`,
		},
		{
			name:        "nil dependency",
			module:      func(t *testing.T) *native.Module { return newLibModule(t, "dependent") },
			deps:        []*CompiledModule{lib, nil},
			expectedErr: "dependency[1] is nil",
		},
		{
			name:        "empty dependency",
			module:      func(t *testing.T) *native.Module { return newLibModule(t, "dependent") },
			deps:        []*CompiledModule{NewCompiledModule()},
			expectedErr: "module not finalized",
		},
		{
			name:        "closed dependency",
			module:      func(t *testing.T) *native.Module { return newLibModule(t, "dependent") },
			deps:        []*CompiledModule{closed},
			expectedErr: "module closed",
		},
	}

	for _, tt := range tests {
		tc := tt

		t.Run(tc.name, func(t *testing.T) {
			m := NewCompiledModule()
			err := m.Finalize(testCtx, tc.module(t), "sum", tc.deps, nil)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.expectedErr)

			// A failed finalize leaves the module empty and usable.
			require.Nil(t, m.MainFunction())
			require.Zero(t, m.Exports().Len())
			require.NoError(t, m.Finalize(testCtx, newLibModule(t, "retry"), "sum", nil, nil))
			require.NotNil(t, m.MainFunction())
			require.NoError(t, m.Close(testCtx))
		})
	}
}

func TestCompiledModule_DeclareExterns(t *testing.T) {
	lib := finalizeLib(t)

	b := native.NewBuilder("dependent")
	lib.DeclareExterns(b)
	b.ExportFunction("twice", api.FuncOf(api.ValueTypeInt32, api.ValueTypeHandle),
		func(fr *native.Frame, args []unsafe.Pointer) int32 {
			var tmp int32
			if status := fr.Call("sum", args[0], args[0], native.HandleArg(unsafe.Pointer(&tmp))); status != 0 {
				return status
			}
			tmp += int32(*(*byte)(fr.Global("table")))
			*(*int32)(native.HandleValue(args[1])) = tmp
			return 0
		})
	m, err := b.Build()
	require.NoError(t, err)

	var declared []string
	for _, e := range m.Externs() {
		declared = append(declared, e.Name)
		sym, ok := lib.Lookup(e.Name)
		require.True(t, ok)
		require.True(t, sym.Type.Equal(e.Type), e.Name)
	}
	require.ElementsMatch(t, lib.Exports().Names(), declared)

	dependent := NewCompiledModule()
	require.NoError(t, dependent.Finalize(testCtx, m, "twice", []*CompiledModule{lib}, nil))

	// The dependent keeps lib mapped after the caller releases it.
	require.NoError(t, lib.Close(testCtx))
	require.False(t, lib.image.Closed())

	var out int32
	status, err := dependent.MainFunction().Call(int32(20), unsafe.Pointer(&out))
	require.NoError(t, err)
	require.Zero(t, status)
	require.Equal(t, int32(41), out) // 20 + 20 + table[0]

	require.NoError(t, dependent.Close(testCtx))
	require.True(t, dependent.image.Closed())
	require.True(t, lib.image.Closed())
}

func TestCompiledModule_Call(t *testing.T) {
	lib := finalizeLib(t)
	defer func() { require.NoError(t, lib.Close(testCtx)) }()

	status, err := lib.Call("helper", nil)
	require.NoError(t, err)
	require.Equal(t, int32(7), status)

	a, b, out := int32(1), int32(2), int32(0)
	status, err = lib.Call("sum", nil, unsafe.Pointer(&a), unsafe.Pointer(&b), native.HandleArg(unsafe.Pointer(&out)))
	require.NoError(t, err)
	require.Zero(t, status)
	require.Equal(t, int32(3), out)

	status, err = lib.Call("nope", nil)
	require.Equal(t, sys.StatusBadArguments, status)
	require.EqualError(t, err, `"nope" is not exported by lib(`+lib.ID()+`)`)

	status, err = lib.Call("sum", nil)
	require.Equal(t, sys.StatusBadArguments, status)
	require.EqualError(t, err, `calling "sum": expected 3 arguments, but passed 0`)
}

func TestCompiledModule_DeviceOps(t *testing.T) {
	t.Run("no device backend", func(t *testing.T) {
		for _, m := range []*CompiledModule{NewCompiledModule(), finalizeLib(t), newTestRuntime(t, HostTarget())} {
			data := []byte{1, 2, 3, 4}
			buf := pipelines.NewImage(data, 2, 2)
			buf.HostDirty = true
			before := *buf

			require.Zero(t, m.CopyToDevice(buf))
			require.Zero(t, m.CopyToHost(buf))
			require.Zero(t, m.DeviceFree(buf))
			require.Equal(t, before, *buf)
			require.Equal(t, []byte{1, 2, 3, 4}, data)
		}
	})

	t.Run("emulated device", func(t *testing.T) {
		rt := newTestRuntime(t, HostTarget().With(FeatureDeviceEmu))

		data := []byte{1, 2, 3, 4}
		buf := pipelines.NewImage(data, 2, 2)
		require.Zero(t, rt.CopyToDevice(buf))
		require.NotZero(t, buf.Device)

		// Host changes are not visible until copied back from the device.
		copy(data, []byte{9, 9, 9, 9})
		buf.DeviceDirty = true
		require.Zero(t, rt.CopyToHost(buf))
		require.Equal(t, []byte{1, 2, 3, 4}, data)
		require.False(t, buf.DeviceDirty)

		require.Zero(t, rt.DeviceFree(buf))
		require.Zero(t, buf.Device)
		require.Zero(t, rt.DeviceFree(buf), "nothing left to free")

		buf.Device = 12345
		require.Equal(t, sys.StatusDeviceError, rt.CopyToHost(buf))
		require.Equal(t, sys.StatusBadArguments, rt.CopyToDevice(nil))
	})
}

func TestCompiledModule_Refcount(t *testing.T) {
	m := finalizeLib(t)
	require.Same(t, m, m.Retain())

	require.NoError(t, m.Close(testCtx))
	require.NotNil(t, m.MainFunction(), "still referenced")
	require.False(t, m.image.Closed())

	require.NoError(t, m.Close(testCtx))
	require.True(t, m.image.Closed())
	require.Nil(t, m.MainFunction())

	err := capturePanic(func() { _ = m.Close(testCtx) })
	require.Contains(t, err.Error(), "released more times than retained")

	err = capturePanic(func() { m.Retain() })
	require.True(t, errors.Is(err, ErrModuleClosed))
}

func TestCompiledModule_Pipeline(t *testing.T) {
	rt := newTestRuntime(t, HostTarget())
	p := newBrighten(t, rt)

	t.Run("main", func(t *testing.T) {
		src, dst := []byte{0, 100, 200, 250}, make([]byte, 4)
		status, err := p.MainFunction().Call(nil, pipelines.NewImage(src, 2, 2), uint8(10), pipelines.NewImage(dst, 2, 2))
		require.NoError(t, err)
		require.Zero(t, status)
		require.Equal(t, []byte{10, 110, 210, 255}, dst)
	})

	t.Run("wrapper", func(t *testing.T) {
		src, dst := []byte{0, 100, 200, 250}, make([]byte, 4)
		amount := uint8(3)
		status := p.WrapperFunction()([]unsafe.Pointer{
			nil, unsafe.Pointer(pipelines.NewImage(src, 2, 2)), unsafe.Pointer(&amount),
			unsafe.Pointer(pipelines.NewImage(dst, 2, 2)),
		})
		require.Zero(t, status)
		require.Equal(t, []byte{3, 103, 203, 253}, dst)
	})

	t.Run("abort", func(t *testing.T) {
		var reported string
		uc := NewUserContext(nil, api.Handlers{
			Error: func(_ *api.UserContext, msg string) { reported = msg },
		})
		status, err := p.MainFunction().Call(uc, pipelines.NewImage(make([]byte, 4), 2, 2), uint8(1),
			pipelines.NewImage(make([]byte, 2), 2, 1))
		require.Equal(t, sys.StatusAborted, status)

		var abortErr *sys.AbortError
		require.ErrorAs(t, err, &abortErr)
		require.Equal(t, reported, abortErr.Message())
	})
}
