package jitrt

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/jitrt/jitrt/api"
	"github.com/jitrt/jitrt/native"
	"github.com/jitrt/jitrt/sys"
)

// allTypes has one parameter of every value type.
var allTypes = api.FuncOf(
	api.ValueTypeBool,
	api.ValueTypeInt8, api.ValueTypeInt16, api.ValueTypeInt32, api.ValueTypeInt64,
	api.ValueTypeUint8, api.ValueTypeUint16, api.ValueTypeUint32, api.ValueTypeUint64,
	api.ValueTypeFloat32, api.ValueTypeFloat64,
	api.ValueTypeHandle, api.ValueTypeBuffer, api.ValueTypeUserContext,
)

type received struct {
	b   bool
	i8  int8
	i16 int16
	i32 int32
	i64 int64
	u8  uint8
	u16 uint16
	u32 uint32
	u64 uint64
	f32 float32
	f64 float64
	h   unsafe.Pointer
	buf *api.Buffer
	uc  *api.UserContext
}

// finalizeAllTypes returns a module whose entry "all" records its arguments into got.
func finalizeAllTypes(t *testing.T, got *received) *CompiledModule {
	m, err := native.NewBuilder("all").
		ExportFunction("all", allTypes, func(fr *native.Frame, args []unsafe.Pointer) int32 {
			*got = received{
				b:   *(*bool)(args[0]),
				i8:  *(*int8)(args[1]),
				i16: *(*int16)(args[2]),
				i32: *(*int32)(args[3]),
				i64: *(*int64)(args[4]),
				u8:  *(*uint8)(args[5]),
				u16: *(*uint16)(args[6]),
				u32: *(*uint32)(args[7]),
				u64: *(*uint64)(args[8]),
				f32: *(*float32)(args[9]),
				f64: *(*float64)(args[10]),
				h:   native.HandleValue(args[11]),
				buf: (*api.Buffer)(args[12]),
				uc:  (*api.UserContext)(args[13]),
			}
			require.Same(t, got.uc, fr.UserContext())
			return 42
		}).
		Build()
	require.NoError(t, err)

	c := NewCompiledModule()
	require.NoError(t, c.Finalize(testCtx, m, "all", nil, nil))
	t.Cleanup(func() { require.NoError(t, c.Close(testCtx)) })
	return c
}

func TestFunction_Call(t *testing.T) {
	var got received
	fn := finalizeAllTypes(t, &got).MainFunction()

	handle := unsafe.Pointer(&got)
	buf := &api.Buffer{ElemSize: 1}
	uc := NewUserContext("user", api.Handlers{})

	status, err := fn.Call(true, int8(-8), int16(-16), int32(-32), int64(-64), uint8(8), uint16(16), uint32(32),
		uint64(64), float32(1.5), 2.5, handle, buf, uc)
	require.NoError(t, err)
	require.Equal(t, int32(42), status)
	require.Equal(t, received{
		b: true, i8: -8, i16: -16, i32: -32, i64: -64, u8: 8, u16: 16, u32: 32, u64: 64, f32: 1.5, f64: 2.5,
		h: handle, buf: buf, uc: uc,
	}, got)

	t.Run("nil user context and handle", func(t *testing.T) {
		status, err := fn.Call(false, int8(0), int16(0), int32(0), int64(0), uint8(0), uint16(0), uint32(0),
			uint64(0), float32(0), 0.0, nil, buf, nil)
		require.NoError(t, err)
		require.Equal(t, int32(42), status)
		require.Nil(t, got.h)
		require.NotNil(t, got.uc)
		require.Nil(t, got.uc.User)
	})
}

func TestFunction_Call_Errors(t *testing.T) {
	var got received
	fn := finalizeAllTypes(t, &got).MainFunction()

	valid := func() []any {
		return []any{true, int8(0), int16(0), int32(0), int64(0), uint8(0), uint16(0), uint32(0), uint64(0),
			float32(0), 0.0, nil, &api.Buffer{}, nil}
	}

	tests := []struct {
		name        string
		index       int
		arg         any
		expectedErr string
	}{
		{name: "bool", index: 0, arg: 1, expectedErr: `calling "all": param[0]: expected bool, but was int`},
		{name: "int8", index: 1, arg: int16(1), expectedErr: `calling "all": param[1]: expected int8, but was int16`},
		{name: "int32", index: 3, arg: 1, expectedErr: `calling "all": param[3]: expected int32, but was int`},
		{name: "uint64", index: 8, arg: int64(1), expectedErr: `calling "all": param[8]: expected uint64, but was int64`},
		{name: "float32", index: 9, arg: 1.0, expectedErr: `calling "all": param[9]: expected float32, but was float64`},
		{name: "handle", index: 11, arg: uintptr(1), expectedErr: `calling "all": param[11]: expected handle, but was uintptr`},
		{name: "buffer", index: 12, arg: api.Buffer{}, expectedErr: `calling "all": param[12]: expected buffer, but was api.Buffer`},
		{name: "nil buffer", index: 12, arg: (*api.Buffer)(nil), expectedErr: `calling "all": param[12]: expected buffer, but was *api.Buffer`},
		{name: "user context", index: 13, arg: "user", expectedErr: `calling "all": param[13]: expected user_context, but was string`},
	}

	for _, tt := range tests {
		tc := tt

		t.Run(tc.name, func(t *testing.T) {
			args := valid()
			args[tc.index] = tc.arg
			status, err := fn.Call(args...)
			require.Equal(t, sys.StatusBadArguments, status)
			require.EqualError(t, err, tc.expectedErr)
		})
	}

	t.Run("arity", func(t *testing.T) {
		status, err := fn.Call(true)
		require.Equal(t, sys.StatusBadArguments, status)
		require.EqualError(t, err, `calling "all": expected 14 arguments, but passed 1`)
	})

	t.Run("closed", func(t *testing.T) {
		m := finalizeLib(t)
		sum := m.MainFunction()
		require.NoError(t, m.Close(testCtx))

		var out int32
		status, err := sum.Call(int32(1), int32(2), unsafe.Pointer(&out))
		require.Equal(t, sys.StatusBadArguments, status)
		require.ErrorIs(t, err, native.ErrImageClosed)
	})
}

func TestWrapperFunc(t *testing.T) {
	m := finalizeLib(t)
	defer func() { require.NoError(t, m.Close(testCtx)) }()
	wrapper := m.WrapperFunction()

	a, b, out := int32(40), int32(2), int32(0)
	outHandle := unsafe.Pointer(&out)

	tests := []struct {
		name           string
		args           []unsafe.Pointer
		expectedStatus int32
		expectedOut    int32
	}{
		{
			name:           "ok",
			args:           []unsafe.Pointer{unsafe.Pointer(&a), unsafe.Pointer(&b), unsafe.Pointer(&outHandle)},
			expectedStatus: 0,
			expectedOut:    42,
		},
		{
			name:           "too few",
			args:           []unsafe.Pointer{unsafe.Pointer(&a), unsafe.Pointer(&b)},
			expectedStatus: sys.StatusBadArguments,
		},
		{
			name:           "too many",
			args:           []unsafe.Pointer{unsafe.Pointer(&a), unsafe.Pointer(&b), unsafe.Pointer(&outHandle), nil},
			expectedStatus: sys.StatusBadArguments,
		},
		{
			name:           "nil",
			args:           []unsafe.Pointer{unsafe.Pointer(&a), nil, unsafe.Pointer(&outHandle)},
			expectedStatus: sys.StatusBadArguments,
		},
	}

	for _, tt := range tests {
		tc := tt

		t.Run(tc.name, func(t *testing.T) {
			out = 0
			require.Equal(t, tc.expectedStatus, wrapper(tc.args))
			require.Equal(t, tc.expectedOut, out)
		})
	}
}
