// Package api includes constants and types used by both end-users and internal implementations.
package api

import (
	"fmt"
	"strings"
)

// ValueType describes the type of one parameter of a compiled function.
//
// Every parameter crosses the native calling convention as a pointer. The following describes what the pointer in
// each slot refers to:
//   - ValueTypeBool - *bool
//   - ValueTypeInt8..ValueTypeInt64 - *int8, *int16, *int32, *int64
//   - ValueTypeUint8..ValueTypeUint64 - *uint8, *uint16, *uint32, *uint64
//   - ValueTypeFloat32, ValueTypeFloat64 - *float32, *float64
//   - ValueTypeHandle - *unsafe.Pointer
//   - ValueTypeBuffer - *Buffer
//   - ValueTypeUserContext - *UserContext
type ValueType byte

const (
	ValueTypeBool ValueType = iota + 1
	ValueTypeInt8
	ValueTypeInt16
	ValueTypeInt32
	ValueTypeInt64
	ValueTypeUint8
	ValueTypeUint16
	ValueTypeUint32
	ValueTypeUint64
	ValueTypeFloat32
	ValueTypeFloat64
	ValueTypeHandle
	ValueTypeBuffer
	ValueTypeUserContext
)

// ValueTypeName returns the type name of the given ValueType as a string.
//
// Note: This returns "unknown", if an undefined ValueType value is passed.
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeBool:
		return "bool"
	case ValueTypeInt8:
		return "int8"
	case ValueTypeInt16:
		return "int16"
	case ValueTypeInt32:
		return "int32"
	case ValueTypeInt64:
		return "int64"
	case ValueTypeUint8:
		return "uint8"
	case ValueTypeUint16:
		return "uint16"
	case ValueTypeUint32:
		return "uint32"
	case ValueTypeUint64:
		return "uint64"
	case ValueTypeFloat32:
		return "float32"
	case ValueTypeFloat64:
		return "float64"
	case ValueTypeHandle:
		return "handle"
	case ValueTypeBuffer:
		return "buffer"
	case ValueTypeUserContext:
		return "user_context"
	}
	return "unknown"
}

// TypeKind classifies a symbol as code or data.
type TypeKind byte

const (
	TypeKindFunc TypeKind = iota + 1
	TypeKindData
)

// Type is the type descriptor of a symbol: a function signature or the size of a data object.
//
// A Type is never mutated after construction, so it can be shared between modules.
type Type struct {
	Kind TypeKind
	// Params are the parameter types of a TypeKindFunc. Results are always an int32 status.
	Params []ValueType
	// Size is the byte size of a TypeKindData.
	Size uint32
}

// FuncOf returns a function type with the given parameters.
func FuncOf(params ...ValueType) *Type {
	p := make([]ValueType, len(params))
	copy(p, params)
	return &Type{Kind: TypeKindFunc, Params: p}
}

// DataOf returns a data type of the given size in bytes.
func DataOf(size uint32) *Type {
	return &Type{Kind: TypeKindData, Size: size}
}

// Equal returns true if both types describe the same signature or data size.
func (t *Type) Equal(o *Type) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case TypeKindFunc:
		if len(t.Params) != len(o.Params) {
			return false
		}
		for i := range t.Params {
			if t.Params[i] != o.Params[i] {
				return false
			}
		}
		return true
	case TypeKindData:
		return t.Size == o.Size
	}
	return false
}

// String implements fmt.Stringer, e.g. "func(user_context, buffer)" or "data[16]".
func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case TypeKindFunc:
		names := make([]string, len(t.Params))
		for i, p := range t.Params {
			names[i] = ValueTypeName(p)
		}
		return "func(" + strings.Join(names, ", ") + ")"
	case TypeKindData:
		return fmt.Sprintf("data[%d]", t.Size)
	}
	return "unknown"
}
