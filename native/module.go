// Package native is what a code generator builds against: the Module it hands over for finalization, the calling
// convention of compiled code, the Frame that code runs with and the symbols of the shared runtime.
package native

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/jitrt/jitrt/api"
)

// Code is the body of a compiled function. args holds one pointer per parameter of the function's type, as
// described by api.ValueType. The result is a status: zero for success.
type Code func(fr *Frame, args []unsafe.Pointer) int32

// FunctionDef is a function defined by a Module.
type FunctionDef struct {
	Name string
	Type *api.Type
	Code Code
}

// DataDef is an initialized data object defined by a Module.
type DataDef struct {
	Name string
	Init []byte
}

// ExternDef declares a symbol a Module expects a dependency to define.
type ExternDef struct {
	Name string
	Type *api.Type
}

// Module is a finished native artifact, ready to be linked. It is not modified by linking, so the same Module can
// be finalized more than once into different images.
type Module struct {
	name      string
	functions []*FunctionDef
	data      []*DataDef
	externs   []*ExternDef
}

// Name is the name the Module was built with. It is only used for diagnostics.
func (m *Module) Name() string {
	return m.name
}

// Functions returns the functions defined by this module.
func (m *Module) Functions() []*FunctionDef {
	return m.functions
}

// Data returns the data objects defined by this module.
func (m *Module) Data() []*DataDef {
	return m.data
}

// Externs returns the symbols this module expects from its dependencies.
func (m *Module) Externs() []*ExternDef {
	return m.externs
}

// Function returns the function defined with the given name, or nil.
func (m *Module) Function(name string) *FunctionDef {
	for _, f := range m.functions {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// WithFunction returns a copy of this module which additionally defines f.
func (m *Module) WithFunction(f *FunctionDef) (*Module, error) {
	b := m.builder()
	b.ExportFunction(f.Name, f.Type, f.Code)
	return b.Build()
}

func (m *Module) builder() *Builder {
	b := NewBuilder(m.name)
	b.functions = append(b.functions, m.functions...)
	b.data = append(b.data, m.data...)
	b.externs = append(b.externs, m.externs...)
	return b
}

// Builder assembles a Module. Errors are deferred until Build, so calls can be chained.
//
// Ex.
//
//	mod, err := native.NewBuilder("blur").
//		DeclareExtern("rt_malloc", native.MallocType).
//		ExportFunction("blur", api.FuncOf(api.ValueTypeUserContext, api.ValueTypeBuffer), blur).
//		Build()
type Builder struct {
	name      string
	functions []*FunctionDef
	data      []*DataDef
	externs   []*ExternDef
}

// NewBuilder returns a Builder for a module with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// ExportFunction defines a function.
func (b *Builder) ExportFunction(name string, typ *api.Type, code Code) *Builder {
	b.functions = append(b.functions, &FunctionDef{Name: name, Type: typ, Code: code})
	return b
}

// ExportData defines a data object initialized to a copy of init.
func (b *Builder) ExportData(name string, init []byte) *Builder {
	data := make([]byte, len(init))
	copy(data, init)
	b.data = append(b.data, &DataDef{Name: name, Init: data})
	return b
}

// DeclareExtern declares a symbol that must be supplied by a dependency at link time. Declaring the same name
// twice with an equal type is allowed.
func (b *Builder) DeclareExtern(name string, typ *api.Type) *Builder {
	b.externs = append(b.externs, &ExternDef{Name: name, Type: typ})
	return b
}

// Build validates the definitions and returns the Module.
func (b *Builder) Build() (*Module, error) {
	defined := map[string]struct{}{}
	for _, f := range b.functions {
		if err := validateName(f.Name); err != nil {
			return nil, err
		}
		if f.Type == nil || f.Type.Kind != api.TypeKindFunc {
			return nil, fmt.Errorf("function %q: type must be a function type", f.Name)
		}
		if f.Code == nil {
			return nil, fmt.Errorf("function %q: code is nil", f.Name)
		}
		if _, ok := defined[f.Name]; ok {
			return nil, fmt.Errorf("duplicate symbol %q", f.Name)
		}
		defined[f.Name] = struct{}{}
	}
	for _, d := range b.data {
		if err := validateName(d.Name); err != nil {
			return nil, err
		}
		if _, ok := defined[d.Name]; ok {
			return nil, fmt.Errorf("duplicate symbol %q", d.Name)
		}
		defined[d.Name] = struct{}{}
	}

	var externs []*ExternDef
	declared := map[string]*ExternDef{}
	for _, e := range b.externs {
		if err := validateName(e.Name); err != nil {
			return nil, err
		}
		if e.Type == nil {
			return nil, fmt.Errorf("extern %q: type is nil", e.Name)
		}
		if _, ok := defined[e.Name]; ok {
			return nil, fmt.Errorf("extern %q is also defined", e.Name)
		}
		if prev, ok := declared[e.Name]; ok {
			if !prev.Type.Equal(e.Type) {
				return nil, fmt.Errorf("extern %q redeclared as %s, was %s", e.Name, e.Type, prev.Type)
			}
			continue
		}
		declared[e.Name] = e
		externs = append(externs, e)
	}

	return &Module{
		name:      b.name,
		functions: append([]*FunctionDef(nil), b.functions...),
		data:      append([]*DataDef(nil), b.data...),
		externs:   externs,
	}, nil
}

func validateName(name string) error {
	if name == "" {
		return errors.New("symbol name is empty")
	}
	return nil
}
