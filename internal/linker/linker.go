// Package linker places a native.Module into mapped memory and resolves its externs.
package linker

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/jitrt/jitrt/api"
	"github.com/jitrt/jitrt/internal/asm"
	"github.com/jitrt/jitrt/internal/platform"
	"github.com/jitrt/jitrt/native"
)

const (
	// FunctionSlotSize is the number of text bytes reserved per function. A function's address is the start of its
	// slot, which is filled with trap instructions.
	FunctionSlotSize = 16
	// DataAlignment is the alignment of every data symbol.
	DataAlignment = 16
)

// Resolver looks up symbols exported by an already linked dependency.
type Resolver interface {
	Get(name string) (native.Symbol, bool)
}

var _ native.Scope = (*Image)(nil)

// Image is a native.Module linked into mapped memory. Its symbols keep their addresses until Close.
type Image struct {
	name string
	arch string
	mem  []byte
	text []byte
	data []byte

	// defined are the symbols the module defines.
	defined map[string]native.Symbol
	// scope is defined plus the resolved externs: everything code in this image can reference by name.
	scope map[string]native.Symbol

	closed atomic.Bool
}

// Link places the functions and data of m into a new mapping and resolves every extern of m against deps, in order.
// The first dependency that defines a name supplies it, and its type must equal the declared type. arch is the
// GOARCH whose trap stub fills the function slots; an arch without one leaves them zeroed.
func Link(m *native.Module, arch string, deps []Resolver) (*Image, error) {
	functions, data, externs := m.Functions(), m.Data(), m.Externs()
	img := &Image{
		name:    m.Name(),
		arch:    arch,
		defined: make(map[string]native.Symbol, len(functions)+len(data)),
		scope:   make(map[string]native.Symbol, len(functions)+len(data)+len(externs)),
	}

	// Resolve externs first, so a failure does not leave anything mapped.
	for _, e := range externs {
		sym, err := resolveExtern(e, deps)
		if err != nil {
			return nil, fmt.Errorf("linking %q: %w", img.name, err)
		}
		img.scope[e.Name] = sym
	}

	textSize := platform.AlignUp(len(functions)*FunctionSlotSize, platform.PageSize)
	dataOffsets := make([]int, len(data))
	dataSize := 0
	for i, d := range data {
		dataOffsets[i] = dataSize
		dataSize = platform.AlignUp(dataSize+len(d.Init), DataAlignment)
	}
	dataSize = platform.AlignUp(dataSize, platform.PageSize)

	if total := textSize + dataSize; total > 0 {
		mem, err := platform.MmapImage(total)
		if err != nil {
			return nil, fmt.Errorf("mapping image of %q: %w", img.name, err)
		}
		img.mem = mem
		img.text = mem[:textSize]
		img.data = mem[textSize : textSize+dataSize]
	}

	if len(img.text) > 0 {
		// An arch without a trap encoding keeps zeroed slots, which still fault on every supported target.
		_ = asm.FillTrap(arch, img.text)
	}

	for i, f := range functions {
		address := uintptr(unsafe.Pointer(&img.text[i*FunctionSlotSize]))
		img.defined[f.Name] = native.NewFunctionSymbol(address, f.Name, f.Type, f.Code, img)
	}
	for i, d := range data {
		var p unsafe.Pointer
		if len(d.Init) > 0 {
			copy(img.data[dataOffsets[i]:], d.Init)
			p = unsafe.Pointer(&img.data[dataOffsets[i]])
		} else if dataOffsets[i] < len(img.data) {
			// Zero sized objects share the address of the next object.
			p = unsafe.Pointer(&img.data[dataOffsets[i]])
		}
		img.defined[d.Name] = native.NewDataSymbol(p, api.DataOf(uint32(len(d.Init))))
	}
	for name, sym := range img.defined {
		img.scope[name] = sym
	}

	if len(img.text) > 0 {
		if err := platform.MprotectText(img.text); err != nil {
			_ = platform.MunmapImage(img.mem)
			return nil, fmt.Errorf("protecting text of %q: %w", img.name, err)
		}
	}
	return img, nil
}

func resolveExtern(e *native.ExternDef, deps []Resolver) (native.Symbol, error) {
	for _, dep := range deps {
		sym, ok := dep.Get(e.Name)
		if !ok {
			continue
		}
		if !sym.Type.Equal(e.Type) {
			return native.Symbol{}, fmt.Errorf("extern %q declared as %s but defined as %s", e.Name, e.Type, sym.Type)
		}
		return sym, nil
	}
	return native.Symbol{}, fmt.Errorf("unresolved extern %q", e.Name)
}

// Name is the name of the module this image was linked from.
func (img *Image) Name() string {
	return img.name
}

// Size returns the number of mapped bytes.
func (img *Image) Size() int {
	return len(img.mem)
}

// Defined returns a symbol defined by this image, excluding resolved externs.
func (img *Image) Defined(name string) (native.Symbol, bool) {
	sym, ok := img.defined[name]
	return sym, ok
}

// Lookup returns a symbol visible to code in this image: a definition or a resolved extern.
func (img *Image) Lookup(name string) (native.Symbol, bool) {
	sym, ok := img.scope[name]
	return sym, ok
}

// Closed returns true after Close.
func (img *Image) Closed() bool {
	return img.closed.Load()
}

// Close unmaps the image. Every address of its symbols becomes invalid. Closing twice is a no-op.
func (img *Image) Close() error {
	if !img.closed.CompareAndSwap(false, true) {
		return nil
	}
	if len(img.mem) == 0 {
		return nil
	}
	mem := img.mem
	img.mem, img.text, img.data = nil, nil, nil
	return platform.MunmapImage(mem)
}
