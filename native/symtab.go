package native

import (
	"unsafe"

	"github.com/google/btree"

	"github.com/jitrt/jitrt/api"
)

// Symbol is a named function or data object inside a mapped image.
//
// Address is stable for as long as the image that defines the symbol is mapped.
type Symbol struct {
	Address uintptr
	Type    *api.Type

	// fn is set for function symbols.
	fn *function
	// data points at the first byte of a data symbol.
	data unsafe.Pointer
}

// function is the code behind a function symbol, together with the scope it was linked into.
type function struct {
	name  string
	typ   *api.Type
	code  Code
	scope Scope
}

// NewFunctionSymbol returns the symbol of a function placed at address. Calls through the symbol run code with a
// Frame whose scope is scope.
func NewFunctionSymbol(address uintptr, name string, typ *api.Type, code Code, scope Scope) Symbol {
	return Symbol{Address: address, Type: typ, fn: &function{name: name, typ: typ, code: code, scope: scope}}
}

// NewDataSymbol returns the symbol of a data object of the given type starting at p.
func NewDataSymbol(p unsafe.Pointer, typ *api.Type) Symbol {
	return Symbol{Address: uintptr(p), Type: typ, data: p}
}

// IsFunc returns true if this is a function symbol.
func (s Symbol) IsFunc() bool {
	return s.fn != nil
}

// Pointer returns the address of a data symbol as a pointer, or nil for a function symbol.
func (s Symbol) Pointer() unsafe.Pointer {
	return s.data
}

type symbolEntry struct {
	name string
	sym  Symbol
}

func symbolEntryLess(a, b symbolEntry) bool {
	return a.name < b.name
}

// SymbolTable maps unique names to symbols. It is built once and never mutated afterwards, so any number of
// goroutines may read it without locking. A nil *SymbolTable is empty.
type SymbolTable struct {
	tree *btree.BTreeG[symbolEntry]
}

// NewSymbolTable returns a table of the given symbols.
func NewSymbolTable(symbols map[string]Symbol) *SymbolTable {
	tree := btree.NewG[symbolEntry](8, symbolEntryLess)
	for name, sym := range symbols {
		tree.ReplaceOrInsert(symbolEntry{name: name, sym: sym})
	}
	return &SymbolTable{tree: tree}
}

// Get returns the symbol with the given name, if any.
func (t *SymbolTable) Get(name string) (Symbol, bool) {
	if t == nil {
		return Symbol{}, false
	}
	e, ok := t.tree.Get(symbolEntry{name: name})
	return e.sym, ok
}

// Len returns the number of symbols.
func (t *SymbolTable) Len() int {
	if t == nil {
		return 0
	}
	return t.tree.Len()
}

// Range calls fn for each symbol in name order until fn returns false.
func (t *SymbolTable) Range(fn func(name string, sym Symbol) bool) {
	if t == nil {
		return
	}
	t.tree.Ascend(func(e symbolEntry) bool {
		return fn(e.name, e.sym)
	})
}

// Names returns the symbol names in order.
func (t *SymbolTable) Names() []string {
	names := make([]string, 0, t.Len())
	t.Range(func(name string, _ Symbol) bool {
		names = append(names, name)
		return true
	})
	return names
}
