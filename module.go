package jitrt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/docker/go-units"
	"github.com/google/uuid"

	"github.com/jitrt/jitrt/api"
	"github.com/jitrt/jitrt/internal/handlers"
	"github.com/jitrt/jitrt/internal/linker"
	"github.com/jitrt/jitrt/internal/logging"
	"github.com/jitrt/jitrt/native"
	"github.com/jitrt/jitrt/sys"
)

var (
	// ErrAlreadyFinalized is returned by CompiledModule.Finalize when called more than once.
	ErrAlreadyFinalized = errors.New("module already finalized")
	// ErrModuleClosed is returned when using a module whose last reference was released.
	ErrModuleClosed = errors.New("module closed")
	// ErrNotFinalized is returned when an empty module is used as a dependency.
	ErrNotFinalized = errors.New("module not finalized")
)

// WrapperSuffix is appended to the entry name to name the wrapper of a pipeline.
const WrapperSuffix = "_jit_wrapper"

const (
	stateEmpty int32 = iota
	stateFinalizing
	stateFinalized
	stateClosed
)

// CompiledModule is a native module linked into executable memory, with the symbols callers asked for.
//
// A new CompiledModule is empty: MainFunction is nil and Exports has no symbols. Finalize populates it once.
// CompiledModule is reference counted: it starts with one reference, Retain adds one and Close drops one. When the
// last reference is dropped, the image is unmapped and the references to the dependencies are dropped too. So a
// dependency stays mapped at least as long as every module linked against it.
type CompiledModule struct {
	id    string
	state atomic.Int32
	refs  atomic.Int32

	// The fields below are written once by Finalize, before state becomes stateFinalized.

	name    string
	exports *native.SymbolTable
	main    *Function
	wrapper WrapperFunc
	image   *linker.Image
	deps    []*CompiledModule
	logger  *slog.Logger

	// onClose releases state the image code refers to. It runs after the image is unmapped.
	onClose func()
}

// NewCompiledModule returns an empty module holding one reference.
func NewCompiledModule() *CompiledModule {
	m := &CompiledModule{id: uuid.NewString(), logger: slog.Default()}
	m.refs.Store(1)
	return m
}

// ID identifies the module in logs.
func (m *CompiledModule) ID() string {
	return m.id
}

// Name returns the name of the native module, or "" if not finalized.
func (m *CompiledModule) Name() string {
	return m.name
}

// String implements fmt.Stringer.
func (m *CompiledModule) String() string {
	if m.name == "" {
		return m.id
	}
	return fmt.Sprintf("%s(%s)", m.name, m.id)
}

// Finalize links mod against the exports of deps and maps it for execution.
//
// Each extern of mod resolves to the first dependency, in order, exporting the name with an equal type. A missing
// or mismatched extern is an error.
//
// When entry names a function of mod, it becomes MainFunction and a wrapper named entry+WrapperSuffix becomes
// WrapperFunction. Both are exported. An entry that is empty or not defined by mod is not an error: MainFunction
// stays nil. Every name in requestedExports that mod defines is also exported. Names it does not define are skipped.
//
// On success the module holds a reference to every dependency. Finalize succeeds at most once: later calls return
// ErrAlreadyFinalized. A failed call leaves the module empty.
func (m *CompiledModule) Finalize(ctx context.Context, mod *native.Module, entry string, deps []*CompiledModule,
	requestedExports []string,
) error {
	return m.finalize(ctx, mod, entry, deps, requestedExports, runtime.GOARCH)
}

func (m *CompiledModule) finalize(ctx context.Context, mod *native.Module, entry string, deps []*CompiledModule,
	requestedExports []string, arch string,
) (err error) {
	if !m.state.CompareAndSwap(stateEmpty, stateFinalizing) {
		if m.state.Load() == stateClosed {
			return ErrModuleClosed
		}
		return ErrAlreadyFinalized
	}
	defer func() {
		if err != nil {
			m.state.Store(stateEmpty)
		}
	}()

	if mod == nil {
		return errors.New("native module is nil")
	}
	logger := logging.FromContext(ctx, nil)

	resolvers := make([]linker.Resolver, 0, len(deps))
	for i, dep := range deps {
		if dep == nil {
			return fmt.Errorf("dependency[%d] is nil", i)
		}
		switch dep.state.Load() {
		case stateFinalized:
		case stateClosed:
			return fmt.Errorf("dependency[%d] %s: %w", i, dep, ErrModuleClosed)
		default:
			return fmt.Errorf("dependency[%d] %s: %w", i, dep, ErrNotFinalized)
		}
		resolvers = append(resolvers, dep.exports)
	}

	var mainDef *native.FunctionDef
	var wrapperName string
	if entry != "" {
		if mainDef = mod.Function(entry); mainDef != nil {
			wrapperName = entry + WrapperSuffix
			mod, err = mod.WithFunction(&native.FunctionDef{
				Name: wrapperName,
				Type: native.WrapperType,
				Code: native.NewWrapper(entry, mainDef.Type),
			})
			if err != nil {
				return fmt.Errorf("adding wrapper for %q: %w", entry, err)
			}
		} else {
			logger.Debug("entry function not found", "module", mod.Name(), "entry", entry)
		}
	}

	img, err := linker.Link(mod, arch, resolvers)
	if err != nil {
		return err
	}

	symbols := make(map[string]native.Symbol, len(requestedExports)+2)
	if mainDef != nil {
		mainSym, _ := img.Defined(entry)
		wrapperSym, _ := img.Defined(wrapperName)
		symbols[entry] = mainSym
		symbols[wrapperName] = wrapperSym
		m.main = &Function{name: entry, typ: mainDef.Type, sym: mainSym}
		m.wrapper = newWrapperFunc(wrapperSym)
	}
	for _, name := range requestedExports {
		if sym, ok := img.Defined(name); ok {
			symbols[name] = sym
		} else {
			logger.Debug("requested export not found", "module", mod.Name(), "export", name)
		}
	}

	m.name = mod.Name()
	m.exports = native.NewSymbolTable(symbols)
	m.image = img
	m.logger = logger
	m.deps = make([]*CompiledModule, 0, len(deps))
	for _, dep := range deps {
		m.deps = append(m.deps, dep.Retain())
	}
	m.state.Store(stateFinalized)

	logger.Debug("finalized module", "module", m.name, "id", m.id, "exports", m.exports.Len(),
		"deps", len(m.deps), "size", units.BytesSize(float64(img.Size())))
	return nil
}

// Exports returns the symbols of this module, which are empty until Finalize succeeds.
func (m *CompiledModule) Exports() *native.SymbolTable {
	if m.state.Load() != stateFinalized {
		return nil
	}
	return m.exports
}

// Lookup returns the exported symbol with the given name.
func (m *CompiledModule) Lookup(name string) (native.Symbol, bool) {
	return m.Exports().Get(name)
}

// MainFunction returns the typed entry point, or nil if this module has none.
func (m *CompiledModule) MainFunction() *Function {
	if m.state.Load() != stateFinalized {
		return nil
	}
	return m.main
}

// WrapperFunction returns the type-erased entry point, or nil if this module has none.
func (m *CompiledModule) WrapperFunction() WrapperFunc {
	if m.state.Load() != stateFinalized {
		return nil
	}
	return m.wrapper
}

// DeclareExterns declares every export of this module as an extern of target, so that target can be finalized
// with this module as a dependency.
func (m *CompiledModule) DeclareExterns(target *native.Builder) {
	m.Exports().Range(func(name string, sym native.Symbol) bool {
		target.DeclareExtern(name, sym.Type)
		return true
	})
}

// Call calls the exported function name. args are passed as is: a user context parameter needs a slot in args.
// A nil uc is resolved from the default handlers.
func (m *CompiledModule) Call(name string, uc *api.UserContext, args ...unsafe.Pointer) (int32, error) {
	sym, ok := m.Lookup(name)
	if !ok {
		return sys.StatusBadArguments, fmt.Errorf("%q is not exported by %s", name, m)
	}
	return native.Invoke(sym, uc, args)
}

// CopyToDevice copies the host memory of buf to the device, allocating device memory if needed. A module without
// a device backend does nothing and returns zero.
func (m *CompiledModule) CopyToDevice(buf *api.Buffer) int32 {
	return m.deviceCall(native.SymbolCopyToDevice, buf)
}

// CopyToHost copies the device memory of buf back to the host. A module without a device backend does nothing and
// returns zero.
func (m *CompiledModule) CopyToHost(buf *api.Buffer) int32 {
	return m.deviceCall(native.SymbolCopyToHost, buf)
}

// DeviceFree releases the device memory of buf. A module without a device backend does nothing and returns zero.
func (m *CompiledModule) DeviceFree(buf *api.Buffer) int32 {
	return m.deviceCall(native.SymbolDeviceFree, buf)
}

func (m *CompiledModule) deviceCall(name string, buf *api.Buffer) int32 {
	sym, ok := m.Lookup(name)
	if !ok {
		return sys.StatusOK
	}
	if buf == nil {
		return sys.StatusBadArguments
	}
	uc := handlers.NewUserContext(nil, api.Handlers{})
	status, _ := native.Invoke(sym, uc, []unsafe.Pointer{unsafe.Pointer(uc), unsafe.Pointer(buf)})
	return status
}

// Retain adds a reference to this module and returns it.
func (m *CompiledModule) Retain() *CompiledModule {
	if m.refs.Add(1) <= 1 {
		panic(fmt.Errorf("retaining %s: %w", m, ErrModuleClosed))
	}
	return m
}

// Close drops a reference to this module. Dropping the last one unmaps the image and then drops the references to
// the dependencies. Calling Close more times than the module was retained panics.
func (m *CompiledModule) Close(ctx context.Context) (err error) {
	n := m.refs.Add(-1)
	if n < 0 {
		panic(fmt.Errorf("closing %s: released more times than retained", m))
	}
	if n > 0 {
		return nil
	}

	m.state.Store(stateClosed)
	if m.image != nil {
		err = m.image.Close()
	}
	if m.onClose != nil {
		m.onClose()
	}
	for _, dep := range m.deps {
		if depErr := dep.Close(ctx); err == nil {
			err = depErr
		}
	}
	logging.FromContext(ctx, m.logger).Debug("closed module", "module", m.name, "id", m.id)
	return
}
