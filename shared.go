package jitrt

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/jitrt/jitrt/internal/logging"
	"github.com/jitrt/jitrt/internal/rtmodule"
)

// SharedRuntime caches the module every pipeline links against for allocation, parallel dispatch, errors, tracing
// and device memory. It is built on first use and kept until ReleaseAll.
//
// The first Get decides the target: later calls return the same module whatever target they pass, and log a
// warning when it differs.
type SharedRuntime struct {
	config *RuntimeConfig
	build  func(ctx context.Context, target Target) (*CompiledModule, error)

	mu     sync.Mutex
	module *CompiledModule
	target Target
	builds int
}

// NewSharedRuntime returns an empty registry which builds with config. A nil config means NewRuntimeConfig.
func NewSharedRuntime(config *RuntimeConfig) *SharedRuntime {
	if config == nil {
		config = NewRuntimeConfig()
	}
	s := &SharedRuntime{config: config}
	s.build = s.buildRuntime
	return s
}

var defaultSharedRuntime = sync.OnceValue(func() *SharedRuntime {
	return NewSharedRuntime(NewRuntimeConfig())
})

// DefaultSharedRuntime returns the process-wide registry, configured by NewRuntimeConfig.
func DefaultSharedRuntime() *SharedRuntime {
	return defaultSharedRuntime()
}

// Get returns the shared runtime module, building it for target if there is none. Concurrent callers wait for a
// single build.
//
// The registry keeps its own reference to the module until ReleaseAll. Callers that keep using the module after
// that must Retain it, which Finalize does for its dependencies.
func (s *SharedRuntime) Get(ctx context.Context, target Target) (*CompiledModule, error) {
	logger := logging.FromContext(ctx, s.config.logger)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.module != nil {
		if !s.target.Equal(target) {
			logger.Warn("shared runtime already built for another target",
				"built", s.target.String(), "requested", target.String())
		}
		return s.module, nil
	}

	m, err := s.build(logging.WithLogger(ctx, logger), target)
	if err != nil {
		return nil, fmt.Errorf("building shared runtime for %s: %w", target, err)
	}
	s.module, s.target = m, target.With()
	s.builds++
	logger.Info("built shared runtime", "target", s.target.String(), "id", m.ID())
	return m, nil
}

// GetDefault is like Get, using the target of the configuration.
func (s *SharedRuntime) GetDefault(ctx context.Context) (*CompiledModule, error) {
	return s.Get(ctx, s.config.Target())
}

// ReleaseAll drops the reference of the registry to the shared runtime module, so the next Get builds a new one.
// The module is unmapped once every module linked against it is closed too.
func (s *SharedRuntime) ReleaseAll(ctx context.Context) error {
	s.mu.Lock()
	m := s.module
	s.module, s.target = nil, Target{}
	s.mu.Unlock()

	if m == nil {
		return nil
	}
	logging.FromContext(ctx, s.config.logger).Debug("releasing shared runtime", "id", m.ID())
	return m.Close(ctx)
}

// Builds returns how many times a shared runtime module was built.
func (s *SharedRuntime) Builds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.builds
}

// Target returns the target of the current shared runtime module, and false if there is none.
func (s *SharedRuntime) Target() (Target, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.module == nil {
		return Target{}, false
	}
	return s.target.With(), true
}

// buildRuntime finalizes the runtime module of rtmodule for target. The device symbols are only exported when
// target has FeatureDeviceEmu.
func (s *SharedRuntime) buildRuntime(ctx context.Context, target Target) (*CompiledModule, error) {
	rt := rtmodule.New(rtmodule.Config{
		Logger:  logging.FromContext(ctx, s.config.logger),
		Print:   s.config.printWriter,
		Workers: s.config.numThreads,
		Device:  target.Has(FeatureDeviceEmu),
	})
	mod, err := rt.Module()
	if err != nil {
		return nil, err
	}

	arch := target.GOARCH()
	if arch == "" {
		arch = runtime.GOARCH
	}
	m := NewCompiledModule()
	m.onClose = rt.Close
	if err = m.finalize(ctx, mod, "", nil, rt.Exports(), arch); err != nil {
		rt.Close()
		return nil, err
	}
	return m, nil
}
