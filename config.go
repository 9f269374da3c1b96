package jitrt

import (
	"io"
	"log/slog"
	"os"

	"github.com/jitrt/jitrt/internal/logging"
	"github.com/xyproto/env/v2"
)

// Environment variables read by NewRuntimeConfig.
const (
	// EnvTarget is a target string, e.g. "host-device_emu". See ParseTarget.
	EnvTarget = "JITRT_TARGET"
	// EnvNumThreads bounds the goroutines of one parallel loop of the default dispatcher.
	EnvNumThreads = "JITRT_NUM_THREADS"
	// EnvLogLevel is one of "debug", "info", "warn" or "error".
	EnvLogLevel = "JITRT_LOG_LEVEL"
)

// RuntimeConfig controls the shared runtime, with the default implementation as NewRuntimeConfig.
type RuntimeConfig struct {
	logger      *slog.Logger
	printWriter io.Writer
	numThreads  int
	target      Target
}

// clone ensures all fields are copied even if nil.
func (c *RuntimeConfig) clone() *RuntimeConfig {
	ret := *c
	ret.target.Features = append([]Feature(nil), c.target.Features...)
	return &ret
}

// NewRuntimeConfig returns the default configuration, overridden by EnvTarget, EnvNumThreads and EnvLogLevel when
// they are set.
//
// An invalid EnvTarget is logged and ignored.
func NewRuntimeConfig() *RuntimeConfig {
	ret := &RuntimeConfig{
		logger:      slog.Default(),
		printWriter: os.Stderr,
		numThreads:  env.Int(EnvNumThreads, 0),
		target:      HostTarget(),
	}
	if level := env.Str(EnvLogLevel); level != "" {
		ret.logger = logging.New(level, "text", os.Stderr)
	}
	if s := env.Str(EnvTarget); s != "" {
		if t, err := ParseTarget(s); err != nil {
			ret.logger.Warn("ignoring invalid target", "env", EnvTarget, "error", err)
		} else {
			ret.target = t
		}
	}
	return ret
}

// WithLogger sets the logger of the shared runtime. Defaults to slog.Default if nil.
//
// A logger in the context.Context passed to Finalize or SharedRuntime.Get takes precedence for that call.
func (c *RuntimeConfig) WithLogger(logger *slog.Logger) *RuntimeConfig {
	if logger == nil {
		logger = slog.Default()
	}
	ret := c.clone()
	ret.logger = logger
	return ret
}

// WithPrintWriter sets where compiled code prints when no print handler is set. Defaults to os.Stderr if nil.
func (c *RuntimeConfig) WithPrintWriter(w io.Writer) *RuntimeConfig {
	if w == nil {
		w = os.Stderr
	}
	ret := c.clone()
	ret.printWriter = w
	return ret
}

// WithNumThreads bounds the goroutines of one parallel loop of the default dispatcher. Zero or less means
// runtime.GOMAXPROCS.
func (c *RuntimeConfig) WithNumThreads(n int) *RuntimeConfig {
	if n < 0 {
		n = 0
	}
	ret := c.clone()
	ret.numThreads = n
	return ret
}

// WithTarget sets the target returned by Target. Defaults to HostTarget.
func (c *RuntimeConfig) WithTarget(t Target) *RuntimeConfig {
	ret := c.clone()
	ret.target = t.With()
	return ret
}

// Target is the target SharedRuntime.GetDefault builds for.
func (c *RuntimeConfig) Target() Target {
	return c.target.With()
}

// NumThreads returns the value set by WithNumThreads, or zero.
func (c *RuntimeConfig) NumThreads() int {
	return c.numThreads
}
