// Package handlers holds the process-wide default api.Handlers and resolves the effective handlers of each
// invocation against them.
package handlers

import (
	"sync/atomic"

	"github.com/jitrt/jitrt/api"
)

var defaults atomic.Pointer[api.Handlers]

func init() {
	defaults.Store(&api.Handlers{})
}

// Defaults returns a snapshot of the process-wide default handlers.
func Defaults() api.Handlers {
	return *defaults.Load()
}

// SetDefaults replaces the process-wide default handlers and returns the ones replaced.
func SetDefaults(h api.Handlers) api.Handlers {
	return *defaults.Swap(&h)
}

// Resolve returns requested with every nil field taken from defaults.
func Resolve(requested, defaults api.Handlers) api.Handlers {
	ret := requested
	if ret.Print == nil {
		ret.Print = defaults.Print
	}
	if ret.Malloc == nil {
		ret.Malloc = defaults.Malloc
	}
	if ret.Free == nil {
		ret.Free = defaults.Free
	}
	if ret.DoTask == nil {
		ret.DoTask = defaults.DoTask
	}
	if ret.DoParFor == nil {
		ret.DoParFor = defaults.DoParFor
	}
	if ret.Error == nil {
		ret.Error = defaults.Error
	}
	if ret.Trace == nil {
		ret.Trace = defaults.Trace
	}
	return ret
}

// InitUserContext writes user and the handlers resolved against the current defaults into out.
func InitUserContext(out *api.UserContext, user any, requested api.Handlers) {
	out.User = user
	out.Handlers = Resolve(requested, Defaults())
}

// NewUserContext is like InitUserContext, but allocates the result.
func NewUserContext(user any, requested api.Handlers) *api.UserContext {
	uc := &api.UserContext{}
	InitUserContext(uc, user, requested)
	return uc
}
