package jitrt

import (
	"github.com/jitrt/jitrt/api"
	"github.com/jitrt/jitrt/internal/handlers"
)

// SetDefaultHandlers replaces the process-wide default handlers and returns the ones replaced. A nil field means
// the built-in behavior of the shared runtime.
//
// User contexts capture the defaults when they are built, so work already holding a user context is not affected.
// Callers must order this against new work themselves.
func SetDefaultHandlers(h api.Handlers) api.Handlers {
	return handlers.SetDefaults(h)
}

// DefaultHandlers returns the process-wide default handlers.
func DefaultHandlers() api.Handlers {
	return handlers.Defaults()
}

// InitUserContext writes user into out, along with requested where every nil field is taken from a single snapshot
// of the default handlers.
func InitUserContext(out *api.UserContext, user any, requested api.Handlers) {
	handlers.InitUserContext(out, user, requested)
}

// NewUserContext is like InitUserContext, but allocates the result.
func NewUserContext(user any, requested api.Handlers) *api.UserContext {
	return handlers.NewUserContext(user, requested)
}
