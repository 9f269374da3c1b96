// Package jitrt manages native code produced by a JIT code generator once it is ready to run.
//
// A CompiledModule links a native.Module against the modules it depends on, maps it for execution and exports its
// typed entry point (Function), its type-erased entry point (WrapperFunc) and any other symbol the caller asked
// for. Every pipeline depends on the module of a SharedRuntime, which supplies memory allocation, parallel
// dispatch, error reporting, tracing, printing and, when the Target asks for it, device memory.
//
// Compiled code calls back into the runtime through the api.Handlers of its api.UserContext. A nil handler falls
// back to the defaults set with SetDefaultHandlers, then to the built-in behavior of the shared runtime.
package jitrt
