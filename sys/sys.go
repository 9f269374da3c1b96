// Package sys includes constants and types used by both public and internal APIs.
package sys

import (
	"fmt"
)

// Status codes returned by entry points of compiled modules. Zero is success. Compiled code may return other
// non-zero values of its own; those are passed through unchanged.
const (
	// StatusOK is returned by a successful invocation.
	StatusOK int32 = 0
	// StatusAborted is returned when an invocation was aborted by the error path or a failing trace handler.
	StatusAborted int32 = -1
	// StatusBadArguments is returned when an entry point was called with the wrong number or types of arguments.
	StatusBadArguments int32 = -2
	// StatusOutOfMemory is returned when an allocation made on behalf of compiled code failed.
	StatusOutOfMemory int32 = -3
	// StatusDeviceError is returned by the device backend when a buffer cannot be copied or freed.
	StatusDeviceError int32 = -4
)

// AbortError is returned to a caller of a compiled function whose invocation did not continue normally: compiled
// code reported a fatal error, or a trace handler returned non-zero.
//
// Here's an example of how to get the status:
//
//	status, err := main.Call(uc, in, out)
//	if err != nil {
//		if abortErr, ok := err.(*sys.AbortError); ok {
//			// abortErr.Status() == status
//		}
//	--snip--
//
// Note: The error and trace handlers are called before the invocation is aborted, so a handler can observe the
// message without inspecting this error.
type AbortError struct {
	status  int32
	message string
}

func NewAbortError(status int32, message string) *AbortError {
	return &AbortError{status: status, message: message}
}

// Status returns the non-zero status the aborted invocation returned.
func (e *AbortError) Status() int32 {
	return e.status
}

// Message is the text passed to the error handler, if any.
func (e *AbortError) Message() string {
	return e.message
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("pipeline aborted with status(%d): %s", e.status, e.message)
}

// Is allows use via errors.Is
func (e *AbortError) Is(err error) bool {
	if target, ok := err.(*AbortError); ok {
		return e.status == target.status && e.message == target.message
	}
	return false
}
