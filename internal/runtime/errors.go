package runtime

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// Error taxonomy. Every failure surfaces on the ExecutionResult as one of
// these types plus a message.
const (
	ErrTypePermissionDenied    = "PermissionDenied"
	ErrTypeServiceUnavailable  = "ServiceUnavailable"
	ErrTypeValidation          = "ValidationError"
	ErrTypeCompilation         = "CompilationError"
	ErrTypeRuntime             = "RuntimeError"
	ErrTypeType                = "TypeError"
	ErrTypeTimeout             = "Timeout"
	ErrTypeResultTooLarge      = "ResultTooLarge"
	ErrTypeTransferFailed      = "TransferFailed"
	ErrTypeInsufficientBalance = "InsufficientBalance"
)

// Error is a classified runtime error. Capability and governor code
// returns *Error so failures keep their taxonomy type across the
// JS/Go boundary.
type Error struct {
	Type    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// NewError builds a classified error.
func NewError(errType, format string, args ...any) *Error {
	return &Error{Type: errType, Message: fmt.Sprintf(format, args...)}
}

// permissionDenied is the standard missing-capability error; the message
// names the token so tenants can fix their manifest.
func permissionDenied(token string) *Error {
	return NewError(ErrTypePermissionDenied, "permission denied: this function does not have the %s permission", token)
}

// serviceUnavailable reports a granted capability whose backing service
// is not configured, a distinct failure mode from PermissionDenied.
func serviceUnavailable(name string) *Error {
	return NewError(ErrTypeServiceUnavailable, "%s service is not available", name)
}

// classify maps an arbitrary failure (Go error, engine exception, or
// rejected promise value) to an ErrorInfo. Stack traces never survive
// classification.
func classify(err error, rejected goja.Value) *ErrorInfo {
	// Deadline interrupts surface as *goja.InterruptedError.
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return &ErrorInfo{Type: ErrTypeTimeout, Message: "execution timed out"}
	}

	// Classified errors thrown from the capability layer or governor.
	var classified *Error
	if errors.As(err, &classified) {
		return &ErrorInfo{Type: classified.Type, Message: classified.Message}
	}

	// Engine exceptions carry the thrown JS value.
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return classifyValue(exception.Value())
	}

	if rejected != nil {
		return classifyValue(rejected)
	}

	if err != nil {
		return &ErrorInfo{Type: ErrTypeRuntime, Message: firstLine(err.Error())}
	}
	return &ErrorInfo{Type: ErrTypeRuntime, Message: "unknown error"}
}

// classifyValue inspects a thrown or rejected JS value.
func classifyValue(v goja.Value) *ErrorInfo {
	if v == nil {
		return &ErrorInfo{Type: ErrTypeRuntime, Message: "unknown error"}
	}

	// A Go error thrown through the engine round-trips via Export.
	if exported, ok := v.Export().(error); ok {
		var classified *Error
		if errors.As(exported, &classified) {
			return &ErrorInfo{Type: classified.Type, Message: classified.Message}
		}
		return &ErrorInfo{Type: ErrTypeRuntime, Message: firstLine(exported.Error())}
	}

	// A JS Error object: use its name to pick the taxonomy entry.
	if obj, ok := v.(*goja.Object); ok {
		name := stringProp(obj, "name")
		message := stringProp(obj, "message")
		if message == "" {
			message = firstLine(v.String())
		}
		switch name {
		case "TypeError":
			return &ErrorInfo{Type: ErrTypeType, Message: message}
		case "RangeError", "SyntaxError", "ReferenceError":
			return &ErrorInfo{Type: ErrTypeRuntime, Message: name + ": " + message}
		}
		if message != "" {
			return &ErrorInfo{Type: ErrTypeRuntime, Message: message}
		}
	}

	return &ErrorInfo{Type: ErrTypeRuntime, Message: firstLine(v.String())}
}

func stringProp(obj *goja.Object, name string) string {
	v := obj.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}

// firstLine drops anything after the first newline; engine error strings
// can embed stack fragments, which must not leak to callers.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
