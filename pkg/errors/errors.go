// Package errors provides structured error handling for runstream.
// It implements coded errors with context maps and stack traces.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Error codes for programmatic handling
type Code string

const (
	// Catalog and index errors (1xx)
	CodeRunNotFound    Code = "E101"
	CodeStreamNotFound Code = "E102"
	CodeEntryNotFound  Code = "E103"

	// Resolution errors (2xx)
	CodeUnresolvableKey   Code = "E201"
	CodeResourceIntegrity Code = "E202"

	// Store errors (3xx)
	CodeStoreQuery    Code = "E301"
	CodeInvalidConfig Code = "E302"
	CodeStoreClosed   Code = "E303"

	// Dataset and export errors (4xx)
	CodeDatasetClosed Code = "E401"
	CodeExportFailed  Code = "E402"

	// System errors (5xx)
	CodeContextCanceled Code = "E501"
	CodeTimeout         Code = "E502"

	// Unknown
	CodeUnknown Code = "E999"
)

// Error is the base error type for all runstream errors.
type Error struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		sb.WriteString(" (")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, v))
			first = false
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target error.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new Error.
func New(code Code, message string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *Error {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// captureStack captures the current stack trace.
func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *Error) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// --- Convenience constructors ---

// RunNotFound reports that no start document exists for the given uid.
func RunNotFound(uid string) *Error {
	return New(CodeRunNotFound, "run not found").WithContext("uid", uid)
}

// StreamNotFound reports that a run has no descriptors for the stream.
func StreamNotFound(runUID, stream string) *Error {
	return New(CodeStreamNotFound, "stream not found").
		WithContext("run", runUID).
		WithContext("stream", stream)
}

// UnresolvableKey reports a datum id that is not in the resolver cache.
// It is recovered locally by a batch prefetch and a single retry.
func UnresolvableKey(datumID string) *Error {
	return New(CodeUnresolvableKey, "unresolvable foreign key").
		WithContext("datum_id", datumID)
}

// ResourceIntegrity reports a datum id that is still unresolvable after
// its resource's datum records were prefetched. Fatal, never retried.
func ResourceIntegrity(datumID string, err error) *Error {
	e := Wrap(err, CodeResourceIntegrity, "foreign key unresolvable after prefetch")
	if e == nil {
		e = New(CodeResourceIntegrity, "foreign key unresolvable after prefetch")
	}
	return e.WithContext("datum_id", datumID)
}

// InvalidConfig reports an unusable backing-store handle.
func InvalidConfig(detail string) *Error {
	return New(CodeInvalidConfig, detail)
}

// ContextCanceled creates a cancellation error.
func ContextCanceled(operation string) *Error {
	return New(CodeContextCanceled, "operation canceled").
		WithContext("operation", operation)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var rsErr *Error
	if errors.As(err, &rsErr) {
		return rsErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var rsErr *Error
	if errors.As(err, &rsErr) {
		return rsErr.Code
	}
	return CodeUnknown
}

// Key extracts the datum id carried by a resolution error, if any.
func Key(err error) (string, bool) {
	var rsErr *Error
	if !errors.As(err, &rsErr) {
		return "", false
	}
	if rsErr.Code != CodeUnresolvableKey && rsErr.Code != CodeResourceIntegrity {
		return "", false
	}
	id, ok := rsErr.Context["datum_id"].(string)
	return id, ok
}

// IsRetryable returns true if the whole request may be retried.
// Partition reads are idempotent, so store query failures qualify.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeStoreQuery, CodeTimeout:
		return true
	default:
		return false
	}
}
