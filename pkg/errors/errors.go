// Package errors provides ShadowFS's structured error taxonomy: typed
// errors with enough context (path, operation, sizes) for a boundary shim
// to translate them to platform error codes without re-introspection.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ErrorCode identifies a specific failure kind from the spec's taxonomy.
type ErrorCode string

const (
	// Not-found family
	ErrCodeNotFound   ErrorCode = "NOT_FOUND"
	ErrCodeNotMounted ErrorCode = "NOT_MOUNTED"

	// Conflict family
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"
	ErrCodeNotADirectory ErrorCode = "NOT_A_DIRECTORY"
	ErrCodeIsADirectory  ErrorCode = "IS_A_DIRECTORY"

	// Authorization
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// Input
	ErrCodeInvalidPath ErrorCode = "INVALID_PATH"

	// Capacity
	ErrCodeOverrideStoreFull ErrorCode = "OVERRIDE_STORE_FULL"

	// Platform-surface
	ErrCodePlatformError ErrorCode = "PLATFORM_ERROR"

	// Policy
	ErrCodeUnsupported ErrorCode = "UNSUPPORTED"
)

// ErrorCategory groups ErrorCodes into the families spec §7 names.
type ErrorCategory string

const (
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryConflict      ErrorCategory = "conflict"
	CategoryAuthorization ErrorCategory = "authorization"
	CategoryInput         ErrorCategory = "input"
	CategoryCapacity      ErrorCategory = "capacity"
	CategoryPlatform      ErrorCategory = "platform"
	CategoryPolicy        ErrorCategory = "policy"
)

// GetCategory maps an ErrorCode to its family.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeNotFound, ErrCodeNotMounted:
		return CategoryNotFound
	case ErrCodeAlreadyExists, ErrCodeNotADirectory, ErrCodeIsADirectory:
		return CategoryConflict
	case ErrCodePermissionDenied:
		return CategoryAuthorization
	case ErrCodeInvalidPath:
		return CategoryInput
	case ErrCodeOverrideStoreFull:
		return CategoryCapacity
	case ErrCodePlatformError:
		return CategoryPlatform
	case ErrCodeUnsupported:
		return CategoryPolicy
	default:
		return CategoryPlatform
	}
}

// ShadowFSError is a structured error carrying enough context for a
// boundary shim to derive a platform-native error code without
// re-inspecting the filesystem state.
type ShadowFSError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Path      string    `json:"path,omitempty"`
	Operation string    `json:"operation,omitempty"`
	Component string    `json:"component,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *ShadowFSError) Error() string {
	var b strings.Builder
	if e.Component != "" {
		fmt.Fprintf(&b, "[%s] ", e.Component)
	}
	fmt.Fprintf(&b, "%s", e.Code)
	if e.Operation != "" {
		fmt.Fprintf(&b, " (%s", e.Operation)
		if e.Path != "" {
			fmt.Fprintf(&b, " %s", e.Path)
		}
		b.WriteString(")")
	} else if e.Path != "" {
		fmt.Fprintf(&b, " (%s)", e.Path)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %s", e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause, for errors.Is/errors.As.
func (e *ShadowFSError) Unwrap() error {
	return e.Cause
}

// Is reports whether target shares this error's Code.
func (e *ShadowFSError) Is(target error) bool {
	other, ok := target.(*ShadowFSError)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// JSON renders e as a JSON string, for structured log sinks.
func (e *ShadowFSError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":%q}`, err.Error())
	}
	return string(data)
}

func newError(code ErrorCode, message string) *ShadowFSError {
	return &ShadowFSError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Details:   make(map[string]interface{}),
		Timestamp: time.Now(),
	}
}

// WithPath sets the path a failing operation targeted.
func (e *ShadowFSError) WithPath(path string) *ShadowFSError {
	e.Path = path
	return e
}

// WithOperation sets the operation kind that failed.
func (e *ShadowFSError) WithOperation(op string) *ShadowFSError {
	e.Operation = op
	return e
}

// WithComponent sets which core component raised the error.
func (e *ShadowFSError) WithComponent(component string) *ShadowFSError {
	e.Component = component
	return e
}

// WithRequestID tags e with the correlation ID of the shim request that
// raised it, so a log line can be traced back to one filesystem call.
func (e *ShadowFSError) WithRequestID(id string) *ShadowFSError {
	e.RequestID = id
	return e
}

// WithCause attaches an underlying cause.
func (e *ShadowFSError) WithCause(cause error) *ShadowFSError {
	e.Cause = cause
	return e
}

// WithDetail attaches a structured detail (e.g. current/max sizes).
func (e *ShadowFSError) WithDetail(key string, value interface{}) *ShadowFSError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Constructors for each taxonomy member (spec §7).

// NewNotFound builds a NotFound error for path.
func NewNotFound(path string) *ShadowFSError {
	return newError(ErrCodeNotFound, "path not found").WithPath(path)
}

// NewNotMounted builds a NotMounted error.
func NewNotMounted() *ShadowFSError {
	return newError(ErrCodeNotMounted, "filesystem is not mounted")
}

// NewAlreadyExists builds an AlreadyExists error for path.
func NewAlreadyExists(path string) *ShadowFSError {
	return newError(ErrCodeAlreadyExists, "path already exists").WithPath(path)
}

// NewNotADirectory builds a NotADirectory error for path.
func NewNotADirectory(path string) *ShadowFSError {
	return newError(ErrCodeNotADirectory, "not a directory").WithPath(path)
}

// NewIsADirectory builds an IsADirectory error for path.
func NewIsADirectory(path string) *ShadowFSError {
	return newError(ErrCodeIsADirectory, "is a directory").WithPath(path)
}

// NewPermissionDenied builds a PermissionDenied(path, operation) error.
func NewPermissionDenied(path, operation string) *ShadowFSError {
	return newError(ErrCodePermissionDenied, "operation not permitted").
		WithPath(path).WithOperation(operation)
}

// NewInvalidPath builds an InvalidPath(raw, reason) error.
func NewInvalidPath(raw, reason string) *ShadowFSError {
	return newError(ErrCodeInvalidPath, reason).WithPath(raw)
}

// NewOverrideStoreFull builds an OverrideStoreFull(current, max) error.
func NewOverrideStoreFull(current, max uint64) *ShadowFSError {
	return newError(ErrCodeOverrideStoreFull, "override store has no room for this allocation").
		WithDetail("current", current).
		WithDetail("max", max)
}

// NewPlatformError builds a PlatformError(platform, message, code) error.
func NewPlatformError(platform, message string, code *int) *ShadowFSError {
	e := newError(ErrCodePlatformError, message).WithDetail("platform", platform)
	if code != nil {
		e.WithDetail("platform_code", *code)
	}
	return e
}

// NewUnsupported builds an Unsupported(feature) error.
func NewUnsupported(feature string) *ShadowFSError {
	return newError(ErrCodeUnsupported, "feature not supported by this core").
		WithDetail("feature", feature)
}
