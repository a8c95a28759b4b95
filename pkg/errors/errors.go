package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code for stable testing
type ErrorCode string

// Error codes for different error categories
const (
	// General errors
	ErrUnknown        ErrorCode = "UNKNOWN"
	ErrInternal       ErrorCode = "INTERNAL"
	ErrInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrNotFound       ErrorCode = "NOT_FOUND"
	ErrAlreadyExists  ErrorCode = "ALREADY_EXISTS"
	ErrPermission     ErrorCode = "PERMISSION"
	ErrNotImplemented ErrorCode = "NOT_IMPLEMENTED"
	ErrCanceled       ErrorCode = "CANCELED"

	// Configuration errors
	ErrConfigLoad  ErrorCode = "CONFIG_LOAD"
	ErrConfigParse ErrorCode = "CONFIG_PARSE"
	ErrConfigValid ErrorCode = "CONFIG_INVALID"

	// Formula errors
	ErrFormulaInvalid ErrorCode = "FORMULA_INVALID"
	ErrPredicate      ErrorCode = "PREDICATE"

	// Planning errors
	ErrCycle                ErrorCode = "CYCLE"
	ErrUnresolvedDependency ErrorCode = "UNRESOLVED_DEPENDENCY"

	// Retrieval errors
	ErrFetch     ErrorCode = "FETCH"
	ErrIntegrity ErrorCode = "INTEGRITY"

	// Patching errors
	ErrPatchIntegrity ErrorCode = "PATCH_INTEGRITY"
	ErrPatchApply     ErrorCode = "PATCH_APPLY"

	// Build errors
	ErrBuildStep ErrorCode = "BUILD_STEP"

	// Staging errors
	ErrInstall ErrorCode = "INSTALL"

	// Publishing errors
	ErrLinkConflict ErrorCode = "LINK_CONFLICT"
	ErrLinkState    ErrorCode = "LINK_STATE"

	// Uninstall errors
	ErrDependentsInstalled ErrorCode = "DEPENDENTS_INSTALLED"

	// FileSystem errors
	ErrFileAccess    ErrorCode = "FILE_ACCESS"
	ErrFileWrite     ErrorCode = "FILE_WRITE"
	ErrSymlinkCreate ErrorCode = "SYMLINK_CREATE"
	ErrDirCreate     ErrorCode = "DIR_CREATE"
)

// KegError represents a structured error with code and details
type KegError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Wrapped error
}

// Error implements the error interface
func (e *KegError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *KegError) Unwrap() error {
	return e.Wrapped
}

// Is implements errors.Is interface
func (e *KegError) Is(target error) bool {
	var targetErr *KegError
	if errors.As(target, &targetErr) {
		return e.Code == targetErr.Code
	}
	return false
}

// New creates a new KegError with the given code and message
func New(code ErrorCode, message string) *KegError {
	return &KegError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// Newf creates a new KegError with a formatted message
func Newf(code ErrorCode, format string, args ...interface{}) *KegError {
	return &KegError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Details: make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with a KegError
func Wrap(err error, code ErrorCode, message string) *KegError {
	if err == nil {
		return nil
	}
	return &KegError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Wrapped: err,
	}
}

// Wrapf wraps an existing error with a formatted message
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *KegError {
	if err == nil {
		return nil
	}
	return &KegError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Details: make(map[string]interface{}),
		Wrapped: err,
	}
}

// WithDetail adds a detail to the error
func (e *KegError) WithDetail(key string, value interface{}) *KegError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithDetails adds multiple details to the error
func (e *KegError) WithDetails(details map[string]interface{}) *KegError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// IsErrorCode checks if an error has a specific error code
func IsErrorCode(err error, code ErrorCode) bool {
	var kegErr *KegError
	if errors.As(err, &kegErr) {
		return kegErr.Code == code
	}
	return false
}

// HasErrorCode reports whether any KegError in the chain carries code.
// IsErrorCode only looks at the outermost one.
func HasErrorCode(err error, code ErrorCode) bool {
	for err != nil {
		var kegErr *KegError
		if !errors.As(err, &kegErr) {
			return false
		}
		if kegErr.Code == code {
			return true
		}
		err = kegErr.Wrapped
	}
	return false
}

// GetErrorCode returns the error code from an error, or ErrUnknown if not a KegError
func GetErrorCode(err error) ErrorCode {
	var kegErr *KegError
	if errors.As(err, &kegErr) {
		return kegErr.Code
	}
	return ErrUnknown
}

// GetErrorDetails returns the details from an error, or nil if not a KegError
func GetErrorDetails(err error) map[string]interface{} {
	var kegErr *KegError
	if errors.As(err, &kegErr) {
		return kegErr.Details
	}
	return nil
}

// CollectDetails merges the details of every KegError in the chain.
// Outer errors win on key collisions.
func CollectDetails(err error) map[string]interface{} {
	out := make(map[string]interface{})
	for err != nil {
		var kegErr *KegError
		if !errors.As(err, &kegErr) {
			break
		}
		for k, v := range kegErr.Details {
			if _, seen := out[k]; !seen {
				out[k] = v
			}
		}
		err = kegErr.Wrapped
	}
	return out
}
