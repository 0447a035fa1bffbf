package domain

import "fmt"

// ErrorCode is a closed taxonomy of kernel-level failures. Every fallible
// kernel operation returns one of these codes verbatim so that adapters can
// match on code rather than parsing prose.
type ErrorCode string

const (
	ErrCodeValidation                ErrorCode = "VALIDATION"
	ErrCodeInvalidDirectory          ErrorCode = "INVALID_DIRECTORY"
	ErrCodeTaskNotFound               ErrorCode = "TASK_NOT_FOUND"
	ErrCodeScheduleNotFound           ErrorCode = "SCHEDULE_NOT_FOUND"
	ErrCodeTaskCannotCancel           ErrorCode = "TASK_CANNOT_CANCEL"
	ErrCodeInvalidOperation           ErrorCode = "INVALID_OPERATION"
	ErrCodeDependencyCycle            ErrorCode = "DEPENDENCY_CYCLE"
	ErrCodeResourceExhausted          ErrorCode = "RESOURCE_EXHAUSTED"
	ErrCodeOutputBufferLimitExceeded  ErrorCode = "OUTPUT_BUFFER_LIMIT_EXCEEDED"
	ErrCodeRequestTimeout             ErrorCode = "REQUEST_TIMEOUT"
	ErrCodeSubscriptionLimitExceeded  ErrorCode = "SUBSCRIPTION_LIMIT_EXCEEDED"
	ErrCodeProcessSpawnFailed         ErrorCode = "PROCESS_SPAWN_FAILED"
	ErrCodeStorageFailure             ErrorCode = "STORAGE_FAILURE"
	ErrCodeSystemError                ErrorCode = "SYSTEM_ERROR"
	ErrCodeShutdown                   ErrorCode = "SHUTDOWN"
)

// Error is the kernel's single error type. It carries an enumerated code, a
// human message, optional structured context, and an optional wrapped
// cause for %w-style unwrapping.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is a *Error with the same code, so that
// errors.Is(err, domain.NewError(domain.ErrCodeTaskNotFound, "")) matches
// regardless of message or context.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t == nil {
		return false
	}
	return e.Code == t.Code
}

// NewError constructs an *Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs an *Error that preserves cause for unwrapping.
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithContext returns a copy of e with the given context entries merged in.
func (e *Error) WithContext(ctx map[string]any) *Error {
	if e == nil {
		return nil
	}
	merged := make(map[string]any, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		merged[k] = v
	}
	for k, v := range ctx {
		merged[k] = v
	}
	clone := *e
	clone.Context = merged
	return &clone
}

// CodeOf extracts the ErrorCode from err if it is (or wraps) a *Error,
// otherwise returns ErrCodeSystemError.
func CodeOf(err error) ErrorCode {
	var de *Error
	if ok := asError(err, &de); ok {
		return de.Code
	}
	return ErrCodeSystemError
}

func asError(err error, target **Error) bool {
	for err != nil {
		if de, ok := err.(*Error); ok {
			*target = de
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// Sentinel errors for use with errors.Is where only the code matters.
var (
	ErrValidation               = NewError(ErrCodeValidation, "")
	ErrInvalidDirectory         = NewError(ErrCodeInvalidDirectory, "")
	ErrTaskNotFound             = NewError(ErrCodeTaskNotFound, "")
	ErrScheduleNotFound         = NewError(ErrCodeScheduleNotFound, "")
	ErrTaskCannotCancel         = NewError(ErrCodeTaskCannotCancel, "")
	ErrInvalidOperation         = NewError(ErrCodeInvalidOperation, "")
	ErrDependencyCycle          = NewError(ErrCodeDependencyCycle, "")
	ErrResourceExhausted        = NewError(ErrCodeResourceExhausted, "")
	ErrOutputBufferLimitExceeded = NewError(ErrCodeOutputBufferLimitExceeded, "")
	ErrRequestTimeout           = NewError(ErrCodeRequestTimeout, "")
	ErrSubscriptionLimitExceeded = NewError(ErrCodeSubscriptionLimitExceeded, "")
	ErrProcessSpawnFailed       = NewError(ErrCodeProcessSpawnFailed, "")
	ErrStorageFailure           = NewError(ErrCodeStorageFailure, "")
	ErrSystemError              = NewError(ErrCodeSystemError, "")
	ErrShutdown                 = NewError(ErrCodeShutdown, "")
)
