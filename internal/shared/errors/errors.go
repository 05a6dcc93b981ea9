package errors

import (
	"errors"
	"fmt"
)

// AppError represents an application error with additional context.
type AppError struct {
	Code    string // Error code for client
	Message string // Human-readable message
	Err     error  // Underlying error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Common error codes. Severity grows with scope: record-level problems are
// counted and dropped, version-level problems mean "try the next version",
// exhaustion and generation failure are terminal for the statement.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeSandboxRejected  = "SANDBOX_REJECTED"
	ErrCodeSandboxTimeout   = "SANDBOX_TIMEOUT"
	ErrCodeSandboxRuntime   = "SANDBOX_RUNTIME"
	ErrCodeOutputMalformed  = "OUTPUT_MALFORMED"
	ErrCodeTotalsMismatch   = "TOTALS_MISMATCH"
	ErrCodeParserExhausted  = "PARSER_EXHAUSTED"
	ErrCodeGenerationFailed = "GENERATION_FAILED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeDatabaseError    = "DATABASE_ERROR"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// New creates a new AppError.
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Validation creates a validation error.
func Validation(message string) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: message,
	}
}

// NotFound creates a not found error.
func NotFound(resource string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// Unauthorized creates an unauthorized error.
func Unauthorized(message string) *AppError {
	return &AppError{
		Code:    ErrCodeUnauthorized,
		Message: message,
	}
}

// BadRequest creates a bad request error.
func BadRequest(message string) *AppError {
	return &AppError{
		Code:    ErrCodeBadRequest,
		Message: message,
	}
}

// TotalsMismatch marks an execution whose output disagrees with the
// statement-declared totals. It is a per-version failure, not a system fault.
func TotalsMismatch(message string) *AppError {
	return &AppError{
		Code:    ErrCodeTotalsMismatch,
		Message: message,
	}
}

// ParserExhausted marks a statement for which every cached version failed.
func ParserExhausted(message string) *AppError {
	return &AppError{
		Code:    ErrCodeParserExhausted,
		Message: message,
	}
}

// GenerationFailed marks a statement for which code generation never produced
// a non-empty valid result.
func GenerationFailed(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeGenerationFailed,
		Message: message,
		Err:     err,
	}
}

// DatabaseError creates a database error.
func DatabaseError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeDatabaseError,
		Message: message,
		Err:     err,
	}
}

// Internal creates an internal error.
func Internal(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: message,
		Err:     err,
	}
}

// IsAppError checks if an error is an AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts an AppError from an error.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}
