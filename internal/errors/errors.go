// Package errors provides structured error types for reqgrid.
// Every error carries a category, code, message, and retryable flag so that
// API handlers can map failures to responses without string matching.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryQuery      ErrorCategory = "QUERY"
	ErrCategorySource     ErrorCategory = "SOURCE"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeInvalidConfig   = "INVALID_CONFIG"

	// Query codes
	CodeParseError  = "PARSE_ERROR"
	CodeRowNotFound = "ROW_NOT_FOUND"

	// Source codes
	CodeNotInitialized  = "NOT_INITIALIZED"
	CodeLoadFailed      = "LOAD_FAILED"
	CodeMalformedRecord = "MALFORMED_RECORD"

	// Storage codes
	CodeObjectNotFound = "OBJECT_NOT_FOUND"
	CodeDownloadFailed = "DOWNLOAD_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// ReqgridError is the structured error type used throughout the system.
type ReqgridError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *ReqgridError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *ReqgridError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *ReqgridError) Is(target error) bool {
	var t *ReqgridError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new ReqgridError.
func New(category ErrorCategory, code, message string) *ReqgridError {
	return &ReqgridError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new ReqgridError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *ReqgridError {
	return &ReqgridError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *ReqgridError) WithDetails(details map[string]interface{}) *ReqgridError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var re *ReqgridError
	if errors.As(err, &re) {
		return re.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a ReqgridError.
func GetCategory(err error) ErrorCategory {
	var re *ReqgridError
	if errors.As(err, &re) {
		return re.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a ReqgridError.
func GetCode(err error) string {
	var re *ReqgridError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// GetMessage returns the message of the first ReqgridError in the chain
// without its cause, or err.Error() when there is none.
func GetMessage(err error) string {
	var re *ReqgridError
	if errors.As(err, &re) {
		return re.Message
	}
	return err.Error()
}

// IsInvalidArgument reports whether err is a validation INVALID_ARGUMENT error.
func IsInvalidArgument(err error) bool {
	return GetCategory(err) == ErrCategoryValidation && GetCode(err) == CodeInvalidArgument
}

// isRetryable determines if an error code is retryable.
// Only transient storage reads and an unloaded dataset are worth retrying;
// the query engine itself is pure and fails identically on retry.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	case category == ErrCategorySource && code == CodeNotInitialized:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

// InvalidArgument returns a VALIDATION/INVALID_ARGUMENT error with a formatted message.
func InvalidArgument(format string, args ...interface{}) *ReqgridError {
	return New(ErrCategoryValidation, CodeInvalidArgument, fmt.Sprintf(format, args...))
}

func NewQueryError(code, message string) *ReqgridError {
	return New(ErrCategoryQuery, code, message)
}

func NewSourceError(code, message string, cause error) *ReqgridError {
	return Wrap(ErrCategorySource, code, message, cause)
}

func NewStorageError(code, message string, cause error) *ReqgridError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewInternalError(message string, cause error) *ReqgridError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
