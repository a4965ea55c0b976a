// Package errors provides the error taxonomy shared by the sync engine and domain services.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a class of failure.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Sync errors
	ErrOfflineRequired ErrorCode = "OFFLINE_REQUIRED"
	ErrRemote          ErrorCode = "REMOTE_ERROR"
	ErrSyncConflict    ErrorCode = "SYNC_CONFLICT"
	ErrSyncFailed      ErrorCode = "SYNC_FAILED"
	ErrSyncInProgress  ErrorCode = "SYNC_IN_PROGRESS"

	// Local storage errors are fatal for the engine and always propagate.
	ErrLocalStorage ErrorCode = "LOCAL_STORAGE_ERROR"
	ErrMigration    ErrorCode = "MIGRATION_FAILED"

	// Asset errors
	ErrUploadFailed ErrorCode = "UPLOAD_FAILED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
// Validation and offline errors render only the message so it can be shown to a user as-is.
func (e *AppError) Error() string {
	switch e.Code {
	case ErrValidation, ErrOfflineRequired:
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Validation returns a user-input error. It is raised before any I/O and never retried.
func Validation(message string) *AppError {
	return New(ErrValidation, message)
}

// OfflineRequired returns the error for an online-required operation attempted offline.
func OfflineRequired(message string) *AppError {
	return New(ErrOfflineRequired, message)
}

// LocalStorage wraps a failure of the local durable store.
func LocalStorage(message string, err error) *AppError {
	return Wrap(ErrLocalStorage, message, err)
}

// Remote wraps a failure reported by the remote backend.
func Remote(message string, err error) *AppError {
	return Wrap(ErrRemote, message, err)
}

// Is checks if an error, or any error it wraps, carries the given code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// CodeOf returns the code of the outermost AppError in the chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return Is(err, ErrValidation)
}

// IsOfflineRequired reports whether err is an offline-required rejection.
func IsOfflineRequired(err error) bool {
	return Is(err, ErrOfflineRequired)
}

// IsLocalStorage reports whether err is a local storage failure.
func IsLocalStorage(err error) bool {
	return Is(err, ErrLocalStorage)
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return Is(err, ErrNotFound)
}
