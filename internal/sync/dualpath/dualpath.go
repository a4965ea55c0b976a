// Package dualpath implements the remote-first, queue-on-failure write pattern shared by
// every domain service.
package dualpath

import (
	"context"
	"errors"

	apperrors "github.com/gridops/fieldsync/internal/errors"
	"github.com/gridops/fieldsync/internal/logging"
)

// Outcome is how a dual-path write ended.
type Outcome int

const (
	// Rejected means the write did not happen: validation failed, or an online-required
	// operation could not reach the backend.
	Rejected Outcome = iota
	// Synced means the remote backend confirmed the write.
	Synced
	// Queued means the write was stored locally and queued for replay.
	Queued
)

func (o Outcome) String() string {
	switch o {
	case Synced:
		return "synced"
	case Queued:
		return "queued"
	default:
		return "rejected"
	}
}

// SoftSuccess is shown to users for queued writes.
const SoftSuccess = "Saved offline, will sync"

// Result is the outcome of a dual-path write. Value is set for Synced and Queued.
type Result[T any] struct {
	Outcome Outcome
	Value   T
	Cause   error
}

// Err returns the rejection error, or nil for Synced and Queued.
func (r Result[T]) Err() error {
	if r.Outcome == Rejected {
		return r.Cause
	}
	return nil
}

// SoftSuccessMessage returns the message for a queued write, or "" otherwise.
func (r Result[T]) SoftSuccessMessage() string {
	if r.Outcome == Queued {
		return SoftSuccess
	}
	return ""
}

// Executor holds the connectivity predicate consulted before every write.
type Executor struct {
	isOnline func() bool
}

// New creates an Executor. isOnline is re-evaluated on every call.
func New(isOnline func() bool) *Executor {
	if isOnline == nil {
		isOnline = func() bool { return true }
	}
	return &Executor{isOnline: isOnline}
}

// Online reports the current connectivity.
func (e *Executor) Online() bool {
	return e.isOnline()
}

// Operation describes one dual-path write.
type Operation[T any] struct {
	// Name is used in logs.
	Name string
	// Validate runs before any I/O. Its error rejects the write.
	Validate func() error
	// OnlineRequired operations never fall back to the local path.
	OnlineRequired bool
	// LocalOnly skips the remote attempt, e.g. for entities that never synced.
	LocalOnly bool
	// Remote performs the backend call.
	Remote func(ctx context.Context) (T, error)
	// Confirm persists the synced copy of a successful remote result. Optional.
	Confirm func(ctx context.Context, value T) (T, error)
	// Fallback stores the entity locally as pending and enqueues its mutation.
	// remoteErr is nil when the remote attempt was skipped.
	Fallback func(ctx context.Context, remoteErr error) (T, error)
}

// Execute runs op. The returned error is only set for local storage failures;
// every other outcome is carried in the Result.
func Execute[T any](ctx context.Context, e *Executor, op Operation[T]) (Result[T], error) {
	if op.Validate != nil {
		if err := op.Validate(); err != nil {
			return reject[T](err), nil
		}
	}

	if op.OnlineRequired {
		if !e.isOnline() {
			return reject[T](apperrors.OfflineRequired(offlineMessage(op.Name))), nil
		}
		value, err := op.Remote(ctx)
		if err != nil {
			logging.Warn("Online-only operation failed", map[string]interface{}{
				"operation": op.Name,
				"error":     err.Error(),
			})
			return reject[T](err), nil
		}
		return confirm(ctx, op, value)
	}

	if op.LocalOnly || !e.isOnline() {
		return fallback(ctx, op, nil)
	}

	value, err := op.Remote(ctx)
	if err != nil {
		logging.Info("Remote write failed, queueing locally", map[string]interface{}{
			"operation": op.Name,
			"error":     err.Error(),
		})
		return fallback(ctx, op, err)
	}
	return confirm(ctx, op, value)
}

func reject[T any](err error) Result[T] {
	return Result[T]{Outcome: Rejected, Cause: err}
}

func confirm[T any](ctx context.Context, op Operation[T], value T) (Result[T], error) {
	if op.Confirm != nil {
		confirmed, err := op.Confirm(ctx, value)
		if err != nil {
			return Result[T]{}, localError(op.Name, err)
		}
		value = confirmed
	}
	return Result[T]{Outcome: Synced, Value: value}, nil
}

func fallback[T any](ctx context.Context, op Operation[T], remoteErr error) (Result[T], error) {
	value, err := op.Fallback(ctx, remoteErr)
	if err != nil {
		return Result[T]{}, localError(op.Name, err)
	}
	return Result[T]{Outcome: Queued, Value: value, Cause: remoteErr}, nil
}

func localError(name string, err error) error {
	if apperrors.IsLocalStorage(err) {
		return err
	}
	return apperrors.LocalStorage(name, err)
}

func offlineMessage(name string) string {
	if name == "" {
		return "This action requires an internet connection."
	}
	return name + " requires an internet connection."
}

// ErrorMessage returns the text recorded as last_error for a remote failure.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Err != nil {
		return appErr.Err.Error()
	}
	return err.Error()
}
