package dualpath

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/gridops/fieldsync/internal/errors"
)

type entity struct {
	ID     string
	Status string
}

type recorder struct {
	remoteCalls   int
	confirmCalls  int
	fallbackCalls int
	fallbackErr   error
}

func (r *recorder) op(remoteErr error) Operation[entity] {
	return Operation[entity]{
		Name: "Widget save",
		Remote: func(ctx context.Context) (entity, error) {
			r.remoteCalls++
			if remoteErr != nil {
				return entity{}, remoteErr
			}
			return entity{ID: "remote-1"}, nil
		},
		Confirm: func(ctx context.Context, e entity) (entity, error) {
			r.confirmCalls++
			e.Status = "synced"
			return e, nil
		},
		Fallback: func(ctx context.Context, err error) (entity, error) {
			r.fallbackCalls++
			r.fallbackErr = err
			return entity{ID: "local-1", Status: "pending"}, nil
		},
	}
}

func online() bool  { return true }
func offline() bool { return false }

// TestExecute_RemoteSuccess tests the synced path.
func TestExecute_RemoteSuccess(t *testing.T) {
	r := &recorder{}
	res, err := Execute(context.Background(), New(online), r.op(nil))
	require.NoError(t, err)

	assert.Equal(t, Synced, res.Outcome)
	assert.Equal(t, "synced", res.Value.Status)
	assert.NoError(t, res.Err())
	assert.Empty(t, res.SoftSuccessMessage())
	assert.Equal(t, 1, r.confirmCalls)
	assert.Zero(t, r.fallbackCalls)
}

// TestExecute_RemoteFailureFallsBack tests that remote errors are absorbed.
func TestExecute_RemoteFailureFallsBack(t *testing.T) {
	r := &recorder{}
	remoteErr := errors.New("remote insert failed")

	res, err := Execute(context.Background(), New(online), r.op(remoteErr))
	require.NoError(t, err)

	assert.Equal(t, Queued, res.Outcome)
	assert.Equal(t, "pending", res.Value.Status)
	assert.NoError(t, res.Err())
	assert.Equal(t, SoftSuccess, res.SoftSuccessMessage())
	assert.Same(t, remoteErr, r.fallbackErr)
	assert.Zero(t, r.confirmCalls)
}

// TestExecute_OfflineSkipsRemote tests the known-offline path.
func TestExecute_OfflineSkipsRemote(t *testing.T) {
	r := &recorder{}
	res, err := Execute(context.Background(), New(offline), r.op(nil))
	require.NoError(t, err)

	assert.Equal(t, Queued, res.Outcome)
	assert.Zero(t, r.remoteCalls)
	assert.Nil(t, r.fallbackErr)
}

// TestExecute_LocalOnly tests that local-only writes bypass the backend while online.
func TestExecute_LocalOnly(t *testing.T) {
	r := &recorder{}
	op := r.op(nil)
	op.LocalOnly = true

	res, err := Execute(context.Background(), New(online), op)
	require.NoError(t, err)
	assert.Equal(t, Queued, res.Outcome)
	assert.Zero(t, r.remoteCalls)
}

// TestExecute_ValidationFirst tests that validation rejects before any I/O.
func TestExecute_ValidationFirst(t *testing.T) {
	r := &recorder{}
	op := r.op(nil)
	op.Validate = func() error { return apperrors.Validation("Subcontractor is required.") }

	res, err := Execute(context.Background(), New(offline), op)
	require.NoError(t, err)

	assert.Equal(t, Rejected, res.Outcome)
	assert.True(t, apperrors.IsValidation(res.Err()))
	assert.Equal(t, "Subcontractor is required.", res.Err().Error())
	assert.Zero(t, r.remoteCalls+r.fallbackCalls)
}

// TestExecute_OnlineRequired tests rejection instead of fallback.
func TestExecute_OnlineRequired(t *testing.T) {
	r := &recorder{}
	op := r.op(nil)
	op.Name = "Expense review"
	op.OnlineRequired = true

	res, err := Execute(context.Background(), New(offline), op)
	require.NoError(t, err)
	assert.Equal(t, Rejected, res.Outcome)
	assert.True(t, apperrors.IsOfflineRequired(res.Err()))
	assert.Equal(t, "Expense review requires an internet connection.", res.Err().Error())
	assert.Zero(t, r.remoteCalls)

	failing := r.op(errors.New("403"))
	failing.OnlineRequired = true
	res, err = Execute(context.Background(), New(online), failing)
	require.NoError(t, err)
	assert.Equal(t, Rejected, res.Outcome)
	assert.EqualError(t, res.Err(), "403")
	assert.Zero(t, r.fallbackCalls)
}

// TestExecute_ConnectivityRechecked tests that the predicate is read on every call.
func TestExecute_ConnectivityRechecked(t *testing.T) {
	isOnline := true
	exec := New(func() bool { return isOnline })

	r := &recorder{}
	res, _ := Execute(context.Background(), exec, r.op(nil))
	assert.Equal(t, Synced, res.Outcome)

	isOnline = false
	res, _ = Execute(context.Background(), exec, r.op(nil))
	assert.Equal(t, Queued, res.Outcome)
	assert.Equal(t, 1, r.remoteCalls)
}

// TestExecute_LocalStorageFailurePropagates tests that store failures are returned.
func TestExecute_LocalStorageFailurePropagates(t *testing.T) {
	op := Operation[entity]{
		Fallback: func(ctx context.Context, err error) (entity, error) {
			return entity{}, errors.New("disk full")
		},
	}
	_, err := Execute(context.Background(), New(offline), op)
	require.Error(t, err)
	assert.True(t, apperrors.IsLocalStorage(err))
}

// TestErrorMessage tests the last_error text.
func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "", ErrorMessage(nil))
	assert.Equal(t, "timeout", ErrorMessage(errors.New("timeout")))
	assert.Equal(t, "timeout", ErrorMessage(apperrors.Remote("insert", errors.New("timeout"))))
}
