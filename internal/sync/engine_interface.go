// Package sync drains the mutation queue against the remote backend.
package sync

import (
	"context"
	"time"
)

// DrainEngine defines the drain operations the scheduler and daemon depend on.
// This interface allows for mocking in tests.
type DrainEngine interface {
	// Drain replays every ready queue item once.
	Drain(ctx context.Context) (*SyncResult, error)

	// SetEventHandler sets the handler notified during drains.
	SetEventHandler(handler SyncEventHandler)

	// Status returns the current engine status.
	Status() SyncStatus

	// LastSync returns when the last drain finished without error.
	LastSync() *time.Time

	// LastResult returns the result of the most recent drain.
	LastResult() *SyncResult

	// LastError returns the error of the most recent drain.
	LastError() error
}

var _ DrainEngine = (*Engine)(nil)
