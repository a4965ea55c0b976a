// Package services implements the field-operation domain writes on top of the dual-path
// executor: every write tries the remote backend first and falls back to the local store
// plus mutation queue.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/gridops/fieldsync/internal/db"
	"github.com/gridops/fieldsync/internal/models"
	"github.com/gridops/fieldsync/internal/sync/dualpath"
	"github.com/gridops/fieldsync/internal/sync/queue"
)

// Remote collections written by the services.
const (
	TicketsCollection        = "tickets"
	TimeEntriesCollection    = "time_entries"
	ExpenseReportsCollection = "expense_reports"
	ExpenseItemsCollection   = "expense_items"
	AssessmentsCollection    = "damage_assessments"
	EquipmentCollection      = "equipment_assessments"
	GPSLocationsCollection   = "gps_locations"
)

// Deps are the collaborators shared by every service.
type Deps struct {
	Store    db.Session
	Queue    *queue.Queue
	IsOnline func() bool
	Now      func() time.Time
}

type base struct {
	store db.Session
	queue *queue.Queue
	exec  *dualpath.Executor
	now   func() time.Time
}

func newBase(deps Deps) base {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Queue == nil {
		deps.Queue = queue.New(deps.Store, queue.WithClock(deps.Now))
	}
	return base{
		store: deps.Store,
		queue: deps.Queue,
		exec:  dualpath.New(deps.IsOnline),
		now:   func() time.Time { return deps.Now().UTC() },
	}
}

// saveAndEnqueue writes record and its queue item in one transaction.
func (b base) saveAndEnqueue(ctx context.Context, table db.Table, record db.Record, op models.Operation, entityType models.EntityType, payload interface{}) (string, error) {
	var queueID string
	err := b.store.Transaction(ctx, []db.Table{table, db.TableSyncQueue}, func(tx db.Session) error {
		if _, err := tx.Put(ctx, table, record); err != nil {
			return err
		}
		id, err := b.queue.With(tx).Enqueue(ctx, op, entityType, record.RecordID(), payload)
		queueID = id
		return err
	})
	return queueID, err
}

// markEntity loads the record with id, applies fn, and updates the latest queue item for
// the entity with queueFn, all in one transaction. A missing record is ignored.
func markEntity[T db.Record](ctx context.Context, b base, table db.Table, entityType models.EntityType, id string,
	fn func(*T), queueFn func(q *queue.Queue, item models.SyncQueueItem) error) error {
	return b.store.Transaction(ctx, []db.Table{table, db.TableSyncQueue}, func(tx db.Session) error {
		record, ok, err := db.Find[T](ctx, tx, table, id)
		if err != nil || !ok {
			return err
		}
		fn(&record)
		if _, err := tx.Put(ctx, table, record); err != nil {
			return err
		}
		q := b.queue.With(tx)
		item, ok, err := q.LatestForEntity(ctx, entityType, id)
		if err != nil || !ok {
			return err
		}
		return queueFn(q, item)
	})
}

func markQueueSynced(ctx context.Context) func(*queue.Queue, models.SyncQueueItem) error {
	return func(q *queue.Queue, item models.SyncQueueItem) error {
		return q.MarkSynced(ctx, item.ID)
	}
}

func markQueueFailed(ctx context.Context, message string) func(*queue.Queue, models.SyncQueueItem) error {
	return func(q *queue.Queue, item models.SyncQueueItem) error {
		return q.MarkFailed(ctx, item.ID, message)
	}
}

// localOnlyFields are sync bookkeeping kept on device and never sent to the backend.
var localOnlyFields = []string{"synced", "retry_count", "last_error"}

// remoteRecord converts an entity into the row inserted remotely: the backend assigns the id
// and local bookkeeping is dropped.
func remoteRecord(entity interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("encode remote record: %w", err)
	}
	row := make(map[string]interface{})
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("encode remote record: %w", err)
	}
	delete(row, "id")
	for _, f := range localOnlyFields {
		delete(row, f)
	}
	return row, nil
}

// ReplayRecord decodes a queued payload into the row sent on replay. Unlike a direct insert
// the local id is kept so replays stay idempotent.
func ReplayRecord(payload json.RawMessage) (map[string]interface{}, error) {
	row := make(map[string]interface{})
	if len(payload) == 0 {
		return row, nil
	}
	if err := json.Unmarshal(payload, &row); err != nil {
		return nil, fmt.Errorf("decode queued payload: %w", err)
	}
	for _, f := range localOnlyFields {
		delete(row, f)
	}
	// The row only reaches the backend on a successful replay, so the remote copy is synced.
	if _, ok := row["sync_status"]; ok {
		row["sync_status"] = models.SyncSynced
	}
	return row, nil
}

// round2 rounds to cents. The epsilon keeps values like 1.005 from rounding down.
func round2(v float64) float64 {
	return math.Round((v+1e-9)*100) / 100
}

func timePtr(t time.Time) *time.Time { return &t }
