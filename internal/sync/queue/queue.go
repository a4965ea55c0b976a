// Package queue provides the persistent mutation queue replayed against the remote backend.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/gridops/fieldsync/internal/db"
	apperrors "github.com/gridops/fieldsync/internal/errors"
	"github.com/gridops/fieldsync/internal/logging"
	"github.com/gridops/fieldsync/internal/models"
	"github.com/gridops/fieldsync/internal/uuid"
)

// SequenceName is the LDS counter that orders queue items.
const SequenceName = "sync_queue"

const (
	// DefaultBackoffBase is the delay after the first failure.
	DefaultBackoffBase = 60 * time.Second
	// DefaultBackoffMax caps the delay.
	DefaultBackoffMax = time.Hour
)

// Queue manages pending remote operations stored in the sync_queue table.
type Queue struct {
	session     db.Session
	now         func() time.Time
	backoffBase time.Duration
	backoffMax  time.Duration
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithBackoff sets the base delay and the cap used by Backoff.
func WithBackoff(base, max time.Duration) Option {
	return func(q *Queue) {
		if base > 0 {
			q.backoffBase = base
		}
		if max > 0 {
			q.backoffMax = max
		}
	}
}

// New creates a Queue over session.
func New(session db.Session, opts ...Option) *Queue {
	q := &Queue{
		session:     session,
		now:         time.Now,
		backoffBase: DefaultBackoffBase,
		backoffMax:  DefaultBackoffMax,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// With returns a copy of q bound to session, typically a transaction handle.
func (q *Queue) With(session db.Session) *Queue {
	cp := *q
	cp.session = session
	return &cp
}

// Enqueue records a pending operation and returns its id.
// payload may be a json.RawMessage or any JSON-encodable value.
func (q *Queue) Enqueue(ctx context.Context, op models.Operation, entityType models.EntityType, entityID string, payload interface{}) (string, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return "", apperrors.LocalStorage("encode queue payload", err)
	}

	var item models.SyncQueueItem
	err = q.session.Transaction(ctx, []db.Table{db.TableSyncQueue}, func(tx db.Session) error {
		seq, err := tx.NextSequence(ctx, SequenceName)
		if err != nil {
			return err
		}
		now := q.now().UTC()
		item = models.SyncQueueItem{
			ID:         uuid.New(),
			Seq:        seq,
			Operation:  op,
			EntityType: entityType,
			EntityID:   entityID,
			Payload:    raw,
			Status:     models.QueueStatusPending,
			RetryCount: 0,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		_, err = tx.Put(ctx, db.TableSyncQueue, item)
		return err
	})
	if err != nil {
		return "", err
	}

	logging.Debug("[SyncQueue] Enqueued operation", map[string]interface{}{
		"queue_id":    item.ID,
		"seq":         item.Seq,
		"operation":   string(op),
		"entity_type": string(entityType),
		"entity_id":   entityID,
	})
	return item.ID, nil
}

func encodePayload(payload interface{}) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(p)
	}
}

// Get returns the queue item with id.
func (q *Queue) Get(ctx context.Context, id string) (models.SyncQueueItem, error) {
	return db.Get[models.SyncQueueItem](ctx, q.session, db.TableSyncQueue, id)
}

// update applies fn to the stored item inside one transaction.
func (q *Queue) update(ctx context.Context, id string, fn func(item *models.SyncQueueItem)) (models.SyncQueueItem, error) {
	var item models.SyncQueueItem
	err := q.session.Transaction(ctx, []db.Table{db.TableSyncQueue}, func(tx db.Session) error {
		var err error
		item, err = db.Get[models.SyncQueueItem](ctx, tx, db.TableSyncQueue, id)
		if err != nil {
			return err
		}
		fn(&item)
		item.UpdatedAt = q.now().UTC()
		_, err = tx.Put(ctx, db.TableSyncQueue, item)
		return err
	})
	return item, err
}

// MarkProcessing records that a replay attempt started.
func (q *Queue) MarkProcessing(ctx context.Context, id string) error {
	_, err := q.update(ctx, id, func(item *models.SyncQueueItem) {
		item.Status = models.QueueStatusProcessing
	})
	return err
}

// RecordError sets the last error without changing status or retry count.
func (q *Queue) RecordError(ctx context.Context, id, message string) error {
	_, err := q.update(ctx, id, func(item *models.SyncQueueItem) {
		item.LastError = message
	})
	return err
}

// MarkSynced records a successful replay and clears the last error.
func (q *Queue) MarkSynced(ctx context.Context, id string) error {
	_, err := q.update(ctx, id, func(item *models.SyncQueueItem) {
		item.Status = models.QueueStatusSynced
		item.LastError = ""
	})
	return err
}

// MarkFailed increments the retry count and records message.
func (q *Queue) MarkFailed(ctx context.Context, id, message string) error {
	item, err := q.update(ctx, id, func(item *models.SyncQueueItem) {
		item.Status = models.QueueStatusFailed
		item.RetryCount++
		item.LastError = message
	})
	if err != nil {
		return err
	}

	logging.Warn("[SyncQueue] Operation failed", map[string]interface{}{
		"queue_id":    id,
		"entity_type": string(item.EntityType),
		"entity_id":   item.EntityID,
		"retry_count": item.RetryCount,
		"error":       message,
	})
	return nil
}

// Retry puts an item back to pending. The retry count is cumulative and is kept.
func (q *Queue) Retry(ctx context.Context, id string) error {
	_, err := q.update(ctx, id, func(item *models.SyncQueueItem) {
		item.Status = models.QueueStatusPending
		item.LastError = ""
	})
	return err
}

// Requeue puts an item back to pending with a replacement payload.
func (q *Queue) Requeue(ctx context.Context, id string, payload json.RawMessage) error {
	_, err := q.update(ctx, id, func(item *models.SyncQueueItem) {
		item.Status = models.QueueStatusPending
		item.LastError = ""
		item.Payload = payload
	})
	return err
}

// RetryAll resets every failed item to pending and returns how many were reset.
func (q *Queue) RetryAll(ctx context.Context) (int, error) {
	count := 0
	err := q.session.Transaction(ctx, []db.Table{db.TableSyncQueue}, func(tx db.Session) error {
		failed, err := db.QueryAs[models.SyncQueueItem](ctx, tx, db.TableSyncQueue, "status", models.QueueStatusFailed)
		if err != nil {
			return err
		}
		now := q.now().UTC()
		for _, item := range failed {
			item.Status = models.QueueStatusPending
			item.LastError = ""
			item.UpdatedAt = now
			if _, err := tx.Put(ctx, db.TableSyncQueue, item); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if count > 0 {
		logging.Info("[SyncQueue] Reset failed items for retry", map[string]interface{}{"count": count})
	}
	return count, nil
}

// RecoverProcessing returns items left in processing by an interrupted drain to pending.
func (q *Queue) RecoverProcessing(ctx context.Context) (int, error) {
	count := 0
	err := q.session.Transaction(ctx, []db.Table{db.TableSyncQueue}, func(tx db.Session) error {
		stuck, err := db.QueryAs[models.SyncQueueItem](ctx, tx, db.TableSyncQueue, "status", models.QueueStatusProcessing)
		if err != nil {
			return err
		}
		for _, item := range stuck {
			item.Status = models.QueueStatusPending
			item.UpdatedAt = q.now().UTC()
			if _, err := tx.Put(ctx, db.TableSyncQueue, item); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// List returns every queue item in replay order.
func (q *Queue) List(ctx context.Context) ([]models.SyncQueueItem, error) {
	items, err := db.AllAs[models.SyncQueueItem](ctx, q.session, db.TableSyncQueue)
	if err != nil {
		return nil, err
	}
	sortBySeq(items)
	return items, nil
}

// ListPending returns pending and failed items, oldest first by sequence.
func (q *Queue) ListPending(ctx context.Context) ([]models.SyncQueueItem, error) {
	pending, err := db.QueryAs[models.SyncQueueItem](ctx, q.session, db.TableSyncQueue, "status", models.QueueStatusPending)
	if err != nil {
		return nil, err
	}
	failed, err := db.QueryAs[models.SyncQueueItem](ctx, q.session, db.TableSyncQueue, "status", models.QueueStatusFailed)
	if err != nil {
		return nil, err
	}

	items := append(pending, failed...)
	sortBySeq(items)
	return items, nil
}

// ListForEntity returns the history of one entity, oldest first.
func (q *Queue) ListForEntity(ctx context.Context, entityType models.EntityType, entityID string) ([]models.SyncQueueItem, error) {
	items, err := db.QueryAs[models.SyncQueueItem](ctx, q.session, db.TableSyncQueue, "entity_type+entity_id", entityType, entityID)
	if err != nil {
		return nil, err
	}
	sortBySeq(items)
	return items, nil
}

// LatestForEntity returns the most recent item for an entity, or false when there is none.
func (q *Queue) LatestForEntity(ctx context.Context, entityType models.EntityType, entityID string) (models.SyncQueueItem, bool, error) {
	items, err := q.ListForEntity(ctx, entityType, entityID)
	if err != nil || len(items) == 0 {
		return models.SyncQueueItem{}, false, err
	}
	return items[len(items)-1], true, nil
}

// Stats returns item counts per status plus a total.
func (q *Queue) Stats(ctx context.Context) (map[string]int, error) {
	stats := map[string]int{
		"total":      0,
		"pending":    0,
		"processing": 0,
		"synced":     0,
		"failed":     0,
	}
	for _, status := range []models.QueueStatus{
		models.QueueStatusPending, models.QueueStatusProcessing,
		models.QueueStatusSynced, models.QueueStatusFailed,
	} {
		n, err := q.session.Count(ctx, db.TableSyncQueue, "status", status)
		if err != nil {
			return nil, err
		}
		stats[string(status)] = n
		stats["total"] += n
	}
	return stats, nil
}

// Backoff returns the delay before a failed item is replayed again.
// Formula: 2^retryCount * base, capped at max.
func (q *Queue) Backoff(retryCount int) time.Duration {
	return calculateBackoff(retryCount, q.backoffBase, q.backoffMax)
}

func calculateBackoff(retryCount int, base, max time.Duration) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 30 {
		return max
	}
	backoff := base * time.Duration(int64(1)<<uint(retryCount))
	if backoff > max || backoff <= 0 {
		backoff = max
	}
	return backoff
}

// ReadyForReplay reports whether a drain may attempt item at now.
// Pending items are always ready; failed items wait out their backoff.
func (q *Queue) ReadyForReplay(item models.SyncQueueItem, now time.Time) bool {
	switch item.Status {
	case models.QueueStatusPending:
		return true
	case models.QueueStatusFailed:
		return !now.Before(item.UpdatedAt.Add(q.Backoff(item.RetryCount)))
	default:
		return false
	}
}

func sortBySeq(items []models.SyncQueueItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Seq < items[j].Seq
	})
}

// String renders an item for logs and CLI output.
func String(item models.SyncQueueItem) string {
	return fmt.Sprintf("#%d %s %s/%s [%s]", item.Seq, item.Operation, item.EntityType, item.EntityID, item.Status)
}
