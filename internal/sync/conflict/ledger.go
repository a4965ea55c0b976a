// Package conflict records divergence between queued local writes and server state,
// and applies manual resolutions back onto the mutation queue.
package conflict

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
	"github.com/gridops/fieldsync/internal/sync/queue"
	"github.com/gridops/fieldsync/internal/uuid"
)

// SequenceName is the LDS counter that breaks detected_at ties.
const SequenceName = "sync_conflicts"

// DefaultReason is recorded on the queue item when it carries no error of its own.
const DefaultReason = "Conflict detected"

// entityTables maps entity types to the table caching them. Photos are settled by the photo
// pipeline and never rewritten from a resolution.
var entityTables = map[models.EntityType]db.Table{
	models.EntityTicket:        db.TableTickets,
	models.EntityTimeEntry:     db.TableTimeEntries,
	models.EntityExpenseReport: db.TableExpenseReports,
	models.EntityExpenseItem:   db.TableExpenseItems,
	models.EntityAssessment:    db.TableAssessments,
	models.EntityGPSLocation:   db.TableGPSLocations,
}

// bookkeepingFields never come from a resolved payload.
var bookkeepingFields = []string{"id", "synced", "sync_status", "retry_count", "last_error"}

// Input describes a conflict to record.
type Input struct {
	EntityType      models.EntityType
	EntityID        string
	SyncQueueItemID string
	LocalPayload    json.RawMessage
	ServerPayload   json.RawMessage
}

// Ledger stores conflicts in the sync_conflicts table.
type Ledger struct {
	session db.Session
	queue   *queue.Queue
	now     func() time.Time
}

// New creates a Ledger. q must operate on the same store as session.
func New(session db.Session, q *queue.Queue) *Ledger {
	return &Ledger{session: session, queue: q, now: time.Now}
}

// WithClock returns a copy of l using now as its time source.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	cp := *l
	cp.now = now
	return &cp
}

// Create records an unresolved conflict and returns its id.
func (l *Ledger) Create(ctx context.Context, in Input) (string, error) {
	return l.create(ctx, l.session, in)
}

func (l *Ledger) create(ctx context.Context, s db.Session, in Input) (string, error) {
	var c models.SyncConflict
	err := s.Transaction(ctx, []db.Table{db.TableSyncConflicts}, func(tx db.Session) error {
		seq, err := tx.NextSequence(ctx, SequenceName)
		if err != nil {
			return err
		}
		c = models.SyncConflict{
			ID:              uuid.New(),
			Seq:             seq,
			EntityType:      in.EntityType,
			EntityID:        in.EntityID,
			SyncQueueItemID: in.SyncQueueItemID,
			LocalPayload:    in.LocalPayload,
			ServerPayload:   in.ServerPayload,
			DetectedAt:      l.now().UTC(),
			Resolved:        false,
		}
		_, err = tx.Put(ctx, db.TableSyncConflicts, c)
		return err
	})
	if err != nil {
		return "", err
	}

	logging.Warn("Sync conflict detected", map[string]interface{}{
		"conflict_id":   c.ID,
		"entity_type":   string(c.EntityType),
		"entity_id":     c.EntityID,
		"queue_item_id": c.SyncQueueItemID,
	})
	return c.ID, nil
}

// FromQueueItem demotes the queue item to failed and records a conflict carrying its payload.
// A missing queue item yields ("", nil).
func (l *Ledger) FromQueueItem(ctx context.Context, queueItemID string, serverPayload json.RawMessage) (string, error) {
	var id string
	err := l.session.Transaction(ctx, []db.Table{db.TableSyncQueue, db.TableSyncConflicts}, func(tx db.Session) error {
		q := l.queue.With(tx)
		item, err := q.Get(ctx, queueItemID)
		if apperrors.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}

		reason := item.LastError
		if reason == "" {
			reason = DefaultReason
		}
		if err := q.MarkFailed(ctx, item.ID, reason); err != nil {
			return err
		}

		id, err = l.create(ctx, tx, Input{
			EntityType:      item.EntityType,
			EntityID:        item.EntityID,
			SyncQueueItemID: item.ID,
			LocalPayload:    item.Payload,
			ServerPayload:   serverPayload,
		})
		return err
	})
	return id, err
}

// Get returns one conflict.
func (l *Ledger) Get(ctx context.Context, id string) (models.SyncConflict, error) {
	return db.Get[models.SyncConflict](ctx, l.session, db.TableSyncConflicts, id)
}

// ListUnresolved returns open conflicts, most recently detected first.
func (l *Ledger) ListUnresolved(ctx context.Context) ([]models.SyncConflict, error) {
	conflicts, err := db.QueryAs[models.SyncConflict](ctx, l.session, db.TableSyncConflicts, "resolved", false)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(conflicts, func(i, j int) bool {
		if !conflicts[i].DetectedAt.Equal(conflicts[j].DetectedAt) {
			return conflicts[i].DetectedAt.After(conflicts[j].DetectedAt)
		}
		return conflicts[i].Seq > conflicts[j].Seq
	})
	return conflicts, nil
}

// ListForEntity returns every conflict recorded for an entity.
func (l *Ledger) ListForEntity(ctx context.Context, entityType models.EntityType, entityID string) ([]models.SyncConflict, error) {
	return db.QueryAs[models.SyncConflict](ctx, l.session, db.TableSyncConflicts, "entity_type+entity_id", entityType, entityID)
}

// HasUnresolvedForQueueItem reports whether an open conflict references the queue item.
func (l *Ledger) HasUnresolvedForQueueItem(ctx context.Context, queueItemID string) (bool, error) {
	conflicts, err := db.QueryAs[models.SyncConflict](ctx, l.session, db.TableSyncConflicts, "sync_queue_item_id", queueItemID)
	if err != nil {
		return false, err
	}
	for _, c := range conflicts {
		if !c.Resolved {
			return true, nil
		}
	}
	return false, nil
}

// Resolve closes a conflict with strategy.
// The effective payload is resolvedPayload when given, otherwise the server payload for SERVER
// and the local payload for LOCAL and MERGED. SERVER abandons the queued write and rewrites the
// cached entity from the effective payload; LOCAL and MERGED put the write back to pending
// carrying the effective payload.
func (l *Ledger) Resolve(ctx context.Context, id string, strategy models.ResolutionStrategy, resolvedPayload json.RawMessage) error {
	if !strategy.Valid() {
		return apperrors.Validation(fmt.Sprintf("unknown resolution strategy: %q", strategy))
	}

	c, err := l.Get(ctx, id)
	if err != nil {
		return err
	}
	tables := []db.Table{db.TableSyncConflicts, db.TableSyncQueue}
	entityTable, cached := entityTables[c.EntityType]
	if cached {
		tables = append(tables, entityTable)
	}

	var resolvedAt time.Time
	err = l.session.Transaction(ctx, tables, func(tx db.Session) error {
		var err error
		c, err = db.Get[models.SyncConflict](ctx, tx, db.TableSyncConflicts, id)
		if err != nil {
			return err
		}

		effective := resolvedPayload
		if len(effective) == 0 {
			if strategy == models.ResolutionServer {
				effective = c.ServerPayload
			} else {
				effective = c.LocalPayload
			}
		}

		resolvedAt = l.now().UTC()
		c.Resolved = true
		c.ResolvedAt = &resolvedAt
		c.ResolutionStrategy = strategy
		c.ResolvedPayload = effective
		if _, err := tx.Put(ctx, db.TableSyncConflicts, c); err != nil {
			return err
		}

		q := l.queue.With(tx)
		if c.SyncQueueItemID != "" {
			if strategy == models.ResolutionServer {
				err = q.MarkSynced(ctx, c.SyncQueueItemID)
			} else {
				err = q.Requeue(ctx, c.SyncQueueItemID, effective)
			}
			// The queue item is a weak reference and may be gone.
			if err != nil && !apperrors.IsNotFound(err) {
				return err
			}
		}

		if strategy != models.ResolutionServer || !cached {
			return nil
		}
		return l.applyServer(ctx, tx, q, entityTable, c, effective, resolvedAt)
	})
	if err != nil {
		return err
	}

	logging.Info("Sync conflict resolved", map[string]interface{}{
		"conflict_id":   c.ID,
		"entity_type":   string(c.EntityType),
		"entity_id":     c.EntityID,
		"strategy":      string(strategy),
		"queue_item_id": c.SyncQueueItemID,
	})
	return nil
}

// applyServer copies the server's fields onto the cached entity. The entity is marked synced
// unless other writes for it are still waiting in the queue.
func (l *Ledger) applyServer(ctx context.Context, tx db.Session, q *queue.Queue, table db.Table, c models.SyncConflict, payload json.RawMessage, at time.Time) error {
	fields := make(map[string]interface{})
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &fields); err != nil {
			// Not an object: nothing to copy, the status still settles below.
			fields = make(map[string]interface{})
		}
	}
	for _, f := range bookkeepingFields {
		delete(fields, f)
	}
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = at
	}

	history, err := q.ListForEntity(ctx, c.EntityType, c.EntityID)
	if err != nil {
		return err
	}
	settled := true
	for _, item := range history {
		if item.Status != models.QueueStatusSynced {
			settled = false
			break
		}
	}
	if settled {
		fields["synced"] = true
		fields["sync_status"] = models.SyncSynced
		fields["retry_count"] = 0
		fields["last_error"] = nil
	}

	err = tx.Patch(ctx, table, c.EntityID, fields)
	if apperrors.IsNotFound(err) {
		return nil
	}
	return err
}
