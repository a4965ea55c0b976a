package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gridops/fieldsync/internal/db"
	apperrors "github.com/gridops/fieldsync/internal/errors"
	"github.com/gridops/fieldsync/internal/logging"
	"github.com/gridops/fieldsync/internal/models"
	"github.com/gridops/fieldsync/internal/remote"
	"github.com/gridops/fieldsync/internal/services"
	"github.com/gridops/fieldsync/internal/sync/conflict"
	"github.com/gridops/fieldsync/internal/sync/dualpath"
	"github.com/gridops/fieldsync/internal/sync/queue"
)

// SyncStatus represents the current engine status.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusFailed  SyncStatus = "failed"
)

// SyncResult summarizes one drain.
type SyncResult struct {
	Attempted int           `json:"attempted"`
	Synced    int           `json:"synced"`
	Failed    int           `json:"failed"`
	Conflicts int           `json:"conflicts"`
	Skipped   int           `json:"skipped"`
	Offline   bool          `json:"offline,omitempty"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// Deps are the engine collaborators. Store, Queue and Ledger must share one database.
type Deps struct {
	Store    db.Session
	Queue    *queue.Queue
	Ledger   *conflict.Ledger
	Backend  remote.Backend
	IsOnline func() bool
	Now      func() time.Time
}

// Engine replays queued writes in sequence order.
type Engine struct {
	store      db.Session
	queue      *queue.Queue
	ledger     *conflict.Ledger
	backend    remote.Backend
	isOnline   func() bool
	now        func() time.Time
	maxRetries int

	mu           sync.RWMutex
	status       SyncStatus
	lastSync     *time.Time
	lastResult   *SyncResult
	lastErr      error
	handler      SyncEventHandler
	errorHistory []SyncErrorEntry
}

// NewEngine creates an Engine. Failed items that reached maxRetries are left for a manual
// retry; zero disables the limit.
func NewEngine(deps Deps, maxRetries int) *Engine {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.IsOnline == nil {
		deps.IsOnline = func() bool { return true }
	}
	if deps.Queue == nil {
		deps.Queue = queue.New(deps.Store, queue.WithClock(deps.Now))
	}
	if deps.Ledger == nil {
		deps.Ledger = conflict.New(deps.Store, deps.Queue).WithClock(deps.Now)
	}
	return &Engine{
		store:      deps.Store,
		queue:      deps.Queue,
		ledger:     deps.Ledger,
		backend:    deps.Backend,
		isOnline:   deps.IsOnline,
		now:        func() time.Time { return deps.Now().UTC() },
		maxRetries: maxRetries,
		status:     SyncStatusIdle,
	}
}

// SetEventHandler sets the event handler. nil disables events.
func (e *Engine) SetEventHandler(handler SyncEventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = handler
}

// Status returns the current engine status.
func (e *Engine) Status() SyncStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// LastSync returns when the last drain finished without error.
func (e *Engine) LastSync() *time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastSync
}

// LastResult returns the result of the most recent drain, or nil before the first one.
func (e *Engine) LastResult() *SyncResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastResult == nil {
		return nil
	}
	cp := *e.lastResult
	return &cp
}

// LastError returns the error of the most recent drain.
func (e *Engine) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

// GetErrorHistory returns a copy of the recent replay failures, oldest first.
func (e *Engine) GetErrorHistory() []SyncErrorEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]SyncErrorEntry, len(e.errorHistory))
	copy(out, e.errorHistory)
	return out
}

// ClearErrorHistory drops the recorded failures.
func (e *Engine) ClearErrorHistory() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errorHistory = nil
}

func (e *Engine) recordError(item models.SyncQueueItem, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errorHistory = append(e.errorHistory, SyncErrorEntry{
		QueueItemID: item.ID,
		EntityType:  item.EntityType,
		EntityID:    item.EntityID,
		Operation:   item.Operation,
		Error:       message,
		Timestamp:   e.now(),
	})
	if over := len(e.errorHistory) - maxErrorHistory; over > 0 {
		e.errorHistory = e.errorHistory[over:]
	}
}

func (e *Engine) emitEvent(event SyncEvent) {
	e.mu.RLock()
	handler := e.handler
	e.mu.RUnlock()
	if handler == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}
	handler.OnSyncEvent(event)
}

// Drain replays every ready queue item once, in sequence order. It does nothing while offline.
// Photo items, items with an unresolved conflict, failed items still in backoff and failed
// items at the retry limit are skipped. Once an item of an entity is skipped or fails, later
// items of the same entity wait for the next drain.
func (e *Engine) Drain(ctx context.Context) (*SyncResult, error) {
	e.mu.Lock()
	if e.status == SyncStatusSyncing {
		e.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrSyncInProgress, "drain already in progress")
	}
	e.status = SyncStatusSyncing
	e.mu.Unlock()

	result := &SyncResult{StartTime: e.now()}
	if !e.isOnline() {
		result.Offline = true
		e.finish(result, nil)
		return result, nil
	}

	e.emitEvent(SyncEvent{Type: SyncEventStarted})
	err := e.drain(ctx, result)
	e.finish(result, err)

	if err != nil {
		logging.Error("Drain failed", err, map[string]interface{}{
			"attempted": result.Attempted,
			"synced":    result.Synced,
		})
		e.emitEvent(SyncEvent{Type: SyncEventFailed, Message: err.Error(), Result: *result})
		return result, err
	}

	logging.Info("Drain completed", map[string]interface{}{
		"attempted": result.Attempted,
		"synced":    result.Synced,
		"failed":    result.Failed,
		"conflicts": result.Conflicts,
		"skipped":   result.Skipped,
		"duration":  result.Duration.String(),
	})
	e.emitEvent(SyncEvent{Type: SyncEventCompleted, Result: *result})
	return result, nil
}

func (e *Engine) finish(result *SyncResult, err error) {
	result.EndTime = e.now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastErr = err
	if err != nil {
		result.Error = err.Error()
		e.status = SyncStatusFailed
	} else {
		e.status = SyncStatusIdle
		if !result.Offline {
			end := result.EndTime
			e.lastSync = &end
		}
	}
	cp := *result
	e.lastResult = &cp
}

func (e *Engine) drain(ctx context.Context, result *SyncResult) error {
	items, err := e.queue.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}

	blocked := make(map[string]bool)
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := string(item.EntityType) + "/" + item.EntityID

		if item.EntityType == models.EntityPhoto {
			result.Skipped++
			continue
		}
		skip, err := e.shouldSkip(ctx, item, blocked[key])
		if err != nil {
			return err
		}
		if skip {
			blocked[key] = true
			result.Skipped++
			continue
		}
		if !e.isOnline() {
			result.Skipped += len(items) - i
			logging.Info("Connection lost, stopping drain", map[string]interface{}{"remaining": len(items) - i})
			return nil
		}

		result.Attempted++
		ok, err := e.process(ctx, item, result)
		if err != nil {
			return err
		}
		if !ok {
			blocked[key] = true
		}
	}
	return nil
}

func (e *Engine) shouldSkip(ctx context.Context, item models.SyncQueueItem, blocked bool) (bool, error) {
	if blocked {
		return true, nil
	}
	if _, ok := TargetFor(item.EntityType); !ok {
		logging.Warn("Skipping queue item with unknown entity type", map[string]interface{}{
			"queue_id": item.ID, "entity_type": string(item.EntityType),
		})
		return true, nil
	}
	if item.Status == models.QueueStatusFailed {
		if e.maxRetries > 0 && item.RetryCount >= e.maxRetries {
			return true, nil
		}
		if !e.queue.ReadyForReplay(item, e.now()) {
			return true, nil
		}
	}
	return e.ledger.HasUnresolvedForQueueItem(ctx, item.ID)
}

// process replays one item and settles it. It reports whether the item synced; the error is
// reserved for local storage failures that abort the drain.
func (e *Engine) process(ctx context.Context, item models.SyncQueueItem, result *SyncResult) (bool, error) {
	if err := e.queue.MarkProcessing(ctx, item.ID); err != nil {
		return false, err
	}

	replayErr := e.replay(ctx, item)
	if replayErr == nil {
		if err := e.queue.MarkSynced(ctx, item.ID); err != nil {
			return false, err
		}
		if err := e.markEntitySynced(ctx, item); err != nil {
			return false, err
		}
		result.Synced++
		logging.Debug("Replayed queue item", map[string]interface{}{"item": queue.String(item)})
		return true, nil
	}

	message := dualpath.ErrorMessage(replayErr)
	e.recordError(item, message)

	if re, ok := remote.AsConflict(replayErr); ok {
		if err := e.queue.RecordError(ctx, item.ID, message); err != nil {
			return false, err
		}
		conflictID, err := e.ledger.FromQueueItem(ctx, item.ID, re.ServerPayload)
		if err != nil {
			return false, err
		}
		if err := e.markEntityFailed(ctx, item, message); err != nil {
			return false, err
		}
		result.Conflicts++
		e.emitEvent(SyncEvent{
			Type:        SyncEventConflict,
			Message:     message,
			QueueItemID: item.ID,
			EntityType:  item.EntityType,
			EntityID:    item.EntityID,
			ConflictID:  conflictID,
		})
		return false, nil
	}

	if err := e.queue.MarkFailed(ctx, item.ID, message); err != nil {
		return false, err
	}
	if err := e.markEntityFailed(ctx, item, message); err != nil {
		return false, err
	}
	result.Failed++
	return false, nil
}

func (e *Engine) replay(ctx context.Context, item models.SyncQueueItem) error {
	target, _ := TargetFor(item.EntityType)

	switch item.Operation {
	case models.OperationCreate:
		if item.EntityType == models.EntityAssessment {
			return e.replayAssessment(ctx, target, item)
		}
		row, err := services.ReplayRecord(item.Payload)
		if err != nil {
			return err
		}
		if _, ok := row["id"]; !ok {
			row["id"] = item.EntityID
		}
		_, err = e.backend.Upsert(ctx, target.Collection, row)
		return err
	case models.OperationUpdate:
		row, err := services.ReplayRecord(item.Payload)
		if err != nil {
			return err
		}
		delete(row, "id")
		_, err = e.backend.Update(ctx, target.Collection, item.EntityID, row)
		return err
	case models.OperationDelete:
		return e.backend.Delete(ctx, target.Collection, item.EntityID)
	default:
		return fmt.Errorf("unsupported operation %q", item.Operation)
	}
}

// replayAssessment writes the assessment row then its equipment lines.
func (e *Engine) replayAssessment(ctx context.Context, target Target, item models.SyncQueueItem) error {
	var payload services.AssessmentPayload
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return fmt.Errorf("decode assessment payload: %w", err)
	}
	if payload.Assessment.ID == "" {
		payload.Assessment.ID = item.EntityID
	}

	data, err := json.Marshal(payload.Assessment)
	if err != nil {
		return fmt.Errorf("encode assessment: %w", err)
	}
	row, err := services.ReplayRecord(data)
	if err != nil {
		return err
	}
	delete(row, "equipment_items")
	delete(row, "photo_metadata")

	if _, err := e.backend.Upsert(ctx, target.Collection, row); err != nil {
		return err
	}
	return services.InsertEquipment(ctx, e.backend, payload.Assessment.ID, payload.EquipmentItems)
}

// markEntitySynced flags the cached entity synced once none of its queue items are left.
func (e *Engine) markEntitySynced(ctx context.Context, item models.SyncQueueItem) error {
	history, err := e.queue.ListForEntity(ctx, item.EntityType, item.EntityID)
	if err != nil {
		return err
	}
	for _, other := range history {
		if other.Status != models.QueueStatusSynced {
			return nil
		}
	}
	return e.patchEntity(ctx, item, map[string]interface{}{
		"synced":      true,
		"sync_status": models.SyncSynced,
		"retry_count": 0,
		"last_error":  nil,
		"updated_at":  e.now(),
	})
}

func (e *Engine) markEntityFailed(ctx context.Context, item models.SyncQueueItem, message string) error {
	current, err := e.queue.Get(ctx, item.ID)
	if err != nil {
		return err
	}
	return e.patchEntity(ctx, item, map[string]interface{}{
		"synced":      false,
		"sync_status": models.SyncFailed,
		"retry_count": current.RetryCount,
		"last_error":  message,
		"updated_at":  e.now(),
	})
}

// patchEntity updates the cached copy. Entities no longer cached are ignored.
func (e *Engine) patchEntity(ctx context.Context, item models.SyncQueueItem, fields map[string]interface{}) error {
	target, ok := TargetFor(item.EntityType)
	if !ok {
		return nil
	}
	err := e.store.Patch(ctx, target.Table, item.EntityID, fields)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	return err
}
