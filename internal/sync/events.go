package sync

import (
	"time"

	"github.com/gridops/fieldsync/internal/models"
)

// SyncEventType names an event pushed to listeners.
type SyncEventType string

const (
	SyncEventStarted            SyncEventType = "sync.started"
	SyncEventCompleted          SyncEventType = "sync.completed"
	SyncEventFailed             SyncEventType = "sync.failed"
	SyncEventConflict           SyncEventType = "sync.conflict_detected"
	SyncEventPhotoUploaded      SyncEventType = "photo.uploaded"
	SyncEventPhotoFailed        SyncEventType = "photo.failed"
	SyncEventConnectivityChange SyncEventType = "connectivity.changed"
)

// SyncEvent is one notification. Only the fields relevant to Type are set.
type SyncEvent struct {
	Type        SyncEventType     `json:"type"`
	Message     string            `json:"message,omitempty"`
	QueueItemID string            `json:"queue_item_id,omitempty"`
	EntityType  models.EntityType `json:"entity_type,omitempty"`
	EntityID    string            `json:"entity_id,omitempty"`
	ConflictID  string            `json:"conflict_id,omitempty"`
	Online      *bool             `json:"online,omitempty"`
	Result      interface{}       `json:"result,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// SyncEventHandler receives events. Handlers are called on the draining goroutine and must
// not block.
type SyncEventHandler interface {
	OnSyncEvent(event SyncEvent)
}

// SyncEventHandlerFunc adapts a function to SyncEventHandler.
type SyncEventHandlerFunc func(event SyncEvent)

// OnSyncEvent calls f(event).
func (f SyncEventHandlerFunc) OnSyncEvent(event SyncEvent) { f(event) }

// SyncErrorEntry is one failed replay kept for diagnostics.
type SyncErrorEntry struct {
	QueueItemID string            `json:"queue_item_id"`
	EntityType  models.EntityType `json:"entity_type"`
	EntityID    string            `json:"entity_id"`
	Operation   models.Operation  `json:"operation"`
	Error       string            `json:"error"`
	Timestamp   time.Time         `json:"timestamp"`
}

const maxErrorHistory = 100
