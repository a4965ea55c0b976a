package models

import (
	"encoding/json"
	"time"
)

// Operation is the remote write a queue item replays.
type Operation string

const (
	OperationCreate Operation = "CREATE"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

// QueueStatus is the lifecycle state of a queue item.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusSynced     QueueStatus = "synced"
	QueueStatusFailed     QueueStatus = "failed"
)

// SyncQueueItem represents one pending remote operation.
// Seq is a per-device monotonic counter and defines replay order.
type SyncQueueItem struct {
	ID         string          `json:"id"`
	Seq        int64           `json:"seq"`
	Operation  Operation       `json:"operation"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Status     QueueStatus     `json:"status"`
	RetryCount int             `json:"retry_count"`
	LastError  string          `json:"last_error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// RecordID returns the primary key.
func (q SyncQueueItem) RecordID() string { return q.ID }

// TableName returns the table name for SyncQueueItem.
func (SyncQueueItem) TableName() string {
	return "sync_queue"
}
