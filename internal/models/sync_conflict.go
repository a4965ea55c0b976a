package models

import (
	"encoding/json"
	"time"
)

// ResolutionStrategy is how a human settled a conflict.
type ResolutionStrategy string

const (
	ResolutionLocal  ResolutionStrategy = "LOCAL"
	ResolutionServer ResolutionStrategy = "SERVER"
	ResolutionMerged ResolutionStrategy = "MERGED"
)

// Valid reports whether s is a known strategy.
func (s ResolutionStrategy) Valid() bool {
	switch s {
	case ResolutionLocal, ResolutionServer, ResolutionMerged:
		return true
	}
	return false
}

// SyncConflict records a divergence between a queued local payload and server state.
// SyncQueueItemID is a weak reference resolved by lookup.
type SyncConflict struct {
	ID                 string             `json:"id"`
	Seq                int64              `json:"seq"`
	EntityType         EntityType         `json:"entity_type"`
	EntityID           string             `json:"entity_id"`
	SyncQueueItemID    string             `json:"sync_queue_item_id,omitempty"`
	LocalPayload       json.RawMessage    `json:"local_payload,omitempty"`
	ServerPayload      json.RawMessage    `json:"server_payload,omitempty"`
	ResolvedPayload    json.RawMessage    `json:"resolved_payload,omitempty"`
	DetectedAt         time.Time          `json:"detected_at"`
	Resolved           bool               `json:"resolved"`
	ResolvedAt         *time.Time         `json:"resolved_at,omitempty"`
	ResolutionStrategy ResolutionStrategy `json:"resolution_strategy,omitempty"`
}

// RecordID returns the primary key.
func (c SyncConflict) RecordID() string { return c.ID }

// TableName returns the table name for SyncConflict.
func (SyncConflict) TableName() string {
	return "sync_conflicts"
}
