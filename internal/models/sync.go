// Package models provides data model definitions for the fieldsync local store.
package models

import "time"

// SyncStatus is the local sync state of a cached entity.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

// EntityType names the kind of record a queue item or conflict refers to.
type EntityType string

const (
	EntityTicket        EntityType = "ticket"
	EntityTimeEntry     EntityType = "time_entry"
	EntityExpenseReport EntityType = "expense_report"
	EntityExpenseItem   EntityType = "expense_item"
	EntityAssessment    EntityType = "assessment"
	EntityPhoto         EntityType = "photo"
	EntityGPSLocation   EntityType = "gps_location"
)

// SyncState carries the sync bookkeeping shared by every cached entity.
// Synced always equals (SyncStatus == SyncSynced); use the Mark methods to change it.
type SyncState struct {
	Synced     bool       `json:"synced"`
	SyncStatus SyncStatus `json:"sync_status"`
	RetryCount int        `json:"retry_count"`
	LastError  string     `json:"last_error,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// MarkSynced records a confirmed remote write.
func (s *SyncState) MarkSynced(now time.Time) {
	s.Synced = true
	s.SyncStatus = SyncSynced
	s.RetryCount = 0
	s.LastError = ""
	s.UpdatedAt = now
}

// MarkPending records a local write that still has to reach the remote backend.
// lastErr is the remote failure that caused the fallback, empty when the write happened offline.
func (s *SyncState) MarkPending(lastErr string, now time.Time) {
	s.Synced = false
	s.SyncStatus = SyncPending
	s.LastError = lastErr
	s.UpdatedAt = now
}

// MarkFailed records a failed sync attempt.
func (s *SyncState) MarkFailed(lastErr string, now time.Time) {
	s.Synced = false
	s.SyncStatus = SyncFailed
	s.RetryCount++
	s.LastError = lastErr
	s.UpdatedAt = now
}

// Consistent reports whether Synced agrees with SyncStatus.
func (s SyncState) Consistent() bool {
	return s.Synced == (s.SyncStatus == SyncSynced)
}

// SyncedState returns a fresh synced state.
func SyncedState(now time.Time) SyncState {
	var s SyncState
	s.MarkSynced(now)
	return s
}

// PendingState returns a fresh pending state with retry count zero.
func PendingState(lastErr string, now time.Time) SyncState {
	var s SyncState
	s.MarkPending(lastErr, now)
	return s
}
