package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/gridops/fieldsync/internal/db"
	apperrors "github.com/gridops/fieldsync/internal/errors"
	"github.com/gridops/fieldsync/internal/logging"
	"github.com/gridops/fieldsync/internal/models"
	"github.com/gridops/fieldsync/internal/remote"
	"github.com/gridops/fieldsync/internal/sync/dualpath"
	"github.com/gridops/fieldsync/internal/uuid"
	"github.com/gridops/fieldsync/internal/validation"
)

// DefaultMaxEntryHours is the longest time entry accepted at clock-out.
const DefaultMaxEntryHours = 12

// TimeEntryBackend is what the time entry service needs from the remote backend.
type TimeEntryBackend interface {
	remote.Inserter
	remote.Updater
	remote.Selector
}

// ClockInInput starts a time entry.
type ClockInInput struct {
	SubcontractorID string   `json:"subcontractor_id" validate:"required"`
	TicketID        string   `json:"ticket_id"`
	WorkType        string   `json:"work_type" validate:"required"`
	WorkTypeRate    float64  `json:"work_type_rate" validate:"gte=0"`
	BreakMinutes    int      `json:"break_minutes"`
	Latitude        *float64 `json:"latitude"`
	Longitude       *float64 `json:"longitude"`
	PhotoURL        string   `json:"photo_url"`
}

var clockInMessages = validation.Messages{
	"subcontractor_id": "Subcontractor is required.",
	"work_type":        "Work type is required.",
	"work_type_rate":   "Work type rate cannot be negative.",
}

// ClockOutInput closes an active entry.
type ClockOutInput struct {
	Entry        models.TimeEntry
	BreakMinutes int
	Latitude     *float64
	Longitude    *float64
	PhotoURL     string
}

// ReviewTimeEntryInput approves or rejects an entry.
type ReviewTimeEntryInput struct {
	EntryID         string `json:"entry_id" validate:"required"`
	ReviewerID      string `json:"reviewer_id" validate:"required"`
	Decision        string `json:"decision" validate:"oneof=APPROVED REJECTED"`
	RejectionReason string `json:"rejection_reason"`
}

var reviewTimeEntryMessages = validation.Messages{
	"entry_id":    "Time entry is required.",
	"reviewer_id": "Reviewer is required.",
	"decision":    "Review decision must be APPROVED or REJECTED.",
}

// TimeEntryFilters narrows ListEntries.
type TimeEntryFilters struct {
	SubcontractorID string
	Status          string
}

// TimeEntryService records clock-in and clock-out and supervisor review.
type TimeEntryService struct {
	base
	backend  TimeEntryBackend
	maxHours int
}

// NewTimeEntryService creates a TimeEntryService. maxHours <= 0 uses DefaultMaxEntryHours.
func NewTimeEntryService(deps Deps, backend TimeEntryBackend, maxHours int) *TimeEntryService {
	if maxHours <= 0 {
		maxHours = DefaultMaxEntryHours
	}
	return &TimeEntryService{base: newBase(deps), backend: backend, maxHours: maxHours}
}

// GetActiveEntry returns the subcontractor's open entry, looking in the local store first.
// Offline, or when the backend fails, a missing local entry means there is none.
func (s *TimeEntryService) GetActiveEntry(ctx context.Context, subcontractorID string) (*models.TimeEntry, error) {
	local, err := db.QueryAs[models.TimeEntry](ctx, s.store, db.TableTimeEntries, "subcontractor_id", subcontractorID)
	if err != nil {
		return nil, err
	}
	var active []models.TimeEntry
	for _, e := range local {
		if e.Active() {
			active = append(active, e)
		}
	}
	if len(active) > 0 {
		sortByClockIn(active)
		return &active[0], nil
	}

	if !s.exec.Online() {
		return nil, nil
	}
	q := remote.Where("subcontractor_id", subcontractorID, "clock_out_at", nil).Order("clock_in_at", true).First(1)
	rows, err := remote.SelectAs[models.TimeEntry](ctx, s.backend, TimeEntriesCollection, q)
	if err != nil {
		logging.Debug("[TimeEntries] Remote active entry lookup failed", map[string]interface{}{
			"subcontractor_id": subcontractorID,
			"error":            err.Error(),
		})
		return nil, nil
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func sortByClockIn(entries []models.TimeEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ClockInAt.After(entries[j].ClockInAt)
	})
}

// ClockIn opens a time entry.
func (s *TimeEntryService) ClockIn(ctx context.Context, in ClockInInput) (dualpath.Result[models.TimeEntry], error) {
	now := s.now()
	entry := models.TimeEntry{
		SubcontractorID:  in.SubcontractorID,
		TicketID:         in.TicketID,
		ClockInAt:        now,
		ClockInLatitude:  in.Latitude,
		ClockInLongitude: in.Longitude,
		ClockInPhotoURL:  in.PhotoURL,
		WorkType:         in.WorkType,
		WorkTypeRate:     in.WorkTypeRate,
		BreakMinutes:     max(0, in.BreakMinutes),
		Status:           models.TimeEntryPending,
		CreatedAt:        now,
		SyncState:        models.SyncedState(now),
	}

	return dualpath.Execute(ctx, s.exec, dualpath.Operation[models.TimeEntry]{
		Name: "Clock in",
		Validate: func() error {
			return validation.Struct(in, clockInMessages)
		},
		Remote: func(ctx context.Context) (models.TimeEntry, error) {
			record, err := remoteRecord(entry)
			if err != nil {
				return models.TimeEntry{}, err
			}
			return remote.InsertAs[models.TimeEntry](ctx, s.backend, TimeEntriesCollection, record)
		},
		Confirm: s.cacheSynced,
		Fallback: func(ctx context.Context, remoteErr error) (models.TimeEntry, error) {
			local := entry
			local.ID = uuid.New()
			local.SyncState = models.PendingState(dualpath.ErrorMessage(remoteErr), now)
			return s.queueEntry(ctx, local, models.OperationCreate)
		},
	})
}

// cacheSynced keeps a synced copy of a confirmed entry so active-entry lookups work offline.
func (s *TimeEntryService) cacheSynced(ctx context.Context, entry models.TimeEntry) (models.TimeEntry, error) {
	entry.SyncState = models.SyncedState(s.now())
	if entry.ID == "" {
		return entry, nil
	}
	_, err := s.store.Put(ctx, db.TableTimeEntries, entry)
	return entry, err
}

// queueEntry stores entry as pending and queues its mutation with the whole entry as payload.
func (s *TimeEntryService) queueEntry(ctx context.Context, entry models.TimeEntry, op models.Operation) (models.TimeEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.New()
	}
	if _, err := s.saveAndEnqueue(ctx, db.TableTimeEntries, entry, op, models.EntityTimeEntry, entry); err != nil {
		return models.TimeEntry{}, err
	}
	return entry, nil
}

// DurationMinutes validates the span between clock-in and clock-out and returns it in whole
// minutes.
func DurationMinutes(clockIn, clockOut time.Time, maxHours int) (int, error) {
	minutes := int(math.Floor(clockOut.Sub(clockIn).Minutes()))
	if minutes < 0 {
		return 0, apperrors.Validation("Clock out time must be after clock in time")
	}
	if float64(minutes)/60 > float64(maxHours) {
		return minutes, apperrors.Validation(fmt.Sprintf("Time entry exceeds maximum %d hours", maxHours))
	}
	return minutes, nil
}

// BillableMinutes subtracts the break from the total, never going below zero.
func BillableMinutes(totalMinutes, breakMinutes int) int {
	return max(0, totalMinutes-max(0, breakMinutes))
}

// BillableAmount prices billable minutes at an hourly rate, rounded to cents.
func BillableAmount(billableMinutes int, rate float64) float64 {
	return round2(float64(max(0, billableMinutes)) / 60 * math.Max(0, rate))
}

// ClockOut closes an entry. Entries that never reached the backend are only updated locally
// so one entry never has two diverging write histories.
func (s *TimeEntryService) ClockOut(ctx context.Context, in ClockOutInput) (dualpath.Result[models.TimeEntry], error) {
	now := s.now()
	breakMinutes := max(0, in.BreakMinutes)
	total, durationErr := DurationMinutes(in.Entry.ClockInAt, now, s.maxHours)
	billable := BillableMinutes(total, breakMinutes)
	amount := BillableAmount(billable, in.Entry.WorkTypeRate)

	updated := in.Entry
	updated.ClockOutAt = timePtr(now)
	updated.ClockOutLatitude = in.Latitude
	updated.ClockOutLongitude = in.Longitude
	if in.PhotoURL != "" {
		updated.ClockOutPhotoURL = in.PhotoURL
	}
	updated.BreakMinutes = breakMinutes
	updated.TotalMinutes = &total
	updated.BillableMinutes = &billable
	updated.BillableAmount = &amount

	fields := map[string]interface{}{
		"clock_out_at":        now,
		"clock_out_latitude":  in.Latitude,
		"clock_out_longitude": in.Longitude,
		"break_minutes":       breakMinutes,
		"total_minutes":       total,
		"billable_minutes":    billable,
		"billable_amount":     amount,
		"updated_at":          now,
		"sync_status":         models.SyncSynced,
	}
	if in.PhotoURL != "" {
		fields["clock_out_photo_url"] = in.PhotoURL
	}

	return dualpath.Execute(ctx, s.exec, dualpath.Operation[models.TimeEntry]{
		Name: "Clock out",
		Validate: func() error {
			if in.Entry.ID == "" {
				return apperrors.Validation("Time entry is required.")
			}
			return durationErr
		},
		LocalOnly: in.Entry.SyncStatus != models.SyncSynced,
		Remote: func(ctx context.Context) (models.TimeEntry, error) {
			return remote.UpdateAs[models.TimeEntry](ctx, s.backend, TimeEntriesCollection, in.Entry.ID, fields)
		},
		Confirm: s.cacheSynced,
		Fallback: func(ctx context.Context, remoteErr error) (models.TimeEntry, error) {
			local := updated
			local.SyncState = models.PendingState(dualpath.ErrorMessage(remoteErr), now)
			return s.queueEntry(ctx, local, models.OperationUpdate)
		},
	})
}

// MarkSynced records that an entry reached the backend, along with its latest queue item.
func (s *TimeEntryService) MarkSynced(ctx context.Context, id string) error {
	now := s.now()
	return markEntity(ctx, s.base, db.TableTimeEntries, models.EntityTimeEntry, id,
		func(e *models.TimeEntry) { e.MarkSynced(now) }, markQueueSynced(ctx))
}

// MarkFailed records a failed sync of an entry and its latest queue item.
func (s *TimeEntryService) MarkFailed(ctx context.Context, id, message string) error {
	now := s.now()
	return markEntity(ctx, s.base, db.TableTimeEntries, models.EntityTimeEntry, id,
		func(e *models.TimeEntry) { e.MarkFailed(message, now) }, markQueueFailed(ctx, message))
}

// ListPending returns entries waiting to sync, including failed ones.
func (s *TimeEntryService) ListPending(ctx context.Context) ([]models.TimeEntry, error) {
	var out []models.TimeEntry
	for _, status := range []models.SyncStatus{models.SyncPending, models.SyncFailed} {
		batch, err := db.QueryAs[models.TimeEntry](ctx, s.store, db.TableTimeEntries, "sync_status", status)
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	sortByClockIn(out)
	return out, nil
}

// PendingCount returns the number of entries waiting to sync.
func (s *TimeEntryService) PendingCount(ctx context.Context) (int, error) {
	total := 0
	for _, status := range []models.SyncStatus{models.SyncPending, models.SyncFailed} {
		n, err := s.store.Count(ctx, db.TableTimeEntries, "sync_status", status)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// ListEntries returns entries from the backend, newest first. Offline, or when the backend
// fails, the local entries of filters.SubcontractorID are returned; without a subcontractor
// there is nothing to fall back to.
func (s *TimeEntryService) ListEntries(ctx context.Context, filters TimeEntryFilters) ([]models.TimeEntry, error) {
	if s.exec.Online() {
		var pairs []interface{}
		if filters.SubcontractorID != "" {
			pairs = append(pairs, "subcontractor_id", filters.SubcontractorID)
		}
		if filters.Status != "" && filters.Status != "ALL" {
			pairs = append(pairs, "status", filters.Status)
		}
		entries, err := remote.SelectAs[models.TimeEntry](ctx, s.backend, TimeEntriesCollection, remote.Where(pairs...).Order("clock_in_at", true))
		if err == nil {
			return entries, nil
		}
		if filters.SubcontractorID == "" {
			return nil, apperrors.Remote("list time entries", err)
		}
	} else if filters.SubcontractorID == "" {
		return []models.TimeEntry{}, nil
	}

	local, err := db.QueryAs[models.TimeEntry](ctx, s.store, db.TableTimeEntries, "subcontractor_id", filters.SubcontractorID)
	if err != nil {
		return nil, err
	}
	out := local[:0]
	for _, e := range local {
		if filters.Status == "" || filters.Status == "ALL" || e.Status == filters.Status {
			out = append(out, e)
		}
	}
	sortByClockIn(out)
	return out, nil
}

// ReviewTimeEntry approves or rejects an entry. It requires a connection.
func (s *TimeEntryService) ReviewTimeEntry(ctx context.Context, in ReviewTimeEntryInput) (dualpath.Result[models.TimeEntry], error) {
	return dualpath.Execute(ctx, s.exec, dualpath.Operation[models.TimeEntry]{
		Name:           "Time entry review",
		OnlineRequired: true,
		Validate: func() error {
			if err := validation.Struct(in, reviewTimeEntryMessages); err != nil {
				return err
			}
			if in.Decision == models.TimeEntryRejected && strings.TrimSpace(in.RejectionReason) == "" {
				return apperrors.Validation("Rejection reason is required when rejecting a time entry.")
			}
			return nil
		},
		Remote: func(ctx context.Context) (models.TimeEntry, error) {
			now := s.now()
			var reason interface{}
			if in.Decision == models.TimeEntryRejected {
				reason = strings.TrimSpace(in.RejectionReason)
			}
			return remote.UpdateAs[models.TimeEntry](ctx, s.backend, TimeEntriesCollection, in.EntryID, map[string]interface{}{
				"status":           in.Decision,
				"reviewed_by":      in.ReviewerID,
				"reviewed_at":      now,
				"rejection_reason": reason,
				"updated_at":       now,
			})
		},
		Confirm: s.refreshCached,
	})
}

// refreshCached overwrites the local copy of a reviewed entry, if one is cached.
func (s *TimeEntryService) refreshCached(ctx context.Context, entry models.TimeEntry) (models.TimeEntry, error) {
	entry.SyncState = models.SyncedState(s.now())
	_, ok, err := db.Find[models.TimeEntry](ctx, s.store, db.TableTimeEntries, entry.ID)
	if err != nil || !ok {
		return entry, err
	}
	_, err = s.store.Put(ctx, db.TableTimeEntries, entry)
	return entry, err
}
