package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridops/fieldsync/internal/db"
	apperrors "github.com/gridops/fieldsync/internal/errors"
	"github.com/gridops/fieldsync/internal/models"
	"github.com/gridops/fieldsync/internal/sync/dualpath"
	"github.com/gridops/fieldsync/internal/uuid"
)

func clockIn(sub string, breakMinutes int) ClockInInput {
	return ClockInInput{
		SubcontractorID: sub,
		TicketID:        "t-1",
		WorkType:        "LINE_REPAIR",
		WorkTypeRate:    60,
		BreakMinutes:    breakMinutes,
		Latitude:        floatPtr(29.76),
		Longitude:       floatPtr(-95.36),
	}
}

// TestClockIn_Offline tests an offline clock-in: stored pending with one queued CREATE.
func TestClockIn_Offline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.online = false
	svc := NewTimeEntryService(f.deps(), f.backend, 0)

	res, err := svc.ClockIn(ctx, clockIn("sub-1", 15))
	require.NoError(t, err)

	require.Equal(t, dualpath.Queued, res.Outcome)
	assert.Equal(t, dualpath.SoftSuccess, res.SoftSuccessMessage())
	entry := res.Value
	assert.True(t, uuid.IsValid(entry.ID))
	assert.Equal(t, 15, entry.BreakMinutes)
	assert.False(t, entry.Synced)
	assert.Equal(t, models.SyncPending, entry.SyncStatus)
	assert.Zero(t, entry.RetryCount)
	assert.Empty(t, entry.LastError)
	assert.Zero(t, f.backend.TotalCalls())

	items := f.queueFor(t, models.EntityTimeEntry, entry.ID)
	require.Len(t, items, 1)
	assert.Equal(t, models.OperationCreate, items[0].Operation)
	assert.Equal(t, models.QueueStatusPending, items[0].Status)
	assert.Equal(t, float64(15), decodePayload(t, items[0].Payload)["break_minutes"])

	stored, err := db.Get[models.TimeEntry](ctx, f.store, db.TableTimeEntries, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncPending, stored.SyncStatus)
}

// TestClockIn_RemoteSuccess tests that a confirmed clock-in is cached synced and not queued.
func TestClockIn_RemoteSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := NewTimeEntryService(f.deps(), f.backend, 0)

	res, err := svc.ClockIn(ctx, clockIn("sub-1", -5))
	require.NoError(t, err)

	require.Equal(t, dualpath.Synced, res.Outcome)
	assert.True(t, res.Value.Synced)
	assert.Zero(t, res.Value.BreakMinutes)
	assert.Equal(t, 1, f.backend.Calls("insert", TimeEntriesCollection))
	assert.Empty(t, f.queueFor(t, models.EntityTimeEntry, res.Value.ID))

	row, ok := f.backend.Row(TimeEntriesCollection, res.Value.ID)
	require.True(t, ok)
	assert.NotContains(t, decodePayload(t, row), "retry_count")

	active, err := svc.GetActiveEntry(ctx, "sub-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, res.Value.ID, active.ID)
}

// TestClockIn_RemoteFailure tests the fallback after a failed insert.
func TestClockIn_RemoteFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.backend.FailOn("insert", TimeEntriesCollection, errNetwork)
	svc := NewTimeEntryService(f.deps(), f.backend, 0)

	res, err := svc.ClockIn(ctx, clockIn("sub-1", 0))
	require.NoError(t, err)

	require.Equal(t, dualpath.Queued, res.Outcome)
	assert.Same(t, errNetwork, res.Cause)
	assert.NoError(t, res.Err())
	assert.Equal(t, models.SyncPending, res.Value.SyncStatus)
	assert.Zero(t, res.Value.RetryCount)
	assert.Equal(t, "network timeout", res.Value.LastError)

	items := f.queueFor(t, models.EntityTimeEntry, res.Value.ID)
	require.Len(t, items, 1)
	assert.Equal(t, models.QueueStatusPending, items[0].Status)
}

// TestClockIn_Validation tests that invalid input is rejected before any I/O.
func TestClockIn_Validation(t *testing.T) {
	f := newFixture(t)
	svc := NewTimeEntryService(f.deps(), f.backend, 0)

	in := clockIn("", 0)
	res, err := svc.ClockIn(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, dualpath.Rejected, res.Outcome)
	assert.EqualError(t, res.Err(), "Subcontractor is required.")
	assert.True(t, apperrors.IsValidation(res.Err()))

	in = clockIn("sub-1", 0)
	in.WorkTypeRate = -1
	res, err = svc.ClockIn(context.Background(), in)
	require.NoError(t, err)
	assert.EqualError(t, res.Err(), "Work type rate cannot be negative.")
	assert.Zero(t, f.backend.TotalCalls())
}

// TestGetActiveEntry_Offline tests that an offline clock-in is found without the backend.
func TestGetActiveEntry_Offline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.online = false
	svc := NewTimeEntryService(f.deps(), f.backend, 0)

	none, err := svc.GetActiveEntry(ctx, "sub-1")
	require.NoError(t, err)
	assert.Nil(t, none)

	res, err := svc.ClockIn(ctx, clockIn("sub-1", 0))
	require.NoError(t, err)

	active, err := svc.GetActiveEntry(ctx, "sub-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, res.Value.ID, active.ID)
}

// TestGetActiveEntry_Remote tests the remote lookup of an open entry.
func TestGetActiveEntry_Remote(t *testing.T) {
	f := newFixture(t)
	svc := NewTimeEntryService(f.deps(), f.backend, 0)
	closed := f.now.Add(-time.Hour)
	require.NoError(t, f.backend.Seed(TimeEntriesCollection, models.TimeEntry{
		ID: "te-old", SubcontractorID: "sub-1", ClockInAt: f.now.Add(-3 * time.Hour), ClockOutAt: &closed,
	}))
	require.NoError(t, f.backend.Seed(TimeEntriesCollection, models.TimeEntry{
		ID: "te-open", SubcontractorID: "sub-1", ClockInAt: f.now.Add(-30 * time.Minute),
	}))

	active, err := svc.GetActiveEntry(context.Background(), "sub-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "te-open", active.ID)

	f.backend.FailAll(errNetwork)
	active, err = svc.GetActiveEntry(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.Nil(t, active)
}

// TestDurationMinutes tests clock-out duration validation.
func TestDurationMinutes(t *testing.T) {
	in := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

	minutes, err := DurationMinutes(in, in.Add(90*time.Minute+30*time.Second), 12)
	require.NoError(t, err)
	assert.Equal(t, 90, minutes)

	_, err = DurationMinutes(in, in.Add(-time.Minute), 12)
	assert.EqualError(t, err, "Clock out time must be after clock in time")

	_, err = DurationMinutes(in, in.Add(12*time.Hour+time.Minute), 12)
	assert.EqualError(t, err, "Time entry exceeds maximum 12 hours")

	minutes, err = DurationMinutes(in, in.Add(12*time.Hour), 12)
	require.NoError(t, err)
	assert.Equal(t, 720, minutes)
}

// TestBillable tests billable minutes and amount.
func TestBillable(t *testing.T) {
	assert.Equal(t, 60, BillableMinutes(90, 30))
	assert.Equal(t, 0, BillableMinutes(20, 30))
	assert.Equal(t, 90, BillableMinutes(90, -10))

	assert.Equal(t, 50.0, BillableAmount(60, 50))
	assert.Equal(t, 41.25, BillableAmount(45, 55))
	assert.Equal(t, 0.0, BillableAmount(60, -5))
}

// TestClockOut_Online tests the synced clock-out of a synced entry.
func TestClockOut_Online(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := NewTimeEntryService(f.deps(), f.backend, 0)
	in, err := svc.ClockIn(ctx, clockIn("sub-1", 0))
	require.NoError(t, err)
	require.Equal(t, dualpath.Synced, in.Outcome)

	f.now = f.now.Add(2*time.Hour + 15*time.Minute)
	res, err := svc.ClockOut(ctx, ClockOutInput{Entry: in.Value, BreakMinutes: 15})
	require.NoError(t, err)

	require.Equal(t, dualpath.Synced, res.Outcome)
	require.NotNil(t, res.Value.ClockOutAt)
	assert.Equal(t, 135, *res.Value.TotalMinutes)
	assert.Equal(t, 120, *res.Value.BillableMinutes)
	assert.Equal(t, 120.0, *res.Value.BillableAmount)
	assert.Equal(t, 1, f.backend.Calls("update", TimeEntriesCollection))

	active, err := svc.GetActiveEntry(ctx, "sub-1")
	require.NoError(t, err)
	assert.Nil(t, active)
}

// TestClockOut_UnsyncedEntryStaysLocal tests that an entry that never synced is closed locally.
func TestClockOut_UnsyncedEntryStaysLocal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.online = false
	svc := NewTimeEntryService(f.deps(), f.backend, 0)
	in, err := svc.ClockIn(ctx, clockIn("sub-1", 0))
	require.NoError(t, err)

	f.online = true
	f.now = f.now.Add(time.Hour)
	res, err := svc.ClockOut(ctx, ClockOutInput{Entry: in.Value})
	require.NoError(t, err)

	require.Equal(t, dualpath.Queued, res.Outcome)
	assert.Zero(t, f.backend.TotalCalls())
	assert.Equal(t, 60, *res.Value.TotalMinutes)

	items := f.queueFor(t, models.EntityTimeEntry, in.Value.ID)
	require.Len(t, items, 2)
	assert.Equal(t, models.OperationCreate, items[0].Operation)
	assert.Equal(t, models.OperationUpdate, items[1].Operation)
	assert.Less(t, items[0].Seq, items[1].Seq)
}

// TestClockOut_Validation tests duration errors and a missing entry.
func TestClockOut_Validation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := NewTimeEntryService(f.deps(), f.backend, 8)

	res, err := svc.ClockOut(ctx, ClockOutInput{})
	require.NoError(t, err)
	assert.EqualError(t, res.Err(), "Time entry is required.")

	entry := models.TimeEntry{ID: "te-1", ClockInAt: f.now.Add(time.Hour), SyncState: models.SyncedState(f.now)}
	res, err = svc.ClockOut(ctx, ClockOutInput{Entry: entry})
	require.NoError(t, err)
	assert.EqualError(t, res.Err(), "Clock out time must be after clock in time")

	entry.ClockInAt = f.now.Add(-9 * time.Hour)
	res, err = svc.ClockOut(ctx, ClockOutInput{Entry: entry})
	require.NoError(t, err)
	assert.EqualError(t, res.Err(), "Time entry exceeds maximum 8 hours")
	assert.Zero(t, f.backend.TotalCalls())
}

// TestMarkFailedThenSynced tests the entity and queue bookkeeping helpers.
func TestMarkFailedThenSynced(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.online = false
	svc := NewTimeEntryService(f.deps(), f.backend, 0)
	res, err := svc.ClockIn(ctx, clockIn("sub-1", 0))
	require.NoError(t, err)
	id := res.Value.ID

	require.NoError(t, svc.MarkFailed(ctx, id, "server rejected"))
	require.NoError(t, svc.MarkFailed(ctx, id, "server rejected again"))

	entry, err := db.Get[models.TimeEntry](ctx, f.store, db.TableTimeEntries, id)
	require.NoError(t, err)
	assert.Equal(t, models.SyncFailed, entry.SyncStatus)
	assert.Equal(t, 2, entry.RetryCount)
	assert.Equal(t, "server rejected again", entry.LastError)

	item, ok, err := f.queue.LatestForEntity(ctx, models.EntityTimeEntry, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.QueueStatusFailed, item.Status)
	assert.Equal(t, 2, item.RetryCount)

	pending, err := svc.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	count, err := svc.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, svc.MarkSynced(ctx, id))
	entry, err = db.Get[models.TimeEntry](ctx, f.store, db.TableTimeEntries, id)
	require.NoError(t, err)
	assert.True(t, entry.Synced)
	assert.Zero(t, entry.RetryCount)

	count, err = svc.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	// Unknown ids are ignored.
	assert.NoError(t, svc.MarkSynced(ctx, "missing"))
}

// TestListEntries tests the remote listing and its local fallback.
func TestListEntries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.online = false
	svc := NewTimeEntryService(f.deps(), f.backend, 0)
	_, err := svc.ClockIn(ctx, clockIn("sub-1", 0))
	require.NoError(t, err)

	local, err := svc.ListEntries(ctx, TimeEntryFilters{SubcontractorID: "sub-1"})
	require.NoError(t, err)
	assert.Len(t, local, 1)

	none, err := svc.ListEntries(ctx, TimeEntryFilters{})
	require.NoError(t, err)
	assert.Empty(t, none)

	f.online = true
	f.backend.FailAll(errNetwork)
	_, err = svc.ListEntries(ctx, TimeEntryFilters{})
	assert.True(t, apperrors.Is(err, apperrors.ErrRemote))

	local, err = svc.ListEntries(ctx, TimeEntryFilters{SubcontractorID: "sub-1", Status: models.TimeEntryApproved})
	require.NoError(t, err)
	assert.Empty(t, local)
}

// TestReviewTimeEntry_RejectionReasonRequired tests that a rejection without a reason never
// reaches the backend.
func TestReviewTimeEntry_RejectionReasonRequired(t *testing.T) {
	f := newFixture(t)
	svc := NewTimeEntryService(f.deps(), f.backend, 0)

	res, err := svc.ReviewTimeEntry(context.Background(), ReviewTimeEntryInput{
		EntryID:         "te-1",
		ReviewerID:      "sup-1",
		Decision:        models.TimeEntryRejected,
		RejectionReason: "   ",
	})
	require.NoError(t, err)

	assert.Equal(t, dualpath.Rejected, res.Outcome)
	assert.EqualError(t, res.Err(), "Rejection reason is required when rejecting a time entry.")
	assert.Zero(t, f.backend.TotalCalls())
}

// TestReviewTimeEntry_Offline tests the online-required rejection.
func TestReviewTimeEntry_Offline(t *testing.T) {
	f := newFixture(t)
	f.online = false
	svc := NewTimeEntryService(f.deps(), f.backend, 0)

	res, err := svc.ReviewTimeEntry(context.Background(), ReviewTimeEntryInput{
		EntryID: "te-1", ReviewerID: "sup-1", Decision: models.TimeEntryApproved,
	})
	require.NoError(t, err)

	assert.Equal(t, dualpath.Rejected, res.Outcome)
	assert.True(t, apperrors.IsOfflineRequired(res.Err()))
	assert.EqualError(t, res.Err(), "Time entry review requires an internet connection.")

	stats, err := f.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats["total"])
}

// TestReviewTimeEntry_Approve tests a successful review updating the cached copy.
func TestReviewTimeEntry_Approve(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := NewTimeEntryService(f.deps(), f.backend, 0)
	in, err := svc.ClockIn(ctx, clockIn("sub-1", 0))
	require.NoError(t, err)

	res, err := svc.ReviewTimeEntry(ctx, ReviewTimeEntryInput{
		EntryID: in.Value.ID, ReviewerID: "sup-1", Decision: models.TimeEntryApproved,
	})
	require.NoError(t, err)

	require.Equal(t, dualpath.Synced, res.Outcome)
	assert.Equal(t, models.TimeEntryApproved, res.Value.Status)
	assert.Equal(t, "sup-1", res.Value.ReviewedBy)
	assert.Empty(t, res.Value.RejectionReason)

	cached, err := db.Get[models.TimeEntry](ctx, f.store, db.TableTimeEntries, in.Value.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TimeEntryApproved, cached.Status)
}
