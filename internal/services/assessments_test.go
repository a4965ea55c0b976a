package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridops/fieldsync/internal/db"
	"github.com/gridops/fieldsync/internal/models"
	"github.com/gridops/fieldsync/internal/sync/dualpath"
	"github.com/gridops/fieldsync/internal/uuid"
)

func assessmentInput() SubmitAssessmentInput {
	return SubmitAssessmentInput{
		TicketID:             "t-1",
		SubcontractorID:      "sub-1",
		SafetyObservations:   json.RawMessage(`{"downed_lines":true}`),
		DamageCause:          "Wind",
		Priority:             "HIGH",
		EstimatedRepairHours: floatPtr(6),
		EquipmentItems: []models.EquipmentAssessment{
			{EquipmentType: "POLE", Condition: "BROKEN", RequiresReplacement: true, Quantity: 1},
			{EquipmentType: "TRANSFORMER", Condition: "DAMAGED", Quantity: 1},
		},
		PhotoMetadata: []models.PhotoMetadata{{PhotoID: "p-1", Type: models.PhotoOverview}},
	}
}

// TestSubmitAssessment_Validation tests the pre-submit messages.
func TestSubmitAssessment_Validation(t *testing.T) {
	f := newFixture(t)
	svc := NewAssessmentService(f.deps(), f.backend)

	tests := []struct {
		name   string
		mutate func(*SubmitAssessmentInput)
		want   string
	}{
		{"ticket", func(in *SubmitAssessmentInput) { in.TicketID = "" }, "Ticket is required to submit an assessment."},
		{"subcontractor", func(in *SubmitAssessmentInput) { in.SubcontractorID = "  " }, "Subcontractor is required to submit an assessment."},
		{"no equipment", func(in *SubmitAssessmentInput) { in.EquipmentItems = nil }, "At least one equipment assessment is required."},
		{"blank equipment type", func(in *SubmitAssessmentInput) { in.EquipmentItems[1].EquipmentType = " " }, "Each equipment assessment must include an equipment type."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := assessmentInput()
			tt.mutate(&in)
			res, err := svc.SubmitAssessment(context.Background(), in)
			require.NoError(t, err)
			assert.Equal(t, dualpath.Rejected, res.Outcome)
			assert.EqualError(t, res.Err(), tt.want)
		})
	}
	assert.Zero(t, f.backend.TotalCalls())
}

// TestSubmitAssessment_Online tests the synced path writing the assessment and its equipment.
func TestSubmitAssessment_Online(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := NewAssessmentService(f.deps(), f.backend)

	res, err := svc.SubmitAssessment(ctx, assessmentInput())
	require.NoError(t, err)
	require.Equal(t, dualpath.Synced, res.Outcome)

	assert.NotEmpty(t, res.Value.ID)
	assert.Equal(t, "sub-1", res.Value.AssessedBy)
	assert.Len(t, res.Value.EquipmentItems, 2)
	assert.Equal(t, 1, f.backend.Calls("insert", AssessmentsCollection))
	assert.Equal(t, 2, f.backend.Calls("insert", EquipmentCollection))

	row, ok := f.backend.Row(AssessmentsCollection, res.Value.ID)
	require.True(t, ok)
	fields := decodePayload(t, row)
	assert.NotContains(t, fields, "equipment_items")
	assert.NotContains(t, fields, "photo_metadata")

	local, err := svc.ListLocalAssessments(ctx, AssessmentFilters{TicketID: "t-1"})
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.True(t, local[0].Synced)
}

// TestSubmitAssessment_RemoteFailure tests that a failed submission is stored under a fresh
// local id with the whole form queued.
func TestSubmitAssessment_RemoteFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.backend.FailOn("insert", AssessmentsCollection, errNetwork)
	svc := NewAssessmentService(f.deps(), f.backend)

	first, err := svc.SubmitAssessment(ctx, assessmentInput())
	require.NoError(t, err)
	second, err := svc.SubmitAssessment(ctx, assessmentInput())
	require.NoError(t, err)

	require.Equal(t, dualpath.Queued, first.Outcome)
	a := first.Value
	assert.True(t, uuid.IsValid(a.ID))
	assert.NotEqual(t, a.ID, second.Value.ID)
	assert.False(t, a.Synced)
	assert.Equal(t, models.SyncPending, a.SyncStatus)
	assert.Zero(t, a.RetryCount)
	assert.Equal(t, "network timeout", a.LastError)
	assert.Zero(t, f.backend.Calls("insert", EquipmentCollection))

	items := f.queueFor(t, models.EntityAssessment, a.ID)
	require.Len(t, items, 1)
	var payload AssessmentPayload
	require.NoError(t, json.Unmarshal(items[0].Payload, &payload))
	assert.Equal(t, a.ID, payload.Assessment.ID)
	assert.Len(t, payload.EquipmentItems, 2)
	assert.Len(t, payload.PhotoMetadata, 1)

	stored, err := db.Get[models.Assessment](ctx, f.store, db.TableAssessments, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Wind", stored.DamageCause)
	assert.JSONEq(t, `{"downed_lines":true}`, string(stored.SafetyObservations))
}

// TestListLocalAssessments tests filtering and newest-first ordering.
func TestListLocalAssessments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.online = false
	svc := NewAssessmentService(f.deps(), f.backend)

	older, err := svc.SubmitAssessment(ctx, assessmentInput())
	require.NoError(t, err)
	f.now = f.now.Add(10 * time.Minute)
	newer, err := svc.SubmitAssessment(ctx, assessmentInput())
	require.NoError(t, err)
	other := assessmentInput()
	other.SubcontractorID = "sub-2"
	_, err = svc.SubmitAssessment(ctx, other)
	require.NoError(t, err)

	mine, err := svc.ListLocalAssessments(ctx, AssessmentFilters{TicketID: "t-1", SubcontractorID: "sub-1"})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, newer.Value.ID, mine[0].ID)
	assert.Equal(t, older.Value.ID, mine[1].ID)

	all, err := svc.ListAssessments(ctx, AssessmentFilters{})
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

// TestReviewNotes tests the decision prefix round trip.
func TestReviewNotes(t *testing.T) {
	assert.Equal(t, "[APPROVED]", ComposeReviewNotes(models.AssessmentApproved, "  "))
	assert.Equal(t, "[NEEDS_REWORK] Missing pole tag", ComposeReviewNotes(models.AssessmentNeedsRework, "Missing pole tag"))

	assert.Equal(t, models.AssessmentNeedsRework, ParseReviewDecision("[needs_rework] redo photos"))
	assert.Equal(t, models.AssessmentApproved, ParseReviewDecision(" [APPROVED]"))
	assert.Empty(t, ParseReviewDecision("looks fine"))
}

// TestReviewAssessment tests the review rules and a recorded decision.
func TestReviewAssessment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := NewAssessmentService(f.deps(), f.backend)

	res, err := svc.ReviewAssessment(ctx, ReviewAssessmentInput{
		AssessmentID: "a-1", ReviewerID: "sup-1", Decision: models.AssessmentNeedsRework,
	})
	require.NoError(t, err)
	assert.EqualError(t, res.Err(), "Review notes are required when requesting rework.")

	res, err = svc.ReviewAssessment(ctx, ReviewAssessmentInput{
		AssessmentID: "a-1", ReviewerID: "sup-1", Decision: "MAYBE",
	})
	require.NoError(t, err)
	assert.EqualError(t, res.Err(), "Review decision must be APPROVED or NEEDS_REWORK.")
	assert.Zero(t, f.backend.TotalCalls())

	f.online = false
	res, err = svc.ReviewAssessment(ctx, ReviewAssessmentInput{
		AssessmentID: "a-1", ReviewerID: "sup-1", Decision: models.AssessmentApproved,
	})
	require.NoError(t, err)
	assert.EqualError(t, res.Err(), "Assessment review requires an internet connection.")

	f.online = true
	require.NoError(t, f.backend.Seed(AssessmentsCollection, models.Assessment{ID: "a-1", TicketID: "t-1"}))
	res, err = svc.ReviewAssessment(ctx, ReviewAssessmentInput{
		AssessmentID: "a-1", ReviewerID: "sup-1", Decision: models.AssessmentNeedsRework, Notes: "Retake damage photos",
	})
	require.NoError(t, err)
	require.Equal(t, dualpath.Synced, res.Outcome)
	assert.Equal(t, "[NEEDS_REWORK] Retake damage photos", res.Value.ReviewNotes)
	assert.Equal(t, "sup-1", res.Value.ReviewedBy)
	assert.Equal(t, models.AssessmentNeedsRework, ParseReviewDecision(res.Value.ReviewNotes))
}
