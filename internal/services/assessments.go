package services

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/gridops/fieldsync/internal/db"
	apperrors "github.com/gridops/fieldsync/internal/errors"
	"github.com/gridops/fieldsync/internal/models"
	"github.com/gridops/fieldsync/internal/remote"
	"github.com/gridops/fieldsync/internal/sync/dualpath"
	"github.com/gridops/fieldsync/internal/uuid"
	"github.com/gridops/fieldsync/internal/validation"
)

// AssessmentBackend is what the assessment service needs from the remote backend.
type AssessmentBackend interface {
	remote.Inserter
	remote.Updater
	remote.Selector
}

// SubmitAssessmentInput is a completed damage assessment form.
type SubmitAssessmentInput struct {
	TicketID             string                       `json:"ticket_id" validate:"notblank"`
	SubcontractorID      string                       `json:"subcontractor_id" validate:"notblank"`
	SafetyObservations   json.RawMessage              `json:"safety_observations"`
	DamageCause          string                       `json:"damage_cause"`
	WeatherConditions    string                       `json:"weather_conditions"`
	EstimatedRepairHours *float64                     `json:"estimated_repair_hours"`
	Priority             string                       `json:"priority"`
	ImmediateActions     string                       `json:"immediate_actions"`
	RepairVsReplace      string                       `json:"repair_vs_replace"`
	EstimatedRepairCost  *float64                     `json:"estimated_repair_cost"`
	AssessedBy           string                       `json:"assessed_by"`
	DigitalSignature     string                       `json:"digital_signature"`
	EquipmentItems       []models.EquipmentAssessment `json:"equipment_items" validate:"min=1,dive"`
	PhotoMetadata        []models.PhotoMetadata       `json:"photo_metadata"`
}

var submitAssessmentMessages = validation.Messages{
	"ticket_id":        "Ticket is required to submit an assessment.",
	"subcontractor_id": "Subcontractor is required to submit an assessment.",
	"equipment_items":  "At least one equipment assessment is required.",
	"equipment_type":   "Each equipment assessment must include an equipment type.",
}

// AssessmentPayload is the queued body of an offline assessment.
type AssessmentPayload struct {
	Assessment     models.Assessment            `json:"assessment"`
	EquipmentItems []models.EquipmentAssessment `json:"equipment_items"`
	PhotoMetadata  []models.PhotoMetadata       `json:"photo_metadata"`
}

// ReviewAssessmentInput records a supervisor decision on an assessment.
type ReviewAssessmentInput struct {
	AssessmentID string `json:"assessment_id" validate:"required"`
	ReviewerID   string `json:"reviewer_id" validate:"required"`
	Decision     string `json:"decision" validate:"oneof=APPROVED NEEDS_REWORK"`
	Notes        string `json:"review_notes"`
}

var reviewAssessmentMessages = validation.Messages{
	"assessment_id": "Assessment is required.",
	"reviewer_id":   "Reviewer is required.",
	"decision":      "Review decision must be APPROVED or NEEDS_REWORK.",
}

// AssessmentFilters narrows assessment listings.
type AssessmentFilters struct {
	TicketID        string
	SubcontractorID string
}

// AssessmentService submits and reviews damage assessments.
type AssessmentService struct {
	base
	backend AssessmentBackend
}

// NewAssessmentService creates an AssessmentService.
func NewAssessmentService(deps Deps, backend AssessmentBackend) *AssessmentService {
	return &AssessmentService{base: newBase(deps), backend: backend}
}

func (s *AssessmentService) build(in SubmitAssessmentInput) models.Assessment {
	now := s.now()
	assessedBy := strings.TrimSpace(in.AssessedBy)
	if assessedBy == "" {
		assessedBy = in.SubcontractorID
	}
	return models.Assessment{
		TicketID:             in.TicketID,
		SubcontractorID:      in.SubcontractorID,
		SafetyObservations:   in.SafetyObservations,
		DamageCause:          strings.TrimSpace(in.DamageCause),
		WeatherConditions:    strings.TrimSpace(in.WeatherConditions),
		EstimatedRepairHours: in.EstimatedRepairHours,
		Priority:             in.Priority,
		ImmediateActions:     strings.TrimSpace(in.ImmediateActions),
		RepairVsReplace:      in.RepairVsReplace,
		EstimatedRepairCost:  in.EstimatedRepairCost,
		AssessedBy:           assessedBy,
		AssessedAt:           timePtr(now),
		DigitalSignature:     strings.TrimSpace(in.DigitalSignature),
		EquipmentItems:       in.EquipmentItems,
		PhotoMetadata:        in.PhotoMetadata,
		CreatedAt:            now,
	}
}

// SubmitAssessment records an assessment with its equipment items.
func (s *AssessmentService) SubmitAssessment(ctx context.Context, in SubmitAssessmentInput) (dualpath.Result[models.Assessment], error) {
	assessment := s.build(in)

	return dualpath.Execute(ctx, s.exec, dualpath.Operation[models.Assessment]{
		Name: "Assessment submission",
		Validate: func() error {
			return validation.Struct(in, submitAssessmentMessages)
		},
		Remote: func(ctx context.Context) (models.Assessment, error) {
			return s.createRemote(ctx, assessment)
		},
		Confirm: func(ctx context.Context, a models.Assessment) (models.Assessment, error) {
			a.SyncState = models.SyncedState(s.now())
			if a.ID == "" {
				return a, nil
			}
			_, err := s.store.Put(ctx, db.TableAssessments, a)
			return a, err
		},
		Fallback: func(ctx context.Context, remoteErr error) (models.Assessment, error) {
			local := assessment
			local.ID = uuid.New()
			local.SyncState = models.PendingState(dualpath.ErrorMessage(remoteErr), s.now())
			payload := AssessmentPayload{
				Assessment:     local,
				EquipmentItems: local.EquipmentItems,
				PhotoMetadata:  local.PhotoMetadata,
			}
			if _, err := s.saveAndEnqueue(ctx, db.TableAssessments, local, models.OperationCreate, models.EntityAssessment, payload); err != nil {
				return models.Assessment{}, err
			}
			return local, nil
		},
	})
}

func (s *AssessmentService) createRemote(ctx context.Context, a models.Assessment) (models.Assessment, error) {
	a.SyncState = models.SyncedState(s.now())
	record, err := remoteRecord(a)
	if err != nil {
		return models.Assessment{}, err
	}
	delete(record, "equipment_items")
	delete(record, "photo_metadata")

	created, err := remote.InsertAs[models.Assessment](ctx, s.backend, AssessmentsCollection, record)
	if err != nil {
		return models.Assessment{}, err
	}
	if err := InsertEquipment(ctx, s.backend, created.ID, a.EquipmentItems); err != nil {
		return models.Assessment{}, err
	}
	created.EquipmentItems = a.EquipmentItems
	created.PhotoMetadata = a.PhotoMetadata
	return created, nil
}

// InsertEquipment writes the equipment rows of an assessment.
func InsertEquipment(ctx context.Context, ins remote.Inserter, assessmentID string, items []models.EquipmentAssessment) error {
	for _, item := range items {
		row, err := remoteRecord(item)
		if err != nil {
			return err
		}
		row["damage_assessment_id"] = assessmentID
		if _, err := ins.Insert(ctx, EquipmentCollection, row); err != nil {
			return err
		}
	}
	return nil
}

// ListLocalAssessments returns stored assessments, newest first.
func (s *AssessmentService) ListLocalAssessments(ctx context.Context, filters AssessmentFilters) ([]models.Assessment, error) {
	var (
		out []models.Assessment
		err error
	)
	switch {
	case filters.TicketID != "":
		out, err = db.QueryAs[models.Assessment](ctx, s.store, db.TableAssessments, "ticket_id", filters.TicketID)
	case filters.SubcontractorID != "":
		out, err = db.QueryAs[models.Assessment](ctx, s.store, db.TableAssessments, "subcontractor_id", filters.SubcontractorID)
	default:
		out, err = db.AllAs[models.Assessment](ctx, s.store, db.TableAssessments)
	}
	if err != nil {
		return nil, err
	}
	filtered := out[:0]
	for _, a := range out {
		if filters.SubcontractorID != "" && a.SubcontractorID != filters.SubcontractorID {
			continue
		}
		filtered = append(filtered, a)
	}
	sortAssessments(filtered)
	return filtered, nil
}

// ListAssessments returns assessments from the backend, or the local ones when offline or
// when the backend fails.
func (s *AssessmentService) ListAssessments(ctx context.Context, filters AssessmentFilters) ([]models.Assessment, error) {
	if !s.exec.Online() {
		return s.ListLocalAssessments(ctx, filters)
	}
	var pairs []interface{}
	if filters.TicketID != "" {
		pairs = append(pairs, "ticket_id", filters.TicketID)
	}
	if filters.SubcontractorID != "" {
		pairs = append(pairs, "subcontractor_id", filters.SubcontractorID)
	}
	out, err := remote.SelectAs[models.Assessment](ctx, s.backend, AssessmentsCollection, remote.Where(pairs...).Order("assessed_at", true))
	if err != nil {
		return s.ListLocalAssessments(ctx, filters)
	}
	return out, nil
}

func sortAssessments(items []models.Assessment) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}

// ComposeReviewNotes prefixes notes with the decision tag, e.g. "[APPROVED] looks good".
func ComposeReviewNotes(decision, notes string) string {
	tag := "[" + decision + "]"
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return tag
	}
	return tag + " " + notes
}

// ParseReviewDecision recovers the decision encoded in review notes, or "".
func ParseReviewDecision(notes string) string {
	normalized := strings.ToUpper(strings.TrimSpace(notes))
	for _, d := range []string{models.AssessmentApproved, models.AssessmentNeedsRework} {
		if strings.HasPrefix(normalized, "["+d+"]") {
			return d
		}
	}
	return ""
}

// ReviewAssessment records a decision on an assessment. It requires a connection.
func (s *AssessmentService) ReviewAssessment(ctx context.Context, in ReviewAssessmentInput) (dualpath.Result[models.Assessment], error) {
	return dualpath.Execute(ctx, s.exec, dualpath.Operation[models.Assessment]{
		Name:           "Assessment review",
		OnlineRequired: true,
		Validate: func() error {
			if err := validation.Struct(in, reviewAssessmentMessages); err != nil {
				return err
			}
			if in.Decision == models.AssessmentNeedsRework && strings.TrimSpace(in.Notes) == "" {
				return apperrors.Validation("Review notes are required when requesting rework.")
			}
			return nil
		},
		Remote: func(ctx context.Context) (models.Assessment, error) {
			now := s.now()
			return remote.UpdateAs[models.Assessment](ctx, s.backend, AssessmentsCollection, in.AssessmentID, map[string]interface{}{
				"reviewed_by":  in.ReviewerID,
				"reviewed_at":  now,
				"review_notes": ComposeReviewNotes(in.Decision, in.Notes),
				"updated_at":   now,
			})
		},
		Confirm: func(ctx context.Context, a models.Assessment) (models.Assessment, error) {
			cached, ok, err := db.Find[models.Assessment](ctx, s.store, db.TableAssessments, a.ID)
			if err != nil || !ok {
				return a, err
			}
			cached.ReviewedBy = a.ReviewedBy
			cached.ReviewedAt = a.ReviewedAt
			cached.ReviewNotes = a.ReviewNotes
			_, err = s.store.Put(ctx, db.TableAssessments, cached)
			return cached, err
		},
	})
}
