package models

import (
	"encoding/json"
	"time"
)

// Assessment review decisions.
const (
	AssessmentApproved    = "APPROVED"
	AssessmentNeedsRework = "NEEDS_REWORK"
)

// EquipmentAssessment describes one piece of damaged equipment.
type EquipmentAssessment struct {
	EquipmentType       string  `json:"equipment_type" validate:"notblank"`
	EquipmentTag        string  `json:"equipment_tag,omitempty"`
	Condition           string  `json:"condition,omitempty"`
	DamageDescription   string  `json:"damage_description,omitempty"`
	WireSize            string  `json:"wire_size,omitempty"`
	RequiresReplacement bool    `json:"requires_replacement"`
	Quantity            int     `json:"quantity,omitempty"`
	Notes               string  `json:"notes,omitempty"`
	EstimatedCost       float64 `json:"estimated_cost,omitempty"`
}

// PhotoMetadata links a captured photo to an assessment.
type PhotoMetadata struct {
	PhotoID    string     `json:"photo_id"`
	Type       PhotoType  `json:"type"`
	Checksum   string     `json:"checksum,omitempty"`
	CapturedAt *time.Time `json:"captured_at,omitempty"`
	Latitude   *float64   `json:"gps_latitude,omitempty"`
	Longitude  *float64   `json:"gps_longitude,omitempty"`
}

// Assessment is a field damage assessment for a ticket.
type Assessment struct {
	ID                   string                `json:"id"`
	TicketID             string                `json:"ticket_id"`
	SubcontractorID      string                `json:"subcontractor_id"`
	SafetyObservations   json.RawMessage       `json:"safety_observations,omitempty"`
	DamageCause          string                `json:"damage_cause,omitempty"`
	WeatherConditions    string                `json:"weather_conditions,omitempty"`
	EstimatedRepairHours *float64              `json:"estimated_repair_hours,omitempty"`
	Priority             string                `json:"priority,omitempty"`
	ImmediateActions     string                `json:"immediate_actions,omitempty"`
	RepairVsReplace      string                `json:"repair_vs_replace,omitempty"`
	EstimatedRepairCost  *float64              `json:"estimated_repair_cost,omitempty"`
	AssessedBy           string                `json:"assessed_by,omitempty"`
	AssessedAt           *time.Time            `json:"assessed_at,omitempty"`
	DigitalSignature     string                `json:"digital_signature,omitempty"`
	ReviewedBy           string                `json:"reviewed_by,omitempty"`
	ReviewedAt           *time.Time            `json:"reviewed_at,omitempty"`
	ReviewNotes          string                `json:"review_notes,omitempty"`
	EquipmentItems       []EquipmentAssessment `json:"equipment_items,omitempty"`
	PhotoMetadata        []PhotoMetadata       `json:"photo_metadata,omitempty"`
	CreatedAt            time.Time             `json:"created_at"`
	SyncState
}

// RecordID returns the primary key.
func (a Assessment) RecordID() string { return a.ID }

// TableName returns the table name for Assessment.
func (Assessment) TableName() string {
	return "assessments"
}
