package models

import "time"

// Time entry review states.
const (
	TimeEntryPending  = "PENDING"
	TimeEntryApproved = "APPROVED"
	TimeEntryRejected = "REJECTED"
)

// TimeEntry is a clock-in/clock-out record for one subcontractor.
// The entry is active while ClockOutAt is nil.
type TimeEntry struct {
	ID                string     `json:"id"`
	SubcontractorID   string     `json:"subcontractor_id"`
	TicketID          string     `json:"ticket_id,omitempty"`
	ClockInAt         time.Time  `json:"clock_in_at"`
	ClockInLatitude   *float64   `json:"clock_in_latitude,omitempty"`
	ClockInLongitude  *float64   `json:"clock_in_longitude,omitempty"`
	ClockInPhotoURL   string     `json:"clock_in_photo_url,omitempty"`
	ClockOutAt        *time.Time `json:"clock_out_at,omitempty"`
	ClockOutLatitude  *float64   `json:"clock_out_latitude,omitempty"`
	ClockOutLongitude *float64   `json:"clock_out_longitude,omitempty"`
	ClockOutPhotoURL  string     `json:"clock_out_photo_url,omitempty"`
	WorkType          string     `json:"work_type"`
	WorkTypeRate      float64    `json:"work_type_rate"`
	BreakMinutes      int        `json:"break_minutes"`
	TotalMinutes      *int       `json:"total_minutes,omitempty"`
	BillableMinutes   *int       `json:"billable_minutes,omitempty"`
	BillableAmount    *float64   `json:"billable_amount,omitempty"`
	Status            string     `json:"status"`
	ReviewedBy        string     `json:"reviewed_by,omitempty"`
	ReviewedAt        *time.Time `json:"reviewed_at,omitempty"`
	RejectionReason   string     `json:"rejection_reason,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	SyncState
}

// RecordID returns the primary key.
func (e TimeEntry) RecordID() string { return e.ID }

// TableName returns the table name for TimeEntry.
func (TimeEntry) TableName() string {
	return "time_entries"
}

// Active reports whether the entry has not been clocked out.
func (e TimeEntry) Active() bool {
	return e.ClockOutAt == nil
}
