package models

import "time"

// Expense report states.
const (
	ExpenseReportDraft     = "DRAFT"
	ExpenseReportSubmitted = "SUBMITTED"
	ExpenseReportApproved  = "APPROVED"
	ExpenseReportRejected  = "REJECTED"
)

// Expense categories with special handling.
const (
	ExpenseCategoryMileage         = "MILEAGE"
	ExpenseCategoryLodging         = "LODGING"
	ExpenseCategoryEquipmentRental = "EQUIPMENT_RENTAL"
	ExpenseCategoryMaterials       = "MATERIALS"
)

// ExpenseReport groups a subcontractor's expense items for one calendar month.
// Period dates are YYYY-MM-DD strings.
type ExpenseReport struct {
	ID                string     `json:"id"`
	SubcontractorID   string     `json:"subcontractor_id"`
	ReportPeriodStart string     `json:"report_period_start"`
	ReportPeriodEnd   string     `json:"report_period_end"`
	TotalAmount       float64    `json:"total_amount"`
	MileageTotal      float64    `json:"mileage_total"`
	ItemCount         int        `json:"item_count"`
	Status            string     `json:"status"`
	SubmittedAt       *time.Time `json:"submitted_at,omitempty"`
	ReviewedBy        string     `json:"reviewed_by,omitempty"`
	ReviewedAt        *time.Time `json:"reviewed_at,omitempty"`
	RejectionReason   string     `json:"rejection_reason,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	SyncState
}

// RecordID returns the primary key.
func (r ExpenseReport) RecordID() string { return r.ID }

// TableName returns the table name for ExpenseReport.
func (ExpenseReport) TableName() string {
	return "expense_reports"
}

// ExpenseItem is one line of an expense report.
type ExpenseItem struct {
	ID                      string    `json:"id"`
	ExpenseReportID         string    `json:"expense_report_id"`
	Category                string    `json:"category"`
	Description             string    `json:"description"`
	Amount                  float64   `json:"amount"`
	Currency                string    `json:"currency,omitempty"`
	ExpenseDate             string    `json:"expense_date"`
	ReceiptURL              string    `json:"receipt_url,omitempty"`
	ReceiptOCRText          string    `json:"receipt_ocr_text,omitempty"`
	MileageStart            *float64  `json:"mileage_start,omitempty"`
	MileageEnd              *float64  `json:"mileage_end,omitempty"`
	MileageRate             *float64  `json:"mileage_rate,omitempty"`
	MileageCalculatedAmount *float64  `json:"mileage_calculated_amount,omitempty"`
	FromLocation            string    `json:"from_location,omitempty"`
	ToLocation              string    `json:"to_location,omitempty"`
	PolicyFlags             []string  `json:"policy_flags"`
	RequiresApproval        bool      `json:"requires_approval"`
	ApprovalReason          string    `json:"approval_reason,omitempty"`
	TicketID                string    `json:"ticket_id,omitempty"`
	BillableToClient        bool      `json:"billable_to_client"`
	CreatedAt               time.Time `json:"created_at"`
	SyncState
}

// RecordID returns the primary key.
func (i ExpenseItem) RecordID() string { return i.ID }

// TableName returns the table name for ExpenseItem.
func (ExpenseItem) TableName() string {
	return "expense_items"
}

// IsMileage reports whether the item is a mileage claim.
func (i ExpenseItem) IsMileage() bool {
	return i.Category == ExpenseCategoryMileage
}
