package services

import (
	"context"
	"sort"
	"strings"

	"github.com/gridops/fieldsync/internal/db"
	apperrors "github.com/gridops/fieldsync/internal/errors"
	"github.com/gridops/fieldsync/internal/logging"
	"github.com/gridops/fieldsync/internal/models"
	"github.com/gridops/fieldsync/internal/remote"
	"github.com/gridops/fieldsync/internal/sync/dualpath"
	"github.com/gridops/fieldsync/internal/uuid"
	"github.com/gridops/fieldsync/internal/validation"
)

// DefaultCurrency is recorded on every expense item.
const DefaultCurrency = "USD"

// ExpenseBackend is what the expense service needs from the remote backend.
type ExpenseBackend interface {
	remote.Inserter
	remote.Updater
	remote.Selector
}

// CreateExpenseItemInput is one expense entered by a subcontractor. ReceiptURL points at an
// already stored receipt; ReceiptOCRText is the text recognized on it.
type CreateExpenseItemInput struct {
	SubcontractorID  string   `json:"subcontractor_id" validate:"notblank"`
	Category         string   `json:"category"`
	Description      string   `json:"description" validate:"notblank"`
	Amount           float64  `json:"amount"`
	ExpenseDate      string   `json:"expense_date"`
	ReceiptURL       string   `json:"receipt_url"`
	ReceiptOCRText   string   `json:"receipt_ocr_text"`
	MileageStart     *float64 `json:"mileage_start"`
	MileageEnd       *float64 `json:"mileage_end"`
	FromLocation     string   `json:"from_location"`
	ToLocation       string   `json:"to_location"`
	TicketID         string   `json:"ticket_id"`
	BillableToClient bool     `json:"billable_to_client"`
}

var createExpenseMessages = validation.Messages{
	"subcontractor_id": "Subcontractor is required.",
	"description":      "Expense description is required.",
}

// ReviewExpenseReportInput approves or rejects an expense report.
type ReviewExpenseReportInput struct {
	ReportID        string `json:"expense_report_id" validate:"required"`
	ReviewerID      string `json:"reviewer_id" validate:"required"`
	Decision        string `json:"decision" validate:"oneof=APPROVED REJECTED"`
	RejectionReason string `json:"rejection_reason"`
}

var reviewExpenseMessages = validation.Messages{
	"expense_report_id": "Expense report is required.",
	"reviewer_id":       "Reviewer is required.",
	"decision":          "Review decision must be APPROVED or REJECTED.",
}

// ExpenseFilters narrows ListExpenses.
type ExpenseFilters struct {
	SubcontractorID string
	Status          string
}

// ExpenseListItem is an expense item with the report it belongs to.
type ExpenseListItem struct {
	Item   models.ExpenseItem   `json:"item"`
	Report models.ExpenseReport `json:"report"`
}

// ExpenseService records expenses into monthly draft reports.
type ExpenseService struct {
	base
	backend ExpenseBackend
	rules   ExpenseRules
}

// NewExpenseService creates an ExpenseService.
func NewExpenseService(deps Deps, backend ExpenseBackend, rules ExpenseRules) *ExpenseService {
	return &ExpenseService{base: newBase(deps), backend: backend, rules: rules.withDefaults()}
}

// ValidateExpense checks the input before any I/O.
func (s *ExpenseService) ValidateExpense(in CreateExpenseItemInput) error {
	if err := validation.Struct(in, createExpenseMessages); err != nil {
		return err
	}

	validManual := finite(in.Amount) && in.Amount > 0
	if in.Category == models.ExpenseCategoryMileage {
		m := CalculateMileage(in.MileageStart, in.MileageEnd, s.rules.MileageRate)
		if !validManual && (!m.Valid || m.CalculatedAmount <= 0) {
			return apperrors.Validation("Mileage expenses require valid odometer values or an amount greater than zero.")
		}
	} else if !validManual {
		return apperrors.Validation("Expense amount must be greater than zero.")
	}

	if _, ok := ParseExpenseDate(in.ExpenseDate); !ok {
		return apperrors.Validation("Expense date is invalid.")
	}
	return nil
}

type processedExpense struct {
	date    string
	amount  float64
	mileage Mileage
	policy  PolicyResult
}

func (s *ExpenseService) process(in CreateExpenseItemInput, existing []DuplicateCandidate) processedExpense {
	date, _ := NormalizeExpenseDate(in.ExpenseDate)
	manual := 0.0
	if finite(in.Amount) {
		manual = round2(in.Amount)
	}

	var mileage Mileage
	amount := manual
	if in.Category == models.ExpenseCategoryMileage {
		mileage = CalculateMileage(in.MileageStart, in.MileageEnd, s.rules.MileageRate)
		if mileage.Valid && mileage.CalculatedAmount > 0 {
			amount = mileage.CalculatedAmount
		}
	}

	policy := s.rules.CheckPolicy(PolicyInput{
		Category:        in.Category,
		Amount:          amount,
		ExpenseDate:     date,
		ReceiptProvided: in.ReceiptURL != "" || in.ReceiptOCRText != "",
		Description:     in.Description,
		Existing:        existing,
		OCRText:         in.ReceiptOCRText,
	}, s.now())

	return processedExpense{date: date, amount: amount, mileage: mileage, policy: policy}
}

func (s *ExpenseService) buildItem(in CreateExpenseItemInput, reportID string, p processedExpense) models.ExpenseItem {
	now := s.now()
	item := models.ExpenseItem{
		ID:               uuid.New(),
		ExpenseReportID:  reportID,
		Category:         in.Category,
		Description:      strings.TrimSpace(in.Description),
		Amount:           p.amount,
		Currency:         DefaultCurrency,
		ExpenseDate:      p.date,
		ReceiptURL:       in.ReceiptURL,
		ReceiptOCRText:   in.ReceiptOCRText,
		FromLocation:     strings.TrimSpace(in.FromLocation),
		ToLocation:       strings.TrimSpace(in.ToLocation),
		PolicyFlags:      p.policy.Flags,
		RequiresApproval: p.policy.RequiresApproval,
		ApprovalReason:   p.policy.ApprovalReason,
		TicketID:         in.TicketID,
		BillableToClient: in.BillableToClient,
		CreatedAt:        now,
	}
	if p.mileage.Valid {
		item.MileageStart = in.MileageStart
		item.MileageEnd = in.MileageEnd
		rate, calculated := p.mileage.Rate, p.mileage.CalculatedAmount
		item.MileageRate = &rate
		item.MileageCalculatedAmount = &calculated
	}
	return item
}

// CreateExpenseItem adds an expense to the subcontractor's draft report for its month.
func (s *ExpenseService) CreateExpenseItem(ctx context.Context, in CreateExpenseItemInput) (dualpath.Result[ExpenseListItem], error) {
	return dualpath.Execute(ctx, s.exec, dualpath.Operation[ExpenseListItem]{
		Name:     "Expense submission",
		Validate: func() error { return s.ValidateExpense(in) },
		Remote: func(ctx context.Context) (ExpenseListItem, error) {
			return s.createRemote(ctx, in)
		},
		Confirm: s.cacheSynced,
		Fallback: func(ctx context.Context, remoteErr error) (ExpenseListItem, error) {
			return s.createLocal(ctx, in, dualpath.ErrorMessage(remoteErr))
		},
	})
}

func (s *ExpenseService) createRemote(ctx context.Context, in CreateExpenseItemInput) (ExpenseListItem, error) {
	report, err := s.draftReportRemote(ctx, in)
	if err != nil {
		return ExpenseListItem{}, err
	}
	if err := s.adoptRemoteReport(ctx, report); err != nil {
		logging.Warn("[Expenses] Could not cache remote draft report", map[string]interface{}{
			"expense_report_id": report.ID,
			"error":             err.Error(),
		})
	}

	existing, err := remote.SelectAs[models.ExpenseItem](ctx, s.backend, ExpenseItemsCollection, remote.Where("expense_report_id", report.ID))
	if err != nil {
		return ExpenseListItem{}, err
	}
	candidates := make([]DuplicateCandidate, 0, len(existing))
	for _, item := range existing {
		candidates = append(candidates, candidateFromItem(item))
	}

	item := s.buildItem(in, report.ID, s.process(in, candidates))
	item.SyncState = models.SyncedState(s.now())
	record, err := remoteRecord(item)
	if err != nil {
		return ExpenseListItem{}, err
	}
	inserted, err := remote.InsertAs[models.ExpenseItem](ctx, s.backend, ExpenseItemsCollection, record)
	if err != nil {
		return ExpenseListItem{}, err
	}
	return ExpenseListItem{Item: inserted, Report: report}, nil
}

func (s *ExpenseService) draftReportRemote(ctx context.Context, in CreateExpenseItemInput) (models.ExpenseReport, error) {
	date, _ := ParseExpenseDate(in.ExpenseDate)
	start, end := MonthPeriod(date)

	q := remote.Where(
		"subcontractor_id", in.SubcontractorID,
		"status", models.ExpenseReportDraft,
		"report_period_start", start,
		"report_period_end", end,
	).Order("created_at", true).First(1)
	reports, err := remote.SelectAs[models.ExpenseReport](ctx, s.backend, ExpenseReportsCollection, q)
	if err != nil {
		return models.ExpenseReport{}, err
	}
	if len(reports) > 0 {
		return reports[0], nil
	}

	return remote.InsertAs[models.ExpenseReport](ctx, s.backend, ExpenseReportsCollection, map[string]interface{}{
		"subcontractor_id":    in.SubcontractorID,
		"report_period_start": start,
		"report_period_end":   end,
		"status":              models.ExpenseReportDraft,
		"created_at":          s.now(),
	})
}

// adoptRemoteReport caches the backend's draft report when the device has none for that
// period, so a fallback after a failed item insert adds to it instead of creating another.
func (s *ExpenseService) adoptRemoteReport(ctx context.Context, report models.ExpenseReport) error {
	if report.ID == "" {
		return nil
	}
	return s.store.Transaction(ctx, []db.Table{db.TableExpenseReports}, func(tx db.Session) error {
		_, found, err := findDraftReport(ctx, tx, report.SubcontractorID, report.ReportPeriodStart, report.ReportPeriodEnd)
		if err != nil || found {
			return err
		}
		report.SyncState = models.SyncedState(s.now())
		_, err = tx.Put(ctx, db.TableExpenseReports, report)
		return err
	})
}

// cacheSynced stores the confirmed item and report so later offline entries land in the
// same draft report.
func (s *ExpenseService) cacheSynced(ctx context.Context, v ExpenseListItem) (ExpenseListItem, error) {
	now := s.now()
	v.Item.SyncState = models.SyncedState(now)
	v.Report.SyncState = models.SyncedState(now)
	if v.Item.ID == "" || v.Report.ID == "" {
		return v, nil
	}
	err := s.store.Transaction(ctx, []db.Table{db.TableExpenseReports, db.TableExpenseItems}, func(tx db.Session) error {
		if _, err := tx.Put(ctx, db.TableExpenseReports, v.Report); err != nil {
			return err
		}
		_, err := tx.Put(ctx, db.TableExpenseItems, v.Item)
		return err
	})
	return v, err
}

// createLocal stores the item in the local draft report, creating the report when needed,
// and queues the report and item mutations in one transaction.
func (s *ExpenseService) createLocal(ctx context.Context, in CreateExpenseItemInput, lastErr string) (ExpenseListItem, error) {
	date, _ := ParseExpenseDate(in.ExpenseDate)
	start, end := MonthPeriod(date)
	now := s.now()

	var out ExpenseListItem
	tables := []db.Table{db.TableExpenseReports, db.TableExpenseItems, db.TableSyncQueue}
	err := s.store.Transaction(ctx, tables, func(tx db.Session) error {
		q := s.queue.With(tx)

		report, found, err := findDraftReport(ctx, tx, in.SubcontractorID, start, end)
		if err != nil {
			return err
		}
		if !found {
			report = models.ExpenseReport{
				ID:                uuid.New(),
				SubcontractorID:   in.SubcontractorID,
				ReportPeriodStart: start,
				ReportPeriodEnd:   end,
				Status:            models.ExpenseReportDraft,
				CreatedAt:         now,
				SyncState:         models.PendingState("", now),
			}
			if _, err := tx.Put(ctx, db.TableExpenseReports, report); err != nil {
				return err
			}
			if _, err := q.Enqueue(ctx, models.OperationCreate, models.EntityExpenseReport, report.ID, report); err != nil {
				return err
			}
		}

		existing, err := db.QueryAs[models.ExpenseItem](ctx, tx, db.TableExpenseItems, "expense_report_id", report.ID)
		if err != nil {
			return err
		}
		candidates := make([]DuplicateCandidate, 0, len(existing))
		for _, item := range existing {
			candidates = append(candidates, candidateFromItem(item))
		}

		processed := s.process(in, candidates)
		item := s.buildItem(in, report.ID, processed)
		item.SyncState = models.PendingState(lastErr, now)
		if _, err := tx.Put(ctx, db.TableExpenseItems, item); err != nil {
			return err
		}
		if _, err := q.Enqueue(ctx, models.OperationCreate, models.EntityExpenseItem, item.ID, item); err != nil {
			return err
		}

		report.TotalAmount = round2(report.TotalAmount + processed.amount)
		report.MileageTotal = round2(report.MileageTotal + processed.mileage.Total)
		report.ItemCount++
		report.MarkPending(report.LastError, now)
		if _, err := tx.Put(ctx, db.TableExpenseReports, report); err != nil {
			return err
		}
		_, err = q.Enqueue(ctx, models.OperationUpdate, models.EntityExpenseReport, report.ID, map[string]interface{}{
			"total_amount":  report.TotalAmount,
			"mileage_total": report.MileageTotal,
			"item_count":    report.ItemCount,
			"updated_at":    now,
		})
		if err != nil {
			return err
		}

		out = ExpenseListItem{Item: item, Report: report}
		return nil
	})
	if err != nil {
		return ExpenseListItem{}, err
	}

	logging.Info("[Expenses] Queued expense item", map[string]interface{}{
		"item_id":           out.Item.ID,
		"expense_report_id": out.Report.ID,
		"amount":            out.Item.Amount,
		"policy_flags":      out.Item.PolicyFlags,
	})
	return out, nil
}

func findDraftReport(ctx context.Context, s db.Session, subcontractorID, start, end string) (models.ExpenseReport, bool, error) {
	reports, err := db.QueryAs[models.ExpenseReport](ctx, s, db.TableExpenseReports, "subcontractor_id", subcontractorID)
	if err != nil {
		return models.ExpenseReport{}, false, err
	}
	for _, r := range reports {
		if r.Status == models.ExpenseReportDraft && r.ReportPeriodStart == start && r.ReportPeriodEnd == end {
			return r, true, nil
		}
	}
	return models.ExpenseReport{}, false, nil
}

// ListExpenses returns expenses from the backend. Offline it lists the local expenses of
// filters.SubcontractorID. When the backend fails the local list is only used if a
// subcontractor was given.
func (s *ExpenseService) ListExpenses(ctx context.Context, filters ExpenseFilters) ([]ExpenseListItem, error) {
	if !s.exec.Online() {
		return s.listLocal(ctx, filters)
	}
	items, err := s.listRemote(ctx, filters)
	if err != nil {
		if filters.SubcontractorID == "" {
			return nil, apperrors.Remote("list expenses", err)
		}
		return s.listLocal(ctx, filters)
	}
	return items, nil
}

func (s *ExpenseService) listRemote(ctx context.Context, filters ExpenseFilters) ([]ExpenseListItem, error) {
	var pairs []interface{}
	if filters.SubcontractorID != "" {
		pairs = append(pairs, "subcontractor_id", filters.SubcontractorID)
	}
	if filters.Status != "" && filters.Status != "ALL" {
		pairs = append(pairs, "status", filters.Status)
	}
	reports, err := remote.SelectAs[models.ExpenseReport](ctx, s.backend, ExpenseReportsCollection, remote.Where(pairs...))
	if err != nil {
		return nil, err
	}

	var out []ExpenseListItem
	for _, report := range reports {
		items, err := remote.SelectAs[models.ExpenseItem](ctx, s.backend, ExpenseItemsCollection, remote.Where("expense_report_id", report.ID))
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			out = append(out, ExpenseListItem{Item: item, Report: report})
		}
	}
	sortExpenses(out)
	return out, nil
}

func (s *ExpenseService) listLocal(ctx context.Context, filters ExpenseFilters) ([]ExpenseListItem, error) {
	out := []ExpenseListItem{}
	if filters.SubcontractorID == "" {
		return out, nil
	}
	reports, err := db.QueryAs[models.ExpenseReport](ctx, s.store, db.TableExpenseReports, "subcontractor_id", filters.SubcontractorID)
	if err != nil {
		return nil, err
	}
	for _, report := range reports {
		if filters.Status != "" && filters.Status != "ALL" && report.Status != filters.Status {
			continue
		}
		items, err := db.QueryAs[models.ExpenseItem](ctx, s.store, db.TableExpenseItems, "expense_report_id", report.ID)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			out = append(out, ExpenseListItem{Item: item, Report: report})
		}
	}
	sortExpenses(out)
	return out, nil
}

func sortExpenses(items []ExpenseListItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Item.ExpenseDate == items[j].Item.ExpenseDate {
			return items[i].Item.CreatedAt.After(items[j].Item.CreatedAt)
		}
		return items[i].Item.ExpenseDate > items[j].Item.ExpenseDate
	})
}

// ReviewExpenseReport approves or rejects a report. It requires a connection.
func (s *ExpenseService) ReviewExpenseReport(ctx context.Context, in ReviewExpenseReportInput) (dualpath.Result[models.ExpenseReport], error) {
	return dualpath.Execute(ctx, s.exec, dualpath.Operation[models.ExpenseReport]{
		Name:           "Expense review",
		OnlineRequired: true,
		Validate: func() error {
			if err := validation.Struct(in, reviewExpenseMessages); err != nil {
				return err
			}
			if in.Decision == models.ExpenseReportRejected && strings.TrimSpace(in.RejectionReason) == "" {
				return apperrors.Validation("Rejection reason is required when rejecting an expense report.")
			}
			return nil
		},
		Remote: func(ctx context.Context) (models.ExpenseReport, error) {
			now := s.now()
			var reason interface{}
			if in.Decision == models.ExpenseReportRejected {
				reason = strings.TrimSpace(in.RejectionReason)
			}
			return remote.UpdateAs[models.ExpenseReport](ctx, s.backend, ExpenseReportsCollection, in.ReportID, map[string]interface{}{
				"status":           in.Decision,
				"reviewed_by":      in.ReviewerID,
				"reviewed_at":      now,
				"rejection_reason": reason,
				"updated_at":       now,
			})
		},
		Confirm: func(ctx context.Context, report models.ExpenseReport) (models.ExpenseReport, error) {
			report.SyncState = models.SyncedState(s.now())
			_, ok, err := db.Find[models.ExpenseReport](ctx, s.store, db.TableExpenseReports, report.ID)
			if err != nil || !ok {
				return report, err
			}
			_, err = s.store.Put(ctx, db.TableExpenseReports, report)
			return report, err
		},
	})
}
