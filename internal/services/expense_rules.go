package services

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gridops/fieldsync/internal/models"
)

// Policy flags attached to expense items.
const (
	FlagInvalidDate         = "INVALID_DATE"
	FlagReceiptRequired     = "RECEIPT_REQUIRED"
	FlagOverLimit           = "OVER_LIMIT"
	FlagPreApprovalRequired = "PRE_APPROVAL_REQUIRED"
	FlagDuplicateDetected   = "DUPLICATE_DETECTED"
)

// Expense rule defaults.
const (
	DefaultMileageRate          = 0.655
	DefaultReceiptThreshold     = 25.0
	DefaultAutoApproveThreshold = 75.0
)

const dateLayout = "2006-01-02"

// ExpenseRules are the reimbursement thresholds.
type ExpenseRules struct {
	MileageRate          float64
	ReceiptThreshold     float64
	AutoApproveThreshold float64
}

// DefaultExpenseRules returns the standard thresholds.
func DefaultExpenseRules() ExpenseRules {
	return ExpenseRules{
		MileageRate:          DefaultMileageRate,
		ReceiptThreshold:     DefaultReceiptThreshold,
		AutoApproveThreshold: DefaultAutoApproveThreshold,
	}
}

func (r ExpenseRules) withDefaults() ExpenseRules {
	d := DefaultExpenseRules()
	if r.MileageRate <= 0 {
		r.MileageRate = d.MileageRate
	}
	if r.ReceiptThreshold <= 0 {
		r.ReceiptThreshold = d.ReceiptThreshold
	}
	if r.AutoApproveThreshold <= 0 {
		r.AutoApproveThreshold = d.AutoApproveThreshold
	}
	return r
}

// Mileage is the outcome of an odometer calculation.
type Mileage struct {
	Valid            bool
	Total            float64
	CalculatedAmount float64
	Rate             float64
}

// CalculateMileage prices the distance between two odometer readings. Readings are valid when
// both are present and end >= start. rate <= 0 uses DefaultMileageRate.
func CalculateMileage(start, end *float64, rate float64) Mileage {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		rate = DefaultMileageRate
	}
	if start == nil || end == nil || !finite(*start) || !finite(*end) || *end < *start {
		return Mileage{Rate: rate}
	}
	total := round2(*end - *start)
	return Mileage{
		Valid:            true,
		Total:            total,
		CalculatedAmount: round2(total * rate),
		Rate:             rate,
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ParseExpenseDate accepts a calendar date or an RFC 3339 timestamp and returns the UTC
// calendar date.
func ParseExpenseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(dateLayout, value); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		t = t.UTC()
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

// NormalizeExpenseDate returns value as YYYY-MM-DD.
func NormalizeExpenseDate(value string) (string, bool) {
	t, ok := ParseExpenseDate(value)
	if !ok {
		return "", false
	}
	return t.Format(dateLayout), true
}

// MonthPeriod returns the first and last day of the month containing date.
func MonthPeriod(date time.Time) (start, end string) {
	first := time.Date(date.Year(), date.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return first.Format(dateLayout), last.Format(dateLayout)
}

var currencyPattern = regexp.MustCompile(`\$?\s*([0-9]{1,3}(?:,[0-9]{3})*(?:\.[0-9]{2})|[0-9]+(?:\.[0-9]{2}))`)

// LargestCurrencyAmount returns the largest amount with cents found in receipt text.
func LargestCurrencyAmount(text string) (float64, bool) {
	found := false
	largest := 0.0
	for _, m := range currencyPattern.FindAllStringSubmatch(text, -1) {
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil || !finite(v) {
			continue
		}
		if !found || v > largest {
			largest = v
			found = true
		}
	}
	if !found {
		return 0, false
	}
	return round2(largest), true
}

// DuplicateCandidate is an existing expense compared against a new one.
type DuplicateCandidate struct {
	Category    string
	Amount      float64
	ExpenseDate string
	Description string
}

func candidateFromItem(item models.ExpenseItem) DuplicateCandidate {
	return DuplicateCandidate{
		Category:    item.Category,
		Amount:      item.Amount,
		ExpenseDate: item.ExpenseDate,
		Description: item.Description,
	}
}

// PolicyInput is an expense checked against the reimbursement policy.
type PolicyInput struct {
	Category        string
	Amount          float64
	ExpenseDate     string
	ReceiptProvided bool
	Description     string
	Existing        []DuplicateCandidate
	OCRText         string
}

// PolicyResult lists the flags raised for an expense.
type PolicyResult struct {
	Flags            []string
	RequiresApproval bool
	ApprovalReason   string
}

type policyCollector struct {
	flags   []string
	reasons []string
}

func (c *policyCollector) add(flag, reason string) {
	if !contains(c.flags, flag) {
		c.flags = append(c.flags, flag)
	}
	if !contains(c.reasons, reason) {
		c.reasons = append(c.reasons, reason)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// CheckPolicy flags an expense. Any flag means it needs approval.
func (r ExpenseRules) CheckPolicy(in PolicyInput, now time.Time) PolicyResult {
	r = r.withDefaults()
	var c policyCollector

	date, validDate := ParseExpenseDate(in.ExpenseDate)
	if !validDate {
		c.add(FlagInvalidDate, "Expense date is invalid.")
	} else if date.After(now.Add(24 * time.Hour)) {
		c.add(FlagInvalidDate, "Expense date cannot be in the future.")
	}

	if in.Amount >= r.ReceiptThreshold && !in.ReceiptProvided {
		c.add(FlagReceiptRequired, "Receipt is required for expenses >= $"+money(r.ReceiptThreshold)+".")
	}
	if in.Amount > r.AutoApproveThreshold {
		c.add(FlagOverLimit, "Amount exceeds auto-approve threshold ($"+money(r.AutoApproveThreshold)+").")
	}

	switch in.Category {
	case models.ExpenseCategoryLodging, models.ExpenseCategoryEquipmentRental, models.ExpenseCategoryMaterials:
		c.add(FlagPreApprovalRequired, "Category requires pre-approval before reimbursement.")
	}

	if validDate && hasDuplicate(in, date.Format(dateLayout)) {
		c.add(FlagDuplicateDetected, "Potential duplicate expense detected for category/date/amount.")
	}

	if ocr, ok := LargestCurrencyAmount(in.OCRText); ok && in.Amount-ocr > 1 {
		c.add(FlagOverLimit, "Claimed amount appears higher than OCR-detected receipt total.")
	}

	flags := c.flags
	if flags == nil {
		flags = []string{}
	}
	return PolicyResult{
		Flags:            flags,
		RequiresApproval: len(c.flags) > 0,
		ApprovalReason:   strings.Join(c.reasons, " "),
	}
}

func money(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

var spaces = regexp.MustCompile(`\s+`)

func normalizeDescription(s string) string {
	return spaces.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), " ")
}

// hasDuplicate matches on date, category and amount within a cent. Descriptions must also
// match unless either side has none.
func hasDuplicate(in PolicyInput, date string) bool {
	desc := normalizeDescription(in.Description)
	for _, c := range in.Existing {
		candidateDate, ok := NormalizeExpenseDate(c.ExpenseDate)
		if !ok || candidateDate != date {
			continue
		}
		if strings.ToUpper(c.Category) != in.Category {
			continue
		}
		if !finite(c.Amount) || math.Abs(c.Amount-in.Amount) > 0.01 {
			continue
		}
		other := normalizeDescription(c.Description)
		if other == "" || desc == "" || other == desc {
			return true
		}
	}
	return false
}
