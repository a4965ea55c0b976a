package db

import "strings"

// Table names a logical table of the local store.
type Table string

const (
	TableTickets        Table = "tickets"
	TableTimeEntries    Table = "time_entries"
	TableExpenseReports Table = "expense_reports"
	TableExpenseItems   Table = "expense_items"
	TableAssessments    Table = "assessments"
	TablePhotos         Table = "photos"
	TableSyncQueue      Table = "sync_queue"
	TableSyncConflicts  Table = "sync_conflicts"
	TableGPSLocations   Table = "gps_locations"
)

// schema lists the declared indexes of every table. Compound indexes join fields with "+".
// It must agree with migrations/V1__local_store.up.sql.
var schema = map[Table][]string{
	TableTickets:        {"status", "assigned_to", "assigned_to+status", "sync_status", "updated_at"},
	TableTimeEntries:    {"subcontractor_id", "ticket_id", "status", "sync_status", "subcontractor_id+sync_status"},
	TableExpenseReports: {"subcontractor_id", "status"},
	TableExpenseItems:   {"expense_report_id", "synced"},
	TableAssessments:    {"ticket_id", "subcontractor_id", "sync_status"},
	TablePhotos:         {"checksum", "upload_status", "entity_type+entity_id"},
	TableSyncQueue:      {"status", "entity_type+entity_id", "operation"},
	TableSyncConflicts:  {"resolved", "entity_type+entity_id", "sync_queue_item_id"},
	TableGPSLocations:   {"ticket_id", "synced"},
}

// Tables returns every declared table.
func Tables() []Table {
	return []Table{
		TableTickets, TableTimeEntries, TableExpenseReports, TableExpenseItems,
		TableAssessments, TablePhotos, TableSyncQueue, TableSyncConflicts, TableGPSLocations,
	}
}

// Valid reports whether t is a declared table.
func (t Table) Valid() bool {
	_, ok := schema[t]
	return ok
}

// Indexes returns the declared indexes of t.
func (t Table) Indexes() []string {
	return append([]string(nil), schema[t]...)
}

// indexFields splits a declared index into its fields, or returns nil when t has no such index.
func (t Table) indexFields(index string) []string {
	for _, declared := range schema[t] {
		if declared == index {
			return strings.Split(index, "+")
		}
	}
	return nil
}

// IndexName returns the SQLite index name backing a logical index.
func (t Table) IndexName(index string) string {
	return "idx_" + string(t) + "_" + strings.ReplaceAll(index, "+", "_")
}
