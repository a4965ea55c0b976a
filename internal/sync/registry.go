package sync

import (
	"github.com/gridops/fieldsync/internal/db"
	"github.com/gridops/fieldsync/internal/models"
	"github.com/gridops/fieldsync/internal/services"
)

// Target is where an entity type lives locally and remotely.
type Target struct {
	Table      db.Table
	Collection string
}

// Photos are absent: their queue items are settled by the photo pipeline.
var targets = map[models.EntityType]Target{
	models.EntityTicket:        {db.TableTickets, services.TicketsCollection},
	models.EntityTimeEntry:     {db.TableTimeEntries, services.TimeEntriesCollection},
	models.EntityExpenseReport: {db.TableExpenseReports, services.ExpenseReportsCollection},
	models.EntityExpenseItem:   {db.TableExpenseItems, services.ExpenseItemsCollection},
	models.EntityAssessment:    {db.TableAssessments, services.AssessmentsCollection},
	models.EntityGPSLocation:   {db.TableGPSLocations, services.GPSLocationsCollection},
}

// TargetFor returns the replay target of entityType.
func TargetFor(entityType models.EntityType) (Target, bool) {
	t, ok := targets[entityType]
	return t, ok
}
