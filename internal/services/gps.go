package services

import (
	"context"
	"sort"
	"time"

	"github.com/gridops/fieldsync/internal/db"
	"github.com/gridops/fieldsync/internal/logging"
	"github.com/gridops/fieldsync/internal/models"
	"github.com/gridops/fieldsync/internal/uuid"
	"github.com/gridops/fieldsync/internal/validation"
)

// LogLocationInput is one GPS fix reported by the device.
type LogLocationInput struct {
	TicketID        string     `json:"ticket_id"`
	SubcontractorID string     `json:"subcontractor_id"`
	Latitude        float64    `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude       float64    `json:"longitude" validate:"gte=-180,lte=180"`
	Accuracy        float64    `json:"accuracy" validate:"gte=0"`
	Altitude        *float64   `json:"altitude"`
	Heading         *float64   `json:"heading"`
	Speed           *float64   `json:"speed"`
	Timestamp       *time.Time `json:"timestamp"`
}

var logLocationMessages = validation.Messages{
	"latitude":  "Latitude must be between -90 and 90.",
	"longitude": "Longitude must be between -180 and 180.",
	"accuracy":  "Accuracy cannot be negative.",
}

// GPSService records location breadcrumbs. Locations are always written locally and replayed
// by the drain.
type GPSService struct {
	base
}

// NewGPSService creates a GPSService.
func NewGPSService(deps Deps) *GPSService {
	return &GPSService{base: newBase(deps)}
}

// LogLocation stores a location and queues it for upload.
func (s *GPSService) LogLocation(ctx context.Context, in LogLocationInput) (models.GPSLocation, error) {
	if err := validation.Struct(in, logLocationMessages); err != nil {
		return models.GPSLocation{}, err
	}
	now := s.now()
	ts := now
	if in.Timestamp != nil {
		ts = in.Timestamp.UTC()
	}
	loc := models.GPSLocation{
		ID:              uuid.New(),
		TicketID:        in.TicketID,
		SubcontractorID: in.SubcontractorID,
		Latitude:        in.Latitude,
		Longitude:       in.Longitude,
		Accuracy:        in.Accuracy,
		Altitude:        in.Altitude,
		Heading:         in.Heading,
		Speed:           in.Speed,
		Timestamp:       ts,
		SyncState:       models.PendingState("", now),
	}
	if _, err := s.saveAndEnqueue(ctx, db.TableGPSLocations, loc, models.OperationCreate, models.EntityGPSLocation, loc); err != nil {
		return models.GPSLocation{}, err
	}
	logging.Debug("GPS location logged", map[string]interface{}{
		"id":        loc.ID,
		"ticket_id": loc.TicketID,
	})
	return loc, nil
}

// ListUnsynced returns locations not yet on the backend, oldest first.
func (s *GPSService) ListUnsynced(ctx context.Context) ([]models.GPSLocation, error) {
	out, err := db.QueryAs[models.GPSLocation](ctx, s.store, db.TableGPSLocations, "synced", false)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}
