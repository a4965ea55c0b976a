package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridops/fieldsync/internal/models"
)

// TestLogLocation tests that locations are stored unsynced and queued.
func TestLogLocation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc := NewGPSService(f.deps())

	earlier := f.now.Add(-5 * time.Minute)
	second, err := svc.LogLocation(ctx, LogLocationInput{TicketID: "t-1", SubcontractorID: "sub-1", Latitude: 29.7, Longitude: -95.3, Accuracy: 8})
	require.NoError(t, err)
	first, err := svc.LogLocation(ctx, LogLocationInput{TicketID: "t-1", Latitude: 29.6, Longitude: -95.2, Timestamp: &earlier})
	require.NoError(t, err)

	assert.False(t, second.Synced)
	assert.True(t, second.Timestamp.Equal(f.now))
	assert.Zero(t, f.backend.TotalCalls())

	items := f.queueFor(t, models.EntityGPSLocation, second.ID)
	require.Len(t, items, 1)
	assert.Equal(t, models.OperationCreate, items[0].Operation)

	unsynced, err := svc.ListUnsynced(ctx)
	require.NoError(t, err)
	require.Len(t, unsynced, 2)
	assert.Equal(t, first.ID, unsynced[0].ID)
	assert.Equal(t, second.ID, unsynced[1].ID)
}

// TestLogLocation_Validation tests coordinate bounds.
func TestLogLocation_Validation(t *testing.T) {
	f := newFixture(t)
	svc := NewGPSService(f.deps())

	_, err := svc.LogLocation(context.Background(), LogLocationInput{Latitude: 91})
	assert.EqualError(t, err, "Latitude must be between -90 and 90.")

	_, err = svc.LogLocation(context.Background(), LogLocationInput{Longitude: -181})
	assert.EqualError(t, err, "Longitude must be between -180 and 180.")

	_, err = svc.LogLocation(context.Background(), LogLocationInput{Accuracy: -1})
	assert.EqualError(t, err, "Accuracy cannot be negative.")
}
