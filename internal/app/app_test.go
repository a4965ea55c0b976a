package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridops/fieldsync/internal/config"
	apperrors "github.com/gridops/fieldsync/internal/errors"
	"github.com/gridops/fieldsync/internal/models"
	"github.com/gridops/fieldsync/internal/objectstore"
	"github.com/gridops/fieldsync/internal/remote"
	"github.com/gridops/fieldsync/internal/services"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	l, err := config.NewLoader("", t.TempDir())
	require.NoError(t, err)
	cfg, err := l.Load()
	require.NoError(t, err)

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

// TestNew tests the defaults wiring to in-memory backends.
func TestNew(t *testing.T) {
	a := newTestApp(t)

	assert.IsType(t, &remote.MemoryBackend{}, a.Backend)
	assert.IsType(t, &objectstore.MemoryStore{}, a.Objects)
	assert.True(t, a.Monitor.Online())
	assert.True(t, a.Scheduler.IsOnline())
	assert.Equal(t, "memory://assessment-photos/x.jpg", a.Objects.PublicURL("x.jpg"))
}

// TestNew_RecoversProcessing tests that interrupted items are requeued on startup.
func TestNew_RecoversProcessing(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)

	id, err := a.Queue.Enqueue(ctx, models.OperationCreate, models.EntityGPSLocation, "g-1", nil)
	require.NoError(t, err)
	require.NoError(t, a.Queue.MarkProcessing(ctx, id))
	require.NoError(t, a.Store.Close())

	b, err := New(ctx, a.Config)
	require.NoError(t, err)
	defer b.Close()

	item, err := b.Queue.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusPending, item.Status)
}

// TestOfflineWriteThenDrain tests a queued write reaching the backend once back online.
func TestOfflineWriteThenDrain(t *testing.T) {
	ctx := context.Background()
	a := newTestApp(t)
	a.Config.Sync.DrainOnReconnect = false
	a.ApplyConfig(a.Config)

	a.Monitor.Set(false)
	assert.False(t, a.Scheduler.IsOnline())

	loc, err := a.GPS.LogLocation(ctx, services.LogLocationInput{TicketID: "t-1", Latitude: 30.1, Longitude: -97.7})
	require.NoError(t, err)

	result, err := a.Scheduler.SyncNow(ctx)
	require.NoError(t, err)
	assert.True(t, result.Offline)

	a.Monitor.Set(true)
	result, err = a.Scheduler.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Synced)

	_, ok := a.Backend.(*remote.MemoryBackend).Row(services.GPSLocationsCollection, loc.ID)
	assert.True(t, ok)

	st, err := a.Scheduler.GetStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.PendingItems)
	assert.Equal(t, 1, st.QueueStats["synced"])
}

// TestAcquireLock tests that the drain lock is exclusive.
func TestAcquireLock(t *testing.T) {
	a := newTestApp(t)

	unlock, err := a.AcquireLock()
	require.NoError(t, err)

	_, err = a.AcquireLock()
	assert.ErrorContains(t, err, "another drain is in progress")

	unlock()
	unlock2, err := a.AcquireLock()
	require.NoError(t, err)
	unlock2()
}

// TestSyncNow_Locked tests that a drain is refused while another holder has the lock.
func TestSyncNow_Locked(t *testing.T) {
	a := newTestApp(t)

	unlock, err := a.AcquireLock()
	require.NoError(t, err)

	_, err = a.Scheduler.SyncNow(context.Background())
	assert.True(t, apperrors.Is(err, apperrors.ErrSyncInProgress))

	unlock()
	result, err := a.Scheduler.SyncNow(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Attempted)
}

// TestSchedulerConfig tests the mapping of sync settings.
func TestSchedulerConfig(t *testing.T) {
	cfg := &config.Config{Sync: config.SyncConfig{
		AutoDrain: true, DrainInterval: time.Minute, PhotoInterval: 2 * time.Minute,
	}}
	sc := SchedulerConfig(cfg)
	assert.True(t, sc.AutoDrain)
	assert.False(t, sc.DrainOnReconnect)
	assert.Equal(t, time.Minute, sc.DrainInterval)
}
