// Package app assembles the local store, sync engine, photo pipeline and domain services
// from a loaded configuration. The CLI and the daemon share it.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/gridops/fieldsync/internal/config"
	"github.com/gridops/fieldsync/internal/db"
	apperrors "github.com/gridops/fieldsync/internal/errors"
	"github.com/gridops/fieldsync/internal/logging"
	"github.com/gridops/fieldsync/internal/objectstore"
	"github.com/gridops/fieldsync/internal/photo"
	"github.com/gridops/fieldsync/internal/remote"
	"github.com/gridops/fieldsync/internal/services"
	syncpkg "github.com/gridops/fieldsync/internal/sync"
	"github.com/gridops/fieldsync/internal/sync/conflict"
	"github.com/gridops/fieldsync/internal/sync/connectivity"
	"github.com/gridops/fieldsync/internal/sync/queue"
	"github.com/gridops/fieldsync/internal/sync/scheduler"
	"github.com/gridops/fieldsync/internal/sync/storage"
)

// Lock files serialize drains and photo passes across processes sharing a data directory.
const (
	drainLockFile = ".drain.lock"
	photoLockFile = ".photos.lock"
)

// App holds every long-lived component.
type App struct {
	Config    *config.Config
	Store     *db.Store
	Queue     *queue.Queue
	Ledger    *conflict.Ledger
	Backend   remote.Backend
	Objects   objectstore.Store
	Monitor   *connectivity.Monitor
	Engine    *syncpkg.Engine
	Photos    *photo.Pipeline
	Scheduler *scheduler.Scheduler

	Tickets     *services.TicketService
	TimeEntries *services.TimeEntryService
	Expenses    *services.ExpenseService
	Assessments *services.AssessmentService
	GPS         *services.GPSService
}

// ConfigureLogging installs the global logger described by cfg.
func ConfigureLogging(cfg config.LogConfig) *logging.Logger {
	return logging.Configure(logging.Options{
		Level:      logging.ParseLevel(cfg.Level),
		Format:     cfg.Format,
		File:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
	})
}

// SchedulerConfig maps the sync settings onto the scheduler.
func SchedulerConfig(cfg *config.Config) scheduler.SchedulerConfig {
	return scheduler.SchedulerConfig{
		AutoDrain:        cfg.Sync.AutoDrain,
		DrainInterval:    cfg.Sync.DrainInterval,
		PhotoInterval:    cfg.Sync.PhotoInterval,
		DrainOnReconnect: cfg.Sync.DrainOnReconnect,
	}
}

// New opens the data directory and wires the components. Queue items left in processing by
// an interrupted run are returned to pending.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	store, err := db.OpenStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Store: store}
	if err := a.wire(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config

	a.Queue = queue.New(a.Store, queue.WithBackoff(cfg.Sync.BackoffBase, cfg.Sync.BackoffMax))
	a.Ledger = conflict.New(a.Store, a.Queue)
	if n, err := a.Queue.RecoverProcessing(ctx); err != nil {
		return fmt.Errorf("recover queue: %w", err)
	} else if n > 0 {
		logging.Warn("Recovered interrupted queue items", map[string]interface{}{"count": n})
	}

	a.Backend = newBackend(cfg.Remote)
	objects, err := newObjectStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	a.Objects = objects

	a.Monitor = connectivity.New(connectivity.Options{
		ProbeURL: cfg.Sync.ProbeURL,
		Interval: cfg.Sync.ProbeInterval,
		Timeout:  cfg.Remote.Timeout,
		Initial:  cfg.Sync.ProbeURL == "",
	})

	a.Photos = photo.New(photo.Deps{
		Store:    a.Store,
		Blobs:    storage.NewBlobStore(filepath.Join(cfg.DataDir, "blobs")),
		Queue:    a.Queue,
		Objects:  a.Objects,
		Assets:   a.Backend,
		IsOnline: a.Monitor.Online,
	}, photo.Config{
		OwnerID:               ownerID(cfg.Device),
		MaxSizeMB:             cfg.Photo.MaxSizeMB,
		RequireGPS:            cfg.Photo.RequireGPS,
		ThumbnailMaxDimension: cfg.Photo.ThumbnailMaxDimension,
		ThumbnailQuality:      cfg.Photo.ThumbnailQuality,
	})

	a.Engine = syncpkg.NewEngine(syncpkg.Deps{
		Store:    a.Store,
		Queue:    a.Queue,
		Ledger:   a.Ledger,
		Backend:  a.Backend,
		IsOnline: a.Monitor.Online,
	}, cfg.Sync.MaxRetries)

	a.Scheduler = scheduler.NewScheduler(
		exclusiveEngine{Engine: a.Engine, lock: a.AcquireLock},
		exclusivePhotos{Pipeline: a.Photos, lock: a.acquirePhotoLock},
		a.Queue, SchedulerConfig(cfg))
	a.Scheduler.SetOnlineStatus(a.Monitor.Online())
	a.Monitor.OnChange(a.Scheduler.SetOnlineStatus)

	deps := services.Deps{Store: a.Store, Queue: a.Queue, IsOnline: a.Monitor.Online}
	a.Tickets = services.NewTicketService(deps, a.Backend)
	a.TimeEntries = services.NewTimeEntryService(deps, a.Backend, cfg.Time.MaxEntryHours)
	a.Expenses = services.NewExpenseService(deps, a.Backend, services.ExpenseRules{
		MileageRate:          cfg.Expense.MileageRate,
		ReceiptThreshold:     cfg.Expense.ReceiptRequiredThreshold,
		AutoApproveThreshold: cfg.Expense.AutoApproveThreshold,
	})
	a.Assessments = services.NewAssessmentService(deps, a.Backend)
	a.GPS = services.NewGPSService(deps)
	return nil
}

func newBackend(cfg config.RemoteConfig) remote.Backend {
	if cfg.BaseURL == "" {
		logging.Warn("No remote.base_url configured, using an in-memory backend", nil)
		return remote.NewMemoryBackend()
	}
	return remote.NewHTTPBackend(remote.HTTPConfig{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Timeout: cfg.Timeout,
	})
}

func newObjectStore(ctx context.Context, cfg config.StorageConfig) (objectstore.Store, error) {
	if cfg.Provider == "" {
		base := cfg.PublicBaseURL
		if base == "" {
			base = "memory://" + cfg.Bucket
		}
		return objectstore.NewMemoryStore(base), nil
	}
	s, err := objectstore.NewS3Store(ctx, objectstore.S3Config{
		Provider:       objectstore.Provider(cfg.Provider),
		Bucket:         cfg.Bucket,
		Region:         cfg.Region,
		Endpoint:       cfg.Endpoint,
		AccessKey:      cfg.AccessKey,
		SecretKey:      cfg.SecretKey,
		AccountID:      cfg.AccountID,
		UseSSL:         cfg.UseSSL,
		ForcePathStyle: objectstore.Provider(cfg.Provider) == objectstore.ProviderMinIO,
		PublicBaseURL:  cfg.PublicBaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("object store: %w", err)
	}
	return s, nil
}

func ownerID(d config.DeviceConfig) string {
	switch {
	case d.OwnerID != "":
		return d.OwnerID
	case d.ID != "":
		return d.ID
	default:
		return "device"
	}
}

// ApplyConfig applies the settings that can change while running.
func (a *App) ApplyConfig(cfg *config.Config) {
	a.Scheduler.Reconfigure(SchedulerConfig(cfg))
	logging.Get().SetLevel(logging.ParseLevel(cfg.Log.Level))
}

// AcquireLock takes the cross-process drain lock without waiting. The returned func releases it.
func (a *App) AcquireLock() (func(), error) {
	return a.tryLock(drainLockFile, "drain")
}

func (a *App) acquirePhotoLock() (func(), error) {
	return a.tryLock(photoLockFile, "photo upload")
}

func (a *App) tryLock(name, what string) (func(), error) {
	lock := flock.New(filepath.Join(a.Config.DataDir, name))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring %s lock: %w", what, err)
	}
	if !locked {
		return nil, apperrors.New(apperrors.ErrSyncInProgress, fmt.Sprintf("another %s is in progress", what))
	}
	return func() { _ = lock.Unlock() }, nil
}

// exclusiveEngine holds the drain lock for the length of each drain.
type exclusiveEngine struct {
	*syncpkg.Engine
	lock func() (func(), error)
}

func (e exclusiveEngine) Drain(ctx context.Context) (*syncpkg.SyncResult, error) {
	unlock, err := e.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	return e.Engine.Drain(ctx)
}

// exclusivePhotos holds the photo lock for the length of each upload pass.
type exclusivePhotos struct {
	*photo.Pipeline
	lock func() (func(), error)
}

func (p exclusivePhotos) Process(ctx context.Context) (photo.ProcessResult, error) {
	unlock, err := p.lock()
	if err != nil {
		return photo.ProcessResult{}, err
	}
	defer unlock()
	return p.Pipeline.Process(ctx)
}

// Close stops background work and closes the store.
func (a *App) Close() error {
	a.Scheduler.Stop()
	return a.Store.Close()
}
