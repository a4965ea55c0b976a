// Package scheduler runs the background drain and photo upload loops.
package scheduler

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/gridops/fieldsync/internal/errors"
	"github.com/gridops/fieldsync/internal/logging"
	"github.com/gridops/fieldsync/internal/photo"
	syncpkg "github.com/gridops/fieldsync/internal/sync"
	"github.com/gridops/fieldsync/internal/sync/queue"
)

// drainTimeout bounds one scheduled drain or photo pass.
const drainTimeout = 5 * time.Minute

// PhotoProcessor uploads pending photos.
type PhotoProcessor interface {
	Process(ctx context.Context) (photo.ProcessResult, error)
	PendingCount(ctx context.Context) (int, error)
}

// Scheduler manages background sync operations.
type Scheduler struct {
	engine syncpkg.DrainEngine
	photos PhotoProcessor
	queue  *queue.Queue

	stopCh chan struct{}
	wg     sync.WaitGroup
	runs   sync.WaitGroup // triggered drains and photo passes

	mu               sync.RWMutex
	cfg              SchedulerConfig
	baseCtx          context.Context
	handler          syncpkg.SyncEventHandler
	isRunning        bool
	isOnline         bool
	lastSyncTime     time.Time
	lastPhotoResult  *photo.ProcessResult
	syncInProgress   bool
	photosInProgress bool
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	AutoDrain        bool          // drain on DrainInterval; manual triggers work either way
	DrainInterval    time.Duration // default 5 minutes
	PhotoInterval    time.Duration // default 2 minutes
	DrainOnReconnect bool          // drain and upload photos when connectivity returns
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		AutoDrain:        true,
		DrainInterval:    5 * time.Minute,
		PhotoInterval:    2 * time.Minute,
		DrainOnReconnect: true,
	}
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	def := DefaultSchedulerConfig()
	if c.DrainInterval <= 0 {
		c.DrainInterval = def.DrainInterval
	}
	if c.PhotoInterval <= 0 {
		c.PhotoInterval = def.PhotoInterval
	}
	return c
}

// NewScheduler creates a Scheduler. photos may be nil when photo upload runs elsewhere.
func NewScheduler(engine syncpkg.DrainEngine, photos PhotoProcessor, q *queue.Queue, cfg SchedulerConfig) *Scheduler {
	return &Scheduler{
		engine:   engine,
		photos:   photos,
		queue:    q,
		cfg:      cfg.withDefaults(),
		baseCtx:  context.Background(),
		stopCh:   make(chan struct{}),
		isOnline: true,
	}
}

// SetEventHandler receives photo events. Drain events come from the engine's own handler.
func (s *Scheduler) SetEventHandler(handler syncpkg.SyncEventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// Start starts the background loops.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.baseCtx = ctx
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(2)
	go s.drainLoop(ctx, stopCh)
	go s.photoLoop(ctx, stopCh)

	logging.Info("Background sync scheduler started", map[string]interface{}{
		"auto_drain":     s.config().AutoDrain,
		"drain_interval": s.config().DrainInterval.String(),
		"photo_interval": s.config().PhotoInterval.String(),
	})
}

// Stop stops the background loops and waits for them and for any triggered drain or photo
// pass to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	running := s.isRunning
	s.isRunning = false
	stopCh := s.stopCh
	s.mu.Unlock()

	if running {
		close(stopCh)
		s.wg.Wait()
	}
	s.runs.Wait()

	if running {
		logging.Info("Background sync scheduler stopped", nil)
	}
}

// Reconfigure applies new settings. Loops pick up new intervals after their next tick.
func (s *Scheduler) Reconfigure(cfg SchedulerConfig) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
	logging.Info("Scheduler reconfigured", map[string]interface{}{
		"auto_drain":     cfg.AutoDrain,
		"drain_interval": s.config().DrainInterval.String(),
	})
}

func (s *Scheduler) config() SchedulerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// SetOnlineStatus records connectivity. Coming back online starts a drain and a photo pass
// when DrainOnReconnect is set.
func (s *Scheduler) SetOnlineStatus(isOnline bool) {
	s.mu.Lock()
	wasOnline := s.isOnline
	s.isOnline = isOnline
	ctx := s.baseCtx
	reconnect := s.cfg.DrainOnReconnect
	s.mu.Unlock()

	if wasOnline == isOnline {
		return
	}
	logging.Info("Online status changed", map[string]interface{}{
		"was_online": wasOnline,
		"is_online":  isOnline,
	})
	s.emit(syncpkg.SyncEvent{Type: syncpkg.SyncEventConnectivityChange, Online: &isOnline})

	if isOnline && reconnect {
		s.TriggerSync(ctx)
		s.TriggerPhotos(ctx)
	}
}

func (s *Scheduler) drainLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config().DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			cfg := s.config()
			ticker.Reset(cfg.DrainInterval)
			if !cfg.AutoDrain || !s.IsOnline() {
				continue
			}
			if !s.TriggerSync(ctx) {
				logging.Debug("Drain already in progress, skipping", nil)
			}
		}
	}
}

func (s *Scheduler) photoLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer s.wg.Done()
	if s.photos == nil {
		return
	}

	ticker := time.NewTicker(s.config().PhotoInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			ticker.Reset(s.config().PhotoInterval)
			if s.IsOnline() {
				s.TriggerPhotos(ctx)
			}
		}
	}
}

// begin claims a run flag and reports whether the caller may proceed.
func (s *Scheduler) begin(flag *bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if *flag {
		return false
	}
	*flag = true
	return true
}

func (s *Scheduler) end(flag *bool) {
	s.mu.Lock()
	*flag = false
	s.mu.Unlock()
}

func (s *Scheduler) runDrain(ctx context.Context) (*syncpkg.SyncResult, error) {
	defer s.end(&s.syncInProgress)

	drainCtx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()

	result, err := s.engine.Drain(drainCtx)
	if err != nil {
		return result, err
	}
	if !result.Offline {
		s.mu.Lock()
		s.lastSyncTime = result.EndTime
		s.mu.Unlock()
	}
	return result, nil
}

func (s *Scheduler) runPhotos(ctx context.Context) (photo.ProcessResult, error) {
	defer s.end(&s.photosInProgress)

	photoCtx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()

	result, err := s.photos.Process(photoCtx)
	s.mu.Lock()
	cp := result
	s.lastPhotoResult = &cp
	s.mu.Unlock()
	if err != nil {
		return result, err
	}

	if result.Uploaded > 0 {
		s.emit(syncpkg.SyncEvent{Type: syncpkg.SyncEventPhotoUploaded, Result: result})
	}
	for _, pe := range result.Errors {
		s.emit(syncpkg.SyncEvent{Type: syncpkg.SyncEventPhotoFailed, EntityID: pe.PhotoID, Message: pe.Message})
	}
	return result, nil
}

func (s *Scheduler) emit(event syncpkg.SyncEvent) {
	s.mu.RLock()
	handler := s.handler
	s.mu.RUnlock()
	if handler == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	handler.OnSyncEvent(event)
}

// TriggerSync starts a drain in the background.
// Returns true if the drain was started, false if one is already in progress.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	if !s.begin(&s.syncInProgress) {
		return false
	}
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		if _, err := s.runDrain(ctx); err != nil {
			logging.Warn("Scheduled drain failed", map[string]interface{}{"error": err.Error()})
		}
	}()
	return true
}

// TriggerPhotos starts a photo pass in the background.
// Returns false if there is no photo processor or a pass is already running.
func (s *Scheduler) TriggerPhotos(ctx context.Context) bool {
	if s.photos == nil || !s.begin(&s.photosInProgress) {
		return false
	}
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		if _, err := s.runPhotos(ctx); err != nil {
			logging.Warn("Scheduled photo upload failed", map[string]interface{}{"error": err.Error()})
		}
	}()
	return true
}

// SyncNow drains immediately and waits for the result.
func (s *Scheduler) SyncNow(ctx context.Context) (*syncpkg.SyncResult, error) {
	if !s.begin(&s.syncInProgress) {
		return nil, apperrors.New(apperrors.ErrSyncInProgress, "drain already in progress")
	}
	result, err := s.runDrain(ctx)
	if err == nil {
		logging.Info("Manual drain completed", map[string]interface{}{
			"synced":    result.Synced,
			"failed":    result.Failed,
			"conflicts": result.Conflicts,
		})
	}
	return result, err
}

// ProcessPhotosNow uploads pending photos immediately and waits for the result.
func (s *Scheduler) ProcessPhotosNow(ctx context.Context) (photo.ProcessResult, error) {
	if s.photos == nil {
		return photo.ProcessResult{Errors: []photo.ProcessError{}}, nil
	}
	if !s.begin(&s.photosInProgress) {
		return photo.ProcessResult{}, apperrors.New(apperrors.ErrSyncInProgress, "photo upload already in progress")
	}
	return s.runPhotos(ctx)
}

// SchedulerStatus is a point-in-time view of the scheduler.
type SchedulerStatus struct {
	IsRunning        bool                 `json:"is_running"`
	IsOnline         bool                 `json:"is_online"`
	AutoDrain        bool                 `json:"auto_drain"`
	LastSyncTime     *time.Time           `json:"last_sync_time,omitempty"`
	SyncInProgress   bool                 `json:"sync_in_progress"`
	PhotosInProgress bool                 `json:"photos_in_progress"`
	PendingItems     int                  `json:"pending_items"`
	PendingPhotos    int                  `json:"pending_photos"`
	QueueStats       map[string]int       `json:"queue_stats"`
	LastResult       *syncpkg.SyncResult  `json:"last_result,omitempty"`
	LastPhotoResult  *photo.ProcessResult `json:"last_photo_result,omitempty"`
}

// GetStatus returns the current status of the scheduler and the queue.
func (s *Scheduler) GetStatus(ctx context.Context) (SchedulerStatus, error) {
	s.mu.RLock()
	status := SchedulerStatus{
		IsRunning:        s.isRunning,
		IsOnline:         s.isOnline,
		AutoDrain:        s.cfg.AutoDrain,
		SyncInProgress:   s.syncInProgress,
		PhotosInProgress: s.photosInProgress,
		LastPhotoResult:  s.lastPhotoResult,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	s.mu.RUnlock()

	status.LastResult = s.engine.LastResult()

	stats, err := s.queue.Stats(ctx)
	if err != nil {
		return status, err
	}
	status.QueueStats = stats
	status.PendingItems = stats["pending"] + stats["failed"]

	if s.photos != nil {
		n, err := s.photos.PendingCount(ctx)
		if err != nil {
			return status, err
		}
		status.PendingPhotos = n
	}
	return status, nil
}

// IsOnline returns whether the scheduler is in online mode.
func (s *Scheduler) IsOnline() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isOnline
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
