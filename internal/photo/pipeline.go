package photo

import (
	"context"
	"sort"
	"time"

	"github.com/gridops/fieldsync/internal/db"
	apperrors "github.com/gridops/fieldsync/internal/errors"
	"github.com/gridops/fieldsync/internal/logging"
	"github.com/gridops/fieldsync/internal/models"
	"github.com/gridops/fieldsync/internal/objectstore"
	"github.com/gridops/fieldsync/internal/remote"
	"github.com/gridops/fieldsync/internal/sync/queue"
	"github.com/gridops/fieldsync/internal/sync/storage"
	"github.com/gridops/fieldsync/internal/uuid"
)

// MediaAssetsCollection is the remote collection photo metadata is written to.
const MediaAssetsCollection = "media_assets"

// Config holds the pipeline settings.
type Config struct {
	// OwnerID is the first storage path segment, normally the subcontractor or device owner.
	OwnerID               string
	MaxSizeMB             int
	RequireGPS            bool
	ThumbnailMaxDimension int
	ThumbnailQuality      int
}

// Pipeline captures photos into the local store and uploads them when online.
type Pipeline struct {
	store    db.Session
	blobs    *storage.BlobStore
	queue    *queue.Queue
	objects  objectstore.Store
	assets   remote.Inserter
	isOnline func() bool
	now      func() time.Time
	cfg      Config
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Store    db.Session
	Blobs    *storage.BlobStore
	Queue    *queue.Queue
	Objects  objectstore.Store
	Assets   remote.Inserter
	IsOnline func() bool
	Now      func() time.Time
}

// New creates a Pipeline.
func New(deps Deps, cfg Config) *Pipeline {
	if deps.IsOnline == nil {
		deps.IsOnline = func() bool { return true }
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Queue == nil {
		deps.Queue = queue.New(deps.Store, queue.WithClock(deps.Now))
	}
	return &Pipeline{
		store:    deps.Store,
		blobs:    deps.Blobs,
		queue:    deps.Queue,
		objects:  deps.Objects,
		assets:   deps.Assets,
		isOnline: deps.IsOnline,
		now:      deps.Now,
		cfg:      cfg,
	}
}

// CaptureInput is a photo handed over by the capture screen.
type CaptureInput struct {
	Data       []byte
	Type       models.PhotoType
	EntityType models.EntityType
	EntityID   string
	TicketID   string
	Latitude   *float64
	Longitude  *float64
	CapturedAt *time.Time
}

// CaptureResult is the stored photo plus advisory warnings.
type CaptureResult struct {
	Photo       models.LocalPhoto
	Warnings    []string
	QueueItemID string
}

// Capture validates, deduplicates and stores a photo, then queues it for upload.
// Duplicates are flagged, never rejected.
func (p *Pipeline) Capture(ctx context.Context, in CaptureInput) (CaptureResult, error) {
	check := Validate(in.Data, in.Latitude, in.Longitude, ValidateOptions{
		MaxSizeMB:  p.cfg.MaxSizeMB,
		RequireGPS: p.cfg.RequireGPS,
	})
	if !check.Valid() {
		return CaptureResult{}, apperrors.Validation(check.Errors[0])
	}

	photoType := in.Type
	if !photoType.Valid() {
		photoType = models.PhotoContext
	}
	entityType := in.EntityType
	if entityType == "" {
		entityType = models.EntityTicket
	}
	ticketID := in.TicketID
	if ticketID == "" && entityType == models.EntityTicket {
		ticketID = in.EntityID
	}

	checksum := storage.Checksum(in.Data)
	duplicateOf, err := p.findByChecksum(ctx, checksum)
	if err != nil {
		return CaptureResult{}, err
	}

	thumb := GenerateThumbnail(in.Data, check.ContentType, p.cfg.ThumbnailMaxDimension, p.cfg.ThumbnailQuality)

	if _, err := p.blobs.Put(in.Data); err != nil {
		return CaptureResult{}, apperrors.LocalStorage("store photo blob", err)
	}
	previewChecksum, err := p.blobs.Put(thumb.Data)
	if err != nil {
		return CaptureResult{}, apperrors.LocalStorage("store photo preview", err)
	}

	now := p.now().UTC()
	photo := models.LocalPhoto{
		ID:              uuid.New(),
		Checksum:        checksum,
		PreviewChecksum: previewChecksum,
		ContentType:     check.ContentType,
		Extension:       ExtensionFor(check.ContentType),
		SizeBytes:       int64(len(in.Data)),
		Type:            photoType,
		EntityType:      entityType,
		EntityID:        in.EntityID,
		TicketID:        ticketID,
		Latitude:        in.Latitude,
		Longitude:       in.Longitude,
		CapturedAt:      in.CapturedAt,
		UploadStatus:    models.UploadPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	result := CaptureResult{}
	if duplicateOf != "" {
		photo.IsDuplicate = true
		photo.DuplicateOfPhotoID = duplicateOf
		result.Warnings = append(result.Warnings, msgDuplicate)
	}

	err = p.store.Transaction(ctx, []db.Table{db.TablePhotos, db.TableSyncQueue}, func(tx db.Session) error {
		if _, err := tx.Put(ctx, db.TablePhotos, photo); err != nil {
			return err
		}
		id, err := p.queue.With(tx).Enqueue(ctx, models.OperationCreate, models.EntityPhoto, photo.ID, photo)
		result.QueueItemID = id
		return err
	})
	if err != nil {
		return CaptureResult{}, err
	}
	result.Photo = photo

	logging.Info("[Photo] Captured", map[string]interface{}{
		"photo_id":     photo.ID,
		"entity_id":    photo.EntityID,
		"type":         string(photo.Type),
		"size":         Describe(photo.ContentType, photo.SizeBytes),
		"preview":      thumb.String(),
		"is_duplicate": photo.IsDuplicate,
	})
	return result, nil
}

// findByChecksum returns the id of the earliest stored photo with checksum, or "".
func (p *Pipeline) findByChecksum(ctx context.Context, checksum string) (string, error) {
	matches, err := db.QueryAs[models.LocalPhoto](ctx, p.store, db.TablePhotos, "checksum", checksum)
	if err != nil || len(matches) == 0 {
		return "", err
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})
	return matches[0].ID, nil
}

// Get returns a stored photo.
func (p *Pipeline) Get(ctx context.Context, id string) (models.LocalPhoto, error) {
	return db.Get[models.LocalPhoto](ctx, p.store, db.TablePhotos, id)
}

// ListForEntity returns the photos attached to an entity, oldest first.
func (p *Pipeline) ListForEntity(ctx context.Context, entityType models.EntityType, entityID string) ([]models.LocalPhoto, error) {
	photos, err := db.QueryAs[models.LocalPhoto](ctx, p.store, db.TablePhotos, "entity_type+entity_id", entityType, entityID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(photos, func(i, j int) bool {
		return photos[i].CreatedAt.Before(photos[j].CreatedAt)
	})
	return photos, nil
}

// ListPending returns photos waiting for upload, including failed ones, oldest first.
func (p *Pipeline) ListPending(ctx context.Context) ([]models.LocalPhoto, error) {
	var photos []models.LocalPhoto
	for _, status := range []models.UploadStatus{models.UploadPending, models.UploadFailed} {
		batch, err := db.QueryAs[models.LocalPhoto](ctx, p.store, db.TablePhotos, "upload_status", status)
		if err != nil {
			return nil, err
		}
		photos = append(photos, batch...)
	}
	sort.SliceStable(photos, func(i, j int) bool {
		return photos[i].CreatedAt.Before(photos[j].CreatedAt)
	})
	return photos, nil
}

// PendingCount returns the number of photos waiting for upload.
func (p *Pipeline) PendingCount(ctx context.Context) (int, error) {
	total := 0
	for _, status := range []models.UploadStatus{models.UploadPending, models.UploadFailed} {
		n, err := p.store.Count(ctx, db.TablePhotos, "upload_status", status)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// Blob returns the original bytes of a photo.
func (p *Pipeline) Blob(ctx context.Context, id string) ([]byte, error) {
	photo, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := p.blobs.Get(photo.Checksum)
	if err != nil {
		return nil, apperrors.LocalStorage("read photo blob", err)
	}
	return data, nil
}

// Preview returns the thumbnail bytes of a photo.
func (p *Pipeline) Preview(ctx context.Context, id string) ([]byte, error) {
	photo, err := p.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := p.blobs.Get(photo.PreviewChecksum)
	if err != nil {
		return nil, apperrors.LocalStorage("read photo preview", err)
	}
	return data, nil
}
