package photo

import (
	"context"
	"errors"

	"github.com/gridops/fieldsync/internal/db"
	apperrors "github.com/gridops/fieldsync/internal/errors"
	"github.com/gridops/fieldsync/internal/logging"
	"github.com/gridops/fieldsync/internal/models"
	"github.com/gridops/fieldsync/internal/uuid"
)

const (
	// DefaultUploadError is recorded when an upload fails without a message.
	DefaultUploadError = "Upload failed"
	msgStorageFailed   = "Unable to upload photo assets."
)

// ProcessError is one failed photo in a Process pass.
type ProcessError struct {
	PhotoID string `json:"photo_id"`
	Message string `json:"message"`
}

// ProcessResult summarizes a Process pass.
type ProcessResult struct {
	Processed int            `json:"processed"`
	Uploaded  int            `json:"uploaded"`
	Failed    int            `json:"failed"`
	Errors    []ProcessError `json:"errors"`
}

// UploadResult holds the stored locations of a photo.
type UploadResult struct {
	StoragePath   string
	ThumbnailPath string
	PublicURL     string
	ThumbnailURL  string
}

// Process uploads every pending or failed photo. It does nothing while offline.
// Callers must not run two passes concurrently.
func (p *Pipeline) Process(ctx context.Context) (ProcessResult, error) {
	result := ProcessResult{Errors: []ProcessError{}}
	if !p.isOnline() {
		return result, nil
	}

	pending, err := p.ListPending(ctx)
	if err != nil {
		return result, err
	}

	for _, photo := range pending {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Processed++

		uploaded, err := p.UploadAsset(ctx, photo)
		if err != nil {
			if apperrors.IsLocalStorage(err) {
				return result, err
			}
			msg := uploadMessage(err)
			if markErr := p.MarkUploadFailed(ctx, photo.ID, msg); markErr != nil {
				return result, markErr
			}
			result.Failed++
			result.Errors = append(result.Errors, ProcessError{PhotoID: photo.ID, Message: msg})
			continue
		}

		if err := p.markUploaded(ctx, photo.ID, &uploaded); err != nil {
			return result, err
		}
		result.Uploaded++
	}

	logging.Info("[Photo] Upload pass completed", map[string]interface{}{
		"processed": result.Processed,
		"uploaded":  result.Uploaded,
		"failed":    result.Failed,
	})
	return result, nil
}

// UploadAsset stores the original and the thumbnail of photo and writes its metadata record.
func (p *Pipeline) UploadAsset(ctx context.Context, photo models.LocalPhoto) (UploadResult, error) {
	original, err := p.blobs.Get(photo.Checksum)
	if err != nil {
		return UploadResult{}, apperrors.LocalStorage("read photo blob", err)
	}
	preview := original
	if photo.PreviewChecksum != "" {
		if preview, err = p.blobs.Get(photo.PreviewChecksum); err != nil {
			return UploadResult{}, apperrors.LocalStorage("read photo preview", err)
		}
	}

	ext := photo.Extension
	if ext == "" {
		ext = ExtensionFor(photo.ContentType)
	}
	ticket := photo.TicketID
	if ticket == "" {
		ticket = photo.EntityID
	}
	previewType := "image/jpeg"
	previewExt := "jpg"
	if photo.PreviewChecksum == "" || photo.PreviewChecksum == photo.Checksum {
		previewType, previewExt = photo.ContentType, ext
	}

	res := UploadResult{
		StoragePath:   StoragePath(p.cfg.OwnerID, ticket, photo.ID, VariantOriginal, ext),
		ThumbnailPath: StoragePath(p.cfg.OwnerID, ticket, photo.ID, VariantThumbnail, previewExt),
	}

	if err := p.objects.Upload(ctx, res.StoragePath, original, photo.ContentType); err != nil {
		return UploadResult{}, apperrors.Wrap(apperrors.ErrUploadFailed, msgStorageFailed, err)
	}
	if err := p.objects.Upload(ctx, res.ThumbnailPath, preview, previewType); err != nil {
		return UploadResult{}, apperrors.Wrap(apperrors.ErrUploadFailed, msgStorageFailed, err)
	}
	res.PublicURL = p.objects.PublicURL(res.StoragePath)
	res.ThumbnailURL = p.objects.PublicURL(res.ThumbnailPath)

	asset := models.MediaAsset{
		ID:            uuid.New(),
		OwnerID:       p.cfg.OwnerID,
		TicketID:      photo.TicketID,
		EntityType:    photo.EntityType,
		EntityID:      photo.EntityID,
		PhotoType:     photo.Type,
		ContentType:   photo.ContentType,
		SizeBytes:     photo.SizeBytes,
		Checksum:      photo.Checksum,
		StoragePath:   res.StoragePath,
		ThumbnailPath: res.ThumbnailPath,
		PublicURL:     res.PublicURL,
		ThumbnailURL:  res.ThumbnailURL,
		Latitude:      photo.Latitude,
		Longitude:     photo.Longitude,
		CapturedAt:    photo.CapturedAt,
		IsDuplicate:   photo.IsDuplicate,
		CreatedAt:     p.now().UTC(),
	}
	if _, err := p.assets.Insert(ctx, MediaAssetsCollection, asset); err != nil {
		return UploadResult{}, apperrors.Remote("insert media asset", err)
	}
	return res, nil
}

// MarkUploaded records a completed upload and marks the latest queue item for the photo synced.
func (p *Pipeline) MarkUploaded(ctx context.Context, id string) error {
	return p.markUploaded(ctx, id, nil)
}

func (p *Pipeline) markUploaded(ctx context.Context, id string, res *UploadResult) error {
	return p.store.Transaction(ctx, []db.Table{db.TablePhotos, db.TableSyncQueue}, func(tx db.Session) error {
		photo, err := db.Get[models.LocalPhoto](ctx, tx, db.TablePhotos, id)
		if err != nil {
			return err
		}
		photo.Uploaded = true
		photo.UploadStatus = models.UploadUploaded
		photo.RetryCount = 0
		photo.LastError = ""
		photo.UpdatedAt = p.now().UTC()
		if res != nil {
			photo.OriginalPath = res.StoragePath
			photo.ThumbnailPath = res.ThumbnailPath
			photo.OriginalURL = res.PublicURL
			photo.ThumbnailURL = res.ThumbnailURL
		}
		if _, err := tx.Put(ctx, db.TablePhotos, photo); err != nil {
			return err
		}

		q := p.queue.With(tx)
		item, ok, err := q.LatestForEntity(ctx, models.EntityPhoto, id)
		if err != nil || !ok {
			return err
		}
		return q.MarkSynced(ctx, item.ID)
	})
}

// MarkUploadFailed records a failed upload: the photo's retry count grows by one and the latest
// queue item for the photo is marked failed with the same message. A missing photo is ignored.
func (p *Pipeline) MarkUploadFailed(ctx context.Context, id, message string) error {
	if message == "" {
		message = DefaultUploadError
	}
	err := p.store.Transaction(ctx, []db.Table{db.TablePhotos, db.TableSyncQueue}, func(tx db.Session) error {
		photo, found, err := db.Find[models.LocalPhoto](ctx, tx, db.TablePhotos, id)
		if err != nil || !found {
			return err
		}
		photo.Uploaded = false
		photo.UploadStatus = models.UploadFailed
		photo.RetryCount++
		photo.LastError = message
		photo.UpdatedAt = p.now().UTC()
		if _, err := tx.Put(ctx, db.TablePhotos, photo); err != nil {
			return err
		}

		q := p.queue.With(tx)
		item, ok, err := q.LatestForEntity(ctx, models.EntityPhoto, id)
		if err != nil || !ok {
			return err
		}
		return q.MarkFailed(ctx, item.ID, message)
	})
	if err != nil {
		return err
	}

	logging.Warn("[Photo] Upload failed", map[string]interface{}{
		"photo_id": id,
		"error":    message,
	})
	return nil
}

// uploadMessage returns the text recorded for a failed upload.
func uploadMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if appErr.Code == apperrors.ErrUploadFailed {
			return appErr.Message
		}
		if appErr.Err != nil {
			return appErr.Err.Error()
		}
		return appErr.Message
	}
	if err == nil || err.Error() == "" {
		return DefaultUploadError
	}
	return err.Error()
}
