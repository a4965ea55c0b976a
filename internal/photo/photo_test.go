package photo

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridops/fieldsync/internal/db"
	apperrors "github.com/gridops/fieldsync/internal/errors"
	"github.com/gridops/fieldsync/internal/models"
	"github.com/gridops/fieldsync/internal/objectstore"
	"github.com/gridops/fieldsync/internal/remote"
	"github.com/gridops/fieldsync/internal/sync/queue"
	"github.com/gridops/fieldsync/internal/sync/storage"
)

type fixture struct {
	store    *db.Store
	objects  *objectstore.MemoryStore
	backend  *remote.MemoryBackend
	queue    *queue.Queue
	pipeline *Pipeline
	online   bool
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	store, err := db.OpenStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{
		store:   store,
		objects: objectstore.NewMemoryStore("https://cdn.test"),
		backend: remote.NewMemoryBackend(),
		online:  true,
	}
	f.queue = queue.New(store)
	if cfg.OwnerID == "" {
		cfg.OwnerID = "sub-1"
	}
	f.pipeline = New(Deps{
		Store:    store,
		Blobs:    storage.NewBlobStore(t.TempDir()),
		Queue:    f.queue,
		Objects:  f.objects,
		Assets:   f.backend,
		IsOnline: func() bool { return f.online },
	}, cfg)
	return f
}

func encodePNG(t *testing.T, w, h int, shade uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: uint8(x), B: uint8(y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func ptr(f float64) *float64 { return &f }

// =====================================================
// Validation
// =====================================================

// TestValidate tests content type, size and GPS checks.
func TestValidate(t *testing.T) {
	pngData := encodePNG(t, 4, 4, 1)

	v := Validate(pngData, nil, nil, ValidateOptions{})
	assert.True(t, v.Valid())
	assert.Equal(t, "image/png", v.ContentType)
	assert.Equal(t, "png", v.Extension)
	assert.False(t, v.GPSPresent)

	v = Validate([]byte("plain text, not an image"), nil, nil, ValidateOptions{})
	require.False(t, v.Valid())
	assert.Equal(t, "Invalid file type. Allowed: image/jpeg, image/png, image/webp", v.Errors[0])

	v = Validate(pngData, nil, nil, ValidateOptions{RequireGPS: true})
	require.False(t, v.Valid())
	assert.Equal(t, "GPS coordinates missing from photo. Ensure location services are enabled.", v.Errors[0])

	v = Validate(pngData, ptr(30.1), ptr(-90.2), ValidateOptions{RequireGPS: true})
	assert.True(t, v.Valid())
	assert.True(t, v.GPSPresent)

	big := append(encodeJPEG(t, 2, 2), make([]byte, 1024*1024+1)...)
	v = Validate(big, nil, nil, ValidateOptions{MaxSizeMB: 1})
	require.False(t, v.Valid())
	assert.Contains(t, v.Errors[0], "File too large")
}

// TestStoragePath tests path layout and segment sanitizing.
func TestStoragePath(t *testing.T) {
	assert.Equal(t, "sub-1/T-100/p1-original.jpg", StoragePath("sub-1", "T-100", "p1", VariantOriginal, "jpg"))
	assert.Equal(t, "user_x/T_100_A/p_1-thumbnail.jpg", StoragePath("user@x", "T 100/A", "p#1", VariantThumbnail, "jpg"))
	assert.Equal(t, "a.b_c-d", SanitizeSegment("a.b_c-d"))
}

// =====================================================
// Thumbnails
// =====================================================

// TestGenerateThumbnail tests scaling, no upscaling and decode fallback.
func TestGenerateThumbnail(t *testing.T) {
	thumb := GenerateThumbnail(encodePNG(t, 800, 400, 9), "image/png", 360, 78)
	assert.False(t, thumb.Fallback)
	assert.Equal(t, "image/jpeg", thumb.ContentType)
	assert.Equal(t, 360, thumb.Width)
	assert.Equal(t, 180, thumb.Height)

	small := GenerateThumbnail(encodePNG(t, 20, 10, 9), "image/png", 360, 78)
	assert.Equal(t, 20, small.Width)
	assert.Equal(t, 10, small.Height)

	raw := []byte("not decodable")
	fallback := GenerateThumbnail(raw, "image/webp", 360, 78)
	assert.True(t, fallback.Fallback)
	assert.Equal(t, raw, fallback.Data)
	assert.Equal(t, "image/webp", fallback.ContentType)
}

// =====================================================
// Capture
// =====================================================

// TestCapture_StoresPhotoAndQueueItem tests the photo row and CREATE photo queue item.
func TestCapture_StoresPhotoAndQueueItem(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	data := encodePNG(t, 500, 300, 3)

	res, err := f.pipeline.Capture(ctx, CaptureInput{
		Data:       data,
		Type:       models.PhotoDamage,
		EntityType: models.EntityTicket,
		EntityID:   "T-1",
		Latitude:   ptr(29.9),
		Longitude:  ptr(-90.1),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	photo := res.Photo
	assert.Equal(t, storage.Checksum(data), photo.Checksum)
	assert.Equal(t, models.UploadPending, photo.UploadStatus)
	assert.Equal(t, "T-1", photo.TicketID)
	assert.Equal(t, "png", photo.Extension)
	assert.False(t, photo.IsDuplicate)

	stored, err := f.pipeline.Get(ctx, photo.ID)
	require.NoError(t, err)
	assert.Equal(t, photo.Checksum, stored.Checksum)

	item, ok, err := f.queue.LatestForEntity(ctx, models.EntityPhoto, photo.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, res.QueueItemID, item.ID)
	assert.Equal(t, models.OperationCreate, item.Operation)
	assert.Equal(t, models.QueueStatusPending, item.Status)

	blob, err := f.pipeline.Blob(ctx, photo.ID)
	require.NoError(t, err)
	assert.Equal(t, data, blob)

	preview, err := f.pipeline.Preview(ctx, photo.ID)
	require.NoError(t, err)
	assert.NotEqual(t, data, preview)

	n, err := f.pipeline.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// TestCapture_Duplicate tests that identical bytes are flagged, not rejected.
func TestCapture_Duplicate(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	data := encodePNG(t, 10, 10, 7)

	first, err := f.pipeline.Capture(ctx, CaptureInput{Data: data, Type: models.PhotoOverview, EntityID: "T-1"})
	require.NoError(t, err)
	second, err := f.pipeline.Capture(ctx, CaptureInput{Data: data, Type: models.PhotoOverview, EntityID: "T-2"})
	require.NoError(t, err)

	assert.False(t, first.Photo.IsDuplicate)
	assert.True(t, second.Photo.IsDuplicate)
	assert.Equal(t, first.Photo.ID, second.Photo.DuplicateOfPhotoID)
	assert.Equal(t, []string{"Duplicate photo detected. Flagged for review."}, second.Warnings)

	_, err = f.pipeline.Get(ctx, first.Photo.ID)
	assert.NoError(t, err)
	_, err = f.pipeline.Get(ctx, second.Photo.ID)
	assert.NoError(t, err)
}

// TestCapture_Invalid tests that validation errors reject before any write.
func TestCapture_Invalid(t *testing.T) {
	f := newFixture(t, Config{RequireGPS: true})
	ctx := context.Background()

	_, err := f.pipeline.Capture(ctx, CaptureInput{Data: []byte("%PDF-1.4"), EntityID: "T-1"})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Equal(t, "Invalid file type. Allowed: image/jpeg, image/png, image/webp", err.Error())

	_, err = f.pipeline.Capture(ctx, CaptureInput{Data: encodePNG(t, 2, 2, 1), EntityID: "T-1"})
	require.Error(t, err)
	assert.Equal(t, "GPS coordinates missing from photo. Ensure location services are enabled.", err.Error())

	n, err := f.pipeline.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// TestCapture_UnknownTypeDefaultsToContext tests photo type normalization.
func TestCapture_UnknownTypeDefaultsToContext(t *testing.T) {
	f := newFixture(t, Config{})
	res, err := f.pipeline.Capture(context.Background(), CaptureInput{Data: encodePNG(t, 2, 2, 2), Type: "SELFIE", EntityID: "T-1"})
	require.NoError(t, err)
	assert.Equal(t, models.PhotoContext, res.Photo.Type)
}

// =====================================================
// Upload queue
// =====================================================

// TestProcess_Offline tests that nothing happens while offline.
func TestProcess_Offline(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	_, err := f.pipeline.Capture(ctx, CaptureInput{Data: encodePNG(t, 4, 4, 1), EntityID: "T-1"})
	require.NoError(t, err)

	f.online = false
	res, err := f.pipeline.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, ProcessResult{Errors: []ProcessError{}}, res)
	assert.Zero(t, f.objects.Uploads())
}

// TestProcess_UploadsAndMarks tests a successful pass.
func TestProcess_UploadsAndMarks(t *testing.T) {
	f := newFixture(t, Config{OwnerID: "sub 9"})
	ctx := context.Background()
	captured, err := f.pipeline.Capture(ctx, CaptureInput{Data: encodePNG(t, 600, 600, 5), Type: models.PhotoEquipment, EntityID: "T-7"})
	require.NoError(t, err)
	id := captured.Photo.ID

	res, err := f.pipeline.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Uploaded)
	assert.Zero(t, res.Failed)

	original, ok := f.objects.Get("sub_9/T-7/" + id + "-original.png")
	require.True(t, ok)
	assert.Equal(t, "image/png", original.ContentType)
	thumb, ok := f.objects.Get("sub_9/T-7/" + id + "-thumbnail.jpg")
	require.True(t, ok)
	assert.Equal(t, "image/jpeg", thumb.ContentType)

	assert.Equal(t, 1, f.backend.Calls("insert", MediaAssetsCollection))

	photo, err := f.pipeline.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, photo.Uploaded)
	assert.Equal(t, models.UploadUploaded, photo.UploadStatus)
	assert.Equal(t, "https://cdn.test/sub_9/T-7/"+id+"-original.png", photo.OriginalURL)

	item, _, err := f.queue.LatestForEntity(ctx, models.EntityPhoto, id)
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusSynced, item.Status)

	n, err := f.pipeline.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// TestProcess_StorageFailure tests that a storage error marks the photo failed.
func TestProcess_StorageFailure(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	captured, err := f.pipeline.Capture(ctx, CaptureInput{Data: encodePNG(t, 4, 4, 1), EntityID: "T-1"})
	require.NoError(t, err)

	f.objects.FailOn("original", errors.New("bucket unavailable"))
	res, err := f.pipeline.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, ProcessError{PhotoID: captured.Photo.ID, Message: "Unable to upload photo assets."}, res.Errors[0])

	photo, err := f.pipeline.Get(ctx, captured.Photo.ID)
	require.NoError(t, err)
	assert.Equal(t, models.UploadFailed, photo.UploadStatus)
	assert.Equal(t, 1, photo.RetryCount)

	// failed photos are retried on the next pass
	f.objects.FailOn("original", nil)
	res, err = f.pipeline.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Uploaded)

	photo, err = f.pipeline.Get(ctx, captured.Photo.ID)
	require.NoError(t, err)
	assert.Zero(t, photo.RetryCount)
	assert.Empty(t, photo.LastError)
}

// TestMarkUploadFailed_IncrementsPhotoAndQueue tests that both retry counts move together.
func TestMarkUploadFailed_IncrementsPhotoAndQueue(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	captured, err := f.pipeline.Capture(ctx, CaptureInput{Data: encodePNG(t, 4, 4, 1), EntityID: "T-1"})
	require.NoError(t, err)
	id := captured.Photo.ID

	// photo retry_count=1, queue item retry_count=2
	require.NoError(t, f.pipeline.MarkUploadFailed(ctx, id, ""))
	require.NoError(t, f.queue.MarkFailed(ctx, captured.QueueItemID, "earlier"))

	require.NoError(t, f.pipeline.MarkUploadFailed(ctx, id, "network timeout"))

	photo, err := f.pipeline.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, photo.RetryCount)
	assert.Equal(t, "network timeout", photo.LastError)

	item, err := f.queue.Get(ctx, captured.QueueItemID)
	require.NoError(t, err)
	assert.Equal(t, 3, item.RetryCount)
	assert.Equal(t, "network timeout", item.LastError)
	assert.Equal(t, models.QueueStatusFailed, item.Status)
}

// TestMarkUploadFailed_DefaultMessage tests the default message and a missing photo.
func TestMarkUploadFailed_DefaultMessage(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	captured, err := f.pipeline.Capture(ctx, CaptureInput{Data: encodePNG(t, 4, 4, 1), EntityID: "T-1"})
	require.NoError(t, err)

	require.NoError(t, f.pipeline.MarkUploadFailed(ctx, captured.Photo.ID, ""))
	photo, err := f.pipeline.Get(ctx, captured.Photo.ID)
	require.NoError(t, err)
	assert.Equal(t, "Upload failed", photo.LastError)

	assert.NoError(t, f.pipeline.MarkUploadFailed(ctx, "missing", "x"))
}

// TestListForEntity tests ordering by capture time.
func TestListForEntity(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	clock := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	f.pipeline.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	a, err := f.pipeline.Capture(ctx, CaptureInput{Data: encodePNG(t, 3, 3, 1), EntityID: "T-1"})
	require.NoError(t, err)
	b, err := f.pipeline.Capture(ctx, CaptureInput{Data: encodePNG(t, 3, 3, 2), EntityID: "T-1"})
	require.NoError(t, err)
	_, err = f.pipeline.Capture(ctx, CaptureInput{Data: encodePNG(t, 3, 3, 3), EntityID: "T-2"})
	require.NoError(t, err)

	photos, err := f.pipeline.ListForEntity(ctx, models.EntityTicket, "T-1")
	require.NoError(t, err)
	require.Len(t, photos, 2)
	assert.Equal(t, a.Photo.ID, photos[0].ID)
	assert.Equal(t, b.Photo.ID, photos[1].ID)
}
