package models

import "time"

// PhotoType is the capture category of a photo.
type PhotoType string

const (
	PhotoOverview  PhotoType = "OVERVIEW"
	PhotoEquipment PhotoType = "EQUIPMENT"
	PhotoDamage    PhotoType = "DAMAGE"
	PhotoSafety    PhotoType = "SAFETY"
	PhotoContext   PhotoType = "CONTEXT"
)

// Valid reports whether t is a known capture category.
func (t PhotoType) Valid() bool {
	switch t {
	case PhotoOverview, PhotoEquipment, PhotoDamage, PhotoSafety, PhotoContext:
		return true
	}
	return false
}

// UploadStatus is the state of a photo in the upload pipeline.
type UploadStatus string

const (
	UploadPending  UploadStatus = "pending"
	UploadUploaded UploadStatus = "uploaded"
	UploadFailed   UploadStatus = "failed"
)

// LocalPhoto is a captured photo awaiting or past upload.
// Raw bytes and the preview live in the blob store under Checksum and PreviewChecksum.
type LocalPhoto struct {
	ID                 string       `json:"id"`
	Checksum           string       `json:"checksum"`
	PreviewChecksum    string       `json:"preview_checksum"`
	ContentType        string       `json:"content_type"`
	Extension          string       `json:"extension"`
	SizeBytes          int64        `json:"size_bytes"`
	Type               PhotoType    `json:"type"`
	EntityType         EntityType   `json:"entity_type"`
	EntityID           string       `json:"entity_id"`
	TicketID           string       `json:"ticket_id,omitempty"`
	Latitude           *float64     `json:"gps_latitude,omitempty"`
	Longitude          *float64     `json:"gps_longitude,omitempty"`
	CapturedAt         *time.Time   `json:"captured_at,omitempty"`
	Uploaded           bool         `json:"uploaded"`
	UploadStatus       UploadStatus `json:"upload_status"`
	RetryCount         int          `json:"retry_count"`
	LastError          string       `json:"last_error,omitempty"`
	IsDuplicate        bool         `json:"is_duplicate"`
	DuplicateOfPhotoID string       `json:"duplicate_of_photo_id,omitempty"`
	OriginalPath       string       `json:"original_path,omitempty"`
	ThumbnailPath      string       `json:"thumbnail_path,omitempty"`
	OriginalURL        string       `json:"original_url,omitempty"`
	ThumbnailURL       string       `json:"thumbnail_url,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// RecordID returns the primary key.
func (p LocalPhoto) RecordID() string { return p.ID }

// TableName returns the table name for LocalPhoto.
func (LocalPhoto) TableName() string {
	return "photos"
}

// MediaAsset is the remote metadata record written once a photo is stored.
type MediaAsset struct {
	ID            string     `json:"id"`
	OwnerID       string     `json:"owner_id"`
	TicketID      string     `json:"ticket_id,omitempty"`
	EntityType    EntityType `json:"entity_type"`
	EntityID      string     `json:"entity_id"`
	PhotoType     PhotoType  `json:"photo_type"`
	ContentType   string     `json:"content_type"`
	SizeBytes     int64      `json:"size_bytes"`
	Checksum      string     `json:"checksum"`
	StoragePath   string     `json:"storage_path"`
	ThumbnailPath string     `json:"thumbnail_path"`
	PublicURL     string     `json:"public_url"`
	ThumbnailURL  string     `json:"thumbnail_url"`
	Latitude      *float64   `json:"gps_latitude,omitempty"`
	Longitude     *float64   `json:"gps_longitude,omitempty"`
	CapturedAt    *time.Time `json:"captured_at,omitempty"`
	IsDuplicate   bool       `json:"is_duplicate"`
	CreatedAt     time.Time  `json:"created_at"`
}
