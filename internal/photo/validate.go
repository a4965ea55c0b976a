// Package photo implements the photo asset pipeline: capture, deduplication, thumbnails and
// the upload queue that pushes originals and previews to object storage.
package photo

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
)

// AllowedContentTypes are the accepted photo formats.
var AllowedContentTypes = []string{"image/jpeg", "image/png", "image/webp"}

const (
	// DefaultMaxSizeMB is the default upper bound on a photo's size.
	DefaultMaxSizeMB = 10

	msgGPSMissing = "GPS coordinates missing from photo. Ensure location services are enabled."
	msgDuplicate  = "Duplicate photo detected. Flagged for review."
)

// ValidateOptions controls Validate.
type ValidateOptions struct {
	MaxSizeMB  int
	RequireGPS bool
}

// Validation is the outcome of validating one photo before capture.
type Validation struct {
	Errors      []string
	Warnings    []string
	ContentType string
	Extension   string
	GPSPresent  bool
}

// Valid reports whether no error was found.
func (v Validation) Valid() bool {
	return len(v.Errors) == 0
}

// Validate detects the content type of data and checks it against the allowed formats,
// the size limit and the GPS requirement.
func Validate(data []byte, lat, lng *float64, opts ValidateOptions) Validation {
	var v Validation

	mime := mimetype.Detect(data)
	v.ContentType = baseType(mime.String())
	v.Extension = strings.TrimPrefix(mime.Extension(), ".")

	if !allowed(v.ContentType) {
		v.Errors = append(v.Errors, "Invalid file type. Allowed: "+strings.Join(AllowedContentTypes, ", "))
	} else {
		maxMB := opts.MaxSizeMB
		if maxMB <= 0 {
			maxMB = DefaultMaxSizeMB
		}
		if size := len(data); size > maxMB*1024*1024 {
			v.Errors = append(v.Errors, fmt.Sprintf("File too large (%.1fMB). Max: %dMB", float64(size)/1024/1024, maxMB))
		}
	}

	v.GPSPresent = lat != nil && lng != nil
	if opts.RequireGPS && !v.GPSPresent {
		v.Errors = append(v.Errors, msgGPSMissing)
	}
	return v
}

// Describe renders a short human summary of a photo payload, e.g. "image/jpeg, 2.1 MB".
func Describe(contentType string, size int64) string {
	return fmt.Sprintf("%s, %s", contentType, humanize.Bytes(uint64(size)))
}

func allowed(contentType string) bool {
	for _, t := range AllowedContentTypes {
		if t == contentType {
			return true
		}
	}
	return false
}

// baseType strips parameters such as "; charset=utf-8".
func baseType(mime string) string {
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	return strings.TrimSpace(mime)
}

// ExtensionFor maps a content type to the file extension used in storage paths.
func ExtensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	default:
		return "jpg"
	}
}
