package photo

import (
	"fmt"
	"regexp"
)

// Bucket is the object storage bucket photos are uploaded to.
const Bucket = "assessment-photos"

// Variant distinguishes the stored copies of a photo.
type Variant string

const (
	VariantOriginal  Variant = "original"
	VariantThumbnail Variant = "thumbnail"
)

var unsafeSegment = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// SanitizeSegment replaces every character outside [a-zA-Z0-9._-] with "_".
func SanitizeSegment(segment string) string {
	return unsafeSegment.ReplaceAllString(segment, "_")
}

// StoragePath returns {owner}/{ticket}/{photoId}-{variant}.{ext} with every segment sanitized.
func StoragePath(owner, ticket, photoID string, variant Variant, ext string) string {
	return fmt.Sprintf("%s/%s/%s-%s.%s",
		SanitizeSegment(owner),
		SanitizeSegment(ticket),
		SanitizeSegment(photoID),
		variant,
		SanitizeSegment(ext),
	)
}
