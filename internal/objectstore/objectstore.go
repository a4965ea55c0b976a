// Package objectstore uploads photo assets to S3-compatible object storage.
package objectstore

import "context"

// Store is the asset storage boundary used by the photo pipeline.
type Store interface {
	// Upload writes data at path.
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	// PublicURL returns the URL a stored object is served from.
	PublicURL(path string) string
}
