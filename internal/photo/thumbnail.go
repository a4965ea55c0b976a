package photo

import (
	"bytes"
	"fmt"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultThumbnailMaxDimension bounds the longest side of a preview.
	DefaultThumbnailMaxDimension = 360
	// DefaultThumbnailQuality is the JPEG quality of previews.
	DefaultThumbnailQuality = 78
)

// Thumbnail is a generated preview.
type Thumbnail struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
	// Fallback is set when the source could not be decoded and Data is the original.
	Fallback bool
}

// GenerateThumbnail scales data to fit within maxDim x maxDim and encodes it as JPEG.
// Images that already fit are re-encoded without upscaling. When data cannot be decoded the
// original bytes are returned with Fallback set.
func GenerateThumbnail(data []byte, contentType string, maxDim, quality int) Thumbnail {
	if maxDim <= 0 {
		maxDim = DefaultThumbnailMaxDimension
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultThumbnailQuality
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return Thumbnail{Data: data, ContentType: contentType, Fallback: true}
	}

	bounds := img.Bounds()
	if bounds.Dx() > maxDim || bounds.Dy() > maxDim {
		img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return Thumbnail{Data: data, ContentType: contentType, Fallback: true}
	}

	out := img.Bounds()
	return Thumbnail{
		Data:        buf.Bytes(),
		ContentType: "image/jpeg",
		Width:       out.Dx(),
		Height:      out.Dy(),
	}
}

func (t Thumbnail) String() string {
	if t.Fallback {
		return fmt.Sprintf("original (%s)", t.ContentType)
	}
	return fmt.Sprintf("%dx%d %s", t.Width, t.Height, t.ContentType)
}
