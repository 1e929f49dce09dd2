// Package preview derives display hints from stored documents.
package preview

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/disintegration/imaging"
)

// Icon keys for the document list.
const (
	IconImage    = "image"
	IconPDF      = "pdf"
	IconText     = "text"
	IconDocument = "document"
)

// Icon picks the icon key for a content type.
func Icon(contentType string) string {
	mediaType, _, _ := strings.Cut(strings.ToLower(contentType), ";")
	mediaType = strings.TrimSpace(mediaType)

	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return IconImage
	case mediaType == "application/pdf":
		return IconPDF
	case strings.HasPrefix(mediaType, "text/"):
		return IconText
	}
	return IconDocument
}

// Thumbnail decodes an image payload and returns a JPEG no wider than
// maxWidth, keeping the aspect ratio. Smaller images are not enlarged.
func Thumbnail(data []byte, maxWidth int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	if img.Bounds().Dx() > maxWidth {
		img = imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
