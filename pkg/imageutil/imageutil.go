// Package imageutil holds the image format rules shared by upload, retrieval
// and ingestion: allowed extensions, content types, magic byte sniffing and
// resizing.
package imageutil

import (
	"bytes"
	"fmt"
	"image"
	"net/http"
	"path"
	"strings"

	"github.com/blue-mimo/image-labelling/pkg/types"
	"github.com/disintegration/imaging"
)

// UploadsPrefix is the object key prefix under which images are stored.
const UploadsPrefix = "uploads/"

var contentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
}

// Extension returns the lower-cased extension of name including the dot, or
// "" if name has none.
func Extension(name string) string {
	return strings.ToLower(path.Ext(name))
}

// IsAllowed reports whether name carries one of the allowed image extensions.
func IsAllowed(name string) bool {
	_, ok := contentTypes[Extension(name)]
	return ok
}

// ContentType returns the content type for an image name based on its
// extension.
func ContentType(name string) (string, error) {
	ext := Extension(name)
	if ext == "" {
		return "", types.NewInputError("No file extension found")
	}
	ct, ok := contentTypes[ext]
	if !ok {
		return "", types.NewInputError("Unrecognized file extension: %s", ext)
	}
	return ct, nil
}

// ObjectKey returns the object key for an image name.
func ObjectKey(name string) string {
	return UploadsPrefix + name
}

// NameFromKey returns the image name for an object key. ok is false when the
// key is not an image under the uploads prefix.
func NameFromKey(key string) (name string, ok bool) {
	name, found := strings.CutPrefix(key, UploadsPrefix)
	if !found || name == "" || !IsAllowed(name) {
		return "", false
	}
	return name, true
}

// Sniff returns the content type detected from the leading bytes of data.
func Sniff(data []byte) string {
	return http.DetectContentType(data)
}

// MatchesExtension reports whether the sniffed content type of data agrees
// with the content type implied by name.
func MatchesExtension(name string, data []byte) bool {
	ct, err := ContentType(name)
	if err != nil {
		return false
	}
	return Sniff(data) == ct
}

// Resize scales the encoded image in data to fit within maxWidth x maxHeight,
// preserving the aspect ratio. A bound of zero leaves that dimension
// unbounded. Images that already fit are returned unchanged; images are never
// upscaled. The result is encoded in the format implied by ext.
func Resize(data []byte, ext string, maxWidth, maxHeight int) ([]byte, error) {
	if maxWidth < 0 || maxHeight < 0 {
		return nil, types.NewInputError("Invalid dimensions: %dx%d", maxWidth, maxHeight)
	}
	if maxWidth == 0 && maxHeight == 0 {
		return data, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if (maxWidth == 0 || w <= maxWidth) && (maxHeight == 0 || h <= maxHeight) {
		return data, nil
	}
	if maxWidth == 0 {
		maxWidth = w
	}
	if maxHeight == 0 {
		maxHeight = h
	}

	format, err := imaging.FormatFromExtension(ext)
	if err != nil {
		return nil, fmt.Errorf("resolving image format: %w", err)
	}

	return encode(imaging.Fit(img, maxWidth, maxHeight, imaging.Lanczos), format)
}

func encode(img image.Image, format imaging.Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encoding image: %w", err)
	}
	return buf.Bytes(), nil
}
