// Package catalog implements the user facing image operations: upload,
// listing with label filters, retrieval, labels and deletion.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/blue-mimo/image-labelling/pkg/imageutil"
	"github.com/blue-mimo/image-labelling/pkg/service/ingestion"
	"github.com/blue-mimo/image-labelling/pkg/types"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("catalog")

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// UploadResult is returned after an image is stored.
type UploadResult struct {
	Message  string `json:"message"`
	Filename string `json:"filename"`
	S3Key    string `json:"s3_key"`
}

// DeleteResult is returned after an image and its labels are removed.
type DeleteResult struct {
	Message       string `json:"message"`
	Filename      string `json:"filename"`
	DeletedLabels int    `json:"deleted_labels"`
}

// Image is an encoded image ready to be served.
type Image struct {
	Name        string
	ContentType string
	Data        []byte
}

type Catalog struct {
	images types.ImageStore
	labels types.LabelStore
	counts types.LabelCountStore
}

func New(images types.ImageStore, labels types.LabelStore, counts types.LabelCountStore) *Catalog {
	return &Catalog{
		images: images,
		labels: labels,
		counts: counts,
	}
}

// Upload stores an image under its base name. Only allowed image extensions
// are accepted.
func (c *Catalog) Upload(ctx context.Context, filename string, size int64, body io.Reader) (UploadResult, error) {
	filename = path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if filename == "" || filename == "." || filename == "/" {
		return UploadResult{}, types.NewInputError("No file provided")
	}
	if !imageutil.IsAllowed(filename) {
		return UploadResult{}, types.NewInputError("File type %s not allowed", imageutil.Extension(filename))
	}
	contentType, err := imageutil.ContentType(filename)
	if err != nil {
		return UploadResult{}, err
	}
	if err := c.images.Put(ctx, filename, contentType, size, body); err != nil {
		return UploadResult{}, fmt.Errorf("storing upload: %w", err)
	}
	log.Infow("uploaded image", "image", filename, "size", size)
	return UploadResult{
		Message:  "File uploaded successfully",
		Filename: filename,
		S3Key:    imageutil.ObjectKey(filename),
	}, nil
}

// Labels returns the labels of an image, highest confidence first. An image
// without labels yields an empty list.
func (c *Catalog) Labels(ctx context.Context, name string) ([]types.Label, error) {
	labels, err := c.labels.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("reading labels: %w", err)
	}
	if labels == nil {
		labels = []types.Label{}
	}
	ingestion.SortLabels(labels)
	return labels, nil
}

// Image fetches an image, scaled down to fit maxWidth x maxHeight. Zero bounds
// leave a dimension unbounded.
func (c *Catalog) Image(ctx context.Context, name string, maxWidth, maxHeight int) (Image, error) {
	contentType, err := imageutil.ContentType(name)
	if err != nil {
		return Image{}, err
	}

	r, err := c.images.Get(ctx, name)
	if err != nil {
		return Image{}, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return Image{}, fmt.Errorf("reading image: %w", err)
	}
	if len(data) == 0 {
		return Image{}, types.NewNotFoundError("Image file is empty")
	}
	if !imageutil.MatchesExtension(name, data) {
		log.Warnw("image content does not match extension", "image", name, "sniffed", imageutil.Sniff(data), "expected", contentType)
	}

	resized, err := imageutil.Resize(data, imageutil.Extension(name), maxWidth, maxHeight)
	if err != nil {
		if errors.Is(err, types.ErrInvalidInput) {
			return Image{}, err
		}
		return Image{}, fmt.Errorf("resizing image: %w", err)
	}
	return Image{Name: name, ContentType: contentType, Data: resized}, nil
}

// Delete removes an image, its label records and its contribution to the
// label counts. A failed count update is logged and does not fail the delete.
func (c *Catalog) Delete(ctx context.Context, name string) (DeleteResult, error) {
	if name == "" {
		return DeleteResult{}, types.NewInputError("Filename is required")
	}
	labels, err := c.labels.Get(ctx, name)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("reading labels: %w", err)
	}

	names := make([]string, 0, len(labels))
	for _, l := range labels {
		names = append(names, l.Name)
	}
	if len(names) > 0 {
		if err := c.labels.Delete(ctx, name, names); err != nil {
			return DeleteResult{}, fmt.Errorf("deleting labels: %w", err)
		}
		for _, label := range names {
			if err := c.counts.Decrement(ctx, label); err != nil {
				log.Errorw("decrementing label count", "image", name, "label", label, "error", err)
			}
		}
	}

	if err := c.images.Delete(ctx, name); err != nil {
		return DeleteResult{}, fmt.Errorf("deleting image: %w", err)
	}
	log.Infow("deleted image", "image", name, "labels", len(names))

	return DeleteResult{
		Message:       fmt.Sprintf("Image %s deleted successfully", name),
		Filename:      name,
		DeletedLabels: len(names),
	}, nil
}
