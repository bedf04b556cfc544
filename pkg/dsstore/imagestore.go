package dsstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/blue-mimo/image-labelling/pkg/imageutil"
	"github.com/blue-mimo/image-labelling/pkg/types"
	"github.com/ipfs/go-datastore"
)

// ImageStore keeps image bytes in a datastore. The content type is implied by
// the file extension and not stored.
type ImageStore struct {
	ds datastore.Datastore
}

var _ types.ImageStore = (*ImageStore)(nil)

func NewImageStore(ds datastore.Datastore) *ImageStore {
	return &ImageStore{ds}
}

func (s *ImageStore) Get(ctx context.Context, name string) (io.ReadCloser, error) {
	b, err := get(ctx, s.ds, name)
	if err != nil {
		return nil, fmt.Errorf("getting image %s: %w", name, err)
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (s *ImageStore) Put(ctx context.Context, name string, contentType string, size int64, body io.Reader) error {
	b, err := io.ReadAll(io.LimitReader(body, size))
	if err != nil {
		return fmt.Errorf("reading image %s: %w", name, err)
	}
	if int64(len(b)) != size {
		return fmt.Errorf("reading image %s: expected %d bytes, got %d", name, size, len(b))
	}
	return s.ds.Put(ctx, toKey(name), b)
}

func (s *ImageStore) Delete(ctx context.Context, name string) error {
	return s.ds.Delete(ctx, toKey(name))
}

// List returns the stored names that carry an allowed image extension.
func (s *ImageStore) List(ctx context.Context) ([]string, error) {
	var names []string
	err := entries(ctx, s.ds, true, func(name string, _ []byte) error {
		if imageutil.IsAllowed(name) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(names)
	return names, nil
}
