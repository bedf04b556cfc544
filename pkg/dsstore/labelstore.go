package dsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/blue-mimo/image-labelling/pkg/types"
	"github.com/ipfs/go-datastore"
)

// LabelStore keeps the labels of each image as one JSON record keyed by image
// name. Reverse lookups scan every record.
type LabelStore struct {
	mu sync.Mutex
	ds datastore.Datastore
}

var _ types.LabelStore = (*LabelStore)(nil)

func NewLabelStore(ds datastore.Datastore) *LabelStore {
	return &LabelStore{ds: ds}
}

func (s *LabelStore) read(ctx context.Context, image string) ([]types.Label, error) {
	b, err := get(ctx, s.ds, image)
	if err != nil {
		if errors.Is(err, types.ErrKeyNotFound) {
			return []types.Label{}, nil
		}
		return nil, fmt.Errorf("getting labels for %s: %w", image, err)
	}
	var labels []types.Label
	if err := json.Unmarshal(b, &labels); err != nil {
		return nil, fmt.Errorf("decoding labels for %s: %w", image, err)
	}
	return labels, nil
}

func (s *LabelStore) write(ctx context.Context, image string, labels []types.Label) error {
	if len(labels) == 0 {
		return s.ds.Delete(ctx, toKey(image))
	}
	b, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("encoding labels for %s: %w", image, err)
	}
	return s.ds.Put(ctx, toKey(image), b)
}

// Put adds or replaces the given labels of an image.
func (s *LabelStore) Put(ctx context.Context, image string, labels []types.Label) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.read(ctx, image)
	if err != nil {
		return err
	}
	for _, l := range labels {
		i := slices.IndexFunc(existing, func(e types.Label) bool { return e.Name == l.Name })
		if i >= 0 {
			existing[i] = l
		} else {
			existing = append(existing, l)
		}
	}
	return s.write(ctx, image, existing)
}

func (s *LabelStore) Get(ctx context.Context, image string) ([]types.Label, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(ctx, image)
}

// Delete removes the named labels of an image.
func (s *LabelStore) Delete(ctx context.Context, image string, labelNames []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, err := s.read(ctx, image)
	if err != nil {
		return err
	}
	remaining := slices.DeleteFunc(existing, func(l types.Label) bool {
		return slices.Contains(labelNames, l.Name)
	})
	return s.write(ctx, image, remaining)
}

func (s *LabelStore) ImagesWithLabel(ctx context.Context, label string) ([]string, error) {
	var images []string
	for rec, err := range s.All(ctx) {
		if err != nil {
			return nil, err
		}
		if rec.LabelName == label {
			images = append(images, rec.ImageName)
		}
	}
	return images, nil
}

func (s *LabelStore) All(ctx context.Context) iter.Seq2[types.LabelRecord, error] {
	return func(yield func(types.LabelRecord, error) bool) {
		stop := errors.New("stop")
		err := entries(ctx, s.ds, false, func(image string, value []byte) error {
			var labels []types.Label
			if err := json.Unmarshal(value, &labels); err != nil {
				return fmt.Errorf("decoding labels for %s: %w", image, err)
			}
			for _, l := range labels {
				if !yield(types.LabelRecord{ImageName: image, LabelName: l.Name, Confidence: l.Confidence}, nil) {
					return stop
				}
			}
			return nil
		})
		if err != nil && !errors.Is(err, stop) {
			yield(types.LabelRecord{}, err)
		}
	}
}
