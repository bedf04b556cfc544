package dsstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/blue-mimo/image-labelling/pkg/types"
	"github.com/ipfs/go-datastore"
)

// LabelCountStore keeps label counts as decimal strings. Updates are
// serialized by a mutex, so a store must not be shared between processes.
type LabelCountStore struct {
	mu sync.Mutex
	ds datastore.Datastore
}

var _ types.LabelCountStore = (*LabelCountStore)(nil)

func NewLabelCountStore(ds datastore.Datastore) *LabelCountStore {
	return &LabelCountStore{ds: ds}
}

func (s *LabelCountStore) read(ctx context.Context, label string) (int64, error) {
	b, err := get(ctx, s.ds, label)
	if err != nil {
		if errors.Is(err, types.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, err
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing count for %s: %w", label, err)
	}
	return n, nil
}

func (s *LabelCountStore) add(ctx context.Context, label string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.read(ctx, label)
	if err != nil {
		return err
	}
	n += delta
	if n <= 0 {
		return s.ds.Delete(ctx, toKey(label))
	}
	return s.ds.Put(ctx, toKey(label), []byte(strconv.FormatInt(n, 10)))
}

func (s *LabelCountStore) Increment(ctx context.Context, label string) error {
	return s.add(ctx, label, 1)
}

// Decrement lowers the count of a label, removing it when it reaches zero.
// Decrementing an absent label does nothing.
func (s *LabelCountStore) Decrement(ctx context.Context, label string) error {
	return s.add(ctx, label, -1)
}

func (s *LabelCountStore) Put(ctx context.Context, count types.LabelCount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if count.Count <= 0 {
		return s.ds.Delete(ctx, toKey(count.LabelName))
	}
	return s.ds.Put(ctx, toKey(count.LabelName), []byte(strconv.FormatInt(count.Count, 10)))
}

func (s *LabelCountStore) Delete(ctx context.Context, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ds.Delete(ctx, toKey(label))
}

func (s *LabelCountStore) All(ctx context.Context) ([]types.LabelCount, error) {
	var counts []types.LabelCount
	err := entries(ctx, s.ds, false, func(label string, value []byte) error {
		n, err := strconv.ParseInt(string(value), 10, 64)
		if err != nil {
			return fmt.Errorf("parsing count for %s: %w", label, err)
		}
		counts = append(counts, types.LabelCount{LabelName: label, Count: n})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}
