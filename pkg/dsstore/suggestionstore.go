package dsstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/blue-mimo/image-labelling/pkg/types"
	"github.com/ipfs/go-datastore"
)

// SuggestionStore keeps the candidate list of each prefix as JSON.
type SuggestionStore struct {
	ds datastore.Batching
}

var _ types.SuggestionStore = (*SuggestionStore)(nil)

func NewSuggestionStore(ds datastore.Batching) *SuggestionStore {
	return &SuggestionStore{ds}
}

func (s *SuggestionStore) Get(ctx context.Context, prefix string) ([]string, error) {
	b, err := get(ctx, s.ds, prefix)
	if err != nil {
		return nil, err
	}
	var suggestions []string
	if err := json.Unmarshal(b, &suggestions); err != nil {
		return nil, fmt.Errorf("decoding suggestions for %q: %w", prefix, err)
	}
	return suggestions, nil
}

func (s *SuggestionStore) Prefixes(ctx context.Context) ([]string, error) {
	var prefixes []string
	err := entries(ctx, s.ds, true, func(prefix string, _ []byte) error {
		prefixes = append(prefixes, prefix)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prefixes, nil
}

func (s *SuggestionStore) PutBatch(ctx context.Context, suggestions []types.Suggestion) error {
	batch, err := s.ds.Batch(ctx)
	if err != nil {
		return fmt.Errorf("starting batch: %w", err)
	}
	for _, sg := range suggestions {
		b, err := json.Marshal(sg.Suggestions)
		if err != nil {
			return fmt.Errorf("encoding suggestions for %q: %w", sg.Prefix, err)
		}
		if err := batch.Put(ctx, toKey(sg.Prefix), b); err != nil {
			return fmt.Errorf("writing suggestions for %q: %w", sg.Prefix, err)
		}
	}
	return batch.Commit(ctx)
}

func (s *SuggestionStore) DeleteBatch(ctx context.Context, prefixes []string) error {
	batch, err := s.ds.Batch(ctx)
	if err != nil {
		return fmt.Errorf("starting batch: %w", err)
	}
	for _, p := range prefixes {
		if err := batch.Delete(ctx, toKey(p)); err != nil {
			return fmt.Errorf("deleting suggestions for %q: %w", p, err)
		}
	}
	return batch.Commit(ctx)
}
