package suggestions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/blue-mimo/image-labelling/pkg/types"
)

// Lookup returns label suggestions for a typed prefix.
type Lookup interface {
	// Suggest returns the ranked labels starting with prefix. An unknown
	// prefix yields an empty list.
	Suggest(ctx context.Context, prefix string) ([]string, error)
}

type simpleLookup struct {
	store           types.SuggestionStore
	maxPrefixLength int
}

var _ Lookup = (*simpleLookup)(nil)

// NewLookup returns a Lookup reading the suggestion table. Prefixes longer
// than the longest stored prefix are truncated for the read and the
// candidates are then filtered by the full prefix.
func NewLookup(store types.SuggestionStore, maxPrefixLength int) Lookup {
	if maxPrefixLength <= 0 {
		maxPrefixLength = DefaultMaxPrefixLength
	}
	return &simpleLookup{store: store, maxPrefixLength: maxPrefixLength}
}

func (l *simpleLookup) Suggest(ctx context.Context, prefix string) ([]string, error) {
	prefix = strings.ToLower(prefix)
	if prefix == "" {
		return []string{}, nil
	}
	key := Truncate(prefix, l.maxPrefixLength)
	candidates, err := l.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, types.ErrKeyNotFound) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("reading suggestions: %w", err)
	}
	if key == prefix {
		if candidates == nil {
			candidates = []string{}
		}
		return candidates, nil
	}
	matches := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if strings.HasPrefix(c, prefix) {
			matches = append(matches, c)
		}
	}
	return matches, nil
}

type cachingLookup struct {
	lookup Lookup
	cache  types.SuggestionCache
}

var _ Lookup = (*cachingLookup)(nil)

// WithCache returns a Lookup that reads through the cache. Cached entries
// expire so a rebuilt table is picked up.
func WithCache(lookup Lookup, cache types.SuggestionCache) Lookup {
	return &cachingLookup{lookup: lookup, cache: cache}
}

func (c *cachingLookup) Suggest(ctx context.Context, prefix string) ([]string, error) {
	prefix = strings.ToLower(prefix)
	suggestions, err := c.cache.Get(ctx, prefix)
	if err == nil {
		return suggestions, nil
	}
	if !errors.Is(err, types.ErrKeyNotFound) {
		log.Warnw("reading suggestion cache", "prefix", prefix, "error", err)
	}

	suggestions, err = c.lookup.Suggest(ctx, prefix)
	if err != nil {
		return nil, err
	}

	if err := c.cache.Set(ctx, prefix, suggestions, true); err != nil {
		log.Warnw("caching suggestions", "prefix", prefix, "error", err)
	}
	return suggestions, nil
}
