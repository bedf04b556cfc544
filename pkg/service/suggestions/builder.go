// Package suggestions builds the prefix suggestion table from label counts
// and serves lookups from it.
package suggestions

import (
	"context"
	"fmt"
	"time"

	"github.com/blue-mimo/image-labelling/pkg/types"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("suggestions")

// Report summarizes a rebuild.
type Report struct {
	Labels   int
	Written  int
	Deleted  int
	Duration time.Duration
}

type Builder struct {
	counts      types.LabelCountStore
	suggestions types.SuggestionStore
	opts        Options
}

func NewBuilder(counts types.LabelCountStore, suggestions types.SuggestionStore, opts Options) *Builder {
	return &Builder{counts: counts, suggestions: suggestions, opts: opts.normalized()}
}

// Rebuild recomputes the whole suggestion table. All current prefixes are
// written before obsolete ones are deleted, so readers never see a prefix
// vanish that should exist. Running it again on unchanged counts rewrites
// identical entries.
func (b *Builder) Rebuild(ctx context.Context) (Report, error) {
	start := time.Now()

	counts, err := b.counts.All(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("reading label counts: %w", err)
	}
	computed := Compute(counts, b.opts)

	existing, err := b.suggestions.Prefixes(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("reading existing prefixes: %w", err)
	}

	if err := b.suggestions.PutBatch(ctx, computed); err != nil {
		return Report{}, fmt.Errorf("writing suggestions: %w", err)
	}

	current := make(map[string]struct{}, len(computed))
	for _, s := range computed {
		current[s.Prefix] = struct{}{}
	}
	var obsolete []string
	for _, p := range existing {
		if _, ok := current[p]; !ok {
			obsolete = append(obsolete, p)
		}
	}
	if len(obsolete) > 0 {
		if err := b.suggestions.DeleteBatch(ctx, obsolete); err != nil {
			return Report{}, fmt.Errorf("deleting obsolete prefixes: %w", err)
		}
	}

	report := Report{
		Labels:   len(counts),
		Written:  len(computed),
		Deleted:  len(obsolete),
		Duration: time.Since(start),
	}
	log.Infow("rebuilt suggestions", "labels", report.Labels, "written", report.Written, "deleted", report.Deleted, "duration", report.Duration)
	return report, nil
}
