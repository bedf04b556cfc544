package suggestions

import (
	"cmp"
	"slices"
	"strings"

	"github.com/blue-mimo/image-labelling/pkg/types"
)

const (
	DefaultMaxSuggestions  = 10
	DefaultMinPrefixLength = 1
	DefaultMaxPrefixLength = 15
)

// Options bound the suggestion table.
type Options struct {
	// MaxSuggestions is the number of candidates kept per prefix.
	MaxSuggestions int
	// MinPrefixLength and MaxPrefixLength bound the generated prefixes, in runes.
	MinPrefixLength int
	MaxPrefixLength int
	// MaxLabels limits how many labels are considered, highest counts first.
	// Zero considers all of them.
	MaxLabels int
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		MaxSuggestions:  DefaultMaxSuggestions,
		MinPrefixLength: DefaultMinPrefixLength,
		MaxPrefixLength: DefaultMaxPrefixLength,
	}
}

func (o Options) normalized() Options {
	if o.MaxSuggestions <= 0 {
		o.MaxSuggestions = DefaultMaxSuggestions
	}
	if o.MinPrefixLength <= 0 {
		o.MinPrefixLength = DefaultMinPrefixLength
	}
	if o.MaxPrefixLength <= 0 {
		o.MaxPrefixLength = DefaultMaxPrefixLength
	}
	return o
}

type candidate struct {
	name  string
	count int64
}

func compareCandidates(a, b candidate) int {
	if c := cmp.Compare(b.count, a.count); c != 0 {
		return c
	}
	return strings.Compare(a.name, b.name)
}

// Compute derives the suggestion table from label counts. Every prefix of every
// counted label maps to the labels sharing it, ranked by descending count and
// then by name. The result is sorted by prefix, so equal input always gives
// equal output.
func Compute(counts []types.LabelCount, opts Options) []types.Suggestion {
	opts = opts.normalized()

	merged := make(map[string]int64, len(counts))
	for _, c := range counts {
		name := strings.ToLower(c.LabelName)
		if name == "" || c.Count <= 0 {
			continue
		}
		merged[name] += c.Count
	}

	candidates := make([]candidate, 0, len(merged))
	for name, count := range merged {
		candidates = append(candidates, candidate{name, count})
	}
	slices.SortFunc(candidates, compareCandidates)
	if opts.MaxLabels > 0 && len(candidates) > opts.MaxLabels {
		candidates = candidates[:opts.MaxLabels]
	}

	// candidates are already ranked, so appending in order keeps each list ranked
	byPrefix := make(map[string][]string)
	for _, c := range candidates {
		for _, prefix := range Prefixes(c.name, opts.MinPrefixLength, opts.MaxPrefixLength) {
			if len(byPrefix[prefix]) < opts.MaxSuggestions {
				byPrefix[prefix] = append(byPrefix[prefix], c.name)
			}
		}
	}

	suggestions := make([]types.Suggestion, 0, len(byPrefix))
	for prefix, names := range byPrefix {
		suggestions = append(suggestions, types.Suggestion{Prefix: prefix, Suggestions: names})
	}
	slices.SortFunc(suggestions, func(a, b types.Suggestion) int {
		return strings.Compare(a.Prefix, b.Prefix)
	})
	return suggestions
}

// Prefixes returns the prefixes of name with rune lengths from minLen up to
// min(len(name), maxLen).
func Prefixes(name string, minLen, maxLen int) []string {
	var prefixes []string
	n := 0
	for i := range name {
		if n >= minLen && n <= maxLen {
			prefixes = append(prefixes, name[:i])
		}
		n++
	}
	if n >= minLen && n <= maxLen {
		prefixes = append(prefixes, name)
	}
	return prefixes
}

// Truncate cuts prefix to at most maxLen runes.
func Truncate(prefix string, maxLen int) string {
	n := 0
	for i := range prefix {
		if n == maxLen {
			return prefix[:i]
		}
		n++
	}
	return prefix
}
