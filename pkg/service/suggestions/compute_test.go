package suggestions_test

import (
	"fmt"
	"testing"

	"github.com/blue-mimo/image-labelling/pkg/service/suggestions"
	"github.com/blue-mimo/image-labelling/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestPrefixes(t *testing.T) {
	testCases := []struct {
		name     string
		label    string
		min, max int
		expected []string
	}{
		{name: "full range", label: "dog", min: 1, max: 15, expected: []string{"d", "do", "dog"}},
		{name: "capped", label: "elephant", min: 1, max: 3, expected: []string{"e", "el", "ele"}},
		{name: "min length", label: "dog", min: 2, max: 15, expected: []string{"do", "dog"}},
		{name: "multibyte runes", label: "café", min: 1, max: 15, expected: []string{"c", "ca", "caf", "café"}},
		{name: "spaces pass through", label: "sea lion", min: 3, max: 5, expected: []string{"sea", "sea ", "sea l"}},
		{name: "shorter than min", label: "ox", min: 3, max: 15, expected: nil},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, suggestions.Prefixes(tc.label, tc.min, tc.max))
		})
	}
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "do", suggestions.Truncate("dogs", 2))
	require.Equal(t, "dogs", suggestions.Truncate("dogs", 15))
	require.Equal(t, "caf", suggestions.Truncate("café", 3))
	require.Equal(t, "café", suggestions.Truncate("café", 4))
}

func TestCompute(t *testing.T) {
	t.Run("ranks by count then name", func(t *testing.T) {
		counts := []types.LabelCount{
			{LabelName: "dog", Count: 3},
			{LabelName: "dolphin", Count: 5},
			{LabelName: "door", Count: 3},
			{LabelName: "cat", Count: 1},
		}
		got := suggestions.Compute(counts, suggestions.DefaultOptions())
		require.Equal(t, []types.Suggestion{
			{Prefix: "c", Suggestions: []string{"cat"}},
			{Prefix: "ca", Suggestions: []string{"cat"}},
			{Prefix: "cat", Suggestions: []string{"cat"}},
			{Prefix: "d", Suggestions: []string{"dolphin", "dog", "door"}},
			{Prefix: "do", Suggestions: []string{"dolphin", "dog", "door"}},
			{Prefix: "dog", Suggestions: []string{"dog"}},
			{Prefix: "dol", Suggestions: []string{"dolphin"}},
			{Prefix: "dolp", Suggestions: []string{"dolphin"}},
			{Prefix: "dolph", Suggestions: []string{"dolphin"}},
			{Prefix: "dolphi", Suggestions: []string{"dolphin"}},
			{Prefix: "dolphin", Suggestions: []string{"dolphin"}},
			{Prefix: "doo", Suggestions: []string{"door"}},
			{Prefix: "door", Suggestions: []string{"door"}},
		}, got)
	})

	t.Run("drops empty and non positive counts", func(t *testing.T) {
		counts := []types.LabelCount{
			{LabelName: "", Count: 3},
			{LabelName: "gone", Count: 0},
			{LabelName: "weird", Count: -2},
			{LabelName: "ok", Count: 1},
		}
		got := suggestions.Compute(counts, suggestions.DefaultOptions())
		require.Equal(t, []types.Suggestion{
			{Prefix: "o", Suggestions: []string{"ok"}},
			{Prefix: "ok", Suggestions: []string{"ok"}},
		}, got)
	})

	t.Run("empty counts", func(t *testing.T) {
		require.Empty(t, suggestions.Compute(nil, suggestions.DefaultOptions()))
	})

	t.Run("keeps top candidates per prefix", func(t *testing.T) {
		var counts []types.LabelCount
		for i := range 15 {
			counts = append(counts, types.LabelCount{LabelName: fmt.Sprintf("b%02d", i), Count: int64(i + 1)})
		}
		opts := suggestions.DefaultOptions()
		opts.MaxSuggestions = 3
		got := suggestions.Compute(counts, opts)
		require.Equal(t, types.Suggestion{Prefix: "b", Suggestions: []string{"b14", "b13", "b12"}}, got[0])
	})

	t.Run("prefix length cap", func(t *testing.T) {
		opts := suggestions.DefaultOptions()
		opts.MaxPrefixLength = 2
		got := suggestions.Compute([]types.LabelCount{{LabelName: "horse", Count: 1}}, opts)
		require.Equal(t, []types.Suggestion{
			{Prefix: "h", Suggestions: []string{"horse"}},
			{Prefix: "ho", Suggestions: []string{"horse"}},
		}, got)
	})

	t.Run("label cap takes highest counts", func(t *testing.T) {
		opts := suggestions.DefaultOptions()
		opts.MaxLabels = 1
		opts.MaxPrefixLength = 1
		got := suggestions.Compute([]types.LabelCount{{LabelName: "ant", Count: 1}, {LabelName: "bee", Count: 2}}, opts)
		require.Equal(t, []types.Suggestion{{Prefix: "b", Suggestions: []string{"bee"}}}, got)
	})

	t.Run("mixed case names merge", func(t *testing.T) {
		opts := suggestions.DefaultOptions()
		opts.MaxPrefixLength = 1
		got := suggestions.Compute([]types.LabelCount{{LabelName: "Dog", Count: 1}, {LabelName: "dog", Count: 2}, {LabelName: "duck", Count: 2}}, opts)
		require.Equal(t, []types.Suggestion{{Prefix: "d", Suggestions: []string{"dog", "duck"}}}, got)
	})

	t.Run("deterministic", func(t *testing.T) {
		counts := []types.LabelCount{{LabelName: "a", Count: 1}, {LabelName: "ab", Count: 1}, {LabelName: "abc", Count: 1}}
		first := suggestions.Compute(counts, suggestions.DefaultOptions())
		for range 10 {
			require.Equal(t, first, suggestions.Compute(counts, suggestions.DefaultOptions()))
		}
	})
}
