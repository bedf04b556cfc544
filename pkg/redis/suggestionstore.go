package redis

import (
	"encoding/json"
	"fmt"

	"github.com/blue-mimo/image-labelling/pkg/types"
)

const suggestionKeyPrefix = "suggestions:"

// SuggestionStore caches the suggestion list of a prefix as a JSON array.
type SuggestionStore = Store[string, []string]

var _ types.SuggestionCache = (*SuggestionStore)(nil)

// NewSuggestionStore returns a redis backed cache of prefix suggestions.
func NewSuggestionStore(client Client, opts ...StoreOption) *SuggestionStore {
	return NewStore(suggestionsFromRedis, suggestionsToRedis, suggestionKey, client, opts...)
}

func suggestionKey(prefix string) string {
	return suggestionKeyPrefix + prefix
}

func suggestionsFromRedis(data string) ([]string, error) {
	var suggestions []string
	if err := json.Unmarshal([]byte(data), &suggestions); err != nil {
		return nil, fmt.Errorf("decoding cached suggestions: %w", err)
	}
	if suggestions == nil {
		suggestions = []string{}
	}
	return suggestions, nil
}

func suggestionsToRedis(suggestions []string) (string, error) {
	if suggestions == nil {
		suggestions = []string{}
	}
	data, err := json.Marshal(suggestions)
	if err != nil {
		return "", fmt.Errorf("encoding suggestions: %w", err)
	}
	return string(data), nil
}
