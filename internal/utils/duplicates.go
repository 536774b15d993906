package utils

import (
	"strings"
)

// SuggestionFilter drops repeated suggestion texts, ignoring case.
// It is not safe for concurrent use; create one per request.
type SuggestionFilter struct {
	seen map[string]bool
}

// NewSuggestionFilter creates a filter that also rejects every text in exclude.
func NewSuggestionFilter(exclude ...string) *SuggestionFilter {
	seen := make(map[string]bool, len(exclude))
	for _, text := range exclude {
		seen[strings.ToLower(text)] = true
	}
	return &SuggestionFilter{seen: seen}
}

// ShouldInclude checks if a text should be included in results (not a duplicate)
// Returns true if the text should be included, false if it was seen before
func (f *SuggestionFilter) ShouldInclude(text string) bool {
	key := strings.ToLower(text)
	if f.seen[key] {
		return false
	}
	f.seen[key] = true
	return true
}
