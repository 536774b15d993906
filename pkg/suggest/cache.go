package suggest

import (
	"slices"

	"github.com/charmbracelet/log"
	lru "github.com/hashicorp/golang-lru/v2"
)

type cacheKey struct {
	input string
	k     int
}

// resultCache keeps recent results for one model snapshot. It is dropped
// together with the snapshot, so entries never outlive the model they came from.
type resultCache struct {
	entries *lru.Cache[cacheKey, []Suggestion]
}

func newResultCache(size int) *resultCache {
	entries, err := lru.New[cacheKey, []Suggestion](size)
	if err != nil {
		log.Errorf("Failed to create result cache: %v", err)
		return nil
	}
	return &resultCache{entries: entries}
}

// Get returns a copy of the cached results, so callers may modify them.
func (c *resultCache) Get(key cacheKey) ([]Suggestion, bool) {
	if c == nil {
		return nil, false
	}
	results, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	return cloneSuggestions(results), true
}

func (c *resultCache) Add(key cacheKey, results []Suggestion) {
	if c == nil {
		return
	}
	c.entries.Add(key, cloneSuggestions(results))
}

func (c *resultCache) Len() int {
	if c == nil {
		return 0
	}
	return c.entries.Len()
}

func cloneSuggestions(in []Suggestion) []Suggestion {
	out := make([]Suggestion, len(in))
	for i, s := range in {
		s.Tokens = slices.Clone(s.Tokens)
		out[i] = s
	}
	return out
}
