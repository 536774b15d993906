package ngram

import (
	"sort"

	"github.com/bastiangx/chatserve/pkg/normalize"
	"github.com/charmbracelet/log"
	"github.com/tchap/go-patricia/v2/patricia"
)

// Vocabulary is the set of tokens seen during training with their counts.
// Tokens are also kept in a patricia trie so that a partial word can be
// expanded to every known token it prefixes.
type Vocabulary struct {
	trie   *patricia.Trie
	counts map[string]int
}

func newVocabulary(counts map[string]int) *Vocabulary {
	v := &Vocabulary{
		trie:   patricia.NewTrie(),
		counts: counts,
	}
	for tok, c := range counts {
		v.trie.Insert(patricia.Prefix(tok), c)
	}
	return v
}

// Contains reports whether tok was observed during training.
func (v *Vocabulary) Contains(tok string) bool {
	_, ok := v.counts[tok]
	return ok
}

// Count returns how often tok occurred in the corpus.
func (v *Vocabulary) Count(tok string) int {
	return v.counts[tok]
}

// Len returns the number of distinct tokens, boundary markers included.
func (v *Vocabulary) Len() int {
	return len(v.counts)
}

// Counts returns a copy of the token counts.
func (v *Vocabulary) Counts() map[string]int {
	out := make(map[string]int, len(v.counts))
	for tok, c := range v.counts {
		out[tok] = c
	}
	return out
}

// WithPrefix returns the sorted tokens starting with prefix.
// Boundary markers are never returned.
func (v *Vocabulary) WithPrefix(prefix string) []string {
	var words []string
	err := v.trie.VisitSubtree(patricia.Prefix(prefix), func(p patricia.Prefix, _ patricia.Item) error {
		word := string(p)
		if normalize.IsBoundary(word) {
			return nil
		}
		words = append(words, word)
		return nil
	})
	if err != nil {
		log.Errorf("Error visiting vocabulary subtree: %v", err)
		return nil
	}
	sort.Strings(words)
	return words
}
