/*
Package ngram builds and queries the n-gram language model behind sentence completion.

A Model stores, for every order k in 1..N, how often each token followed each
context of k-1 tokens. Boundary markers from package normalize are ordinary
context-bearing tokens: "<s>" conditions the first word of a sentence and
"</s>" is predicted like any word.

Scoring backs off from the longest context to shorter ones. Contexts never
observed in training are skipped for free; an observed context that never saw
the token costs a factor of BackoffWeight. Unknown tokens get the model's floor
probability, so no path is ever scored zero.

A Model is immutable once Train or Load returns and is safe for concurrent reads.
*/
package ngram

import (
	"fmt"
	"iter"
	"strings"

	"github.com/bastiangx/chatserve/pkg/normalize"
	"github.com/charmbracelet/log"
)

// BackoffWeight scales the estimate each time an observed context lacks the token.
const BackoffWeight = 0.4

const keySep = "\x1f"

// Distribution holds the next-token counts observed after one context.
type Distribution struct {
	Total  int
	Counts map[string]int
}

func (d *Distribution) add(tok string) {
	d.Counts[tok]++
	d.Total++
}

// Model is a trained n-gram table plus its vocabulary.
type Model struct {
	order int
	floor float64
	// tables[k] maps contexts of length k to their distribution (order k+1).
	tables []map[string]*Distribution
	vocab  *Vocabulary
}

// Train counts n-grams of every order 1..maxOrder over seqs.
// Sequences lacking boundary markers get them; sequences without tokens are skipped.
// Either a complete model or an error wrapping ErrTraining is returned.
func Train(seqs iter.Seq[[]string], maxOrder int, floor float64) (*Model, error) {
	if maxOrder < 1 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidOrder, maxOrder)
	}
	if !(floor > 0 && floor < 1) {
		return nil, fmt.Errorf("%w (got %g)", ErrInvalidFloor, floor)
	}

	tables := make([]map[string]*Distribution, maxOrder)
	for k := range tables {
		tables[k] = make(map[string]*Distribution)
	}

	sentences := 0
	for seq := range seqs {
		seq = normalize.Bound(seq)
		if len(seq) < 3 {
			continue
		}
		sentences++
		for i := 1; i < len(seq); i++ {
			for k := 0; k < maxOrder && i-k >= 0; k++ {
				key := contextKey(seq[i-k : i])
				dist, ok := tables[k][key]
				if !ok {
					dist = &Distribution{Counts: make(map[string]int)}
					tables[k][key] = dist
				}
				dist.add(seq[i])
			}
		}
	}
	if sentences == 0 {
		return nil, ErrEmptyCorpus
	}

	m := newModel(maxOrder, floor, tables)
	log.Debugf("Trained %d-gram model: sentences=[%d], vocab=[%d]", maxOrder, sentences, m.vocab.Len())
	return m, nil
}

func newModel(order int, floor float64, tables []map[string]*Distribution) *Model {
	counts := make(map[string]int)
	if uni, ok := tables[0][""]; ok {
		for tok, c := range uni.Counts {
			counts[tok] = c
		}
		// every sentence opens with one start marker and closes with one end marker
		counts[normalize.StartToken] = uni.Counts[normalize.EndToken]
	}
	return &Model{
		order:  order,
		floor:  floor,
		tables: tables,
		vocab:  newVocabulary(counts),
	}
}

// Order returns N, the longest n-gram the model counts.
func (m *Model) Order() int {
	return m.order
}

// Floor returns the probability assigned to unknown tokens.
func (m *Model) Floor() float64 {
	return m.floor
}

// Vocabulary returns the tokens seen in training.
func (m *Model) Vocabulary() *Vocabulary {
	return m.vocab
}

// Score estimates P(token | context) with back-off. The result is in [floor, 1].
func (m *Model) Score(context []string, token string) float64 {
	if token == normalize.StartToken || !m.vocab.Contains(token) {
		return m.floor
	}
	ctx := m.trim(context)
	weight := 1.0
	for k := len(ctx); k >= 0; k-- {
		dist := m.tables[k][contextKey(ctx[len(ctx)-k:])]
		if dist == nil || dist.Total == 0 {
			continue
		}
		if c := dist.Counts[token]; c > 0 {
			return max(weight*float64(c)/float64(dist.Total), m.floor)
		}
		weight *= BackoffWeight
	}
	return m.floor
}

// Candidates returns the next-token distribution observed after the longest
// matching context. The probabilities sum to 1.
func (m *Model) Candidates(context []string) map[string]float64 {
	dist := m.best(context)
	if dist == nil {
		return map[string]float64{}
	}
	out := make(map[string]float64, len(dist.Counts))
	for tok, c := range dist.Counts {
		out[tok] = float64(c) / float64(dist.Total)
	}
	return out
}

// Distribution returns a copy of the counts observed after exactly context,
// or nil when that context is unseen or longer than N-1 tokens.
func (m *Model) Distribution(context []string) *Distribution {
	if len(context) >= m.order {
		return nil
	}
	dist, ok := m.tables[len(context)][contextKey(context)]
	if !ok {
		return nil
	}
	out := &Distribution{Total: dist.Total, Counts: make(map[string]int, len(dist.Counts))}
	for tok, c := range dist.Counts {
		out.Counts[tok] = c
	}
	return out
}

// Count returns the number of times the n-gram was observed.
func (m *Model) Count(ngram []string) int {
	if len(ngram) == 0 || len(ngram) > m.order {
		return 0
	}
	last := len(ngram) - 1
	dist, ok := m.tables[last][contextKey(ngram[:last])]
	if !ok {
		return 0
	}
	return dist.Counts[ngram[last]]
}

// Stats returns table sizes for logging and the health endpoint.
func (m *Model) Stats() map[string]int {
	stats := map[string]int{
		"order":      m.order,
		"vocabulary": m.vocab.Len(),
	}
	for k, table := range m.tables {
		entries := 0
		for _, dist := range table {
			entries += len(dist.Counts)
		}
		stats[fmt.Sprintf("contexts_%d", k+1)] = len(table)
		stats[fmt.Sprintf("ngrams_%d", k+1)] = entries
	}
	return stats
}

// best finds the distribution of the longest observed suffix of context.
func (m *Model) best(context []string) *Distribution {
	ctx := m.trim(context)
	for k := len(ctx); k >= 0; k-- {
		if dist := m.tables[k][contextKey(ctx[len(ctx)-k:])]; dist != nil && dist.Total > 0 {
			return dist
		}
	}
	return nil
}

// trim keeps the last N-1 tokens of context.
func (m *Model) trim(context []string) []string {
	if n := m.order - 1; len(context) > n {
		return context[len(context)-n:]
	}
	return context
}

func contextKey(ctx []string) string {
	return strings.Join(ctx, keySep)
}
