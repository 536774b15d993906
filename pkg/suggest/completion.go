package suggest

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/bastiangx/chatserve/internal/utils"
	"github.com/bastiangx/chatserve/pkg/fuzzy"
	"github.com/bastiangx/chatserve/pkg/ngram"
	"github.com/bastiangx/chatserve/pkg/normalize"
	"github.com/charmbracelet/log"
)

var (
	// ErrInvalidInput is returned for input that is not valid UTF-8 text.
	ErrInvalidInput = errors.New("invalid input")
	// ErrModelNotLoaded is returned when Complete runs before a model is attached.
	ErrModelNotLoaded = errors.New("model not loaded")
)

// Suggestion is one completed sentence.
type Suggestion struct {
	// Text is the rendered sentence: the typed words followed by the completion.
	Text string `json:"text"`
	// Tokens are the completion tokens added after the typed context.
	Tokens []string `json:"tokens"`
	// Score is the cumulative natural-log probability of Tokens.
	Score float64 `json:"score"`
	// Corrected is set when a typed word was replaced by spell correction.
	Corrected bool `json:"corrected,omitempty"`
}

// Options bound the search.
type Options struct {
	BeamWidth           int
	MaxCompletionLength int
	// StepBudget caps the number of candidate expansions per query.
	StepBudget   int
	SpellCorrect bool
	// CacheSize is the number of results cached per model; 0 disables caching.
	CacheSize int
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		BeamWidth:           8,
		MaxCompletionLength: 8,
		StepBudget:          4096,
		SpellCorrect:        true,
		CacheSize:           1024,
	}
}

// Engine completes partial input against the currently attached model.
// Complete may be called from any number of goroutines; Load swaps the model
// atomically and calls already running keep their snapshot.
type Engine struct {
	normalizer *normalize.Normalizer
	opts       Options
	current    atomic.Pointer[snapshot]
}

// NewEngine creates an engine without a model. Non-positive limits fall back to defaults.
func NewEngine(normalizer *normalize.Normalizer, opts Options) *Engine {
	def := DefaultOptions()
	if opts.BeamWidth < 1 {
		opts.BeamWidth = def.BeamWidth
	}
	if opts.MaxCompletionLength < 1 {
		opts.MaxCompletionLength = def.MaxCompletionLength
	}
	if opts.StepBudget < 1 {
		opts.StepBudget = def.StepBudget
	}
	if opts.CacheSize < 0 {
		opts.CacheSize = 0
	}
	return &Engine{
		normalizer: normalizer,
		opts:       opts,
	}
}

// Load publishes m as the model for every following Complete call.
// Passing nil detaches the current model.
func (e *Engine) Load(m *ngram.Model) {
	if m == nil {
		e.current.Store(nil)
		log.Debug("Model detached")
		return
	}
	e.current.Store(newSnapshot(m, e.opts))
	log.Debugf("Model attached: order=[%d], vocab=[%d]", m.Order(), m.Vocabulary().Len())
}

// Loaded reports whether a model is attached.
func (e *Engine) Loaded() bool {
	return e.current.Load() != nil
}

// Model returns the attached model or nil.
func (e *Engine) Model() *ngram.Model {
	if snap := e.current.Load(); snap != nil {
		return snap.model
	}
	return nil
}

// Options returns the effective search options.
func (e *Engine) Options() Options {
	return e.opts
}

// Stats returns model and cache statistics.
func (e *Engine) Stats() map[string]int {
	snap := e.current.Load()
	if snap == nil {
		return map[string]int{"loaded": 0}
	}
	stats := snap.model.Stats()
	stats["loaded"] = 1
	stats["beamWidth"] = e.opts.BeamWidth
	stats["maxCompletionLength"] = e.opts.MaxCompletionLength
	if snap.cache != nil {
		stats["cacheEntries"] = snap.cache.Len()
	}
	return stats
}

// Complete returns up to k suggestions for input, best first.
func (e *Engine) Complete(input string, k int) ([]Suggestion, error) {
	snap := e.current.Load()
	if snap == nil {
		return nil, ErrModelNotLoaded
	}
	if !utf8.ValidString(input) {
		return nil, fmt.Errorf("%w: not valid UTF-8", ErrInvalidInput)
	}
	if k <= 0 {
		return []Suggestion{}, nil
	}

	key := cacheKey{input: input, k: k}
	if cached, ok := snap.get(key); ok {
		return cached, nil
	}

	start := time.Now()
	q := e.normalizer.Query(input)
	ctx := q.Context
	corrected := false
	if e.opts.SpellCorrect {
		ctx, corrected = snap.correct(ctx)
	}

	s := searcher{model: snap.model, opts: e.opts, context: ctx}
	finished := s.run(q.Fragment, k)
	results := rank(ctx, finished, k, corrected)

	log.Debugf("Completed %q: results=[%d], steps=[%d], took=[%v]", input, len(results), s.steps, time.Since(start))
	snap.put(key, results)
	return results, nil
}

// partial is a completion under construction.
type partial struct {
	tokens []string
	logp   float64
}

type scored struct {
	token string
	p     float64
}

// searcher runs one bounded beam search.
type searcher struct {
	model   *ngram.Model
	opts    Options
	context []string
	steps   int
}

func (s *searcher) run(fragment string, k int) []partial {
	first, ok := s.firstCandidates(fragment)
	if !ok {
		// nothing known starts with the fragment: keep the user's text as is
		return []partial{{tokens: []string{fragment}, logp: math.Log(s.model.Floor())}}
	}

	var finished []partial
	live := []partial{{}}
	for depth := 0; len(live) > 0 && len(finished) < k && s.steps < s.opts.StepBudget; depth++ {
		var next []partial
		for _, p := range live {
			path := concat(s.context, p.tokens)
			cands := first
			if depth > 0 {
				cands = sortScored(s.model.Candidates(path))
			}
			if len(cands) > s.opts.BeamWidth {
				cands = cands[:s.opts.BeamWidth]
			}
			for _, c := range cands {
				if s.steps >= s.opts.StepBudget {
					break
				}
				s.steps++
				logp := p.logp + math.Log(s.model.Score(path, c.token))
				if c.token == normalize.EndToken {
					if len(p.tokens) > 0 {
						finished = append(finished, partial{tokens: p.tokens, logp: logp})
					}
					continue
				}
				child := partial{tokens: append(slices.Clip(p.tokens), c.token), logp: logp}
				if len(child.tokens) >= s.opts.MaxCompletionLength {
					finished = append(finished, child)
					continue
				}
				next = append(next, child)
			}
		}
		sortPartials(next)
		if len(next) > s.opts.BeamWidth {
			next = next[:s.opts.BeamWidth]
		}
		live = next
	}
	return finished
}

// firstCandidates picks the tokens allowed at the first step. With a fragment
// they must start with it: observed continuations are preferred, then any
// vocabulary token. ok is false when no token matches the fragment.
func (s *searcher) firstCandidates(fragment string) ([]scored, bool) {
	observed := sortScored(s.model.Candidates(s.context))
	if fragment == "" {
		// ending right away adds nothing, so </s> must not take a beam slot
		observed = slices.DeleteFunc(observed, func(c scored) bool {
			return c.token == normalize.EndToken
		})
		return observed, true
	}

	var matching []scored
	for _, c := range observed {
		if !normalize.IsBoundary(c.token) && strings.HasPrefix(c.token, fragment) {
			matching = append(matching, c)
		}
	}
	if len(matching) > 0 {
		return matching, true
	}

	for _, word := range s.model.Vocabulary().WithPrefix(fragment) {
		matching = append(matching, scored{token: word, p: s.model.Score(s.context, word)})
	}
	sortScoredSlice(matching)
	return matching, len(matching) > 0
}

// rank renders finished partials and orders them by score, then fewer
// tokens, then text. Duplicate texts keep their best entry.
func rank(ctx []string, finished []partial, k int, corrected bool) []Suggestion {
	out := make([]Suggestion, 0, len(finished))
	for _, p := range finished {
		out = append(out, Suggestion{
			Text:      normalize.Render(concat(ctx, p.tokens)),
			Tokens:    p.tokens,
			Score:     p.logp,
			Corrected: corrected,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return Less(out[i], out[j])
	})

	filter := utils.NewSuggestionFilter()
	unique := out[:0]
	for _, s := range out {
		if filter.ShouldInclude(s.Text) {
			unique = append(unique, s)
		}
	}
	if len(unique) > k {
		unique = unique[:k]
	}
	return unique
}

// Less orders suggestions: higher score first, then fewer tokens, then text.
func Less(a, b Suggestion) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if len(a.Tokens) != len(b.Tokens) {
		return len(a.Tokens) < len(b.Tokens)
	}
	return a.Text < b.Text
}

func sortScored(dist map[string]float64) []scored {
	out := make([]scored, 0, len(dist))
	for tok, p := range dist {
		out = append(out, scored{token: tok, p: p})
	}
	sortScoredSlice(out)
	return out
}

func sortScoredSlice(s []scored) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].p != s[j].p {
			return s[i].p > s[j].p
		}
		return s[i].token < s[j].token
	})
}

func sortPartials(ps []partial) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].logp != ps[j].logp {
			return ps[i].logp > ps[j].logp
		}
		if len(ps[i].tokens) != len(ps[j].tokens) {
			return len(ps[i].tokens) < len(ps[j].tokens)
		}
		return slices.Compare(ps[i].tokens, ps[j].tokens) < 0
	})
}

func concat(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

// snapshot is everything derived from one model. It is replaced as a whole.
type snapshot struct {
	model     *ngram.Model
	corrector *fuzzy.Corrector
	cache     *resultCache
}

func newSnapshot(m *ngram.Model, opts Options) *snapshot {
	snap := &snapshot{model: m}
	if opts.SpellCorrect {
		snap.corrector = fuzzy.NewCorrector(m.Vocabulary().Counts(), func(w string) bool {
			return normalize.IsBoundary(w) || normalize.IsPunct(w)
		})
	}
	if opts.CacheSize > 0 {
		snap.cache = newResultCache(opts.CacheSize)
	}
	return snap
}

// correct replaces unknown context words with their closest vocabulary word.
func (s *snapshot) correct(ctx []string) ([]string, bool) {
	if s.corrector == nil {
		return ctx, false
	}
	vocab := s.model.Vocabulary()
	out := ctx
	changed := false
	for i, tok := range ctx {
		if vocab.Contains(tok) || normalize.IsPunct(tok) {
			continue
		}
		fixed, ok := s.corrector.Correct(tok)
		if !ok {
			continue
		}
		if !changed {
			out = slices.Clone(ctx)
			changed = true
		}
		log.Debugf("Corrected '%s' to '%s'", tok, fixed)
		out[i] = fixed
	}
	return out, changed
}

func (s *snapshot) get(key cacheKey) ([]Suggestion, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.Get(key)
}

func (s *snapshot) put(key cacheKey, results []Suggestion) {
	if s.cache != nil {
		s.cache.Add(key, results)
	}
}
