/*
Package normalize turns raw chat text into token sequences for the n-gram model
and renders token sequences back into display text.

The same scanner is used for the training corpus and for partial queries, so
both sides agree on what a token is:

  - HTML-like markup is removed and entities are unescaped
  - text is lower-cased
  - a message is split into sentences after '.', '!' or '?' followed by
    whitespace or the end of the text
  - '?' and '!' are kept as tokens of their own, all other punctuation is dropped
  - apostrophes and hyphens are kept inside words ("don't", "e-mail")

Every sentence produced for training is wrapped in StartToken and EndToken.
*/
package normalize

import (
	"iter"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// Reserved boundary tokens.
const (
	StartToken = "<s>"
	EndToken   = "</s>"
)

// Normalizer converts messages into token sequences.
// It holds no mutable state and is safe for concurrent use.
type Normalizer struct {
	isolate map[rune]bool
}

// New returns a Normalizer that isolates '?' and '!' as tokens.
func New() *Normalizer {
	return &Normalizer{
		isolate: map[rune]bool{'?': true, '!': true},
	}
}

// Query is a partial input split into the sentence being typed and
// the word still in progress.
type Query struct {
	// Context starts with StartToken followed by the completed tokens
	// of the last sentence in the input.
	Context []string
	// Fragment is the unterminated last word, empty when the input ends
	// in whitespace or punctuation.
	Fragment string
}

// HasFragment reports whether the input ends inside a word.
func (q Query) HasFragment() bool {
	return q.Fragment != ""
}

// Words returns the completed tokens without the start marker.
func (q Query) Words() []string {
	if len(q.Context) == 0 {
		return nil
	}
	return q.Context[1:]
}

// Sentences lazily yields one bounded token sequence per sentence found in messages.
// Empty messages and sentences without a word are skipped.
func (n *Normalizer) Sentences(messages []string) iter.Seq[[]string] {
	return func(yield func([]string) bool) {
		for _, msg := range messages {
			for _, sentence := range n.Split(msg) {
				if !yield(Bound(sentence)) {
					return
				}
			}
		}
	}
}

// Split tokenizes text into sentences without boundary markers.
func (n *Normalizer) Split(text string) [][]string {
	sc := n.scan(text)
	sentences := sc.done
	tail := sc.current
	if sc.word.Len() > 0 {
		if w := strings.TrimRight(sc.word.String(), "'-"); w != "" {
			tail = append(tail, w)
		}
	}
	if hasWord(tail) {
		sentences = append(sentences, tail)
	}
	return sentences
}

// Query splits a partial input. Only the last, unfinished sentence is used
// as context; earlier sentences in the input do not influence completions.
func (n *Normalizer) Query(input string) Query {
	sc := n.scan(input)
	ctx := make([]string, 0, len(sc.current)+1)
	ctx = append(ctx, StartToken)
	ctx = append(ctx, sc.current...)
	return Query{
		Context:  ctx,
		Fragment: sc.word.String(),
	}
}

// Bound wraps tokens in StartToken and EndToken unless they are already present.
func Bound(tokens []string) []string {
	out := make([]string, 0, len(tokens)+2)
	if len(tokens) == 0 || tokens[0] != StartToken {
		out = append(out, StartToken)
	}
	out = append(out, tokens...)
	if len(tokens) == 0 || tokens[len(tokens)-1] != EndToken {
		out = append(out, EndToken)
	}
	return out
}

// IsBoundary reports whether tok is a sentence marker.
func IsBoundary(tok string) bool {
	return tok == StartToken || tok == EndToken
}

// IsPunct reports whether tok is an isolated punctuation token.
func IsPunct(tok string) bool {
	return tok == "?" || tok == "!"
}

// Render joins tokens into display text. Boundary markers are dropped,
// punctuation is attached to the preceding word, and the first word of each
// sentence as well as the pronoun "i" are capitalized.
func Render(tokens []string) string {
	var b strings.Builder
	capNext := true
	for _, tok := range tokens {
		if tok == "" || IsBoundary(tok) {
			continue
		}
		if IsPunct(tok) {
			b.WriteString(tok)
			capNext = true
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		word := tok
		if word == "i" || strings.HasPrefix(word, "i'") {
			word = "I" + word[1:]
		}
		if capNext {
			word = capitalize(word)
			capNext = false
		}
		b.WriteString(word)
	}
	return b.String()
}

func capitalize(word string) string {
	r, size := utf8.DecodeRuneInString(word)
	if r == utf8.RuneError {
		return word
	}
	return string(unicode.ToUpper(r)) + word[size:]
}

func hasWord(tokens []string) bool {
	for _, tok := range tokens {
		if !IsPunct(tok) && !IsBoundary(tok) {
			return true
		}
	}
	return false
}

// scanner accumulates tokens while walking the cleaned text.
type scanner struct {
	done    [][]string
	current []string
	word    strings.Builder
	// pending is set after a sentence terminator until the next rune decides
	// whether the sentence really ended.
	pending bool
}

func (s *scanner) flushWord() {
	if s.word.Len() == 0 {
		return
	}
	w := strings.TrimRight(s.word.String(), "'-")
	s.word.Reset()
	if w != "" {
		s.current = append(s.current, w)
	}
}

func (s *scanner) endSentence() {
	s.pending = false
	if hasWord(s.current) {
		s.done = append(s.done, s.current)
	}
	s.current = nil
}

func (n *Normalizer) scan(text string) *scanner {
	text = strings.ToLower(stripMarkup(text))
	text = strings.ReplaceAll(text, "’", "'")
	runes := []rune(text)

	sc := &scanner{}
	for i, r := range runes {
		switch {
		case isWordRune(r):
			sc.pending = false
			sc.word.WriteRune(r)
		case r == '\'' || r == '-':
			sc.pending = false
			if sc.word.Len() == 0 {
				continue
			}
			// a joiner only belongs to the word when a word rune follows, or
			// when the input stops right after it (word still being typed)
			if i+1 == len(runes) || isWordRune(runes[i+1]) {
				sc.word.WriteRune(r)
				continue
			}
			sc.flushWord()
		case unicode.IsSpace(r):
			sc.flushWord()
			if sc.pending {
				sc.endSentence()
			}
		case n.isolate[r]:
			sc.flushWord()
			sc.current = append(sc.current, string(r))
			sc.pending = true
		case r == '.':
			sc.flushWord()
			sc.pending = true
		default:
			sc.flushWord()
			sc.pending = false
		}
	}
	if sc.pending {
		sc.flushWord()
		sc.endSentence()
	}
	return sc
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// stripMarkup removes tags and comments, keeping the text between them.
func stripMarkup(text string) string {
	if !strings.ContainsAny(text, "<&") {
		return text
	}
	z := html.NewTokenizer(strings.NewReader(text))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			b.WriteByte(' ')
		}
	}
}
