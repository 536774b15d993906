package ngram

import (
	"bytes"
	"errors"
	"math"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/bastiangx/chatserve/pkg/normalize"
	"github.com/vmihailenco/msgpack/v5"
)

const testFloor = 1e-6

var chatCorpus = [][]string{
	{"hi", "how", "are", "you"},
	{"hi", "how", "is", "it", "going"},
}

func trainChat(t *testing.T, order int) *Model {
	t.Helper()
	m, err := Train(slices.Values(chatCorpus), order, testFloor)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	return m
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestTrainCounts(t *testing.T) {
	m := trainChat(t, 2)

	testCases := []struct {
		ngram    []string
		expected int
	}{
		{[]string{"hi"}, 2},
		{[]string{"how"}, 2},
		{[]string{normalize.EndToken}, 2},
		{[]string{normalize.StartToken, "hi"}, 2},
		{[]string{"hi", "how"}, 2},
		{[]string{"how", "are"}, 1},
		{[]string{"how", "is"}, 1},
		{[]string{"going", normalize.EndToken}, 1},
		{[]string{"how", "you"}, 0},
		{[]string{"hi", "how", "are"}, 0},
		{nil, 0},
	}
	for _, tc := range testCases {
		if got := m.Count(tc.ngram); got != tc.expected {
			t.Errorf("Count(%v) = %d, expected %d", tc.ngram, got, tc.expected)
		}
	}

	uni := m.Distribution(nil)
	if uni == nil || uni.Total != 11 {
		t.Fatalf("expected unigram total 11, got %+v", uni)
	}
}

// The counts under a context must add up to the number of times the context was seen.
func TestDistributionTotals(t *testing.T) {
	m := trainChat(t, 3)
	for k, table := range m.tables {
		for key, dist := range table {
			sum := 0
			for _, c := range dist.Counts {
				if c < 0 {
					t.Fatalf("negative count under %q", key)
				}
				sum += c
			}
			if sum != dist.Total {
				t.Errorf("order %d context %q: sum %d != total %d", k+1, key, sum, dist.Total)
			}
		}
	}
}

func TestTrainErrors(t *testing.T) {
	testCases := []struct {
		name     string
		corpus   [][]string
		order    int
		floor    float64
		expected error
	}{
		{"zero order", chatCorpus, 0, testFloor, ErrInvalidOrder},
		{"negative order", chatCorpus, -2, testFloor, ErrInvalidOrder},
		{"zero floor", chatCorpus, 2, 0, ErrInvalidFloor},
		{"floor of one", chatCorpus, 2, 1, ErrInvalidFloor},
		{"empty corpus", nil, 2, testFloor, ErrEmptyCorpus},
		{"only empty sequences", [][]string{{}, {normalize.StartToken, normalize.EndToken}}, 2, testFloor, ErrEmptyCorpus},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := Train(slices.Values(tc.corpus), tc.order, tc.floor)
			if m != nil {
				t.Errorf("expected no model on error, got %v", m)
			}
			if !errors.Is(err, tc.expected) {
				t.Errorf("expected %v, got %v", tc.expected, err)
			}
			if !errors.Is(err, ErrTraining) {
				t.Errorf("expected error to wrap ErrTraining, got %v", err)
			}
		})
	}
}

func TestScore(t *testing.T) {
	m := trainChat(t, 2)

	testCases := []struct {
		context  []string
		token    string
		expected float64
		desc     string
	}{
		{[]string{normalize.StartToken, "hi"}, "how", 1.0, "observed bigram"},
		{[]string{"hi", "how"}, "are", 0.5, "context trimmed to N-1"},
		{[]string{"how"}, "you", BackoffWeight / 11, "observed context missing token backs off with penalty"},
		{[]string{"zzz"}, "are", 1.0 / 11, "unseen context falls back for free"},
		{nil, "hi", 2.0 / 11, "unigram"},
		{[]string{"how"}, "zebra", testFloor, "unknown token gets floor"},
		{[]string{"how"}, normalize.StartToken, testFloor, "start marker is never predicted"},
	}
	for _, tc := range testCases {
		got := m.Score(tc.context, tc.token)
		if !almostEqual(got, tc.expected) {
			t.Errorf("%s: Score(%v, %q) = %g, expected %g", tc.desc, tc.context, tc.token, got, tc.expected)
		}
		if got < testFloor || got > 1 {
			t.Errorf("%s: score %g out of [floor, 1]", tc.desc, got)
		}
	}
}

// With an unseen higher-order context, shortening the context never raises the score.
func TestScoreBackoffMonotone(t *testing.T) {
	m := trainChat(t, 3)
	contexts := [][]string{
		{"qqq", "zzz", "how"},
		{"zzz", "how"},
		{"how"},
	}
	for _, tok := range []string{"are", "is", "you", "going", normalize.EndToken} {
		prev := math.Inf(1)
		for _, ctx := range contexts {
			s := m.Score(ctx, tok)
			if s > prev+1e-12 {
				t.Errorf("Score(%v, %q) = %g rose above %g", ctx, tok, s, prev)
			}
			prev = s
		}
		// fully unseen context equals the unigram estimate
		if a, b := m.Score([]string{"qqq", "zzz"}, tok), m.Score(nil, tok); !almostEqual(a, b) {
			t.Errorf("unseen context score %g != unigram score %g for %q", a, b, tok)
		}
	}
}

func TestCandidates(t *testing.T) {
	m := trainChat(t, 2)

	got := m.Candidates([]string{"hi", "how"})
	expected := map[string]float64{"are": 0.5, "is": 0.5}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("Candidates(hi how) = %v, expected %v", got, expected)
	}

	unseen := m.Candidates([]string{"zzz"})
	if len(unseen) != 8 {
		t.Errorf("expected unigram fallback with 8 tokens, got %v", unseen)
	}
	if _, ok := unseen[normalize.StartToken]; ok {
		t.Error("start marker must not be a candidate")
	}
}

func TestCandidatesSumAtMostOne(t *testing.T) {
	m := trainChat(t, 3)
	var contexts [][]string
	for k, table := range m.tables {
		for key := range table {
			if k == 0 {
				contexts = append(contexts, nil)
				continue
			}
			contexts = append(contexts, strings.Split(key, keySep))
		}
	}
	contexts = append(contexts, []string{"never", "seen"})

	for _, ctx := range contexts {
		sum := 0.0
		for tok, p := range m.Candidates(ctx) {
			if p <= 0 {
				t.Errorf("candidate %q after %v has non-positive probability", tok, ctx)
			}
			sum += p
		}
		if sum > 1+1e-9 {
			t.Errorf("candidates after %v sum to %g", ctx, sum)
		}
		for tok, p := range m.Candidates(ctx) {
			if !almostEqual(m.Score(ctx, tok), p) {
				t.Errorf("Score(%v, %q) = %g disagrees with candidate probability %g", ctx, tok, m.Score(ctx, tok), p)
			}
		}
	}
}

func TestTrainIdempotent(t *testing.T) {
	a := trainChat(t, 3)
	b := trainChat(t, 3)
	if !reflect.DeepEqual(a.tables, b.tables) {
		t.Fatal("training twice produced different tables")
	}

	var bufA, bufB bytes.Buffer
	if err := a.Save(&bufA); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := b.Save(&bufB); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !bytes.Equal(bufA.Bytes(), bufB.Bytes()) {
		t.Error("training twice produced different artifacts")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	m := trainChat(t, 3)

	var buf bytes.Buffer
	if err := m.Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := Load(&buf)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Order() != m.Order() || loaded.Floor() != m.Floor() {
		t.Errorf("order/floor mismatch: got %d/%g", loaded.Order(), loaded.Floor())
	}
	if !reflect.DeepEqual(loaded.tables, m.tables) {
		t.Error("tables differ after round trip")
	}
	if !reflect.DeepEqual(loaded.Vocabulary().Counts(), m.Vocabulary().Counts()) {
		t.Error("vocabulary differs after round trip")
	}
}

func TestSaveLoadFile(t *testing.T) {
	m := trainChat(t, 2)
	path := filepath.Join(t.TempDir(), "models", "chat.bin")

	if err := m.SaveFile(path); err != nil {
		t.Fatalf("SaveFile failed: %v", err)
	}
	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if got := loaded.Score([]string{"hi", "how"}, "is"); !almostEqual(got, 0.5) {
		t.Errorf("loaded model scores %g, expected 0.5", got)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.bin")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadRejectsBadArtifacts(t *testing.T) {
	encode := func(a artifact) []byte {
		data, err := msgpack.Marshal(&a)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		return data
	}
	uni := map[string]map[string]int{"": {"hi": 1, normalize.EndToken: 1}}

	testCases := []struct {
		name string
		data []byte
	}{
		{"garbage", []byte("not msgpack at all")},
		{"wrong version", encode(artifact{Version: 99, Order: 1, Floor: testFloor, Tables: []map[string]map[string]int{uni}})},
		{"table count mismatch", encode(artifact{Version: artifactVersion, Order: 2, Floor: testFloor, Tables: []map[string]map[string]int{uni}})},
		{"bad floor", encode(artifact{Version: artifactVersion, Order: 1, Floor: 2, Tables: []map[string]map[string]int{uni}})},
		{"empty unigram", encode(artifact{Version: artifactVersion, Order: 1, Floor: testFloor, Tables: []map[string]map[string]int{{}}})},
		{"negative count", encode(artifact{Version: artifactVersion, Order: 1, Floor: testFloor, Tables: []map[string]map[string]int{{"": {"hi": -1}}}})},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(bytes.NewReader(tc.data))
			if !errors.Is(err, ErrBadArtifact) {
				t.Errorf("expected ErrBadArtifact, got %v", err)
			}
		})
	}
}

func TestVocabulary(t *testing.T) {
	m := trainChat(t, 2)
	v := m.Vocabulary()

	if !v.Contains("going") || v.Contains("zebra") {
		t.Error("Contains gave wrong answer")
	}
	if v.Count(normalize.StartToken) != 2 {
		t.Errorf("expected start marker count 2, got %d", v.Count(normalize.StartToken))
	}
	if v.Len() != 9 {
		t.Errorf("expected 9 distinct tokens, got %d", v.Len())
	}

	testCases := []struct {
		prefix   string
		expected []string
	}{
		{"h", []string{"hi", "how"}},
		{"ho", []string{"how"}},
		{"i", []string{"is", "it"}},
		{"x", nil},
		{"", []string{"are", "going", "hi", "how", "is", "it", "you"}},
	}
	for _, tc := range testCases {
		if got := v.WithPrefix(tc.prefix); !slices.Equal(got, tc.expected) {
			t.Errorf("WithPrefix(%q) = %v, expected %v", tc.prefix, got, tc.expected)
		}
	}
}

func TestStats(t *testing.T) {
	m := trainChat(t, 2)
	stats := m.Stats()
	if stats["order"] != 2 || stats["vocabulary"] != 9 {
		t.Errorf("unexpected stats: %v", stats)
	}
	if stats["contexts_1"] != 1 || stats["ngrams_1"] != 8 {
		t.Errorf("unexpected unigram stats: %v", stats)
	}
}
