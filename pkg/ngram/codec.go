package ngram

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/vmihailenco/msgpack/v5"
)

const artifactVersion = 1

// artifact is the msgpack layout of a saved model. Totals and the vocabulary
// are derived on load.
type artifact struct {
	Version int                         `msgpack:"v"`
	Order   int                         `msgpack:"n"`
	Floor   float64                     `msgpack:"floor"`
	Tables  []map[string]map[string]int `msgpack:"tables"`
}

// Save writes the model as msgpack. Map keys are sorted, so equal models
// always produce equal bytes.
func (m *Model) Save(w io.Writer) error {
	a := artifact{
		Version: artifactVersion,
		Order:   m.order,
		Floor:   m.floor,
		Tables:  make([]map[string]map[string]int, len(m.tables)),
	}
	for k, table := range m.tables {
		a.Tables[k] = make(map[string]map[string]int, len(table))
		for key, dist := range table {
			a.Tables[k][key] = dist.Counts
		}
	}

	enc := msgpack.NewEncoder(w)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(&a); err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}
	return nil
}

// Load decodes a model written by Save.
func Load(r io.Reader) (*Model, error) {
	var a artifact
	if err := msgpack.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArtifact, err)
	}
	if a.Version != artifactVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadArtifact, a.Version)
	}
	if a.Order < 1 || len(a.Tables) != a.Order {
		return nil, fmt.Errorf("%w: order %d with %d tables", ErrBadArtifact, a.Order, len(a.Tables))
	}
	if !(a.Floor > 0 && a.Floor < 1) {
		return nil, fmt.Errorf("%w: floor probability %g", ErrBadArtifact, a.Floor)
	}

	tables := make([]map[string]*Distribution, a.Order)
	for k, raw := range a.Tables {
		tables[k] = make(map[string]*Distribution, len(raw))
		for key, counts := range raw {
			dist := &Distribution{Counts: make(map[string]int, len(counts))}
			for tok, c := range counts {
				if c < 0 {
					return nil, fmt.Errorf("%w: negative count for %q", ErrBadArtifact, tok)
				}
				dist.Counts[tok] = c
				dist.Total += c
			}
			tables[k][key] = dist
		}
	}
	if uni, ok := tables[0][""]; !ok || uni.Total == 0 {
		return nil, fmt.Errorf("%w: empty unigram table", ErrBadArtifact)
	}
	return newModel(a.Order, a.Floor, tables), nil
}

// SaveFile writes the model to path through a temporary file in the same
// directory, so readers never observe a half-written artifact.
func (m *Model) SaveFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create model dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".model-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := m.Save(w); err != nil {
		tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close model file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move model into place: %w", err)
	}
	log.Debugf("Saved model to %s", path)
	return nil
}

// LoadFile reads a model artifact from path.
func LoadFile(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open model %s: %w", path, err)
	}
	defer f.Close()

	m, err := Load(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", path, err)
	}
	log.Debugf("Loaded model from %s: order=[%d], vocab=[%d]", path, m.order, m.vocab.Len())
	return m, nil
}
