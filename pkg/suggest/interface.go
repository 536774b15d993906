// Package suggest is the core, extending a partial chat message into ranked full-sentence completions.
package suggest

// ICompleter defines the interface for sentence completion engines
type ICompleter interface {
	// Complete returns at most limit suggestions for a partial input
	Complete(input string, limit int) ([]Suggestion, error)

	// Loaded reports whether a model is attached
	Loaded() bool

	// Stats returns statistics about the attached model
	Stats() map[string]int
}
