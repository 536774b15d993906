/*
Package server exposes the completion engine over HTTP and over msgpack IPC.

# HTTP

	GET  /api/complete?q=TEXT&n=K   ordered JSON array of suggestion strings
	GET  /api/health                status and model statistics
	POST /api/reload                reload the model artifact from disk

A missing, over-long or non UTF-8 q, or a non-integer n, answers [] with 400.
Without a model, /api/complete answers [] with 503.

# IPC

The IPC server reads a stream of msgpack maps from stdin and writes one
msgpack map per request to stdout. After start it writes {"status": "ready"}.

Completion requests carry the partial text and an optional limit:

	{"id": "req_001", "p": "hi how", "l": 2}

The response lists suggestions best first with their rank and log score:

	{"id": "req_001", "s": [{"w": "Hi how are you", "r": 1, "sc": -0.69}], "c": 1, "t": 145}

Control requests use the action field:

	{"id": "ctl_001", "action": "stats"}
	{"id": "ctl_002", "action": "reload"}

Failures answer with {"id": ..., "e": message, "c": code}, using HTTP status codes.
*/
package server

// Statuses used in health, reload and control responses.
const (
	StatusOK       = "ok"
	StatusReady    = "ready"
	StatusNoModel  = "no_model"
	StatusReloaded = "reloaded"
	StatusError    = "error"
)

// Control actions understood by the IPC server.
const (
	ActionComplete = ""
	ActionStats    = "stats"
	ActionReload   = "reload"
)

// ReloadFunc loads the model artifact again and returns the new model stats.
type ReloadFunc func() (map[string]int, error)

// Options are shared by both transports.
type Options struct {
	DefaultLimit int
	MaxLimit     int
	// MaxQueryLen is the longest accepted input in runes.
	MaxQueryLen int
	Reload      ReloadFunc
}

func (o Options) withDefaults() Options {
	if o.MaxLimit < 1 {
		o.MaxLimit = 16
	}
	if o.DefaultLimit < 1 {
		o.DefaultLimit = 2
	}
	o.DefaultLimit = min(o.DefaultLimit, o.MaxLimit)
	if o.MaxQueryLen < 1 {
		o.MaxQueryLen = 256
	}
	return o
}

func (o Options) clampLimit(n int) int {
	return min(n, o.MaxLimit)
}

// CompletionRequest - minimal completion or control request
type CompletionRequest struct {
	ID     string `msgpack:"id"`
	Action string `msgpack:"action,omitempty"`
	Prefix string `msgpack:"p"`
	Limit  int    `msgpack:"l,omitempty"`
}

// CompletionSuggestion - one ranked sentence
type CompletionSuggestion struct {
	Text  string  `msgpack:"w"`
	Rank  uint16  `msgpack:"r"`
	Score float64 `msgpack:"sc"`
}

// CompletionResponse - completion response, TimeTaken in microseconds
type CompletionResponse struct {
	ID          string                 `msgpack:"id"`
	Suggestions []CompletionSuggestion `msgpack:"s"`
	Count       int                    `msgpack:"c"`
	TimeTaken   int64                  `msgpack:"t"`
	Corrected   bool                   `msgpack:"x,omitempty"`
}

// ControlResponse - answer to stats and reload actions
type ControlResponse struct {
	ID     string         `msgpack:"id"`
	Status string         `msgpack:"status"`
	Error  string         `msgpack:"error,omitempty"`
	Model  map[string]int `msgpack:"model,omitempty"`
}

// CompletionError holds basic error information for failed requests
type CompletionError struct {
	ID    string `msgpack:"id"`
	Error string `msgpack:"e"`
	Code  int    `msgpack:"c"`
}
