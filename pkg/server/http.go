package server

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bastiangx/chatserve/internal/logger"
	"github.com/bastiangx/chatserve/internal/utils"
	"github.com/bastiangx/chatserve/pkg/suggest"
	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
	"github.com/oklog/ulid/v2"
)

// RequestIDHeader carries the ID assigned to every HTTP request.
const RequestIDHeader = "X-Request-ID"

// HTTPServer serves completions as JSON.
type HTTPServer struct {
	completer  suggest.ICompleter
	opts       Options
	router     *mux.Router
	httpServer *http.Server
	ids        *idSource
	log        *log.Logger
}

// NewHTTPServer creates the router for completer. addr is only used by ListenAndServe.
func NewHTTPServer(completer suggest.ICompleter, addr string, opts Options) *HTTPServer {
	s := &HTTPServer{
		completer: completer,
		opts:      opts.withDefaults(),
		ids:       newIDSource(),
		log:       logger.New("http"),
	}
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *HTTPServer) setupRoutes() {
	s.router = mux.NewRouter()
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/complete", s.handleComplete).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/reload", s.handleReload).Methods("POST")
	s.router.Use(s.requestLogging)
}

// Handler exposes the router, mainly for httptest.
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("Listening on http://%s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info("Server stopped")
	return nil
}

// handleComplete answers GET /api/complete?q=TEXT&n=K with a JSON array of strings.
// Every failure still answers with an empty array.
func (s *HTTPServer) handleComplete(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if !query.Has("q") {
		s.writeSuggestions(w, http.StatusBadRequest, nil)
		return
	}
	q := query.Get("q")
	if problem := utils.CheckQuery(q, s.opts.MaxQueryLen, true); problem != utils.QueryOK {
		s.log.Debugf("Rejected query: %s", problem)
		s.writeSuggestions(w, http.StatusBadRequest, nil)
		return
	}

	limit := s.opts.DefaultLimit
	if raw := query.Get("n"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeSuggestions(w, http.StatusBadRequest, nil)
			return
		}
		limit = s.opts.clampLimit(n)
	}

	suggestions, err := s.completer.Complete(q, limit)
	switch {
	case errors.Is(err, suggest.ErrModelNotLoaded):
		s.writeSuggestions(w, http.StatusServiceUnavailable, nil)
	case errors.Is(err, suggest.ErrInvalidInput):
		s.writeSuggestions(w, http.StatusBadRequest, nil)
	case err != nil:
		s.log.Errorf("Complete failed: %v", err)
		s.writeSuggestions(w, http.StatusInternalServerError, nil)
	default:
		s.writeSuggestions(w, http.StatusOK, suggestions)
	}
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status string         `json:"status"`
	Model  map[string]int `json:"model,omitempty"`
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.completer.Loaded() {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: StatusNoModel})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: StatusOK, Model: s.completer.Stats()})
}

// ReloadResponse is the body of POST /api/reload.
type ReloadResponse struct {
	Status string         `json:"status"`
	Error  string         `json:"error,omitempty"`
	Model  map[string]int `json:"model,omitempty"`
}

func (s *HTTPServer) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.opts.Reload == nil {
		writeJSON(w, http.StatusNotImplemented, ReloadResponse{Status: StatusError, Error: "reload not configured"})
		return
	}
	stats, err := s.opts.Reload()
	if err != nil {
		s.log.Errorf("Reload failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, ReloadResponse{Status: StatusError, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ReloadResponse{Status: StatusReloaded, Model: stats})
}

func (s *HTTPServer) writeSuggestions(w http.ResponseWriter, status int, suggestions []suggest.Suggestion) {
	texts := make([]string, len(suggestions))
	for i, sug := range suggestions {
		texts[i] = sug.Text
	}
	writeJSON(w, status, texts)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Errorf("Encoding response: %v", err)
	}
}

// requestLogging tags every request with a ULID and logs its outcome.
func (s *HTTPServer) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := s.ids.next()
		w.Header().Set(RequestIDHeader, id)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.log.Debug("request", "id", id, "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "took", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// idSource hands out monotonic ULIDs. Monotonic entropy is not safe for
// concurrent use.
type idSource struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func newIDSource() *idSource {
	return &idSource{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (s *idSource) next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Now(), s.entropy).String()
}
