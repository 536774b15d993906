package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/bastiangx/chatserve/pkg/ngram"
	"github.com/bastiangx/chatserve/pkg/normalize"
	"github.com/bastiangx/chatserve/pkg/suggest"
	"github.com/charmbracelet/log"
	"github.com/vmihailenco/msgpack/v5"
)

func init() {
	log.SetLevel(log.ErrorLevel)
}

func newTestEngine(t *testing.T, loaded bool) *suggest.Engine {
	t.Helper()
	e := suggest.NewEngine(normalize.New(), suggest.DefaultOptions())
	if !loaded {
		return e
	}
	sentences := [][]string{
		{"hi", "how", "are", "you"},
		{"hi", "how", "is", "it", "going"},
	}
	m, err := ngram.Train(slices.Values(sentences), 2, 1e-6)
	if err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	e.Load(m)
	return e
}

func get(t *testing.T, h http.Handler, target string) (*httptest.ResponseRecorder, []string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body []string
	if strings.HasPrefix(target, "/api/complete") {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: response is not a JSON array: %q", target, rec.Body.String())
		}
	}
	return rec, body
}

func TestHTTPComplete(t *testing.T) {
	s := NewHTTPServer(newTestEngine(t, true), "", Options{DefaultLimit: 2, MaxLimit: 4, MaxQueryLen: 32})
	h := s.Handler()

	rec, body := get(t, h, "/api/complete?q="+url.QueryEscape("hi how"))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	expected := []string{"Hi how are you", "Hi how is it going"}
	if !slices.Equal(body, expected) {
		t.Errorf("expected %q, got %q", expected, body)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("missing request ID header")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type %q", ct)
	}

	_, body = get(t, h, "/api/complete?q="+url.QueryEscape("hi how")+"&n=1")
	if !slices.Equal(body, expected[:1]) {
		t.Errorf("n=1: expected %q, got %q", expected[:1], body)
	}

	rec, body = get(t, h, "/api/complete?q=hi&n=0")
	if rec.Code != http.StatusOK || len(body) != 0 {
		t.Errorf("n=0: expected empty 200, got %d %q", rec.Code, body)
	}
}

func TestHTTPCompleteBadRequests(t *testing.T) {
	h := NewHTTPServer(newTestEngine(t, true), "", Options{MaxQueryLen: 8}).Handler()

	testCases := []struct {
		name   string
		target string
	}{
		{"missing q", "/api/complete"},
		{"invalid utf8", "/api/complete?q=%FF%FE"},
		{"too long", "/api/complete?q=" + url.QueryEscape("hi how are you today")},
		{"non-integer n", "/api/complete?q=hi&n=two"},
		{"negative n", "/api/complete?q=hi&n=-3"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := get(t, h, tc.target)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
			if body == nil || len(body) != 0 {
				t.Errorf("expected empty array, got %q", rec.Body.String())
			}
		})
	}
}

func TestHTTPNoModel(t *testing.T) {
	h := NewHTTPServer(newTestEngine(t, false), "", Options{}).Handler()

	rec, body := get(t, h, "/api/complete?q=hi")
	if rec.Code != http.StatusServiceUnavailable || len(body) != 0 {
		t.Errorf("expected empty 503, got %d %q", rec.Code, body)
	}

	rec, _ = get(t, h, "/api/health")
	var health HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusServiceUnavailable || health.Status != StatusNoModel {
		t.Errorf("unexpected health %d %+v", rec.Code, health)
	}
}

func TestHTTPHealthAndReload(t *testing.T) {
	engine := newTestEngine(t, false)
	reloads := 0
	reload := func() (map[string]int, error) {
		reloads++
		if reloads > 1 {
			return nil, errors.New("artifact missing")
		}
		loaded := newTestEngine(t, true)
		engine.Load(loaded.Model())
		return engine.Stats(), nil
	}
	h := NewHTTPServer(engine, "", Options{Reload: reload}).Handler()

	post := func() (*httptest.ResponseRecorder, ReloadResponse) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reload", nil))
		var resp ReloadResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatal(err)
		}
		return rec, resp
	}

	rec, resp := post()
	if rec.Code != http.StatusOK || resp.Status != StatusReloaded || resp.Model["loaded"] != 1 {
		t.Errorf("unexpected reload response %d %+v", rec.Code, resp)
	}

	rec, _ = get(t, h, "/api/health")
	var health HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || health.Status != StatusOK || health.Model["order"] != 2 {
		t.Errorf("unexpected health %d %+v", rec.Code, health)
	}

	rec, resp = post()
	if rec.Code != http.StatusInternalServerError || resp.Error != "artifact missing" {
		t.Errorf("expected failed reload, got %d %+v", rec.Code, resp)
	}
	if !engine.Loaded() {
		t.Error("failed reload must keep the previous model")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/reload", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET /api/reload, got %d", rec.Code)
	}
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	s := NewHTTPServer(newTestEngine(t, true), "127.0.0.1:0", Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.ListenAndServe(ctx); err != nil {
		t.Errorf("expected clean shutdown, got %v", err)
	}
}

func encodeRequests(t *testing.T, reqs ...any) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	for _, r := range reqs {
		if err := enc.Encode(r); err != nil {
			t.Fatal(err)
		}
	}
	return &buf
}

func TestIPCSession(t *testing.T) {
	in := encodeRequests(t,
		CompletionRequest{ID: "req_001", Prefix: "hi how", Limit: 2},
		CompletionRequest{ID: "req_002", Prefix: "hi \xff"},
		CompletionRequest{ID: "ctl_001", Action: ActionStats},
		CompletionRequest{ID: "ctl_002", Action: "dance"},
		"not a request",
		CompletionRequest{ID: "ctl_003", Action: ActionReload},
	)
	var out bytes.Buffer
	s := NewIPCServerWithIO(newTestEngine(t, true), Options{}, in, &out)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	dec := msgpack.NewDecoder(&out)
	var ready map[string]string
	if err := dec.Decode(&ready); err != nil || ready["status"] != StatusReady {
		t.Fatalf("expected ready message, got %v %v", ready, err)
	}

	var completion CompletionResponse
	if err := dec.Decode(&completion); err != nil {
		t.Fatal(err)
	}
	if completion.ID != "req_001" || completion.Count != 2 {
		t.Fatalf("unexpected completion response %+v", completion)
	}
	if completion.Suggestions[0].Text != "Hi how are you" || completion.Suggestions[0].Rank != 1 || completion.Suggestions[1].Rank != 2 {
		t.Errorf("unexpected suggestions %+v", completion.Suggestions)
	}

	var bad CompletionError
	if err := dec.Decode(&bad); err != nil {
		t.Fatal(err)
	}
	if bad.ID != "req_002" || bad.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid UTF-8, got %+v", bad)
	}

	var stats ControlResponse
	if err := dec.Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.ID != "ctl_001" || stats.Status != StatusOK || stats.Model["vocabulary"] == 0 {
		t.Errorf("unexpected stats response %+v", stats)
	}

	var unknown CompletionError
	if err := dec.Decode(&unknown); err != nil {
		t.Fatal(err)
	}
	if unknown.ID != "ctl_002" || unknown.Code != http.StatusBadRequest {
		t.Errorf("unexpected unknown action response %+v", unknown)
	}

	var malformed CompletionError
	if err := dec.Decode(&malformed); err != nil {
		t.Fatal(err)
	}
	if malformed.Code != http.StatusBadRequest {
		t.Errorf("unexpected malformed response %+v", malformed)
	}

	var reload CompletionError
	if err := dec.Decode(&reload); err != nil {
		t.Fatal(err)
	}
	if reload.ID != "ctl_003" || reload.Code != http.StatusNotImplemented {
		t.Errorf("expected 501 without reload func, got %+v", reload)
	}
}

func TestIPCNoModel(t *testing.T) {
	in := encodeRequests(t, CompletionRequest{ID: "a", Prefix: "hi"})
	var out bytes.Buffer
	if err := NewIPCServerWithIO(newTestEngine(t, false), Options{}, in, &out).Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	dec := msgpack.NewDecoder(&out)
	var ready map[string]string
	if err := dec.Decode(&ready); err != nil {
		t.Fatal(err)
	}
	var resp CompletionError
	if err := dec.Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %+v", resp)
	}
}

func TestIPCStopsOnCancelWhileWaiting(t *testing.T) {
	reqR, reqW := io.Pipe()
	defer reqW.Close()
	var out bytes.Buffer

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewIPCServerWithIO(newTestEngine(t, true), Options{}, reqR, &out).Start(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected clean stop, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("IPC server still blocked on input after cancel")
	}
}
