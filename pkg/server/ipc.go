package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/bastiangx/chatserve/internal/logger"
	"github.com/bastiangx/chatserve/internal/utils"
	"github.com/bastiangx/chatserve/pkg/suggest"
	"github.com/charmbracelet/log"
	"github.com/vmihailenco/msgpack/v5"
)

// IPCServer handles msgpack requests over a reader/writer pair, stdin/stdout by default.
type IPCServer struct {
	completer suggest.ICompleter
	opts      Options
	decoder   *msgpack.Decoder
	input     io.Closer
	writer    *bufio.Writer
	encoder   *msgpack.Encoder
	log       *log.Logger
	requests  int
}

// NewIPCServer creates a server on stdin/stdout.
func NewIPCServer(completer suggest.ICompleter, opts Options) *IPCServer {
	return NewIPCServerWithIO(completer, opts, os.Stdin, os.Stdout)
}

// NewIPCServerWithIO creates a server on r and w.
func NewIPCServerWithIO(completer suggest.ICompleter, opts Options, r io.Reader, w io.Writer) *IPCServer {
	bw := bufio.NewWriter(w)
	input, _ := r.(io.Closer)
	return &IPCServer{
		completer: completer,
		opts:      opts.withDefaults(),
		decoder:   msgpack.NewDecoder(bufio.NewReader(r)),
		writer:    bw,
		encoder:   msgpack.NewEncoder(bw),
		log:       logger.New("ipc"),
		input:     input,
	}
}

// Start announces readiness and serves requests until the input ends or ctx is done.
// When the input is an io.Closer it is closed on cancellation to unblock a pending read.
func (s *IPCServer) Start(ctx context.Context) error {
	s.log.Debug("Starting IPC server")
	if s.input != nil {
		stop := context.AfterFunc(ctx, func() {
			if err := s.input.Close(); err != nil {
				s.log.Debugf("Closing input: %v", err)
			}
		})
		defer stop()
	}
	if err := s.send(map[string]string{"status": StatusReady}); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		raw, err := s.decoder.DecodeRaw()
		if err != nil {
			if ctx.Err() != nil {
				s.log.Debugf("Stopped after %d requests", s.requests)
				return nil
			}
			if errors.Is(err, io.EOF) {
				s.log.Debugf("Input closed after %d requests", s.requests)
				return nil
			}
			return fmt.Errorf("failed to read request: %w", err)
		}
		s.requests++

		var req CompletionRequest
		if err := msgpack.Unmarshal(raw, &req); err != nil {
			s.log.Errorf("Unmarshaling request: %v", err)
			if err := s.sendError("", "invalid msgpack request", http.StatusBadRequest); err != nil {
				return err
			}
			continue
		}
		if err := s.handle(req); err != nil {
			return err
		}
	}
}

func (s *IPCServer) handle(req CompletionRequest) error {
	switch req.Action {
	case ActionComplete:
		return s.handleComplete(req)
	case ActionStats:
		if !s.completer.Loaded() {
			return s.send(ControlResponse{ID: req.ID, Status: StatusNoModel})
		}
		return s.send(ControlResponse{ID: req.ID, Status: StatusOK, Model: s.completer.Stats()})
	case ActionReload:
		if s.opts.Reload == nil {
			return s.sendError(req.ID, "reload not configured", http.StatusNotImplemented)
		}
		stats, err := s.opts.Reload()
		if err != nil {
			s.log.Errorf("Reload failed: %v", err)
			return s.send(ControlResponse{ID: req.ID, Status: StatusError, Error: err.Error()})
		}
		return s.send(ControlResponse{ID: req.ID, Status: StatusReloaded, Model: stats})
	default:
		return s.sendError(req.ID, fmt.Sprintf("unknown action: %s", req.Action), http.StatusBadRequest)
	}
}

func (s *IPCServer) handleComplete(req CompletionRequest) error {
	if problem := utils.CheckQuery(req.Prefix, s.opts.MaxQueryLen, true); problem != utils.QueryOK {
		return s.sendError(req.ID, problem.String(), http.StatusBadRequest)
	}
	limit := s.opts.DefaultLimit
	if req.Limit > 0 {
		limit = s.opts.clampLimit(req.Limit)
	}

	start := time.Now()
	suggestions, err := s.completer.Complete(req.Prefix, limit)
	switch {
	case errors.Is(err, suggest.ErrModelNotLoaded):
		return s.sendError(req.ID, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, suggest.ErrInvalidInput):
		return s.sendError(req.ID, err.Error(), http.StatusBadRequest)
	case err != nil:
		return s.sendError(req.ID, err.Error(), http.StatusInternalServerError)
	}

	ranks := utils.CreateRankList(len(suggestions))
	resp := CompletionResponse{
		ID:          req.ID,
		Suggestions: make([]CompletionSuggestion, len(suggestions)),
		Count:       len(suggestions),
		TimeTaken:   time.Since(start).Microseconds(),
	}
	for i, sug := range suggestions {
		resp.Suggestions[i] = CompletionSuggestion{Text: sug.Text, Rank: ranks[i], Score: sug.Score}
		resp.Corrected = resp.Corrected || sug.Corrected
	}
	return s.send(resp)
}

func (s *IPCServer) send(v any) error {
	if err := s.encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	return s.writer.Flush()
}

func (s *IPCServer) sendError(id, message string, code int) error {
	return s.send(CompletionError{ID: id, Error: message, Code: code})
}
