package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"
)

// RemoteError is a CompletionError received by a client.
type RemoteError struct {
	ID      string
	Message string
	Code    int
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s (code: %d)", e.Message, e.Code)
}

// IPCClient sends requests to an IPC server and waits for each answer.
// It is not safe for concurrent use.
type IPCClient struct {
	writer  *bufio.Writer
	encoder *msgpack.Encoder
	decoder *msgpack.Decoder
	closer  io.Closer
	next    int
}

// NewIPCClient wraps a connected pipe pair and waits for the ready message.
func NewIPCClient(w io.Writer, r io.Reader) (*IPCClient, error) {
	bw := bufio.NewWriter(w)
	c := &IPCClient{
		writer:  bw,
		encoder: msgpack.NewEncoder(bw),
		decoder: msgpack.NewDecoder(bufio.NewReader(r)),
	}
	if closer, ok := w.(io.Closer); ok {
		c.closer = closer
	}

	var ready map[string]string
	if err := c.decoder.Decode(&ready); err != nil {
		return nil, fmt.Errorf("failed to read ready message: %w", err)
	}
	if ready["status"] != StatusReady {
		return nil, fmt.Errorf("unexpected greeting: %v", ready)
	}
	return c, nil
}

// StartIPCProcess runs binary (normally "chatserve serve --ipc") and connects to it.
// Stderr is passed through so server logs stay visible.
func StartIPCProcess(ctx context.Context, binary string, args ...string) (*IPCClient, *exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start %s: %w", binary, err)
	}
	client, err := NewIPCClient(stdin, stdout)
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, nil, err
	}
	return client, cmd, nil
}

// Complete asks for up to limit completions of prefix; limit 0 uses the server default.
func (c *IPCClient) Complete(prefix string, limit int) (*CompletionResponse, error) {
	req := CompletionRequest{ID: c.nextID("req"), Prefix: prefix, Limit: limit}
	var resp CompletionResponse
	if err := c.roundTrip(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Control runs a stats or reload action.
func (c *IPCClient) Control(action string) (*ControlResponse, error) {
	req := CompletionRequest{ID: c.nextID("ctl"), Action: action}
	var resp ControlResponse
	if err := c.roundTrip(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Close ends the session; the server exits once it sees the end of input.
func (c *IPCClient) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

func (c *IPCClient) roundTrip(req CompletionRequest, out any) error {
	if err := c.encoder.Encode(req); err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	// one write per request; pipes block on every partial write
	if err := c.writer.Flush(); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	raw, err := c.decoder.DecodeRaw()
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	// error answers carry "e" instead of the normal payload
	var fields map[string]any
	if err := msgpack.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if _, failed := fields["e"]; failed {
		var remote CompletionError
		if err := msgpack.Unmarshal(raw, &remote); err != nil {
			return fmt.Errorf("failed to decode error response: %w", err)
		}
		return &RemoteError{ID: remote.ID, Message: remote.Error, Code: remote.Code}
	}
	return msgpack.Unmarshal(raw, out)
}

func (c *IPCClient) nextID(prefix string) string {
	c.next++
	return prefix + "_" + strconv.Itoa(c.next)
}
