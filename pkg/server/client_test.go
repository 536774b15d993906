package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"
)

func TestIPCClientOverPipes(t *testing.T) {
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	engine := newTestEngine(t, true)
	reload := func() (map[string]int, error) { return engine.Stats(), nil }
	srv := NewIPCServerWithIO(engine, Options{DefaultLimit: 1, MaxLimit: 2, Reload: reload}, reqR, respW)

	done := make(chan error, 1)
	go func() {
		err := srv.Start(context.Background())
		respW.Close()
		done <- err
	}()

	client, err := NewIPCClient(reqW, respR)
	if err != nil {
		t.Fatalf("NewIPCClient failed: %v", err)
	}

	resp, err := client.Complete("hi how", 0)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if resp.ID != "req_1" || resp.Count != 1 || resp.Suggestions[0].Text != "Hi how are you" {
		t.Errorf("unexpected default-limit response %+v", resp)
	}

	resp, err = client.Complete("hi how", 10)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Count != 2 {
		t.Errorf("limit should be clamped to 2, got %d", resp.Count)
	}

	_, err = client.Complete("hi \xff", 1)
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Code != http.StatusBadRequest {
		t.Errorf("expected remote 400, got %v", err)
	}

	stats, err := client.Control(ActionStats)
	if err != nil || stats.Status != StatusOK {
		t.Errorf("unexpected stats %+v %v", stats, err)
	}

	reloaded, err := client.Control(ActionReload)
	if err != nil || reloaded.Status != StatusReloaded || reloaded.ID != "ctl_5" {
		t.Errorf("unexpected reload %+v %v", reloaded, err)
	}

	if err := client.Close(); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Errorf("server should stop cleanly at end of input, got %v", err)
	}
}

func TestIPCClientControlOverPipes(t *testing.T) {
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	srv := NewIPCServerWithIO(newTestEngine(t, true), Options{}, reqR, respW)
	go func() {
		_ = srv.Start(context.Background())
		respW.Close()
	}()

	done := make(chan error, 1)
	go func() {
		client, err := NewIPCClient(reqW, respR)
		if err != nil {
			done <- err
			return
		}
		// an empty prefix is encoded as a zero-length string
		for range 3 {
			if _, err := client.Control(ActionStats); err != nil {
				done <- err
				return
			}
		}
		done <- client.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stats round trips failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("client and server blocked on each other")
	}
}
