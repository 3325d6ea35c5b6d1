package server

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestHubStopEndsRunLoop(t *testing.T) {
	h := newHub(slog.New(slog.NewTextHandler(io.Discard, nil)))

	done := make(chan struct{})
	go func() {
		h.run()
		close(done)
	}()

	h.stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run loop did not exit after stop")
	}

	// Stop is idempotent.
	h.stop()
}

func TestHubBroadcastReachesRegisteredState(t *testing.T) {
	h := newHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	go h.run()
	defer h.stop()

	// No clients connected: the message is consumed without blocking.
	select {
	case h.broadcast <- []byte(`{"job_id":"x"}`):
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked with an empty client set")
	}
}
