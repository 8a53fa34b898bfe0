package stream

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/playpool/matchcore/internal/msgbus"
)

func TestServeDeliversMessageAndGreeting(t *testing.T) {
	bus := msgbus.NewMemoryBus()
	mux := New(bus, time.Hour, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	rec := httptest.NewRecorder()

	done := make(chan error, 1)
	go func() {
		done <- mux.Serve(ctx, rec, "user", "u1", "user:u1")
	}()

	time.Sleep(30 * time.Millisecond)
	if err := bus.Send(context.Background(), "user:u1", []byte(`{"type":"hello"}`)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Serve did not return after context cancellation")
	}

	body := rec.Body.Bytes()
	if !bytes.Contains(body, []byte("server:notice")) {
		t.Fatalf("expected greeting notice in body, got %q", body)
	}
	if !bytes.Contains(body, []byte("hello")) {
		t.Fatalf("expected forwarded message in body, got %q", body)
	}
	if bytes.Count(body, []byte{recordSeparator}) < 2 {
		t.Fatalf("expected at least 2 record-separated frames, got %q", body)
	}
}

func TestKickClosesMatchingConnection(t *testing.T) {
	bus := msgbus.NewMemoryBus()
	mux := New(bus, time.Hour, time.Hour)

	rec := httptest.NewRecorder()
	done := make(chan error, 1)
	go func() {
		done <- mux.Serve(context.Background(), rec, "user", "u2", "user:u2")
	}()

	time.Sleep(20 * time.Millisecond)
	if n := mux.Kick("user", "u2"); n != 1 {
		t.Fatalf("expected Kick to close 1 connection, closed %d", n)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Serve did not return after Kick")
	}

	if n := mux.Kick("user", "u2"); n != 0 {
		t.Fatalf("expected no live connections left, found %d", n)
	}
}
