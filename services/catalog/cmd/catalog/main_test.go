package main

import (
	"testing"

	"appcatalog/pkg/events"
	"appcatalog/services/catalog/internal/config"
)

type closeCountingPublisher struct {
	events.NopPublisher
	closed int
}

func (p *closeCountingPublisher) Close() error {
	p.closed++
	return nil
}

func stubPublisher(t *testing.T) *closeCountingPublisher {
	t.Helper()
	pub := &closeCountingPublisher{}
	prev := openPublisher
	openPublisher = func(events.Config) (events.Publisher, error) { return pub, nil }
	t.Cleanup(func() { openPublisher = prev })
	return pub
}

func TestBuildClosesPublisherWhenAppFails(t *testing.T) {
	pub := stubPublisher(t)
	_, _, err := build(config.FileConfig{Port: "0", Backend: "cassandra"})
	if err == nil {
		t.Fatalf("expected error for unknown backend")
	}
	if pub.closed != 1 {
		t.Fatalf("publisher closed %d times, want 1", pub.closed)
	}
}

func TestBuildClosesAppOnLaterFailure(t *testing.T) {
	pub := stubPublisher(t)
	_, _, err := build(config.FileConfig{Port: "0", Backend: "memory", TrustedProxyCIDRs: []string{"not-a-cidr"}})
	if err == nil {
		t.Fatalf("expected error for bad proxy cidr")
	}
	if pub.closed != 1 {
		t.Fatalf("publisher closed %d times, want 1", pub.closed)
	}
}

func TestBuildReturnsCleanup(t *testing.T) {
	pub := stubPublisher(t)
	srv, cleanup, err := build(config.FileConfig{Port: "8089", Backend: "memory"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if srv.Addr != ":8089" || srv.Handler == nil {
		t.Fatalf("unexpected server: addr=%q", srv.Addr)
	}
	if pub.closed != 0 {
		t.Fatalf("publisher closed before cleanup")
	}
	cleanup()
	if pub.closed != 1 {
		t.Fatalf("publisher closed %d times after cleanup, want 1", pub.closed)
	}
}
