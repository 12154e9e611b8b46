package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/groundstation/internal/kv"
	"pkt.systems/groundstation/internal/viewer"
	"pkt.systems/groundstation/internal/widgets"
	"pkt.systems/groundstation/schema"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRunViewerRendersUpdates(t *testing.T) {
	url, service := startTestServer(t)
	if err := service.SetExplicit(context.Background(), "term-1", []schema.WidgetName{"Temperature"}); err != nil {
		t.Fatalf("set explicit: %v", err)
	}
	dash := viewer.New(widgets.Catalog(), kv.NewMemory(), viewer.WithClientID("term-1"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	inbox := make(chan schema.Envelope, 64)
	go drawLoop(ctx, out, dash, 80, inbox)
	done := make(chan error, 1)
	go func() { done <- runViewer(ctx, dash, url, dash.Auth(), 50*time.Millisecond, inbox) }()

	deadline := time.Now().Add(5 * time.Second)
	for len(service.Clients()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("viewer never connected")
		}
		time.Sleep(10 * time.Millisecond)
	}
	service.PublishTelemetry(schema.TelemetrySnapshot{"temperature": 21.5})
	for !strings.Contains(out.String(), "Temperature") || !strings.Contains(out.String(), "21.5") {
		if time.Now().After(deadline) {
			t.Fatalf("dashboard never rendered telemetry:\n%s", out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if strings.Contains(out.String(), "Pressure") {
		t.Fatalf("hidden widget rendered:\n%s", out.String())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run viewer: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("viewer did not stop")
	}
}

func TestRunViewerRetriesUntilCancelled(t *testing.T) {
	dash := viewer.New(widgets.Catalog(), kv.NewMemory(), viewer.WithClientID("term-2"))
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	err := runViewer(ctx, dash, "ws://127.0.0.1:1/ws", dash.Auth(), 20*time.Millisecond, make(chan schema.Envelope, 1))
	if err != nil {
		t.Fatalf("run viewer: %v", err)
	}
}
