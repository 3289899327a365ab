package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/zsprackett/gtdash/internal/events"
	"github.com/zsprackett/gtdash/internal/notify"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noAgents() events.AlertEvent {
	return events.AlertEvent{
		Severity:  events.SeverityCritical,
		Code:      "no_agents",
		Category:  events.CategoryAgent,
		Message:   "No agents running but 3 work items are ready",
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNtfyNotification(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	n := notify.New(notify.Config{
		Enabled: true,
		NtfyURL: srv.URL + "/test-topic",
	}, discardLogger())

	n.Notify("/home/me/gt", noAgents())

	if received == nil {
		t.Fatal("no POST received")
	}
	if received["title"] != "No agents running but 3 work items are ready" {
		t.Errorf("unexpected title: %v", received["title"])
	}
	if received["priority"] != float64(5) {
		t.Errorf("expected priority 5 for critical, got %v", received["priority"])
	}
}

func TestWebhookPayload(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(204)
	}))
	defer srv.Close()

	n := notify.New(notify.Config{Enabled: true, Webhook: srv.URL}, discardLogger())
	n.Notify("/home/me/gt", noAgents())

	if received["code"] != "no_agents" || received["town"] != "/home/me/gt" {
		t.Errorf("unexpected payload: %v", received)
	}
	if received["timestamp"] != "2026-03-01T12:00:00Z" {
		t.Errorf("unexpected timestamp: %v", received["timestamp"])
	}
}

func TestNotify_WebhookErrorLogged(t *testing.T) {
	var buf strings.Builder
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	// Nothing listens on port 1.
	n := notify.New(notify.Config{Enabled: true, Webhook: "http://127.0.0.1:1"}, logger)
	n.Notify("/town", noAgents())

	if !strings.Contains(buf.String(), "webhook") {
		t.Errorf("expected warn log mentioning webhook, got: %q", buf.String())
	}
}

func TestNotify_DisabledNoOp(t *testing.T) {
	n := notify.New(notify.Config{Enabled: false, Webhook: "http://127.0.0.1:1"}, discardLogger())
	// Must not panic or post.
	n.Notify("/town", noAgents())
}

func TestSubscriberForwardsCriticalAlertsOnly(t *testing.T) {
	got := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		got <- body["code"].(string)
	}))
	defer srv.Close()

	n := notify.New(notify.Config{Enabled: true, Webhook: srv.URL}, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.Run(ctx)

	sub := n.Subscriber("/town")
	warning := events.AlertEvent{Severity: events.SeverityWarning, Code: "mq_backlog"}
	for _, m := range []events.Message{
		{Name: events.NameSnapshot, Data: events.SnapshotEvent{}},
		{Name: events.NameAlert, Data: warning},
		{Name: events.NameAlert, Data: noAgents()},
	} {
		if err := sub.Deliver(m); err != nil {
			t.Fatalf("deliver %s: %v", m.Name, err)
		}
	}

	select {
	case code := <-got:
		if code != "no_agents" {
			t.Errorf("expected no_agents, got %s", code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("critical alert not forwarded")
	}
	select {
	case code := <-got:
		t.Errorf("unexpected extra notification %s", code)
	case <-time.After(100 * time.Millisecond):
	}
}
