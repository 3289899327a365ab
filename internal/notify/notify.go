package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"runtime"
	"time"

	"github.com/zsprackett/gtdash/internal/events"
)

// Config holds notification settings.
type Config struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Desktop bool   `json:"desktop" yaml:"desktop"`
	Webhook string `json:"webhook" yaml:"webhook"`
	NtfyURL string `json:"ntfy" yaml:"ntfy"`
	// AllSeverities forwards warnings too. By default only critical alerts
	// are sent.
	AllSeverities bool `json:"all_severities" yaml:"all_severities"`
}

const queueSize = 32

type pending struct {
	scope string
	alert events.AlertEvent
}

// Notifier forwards alerts to the desktop and optional webhook and ntfy
// endpoints.
type Notifier struct {
	cfg    Config
	logger *slog.Logger
	client *http.Client
	queue  chan pending
}

// New returns a Notifier with the given config.
func New(cfg Config, logger *slog.Logger) *Notifier {
	return &Notifier{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: 5 * time.Second},
		queue:  make(chan pending, queueSize),
	}
}

// Subscriber returns a stream subscriber for scope's telemetry stream. It
// only queues matching alerts; Run does the sending.
func (n *Notifier) Subscriber(scope string) events.Subscriber {
	return events.NewFuncSubscriber(func(m events.Message) error {
		if m.Name != events.NameAlert {
			return nil
		}
		a, ok := m.Data.(events.AlertEvent)
		if !ok || !n.wants(a) {
			return nil
		}
		select {
		case n.queue <- pending{scope: scope, alert: a}:
		default:
			n.logger.Warn("notify: queue full, alert dropped", "code", a.Code)
		}
		return nil
	}, nil)
}

// Run sends queued alerts until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-n.queue:
			n.Notify(p.scope, p.alert)
		}
	}
}

func (n *Notifier) wants(a events.AlertEvent) bool {
	return n.cfg.AllSeverities || a.Severity == events.SeverityCritical
}

// Notify sends one alert to every configured endpoint.
func (n *Notifier) Notify(scope string, a events.AlertEvent) {
	if !n.cfg.Enabled {
		return
	}

	if n.cfg.Desktop {
		n.sendSystemNotification(a)
	}
	if n.cfg.Webhook != "" {
		n.sendWebhook(scope, a)
	}
	if n.cfg.NtfyURL != "" {
		n.sendNtfy(scope, a)
	}
}

func (n *Notifier) sendSystemNotification(a events.AlertEvent) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf(`display notification %q with title "gtdash"`, a.Message)
		cmd = exec.Command("osascript", "-e", script)
	case "linux":
		cmd = exec.Command("notify-send", "-u", "critical", "gtdash", a.Message)
	default:
		return
	}
	if err := cmd.Run(); err != nil {
		n.logger.Debug("notify: desktop notification failed", "err", err)
	}
}

type webhookPayload struct {
	Town      string         `json:"town"`
	Code      string         `json:"code"`
	Severity  string         `json:"severity"`
	Category  string         `json:"category"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp string         `json:"timestamp"`
}

func (n *Notifier) sendWebhook(scope string, a events.AlertEvent) {
	payload := webhookPayload{
		Town:      scope,
		Code:      a.Code,
		Severity:  string(a.Severity),
		Category:  string(a.Category),
		Message:   a.Message,
		Payload:   a.Payload,
		Timestamp: a.Timestamp.UTC().Format(time.RFC3339),
	}
	n.post("webhook", n.cfg.Webhook, payload)
}

type ntfyPayload struct {
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Priority int      `json:"priority"`
	Tags     []string `json:"tags"`
}

func (n *Notifier) sendNtfy(scope string, a events.AlertEvent) {
	priority := 3
	if a.Severity == events.SeverityCritical {
		priority = 5
	}
	payload := ntfyPayload{
		Title:    a.Message,
		Message:  fmt.Sprintf("%s · %s", a.Code, scope),
		Priority: priority,
		Tags:     []string{"rotating_light"},
	}
	n.post("ntfy", n.cfg.NtfyURL, payload)
}

func (n *Notifier) post(kind, url string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	resp, err := n.client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		n.logger.Warn("notify: "+kind+" POST failed", "err", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.logger.Warn("notify: "+kind+" rejected", "status", resp.StatusCode)
	}
}
