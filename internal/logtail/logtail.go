package logtail

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zsprackett/gtdash/internal/events"
	"github.com/zsprackett/gtdash/internal/runner"
)

// StreamName names the log stream in connected acks and metrics.
const StreamName = "logs"

const (
	DefaultBufferSize   = 200
	DefaultRestartDelay = 2 * time.Second
)

// Config selects the command to tail and how much history to replay.
type Config struct {
	Dir          string
	Command      []string
	BufferSize   int
	RestartDelay time.Duration
}

// DefaultCommand follows the town event log from its current end.
func DefaultCommand(townRoot string) []string {
	return []string{"tail", "-n", "0", "-F", filepath.Join(townRoot, ".events.jsonl")}
}

// Tailer runs a long-lived subprocess while it has subscribers and broadcasts
// each output line. The most recent lines are kept in a ring buffer and
// replayed to new subscribers.
type Tailer struct {
	cfg    Config
	runner *runner.Runner
	hub    *events.Hub
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex // guards lifecycle; taken before bufMu
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	bufMu sync.Mutex
	ring  *ring
}

func New(cfg Config, r *runner.Runner, logger *slog.Logger) *Tailer {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = DefaultRestartDelay
	}
	if len(cfg.Command) == 0 {
		cfg.Command = DefaultCommand(cfg.Dir)
	}
	t := &Tailer{
		cfg:    cfg,
		runner: r,
		hub:    events.NewHub(StreamName, logger),
		logger: logger,
		now:    time.Now,
		ring:   newRing(cfg.BufferSize),
	}
	t.hub.OnEmpty(func() { go t.stopIfIdle() })
	return t
}

// Subscribe attaches sub, replays the buffered lines and starts the
// subprocess if it is not already running.
func (t *Tailer) Subscribe(sub events.Subscriber) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.bufMu.Lock()
	t.hub.Add(sub)
	msgs := []events.Message{events.ConnectedMessage(StreamName)}
	for _, l := range t.ring.items() {
		msgs = append(msgs, events.Message{Name: events.NameLog, Data: l})
	}
	err := t.hub.SendTo(sub.ID(), msgs...)
	t.bufMu.Unlock()
	if err != nil {
		return err
	}

	t.startLocked()
	return nil
}

func (t *Tailer) Unsubscribe(id string) {
	if t.hub.Remove(id) {
		t.stopIfIdle()
	}
}

// Running reports whether the tail loop is active.
func (t *Tailer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Stop kills the subprocess. Safe to call when already stopped. The ring
// buffer is kept.
func (t *Tailer) Stop() {
	t.mu.Lock()
	t.stopLocked()
	t.mu.Unlock()
}

func (t *Tailer) startLocked() {
	if t.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.running = true
	t.cancel = cancel
	t.done = make(chan struct{})
	t.logger.Info("logtail: started", "command", strings.Join(t.cfg.Command, " "))
	go t.run(ctx, t.done)
}

func (t *Tailer) stopLocked() {
	if !t.running {
		return
	}
	t.cancel()
	<-t.done
	t.running = false
	t.cancel = nil
	t.done = nil
	t.logger.Info("logtail: stopped")
}

func (t *Tailer) stopIfIdle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hub.HasSubscribers() {
		return
	}
	t.stopLocked()
}

func (t *Tailer) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		err := t.tailOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		t.logger.Warn("logtail: process exited, restarting", "err", err, "delay", t.cfg.RestartDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(t.cfg.RestartDelay):
		}
	}
}

func (t *Tailer) tailOnce(ctx context.Context) error {
	stream, err := t.runner.Stream(ctx, t.cfg.Dir, t.cfg.Command[0], t.cfg.Command[1:]...)
	if err != nil {
		return err
	}
	defer stream.Stop()
	for line := range stream.Lines() {
		if strings.TrimSpace(line) == "" {
			continue
		}
		t.publish(ParseLine(line, t.now()))
	}
	<-stream.Done()
	return stream.Err()
}

func (t *Tailer) publish(l events.LogLine) {
	t.bufMu.Lock()
	defer t.bufMu.Unlock()
	t.ring.push(l)
	t.hub.Broadcast(events.Message{Name: events.NameLog, Data: l})
}

// Recent returns the buffered lines, oldest first.
func (t *Tailer) Recent() []events.LogLine {
	t.bufMu.Lock()
	defer t.bufMu.Unlock()
	return t.ring.items()
}

// rawEvent mirrors one line of the town event log.
type rawEvent struct {
	Ts      string         `json:"ts"`
	Type    string         `json:"type"`
	Actor   string         `json:"actor"`
	Source  string         `json:"source"`
	Payload map[string]any `json:"payload"`
}

// ParseLine decodes a JSON event log line into structured fields. Lines that
// are not JSON objects are passed through with only Line and Timestamp set.
func ParseLine(line string, now time.Time) events.LogLine {
	l := events.LogLine{Line: line, Timestamp: now}
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return l
	}
	var raw rawEvent
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return l
	}
	l.Type = raw.Type
	l.Actor = raw.Actor
	l.Source = raw.Source
	l.Payload = raw.Payload
	if ts, err := time.Parse(time.RFC3339, raw.Ts); err == nil {
		l.Timestamp = ts
	}
	return l
}
