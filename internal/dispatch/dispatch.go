package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/zsprackett/gtdash/internal/db"
	"github.com/zsprackett/gtdash/internal/events"
	"github.com/zsprackett/gtdash/internal/gastown"
	"github.com/zsprackett/gtdash/internal/runner"
	"github.com/zsprackett/gtdash/internal/tmux"
)

// StreamName names the dispatch stream in connected acks and metrics.
const StreamName = "dispatch"

// Chat roles.
const (
	RoleUser   = "user"
	RoleAgent  = "agent"
	RoleSystem = "system"
)

const (
	DefaultTarget       = "mayor"
	DefaultPollInterval = 2 * time.Second
	DefaultHistory      = 50
	captureLines        = 200
)

var ErrEmptyMessage = errors.New("message text is empty")

// Store persists the transcript and the last used target.
type Store interface {
	InsertChatMessage(m *events.ChatMessage) error
	RecentChatMessages(limit int) ([]events.ChatMessage, error)
	SetMeta(key, value string) error
	GetMeta(key string) (string, error)
}

// PaneReader captures the visible output of a tmux pane.
type PaneReader interface {
	CapturePane(ctx context.Context, target string, opts tmux.CaptureOptions) (string, error)
}

type Config struct {
	TownRoot     string
	GTBin        string
	Target       string
	PollInterval time.Duration
	History      int
}

// Dispatcher sends messages to a town agent with `gt nudge` and, while it
// has subscribers, watches the agent's tmux pane for replies.
type Dispatcher struct {
	cfg    Config
	runner *runner.Runner
	store  Store
	panes  PaneReader
	source gastown.Source
	hub    *events.Hub
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex // guards lifecycle; taken before pubMu
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	pubMu   sync.Mutex
	target  string
	prev    []string
	waiting bool
}

func New(cfg Config, r *runner.Runner, store Store, panes PaneReader, source gastown.Source, logger *slog.Logger) *Dispatcher {
	if cfg.GTBin == "" {
		cfg.GTBin = "gt"
	}
	if cfg.Target == "" {
		cfg.Target = DefaultTarget
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.History <= 0 {
		cfg.History = DefaultHistory
	}
	d := &Dispatcher{
		cfg:    cfg,
		runner: r,
		store:  store,
		panes:  panes,
		source: source,
		hub:    events.NewHub(StreamName, logger),
		logger: logger,
		now:    time.Now,
		target: cfg.Target,
	}
	if saved, err := store.GetMeta(db.MetaDispatchTarget); err == nil && saved != "" {
		d.target = saved
	}
	d.hub.OnEmpty(func() { go d.stopIfIdle() })
	return d
}

// Target is the agent the watcher follows and Send defaults to.
func (d *Dispatcher) Target() string {
	d.pubMu.Lock()
	defer d.pubMu.Unlock()
	return d.target
}

// Send nudges target with text, records the message and broadcasts it. An
// empty target means the current one.
func (d *Dispatcher) Send(ctx context.Context, target, text string) (*events.ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if target == "" {
		target = d.Target()
	}
	if _, err := d.runner.Run(ctx, d.cfg.TownRoot, d.cfg.GTBin, "nudge", target, text); err != nil {
		return nil, fmt.Errorf("nudge %s: %w", target, err)
	}

	msg := &events.ChatMessage{Role: RoleUser, Target: target, Text: text, Timestamp: d.now()}

	d.pubMu.Lock()
	defer d.pubMu.Unlock()
	if target != d.target {
		d.target = target
		d.prev = nil
		d.waiting = false
		if err := d.store.SetMeta(db.MetaDispatchTarget, target); err != nil {
			d.logger.Warn("dispatch: save target failed", "err", err)
		}
	}
	d.record(msg)
	return msg, nil
}

// record stores and broadcasts msg. Callers hold pubMu.
func (d *Dispatcher) record(msg *events.ChatMessage) {
	if err := d.store.InsertChatMessage(msg); err != nil {
		d.logger.Warn("dispatch: store message failed", "role", msg.Role, "err", err)
	}
	d.hub.Broadcast(events.Message{Name: events.NameChat, Data: *msg})
}

// Subscribe attaches sub, sends it the recent transcript and starts the
// pane watcher if it is not running.
func (d *Dispatcher) Subscribe(sub events.Subscriber) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pubMu.Lock()
	d.hub.Add(sub)
	msgs := []events.Message{events.ConnectedMessage(StreamName)}
	history, err := d.store.RecentChatMessages(d.cfg.History)
	if err != nil {
		d.logger.Warn("dispatch: load history failed", "err", err)
	}
	for _, m := range history {
		msgs = append(msgs, events.Message{Name: events.NameChat, Data: m})
	}
	err = d.hub.SendTo(sub.ID(), msgs...)
	d.pubMu.Unlock()
	if err != nil {
		return err
	}

	d.startLocked()
	return nil
}

func (d *Dispatcher) Unsubscribe(id string) {
	if d.hub.Remove(id) {
		d.stopIfIdle()
	}
}

// Watching reports whether the pane watcher is running.
func (d *Dispatcher) Watching() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Stop halts the pane watcher. Safe to call when already stopped.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.stopLocked()
	d.mu.Unlock()
}

func (d *Dispatcher) startLocked() {
	if d.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.running = true
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.watch(ctx, d.done)
}

func (d *Dispatcher) stopLocked() {
	if !d.running {
		return
	}
	d.cancel()
	<-d.done
	d.running = false
	d.cancel = nil
	d.done = nil

	d.pubMu.Lock()
	d.prev = nil
	d.waiting = false
	d.pubMu.Unlock()
}

func (d *Dispatcher) stopIfIdle() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hub.HasSubscribers() {
		return
	}
	d.stopLocked()
}

func (d *Dispatcher) watch(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	d.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

func (d *Dispatcher) poll(ctx context.Context) {
	target := d.Target()
	session := d.sessionFor(ctx, target)
	out, err := d.panes.CapturePane(ctx, session, tmux.CaptureOptions{StartLine: -captureLines, Join: true})
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		d.logger.Debug("dispatch: capture failed", "target", target, "session", session, "err", err)
		return
	}
	cur := tmux.PaneLines(out)
	waiting := tmux.ClassifyPane(out) == tmux.PaneWaiting

	d.pubMu.Lock()
	defer d.pubMu.Unlock()
	if target != d.target {
		return // target switched mid-capture
	}
	first := d.prev == nil
	added := NewLines(d.prev, cur)
	d.prev = cur
	if first {
		d.waiting = waiting
		return
	}
	if len(added) > 0 {
		d.record(&events.ChatMessage{
			Role:      RoleAgent,
			Target:    target,
			Text:      strings.Join(added, "\n"),
			Timestamp: d.now(),
		})
	}
	if waiting && !d.waiting {
		d.record(&events.ChatMessage{
			Role:      RoleSystem,
			Target:    target,
			Text:      target + " is waiting for input",
			Timestamp: d.now(),
		})
	}
	d.waiting = waiting
}

// sessionFor maps an agent name to its tmux session using the current town
// status, falling back to the name itself.
func (d *Dispatcher) sessionFor(ctx context.Context, target string) string {
	if d.source == nil {
		return target
	}
	res, err := d.source.Status(ctx)
	if err != nil || res.Status == nil {
		return target
	}
	return SessionFor(*res.Status, target)
}

// SessionFor returns the tmux session of the agent named target, matching
// either the full name or its last path element.
func SessionFor(snap gastown.Snapshot, target string) string {
	for _, a := range snap.Agents {
		if a.Session == "" {
			continue
		}
		if a.Name == target {
			return a.Session
		}
	}
	for _, a := range snap.Agents {
		if a.Session == "" {
			continue
		}
		if i := strings.LastIndex(a.Name, "/"); i >= 0 && a.Name[i+1:] == target {
			return a.Session
		}
	}
	return target
}

// NewLines returns the lines of cur that follow its overlap with prev. The
// overlap is the longest suffix of prev that is also a prefix of cur; with
// no overlap every line of cur is new.
func NewLines(prev, cur []string) []string {
	for shift := 0; shift <= len(prev); shift++ {
		tail := prev[shift:]
		if len(tail) > len(cur) || !hasPrefix(cur, tail) {
			continue
		}
		added := cur[len(tail):]
		var out []string
		for _, l := range added {
			if strings.TrimSpace(l) != "" || len(out) > 0 {
				out = append(out, l)
			}
		}
		return out
	}
	return nil
}

func hasPrefix(lines, prefix []string) bool {
	for i := range prefix {
		if lines[i] != prefix[i] {
			return false
		}
	}
	return true
}
