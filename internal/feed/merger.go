package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/zsprackett/gtdash/internal/events"
)

const DefaultReconnectDelay = 3 * time.Second

// Source is one server stream feeding the merger.
type Source struct {
	Name      string
	URL       string
	Normalize Normalizer
}

// Options configures a Merger. Zero values select the defaults.
type Options struct {
	Cap            int
	DedupWindow    time.Duration
	ReconnectDelay time.Duration
	Client         *http.Client
	Logger         *slog.Logger
	// OnChange is called after the list or a connection flag changed.
	OnChange func()
	// OnSnapshot receives telemetry snapshots, which are state rather than
	// feed entries.
	OnSnapshot func(source string, snap events.SnapshotEvent)
}

// Merger keeps one streaming connection per source and merges their
// normalized events into a single deduplicated, bounded list. Each source
// reconnects on its own after a fixed delay until the context passed to Run
// is cancelled.
type Merger struct {
	sources  []Source
	list     *List
	delay    time.Duration
	client   *http.Client
	logger   *slog.Logger
	onChange func()
	onSnap   func(string, events.SnapshotEvent)
	now      func() time.Time

	mu        sync.RWMutex
	connected map[string]bool
}

func NewMerger(sources []Source, opts Options) *Merger {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	connected := make(map[string]bool, len(sources))
	for _, s := range sources {
		connected[s.Name] = false
	}
	return &Merger{
		sources:   sources,
		list:      NewList(opts.Cap, opts.DedupWindow),
		delay:     opts.ReconnectDelay,
		client:    opts.Client,
		logger:    opts.Logger,
		onChange:  opts.OnChange,
		onSnap:    opts.OnSnapshot,
		now:       time.Now,
		connected: connected,
	}
}

// Run connects every source and blocks until ctx is cancelled and all
// connections and reconnect timers are gone.
func (m *Merger) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, src := range m.sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			m.runSource(ctx, src)
		}(src)
	}
	wg.Wait()
}

// Events returns the merged list, newest first.
func (m *Merger) Events() []UnifiedEvent {
	return m.list.Events()
}

// Add inserts an event directly, applying the same dedup and cap rules.
func (m *Merger) Add(e UnifiedEvent) bool {
	added := m.list.Insert(e)
	if added {
		m.changed()
	}
	return added
}

// Clear empties the merged list.
func (m *Merger) Clear() {
	m.list.Clear()
	m.changed()
}

// Connected reports whether at least one source is connected.
func (m *Merger) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ok := range m.connected {
		if ok {
			return true
		}
	}
	return false
}

// SourceStatus returns the connected flag of every source.
func (m *Merger) SourceStatus() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(m.connected))
	for k, v := range m.connected {
		out[k] = v
	}
	return out
}

func (m *Merger) setConnected(name string, ok bool) {
	m.mu.Lock()
	prev := m.connected[name]
	m.connected[name] = ok
	m.mu.Unlock()
	if prev != ok {
		m.changed()
	}
}

func (m *Merger) changed() {
	if m.onChange != nil {
		m.onChange()
	}
}

func (m *Merger) runSource(ctx context.Context, src Source) {
	for {
		err := m.stream(ctx, src)
		m.setConnected(src.Name, false)
		if ctx.Err() != nil {
			return
		}
		m.logger.Debug("feed: source disconnected, reconnecting", "source", src.Name, "err", err, "delay", m.delay)
		timer := time.NewTimer(m.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (m *Merger) stream(ctx context.Context, src Source) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("connect %s: %w", src.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: status %d: %s", src.Name, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	m.setConnected(src.Name, true)
	err = readSSE(resp.Body, func(ev sseEvent) {
		m.handle(src, ev)
	})
	if err == nil {
		err = io.EOF
	}
	if errors.Is(err, context.Canceled) {
		return ctx.Err()
	}
	return err
}

func (m *Merger) handle(src Source, ev sseEvent) {
	if ev.Name == events.NameSnapshot {
		if m.onSnap != nil {
			var snap events.SnapshotEvent
			if err := json.Unmarshal(ev.Data, &snap); err != nil {
				m.logger.Warn("feed: malformed snapshot", "source", src.Name, "err", err)
				return
			}
			m.onSnap(src.Name, snap)
		}
		return
	}
	if src.Normalize == nil {
		return
	}
	out, err := src.Normalize(src.Name, ev.Name, ev.Data, m.now())
	if err != nil {
		m.logger.Warn("feed: malformed message", "source", src.Name, "event", ev.Name, "err", err)
		return
	}
	added := false
	for _, e := range out {
		if m.list.Insert(e) {
			added = true
		}
	}
	if added {
		m.changed()
	}
}

// DefaultSources returns the telemetry, log and dispatch streams of a gtdash
// server at baseURL.
func DefaultSources(baseURL, town string) []Source {
	base := strings.TrimRight(baseURL, "/")
	telemetry := base + "/api/stream/telemetry"
	if town != "" {
		telemetry += "?town=" + url.QueryEscape(town)
	}
	return []Source{
		{Name: "telemetry", URL: telemetry, Normalize: NormalizeTelemetry},
		{Name: "logs", URL: base + "/api/stream/logs", Normalize: NormalizeLogs},
		{Name: "dispatch", URL: base + "/api/stream/dispatch", Normalize: NormalizeDispatch},
	}
}
