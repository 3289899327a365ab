package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zsprackett/gtdash/internal/events"
	"github.com/zsprackett/gtdash/internal/gastown"
	"github.com/zsprackett/gtdash/internal/metrics"
)

// StreamName names the telemetry stream in connected acks and metrics.
const StreamName = "telemetry"

// DefaultInterval is the gap between poll ticks.
const DefaultInterval = 5 * time.Second

// AlertSink records fired alerts outside the stream, e.g. in the alert log.
type AlertSink interface {
	RecordAlert(scope string, a events.AlertEvent) error
}

// Options configures a Poller. Zero values select the defaults.
type Options struct {
	Interval time.Duration
	Cooldown time.Duration
	Alerts   AlertSink
	Logger   *slog.Logger
	// Now is the clock stamped on events and used for cooldowns.
	Now func() time.Time
}

// Poller owns the fetch/diff/evaluate/broadcast cycle of one town. It is Idle
// while it has no subscribers and Polling otherwise: the first subscriber
// starts it, the last one leaving stops it and discards all per-run state.
type Poller struct {
	scope     string
	source    gastown.Source
	hub       *events.Hub
	interval  time.Duration
	evaluator Evaluator
	alertSink AlertSink
	logger    *slog.Logger
	now       func() time.Time
	onIdle    func(*Poller)

	mu      sync.Mutex // guards lifecycle; taken before pubMu
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	pubMu sync.Mutex // serializes ticks against subscriber catch-up
	// prev is the last initialized snapshot of this run.
	prev    *gastown.Snapshot
	alerts  AlertState
	latest  *events.Message
	ticks   int
	failing bool
}

func NewPoller(scope string, source gastown.Source, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("scope", scope)
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	p := &Poller{
		scope:     scope,
		source:    source,
		hub:       events.NewHub(StreamName, logger),
		interval:  opts.Interval,
		evaluator: Evaluator{Cooldown: opts.Cooldown},
		alertSink: opts.Alerts,
		logger:    logger,
		now:       now,
		alerts:    make(AlertState),
	}
	p.hub.OnEmpty(func() { go p.stopIfIdle() })
	return p
}

func (p *Poller) Scope() string { return p.scope }

// Subscribe attaches sub, sends it the connected ack and the latest snapshot
// event, and starts polling if the poller was idle. A subscriber whose
// catch-up delivery fails is detached and the error returned.
func (p *Poller) Subscribe(sub events.Subscriber) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pubMu.Lock()
	p.hub.Add(sub)
	msgs := []events.Message{events.ConnectedMessage(StreamName)}
	if p.latest != nil {
		msgs = append(msgs, *p.latest)
	}
	err := p.hub.SendTo(sub.ID(), msgs...)
	p.pubMu.Unlock()
	if err != nil {
		return err
	}

	p.startLocked()
	return nil
}

// Unsubscribe detaches the subscriber with id and stops polling if it was
// the last one.
func (p *Poller) Unsubscribe(id string) {
	if p.hub.Remove(id) {
		p.stopIfIdle()
	}
}

// Start begins polling. Starting a polling poller is a no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	p.startLocked()
	p.mu.Unlock()
}

// Stop cancels polling, waits for an in-flight tick to finish and discards
// the previous snapshot, alert state and latest snapshot event. Stopping an
// idle poller is a no-op. Attached subscribers stay attached.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopLocked()
	p.mu.Unlock()
}

// Polling reports whether the poll loop is running.
func (p *Poller) Polling() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Idle reports whether the poller is stopped with no subscribers.
func (p *Poller) Idle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.running && !p.hub.HasSubscribers()
}

func (p *Poller) Subscribers() int {
	return p.hub.Len()
}

func (p *Poller) startLocked() {
	if p.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})
	metrics.ActivePollers.Inc()
	p.logger.Info("telemetry: polling started", "interval", p.interval)
	go p.run(ctx, p.done)
}

func (p *Poller) stopLocked() {
	if !p.running {
		return
	}
	p.cancel()
	<-p.done
	p.running = false
	p.cancel = nil
	p.done = nil

	p.pubMu.Lock()
	p.prev = nil
	p.alerts = make(AlertState)
	p.latest = nil
	p.ticks = 0
	p.failing = false
	p.pubMu.Unlock()

	metrics.ActivePollers.Dec()
	p.logger.Info("telemetry: polling stopped")
}

func (p *Poller) stopIfIdle() {
	p.mu.Lock()
	if p.hub.HasSubscribers() {
		p.mu.Unlock()
		return
	}
	p.stopLocked()
	p.mu.Unlock()
	if p.onIdle != nil {
		p.onIdle(p)
	}
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	p.tick(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick runs one poll cycle. All messages it produces go out as one batch,
// snapshot first. The first tick of a run only reports the snapshot.
func (p *Poller) tick(ctx context.Context) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PollDuration)

	snap, err := p.fetch(ctx)
	if ctx.Err() != nil {
		return
	}
	now := p.now()

	p.pubMu.Lock()
	defer p.pubMu.Unlock()
	first := p.ticks == 0
	p.ticks++

	if err != nil {
		metrics.PollsTotal.WithLabelValues("error").Inc()
		p.logger.Warn("telemetry: status fetch failed", "err", err)
		var msgs []events.Message
		if !p.failing {
			ev := fetchFailedEvent(err, now)
			metrics.ChangeEvents.WithLabelValues(string(ev.Category)).Inc()
			msgs = append(msgs, events.Message{Name: events.NameChange, Data: ev})
		}
		p.failing = true
		if !first {
			// An unreachable source reads as an uninitialized town. The other
			// rules know nothing new, so their cooldowns are not cleared.
			msgs = append(msgs, p.evaluate(gastown.Snapshot{FetchedAt: now}, now)...)
		}
		if len(msgs) > 0 {
			p.hub.Broadcast(msgs...)
		}
		return
	}
	metrics.PollsTotal.WithLabelValues("ok").Inc()
	p.failing = false

	snapMsg := events.Message{Name: events.NameSnapshot, Data: NewSnapshotEvent(p.scope, snap, now)}
	msgs := []events.Message{snapMsg}
	if !first {
		// Agents of an uninitialized town are unknown, not gone.
		if p.prev != nil && snap.Initialized {
			for _, ev := range diffAt(*p.prev, snap, now) {
				metrics.ChangeEvents.WithLabelValues(string(ev.Category)).Inc()
				msgs = append(msgs, events.Message{Name: events.NameChange, Data: ev})
			}
		}
		msgs = append(msgs, p.evaluate(snap, now)...)
		p.evaluator.Clear(snap, p.alerts)
	}
	if snap.Initialized {
		p.prev = &snap
	}
	p.latest = &snapMsg

	p.hub.Broadcast(msgs...)
}

// evaluate runs the alert rules and records whatever fires. Callers hold pubMu.
func (p *Poller) evaluate(snap gastown.Snapshot, now time.Time) []events.Message {
	var msgs []events.Message
	for _, a := range p.evaluator.Evaluate(snap, p.alerts, now) {
		metrics.AlertsFired.WithLabelValues(a.Code).Inc()
		p.logger.Info("telemetry: alert", "code", a.Code, "severity", a.Severity, "message", a.Message)
		p.recordAlert(a)
		msgs = append(msgs, events.Message{Name: events.NameAlert, Data: a})
	}
	return msgs
}

// fetch builds the current snapshot. Work count failures degrade to zero;
// only a failing status call is returned as an error.
func (p *Poller) fetch(ctx context.Context) (gastown.Snapshot, error) {
	res, err := p.source.Status(ctx)
	if err != nil {
		return gastown.Snapshot{}, err
	}
	if !res.Initialized || res.Status == nil {
		return gastown.Snapshot{Initialized: false, FetchedAt: p.now()}, nil
	}
	snap := *res.Status
	counts := gastown.FetchWorkCounts(ctx, p.source, p.logger)
	snap.ReadyWork = counts.Ready
	snap.BlockedWork = counts.Blocked
	return snap, nil
}

func (p *Poller) recordAlert(a events.AlertEvent) {
	if p.alertSink == nil {
		return
	}
	if err := p.alertSink.RecordAlert(p.scope, a); err != nil {
		p.logger.Warn("telemetry: record alert failed", "code", a.Code, "err", err)
	}
}
