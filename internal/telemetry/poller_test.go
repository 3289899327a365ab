package telemetry_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsprackett/gtdash/internal/events"
	"github.com/zsprackett/gtdash/internal/gastown"
	"github.com/zsprackett/gtdash/internal/telemetry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type step struct {
	snap *gastown.Snapshot
	err  error
}

// scriptedSource replays steps in order and repeats the last one.
type scriptedSource struct {
	mu       sync.Mutex
	steps    []step
	calls    int
	ready    int
	readyErr error
}

func (s *scriptedSource) Status(ctx context.Context) (*gastown.StatusResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	st := s.steps[i]
	if st.err != nil {
		return nil, st.err
	}
	if st.snap == nil {
		return &gastown.StatusResult{Initialized: false, Error: "not in a Gas Town workspace"}, nil
	}
	snap := *st.snap
	return &gastown.StatusResult{Initialized: true, Status: &snap}, nil
}

func (s *scriptedSource) ReadyWork(ctx context.Context) ([]gastown.WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readyErr != nil {
		return nil, s.readyErr
	}
	return make([]gastown.WorkItem, s.ready), nil
}

func (s *scriptedSource) BlockedWork(ctx context.Context) ([]gastown.WorkItem, error) {
	return nil, nil
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scriptedSource) Set(steps ...step) {
	s.mu.Lock()
	s.steps = steps
	s.calls = 0
	s.mu.Unlock()
}

func collector() (*events.FuncSubscriber, chan events.Message) {
	ch := make(chan events.Message, 512)
	sub := events.NewFuncSubscriber(func(m events.Message) error {
		ch <- m
		return nil
	}, nil)
	return sub, ch
}

func next(t *testing.T, ch <-chan events.Message) events.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return events.Message{}
	}
}

// untilSnapshot returns every message received before the next snapshot.
func untilSnapshot(t *testing.T, ch <-chan events.Message) []events.Message {
	t.Helper()
	var out []events.Message
	for {
		m := next(t, ch)
		if m.Name == events.NameSnapshot {
			return out
		}
		out = append(out, m)
	}
}

func agentSnap(agents ...gastown.Agent) *gastown.Snapshot {
	return &gastown.Snapshot{Initialized: true, Agents: agents}
}

func newPoller(src gastown.Source, interval time.Duration) *telemetry.Poller {
	return telemetry.NewPoller("/town", src, telemetry.Options{Interval: interval, Logger: discardLogger()})
}

func TestPoller_FirstTickSilence(t *testing.T) {
	src := &scriptedSource{steps: []step{
		{snap: agentSnap(gastown.Agent{Name: "polecat-1", Running: true})},
		{snap: agentSnap(gastown.Agent{Name: "polecat-1", Running: false})},
	}}
	p := newPoller(src, 30*time.Millisecond)
	sub, ch := collector()
	require.NoError(t, p.Subscribe(sub))
	defer p.Stop()

	assert.Equal(t, events.NameConnected, next(t, ch).Name)
	first := next(t, ch)
	require.Equal(t, events.NameSnapshot, first.Name)
	assert.Equal(t, "/town", first.Data.(events.SnapshotEvent).Scope)

	// Everything between the first and second snapshot belongs to tick 1.
	assert.Empty(t, untilSnapshot(t, ch))

	// Tick 2's change follows its own snapshot.
	change := next(t, ch)
	require.Equal(t, events.NameChange, change.Name)
	assert.Equal(t, telemetry.TypeStopped, change.Data.(events.ChangeEvent).Type)
}

func TestPoller_AlertsFollowChanges(t *testing.T) {
	src := &scriptedSource{steps: []step{
		{snap: agentSnap(gastown.Agent{Name: "w", Running: true, State: "working"})},
		{snap: agentSnap(gastown.Agent{Name: "w", Running: true, State: "stuck"})},
	}}
	p := newPoller(src, 30*time.Millisecond)
	sub, ch := collector()
	require.NoError(t, p.Subscribe(sub))
	defer p.Stop()

	next(t, ch) // connected
	next(t, ch) // tick 1 snapshot
	assert.Empty(t, untilSnapshot(t, ch))
	// Tick 2 is everything after its snapshot until tick 3's snapshot.
	batch := untilSnapshot(t, ch)
	require.Len(t, batch, 2)
	assert.Equal(t, events.NameChange, batch[0].Name)
	assert.Equal(t, events.NameAlert, batch[1].Name)
	assert.Equal(t, telemetry.AlertAgentsStuck, batch[1].Data.(events.AlertEvent).Code)

	// The condition persists but the cooldown suppresses a repeat.
	assert.Empty(t, untilSnapshot(t, ch))
}

func TestPoller_FetchFailureIsSyntheticEvent(t *testing.T) {
	src := &scriptedSource{steps: []step{
		{err: errors.New("gt: timed out")},
		{snap: agentSnap(gastown.Agent{Name: "mayor", Running: true})},
	}}
	p := newPoller(src, 30*time.Millisecond)
	sub, ch := collector()
	require.NoError(t, p.Subscribe(sub))
	defer p.Stop()

	next(t, ch) // connected
	m := next(t, ch)
	require.Equal(t, events.NameChange, m.Name)
	ev := m.Data.(events.ChangeEvent)
	assert.Equal(t, events.CategorySystem, ev.Category)
	assert.Equal(t, telemetry.TypeFetchFailed, ev.Type)

	// The loop keeps running and the next tick succeeds.
	assert.Equal(t, events.NameSnapshot, next(t, ch).Name)
}

func TestPoller_WorkCountFailureDegradesToZero(t *testing.T) {
	src := &scriptedSource{
		steps:    []step{{snap: agentSnap(gastown.Agent{Name: "mayor", Running: true})}},
		ready:    7,
		readyErr: errors.New("bd: database locked"),
	}
	p := newPoller(src, time.Hour)
	sub, ch := collector()
	require.NoError(t, p.Subscribe(sub))
	defer p.Stop()

	next(t, ch)
	m := next(t, ch)
	require.Equal(t, events.NameSnapshot, m.Name)
	snap := m.Data.(events.SnapshotEvent)
	assert.Equal(t, 0, snap.Counts.ReadyWork)
	assert.Equal(t, 1, snap.Counts.Running)
}

func TestPoller_LateSubscriberGetsLatestSnapshot(t *testing.T) {
	src := &scriptedSource{steps: []step{{snap: agentSnap(gastown.Agent{Name: "mayor", Running: true})}}}
	p := newPoller(src, time.Hour)
	first, ch1 := collector()
	require.NoError(t, p.Subscribe(first))
	defer p.Stop()
	next(t, ch1)
	require.Equal(t, events.NameSnapshot, next(t, ch1).Name)

	late, ch2 := collector()
	require.NoError(t, p.Subscribe(late))
	assert.Equal(t, events.NameConnected, next(t, ch2).Name)
	m := next(t, ch2)
	require.Equal(t, events.NameSnapshot, m.Name)
	assert.Equal(t, 1, m.Data.(events.SnapshotEvent).Counts.Agents)
	assert.Equal(t, 1, src.Calls(), "late subscriber must not trigger a poll")
}

func TestPoller_LifecycleIdempotence(t *testing.T) {
	src := &scriptedSource{steps: []step{{snap: agentSnap()}}}
	p := newPoller(src, time.Hour)

	p.Stop()
	assert.False(t, p.Polling())

	p.Start()
	p.Start()
	assert.True(t, p.Polling())
	assert.Eventually(t, func() bool { return src.Calls() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, src.Calls(), "second Start must not spawn another loop")

	p.Stop()
	p.Stop()
	assert.False(t, p.Polling())
}

func TestPoller_LastUnsubscribeStopsAndResets(t *testing.T) {
	src := &scriptedSource{steps: []step{{snap: agentSnap(gastown.Agent{Name: "a", Running: true})}}}
	p := newPoller(src, 20*time.Millisecond)

	a, chA := collector()
	b, _ := collector()
	require.NoError(t, p.Subscribe(a))
	require.NoError(t, p.Subscribe(b))
	next(t, chA)
	next(t, chA)

	p.Unsubscribe(a.ID())
	assert.True(t, p.Polling(), "one subscriber remains")
	p.Unsubscribe(b.ID())
	assert.False(t, p.Polling())
	assert.True(t, p.Idle())

	// A fresh run starts from a clean slate: no diff against the old state.
	src.Set(step{snap: agentSnap(gastown.Agent{Name: "a", Running: false})})
	c, chC := collector()
	require.NoError(t, p.Subscribe(c))
	defer p.Stop()
	assert.Equal(t, events.NameConnected, next(t, chC).Name)
	m := next(t, chC)
	require.Equal(t, events.NameSnapshot, m.Name)
	assert.Equal(t, 0, m.Data.(events.SnapshotEvent).Counts.Running, "stale snapshot must not be replayed")
	assert.Empty(t, untilSnapshot(t, chC))
}

func TestPoller_FailingSubscriberDetachedAndPollerStops(t *testing.T) {
	src := &scriptedSource{steps: []step{{snap: agentSnap()}}}
	p := newPoller(src, 10*time.Millisecond)

	closed := make(chan struct{})
	sub := events.NewFuncSubscriber(func(m events.Message) error {
		if m.Name == events.NameSnapshot {
			return errors.New("connection reset")
		}
		return nil
	}, func() { close(closed) })

	require.NoError(t, p.Subscribe(sub))
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("failing subscriber was not closed")
	}
	assert.Eventually(t, p.Idle, 2*time.Second, 5*time.Millisecond)
}

func TestRegistry_PollerPerScope(t *testing.T) {
	sources := map[string]*scriptedSource{}
	var mu sync.Mutex
	reg := telemetry.NewRegistry("/default", func(scope string) gastown.Source {
		mu.Lock()
		defer mu.Unlock()
		src := &scriptedSource{steps: []step{{snap: agentSnap()}}}
		sources[scope] = src
		return src
	}, telemetry.Options{Interval: time.Hour, Logger: discardLogger()})
	defer reg.Close()

	a, chA := collector()
	pa, err := reg.Subscribe("", a)
	require.NoError(t, err)
	assert.Equal(t, "/default", pa.Scope())

	b, _ := collector()
	pb, err := reg.Subscribe("/other", b)
	require.NoError(t, err)
	assert.NotSame(t, pa, pb)
	assert.Equal(t, 2, reg.Len())

	c, _ := collector()
	pc, err := reg.Subscribe("/default", c)
	require.NoError(t, err)
	assert.Same(t, pa, pc)

	next(t, chA)
	m := next(t, chA)
	assert.Equal(t, "/default", m.Data.(events.SnapshotEvent).Scope)

	// While polling, REST reads share the poller's source.
	mu.Lock()
	other := sources["/other"]
	mu.Unlock()
	assert.Same(t, other, reg.Source("/other"))
	assert.Equal(t, 2, reg.Sources())

	pb.Unsubscribe(b.ID())
	assert.Eventually(t, func() bool { return reg.Len() == 1 }, time.Second, 5*time.Millisecond)
	_, ok := reg.Poller("/other")
	assert.False(t, ok)
	assert.Equal(t, 1, reg.Sources(), "released scope must not keep its source")
	assert.NotSame(t, other, reg.Source("/other"))
	assert.Equal(t, 1, reg.Sources(), "reads of an unpolled scope are not retained")
}

type alertLog struct {
	mu     sync.Mutex
	alerts []events.AlertEvent
}

func (l *alertLog) RecordAlert(scope string, a events.AlertEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.alerts = append(l.alerts, a)
	return nil
}

func (l *alertLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.alerts)
}

func TestPoller_RecordsAlerts(t *testing.T) {
	src := &scriptedSource{steps: []step{{snap: nil}}}
	log := &alertLog{}
	p := telemetry.NewPoller("/town", src, telemetry.Options{Interval: 10 * time.Millisecond, Alerts: log, Logger: discardLogger()})
	sub, _ := collector()
	require.NoError(t, p.Subscribe(sub))
	defer p.Stop()

	assert.Eventually(t, func() bool { return log.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, telemetry.AlertSystemOffline, log.alerts[0].Code)
}

// clockedSource advances a fake clock by step on every status call.
type clockedSource struct {
	*scriptedSource
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *clockedSource) Status(ctx context.Context) (*gastown.StatusResult, error) {
	c.mu.Lock()
	c.now = c.now.Add(c.step)
	c.mu.Unlock()
	return c.scriptedSource.Status(ctx)
}

func (c *clockedSource) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func TestPoller_SustainedOutageAlertsOncePerCooldown(t *testing.T) {
	src := &clockedSource{
		scriptedSource: &scriptedSource{steps: []step{
			{snap: agentSnap(gastown.Agent{Name: "mayor", Running: true})},
			{err: errors.New("gt status: timed out")},
		}},
		now:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		step: 20 * time.Second,
	}
	p := telemetry.NewPoller("/town", src, telemetry.Options{
		Interval: time.Millisecond,
		Cooldown: time.Minute,
		Now:      src.Now,
		Logger:   discardLogger(),
	})
	sub, ch := collector()
	require.NoError(t, p.Subscribe(sub))
	require.Eventually(t, func() bool { return src.Calls() >= 12 }, 2*time.Second, time.Millisecond)
	p.Stop()
	calls := src.Calls()

	var failures int
	var alerts []events.AlertEvent
	for len(ch) > 0 {
		m := <-ch
		switch m.Name {
		case events.NameChange:
			if m.Data.(events.ChangeEvent).Type == telemetry.TypeFetchFailed {
				failures++
			}
		case events.NameAlert:
			alerts = append(alerts, m.Data.(events.AlertEvent))
		}
	}

	assert.Equal(t, 1, failures, "fetch_failed is reported on the transition only")
	require.NotEmpty(t, alerts)
	for i, a := range alerts {
		assert.Equal(t, telemetry.AlertSystemOffline, a.Code)
		if i > 0 {
			assert.Greater(t, a.Timestamp.Sub(alerts[i-1].Timestamp), time.Minute)
		}
	}
	// Failures start at 40s and a call lands every 20s, so an alert fires
	// at most every fourth call.
	assert.LessOrEqual(t, len(alerts), (calls-1+3)/4)
	assert.GreaterOrEqual(t, len(alerts), 2)
}

func TestPoller_FailureThenRecoveryReportsAgain(t *testing.T) {
	src := &scriptedSource{steps: []step{
		{err: errors.New("gt: not found")},
		{err: errors.New("gt: not found")},
		{snap: agentSnap()},
		{err: errors.New("gt: not found")},
	}}
	p := newPoller(src, 5*time.Millisecond)
	sub, ch := collector()
	require.NoError(t, p.Subscribe(sub))
	require.Eventually(t, func() bool { return src.Calls() >= 6 }, 2*time.Second, time.Millisecond)
	p.Stop()

	var failures int
	for len(ch) > 0 {
		if m := <-ch; m.Name == events.NameChange && m.Data.(events.ChangeEvent).Type == telemetry.TypeFetchFailed {
			failures++
		}
	}
	assert.Equal(t, 2, failures, "one per healthy-to-failing transition")
}

func TestPoller_UninitializedTickKeepsAgents(t *testing.T) {
	agents := agentSnap(gastown.Agent{Name: "a", Running: true}, gastown.Agent{Name: "b", Running: true})
	src := &scriptedSource{steps: []step{{snap: agents}, {snap: nil}, {snap: agents}}}
	p := newPoller(src, 20*time.Millisecond)
	sub, ch := collector()
	require.NoError(t, p.Subscribe(sub))
	defer p.Stop()

	next(t, ch) // connected
	next(t, ch) // tick 1 snapshot
	assert.Empty(t, untilSnapshot(t, ch))

	offline := untilSnapshot(t, ch)
	require.Len(t, offline, 1, "no left events while the town is unreadable")
	assert.Equal(t, events.NameAlert, offline[0].Name)
	assert.Equal(t, telemetry.AlertSystemOffline, offline[0].Data.(events.AlertEvent).Code)

	assert.Empty(t, untilSnapshot(t, ch), "no joined events on recovery")
}
