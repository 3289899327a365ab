package events_test

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsprackett/gtdash/internal/events"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recorder struct {
	mu     sync.Mutex
	got    []events.Message
	closed bool
}

func (r *recorder) subscriber() *events.FuncSubscriber {
	return events.NewFuncSubscriber(func(m events.Message) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.got = append(r.got, m)
		return nil
	}, func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
	})
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.got {
		out = append(out, m.Name)
	}
	return out
}

func TestHubAddRemoveReportTransitions(t *testing.T) {
	hub := events.NewHub("test", discardLogger())
	a, b := &recorder{}, &recorder{}
	subA, subB := a.subscriber(), b.subscriber()

	assert.False(t, hub.HasSubscribers())
	assert.True(t, hub.Add(subA), "first add should report 0->1")
	assert.False(t, hub.Add(subB))
	assert.Equal(t, 2, hub.Len())

	assert.False(t, hub.Remove(subA.ID()))
	assert.True(t, hub.Remove(subB.ID()), "last remove should report 1->0")
	assert.False(t, hub.Remove(subB.ID()), "removing an unknown id is a no-op")
	assert.False(t, hub.HasSubscribers())
}

func TestHubBroadcastIsolatesFailingSubscriber(t *testing.T) {
	hub := events.NewHub("test", discardLogger())
	a, c := &recorder{}, &recorder{}
	failClosed := false
	failing := events.NewFuncSubscriber(func(events.Message) error {
		return errors.New("connection reset")
	}, func() { failClosed = true })

	hub.Add(a.subscriber())
	hub.Add(failing)
	hub.Add(c.subscriber())

	failed := hub.Broadcast(events.Message{Name: events.NameSnapshot})

	assert.Equal(t, 1, failed)
	assert.Equal(t, []string{events.NameSnapshot}, a.names())
	assert.Equal(t, []string{events.NameSnapshot}, c.names())
	assert.True(t, failClosed, "failing subscriber should be closed")
	assert.Equal(t, 2, hub.Len(), "failing subscriber should be detached")
}

func TestHubBroadcastRecoversPanickingSubscriber(t *testing.T) {
	hub := events.NewHub("test", discardLogger())
	a := &recorder{}
	hub.Add(events.NewFuncSubscriber(func(events.Message) error { panic("boom") }, nil))
	hub.Add(a.subscriber())

	require.NotPanics(t, func() {
		hub.Broadcast(events.Message{Name: events.NameChange})
	})
	assert.Equal(t, []string{events.NameChange}, a.names())
	assert.Equal(t, 1, hub.Len())
}

func TestHubBroadcastDeliversBatchInOrder(t *testing.T) {
	hub := events.NewHub("test", discardLogger())
	a := &recorder{}
	hub.Add(a.subscriber())

	hub.Broadcast(
		events.Message{Name: events.NameSnapshot},
		events.Message{Name: events.NameChange},
		events.Message{Name: events.NameAlert},
	)
	assert.Equal(t, []string{events.NameSnapshot, events.NameChange, events.NameAlert}, a.names())
}

func TestHubOnEmptyFiresWhenFailureDetachesLast(t *testing.T) {
	hub := events.NewHub("test", discardLogger())
	emptied := false
	hub.OnEmpty(func() { emptied = true })
	hub.Add(events.NewFuncSubscriber(func(events.Message) error { return io.ErrClosedPipe }, nil))

	hub.Broadcast(events.Message{Name: events.NameSnapshot})

	assert.True(t, emptied)
	assert.False(t, hub.HasSubscribers())
}

func TestHubSendTo(t *testing.T) {
	hub := events.NewHub("test", discardLogger())
	a, b := &recorder{}, &recorder{}
	subA := a.subscriber()
	hub.Add(subA)
	hub.Add(b.subscriber())

	require.NoError(t, hub.SendTo(subA.ID(), events.ConnectedMessage("test")))
	assert.Equal(t, []string{events.NameConnected}, a.names())
	assert.Empty(t, b.names())

	err := hub.SendTo("missing", events.Message{Name: events.NameSnapshot})
	assert.ErrorIs(t, err, events.ErrUnknownSubscriber)
}

func TestHubConcurrentMutationDuringBroadcast(t *testing.T) {
	hub := events.NewHub("test", discardLogger())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r := &recorder{}
			sub := r.subscriber()
			hub.Add(sub)
			hub.Remove(sub.ID())
		}()
		go func() {
			defer wg.Done()
			hub.Broadcast(events.Message{Name: events.NameChange})
		}()
	}
	wg.Wait()
	assert.False(t, hub.HasSubscribers())
}

func TestMessageJSON(t *testing.T) {
	data, err := events.Message{Name: events.NameConnected}.JSON()
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	data, err = events.Message{Name: events.NameChange, Data: events.ChangeEvent{
		Category: events.CategoryAgent, Type: "joined", Message: "polecat-1 joined",
	}}.JSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"category":"agent"`)
	assert.NotContains(t, string(data), `"payload"`)
}
