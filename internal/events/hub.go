package events

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/zsprackett/gtdash/internal/metrics"
)

// ErrUnknownSubscriber is returned by SendTo for an id the hub does not hold.
var ErrUnknownSubscriber = errors.New("unknown subscriber")

// Subscriber receives stream messages. Deliver must not block for long; a
// non-nil error detaches the subscriber from the hub.
type Subscriber interface {
	ID() string
	Deliver(m Message) error
	Close()
}

// FuncSubscriber adapts plain functions to Subscriber.
type FuncSubscriber struct {
	id      string
	deliver func(Message) error
	close   func()
}

// NewFuncSubscriber returns a subscriber with a fresh random id. close may be nil.
func NewFuncSubscriber(deliver func(Message) error, close func()) *FuncSubscriber {
	return &FuncSubscriber{id: uuid.NewString(), deliver: deliver, close: close}
}

func (f *FuncSubscriber) ID() string { return f.id }

func (f *FuncSubscriber) Deliver(m Message) error { return f.deliver(m) }

func (f *FuncSubscriber) Close() {
	if f.close != nil {
		f.close()
	}
}

// Hub fans messages out to the subscribers of one logical stream.
// It holds no business logic.
type Hub struct {
	name    string
	mu      sync.RWMutex
	subs    map[string]Subscriber
	onEmpty func()
	logger  *slog.Logger
}

func NewHub(name string, logger *slog.Logger) *Hub {
	return &Hub{
		name:   name,
		subs:   make(map[string]Subscriber),
		logger: logger,
	}
}

func (h *Hub) Name() string { return h.name }

// OnEmpty registers fn to run when a failed delivery detaches the last
// subscriber. Explicit Remove calls report emptiness through their return
// value instead.
func (h *Hub) OnEmpty(fn func()) {
	h.mu.Lock()
	h.onEmpty = fn
	h.mu.Unlock()
}

// Add attaches sub and reports whether it is the first subscriber.
func (h *Hub) Add(sub Subscriber) bool {
	h.mu.Lock()
	first := len(h.subs) == 0
	h.subs[sub.ID()] = sub
	n := len(h.subs)
	h.mu.Unlock()
	metrics.Subscribers.WithLabelValues(h.name).Set(float64(n))
	h.logger.Debug("hub: subscriber added", "stream", h.name, "id", sub.ID(), "count", n)
	return first
}

// Remove detaches the subscriber with id and reports whether that left the
// hub empty. Removing an unknown id is a no-op returning false.
func (h *Hub) Remove(id string) bool {
	h.mu.Lock()
	_, ok := h.subs[id]
	delete(h.subs, id)
	n := len(h.subs)
	h.mu.Unlock()
	if !ok {
		return false
	}
	metrics.Subscribers.WithLabelValues(h.name).Set(float64(n))
	h.logger.Debug("hub: subscriber removed", "stream", h.name, "id", id, "count", n)
	return n == 0
}

func (h *Hub) HasSubscribers() bool {
	return h.Len() > 0
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Broadcast delivers msgs, in order, to every subscriber attached when the
// call starts. A subscriber whose delivery fails is detached and closed; the
// others are unaffected. Returns the number of subscribers that failed.
func (h *Hub) Broadcast(msgs ...Message) int {
	if len(msgs) == 0 {
		return 0
	}
	h.mu.RLock()
	targets := make([]Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	failed := 0
	for _, sub := range targets {
		if err := h.deliverAll(sub, msgs); err != nil {
			failed++
			h.detach(sub, err)
		}
	}
	return failed
}

// SendTo delivers msgs to a single subscriber.
func (h *Hub) SendTo(id string, msgs ...Message) error {
	h.mu.RLock()
	sub, ok := h.subs[id]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrUnknownSubscriber)
	}
	if err := h.deliverAll(sub, msgs); err != nil {
		h.detach(sub, err)
		return err
	}
	return nil
}

func (h *Hub) deliverAll(sub Subscriber, msgs []Message) error {
	for _, m := range msgs {
		if err := safeDeliver(sub, m); err != nil {
			return err
		}
		metrics.MessagesDelivered.WithLabelValues(h.name, m.Name).Inc()
	}
	return nil
}

func (h *Hub) detach(sub Subscriber, cause error) {
	h.mu.Lock()
	current, ok := h.subs[sub.ID()]
	removed := ok && current == sub
	if removed {
		delete(h.subs, sub.ID())
	}
	n := len(h.subs)
	onEmpty := h.onEmpty
	h.mu.Unlock()
	if !removed {
		return
	}

	metrics.DeliveryFailures.WithLabelValues(h.name).Inc()
	metrics.Subscribers.WithLabelValues(h.name).Set(float64(n))
	h.logger.Warn("hub: delivery failed, detaching subscriber",
		"stream", h.name, "id", sub.ID(), "err", cause)
	sub.Close()
	if n == 0 && onEmpty != nil {
		onEmpty()
	}
}

func safeDeliver(sub Subscriber, m Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panicked: %v", r)
		}
	}()
	return sub.Deliver(m)
}
