package telemetry

import (
	"sync"

	"github.com/zsprackett/gtdash/internal/events"
	"github.com/zsprackett/gtdash/internal/gastown"
)

// SourceFactory builds the snapshot source for a scope.
type SourceFactory func(scope string) gastown.Source

// Registry holds one Poller per scope, created on the first subscription and
// dropped once it is idle again. The default scope's source lives as long as
// the registry; any other scope's source lives only as long as its poller.
type Registry struct {
	defaultScope string
	newSource    SourceFactory
	opts         Options

	mu      sync.Mutex
	sources map[string]gastown.Source
	pollers map[string]*Poller
}

func NewRegistry(defaultScope string, newSource SourceFactory, opts Options) *Registry {
	return &Registry{
		defaultScope: defaultScope,
		newSource:    newSource,
		opts:         opts,
		sources:      make(map[string]gastown.Source),
		pollers:      make(map[string]*Poller),
	}
}

// Scope resolves an empty scope to the default one.
func (r *Registry) Scope(scope string) string {
	if scope == "" {
		return r.defaultScope
	}
	return scope
}

// Source returns the source for scope, shared with its poller when one is
// live. A scope with neither a poller nor default status gets a throwaway.
func (r *Registry) Source(scope string) gastown.Source {
	scope = r.Scope(scope)
	r.mu.Lock()
	defer r.mu.Unlock()
	if src, ok := r.sources[scope]; ok {
		return src
	}
	if scope == r.defaultScope {
		return r.sourceLocked(scope)
	}
	return r.newSource(scope)
}

func (r *Registry) sourceLocked(scope string) gastown.Source {
	src, ok := r.sources[scope]
	if !ok {
		src = r.newSource(scope)
		r.sources[scope] = src
	}
	return src
}

// Subscribe attaches sub to the poller for scope, creating it if needed, and
// returns the poller so the caller can unsubscribe later.
func (r *Registry) Subscribe(scope string, sub events.Subscriber) (*Poller, error) {
	scope = r.Scope(scope)
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pollers[scope]
	if !ok {
		p = NewPoller(scope, r.sourceLocked(scope), r.opts)
		p.onIdle = r.release
		r.pollers[scope] = p
	}
	if err := p.Subscribe(sub); err != nil {
		return nil, err
	}
	return p, nil
}

// Poller returns the live poller for scope, if any.
func (r *Registry) Poller(scope string) (*Poller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pollers[r.Scope(scope)]
	return p, ok
}

// Sources is the number of retained sources.
func (r *Registry) Sources() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sources)
}

// Len is the number of live pollers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pollers)
}

// Close stops every poller.
func (r *Registry) Close() {
	r.mu.Lock()
	pollers := make([]*Poller, 0, len(r.pollers))
	for _, p := range r.pollers {
		pollers = append(pollers, p)
	}
	r.pollers = make(map[string]*Poller)
	r.mu.Unlock()
	for _, p := range pollers {
		p.Stop()
	}
}

func (r *Registry) release(p *Poller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pollers[p.scope] == p && p.Idle() {
		delete(r.pollers, p.scope)
		if p.scope != r.defaultScope {
			delete(r.sources, p.scope)
		}
	}
}
