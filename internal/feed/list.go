package feed

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Unified event types.
const (
	TypeAgent  = "agent"
	TypeWork   = "work"
	TypeRig    = "rig"
	TypeSystem = "system"
	TypeAlert  = "alert"
	TypeLog    = "log"
	TypeChat   = "chat"
)

// Unified severities.
const (
	SeverityInfo     = "info"
	SeveritySuccess  = "success"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

const (
	DefaultCap         = 100
	DefaultDedupWindow = time.Second
)

// UnifiedEvent is the source-independent shape every stream message is
// normalized into. It is never mutated after insertion.
type UnifiedEvent struct {
	ID          string         `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Type        string         `json:"type"`
	Severity    string         `json:"severity"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// NewID builds an event id from its origin and time plus a random suffix.
// Ids are not content-derived, so two equal events get different ids.
func NewID(source, typ string, ts time.Time) string {
	return fmt.Sprintf("%s-%s-%d-%s", source, typ, ts.UnixMilli(), uuid.NewString()[:8])
}

// List is a bounded, newest-first event list that drops near-duplicates.
type List struct {
	cap    int
	window time.Duration

	mu    sync.RWMutex
	items []UnifiedEvent
}

func NewList(cap int, window time.Duration) *List {
	if cap <= 0 {
		cap = DefaultCap
	}
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &List{cap: cap, window: window}
}

// Insert prepends e unless an entry with the same type and title lies within
// the dedup window of it, then truncates to the cap. Reports whether e was
// added.
func (l *List) Insert(e UnifiedEvent) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.items {
		if existing.Type != e.Type || existing.Title != e.Title {
			continue
		}
		d := existing.Timestamp.Sub(e.Timestamp)
		if d < 0 {
			d = -d
		}
		if d < l.window {
			return false
		}
	}
	items := make([]UnifiedEvent, 0, min(len(l.items)+1, l.cap))
	items = append(items, e)
	for _, existing := range l.items {
		if len(items) == l.cap {
			break
		}
		items = append(items, existing)
	}
	l.items = items
	return true
}

// Events returns a copy of the list, newest first.
func (l *List) Events() []UnifiedEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]UnifiedEvent, len(l.items))
	copy(out, l.items)
	return out
}

func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

func (l *List) Clear() {
	l.mu.Lock()
	l.items = nil
	l.mu.Unlock()
}
