package feed_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsprackett/gtdash/internal/feed"
)

func event(typ, title string, ts time.Time) feed.UnifiedEvent {
	return feed.UnifiedEvent{ID: feed.NewID("test", typ, ts), Timestamp: ts, Type: typ, Title: title}
}

func TestListDedupWindow(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)

	l := feed.NewList(100, 0)
	assert.True(t, l.Insert(event(feed.TypeAgent, "mayor started", t0)))
	assert.False(t, l.Insert(event(feed.TypeAgent, "mayor started", t0.Add(500*time.Millisecond))))
	assert.Equal(t, 1, l.Len())

	l = feed.NewList(100, 0)
	l.Insert(event(feed.TypeAgent, "mayor started", t0))
	assert.True(t, l.Insert(event(feed.TypeAgent, "mayor started", t0.Add(1500*time.Millisecond))))
	assert.Equal(t, 2, l.Len())

	// Different type or title is never a duplicate.
	assert.True(t, l.Insert(event(feed.TypeWork, "mayor started", t0)))
	assert.True(t, l.Insert(event(feed.TypeAgent, "mayor stopped", t0)))
}

func TestListCapKeepsMostRecent(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	l := feed.NewList(100, 0)
	for i := 0; i < 150; i++ {
		l.Insert(event(feed.TypeLog, fmt.Sprintf("line %d", i), t0.Add(time.Duration(i)*time.Millisecond)))
	}
	got := l.Events()
	require.Len(t, got, 100)
	assert.Equal(t, "line 149", got[0].Title, "newest first")
	assert.Equal(t, "line 50", got[99].Title, "oldest retained")
}

func TestNewIDIsNotContentDerived(t *testing.T) {
	ts := time.Now()
	a := feed.NewID("telemetry", "agent", ts)
	b := feed.NewID("telemetry", "agent", ts)
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "telemetry-agent-"))
}
