package telemetry

import (
	"time"

	"github.com/zsprackett/gtdash/internal/events"
	"github.com/zsprackett/gtdash/internal/gastown"
)

// CountSnapshot aggregates a snapshot into display counts.
func CountSnapshot(s gastown.Snapshot) events.Counts {
	c := events.Counts{
		Agents:      len(s.Agents),
		Rigs:        len(s.Rigs),
		ReadyWork:   s.ReadyWork,
		BlockedWork: s.BlockedWork,
	}
	for _, a := range s.Agents {
		if a.Running {
			c.Running++
			if !a.HasWork {
				c.Idle++
			}
		}
		if a.HasWork {
			c.WithWork++
		}
		if a.State == gastown.StateStuck {
			c.Stuck++
		}
	}
	for _, r := range s.Rigs {
		if r.Degraded() {
			c.DegradedRigs++
		} else {
			c.HealthyRigs++
		}
		c.MQPending += r.Queue.Pending
		c.MQInFlight += r.Queue.InFlight
		c.MQBlocked += r.Queue.Blocked
	}
	return c
}

// NewSnapshotEvent wraps a snapshot with its counts for broadcast.
func NewSnapshotEvent(scope string, s gastown.Snapshot, now time.Time) events.SnapshotEvent {
	return events.SnapshotEvent{
		Scope:     scope,
		Snapshot:  s,
		Counts:    CountSnapshot(s),
		Timestamp: now,
	}
}
