package telemetry

import (
	"fmt"
	"time"

	"github.com/zsprackett/gtdash/internal/events"
	"github.com/zsprackett/gtdash/internal/gastown"
)

// Change event type tags.
const (
	TypeJoined       = "joined"
	TypeLeft         = "left"
	TypeStarted      = "started"
	TypeStopped      = "stopped"
	TypeCompleted    = "completed"
	TypeStateChanged = "state_changed"
	TypeRigAdded     = "added"
	TypeRigBlocked   = "blocked"
	TypeFetchFailed  = "fetch_failed"
)

// Diff compares two consecutive snapshots and returns the transitions between
// them. Each agent contributes at most one event per call; the first match of
// running, work gained, work lost, state change wins. Identity is by name.
func Diff(prev, cur gastown.Snapshot) []events.ChangeEvent {
	return diffAt(prev, cur, time.Now())
}

func diffAt(prev, cur gastown.Snapshot, now time.Time) []events.ChangeEvent {
	var out []events.ChangeEvent

	prevAgents := make(map[string]gastown.Agent, len(prev.Agents))
	for _, a := range prev.Agents {
		prevAgents[a.Name] = a
	}
	seen := make(map[string]bool, len(cur.Agents))

	for _, a := range cur.Agents {
		seen[a.Name] = true
		old, ok := prevAgents[a.Name]
		if !ok {
			out = append(out, events.ChangeEvent{
				Category:  events.CategoryAgent,
				Type:      TypeJoined,
				Message:   fmt.Sprintf("%s joined", a.Name),
				Payload:   map[string]any{"agent": a.Name, "role": a.Role},
				Timestamp: now,
			})
			continue
		}
		if ev, ok := agentChange(old, a, now); ok {
			out = append(out, ev)
		}
	}

	for _, a := range prev.Agents {
		if seen[a.Name] {
			continue
		}
		out = append(out, events.ChangeEvent{
			Category:  events.CategoryAgent,
			Type:      TypeLeft,
			Message:   fmt.Sprintf("%s left", a.Name),
			Payload:   map[string]any{"agent": a.Name, "role": a.Role},
			Timestamp: now,
		})
	}

	prevRigs := make(map[string]gastown.Rig, len(prev.Rigs))
	for _, r := range prev.Rigs {
		prevRigs[r.Name] = r
	}
	for _, r := range cur.Rigs {
		old, ok := prevRigs[r.Name]
		switch {
		case !ok:
			out = append(out, events.ChangeEvent{
				Category:  events.CategoryRig,
				Type:      TypeRigAdded,
				Message:   fmt.Sprintf("rig %s added", r.Name),
				Payload:   map[string]any{"rig": r.Name},
				Timestamp: now,
			})
		case r.Queue.State == gastown.MQStateBlocked && old.Queue.State != gastown.MQStateBlocked:
			out = append(out, events.ChangeEvent{
				Category: events.CategoryRig,
				Type:     TypeRigBlocked,
				Message:  fmt.Sprintf("rig %s merge queue blocked", r.Name),
				Payload: map[string]any{
					"rig":     r.Name,
					"pending": r.Queue.Pending,
					"blocked": r.Queue.Blocked,
				},
				Timestamp: now,
			})
		}
	}
	return out
}

func agentChange(old, cur gastown.Agent, now time.Time) (events.ChangeEvent, bool) {
	ev := events.ChangeEvent{Timestamp: now}
	switch {
	case old.Running != cur.Running:
		ev.Category = events.CategoryAgent
		if cur.Running {
			ev.Type = TypeStarted
			ev.Message = fmt.Sprintf("%s started", cur.Name)
		} else {
			ev.Type = TypeStopped
			ev.Message = fmt.Sprintf("%s stopped", cur.Name)
		}
		ev.Payload = map[string]any{"agent": cur.Name, "running": cur.Running}
	case !old.HasWork && cur.HasWork:
		ev.Category = events.CategoryWork
		ev.Type = TypeStarted
		ev.Message = fmt.Sprintf("%s started %s", cur.Name, workLabel(cur.WorkID, cur.WorkTitle))
		ev.Payload = map[string]any{"agent": cur.Name, "work_id": cur.WorkID, "work_title": cur.WorkTitle}
	case old.HasWork && !cur.HasWork:
		// cur carries no work id any more; report the one that finished.
		ev.Category = events.CategoryWork
		ev.Type = TypeCompleted
		ev.Message = fmt.Sprintf("%s completed %s", cur.Name, workLabel(old.WorkID, old.WorkTitle))
		ev.Payload = map[string]any{"agent": cur.Name, "work_id": old.WorkID, "work_title": old.WorkTitle}
	case cur.State != "" && cur.State != old.State:
		ev.Category = events.CategoryAgent
		ev.Type = TypeStateChanged
		ev.Message = fmt.Sprintf("%s is now %s", cur.Name, cur.State)
		ev.Payload = map[string]any{"agent": cur.Name, "from": old.State, "to": cur.State}
	default:
		return ev, false
	}
	return ev, true
}

func workLabel(id, title string) string {
	switch {
	case id != "" && title != "":
		return fmt.Sprintf("%s (%s)", id, title)
	case id != "":
		return id
	case title != "":
		return title
	}
	return "work"
}

// fetchFailedEvent is the synthetic change event sent when the primary status
// fetch fails.
func fetchFailedEvent(err error, now time.Time) events.ChangeEvent {
	return events.ChangeEvent{
		Category:  events.CategorySystem,
		Type:      TypeFetchFailed,
		Message:   "status fetch failed: " + err.Error(),
		Payload:   map[string]any{"error": err.Error()},
		Timestamp: now,
	}
}
