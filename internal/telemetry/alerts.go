package telemetry

import (
	"fmt"
	"time"

	"github.com/zsprackett/gtdash/internal/events"
	"github.com/zsprackett/gtdash/internal/gastown"
)

// DefaultCooldown is the minimum gap between two firings of one alert code.
const DefaultCooldown = 60 * time.Second

// Alert codes.
const (
	AlertSystemOffline = "system_offline"
	AlertAgentsStuck   = "agents_stuck"
	AlertMQBacklog     = "mq_backlog"
	AlertRigsDegraded  = "rigs_degraded"
	AlertWorkBacklog   = "work_backlog"
	AlertNoAgents      = "no_agents"
)

const (
	mqBacklogThreshold   = 50
	workBacklogThreshold = 100
)

// AlertState records when each alert code last fired.
type AlertState map[string]time.Time

type rule struct {
	code     string
	severity events.Severity
	category events.Category
	// check reports whether the condition holds, and if so the message and
	// payload to raise.
	check func(s gastown.Snapshot, c events.Counts) (bool, string, map[string]any)
}

var rules = []rule{
	{
		code:     AlertSystemOffline,
		severity: events.SeverityCritical,
		category: events.CategorySystem,
		check: func(s gastown.Snapshot, _ events.Counts) (bool, string, map[string]any) {
			return !s.Initialized, "Gas Town workspace is not initialized or unreachable", nil
		},
	},
	{
		code:     AlertAgentsStuck,
		severity: events.SeverityWarning,
		category: events.CategoryAgent,
		check: func(s gastown.Snapshot, c events.Counts) (bool, string, map[string]any) {
			if c.Stuck == 0 {
				return false, "", nil
			}
			var names []string
			for _, a := range s.Agents {
				if a.State == gastown.StateStuck {
					names = append(names, a.Name)
				}
			}
			return true, fmt.Sprintf("%d agent(s) stuck", c.Stuck), map[string]any{"agents": names}
		},
	},
	{
		code:     AlertMQBacklog,
		severity: events.SeverityWarning,
		category: events.CategoryRig,
		check: func(_ gastown.Snapshot, c events.Counts) (bool, string, map[string]any) {
			if c.MQPending <= mqBacklogThreshold {
				return false, "", nil
			}
			return true, fmt.Sprintf("merge queue backlog: %d pending", c.MQPending),
				map[string]any{"pending": c.MQPending, "threshold": mqBacklogThreshold}
		},
	},
	{
		code:     AlertRigsDegraded,
		severity: events.SeverityWarning,
		category: events.CategoryRig,
		check: func(s gastown.Snapshot, c events.Counts) (bool, string, map[string]any) {
			if c.DegradedRigs == 0 {
				return false, "", nil
			}
			var names []string
			for _, r := range s.Rigs {
				if r.Degraded() {
					names = append(names, r.Name)
				}
			}
			return true, fmt.Sprintf("%d rig(s) degraded", c.DegradedRigs), map[string]any{"rigs": names}
		},
	},
	{
		code:     AlertWorkBacklog,
		severity: events.SeverityWarning,
		category: events.CategoryWork,
		check: func(_ gastown.Snapshot, c events.Counts) (bool, string, map[string]any) {
			if c.ReadyWork <= workBacklogThreshold {
				return false, "", nil
			}
			return true, fmt.Sprintf("work backlog: %d ready items", c.ReadyWork),
				map[string]any{"ready": c.ReadyWork, "threshold": workBacklogThreshold}
		},
	},
	{
		code:     AlertNoAgents,
		severity: events.SeverityCritical,
		category: events.CategoryAgent,
		check: func(_ gastown.Snapshot, c events.Counts) (bool, string, map[string]any) {
			if c.Running > 0 || c.ReadyWork == 0 {
				return false, "", nil
			}
			return true, fmt.Sprintf("no agents running with %d ready items", c.ReadyWork),
				map[string]any{"ready": c.ReadyWork}
		},
	},
}

// Evaluator applies the fixed alert rule set with a per-code cooldown.
type Evaluator struct {
	Cooldown time.Duration
}

// Evaluate returns the alerts whose condition holds in snap and whose code is
// out of cooldown, recording now in state for each one fired.
func (e Evaluator) Evaluate(snap gastown.Snapshot, state AlertState, now time.Time) []events.AlertEvent {
	cooldown := e.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	counts := CountSnapshot(snap)

	var out []events.AlertEvent
	for _, r := range rules {
		ok, msg, payload := r.check(snap, counts)
		if !ok {
			continue
		}
		if last, fired := state[r.code]; fired && now.Sub(last) <= cooldown {
			continue
		}
		state[r.code] = now
		out = append(out, events.AlertEvent{
			Severity:  r.severity,
			Code:      r.code,
			Category:  r.category,
			Message:   msg,
			Payload:   payload,
			Timestamp: now,
		})
	}
	return out
}

// Clear deletes the state entry of every code whose condition no longer holds
// in snap, so the next occurrence fires without waiting out the cooldown.
func (e Evaluator) Clear(snap gastown.Snapshot, state AlertState) {
	counts := CountSnapshot(snap)
	for _, r := range rules {
		if ok, _, _ := r.check(snap, counts); !ok {
			delete(state, r.code)
		}
	}
}

// Evaluate runs the rule set with the default cooldown.
func Evaluate(snap gastown.Snapshot, state AlertState, now time.Time) []events.AlertEvent {
	return Evaluator{}.Evaluate(snap, state, now)
}

// Clear runs the clear pass of the default evaluator.
func Clear(snap gastown.Snapshot, state AlertState) {
	Evaluator{}.Clear(snap, state)
}
