package gastown

import "time"

// Agent state tags reported by gt.
const (
	StateStuck   = "stuck"
	StateWorking = "working"
	StateIdle    = "idle"
)

// Merge queue health and state tags.
const (
	HealthHealthy  = "healthy"
	HealthStale    = "stale"
	MQStateBlocked = "blocked"
)

// Agent is one orchestrated worker in a town.
type Agent struct {
	Name      string `json:"name"`
	Role      string `json:"role"`
	Rig       string `json:"rig,omitempty"`
	Session   string `json:"session,omitempty"`
	Running   bool   `json:"running"`
	HasWork   bool   `json:"has_work"`
	WorkID    string `json:"work_id,omitempty"`
	WorkTitle string `json:"work_title,omitempty"`
	State     string `json:"state,omitempty"`
}

// QueueSummary is a rig's merge queue as reported by its refinery.
type QueueSummary struct {
	Pending  int    `json:"pending"`
	InFlight int    `json:"in_flight"`
	Blocked  int    `json:"blocked"`
	Health   string `json:"health,omitempty"`
	State    string `json:"state,omitempty"`
}

// Rig is one project repository managed by the town.
type Rig struct {
	Name        string       `json:"name"`
	Polecats    int          `json:"polecats"`
	Crew        int          `json:"crew"`
	HasWitness  bool         `json:"has_witness"`
	HasRefinery bool         `json:"has_refinery"`
	Queue       QueueSummary `json:"queue"`
}

// Degraded reports whether the rig's queue is stale or blocked.
func (r Rig) Degraded() bool {
	return r.Queue.Health == HealthStale || r.Queue.State == MQStateBlocked
}

// Snapshot is the full point-in-time state of a town. It is treated as
// immutable once built.
type Snapshot struct {
	Initialized bool      `json:"initialized"`
	Town        string    `json:"town,omitempty"`
	Agents      []Agent   `json:"agents"`
	Rigs        []Rig     `json:"rigs"`
	ReadyWork   int       `json:"ready_work"`
	BlockedWork int       `json:"blocked_work"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// StatusResult is the outcome of one status call. An uninitialized town is
// a valid result, not an error.
type StatusResult struct {
	Initialized bool      `json:"initialized"`
	Status      *Snapshot `json:"status,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// WorkItem is one issue from the tracker's ready or blocked lists.
type WorkItem struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Status   string `json:"status,omitempty"`
	Priority int    `json:"priority"`
	Assignee string `json:"assignee,omitempty"`
}
