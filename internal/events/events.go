package events

import (
	"encoding/json"
	"time"

	"github.com/zsprackett/gtdash/internal/gastown"
)

// Stream message names. Each is sent as a named SSE event.
const (
	NameConnected = "connected"
	NameSnapshot  = "snapshot"
	NameChange    = "event"
	NameAlert     = "alert"
	NameLog       = "log"
	NameChat      = "message"
)

// Category groups change events and alerts.
type Category string

const (
	CategoryAgent  Category = "agent"
	CategoryWork   Category = "work"
	CategorySystem Category = "system"
	CategoryRig    Category = "rig"
)

// Severity of an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Message is one named payload pushed to stream subscribers.
type Message struct {
	Name string
	Data any
}

// JSON encodes the payload. A nil payload encodes as an empty object.
func (m Message) JSON() ([]byte, error) {
	if m.Data == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m.Data)
}

// Connected is the ack payload sent first on every stream.
type Connected struct {
	Stream    string    `json:"stream"`
	Timestamp time.Time `json:"timestamp"`
}

func ConnectedMessage(stream string) Message {
	return Message{Name: NameConnected, Data: Connected{Stream: stream, Timestamp: time.Now()}}
}

// Counts aggregates a snapshot for display.
type Counts struct {
	Agents       int `json:"agents"`
	Running      int `json:"running"`
	Idle         int `json:"idle"`
	WithWork     int `json:"with_work"`
	Stuck        int `json:"stuck"`
	Rigs         int `json:"rigs"`
	HealthyRigs  int `json:"healthy_rigs"`
	DegradedRigs int `json:"degraded_rigs"`
	MQPending    int `json:"mq_pending"`
	MQInFlight   int `json:"mq_in_flight"`
	MQBlocked    int `json:"mq_blocked"`
	ReadyWork    int `json:"ready_work"`
	BlockedWork  int `json:"blocked_work"`
}

// SnapshotEvent carries the full current state of one town.
type SnapshotEvent struct {
	Scope     string           `json:"scope"`
	Snapshot  gastown.Snapshot `json:"snapshot"`
	Counts    Counts           `json:"counts"`
	Timestamp time.Time        `json:"timestamp"`
}

// ChangeEvent is one discrete transition derived from two snapshots.
type ChangeEvent struct {
	Category  Category       `json:"category"`
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AlertEvent is a cooldown-gated condition raised from one snapshot.
type AlertEvent struct {
	Severity  Severity       `json:"severity"`
	Code      string         `json:"code"`
	Category  Category       `json:"category"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// LogLine is one line of the tailed town event log.
type LogLine struct {
	Line      string         `json:"line"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type,omitempty"`
	Actor     string         `json:"actor,omitempty"`
	Source    string         `json:"source,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// ChatMessage is one entry of the dispatch conversation.
type ChatMessage struct {
	ID        int64     `json:"id,omitempty"`
	Role      string    `json:"role"` // "user" or "agent"
	Target    string    `json:"target"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}
