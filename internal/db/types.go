package db

import (
	"time"

	"github.com/zsprackett/gtdash/internal/events"
)

// Metadata keys.
const (
	MetaDispatchTarget = "dispatch_target"
)

// AlertRecord is one row of the alert log.
type AlertRecord struct {
	ID       int64           `json:"id"`
	Scope    string          `json:"scope"`
	Code     string          `json:"code"`
	Severity events.Severity `json:"severity"`
	Category events.Category `json:"category"`
	Message  string          `json:"message"`
	Payload  map[string]any  `json:"payload,omitempty"`
	FiredAt  time.Time       `json:"fired_at"`
}
