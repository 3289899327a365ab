package feed

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/zsprackett/gtdash/internal/events"
)

// Normalizer maps one named message of a source's stream to unified events.
// It is the only place that knows a source's wire format. Messages that carry
// nothing for the feed map to no events.
type Normalizer func(source, name string, data []byte, now time.Time) ([]UnifiedEvent, error)

const titleLimit = 80

// NormalizeTelemetry handles the event and alert messages of the telemetry
// stream. Snapshots are state, not feed entries.
func NormalizeTelemetry(source, name string, data []byte, now time.Time) ([]UnifiedEvent, error) {
	switch name {
	case events.NameChange:
		var ev events.ChangeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		ts := orNow(ev.Timestamp, now)
		typ := string(ev.Category)
		return []UnifiedEvent{{
			ID:        NewID(source, typ, ts),
			Timestamp: ts,
			Type:      typ,
			Severity:  changeSeverity(ev),
			Title:     ev.Message,
			Metadata: map[string]any{
				"stream":  source,
				"event":   ev.Type,
				"payload": ev.Payload,
			},
		}}, nil
	case events.NameAlert:
		var a events.AlertEvent
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, err
		}
		ts := orNow(a.Timestamp, now)
		return []UnifiedEvent{{
			ID:          NewID(source, TypeAlert, ts),
			Timestamp:   ts,
			Type:        TypeAlert,
			Severity:    string(a.Severity),
			Title:       a.Message,
			Description: a.Code,
			Metadata: map[string]any{
				"stream":   source,
				"code":     a.Code,
				"category": string(a.Category),
				"payload":  a.Payload,
			},
		}}, nil
	}
	return nil, nil
}

func changeSeverity(ev events.ChangeEvent) string {
	switch {
	case ev.Category == events.CategorySystem:
		return SeverityWarning
	case ev.Category == events.CategoryRig && ev.Type == "blocked":
		return SeverityWarning
	case ev.Category == events.CategoryWork && ev.Type == "completed":
		return SeveritySuccess
	}
	return SeverityInfo
}

// NormalizeLogs handles the log messages of the raw log stream.
func NormalizeLogs(source, name string, data []byte, now time.Time) ([]UnifiedEvent, error) {
	if name != events.NameLog {
		return nil, nil
	}
	var l events.LogLine
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, err
	}
	ts := orNow(l.Timestamp, now)
	title := truncate(l.Line)
	if l.Type != "" {
		title = l.Type
		if l.Actor != "" {
			title += ": " + l.Actor
		}
	}
	return []UnifiedEvent{{
		ID:          NewID(source, TypeLog, ts),
		Timestamp:   ts,
		Type:        TypeLog,
		Severity:    SeverityInfo,
		Title:       title,
		Description: l.Line,
		Metadata: map[string]any{
			"stream":  source,
			"type":    l.Type,
			"actor":   l.Actor,
			"source":  l.Source,
			"payload": l.Payload,
		},
	}}, nil
}

// NormalizeDispatch handles the chat messages of the dispatch stream.
func NormalizeDispatch(source, name string, data []byte, now time.Time) ([]UnifiedEvent, error) {
	if name != events.NameChat {
		return nil, nil
	}
	var m events.ChatMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	ts := orNow(m.Timestamp, now)
	severity := SeverityInfo
	if m.Role == "system" {
		severity = SeverityWarning
	}
	return []UnifiedEvent{{
		ID:          NewID(source, TypeChat, ts),
		Timestamp:   ts,
		Type:        TypeChat,
		Severity:    severity,
		Title:       m.Role + " @ " + m.Target + ": " + truncate(firstLine(m.Text)),
		Description: m.Text,
		Metadata: map[string]any{
			"stream": source,
			"role":   m.Role,
			"target": m.Target,
			"id":     m.ID,
		},
	}}, nil
}

func orNow(ts, now time.Time) time.Time {
	if ts.IsZero() {
		return now
	}
	return ts
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= titleLimit {
		return s
	}
	return string(r[:titleLimit-1]) + "…"
}
