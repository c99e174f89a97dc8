package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies the category of activity a monitor observed.
type EventType string

const (
	EventFileAccess    EventType = "file_access"
	EventUSB           EventType = "usb_event"
	EventProcessLaunch EventType = "process_launch"
	EventUserBehavior  EventType = "user_behavior"
)

// AllEventTypes lists every event type in the fixed order used by the
// feature extractor's one-hot encoding. The order must not change within
// a deployed model generation.
var AllEventTypes = []EventType{
	EventFileAccess,
	EventUSB,
	EventProcessLaunch,
	EventUserBehavior,
}

// Event is a timestamped, typed record of an observed occurrence. It is
// created by a monitor, immutable once queued, and consumed exactly once
// by the engine's drain loop.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"event_type"`
	Payload   map[string]any `json:"payload"`
}

// New builds an Event with a fresh ID and the current time. Monitors use
// this at emission; the payload is owned by the event from this point on.
func New(eventType EventType, payload map[string]any) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Type:      eventType,
		Payload:   payload,
	}
}

// Callback is the single sink monitors emit normalized events through.
// Implementations must be safe for concurrent invocation from multiple
// monitor goroutines.
type Callback func(Event)

// PayloadString returns a string payload field, or def when the field is
// absent or of another type.
func (e Event) PayloadString(key, def string) string {
	if v, ok := e.Payload[key].(string); ok {
		return v
	}
	return def
}

// PayloadFloat returns a numeric payload field as float64, or def when
// absent. JSON round-trips turn ints into float64, so both are accepted.
func (e Event) PayloadFloat(key string, def float64) float64 {
	switch v := e.Payload[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	default:
		return def
	}
}

// PayloadBool returns a boolean payload field, or def when absent.
func (e Event) PayloadBool(key string, def bool) bool {
	if v, ok := e.Payload[key].(bool); ok {
		return v
	}
	return def
}

// PayloadLen returns the length of a payload field that is a string or a
// slice, and 0 otherwise.
func (e Event) PayloadLen(key string) int {
	switch v := e.Payload[key].(type) {
	case string:
		return len(v)
	case []any:
		return len(v)
	case []string:
		return len(v)
	case []map[string]any:
		return len(v)
	default:
		return 0
	}
}
