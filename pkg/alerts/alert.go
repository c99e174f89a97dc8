package alerts

import "time"

// Severity is the discrete alert urgency level derived from confidence.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRanks = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the severity's ordinal position (low < medium < high <
// critical). Unknown severities rank as low.
func (s Severity) Rank() int {
	if rank, ok := severityRanks[s]; ok {
		return rank
	}
	return 1
}

// SeverityFromConfidence maps a confidence score to a severity level via
// fixed breakpoints. It is a pure step function; the same confidence
// always yields the same severity.
func SeverityFromConfidence(confidence float64) Severity {
	switch {
	case confidence >= 0.9:
		return SeverityCritical
	case confidence >= 0.8:
		return SeverityHigh
	case confidence >= 0.7:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Alert is one rate-limited, severity-classified anomaly notification.
// The pipeline never mutates an alert after creation; only explicit user
// action flips the acknowledgment flags.
type Alert struct {
	ID             int64          `json:"id"`
	Timestamp      time.Time      `json:"timestamp"`
	EventType      string         `json:"event_type"`
	Severity       Severity       `json:"severity"`
	Confidence     float64        `json:"confidence"`
	Description    string         `json:"description"`
	EventData      map[string]any `json:"event_data"`
	Acknowledged   bool           `json:"acknowledged"`
	AcknowledgedAt time.Time      `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string         `json:"acknowledged_by,omitempty"`
	FalsePositive  bool           `json:"false_positive"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Candidate is the input to Create: a scored anomaly that may or may not
// clear the severity threshold and rate limit.
type Candidate struct {
	Timestamp   time.Time
	EventType   string
	Confidence  float64
	Description string
	EventData   map[string]any
}

// Statistics is the aggregate alert counters surface.
type Statistics struct {
	TotalAlerts      int            `json:"total_alerts"`
	AlertsBySeverity map[string]int `json:"alerts_by_severity"`
	AlertsByType     map[string]int `json:"alerts_by_type"`
	FalsePositives   int            `json:"false_positives"`
	ActiveAlerts     int            `json:"active_alerts"`
	TotalActive      int            `json:"total_active"`
	AlertsLast24h    int            `json:"alerts_last_24h"`
}
