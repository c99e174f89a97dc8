package alerts

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sentinair/sentinair/pkg/config"
)

// NotificationCallback receives each accepted alert. Callbacks run
// isolated: a panic in one is recovered and logged and never blocks the
// others or the creator.
type NotificationCallback func(Alert)

// AuditSink records alert lifecycle entries in an append-only audit
// trail.
type AuditSink interface {
	Record(entry string, fields map[string]any)
}

// Manager consumes scored anomalies and applies severity thresholding,
// per-event-type rate limiting, and notification dispatch, retaining a
// bounded history. Alert IDs are unique and strictly increasing in
// creation order; ID assignment happens under the manager's lock and is
// the only globally ordered sequence in the pipeline.
type Manager struct {
	threshold   Severity
	maxPerHour  int
	historySize int

	mu         sync.Mutex
	active     []*Alert
	history    []*Alert
	rateWindow map[string][]time.Time
	lastID     int64
	stats      Statistics

	callbacks []NotificationCallback
	audit     AuditSink
	logger    zerolog.Logger

	now func() time.Time
}

// NewManager creates an alert manager from configuration. audit may be
// nil when no audit trail is wanted.
func NewManager(cfg config.AlertsConfig, audit AuditSink, logger zerolog.Logger) *Manager {
	threshold := Severity(cfg.SeverityThreshold)
	if threshold.Rank() == 1 && threshold != SeverityLow {
		threshold = SeverityMedium
	}
	maxPerHour := cfg.MaxAlertsPerHour
	if maxPerHour <= 0 {
		maxPerHour = 10
	}
	historySize := cfg.HistorySize
	if historySize <= 0 {
		historySize = 1000
	}

	return &Manager{
		threshold:   threshold,
		maxPerHour:  maxPerHour,
		historySize: historySize,
		rateWindow:  make(map[string][]time.Time),
		audit:       audit,
		logger:      logger.With().Str("component", "alert_manager").Logger(),
		now:         time.Now,
	}
}

// AddNotificationCallback registers an external notification sink.
func (m *Manager) AddNotificationCallback(cb NotificationCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Create evaluates a candidate and, when accepted, assigns a unique ID,
// stores the alert, updates counters, dispatches notifications, and
// writes an audit record. It returns the alert ID and true on
// acceptance; candidates below the severity threshold or over the rate
// limit return (0, false).
func (m *Manager) Create(c Candidate) (int64, bool) {
	severity := SeverityFromConfidence(c.Confidence)

	if severity.Rank() < m.threshold.Rank() {
		m.logger.Debug().
			Str("severity", string(severity)).
			Str("event_type", c.EventType).
			Msg("Alert filtered out below severity threshold.")
		return 0, false
	}

	now := m.now()

	m.mu.Lock()
	if !m.admitLocked(c.EventType, now) {
		m.mu.Unlock()
		m.logger.Warn().
			Str("event_type", c.EventType).
			Msg("Alert rate limit exceeded, suppressing alert.")
		return 0, false
	}

	alert := &Alert{
		ID:          m.nextIDLocked(now),
		Timestamp:   c.Timestamp,
		EventType:   c.EventType,
		Severity:    severity,
		Confidence:  c.Confidence,
		Description: c.Description,
		EventData:   c.EventData,
		CreatedAt:   now,
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = now
	}

	m.active = append(m.active, alert)
	historyCopy := *alert
	m.history = append(m.history, &historyCopy)
	if len(m.history) > m.historySize {
		m.history = m.history[len(m.history)-m.historySize:]
	}

	m.stats.TotalAlerts++
	if m.stats.AlertsBySeverity == nil {
		m.stats.AlertsBySeverity = make(map[string]int)
		m.stats.AlertsByType = make(map[string]int)
	}
	m.stats.AlertsBySeverity[string(severity)]++
	m.stats.AlertsByType[c.EventType]++

	notify := *alert
	callbacks := make([]NotificationCallback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	m.dispatch(callbacks, notify)

	if m.audit != nil {
		m.audit.Record("alert_created", map[string]any{
			"alert_id":    alert.ID,
			"event_type":  alert.EventType,
			"severity":    string(alert.Severity),
			"confidence":  alert.Confidence,
			"description": alert.Description,
		})
	}

	m.logger.Info().
		Int64("alert_id", alert.ID).
		Str("severity", string(alert.Severity)).
		Str("description", alert.Description).
		Msg("Alert created.")

	return alert.ID, true
}

// admitLocked enforces the per-event-type rolling-hour rate limit by
// evicting aged timestamps and checking the remaining count. Accepted
// candidates record their timestamp in the window.
func (m *Manager) admitLocked(eventType string, now time.Time) bool {
	hourAgo := now.Add(-time.Hour)
	window := m.rateWindow[eventType]

	kept := window[:0]
	for _, ts := range window {
		if ts.After(hourAgo) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= m.maxPerHour {
		m.rateWindow[eventType] = kept
		return false
	}

	m.rateWindow[eventType] = append(kept, now)
	return true
}

// nextIDLocked derives a time-based ID and bumps it past the previous one
// when two alerts land in the same microsecond.
func (m *Manager) nextIDLocked(now time.Time) int64 {
	id := now.UnixMicro()
	if id <= m.lastID {
		id = m.lastID + 1
	}
	m.lastID = id
	return id
}

// dispatch invokes each callback with its own panic isolation.
func (m *Manager) dispatch(callbacks []NotificationCallback, alert Alert) {
	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error().
						Interface("panic", r).
						Int64("alert_id", alert.ID).
						Msg("Notification callback panicked.")
				}
			}()
			cb(alert)
		}()
	}
}

// Acknowledge marks an alert acknowledged. It looks the ID up in the
// active list first and falls back to history. Unknown IDs return false
// and mutate nothing.
func (m *Manager) Acknowledge(id int64, by string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert := m.findLocked(id)
	if alert == nil {
		m.logger.Warn().Int64("alert_id", id).Msg("Alert not found for acknowledgment.")
		return false
	}

	alert.Acknowledged = true
	alert.AcknowledgedAt = m.now()
	alert.AcknowledgedBy = by
	m.logger.Info().Int64("alert_id", id).Str("by", by).Msg("Alert acknowledged.")
	return true
}

// MarkFalsePositive flags an alert as a false positive, which implies
// acknowledgment, and increments the false-positive counter once per
// call. The counter feeds retraining feedback downstream.
func (m *Manager) MarkFalsePositive(id int64, by string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert := m.findLocked(id)
	if alert == nil {
		m.logger.Warn().Int64("alert_id", id).Msg("Alert not found for false positive marking.")
		return false
	}

	alert.FalsePositive = true
	alert.Acknowledged = true
	alert.AcknowledgedAt = m.now()
	alert.AcknowledgedBy = by
	m.stats.FalsePositives++
	m.logger.Info().Int64("alert_id", id).Str("by", by).Msg("Alert marked as false positive.")
	return true
}

// ListActive returns unacknowledged alerts, newest first, optionally
// filtered to one severity. Pass an empty severity for all.
func (m *Manager) ListActive(severityFilter Severity) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Alert
	for _, alert := range m.active {
		if alert.Acknowledged {
			continue
		}
		if severityFilter != "" && alert.Severity != severityFilter {
			continue
		}
		out = append(out, *alert)
	}
	sortNewestFirst(out)
	return out
}

// ListRecent returns history entries within the trailing window, newest
// first.
func (m *Manager) ListRecent(hours int) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listRecentLocked(hours)
}

func (m *Manager) listRecentLocked(hours int) []Alert {
	cutoff := m.now().Add(-time.Duration(hours) * time.Hour)

	var out []Alert
	for _, alert := range m.history {
		if alert.Timestamp.After(cutoff) {
			out = append(out, *alert)
		}
	}
	sortNewestFirst(out)
	return out
}

// GetAlertByID returns a copy of the alert with the given ID from the
// active list or history.
func (m *Manager) GetAlertByID(id int64) (Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if alert := m.findLocked(id); alert != nil {
		return *alert, true
	}
	return Alert{}, false
}

// GetStatistics returns a snapshot of the aggregate counters.
func (m *Manager) GetStatistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats
	stats.AlertsBySeverity = copyCounts(m.stats.AlertsBySeverity)
	stats.AlertsByType = copyCounts(m.stats.AlertsByType)

	for _, alert := range m.active {
		if !alert.Acknowledged {
			stats.ActiveAlerts++
		}
	}
	stats.TotalActive = len(m.active)
	stats.AlertsLast24h = len(m.listRecentLocked(24))
	return stats
}

// Cleanup evicts acknowledged alerts older than the cutoff from the
// active list and returns the eviction count. Unacknowledged alerts are
// never evicted regardless of age.
func (m *Manager) Cleanup(olderThanDays int) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().AddDate(0, 0, -olderThanDays)
	kept := m.active[:0]
	for _, alert := range m.active {
		ackedAt := alert.AcknowledgedAt
		if ackedAt.IsZero() {
			ackedAt = alert.Timestamp
		}
		if !alert.Acknowledged || ackedAt.After(cutoff) {
			kept = append(kept, alert)
		}
	}

	cleaned := len(m.active) - len(kept)
	m.active = kept
	if cleaned > 0 {
		m.logger.Info().Int("count", cleaned).Msg("Cleaned up old acknowledged alerts.")
	}
	return cleaned
}

// Export serializes the recent alert list to JSON for the reporting
// surfaces.
func (m *Manager) Export(hours int) ([]byte, error) {
	alerts := m.ListRecent(hours)
	if alerts == nil {
		alerts = []Alert{}
	}
	return json.MarshalIndent(alerts, "", "  ")
}

// findLocked resolves an ID against the active list with a history
// fallback.
func (m *Manager) findLocked(id int64) *Alert {
	for _, alert := range m.active {
		if alert.ID == id {
			return alert
		}
	}
	for _, alert := range m.history {
		if alert.ID == id {
			return alert
		}
	}
	return nil
}

func sortNewestFirst(alerts []Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].Timestamp.After(alerts[j].Timestamp)
	})
}

func copyCounts(src map[string]int) map[string]int {
	dst := make(map[string]int, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
