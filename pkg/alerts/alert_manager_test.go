package alerts

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/sentinair/sentinair/pkg/config"
)

type recordingAudit struct {
	mu      sync.Mutex
	entries []string
}

func (r *recordingAudit) Record(entry string, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *recordingAudit) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func testConfig() config.AlertsConfig {
	return config.AlertsConfig{
		SeverityThreshold: "medium",
		MaxAlertsPerHour:  10,
		HistorySize:       1000,
	}
}

func newTestManager(cfg config.AlertsConfig) (*Manager, *time.Time) {
	m := NewManager(cfg, nil, zerolog.Nop())
	current := time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }
	return m, &current
}

func candidate(eventType string, confidence float64) Candidate {
	return Candidate{
		EventType:   eventType,
		Confidence:  confidence,
		Description: "test alert",
		EventData:   map[string]any{"file_path": "/tmp/x"},
	}
}

func TestSeverityFromConfidence(t *testing.T) {
	assert.Equal(t, SeverityCritical, SeverityFromConfidence(0.95))
	assert.Equal(t, SeverityCritical, SeverityFromConfidence(0.9))
	assert.Equal(t, SeverityHigh, SeverityFromConfidence(0.85))
	assert.Equal(t, SeverityHigh, SeverityFromConfidence(0.8))
	assert.Equal(t, SeverityMedium, SeverityFromConfidence(0.75))
	assert.Equal(t, SeverityMedium, SeverityFromConfidence(0.7))
	assert.Equal(t, SeverityLow, SeverityFromConfidence(0.5))
	assert.Equal(t, SeverityLow, SeverityFromConfidence(0))
}

func TestManager_CreateAssignsIncreasingIDs(t *testing.T) {
	m, _ := newTestManager(testConfig())

	var ids []int64
	for i := 0; i < 5; i++ {
		id, ok := m.Create(candidate("file_access", 0.8))
		assert.True(t, ok)
		ids = append(ids, id)
	}

	// IDs are strictly increasing even when created in the same instant.
	for i := 1; i < len(ids); i++ {
		assert.Greater(t, ids[i], ids[i-1])
	}
}

func TestManager_SeverityThresholdFilters(t *testing.T) {
	m, _ := newTestManager(testConfig())

	_, ok := m.Create(candidate("file_access", 0.5)) // low < medium
	assert.False(t, ok)

	_, ok = m.Create(candidate("file_access", 0.75)) // medium
	assert.True(t, ok)

	stats := m.GetStatistics()
	assert.Equal(t, 1, stats.TotalAlerts)
}

func TestManager_RateLimitPerEventType(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAlertsPerHour = 3
	m, current := newTestManager(cfg)

	for i := 0; i < 3; i++ {
		_, ok := m.Create(candidate("usb_event", 0.8))
		assert.True(t, ok)
	}

	// Fourth within the hour is suppressed.
	_, ok := m.Create(candidate("usb_event", 0.8))
	assert.False(t, ok)

	// A different event type has its own budget.
	_, ok = m.Create(candidate("process_launch", 0.8))
	assert.True(t, ok)

	// Once the oldest entry ages out of the rolling hour, usb_event
	// alerts are admitted again.
	*current = current.Add(61 * time.Minute)
	_, ok = m.Create(candidate("usb_event", 0.8))
	assert.True(t, ok)
}

func TestManager_Acknowledge(t *testing.T) {
	m, _ := newTestManager(testConfig())
	id, _ := m.Create(candidate("file_access", 0.8))

	assert.False(t, m.Acknowledge(99999, "analyst"))

	assert.True(t, m.Acknowledge(id, "analyst"))
	alert, ok := m.GetAlertByID(id)
	assert.True(t, ok)
	assert.True(t, alert.Acknowledged)
	assert.Equal(t, "analyst", alert.AcknowledgedBy)

	// Acknowledged alerts drop out of the active view.
	assert.Empty(t, m.ListActive(""))
}

func TestManager_MarkFalsePositive(t *testing.T) {
	m, _ := newTestManager(testConfig())
	id, _ := m.Create(candidate("file_access", 0.8))

	assert.False(t, m.MarkFalsePositive(99999, "analyst"))

	assert.True(t, m.MarkFalsePositive(id, "analyst"))
	alert, _ := m.GetAlertByID(id)
	assert.True(t, alert.FalsePositive)
	assert.True(t, alert.Acknowledged, "false positive implies acknowledged")
	assert.Empty(t, m.ListActive(""))

	assert.Equal(t, 1, m.GetStatistics().FalsePositives)
	// The counter increments once per call.
	m.MarkFalsePositive(id, "analyst")
	assert.Equal(t, 2, m.GetStatistics().FalsePositives)
}

func TestManager_ListActiveFiltersAndOrders(t *testing.T) {
	m, current := newTestManager(testConfig())

	idOld, _ := m.Create(candidate("file_access", 0.95)) // critical
	*current = current.Add(time.Minute)
	idNew, _ := m.Create(candidate("usb_event", 0.75)) // medium

	active := m.ListActive("")
	assert.Len(t, active, 2)
	assert.Equal(t, idNew, active[0].ID, "newest first")
	assert.Equal(t, idOld, active[1].ID)

	critical := m.ListActive(SeverityCritical)
	assert.Len(t, critical, 1)
	assert.Equal(t, idOld, critical[0].ID)
}

func TestManager_ListRecentWindow(t *testing.T) {
	m, current := newTestManager(testConfig())

	m.Create(candidate("file_access", 0.8))
	*current = current.Add(30 * time.Hour)
	recent, _ := m.Create(candidate("file_access", 0.8))

	within := m.ListRecent(24)
	assert.Len(t, within, 1)
	assert.Equal(t, recent, within[0].ID)
}

func TestManager_CleanupKeepsUnacknowledged(t *testing.T) {
	m, current := newTestManager(testConfig())

	acked, _ := m.Create(candidate("file_access", 0.8))
	m.Create(candidate("usb_event", 0.8))
	m.Acknowledge(acked, "analyst")

	*current = current.Add(40 * 24 * time.Hour)
	cleaned := m.Cleanup(30)

	assert.Equal(t, 1, cleaned)
	_, ok := m.GetAlertByID(acked)
	assert.True(t, ok, "evicted alerts remain reachable through history")
	assert.Len(t, m.ListActive(""), 1, "unacknowledged alerts survive cleanup")
}

func TestManager_HistoryBounded(t *testing.T) {
	cfg := testConfig()
	cfg.HistorySize = 5
	m, _ := newTestManager(cfg)

	for i := 0; i < 12; i++ {
		m.Create(candidate("file_access", 0.8))
	}

	assert.Len(t, m.history, 5)
	assert.Equal(t, 12, m.GetStatistics().TotalAlerts)
}

func TestManager_NotificationCallbacks(t *testing.T) {
	m, _ := newTestManager(testConfig())

	var mu sync.Mutex
	var received []Alert
	m.AddNotificationCallback(func(a Alert) {
		panic("broken sink")
	})
	m.AddNotificationCallback(func(a Alert) {
		mu.Lock()
		received = append(received, a)
		mu.Unlock()
	})

	id, ok := m.Create(candidate("file_access", 0.8))
	assert.True(t, ok, "a panicking callback never blocks creation")

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, received, 1)
	assert.Equal(t, id, received[0].ID)
}

func TestManager_AuditTrail(t *testing.T) {
	audit := &recordingAudit{}
	m := NewManager(testConfig(), audit, zerolog.Nop())

	m.Create(candidate("file_access", 0.8))
	m.Create(candidate("file_access", 0.2)) // filtered, not audited

	assert.Equal(t, 1, audit.count())
}

func TestManager_Export(t *testing.T) {
	m, _ := newTestManager(testConfig())
	m.Create(candidate("file_access", 0.8))

	data, err := m.Export(24)
	assert.NoError(t, err)

	var out []Alert
	assert.NoError(t, json.Unmarshal(data, &out))
	assert.Len(t, out, 1)
	assert.Equal(t, "file_access", out[0].EventType)
}

func TestManager_Statistics(t *testing.T) {
	m, _ := newTestManager(testConfig())

	m.Create(candidate("file_access", 0.95))
	m.Create(candidate("usb_event", 0.75))

	stats := m.GetStatistics()
	assert.Equal(t, 2, stats.TotalAlerts)
	assert.Equal(t, 2, stats.ActiveAlerts)
	assert.Equal(t, 1, stats.AlertsBySeverity["critical"])
	assert.Equal(t, 1, stats.AlertsBySeverity["medium"])
	assert.Equal(t, 1, stats.AlertsByType["usb_event"])
	assert.Equal(t, 2, stats.AlertsLast24h)
}
