package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/sentinair/sentinair/pkg/alerts"
	"github.com/sentinair/sentinair/pkg/config"
	"github.com/sentinair/sentinair/pkg/detector"
	"github.com/sentinair/sentinair/pkg/events"
	"github.com/sentinair/sentinair/pkg/monitors/base"
	"github.com/sentinair/sentinair/pkg/storage"
)

type memStore struct {
	mu     sync.Mutex
	nextID uint
	events []storage.EventRecord
	alerts []storage.AlertRecord
	seed   []storage.EventRecord
}

func (s *memStore) InsertEvent(rec storage.EventRecord) (uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = s.nextID
	s.events = append(s.events, rec)
	return rec.ID, nil
}

func (s *memStore) FetchRecentEvents(days, limit int) ([]storage.EventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.seed) > limit {
		return s.seed[:limit], nil
	}
	return s.seed, nil
}

func (s *memStore) InsertAlert(rec storage.AlertRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, rec)
	return nil
}

func (s *memStore) CleanupOldData(retentionDays int) (int64, error) {
	return 0, nil
}

func (s *memStore) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *memStore) alertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alerts)
}

type fakeMonitor struct {
	*base.BaseMonitor
	failStart bool
}

func newFakeMonitor(name string, failStart bool) *fakeMonitor {
	return &fakeMonitor{
		BaseMonitor: base.NewBaseMonitor(name, zerolog.Nop()),
		failStart:   failStart,
	}
}

func (m *fakeMonitor) Start() error {
	if m.failStart {
		return errors.New("probe unavailable")
	}
	m.BeginRun()
	return nil
}

func (m *fakeMonitor) Stop() { m.EndRun() }

func testEngineConfig() *config.Config {
	return &config.Config{
		LogLevel: "error",
		Queue: config.QueueConfig{
			Capacity:    1000,
			DedupWindow: time.Minute,
			DedupSize:   256,
		},
		Detection: config.DetectionConfig{
			AnomalyThreshold:      0.0,
			TrainingIntervalHours: 24,
			MinTrainingSamples:    10,
			TrainingWindowDays:    7,
			MaxTrainingSamples:    10000,
		},
		Alerts: config.AlertsConfig{
			SeverityThreshold: "low",
			MaxAlertsPerHour:  100,
			HistorySize:       100,
		},
	}
}

func newTestEngine(t *testing.T, cfg *config.Config, store *memStore, monitors map[string]base.Monitor) *Engine {
	t.Helper()
	scorer := detector.NewAnomalyDetector(detector.DefaultIsolationForestParams(), t.TempDir(), zerolog.Nop())
	alertMgr := alerts.NewManager(cfg.Alerts, nil, zerolog.Nop())

	e := New(cfg, monitors, scorer, alertMgr, store, nil, zerolog.Nop())
	e.drainIdleSleep = 5 * time.Millisecond
	e.trainCheckInterval = time.Hour
	return e
}

func fileEvent(i int) events.Event {
	evt := events.New(events.EventFileAccess, map[string]any{
		"file_path":   fmt.Sprintf("/home/user/docs/report-%d.txt", i),
		"access_type": "modified",
	})
	evt.Timestamp = time.Date(2025, 6, 4, 10, 0, i%60, 0, time.UTC)
	return evt
}

// seedRecords builds stored events with consistent daytime file activity
// so a wildly different live event stands out.
func seedRecords(n int) []storage.EventRecord {
	out := make([]storage.EventRecord, n)
	for i := range out {
		payload, _ := json.Marshal(map[string]any{
			"file_path":   fmt.Sprintf("/home/user/docs/report-%d.txt", i),
			"access_type": "modified",
		})
		out[i] = storage.EventRecord{
			Timestamp: time.Now().Add(-time.Duration(i) * time.Minute),
			EventType: "file_access",
			EventData: string(payload),
		}
	}
	return out
}

func TestEngine_StartIsIdempotent(t *testing.T) {
	e := newTestEngine(t, testEngineConfig(), &memStore{}, nil)

	assert.NoError(t, e.Start())
	assert.NoError(t, e.Start())
	assert.True(t, e.GetStatus().Running)

	e.Stop()
	assert.False(t, e.GetStatus().Running)
	e.Stop()
}

func TestEngine_FailedMonitorDegradesGracefully(t *testing.T) {
	monitors := map[string]base.Monitor{
		"good": newFakeMonitor("good", false),
		"bad":  newFakeMonitor("bad", true),
	}
	e := newTestEngine(t, testEngineConfig(), &memStore{}, monitors)

	assert.NoError(t, e.Start())
	defer e.Stop()

	status := e.GetStatus()
	assert.True(t, status.Monitors["good"])
	assert.False(t, status.Monitors["bad"])
}

func TestEngine_PersistsEveryProcessedEvent(t *testing.T) {
	store := &memStore{}
	e := newTestEngine(t, testEngineConfig(), store, nil)

	assert.NoError(t, e.Start())
	for i := 0; i < 20; i++ {
		e.onEvent(fileEvent(i))
	}

	assert.Eventually(t, func() bool {
		return store.eventCount() == 20
	}, 3*time.Second, 10*time.Millisecond)
	e.Stop()

	// Untrained: events are stored unscored.
	assert.False(t, store.events[0].IsAnomaly)
	assert.Zero(t, store.events[0].RiskScore)
}

func TestEngine_StopDrainsBacklog(t *testing.T) {
	store := &memStore{}
	e := newTestEngine(t, testEngineConfig(), store, nil)

	assert.NoError(t, e.Start())
	for i := 0; i < 200; i++ {
		e.onEvent(fileEvent(i))
	}
	e.Stop()

	assert.Equal(t, 200, store.eventCount(), "queued events are processed, not discarded")
	assert.Zero(t, e.GetStatus().QueueDepth)
}

func TestEngine_SuppressesDuplicateEvents(t *testing.T) {
	store := &memStore{}
	e := newTestEngine(t, testEngineConfig(), store, nil)

	assert.NoError(t, e.Start())
	for i := 0; i < 10; i++ {
		e.onEvent(fileEvent(0)) // same source every time
	}
	e.Stop()

	assert.Equal(t, 1, store.eventCount())
	assert.Equal(t, uint64(10), e.GetStatus().EventsSeen)
}

func TestEngine_TrainsFromStoredEvents(t *testing.T) {
	store := &memStore{seed: seedRecords(50)}
	e := newTestEngine(t, testEngineConfig(), store, nil)

	assert.NoError(t, e.Start())
	defer e.Stop()

	assert.Eventually(t, func() bool {
		s := e.GetStatus()
		return s.ModelTrained && s.LastTraining != nil
	}, 5*time.Second, 20*time.Millisecond)
}

func TestEngine_SkipsTrainingBelowMinimum(t *testing.T) {
	store := &memStore{seed: seedRecords(3)}
	e := newTestEngine(t, testEngineConfig(), store, nil)

	assert.NoError(t, e.Start())
	defer e.Stop()

	time.Sleep(100 * time.Millisecond)
	assert.False(t, e.GetStatus().ModelTrained)
	assert.Nil(t, e.GetStatus().LastTraining)
}

func TestEngine_SkipsMalformedStoredEvents(t *testing.T) {
	seed := seedRecords(50)
	seed[0].EventData = "{not json"
	seed[1].EventData = ""
	store := &memStore{seed: seed}
	e := newTestEngine(t, testEngineConfig(), store, nil)

	assert.NoError(t, e.Start())
	defer e.Stop()

	// Training succeeds on the remaining parseable rows.
	assert.Eventually(t, func() bool {
		return e.GetStatus().ModelTrained
	}, 5*time.Second, 20*time.Millisecond)
}

func TestEngine_AlertsOnAnomalousEvent(t *testing.T) {
	store := &memStore{seed: seedRecords(200)}
	e := newTestEngine(t, testEngineConfig(), store, nil)

	assert.NoError(t, e.Start())
	defer e.Stop()

	assert.Eventually(t, func() bool {
		return e.GetStatus().ModelTrained
	}, 5*time.Second, 20*time.Millisecond)

	// Nothing in training looks like an executable dropped at the bottom
	// of a deeply nested system directory.
	long := "/windows/system32/drivers"
	for i := 0; i < 40; i++ {
		long += "/subdir"
	}
	evt := events.New(events.EventFileAccess, map[string]any{
		"file_path":   long + "/payload.exe",
		"access_type": "created",
	})
	e.onEvent(evt)

	assert.Eventually(t, func() bool {
		return store.alertCount() > 0
	}, 3*time.Second, 10*time.Millisecond)

	recent := e.RecentAlerts(24)
	assert.NotEmpty(t, recent)
	assert.Equal(t, "file_access", recent[0].EventType)
	assert.Contains(t, recent[0].Description, "Unusual file access")

	assert.True(t, e.AcknowledgeAlert(recent[0].ID))
	assert.False(t, e.AcknowledgeAlert(-1))
}

func TestDescribeEvent(t *testing.T) {
	evt := events.New(events.EventProcessLaunch, map[string]any{"app_name": "nc"})
	assert.Equal(t, "Anomalous process execution: nc", describeEvent(evt))

	evt = events.New(events.EventUSB, nil)
	assert.Equal(t, "Suspicious USB activity: unknown device", describeEvent(evt))

	evt = events.New(events.EventType("other"), nil)
	assert.Equal(t, "Unknown anomaly detected", describeEvent(evt))
}
