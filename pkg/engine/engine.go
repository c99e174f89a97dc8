package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sentinair/sentinair/pkg/alerts"
	"github.com/sentinair/sentinair/pkg/config"
	"github.com/sentinair/sentinair/pkg/detector"
	"github.com/sentinair/sentinair/pkg/events"
	"github.com/sentinair/sentinair/pkg/monitors/base"
	"github.com/sentinair/sentinair/pkg/storage"
)

// AuditSink records engine lifecycle entries (training runs) in the
// append-only audit trail.
type AuditSink interface {
	Record(entry string, fields map[string]any)
}

// EventStore is the storage surface the engine consumes: persist one
// event, pull a recent window back for retraining.
type EventStore interface {
	InsertEvent(rec storage.EventRecord) (uint, error)
	FetchRecentEvents(days, limit int) ([]storage.EventRecord, error)
	InsertAlert(rec storage.AlertRecord) error
	CleanupOldData(retentionDays int) (int64, error)
}

// Status is the engine's externally visible state snapshot. It always
// reflects best-known state and never fails.
type Status struct {
	Running      bool            `json:"running"`
	Monitors     map[string]bool `json:"monitors"`
	ModelTrained bool            `json:"model_trained"`
	LastTraining *time.Time      `json:"last_training,omitempty"`
	QueueDepth   int             `json:"queue_depth"`
	EventsSeen   uint64          `json:"events_seen"`
}

// Engine owns the lifecycle of all monitors, the queue-draining loop,
// and the periodic retraining scheduler. Stop is cooperative: loops
// observe cancellation at their next iteration boundary, and the drain
// loop performs one final drain before exiting so events queued at Stop
// time are processed rather than discarded.
type Engine struct {
	cfg      *config.Config
	queue    *events.Queue
	dedup    *events.Deduplicator
	scorer   *detector.AnomalyDetector
	alertMgr *alerts.Manager
	store    EventStore
	audit    AuditSink
	monitors map[string]base.Monitor
	logger   zerolog.Logger

	mu           sync.Mutex
	running      bool
	lastTraining time.Time
	eventsSeen   uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Loop cadences, shrunk by tests.
	drainIdleSleep     time.Duration
	trainCheckInterval time.Duration
	stopTimeout        time.Duration
}

// New wires an engine from its collaborators. Monitors are injected as a
// name-to-instance mapping so disabled categories simply never appear.
func New(
	cfg *config.Config,
	monitors map[string]base.Monitor,
	scorer *detector.AnomalyDetector,
	alertMgr *alerts.Manager,
	store EventStore,
	audit AuditSink,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		cfg:      cfg,
		queue:    events.NewQueue(cfg.Queue.Capacity),
		dedup:    events.NewDeduplicator(cfg.Queue.DedupSize, cfg.Queue.DedupWindow),
		scorer:   scorer,
		alertMgr: alertMgr,
		store:    store,
		audit:    audit,
		monitors: monitors,
		logger:   logger.With().Str("component", "engine").Logger(),

		drainIdleSleep:     100 * time.Millisecond,
		trainCheckInterval: time.Hour,
		stopTimeout:        10 * time.Second,
	}
}

// Start launches all monitors, the drain loop, and the retraining
// scheduler. A monitor that fails to start is logged and skipped; the
// rest run in degraded mode. A persisted model is loaded when present;
// absence is not an error and the engine operates unscored until the
// first training. Start is idempotent.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		e.logger.Warn().Msg("Engine is already running.")
		return nil
	}
	e.running = true
	e.mu.Unlock()

	e.logger.Info().Msg("Starting detection engine.")

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	if e.scorer.Load() {
		e.logger.Info().Msg("Loaded existing anomaly detection model.")
	} else {
		e.logger.Info().Msg("No existing model, will train a new one.")
	}

	for name, mon := range e.monitors {
		mon.SetCallback(e.onEvent)
		if err := mon.Start(); err != nil {
			e.logger.Error().Err(err).Str("monitor", name).Msg("Failed to start monitor.")
			continue
		}
		e.logger.Info().Str("monitor", name).Msg("Monitor started.")
	}

	e.wg.Add(2)
	go e.drainLoop(ctx)
	go e.trainingLoop(ctx)

	return nil
}

// Stop signals all loops to exit, stops the monitors, and joins the
// loops with a bounded timeout. It does not forcibly interrupt blocked
// native calls; shutdown latency is bounded by the longest monitor poll
// interval.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.mu.Unlock()

	e.logger.Info().Msg("Stopping detection engine.")
	e.cancel()

	for name, mon := range e.monitors {
		mon.Stop()
		e.logger.Info().Str("monitor", name).Msg("Monitor stopped.")
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(e.stopTimeout):
		e.logger.Warn().Msg("Engine loops did not exit within stop timeout.")
	}

	e.logger.Info().Msg("Detection engine stopped.")
}

// onEvent is the shared monitor callback. It is invoked concurrently
// from monitor goroutines and only appends to the queue.
func (e *Engine) onEvent(evt events.Event) {
	if !e.queue.Append(evt) {
		e.logger.Debug().Msg("Event queue full, oldest event dropped.")
	}
}

// drainLoop snapshots and clears the queue, processes the snapshot
// outside the queue lock, and idles briefly when the queue is empty. On
// shutdown it drains one final time so nothing queued before Stop is
// lost.
func (e *Engine) drainLoop(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			e.processBatch(e.queue.DrainAll())
			return
		default:
		}

		batch := e.queue.DrainAll()
		if len(batch) == 0 {
			select {
			case <-time.After(e.drainIdleSleep):
			case <-ctx.Done():
				e.processBatch(e.queue.DrainAll())
				return
			}
			continue
		}
		e.processBatch(batch)
	}
}

func (e *Engine) processBatch(batch []events.Event) {
	for _, evt := range batch {
		e.analyzeEvent(evt)
	}
}

// analyzeEvent runs one event through the scoring pipeline: dedup,
// feature extraction, scoring when a model is present, alert generation
// for qualifying anomalies, and persistence regardless of anomaly
// status. Failures are contained here; the loop always continues.
func (e *Engine) analyzeEvent(evt events.Event) {
	e.mu.Lock()
	e.eventsSeen++
	e.mu.Unlock()

	if e.dedup.IsDuplicate(evt) {
		return
	}

	features := detector.Extract(evt)

	var result detector.ScoreResult
	if e.scorer.IsTrained() {
		result = e.scorer.Predict(features)
		if result.IsAnomaly && result.Confidence >= e.cfg.Detection.AnomalyThreshold {
			e.generateAlert(evt, result.Confidence)
		}
	}

	e.storeEvent(evt, result)
}

func (e *Engine) generateAlert(evt events.Event, confidence float64) {
	id, created := e.alertMgr.Create(alerts.Candidate{
		Timestamp:   evt.Timestamp,
		EventType:   string(evt.Type),
		Confidence:  confidence,
		Description: describeEvent(evt),
		EventData:   evt.Payload,
	})
	if !created {
		return
	}

	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		payload = []byte("{}")
	}
	if err := e.store.InsertAlert(storage.AlertRecord{
		AlertID:     id,
		Timestamp:   evt.Timestamp,
		EventType:   string(evt.Type),
		Severity:    string(alerts.SeverityFromConfidence(confidence)),
		Confidence:  confidence,
		Description: describeEvent(evt),
		EventData:   string(payload),
	}); err != nil {
		e.logger.Error().Err(err).Int64("alert_id", id).Msg("Failed to persist alert record.")
	}
}

func (e *Engine) storeEvent(evt events.Event, result detector.ScoreResult) {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		e.logger.Debug().Err(err).Str("event_id", evt.ID).Msg("Event payload not serializable, storing empty.")
		payload = []byte("{}")
	}

	if _, err := e.store.InsertEvent(storage.EventRecord{
		Timestamp: evt.Timestamp,
		EventType: string(evt.Type),
		EventData: string(payload),
		RiskScore: result.Confidence,
		IsAnomaly: result.IsAnomaly,
	}); err != nil {
		e.logger.Error().Err(err).Str("event_id", evt.ID).Msg("Failed to store event.")
	}
}

// trainingLoop checks on a fixed cadence whether the configured training
// interval has elapsed (or no training has ever occurred) and retrains
// from the recent stored window when it has. The same cadence drives
// retention cleanup.
func (e *Engine) trainingLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.trainCheckInterval)
	defer ticker.Stop()

	e.maybeTrain()
	for {
		select {
		case <-ticker.C:
			e.maybeTrain()
			e.cleanup()
		case <-ctx.Done():
			return
		}
	}
}

// cleanup enforces the retention window on stored events and evicts old
// acknowledged alerts.
func (e *Engine) cleanup() {
	retention := e.cfg.Storage.RetentionDays
	if retention <= 0 {
		return
	}
	if removed, err := e.store.CleanupOldData(retention); err != nil {
		e.logger.Error().Err(err).Msg("Failed to clean up old data.")
	} else if removed > 0 {
		e.logger.Info().Int64("rows", removed).Msg("Retention cleanup removed old rows.")
	}
	e.alertMgr.Cleanup(retention)
}

func (e *Engine) maybeTrain() {
	interval := time.Duration(e.cfg.Detection.TrainingIntervalHours) * time.Hour

	e.mu.Lock()
	last := e.lastTraining
	e.mu.Unlock()

	if !last.IsZero() && time.Since(last) < interval {
		return
	}

	e.logger.Info().Msg("Starting periodic model training.")
	if e.trainModel() {
		e.mu.Lock()
		e.lastTraining = time.Now()
		e.mu.Unlock()
	}
}

// trainModel pulls the recent event window from storage, re-extracts
// features, trains the scorer, and persists the new generation. Rows
// that fail to parse are skipped individually. Insufficient data skips
// training entirely and keeps the previous generation active.
func (e *Engine) trainModel() bool {
	records, err := e.store.FetchRecentEvents(
		e.cfg.Detection.TrainingWindowDays,
		e.cfg.Detection.MaxTrainingSamples,
	)
	if err != nil {
		e.logger.Error().Err(err).Msg("Failed to fetch training data.")
		return false
	}

	if len(records) < e.cfg.Detection.MinTrainingSamples {
		e.logger.Warn().
			Int("samples", len(records)).
			Int("minimum", e.cfg.Detection.MinTrainingSamples).
			Msg("Insufficient training data, skipping training.")
		return false
	}

	vectors := make([][]float64, 0, len(records))
	skipped := 0
	for _, rec := range records {
		var payload map[string]any
		if err := json.Unmarshal([]byte(rec.EventData), &payload); err != nil {
			skipped++
			continue
		}
		vectors = append(vectors, detector.Extract(events.Event{
			Timestamp: rec.Timestamp,
			Type:      events.EventType(rec.EventType),
			Payload:   payload,
		}))
	}
	if skipped > 0 {
		e.logger.Debug().Int("skipped", skipped).Msg("Skipped malformed stored events.")
	}

	if !e.scorer.Train(vectors) {
		return false
	}
	e.scorer.Save()

	if e.audit != nil {
		e.audit.Record("model_trained", map[string]any{
			"samples":  len(vectors),
			"features": detector.FeatureVectorSize,
		})
	}
	e.logger.Info().Int("samples", len(vectors)).Msg("Model trained successfully.")
	return true
}

// GetStatus reports the engine's current state.
func (e *Engine) GetStatus() Status {
	e.mu.Lock()
	running := e.running
	last := e.lastTraining
	seen := e.eventsSeen
	e.mu.Unlock()

	status := Status{
		Running:      running,
		Monitors:     make(map[string]bool, len(e.monitors)),
		ModelTrained: e.scorer.IsTrained(),
		QueueDepth:   e.queue.Depth(),
		EventsSeen:   seen,
	}
	for name, mon := range e.monitors {
		status.Monitors[name] = mon.IsRunning()
	}
	if !last.IsZero() {
		status.LastTraining = &last
	}
	return status
}

// RecentAlerts returns alerts from the trailing window, newest first.
func (e *Engine) RecentAlerts(hours int) []alerts.Alert {
	return e.alertMgr.ListRecent(hours)
}

// AcknowledgeAlert acknowledges one alert on behalf of the user surface.
func (e *Engine) AcknowledgeAlert(id int64) bool {
	return e.alertMgr.Acknowledge(id, "user")
}

// describeEvent builds the human-readable alert description for one
// anomalous event.
func describeEvent(evt events.Event) string {
	switch evt.Type {
	case events.EventFileAccess:
		return fmt.Sprintf("Unusual file access pattern detected: %s",
			evt.PayloadString("file_path", "unknown"))
	case events.EventUSB:
		return fmt.Sprintf("Suspicious USB activity: %s",
			evt.PayloadString("device_name", "unknown device"))
	case events.EventProcessLaunch:
		return fmt.Sprintf("Anomalous process execution: %s",
			evt.PayloadString("app_name", "unknown"))
	case events.EventUserBehavior:
		return "Unusual user behavior pattern detected"
	default:
		return "Unknown anomaly detected"
	}
}
