package behavior

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sentinair/sentinair/pkg/config"
	"github.com/sentinair/sentinair/pkg/events"
	"github.com/sentinair/sentinair/pkg/monitors/base"
)

// ActivitySource reports the most recent user-input activity it can
// observe. Implementations are best-effort; when no source is available
// the monitor degrades to idle-only tracking driven by the telemetry fed
// through RecordKeystroke and RecordClick.
type ActivitySource interface {
	// LastActivity returns the time of the most recent observed input
	// and whether the probe succeeded.
	LastActivity() (time.Time, bool)
}

// Keystroke is one privacy-preserving keystroke sample: timing and key
// class only, never the key itself.
type Keystroke struct {
	Timestamp     time.Time
	KeyClass      string
	SinceLastMsec float64
}

// MouseSample is one mouse interaction sample.
type MouseSample struct {
	Timestamp time.Time
	Kind      string // "move" or "click"
	Distance  float64
}

// Monitor tracks user-interaction patterns: idle/active transitions
// against a configurable idle threshold, and a periodic summary of
// typing cadence, click frequency, and idle durations with a rule-based
// anomaly flag.
type Monitor struct {
	*base.BaseMonitor
	cfg    config.BehaviorConfig
	source ActivitySource

	mu           sync.Mutex
	keystrokes   []Keystroke
	mouseSamples []MouseSample
	idlePeriods  []idlePeriod
	lastActivity time.Time
	lastKeyTime  time.Time
	lastClick    time.Time
	idle         bool

	clock func() time.Time
}

type idlePeriod struct {
	start    time.Time
	end      time.Time
	duration time.Duration
}

// New creates a behavior monitor. A nil source selects the platform
// probe; if that probe is unavailable the monitor logs once at startup
// and tracks idleness from recorded telemetry only.
func New(cfg config.BehaviorConfig, source ActivitySource, logger zerolog.Logger) *Monitor {
	m := &Monitor{
		BaseMonitor:  base.NewBaseMonitor("behavior", logger),
		cfg:          cfg,
		source:       source,
		lastActivity: time.Now(),
		clock:        time.Now,
	}
	if m.source == nil {
		m.source = defaultActivitySource(logger)
	}
	return m
}

// Start begins behavior tracking.
func (m *Monitor) Start() error {
	stopCh, ok := m.BeginRun()
	if !ok {
		return nil
	}

	if m.source == nil {
		m.Logger().Warn().Msg("No input activity source available, idle-only tracking.")
	}
	m.Logger().Info().Msg("User behavior monitoring started.")

	interval := m.cfg.AnalysisInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	m.Go(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.tick()
			case <-stopCh:
				return
			}
		}
	})
	return nil
}

// Stop halts behavior tracking.
func (m *Monitor) Stop() {
	if m.EndRun() {
		m.Logger().Info().Msg("User behavior monitoring stopped.")
	}
}

// RecordKeystroke feeds one keystroke sample from an external input hook.
// Only the key class is retained.
func (m *Monitor) RecordKeystroke(keyClass string) {
	now := m.clock()

	m.mu.Lock()
	sinceLast := 0.0
	if !m.lastKeyTime.IsZero() {
		sinceLast = float64(now.Sub(m.lastKeyTime).Milliseconds())
	}
	m.lastKeyTime = now
	m.keystrokes = append(m.keystrokes, Keystroke{
		Timestamp:     now,
		KeyClass:      keyClass,
		SinceLastMsec: sinceLast,
	})
	m.trimBuffersLocked()
	m.mu.Unlock()

	m.markActivity(now)
}

// RecordClick feeds one mouse-click sample from an external input hook.
func (m *Monitor) RecordClick() {
	now := m.clock()

	m.mu.Lock()
	m.lastClick = now
	m.mouseSamples = append(m.mouseSamples, MouseSample{Timestamp: now, Kind: "click"})
	m.trimBuffersLocked()
	m.mu.Unlock()

	m.markActivity(now)
}

// RecordMouseMove feeds one mouse-movement sample.
func (m *Monitor) RecordMouseMove(distance float64) {
	now := m.clock()

	m.mu.Lock()
	m.mouseSamples = append(m.mouseSamples, MouseSample{Timestamp: now, Kind: "move", Distance: distance})
	m.trimBuffersLocked()
	m.mu.Unlock()

	m.markActivity(now)
}

// tick runs one monitoring cycle: refresh the activity probe, detect
// idle transitions, and emit the periodic behavior summary.
func (m *Monitor) tick() {
	now := m.clock()

	if m.source != nil {
		if last, ok := m.source.LastActivity(); ok && last.After(m.lastActivityTime()) {
			m.markActivity(last)
		}
	}

	m.checkIdleTransition(now)
	m.emitSummary(now)
}

func (m *Monitor) lastActivityTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

// markActivity updates the last-activity time and closes out an idle
// period when activity resumes.
func (m *Monitor) markActivity(at time.Time) {
	m.mu.Lock()
	wasIdle := m.idle
	if at.After(m.lastActivity) {
		m.lastActivity = at
	}
	m.idle = false

	var finished *idlePeriod
	if wasIdle && len(m.idlePeriods) > 0 {
		p := &m.idlePeriods[len(m.idlePeriods)-1]
		p.end = at
		p.duration = at.Sub(p.start)
		finished = p
	}
	m.mu.Unlock()

	if finished != nil {
		m.Emit(events.New(events.EventUserBehavior, map[string]any{
			"behavior_type":         "idle_to_active",
			"idle_duration_seconds": finished.duration.Seconds(),
			"idle_start":            finished.start.Format(time.RFC3339),
			"idle_end":              finished.end.Format(time.RFC3339),
		}))
	}
}

func (m *Monitor) checkIdleTransition(now time.Time) {
	threshold := m.cfg.IdleThreshold
	if threshold <= 0 {
		threshold = 5 * time.Minute
	}

	m.mu.Lock()
	sinceActivity := now.Sub(m.lastActivity)
	transitioned := false
	var lastActivity time.Time
	if !m.idle && sinceActivity > threshold {
		m.idle = true
		m.idlePeriods = append(m.idlePeriods, idlePeriod{start: now})
		lastActivity = m.lastActivity
		transitioned = true
	}
	m.mu.Unlock()

	if transitioned {
		m.Emit(events.New(events.EventUserBehavior, map[string]any{
			"behavior_type": "active_to_idle",
			"last_activity": lastActivity.Format(time.RFC3339),
			"idle_start":    now.Format(time.RFC3339),
		}))
	}
}

// emitSummary publishes the periodic behavior_analysis event with typing,
// mouse, and activity statistics plus the rule-based anomaly flag.
func (m *Monitor) emitSummary(now time.Time) {
	stats := m.Snapshot(now)

	payload := map[string]any{
		"behavior_type":      "behavior_analysis",
		"duration_seconds":   stats.CurrentIdleSeconds,
		"keystroke_patterns": keystrokeMaps(stats.RecentKeystrokes),
		"mouse_patterns":     mouseMaps(stats.RecentMouse),
		"typing_speed_wpm":   stats.TypingSpeedWPM,
		"avg_key_interval":   stats.AvgKeyIntervalMsec,
		"total_clicks":       stats.TotalClicks,
		"click_frequency":    stats.ClickFrequency,
		"idle_periods":       stats.IdlePeriods,
		"total_idle_time":    stats.TotalIdleSeconds,
		"is_currently_idle":  stats.CurrentlyIdle,
		"is_anomalous":       stats.Anomalous,
	}

	m.Emit(events.New(events.EventUserBehavior, payload))
}

// Stats is the periodic behavior summary.
type Stats struct {
	RecentKeystrokes   []Keystroke
	RecentMouse        []MouseSample
	TypingSpeedWPM     float64
	AvgKeyIntervalMsec float64
	TotalClicks        int
	ClickFrequency     float64 // clicks per minute over the last hour
	IdlePeriods        int
	TotalIdleSeconds   float64
	CurrentlyIdle      bool
	CurrentIdleSeconds float64
	Anomalous          bool
}

// Snapshot computes the summary statistics over the trailing hour.
func (m *Monitor) Snapshot(now time.Time) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	hourAgo := now.Add(-time.Hour)
	var stats Stats

	for _, ks := range m.keystrokes {
		if ks.Timestamp.After(hourAgo) {
			stats.RecentKeystrokes = append(stats.RecentKeystrokes, ks)
		}
	}
	for _, ms := range m.mouseSamples {
		if ms.Timestamp.After(hourAgo) {
			stats.RecentMouse = append(stats.RecentMouse, ms)
			if ms.Kind == "click" {
				stats.TotalClicks++
			}
		}
	}

	if n := len(stats.RecentKeystrokes); n > 1 {
		var sum float64
		intervals := 0
		for _, ks := range stats.RecentKeystrokes {
			if ks.SinceLastMsec > 0 {
				sum += ks.SinceLastMsec
				intervals++
			}
		}
		if intervals > 0 {
			stats.AvgKeyIntervalMsec = sum / float64(intervals)
			// One word approximated as five keystrokes.
			perMinute := 60000.0 / stats.AvgKeyIntervalMsec
			stats.TypingSpeedWPM = perMinute / 5.0
		}
	}

	stats.ClickFrequency = float64(stats.TotalClicks) / 60.0

	for _, p := range m.idlePeriods {
		if p.duration > 0 {
			stats.IdlePeriods++
			stats.TotalIdleSeconds += p.duration.Seconds()
		}
	}
	stats.CurrentlyIdle = m.idle
	if m.idle {
		stats.CurrentIdleSeconds = now.Sub(m.lastActivity).Seconds()
	}

	stats.Anomalous = isAnomalous(stats)
	return stats
}

// Rule-based anomaly checks over the summary: implausible typing speed,
// sustained click bursts, or multi-hour idle stretches.
func isAnomalous(stats Stats) bool {
	if stats.TypingSpeedWPM > 120 || (stats.TypingSpeedWPM > 0 && stats.TypingSpeedWPM < 10) {
		return true
	}
	if stats.ClickFrequency > 5 {
		return true
	}
	if stats.CurrentlyIdle && stats.CurrentIdleSeconds > 4*3600 {
		return true
	}
	return false
}

func (m *Monitor) trimBuffersLocked() {
	limit := m.cfg.PatternBufferSize
	if limit <= 0 {
		limit = 1000
	}
	if len(m.keystrokes) > limit {
		m.keystrokes = m.keystrokes[len(m.keystrokes)-limit:]
	}
	if len(m.mouseSamples) > limit {
		m.mouseSamples = m.mouseSamples[len(m.mouseSamples)-limit:]
	}
}

func keystrokeMaps(samples []Keystroke) []map[string]any {
	out := make([]map[string]any, 0, len(samples))
	for _, s := range samples {
		out = append(out, map[string]any{
			"key_class":       s.KeyClass,
			"time_since_last": s.SinceLastMsec,
		})
	}
	return out
}

func mouseMaps(samples []MouseSample) []map[string]any {
	out := make([]map[string]any, 0, len(samples))
	for _, s := range samples {
		out = append(out, map[string]any{
			"kind":     s.Kind,
			"distance": s.Distance,
		})
	}
	return out
}
