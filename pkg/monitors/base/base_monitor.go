package base

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sentinair/sentinair/pkg/events"
)

// Monitor is the contract every observation source fulfills. Start and
// Stop are idempotent; Stop halts observation and releases OS resources
// within a bounded join timeout. The callback registered through
// SetCallback is the single sink for normalized events and may be invoked
// concurrently from different monitor goroutines.
type Monitor interface {
	Name() string
	Start() error
	Stop()
	SetCallback(cb events.Callback)
	IsRunning() bool
}

// JoinTimeout bounds how long Stop waits for a monitor's loop goroutine
// to observe cancellation. A loop blocked in a native call may take up to
// its own poll interval to notice shutdown.
const JoinTimeout = 5 * time.Second

// BaseMonitor provides the common foundation for all monitor types. It
// implements shared functionality for lifecycle state, the event
// callback, logging, and metrics tracking, reducing boilerplate in
// individual monitor implementations.
type BaseMonitor struct {
	name     string
	running  bool
	callback events.Callback
	metrics  map[string]any
	logger   zerolog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
}

// NewBaseMonitor creates and initializes a BaseMonitor with a given name
// and logger.
func NewBaseMonitor(name string, logger zerolog.Logger) *BaseMonitor {
	return &BaseMonitor{
		name:    name,
		logger:  logger.With().Str("monitor", name).Logger(),
		metrics: make(map[string]any),
	}
}

// Name returns the monitor's name.
func (b *BaseMonitor) Name() string {
	return b.name
}

// IsRunning reports whether the monitor is currently observing.
func (b *BaseMonitor) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// SetCallback registers the single sink for normalized events.
func (b *BaseMonitor) SetCallback(cb events.Callback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callback = cb
}

// Logger returns the monitor's scoped logger.
func (b *BaseMonitor) Logger() *zerolog.Logger {
	return &b.logger
}

// Emit delivers an event to the registered callback, if any.
func (b *BaseMonitor) Emit(evt events.Event) {
	b.mu.Lock()
	cb := b.callback
	b.mu.Unlock()

	if cb != nil {
		cb(evt)
	}
	b.UpdateMetrics("events_emitted", b.metricCount("events_emitted")+1)
}

// BeginRun transitions the monitor to running and hands the caller a stop
// channel for its loop goroutines. It returns false when the monitor is
// already running, making Start idempotent.
func (b *BaseMonitor) BeginRun() (<-chan struct{}, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil, false
	}
	b.running = true
	b.stopCh = make(chan struct{})
	return b.stopCh, true
}

// EndRun signals loop goroutines to exit and waits for them up to
// JoinTimeout. It returns false when the monitor was not running.
func (b *BaseMonitor) EndRun() bool {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return false
	}
	b.running = false
	close(b.stopCh)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(JoinTimeout):
		b.logger.Warn().Msg("Monitor goroutines did not exit within join timeout.")
	}
	return true
}

// Go runs fn on a tracked goroutine so EndRun can join it.
func (b *BaseMonitor) Go(fn func()) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

// UpdateMetrics updates a metric value.
func (b *BaseMonitor) UpdateMetrics(key string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics[key] = value
}

// GetMetrics returns a copy of the monitor's collected metrics.
func (b *BaseMonitor) GetMetrics() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	dest := make(map[string]any, len(b.metrics))
	for k, v := range b.metrics {
		dest[k] = v
	}
	return dest
}

func (b *BaseMonitor) metricCount(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.metrics[key].(int); ok {
		return v
	}
	return 0
}
