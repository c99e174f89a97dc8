package fileaccess

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/sentinair/sentinair/pkg/config"
	"github.com/sentinair/sentinair/pkg/events"
)

type capture struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capture) callback(evt events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *capture) forPath(path string) []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Event
	for _, evt := range c.events {
		if evt.PayloadString("file_path", "") == path {
			out = append(out, evt)
		}
	}
	return out
}

func startMonitor(t *testing.T, cfg config.FileAccessConfig) (*Monitor, *capture) {
	t.Helper()
	m := New(cfg, zerolog.Nop())
	sink := &capture{}
	m.SetCallback(sink.callback)
	assert.NoError(t, m.Start())
	t.Cleanup(m.Stop)
	return m, sink
}

func TestMonitor_EmitsCreateEvent(t *testing.T) {
	dir := t.TempDir()
	_, sink := startMonitor(t, config.FileAccessConfig{Enabled: true, WatchPaths: []string{dir}})

	target := filepath.Join(dir, "report.pdf")
	assert.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	assert.Eventually(t, func() bool {
		return len(sink.forPath(target)) > 0
	}, 2*time.Second, 10*time.Millisecond)

	evt := sink.forPath(target)[0]
	assert.Equal(t, events.EventFileAccess, evt.Type)
	assert.Equal(t, "created", evt.PayloadString("access_type", ""))
	assert.Equal(t, ".pdf", evt.PayloadString("file_extension", ""))
}

func TestMonitor_SkipsTemporaryFiles(t *testing.T) {
	dir := t.TempDir()
	_, sink := startMonitor(t, config.FileAccessConfig{Enabled: true, WatchPaths: []string{dir}})

	noisy := filepath.Join(dir, "buffer.swp")
	real := filepath.Join(dir, "notes.txt")
	assert.NoError(t, os.WriteFile(noisy, []byte("x"), 0o644))
	assert.NoError(t, os.WriteFile(real, []byte("x"), 0o644))

	assert.Eventually(t, func() bool {
		return len(sink.forPath(real)) > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, sink.forPath(noisy))
}

func TestMonitor_ExcludePaths(t *testing.T) {
	dir := t.TempDir()
	excluded := filepath.Join(dir, "cache")
	assert.NoError(t, os.Mkdir(excluded, 0o755))

	_, sink := startMonitor(t, config.FileAccessConfig{
		Enabled:      true,
		WatchPaths:   []string{dir},
		ExcludePaths: []string{excluded},
	})

	skipped := filepath.Join(excluded, "blob")
	kept := filepath.Join(dir, "kept.txt")
	assert.NoError(t, os.WriteFile(skipped, []byte("x"), 0o644))
	assert.NoError(t, os.WriteFile(kept, []byte("x"), 0o644))

	assert.Eventually(t, func() bool {
		return len(sink.forPath(kept)) > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, sink.forPath(skipped))
}

func TestMonitor_WatchesNewSubdirectories(t *testing.T) {
	dir := t.TempDir()
	_, sink := startMonitor(t, config.FileAccessConfig{Enabled: true, WatchPaths: []string{dir}})

	sub := filepath.Join(dir, "projects")
	assert.NoError(t, os.Mkdir(sub, 0o755))

	// Give the watcher a moment to register the new directory, then
	// create a file inside it.
	target := filepath.Join(sub, "plan.txt")
	assert.Eventually(t, func() bool {
		os.Remove(target)
		if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
			return false
		}
		time.Sleep(50 * time.Millisecond)
		return len(sink.forPath(target)) > 0
	}, 3*time.Second, 100*time.Millisecond)
}

func TestMonitor_NonexistentWatchPathSkipped(t *testing.T) {
	m := New(config.FileAccessConfig{
		Enabled:    true,
		WatchPaths: []string{"/does/not/exist/anywhere"},
	}, zerolog.Nop())

	assert.Empty(t, m.paths)
	assert.NoError(t, m.Start())
	m.Stop()
}

func TestAccessTypeFor(t *testing.T) {
	assert.Equal(t, "created", accessTypeFor(fsnotify.Create))
	assert.Equal(t, "modified", accessTypeFor(fsnotify.Write))
	assert.Equal(t, "deleted", accessTypeFor(fsnotify.Remove))
	assert.Equal(t, "moved", accessTypeFor(fsnotify.Rename))
	assert.Equal(t, "", accessTypeFor(fsnotify.Chmod))
}
