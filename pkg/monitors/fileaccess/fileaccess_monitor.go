package fileaccess

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/sentinair/sentinair/pkg/config"
	"github.com/sentinair/sentinair/pkg/events"
	"github.com/sentinair/sentinair/pkg/monitors/base"
)

// Monitor watches a set of sensitive directories recursively and emits a
// normalized file_access event for every create, write, remove, and
// rename. Process identity on the event is best-effort; a failed lookup
// never blocks the event.
type Monitor struct {
	*base.BaseMonitor
	cfg     config.FileAccessConfig
	watcher *fsnotify.Watcher
	paths   []string
}

// New creates a file-access monitor. When the configuration lists no
// watch paths, a platform-appropriate set of sensitive directories is
// used, filtered to the ones that exist.
func New(cfg config.FileAccessConfig, logger zerolog.Logger) *Monitor {
	m := &Monitor{
		BaseMonitor: base.NewBaseMonitor("file_access", logger),
		cfg:         cfg,
	}
	m.paths = m.resolveWatchPaths()
	return m
}

// Start begins filesystem observation. Paths that cannot be watched are
// logged and skipped; Start only fails when the watcher itself cannot be
// created.
func (m *Monitor) Start() error {
	stopCh, ok := m.BeginRun()
	if !ok {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.EndRun()
		m.Logger().Error().Err(err).Msg("Failed to create fsnotify watcher.")
		return err
	}
	m.watcher = watcher

	watched := 0
	for _, path := range m.paths {
		watched += m.watchRecursive(path)
	}
	m.UpdateMetrics("watched_dirs", watched)
	m.Logger().Info().Int("dirs", watched).Msg("File access monitoring started.")

	m.Go(func() { m.eventLoop(stopCh) })
	return nil
}

// Stop halts observation and closes the underlying watcher.
func (m *Monitor) Stop() {
	if !m.EndRun() {
		return
	}
	if m.watcher != nil {
		m.watcher.Close()
	}
	m.Logger().Info().Msg("File access monitoring stopped.")
}

func (m *Monitor) eventLoop(stopCh <-chan struct{}) {
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handleEvent(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.Logger().Warn().Err(err).Msg("Filesystem watcher error.")
		case <-stopCh:
			return
		}
	}
}

func (m *Monitor) handleEvent(event fsnotify.Event) {
	if m.shouldSkip(event.Name) {
		return
	}

	accessType := accessTypeFor(event.Op)
	if accessType == "" {
		return
	}

	// New directories must be added to the watch set; fsnotify watches
	// are not recursive.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			m.watchRecursive(event.Name)
			return
		}
	}

	payload := map[string]any{
		"file_path":      event.Name,
		"access_type":    accessType,
		"file_size":      fileSize(event.Name),
		"file_extension": strings.ToLower(filepath.Ext(event.Name)),
	}
	m.attachProcessIdentity(payload)

	m.Logger().Debug().
		Str("file", event.Name).
		Str("access", accessType).
		Msg("Filesystem event detected.")

	m.Emit(events.New(events.EventFileAccess, payload))
}

// attachProcessIdentity records the identity of the process observed with
// the event. Resolving the true accessor needs kernel-level auditing; the
// agent's own process context is recorded as an approximation, and any
// lookup failure leaves the fields absent.
func (m *Monitor) attachProcessIdentity(payload map[string]any) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}
	if name, err := proc.Name(); err == nil {
		payload["process_name"] = name
	}
	payload["process_pid"] = os.Getpid()
	if user, err := proc.Username(); err == nil {
		payload["user_name"] = user
	}
}

func (m *Monitor) shouldSkip(path string) bool {
	// Temporary files and common editor noise.
	name := filepath.Base(path)
	if strings.HasSuffix(path, ".tmp") ||
		strings.HasSuffix(path, ".swp") ||
		strings.HasSuffix(path, "~") ||
		strings.HasPrefix(name, ".#") {
		return true
	}
	for _, exclude := range m.cfg.ExcludePaths {
		if exclude != "" && strings.HasPrefix(path, exclude) {
			return true
		}
	}
	return false
}

// watchRecursive registers path and every subdirectory below it,
// returning the number of directories added.
func (m *Monitor) watchRecursive(root string) int {
	added := 0
	filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree, keep going
		}
		if !d.IsDir() {
			return nil
		}
		if err := m.watcher.Add(path); err != nil {
			m.Logger().Debug().Err(err).Str("path", path).Msg("Failed to add path to watcher.")
			return nil
		}
		added++
		return nil
	})
	return added
}

func (m *Monitor) resolveWatchPaths() []string {
	candidates := m.cfg.WatchPaths
	if len(candidates) == 0 {
		candidates = defaultWatchPaths()
	}

	var existing []string
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			existing = append(existing, path)
		} else {
			m.Logger().Debug().Str("path", path).Msg("Watch path does not exist, skipping.")
		}
	}
	return existing
}

func defaultWatchPaths() []string {
	home, _ := os.UserHomeDir()
	if runtime.GOOS == "windows" {
		return []string{
			filepath.Join(home, "Documents"),
			filepath.Join(home, "Desktop"),
			filepath.Join(home, "Downloads"),
			`C:\Windows\System32`,
			`C:\Program Files`,
		}
	}
	return []string{
		filepath.Join(home, "Documents"),
		filepath.Join(home, "Desktop"),
		filepath.Join(home, "Downloads"),
		"/etc",
		"/usr/bin",
		"/var/log",
	}
}

func accessTypeFor(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Create != 0:
		return "created"
	case op&fsnotify.Write != 0:
		return "modified"
	case op&fsnotify.Remove != 0:
		return "deleted"
	case op&fsnotify.Rename != 0:
		return "moved"
	default:
		return ""
	}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
