package behavior

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// inputDeviceSource approximates last-input time from the modification
// times of input device nodes. It needs read access to /dev/input, which
// is commonly restricted; stat failures simply report no observation.
type inputDeviceSource struct {
	pattern string
}

func (s *inputDeviceSource) LastActivity() (time.Time, bool) {
	matches, err := filepath.Glob(s.pattern)
	if err != nil || len(matches) == 0 {
		return time.Time{}, false
	}

	var latest time.Time
	found := false
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
			found = true
		}
	}
	return latest, found
}

// defaultActivitySource picks the best available probe for this platform,
// or nil when none works, logging the degradation once.
func defaultActivitySource(logger zerolog.Logger) ActivitySource {
	src := &inputDeviceSource{pattern: "/dev/input/event*"}
	if _, ok := src.LastActivity(); ok {
		return src
	}
	logger.Warn().Msg("Input device probe unavailable, behavior monitor degrades to idle-only tracking.")
	return nil
}
