package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// AuditLogger is an append-only structured log of security-relevant
// occurrences: alert creation, acknowledgment, and model training. It is
// kept separate from the operational log so that the audit trail survives
// log-level changes and can be shipped on its own.
type AuditLogger struct {
	logger zerolog.Logger
	closer io.Closer
}

// NewAuditLogger opens (or creates) the audit log file in append mode.
func NewAuditLogger(path string) (*AuditLogger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	l := zerolog.New(f).With().Timestamp().Str("log", "audit").Logger()
	return &AuditLogger{logger: l, closer: f}, nil
}

// NewAuditLoggerWithWriter builds an audit logger over an arbitrary
// writer. Used by tests and by callers that manage the file themselves.
func NewAuditLoggerWithWriter(w io.Writer) *AuditLogger {
	l := zerolog.New(w).With().Timestamp().Str("log", "audit").Logger()
	return &AuditLogger{logger: l}
}

// Record appends one audit entry. The entry name identifies the kind of
// occurrence ("alert_created", "model_trained", ...) and fields carry its
// details. Errors writing the audit log are swallowed; the audit trail is
// best-effort and must never break the pipeline.
func (a *AuditLogger) Record(entry string, fields map[string]any) {
	ev := a.logger.Info().Str("entry", entry)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg("audit")
}

// Close releases the underlying file, if any.
func (a *AuditLogger) Close() error {
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}
