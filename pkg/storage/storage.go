package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// EventRecord is the persisted, sanitized form of one pipeline event.
// The payload is stored as a JSON document; malformed rows are tolerated
// on read and skipped individually.
type EventRecord struct {
	ID        uint      `gorm:"primaryKey"`
	Timestamp time.Time `gorm:"index"`
	EventType string    `gorm:"index;size:32"`
	EventData string
	RiskScore float64
	IsAnomaly bool
}

// AlertRecord is the persisted audit trail of one created alert.
type AlertRecord struct {
	ID          uint      `gorm:"primaryKey"`
	AlertID     int64     `gorm:"uniqueIndex"`
	Timestamp   time.Time `gorm:"index"`
	EventType   string    `gorm:"size:32"`
	Severity    string    `gorm:"size:16"`
	Confidence  float64
	Description string
	EventData   string
}

// Store is the local event and alert store backed by an embedded SQLite
// database. The agent runs offline on a single host, so everything lives
// in one file under the data directory.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// Open opens (creating if needed) the database at path and migrates the
// schema.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(&EventRecord{}, &AlertRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger.With().Str("component", "storage").Logger(),
	}, nil
}

// InsertEvent persists one event record and returns its row ID.
func (s *Store) InsertEvent(rec EventRecord) (uint, error) {
	if err := s.db.Create(&rec).Error; err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	return rec.ID, nil
}

// FetchRecentEvents returns up to limit events from the trailing window,
// newest first.
func (s *Store) FetchRecentEvents(days, limit int) ([]EventRecord, error) {
	cutoff := time.Now().AddDate(0, 0, -days)

	var records []EventRecord
	err := s.db.
		Where("timestamp >= ?", cutoff).
		Order("timestamp DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("fetch recent events: %w", err)
	}
	return records, nil
}

// InsertAlert persists the audit record of one created alert.
func (s *Store) InsertAlert(rec AlertRecord) error {
	if err := s.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

// EventCount returns the total number of stored events.
func (s *Store) EventCount() (int64, error) {
	var count int64
	if err := s.db.Model(&EventRecord{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// CountsByType returns stored event counts grouped by event type.
func (s *Store) CountsByType() (map[string]int64, error) {
	type row struct {
		EventType string
		Count     int64
	}
	var rows []row
	err := s.db.Model(&EventRecord{}).
		Select("event_type, COUNT(*) as count").
		Group("event_type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.EventType] = r.Count
	}
	return counts, nil
}

// CleanupOldData deletes events and alert records older than the
// retention window and returns the number of rows removed.
func (s *Store) CleanupOldData(retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	events := s.db.Where("timestamp < ?", cutoff).Delete(&EventRecord{})
	if events.Error != nil {
		return 0, fmt.Errorf("cleanup events: %w", events.Error)
	}
	alerts := s.db.Where("timestamp < ?", cutoff).Delete(&AlertRecord{})
	if alerts.Error != nil {
		return events.RowsAffected, fmt.Errorf("cleanup alerts: %w", alerts.Error)
	}

	removed := events.RowsAffected + alerts.RowsAffected
	if removed > 0 {
		s.logger.Info().Int64("rows", removed).Msg("Old data cleaned up.")
	}
	return removed, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
