// Package audit persists invocation events to SQLite through gorm.
package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sameehj/sshgate/pkg/safety"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Record is one audited invocation.
type Record struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	InvocationID string    `gorm:"uniqueIndex;not null"`
	Caller       string    `gorm:"index;not null"`
	Command      string    `gorm:"not null"`
	Operation    string    `gorm:"not null"`
	Kind         string    `gorm:"index;not null"`
	Reason       string    `gorm:"not null;default:''"`
	DurationMs   int64     `gorm:"not null;default:0"`
	CreatedAt    time.Time `gorm:"index"`
}

// Store implements safety.Recorder.
type Store struct {
	db *gorm.DB
}

var _ safety.Recorder = (*Store)(nil)

var openDB = gorm.Open

func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit directory: %w", err)
		}
	}

	db, err := openDB(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		if db != nil {
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				_ = sqlDB.Close()
			}
		}
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Record(ctx context.Context, event safety.Event) error {
	at := event.At
	if at.IsZero() {
		at = time.Now()
	}
	rec := Record{
		InvocationID: event.InvocationID,
		Caller:       event.Caller,
		Command:      event.Command,
		Operation:    event.Operation,
		Kind:         event.Kind,
		Reason:       event.Reason,
		DurationMs:   event.Duration.Milliseconds(),
		CreatedAt:    at,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first, optionally for one caller.
func (s *Store) Recent(ctx context.Context, caller string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Limit(limit)
	if caller != "" {
		q = q.Where("caller = ?", caller)
	}
	var out []Record
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	return out, nil
}

// PurgeOlderThan deletes records created before cutoff and returns how many
// were removed.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&Record{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge audit records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
