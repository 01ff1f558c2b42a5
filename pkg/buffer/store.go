// Package buffer implements the gateway's durable local buffer: an
// append-only log of Increments, synchronously written and crash-safe,
// backed by an embedded relational engine.
package buffer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Config configures the embedded database backing the buffer.
type Config struct {
	// Path is the filesystem path of the SQLite database file.
	Path string
}

// Store is the durable buffer. A single process-wide mutex serialises
// Append, MarkSynced and Vacuum so they never interleave on the same rows,
// via a single-writer discipline rather than row-level locking, since
// SQLite under WAL already serialises writers at
// the connection level and the extra mutex keeps application-level
// invariants (dense, strictly increasing seq; atomic MarkSynced) obvious
// from the code rather than relying on engine-level locking semantics.
type Store struct {
	db *gorm.DB
	mu sync.Mutex
}

// New opens (creating if necessary) the embedded database at cfg.Path and
// runs AutoMigrate for the Increment and Station tables.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("buffer: path is required")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("buffer: failed to create database directory: %w", err)
	}

	// journal_mode(WAL) allows the Replicator and Housekeeper to read
	// concurrently with the Orchestrator's writes; busy_timeout(5000)
	// absorbs brief lock contention instead of failing immediately.
	dsn := cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageCorrupt, err)
	}

	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("%w: migration failed: %v", ErrStorageCorrupt, err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append assigns a seq, persists the row with synced=false, and returns the
// assigned seq. The row is durable (fsync'd via WAL checkpoint semantics)
// by the time Append returns without error.
func (s *Store) Append(ctx context.Context, inc Increment) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inc.Seq = 0 // let AUTOINCREMENT assign it
	inc.Synced = false
	inc.Rejected = false

	if err := s.db.WithContext(ctx).Create(&inc).Error; err != nil {
		if isDiskFullError(err) {
			return 0, ErrStorageFull
		}
		return 0, fmt.Errorf("buffer: append failed: %w", err)
	}
	return inc.Seq, nil
}

// PendingBatch returns the oldest limit unsynced, non-rejected rows in seq
// order. An empty result is normal and not an error.
func (s *Store) PendingBatch(ctx context.Context, limit int) ([]Increment, error) {
	var rows []Increment
	err := s.db.WithContext(ctx).
		Where("synced = ? AND rejected = ?", false, false).
		Order("seq ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("buffer: pending batch query failed: %w", err)
	}
	return rows, nil
}

// MarkSynced atomically flips synced=true for the given seqs. Idempotent:
// seqs already synced are left untouched and produce no error.
func (s *Store) MarkSynced(ctx context.Context, seqs []int64) error {
	if len(seqs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).
		Model(&Increment{}).
		Where("seq IN ?", seqs).
		Update("synced", true).Error
}

// PoisonIncrement marks a single row as permanently rejected after the MES
// returns a Permanent failure for it. Poisoned rows are also marked synced
// so PendingBatch never offers them again; the distinct rejected flag lets
// callers still audit what was dropped.
func (s *Store) PoisonIncrement(ctx context.Context, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).
		Model(&Increment{}).
		Where("seq = ?", seq).
		Updates(map[string]any{"synced": true, "rejected": true}).Error
}

// PendingCount returns the exact count of unsynced, non-rejected rows.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Increment{}).
		Where("synced = ? AND rejected = ?", false, false).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("buffer: pending count failed: %w", err)
	}
	return int(count), nil
}

// Vacuum deletes synced=true rows whose occurredAt is older than retention.
// Intended to run on the Housekeeper task, never concurrently with Append
// on the rows it deletes — guarded by the same mutex as Append/MarkSynced.
func (s *Store) Vacuum(ctx context.Context, retention time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339)
	result := s.db.WithContext(ctx).
		Where("synced = ? AND occurred_at < ?", true, cutoff).
		Delete(&Increment{})
	if result.Error != nil {
		return 0, fmt.Errorf("buffer: vacuum failed: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// GetCurrentStation returns the most recently selected station.
func (s *Store) GetCurrentStation(ctx context.Context) (*Station, error) {
	var st Station
	err := s.db.WithContext(ctx).
		Order("selected_at DESC").
		First(&st).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStationNotFound
		}
		return nil, fmt.Errorf("buffer: get current station failed: %w", err)
	}
	return &st, nil
}

// SetCurrentStation persists the operator's station selection, upserting
// by station_id.
func (s *Store) SetCurrentStation(ctx context.Context, st Station) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Save(&st).Error
}

// isDiskFullError recognises SQLite's disk-full error text. SQLite
// surfaces this as a plain string rather than a typed error.
func isDiskFullError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "disk full") ||
		strings.Contains(err.Error(), "database or disk is full")
}
