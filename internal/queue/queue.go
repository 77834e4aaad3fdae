// Package queue provides the local durable queue for undelivered metric
// snapshots. Records are persisted to SQLite before Enqueue returns and
// survive process restarts; the autoincrement row id is the sequence key,
// so delivery order always equals enqueue order.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pistat/pistat/internal/models"
)

// record is the persisted row: a sequence id plus the snapshot as a
// JSON blob. The blob round-trips the snapshot verbatim, so a queued
// reading is byte-equivalent to one sent live.
type record struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	Timestamp time.Time `gorm:"autoCreateTime"`
	Metrics   []byte    `gorm:"column:metrics_json;not null"`
}

// TableName keeps the on-disk table name stable across versions.
func (record) TableName() string { return "metrics_cache" }

// Queued is one pending snapshot with its sequence id.
type Queued struct {
	ID       uint64
	Snapshot models.MetricSnapshot
}

// Queue is a strict-FIFO durable queue of metric snapshots.
type Queue struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the queue database at the given path.
func Open(path string, log *zap.Logger) (*Queue, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening queue database: %w", err)
	}
	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, fmt.Errorf("migrating queue schema: %w", err)
	}
	return &Queue{db: db, logger: log}, nil
}

// Enqueue assigns the next sequence id and persists the snapshot.
// The write is durable before Enqueue returns.
func (q *Queue) Enqueue(snapshot models.MetricSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	if err := q.db.Create(&record{Metrics: data}).Error; err != nil {
		return fmt.Errorf("persisting snapshot: %w", err)
	}
	q.logger.Debug("Snapshot queued locally")
	return nil
}

// PeekOldestFirst returns all pending records ordered by sequence id
// ascending. Records stay queued until explicitly removed.
func (q *Queue) PeekOldestFirst() ([]Queued, error) {
	var rows []record
	if err := q.db.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("reading queue: %w", err)
	}

	out := make([]Queued, 0, len(rows))
	for _, row := range rows {
		var snapshot models.MetricSnapshot
		if err := json.Unmarshal(row.Metrics, &snapshot); err != nil {
			// A corrupt row would block the drain forever; drop it.
			q.logger.Warn("Removing corrupt queue record",
				zap.Uint64("id", row.ID),
				zap.Error(err))
			if err := q.Remove(row.ID); err != nil {
				return nil, err
			}
			continue
		}
		out = append(out, Queued{ID: row.ID, Snapshot: snapshot})
	}
	return out, nil
}

// Remove deletes a record by sequence id. Idempotent: removing an
// already-absent id is not an error.
func (q *Queue) Remove(id uint64) error {
	if err := q.db.Delete(&record{}, id).Error; err != nil {
		return fmt.Errorf("removing queue record %d: %w", id, err)
	}
	return nil
}

// Len returns the number of pending records.
func (q *Queue) Len() (int64, error) {
	var count int64
	if err := q.db.Model(&record{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting queue records: %w", err)
	}
	return count, nil
}

// Close closes the underlying database.
func (q *Queue) Close() error {
	sqlDB, err := q.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
