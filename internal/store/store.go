// Package store persists signaling records in SQLite so that devices
// sharing a database file can exchange handshake payloads without a relay.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Record is one signal addressed from Sender to Receiver within a session.
// Signal holds the JSON-encoded payload.
type Record struct {
	ID        uint64 `gorm:"primaryKey"`
	SessionID string `gorm:"index:idx_session_receiver;not null"`
	Sender    string `gorm:"not null"`
	Receiver  string `gorm:"index:idx_session_receiver;not null"`
	Signal    string `gorm:"not null"`
	SentAt    time.Time
}

func (Record) TableName() string { return "signal_records" }

// SQLStore is a gorm-backed record log.
type SQLStore struct {
	db *gorm.DB
}

// Open opens (creating if needed) the SQLite database at path and migrates
// the record table.
func Open(path string) (*SQLStore, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open signal store %s: %w", path, err)
	}

	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate signal store: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Append stores rec under sessionID, assigning its ID.
func (s *SQLStore) Append(ctx context.Context, sessionID string, rec *Record) error {
	rec.SessionID = sessionID
	if rec.SentAt.IsZero() {
		rec.SentAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

// Since returns records addressed to receiver with an ID above afterID,
// oldest first.
func (s *SQLStore) Since(ctx context.Context, sessionID, receiver string, afterID uint64) ([]Record, error) {
	var records []Record
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND receiver = ? AND id > ?", sessionID, receiver, afterID).
		Order("sent_at, id").
		Find(&records).Error
	return records, err
}

// Delete removes a consumed record.
func (s *SQLStore) Delete(ctx context.Context, sessionID string, id uint64) error {
	return s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&Record{}, id).Error
}

// Close releases the underlying database handle.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
