// Package store implements the durable offline-message queue (spec.md
// §4.4): messages addressed to a currently-unreachable peer are persisted
// until that peer becomes reachable again or the message expires.
//
// Grounded on original_source/message_store.py's two-table SQLite schema
// (offline_messages, schedule_messages, cascading on delete), reimplemented
// with gorm + go-sqlite3 per the domain-stack wiring in SPEC_FULL.md §11,
// and fixing the bug the spec calls out in §4.4/§9: the original deletes
// every non-expired row for a target as soon as pending_for is called, even
// though the node hasn't sent anything yet. PendingFor here only reads and
// evicts *expired* rows; the caller is responsible for calling Delete once a
// message has actually been queued onto a live connection.
package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jinzhu/gorm"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ecobloom/agrimesh/message"
)

// Expiry is the default lifetime of a stored message (spec.md §3, §4.4).
const Expiry = 7 * 24 * time.Hour

// Store is a durable, SQL-backed offline message queue. It is the one
// resource in the core shared by multiple goroutines (spec.md §5) and is
// guarded by an internal mutex rather than relying on sqlite's own locking,
// since a single *gorm.DB over a single sqlite connection already serializes
// statements but application-level read-then-write sequences (PendingFor's
// "evict expired, then select") still need to be atomic with respect to
// concurrent Store/Delete calls.
type Store struct {
	mu sync.Mutex
	db *gorm.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// ensures both tables exist, with the schedule table's message_id declared
// as a foreign key cascading on delete (spec.md §6 "Persisted state").
func Open(path string) (*Store, error) {
	db, err := gorm.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS offline_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			peer_id TEXT NOT NULL,
			target_user_id TEXT NOT NULL,
			message_type TEXT NOT NULL,
			data TEXT NOT NULL,
			time_stamp REAL,
			message_id TEXT NOT NULL UNIQUE,
			hop_count INTEGER,
			path TEXT
		)
	`).Error; err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create offline_messages: %w", err)
	}

	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schedule_messages (
			message_id TEXT PRIMARY KEY,
			last_tried REAL,
			retry_count INTEGER DEFAULT 0,
			expiry_time REAL,
			FOREIGN KEY(message_id) REFERENCES offline_messages(message_id) ON DELETE CASCADE
		)
	`).Error; err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schedule_messages: %w", err)
	}

	db.Exec(`CREATE INDEX IF NOT EXISTS idx_offline_messages_target ON offline_messages(target_user_id)`)

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Store persists m with a fresh expiry (spec.md §4.4). Re-storing an id
// already present is idempotent: a duplicate message_id is silently
// accepted as a no-op rather than surfaced as an error, since the unique
// index makes the insert itself the idempotency check.
func (s *Store) Store(m *message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, err := toRow(m)
	if err != nil {
		return fmt.Errorf("store: encode message: %w", err)
	}

	tx := s.db.Begin()
	if tx.Error != nil {
		return fmt.Errorf("store: begin: %w", tx.Error)
	}

	var existing messageRow
	if err := tx.Where("message_id = ?", m.MessageID).First(&existing).Error; err == nil {
		// Already stored; idempotent no-op.
		return tx.Commit().Error
	} else if err != gorm.ErrRecordNotFound {
		tx.Rollback()
		return fmt.Errorf("store: check existing: %w", err)
	}

	if err := tx.Create(&row).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("store: insert message: %w", err)
	}

	sched := scheduleRow{
		MessageID:  m.MessageID,
		LastTried:  nil,
		RetryCount: 0,
		ExpiryTime: float64(time.Now().Add(Expiry).Unix()),
	}
	if err := tx.Create(&sched).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("store: insert schedule: %w", err)
	}

	return tx.Commit().Error
}

// PendingFor returns all non-expired stored messages addressed to target,
// ordered by insertion, first evicting anything that has expired (spec.md
// §4.4). It does NOT delete the rows it returns — see the package doc
// comment for why that would reproduce the original source's bug.
func (s *Store) PendingFor(target string) ([]*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.deleteExpiredLocked(); err != nil {
		return nil, err
	}

	var rows []messageRow
	err := s.db.
		Table("offline_messages").
		Joins("JOIN schedule_messages ON schedule_messages.message_id = offline_messages.message_id").
		Where("offline_messages.target_user_id = ?", target).
		Order("offline_messages.id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: query pending for %s: %w", target, err)
	}

	return rowsToMessages(rows)
}

// AllPending returns every non-expired stored message, across all targets,
// for operator inspection (spec.md §4.4 all_pending).
func (s *Store) AllPending() ([]*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.deleteExpiredLocked(); err != nil {
		return nil, err
	}

	var rows []messageRow
	err := s.db.Order("id ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: query all pending: %w", err)
	}
	return rowsToMessages(rows)
}

// IncrementRetry bumps the retry counter for messageID and stamps
// last_tried with now, returning the new count (spec.md §4.4).
func (s *Store) IncrementRetry(messageID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := float64(time.Now().Unix())
	result := s.db.Model(&scheduleRow{}).
		Where("message_id = ?", messageID).
		Updates(map[string]interface{}{
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_tried":  now,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("store: increment retry for %s: %w", messageID, result.Error)
	}

	var sched scheduleRow
	if err := s.db.Where("message_id = ?", messageID).First(&sched).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, nil
		}
		return 0, fmt.Errorf("store: read retry count for %s: %w", messageID, err)
	}
	return sched.RetryCount, nil
}

// Delete removes messageID from the store. Called by the node only after
// the corresponding send has actually been queued onto a live connection
// (spec.md §4.4 resolved open question).
func (s *Store) Delete(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(messageID)
}

func (s *Store) deleteLocked(messageID string) error {
	tx := s.db.Begin()
	if tx.Error != nil {
		return fmt.Errorf("store: begin delete: %w", tx.Error)
	}
	if err := tx.Where("message_id = ?", messageID).Delete(&scheduleRow{}).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("store: delete schedule row for %s: %w", messageID, err)
	}
	if err := tx.Where("message_id = ?", messageID).Delete(&messageRow{}).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("store: delete message row for %s: %w", messageID, err)
	}
	return tx.Commit().Error
}

// DeleteExpired removes every row whose expiry_time has passed (spec.md
// §4.4, §8 property 7).
func (s *Store) DeleteExpired() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteExpiredLocked()
}

func (s *Store) deleteExpiredLocked() error {
	now := float64(time.Now().Unix())

	var expired []scheduleRow
	if err := s.db.Where("expiry_time <= ?", now).Find(&expired).Error; err != nil {
		return fmt.Errorf("store: find expired: %w", err)
	}
	for _, row := range expired {
		if err := s.deleteLocked(row.MessageID); err != nil {
			return err
		}
	}
	return nil
}

func toRow(m *message.Message) (messageRow, error) {
	data, err := json.Marshal(m.Data)
	if err != nil {
		return messageRow{}, err
	}
	path, err := json.Marshal(m.Path)
	if err != nil {
		return messageRow{}, err
	}
	return messageRow{
		PeerID:       m.PeerID,
		TargetUserID: m.TargetUserID,
		MessageType:  string(m.MessageType),
		Data:         string(data),
		TimeStamp:    m.TimeStamp,
		MessageID:    m.MessageID,
		HopCount:     m.HopCount,
		Path:         string(path),
	}, nil
}

func rowsToMessages(rows []messageRow) ([]*message.Message, error) {
	out := make([]*message.Message, 0, len(rows))
	for _, row := range rows {
		m, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func fromRow(row messageRow) (*message.Message, error) {
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(row.Data), &data); err != nil {
		return nil, fmt.Errorf("store: decode data for %s: %w", row.MessageID, err)
	}
	var path []string
	if err := json.Unmarshal([]byte(row.Path), &path); err != nil {
		return nil, fmt.Errorf("store: decode path for %s: %w", row.MessageID, err)
	}
	return &message.Message{
		PeerID:       row.PeerID,
		TargetUserID: row.TargetUserID,
		MessageType:  message.Type(row.MessageType),
		Data:         data,
		TimeStamp:    row.TimeStamp,
		MessageID:    row.MessageID,
		HopCount:     row.HopCount,
		Path:         path,
	}, nil
}
