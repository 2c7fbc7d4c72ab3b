// Package outbox keeps the messages a dry run would have sent, so the
// operator can inspect them before a real run.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/outreach/internal/email"
	"github.com/foxzi/outreach/internal/storage"
)

var bucketOutbox = []byte("outbox")

// ErrNotFound is returned when no captured message has the given ID
var ErrNotFound = errors.New("outbox message not found")

// Entry is a captured message
type Entry struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	To         string    `json:"to"`
	Company    string    `json:"company,omitempty"`
	Subject    string    `json:"subject"`
	MessageID  string    `json:"message_id"`
	Size       int       `json:"size"`
	Data       []byte    `json:"data,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

// Outbox stores captured messages keyed by time-ordered UUIDs
type Outbox struct {
	db *bolt.DB
}

// New creates an outbox using the provided BoltDB instance
func New(db *bolt.DB) (*Outbox, error) {
	if err := storage.EnsureBuckets(db, bucketOutbox); err != nil {
		return nil, fmt.Errorf("failed to create outbox bucket: %w", err)
	}
	return &Outbox{db: db}, nil
}

// Save renders msg and stores it
func (o *Outbox) Save(ctx context.Context, runID, company string, msg *email.Message) (*Entry, error) {
	data, err := msg.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to render message: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate id: %w", err)
	}

	entry := &Entry{
		ID:         id.String(),
		RunID:      runID,
		To:         msg.To,
		Company:    company,
		Subject:    msg.Subject,
		MessageID:  msg.ID,
		Size:       len(data),
		Data:       data,
		CapturedAt: time.Now(),
	}

	encoded, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entry: %w", err)
	}

	err = o.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOutbox).Put([]byte(entry.ID), encoded)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Get retrieves a captured message, including its data
func (o *Outbox) Get(ctx context.Context, id string) (*Entry, error) {
	var entry *Entry
	err := o.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketOutbox)
		if bucket == nil {
			return ErrNotFound
		}
		v := bucket.Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		entry = &Entry{}
		return json.Unmarshal(v, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListFilter contains filters for listing captured messages
type ListFilter struct {
	RunID string
	To    string
	Limit int
}

// List returns captured messages, newest first, without their data
func (o *Outbox) List(ctx context.Context, filter ListFilter) ([]*Entry, error) {
	var entries []*Entry

	err := o.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketOutbox)
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				continue
			}
			if filter.RunID != "" && entry.RunID != filter.RunID {
				continue
			}
			if filter.To != "" && entry.To != filter.To {
				continue
			}

			entry.Data = nil
			entries = append(entries, &entry)
			if filter.Limit > 0 && len(entries) >= filter.Limit {
				break
			}
		}
		return nil
	})

	return entries, err
}

// Clear removes captured messages older than olderThan; zero removes all
func (o *Outbox) Clear(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	count := 0

	err := o.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketOutbox)
		var doomed [][]byte

		err := bucket.ForEach(func(k, v []byte) error {
			if olderThan > 0 {
				var entry Entry
				if err := json.Unmarshal(v, &entry); err == nil && entry.CapturedAt.After(cutoff) {
					return nil
				}
			}
			doomed = append(doomed, append([]byte(nil), k...))
			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range doomed {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		count = len(doomed)
		return nil
	})

	return count, err
}
