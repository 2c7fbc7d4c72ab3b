// Package ledger keeps the durable record of which recipients were already contacted.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/outreach/internal/email"
	"github.com/foxzi/outreach/internal/normalize"
	"github.com/foxzi/outreach/internal/storage"
)

var (
	bucketLedger    = []byte("ledger")
	bucketCompanies = []byte("ledger_companies")
)

// ErrNotFound is returned when no entry exists for an email
var ErrNotFound = errors.New("ledger entry not found")

// Status is the recorded outcome of a dispatch attempt
type Status string

const (
	StatusSent    Status = "sent"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Entry is the durable record for one recipient email
type Entry struct {
	Email     string    `json:"email"`
	Company   string    `json:"company,omitempty"`
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Attempts  int       `json:"attempts"`
}

// Ledger is a bbolt-backed recipient ledger.
// bbolt allows a single writer at a time, so concurrent RecordOutcome calls are serialized.
type Ledger struct {
	db *bolt.DB
}

// New creates a ledger using the provided BoltDB instance
func New(db *bolt.DB) (*Ledger, error) {
	if err := storage.EnsureBuckets(db, bucketLedger, bucketCompanies); err != nil {
		return nil, fmt.Errorf("failed to create ledger buckets: %w", err)
	}
	return &Ledger{db: db}, nil
}

// IsAlreadyContacted reports whether email has a sent entry.
// Failed and skipped entries do not block a new attempt.
func (l *Ledger) IsAlreadyContacted(ctx context.Context, addr string) (bool, error) {
	entry, err := l.Get(ctx, addr)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return entry.Status == StatusSent, nil
}

// CompanyContacted reports whether any sent entry exists for the company name
func (l *Ledger) CompanyContacted(ctx context.Context, company string) (bool, error) {
	key := normalize.Fold(company)
	if key == "" {
		return false, nil
	}

	var found bool
	err := l.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketCompanies)
		if bucket == nil {
			return nil
		}
		found = bucket.Get([]byte(key)) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to read company index: %w", err)
	}
	return found, nil
}

// RecordOutcome inserts or updates the entry for entry.Email
func (l *Ledger) RecordOutcome(ctx context.Context, entry Entry) error {
	key := email.Normalize(entry.Email)
	if key == "" {
		return fmt.Errorf("ledger entry has no email")
	}
	entry.Email = key
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketLedger)

		if data := bucket.Get([]byte(key)); data != nil {
			var prev Entry
			if err := json.Unmarshal(data, &prev); err == nil {
				entry.Attempts = prev.Attempts
				if entry.Company == "" {
					entry.Company = prev.Company
				}
			}
		}
		entry.Attempts++

		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("failed to marshal ledger entry: %w", err)
		}
		if err := bucket.Put([]byte(key), data); err != nil {
			return fmt.Errorf("failed to store ledger entry: %w", err)
		}

		if entry.Status == StatusSent {
			if company := normalize.Fold(entry.Company); company != "" {
				if err := tx.Bucket(bucketCompanies).Put([]byte(company), []byte(key)); err != nil {
					return fmt.Errorf("failed to index company: %w", err)
				}
			}
		}
		return nil
	})
}

// Get returns the entry for an email
func (l *Ledger) Get(ctx context.Context, addr string) (*Entry, error) {
	key := email.Normalize(addr)

	var entry *Entry
	err := l.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketLedger)
		if bucket == nil {
			return ErrNotFound
		}
		data := bucket.Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		entry = &Entry{}
		if err := json.Unmarshal(data, entry); err != nil {
			return fmt.Errorf("failed to unmarshal ledger entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ListFilter filters ledger listings
type ListFilter struct {
	Status Status // empty = all
	Limit  int    // 0 = unlimited
}

// List returns entries, most recent first
func (l *Ledger) List(ctx context.Context, filter ListFilter) ([]*Entry, error) {
	var entries []*Entry

	err := l.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketLedger)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return nil // Skip invalid entries
			}
			if filter.Status != "" && entry.Status != filter.Status {
				return nil
			}
			entries = append(entries, &entry)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if filter.Limit > 0 && len(entries) > filter.Limit {
		entries = entries[:filter.Limit]
	}
	return entries, nil
}

// Forget deletes the entry for an email so the recipient becomes eligible again
func (l *Ledger) Forget(ctx context.Context, addr string) error {
	key := email.Normalize(addr)

	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketLedger)
		data := bucket.Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}

		var entry Entry
		if err := json.Unmarshal(data, &entry); err == nil {
			companies := tx.Bucket(bucketCompanies)
			company := []byte(normalize.Fold(entry.Company))
			if len(company) > 0 && string(companies.Get(company)) == key {
				if err := companies.Delete(company); err != nil {
					return fmt.Errorf("failed to remove company index: %w", err)
				}
			}
		}

		return bucket.Delete([]byte(key))
	})
}

// Stats holds entry counts per status
type Stats struct {
	Total   int `json:"total"`
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Stats returns entry counts per status
func (l *Ledger) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := l.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketLedger)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return nil
			}
			stats.Total++
			switch entry.Status {
			case StatusSent:
				stats.Sent++
			case StatusSkipped:
				stats.Skipped++
			case StatusFailed:
				stats.Failed++
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compute ledger stats: %w", err)
	}
	return stats, nil
}
