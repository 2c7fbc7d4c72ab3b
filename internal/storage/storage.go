// Package storage opens the single bbolt file that holds all outreach state.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Store owns the bbolt database shared by the ledger, letter cache,
// quota counters and dry-run outbox. Each of those creates its own buckets.
type Store struct {
	db   *bolt.DB
	path string
}

// Options controls how the database file is opened
type Options struct {
	// ReadOnly opens the file with a shared lock so CLI inspection
	// commands can run next to an active campaign.
	ReadOnly bool
	// Timeout bounds the wait for the file lock (default: 5s)
	Timeout time.Duration
}

// Open opens (creating if needed) the database at path
func Open(path string, opts *Options) (*Store, error) {
	if opts == nil {
		opts = &Options{}
	}
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}

	if !opts.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout:  opts.Timeout,
		ReadOnly: opts.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	return &Store{db: db, path: path}, nil
}

// DB returns the underlying bbolt handle
func (s *Store) DB() *bolt.DB {
	return s.db
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// Size returns the database size in bytes as seen by the current transaction
func (s *Store) Size() (int64, error) {
	var size int64
	err := s.db.View(func(tx *bolt.Tx) error {
		size = tx.Size()
		return nil
	})
	return size, err
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureBuckets creates the named buckets if they do not exist yet.
// It is a no-op on read-only stores; callers then treat a missing bucket as empty.
func EnsureBuckets(db *bolt.DB, names ...[]byte) error {
	if db.IsReadOnly() {
		return nil
	}
	return db.Update(func(tx *bolt.Tx) error {
		for _, name := range names {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}
