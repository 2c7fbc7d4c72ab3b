// Package lettercache stores generated letter text by company context key.
package lettercache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/outreach/internal/email"
	"github.com/foxzi/outreach/internal/normalize"
	"github.com/foxzi/outreach/internal/recipient"
	"github.com/foxzi/outreach/internal/storage"
)

var bucketLetters = []byte("letters")

// ErrNotFound is returned by Delete when the key is absent
var ErrNotFound = errors.New("cache entry not found")

// Scope selects which recipient fields form the context key
type Scope string

const (
	// ScopeCompany keys on company name and city
	ScopeCompany Scope = "company"
	// ScopeCategory keys on the business category; letters carry a company placeholder
	ScopeCategory Scope = "category"
)

// Entry is a cached letter
type Entry struct {
	Key       string    `json:"key"`
	Text      string    `json:"text"`
	Company   string    `json:"company,omitempty"`
	City      string    `json:"city,omitempty"`
	Category  string    `json:"category,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Cache is a bbolt-backed letter cache
type Cache struct {
	db *bolt.DB
}

// New creates a cache using the provided BoltDB instance
func New(db *bolt.DB) (*Cache, error) {
	if err := storage.EnsureBuckets(db, bucketLetters); err != nil {
		return nil, fmt.Errorf("failed to create letters bucket: %w", err)
	}
	return &Cache{db: db}, nil
}

// KeyFor derives the context key for rec. It never uses the mailbox part of
// the email, so recipients at the same company share one letter.
func KeyFor(rec recipient.Record, scope Scope) string {
	if scope == ScopeCategory {
		if category := normalize.Fold(rec.Category); category != "" {
			return "category:" + category
		}
	}

	if company := normalize.Fold(rec.CompanyName); company != "" {
		return company + "|" + normalize.Fold(rec.City)
	}
	if host := websiteHost(rec.Website); host != "" {
		return "site:" + host
	}
	return "domain:" + email.ExtractDomain(rec.Email)
}

func websiteHost(website string) string {
	website = strings.TrimSpace(website)
	if website == "" {
		return ""
	}
	if !strings.Contains(website, "://") {
		website = "http://" + website
	}
	u, err := url.Parse(website)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// Get returns the cached text for key
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	entry, err := c.entry(key)
	if err != nil || entry == nil {
		return "", false, err
	}
	return entry.Text, true, nil
}

// Put stores text under key, replacing any previous entry
func (c *Cache) Put(ctx context.Context, entry Entry) error {
	if entry.Key == "" {
		return fmt.Errorf("cache entry has no key")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLetters).Put([]byte(entry.Key), data)
	})
}

// Lookup returns the full entry for key, or nil when absent
func (c *Cache) Lookup(ctx context.Context, key string) (*Entry, error) {
	return c.entry(key)
}

func (c *Cache) entry(key string) (*Entry, error) {
	var entry *Entry
	err := c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketLetters)
		if bucket == nil {
			return nil
		}
		data := bucket.Get([]byte(key))
		if data == nil {
			return nil
		}
		entry = &Entry{}
		return json.Unmarshal(data, entry)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return entry, nil
}

// List returns all entries sorted by key
func (c *Cache) List(ctx context.Context) ([]*Entry, error) {
	var entries []*Entry
	err := c.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketLetters)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return nil // Skip invalid entries
			}
			entries = append(entries, &entry)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list cache: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// Delete removes one entry
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketLetters)
		if bucket.Get([]byte(key)) == nil {
			return ErrNotFound
		}
		return bucket.Delete([]byte(key))
	})
}

// Clear removes all entries and returns how many were deleted
func (c *Cache) Clear(ctx context.Context) (int, error) {
	var count int
	err := c.db.Update(func(tx *bolt.Tx) error {
		if bucket := tx.Bucket(bucketLetters); bucket != nil {
			count = bucket.Stats().KeyN
		}
		if err := tx.DeleteBucket(bucketLetters); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(bucketLetters)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to clear cache: %w", err)
	}
	return count, nil
}
