// Package quota caps how many messages a campaign hands to the transport
// per hour and per day, globally and per recipient domain. Counters survive
// restarts so consecutive runs share the same budget.
package quota

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/outreach/internal/storage"
)

var bucketQuota = []byte("quota")

// Level identifies which cap applies
type Level string

const (
	LevelGlobal Level = "global"
	LevelDomain Level = "recipient_domain"
)

// Limit holds the caps for one level; zero disables a cap
type Limit struct {
	PerHour int `yaml:"per_hour" json:"per_hour"`
	PerDay  int `yaml:"per_day" json:"per_day"`
}

func (l *Limit) enabled() bool {
	return l != nil && (l.PerHour > 0 || l.PerDay > 0)
}

// Config contains quota configuration
type Config struct {
	Global        *Limit        `yaml:"global,omitempty"`
	PerDomain     *Limit        `yaml:"per_domain,omitempty"`
	FlushInterval time.Duration `yaml:"flush_interval,omitempty"`
}

// Window counts sends in the current hour and day
type Window struct {
	Hourly    int       `json:"hourly"`
	Daily     int       `json:"daily"`
	HourStart time.Time `json:"hour_start"`
	DayStart  time.Time `json:"day_start"`
}

// roll returns the window as seen at now, without modifying w
func (w Window) roll(now time.Time) Window {
	if now.Sub(w.HourStart) >= time.Hour {
		w.Hourly = 0
		w.HourStart = now
	}
	if now.Sub(w.DayStart) >= 24*time.Hour {
		w.Daily = 0
		w.DayStart = now
	}
	return w
}

// Decision is the outcome of a quota check
type Decision struct {
	Allowed    bool
	Level      Level
	Key        string
	RetryAfter time.Duration
}

// Usage reports one counter for the CLI
type Usage struct {
	Level   Level  `json:"level"`
	Key     string `json:"key"`
	Window  Window `json:"window"`
	PerHour int    `json:"per_hour"`
	PerDay  int    `json:"per_day"`
}

// Quota enforces the configured caps
type Quota struct {
	db      *bolt.DB
	config  Config
	windows map[string]*Window
	mu      sync.Mutex
	now     func() time.Time
	logger  *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New loads persisted counters and starts the periodic flush
func New(db *bolt.DB, cfg Config, logger *slog.Logger) (*Quota, error) {
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	if err := storage.EnsureBuckets(db, bucketQuota); err != nil {
		return nil, fmt.Errorf("failed to create quota bucket: %w", err)
	}

	q := &Quota{
		db:      db,
		config:  cfg,
		windows: make(map[string]*Window),
		now:     time.Now,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	if err := q.load(); err != nil {
		return nil, fmt.Errorf("failed to load quota counters: %w", err)
	}

	if q.Enabled() && !db.IsReadOnly() {
		q.wg.Add(1)
		go q.flushLoop()
	}

	return q, nil
}

// Enabled reports whether any cap is configured
func (q *Quota) Enabled() bool {
	return q.config.Global.enabled() || q.config.PerDomain.enabled()
}

type rule struct {
	level Level
	key   string
	limit *Limit
}

func (q *Quota) rules(recipientDomain string) []rule {
	var rules []rule
	if q.config.Global.enabled() {
		rules = append(rules, rule{LevelGlobal, makeKey(LevelGlobal, "all"), q.config.Global})
	}
	if recipientDomain != "" && q.config.PerDomain.enabled() {
		rules = append(rules, rule{LevelDomain, makeKey(LevelDomain, strings.ToLower(recipientDomain)), q.config.PerDomain})
	}
	return rules
}

// evaluate must be called with q.mu held
func (q *Quota) evaluate(rules []rule, now time.Time) Decision {
	for _, r := range rules {
		var w Window
		if existing, ok := q.windows[r.key]; ok {
			w = existing.roll(now)
		} else {
			w = Window{HourStart: now, DayStart: now}
		}

		if r.limit.PerHour > 0 && w.Hourly >= r.limit.PerHour {
			return Decision{Level: r.level, Key: r.key, RetryAfter: w.HourStart.Add(time.Hour).Sub(now)}
		}
		if r.limit.PerDay > 0 && w.Daily >= r.limit.PerDay {
			return Decision{Level: r.level, Key: r.key, RetryAfter: w.DayStart.Add(24 * time.Hour).Sub(now)}
		}
	}
	return Decision{Allowed: true}
}

// Check reports whether a send to recipientDomain would be allowed, without counting it
func (q *Quota) Check(ctx context.Context, recipientDomain string) Decision {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.evaluate(q.rules(recipientDomain), q.now())
}

// Allow counts a send to recipientDomain if every cap permits it
func (q *Quota) Allow(ctx context.Context, recipientDomain string) Decision {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	rules := q.rules(recipientDomain)
	d := q.evaluate(rules, now)
	if !d.Allowed {
		return d
	}

	for _, r := range rules {
		w, ok := q.windows[r.key]
		if !ok {
			w = &Window{HourStart: now, DayStart: now}
			q.windows[r.key] = w
		}
		*w = w.roll(now)
		w.Hourly++
		w.Daily++
	}
	return d
}

// Status returns current usage for every known counter, sorted by key
func (q *Quota) Status(ctx context.Context) []Usage {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	usage := make([]Usage, 0, len(q.windows))
	for key, w := range q.windows {
		level, name, _ := strings.Cut(key, ":")
		u := Usage{Level: Level(level), Key: name, Window: w.roll(now)}
		limit := q.config.Global
		if u.Level == LevelDomain {
			limit = q.config.PerDomain
		}
		if limit != nil {
			u.PerHour, u.PerDay = limit.PerHour, limit.PerDay
		}
		usage = append(usage, u)
	}

	sort.Slice(usage, func(i, j int) bool {
		if usage[i].Level != usage[j].Level {
			return usage[i].Level < usage[j].Level
		}
		return usage[i].Key < usage[j].Key
	})
	return usage
}

// Stop ends the flush loop and persists counters
func (q *Quota) Stop() error {
	q.stopOnce.Do(func() { close(q.stopCh) })
	q.wg.Wait()
	if q.db.IsReadOnly() {
		return nil
	}
	return q.flush()
}

func (q *Quota) load() error {
	return q.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketQuota)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			var w Window
			if err := json.Unmarshal(v, &w); err != nil {
				q.logger.Warn("skipping corrupt quota counter", "key", string(k), "error", err)
				return nil
			}
			q.windows[string(k)] = &w
			return nil
		})
	})
}

func (q *Quota) flush() error {
	q.mu.Lock()
	snapshot := make(map[string][]byte, len(q.windows))
	for key, w := range q.windows {
		data, err := json.Marshal(w)
		if err != nil {
			continue
		}
		snapshot[key] = data
	}
	q.mu.Unlock()

	return q.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketQuota)
		for key, data := range snapshot {
			if err := bucket.Put([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (q *Quota) flushLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			if err := q.flush(); err != nil {
				q.logger.Error("failed to persist quota counters", "error", err)
			}
		}
	}
}

func makeKey(level Level, key string) string {
	return string(level) + ":" + key
}
