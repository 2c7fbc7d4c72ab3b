package campaign

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/outreach/internal/compose"
	"github.com/foxzi/outreach/internal/email"
	"github.com/foxzi/outreach/internal/ledger"
	"github.com/foxzi/outreach/internal/letter"
	"github.com/foxzi/outreach/internal/lettercache"
	"github.com/foxzi/outreach/internal/llm"
	"github.com/foxzi/outreach/internal/metrics"
	"github.com/foxzi/outreach/internal/outbox"
	"github.com/foxzi/outreach/internal/quota"
	"github.com/foxzi/outreach/internal/recipient"
	"github.com/foxzi/outreach/internal/transport"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type backend struct {
	mu    sync.Mutex
	calls int
	fail  func(p llm.Prompt) error
}

func (b *backend) Generate(ctx context.Context, p llm.Prompt) (string, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	if b.fail != nil {
		if err := b.fail(p); err != nil {
			return "", err
		}
	}
	return "Madame, Monsieur,\n\nJe souhaite rejoindre votre équipe.", nil
}

func (b *backend) Name() string { return "stub" }
func (b *backend) Close() error { return nil }

func (b *backend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type delivery struct {
	to     string
	worker int
	at     time.Time
	ctxErr error
}

type sender struct {
	mu     sync.Mutex
	sent   []delivery
	err    func(msg *email.Message) error
	onSend func()
}

func (s *sender) Send(ctx context.Context, msg *email.Message) error {
	if s.onSend != nil {
		s.onSend()
	}
	worker, _ := WorkerID(ctx)

	s.mu.Lock()
	s.sent = append(s.sent, delivery{to: msg.To, worker: worker, at: time.Now(), ctxErr: ctx.Err()})
	s.mu.Unlock()

	if s.err != nil {
		return s.err(msg)
	}
	return nil
}

func (s *sender) Name() string { return "stub" }

func (s *sender) Deliveries() []delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivery(nil), s.sent...)
}

type env struct {
	db      *bolt.DB
	ledger  *ledger.Ledger
	cache   *lettercache.Cache
	backend *backend
	sender  *sender
}

func newEnv(t *testing.T) *env {
	t.Helper()

	db, err := bolt.Open(filepath.Join(t.TempDir(), "outreach.db"), 0600, &bolt.Options{Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	l, err := ledger.New(db)
	require.NoError(t, err)
	c, err := lettercache.New(db)
	require.NoError(t, err)

	return &env{db: db, ledger: l, cache: c, backend: &backend{}, sender: &sender{}}
}

func (e *env) deps(t *testing.T, useCache bool) Deps {
	t.Helper()

	gen, err := letter.New(e.backend, e.cache, letter.Options{UseCache: useCache}, testLogger)
	require.NoError(t, err)
	comp, err := compose.New(compose.Options{FromEmail: "jane@example.com", Signature: "Jane"})
	require.NoError(t, err)

	return Deps{
		Ledger:    e.ledger,
		Generator: gen,
		Composer:  comp,
		Sender:    e.sender,
	}
}

func (e *env) scheduler(t *testing.T, cfg Config, deps Deps) *Scheduler {
	t.Helper()
	s, err := New(cfg, deps, testLogger)
	require.NoError(t, err)
	return s
}

func (e *env) status(t *testing.T, addr string) ledger.Status {
	t.Helper()
	entry, err := e.ledger.Get(context.Background(), addr)
	require.NoError(t, err)
	return entry.Status
}

func acmeAndZenith() []recipient.Record {
	return []recipient.Record{
		{Email: "jobs@acme.test", CompanyName: "Acme", City: "Lyon", Category: "Construction"},
		{Email: "hr@acme.test", CompanyName: "Acme", City: "Lyon", Category: "Construction"},
		{Email: "contact@zenith.test", CompanyName: "Zenith", City: "Paris", Category: "Engineering"},
	}
}

func counts(s *Summary) [3]int {
	return [3]int{s.Sent, s.Skipped, s.Failed}
}

func TestRunSharedCompanyGeneratesOnce(t *testing.T) {
	e := newEnv(t)
	s := e.scheduler(t, Config{}, e.deps(t, true))

	sum, err := s.Run(context.Background(), acmeAndZenith())
	require.NoError(t, err)

	assert.Equal(t, 2, e.backend.Calls())
	assert.Len(t, e.sender.Deliveries(), 3)
	assert.Equal(t, [3]int{3, 0, 0}, counts(sum))
	assert.Equal(t, 3, sum.Attempted)
	assert.False(t, sum.Interrupted)

	for _, rec := range acmeAndZenith() {
		assert.Equal(t, ledger.StatusSent, e.status(t, rec.Email), rec.Email)
	}
}

func TestRunCacheDisabledCallsBackendPerRecipient(t *testing.T) {
	e := newEnv(t)
	s := e.scheduler(t, Config{}, e.deps(t, false))

	_, err := s.Run(context.Background(), acmeAndZenith())
	require.NoError(t, err)
	assert.Equal(t, 3, e.backend.Calls())
}

func TestRunSkipsContactedRecipient(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.ledger.RecordOutcome(context.Background(), ledger.Entry{
		Email: "hr@acme.test", Company: "Acme", Status: ledger.StatusSent,
	}))
	s := e.scheduler(t, Config{}, e.deps(t, true))

	sum, err := s.Run(context.Background(), acmeAndZenith())
	require.NoError(t, err)

	assert.Len(t, e.sender.Deliveries(), 2)
	assert.Equal(t, [3]int{2, 1, 0}, counts(sum))
	for _, d := range e.sender.Deliveries() {
		assert.NotEqual(t, "hr@acme.test", d.to)
	}
}

func TestRunSkipWithoutWork(t *testing.T) {
	e := newEnv(t)
	for _, rec := range acmeAndZenith() {
		require.NoError(t, e.ledger.RecordOutcome(context.Background(), ledger.Entry{Email: rec.Email, Status: ledger.StatusSent}))
	}
	s := e.scheduler(t, Config{}, e.deps(t, true))

	sum, err := s.Run(context.Background(), acmeAndZenith())
	require.NoError(t, err)

	assert.Equal(t, 0, e.backend.Calls())
	assert.Empty(t, e.sender.Deliveries())
	assert.Equal(t, 3, sum.Skipped)
	assert.Equal(t, 0, sum.Attempted)
}

func TestRunGenerationFailure(t *testing.T) {
	e := newEnv(t)
	e.backend.fail = func(p llm.Prompt) error {
		if strings.Contains(p.User, "Zenith") {
			return &llm.APIError{StatusCode: 500, Message: "model overloaded"}
		}
		return nil
	}
	s := e.scheduler(t, Config{}, e.deps(t, true))

	sum, err := s.Run(context.Background(), acmeAndZenith())
	require.NoError(t, err)

	assert.Equal(t, [3]int{2, 0, 1}, counts(sum))
	assert.Equal(t, ledger.StatusFailed, e.status(t, "contact@zenith.test"))
	require.Len(t, sum.Failures, 1)
	assert.Equal(t, "contact@zenith.test", sum.Failures[0].Email)
	assert.Equal(t, StageGenerate, sum.Failures[0].Stage)
	assert.Contains(t, sum.Failures[0].Reason, "model overloaded")
}

func TestRunSendFailureIsRecorded(t *testing.T) {
	e := newEnv(t)
	e.sender.err = func(msg *email.Message) error {
		if msg.To == "contact@zenith.test" {
			return &transport.DeliveryError{Code: 550, Message: "mailbox unavailable"}
		}
		return nil
	}
	s := e.scheduler(t, Config{}, e.deps(t, true))

	sum, err := s.Run(context.Background(), acmeAndZenith())
	require.NoError(t, err)

	assert.Equal(t, [3]int{2, 0, 1}, counts(sum))
	require.Len(t, sum.Failures, 1)
	assert.Equal(t, StageSend, sum.Failures[0].Stage)
	assert.Equal(t, "permanent: mailbox unavailable", sum.Failures[0].Reason)

	entry, err := e.ledger.Get(context.Background(), "contact@zenith.test")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, entry.Status)
	assert.NotEmpty(t, entry.MessageID)
	assert.Contains(t, entry.Reason, "permanent")
}

func TestRunFailedEntryDoesNotBlock(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.ledger.RecordOutcome(ctx, ledger.Entry{
		Email: "jobs@acme.test", Status: ledger.StatusFailed, Reason: "send: temporary: timeout",
	}))
	s := e.scheduler(t, Config{}, e.deps(t, true))

	sum, err := s.Run(ctx, acmeAndZenith()[:1])
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Sent)

	entry, err := e.ledger.Get(ctx, "jobs@acme.test")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSent, entry.Status)
	assert.Equal(t, 2, entry.Attempts)
}

func TestRunDryRun(t *testing.T) {
	e := newEnv(t)
	ob, err := outbox.New(e.db)
	require.NoError(t, err)

	deps := e.deps(t, true)
	deps.Outbox = ob
	s := e.scheduler(t, Config{DryRun: true, Delay: DelayPolicy{Min: time.Hour, Max: time.Hour}}, deps)

	start := time.Now()
	sum, err := s.Run(context.Background(), acmeAndZenith())
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Minute, "dry runs do not wait between recipients")
	assert.Empty(t, e.sender.Deliveries())
	assert.Equal(t, [3]int{3, 0, 0}, counts(sum))
	assert.True(t, sum.DryRun)

	stats, err := e.ledger.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)

	captured, err := ob.List(context.Background(), outbox.ListFilter{RunID: sum.RunID})
	require.NoError(t, err)
	assert.Len(t, captured, 3)
}

func TestRunDryRunWithoutSender(t *testing.T) {
	e := newEnv(t)
	deps := e.deps(t, false)
	deps.Sender = nil

	_, err := New(Config{}, deps, testLogger)
	assert.Error(t, err)

	s := e.scheduler(t, Config{DryRun: true}, deps)
	sum, err := s.Run(context.Background(), acmeAndZenith())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Sent)
}

func TestRunDryRunFailureNotRecorded(t *testing.T) {
	e := newEnv(t)
	e.backend.fail = func(p llm.Prompt) error {
		if strings.Contains(p.User, "Zenith") {
			return &llm.APIError{StatusCode: 500, Message: "model overloaded"}
		}
		return nil
	}
	s := e.scheduler(t, Config{DryRun: true}, e.deps(t, false))

	sum, err := s.Run(context.Background(), acmeAndZenith())
	require.NoError(t, err)
	assert.Equal(t, [3]int{2, 0, 1}, counts(sum))

	_, err = e.ledger.Get(context.Background(), "contact@zenith.test")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	stats, err := e.ledger.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
}

func TestRunConcurrentPerWorkerSpacing(t *testing.T) {
	e := newEnv(t)
	minDelay := 30 * time.Millisecond
	s := e.scheduler(t, Config{
		Concurrent: true,
		Workers:    2,
		Delay:      DelayPolicy{Min: minDelay, Max: 40 * time.Millisecond},
	}, e.deps(t, false))

	var recs []recipient.Record
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		recs = append(recs, recipient.Record{Email: name + "@" + name + ".test", CompanyName: strings.ToUpper(name)})
	}

	sum, err := s.Run(context.Background(), recs)
	require.NoError(t, err)
	assert.Equal(t, 8, sum.Sent)

	deliveries := e.sender.Deliveries()
	require.Len(t, deliveries, 8)

	byWorker := map[int][]time.Time{}
	for _, d := range deliveries {
		assert.Contains(t, []int{1, 2}, d.worker)
		byWorker[d.worker] = append(byWorker[d.worker], d.at)
	}

	spaced := 0
	for worker, times := range byWorker {
		for i := 1; i < len(times); i++ {
			gap := times[i].Sub(times[i-1])
			assert.GreaterOrEqual(t, gap, minDelay, "worker %d sends %d and %d", worker, i-1, i)
			spaced++
		}
	}
	assert.GreaterOrEqual(t, spaced, 6)
}

func TestRunSequentialWorkerID(t *testing.T) {
	e := newEnv(t)
	s := e.scheduler(t, Config{}, e.deps(t, true))

	_, err := s.Run(context.Background(), acmeAndZenith())
	require.NoError(t, err)
	for _, d := range e.sender.Deliveries() {
		assert.Equal(t, 0, d.worker)
	}
}

func TestRunCancellation(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.sender.onSend = cancel
	s := e.scheduler(t, Config{Delay: DelayPolicy{Min: time.Hour, Max: time.Hour}}, e.deps(t, true))

	sum, err := s.Run(ctx, acmeAndZenith())
	require.NoError(t, err)

	deliveries := e.sender.Deliveries()
	require.Len(t, deliveries, 1)
	assert.NoError(t, deliveries[0].ctxErr, "in-flight send must not see the cancellation")

	assert.True(t, sum.Interrupted)
	assert.Equal(t, 1, sum.Sent)
	assert.Equal(t, 2, sum.Pending())
	assert.Equal(t, ledger.StatusSent, e.status(t, "jobs@acme.test"))

	_, err = e.ledger.Get(context.Background(), "hr@acme.test")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

type brokenLedger struct {
	*ledger.Ledger
	readErr  error
	writeErr error
}

func (b *brokenLedger) IsAlreadyContacted(ctx context.Context, addr string) (bool, error) {
	if b.readErr != nil {
		return false, b.readErr
	}
	return b.Ledger.IsAlreadyContacted(ctx, addr)
}

func (b *brokenLedger) RecordOutcome(ctx context.Context, entry ledger.Entry) error {
	if b.writeErr != nil {
		return b.writeErr
	}
	return b.Ledger.RecordOutcome(ctx, entry)
}

func TestRunLedgerReadErrorIsFatal(t *testing.T) {
	for _, concurrent := range []bool{false, true} {
		e := newEnv(t)
		readErr := errors.New("database corrupted")
		deps := e.deps(t, true)
		deps.Ledger = &brokenLedger{Ledger: e.ledger, readErr: readErr}
		s := e.scheduler(t, Config{Concurrent: concurrent, Workers: 2}, deps)

		sum, err := s.Run(context.Background(), acmeAndZenith())
		require.ErrorIs(t, err, readErr)
		require.NotNil(t, sum)
		assert.Empty(t, e.sender.Deliveries())
		assert.Equal(t, 0, e.backend.Calls())
	}
}

func TestRunLedgerWriteErrorIsCounted(t *testing.T) {
	e := newEnv(t)
	m := metrics.New()
	deps := e.deps(t, true)
	deps.Ledger = &brokenLedger{Ledger: e.ledger, writeErr: errors.New("disk full")}
	deps.Metrics = m
	s := e.scheduler(t, Config{}, deps)

	sum, err := s.Run(context.Background(), acmeAndZenith())
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Sent)
	assert.Equal(t, 3, sum.LedgerErrors)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.LedgerErrorsTotal))
}

func TestRunMatchCompany(t *testing.T) {
	ctx := context.Background()
	recs := []recipient.Record{{Email: "careers@acme.test", CompanyName: "ACME"}}

	for _, match := range []bool{true, false} {
		e := newEnv(t)
		require.NoError(t, e.ledger.RecordOutcome(ctx, ledger.Entry{
			Email: "jobs@acme.test", Company: "Acme", Status: ledger.StatusSent,
		}))
		s := e.scheduler(t, Config{MatchCompany: match}, e.deps(t, true))

		sum, err := s.Run(ctx, recs)
		require.NoError(t, err)
		if match {
			assert.Equal(t, 1, sum.Skipped)
		} else {
			assert.Equal(t, 1, sum.Sent)
		}
	}
}

func TestRunQuotaDefers(t *testing.T) {
	e := newEnv(t)
	q, err := quota.New(e.db, quota.Config{Global: &quota.Limit{PerHour: 1}}, testLogger)
	require.NoError(t, err)
	t.Cleanup(func() { q.Stop() })

	m := metrics.New()
	deps := e.deps(t, false)
	deps.Quota = q
	deps.Metrics = m
	s := e.scheduler(t, Config{}, deps)

	sum, err := s.Run(context.Background(), acmeAndZenith())
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Sent)
	assert.Equal(t, 2, sum.Deferred)
	assert.Equal(t, 1, e.backend.Calls(), "deferred recipients are not generated")
	assert.False(t, sum.Interrupted)

	_, err = e.ledger.Get(context.Background(), "hr@acme.test")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.QuotaDeferredTotal.WithLabelValues(string(quota.LevelGlobal))))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RecipientsTotal.WithLabelValues(string(StatusSent))))
}

func TestProgress(t *testing.T) {
	e := newEnv(t)
	s := e.scheduler(t, Config{}, e.deps(t, true))
	assert.Nil(t, s.Progress())

	sum, err := s.Run(context.Background(), acmeAndZenith())
	require.NoError(t, err)

	snap := s.Progress()
	require.NotNil(t, snap)
	assert.Equal(t, sum.RunID, snap.RunID)
	assert.Equal(t, 3, snap.Sent)
	assert.False(t, snap.FinishedAt.IsZero())
}

func TestNewValidation(t *testing.T) {
	e := newEnv(t)
	deps := e.deps(t, true)

	_, err := New(Config{Delay: DelayPolicy{Min: 2 * time.Second, Max: time.Second}}, deps, testLogger)
	assert.Error(t, err)

	_, err = New(Config{}, Deps{Sender: e.sender}, testLogger)
	assert.Error(t, err)

	s, err := New(Config{Concurrent: true}, deps, testLogger)
	require.NoError(t, err)
	assert.Equal(t, DefaultWorkers, s.cfg.Workers)
}

func TestDelayPolicy(t *testing.T) {
	p := DelayPolicy{Min: 10 * time.Millisecond, Max: 20 * time.Millisecond}
	for i := 0; i < 100; i++ {
		d := p.Next()
		assert.GreaterOrEqual(t, d, p.Min)
		assert.LessOrEqual(t, d, p.Max)
	}
	assert.Equal(t, time.Second, DelayPolicy{Min: time.Second, Max: time.Second}.Next())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, DelayPolicy{Min: time.Hour, Max: time.Hour}.Wait(ctx), context.Canceled)
}
