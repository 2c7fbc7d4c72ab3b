// Package campaign dispatches personalized messages to a recipient list,
// skipping anyone the ledger already records as contacted.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/foxzi/outreach/internal/email"
	"github.com/foxzi/outreach/internal/ledger"
	"github.com/foxzi/outreach/internal/metrics"
	"github.com/foxzi/outreach/internal/outbox"
	"github.com/foxzi/outreach/internal/quota"
	"github.com/foxzi/outreach/internal/recipient"
	"github.com/foxzi/outreach/internal/transport"
)

// DefaultWorkers is the pool size in concurrent mode
const DefaultWorkers = 5

// Ledger records who has been contacted
type Ledger interface {
	IsAlreadyContacted(ctx context.Context, addr string) (bool, error)
	CompanyContacted(ctx context.Context, company string) (bool, error)
	RecordOutcome(ctx context.Context, entry ledger.Entry) error
}

// Generator produces the letter body for a recipient
type Generator interface {
	Generate(ctx context.Context, rec recipient.Record) (string, error)
}

// Composer builds the message around a letter
type Composer interface {
	Compose(rec recipient.Record, letterText string) (*email.Message, error)
}

// Quota caps the send rate
type Quota interface {
	Check(ctx context.Context, recipientDomain string) quota.Decision
	Allow(ctx context.Context, recipientDomain string) quota.Decision
}

// Outbox captures dry-run messages
type Outbox interface {
	Save(ctx context.Context, runID, company string, msg *email.Message) (*outbox.Entry, error)
}

// Config is fixed for the duration of a run
type Config struct {
	DryRun       bool
	Concurrent   bool
	Workers      int
	Delay        DelayPolicy
	MatchCompany bool          // also skip recipients whose company was contacted
	SendTimeout  time.Duration // 0 = none
}

// Deps are the collaborators of a scheduler. Quota, Outbox and Metrics are optional.
type Deps struct {
	Ledger    Ledger
	Generator Generator
	Composer  Composer
	Sender    transport.Sender
	Quota     Quota
	Outbox    Outbox
	Metrics   *metrics.Metrics
}

// Scheduler runs campaigns
type Scheduler struct {
	cfg     Config
	deps    Deps
	logger  *slog.Logger
	current atomic.Pointer[Summary]
}

// New creates a scheduler
func New(cfg Config, deps Deps, logger *slog.Logger) (*Scheduler, error) {
	if deps.Ledger == nil || deps.Generator == nil || deps.Composer == nil {
		return nil, fmt.Errorf("ledger, generator and composer are required")
	}
	if deps.Sender == nil && !cfg.DryRun {
		return nil, fmt.Errorf("a sender is required unless running dry")
	}
	if cfg.Delay.Min < 0 || cfg.Delay.Max < cfg.Delay.Min {
		return nil, fmt.Errorf("invalid delay bounds %s..%s", cfg.Delay.Min, cfg.Delay.Max)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}

	return &Scheduler{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}, nil
}

// Progress returns a snapshot of the current or last run, or nil before the first run
func (s *Scheduler) Progress() *Summary {
	if sum := s.current.Load(); sum != nil {
		return sum.Snapshot()
	}
	return nil
}

// Run dispatches to every recipient and returns the summary. Per-recipient
// failures are reported in the summary; only a ledger read failure is
// returned as an error. Cancelling ctx stops workers from taking new
// recipients and marks the summary interrupted.
func (s *Scheduler) Run(ctx context.Context, recipients []recipient.Record) (*Summary, error) {
	sum := newSummary(uuid.NewString(), len(recipients), s.cfg.DryRun)
	s.current.Store(sum)

	queue := make(chan recipient.Record, len(recipients))
	for _, rec := range recipients {
		queue <- rec
	}
	close(queue)

	workers := 1
	if s.cfg.Concurrent {
		workers = min(s.cfg.Workers, max(len(recipients), 1))
	}

	s.logger.Info("campaign started",
		"run_id", sum.RunID,
		"recipients", len(recipients),
		"workers", workers,
		"concurrent", s.cfg.Concurrent,
		"dry_run", s.cfg.DryRun,
		"delay_min", s.cfg.Delay.Min,
		"delay_max", s.cfg.Delay.Max,
	)

	var err error
	if s.cfg.Concurrent {
		g, gctx := errgroup.WithContext(ctx)
		for i := 1; i <= workers; i++ {
			g.Go(func() error {
				return s.worker(gctx, i, queue, sum)
			})
		}
		err = g.Wait()
	} else {
		err = s.worker(ctx, 0, queue, sum)
	}

	sum.finish()
	s.logSummary(sum)

	return sum, err
}

func (s *Scheduler) worker(ctx context.Context, id int, queue <-chan recipient.Record, sum *Summary) error {
	ctx = withWorkerID(ctx, id)
	logger := s.logger.With("worker_id", id)

	s.deps.Metrics.WorkerStarted()
	defer s.deps.Metrics.WorkerStopped()

	for {
		if ctx.Err() != nil {
			logger.Debug("worker stopped by context")
			return nil
		}

		rec, ok := <-queue
		if !ok {
			return nil
		}

		sent, err := s.dispatch(ctx, logger.With("email", rec.Email, "company", rec.CompanyName), rec, sum)
		if err != nil {
			return err
		}

		// Space this worker's sends; nothing to wait for once the queue is drained
		if sent && len(queue) > 0 {
			if err := s.cfg.Delay.Wait(ctx); err != nil {
				logger.Debug("delay interrupted")
				return nil
			}
		}
	}
}

// dispatch handles one recipient and reports whether the transport was called
func (s *Scheduler) dispatch(ctx context.Context, logger *slog.Logger, rec recipient.Record, sum *Summary) (bool, error) {
	contacted, err := s.deps.Ledger.IsAlreadyContacted(ctx, rec.Email)
	if err != nil {
		return false, fmt.Errorf("failed to read ledger for %s: %w", rec.Email, err)
	}
	if !contacted && s.cfg.MatchCompany && rec.CompanyName != "" {
		if contacted, err = s.deps.Ledger.CompanyContacted(ctx, rec.CompanyName); err != nil {
			return false, fmt.Errorf("failed to read ledger for company %s: %w", rec.CompanyName, err)
		}
	}
	if contacted {
		s.outcome(logger, sum, StatusSkipped, "already contacted")
		return false, nil
	}

	domain := email.ExtractDomain(rec.Email)
	if s.deps.Quota != nil {
		if d := s.deps.Quota.Check(ctx, domain); !d.Allowed {
			s.deferred(logger, sum, d)
			return false, nil
		}
	}

	text, err := s.deps.Generator.Generate(ctx, rec)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			logger.Debug("generation interrupted, recipient left pending")
			return false, nil
		}
		s.failed(ctx, logger, sum, rec, StageGenerate, err.Error(), "")
		return false, nil
	}

	msg, err := s.deps.Composer.Compose(rec, text)
	if err != nil {
		s.failed(ctx, logger, sum, rec, StageCompose, err.Error(), "")
		return false, nil
	}

	if s.cfg.DryRun {
		if s.deps.Outbox != nil {
			if _, err := s.deps.Outbox.Save(context.WithoutCancel(ctx), sum.RunID, rec.CompanyName, msg); err != nil {
				logger.Warn("failed to store message in outbox", "error", err)
			}
		}
		s.outcome(logger, sum, StatusSent, "dry run")
		return false, nil
	}

	if s.deps.Quota != nil {
		if d := s.deps.Quota.Allow(ctx, domain); !d.Allowed {
			s.deferred(logger, sum, d)
			return false, nil
		}
	}

	// Once started, a send is not abandoned on cancellation
	sendCtx := context.WithoutCancel(ctx)
	if s.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(sendCtx, s.cfg.SendTimeout)
		defer cancel()
	}

	start := time.Now()
	err = s.deps.Sender.Send(sendCtx, msg)
	s.deps.Metrics.ObserveSend(time.Since(start))
	if err != nil {
		s.failed(ctx, logger, sum, rec, StageSend, transport.Describe(err), msg.ID)
		return true, nil
	}

	s.writeLedger(ctx, logger, sum, ledger.Entry{
		Email:     rec.Email,
		Company:   rec.CompanyName,
		Status:    ledger.StatusSent,
		MessageID: msg.ID,
	})
	s.outcome(logger, sum, StatusSent, "")
	return true, nil
}

func (s *Scheduler) outcome(logger *slog.Logger, sum *Summary, status Status, reason string) {
	sum.record(status)
	s.deps.Metrics.IncRecipient(string(status))
	if reason != "" {
		logger.Info("recipient processed", "status", status, "reason", reason)
	} else {
		logger.Info("recipient processed", "status", status)
	}
}

func (s *Scheduler) deferred(logger *slog.Logger, sum *Summary, d quota.Decision) {
	sum.record(StatusDeferred)
	s.deps.Metrics.IncRecipient(string(StatusDeferred))
	s.deps.Metrics.IncQuotaDeferred(string(d.Level))
	logger.Info("recipient processed",
		"status", StatusDeferred,
		"reason", "quota exceeded",
		"level", d.Level,
		"retry_after", d.RetryAfter,
	)
}

func (s *Scheduler) failed(ctx context.Context, logger *slog.Logger, sum *Summary, rec recipient.Record, stage Stage, reason, messageID string) {
	sum.fail(Failure{
		Email:   rec.Email,
		Company: rec.CompanyName,
		Stage:   stage,
		Reason:  reason,
	})
	s.deps.Metrics.IncRecipient(string(StatusFailed))
	logger.Warn("recipient processed", "status", StatusFailed, "stage", stage, "reason", reason)

	// Dry runs leave no trace in the ledger
	if s.cfg.DryRun {
		return
	}
	s.writeLedger(ctx, logger, sum, ledger.Entry{
		Email:     rec.Email,
		Company:   rec.CompanyName,
		Status:    ledger.StatusFailed,
		Reason:    fmt.Sprintf("%s: %s", stage, reason),
		MessageID: messageID,
	})
}

func (s *Scheduler) writeLedger(ctx context.Context, logger *slog.Logger, sum *Summary, entry ledger.Entry) {
	if err := s.deps.Ledger.RecordOutcome(context.WithoutCancel(ctx), entry); err != nil {
		sum.ledgerError()
		s.deps.Metrics.IncLedgerErrors()
		logger.Error("failed to record outcome in ledger", "status", entry.Status, "error", err)
	}
}

func (s *Scheduler) logSummary(sum *Summary) {
	snap := sum.Snapshot()
	s.logger.Info("campaign finished",
		"run_id", snap.RunID,
		"total", snap.Total,
		"attempted", snap.Attempted,
		"sent", snap.Sent,
		"skipped", snap.Skipped,
		"failed", snap.Failed,
		"deferred", snap.Deferred,
		"ledger_errors", snap.LedgerErrors,
		"interrupted", snap.Interrupted,
		"dry_run", snap.DryRun,
		"duration", snap.FinishedAt.Sub(snap.StartedAt),
	)
	for _, f := range snap.Failures {
		s.logger.Warn("recipient failed", "email", f.Email, "company", f.Company, "stage", f.Stage, "reason", f.Reason)
	}
}
