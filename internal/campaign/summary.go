package campaign

import (
	"sync"
	"time"
)

// Status is the outcome of one recipient within a run
type Status string

const (
	StatusSent     Status = "sent"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
	StatusDeferred Status = "deferred"
)

// Stage identifies where a recipient failed
type Stage string

const (
	StageGenerate Stage = "generate"
	StageCompose  Stage = "compose"
	StageSend     Stage = "send"
)

// Failure describes one failed recipient
type Failure struct {
	Email   string `json:"email"`
	Company string `json:"company,omitempty"`
	Stage   Stage  `json:"stage"`
	Reason  string `json:"reason"`
}

// Summary aggregates the outcome of a run. Attempted counts recipients that
// reached generation and ended sent or failed.
type Summary struct {
	mu sync.Mutex

	RunID  string `json:"run_id"`
	DryRun bool   `json:"dry_run"`

	Total        int `json:"total"`
	Attempted    int `json:"attempted"`
	Sent         int `json:"sent"`
	Skipped      int `json:"skipped"`
	Failed       int `json:"failed"`
	Deferred     int `json:"deferred"`
	LedgerErrors int `json:"ledger_errors"`

	Failures []Failure `json:"failures,omitempty"`

	Interrupted bool      `json:"interrupted"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
}

func newSummary(runID string, total int, dryRun bool) *Summary {
	return &Summary{
		RunID:     runID,
		DryRun:    dryRun,
		Total:     total,
		StartedAt: time.Now(),
	}
}

func (s *Summary) record(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch status {
	case StatusSent:
		s.Attempted++
		s.Sent++
	case StatusSkipped:
		s.Skipped++
	case StatusDeferred:
		s.Deferred++
	}
}

func (s *Summary) fail(f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Attempted++
	s.Failed++
	s.Failures = append(s.Failures, f)
}

func (s *Summary) ledgerError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LedgerErrors++
}

func (s *Summary) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FinishedAt = time.Now()
	s.Interrupted = s.Sent+s.Skipped+s.Failed+s.Deferred < s.Total
}

// Pending returns how many recipients were not processed
func (s *Summary) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Total - s.Sent - s.Skipped - s.Failed - s.Deferred
}

// Snapshot returns a copy that is safe to read while the run continues
func (s *Summary) Snapshot() *Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	return &Summary{
		RunID:        s.RunID,
		DryRun:       s.DryRun,
		Total:        s.Total,
		Attempted:    s.Attempted,
		Sent:         s.Sent,
		Skipped:      s.Skipped,
		Failed:       s.Failed,
		Deferred:     s.Deferred,
		LedgerErrors: s.LedgerErrors,
		Failures:     append([]Failure(nil), s.Failures...),
		Interrupted:  s.Interrupted,
		StartedAt:    s.StartedAt,
		FinishedAt:   s.FinishedAt,
	}
}

// Duration returns the run time so far
func (s *Summary) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FinishedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
