// Package app wires the outreach components together for a campaign run.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foxzi/outreach/internal/campaign"
	"github.com/foxzi/outreach/internal/compose"
	"github.com/foxzi/outreach/internal/config"
	"github.com/foxzi/outreach/internal/crawl"
	"github.com/foxzi/outreach/internal/dkim"
	"github.com/foxzi/outreach/internal/email"
	"github.com/foxzi/outreach/internal/ledger"
	"github.com/foxzi/outreach/internal/letter"
	"github.com/foxzi/outreach/internal/lettercache"
	"github.com/foxzi/outreach/internal/llm"
	"github.com/foxzi/outreach/internal/metrics"
	"github.com/foxzi/outreach/internal/outbox"
	"github.com/foxzi/outreach/internal/quota"
	"github.com/foxzi/outreach/internal/recipient"
	"github.com/foxzi/outreach/internal/storage"
	"github.com/foxzi/outreach/internal/transport"
)

// App holds the components of one campaign run
type App struct {
	config       *config.Config
	store        *storage.Store
	ledger       *ledger.Ledger
	cache        *lettercache.Cache
	quota        *quota.Quota
	outbox       *outbox.Outbox
	llm          llm.Client
	sender       transport.Sender
	scheduler    *campaign.Scheduler
	metrics      *metrics.Metrics
	statusServer *metrics.Server
	logger       *slog.Logger
}

// Option customizes the application
type Option func(*App)

// WithLogger replaces the logger built from the logging config
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithSender replaces the configured transport
func WithSender(s transport.Sender) Option {
	return func(a *App) { a.sender = s }
}

// WithLLM replaces the configured generative backend
func WithLLM(c llm.Client) Option {
	return func(a *App) { a.llm = c }
}

// New creates the application. Setup failures are fatal for the run.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{config: cfg}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = SetupLogger(cfg.Logging, os.Stdout)
	}
	logger := a.logger

	ready := false
	defer func() {
		if !ready {
			a.close()
		}
	}()

	var err error
	a.store, err = storage.Open(cfg.Storage.Path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}
	db := a.store.DB()

	a.metrics = metrics.New()

	if a.ledger, err = ledger.New(db); err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	if a.cache, err = lettercache.New(db); err != nil {
		return nil, fmt.Errorf("failed to open letter cache: %w", err)
	}

	if a.llm == nil {
		a.llm, err = llm.NewClient(ctx, llm.Config{
			Provider:    llm.Provider(cfg.LLM.Provider),
			Model:       cfg.LLM.Model,
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
			Timeout:     cfg.LLM.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create %s client: %w", cfg.LLM.Provider, err)
		}
	}

	generator, err := letter.New(a.llm, a.cache, letter.Options{
		UseCache:         cfg.CacheEnabled(),
		Scope:            lettercache.Scope(cfg.Cache.Scope),
		Language:         cfg.Generation.Language,
		Tone:             cfg.Generation.Tone,
		Candidate:        cfg.Generation.Candidate,
		Pitch:            cfg.Generation.Pitch,
		SystemTemplate:   cfg.Generation.SystemTemplate,
		UserTemplate:     cfg.Generation.UserTemplate,
		FallbackTemplate: cfg.Generation.FallbackTemplate,
		Pacing:           letter.Pacing{Calls: cfg.Generation.Pacing.Calls, Window: cfg.Generation.Pacing.Window},
		Timeout:          cfg.Generation.Timeout,
		MaxContextChars:  cfg.Generation.MaxContextChars,
	}, logger.With("component", "generator"))
	if err != nil {
		return nil, fmt.Errorf("failed to create letter generator: %w", err)
	}
	generator.SetMetrics(a.metrics)

	if cfg.Crawl.Enabled {
		generator.SetCrawler(crawl.New(crawl.Options{
			MaxDepth:  cfg.Crawl.MaxDepth,
			MaxPages:  cfg.Crawl.MaxPages,
			Delay:     cfg.Crawl.Delay,
			Timeout:   cfg.Crawl.Timeout,
			UserAgent: cfg.Crawl.UserAgent,
		}, logger.With("component", "crawler")))
		logger.Info("website enrichment enabled", "max_pages", cfg.Crawl.MaxPages)
	}

	var attachments []*email.Attachment
	if cfg.Sender.CVPath != "" {
		cv, err := compose.LoadAttachment(cfg.Sender.CVPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load CV: %w", err)
		}
		attachments = append(attachments, cv)
		logger.Info("CV attached", "file", cv.Filename, "type", cv.ContentType, "bytes", len(cv.Content))
	}

	composer, err := compose.New(compose.Options{
		FromEmail:        cfg.Sender.Email,
		FromName:         cfg.Sender.Name,
		ReplyTo:          cfg.Sender.ReplyTo,
		SubjectTemplate:  cfg.Compose.Subject,
		GreetingTemplate: cfg.Compose.Greeting,
		Intros:           cfg.Compose.Intros,
		Signature:        cfg.Sender.Signature,
		HTML:             cfg.Compose.HTML,
		Headers:          cfg.Compose.Headers,
	}, attachments...)
	if err != nil {
		return nil, fmt.Errorf("failed to create composer: %w", err)
	}

	if a.sender == nil && !cfg.Campaign.DryRun {
		if a.sender, err = newSender(cfg, logger); err != nil {
			return nil, err
		}
	}

	deps := campaign.Deps{
		Ledger:    a.ledger,
		Generator: generator,
		Composer:  composer,
		Sender:    a.sender,
		Metrics:   a.metrics,
	}

	if cfg.Quota.Enabled {
		a.quota, err = quota.New(db, cfg.QuotaLimits(), logger.With("component", "quota"))
		if err != nil {
			return nil, fmt.Errorf("failed to create quota: %w", err)
		}
		deps.Quota = a.quota
		logger.Info("send quota enabled")
	}

	if cfg.Campaign.DryRun && cfg.OutboxEnabled() {
		if a.outbox, err = outbox.New(db); err != nil {
			return nil, fmt.Errorf("failed to create outbox: %w", err)
		}
		deps.Outbox = a.outbox
	}

	a.scheduler, err = campaign.New(campaign.Config{
		DryRun:       cfg.Campaign.DryRun,
		Concurrent:   cfg.Campaign.Concurrent,
		Workers:      cfg.Campaign.Workers,
		Delay:        campaign.DelayPolicy{Min: cfg.Campaign.Delay.Min, Max: cfg.Campaign.Delay.Max},
		MatchCompany: cfg.Ledger.MatchCompany,
		SendTimeout:  cfg.Campaign.SendTimeout,
	}, deps, logger.With("component", "campaign"))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	if cfg.Metrics.Enabled {
		a.statusServer = metrics.NewServer(a.metrics, metrics.ServerConfig{
			Addr:       cfg.Metrics.ListenAddr,
			Path:       cfg.Metrics.Path,
			AllowedIPs: cfg.Metrics.AllowedIPs,
		}, a.progress, logger.With("component", "status"))
	}

	ready = true
	return a, nil
}

func newSender(cfg *config.Config, logger *slog.Logger) (transport.Sender, error) {
	switch cfg.Transport.Provider {
	case "resend":
		s, err := transport.NewResend(cfg.Transport.Resend.APIKey, logger.With("component", "resend"))
		if err != nil {
			return nil, fmt.Errorf("failed to create resend transport: %w", err)
		}
		return s, nil
	default:
		s := transport.NewSMTP(transport.SMTPConfig{
			Host:               cfg.Transport.SMTP.Host,
			Port:               cfg.Transport.SMTP.Port,
			Username:           cfg.Transport.SMTP.Username,
			Password:           cfg.Transport.SMTP.Password,
			Security:           transport.Security(cfg.Transport.SMTP.Security),
			HeloName:           cfg.Transport.SMTP.HeloName,
			Timeout:            cfg.Transport.SMTP.Timeout,
			InsecureSkipVerify: cfg.Transport.SMTP.InsecureSkipVerify,
		}, logger.With("component", "smtp"))

		if cfg.DKIM.Enabled {
			signer, err := dkim.NewSignerFromFile(cfg.DKIM.KeyFile, cfg.DKIM.Domain, cfg.DKIM.Selector)
			if err != nil {
				return nil, fmt.Errorf("failed to load DKIM key: %w", err)
			}
			if !signer.Matches(email.ExtractDomain(cfg.Sender.Email)) {
				logger.Warn("DKIM domain does not cover the sender address",
					"dkim_domain", signer.Domain(),
					"sender", cfg.Sender.Email,
				)
			}
			s.SetDKIMSigner(signer)
			logger.Info("DKIM signing enabled", "domain", signer.Domain(), "selector", signer.Selector())
		}
		return s, nil
	}
}

func (a *App) progress() any {
	if sum := a.scheduler.Progress(); sum != nil {
		return sum
	}
	return map[string]string{"status": "idle"}
}

// Run loads the recipients in csvPath and dispatches the campaign. SIGINT
// and SIGTERM stop the run after in-flight sends; the summary is still
// returned.
func (a *App) Run(ctx context.Context, csvPath string) (*campaign.Summary, error) {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	loaded, err := recipient.LoadFile(csvPath, recipient.Options{
		ExcludePatterns: a.config.Recipients.ExcludePatterns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load recipients: %w", err)
	}
	for _, r := range loaded.Rejected {
		a.logger.Warn("recipient rejected", "line", r.Line, "email", r.Email, "reason", r.Reason)
	}
	a.logger.Info("recipients loaded",
		"file", csvPath,
		"valid", len(loaded.Records),
		"rejected", len(loaded.Rejected),
	)

	if a.statusServer != nil {
		go func() {
			if err := a.statusServer.ListenAndServe(); err != nil {
				a.logger.Error("status server error", "error", err)
			}
		}()
	}

	a.updateStorageSize()
	sum, err := a.scheduler.Run(ctx, loaded.Records)
	a.updateStorageSize()

	if sum != nil && sum.Interrupted {
		a.logger.Warn("campaign interrupted", "pending", sum.Pending())
	}
	if err != nil {
		return sum, fmt.Errorf("campaign aborted: %w", err)
	}
	return sum, nil
}

func (a *App) updateStorageSize() {
	if size, err := a.store.Size(); err == nil {
		a.metrics.SetStorageUsed(size)
	}
}

// Shutdown stops the status server, flushes quota counters and closes storage
func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if a.statusServer != nil {
		if err := a.statusServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("status server shutdown error", "error", err)
		}
	}

	a.close()
	a.logger.Debug("shutdown complete")
	return nil
}

func (a *App) close() {
	if a.quota != nil {
		if err := a.quota.Stop(); err != nil {
			a.logger.Error("quota stop error", "error", err)
		}
	}
	if a.llm != nil {
		if err := a.llm.Close(); err != nil {
			a.logger.Error("llm client close error", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("storage close error", "error", err)
		}
	}
}

// SetupLogger creates a logger based on configuration
func SetupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
