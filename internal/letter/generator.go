// Package letter produces the personalized letter body for a recipient,
// reusing cached text where the company context has been seen before.
package letter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/foxzi/outreach/internal/crawl"
	"github.com/foxzi/outreach/internal/lettercache"
	"github.com/foxzi/outreach/internal/llm"
	"github.com/foxzi/outreach/internal/metrics"
	"github.com/foxzi/outreach/internal/recipient"
)

// Stage identifies where generation failed
type Stage string

const (
	StagePrompt   Stage = "prompt"
	StagePacing   Stage = "pacing"
	StageBackend  Stage = "backend"
	StageResponse Stage = "response"
)

// Letter sources reported to metrics
const (
	SourceCache    = "cache"
	SourceBackend  = "backend"
	SourceFallback = "fallback"
)

// defaultCompany names the recipient when the input row has no company
const defaultCompany = "votre entreprise"

// ErrEmptyLetter is returned when nothing usable is left after cleanup
var ErrEmptyLetter = errors.New("letter is empty after cleanup")

// GenerationError is returned by Generate when no letter could be produced
type GenerationError struct {
	Stage   Stage
	Company string
	Err     error
}

func (e *GenerationError) Error() string {
	if e.Company != "" {
		return fmt.Sprintf("letter generation failed for %s at %s: %v", e.Company, e.Stage, e.Err)
	}
	return fmt.Sprintf("letter generation failed at %s: %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Cache is the subset of the letter cache used by the generator
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, entry lettercache.Entry) error
}

// Crawler fetches website context for the prompt
type Crawler interface {
	Crawl(ctx context.Context, website string) (*crawl.Profile, error)
}

// Pacing caps backend calls to Calls per Window
type Pacing struct {
	Calls  int
	Window time.Duration
}

// Options configures the generator
type Options struct {
	UseCache bool
	Scope    lettercache.Scope

	Language  string
	Tone      string
	Candidate string
	Pitch     string

	SystemTemplate   string
	UserTemplate     string
	FallbackTemplate string // empty disables the fallback letter

	Pacing          Pacing
	Timeout         time.Duration // per backend call, 0 = none
	MaxContextChars int           // website excerpt length in the prompt
}

func (o *Options) setDefaults() {
	if o.Scope == "" {
		o.Scope = lettercache.ScopeCompany
	}
	if o.Language == "" {
		o.Language = "French"
	}
	if o.Tone == "" {
		o.Tone = "professional but warm"
	}
	if o.Pitch == "" {
		o.Pitch = "an internship application"
	}
	if o.MaxContextChars == 0 {
		o.MaxContextChars = 2000
	}
}

// Generator resolves letter text through the cache and the generative backend
type Generator struct {
	client  llm.Client
	cache   Cache
	crawler Crawler
	opts    Options
	prompts *prompts
	limiter *rate.Limiter
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a generator. cache may be nil when caching is disabled.
func New(client llm.Client, cache Cache, opts Options, logger *slog.Logger) (*Generator, error) {
	opts.setDefaults()

	p, err := parsePrompts(opts)
	if err != nil {
		return nil, err
	}

	g := &Generator{
		client:  client,
		cache:   cache,
		opts:    opts,
		prompts: p,
		logger:  logger,
	}

	if opts.Pacing.Calls > 0 && opts.Pacing.Window > 0 {
		g.limiter = rate.NewLimiter(rate.Every(opts.Pacing.Window/time.Duration(opts.Pacing.Calls)), opts.Pacing.Calls)
	}

	return g, nil
}

// SetCrawler enables website enrichment of prompts
func (g *Generator) SetCrawler(c Crawler) {
	g.crawler = c
}

// SetMetrics attaches metrics
func (g *Generator) SetMetrics(m *metrics.Metrics) {
	g.metrics = m
}

type resolved struct {
	text   string
	source string
}

// Generate returns the letter body for rec. Recipients sharing a context key
// share one backend call while the cache is enabled.
func (g *Generator) Generate(ctx context.Context, rec recipient.Record) (string, error) {
	if !g.opts.UseCache || g.cache == nil {
		res, err := g.generate(ctx, rec, "")
		res, err = g.orFallback(rec, res, err)
		return g.finish(rec, res, err)
	}

	key := lettercache.KeyFor(rec, g.opts.Scope)
	if text, ok := g.lookup(ctx, key); ok {
		return g.finish(rec, resolved{text: text, source: SourceCache}, nil)
	}

	v, err, _ := g.group.Do(key, func() (any, error) {
		// Another caller may have filled the key while this one waited
		if text, ok := g.lookup(ctx, key); ok {
			return resolved{text: text, source: SourceCache}, nil
		}
		return g.generate(ctx, rec, key)
	})
	res, _ := v.(resolved)
	res, err = g.orFallback(rec, res, err)
	return g.finish(rec, res, err)
}

// orFallback swaps a failed generation for the fallback letter. It runs per
// caller so waiters on a shared call get their own company in the letter.
func (g *Generator) orFallback(rec recipient.Record, res resolved, err error) (resolved, error) {
	if err == nil {
		return res, nil
	}
	if fallback, ok := g.fallbackLetter(rec, err); ok {
		return resolved{text: fallback, source: SourceFallback}, nil
	}
	return resolved{}, err
}

func (g *Generator) finish(rec recipient.Record, res resolved, err error) (string, error) {
	if err != nil {
		g.metrics.IncGenerationErrors()
		return "", err
	}
	g.metrics.IncGeneration(res.source)
	return personalize(res.text, rec), nil
}

func (g *Generator) lookup(ctx context.Context, key string) (string, bool) {
	text, ok, err := g.cache.Get(ctx, key)
	if err != nil {
		g.logger.Warn("letter cache read failed, treating as miss", "key", key, "error", err)
		return "", false
	}
	return text, ok
}

// generate calls the backend and, when key is set, stores the cleaned text
func (g *Generator) generate(ctx context.Context, rec recipient.Record, key string) (resolved, error) {
	text, err := g.callBackend(ctx, rec)
	if err != nil {
		return resolved{}, err
	}

	if key != "" {
		entry := lettercache.Entry{
			Key:      key,
			Text:     text,
			Company:  rec.CompanyName,
			City:     rec.City,
			Category: rec.Category,
		}
		if err := g.cache.Put(ctx, entry); err != nil {
			g.logger.Warn("failed to store letter in cache", "key", key, "error", err)
		}
	}

	return resolved{text: text, source: SourceBackend}, nil
}

func (g *Generator) callBackend(ctx context.Context, rec recipient.Record) (string, error) {
	data := g.promptData(ctx, rec)

	system, err := render(g.prompts.system, data)
	if err != nil {
		return "", &GenerationError{Stage: StagePrompt, Company: rec.CompanyName, Err: err}
	}
	user, err := render(g.prompts.user, data)
	if err != nil {
		return "", &GenerationError{Stage: StagePrompt, Company: rec.CompanyName, Err: err}
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", &GenerationError{Stage: StagePacing, Company: rec.CompanyName, Err: err}
		}
	}

	callCtx := ctx
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := g.client.Generate(callCtx, llm.Prompt{System: system, User: user})
	if err != nil {
		stage := StageBackend
		if errors.Is(err, llm.ErrEmptyResponse) {
			stage = StageResponse
		}
		return "", &GenerationError{Stage: stage, Company: rec.CompanyName, Err: err}
	}

	text := Clean(raw)
	if text == "" {
		return "", &GenerationError{Stage: StageResponse, Company: rec.CompanyName, Err: ErrEmptyLetter}
	}

	g.logger.Debug("letter generated",
		"company", rec.CompanyName,
		"backend", g.client.Name(),
		"duration", time.Since(start),
		"chars", len(text),
	)
	return text, nil
}

func (g *Generator) promptData(ctx context.Context, rec recipient.Record) PromptData {
	data := PromptData{
		Company:   rec.CompanyName,
		Category:  rec.Category,
		City:      rec.City,
		Website:   rec.Website,
		Language:  g.opts.Language,
		Tone:      g.opts.Tone,
		Candidate: g.opts.Candidate,
		Pitch:     g.opts.Pitch,
	}

	if g.opts.UseCache && g.opts.Scope == lettercache.ScopeCategory {
		// One letter serves the whole category; company details are filled in later
		data.Company = Placeholder
		data.City = ""
		data.Website = ""
		data.Placeholder = true
		return data
	}

	if data.Company == "" {
		data.Company = defaultCompany
	}

	if g.crawler != nil && rec.Website != "" {
		profile, err := g.crawler.Crawl(ctx, rec.Website)
		if err != nil {
			g.logger.Info("website crawl failed, continuing without it", "website", rec.Website, "error", err)
		} else {
			data.Context = profile.Excerpt(g.opts.MaxContextChars)
		}
	}

	return data
}

func (g *Generator) fallbackLetter(rec recipient.Record, cause error) (string, bool) {
	if g.prompts.fallback == nil || ctxDone(cause) {
		return "", false
	}

	company := rec.CompanyName
	if company == "" {
		company = defaultCompany
	}
	text, err := render(g.prompts.fallback, PromptData{
		Company:   company,
		Category:  rec.Category,
		City:      rec.City,
		Website:   rec.Website,
		Language:  g.opts.Language,
		Tone:      g.opts.Tone,
		Candidate: g.opts.Candidate,
		Pitch:     g.opts.Pitch,
	})
	if err != nil || strings.TrimSpace(text) == "" {
		g.logger.Error("failed to render fallback letter", "error", err)
		return "", false
	}

	g.logger.Warn("using fallback letter", "company", rec.CompanyName, "error", cause)
	return strings.TrimSpace(text), true
}

func ctxDone(err error) bool {
	return errors.Is(err, context.Canceled)
}

// personalize fills the company placeholder of category-scoped letters
func personalize(text string, rec recipient.Record) string {
	if !strings.Contains(text, Placeholder) {
		return text
	}
	company := rec.CompanyName
	if company == "" {
		company = defaultCompany
	}
	return strings.ReplaceAll(text, Placeholder, company)
}
