package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Lunyoo/adlibrary-crawler/internal/crawler"
)

// DefaultRevealSteps is how many scrolls are made before the snapshot.
const DefaultRevealSteps = 3

// Pacer waits a randomized interval; *pacing.Pacer satisfies it.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Config controls one unit of extraction.
type Config struct {
	BaseURL     string
	RevealSteps int
	MaxItems    int
}

// UnitReport is what one (term, region) unit produced.
type UnitReport struct {
	Term    string
	Region  string
	Records []crawler.CandidateRecord
	// Items is how many listing handles were enumerated.
	Items int
	// Skipped counts items that could not be read.
	Skipped int
	// Wall is set when the page was an interstitial instead of a listing.
	Wall string
	Dur  time.Duration
}

// Pipeline fetches candidate records for one unit at a time.
type Pipeline struct {
	cfg       Config
	extractor *AdLibraryExtractor
	estimator crawler.Estimator
	landing   crawler.LandingAnalyzer
	pacer     Pacer
	logger    *zap.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithLanding enriches records that carry a destination link.
func WithLanding(a crawler.LandingAnalyzer) Option {
	return func(p *Pipeline) { p.landing = a }
}

// WithPacer sets the delay between reveal actions.
func WithPacer(pacer Pacer) Option {
	return func(p *Pipeline) { p.pacer = pacer }
}

// WithLogger sets the pipeline logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPipeline builds a pipeline. estimator may be nil, in which case
// estimates stay zero.
func NewPipeline(cfg Config, estimator crawler.Estimator, opts ...Option) *Pipeline {
	if cfg.RevealSteps < 0 {
		cfg.RevealSteps = 0
	}
	p := &Pipeline{
		cfg:       cfg,
		extractor: NewAdLibraryExtractor(cfg.MaxItems),
		estimator: estimator,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FetchCandidates runs one unit. An empty listing is not an error. Errors
// are limited to session bootstrap (ErrSessionInit), navigation
// (ErrNavigationTimeout or a wrapped driver error) and ctx cancellation;
// per-item problems only increase Skipped.
func (p *Pipeline) FetchCandidates(ctx context.Context, s crawler.Session, term, region string) (UnitReport, error) {
	report := UnitReport{Term: term, Region: region}
	start := time.Now()

	if err := s.EnsureReady(ctx); err != nil {
		if errors.Is(err, crawler.ErrSessionInit) {
			return report, err
		}
		return report, fmt.Errorf("%w: %w", crawler.ErrSessionInit, err)
	}

	target := SearchURL(p.cfg.BaseURL, term, region)
	if err := s.Navigate(ctx, target); err != nil {
		return report, err
	}

	for step := range p.cfg.RevealSteps {
		if p.pacer != nil {
			if err := p.pacer.Wait(ctx); err != nil {
				return report, err
			}
		}
		if err := s.Reveal(ctx); err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			p.logger.Debug("reveal failed", zap.String("term", term), zap.Int("step", step), zap.Error(err))
			break
		}
	}

	html, err := s.Snapshot(ctx)
	if err != nil {
		return report, err
	}
	items, err := p.extractor.Items(html)
	if err != nil {
		return report, err
	}
	report.Items = len(items)
	if len(items) == 0 {
		report.Wall = DetectWall(html)
		if report.Wall != "" {
			p.logger.Warn("listing blocked",
				zap.String("term", term), zap.String("region", region), zap.String("wall", report.Wall))
		}
		report.Dur = time.Since(start)
		return report, nil
	}

	for i, item := range items {
		out := p.extractor.Extract(item, term, region)
		if out.Kind == OutcomeRecord {
			out = p.enrich(ctx, out)
		}
		switch out.Kind {
		case OutcomeRecord:
			report.Records = append(report.Records, out.Record)
		case OutcomeSkip:
			report.Skipped++
			p.logger.Debug("item skipped", zap.String("term", term), zap.Int("index", i), zap.Error(out.Err))
		case OutcomeFatal:
			return report, out.Err
		}
	}
	report.Dur = time.Since(start)
	return report, nil
}

// enrich attaches estimates and, when configured, the landing summary. A
// canceled ctx turns the item fatal so the unit stops promptly.
func (p *Pipeline) enrich(ctx context.Context, out Outcome) Outcome {
	if err := ctx.Err(); err != nil {
		return fatal(err)
	}
	if p.estimator != nil {
		est := p.estimator.Estimate(out.Record)
		out.Record.EstimatedEngagement = est.Engagement
		out.Record.EstimatedImpressions = est.Impressions
	}
	if p.landing == nil || out.Record.DestinationLink == "" {
		return out
	}
	page, err := p.landing.Analyze(ctx, out.Record.DestinationLink)
	switch {
	case err == nil:
		out.Record.LandingPage = &page
	case ctx.Err() != nil:
		return fatal(ctx.Err())
	default:
		p.logger.Debug("landing analysis failed", zap.String("url", out.Record.DestinationLink), zap.Error(err))
	}
	return out
}
