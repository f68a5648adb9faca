// Package landing summarizes the destination pages that ads link to.
package landing

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/Lunyoo/adlibrary-crawler/internal/crawler"
	"github.com/Lunyoo/adlibrary-crawler/internal/metrics"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

const defaultTimeout = 15 * time.Second

// Analyzer implements crawler.LandingAnalyzer using a Colly collector.
// Results are cached per URL for the analyzer's lifetime since one run often
// sees the same landing page behind many creatives.
type Analyzer struct {
	cfg       Config
	transport http.RoundTripper
	base      *colly.Collector
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[string]crawler.LandingPage
}

type collectorHooks interface {
	OnHTML(string, colly.HTMLCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds an Analyzer.
func New(cfg Config, logger *zap.Logger) *Analyzer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	return &Analyzer{
		cfg:       cfg,
		transport: newHTTPTransport(),
		base:      c,
		logger:    logger,
		cache:     make(map[string]crawler.LandingPage),
	}
}

// Analyze fetches url and reports its title, meta description, form and
// video presence plus link and image counts.
func (a *Analyzer) Analyze(ctx context.Context, url string) (crawler.LandingPage, error) {
	if page, ok := a.cached(url); ok {
		return page, nil
	}

	page := crawler.LandingPage{URL: url}
	var (
		status   int
		fetchErr error
	)
	collector := a.buildCollector()
	a.configureHooks(collector, &page, &status, &fetchErr)

	if err := a.run(ctx, collector, url, &fetchErr); err != nil {
		if ctx.Err() != nil {
			// The visit goroutine may still be running, so status is off limits.
			metrics.ObserveLandingFetch(url, 0)
			return crawler.LandingPage{}, err
		}
		metrics.ObserveLandingFetch(url, status)
		return crawler.LandingPage{}, err
	}
	metrics.ObserveLandingFetch(url, status)

	a.mu.Lock()
	a.cache[url] = page
	a.mu.Unlock()
	return page, nil
}

func (a *Analyzer) cached(url string) (crawler.LandingPage, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	page, ok := a.cache[url]
	return page, ok
}

func (a *Analyzer) buildCollector() *colly.Collector {
	collector := a.base.Clone()
	if a.cfg.UserAgent != "" {
		collector.UserAgent = a.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !a.cfg.RespectRobots
	collector.SetRequestTimeout(a.cfg.Timeout)
	if a.cfg.RespectRobots {
		collector.WithTransport(&robotsAwareTransport{base: a.transport, logger: a.logger})
	} else {
		collector.WithTransport(a.transport)
	}
	return collector
}

func (a *Analyzer) configureHooks(hooks collectorHooks, page *crawler.LandingPage, status *int, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*status = r.StatusCode
		page.URL = r.Request.URL.String()
	})
	hooks.OnHTML("head > title", func(e *colly.HTMLElement) {
		if page.Title == "" {
			page.Title = strings.TrimSpace(e.Text)
		}
	})
	hooks.OnHTML(`meta[name="description"], meta[property="og:description"]`, func(e *colly.HTMLElement) {
		if page.MetaDescription == "" {
			page.MetaDescription = strings.TrimSpace(e.Attr("content"))
		}
	})
	hooks.OnHTML("form", func(*colly.HTMLElement) {
		page.HasForm = true
	})
	hooks.OnHTML(`video, iframe[src*="youtube"], iframe[src*="vimeo"]`, func(*colly.HTMLElement) {
		page.HasVideo = true
	})
	hooks.OnHTML("a[href]", func(*colly.HTMLElement) {
		page.LinkCount++
	})
	hooks.OnHTML("img", func(*colly.HTMLElement) {
		page.ImageCount++
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			*status = r.StatusCode
		}
		*fetchErr = err
	})
}

func (a *Analyzer) run(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	collector.Context = ctx
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("landing fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("landing visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("landing response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
