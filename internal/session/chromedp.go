package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/Lunyoo/adlibrary-crawler/internal/crawler"
	"github.com/Lunyoo/adlibrary-crawler/internal/metrics"
)

// ChromeSession is a crawler.Session backed by one chromedp browser tab.
type ChromeSession struct {
	cfg     Config
	limiter Limiter
	logger  *zap.Logger

	mu          sync.Mutex
	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	closed      bool

	ready atomic.Bool
}

// NewChromeSession creates an unstarted session. The browser is launched by
// the first EnsureReady call.
func NewChromeSession(cfg Config, limiter Limiter, logger *zap.Logger) *ChromeSession {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromeSession{cfg: cfg.withDefaults(), limiter: limiter, logger: logger}
}

// EnsureReady launches the browser once. Concurrent callers wait for the
// same launch.
func (s *ChromeSession) EnsureReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return crawler.ErrSessionClosed
	}
	if s.ready.Load() {
		return nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(s.cfg.UserAgent),
	)
	if s.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(s.cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// The first Run on tabCtx owns the browser's lifetime, so it cannot use
	// a derived deadline; ctx bounds the wait instead.
	launched := make(chan error, 1)
	go func() {
		launched <- chromedp.Run(tabCtx, s.localeAction())
	}()
	var err error
	select {
	case err = <-launched:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		tabCancel()
		allocCancel()
		return fmt.Errorf("%w: launch chrome: %w", crawler.ErrSessionInit, err)
	}

	s.allocCancel, s.tabCtx, s.tabCancel = allocCancel, tabCtx, tabCancel
	s.ready.Store(true)
	s.logger.Info("browser session ready", zap.String("driver", DriverChromedp), zap.Bool("headless", s.cfg.Headless))
	return nil
}

func (s *ChromeSession) localeAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := emulation.SetLocaleOverride().WithLocale(s.cfg.Locale).Do(ctx); err != nil {
			return fmt.Errorf("set locale: %w", err)
		}
		return nil
	})
}

// IsReady reports whether the browser is up.
func (s *ChromeSession) IsReady() bool {
	return s.ready.Load()
}

// Close shuts the browser down. Safe to call repeatedly.
func (s *ChromeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.ready.Store(false)
	if s.tabCancel != nil {
		s.tabCancel()
		s.allocCancel()
	}
	return nil
}

// Navigate loads url, waits for the body, dismisses the cookie banner when
// present and gives client rendering the settle delay.
func (s *ChromeSession) Navigate(ctx context.Context, url string) error {
	tab, err := s.tab()
	if err != nil {
		return err
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, url); err != nil {
			return err
		}
	}

	start := time.Now()
	err = s.run(ctx, tab, s.cfg.NavigationTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		metrics.ObserveNavigation(DriverChromedp, navResult(err))
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	metrics.ObserveNavigation(DriverChromedp, "ok")

	var dismissed bool
	if err := s.run(ctx, tab, s.cfg.ActionTimeout, chromedp.Evaluate(consentScript, &dismissed)); err != nil {
		s.logger.Debug("cookie banner check failed", zap.Error(err))
	} else if dismissed {
		s.logger.Debug("cookie banner dismissed")
	}

	if err := s.run(ctx, tab, s.cfg.SettleDelay+s.cfg.ActionTimeout, chromedp.Sleep(s.cfg.SettleDelay)); err != nil {
		return fmt.Errorf("settle after navigation: %w", err)
	}
	s.logger.Debug("navigation settled", zap.String("url", url), zap.Duration("dur", time.Since(start)))
	return nil
}

// Reveal scrolls to the bottom so the listing loads its next batch.
func (s *ChromeSession) Reveal(ctx context.Context) error {
	tab, err := s.tab()
	if err != nil {
		return err
	}
	if err := s.run(ctx, tab, s.cfg.ActionTimeout, chromedp.Evaluate(revealScript, nil)); err != nil {
		return fmt.Errorf("reveal: %w", err)
	}
	return nil
}

// Snapshot returns the rendered document.
func (s *ChromeSession) Snapshot(ctx context.Context) (string, error) {
	tab, err := s.tab()
	if err != nil {
		return "", err
	}
	var html string
	if err := s.run(ctx, tab, s.cfg.ActionTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}
	return html, nil
}

func (s *ChromeSession) tab() (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, crawler.ErrSessionClosed
	}
	if !s.ready.Load() {
		return nil, fmt.Errorf("%w: session not started", crawler.ErrSessionInit)
	}
	return s.tabCtx, nil
}

// run executes actions on the tab within timeout while honoring ctx.
func (s *ChromeSession) run(ctx, tab context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(tab, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	return classify(ctx, err)
}

// classify maps a driver error onto the crawler taxonomy. A deadline that
// expired while the caller is still waiting is a navigation timeout; caller
// cancellation is passed through untouched.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", crawler.ErrNavigationTimeout, err)
	}
	return err
}

func navResult(err error) string {
	switch {
	case errors.Is(err, crawler.ErrNavigationTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
