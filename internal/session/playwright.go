package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/Lunyoo/adlibrary-crawler/internal/crawler"
	"github.com/Lunyoo/adlibrary-crawler/internal/metrics"
)

// PlaywrightSession is a crawler.Session backed by a playwright Chromium page.
// Playwright calls are not context-aware, so ctx is checked between steps and
// per-call timeouts come from Config.
type PlaywrightSession struct {
	cfg     Config
	limiter Limiter
	logger  *zap.Logger

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
	closed  bool

	ready atomic.Bool
}

// NewPlaywrightSession creates an unstarted session.
func NewPlaywrightSession(cfg Config, limiter Limiter, logger *zap.Logger) *PlaywrightSession {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlaywrightSession{cfg: cfg.withDefaults(), limiter: limiter, logger: logger}
}

// EnsureReady starts playwright, launches Chromium and opens one page.
func (s *PlaywrightSession) EnsureReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return crawler.ErrSessionClosed
	}
	if s.ready.Load() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", crawler.ErrSessionInit, err)
	}

	pw, err := playwright.Run()
	if err != nil {
		return fmt.Errorf("%w: start playwright: %w", crawler.ErrSessionInit, err)
	}
	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(s.cfg.Headless),
		Args:     playwrightArgs(),
	}
	if s.cfg.ExecPath != "" {
		launch.ExecutablePath = playwright.String(s.cfg.ExecPath)
	}
	browser, err := pw.Chromium.Launch(launch)
	if err != nil {
		_ = pw.Stop()
		return fmt.Errorf("%w: launch chromium: %w", crawler.ErrSessionInit, err)
	}
	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(s.cfg.UserAgent),
		Locale:    playwright.String(s.cfg.Locale),
	})
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return fmt.Errorf("%w: new browser context: %w", crawler.ErrSessionInit, err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return fmt.Errorf("%w: new page: %w", crawler.ErrSessionInit, err)
	}
	page.SetDefaultTimeout(float64(s.cfg.ActionTimeout.Milliseconds()))

	s.pw, s.browser, s.page = pw, browser, page
	s.ready.Store(true)
	s.logger.Info("browser session ready", zap.String("driver", DriverPlaywright), zap.Bool("headless", s.cfg.Headless))
	return nil
}

// IsReady reports whether the browser is up.
func (s *PlaywrightSession) IsReady() bool {
	return s.ready.Load()
}

// Close shuts down the browser and the playwright driver.
func (s *PlaywrightSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.ready.Store(false)
	var errs []error
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	}
	if s.pw != nil {
		if err := s.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop playwright: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Navigate loads url until DOMContentLoaded, dismisses the cookie banner and
// waits the settle delay.
func (s *PlaywrightSession) Navigate(ctx context.Context, url string) error {
	page, err := s.current(ctx)
	if err != nil {
		return err
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx, url); err != nil {
			return err
		}
	}

	_, err = page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(s.cfg.NavigationTimeout.Milliseconds())),
	})
	if err != nil {
		err = classifyPlaywright(ctx, err)
		metrics.ObserveNavigation(DriverPlaywright, navResult(err))
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	metrics.ObserveNavigation(DriverPlaywright, "ok")

	if dismissed, err := page.Evaluate(consentScript); err != nil {
		s.logger.Debug("cookie banner check failed", zap.Error(err))
	} else if ok, _ := dismissed.(bool); ok {
		s.logger.Debug("cookie banner dismissed")
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if s.cfg.SettleDelay > 0 {
		page.WaitForTimeout(float64(s.cfg.SettleDelay.Milliseconds()))
	}
	return ctx.Err()
}

// Reveal scrolls to the bottom of the listing.
func (s *PlaywrightSession) Reveal(ctx context.Context) error {
	page, err := s.current(ctx)
	if err != nil {
		return err
	}
	if _, err := page.Evaluate(revealScript); err != nil {
		return fmt.Errorf("reveal: %w", classifyPlaywright(ctx, err))
	}
	return nil
}

// Snapshot returns the page's current markup.
func (s *PlaywrightSession) Snapshot(ctx context.Context) (string, error) {
	page, err := s.current(ctx)
	if err != nil {
		return "", err
	}
	html, err := page.Content()
	if err != nil {
		return "", fmt.Errorf("snapshot: %w", classifyPlaywright(ctx, err))
	}
	return html, nil
}

func (s *PlaywrightSession) current(ctx context.Context) (playwright.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, crawler.ErrSessionClosed
	}
	if !s.ready.Load() {
		return nil, fmt.Errorf("%w: session not started", crawler.ErrSessionInit)
	}
	return s.page, nil
}

func classifyPlaywright(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, playwright.ErrTimeout) || strings.Contains(strings.ToLower(err.Error()), "timeout") {
		return fmt.Errorf("%w: %w", crawler.ErrNavigationTimeout, err)
	}
	return err
}
