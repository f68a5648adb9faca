package session

import (
	"context"
	"time"
)

// Driver names.
const (
	DriverChromedp   = "chromedp"
	DriverPlaywright = "playwright"
)

// Defaults mirror what the Ad Library tolerates for an anonymous visitor.
const (
	DefaultNavigationTimeout = 45 * time.Second
	DefaultSettleDelay       = 3 * time.Second
	DefaultActionTimeout     = 15 * time.Second
	DefaultUserAgent         = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36"
	DefaultLocale = "pt-BR"
)

// consentButton is the cookie banner's accept control.
const consentButton = `[data-cookiebanner="accept_button"]`
const (
	revealScript  = `window.scrollTo(0, document.body.scrollHeight)`
	consentScript = `(() => {
	const btn = document.querySelector('` + consentButton + `');
	if (!btn) { return false; }
	btn.click();
	return true;
})()`
)

// Config controls how a browser session is launched and how long page loads
// may take.
type Config struct {
	Headless          bool
	NavigationTimeout time.Duration
	// SettleDelay is waited after the document is ready so client-side
	// rendering can populate results.
	SettleDelay   time.Duration
	ActionTimeout time.Duration
	UserAgent     string
	Locale        string
	// ExecPath overrides the browser binary.
	ExecPath string
}

// Limiter spaces out navigations; *ratelimit.Limiter satisfies it.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

func (c Config) withDefaults() Config {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = DefaultNavigationTimeout
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = DefaultActionTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Locale == "" {
		c.Locale = DefaultLocale
	}
	return c
}

// playwrightArgs are the Chromium flags passed through playwright.
func playwrightArgs() []string {
	return []string{
		"--no-sandbox",
		"--disable-setuid-sandbox",
		"--disable-dev-shm-usage",
		"--disable-blink-features=AutomationControlled",
	}
}
