package session

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Lunyoo/adlibrary-crawler/internal/crawler"
)

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{SettleDelay: -1}.withDefaults()
	require.Equal(t, DefaultNavigationTimeout, cfg.NavigationTimeout)
	require.Zero(t, cfg.SettleDelay)
	require.Equal(t, DefaultActionTimeout, cfg.ActionTimeout)
	require.Equal(t, DefaultUserAgent, cfg.UserAgent)
	require.Equal(t, "pt-BR", cfg.Locale)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	live := context.Background()
	require.NoError(t, classify(live, nil))

	err := classify(live, fmt.Errorf("wait ready: %w", context.DeadlineExceeded))
	require.ErrorIs(t, err, crawler.ErrNavigationTimeout)
	require.Equal(t, "timeout", navResult(err))

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	err = classify(canceled, context.DeadlineExceeded)
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, crawler.ErrNavigationTimeout)
	require.Equal(t, "canceled", navResult(err))

	other := errors.New("net::ERR_NAME_NOT_RESOLVED")
	require.ErrorIs(t, classify(live, other), other)
	require.Equal(t, "error", navResult(other))
}

func TestClassifyPlaywright(t *testing.T) {
	t.Parallel()

	err := classifyPlaywright(context.Background(), errors.New("Timeout 45000ms exceeded."))
	require.ErrorIs(t, err, crawler.ErrNavigationTimeout)

	other := errors.New("net::ERR_CONNECTION_RESET")
	require.ErrorIs(t, classifyPlaywright(context.Background(), other), other)
}

// The session types must refuse work before launch and after Close without
// touching a browser.
func TestSessionsRequireLaunch(t *testing.T) {
	t.Parallel()

	for name, s := range map[string]crawler.Session{
		"chromedp":   NewChromeSession(Config{}, nil, nil),
		"playwright": NewPlaywrightSession(Config{}, nil, nil),
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.False(t, s.IsReady())
			require.ErrorIs(t, s.Navigate(ctx, "https://example.com"), crawler.ErrSessionInit)
			require.ErrorIs(t, s.Reveal(ctx), crawler.ErrSessionInit)
			_, err := s.Snapshot(ctx)
			require.ErrorIs(t, err, crawler.ErrSessionInit)

			require.NoError(t, s.Close())
			require.NoError(t, s.Close())
			require.ErrorIs(t, s.EnsureReady(ctx), crawler.ErrSessionClosed)
			require.ErrorIs(t, s.Navigate(ctx, "https://example.com"), crawler.ErrSessionClosed)
			require.False(t, s.IsReady())
		})
	}
}

func TestPlaywrightEnsureReadyHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewPlaywrightSession(Config{}, nil, nil).EnsureReady(ctx)
	require.ErrorIs(t, err, crawler.ErrSessionInit)
	require.ErrorIs(t, err, context.Canceled)
}
