package extract

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Lunyoo/adlibrary-crawler/internal/crawler"
	"github.com/Lunyoo/adlibrary-crawler/internal/hash/sha256"
)

type scriptedSession struct {
	readyErr  error
	navErr    error
	revealErr error
	snapErr   error
	html      string

	navigated []string
	reveals   int
}

func (s *scriptedSession) EnsureReady(context.Context) error { return s.readyErr }
func (s *scriptedSession) IsReady() bool                     { return s.readyErr == nil }
func (s *scriptedSession) Close() error                      { return nil }
func (s *scriptedSession) Navigate(_ context.Context, url string) error {
	s.navigated = append(s.navigated, url)
	return s.navErr
}
func (s *scriptedSession) Reveal(context.Context) error {
	s.reveals++
	return s.revealErr
}
func (s *scriptedSession) Snapshot(context.Context) (string, error) { return s.html, s.snapErr }

type countingPacer struct{ waits int }

func (p *countingPacer) Wait(ctx context.Context) error {
	p.waits++
	return ctx.Err()
}

type stubLanding struct {
	calls []string
	err   error
	hook  func()
}

func (l *stubLanding) Analyze(_ context.Context, url string) (crawler.LandingPage, error) {
	l.calls = append(l.calls, url)
	if l.hook != nil {
		l.hook()
	}
	if l.err != nil {
		return crawler.LandingPage{}, l.err
	}
	return crawler.LandingPage{URL: url, Title: "Oferta", HasForm: true}, nil
}

func TestFetchCandidatesHappyPath(t *testing.T) {
	t.Parallel()

	sess := &scriptedSession{html: loadFixture(t)}
	pacer := &countingPacer{}
	landing := &stubLanding{}
	p := NewPipeline(Config{RevealSteps: DefaultRevealSteps}, NewHashEstimator(sha256.New()),
		WithPacer(pacer), WithLanding(landing))

	report, err := p.FetchCandidates(context.Background(), sess, "treino", "BR")
	require.NoError(t, err)

	require.Equal(t, []string{SearchURL("", "treino", "BR")}, sess.navigated)
	require.Equal(t, DefaultRevealSteps, sess.reveals)
	require.Equal(t, DefaultRevealSteps, pacer.waits)
	require.Equal(t, 4, report.Items)
	require.Equal(t, 1, report.Skipped)
	require.Len(t, report.Records, 3)
	require.Empty(t, report.Wall)

	for _, rec := range report.Records {
		require.NotZero(t, rec.EstimatedEngagement)
		require.NotZero(t, rec.EstimatedImpressions)
	}
	require.Equal(t, []string{"https://forte.example/oferta"}, landing.calls)
	require.NotNil(t, report.Records[0].LandingPage)
	require.True(t, report.Records[0].LandingPage.HasForm)
	require.Nil(t, report.Records[1].LandingPage)
}

func TestFetchCandidatesNavigationTimeout(t *testing.T) {
	t.Parallel()

	sess := &scriptedSession{navErr: fmt.Errorf("navigate: %w", crawler.ErrNavigationTimeout)}
	report, err := NewPipeline(Config{RevealSteps: 3}, nil).FetchCandidates(context.Background(), sess, "x", "BR")
	require.ErrorIs(t, err, crawler.ErrNavigationTimeout)
	require.Empty(t, report.Records)
	require.Zero(t, sess.reveals)
}

func TestFetchCandidatesSessionInit(t *testing.T) {
	t.Parallel()

	sess := &scriptedSession{readyErr: errors.New("chrome not found")}
	_, err := NewPipeline(Config{}, nil).FetchCandidates(context.Background(), sess, "x", "BR")
	require.ErrorIs(t, err, crawler.ErrSessionInit)
	require.Empty(t, sess.navigated)

	wrapped := &scriptedSession{readyErr: fmt.Errorf("%w: boom", crawler.ErrSessionInit)}
	_, err = NewPipeline(Config{}, nil).FetchCandidates(context.Background(), wrapped, "x", "BR")
	require.ErrorIs(t, err, crawler.ErrSessionInit)
}

func TestFetchCandidatesEmptyListingIsNotAnError(t *testing.T) {
	t.Parallel()

	sess := &scriptedSession{html: `<html><body><form id="login_form"></form></body></html>`}
	report, err := NewPipeline(Config{}, nil).FetchCandidates(context.Background(), sess, "x", "BR")
	require.NoError(t, err)
	require.Empty(t, report.Records)
	require.Equal(t, WallLogin, report.Wall)
}

func TestFetchCandidatesRevealFailureStillSnapshots(t *testing.T) {
	t.Parallel()

	sess := &scriptedSession{html: loadFixture(t), revealErr: errors.New("evaluate failed")}
	report, err := NewPipeline(Config{RevealSteps: 3}, nil).FetchCandidates(context.Background(), sess, "x", "BR")
	require.NoError(t, err)
	require.Equal(t, 1, sess.reveals)
	require.Len(t, report.Records, 3)
}

func TestFetchCandidatesSnapshotError(t *testing.T) {
	t.Parallel()

	snapErr := errors.New("target closed")
	sess := &scriptedSession{snapErr: snapErr}
	_, err := NewPipeline(Config{}, nil).FetchCandidates(context.Background(), sess, "x", "BR")
	require.ErrorIs(t, err, snapErr)
}

func TestFetchCandidatesLandingFailureIgnored(t *testing.T) {
	t.Parallel()

	sess := &scriptedSession{html: loadFixture(t)}
	landing := &stubLanding{err: errors.New("403")}
	report, err := NewPipeline(Config{}, nil, WithLanding(landing)).FetchCandidates(context.Background(), sess, "x", "BR")
	require.NoError(t, err)
	require.Len(t, report.Records, 3)
	require.Nil(t, report.Records[0].LandingPage)
}

func TestFetchCandidatesCancelStopsItems(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess := &scriptedSession{html: loadFixture(t)}
	landing := &stubLanding{hook: cancel, err: context.Canceled}
	report, err := NewPipeline(Config{}, nil, WithLanding(landing)).FetchCandidates(ctx, sess, "x", "BR")
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, report.Records)
}
