package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Lunyoo/adlibrary-crawler/internal/app"
	"github.com/Lunyoo/adlibrary-crawler/internal/config"
	"github.com/Lunyoo/adlibrary-crawler/internal/crawler"
)

type fixtureSession struct{ html string }

func (s *fixtureSession) EnsureReady(context.Context) error        { return nil }
func (s *fixtureSession) IsReady() bool                            { return true }
func (s *fixtureSession) Close() error                             { return nil }
func (s *fixtureSession) Navigate(context.Context, string) error   { return nil }
func (s *fixtureSession) Reveal(context.Context) error             { return nil }
func (s *fixtureSession) Snapshot(context.Context) (string, error) { return s.html, nil }

const testConfigYAML = `
extraction:
  reveal_steps: 1
  min_delay: 0s
  max_delay: 0s
orchestrator:
  min_unit_delay: 0s
  max_unit_delay: 0s
scoring:
  min_score: 0
metrics:
  enabled: false
`

func withFixtureApp(t *testing.T) string {
	t.Helper()
	html, err := os.ReadFile("../../internal/extract/testdata/listing.html")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "adcrawler.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfigYAML), 0o600))

	orig := newApp
	newApp = func(ctx context.Context, cfg config.Config, _ *zap.Logger) (*app.App, error) {
		return app.New(ctx, cfg, zap.NewNop(),
			app.WithRegisterer(prometheus.NewRegistry()),
			app.WithSessionFactory(func() crawler.Session { return &fixtureSession{html: string(html)} }))
	}
	t.Cleanup(func() { newApp = orig })
	return path
}

func TestScrapePrintsResultSet(t *testing.T) {
	cfgPath := withFixtureApp(t)

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"scrape", "--config", cfgPath, "--term", "treino", "--label", "Fitness", "--limit", "2"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	var rs crawler.ResultSet
	require.NoError(t, json.Unmarshal(out.Bytes(), &rs))
	assert.Equal(t, "Fitness", rs.Label)
	assert.NotEmpty(t, rs.RunID)
	assert.LessOrEqual(t, len(rs.Records), 2)
	assert.NotEmpty(t, rs.Records)
}

func TestScrapeRequiresTerm(t *testing.T) {
	cfgPath := withFixtureApp(t)

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"scrape", "--config", cfgPath})
	require.Error(t, cmd.ExecuteContext(context.Background()))
}

func TestInvalidConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adcrawler.yaml")
	require.NoError(t, os.WriteFile(path, []byte("session:\n  driver: lynx\n"), 0o600))

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"scrape", "--config", path, "--term", "x"})
	require.ErrorContains(t, cmd.ExecuteContext(context.Background()), "session.driver")
}
