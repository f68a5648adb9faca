package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "chromedp", cfg.Session.Driver)
	assert.True(t, cfg.Session.Headless)
	assert.Equal(t, 1, cfg.Session.PoolSize)
	assert.Equal(t, 45*time.Second, cfg.Session.NavigationTimeout)
	assert.Equal(t, 30, cfg.Extraction.MaxCandidates)
	assert.Equal(t, "BR", cfg.Extraction.DefaultRegion)
	assert.InDelta(t, 0.45, cfg.Scoring.MinScore, 1e-9)
	assert.Equal(t, 50, cfg.Scoring.DefaultLimit)
	assert.Equal(t, "none", cfg.Publisher.Backend)
	assert.Empty(t, cfg.Archive.Backends)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "adcrawler.yaml")
	configYAML := `
server:
  port: 9090
  api_key: secret
  sync_timeout: 2m
session:
  driver: playwright
  headless: false
  pool_size: 2
  navigation_timeout: 30s
extraction:
  min_delay: 500ms
  max_delay: 1500ms
  default_region: PT
scoring:
  min_score: 0.6
  default_limit: 20
  high_conversion: ["promo", "bonus"]
orchestrator:
  workers: 2
niches:
  Fitness: ["treino em casa", "emagrecer rapido"]
archive:
  backends: ["postgres", "blob"]
  postgres:
    dsn: postgres://localhost/adcrawler
  blob:
    backend: memory
publisher:
  backend: pubsub
  project_id: demo
  topic: runs
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Server.APIKey)
	assert.Equal(t, 2*time.Minute, cfg.Server.SyncTimeout)
	assert.Equal(t, "playwright", cfg.Session.Driver)
	assert.False(t, cfg.Session.Headless)
	assert.Equal(t, 2, cfg.Session.PoolSize)
	assert.Equal(t, 30*time.Second, cfg.Session.NavigationTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Extraction.MinDelay)
	assert.Equal(t, 1500*time.Millisecond, cfg.Extraction.MaxDelay)
	assert.Equal(t, "PT", cfg.Extraction.DefaultRegion)
	assert.InDelta(t, 0.6, cfg.Scoring.MinScore, 1e-9)
	assert.True(t, cfg.Archive.Enabled("postgres"))
	assert.False(t, cfg.Archive.Enabled("mongo"))
	assert.Equal(t, "memory", cfg.Archive.Blob.Backend)
	assert.Equal(t, "runs", cfg.Publisher.Topic)

	vocab := cfg.Scoring.Vocabulary()
	assert.Equal(t, []string{"promo", "bonus"}, vocab.HighConversion)
	assert.NotEmpty(t, vocab.CallsToAction)

	assert.Equal(t, []string{"treino em casa", "emagrecer rapido"}, cfg.NicheTerms("Fitness"))
	assert.Equal(t, []string{"ingles", "ingles curso", "como ingles"}, cfg.NicheTerms("ingles"))
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ADCRAWLER_SERVER_PORT", "7070")
	t.Setenv("ADCRAWLER_SESSION_HEADLESS", "false")
	t.Setenv("ADCRAWLER_SCORING_MIN_SCORE", "0.3")
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.False(t, cfg.Session.Headless)
	assert.InDelta(t, 0.3, cfg.Scoring.MinScore, 1e-9)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:       ServerConfig{Port: 8080},
		Session:      SessionConfig{Driver: "chromedp", PoolSize: 1, NavigationTimeout: time.Second},
		Extraction:   ExtractionConfig{MinDelay: time.Second, MaxDelay: 2 * time.Second, MaxCandidates: 30},
		Scoring:      ScoringConfig{MinScore: 0.45, DefaultLimit: 50},
		Orchestrator: OrchestratorConfig{Workers: 1},
		Publisher:    PublisherConfig{Backend: "none"},
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "unknown driver", mutate: func(c *Config) { c.Session.Driver = "rod" }, want: "session.driver"},
		{name: "empty pool", mutate: func(c *Config) { c.Session.PoolSize = 0 }, want: "session.pool_size"},
		{name: "zero nav timeout", mutate: func(c *Config) { c.Session.NavigationTimeout = 0 }, want: "session.navigation_timeout"},
		{name: "inverted delays", mutate: func(c *Config) { c.Extraction.MaxDelay = 0 }, want: "extraction.min_delay"},
		{name: "score above one", mutate: func(c *Config) { c.Scoring.MinScore = 1.5 }, want: "scoring.min_score"},
		{name: "zero limit", mutate: func(c *Config) { c.Scoring.DefaultLimit = 0 }, want: "scoring.default_limit"},
		{name: "no workers", mutate: func(c *Config) { c.Orchestrator.Workers = 0 }, want: "orchestrator.workers"},
		{name: "unknown archive", mutate: func(c *Config) { c.Archive.Backends = []string{"s3"} }, want: "archive.backends"},
		{
			name:   "postgres without dsn",
			mutate: func(c *Config) { c.Archive.Backends = []string{"postgres"} },
			want:   "archive.postgres.dsn",
		},
		{
			name: "gcs without bucket",
			mutate: func(c *Config) {
				c.Archive.Backends = []string{"blob"}
				c.Archive.Blob.Backend = "gcs"
			},
			want: "archive.blob.bucket",
		},
		{
			name:   "pubsub without project",
			mutate: func(c *Config) { c.Publisher.Backend = "pubsub" },
			want:   "publisher.project_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
