// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Lunyoo/adlibrary-crawler/internal/scoring"
)

// EnvPrefix namespaces environment overrides, e.g. ADCRAWLER_SERVER_PORT.
const EnvPrefix = "ADCRAWLER"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig        `mapstructure:"server"`
	Logging      LoggingConfig       `mapstructure:"logging"`
	Session      SessionConfig       `mapstructure:"session"`
	Extraction   ExtractionConfig    `mapstructure:"extraction"`
	Scoring      ScoringConfig       `mapstructure:"scoring"`
	Orchestrator OrchestratorConfig  `mapstructure:"orchestrator"`
	Niches       map[string][]string `mapstructure:"niches"`
	Landing      LandingConfig       `mapstructure:"landing"`
	Archive      ArchiveConfig       `mapstructure:"archive"`
	Publisher    PublisherConfig     `mapstructure:"publisher"`
	ML           MLConfig            `mapstructure:"ml"`
	Metrics      MetricsConfig       `mapstructure:"metrics"`
	Tracing      TracingConfig       `mapstructure:"tracing"`
	Progress     ProgressConfig      `mapstructure:"progress"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	APIKey       string        `mapstructure:"api_key"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// SyncTimeout bounds how long a synchronous job request waits before
	// answering with the run id instead.
	SyncTimeout time.Duration `mapstructure:"sync_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SessionConfig configures the browsing session pool.
type SessionConfig struct {
	Driver                string        `mapstructure:"driver"`
	Headless              bool          `mapstructure:"headless"`
	PoolSize              int           `mapstructure:"pool_size"`
	NavigationTimeout     time.Duration `mapstructure:"navigation_timeout"`
	SettleDelay           time.Duration `mapstructure:"settle_delay"`
	UserAgent             string        `mapstructure:"user_agent"`
	Locale                string        `mapstructure:"locale"`
	ExecPath              string        `mapstructure:"exec_path"`
	MinNavigationInterval time.Duration `mapstructure:"min_navigation_interval"`
	ActionTimeout         time.Duration `mapstructure:"action_timeout"`
}

// ExtractionConfig governs one (term, region) unit.
type ExtractionConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	RevealSteps   int           `mapstructure:"reveal_steps"`
	MinDelay      time.Duration `mapstructure:"min_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	MaxCandidates int           `mapstructure:"max_candidates"`
	DefaultRegion string        `mapstructure:"default_region"`
}

// ScoringConfig sets ranking thresholds and vocabulary overrides.
type ScoringConfig struct {
	MinScore       float64  `mapstructure:"min_score"`
	DefaultLimit   int      `mapstructure:"default_limit"`
	HighConversion []string `mapstructure:"high_conversion"`
	CallsToAction  []string `mapstructure:"calls_to_action"`
}

// Vocabulary merges overrides onto the built-in word lists.
func (s ScoringConfig) Vocabulary() scoring.Vocabulary {
	vocab := scoring.DefaultVocabulary()
	if len(s.HighConversion) > 0 {
		vocab.HighConversion = s.HighConversion
	}
	if len(s.CallsToAction) > 0 {
		vocab.CallsToAction = s.CallsToAction
	}
	return vocab
}

// OrchestratorConfig sizes async execution and inter-unit pacing.
type OrchestratorConfig struct {
	Workers      int           `mapstructure:"workers"`
	QueueDepth   int           `mapstructure:"queue_depth"`
	MinUnitDelay time.Duration `mapstructure:"min_unit_delay"`
	MaxUnitDelay time.Duration `mapstructure:"max_unit_delay"`
}

// LandingConfig toggles destination-page analysis.
type LandingConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RespectRobots bool          `mapstructure:"respect_robots"`
}

// ArchiveConfig lists durable result backends.
type ArchiveConfig struct {
	Backends []string       `mapstructure:"backends"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Blob     BlobConfig     `mapstructure:"blob"`
}

// PostgresConfig locates the relational archive.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// MongoConfig locates the document archive.
type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// RedisConfig locates the result cache.
type RedisConfig struct {
	Addr string        `mapstructure:"addr"`
	TTL  time.Duration `mapstructure:"ttl"`
}

// BlobConfig picks the blob store used for result exports.
type BlobConfig struct {
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// PublisherConfig selects where completion events go.
type PublisherConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MLConfig locates the prediction service.
type MLConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// TracingConfig controls the tracer provider.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// ProgressConfig sizes the progress hub.
type ProgressConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// Load builds a Config from disk/environment. With an empty path the
// working directory, /etc/adcrawler and $HOME/.adcrawler are searched for
// adcrawler.yaml; a missing file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("adcrawler")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/adcrawler/")
		v.AddConfigPath("$HOME/.adcrawler")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Minute)
	v.SetDefault("server.sync_timeout", 10*time.Minute)
	v.SetDefault("logging.development", false)
	v.SetDefault("session.driver", "chromedp")
	v.SetDefault("session.headless", true)
	v.SetDefault("session.pool_size", 1)
	v.SetDefault("session.navigation_timeout", 45*time.Second)
	v.SetDefault("session.settle_delay", 3*time.Second)
	v.SetDefault("session.locale", "pt-BR")
	v.SetDefault("session.min_navigation_interval", 2*time.Second)
	v.SetDefault("session.action_timeout", 15*time.Second)
	v.SetDefault("extraction.base_url", "https://www.facebook.com/ads/library/")
	v.SetDefault("extraction.reveal_steps", 3)
	v.SetDefault("extraction.min_delay", 1*time.Second)
	v.SetDefault("extraction.max_delay", 3*time.Second)
	v.SetDefault("extraction.max_candidates", 30)
	v.SetDefault("extraction.default_region", "BR")
	v.SetDefault("scoring.min_score", 0.45)
	v.SetDefault("scoring.default_limit", 50)
	v.SetDefault("orchestrator.workers", 1)
	v.SetDefault("orchestrator.queue_depth", 64)
	v.SetDefault("orchestrator.min_unit_delay", 2*time.Second)
	v.SetDefault("orchestrator.max_unit_delay", 5*time.Second)
	v.SetDefault("landing.enabled", false)
	v.SetDefault("landing.timeout", 15*time.Second)
	v.SetDefault("landing.respect_robots", true)
	v.SetDefault("archive.backends", []string{})
	v.SetDefault("archive.mongo.database", "adcrawler")
	v.SetDefault("archive.mongo.collection", "results")
	v.SetDefault("archive.redis.ttl", 24*time.Hour)
	v.SetDefault("archive.blob.backend", "local")
	v.SetDefault("archive.blob.base_dir", "data/results")
	v.SetDefault("archive.blob.prefix", "results")
	v.SetDefault("publisher.backend", "none")
	v.SetDefault("publisher.topic", "adcrawler-runs")
	v.SetDefault("ml.timeout", 30*time.Second)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "adcrawler")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch_size", 256)
	v.SetDefault("progress.flush_interval", 500*time.Millisecond)
}

var (
	drivers          = []string{"chromedp", "playwright"}
	archiveBackends  = []string{"postgres", "mongo", "redis", "blob"}
	blobBackends     = []string{"memory", "local", "gcs"}
	publisherBackend = []string{"none", "memory", "pubsub"}
)

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if !slices.Contains(drivers, c.Session.Driver) {
		return fmt.Errorf("session.driver must be one of %v", drivers)
	}
	if c.Session.PoolSize <= 0 {
		return fmt.Errorf("session.pool_size must be > 0")
	}
	if c.Session.NavigationTimeout <= 0 {
		return fmt.Errorf("session.navigation_timeout must be > 0")
	}
	if c.Extraction.MinDelay < 0 || c.Extraction.MaxDelay < c.Extraction.MinDelay {
		return fmt.Errorf("extraction.min_delay/max_delay must satisfy 0 <= min <= max")
	}
	if c.Extraction.MaxCandidates <= 0 {
		return fmt.Errorf("extraction.max_candidates must be > 0")
	}
	if c.Scoring.MinScore < 0 || c.Scoring.MinScore > 1 {
		return fmt.Errorf("scoring.min_score must be within [0, 1]")
	}
	if c.Scoring.DefaultLimit <= 0 {
		return fmt.Errorf("scoring.default_limit must be > 0")
	}
	if c.Orchestrator.Workers <= 0 {
		return fmt.Errorf("orchestrator.workers must be > 0")
	}
	if c.Orchestrator.MinUnitDelay < 0 || c.Orchestrator.MaxUnitDelay < c.Orchestrator.MinUnitDelay {
		return fmt.Errorf("orchestrator.min_unit_delay/max_unit_delay must satisfy 0 <= min <= max")
	}
	if err := c.Archive.validate(); err != nil {
		return err
	}
	if !slices.Contains(publisherBackend, c.Publisher.Backend) {
		return fmt.Errorf("publisher.backend must be one of %v", publisherBackend)
	}
	if c.Publisher.Backend == "pubsub" && (c.Publisher.ProjectID == "" || c.Publisher.Topic == "") {
		return fmt.Errorf("publisher.project_id and publisher.topic must be set for pubsub")
	}
	return nil
}

func (a ArchiveConfig) validate() error {
	for _, b := range a.Backends {
		if !slices.Contains(archiveBackends, b) {
			return fmt.Errorf("archive.backends: unknown backend %q", b)
		}
	}
	if a.Enabled("postgres") && a.Postgres.DSN == "" {
		return fmt.Errorf("archive.postgres.dsn must be set when postgres is enabled")
	}
	if a.Enabled("mongo") && a.Mongo.URI == "" {
		return fmt.Errorf("archive.mongo.uri must be set when mongo is enabled")
	}
	if a.Enabled("redis") && a.Redis.Addr == "" {
		return fmt.Errorf("archive.redis.addr must be set when redis is enabled")
	}
	if a.Enabled("blob") {
		if !slices.Contains(blobBackends, a.Blob.Backend) {
			return fmt.Errorf("archive.blob.backend must be one of %v", blobBackends)
		}
		if a.Blob.Backend == "gcs" && a.Blob.Bucket == "" {
			return fmt.Errorf("archive.blob.bucket must be set for gcs")
		}
	}
	return nil
}

// Enabled reports whether backend is listed.
func (a ArchiveConfig) Enabled(backend string) bool {
	return slices.Contains(a.Backends, backend)
}

// NicheTerms returns the configured keywords for niche, falling back to the
// niche itself with its two stock variations.
func (c Config) NicheTerms(niche string) []string {
	niche = strings.TrimSpace(niche)
	if terms, ok := c.Niches[strings.ToLower(niche)]; ok && len(terms) > 0 {
		return terms
	}
	return AnalysisTerms(niche)
}

// AnalysisTerms builds the search terms used to analyze a niche.
func AnalysisTerms(niche string) []string {
	return []string{niche, niche + " curso", "como " + niche}
}
