// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Progress store backends.
const (
	BackendFile     = "file"
	BackendGCS      = "gcs"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Result sink backends.
const (
	SinkCSV      = "csv"
	SinkJSONL    = "jsonl"
	SinkGCS      = "gcs"
	SinkPostgres = "postgres"
	SinkPubSub   = "pubsub"
	SinkMemory   = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Retry      RetryConfig      `mapstructure:"retry"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Scrape     ScrapeConfig     `mapstructure:"scrape"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Sources    SourcesConfig    `mapstructure:"sources"`
	Firecrawl  FirecrawlConfig  `mapstructure:"firecrawl"`
	OpenRouter OpenRouterConfig `mapstructure:"openrouter"`
	Progress   ProgressConfig   `mapstructure:"progress"`
	Output     OutputConfig     `mapstructure:"output"`
	DB         DBConfig         `mapstructure:"db"`
	GCS        GCSConfig        `mapstructure:"gcs"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	QueueDepth      int           `mapstructure:"queue_depth"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig selects the zap encoder. "pretty" uses the development config.
type LoggingConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

// Development reports whether the pretty console encoder was requested.
func (l LoggingConfig) Development() bool {
	return strings.EqualFold(l.Format, "pretty")
}

// PipelineConfig governs the batch coordinator and item state machine.
type PipelineConfig struct {
	ScrapeConcurrency      int           `mapstructure:"scrape_concurrency"`
	ItemConcurrency        int           `mapstructure:"item_concurrency"`
	MaxSuppliers           int           `mapstructure:"max_suppliers"`
	BatchDelay             time.Duration `mapstructure:"batch_delay"`
	MaxPersistenceFailures int           `mapstructure:"max_persistence_failures"`
	CallTimeout            time.Duration `mapstructure:"call_timeout"`
	Enrich                 bool          `mapstructure:"enrich"`
	Draft                  bool          `mapstructure:"draft"`
}

// Workers returns the item concurrency, defaulting to scrape concurrency + 1.
func (p PipelineConfig) Workers() int {
	if p.ItemConcurrency > 0 {
		return p.ItemConcurrency
	}
	return p.ScrapeConcurrency + 1
}

// RetryConfig configures backoff for connector and enricher calls.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// RateLimitConfig configures the enrichment limiter and per-host scrape pacing.
type RateLimitConfig struct {
	EnrichBudget   int           `mapstructure:"enrich_budget"`
	EnrichWindow   time.Duration `mapstructure:"enrich_window"`
	EnrichInterval time.Duration `mapstructure:"enrich_interval"`
	ScrapeRPS      float64       `mapstructure:"scrape_rps"`
	ScrapeBurst    int           `mapstructure:"scrape_burst"`
}

// ScrapeConfig configures the HTTP clients used by connectors.
type ScrapeConfig struct {
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// HeadlessConfig configures the chromedp renderer used for consent banners.
type HeadlessConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
}

// SourcesConfig toggles and points each connector.
type SourcesConfig struct {
	DIBBS      SourceConfig `mapstructure:"dibbs"`
	WBParts    SourceConfig `mapstructure:"wbparts"`
	SAMGov     SourceConfig `mapstructure:"samgov"`
	CanadaBuys SourceConfig `mapstructure:"canadabuys"`
	Alberta    SourceConfig `mapstructure:"alberta"`
}

// SourceConfig is the per-connector configuration.
type SourceConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BaseURL  string `mapstructure:"base_url"`
	APIKey   string `mapstructure:"api_key"`
	PageSize int    `mapstructure:"page_size"`
	DaysBack int    `mapstructure:"days_back"`
}

// FirecrawlConfig configures the contact enricher.
type FirecrawlConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// OpenRouterConfig configures the optional email drafter.
type OpenRouterConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ProgressConfig selects where BatchProgress lives.
type ProgressConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	RunKey  string `mapstructure:"run_key"`
}

// OutputConfig selects result sinks.
type OutputConfig struct {
	Dir      string   `mapstructure:"dir"`
	Name     string   `mapstructure:"name"`
	Backends []string `mapstructure:"backends"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
}

// GCSConfig names the bucket for gcs backends.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for result notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// TelemetryConfig configures tracing resources.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	Version     string `mapstructure:"version"`
	Tracing     bool   `mapstructure:"tracing"`
}

// EnrichmentEnabled reports whether contacts should be discovered.
func (c Config) EnrichmentEnabled() bool {
	return c.Pipeline.Enrich && c.Firecrawl.APIKey != ""
}

// DraftingEnabled reports whether outreach emails should be drafted.
func (c Config) DraftingEnabled() bool {
	return c.Pipeline.Draft && c.OpenRouter.APIKey != ""
}

// Load builds a Config from an optional .env file, an optional config file and
// the environment. Environment variables use the NSN_ prefix, e.g.
// NSN_FIRECRAWL_API_KEY.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("NSN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
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
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.queue_depth", 16)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.level", "info")
	v.SetDefault("pipeline.scrape_concurrency", 3)
	v.SetDefault("pipeline.item_concurrency", 0)
	v.SetDefault("pipeline.max_suppliers", 0)
	v.SetDefault("pipeline.batch_delay", "500ms")
	v.SetDefault("pipeline.max_persistence_failures", 3)
	v.SetDefault("pipeline.call_timeout", "90s")
	v.SetDefault("pipeline.enrich", true)
	v.SetDefault("pipeline.draft", false)
	v.SetDefault("retry.max_attempts", 2)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "10s")
	v.SetDefault("ratelimit.enrich_budget", 20)
	v.SetDefault("ratelimit.enrich_window", "60s")
	v.SetDefault("ratelimit.enrich_interval", "1s")
	v.SetDefault("ratelimit.scrape_rps", 1.0)
	v.SetDefault("ratelimit.scrape_burst", 2)
	v.SetDefault("scrape.user_agent",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("scrape.timeout", "30s")
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout", "25s")
	v.SetDefault("sources.dibbs.enabled", true)
	v.SetDefault("sources.dibbs.base_url", "https://www.dibbs.bsm.dla.mil/rfq/rfqnsn.aspx")
	v.SetDefault("sources.wbparts.enabled", true)
	v.SetDefault("sources.wbparts.base_url", "https://www.wbparts.com/rfq")
	v.SetDefault("sources.samgov.enabled", true)
	v.SetDefault("sources.samgov.base_url", "https://api.sam.gov/opportunities/v2/search")
	v.SetDefault("sources.samgov.api_key", "")
	v.SetDefault("sources.samgov.page_size", 25)
	v.SetDefault("sources.samgov.days_back", 365)
	v.SetDefault("sources.canadabuys.enabled", true)
	v.SetDefault("sources.canadabuys.base_url",
		"https://canadabuys.canada.ca/opendata/pub/openTenderNotice-ouvertAvisAppelOffres.csv")
	v.SetDefault("sources.alberta.enabled", true)
	v.SetDefault("sources.alberta.base_url", "https://purchasing.alberta.ca")
	v.SetDefault("sources.alberta.page_size", 100)
	v.SetDefault("sources.alberta.days_back", 365)
	v.SetDefault("firecrawl.api_key", "")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v2")
	v.SetDefault("firecrawl.timeout", "30s")
	v.SetDefault("openrouter.api_key", "")
	v.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("openrouter.model", "google/gemini-2.5-flash-lite")
	v.SetDefault("openrouter.timeout", "30s")
	v.SetDefault("progress.backend", BackendFile)
	v.SetDefault("progress.path", "output/progress.json")
	v.SetDefault("progress.run_key", "default")
	v.SetDefault("output.dir", "output")
	v.SetDefault("output.name", "results")
	v.SetDefault("output.backends", []string{SinkCSV, SinkJSONL})
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("gcs.bucket", "")
	v.SetDefault("gcs.prefix", "nsn-sourcing")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("telemetry.service_name", "nsn-sourcing")
	v.SetDefault("telemetry.version", "dev")
	v.SetDefault("telemetry.tracing", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pipeline.ScrapeConcurrency <= 0 {
		return fmt.Errorf("pipeline.scrape_concurrency must be > 0")
	}
	if c.Pipeline.ItemConcurrency < 0 {
		return fmt.Errorf("pipeline.item_concurrency must be >= 0")
	}
	if c.Pipeline.MaxSuppliers < 0 {
		return fmt.Errorf("pipeline.max_suppliers must be >= 0")
	}
	if c.Pipeline.MaxPersistenceFailures <= 0 {
		return fmt.Errorf("pipeline.max_persistence_failures must be > 0")
	}
	if c.Pipeline.CallTimeout <= 0 {
		return fmt.Errorf("pipeline.call_timeout must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.RateLimit.EnrichBudget <= 0 {
		return fmt.Errorf("ratelimit.enrich_budget must be > 0")
	}
	if c.RateLimit.EnrichWindow <= 0 {
		return fmt.Errorf("ratelimit.enrich_window must be > 0")
	}
	if c.Scrape.Timeout <= 0 {
		return fmt.Errorf("scrape.timeout must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Firecrawl.APIKey != "" && !strings.HasPrefix(c.Firecrawl.APIKey, "fc-") {
		return fmt.Errorf("firecrawl.api_key must start with fc-")
	}
	switch c.Progress.Backend {
	case BackendFile, BackendMemory:
	case BackendGCS:
		if c.GCS.Bucket == "" {
			return fmt.Errorf("gcs.bucket must be set for the gcs progress backend")
		}
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn must be set for the postgres progress backend")
		}
	default:
		return fmt.Errorf("progress.backend %q is not supported", c.Progress.Backend)
	}
	for _, b := range c.Output.Backends {
		switch b {
		case SinkCSV, SinkJSONL, SinkMemory:
		case SinkGCS:
			if c.GCS.Bucket == "" {
				return fmt.Errorf("gcs.bucket must be set for the gcs output backend")
			}
		case SinkPostgres:
			if c.DB.DSN == "" {
				return fmt.Errorf("db.dsn must be set for the postgres output backend")
			}
		case SinkPubSub:
			if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" {
				return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set for the pubsub output backend")
			}
		default:
			return fmt.Errorf("output backend %q is not supported", b)
		}
	}
	if c.Output.Name == "" {
		return fmt.Errorf("output.name must be set")
	}
	return nil
}
