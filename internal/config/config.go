// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Requeue   RequeueConfig   `mapstructure:"requeue"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Poll      PollConfig      `mapstructure:"poll"`
	Parser    ParserConfig    `mapstructure:"parser"`
	Quality   QualityConfig   `mapstructure:"quality"`
	Changes   ChangesConfig   `mapstructure:"changes"`
	Bloom     BloomConfig     `mapstructure:"bloom"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SchedulerConfig governs queue claiming, retries and revisits.
type SchedulerConfig struct {
	BatchSize           int `mapstructure:"batch_size"`
	RevisitIntervalDays int `mapstructure:"revisit_interval_days"`
	MaxRetries          int `mapstructure:"max_retries"`
	RetryBackoffHours   int `mapstructure:"retry_backoff_hours"`
	StaleAfterMinutes   int `mapstructure:"stale_after_minutes"`
	DiscoveredPriority  int `mapstructure:"discovered_priority"`
}

// RequeueConfig controls the periodic requeue of aged listings.
type RequeueConfig struct {
	Priority   int    `mapstructure:"priority"`
	MinQuality int    `mapstructure:"min_quality"`
	Schedule   string `mapstructure:"schedule"`
	RunOnStart bool   `mapstructure:"run_on_start"`
}

// FetchConfig configures the probe fetcher and per-domain politeness.
type FetchConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Concurrency    int    `mapstructure:"concurrency"`
	UserAgent      string `mapstructure:"user_agent"`
	DelaySeconds   int    `mapstructure:"delay_seconds"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	Always          bool `mapstructure:"always"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// PollConfig sets the idle sleep of each worker loop.
type PollConfig struct {
	FetchIdleSeconds    int `mapstructure:"fetch_idle_seconds"`
	ParseIdleSeconds    int `mapstructure:"parse_idle_seconds"`
	ChangesIdleSeconds  int `mapstructure:"changes_idle_seconds"`
	ErrorBackoffSeconds int `mapstructure:"error_backoff_seconds"`
}

// AddressFilterNames names the gazetteer bloom filters used by the address scanner.
type AddressFilterNames struct {
	PostCodes      string `mapstructure:"post_codes"`
	Municipalities string `mapstructure:"municipalities"`
	Streets        string `mapstructure:"streets"`
}

// ParserConfig configures extraction and link discovery.
type ParserConfig struct {
	DefaultMaxDepth      int                `mapstructure:"default_max_depth"`
	AddressFilters       AddressFilterNames `mapstructure:"address_filters"`
	DiscoveredFilter     string             `mapstructure:"discovered_filter"`
	FilterRefreshMinutes int                `mapstructure:"filter_refresh_minutes"`
}

// QualityConfig holds the point weights of the quality score.
type QualityConfig struct {
	Emails      int `mapstructure:"emails"`
	Phones      int `mapstructure:"phones"`
	CompanyName int `mapstructure:"company_name"`
	OrgNum      int `mapstructure:"org_num"`
	SocialMedia int `mapstructure:"social_media"`
	Structured  int `mapstructure:"structured"`
	Addresses   int `mapstructure:"addresses"`
	Max         int `mapstructure:"max"`
}

// ChangesConfig configures change notifications.
type ChangesConfig struct {
	WebhookURL            string `mapstructure:"webhook_url"`
	WebhookTimeoutSeconds int    `mapstructure:"webhook_timeout_seconds"`
}

// BloomConfig sets sizing for lazily created filters.
type BloomConfig struct {
	DefaultCapacity  int     `mapstructure:"default_capacity"`
	DefaultErrorRate float64 `mapstructure:"default_error_rate"`
}

// LocalStorageConfig configures the filesystem archive backend.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// StorageConfig sets the raw HTML archive backend.
type StorageConfig struct {
	Backend     string             `mapstructure:"backend"`
	Bucket      string             `mapstructure:"bucket"`
	Prefix      string             `mapstructure:"prefix"`
	ContentType string             `mapstructure:"content_type"`
	Local       LocalStorageConfig `mapstructure:"local"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int    `mapstructure:"max_conns"`
	MinConns               int    `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	MigrateOnStart         bool   `mapstructure:"migrate_on_start"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Storage backends.
const (
	StorageNone  = "none"
	StorageLocal = "local"
	StorageGCS   = "gcs"
)

// Load builds a Config from a .env file, disk and the environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("scheduler.batch_size", 10)
	v.SetDefault("scheduler.revisit_interval_days", 90)
	v.SetDefault("scheduler.max_retries", 3)
	v.SetDefault("scheduler.retry_backoff_hours", 1)
	v.SetDefault("scheduler.stale_after_minutes", 60)
	v.SetDefault("scheduler.discovered_priority", 5)
	v.SetDefault("requeue.priority", 1)
	v.SetDefault("requeue.min_quality", 50)
	v.SetDefault("requeue.schedule", "@daily")
	v.SetDefault("requeue.run_on_start", true)
	v.SetDefault("fetch.timeout_seconds", 30)
	v.SetDefault("fetch.concurrency", 4)
	v.SetDefault("fetch.user_agent", "listing-crawler/0.1")
	v.SetDefault("fetch.delay_seconds", 2)
	v.SetDefault("fetch.respect_robots", false)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.always", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.promotion_threshold", 60)
	v.SetDefault("poll.fetch_idle_seconds", 60)
	v.SetDefault("poll.parse_idle_seconds", 30)
	v.SetDefault("poll.changes_idle_seconds", 300)
	v.SetDefault("poll.error_backoff_seconds", 60)
	v.SetDefault("parser.default_max_depth", 2)
	v.SetDefault("parser.address_filters.post_codes", "be_address_post_codes")
	v.SetDefault("parser.address_filters.municipalities", "be_address_municipalities")
	v.SetDefault("parser.address_filters.streets", "be_address_streets")
	v.SetDefault("parser.discovered_filter", "")
	v.SetDefault("parser.filter_refresh_minutes", 30)
	v.SetDefault("quality.emails", 20)
	v.SetDefault("quality.phones", 20)
	v.SetDefault("quality.company_name", 15)
	v.SetDefault("quality.org_num", 15)
	v.SetDefault("quality.social_media", 10)
	v.SetDefault("quality.structured", 10)
	v.SetDefault("quality.addresses", 10)
	v.SetDefault("quality.max", 100)
	v.SetDefault("changes.webhook_url", "")
	v.SetDefault("changes.webhook_timeout_seconds", 10)
	v.SetDefault("bloom.default_capacity", 1_000_000)
	v.SetDefault("bloom.default_error_rate", 0.001)
	v.SetDefault("storage.backend", StorageNone)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("storage.local.base_dir", "data")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("db.migrate_on_start", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("scheduler.batch_size must be > 0")
	}
	if c.Scheduler.MaxRetries < 0 {
		return fmt.Errorf("scheduler.max_retries must be >= 0")
	}
	if c.Scheduler.RevisitIntervalDays <= 0 {
		return fmt.Errorf("scheduler.revisit_interval_days must be > 0")
	}
	if c.Scheduler.RetryBackoffHours < 0 {
		return fmt.Errorf("scheduler.retry_backoff_hours must be >= 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.Concurrency <= 0 {
		return fmt.Errorf("fetch.concurrency must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Parser.DefaultMaxDepth < 0 {
		return fmt.Errorf("parser.default_max_depth must be >= 0")
	}
	if c.Quality.Max <= 0 {
		return fmt.Errorf("quality.max must be > 0")
	}
	if c.Bloom.DefaultCapacity <= 0 {
		return fmt.Errorf("bloom.default_capacity must be > 0")
	}
	if c.Bloom.DefaultErrorRate <= 0 || c.Bloom.DefaultErrorRate >= 1 {
		return fmt.Errorf("bloom.default_error_rate must be between 0 and 1")
	}
	switch c.Storage.Backend {
	case StorageNone, "":
	case StorageLocal:
		if c.Storage.Local.BaseDir == "" {
			return fmt.Errorf("storage.local.base_dir must be set for the local backend")
		}
	case StorageGCS:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q must be one of none, local, gcs", c.Storage.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// FetchTimeout returns the per-fetch budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// RevisitInterval returns how long a completed URL waits before its next fetch.
func (c Config) RevisitInterval() time.Duration {
	return time.Duration(c.Scheduler.RevisitIntervalDays) * 24 * time.Hour
}

// RetryBackoff returns the fixed delay before a failed fetch is retried.
func (c Config) RetryBackoff() time.Duration {
	return time.Duration(c.Scheduler.RetryBackoffHours) * time.Hour
}

// StaleAfter returns how long a row may sit in processing before recovery.
func (c Config) StaleAfter() time.Duration {
	return time.Duration(c.Scheduler.StaleAfterMinutes) * time.Minute
}

// FilterRefresh returns how often workers reload gazetteer filters.
func (c Config) FilterRefresh() time.Duration {
	return time.Duration(c.Parser.FilterRefreshMinutes) * time.Minute
}

// WebhookTimeout returns the notification POST budget.
func (c Config) WebhookTimeout() time.Duration {
	return time.Duration(c.Changes.WebhookTimeoutSeconds) * time.Second
}

// PollDuration converts a poll setting in seconds.
func PollDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}
