// Package config loads and validates notifier configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Sweep     SweepConfig     `mapstructure:"sweep"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Snapshots SnapshotsConfig `mapstructure:"snapshots"`
	Events    EventsConfig    `mapstructure:"events"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig guards the admin API's mutating routes.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DatabaseConfig controls access to Postgres. An empty DSN selects the
// in-memory repository.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// SyncConfig holds the caching policy.
type SyncConfig struct {
	ReviewAgeLimitHours int `mapstructure:"review_age_limit_hours"`
}

// SweepConfig schedules and paces sweeps.
type SweepConfig struct {
	Schedule     string        `mapstructure:"schedule"`
	RunOnStartup bool          `mapstructure:"run_on_startup"`
	UserInterval time.Duration `mapstructure:"user_interval"`
	Lock         LockConfig    `mapstructure:"lock"`
}

// LockConfig selects the sweep lock. An empty RedisAddr keeps the lock in process.
type LockConfig struct {
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	Key           string        `mapstructure:"key"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// BrowserConfig configures the headless browser and page extraction.
type BrowserConfig struct {
	ExecPath          string `mapstructure:"exec_path"`
	Headless          bool   `mapstructure:"headless"`
	NoSandbox         bool   `mapstructure:"no_sandbox"`
	UserAgent         string `mapstructure:"user_agent"`
	Lang              string `mapstructure:"lang"`
	MaxBrowsers       int    `mapstructure:"max_browsers"`
	StepTimeoutMs     int    `mapstructure:"step_timeout_ms"`
	PollIntervalMs    int    `mapstructure:"poll_interval_ms"`
	TransitionPauseMs int    `mapstructure:"transition_pause_ms"`
	ProfileTimeoutMs  int    `mapstructure:"profile_timeout_ms"`
}

// NotifyConfig configures the messaging API and message composition.
type NotifyConfig struct {
	DiscordToken    string        `mapstructure:"discord_token"`
	APIBaseURL      string        `mapstructure:"api_base_url"`
	StarText        string        `mapstructure:"star_text"`
	EndpointName    string        `mapstructure:"endpoint_name"`
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	Retries         int           `mapstructure:"retries"`
}

// SnapshotsConfig selects where failure screenshots are written.
type SnapshotsConfig struct {
	Backend string              `mapstructure:"backend"`
	Local   LocalSnapshotConfig `mapstructure:"local"`
	Bucket  string              `mapstructure:"bucket"`
	Prefix  string              `mapstructure:"prefix"`
}

// LocalSnapshotConfig holds filesystem snapshot settings.
type LocalSnapshotConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// EventsConfig holds the Pub/Sub destination of review events. An empty topic
// selects the in-memory publisher.
type EventsConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// TracingConfig tunes OpenTelemetry tracing.
type TracingConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NOTIFIER")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.migrate", true)
	v.SetDefault("sync.review_age_limit_hours", 24)
	v.SetDefault("sweep.schedule", "@every 6h")
	v.SetDefault("sweep.run_on_startup", true)
	v.SetDefault("sweep.user_interval", 10*time.Second)
	v.SetDefault("sweep.lock.redis_addr", "")
	v.SetDefault("sweep.lock.redis_password", "")
	v.SetDefault("sweep.lock.redis_db", 0)
	v.SetDefault("sweep.lock.key", "review-notifier:sweep")
	v.SetDefault("sweep.lock.ttl", 2*time.Hour)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.no_sandbox", true)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("browser.lang", "en-US")
	v.SetDefault("browser.max_browsers", 1)
	v.SetDefault("browser.step_timeout_ms", 10000)
	v.SetDefault("browser.poll_interval_ms", 100)
	v.SetDefault("browser.transition_pause_ms", 1000)
	v.SetDefault("browser.profile_timeout_ms", 15000)
	v.SetDefault("notify.discord_token", "")
	v.SetDefault("notify.api_base_url", "https://discord.com/api/v10")
	v.SetDefault("notify.star_text", "⭐")
	v.SetDefault("notify.endpoint_name", "Google Maps Reviews")
	v.SetDefault("notify.delivery_timeout", 30*time.Second)
	v.SetDefault("notify.request_timeout", 10*time.Second)
	v.SetDefault("notify.retries", 2)
	v.SetDefault("snapshots.backend", "none")
	v.SetDefault("snapshots.local.base_dir", "")
	v.SetDefault("snapshots.bucket", "")
	v.SetDefault("snapshots.prefix", "snapshots")
	v.SetDefault("events.project_id", "")
	v.SetDefault("events.topic_name", "")
	v.SetDefault("tracing.service_name", "review-notifier")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	if c.Sync.ReviewAgeLimitHours <= 0 {
		return errors.New("sync.review_age_limit_hours must be > 0")
	}
	if strings.TrimSpace(c.Sweep.Schedule) == "" {
		return errors.New("sweep.schedule must be set")
	}
	if c.Sweep.UserInterval < 0 {
		return errors.New("sweep.user_interval must be >= 0")
	}
	if c.Sweep.Lock.TTL <= 0 {
		return errors.New("sweep.lock.ttl must be > 0")
	}
	if c.Browser.MaxBrowsers < 0 {
		return errors.New("browser.max_browsers must be >= 0")
	}
	if c.Browser.StepTimeoutMs <= 0 || c.Browser.PollIntervalMs <= 0 || c.Browser.ProfileTimeoutMs <= 0 {
		return errors.New("browser.step_timeout_ms, browser.poll_interval_ms and browser.profile_timeout_ms must be > 0")
	}
	if c.Browser.TransitionPauseMs < 0 {
		return errors.New("browser.transition_pause_ms must be >= 0")
	}
	if c.Notify.DeliveryTimeout <= 0 {
		return errors.New("notify.delivery_timeout must be > 0")
	}
	switch c.Snapshots.Backend {
	case "none", "memory":
	case "local":
		if c.Snapshots.Local.BaseDir == "" {
			return errors.New("snapshots.local.base_dir must be set for the local backend")
		}
	case "gcs":
		if c.Snapshots.Bucket == "" {
			return errors.New("snapshots.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("snapshots.backend %q is not one of none, memory, local, gcs", c.Snapshots.Backend)
	}
	if c.Events.TopicName != "" && c.Events.ProjectID == "" {
		return errors.New("events.project_id must be set when events.topic_name is set")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return errors.New("tracing.sample_ratio must be within [0, 1]")
	}
	return nil
}

// ReviewAgeLimit is how long a cached review is trusted.
func (c Config) ReviewAgeLimit() time.Duration {
	return time.Duration(c.Sync.ReviewAgeLimitHours) * time.Hour
}

// StepTimeout bounds each wait of the page extractors.
func (c BrowserConfig) StepTimeout() time.Duration {
	return time.Duration(c.StepTimeoutMs) * time.Millisecond
}

// PollInterval is the polling period of the page extractors.
func (c BrowserConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// TransitionPause is the settle time after page transitions.
func (c BrowserConfig) TransitionPause() time.Duration {
	return time.Duration(c.TransitionPauseMs) * time.Millisecond
}

// ProfileTimeout bounds the profile heading wait.
func (c BrowserConfig) ProfileTimeout() time.Duration {
	return time.Duration(c.ProfileTimeoutMs) * time.Millisecond
}
