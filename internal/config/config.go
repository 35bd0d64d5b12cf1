// Package config loads and validates sentinel configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Source kinds accepted by source.kind.
const (
	SourceMemory = "memory"
	SourceBoard  = "board"
)

// Evidence store kinds accepted by evidence.kind.
const (
	EvidenceMemory = "memory"
	EvidenceLocal  = "local"
	EvidenceGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Source     SourceConfig     `mapstructure:"source"`
	Scorer     ScorerConfig     `mapstructure:"scorer"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Scan       ScanConfig       `mapstructure:"scan"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Evidence   EvidenceConfig   `mapstructure:"evidence"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SourceConfig selects and configures the item source.
type SourceConfig struct {
	Kind           string `mapstructure:"kind"`
	BaseURL        string `mapstructure:"base_url"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	FetchMedia     bool   `mapstructure:"fetch_media"`
	Seed           int64  `mapstructure:"seed"`
}

// ScorerConfig points at an optional lexicon override file.
type ScorerConfig struct {
	LexiconPath string `mapstructure:"lexicon_path"`
}

// ClassifierConfig configures the optional Ollama classifier stages.
type ClassifierConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	TextModel        string `mapstructure:"text_model"`
	VisionModel      string `mapstructure:"vision_model"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	BreakerThreshold int    `mapstructure:"breaker_threshold"`
}

// Enabled reports whether any classifier stage can be wired at all.
func (c ClassifierConfig) Enabled() bool { return c.BaseURL != "" }

// ScanConfig governs job execution behavior.
type ScanConfig struct {
	MinFetchIntervalMs   int    `mapstructure:"min_fetch_interval_ms"`
	MaxRetries           int    `mapstructure:"max_retries"`
	BackoffInitialMs     int    `mapstructure:"backoff_initial_ms"`
	RetentionMinutes     int    `mapstructure:"retention_minutes"`
	SweepIntervalSeconds int    `mapstructure:"sweep_interval_seconds"`
	EvidencePrefix       string `mapstructure:"evidence_prefix"`
}

// DBConfig controls access to the archive database. An empty DSN disables
// the postgres archive and falls back to the in-memory store.
type DBConfig struct {
	DSN                string `mapstructure:"dsn"`
	MaxConns           int32  `mapstructure:"max_conns"`
	MinConns           int32  `mapstructure:"min_conns"`
	ConnLifetimeMinute int    `mapstructure:"conn_lifetime_minutes"`
}

// PubSubConfig holds metadata for high-risk alert publishing.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// EvidenceConfig selects the evidence blob store.
type EvidenceConfig struct {
	Kind      string `mapstructure:"kind"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	BaseDir   string `mapstructure:"base_dir"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SENTINEL")
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
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("logging.development", true)
	v.SetDefault("source.kind", SourceMemory)
	v.SetDefault("source.user_agent", "sentinel/1.0")
	v.SetDefault("source.timeout_seconds", 15)
	v.SetDefault("source.fetch_media", true)
	v.SetDefault("classifier.text_model", "llama3")
	v.SetDefault("classifier.vision_model", "llava")
	v.SetDefault("classifier.timeout_seconds", 30)
	v.SetDefault("classifier.breaker_threshold", 3)
	v.SetDefault("scan.min_fetch_interval_ms", 1000)
	v.SetDefault("scan.max_retries", 3)
	v.SetDefault("scan.backoff_initial_ms", 250)
	v.SetDefault("scan.retention_minutes", 60)
	v.SetDefault("scan.sweep_interval_seconds", 60)
	v.SetDefault("scan.evidence_prefix", "evidence")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("evidence.kind", EvidenceMemory)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Source.Kind {
	case SourceMemory:
	case SourceBoard:
		if c.Source.BaseURL == "" {
			return fmt.Errorf("source.base_url must be set for the board source")
		}
	default:
		return fmt.Errorf("source.kind must be %q or %q", SourceMemory, SourceBoard)
	}
	if c.Source.TimeoutSeconds <= 0 {
		return fmt.Errorf("source.timeout_seconds must be > 0")
	}
	if c.Classifier.Enabled() && c.Classifier.TimeoutSeconds <= 0 {
		return fmt.Errorf("classifier.timeout_seconds must be > 0")
	}
	if c.Scan.MinFetchIntervalMs < 0 {
		return fmt.Errorf("scan.min_fetch_interval_ms must be >= 0")
	}
	if c.Scan.RetentionMinutes <= 0 {
		return fmt.Errorf("scan.retention_minutes must be > 0")
	}
	switch c.Evidence.Kind {
	case EvidenceMemory:
	case EvidenceLocal:
		if c.Evidence.BaseDir == "" {
			return fmt.Errorf("evidence.base_dir must be set for the local evidence store")
		}
	case EvidenceGCS:
		if c.Evidence.GCSBucket == "" {
			return fmt.Errorf("evidence.gcs_bucket must be set for the gcs evidence store")
		}
	default:
		return fmt.Errorf("evidence.kind must be %q, %q, or %q", EvidenceMemory, EvidenceLocal, EvidenceGCS)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// SourceTimeout returns the source HTTP timeout as a duration.
func (c Config) SourceTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutSeconds) * time.Second
}

// ClassifierTimeout returns the per-call classifier timeout as a duration.
func (c Config) ClassifierTimeout() time.Duration {
	return time.Duration(c.Classifier.TimeoutSeconds) * time.Second
}

// MinFetchInterval returns the per-source pacing interval as a duration.
func (c Config) MinFetchInterval() time.Duration {
	return time.Duration(c.Scan.MinFetchIntervalMs) * time.Millisecond
}

// BackoffInitial returns the base retry backoff as a duration.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.Scan.BackoffInitialMs) * time.Millisecond
}

// Retention returns how long terminal jobs stay visible.
func (c Config) Retention() time.Duration {
	return time.Duration(c.Scan.RetentionMinutes) * time.Minute
}

// SweepInterval returns the sweeper tick as a duration.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Scan.SweepIntervalSeconds) * time.Second
}

// ConnLifetime returns the archive pool connection lifetime as a duration.
func (c Config) ConnLifetime() time.Duration {
	return time.Duration(c.DB.ConnLifetimeMinute) * time.Minute
}
