package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Sources    []SourceConfig   `yaml:"sources" mapstructure:"sources"`
	Resilience ResilienceConfig `yaml:"resilience" mapstructure:"resilience"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// ScoringConfig configures matching and confidence aggregation.
type ScoringConfig struct {
	Threshold      int                `yaml:"threshold" mapstructure:"threshold"`
	DefaultTrust   float64            `yaml:"default_trust" mapstructure:"default_trust"`
	NameSimilarity float64            `yaml:"name_similarity" mapstructure:"name_similarity"`
	FieldWeights   map[string]float64 `yaml:"field_weights" mapstructure:"field_weights"`
	TaxonomyPath   string             `yaml:"taxonomy_path" mapstructure:"taxonomy_path"`
}

// SourceConfig describes one external verification source.
type SourceConfig struct {
	Name        string  `yaml:"name" mapstructure:"name"`
	Kind        string  `yaml:"kind" mapstructure:"kind"`
	URL         string  `yaml:"url" mapstructure:"url"`
	Trust       float64 `yaml:"trust" mapstructure:"trust"`
	FixturePath string  `yaml:"fixture_path" mapstructure:"fixture_path"`
	TimeoutMs   int     `yaml:"timeout_ms" mapstructure:"timeout_ms"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// Source kinds.
const (
	SourceKindNPPES   = "nppes"
	SourceKindFixture = "fixture"
)

// ResilienceConfig configures retries and circuit breakers for sources.
type ResilienceConfig struct {
	MaxAttempts         int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs    int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs        int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	CircuitFailures     int `yaml:"circuit_failures" mapstructure:"circuit_failures"`
	CircuitCooldownSecs int `yaml:"circuit_cooldown_secs" mapstructure:"circuit_cooldown_secs"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	MaxConcurrentProviders int `yaml:"max_concurrent_providers" mapstructure:"max_concurrent_providers"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures background health checks and alerting.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MaxReviewBacklog     int     `yaml:"max_review_backlog" mapstructure:"max_review_backlog"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VERIFY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "verify.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("scoring.threshold", 80)
	v.SetDefault("scoring.default_trust", 0.5)
	v.SetDefault("scoring.name_similarity", 0.8)
	v.SetDefault("scoring.field_weights", map[string]float64{
		"name":      0.40,
		"specialty": 0.25,
		"phone":     0.20,
		"address":   0.15,
	})
	v.SetDefault("sources", []map[string]any{{
		"name":       "NPI Registry",
		"kind":       SourceKindNPPES,
		"url":        "https://npiregistry.cms.hhs.gov/api/",
		"trust":      1.0,
		"timeout_ms": 10000,
		"rate_limit": 5,
	}})
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_backoff_ms", 200)
	v.SetDefault("resilience.max_backoff_ms", 5000)
	v.SetDefault("resilience.circuit_failures", 5)
	v.SetDefault("resilience.circuit_cooldown_secs", 30)
	v.SetDefault("batch.max_concurrent_providers", 8)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.max_review_backlog", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes are
// "verify", "review", "serve" and "migrate".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}

	switch mode {
	case "migrate", "review":
	case "verify":
		errs = append(errs, c.validatePipeline()...)
	case "serve":
		errs = append(errs, c.validatePipeline()...)
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
			errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validatePipeline() []string {
	var errs []string
	if c.Scoring.Threshold < 0 || c.Scoring.Threshold > 100 {
		errs = append(errs, "scoring.threshold must be between 0 and 100")
	}
	if c.Scoring.NameSimilarity < 0 || c.Scoring.NameSimilarity > 1 {
		errs = append(errs, "scoring.name_similarity must be between 0 and 1")
	}
	for field, w := range c.Scoring.FieldWeights {
		if w < 0 {
			errs = append(errs, fmt.Sprintf("scoring.field_weights.%s must be >= 0", field))
		}
	}
	if c.Batch.MaxConcurrentProviders < 1 || c.Batch.MaxConcurrentProviders > 100 {
		errs = append(errs, "batch.max_concurrent_providers must be between 1 and 100")
	}
	if len(c.Sources) == 0 {
		errs = append(errs, "at least one source is required")
	}
	seen := map[string]bool{}
	for i, s := range c.Sources {
		if s.Name == "" {
			errs = append(errs, fmt.Sprintf("sources[%d].name is required", i))
		} else if seen[s.Name] {
			errs = append(errs, fmt.Sprintf("sources[%d].name %q is duplicated", i, s.Name))
		}
		seen[s.Name] = true
		switch s.Kind {
		case SourceKindNPPES:
		case SourceKindFixture:
			if s.FixturePath == "" {
				errs = append(errs, fmt.Sprintf("sources[%d].fixture_path is required", i))
			}
		default:
			errs = append(errs, fmt.Sprintf("sources[%d].kind %q must be nppes or fixture", i, s.Kind))
		}
		if s.Trust < 0 {
			errs = append(errs, fmt.Sprintf("sources[%d].trust must be >= 0", i))
		}
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
