package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	GovInfo  GovInfoConfig  `yaml:"govinfo" mapstructure:"govinfo"`
	Ingest   IngestConfig   `yaml:"ingest" mapstructure:"ingest"`
	Classify ClassifyConfig `yaml:"classify" mapstructure:"classify"`
	Lexicon  LexiconConfig  `yaml:"lexicon" mapstructure:"lexicon"`
	Legacy   LegacyConfig   `yaml:"legacy" mapstructure:"legacy"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the canonical speech store.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// GovInfoConfig configures the remote document API and its throttling.
type GovInfoConfig struct {
	APIKey                string  `yaml:"api_key" mapstructure:"api_key"`
	BaseURL               string  `yaml:"base_url" mapstructure:"base_url"`
	Collection            string  `yaml:"collection" mapstructure:"collection"`
	PageSize              int     `yaml:"page_size" mapstructure:"page_size"`
	TimeoutSecs           int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts           int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	RateLimitCooldownSecs int     `yaml:"rate_limit_cooldown_secs" mapstructure:"rate_limit_cooldown_secs"`
	RetryDelayMs          int     `yaml:"retry_delay_ms" mapstructure:"retry_delay_ms"`
	RequestsPerSecond     float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst                 int     `yaml:"burst" mapstructure:"burst"`
}

// Timeout returns the per-request timeout.
func (c GovInfoConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// RateLimitCooldown returns how long to sleep after an HTTP 429.
func (c GovInfoConfig) RateLimitCooldown() time.Duration {
	return time.Duration(c.RateLimitCooldownSecs) * time.Second
}

// RetryDelay returns the pause between ordinary retries.
func (c GovInfoConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// IngestConfig configures the package ingestion orchestrator.
type IngestConfig struct {
	Workers    int    `yaml:"workers" mapstructure:"workers"`
	MinTextLen int    `yaml:"min_text_len" mapstructure:"min_text_len"`
	FailureLog string `yaml:"failure_log" mapstructure:"failure_log"`
}

// ClassifyConfig configures the denoising classifier pipeline.
type ClassifyConfig struct {
	Provider     string   `yaml:"provider" mapstructure:"provider"`
	Model        string   `yaml:"model" mapstructure:"model"`
	Endpoint     string   `yaml:"endpoint" mapstructure:"endpoint"`
	APIKey       string   `yaml:"api_key" mapstructure:"api_key"`
	ChunkSize    int      `yaml:"chunk_size" mapstructure:"chunk_size"`
	BatchSize    int      `yaml:"batch_size" mapstructure:"batch_size"`
	Threshold    float64  `yaml:"threshold" mapstructure:"threshold"`
	PurgeMaxLen  int      `yaml:"purge_max_len" mapstructure:"purge_max_len"`
	TimeoutSecs  int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxAttempts  int      `yaml:"max_attempts" mapstructure:"max_attempts"`
	Keywords     []string `yaml:"keywords" mapstructure:"keywords"`
	RetryBackoff int      `yaml:"retry_backoff_ms" mapstructure:"retry_backoff_ms"`
}

// LexiconConfig points at the filter lexicon document.
type LexiconConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// LegacyConfig configures the legacy session file importer.
type LegacyConfig struct {
	DataDir   string `yaml:"data_dir" mapstructure:"data_dir"`
	FirstSess int    `yaml:"first_session" mapstructure:"first_session"`
	LastSess  int    `yaml:"last_session" mapstructure:"last_session"`
	ChunkSize int    `yaml:"chunk_size" mapstructure:"chunk_size"`
}

// ServerConfig configures the read-only query API.
type ServerConfig struct {
	Port         int `yaml:"port" mapstructure:"port"`
	CacheTTLSecs int `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
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
	v.SetEnvPrefix("CREC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "congress_master.db")
	v.SetDefault("govinfo.api_key", "")
	v.SetDefault("govinfo.base_url", "https://api.govinfo.gov")
	v.SetDefault("govinfo.collection", "CREC")
	v.SetDefault("govinfo.page_size", 100)
	v.SetDefault("govinfo.timeout_secs", 20)
	v.SetDefault("govinfo.max_attempts", 3)
	v.SetDefault("govinfo.rate_limit_cooldown_secs", 2700)
	v.SetDefault("govinfo.retry_delay_ms", 2000)
	v.SetDefault("govinfo.requests_per_second", 5)
	v.SetDefault("govinfo.burst", 5)
	v.SetDefault("ingest.workers", 3)
	v.SetDefault("ingest.min_text_len", 50)
	v.SetDefault("ingest.failure_log", "failures.log")
	v.SetDefault("classify.provider", "zeroshot")
	v.SetDefault("classify.model", "valhalla/distilbart-mnli-12-1")
	v.SetDefault("classify.endpoint", "http://localhost:8000/zero-shot")
	v.SetDefault("classify.api_key", "")
	v.SetDefault("classify.keywords", []string{})
	v.SetDefault("classify.chunk_size", 50000)
	v.SetDefault("classify.batch_size", 1024)
	v.SetDefault("classify.threshold", 0.70)
	v.SetDefault("classify.purge_max_len", 500)
	v.SetDefault("classify.timeout_secs", 300)
	v.SetDefault("classify.max_attempts", 3)
	v.SetDefault("classify.retry_backoff_ms", 1000)
	v.SetDefault("lexicon.path", "filters.json")
	v.SetDefault("legacy.data_dir", "")
	v.SetDefault("legacy.first_session", 43)
	v.SetDefault("legacy.last_session", 114)
	v.SetDefault("legacy.chunk_size", 10000)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cache_ttl_secs", 300)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that the fields required by the given command mode are set.
// Valid modes: "ingest", "classify", "legacy", "serve", "status".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}

	switch mode {
	case "ingest":
		if c.GovInfo.APIKey == "" {
			errs = append(errs, "govinfo.api_key is required (set CREC_GOVINFO_API_KEY)")
		}
		if c.GovInfo.BaseURL == "" {
			errs = append(errs, "govinfo.base_url is required")
		}
		if c.GovInfo.MaxAttempts < 1 {
			errs = append(errs, "govinfo.max_attempts must be >= 1")
		}
		if c.Ingest.Workers < 1 || c.Ingest.Workers > 64 {
			errs = append(errs, "ingest.workers must be between 1 and 64")
		}
	case "classify":
		if c.Classify.Threshold <= 0 || c.Classify.Threshold >= 1 {
			errs = append(errs, "classify.threshold must be between 0 and 1 (exclusive)")
		}
		if c.Classify.ChunkSize < 1 || c.Classify.BatchSize < 1 {
			errs = append(errs, "classify.chunk_size and classify.batch_size must be > 0")
		}
		switch c.Classify.Provider {
		case "zeroshot":
			if c.Classify.Endpoint == "" {
				errs = append(errs, "classify.endpoint is required for the zeroshot provider")
			}
		case "anthropic", "openai":
			if c.Classify.APIKey == "" {
				errs = append(errs, fmt.Sprintf("classify.api_key is required for the %s provider", c.Classify.Provider))
			}
		default:
			errs = append(errs, fmt.Sprintf("classify.provider must be zeroshot, anthropic or openai, got %q", c.Classify.Provider))
		}
	case "legacy":
		if c.Legacy.DataDir == "" {
			errs = append(errs, "legacy.data_dir is required")
		}
		if c.Legacy.FirstSess > c.Legacy.LastSess {
			errs = append(errs, "legacy.first_session must be <= legacy.last_session")
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "status":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
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
