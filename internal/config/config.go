// Package config loads application configuration from config.yaml and the
// LEADGEN_* environment, and owns the global logger setup.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Cascade   CascadeConfig   `yaml:"cascade" mapstructure:"cascade"`
	Run       RunConfig       `yaml:"run" mapstructure:"run"`
	Scoring   ScoringConfig   `yaml:"scoring" mapstructure:"scoring"`
	Quality   QualityConfig   `yaml:"quality" mapstructure:"quality"`
	Places    ProviderConfig  `yaml:"places" mapstructure:"places"`
	Directory ProviderConfig  `yaml:"directory" mapstructure:"directory"`
	Serp      ProviderConfig  `yaml:"serp" mapstructure:"serp"`
	Webscan   ProviderConfig  `yaml:"webscan" mapstructure:"webscan"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int               `yaml:"port" mapstructure:"port"`
	APIKeys        map[string]string `yaml:"api_keys" mapstructure:"api_keys"`
	AllowedOrigins []string          `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// CascadeConfig configures the source cascade.
type CascadeConfig struct {
	ConnectorConcurrency int `yaml:"connector_concurrency" mapstructure:"connector_concurrency"`
	PerCallTimeoutSecs   int `yaml:"per_call_timeout_secs" mapstructure:"per_call_timeout_secs"`
	CorroborationPasses  int `yaml:"corroboration_passes" mapstructure:"corroboration_passes"`
	EnrichTimeoutSecs    int `yaml:"enrich_timeout_secs" mapstructure:"enrich_timeout_secs"`
}

// RunConfig configures run execution.
type RunConfig struct {
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`
}

// ScoringConfig holds the quality score component weights.
type ScoringConfig struct {
	Completeness          float64 `yaml:"completeness" mapstructure:"completeness"`
	Validation            float64 `yaml:"validation" mapstructure:"validation"`
	Corroboration         float64 `yaml:"corroboration" mapstructure:"corroboration"`
	QueryMatch            float64 `yaml:"query_match" mapstructure:"query_match"`
	CorroborationHalfStep float64 `yaml:"corroboration_half_step" mapstructure:"corroboration_half_step"`
}

// QualityConfig holds tier policy overrides and mailbox probe identity.
type QualityConfig struct {
	PolicyFile string `yaml:"policy_file" mapstructure:"policy_file"`

	// SMTPHelloDomain and SMTPProbeFrom identify this service to mail
	// exchangers during premium mailbox probes.
	SMTPHelloDomain string `yaml:"smtp_hello_domain" mapstructure:"smtp_hello_domain"`
	SMTPProbeFrom   string `yaml:"smtp_probe_from" mapstructure:"smtp_probe_from"`
}

// ProviderConfig holds one provider's API settings.
type ProviderConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "leadgen.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("cascade.connector_concurrency", 3)
	v.SetDefault("cascade.per_call_timeout_secs", 30)
	v.SetDefault("cascade.corroboration_passes", 1)
	v.SetDefault("cascade.enrich_timeout_secs", 20)
	v.SetDefault("run.batch_size", 10)
	v.SetDefault("scoring.completeness", 0.35)
	v.SetDefault("scoring.validation", 0.30)
	v.SetDefault("scoring.corroboration", 0.20)
	v.SetDefault("scoring.query_match", 0.15)
	v.SetDefault("scoring.corroboration_half_step", 1.0)
	v.SetDefault("quality.smtp_hello_domain", "leadgen.local")
	v.SetDefault("quality.smtp_probe_from", "verify@leadgen.local")
	v.SetDefault("places.rate_limit", 10)
	v.SetDefault("directory.rate_limit", 5)
	v.SetDefault("serp.rate_limit", 2)
	v.SetDefault("webscan.rate_limit", 5)

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

// Validate checks the fields the given mode depends on. Modes: "serve" needs
// the full API surface, "search" only the pipeline, "store" only persistence.
func (c *Config) Validate(mode string) error {
	var problems []string

	checkStore := func() {
		switch c.Store.Driver {
		case "sqlite":
			if c.Store.SQLitePath == "" {
				problems = append(problems, "store.sqlite_path is required")
			}
		case "postgres":
			if c.Store.DatabaseURL == "" {
				problems = append(problems, "store.database_url is required")
			}
		default:
			problems = append(problems, "store.driver must be sqlite or postgres")
		}
	}

	checkPipeline := func() {
		if c.Cascade.ConnectorConcurrency < 1 || c.Cascade.ConnectorConcurrency > 10 {
			problems = append(problems, "cascade.connector_concurrency must be between 1 and 10")
		}
		if c.Run.BatchSize < 1 {
			problems = append(problems, "run.batch_size must be >= 1")
		}
		w := c.Scoring
		if w.Completeness < 0 || w.Validation < 0 || w.Corroboration < 0 || w.QueryMatch < 0 {
			problems = append(problems, "scoring weights must be >= 0")
		}
		if w.Completeness+w.Validation+w.Corroboration+w.QueryMatch <= 0 {
			problems = append(problems, "scoring weights must not all be zero")
		}
	}

	switch mode {
	case "serve":
		checkStore()
		checkPipeline()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "search":
		checkStore()
		checkPipeline()
	case "store":
		checkStore()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
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
