package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mandiflow/mandiflow/internal/dedupe"
	"github.com/mandiflow/mandiflow/internal/normalize"
	"github.com/mandiflow/mandiflow/internal/resolve"
	"github.com/mandiflow/mandiflow/internal/validate"
)

// Config holds the full engine configuration. It is loaded once at the start
// of a run; components receive values from it and never re-read config
// mid-run.
type Config struct {
	Store    StoreConfig                     `yaml:"store" mapstructure:"store"`
	Registry RegistryConfig                  `yaml:"registry" mapstructure:"registry"`
	Resolver resolve.Config                  `yaml:"resolver" mapstructure:"resolver"`
	Quality  validate.Config                 `yaml:"quality" mapstructure:"quality"`
	Units    normalize.UnitConfig            `yaml:"units" mapstructure:"units"`
	Dates    normalize.DateConfig            `yaml:"dates" mapstructure:"dates"`
	Ranges   map[string]normalize.PriceRange `yaml:"ranges" mapstructure:"ranges"`
	Sources  dedupe.Policy                   `yaml:"sources" mapstructure:"sources"`
	Pipeline PipelineConfig                  `yaml:"pipeline" mapstructure:"pipeline"`
	Log      LogConfig                       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// RegistryConfig points at the alias registry source files.
type RegistryConfig struct {
	Paths []string `yaml:"paths" mapstructure:"paths"`
}

// PipelineConfig configures run-level behavior.
type PipelineConfig struct {
	MaxConcurrentPartitions int `yaml:"max_concurrent_partitions" mapstructure:"max_concurrent_partitions"`
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
	v.SetEnvPrefix("MANDIFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "mandiflow.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("registry.paths", []string{
		"registry/markets.yaml",
		"registry/commodities.yaml",
		"registry/states.yaml",
		"registry/units.yaml",
	})
	v.SetDefault("resolver.threshold", 0.82)
	v.SetDefault("resolver.margin", 0.05)
	v.SetDefault("quality.low_confidence", 0.9)
	v.SetDefault("units.canonical", "rs_per_kg")
	v.SetDefault("units.factors", map[string]string{
		"rs_per_quintal": "1/100",
		"rs_per_tonne":   "1/1000",
	})
	v.SetDefault("dates.formats", []string{
		"2006-01-02",
		"02/01/2006",
		"01/02/2006",
		"02-Jan-2006",
		"2 January 2006",
	})
	v.SetDefault("dates.max_age_days", 730)
	v.SetDefault("sources.default_priority", 100)
	v.SetDefault("pipeline.max_concurrent_partitions", 4)

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

// Validate checks the configuration before a run starts; it collects every
// problem rather than stopping at the first.
func (c *Config) Validate() error {
	var problems []string

	if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		problems = append(problems, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}
	if len(c.Registry.Paths) == 0 {
		problems = append(problems, "registry.paths is required")
	}
	if c.Resolver.Threshold < 0 || c.Resolver.Threshold > 1 {
		problems = append(problems, "resolver.threshold must be between 0 and 1")
	}
	if c.Resolver.Margin < 0 || c.Resolver.Margin > 1 {
		problems = append(problems, "resolver.margin must be between 0 and 1")
	}
	if c.Quality.LowConfidence < 0 || c.Quality.LowConfidence > 1 {
		problems = append(problems, "quality.low_confidence must be between 0 and 1")
	}
	if c.Units.Canonical == "" {
		problems = append(problems, "units.canonical is required")
	}
	if len(c.Dates.Formats) == 0 {
		problems = append(problems, "dates.formats is required")
	}
	if c.Pipeline.MaxConcurrentPartitions < 1 || c.Pipeline.MaxConcurrentPartitions > 64 {
		problems = append(problems, "pipeline.max_concurrent_partitions must be between 1 and 64")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
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
