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
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Geocode     GeocodeConfig     `yaml:"geocode" mapstructure:"geocode"`
	Ingest      IngestConfig      `yaml:"ingest" mapstructure:"ingest"`
	Consolidate ConsolidateConfig `yaml:"consolidate" mapstructure:"consolidate"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`             // "postgres" or "sqlite"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"` // postgres DSN
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`   // sqlite file (dev mode)
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the ward import HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// GeocodeConfig configures the external geocoding service client.
type GeocodeConfig struct {
	BaseURL      string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey       string  `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries   int     `yaml:"max_retries" mapstructure:"max_retries"` // transport-level attempts per record
	RateLimitRPS float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
}

// IngestConfig configures the incremental ingestion checkpointer.
type IngestConfig struct {
	BatchSize  int `yaml:"batch_size" mapstructure:"batch_size"`
	MaxBatches int `yaml:"max_batches" mapstructure:"max_batches"` // 0 = drain until empty
}

// ConsolidateConfig configures the consolidation transform.
type ConsolidateConfig struct {
	TargetTable string `yaml:"target_table" mapstructure:"target_table"`
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
	v.SetEnvPrefix("GEOPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	for key, val := range Defaults() {
		v.SetDefault(key, val)
	}

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

// Defaults returns the default configuration values keyed by viper path.
// Shared by Load and the init command's starter config.
func Defaults() map[string]any {
	return map[string]any{
		"store.driver":             "postgres",
		"store.database_url":       "",
		"store.sqlite_path":        "geopipe.db",
		"store.max_conns":          10,
		"store.min_conns":          2,
		"server.port":              8002,
		"server.allowed_origins":   []string{"*"},
		"geocode.base_url":         "https://maps.gtelmaps.vn/api/google/geocode/v1/search",
		"geocode.api_key":          "",
		"geocode.timeout_secs":     30,
		"geocode.max_retries":      3,
		"geocode.rate_limit_rps":   5.0,
		"ingest.batch_size":        50,
		"ingest.max_batches":       0,
		"consolidate.target_table": "warehouse.geocoded_wards",
		"log.level":                "info",
		"log.format":               "json",
	}
}

// Validate checks that the configuration required by a subsystem is present.
func (c *Config) Validate(subsystem string) error {
	switch subsystem {
	case "ingest":
		if c.Geocode.APIKey == "" {
			return eris.New("config: geocode api_key is required (GEOPIPE_GEOCODE_API_KEY)")
		}
		if c.Ingest.BatchSize <= 0 {
			return eris.New("config: ingest batch_size must be positive")
		}
		fallthrough
	case "store":
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			return eris.New("config: store database_url is required (GEOPIPE_STORE_DATABASE_URL)")
		}
		if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
			return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
		}
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
