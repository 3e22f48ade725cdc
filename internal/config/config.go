// Package config loads application configuration from config.yaml and
// HOUSECOUNT_* environment variables, and builds the global zap logger.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/parcelworks/housecount/internal/db"
)

// Config holds the full application configuration.
type Config struct {
	Dataset  DatasetConfig  `yaml:"dataset" mapstructure:"dataset"`
	Overpass OverpassConfig `yaml:"overpass" mapstructure:"overpass"`
	Tiles    TilesConfig    `yaml:"tiles" mapstructure:"tiles"`
	Render   RenderConfig   `yaml:"render" mapstructure:"render"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// DatasetConfig configures the PostGIS building-footprint store.
type DatasetConfig struct {
	DatabaseURL string         `yaml:"database_url" mapstructure:"database_url"`
	Table       string         `yaml:"table" mapstructure:"table"`
	Pool        *db.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// OverpassConfig configures the OpenStreetMap reference client.
type OverpassConfig struct {
	Endpoints   []string `yaml:"endpoints" mapstructure:"endpoints"`
	TimeoutSecs int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// TilesConfig configures basemap tile fetching and the on-disk cache.
type TilesConfig struct {
	URLTemplate   string  `yaml:"url_template" mapstructure:"url_template"`
	CacheDir      string  `yaml:"cache_dir" mapstructure:"cache_dir"`
	Concurrency   int     `yaml:"concurrency" mapstructure:"concurrency"`
	TimeoutSecs   int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSecond float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	MemEntries    int     `yaml:"mem_entries" mapstructure:"mem_entries"`
}

// RenderConfig configures map image output.
type RenderConfig struct {
	OutputDir string `yaml:"output_dir" mapstructure:"output_dir"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("HOUSECOUNT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("dataset.table", "buildings")
	v.SetDefault("overpass.endpoints", []string{
		"https://overpass.kumi.systems/api/interpreter",
		"https://overpass-api.de/api/interpreter",
	})
	v.SetDefault("overpass.timeout_secs", 120)
	v.SetDefault("tiles.url_template", "https://mt1.google.com/vt/lyrs=s&x={x}&y={y}&z={z}")
	v.SetDefault("tiles.cache_dir", "tile_cache")
	v.SetDefault("tiles.concurrency", 20)
	v.SetDefault("tiles.timeout_secs", 10)
	v.SetDefault("tiles.rate_per_second", 50)
	v.SetDefault("tiles.mem_entries", 2000)
	v.SetDefault("render.output_dir", ".")
	v.SetDefault("server.port", 8008)
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
