package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/bumdb/bumdb"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Integrate IntegrateConfig `mapstructure:"integrate"`
	Log       LogConfig       `mapstructure:"log"`
}

// CatalogConfig stores catalog connection details.
type CatalogConfig struct {
	Path              string `mapstructure:"path"`
	BusyTimeoutMillis int    `mapstructure:"busyTimeoutMillis"`
	BackupDir         string `mapstructure:"backupDir"`
}

func (c CatalogConfig) BusyTimeout() time.Duration {
	return time.Duration(c.BusyTimeoutMillis) * time.Millisecond
}

// IntegrateConfig tunes catalog merges.
type IntegrateConfig struct {
	// ProgressInterval is the number of observations between progress reports.
	ProgressInterval int `mapstructure:"progressInterval"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// LoadConfig reads configuration from file or environment variables.
// An empty configPath searches the working directory and the default config
// directories; a missing file there is not an error.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetDefault("catalog.path", internal.DefaultCatalogPath)
	v.SetDefault("catalog.busyTimeoutMillis", internal.DefaultBusyTimeoutMillis)
	v.SetDefault("catalog.backupDir", internal.DefaultBackupDir)
	v.SetDefault("integrate.progressInterval", internal.DefaultProgressInterval)
	v.SetDefault("log.level", internal.DefaultLogLevel)

	// catalog.path becomes BUMDB_CATALOG_PATH
	v.SetEnvPrefix(internal.DefaultEnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	if cfg.Integrate.ProgressInterval <= 0 {
		return nil, fmt.Errorf("integrate.progressInterval must be positive: %d", cfg.Integrate.ProgressInterval)
	}
	if cfg.Catalog.BusyTimeoutMillis < 0 {
		return nil, fmt.Errorf("catalog.busyTimeoutMillis cannot be negative: %d", cfg.Catalog.BusyTimeoutMillis)
	}
	return &cfg, nil
}
