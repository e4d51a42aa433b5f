// internal/config/config.go
package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel      string `mapstructure:"LOG_LEVEL"`
	DBURL         string `mapstructure:"DB_URL"`
	HTTPAddr      string `mapstructure:"HTTP_ADDR"`
	LMSBaseURL    string `mapstructure:"LMS_BASE_URL"`
	SyncWorkers   int    `mapstructure:"SYNC_WORKERS"`
	SyncQueueSize int    `mapstructure:"SYNC_QUEUE_SIZE"`
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("HTTP_ADDR", ":8080")
	viper.SetDefault("LMS_BASE_URL", "https://learn.inha.ac.kr/")
	viper.SetDefault("SYNC_WORKERS", 4)
	viper.SetDefault("SYNC_QUEUE_SIZE", 16)

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.DBURL == "" {
		return nil, errors.New("DB_URL is a required configuration field")
	}
	if cfg.LMSBaseURL == "" {
		return nil, errors.New("LMS_BASE_URL is a required configuration field")
	}
	if cfg.SyncWorkers <= 0 {
		return nil, errors.New("SYNC_WORKERS must be a positive integer")
	}

	return &cfg, nil
}
