package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// Values are read by viper from a config file or environment variables.
type Config struct {
	ParamsPath        string        `mapstructure:"PARAMS_PATH"`
	Concurrency       int           `mapstructure:"CONCURRENCY"`
	FlushThreshold    int           `mapstructure:"FLUSH_THRESHOLD"`
	DataDir           string        `mapstructure:"DATA_DIR"`
	BatchFormat       string        `mapstructure:"BATCH_FORMAT"`
	Store             string        `mapstructure:"STORE"`
	BadgerDBPath      string        `mapstructure:"BADGERDB_PATH"`
	RequestTimeout    time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	UserAgent         string        `mapstructure:"USER_AGENT"`
	DownloadImages    bool          `mapstructure:"DOWNLOAD_IMAGES"`
	BrowserPagination bool          `mapstructure:"BROWSER_PAGINATION"`
	MaxPages          int           `mapstructure:"MAX_PAGES"`
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	TelegramBotToken  string        `mapstructure:"TELEGRAM_BOT_TOKEN"`
	TelegramChatID    int64         `mapstructure:"TELEGRAM_CHAT_ID"`
}

// Supported values for Config.Store and Config.BatchFormat.
const (
	StoreFile   = "file"
	StoreBadger = "badger"

	FormatJSON = "json"
	FormatXLSX = "xlsx"
)

var defaults = map[string]any{
	"PARAMS_PATH":        "params/website_params.json",
	"CONCURRENCY":        10,
	"FLUSH_THRESHOLD":    1000,
	"DATA_DIR":           "data",
	"BATCH_FORMAT":       FormatJSON,
	"STORE":              StoreFile,
	"BADGERDB_PATH":      "./badger_data",
	"REQUEST_TIMEOUT":    30 * time.Second,
	"USER_AGENT":         "carcrawler/1.0",
	"DOWNLOAD_IMAGES":    true,
	"BROWSER_PAGINATION": false,
	"MAX_PAGES":          0,
	"LOG_LEVEL":          "info",
	"TELEGRAM_BOT_TOKEN": "",
	"TELEGRAM_CHAT_ID":   0,
}

// LoadConfig reads configuration from file or environment variables.
// A missing config file is not an error; defaults and env vars are used instead.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("CONCURRENCY must be at least 1, got %d", c.Concurrency)
	}
	if c.FlushThreshold < 1 {
		return fmt.Errorf("FLUSH_THRESHOLD must be at least 1, got %d", c.FlushThreshold)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("MAX_PAGES must not be negative, got %d", c.MaxPages)
	}
	switch c.Store {
	case StoreFile, StoreBadger:
	default:
		return fmt.Errorf("unknown STORE %q", c.Store)
	}
	switch c.BatchFormat {
	case FormatJSON, FormatXLSX:
	default:
		return fmt.Errorf("unknown BATCH_FORMAT %q", c.BatchFormat)
	}
	return nil
}

// NotificationsEnabled reports whether Telegram credentials are configured.
func (c Config) NotificationsEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != 0
}
