// Package config loads process settings from the environment and strategy
// definitions from YAML or JSON files.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"signalengine/internal/model"
	"signalengine/internal/strategy"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Angel One credentials
	AngelAPIKey     string
	AngelClientCode string
	AngelPassword   string
	AngelTOTPSecret string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
	JournalPath   string
	MetricsAddr   string

	// Feed: "exchangeType:token,..." for the Angel stream, or a ws:// URL
	// of a JSON tick server in staging.
	SubscribeTokens string
	SimWSURL        string

	StrategyFile string
	PaperTrade   bool
	LogLevel     string
	LogFormat    string

	// Alerts (optional)
	NotifyWebhookURL string
	TelegramBotToken string
	TelegramChatID   string
}

// ErrMissingEnv is returned when a required variable is unset.
var ErrMissingEnv = errors.New("required env var not set")

// Load reads configuration from the environment. Broker credentials are
// only required for live trading (PAPER_TRADE=false) without SIM_WS_URL.
func Load() (*Config, error) {
	c := FromEnv()
	if c.SimWSURL == "" || !c.PaperTrade {
		if err := c.requireBroker(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// FromEnv reads the environment without requiring broker credentials. Offline
// commands (replay, backtest from the tick store, status) use it.
func FromEnv() *Config {
	return &Config{
		AngelAPIKey:     os.Getenv("ANGEL_API_KEY"),
		AngelClientCode: os.Getenv("ANGEL_CLIENT_CODE"),
		AngelPassword:   os.Getenv("ANGEL_PASSWORD"),
		AngelTOTPSecret: os.Getenv("ANGEL_TOTP_SECRET"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		SQLitePath:    getEnv("SQLITE_PATH", "data/ticks.db"),
		JournalPath:   getEnv("JOURNAL_PATH", ""),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		// Default: NIFTY 50 on NSE_CM
		SubscribeTokens: getEnv("SUBSCRIBE_TOKENS", "1:99926000"),
		SimWSURL:        getEnv("SIM_WS_URL", ""),

		StrategyFile: getEnv("STRATEGY_FILE", "strategies.yaml"),
		PaperTrade:   getEnvBool("PAPER_TRADE", true),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "json"),

		NotifyWebhookURL: os.Getenv("NOTIFY_WEBHOOK_URL"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
	}
}

func (c *Config) requireBroker() error {
	var missing []string
	for _, kv := range []struct{ key, val string }{
		{"ANGEL_API_KEY", c.AngelAPIKey},
		{"ANGEL_CLIENT_CODE", c.AngelClientCode},
		{"ANGEL_PASSWORD", c.AngelPassword},
		{"ANGEL_TOTP_SECRET", c.AngelTOTPSecret},
	} {
		if kv.val == "" {
			missing = append(missing, kv.key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
	}
	return nil
}

// HasBroker reports whether Angel One credentials are configured.
func (c *Config) HasBroker() bool { return c.requireBroker() == nil }

// BrokerError names the missing broker credentials, or returns nil.
func (c *Config) BrokerError() error { return c.requireBroker() }

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config: invalid integer, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("config: invalid boolean, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return b
}

// strategyFile is the on-disk layout: either a bare list or {strategies: [...]}.
type strategyFile struct {
	Strategies []strategy.Config `yaml:"strategies" json:"strategies"`
}

// LoadStrategies reads strategy configs from a .yaml/.yml or .json file.
// Each entry gets defaults applied and is validated; the first invalid
// entry fails the whole file with model.ErrInvalidConfiguration.
func LoadStrategies(path string) ([]strategy.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfgs, err := ParseStrategies(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfgs, nil
}

// ParseStrategies decodes strategy configs. ext selects the format
// (".json" for JSON, anything else YAML).
func ParseStrategies(data []byte, ext string) ([]strategy.Config, error) {
	var cfgs []strategy.Config
	trimmed := bytes.TrimSpace(data)

	if strings.EqualFold(ext, ".json") {
		if len(trimmed) > 0 && trimmed[0] == '[' {
			if err := json.Unmarshal(trimmed, &cfgs); err != nil {
				return nil, fmt.Errorf("%w: %v", model.ErrInvalidConfiguration, err)
			}
		} else {
			var f strategyFile
			if err := json.Unmarshal(trimmed, &f); err != nil {
				return nil, fmt.Errorf("%w: %v", model.ErrInvalidConfiguration, err)
			}
			cfgs = f.Strategies
		}
	} else {
		if len(trimmed) > 0 && trimmed[0] == '-' {
			if err := yaml.Unmarshal(trimmed, &cfgs); err != nil {
				return nil, fmt.Errorf("%w: %v", model.ErrInvalidConfiguration, err)
			}
		} else {
			var f strategyFile
			if err := yaml.Unmarshal(trimmed, &f); err != nil {
				return nil, fmt.Errorf("%w: %v", model.ErrInvalidConfiguration, err)
			}
			cfgs = f.Strategies
		}
	}

	if len(cfgs) == 0 {
		return nil, fmt.Errorf("%w: no strategies defined", model.ErrInvalidConfiguration)
	}
	for i := range cfgs {
		cfgs[i] = cfgs[i].WithDefaults()
		if err := cfgs[i].Validate(); err != nil {
			return nil, fmt.Errorf("strategy %d (%s): %w", i, cfgs[i].Name, err)
		}
	}
	return cfgs, nil
}
