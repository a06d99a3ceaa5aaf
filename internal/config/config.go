// Package config loads orchestrator configuration from a YAML file with
// environment overrides for deployment-critical endpoints.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Tier names one configuration of the inference capability. The three tiers
// share one client; they differ only in model and token budget.
type Tier struct {
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// LLMConfig configures the inference capability client.
type LLMConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
	// Requests per second against the provider; 0 disables pacing.
	RateRPS   float64 `mapstructure:"rate_rps"`
	RateBurst int     `mapstructure:"rate_burst"`

	Light    Tier `mapstructure:"light"`
	Standard Tier `mapstructure:"standard"`
	Heavy    Tier `mapstructure:"heavy"`
}

// ProviderConfig configures one plain HTTP capability (search, market data).
type ProviderConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

// StreamingConfig configures the event multiplexer.
type StreamingConfig struct {
	// RingCapacity bounds per-turn replay history.
	RingCapacity int `mapstructure:"ring_capacity"`
	// SubscriberBuffer is the channel depth handed to each subscriber.
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
	// RedisAddr enables durable event history for resume when set.
	RedisAddr string `mapstructure:"redis_addr"`
}

// Config is the full orchestrator configuration.
type Config struct {
	HTTPAddr string `mapstructure:"http_addr"`

	LLM        LLMConfig       `mapstructure:"llm"`
	Search     ProviderConfig  `mapstructure:"search"`
	MarketData ProviderConfig  `mapstructure:"market_data"`
	Streaming  StreamingConfig `mapstructure:"streaming"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`

	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
}

// Load reads CONFIG_PATH (default ./config/orchestrator.yaml) and applies
// defaults and env overrides. A missing file is not an error; defaults and
// env carry a dev setup.
func Load() (*Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "./config/orchestrator.yaml"
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(cfgPath)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if _, statErr := os.Stat(cfgPath); statErr == nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Env overrides for service endpoints.
	if u := os.Getenv("LLM_SERVICE_URL"); u != "" {
		c.LLM.BaseURL = u
	}
	if u := os.Getenv("SEARCH_SERVICE_URL"); u != "" {
		c.Search.BaseURL = u
	}
	if u := os.Getenv("MARKET_DATA_URL"); u != "" {
		c.MarketData.BaseURL = u
	}
	if a := os.Getenv("REDIS_ADDR"); a != "" {
		c.Streaming.RedisAddr = a
	}
	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8081")

	v.SetDefault("llm.base_url", "http://llm-service:8000")
	v.SetDefault("llm.timeout_ms", 120000)
	v.SetDefault("llm.rate_rps", 1.0)
	v.SetDefault("llm.rate_burst", 10)
	v.SetDefault("llm.light.model", "gemini-2.0-flash-lite")
	v.SetDefault("llm.light.max_tokens", 1024)
	v.SetDefault("llm.standard.model", "gemini-2.0-flash")
	v.SetDefault("llm.standard.max_tokens", 2048)
	v.SetDefault("llm.heavy.model", "gemini-2.5-pro")
	v.SetDefault("llm.heavy.max_tokens", 4096)

	v.SetDefault("search.base_url", "http://search-service:8010")
	v.SetDefault("search.timeout_ms", 15000)
	v.SetDefault("market_data.base_url", "http://market-data:8020")
	v.SetDefault("market_data.timeout_ms", 20000)

	v.SetDefault("streaming.ring_capacity", 256)
	v.SetDefault("streaming.subscriber_buffer", 256)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 2112)
}

// Timeout converts a millisecond config knob with a fallback.
func Timeout(ms int, fallback time.Duration) time.Duration {
	if ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
