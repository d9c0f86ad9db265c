package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mcdev12/bidwidget/go/internal/auction/widget"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// FeedBackend selects the change feed implementation.
type FeedBackend string

const (
	FeedNATS     FeedBackend = "nats"
	FeedPostgres FeedBackend = "postgres"
	FeedRedis    FeedBackend = "redis"
	FeedPoll     FeedBackend = "poll"
)

// Config is the policy file.
type Config struct {
	Policy struct {
		IncrementPercents []int  `yaml:"increment_percents"`
		BuyNowMarkup      string `yaml:"buy_now_markup"`
	} `yaml:"policy"`
	Feed struct {
		Backend      FeedBackend   `yaml:"backend"`
		PollInterval time.Duration `yaml:"poll_interval"`
	} `yaml:"feed"`
}

// Default returns the built-in policy: a 10/20/30 ladder, 1.5 markup, and
// the NATS feed.
func Default() *Config {
	cfg := &Config{}
	cfg.Policy.IncrementPercents = []int{10, 20, 30}
	cfg.Policy.BuyNowMarkup = "1.5"
	cfg.Feed.Backend = FeedNATS
	cfg.Feed.PollInterval = 2 * time.Second
	return cfg
}

// Load reads the policy file at path. An empty path or a missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks the policy values.
func (c *Config) Validate() error {
	p := c.Policy.IncrementPercents
	if len(p) != 3 {
		return fmt.Errorf("increment_percents must have exactly 3 entries, got %d", len(p))
	}
	for i, v := range p {
		if v <= 0 {
			return fmt.Errorf("increment_percents[%d] must be positive", i)
		}
		if i > 0 && v <= p[i-1] {
			return fmt.Errorf("increment_percents must be strictly ascending")
		}
	}

	markup, err := decimal.NewFromString(c.Policy.BuyNowMarkup)
	if err != nil {
		return fmt.Errorf("buy_now_markup: %w", err)
	}
	if !markup.IsPositive() {
		return fmt.Errorf("buy_now_markup must be positive")
	}

	switch c.Feed.Backend {
	case FeedNATS, FeedPostgres, FeedRedis, FeedPoll:
	default:
		return fmt.Errorf("unknown feed backend %q", c.Feed.Backend)
	}
	if c.Feed.Backend == FeedPoll && c.Feed.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	return nil
}

// WidgetPolicy converts the policy section for the card engine.
func (c *Config) WidgetPolicy() widget.Policy {
	markup, err := decimal.NewFromString(c.Policy.BuyNowMarkup)
	if err != nil {
		return widget.DefaultPolicy()
	}
	return widget.Policy{
		IncrementPercents: append([]int(nil), c.Policy.IncrementPercents...),
		BuyNowMarkup:      markup,
	}
}

// GetEnv returns the environment value for key or defaultValue.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvAsInt returns the integer environment value for key or defaultValue.
func GetEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
