package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	assert.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	assert.NoError(t, err)
	check.Equal(t, []int{10, 20, 30}, cfg.Policy.IncrementPercents)
	check.Equal(t, FeedNATS, cfg.Feed.Backend)

	cfg, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.NoError(t, err)
	check.Equal(t, "1.5", cfg.Policy.BuyNowMarkup)
}

func TestLoad_Overrides(t *testing.T) {
	path := writeConfig(t, `
policy:
  increment_percents: [5, 10, 25]
  buy_now_markup: "2"
feed:
  backend: poll
  poll_interval: 500ms
`)

	cfg, err := Load(path)
	assert.NoError(t, err)
	check.Equal(t, []int{5, 10, 25}, cfg.Policy.IncrementPercents)
	check.Equal(t, FeedPoll, cfg.Feed.Backend)
	check.Equal(t, 500*time.Millisecond, cfg.Feed.PollInterval)

	p := cfg.WidgetPolicy()
	check.Equal(t, []int{5, 10, 25}, p.IncrementPercents)
	check.Equal(t, "2", p.BuyNowMarkup.String())
}

func TestLoad_PartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
feed:
  backend: redis
`)

	cfg, err := Load(path)
	assert.NoError(t, err)
	check.Equal(t, FeedRedis, cfg.Feed.Backend)
	check.Equal(t, []int{10, 20, 30}, cfg.Policy.IncrementPercents)
	check.Equal(t, "1.5", cfg.Policy.BuyNowMarkup)
}

func TestLoad_Invalid(t *testing.T) {
	bodies := map[string]string{
		"two percents":    "policy:\n  increment_percents: [10, 20]\n",
		"not ascending":   "policy:\n  increment_percents: [10, 30, 20]\n",
		"zero percent":    "policy:\n  increment_percents: [0, 10, 20]\n",
		"bad markup":      "policy:\n  buy_now_markup: \"lots\"\n",
		"negative markup": "policy:\n  buy_now_markup: \"-1\"\n",
		"unknown feed":    "feed:\n  backend: kafka\n",
		"bad yaml":        "policy: [\n",
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			check.Error(t, err)
		})
	}
}
