package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "auction", cfg.Auction.Mode)
	assert.InDelta(t, 0.5, cfg.Auction.Weights.Price, 1e-9)
	assert.InDelta(t, 0.3, cfg.Auction.Weights.Time, 1e-9)
	assert.InDelta(t, 0.2, cfg.Auction.Weights.Reputation, 1e-9)
	assert.Equal(t, 5, cfg.Negotiation.MaxRounds)
	assert.Equal(t, time.Second, cfg.Heartbeat.Interval)
	assert.InDelta(t, 0.1, cfg.Heartbeat.DepletionRate, 1e-9)
	assert.Equal(t, 3, cfg.Heartbeat.MaxOrdersPerTick)
	assert.True(t, cfg.Heartbeat.AutoGenerate)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 55.0, cfg.World.AvgSpeed)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 6*time.Hour, cfg.Steward.Interval)
	assert.Equal(t, "http://localhost:8080", cfg.Steward.APIURL)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "freightsim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
world:
  chaos_level: 0.4
  traffic_noise: 0.2
auction:
  mode: negotiation
  weights:
    price: 0.7
    time: 0.2
    reputation: 0.1
heartbeat:
  interval: 250ms
  max_orders_per_tick: 1
store:
  driver: memory
`), 0o644))

	t.Setenv("FREIGHTSIM_HEARTBEAT_DEPLETION_RATE", "0.05")
	t.Setenv("FREIGHTSIM_API_PORT", "9090")
	t.Setenv("OPENWEATHER_API_KEY", "owm-key")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.InDelta(t, 0.4, cfg.World.ChaosLevel, 1e-9)
	assert.Equal(t, "negotiation", cfg.Auction.Mode)
	assert.InDelta(t, 0.7, cfg.Auction.Weights.Price, 1e-9)
	assert.Equal(t, 250*time.Millisecond, cfg.Heartbeat.Interval)
	assert.Equal(t, 1, cfg.Heartbeat.MaxOrdersPerTick)
	assert.InDelta(t, 0.05, cfg.Heartbeat.DepletionRate, 1e-9)
	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "owm-key", cfg.Weather.APIKey)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"bad mode", func(c *Config) { c.Auction.Mode = "lottery" }, "auction.mode"},
		{"chaos above one", func(c *Config) { c.World.ChaosLevel = 1.5 }, "world.chaos_level"},
		{"zero rounds", func(c *Config) { c.Negotiation.MaxRounds = 0 }, "negotiation.max_rounds"},
		{"negative weight", func(c *Config) { c.Auction.Weights.Time = -1 }, "auction.weights"},
		{"fast interval", func(c *Config) { c.Heartbeat.Interval = time.Millisecond }, "heartbeat.interval"},
		{"heartbeat depletion", func(c *Config) { c.Heartbeat.DepletionRate = 2 }, "depletion_rate"},
		{"store driver", func(c *Config) { c.Store.Driver = "postgres" }, "store.driver"},
		{"sqlite path", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"redis addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }, "redis.addr"},
		{"llm key", func(c *Config) { c.LLM.Enabled = true; c.LLM.APIKey = "" }, "llm.api_key"},
		{"steward interval", func(c *Config) { c.Steward.Interval = time.Millisecond }, "steward.interval"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
