// Package config loads freightsim settings from defaults, an optional
// config file and FREIGHTSIM_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/auction"
	"github.com/haquemm583/ai-agent-problem-solving-ecosystem/internal/heartbeat"
)

// Config is the complete application configuration.
type Config struct {
	World       WorldConfig       `mapstructure:"world"`
	Negotiation NegotiationConfig `mapstructure:"negotiation"`
	Auction     AuctionConfig     `mapstructure:"auction"`
	Heartbeat   HeartbeatConfig   `mapstructure:"heartbeat"`
	Store       StoreConfig       `mapstructure:"store"`
	Redis       RedisConfig       `mapstructure:"redis"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Weather     WeatherConfig     `mapstructure:"weather"`
	Entropy     EntropyConfig     `mapstructure:"entropy"`
	API         APIConfig         `mapstructure:"api"`
	Auditor     AuditorConfig     `mapstructure:"auditor"`
	Steward     StewardConfig     `mapstructure:"steward"`
	Log         LogConfig         `mapstructure:"log"`
}

// WorldConfig selects the network and how it is disturbed.
type WorldConfig struct {
	Scenario     string  `mapstructure:"scenario"` // YAML file; empty = built-in Texas network
	Seed         int64   `mapstructure:"seed"`
	AvgSpeed     float64 `mapstructure:"avg_speed"`
	ChaosLevel   float64 `mapstructure:"chaos_level"`
	ChaosEvery   string  `mapstructure:"chaos_schedule"` // cron spec; empty = off
	TrafficNoise float64 `mapstructure:"traffic_noise"`  // 0 = static congestion
}

// NegotiationConfig bounds bilateral negotiations.
type NegotiationConfig struct {
	MaxRounds int `mapstructure:"max_rounds"`
}

// AuctionConfig picks the matching mode and scoring weights.
type AuctionConfig struct {
	Mode    string          `mapstructure:"mode"` // auction | negotiation
	Weights auction.Weights `mapstructure:"weights"`
}

// HeartbeatConfig drives the tick loop and demand generation.
type HeartbeatConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	heartbeat.Config `mapstructure:",squash"`
}

// StoreConfig chooses where deals and scores live.
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // sqlite | memory
	Path   string `mapstructure:"path"`
}

// RedisConfig enables the Redis telemetry sink.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
	Channel  string `mapstructure:"channel"`
}

// LLMConfig enables model-backed negotiation and narration.
type LLMConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

// WeatherConfig enables live weather on routes.
type WeatherConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Schedule string `mapstructure:"schedule"`
}

// EntropyConfig picks the chaos randomness source.
type EntropyConfig struct {
	APIKey string `mapstructure:"api_key"`
	Seed   uint64 `mapstructure:"seed"` // non-zero = repeatable chaos
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Port        int    `mapstructure:"port"`
	AdminKey    string `mapstructure:"admin_key"` // empty = POST endpoints disabled
	ReportLimit int    `mapstructure:"report_limit"`
}

// AuditorConfig schedules market reports.
type AuditorConfig struct {
	Schedule    string `mapstructure:"schedule"`
	RecentDeals int    `mapstructure:"recent_deals"`
}

// StewardConfig points the steward process at a running market.
type StewardConfig struct {
	APIURL     string        `mapstructure:"api_url"`
	Interval   time.Duration `mapstructure:"interval"`
	MemoryFile string        `mapstructure:"memory_file"`
}

// LogConfig configures slog.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads defaults, then path if non-empty, then the environment.
// FREIGHTSIM_HEARTBEAT_DEPLETION_RATE overrides heartbeat.depletion_rate.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("FREIGHTSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applySecrets(&cfg)
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can see it.
func setDefaults(v *viper.Viper) {
	hb := heartbeat.DefaultConfig()
	w := auction.DefaultWeights()

	v.SetDefault("world.scenario", "")
	v.SetDefault("world.seed", 42)
	v.SetDefault("world.avg_speed", 55.0)
	v.SetDefault("world.chaos_level", 0.0)
	v.SetDefault("world.chaos_schedule", "")
	v.SetDefault("world.traffic_noise", 0.0)

	v.SetDefault("negotiation.max_rounds", 5)

	v.SetDefault("auction.mode", "auction")
	v.SetDefault("auction.weights.price", w.Price)
	v.SetDefault("auction.weights.time", w.Time)
	v.SetDefault("auction.weights.reputation", w.Reputation)

	v.SetDefault("heartbeat.interval", "1s")
	v.SetDefault("heartbeat.depletion_rate", hb.DepletionRate)
	v.SetDefault("heartbeat.inventory_threshold", hb.InventoryThreshold)
	v.SetDefault("heartbeat.max_orders_per_tick", hb.MaxOrdersPerTick)
	v.SetDefault("heartbeat.auto_generate", hb.AutoGenerate)
	v.SetDefault("heartbeat.sim_hours_per_tick", hb.SimHoursPerTick)
	v.SetDefault("heartbeat.demand_trigger", hb.DemandTrigger)
	v.SetDefault("heartbeat.base_rate_per_mile", hb.BaseRatePerMile)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "data/freightsim.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "freight:events")
	v.SetDefault("redis.channel", "freight:live")

	v.SetDefault("llm.enabled", false)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")

	v.SetDefault("weather.api_key", "")
	v.SetDefault("weather.schedule", "@every 30m")

	v.SetDefault("entropy.api_key", "")
	v.SetDefault("entropy.seed", 0)

	v.SetDefault("api.port", 8080)
	v.SetDefault("api.admin_key", "")
	v.SetDefault("api.report_limit", 30)

	v.SetDefault("auditor.schedule", "@every 1h")
	v.SetDefault("auditor.recent_deals", 50)

	v.SetDefault("steward.api_url", "http://localhost:8080")
	v.SetDefault("steward.interval", "6h")
	v.SetDefault("steward.memory_file", "data/steward_memory.json")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// applySecrets fills empty keys from the conventional variable names.
func applySecrets(cfg *Config) {
	setStr(&cfg.LLM.APIKey, "ANTHROPIC_API_KEY")
	setStr(&cfg.Weather.APIKey, "OPENWEATHER_API_KEY")
	setStr(&cfg.Entropy.APIKey, "RANDOM_ORG_API_KEY")
	setStr(&cfg.API.AdminKey, "FREIGHTSIM_ADMIN_KEY")
}

func setStr(dst *string, env string) {
	if *dst != "" {
		return
	}
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

// Validate checks that all configuration values are usable.
func (c *Config) Validate() error {
	if c.World.AvgSpeed <= 0 {
		return fmt.Errorf("world.avg_speed must be positive")
	}
	if c.World.ChaosLevel < 0 || c.World.ChaosLevel > 1 {
		return fmt.Errorf("world.chaos_level must be between 0.0 and 1.0")
	}
	if c.World.TrafficNoise < 0 || c.World.TrafficNoise > 1 {
		return fmt.Errorf("world.traffic_noise must be between 0.0 and 1.0")
	}

	if c.Negotiation.MaxRounds < 1 {
		return fmt.Errorf("negotiation.max_rounds must be at least 1")
	}

	if c.Auction.Mode != "auction" && c.Auction.Mode != "negotiation" {
		return fmt.Errorf("auction.mode must be one of: auction, negotiation")
	}
	if c.Auction.Weights.Price < 0 || c.Auction.Weights.Time < 0 || c.Auction.Weights.Reputation < 0 {
		return fmt.Errorf("auction.weights must not be negative")
	}

	if c.Heartbeat.Interval < 10*time.Millisecond {
		return fmt.Errorf("heartbeat.interval must be at least 10ms")
	}
	if err := c.Heartbeat.Config.Validate(); err != nil {
		return err
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("store.driver must be one of: sqlite, memory")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	if c.LLM.Enabled && c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required when llm is enabled")
	}

	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be between 0 and 65535")
	}
	if c.API.ReportLimit < 1 {
		return fmt.Errorf("api.report_limit must be at least 1")
	}
	if c.Auditor.RecentDeals < 1 {
		return fmt.Errorf("auditor.recent_deals must be at least 1")
	}

	if c.Steward.Interval < time.Second {
		return fmt.Errorf("steward.interval must be at least 1s")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: json, text")
	}
	return nil
}
