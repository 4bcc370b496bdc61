// Package config provides configuration management using viper.
// It supports loading from YAML files and environment variable overrides.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Bot       BotConfig       `mapstructure:"bot"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Whitelist WhitelistConfig `mapstructure:"whitelist"`
	Rewards   RewardsConfig   `mapstructure:"rewards"`
	Spin      SpinConfig      `mapstructure:"spin"`
	Premium   PremiumConfig   `mapstructure:"premium"`
	Presence  PresenceConfig  `mapstructure:"presence"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Log       LogConfig       `mapstructure:"log"`
}

// BotConfig holds Telegram bot configuration.
type BotConfig struct {
	Token string `mapstructure:"token"`
	// CommandsPerSecond throttles commands per user; burst allows short spikes.
	CommandsPerSecond float64 `mapstructure:"commands_per_second"`
	CommandBurst      int     `mapstructure:"command_burst"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	PoolSize        int           `mapstructure:"pool_size"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

// RedisConfig holds the Redis connection used for the presence channel.
// URL takes precedence over the individual fields.
type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AdminConfig holds admin user configuration.
type AdminConfig struct {
	IDs []int64 `mapstructure:"ids"`
}

// WhitelistConfig holds chat whitelist configuration.
type WhitelistConfig struct {
	Chats []int64 `mapstructure:"chats"`
}

// RewardsConfig holds premium chat reward accrual configuration.
type RewardsConfig struct {
	PointsPerMinute int64         `mapstructure:"points_per_minute"`
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
}

// SpinConfig holds the daily spin policy.
type SpinConfig struct {
	DailyCap       int64         `mapstructure:"daily_cap"`
	PerSpinAmount  int64         `mapstructure:"per_spin_amount"`
	Segments       int           `mapstructure:"segments"`
	WinningFrom    int           `mapstructure:"winning_from"`
	WinningTo      int           `mapstructure:"winning_to"`
	AnimationDelay time.Duration `mapstructure:"animation_delay"`
	Timezone       string        `mapstructure:"timezone"`
}

// PremiumConfig holds premium membership configuration.
type PremiumConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// PresenceConfig holds the presence channel configuration.
type PresenceConfig struct {
	Channel string `mapstructure:"channel"`
	// Backend is "redis" or "memory". Memory only sees this process.
	Backend string `mapstructure:"backend"`
	// IdleTimeout untracks a user who has been silent this long.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// Liveness is how long a Redis presence survives without a re-announce.
	// Entries left behind by a crashed process age out after it.
	Liveness time.Duration `mapstructure:"liveness"`
}

// HTTPConfig holds the operations HTTP server configuration.
type HTTPConfig struct {
	Addr    string `mapstructure:"addr"`
	Enabled bool   `mapstructure:"enabled"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
	Env   string `mapstructure:"env"`
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name,
	)
}

// RedisURL returns the Redis connection URL.
func (r *RedisConfig) RedisURL() string {
	if r.URL != "" {
		return r.URL
	}
	if r.Password != "" {
		return fmt.Sprintf("redis://:%s@%s:%d/%d", r.Password, r.Host, r.Port, r.DB)
	}
	return fmt.Sprintf("redis://%s:%d/%d", r.Host, r.Port, r.DB)
}

// Location resolves the spin timezone, falling back to UTC.
func (s *SpinConfig) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Load reads configuration from file and environment variables.
// It looks for config.yaml in the config directory.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// e.g. BOT_TOKEN, DATABASE_HOST, SPIN_DAILY_CAP
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file is optional, env vars can provide everything.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints viper cannot express.
func (c *Config) Validate() error {
	if c.Rewards.TickInterval <= 0 {
		return fmt.Errorf("rewards.tick_interval must be positive")
	}
	if c.Rewards.PointsPerMinute <= 0 {
		return fmt.Errorf("rewards.points_per_minute must be positive")
	}
	s := c.Spin
	if s.Segments <= 0 {
		return fmt.Errorf("spin.segments must be positive")
	}
	if s.WinningFrom < 1 || s.WinningTo > s.Segments || s.WinningFrom > s.WinningTo {
		return fmt.Errorf("spin winning range [%d,%d] must lie within [1,%d]", s.WinningFrom, s.WinningTo, s.Segments)
	}
	if s.DailyCap < 0 || s.PerSpinAmount < 0 {
		return fmt.Errorf("spin.daily_cap and spin.per_spin_amount must not be negative")
	}
	switch c.Presence.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("presence.backend must be redis or memory, got %q", c.Presence.Backend)
	}
	if c.Presence.Liveness <= time.Minute {
		return fmt.Errorf("presence.liveness must exceed the one minute re-announce interval, got %s", c.Presence.Liveness)
	}
	return nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Keys without a default are invisible to env overrides on Unmarshal.
	v.SetDefault("bot.token", "")
	v.SetDefault("bot.commands_per_second", 1.0)
	v.SetDefault("bot.command_burst", 5)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "rewards")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "rewards")
	v.SetDefault("database.pool_size", 20)
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("rewards.points_per_minute", 1)
	v.SetDefault("rewards.tick_interval", "1m")
	v.SetDefault("rewards.idle_timeout", "10m")

	v.SetDefault("spin.daily_cap", 5)
	v.SetDefault("spin.per_spin_amount", 5)
	v.SetDefault("spin.segments", 15)
	v.SetDefault("spin.winning_from", 1)
	v.SetDefault("spin.winning_to", 5)
	v.SetDefault("spin.animation_delay", "4s")
	v.SetDefault("spin.timezone", "UTC")

	v.SetDefault("premium.cache_ttl", "60s")

	v.SetDefault("presence.channel", "online-users")
	v.SetDefault("presence.backend", "redis")
	v.SetDefault("presence.idle_timeout", "5m")
	v.SetDefault("presence.liveness", "3m")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.enabled", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.env", "prod")
}

// IsAdmin checks if a user ID is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	return slices.Contains(c.Admin.IDs, userID)
}

// IsChatAllowed checks if a chat ID is in the whitelist.
// An empty whitelist allows every chat.
func (c *Config) IsChatAllowed(chatID int64) bool {
	if len(c.Whitelist.Chats) == 0 {
		return true
	}
	return slices.Contains(c.Whitelist.Chats, chatID)
}
