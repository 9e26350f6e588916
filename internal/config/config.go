package config

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	OperationalDay OperationalDayConfig `mapstructure:"operational_day"`
	Session        SessionConfig        `mapstructure:"session"`
	Auth           AuthConfig           `mapstructure:"auth"`
	Ledger         LedgerConfig         `mapstructure:"ledger"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	HTTPPort        int    `mapstructure:"http_port"`
	MetricsPort     int    `mapstructure:"metrics_port"`
	BindAddress     string `mapstructure:"bind_address"`
	ReadTimeout     string `mapstructure:"read_timeout"`
	WriteTimeout    string `mapstructure:"write_timeout"`
	ShutdownTimeout string `mapstructure:"shutdown_timeout"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines the Redis connection
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// OperationalDayConfig defines the business-day boundaries
type OperationalDayConfig struct {
	UTCOffset        string `mapstructure:"utc_offset"` // e.g. "-3h"
	CutoverHour      int    `mapstructure:"cutover_hour"`
	MorningStartHour int    `mapstructure:"morning_start_hour"`
	NightStartHour   int    `mapstructure:"night_start_hour"`
}

// SessionConfig defines the inactivity monitor
type SessionConfig struct {
	Timeout        string   `mapstructure:"timeout"`
	WarningTime    string   `mapstructure:"warning_time"`
	ActivityEvents []string `mapstructure:"activity_events"`
	TickInterval   string   `mapstructure:"tick_interval"`
	SignOutTimeout string   `mapstructure:"sign_out_timeout"`
	MaxSessions    int      `mapstructure:"max_sessions"`
	InboxSize      int      `mapstructure:"inbox_size"`
}

// AuthConfig defines session token issuance
type AuthConfig struct {
	JWTSecret  string `mapstructure:"jwt_secret"`
	TokenTTL   string `mapstructure:"token_ttl"`
	UserHeader string `mapstructure:"user_header"` // identity asserted by the upstream provider
	NameHeader string `mapstructure:"name_header"`
}

// LedgerConfig defines COMP ledger housekeeping
type LedgerConfig struct {
	RetentionDays int `mapstructure:"retention_days"` // 0 keeps every day
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("COMPTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")

	// Storage defaults
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Operational day defaults (UTC-3, 05:00 cutover)
	v.SetDefault("operational_day.utc_offset", "-3h")
	v.SetDefault("operational_day.cutover_hour", 5)
	v.SetDefault("operational_day.morning_start_hour", 5)
	v.SetDefault("operational_day.night_start_hour", 17)

	// Session monitor defaults
	v.SetDefault("session.timeout", "30m")
	v.SetDefault("session.warning_time", "5m")
	v.SetDefault("session.activity_events", []string{
		"mousedown", "mousemove", "keypress", "scroll", "touchstart", "click",
	})
	v.SetDefault("session.tick_interval", "1s")
	v.SetDefault("session.sign_out_timeout", "10s")
	v.SetDefault("session.max_sessions", 1024)
	v.SetDefault("session.inbox_size", 32)

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "12h")
	v.SetDefault("auth.user_header", "X-Auth-User")
	v.SetDefault("auth.name_header", "X-Auth-Name")

	// Ledger defaults
	v.SetDefault("ledger.retention_days", 0)
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	if cfg.Storage.Redis.Host == "" {
		return fmt.Errorf("storage.redis.host is required")
	}

	switch cfg.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging format: %q (must be json or text)", cfg.Logging.Format)
	}

	durations := []struct {
		key   string
		value string
	}{
		{"server.read_timeout", cfg.Server.ReadTimeout},
		{"server.write_timeout", cfg.Server.WriteTimeout},
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeout},
		{"operational_day.utc_offset", cfg.OperationalDay.UTCOffset},
		{"session.timeout", cfg.Session.Timeout},
		{"session.warning_time", cfg.Session.WarningTime},
		{"session.tick_interval", cfg.Session.TickInterval},
		{"session.sign_out_timeout", cfg.Session.SignOutTimeout},
		{"auth.token_ttl", cfg.Auth.TokenTTL},
	}
	for _, d := range durations {
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.key, d.value, err)
		}
	}

	hours := []struct {
		key  string
		hour int
	}{
		{"operational_day.cutover_hour", cfg.OperationalDay.CutoverHour},
		{"operational_day.morning_start_hour", cfg.OperationalDay.MorningStartHour},
		{"operational_day.night_start_hour", cfg.OperationalDay.NightStartHour},
	}
	for _, h := range hours {
		if h.hour < 0 || h.hour > 23 {
			return fmt.Errorf("invalid %s: %d (must be 0-23)", h.key, h.hour)
		}
	}
	if cfg.OperationalDay.MorningStartHour >= cfg.OperationalDay.NightStartHour {
		return fmt.Errorf("operational_day.morning_start_hour (%d) must be before night_start_hour (%d)",
			cfg.OperationalDay.MorningStartHour, cfg.OperationalDay.NightStartHour)
	}

	timeout, _ := time.ParseDuration(cfg.Session.Timeout)
	warning, _ := time.ParseDuration(cfg.Session.WarningTime)
	if warning <= 0 || warning >= timeout {
		return fmt.Errorf("session.warning_time (%s) must be positive and shorter than session.timeout (%s)",
			cfg.Session.WarningTime, cfg.Session.Timeout)
	}

	tick, _ := time.ParseDuration(cfg.Session.TickInterval)
	signOut, _ := time.ParseDuration(cfg.Session.SignOutTimeout)
	if tick < 0 || signOut < 0 {
		return fmt.Errorf("session.tick_interval (%s) and session.sign_out_timeout (%s) cannot be negative",
			cfg.Session.TickInterval, cfg.Session.SignOutTimeout)
	}

	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if cfg.Auth.UserHeader == "" {
		return fmt.Errorf("auth.user_header is required")
	}

	if cfg.Ledger.RetentionDays < 0 {
		return fmt.Errorf("invalid ledger.retention_days: %d", cfg.Ledger.RetentionDays)
	}

	return nil
}

// Defaults returns the configuration built from defaults alone. It is not
// validated.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// UnknownKeys lists the keys set in the file at configPath that the
// configuration does not define.
func UnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	known := viper.New()
	setDefaults(known)
	valid := make(map[string]bool)
	for _, key := range known.AllKeys() {
		valid[key] = true
	}

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !valid[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return unknown, nil
}
