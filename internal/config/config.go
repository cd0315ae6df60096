// Package config provides YAML-based configuration loading for otyard.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/zulandar/otyard/internal/models"
	"github.com/zulandar/otyard/internal/sla"
	"gopkg.in/yaml.v3"
)

// Environment variables that override secrets in the YAML file.
const (
	EnvDBPassword      = "OTYARD_DB_PASSWORD"
	EnvSlackBotToken   = "OTYARD_SLACK_BOT_TOKEN"
	EnvDiscordBotToken = "OTYARD_DISCORD_BOT_TOKEN"
	EnvRedisPassword   = "OTYARD_REDIS_PASSWORD"
)

// Config is the top-level otyard configuration, loaded from otyard.yaml.
type Config struct {
	CompanyID uint           `yaml:"company_id"`
	Database  DatabaseConfig `yaml:"database"`
	SLA       SLAConfig      `yaml:"sla"`
	API       APIConfig      `yaml:"api"`
	Logging   LoggingConfig  `yaml:"logging"`
	Redis     RedisConfig    `yaml:"redis"`
	Notify    NotifyConfig   `yaml:"notify"`
	Sweep     SweepConfig    `yaml:"sweep"`
}

// DatabaseConfig selects and configures the backing store.
type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // mysql or sqlite
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Name         string `yaml:"name"`
	Path         string `yaml:"path"` // sqlite file
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// SLAConfig holds the resolution window per priority and the at-risk fraction.
// Keys of PolicyHours accept either vocabulary (P1 or URGENT).
type SLAConfig struct {
	PolicyHours  map[string]float64 `yaml:"policy_hours"`
	RiskFraction float64            `yaml:"risk_fraction"`
}

// APIConfig configures the HTTP server.
type APIConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console or json
}

// RedisConfig configures the optional dispatcher view cache.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// Addr returns host:port for the redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// NotifyConfig holds chat delivery settings. A platform with no token is disabled.
type NotifyConfig struct {
	Slack   ChannelConfig `yaml:"slack"`
	Discord ChannelConfig `yaml:"discord"`
}

// ChannelConfig is a bot token plus a default channel.
type ChannelConfig struct {
	BotToken string `yaml:"bot_token"`
	Channel  string `yaml:"channel"`
	// Mention is prepended to SLA breach alerts (Slack only), e.g. "<!here>".
	Mention string `yaml:"mention"`
}

// Enabled reports whether the platform has credentials.
func (c ChannelConfig) Enabled() bool {
	return c.BotToken != ""
}

// SweepConfig schedules the SLA sweep.
type SweepConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Schedule string `yaml:"schedule"` // standard 5-field cron
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config. Secrets set in the
// environment take precedence over the file.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnv loads .env files into the process environment without overriding
// variables that are already set. With no arguments it loads ./.env when present.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("config: load env: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvDBPassword); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv(EnvSlackBotToken); v != "" {
		c.Notify.Slack.BotToken = v
	}
	if v := os.Getenv(EnvDiscordBotToken); v != "" {
		c.Notify.Discord.BotToken = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		c.Redis.Password = v
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	switch c.Database.Driver {
	case "mysql":
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "otyard"
		}
	case "sqlite":
		if c.Database.Path == "" {
			c.Database.Path = "otyard.db"
		}
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}

	if c.SLA.RiskFraction == 0 {
		c.SLA.RiskFraction = sla.DefaultRiskFraction
	}

	if c.API.Port == 0 {
		c.API.Port = 8080
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}

	if c.Redis.Host == "" {
		c.Redis.Host = "127.0.0.1"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = 15 * time.Second
	}

	if c.Sweep.Schedule == "" {
		c.Sweep.Schedule = "*/5 * * * *"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string

	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be mysql or sqlite", c.Database.Driver))
	}
	if c.Database.MaxOpenConns < 0 {
		errs = append(errs, "database.max_open_conns must not be negative")
	}

	if _, err := c.SLA.Policy(); err != nil {
		errs = append(errs, err.Error())
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, fmt.Sprintf("api.port %d is out of range", c.API.Port))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q must be debug, info, warn or error", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q must be console or json", c.Logging.Format))
	}

	if c.Redis.TTL < 0 {
		errs = append(errs, "redis.ttl must not be negative")
	}

	if _, err := cron.ParseStandard(c.Sweep.Schedule); err != nil {
		errs = append(errs, fmt.Sprintf("sweep.schedule %q: %v", c.Sweep.Schedule, err))
	}

	if c.Notify.Slack.Enabled() && c.Notify.Slack.Channel == "" {
		errs = append(errs, "notify.slack.channel is required when a bot token is set")
	}
	if c.Notify.Discord.Enabled() && c.Notify.Discord.Channel == "" {
		errs = append(errs, "notify.discord.channel is required when a bot token is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Policy builds the SLA policy. Tiers missing from policy_hours keep their
// default window.
func (s SLAConfig) Policy() (sla.Policy, error) {
	p := sla.DefaultPolicy()
	for key, hours := range s.PolicyHours {
		tier, err := models.ParsePriority(key)
		if err != nil {
			return sla.Policy{}, fmt.Errorf("sla: policy_hours: %w", err)
		}
		p.Hours[tier] = hours
	}
	if s.RiskFraction != 0 {
		p.RiskFraction = s.RiskFraction
	}
	if err := p.Validate(); err != nil {
		return sla.Policy{}, err
	}
	return p, nil
}
