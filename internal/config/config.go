// Package config provides YAML-based configuration loading for Lifeline.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Lifeline configuration, loaded from lifeline.yaml.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	History    HistoryConfig    `yaml:"history"`
	Mirror     MirrorConfig     `yaml:"mirror"`
	Responder  ResponderConfig  `yaml:"responder"`
	Inactivity InactivityConfig `yaml:"inactivity"`
	Limits     LimitsConfig     `yaml:"limits"`
	Notify     NotifyConfig     `yaml:"notify"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// StoreConfig holds settings for the local authoritative store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// HistoryConfig holds connection settings for the durable historical store.
type HistoryConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// MirrorConfig holds connection settings for the low-latency mirror.
type MirrorConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Workers  int    `yaml:"workers"`
	Queue    int    `yaml:"queue"`
}

// ResponderConfig holds settings for the assistant response generator.
type ResponderConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// InactivityConfig holds thresholds for the inactivity sweep. Durations are
// in seconds except MaxAgeHours.
type InactivityConfig struct {
	SweepSeconds int `yaml:"sweep_seconds"`
	WarnSeconds  int `yaml:"warn_seconds"`
	EndSeconds   int `yaml:"end_seconds"`
	MaxAgeHours  int `yaml:"max_age_hours"`
}

// LimitsConfig holds conversation limits.
type LimitsConfig struct {
	MaxConversationTurns int `yaml:"max_conversation_turns"`
	HangupGraceSeconds   int `yaml:"hangup_grace_seconds"`
}

// NotifyConfig selects the chat platform used for inactivity warnings.
type NotifyConfig struct {
	Platform string        `yaml:"platform"` // "slack", "discord", or "" to disable
	Slack    SlackConfig   `yaml:"slack"`
	Discord  DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack credentials for the warning adapter.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
}

// DiscordConfig holds Discord credentials for the warning adapter.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Store.Path == "" {
		c.Store.Path = "lifeline.db"
	}
	if c.History.Host == "" {
		c.History.Host = "127.0.0.1"
	}
	if c.History.Port == 0 {
		c.History.Port = 3306
	}
	if c.History.User == "" {
		c.History.User = "root"
	}
	if c.Mirror.Addr == "" {
		c.Mirror.Addr = "127.0.0.1:6379"
	}
	if c.Mirror.Workers == 0 {
		c.Mirror.Workers = 4
	}
	if c.Mirror.Queue == 0 {
		c.Mirror.Queue = 256
	}
	if c.Responder.Model == "" {
		c.Responder.Model = "gpt-4o-mini"
	}
	if c.Inactivity.SweepSeconds == 0 {
		c.Inactivity.SweepSeconds = 60
	}
	if c.Inactivity.WarnSeconds == 0 {
		c.Inactivity.WarnSeconds = 120
	}
	if c.Inactivity.EndSeconds == 0 {
		c.Inactivity.EndSeconds = 300
	}
	if c.Inactivity.MaxAgeHours == 0 {
		c.Inactivity.MaxAgeHours = 24
	}
	if c.Limits.MaxConversationTurns == 0 {
		c.Limits.MaxConversationTurns = 20
	}
	if c.Limits.HangupGraceSeconds == 0 {
		c.Limits.HangupGraceSeconds = 2
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.History.Database == "" {
		errs = append(errs, "history.database is required")
	}
	if c.Inactivity.WarnSeconds >= c.Inactivity.EndSeconds {
		errs = append(errs, "inactivity.warn_seconds must be below inactivity.end_seconds")
	}
	switch c.Notify.Platform {
	case "", "slack", "discord":
	default:
		errs = append(errs, fmt.Sprintf("notify.platform %q is not supported", c.Notify.Platform))
	}
	if c.Notify.Platform == "slack" && c.Notify.Slack.BotToken == "" {
		errs = append(errs, "notify.slack.bot_token is required")
	}
	if c.Notify.Platform == "discord" && c.Notify.Discord.BotToken == "" {
		errs = append(errs, "notify.discord.bot_token is required")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
